// README: Transition rules; which status changes an admin may issue.
package order

import "fmt"

// TransitionPolicy selects how strictly the lifecycle is enforced.
type TransitionPolicy string

const (
	// PolicyPermissive allows any known status other than the current one.
	PolicyPermissive TransitionPolicy = "permissive"
	// PolicyForward allows forward moves only, plus completing early from any
	// non-terminal status.
	PolicyForward TransitionPolicy = "forward"
)

func ParsePolicy(v string) (TransitionPolicy, error) {
	switch TransitionPolicy(v) {
	case PolicyPermissive, PolicyForward:
		return TransitionPolicy(v), nil
	case "":
		return PolicyPermissive, nil
	}
	return "", fmt.Errorf("unknown transition policy %q", v)
}

// CanTransition reports whether from -> to is allowed under p.
func CanTransition(p TransitionPolicy, from, to Status) bool {
	if !from.Valid() || !to.Valid() || from == to {
		return false
	}
	switch p {
	case PolicyForward:
		if from.Terminal() {
			return false
		}
		return to.rank() > from.rank()
	default:
		return true
	}
}

// NextStatuses lists the targets an admin UI should enable for from.
func NextStatuses(p TransitionPolicy, from Status) []Status {
	out := make([]Status, 0, len(Statuses))
	for _, s := range Statuses {
		if CanTransition(p, from, s) {
			out = append(out, s)
		}
	}
	return out
}
