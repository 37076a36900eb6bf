// README: Order aggregate, line items and the closed status enumeration.
package order

import (
	"fmt"
	"time"

	"turbo/internal/types"
)

// Status is the order lifecycle state. The zero value is not a valid status.
type Status uint8

const (
	StatusPending Status = iota + 1
	StatusConfirmed
	StatusPreparing
	StatusReady
	StatusCompleted
)

// Statuses lists every status in lifecycle order.
var Statuses = []Status{StatusPending, StatusConfirmed, StatusPreparing, StatusReady, StatusCompleted}

func (s Status) String() string {
	switch s {
	case StatusPending:
		return "pending"
	case StatusConfirmed:
		return "confirmed"
	case StatusPreparing:
		return "preparing"
	case StatusReady:
		return "ready"
	case StatusCompleted:
		return "completed"
	}
	return fmt.Sprintf("status(%d)", uint8(s))
}

func (s Status) Valid() bool {
	return s >= StatusPending && s <= StatusCompleted
}

// Terminal reports whether no further lifecycle progress is expected.
func (s Status) Terminal() bool { return s == StatusCompleted }

// rank is the position in the lifecycle, used by the forward-only policy.
func (s Status) rank() int { return int(s) }

func ParseStatus(v string) (Status, error) {
	for _, s := range Statuses {
		if s.String() == v {
			return s, nil
		}
	}
	return 0, fmt.Errorf("%w: unknown status %q", ErrValidation, v)
}

func (s Status) MarshalText() ([]byte, error) {
	if !s.Valid() {
		return nil, fmt.Errorf("invalid status %d", uint8(s))
	}
	return []byte(s.String()), nil
}

func (s *Status) UnmarshalText(b []byte) error {
	v, err := ParseStatus(string(b))
	if err != nil {
		return err
	}
	*s = v
	return nil
}

type ItemKind string

const (
	ItemMix    ItemKind = "mix"
	ItemCustom ItemKind = "custom"
)

type TobaccoType string

const (
	TobaccoBlond TobaccoType = "blond"
	TobaccoDark  TobaccoType = "dark"
)

// MaxFlavors is the selector limit for custom mixes.
const MaxFlavors = 3

// Item is one cart line. Custom mixes carry the selector choices; preset mixes
// only need a name and price.
type Item struct {
	ID              string      `json:"id" firestore:"id"`
	Kind            ItemKind    `json:"type" firestore:"type"`
	Name            string      `json:"name" firestore:"name"`
	Price           float64     `json:"price" firestore:"price"`
	Quantity        int         `json:"quantity,omitempty" firestore:"quantity,omitempty"`
	Image           string      `json:"image,omitempty" firestore:"image,omitempty"`
	Hookah          string      `json:"hookah,omitempty" firestore:"hookah,omitempty"`
	TobaccoType     TobaccoType `json:"tobaccoType,omitempty" firestore:"tobaccoType,omitempty"`
	TobaccoStrength int         `json:"tobaccoStrength,omitempty" firestore:"tobaccoStrength,omitempty"`
	Flavors         []string    `json:"flavors,omitempty" firestore:"flavors,omitempty"`
	AddOns          AddOns      `json:"addOns,omitempty" firestore:"addOns,omitempty"`
}

type AddOns struct {
	ExtraIce  bool `json:"extraIce,omitempty" firestore:"extraIce,omitempty"`
	Fruit     bool `json:"fruit,omitempty" firestore:"fruit,omitempty"`
	ExtraBowl bool `json:"extraBowl,omitempty" firestore:"extraBowl,omitempty"`
}

func (i Item) quantity() int {
	if i.Quantity <= 0 {
		return 1
	}
	return i.Quantity
}

// CustomerInfo is a weak reference to whoever placed the order.
type CustomerInfo struct {
	ID    string `json:"id" firestore:"id"`
	Name  string `json:"name,omitempty" firestore:"name,omitempty"`
	Phone string `json:"phone,omitempty" firestore:"phone,omitempty"`
}

type Order struct {
	ID            types.ID
	Items         []Item
	Total         float64
	Table         string
	Customer      CustomerInfo
	Status        Status
	StatusVersion int
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

// Draft is what a customer submits; the store assigns id, status and times.
type Draft struct {
	Items    []Item
	Total    float64
	Table    string
	Customer CustomerInfo
}

// Event is one row of an order's status history.
type Event struct {
	ID         int64
	OrderID    types.ID
	FromStatus *Status
	ToStatus   Status
	Version    int
	CreatedAt  time.Time
}
