// README: Tracked orders; the device-local projection of an order's status.
package tracking

import (
	"context"
	"time"

	"turbo/internal/modules/order"
	"turbo/internal/types"
)

// TrackedOrder is what one device remembers about an order it submitted.
type TrackedOrder struct {
	OrderID       types.ID           `json:"orderId"`
	Status        order.Status       `json:"status"`
	StatusVersion int                `json:"statusVersion"`
	Timestamp     types.EpochMillis  `json:"timestamp"`
	UpdatedAt     types.EpochMillis  `json:"updatedAt"`
	CompletedAt   types.EpochMillis  `json:"completedAt,omitempty"`
	Items         []order.Item       `json:"items"`
	Total         float64            `json:"total"`
	Table         string             `json:"table,omitempty"`
	CustomerInfo  order.CustomerInfo `json:"customerInfo"`
}

// fromOrder projects o. A store copy without a creation instant is stamped
// with now; updatedAt falls back to the creation instant.
func fromOrder(o *order.Order, now time.Time) TrackedOrder {
	created := types.MillisOf(o.CreatedAt)
	if created.IsZero() {
		created = types.MillisOf(now)
	}
	updated := types.MillisOf(o.UpdatedAt)
	if updated.IsZero() {
		updated = created
	}
	return TrackedOrder{
		OrderID:       o.ID,
		Status:        o.Status,
		StatusVersion: o.StatusVersion,
		Timestamp:     created,
		UpdatedAt:     updated,
		Items:         o.Items,
		Total:         o.Total,
		Table:         o.Table,
		CustomerInfo:  o.Customer,
	}
}

// stale reports whether o is older than what we already show. Transitions of
// one order are ordered by statusVersion, then by updatedAt.
func (t *TrackedOrder) stale(o *order.Order) bool {
	if o.StatusVersion != t.StatusVersion {
		return o.StatusVersion < t.StatusVersion
	}
	return !o.UpdatedAt.IsZero() && types.MillisOf(o.UpdatedAt) < t.UpdatedAt
}

// differs reports whether the store copy is not what we already show.
func (t *TrackedOrder) differs(o *order.Order) bool {
	return t.Status != o.Status ||
		t.StatusVersion != o.StatusVersion ||
		(!o.UpdatedAt.IsZero() && t.UpdatedAt != types.MillisOf(o.UpdatedAt)) ||
		t.Total != o.Total ||
		len(t.Items) != len(o.Items)
}

// overwrite replaces the projection with the store copy. The completion
// instant is the store's updatedAt of the move to completed, or now when the
// store has none.
func (t *TrackedOrder) overwrite(o *order.Order, now time.Time) {
	wasCompleted := t.Status == order.StatusCompleted
	completedAt := t.CompletedAt
	created := t.Timestamp
	*t = fromOrder(o, now)
	if o.CreatedAt.IsZero() && !created.IsZero() {
		t.Timestamp = created
	}
	switch {
	case o.Status != order.StatusCompleted:
		t.CompletedAt = 0
	case wasCompleted && !completedAt.IsZero():
		t.CompletedAt = completedAt
	case !o.UpdatedAt.IsZero():
		t.CompletedAt = types.MillisOf(o.UpdatedAt)
	default:
		t.CompletedAt = types.MillisOf(now)
	}
}

// completionInstant is when a completed order finished. State written before
// completedAt existed falls back to updatedAt, then to the creation instant.
func (t *TrackedOrder) completionInstant() types.EpochMillis {
	switch {
	case !t.CompletedAt.IsZero():
		return t.CompletedAt
	case !t.UpdatedAt.IsZero():
		return t.UpdatedAt
	}
	return t.Timestamp
}

// Source fetches the authoritative copy of one order.
type Source interface {
	Fetch(ctx context.Context, id types.ID) (*order.Order, error)
}

// Watcher pushes full snapshots of the watched orders on every change until
// the returned stop function is called.
type Watcher interface {
	Watch(ctx context.Context, ids []types.ID, fn func([]*order.Order)) (func(), error)
}

// Persister stores the tracked set on the device.
type Persister interface {
	Load() ([]TrackedOrder, error)
	Save(orders []TrackedOrder) error
}
