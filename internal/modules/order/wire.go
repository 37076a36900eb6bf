// README: JSON wire form of an order shared by the HTTP surface and its clients.
package order

import (
	"time"

	"go.uber.org/zap"

	"turbo/internal/types"
)

// Wire is the JSON shape of an order. Timestamps go out as epoch millis and
// are accepted as millis, ISO-8601 strings or serialized store timestamps.
type Wire struct {
	OrderID       types.ID          `json:"orderId"`
	Items         []Item            `json:"items"`
	Total         float64           `json:"total"`
	Table         string            `json:"table,omitempty"`
	CustomerInfo  CustomerInfo      `json:"customerInfo"`
	Status        Status            `json:"status"`
	StatusVersion int               `json:"statusVersion"`
	Timestamp     types.EpochMillis `json:"timestamp"`
	CreatedAt     types.EpochMillis `json:"createdAt"`
	UpdatedAt     types.EpochMillis `json:"updatedAt"`
}

func ToWire(o *Order) Wire {
	items := o.Items
	if items == nil {
		items = []Item{}
	}
	created := types.MillisOf(o.CreatedAt)
	return Wire{
		OrderID:       o.ID,
		Items:         items,
		Total:         o.Total,
		Table:         o.Table,
		CustomerInfo:  o.Customer,
		Status:        o.Status,
		StatusVersion: o.StatusVersion,
		Timestamp:     created,
		CreatedAt:     created,
		UpdatedAt:     types.MillisOf(o.UpdatedAt),
	}
}

func ToWireList(orders []*Order) []Wire {
	out := make([]Wire, 0, len(orders))
	for _, o := range orders {
		out = append(out, ToWire(o))
	}
	return out
}

// Order converts back, preferring createdAt over the legacy timestamp field.
// An order carrying neither is stamped with now.
func (w Wire) Order() *Order {
	created := w.CreatedAt
	if created.IsZero() {
		created = w.Timestamp
	}
	if created.IsZero() {
		zap.L().Warn("order without creation timestamp, defaulting to now", zap.String("order_id", w.OrderID.String()))
		created = types.MillisOf(time.Now())
	}
	updated := w.UpdatedAt
	if updated.IsZero() {
		updated = created
	}
	return &Order{
		ID:            w.OrderID,
		Items:         w.Items,
		Total:         w.Total,
		Table:         w.Table,
		Customer:      w.CustomerInfo,
		Status:        w.Status,
		StatusVersion: w.StatusVersion,
		CreatedAt:     created.Time(),
		UpdatedAt:     updated.Time(),
	}
}
