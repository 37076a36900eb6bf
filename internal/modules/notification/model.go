// README: Admin inbox notifications produced by order lifecycle events.
package notification

import (
	"errors"
	"fmt"
	"strconv"
	"time"

	"turbo/internal/types"
)

type Type string

const (
	TypeNewOrder    Type = "new_order"
	TypeOrderUpdate Type = "order_update"
	TypeSystem      Type = "system"
)

func (t Type) Valid() bool {
	switch t {
	case TypeNewOrder, TypeOrderUpdate, TypeSystem:
		return true
	}
	return false
}

func ParseType(v string) (Type, error) {
	if t := Type(v); t.Valid() {
		return t, nil
	}
	return "", fmt.Errorf("unknown notification type %q", v)
}

var ErrNotFound = errors.New("notification not found")

// Notification is an inbox record. Only IsRead changes after creation.
type Notification struct {
	ID             string
	Type           Type
	Title          string
	Message        string
	OrderID        types.ID
	Table          string
	Total          float64
	PreviousStatus string
	Status         string
	IsRead         bool
	CreatedAt      time.Time
}

const (
	titleNewOrder    = "New Order"
	titleOrderUpdate = "Order Status Updated"
	noTable          = "N/A"
)

func newOrderMessage(table string, total float64) string {
	if table == "" {
		table = noTable
	}
	return fmt.Sprintf("Order from table %s - %s Lei", table, formatAmount(total))
}

func orderUpdateMessage(id types.ID, previous, current string) string {
	return fmt.Sprintf("Order %s changed from %s to %s", id, previous, current)
}

// formatAmount drops trailing zeros: 140 -> "140", 12.5 -> "12.5".
func formatAmount(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}
