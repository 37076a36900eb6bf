// README: Admin handlers; order listing, history, notification inbox and statistics.
package handlers

import (
	"fmt"
	"net/http"

	"github.com/gin-gonic/gin"

	"turbo/internal/modules/notification"
	"turbo/internal/modules/order"
	"turbo/internal/modules/stats"
	"turbo/internal/types"
)

type AdminHandler struct {
	order         *order.Service
	notifications *notification.Service
	stats         *stats.Service
}

func NewAdminHandler(orders *order.Service, notifications *notification.Service, st *stats.Service) *AdminHandler {
	return &AdminHandler{order: orders, notifications: notifications, stats: st}
}

type adminOrderResponse struct {
	Order        order.Wire     `json:"order"`
	NextStatuses []order.Status `json:"nextStatuses"`
}

type eventResponse struct {
	ID         int64             `json:"id"`
	FromStatus *order.Status     `json:"fromStatus"`
	ToStatus   order.Status      `json:"toStatus"`
	Version    int               `json:"version"`
	CreatedAt  types.EpochMillis `json:"createdAt"`
}

type notificationResponse struct {
	ID             string            `json:"id"`
	Type           notification.Type `json:"type"`
	Title          string            `json:"title"`
	Message        string            `json:"message"`
	OrderID        types.ID          `json:"orderId,omitempty"`
	Table          string            `json:"table,omitempty"`
	Total          float64           `json:"total,omitempty"`
	PreviousStatus string            `json:"previousStatus,omitempty"`
	Status         string            `json:"status,omitempty"`
	IsRead         bool              `json:"isRead"`
	CreatedAt      types.EpochMillis `json:"createdAt"`
}

// ListOrders serves ?status= (omitted means all) and an optional
// ?start=&end= creation range.
func (h *AdminHandler) ListOrders(c *gin.Context) {
	var status order.Status
	if raw := c.Query("status"); raw != "" && raw != "all" {
		st, err := order.ParseStatus(raw)
		if err != nil {
			writeOrderError(c, err)
			return
		}
		status = st
	}
	start, end, err := queryRange(c)
	if err != nil {
		writeOrderError(c, err)
		return
	}

	ctx := c.Request.Context()
	var orders []*order.Order
	if start.IsZero() && end.IsZero() {
		orders, err = h.order.List(ctx, status)
	} else {
		if start.IsZero() || end.IsZero() {
			writeOrderError(c, fmt.Errorf("%w: start and end go together", order.ErrValidation))
			return
		}
		orders, err = h.order.ListByDateRange(ctx, start, end)
		if err == nil && status.Valid() {
			orders = filterStatus(orders, status)
		}
	}
	if err != nil {
		writeOrderError(c, err)
		return
	}
	writeJSON(c, http.StatusOK, gin.H{"orders": order.ToWireList(orders)})
}

func (h *AdminHandler) GetOrder(c *gin.Context) {
	id := c.Param("id")
	if !isValidID(id) {
		writeError(c, http.StatusBadRequest, "invalid order id")
		return
	}
	o, err := h.order.Get(c.Request.Context(), types.ID(id))
	if err != nil {
		writeOrderError(c, err)
		return
	}
	writeJSON(c, http.StatusOK, adminOrderResponse{Order: order.ToWire(o), NextStatuses: h.order.NextStatuses(o)})
}

func (h *AdminHandler) History(c *gin.Context) {
	id := c.Param("id")
	if !isValidID(id) {
		writeError(c, http.StatusBadRequest, "invalid order id")
		return
	}
	events, err := h.order.History(c.Request.Context(), types.ID(id))
	if err != nil {
		writeOrderError(c, err)
		return
	}
	out := make([]eventResponse, 0, len(events))
	for _, e := range events {
		out = append(out, eventResponse{
			ID:         e.ID,
			FromStatus: e.FromStatus,
			ToStatus:   e.ToStatus,
			Version:    e.Version,
			CreatedAt:  types.MillisOf(e.CreatedAt),
		})
	}
	writeJSON(c, http.StatusOK, gin.H{"history": out})
}

// Notifications returns unread notifications newest first, or with ?type=
// every notification of that type in the ?start=&end= range.
func (h *AdminHandler) Notifications(c *gin.Context) {
	ctx := c.Request.Context()
	var (
		list []*notification.Notification
		err  error
	)
	if raw := c.Query("type"); raw != "" {
		t, perr := notification.ParseType(raw)
		if perr != nil {
			writeError(c, http.StatusBadRequest, perr.Error())
			return
		}
		start, end, rerr := queryRange(c)
		if rerr != nil {
			writeOrderError(c, rerr)
			return
		}
		if start.IsZero() || end.IsZero() {
			start, end = h.stats.DefaultRange()
			end = end.AddDate(0, 0, 1)
		}
		list, err = h.notifications.ByType(ctx, t, start, end)
	} else {
		list, err = h.notifications.Unread(ctx)
	}
	if err != nil {
		writeOrderError(c, err)
		return
	}
	out := make([]notificationResponse, 0, len(list))
	for _, n := range list {
		out = append(out, notificationResponse{
			ID:             n.ID,
			Type:           n.Type,
			Title:          n.Title,
			Message:        n.Message,
			OrderID:        n.OrderID,
			Table:          n.Table,
			Total:          n.Total,
			PreviousStatus: n.PreviousStatus,
			Status:         n.Status,
			IsRead:         n.IsRead,
			CreatedAt:      types.MillisOf(n.CreatedAt),
		})
	}
	writeJSON(c, http.StatusOK, gin.H{"notifications": out})
}

func (h *AdminHandler) MarkRead(c *gin.Context) {
	id := c.Param("id")
	if id == "" || len(id) > 64 {
		writeError(c, http.StatusBadRequest, "invalid notification id")
		return
	}
	if err := h.notifications.MarkRead(c.Request.Context(), id); err != nil {
		writeOrderError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

func (h *AdminHandler) Stats(c *gin.Context) {
	start, end, err := queryRange(c)
	if err != nil {
		writeOrderError(c, err)
		return
	}
	sum, err := h.stats.Summary(c.Request.Context(), start, end)
	if err != nil {
		writeOrderError(c, err)
		return
	}
	writeJSON(c, http.StatusOK, gin.H{
		"start":   types.MillisOf(sum.Start),
		"end":     types.MillisOf(sum.End),
		"summary": sum,
	})
}

func filterStatus(orders []*order.Order, st order.Status) []*order.Order {
	out := orders[:0]
	for _, o := range orders {
		if o.Status == st {
			out = append(out, o)
		}
	}
	return out
}
