// README: Order handlers for submit, status lookup and admin status changes.
package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"turbo/internal/modules/order"
	"turbo/internal/types"
)

type OrderHandler struct {
	order *order.Service
}

func NewOrderHandler(svc *order.Service) *OrderHandler {
	return &OrderHandler{order: svc}
}

type createOrderReq struct {
	Items        []order.Item       `json:"items"`
	Total        float64            `json:"total"`
	Table        string             `json:"table"`
	CustomerInfo order.CustomerInfo `json:"customerInfo"`
}

type transitionReq struct {
	Status string `json:"status"`
}

type orderResponse struct {
	Order order.Wire `json:"order"`
}

func (h *OrderHandler) Create(c *gin.Context) {
	var req createOrderReq
	if err := c.ShouldBindJSON(&req); err != nil {
		writeError(c, http.StatusBadRequest, "invalid json")
		return
	}
	o, err := h.order.Create(c.Request.Context(), order.CreateCommand{
		Items:    req.Items,
		Total:    req.Total,
		Table:    req.Table,
		Customer: req.CustomerInfo,
	})
	if err != nil {
		writeOrderError(c, err)
		return
	}
	writeJSON(c, http.StatusCreated, orderResponse{Order: order.ToWire(o)})
}

func (h *OrderHandler) Get(c *gin.Context) {
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
	writeJSON(c, http.StatusOK, orderResponse{Order: order.ToWire(o)})
}

// UpdateStatus is the admin transition command.
func (h *OrderHandler) UpdateStatus(c *gin.Context) {
	id := c.Param("id")
	if !isValidID(id) {
		writeError(c, http.StatusBadRequest, "invalid order id")
		return
	}
	var req transitionReq
	if err := c.ShouldBindJSON(&req); err != nil {
		writeError(c, http.StatusBadRequest, "invalid json")
		return
	}
	target, err := order.ParseStatus(req.Status)
	if err != nil {
		writeOrderError(c, err)
		return
	}
	o, err := h.order.Transition(c.Request.Context(), order.TransitionCommand{OrderID: types.ID(id), Target: target})
	if err != nil {
		writeOrderError(c, err)
		return
	}
	writeJSON(c, http.StatusOK, orderResponse{Order: order.ToWire(o)})
}
