// README: Server-sent event stream of order snapshots for tracking clients.
package handlers

import (
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"turbo/internal/modules/order"
	"turbo/internal/types"
)

const (
	maxStreamIDs      = 50
	streamKeepAlive   = 15 * time.Second
	streamEventOrders = "orders"
)

type StreamHandler struct {
	order *order.Service
	log   *zap.Logger
}

func NewStreamHandler(svc *order.Service, log *zap.Logger) *StreamHandler {
	if log == nil {
		log = zap.NewNop()
	}
	return &StreamHandler{order: svc, log: log}
}

// Orders streams the current snapshot of ?ids=a,b and a fresh one after every
// change, as "orders" events carrying {"orders": [...]}.
func (h *StreamHandler) Orders(c *gin.Context) {
	ids, ok := parseIDs(c.Query("ids"))
	if !ok {
		writeError(c, http.StatusBadRequest, "ids must list 1 to 50 order ids")
		return
	}
	want := make(map[types.ID]bool, len(ids))
	for _, id := range ids {
		want[id] = true
	}

	ctx := c.Request.Context()
	latest := make(chan []*order.Order, 1)
	stop, err := h.order.Subscribe(ctx, 0, func(all []*order.Order) {
		picked := make([]*order.Order, 0, len(want))
		for _, o := range all {
			if want[o.ID] {
				picked = append(picked, o)
			}
		}
		// keep only the newest snapshot
		select {
		case <-latest:
		default:
		}
		latest <- picked
	})
	if err != nil {
		writeOrderError(c, err)
		return
	}
	defer stop()

	c.Header("Content-Type", "text/event-stream")
	c.Header("Cache-Control", "no-cache")
	c.Header("Connection", "keep-alive")
	c.Header("X-Accel-Buffering", "no")
	c.Status(http.StatusOK)
	c.Writer.Flush()

	keepAlive := time.NewTicker(streamKeepAlive)
	defer keepAlive.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case orders := <-latest:
			c.SSEvent(streamEventOrders, gin.H{"orders": order.ToWireList(orders)})
			c.Writer.Flush()
		case <-keepAlive.C:
			if _, err := c.Writer.WriteString(": keepalive\n\n"); err != nil {
				h.log.Debug("order stream closed", zap.Error(err))
				return
			}
			c.Writer.Flush()
		}
	}
}

func parseIDs(raw string) ([]types.ID, bool) {
	var out []types.ID
	seen := make(map[string]bool)
	for _, part := range strings.Split(raw, ",") {
		part = strings.TrimSpace(part)
		if part == "" || seen[part] {
			continue
		}
		if !isValidID(part) {
			return nil, false
		}
		seen[part] = true
		out = append(out, types.ID(part))
	}
	return out, len(out) > 0 && len(out) <= maxStreamIDs
}
