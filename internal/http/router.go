// README: HTTP router registration.
package http

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"turbo/internal/http/handlers"
	"turbo/internal/http/middleware"
	"turbo/internal/infra"
	"turbo/internal/modules/notification"
	"turbo/internal/modules/order"
	"turbo/internal/modules/stats"
)

type RouterDeps struct {
	Orders        *order.Service
	Notifications *notification.Service
	Stats         *stats.Service
	Verifier      infra.TokenVerifier
	Log           *zap.Logger
}

func NewRouter(d RouterDeps) *gin.Engine {
	log := d.Log
	if log == nil {
		log = zap.NewNop()
	}
	r := gin.New()
	r.Use(middleware.Recovery(log), middleware.Logging(log))

	orderHandler := handlers.NewOrderHandler(d.Orders)
	streamHandler := handlers.NewStreamHandler(d.Orders, log)
	adminHandler := handlers.NewAdminHandler(d.Orders, d.Notifications, d.Stats)
	adminOnly := []gin.HandlerFunc{middleware.Auth(d.Verifier), middleware.RequireRole(middleware.RoleAdmin)}

	r.POST("/orders", orderHandler.Create)
	r.GET("/orders/stream", streamHandler.Orders)
	r.GET("/orders/:id", orderHandler.Get)
	r.PUT("/orders/:id/status", append(adminOnly, orderHandler.UpdateStatus)...)

	admin := r.Group("/admin", adminOnly...)
	admin.GET("/orders", adminHandler.ListOrders)
	admin.GET("/orders/:id", adminHandler.GetOrder)
	admin.GET("/orders/:id/history", adminHandler.History)
	admin.GET("/notifications", adminHandler.Notifications)
	admin.POST("/notifications/:id/read", adminHandler.MarkRead)
	admin.GET("/stats", adminHandler.Stats)

	r.GET("/health", func(c *gin.Context) {
		c.String(http.StatusOK, "OK")
	})
	return r
}
