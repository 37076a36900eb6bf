// README: Notification service; emits inbox records for order events and serves the admin inbox.
package notification

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"firebase.google.com/go/v4/messaging"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"turbo/internal/modules/order"
)

// AdminTopic is the FCM topic admin devices subscribe to.
const AdminTopic = "admin"

// Pusher delivers a message to devices. *messaging.Client satisfies it.
type Pusher interface {
	Send(ctx context.Context, msg *messaging.Message) (string, error)
}

type Service struct {
	store  Store
	pusher Pusher
	log    *zap.Logger
}

// NewService returns the inbox service. pusher may be nil to skip device pushes.
func NewService(store Store, pusher Pusher, log *zap.Logger) *Service {
	if log == nil {
		log = zap.NewNop()
	}
	return &Service{store: store, pusher: pusher, log: log}
}

// NewOrder records the new_order notification for o.
func (s *Service) NewOrder(ctx context.Context, o *order.Order) error {
	return s.emit(ctx, &Notification{
		Type:    TypeNewOrder,
		Title:   titleNewOrder,
		Message: newOrderMessage(o.Table, o.Total),
		OrderID: o.ID,
		Table:   o.Table,
		Total:   o.Total,
		Status:  o.Status.String(),
	})
}

// StatusChanged records the order_update notification for a transition.
func (s *Service) StatusChanged(ctx context.Context, o *order.Order, previous order.Status) error {
	return s.emit(ctx, &Notification{
		Type:           TypeOrderUpdate,
		Title:          titleOrderUpdate,
		Message:        orderUpdateMessage(o.ID, previous.String(), o.Status.String()),
		OrderID:        o.ID,
		Table:          o.Table,
		Total:          o.Total,
		PreviousStatus: previous.String(),
		Status:         o.Status.String(),
	})
}

func (s *Service) System(ctx context.Context, title, message string) error {
	if title == "" {
		return fmt.Errorf("system notification needs a title")
	}
	return s.emit(ctx, &Notification{Type: TypeSystem, Title: title, Message: message})
}

func (s *Service) Unread(ctx context.Context) ([]*Notification, error) {
	return s.store.ListUnread(ctx)
}

func (s *Service) ByType(ctx context.Context, t Type, start, end time.Time) ([]*Notification, error) {
	return s.store.ListByType(ctx, t, start, end)
}

func (s *Service) MarkRead(ctx context.Context, id string) error {
	return s.store.MarkRead(ctx, id)
}

func (s *Service) emit(ctx context.Context, n *Notification) error {
	n.ID = uuid.NewString()
	if err := s.store.Create(ctx, n); err != nil {
		return fmt.Errorf("create %s notification: %w", n.Type, err)
	}
	s.log.Debug("notification created",
		zap.String("id", n.ID),
		zap.String("type", string(n.Type)),
		zap.String("order_id", n.OrderID.String()),
	)
	s.push(ctx, n)
	return nil
}

func (s *Service) push(ctx context.Context, n *Notification) {
	if s.pusher == nil {
		return
	}
	data := map[string]string{
		"id":   n.ID,
		"type": string(n.Type),
	}
	if n.OrderID != "" {
		data["orderId"] = n.OrderID.String()
		data["table"] = n.Table
		data["total"] = strconv.FormatFloat(n.Total, 'f', 2, 64)
	}
	if n.PreviousStatus != "" {
		data["previousStatus"] = n.PreviousStatus
	}
	if n.Status != "" {
		data["status"] = n.Status
	}
	msg := &messaging.Message{
		Topic: AdminTopic,
		Data:  data,
		Notification: &messaging.Notification{
			Title: n.Title,
			Body:  n.Message,
		},
		Android: &messaging.AndroidConfig{Priority: "high"},
	}
	id, err := s.pusher.Send(ctx, msg)
	if err != nil {
		s.log.Warn("push notification to admins", zap.String("id", n.ID), zap.Error(err))
		return
	}
	s.log.Debug("push notification sent", zap.String("id", n.ID), zap.String("message_id", id))
}
