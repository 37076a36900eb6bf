// README: Order service implements creation, status transitions and their notifications.
package order

import (
	"context"
	"fmt"
	"math"
	"time"

	"go.uber.org/zap"

	"turbo/internal/types"
)

// Notifier receives one call per successful create or transition.
type Notifier interface {
	NewOrder(ctx context.Context, o *Order) error
	StatusChanged(ctx context.Context, o *Order, previous Status) error
}

type Service struct {
	store    Store
	notifier Notifier
	policy   TransitionPolicy
	log      *zap.Logger
}

func NewService(store Store, notifier Notifier, policy TransitionPolicy, log *zap.Logger) *Service {
	if log == nil {
		log = zap.NewNop()
	}
	if policy == "" {
		policy = PolicyPermissive
	}
	return &Service{store: store, notifier: notifier, policy: policy, log: log}
}

func (s *Service) Policy() TransitionPolicy { return s.policy }

type CreateCommand struct {
	Items    []Item
	Total    float64
	Table    string
	Customer CustomerInfo
}

type TransitionCommand struct {
	OrderID types.ID
	Target  Status
}

func (c CreateCommand) validate() error {
	if len(c.Items) == 0 {
		return fmt.Errorf("%w: order has no items", ErrValidation)
	}
	if c.Total <= 0 || math.IsNaN(c.Total) || math.IsInf(c.Total, 0) {
		return fmt.Errorf("%w: total must be positive", ErrValidation)
	}
	for i, it := range c.Items {
		if it.Name == "" {
			return fmt.Errorf("%w: item %d has no name", ErrValidation, i)
		}
		if it.Price < 0 {
			return fmt.Errorf("%w: item %d has a negative price", ErrValidation, i)
		}
		switch it.Kind {
		case ItemMix, ItemCustom:
		default:
			return fmt.Errorf("%w: item %d has unknown type %q", ErrValidation, i, it.Kind)
		}
		if len(it.Flavors) > MaxFlavors {
			return fmt.Errorf("%w: item %d has %d flavors, at most %d allowed", ErrValidation, i, len(it.Flavors), MaxFlavors)
		}
	}
	return nil
}

// Create persists a pending order and emits its new_order notification.
func (s *Service) Create(ctx context.Context, cmd CreateCommand) (*Order, error) {
	if err := cmd.validate(); err != nil {
		return nil, err
	}
	o, err := s.store.Create(ctx, Draft{
		Items:    cmd.Items,
		Total:    cmd.Total,
		Table:    cmd.Table,
		Customer: cmd.Customer,
	})
	if err != nil {
		return nil, err
	}
	s.log.Info("order created",
		zap.String("order_id", o.ID.String()),
		zap.String("table", o.Table),
		zap.Float64("total", o.Total),
	)
	if s.notifier != nil {
		if err := s.notifier.NewOrder(ctx, o); err != nil {
			s.log.Error("emit new_order notification", zap.String("order_id", o.ID.String()), zap.Error(err))
		}
	}
	return o, nil
}

// Transition moves an order to cmd.Target. Re-setting the current status is
// rejected so no duplicate notification is produced.
func (s *Service) Transition(ctx context.Context, cmd TransitionCommand) (*Order, error) {
	if !cmd.Target.Valid() {
		return nil, fmt.Errorf("%w: unknown target status", ErrValidation)
	}
	o, err := s.store.Get(ctx, cmd.OrderID)
	if err != nil {
		return nil, err
	}
	if o.Status == cmd.Target {
		return nil, fmt.Errorf("%w: order is already %s", ErrInvalidTransition, o.Status)
	}
	if !CanTransition(s.policy, o.Status, cmd.Target) {
		return nil, fmt.Errorf("%w: %s -> %s not allowed", ErrInvalidTransition, o.Status, cmd.Target)
	}
	updated, err := s.store.UpdateStatus(ctx, o.ID, o.Status, cmd.Target, o.StatusVersion)
	if err != nil {
		return nil, err
	}
	s.log.Info("order status changed",
		zap.String("order_id", o.ID.String()),
		zap.Stringer("from", o.Status),
		zap.Stringer("to", updated.Status),
		zap.Int("version", updated.StatusVersion),
	)
	if s.notifier != nil {
		if err := s.notifier.StatusChanged(ctx, updated, o.Status); err != nil {
			s.log.Error("emit order_update notification", zap.String("order_id", o.ID.String()), zap.Error(err))
		}
	}
	return updated, nil
}

func (s *Service) Get(ctx context.Context, id types.ID) (*Order, error) {
	return s.store.Get(ctx, id)
}

// List returns orders newest first; the zero Status lists all of them.
func (s *Service) List(ctx context.Context, st Status) ([]*Order, error) {
	return s.store.ListByStatus(ctx, st)
}

func (s *Service) ListByDateRange(ctx context.Context, start, end time.Time) ([]*Order, error) {
	if end.Before(start) {
		return nil, fmt.Errorf("%w: end before start", ErrValidation)
	}
	return s.store.ListByDateRange(ctx, start, end)
}

func (s *Service) History(ctx context.Context, id types.ID) ([]Event, error) {
	return s.store.History(ctx, id)
}

func (s *Service) Subscribe(ctx context.Context, st Status, fn func([]*Order)) (func(), error) {
	return s.store.Subscribe(ctx, st, fn)
}

// NextStatuses lists the statuses the order may move to under the configured policy.
func (s *Service) NextStatuses(o *Order) []Status {
	return NextStatuses(s.policy, o.Status)
}
