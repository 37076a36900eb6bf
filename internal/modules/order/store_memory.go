// README: In-memory order store for local runs and tests.
package order

import (
	"context"
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"

	"turbo/internal/types"
)

type MemoryStore struct {
	mu      sync.RWMutex
	orders  map[types.ID]*Order
	history map[types.ID][]Event
	eventID int64
	feed    *LocalFeed
	now     func() time.Time
	log     *zap.Logger
}

type MemoryOption func(*MemoryStore)

// WithClock overrides the server clock used for created/updated times.
func WithClock(now func() time.Time) MemoryOption {
	return func(s *MemoryStore) { s.now = now }
}

func NewMemoryStore(log *zap.Logger, opts ...MemoryOption) *MemoryStore {
	if log == nil {
		log = zap.NewNop()
	}
	s := &MemoryStore{
		orders:  make(map[types.ID]*Order),
		history: make(map[types.ID][]Event),
		feed:    NewLocalFeed(),
		now:     time.Now,
		log:     log,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *MemoryStore) Create(ctx context.Context, d Draft) (*Order, error) {
	if err := ctx.Err(); err != nil {
		return nil, transport("create order", err)
	}
	s.mu.Lock()
	now := s.now()
	id := newID(now)
	for s.orders[id] != nil {
		id = newID(now)
	}
	o := &Order{
		ID:        id,
		Items:     cloneItems(d.Items),
		Total:     d.Total,
		Table:     d.Table,
		Customer:  d.Customer,
		Status:    StatusPending,
		CreatedAt: now,
		UpdatedAt: now,
	}
	s.orders[id] = o
	s.appendEventLocked(id, nil, StatusPending, 0, now)
	out := cloneOrder(o)
	s.mu.Unlock()

	_ = s.feed.Publish(ctx, id)
	return out, nil
}

func (s *MemoryStore) Get(ctx context.Context, id types.ID) (*Order, error) {
	if err := ctx.Err(); err != nil {
		return nil, transport("get order", err)
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	o, ok := s.orders[id]
	if !ok {
		return nil, ErrNotFound
	}
	return cloneOrder(o), nil
}

func (s *MemoryStore) ListByStatus(ctx context.Context, status Status) ([]*Order, error) {
	return s.list(ctx, func(o *Order) bool {
		return !status.Valid() || o.Status == status
	})
}

func (s *MemoryStore) ListByDateRange(ctx context.Context, start, end time.Time) ([]*Order, error) {
	return s.list(ctx, func(o *Order) bool {
		return !o.CreatedAt.Before(start) && !o.CreatedAt.After(end)
	})
}

func (s *MemoryStore) UpdateStatus(ctx context.Context, id types.ID, from, to Status, version int) (*Order, error) {
	if err := ctx.Err(); err != nil {
		return nil, transport("update status", err)
	}
	s.mu.Lock()
	o, ok := s.orders[id]
	if !ok {
		s.mu.Unlock()
		return nil, ErrNotFound
	}
	if o.Status != from || o.StatusVersion != version {
		s.mu.Unlock()
		return nil, ErrConflict
	}
	now := s.now()
	if !now.After(o.UpdatedAt) {
		now = o.UpdatedAt.Add(time.Millisecond)
	}
	o.Status = to
	o.StatusVersion++
	o.UpdatedAt = now
	s.appendEventLocked(id, &from, to, o.StatusVersion, now)
	out := cloneOrder(o)
	s.mu.Unlock()

	_ = s.feed.Publish(ctx, id)
	return out, nil
}

func (s *MemoryStore) History(ctx context.Context, id types.ID) ([]Event, error) {
	if err := ctx.Err(); err != nil {
		return nil, transport("list history", err)
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	if _, ok := s.orders[id]; !ok {
		return nil, ErrNotFound
	}
	out := make([]Event, len(s.history[id]))
	copy(out, s.history[id])
	return out, nil
}

func (s *MemoryStore) Subscribe(ctx context.Context, status Status, fn func([]*Order)) (func(), error) {
	return subscribeFeed(ctx, s.feed, func(ctx context.Context) ([]*Order, error) {
		return s.ListByStatus(ctx, status)
	}, fn, s.log)
}

func (s *MemoryStore) list(ctx context.Context, keep func(*Order) bool) ([]*Order, error) {
	if err := ctx.Err(); err != nil {
		return nil, transport("list orders", err)
	}
	s.mu.RLock()
	out := make([]*Order, 0, len(s.orders))
	for _, o := range s.orders {
		if keep(o) {
			out = append(out, cloneOrder(o))
		}
	}
	s.mu.RUnlock()
	sortNewestFirst(out)
	return out, nil
}

func (s *MemoryStore) appendEventLocked(id types.ID, from *Status, to Status, version int, at time.Time) {
	s.eventID++
	e := Event{ID: s.eventID, OrderID: id, ToStatus: to, Version: version, CreatedAt: at}
	if from != nil {
		f := *from
		e.FromStatus = &f
	}
	s.history[id] = append(s.history[id], e)
}

func sortNewestFirst(orders []*Order) {
	sort.SliceStable(orders, func(i, j int) bool {
		if orders[i].CreatedAt.Equal(orders[j].CreatedAt) {
			return orders[i].ID > orders[j].ID
		}
		return orders[i].CreatedAt.After(orders[j].CreatedAt)
	})
}

func cloneOrder(o *Order) *Order {
	cp := *o
	cp.Items = cloneItems(o.Items)
	return &cp
}

func cloneItems(items []Item) []Item {
	if items == nil {
		return nil
	}
	out := make([]Item, len(items))
	for i, it := range items {
		out[i] = it
		if it.Flavors != nil {
			out[i].Flavors = append([]string(nil), it.Flavors...)
		}
	}
	return out
}
