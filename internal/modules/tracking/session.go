// README: Order tracking session; reconciles tracked orders against the store and evicts finished ones.
package tracking

import (
	"context"
	"errors"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"turbo/internal/modules/order"
	"turbo/internal/types"
)

const (
	DefaultEvictAfter   = 2 * time.Minute
	DefaultFetchTimeout = 10 * time.Second
	DefaultConcurrency  = 4
)

type Options struct {
	EvictAfter   time.Duration
	FetchTimeout time.Duration
	// Concurrency caps parallel fetches within one reconciliation.
	Concurrency int
	Now         func() time.Time
	Log         *zap.Logger
}

func (o *Options) defaults() {
	if o.EvictAfter <= 0 {
		o.EvictAfter = DefaultEvictAfter
	}
	if o.FetchTimeout <= 0 {
		o.FetchTimeout = DefaultFetchTimeout
	}
	if o.Concurrency <= 0 {
		o.Concurrency = DefaultConcurrency
	}
	if o.Now == nil {
		o.Now = time.Now
	}
	if o.Log == nil {
		o.Log = zap.NewNop()
	}
}

// Session owns the tracked set of one device. It is safe for concurrent use.
type Session struct {
	source    Source
	persister Persister
	opts      Options
	log       *zap.Logger

	// reconcileMu queues reconciliations so two never interleave writes.
	reconcileMu sync.Mutex

	mu     sync.Mutex
	orders map[types.ID]*TrackedOrder
	seq    []types.ID

	changed chan struct{}
}

// NewSession restores the persisted set. A persister that fails to load is
// logged and the session starts empty.
func NewSession(source Source, persister Persister, opts Options) *Session {
	opts.defaults()
	s := &Session{
		source:    source,
		persister: persister,
		opts:      opts,
		log:       opts.Log,
		orders:    make(map[types.ID]*TrackedOrder),
		changed:   make(chan struct{}, 1),
	}
	if persister != nil {
		saved, err := persister.Load()
		if err != nil {
			s.log.Warn("load tracked orders", zap.Error(err))
		}
		for i := range saved {
			t := saved[i]
			if t.OrderID == "" {
				continue
			}
			if t.Timestamp.IsZero() {
				s.log.Warn("tracked order without timestamp, defaulting to now", zap.String("order_id", t.OrderID.String()))
				t.Timestamp = types.MillisOf(opts.Now())
			}
			s.putLocked(&t)
		}
	}
	return s
}

// AddOrder starts tracking a freshly created order. Adding a known id replaces it.
func (s *Session) AddOrder(o *order.Order) {
	if o == nil || o.ID == "" {
		return
	}
	s.mu.Lock()
	_, known := s.orders[o.ID]
	if o.CreatedAt.IsZero() {
		s.log.Warn("order without creation timestamp, defaulting to now", zap.String("order_id", o.ID.String()))
	}
	t := fromOrder(o, s.opts.Now())
	if o.Status == order.StatusCompleted {
		t.CompletedAt = t.UpdatedAt
	}
	s.putLocked(&t)
	s.persistLocked()
	s.mu.Unlock()

	if !known {
		s.notifyChanged()
	}
}

// RemoveOrder stops tracking id whatever its status.
func (s *Session) RemoveOrder(id types.ID) bool {
	s.mu.Lock()
	_, ok := s.orders[id]
	if ok {
		s.deleteLocked(id)
		s.persistLocked()
	}
	s.mu.Unlock()

	if ok {
		s.notifyChanged()
	}
	return ok
}

// Orders returns copies of the tracked orders in the order they were added.
func (s *Session) Orders() []TrackedOrder {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.snapshotLocked()
}

func (s *Session) IDs() []types.ID {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]types.ID, len(s.seq))
	copy(out, s.seq)
	return out
}

func (s *Session) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.seq)
}

// Changed fires when the set of watched ids changes.
func (s *Session) Changed() <-chan struct{} { return s.changed }

type fetched struct {
	id    types.ID
	order *order.Order
}

// Reconcile refreshes every tracked order from the source and then evicts
// completed orders past the grace window. Failed fetches are logged and the
// order keeps its last known state.
func (s *Session) Reconcile(ctx context.Context) error {
	s.reconcileMu.Lock()
	defer s.reconcileMu.Unlock()

	ids := s.IDs()
	results := make([]fetched, len(ids))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.opts.Concurrency)
	for i, id := range ids {
		i, id := i, id
		g.Go(func() error {
			fctx, cancel := context.WithTimeout(gctx, s.opts.FetchTimeout)
			defer cancel()
			o, err := s.source.Fetch(fctx, id)
			if err != nil {
				level := s.log.Warn
				if errors.Is(err, order.ErrNotFound) {
					level = s.log.Info
				}
				level("reconcile fetch failed", zap.String("order_id", id.String()), zap.Error(err))
				return nil
			}
			results[i] = fetched{id: id, order: o}
			return nil
		})
	}
	_ = g.Wait()
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	dirty := false
	now := s.opts.Now()
	for _, r := range results {
		if r.order != nil && s.applyLocked(r.order, now) {
			dirty = true
		}
	}
	removed := s.evictLocked(now)
	if dirty || removed > 0 {
		s.persistLocked()
	}
	if removed > 0 {
		s.notifyChanged()
	}
	return nil
}

// ApplySnapshot replaces local copies from a pushed snapshot. Orders the
// session does not track are ignored, as are copies older than the one shown.
func (s *Session) ApplySnapshot(orders []*order.Order) {
	s.mu.Lock()
	dirty := false
	now := s.opts.Now()
	for _, o := range orders {
		if o != nil && s.applyLocked(o, now) {
			dirty = true
		}
	}
	removed := s.evictLocked(now)
	if dirty || removed > 0 {
		s.persistLocked()
	}
	s.mu.Unlock()

	if removed > 0 {
		s.notifyChanged()
	}
}

// Close writes the final state.
func (s *Session) Close() error {
	if s.persister == nil {
		return nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.persister.Save(s.snapshotLocked())
}

func (s *Session) applyLocked(o *order.Order, now time.Time) bool {
	t, ok := s.orders[o.ID]
	if !ok {
		// removed while the fetch was in flight
		return false
	}
	if t.stale(o) {
		s.log.Debug("ignoring older copy of tracked order",
			zap.String("order_id", o.ID.String()),
			zap.Int("have_version", t.StatusVersion),
			zap.Int("got_version", o.StatusVersion),
		)
		return false
	}
	if !t.differs(o) {
		return false
	}
	prev := t.Status
	t.overwrite(o, now)
	if prev != t.Status {
		s.log.Info("tracked order status changed",
			zap.String("order_id", o.ID.String()),
			zap.Stringer("from", prev),
			zap.Stringer("to", t.Status),
		)
	}
	return true
}

func (s *Session) evictLocked(now time.Time) int {
	removed := 0
	for _, id := range append([]types.ID(nil), s.seq...) {
		t := s.orders[id]
		if t.Status != order.StatusCompleted {
			continue
		}
		done := t.completionInstant()
		if done.IsZero() {
			continue
		}
		if now.Sub(done.Time()) > s.opts.EvictAfter {
			s.deleteLocked(id)
			removed++
			s.log.Debug("evicted completed order", zap.String("order_id", id.String()))
		}
	}
	return removed
}

func (s *Session) putLocked(t *TrackedOrder) {
	if _, ok := s.orders[t.OrderID]; !ok {
		s.seq = append(s.seq, t.OrderID)
	}
	s.orders[t.OrderID] = t
}

func (s *Session) deleteLocked(id types.ID) {
	delete(s.orders, id)
	for i, v := range s.seq {
		if v == id {
			s.seq = append(s.seq[:i], s.seq[i+1:]...)
			break
		}
	}
}

func (s *Session) snapshotLocked() []TrackedOrder {
	out := make([]TrackedOrder, 0, len(s.seq))
	for _, id := range s.seq {
		out = append(out, *s.orders[id])
	}
	return out
}

func (s *Session) persistLocked() {
	if s.persister == nil {
		return
	}
	if err := s.persister.Save(s.snapshotLocked()); err != nil {
		s.log.Warn("persist tracked orders", zap.Error(err))
	}
}

func (s *Session) notifyChanged() {
	select {
	case s.changed <- struct{}{}:
	default:
	}
}
