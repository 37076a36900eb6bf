// README: Runner drives a session from a poll ticker and an optional push watcher.
package tracking

import (
	"context"
	"sync"
	"time"

	"go.uber.org/atomic"
	"go.uber.org/zap"

	"turbo/internal/modules/order"
	"turbo/internal/types"
)

const DefaultPollInterval = 30 * time.Second

type Runner struct {
	session  *Session
	watcher  Watcher
	interval time.Duration
	log      *zap.Logger

	inFlight atomic.Bool
	skipped  atomic.Int64
	wg       sync.WaitGroup
}

// NewRunner polls every interval. watcher may be nil when no push channel exists.
func NewRunner(session *Session, watcher Watcher, interval time.Duration, log *zap.Logger) *Runner {
	if interval <= 0 {
		interval = DefaultPollInterval
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &Runner{session: session, watcher: watcher, interval: interval, log: log}
}

// Skipped counts ticks dropped because the previous one was still running.
func (r *Runner) Skipped() int64 { return r.skipped.Load() }

// Run reconciles immediately, then on every tick, and restarts the push
// subscription whenever the watched ids change. It returns when ctx ends.
func (r *Runner) Run(ctx context.Context) error {
	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	stop := r.watch(ctx)
	defer func() {
		stop()
		r.wg.Wait()
	}()

	r.tick(ctx)
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			r.tick(ctx)
		case <-r.session.Changed():
			stop()
			stop = r.watch(ctx)
		}
	}
}

// tick starts a reconciliation unless one is still in flight.
func (r *Runner) tick(ctx context.Context) {
	if !r.inFlight.CAS(false, true) {
		r.skipped.Inc()
		r.log.Debug("reconcile still running; tick skipped")
		return
	}
	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		defer r.inFlight.Store(false)
		if err := r.session.Reconcile(ctx); err != nil && ctx.Err() == nil {
			r.log.Warn("reconcile", zap.Error(err))
		}
	}()
}

func (r *Runner) watch(ctx context.Context) func() {
	ids := r.session.IDs()
	if r.watcher == nil || len(ids) == 0 {
		return func() {}
	}
	stop, err := r.watcher.Watch(ctx, ids, r.session.ApplySnapshot)
	if err != nil {
		r.log.Info("live updates unavailable; polling only", zap.Error(err))
		return func() {}
	}
	r.log.Debug("watching orders", zap.Int("count", len(ids)), zap.Strings("ids", idStrings(ids)))
	return stop
}

func idStrings(ids []types.ID) []string {
	out := make([]string, len(ids))
	for i, id := range ids {
		out[i] = id.String()
	}
	return out
}

// storeSource adapts an order store for in-process tracking.
type storeSource struct {
	store order.Store
}

// StoreSource fetches straight from an order store.
func StoreSource(s order.Store) Source { return storeSource{store: s} }

func (s storeSource) Fetch(ctx context.Context, id types.ID) (*order.Order, error) {
	return s.store.Get(ctx, id)
}

type storeWatcher struct {
	store order.Store
}

// StoreWatcher subscribes to an order store and filters to the watched ids.
func StoreWatcher(s order.Store) Watcher { return storeWatcher{store: s} }

func (w storeWatcher) Watch(ctx context.Context, ids []types.ID, fn func([]*order.Order)) (func(), error) {
	want := make(map[types.ID]bool, len(ids))
	for _, id := range ids {
		want[id] = true
	}
	return w.store.Subscribe(ctx, 0, func(all []*order.Order) {
		fn(filterOrders(all, want))
	})
}

func filterOrders(all []*order.Order, want map[types.ID]bool) []*order.Order {
	out := make([]*order.Order, 0, len(want))
	for _, o := range all {
		if want[o.ID] {
			out = append(out, o)
		}
	}
	return out
}
