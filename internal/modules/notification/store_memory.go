// README: In-memory notification store.
package notification

import (
	"context"
	"sort"
	"sync"
	"time"
)

type MemoryStore struct {
	mu    sync.Mutex
	items []*Notification
	now   func() time.Time
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{now: time.Now}
}

func (s *MemoryStore) Create(_ context.Context, n *Notification) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if n.CreatedAt.IsZero() {
		n.CreatedAt = s.now()
	}
	cp := *n
	s.items = append(s.items, &cp)
	return nil
}

func (s *MemoryStore) ListUnread(_ context.Context) ([]*Notification, error) {
	out := s.filter(func(n *Notification) bool { return !n.IsRead })
	sortNewestFirst(out)
	return out, nil
}

func (s *MemoryStore) ListByType(_ context.Context, t Type, start, end time.Time) ([]*Notification, error) {
	out := s.filter(func(n *Notification) bool {
		return n.Type == t && !n.CreatedAt.Before(start) && !n.CreatedAt.After(end)
	})
	sort.SliceStable(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

func (s *MemoryStore) MarkRead(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, n := range s.items {
		if n.ID == id {
			n.IsRead = true
			return nil
		}
	}
	return ErrNotFound
}

// All returns every notification in insertion order.
func (s *MemoryStore) All() []*Notification {
	return s.filter(func(*Notification) bool { return true })
}

func (s *MemoryStore) filter(keep func(*Notification) bool) []*Notification {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]*Notification, 0, len(s.items))
	for _, n := range s.items {
		if keep(n) {
			cp := *n
			out = append(out, &cp)
		}
	}
	return out
}

func sortNewestFirst(ns []*Notification) {
	sort.SliceStable(ns, func(i, j int) bool { return ns[i].CreatedAt.After(ns[j].CreatedAt) })
}
