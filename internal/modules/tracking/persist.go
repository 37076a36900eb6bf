// README: File persister; the device-local store for the tracked set.
package tracking

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
)

// StateKey is the entry holding the tracked orders inside the state file.
const StateKey = "turboActiveOrders"

// FilePersister keeps the tracked set in a JSON file shaped like
// {"turboActiveOrders": [...]}. Writes go through a temp file and a rename.
type FilePersister struct {
	mu   sync.Mutex
	path string
}

func NewFilePersister(path string) *FilePersister {
	return &FilePersister{path: path}
}

// Load returns the saved set. A missing file is an empty set; a corrupt one
// is reported so the caller can log it and start over.
func (p *FilePersister) Load() ([]TrackedOrder, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	b, err := os.ReadFile(p.path)
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	var state map[string]json.RawMessage
	if err := json.Unmarshal(b, &state); err != nil {
		return nil, fmt.Errorf("parse %s: %w", p.path, err)
	}
	raw, ok := state[StateKey]
	if !ok {
		return nil, nil
	}
	var orders []TrackedOrder
	if err := json.Unmarshal(raw, &orders); err != nil {
		return nil, fmt.Errorf("parse %s in %s: %w", StateKey, p.path, err)
	}
	return orders, nil
}

func (p *FilePersister) Save(orders []TrackedOrder) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if orders == nil {
		orders = []TrackedOrder{}
	}
	b, err := json.MarshalIndent(map[string]any{StateKey: orders}, "", "  ")
	if err != nil {
		return err
	}
	if dir := filepath.Dir(p.path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return err
		}
	}
	tmp := p.path + ".tmp"
	if err := os.WriteFile(tmp, b, 0o600); err != nil {
		return err
	}
	return os.Rename(tmp, p.path)
}

// MemoryPersister keeps the last saved set in memory.
type MemoryPersister struct {
	mu     sync.Mutex
	orders []TrackedOrder
	saves  int
}

func (p *MemoryPersister) Load() ([]TrackedOrder, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]TrackedOrder(nil), p.orders...), nil
}

func (p *MemoryPersister) Save(orders []TrackedOrder) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.orders = append([]TrackedOrder(nil), orders...)
	p.saves++
	return nil
}

// Saves reports how many times the set was written.
func (p *MemoryPersister) Saves() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.saves
}
