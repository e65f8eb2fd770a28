// internal/store/memory.go
//
// In-memory registry of live game engines.
// Engines own running countdown timers, so they cannot be serialized away;
// the registry keeps them addressable by ID for the HTTP layer.
//
// Characteristics:
//   - Stores *game.Engine objects keyed by ID in a map.
//   - Concurrency-safe via RWMutex (concurrent reads allowed, writes exclusive).
//   - Delete closes the engine (stops its timer, waits for background work).
//   - State is lost when the process restarts; finished games live on in history.

package store

import (
	"context"
	"errors"
	"sync"

	"github.com/robalobadob/feihualing/internal/game"
	"github.com/robalobadob/feihualing/internal/metrics"
)

// ErrNotFound is returned by Get for an unknown game ID.
var ErrNotFound = errors.New("store: game not found")

// Store defines the registry interface for game engines.
type Store interface {
	// Save adds or replaces an engine under its ID.
	Save(ctx context.Context, e *game.Engine) error

	// Get retrieves an engine by ID, or ErrNotFound.
	Get(ctx context.Context, id string) (*game.Engine, error)

	// Delete closes and removes an engine. Unknown IDs are ignored.
	Delete(ctx context.Context, id string) error

	// Close closes every engine.
	Close()
}

// memory is an in-memory map-based Store implementation.
type memory struct {
	mu      sync.RWMutex
	engines map[string]*game.Engine
}

// NewMemoryStore constructs a new in-memory Store.
func NewMemoryStore() Store {
	return &memory{engines: make(map[string]*game.Engine)}
}

func (m *memory) Save(_ context.Context, e *game.Engine) error {
	m.mu.Lock()
	prev, replaced := m.engines[e.ID()]
	m.engines[e.ID()] = e
	m.mu.Unlock()

	if !replaced {
		metrics.ActiveGames.Inc()
	} else if prev != e {
		prev.Close()
	}
	return nil
}

func (m *memory) Get(_ context.Context, id string) (*game.Engine, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if e, ok := m.engines[id]; ok {
		return e, nil
	}
	return nil, ErrNotFound
}

func (m *memory) Delete(_ context.Context, id string) error {
	m.mu.Lock()
	e, ok := m.engines[id]
	delete(m.engines, id)
	m.mu.Unlock()

	if ok {
		metrics.ActiveGames.Dec()
		e.Close()
	}
	return nil
}

func (m *memory) Close() {
	m.mu.Lock()
	all := m.engines
	m.engines = make(map[string]*game.Engine)
	m.mu.Unlock()

	for _, e := range all {
		metrics.ActiveGames.Dec()
		e.Close()
	}
}
