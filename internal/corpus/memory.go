// internal/corpus/memory.go
//
// In-memory implementation of Service.
// Used by tests and for running the server without a database file.
//
// Characteristics:
//   - Work and entry IDs are assigned sequentially from 1 in input order.
//   - Query results keep corpus order unless shuffling is enabled.
//   - Concurrency-safe: the data is immutable after construction.

package corpus

import (
	"context"
	"math/rand"
	"strings"
	"sync/atomic"

	"github.com/samber/lo"
)

// Memory is a slice-backed corpus.
type Memory struct {
	entries []Entry
	works   map[int64]Work
	shuffle bool
	ready   atomic.Bool
}

// NewMemory builds a corpus from poems. With shuffle set, query results are
// returned in random order like the SQLite implementation.
func NewMemory(poems []Poem, shuffle bool) *Memory {
	m := &Memory{works: make(map[int64]Work, len(poems)), shuffle: shuffle}
	var nextEntry int64 = 1
	for i, p := range poems {
		wid := int64(i + 1)
		w := Work{ID: wid, Author: p.Author, Title: p.Title, Lines: []string{}}
		for _, line := range p.Paragraphs {
			line = normalizeLine(line)
			if line == "" {
				continue
			}
			m.entries = append(m.entries, Entry{ID: nextEntry, Content: line, WorkID: wid, Index: len(w.Lines)})
			w.Lines = append(w.Lines, line)
			nextEntry++
		}
		m.works[wid] = w
	}
	return m
}

// Initialize marks the corpus ready.
func (m *Memory) Initialize(context.Context) error {
	m.ready.Store(true)
	return nil
}

// QueryEntries implements Querier.
func (m *Memory) QueryEntries(_ context.Context, substring string, excludeIDs []int64, limit int) ([]Entry, error) {
	if !m.ready.Load() {
		return nil, ErrNotInitialized
	}
	if limit <= 0 {
		limit = DefaultLimit
	}
	excluded := lo.Associate(excludeIDs, func(id int64) (int64, struct{}) { return id, struct{}{} })
	matches := lo.Filter(m.entries, func(e Entry, _ int) bool {
		_, skip := excluded[e.ID]
		return !skip && strings.Contains(e.Content, substring)
	})
	if m.shuffle {
		rand.Shuffle(len(matches), func(i, j int) { matches[i], matches[j] = matches[j], matches[i] })
	}
	if len(matches) > limit {
		matches = matches[:limit]
	}
	return matches, nil
}

// GetWorkByID implements Service.
func (m *Memory) GetWorkByID(_ context.Context, id int64) (Work, error) {
	if !m.ready.Load() {
		return Work{}, ErrNotInitialized
	}
	w, ok := m.works[id]
	if !ok {
		return Work{}, ErrNotFound
	}
	w.Lines = append([]string(nil), w.Lines...)
	return w, nil
}
