// internal/corpus/types.go
//
// Type definitions and service contract for the poetry corpus.
// Defines:
//   - Entry: a single poetry line, the unit played each turn.
//   - Work: a full poem with its lines in order.
//   - Querier / Service: the lookup contract consumed by the game engine.

package corpus

import (
	"context"
	"errors"
)

// DefaultLimit is the page size used when a caller passes limit <= 0.
const DefaultLimit = 10

var (
	// ErrNotFound is returned by GetWorkByID for an unknown work identifier.
	ErrNotFound = errors.New("corpus: work not found")
	// ErrNotInitialized is returned when a query is issued before Initialize succeeded.
	ErrNotInitialized = errors.New("corpus: not initialized")
)

// Entry is one line of a poem. Entries are immutable once read from the corpus.
type Entry struct {
	ID      int64  `json:"id"`
	Content string `json:"content"`
	WorkID  int64  `json:"workId"`
	Index   int    `json:"index"` // position within the parent work
}

// Work is a full poem.
type Work struct {
	ID     int64    `json:"id"`
	Author string   `json:"author"`
	Title  string   `json:"title"`
	Lines  []string `json:"lines"`
}

// Querier is the lookup half of the service; it is all the game engine needs.
type Querier interface {
	// QueryEntries returns up to limit entries whose content contains substring,
	// skipping any entry whose ID is in excludeIDs. Ordering is implementation
	// defined. Nothing matching yields an empty slice, not an error.
	QueryEntries(ctx context.Context, substring string, excludeIDs []int64, limit int) ([]Entry, error)
}

// Service is the full corpus contract.
type Service interface {
	Querier

	// GetWorkByID returns the work or ErrNotFound.
	GetWorkByID(ctx context.Context, id int64) (Work, error)

	// Initialize prepares the service. It must return before any query is
	// issued; a failure is terminal for callers.
	Initialize(ctx context.Context) error
}
