// internal/corpus/sqlite.go
//
// SQLite-backed corpus service.
// Responsibilities:
//   - Ensure the poetry/sentence schema exists.
//   - Seed an empty corpus from embedded sample poems (optional).
//   - Substring lookup with an exclusion set, random order, and a row limit.
//   - Load a full work with its lines ordered by position.
//
// Notes:
//   - Containment uses instr() so that LIKE wildcards in user input are inert.
//   - Queries fail with ErrNotInitialized until Initialize has succeeded.

package corpus

import (
	"bytes"
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"sync/atomic"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"github.com/rs/zerolog/log"

	"github.com/robalobadob/feihualing/internal/metrics"
)

const schema = `
CREATE TABLE IF NOT EXISTS poetry (
    poetry_id INTEGER PRIMARY KEY AUTOINCREMENT,
    author    TEXT NOT NULL,
    title     TEXT NOT NULL
);
CREATE TABLE IF NOT EXISTS sentence (
    sentence_id  INTEGER PRIMARY KEY AUTOINCREMENT,
    poetry_id    INTEGER NOT NULL,
    poetry_index INTEGER NOT NULL,
    content      TEXT NOT NULL,
    FOREIGN KEY (poetry_id) REFERENCES poetry (poetry_id)
);
CREATE INDEX IF NOT EXISTS idx_sentence_poetry ON sentence (poetry_id, poetry_index);
`

// SQLite implements Service on a *sql.DB opened with the sqlite3 driver.
type SQLite struct {
	db    *sql.DB
	seed  []byte
	ready atomic.Bool
}

// SQLiteOption configures a SQLite corpus.
type SQLiteOption func(*SQLite)

// WithSeed supplies a JSON poem document imported when the corpus is empty.
func WithSeed(data []byte) SQLiteOption {
	return func(s *SQLite) { s.seed = data }
}

// NewSQLite wraps db. Call Initialize before querying.
func NewSQLite(db *sql.DB, opts ...SQLiteOption) *SQLite {
	s := &SQLite{db: db}
	for _, o := range opts {
		o(s)
	}
	return s
}

// Initialize creates the schema and seeds an empty corpus.
func (s *SQLite) Initialize(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("create corpus schema: %w", err)
	}

	var n int
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(1) FROM sentence`).Scan(&n); err != nil {
		return fmt.Errorf("count sentences: %w", err)
	}
	if n == 0 && len(s.seed) > 0 {
		poems, err := ReadPoems(bytes.NewReader(s.seed))
		if err != nil {
			return fmt.Errorf("read seed: %w", err)
		}
		st, err := Import(ctx, s.db, poems)
		if err != nil {
			return fmt.Errorf("import seed: %w", err)
		}
		log.Info().Int("works", st.Works).Int("entries", st.Entries).Msg("seeded empty corpus")
	} else {
		log.Info().Int("entries", n).Msg("corpus ready")
	}

	s.ready.Store(true)
	return nil
}

// QueryEntries implements Querier.
func (s *SQLite) QueryEntries(ctx context.Context, substring string, excludeIDs []int64, limit int) (out []Entry, err error) {
	if !s.ready.Load() {
		return nil, ErrNotInitialized
	}
	defer func(start time.Time) { metrics.ObserveLookup("query_entries", start, err) }(time.Now())

	if limit <= 0 {
		limit = DefaultLimit
	}

	var sb strings.Builder
	args := make([]any, 0, len(excludeIDs)+2)
	sb.WriteString(`SELECT sentence_id, poetry_id, poetry_index, content
	                FROM sentence
	                WHERE instr(content, ?) > 0`)
	args = append(args, substring)
	if len(excludeIDs) > 0 {
		sb.WriteString(` AND sentence_id NOT IN (`)
		for i, id := range excludeIDs {
			if i > 0 {
				sb.WriteByte(',')
			}
			sb.WriteByte('?')
			args = append(args, id)
		}
		sb.WriteByte(')')
	}
	sb.WriteString(` ORDER BY RANDOM() LIMIT ?`)
	args = append(args, limit)

	rows, err := s.db.QueryContext(ctx, sb.String(), args...)
	if err != nil {
		return nil, fmt.Errorf("query entries: %w", err)
	}
	defer rows.Close()

	out = make([]Entry, 0, limit)
	for rows.Next() {
		var e Entry
		if err := rows.Scan(&e.ID, &e.WorkID, &e.Index, &e.Content); err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

// GetWorkByID implements Service.
func (s *SQLite) GetWorkByID(ctx context.Context, id int64) (w Work, err error) {
	if !s.ready.Load() {
		return Work{}, ErrNotInitialized
	}
	defer func(start time.Time) {
		if errors.Is(err, ErrNotFound) {
			metrics.ObserveLookup("get_work", start, nil)
			return
		}
		metrics.ObserveLookup("get_work", start, err)
	}(time.Now())

	err = s.db.QueryRowContext(ctx,
		`SELECT poetry_id, author, title FROM poetry WHERE poetry_id=?`, id,
	).Scan(&w.ID, &w.Author, &w.Title)
	if errors.Is(err, sql.ErrNoRows) {
		return Work{}, ErrNotFound
	}
	if err != nil {
		return Work{}, fmt.Errorf("get work %d: %w", id, err)
	}

	rows, err := s.db.QueryContext(ctx,
		`SELECT content FROM sentence WHERE poetry_id=? ORDER BY poetry_index`, id)
	if err != nil {
		return Work{}, fmt.Errorf("get lines of %d: %w", id, err)
	}
	defer rows.Close()

	w.Lines = []string{}
	for rows.Next() {
		var line string
		if err := rows.Scan(&line); err != nil {
			return Work{}, err
		}
		w.Lines = append(w.Lines, line)
	}
	return w, rows.Err()
}
