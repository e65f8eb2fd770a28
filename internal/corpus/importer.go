// internal/corpus/importer.go
//
// Loads poems from JSON into the SQLite corpus schema.
//
// Input format is the chinese-poetry layout: either a single object or an
// array of objects shaped {"author": "...", "title": "...", "paragraphs": [...]}.
// Every paragraph becomes one row of the sentence table, indexed by position.

package corpus

import (
	"bytes"
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"io"
	"strings"

	"github.com/rs/zerolog/log"
	"golang.org/x/text/unicode/norm"
)

// Poem is the import shape of a work.
type Poem struct {
	Author     string   `json:"author"`
	Title      string   `json:"title"`
	Paragraphs []string `json:"paragraphs"`
}

// ImportStats reports how many rows an import wrote.
type ImportStats struct {
	Works   int
	Entries int
	Skipped int
}

// ReadPoems decodes a JSON document holding one poem or a list of poems.
func ReadPoems(r io.Reader) ([]Poem, error) {
	raw, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("read poems: %w", err)
	}
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 {
		return nil, nil
	}
	if raw[0] == '[' {
		var list []Poem
		if err := json.Unmarshal(raw, &list); err != nil {
			return nil, fmt.Errorf("decode poem list: %w", err)
		}
		return list, nil
	}
	var one Poem
	if err := json.Unmarshal(raw, &one); err != nil {
		return nil, fmt.Errorf("decode poem: %w", err)
	}
	return []Poem{one}, nil
}

// normalizeLine trims whitespace and puts the line into NFC so that player
// input and stored content compare byte-for-byte.
func normalizeLine(s string) string {
	return norm.NFC.String(strings.TrimSpace(s))
}

// Import writes poems into db inside a single transaction. Poems without an
// author or title are skipped, as are empty paragraphs.
func Import(ctx context.Context, db *sql.DB, poems []Poem) (ImportStats, error) {
	var st ImportStats
	if _, err := db.ExecContext(ctx, schema); err != nil {
		return st, fmt.Errorf("create corpus schema: %w", err)
	}

	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return st, err
	}
	defer func() { _ = tx.Rollback() }()

	for _, p := range poems {
		author, title := strings.TrimSpace(p.Author), strings.TrimSpace(p.Title)
		if author == "" || title == "" {
			st.Skipped++
			log.Warn().Str("title", p.Title).Msg("skip poem without author/title")
			continue
		}
		res, err := tx.ExecContext(ctx, `INSERT INTO poetry (author, title) VALUES (?, ?)`, author, title)
		if err != nil {
			return st, fmt.Errorf("insert poetry %q: %w", title, err)
		}
		workID, err := res.LastInsertId()
		if err != nil {
			return st, err
		}
		idx := 0
		for _, line := range p.Paragraphs {
			line = normalizeLine(line)
			if line == "" {
				continue
			}
			if _, err := tx.ExecContext(ctx,
				`INSERT INTO sentence (poetry_id, poetry_index, content) VALUES (?, ?, ?)`,
				workID, idx, line,
			); err != nil {
				return st, fmt.Errorf("insert sentence of %q: %w", title, err)
			}
			idx++
			st.Entries++
		}
		st.Works++
		log.Debug().Str("author", author).Str("title", title).Int("lines", idx).Msg("imported")
	}

	if err := tx.Commit(); err != nil {
		return st, fmt.Errorf("commit import: %w", err)
	}
	return st, nil
}
