// import.go
//
// `feihualing import FILE...`: loads poem JSON documents
// ({author,title,paragraphs} or a list of them) into the corpus tables.

package main

import (
	"context"
	"database/sql"
	"fmt"
	"os"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/robalobadob/feihualing/internal/corpus"
)

var importCmd = &cobra.Command{
	Use:   "import FILE...",
	Short: "Import poem JSON files into the corpus",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return fmt.Errorf("load config: %w", err)
		}
		ctx := cmd.Context()
		db, err := openDB(ctx, cfg)
		if err != nil {
			return err
		}
		defer db.Close()

		// Creates the corpus tables; no seed so the import lands in an empty corpus as-is.
		if err := corpus.NewSQLite(db).Initialize(ctx); err != nil {
			return fmt.Errorf("initialize corpus: %w", err)
		}

		var total corpus.ImportStats
		for _, path := range args {
			st, err := importFile(ctx, db, path)
			if err != nil {
				return fmt.Errorf("%s: %w", path, err)
			}
			log.Info().Str("file", path).Int("works", st.Works).Int("entries", st.Entries).
				Int("skipped", st.Skipped).Msg("imported")
			total.Works += st.Works
			total.Entries += st.Entries
			total.Skipped += st.Skipped
		}
		fmt.Fprintf(cmd.OutOrStdout(), "imported %d works, %d lines (%d skipped)\n",
			total.Works, total.Entries, total.Skipped)
		return nil
	},
}

func importFile(ctx context.Context, db *sql.DB, path string) (corpus.ImportStats, error) {
	f, err := os.Open(path)
	if err != nil {
		return corpus.ImportStats{}, err
	}
	defer f.Close()
	poems, err := corpus.ReadPoems(f)
	if err != nil {
		return corpus.ImportStats{}, err
	}
	return corpus.Import(ctx, db, poems)
}
