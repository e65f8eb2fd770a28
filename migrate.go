// migrate.go
//
// `feihualing migrate`: applies pending SQL migrations and exits.

package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Apply database migrations",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return fmt.Errorf("load config: %w", err)
		}
		db, err := openDB(cmd.Context(), cfg)
		if err != nil {
			return err
		}
		return db.Close()
	},
}
