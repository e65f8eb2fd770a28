// main.go
//
// Entry point for the feihualing game server.
// Commands:
//   - serve    HTTP API (default when no command is given)
//   - import   load poem JSON files into the corpus database
//   - migrate  apply embedded SQL migrations and exit
//
// Configuration comes from the environment / .env (internal/config);
// --db and --port override DB_PATH and PORT.

package main

import (
	"context"
	"database/sql"
	"fmt"
	"os"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/robalobadob/feihualing/assets"
	"github.com/robalobadob/feihualing/internal/config"
	"github.com/robalobadob/feihualing/internal/sqlitedb"
)

var (
	envFile string
	dbPath  string
)

var rootCmd = &cobra.Command{
	Use:           "feihualing",
	Short:         "Flying-flower poetry game server",
	SilenceUsage:  true,
	SilenceErrors: true,
	RunE:          func(cmd *cobra.Command, args []string) error { return serveCmd.RunE(cmd, args) },
}

func init() {
	rootCmd.PersistentFlags().StringVar(&envFile, "env-file", ".env", "dotenv file to load before reading the environment")
	rootCmd.PersistentFlags().StringVar(&dbPath, "db", "", "SQLite database path (overrides DB_PATH)")
	rootCmd.AddCommand(serveCmd, importCmd, migrateCmd)
}

func main() {
	if err := rootCmd.ExecuteContext(context.Background()); err != nil {
		log.Fatal().Err(err).Msg("feihualing exited")
	}
}

// loadConfig reads configuration and sets up the global logger.
func loadConfig() (*config.Config, error) {
	cfg, err := config.Load(envFile)
	if err != nil {
		return nil, err
	}
	if dbPath != "" {
		cfg.DBPath = dbPath
	}
	setupLogger(cfg)
	return cfg, nil
}

func setupLogger(cfg *config.Config) {
	if lvl, err := zerolog.ParseLevel(cfg.LogLevel); err == nil {
		zerolog.SetGlobalLevel(lvl)
	}
	if cfg.LogFormat == "console" {
		log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})
	}
}

// openDB opens the database and applies pending migrations.
func openDB(ctx context.Context, cfg *config.Config) (*sql.DB, error) {
	db, err := sqlitedb.Open(cfg.DBPath)
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}
	n, err := sqlitedb.Migrate(ctx, db, assets.Migrations())
	if err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}
	log.Info().Str("path", cfg.DBPath).Int("applied", n).Msg("database ready")
	return db, nil
}
