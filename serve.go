// serve.go
//
// `feihualing serve`: corpus + character list + engine registry behind the
// HTTP API, with graceful shutdown on SIGINT/SIGTERM.

package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/robalobadob/feihualing/assets"
	"github.com/robalobadob/feihualing/internal/chars"
	"github.com/robalobadob/feihualing/internal/corpus"
	"github.com/robalobadob/feihualing/internal/httpserver"
	"github.com/robalobadob/feihualing/internal/store"
)

const shutdownTimeout = 10 * time.Second

var servePort string

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the HTTP API",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return fmt.Errorf("load config: %w", err)
		}
		if servePort != "" {
			cfg.Port = servePort
		}

		ctx := cmd.Context()
		db, err := openDB(ctx, cfg)
		if err != nil {
			return err
		}
		defer db.Close()

		var seed []byte
		if cfg.CorpusSeedFile != "" {
			seed, err = os.ReadFile(cfg.CorpusSeedFile)
		} else {
			seed, err = assets.SeedPoems()
		}
		if err != nil {
			return fmt.Errorf("read corpus seed: %w", err)
		}
		c := corpus.NewSQLite(db, corpus.WithSeed(seed))
		if err := c.Initialize(ctx); err != nil {
			return fmt.Errorf("initialize corpus: %w", err)
		}

		cl, err := chars.Load(cfg.CharsFile)
		if err != nil {
			return fmt.Errorf("load characters: %w", err)
		}

		srv := httpserver.New(cfg, store.NewMemoryStore(), db, c, cl)

		errc := make(chan error, 1)
		go func() {
			log.Info().Str("port", cfg.Port).Msg("starting feihualing server")
			errc <- srv.Start(":" + cfg.Port)
		}()

		sig := make(chan os.Signal, 1)
		signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
		defer signal.Stop(sig)

		select {
		case err := <-errc:
			return err
		case s := <-sig:
			log.Info().Str("signal", s.String()).Msg("shutting down")
		}

		sctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		return srv.Shutdown(sctx)
	},
}

func init() {
	serveCmd.Flags().StringVar(&servePort, "port", "", "listen port (overrides PORT)")
}
