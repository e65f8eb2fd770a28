// internal/httpserver/server.go
//
// HTTP server wiring for the feihualing backend.
// Responsibilities:
//   - Router + middleware (JSON, CORS, timeouts, panic recovery, request IDs).
//   - Public endpoints: "/", "/health", "/metrics".
//   - Game endpoints (optional auth): mounted under /game (routes_game.go).
//   - Corpus endpoints: /works/{id}, /chars/recommended (routes_corpus.go).
//   - Daily Challenge endpoints (optional auth): mounted under /daily.
//   - Auth + profile/stat endpoints (auth.go): /auth/*, /stats/me, /games/mine.
//
// Notes:
//   - CORS is origin-aware and credentials-enabled (so cookies work).
//   - The websocket route sits outside the request timeout.

package httpserver

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog/log"

	"github.com/robalobadob/feihualing/internal/chars"
	"github.com/robalobadob/feihualing/internal/config"
	"github.com/robalobadob/feihualing/internal/corpus"
	"github.com/robalobadob/feihualing/internal/daily"
	"github.com/robalobadob/feihualing/internal/game"
	"github.com/robalobadob/feihualing/internal/history"
	"github.com/robalobadob/feihualing/internal/store"
)

const requestTimeout = 10 * time.Second

// Server bundles router, live engines, corpus and DB-backed stores.
type Server struct {
	r       *chi.Mux
	cfg     *config.Config
	store   store.Store
	db      *sql.DB
	corpus  corpus.Service
	chars   *chars.List
	history *history.Store
	daily   *daily.Store

	engineOpts []game.Option
	wsPoll     time.Duration
	upgrader   websocket.Upgrader

	// live maps an owner slot (regular or daily) to the ID of its current
	// game, so a new game retires the previous engine. dailyGames marks the
	// engines started as a daily challenge.
	mu         sync.Mutex
	live       map[string]string
	dailyGames map[string]*dailyEntry

	http *http.Server
}

// Option configures a Server.
type Option func(*Server)

// WithEngineOptions appends options applied to every engine the server creates.
func WithEngineOptions(opts ...game.Option) Option {
	return func(s *Server) { s.engineOpts = append(s.engineOpts, opts...) }
}

// WithWSPoll sets how often the websocket stream checks for state changes.
func WithWSPoll(d time.Duration) Option { return func(s *Server) { s.wsPoll = d } }

// New constructs a Server, installs middleware, and registers routes.
func New(cfg *config.Config, st store.Store, db *sql.DB, c corpus.Service, cl *chars.List, opts ...Option) *Server {
	s := &Server{
		r:       chi.NewRouter(),
		cfg:     cfg,
		store:   st,
		db:      db,
		corpus:  c,
		chars:   cl,
		history: history.New(db),
		daily:   daily.NewStore(db),
		wsPoll:  500 * time.Millisecond,
		live:    make(map[string]string),

		dailyGames: make(map[string]*dailyEntry),
	}
	s.upgrader = websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin: func(r *http.Request) bool {
			o := r.Header.Get("Origin")
			return o == "" || o == cfg.ClientOrigin
		},
	}
	for _, o := range opts {
		o(s)
	}

	// --- middleware ---
	s.r.Use(chimw.RequestID) // add X-Request-ID
	s.r.Use(chimw.RealIP)    // set RemoteAddr from X-Forwarded-For etc.
	s.r.Use(chimw.Recoverer) // recover from panics
	s.r.Use(s.cors)          // credentials-friendly CORS

	s.r.Handle("/metrics", promhttp.Handler())
	s.r.With(s.withOptionalAuth()).Get("/game/{id}/ws", s.handleGameStream)

	s.r.Group(func(r chi.Router) {
		r.Use(chimw.Timeout(requestTimeout)) // bound handler time
		r.Use(jsonContentType)               // default JSON responses

		r.Get("/", func(w http.ResponseWriter, r *http.Request) {
			_, _ = w.Write([]byte(`{"service":"feihualing-go","endpoints":["/health","/chars/recommended","POST /game/new","/works/{id}","/daily/*","/auth/*"]}`))
		})
		r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
			_, _ = w.Write([]byte(`{"ok":true}`))
		})

		// Game endpoints: optional auth (guests can play)
		s.mountGame(r.With(s.withOptionalAuth()))

		// Corpus lookups
		s.mountCorpus(r)

		// Daily challenge: optional auth, result persisted on finish
		s.mountDaily(r.With(s.withOptionalAuth()))

		// Auth + profile/stats
		s.mountAuthRoutes(r)

		// JSON 404 for easier debugging
		r.NotFound(func(w http.ResponseWriter, r *http.Request) {
			writeJSON(w, http.StatusNotFound, map[string]string{"error": "not_found", "path": r.URL.Path})
		})
	})

	return s
}

// Start begins serving HTTP on addr. It returns nil after Shutdown.
func (s *Server) Start(addr string) error {
	s.http = &http.Server{Addr: addr, Handler: s.r, ReadHeaderTimeout: 5 * time.Second}
	err := s.http.ListenAndServe()
	if errors.Is(err, http.ErrServerClosed) {
		return nil
	}
	return err
}

// Shutdown stops accepting requests, then closes every live engine.
func (s *Server) Shutdown(ctx context.Context) error {
	var err error
	if s.http != nil {
		err = s.http.Shutdown(ctx)
	}
	s.store.Close()
	return err
}

// Router exposes the internal router (useful for tests).
func (s *Server) Router() chi.Router { return s.r }

// ----------------------------- middleware ----------------------------------

// jsonContentType sets a default JSON Content-Type header on all responses.
func jsonContentType(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json; charset=utf-8")
		next.ServeHTTP(w, r)
	})
}

// cors enables credentialed CORS for the configured CLIENT_ORIGIN.
func (s *Server) cors(next http.Handler) http.Handler {
	origin := s.cfg.ClientOrigin
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Vary", "Origin")
		w.Header().Set("Access-Control-Allow-Origin", origin)
		w.Header().Set("Access-Control-Allow-Credentials", "true")
		w.Header().Set("Access-Control-Allow-Methods", "GET,POST,OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// ------------------------------- small util --------------------------------

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Debug().Err(err).Msg("write response")
	}
}

// writeError writes {"error": msg}.
func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
