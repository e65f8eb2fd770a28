// internal/httpserver/routes_game.go
//
// HTTP routes driving a game engine.
//   - POST /game/new            → create an engine, start it, play the opening move
//   - GET  /game/{id}           → current snapshot
//   - POST /game/{id}/opponent  → opponent's move
//   - POST /game/{id}/player    → player's line
//   - POST /game/{id}/end       → end with a declared winner
//   - POST /game/{id}/reset     → back to ready
//   - GET  /game/{id}/ws        → snapshot stream while the countdown runs
//
// Turn failures are values: they come back with 200 and success=false.
// A game answers only to its owner (user or anonymous cookie); anyone else
// gets 404. Each owner has one live regular engine and one live daily
// engine; starting a new one retires the previous engine in the same slot.

package httpserver

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"

	"github.com/robalobadob/feihualing/internal/chars"
	"github.com/robalobadob/feihualing/internal/daily"
	"github.com/robalobadob/feihualing/internal/game"
	"github.com/robalobadob/feihualing/internal/history"
	"github.com/robalobadob/feihualing/internal/store"
)

const persistTimeout = 5 * time.Second

func (s *Server) mountGame(r chi.Router) {
	r.Post("/game/new", s.handleNewGame)
	r.Get("/game/{id}", s.withEngine(s.handleState))
	r.Post("/game/{id}/opponent", s.withEngine(s.handleOpponent))
	r.Post("/game/{id}/player", s.withEngine(s.handlePlayer))
	r.Post("/game/{id}/end", s.withEngine(s.handleEnd))
	r.Post("/game/{id}/reset", s.withEngine(s.handleReset))
}

type engineHandler func(w http.ResponseWriter, r *http.Request, e *game.Engine)

// withEngine resolves {id} to a live engine owned by the caller.
func (s *Server) withEngine(h engineHandler) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		e, status, msg := s.ownedEngine(r, chi.URLParam(r, "id"))
		if e == nil {
			writeError(w, status, msg)
			return
		}
		h(w, r, e)
	}
}

// ownedEngine looks up a live engine and checks the recorded owner. Games
// of other owners are reported as not found.
func (s *Server) ownedEngine(r *http.Request, id string) (*game.Engine, int, string) {
	e, err := s.store.Get(r.Context(), id)
	if errors.Is(err, store.ErrNotFound) {
		return nil, http.StatusNotFound, "not_found"
	}
	if err != nil {
		return nil, http.StatusInternalServerError, "store_error"
	}
	o, err := s.history.Owner(r.Context(), id)
	if errors.Is(err, history.ErrNotFound) {
		return nil, http.StatusNotFound, "not_found"
	}
	if err != nil {
		log.Error().Err(err).Str("gameId", id).Msg("game owner")
		return nil, http.StatusInternalServerError, "db_error"
	}
	if !isOwner(r, o) {
		return nil, http.StatusNotFound, "not_found"
	}
	return e, 0, ""
}

// isOwner matches the caller's account or anonymous cookie against o.
func isOwner(r *http.Request, o history.Owner) bool {
	if me := currentUser(r); me != nil && o.UserID == me.ID {
		return true
	}
	c, err := r.Cookie(anonCookieName)
	return err == nil && c.Value != "" && o.AnonID == c.Value
}

// owner returns the signed-in user or the anonymous cookie.
func (s *Server) owner(w http.ResponseWriter, r *http.Request) history.Owner {
	if me := currentUser(r); me != nil {
		return history.Owner{UserID: me.ID}
	}
	return history.Owner{AnonID: s.ensureAnonID(w, r)}
}

func ownerKey(o history.Owner) string {
	if o.UserID != "" {
		return "u:" + o.UserID
	}
	return "a:" + o.AnonID
}

func dailySlot(o history.Owner) string { return "daily|" + ownerKey(o) }

// ------------------------------ new game -----------------------------------

type newGameReq struct {
	LimitChar string              `json:"limitChar"`
	Settings  *game.SettingsPatch `json:"settings,omitempty"`
}

type newGameRes struct {
	GameID  string           `json:"gameId"`
	State   game.Session     `json:"state"`
	Opening *game.TurnResult `json:"opening,omitempty"`
	Date    string           `json:"date,omitempty"` // daily games only
}

func (s *Server) handleNewGame(w http.ResponseWriter, r *http.Request) {
	var req newGameReq
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "bad_json")
		return
	}
	limitChar := chars.Normalize(req.LimitChar)
	if limitChar == "" {
		writeError(w, http.StatusBadRequest, "limit_char_required")
		return
	}
	o := s.owner(w, r)
	res, err := s.startGame(r.Context(), o, ownerKey(o), limitChar, req.Settings, nil)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "save_failed")
		return
	}
	_ = json.NewEncoder(w).Encode(res)
}

// dailyEntry marks a game played as the daily challenge.
type dailyEntry struct {
	userID string
	date   string
	start  time.Time
}

// startGame creates an engine for o, starts it on limitChar, registers it
// in slot and plays the opening move when the opponent moves first. The
// history row is written first since it records who may drive the game.
func (s *Server) startGame(ctx context.Context, o history.Owner, slot, limitChar string, patch *game.SettingsPatch, d *dailyEntry) (newGameRes, error) {
	opts := append([]game.Option{
		game.WithSettings(s.defaultSettings()),
		game.WithOnEnd(func(sess game.Session) { s.persistEnd(sess, d) }),
	}, s.engineOpts...)
	e := game.New(s.corpus, opts...)

	sess := e.StartNewGame(limitChar, patch)
	if err := s.history.Start(ctx, o, sess); err != nil {
		log.Error().Err(err).Str("gameId", e.ID()).Msg("insert game row")
		e.Close()
		return newGameRes{}, err
	}
	if err := s.store.Save(ctx, e); err != nil {
		log.Error().Err(err).Msg("save game")
		e.Close()
		return newGameRes{}, err
	}
	if d != nil {
		s.mu.Lock()
		s.dailyGames[e.ID()] = d
		s.mu.Unlock()
	}
	s.retire(ctx, slot, e.ID())

	out := newGameRes{GameID: e.ID()}
	if game.FirstTurn == game.SideOpponent {
		res := e.OpponentTurn(ctx)
		out.Opening = &res
	}
	out.State = e.State()
	return out, nil
}

func (s *Server) defaultSettings() game.Settings {
	st := game.DefaultSettings()
	if d := game.Difficulty(s.cfg.GameDifficulty); d.Valid() {
		st.Difficulty = d
	}
	if s.cfg.GameTimeLimit > 0 {
		st.TimeLimit = s.cfg.GameTimeLimit
	}
	return st
}

// retire records id as the live game of slot and drops the previous one.
func (s *Server) retire(ctx context.Context, slot, id string) {
	s.mu.Lock()
	prev := s.live[slot]
	s.live[slot] = id
	s.mu.Unlock()

	if prev == "" || prev == id {
		return
	}
	if e, err := s.store.Get(ctx, prev); err == nil {
		s.abandon(ctx, e)
	}
	_ = s.store.Delete(ctx, prev)

	s.mu.Lock()
	delete(s.dailyGames, prev)
	s.mu.Unlock()
}

// abandon records a game left mid-play. An abandoned daily game uses up
// the day's attempt as a loss.
func (s *Server) abandon(ctx context.Context, e *game.Engine) {
	sess := e.State()
	if sess.Status != game.StatusPlaying {
		return
	}
	if err := s.history.Abandon(ctx, e.ID()); err != nil {
		log.Warn().Err(err).Str("gameId", e.ID()).Msg("abandon game")
	}
	s.mu.Lock()
	d := s.dailyGames[e.ID()]
	s.mu.Unlock()
	if d != nil {
		s.recordDaily(ctx, d, sess, false)
	}
}

// persistEnd stores a finished game. It runs outside the engine lock, on
// the request goroutine or the countdown goroutine.
func (s *Server) persistEnd(sess game.Session, d *dailyEntry) {
	ctx, cancel := context.WithTimeout(context.Background(), persistTimeout)
	defer cancel()

	if err := s.history.Finish(ctx, sess); err != nil {
		log.Warn().Err(err).Str("gameId", sess.ID).Msg("finish game")
	}
	if d != nil {
		s.recordDaily(ctx, d, sess, sess.Outcome.Winner == game.SidePlayer)
	}
}

// recordDaily stores the day's result. Only the first result per user and
// day is kept.
func (s *Server) recordDaily(ctx context.Context, d *dailyEntry, sess game.Session, won bool) {
	if err := s.daily.InsertResult(ctx, daily.Result{
		UserID:    d.userID,
		Date:      d.date,
		LimitChar: sess.LimitChar,
		Lines:     history.PlayerLines(sess),
		Won:       won,
		ElapsedMs: time.Since(d.start).Milliseconds(),
	}); err != nil {
		log.Warn().Err(err).Str("user", d.userID).Msg("insert daily result")
	}
}

// ------------------------------ turns --------------------------------------

type turnRes struct {
	Result game.TurnResult `json:"result"`
	State  game.Session    `json:"state"`
}

func (s *Server) handleState(w http.ResponseWriter, r *http.Request, e *game.Engine) {
	_ = json.NewEncoder(w).Encode(e.State())
}

func (s *Server) handleOpponent(w http.ResponseWriter, r *http.Request, e *game.Engine) {
	res := e.OpponentTurn(r.Context())
	_ = json.NewEncoder(w).Encode(turnRes{Result: res, State: e.State()})
}

type playerReq struct {
	Input string `json:"input"`
}

func (s *Server) handlePlayer(w http.ResponseWriter, r *http.Request, e *game.Engine) {
	var req playerReq
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "bad_json")
		return
	}
	res := e.PlayerTurn(r.Context(), req.Input)
	_ = json.NewEncoder(w).Encode(turnRes{Result: res, State: e.State()})
}

type endReq struct {
	Winner game.Side `json:"winner"`
	Reason string    `json:"reason"`
}

func (s *Server) handleEnd(w http.ResponseWriter, r *http.Request, e *game.Engine) {
	var req endReq
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "bad_json")
		return
	}
	if req.Winner != game.SidePlayer && req.Winner != game.SideOpponent {
		writeError(w, http.StatusBadRequest, "invalid_winner")
		return
	}
	if e.State().Status == game.StatusReady {
		writeError(w, http.StatusConflict, "not_started")
		return
	}
	out := e.EndGame(req.Winner, req.Reason)
	_ = json.NewEncoder(w).Encode(map[string]any{"outcome": out, "state": e.State()})
}

func (s *Server) handleReset(w http.ResponseWriter, r *http.Request, e *game.Engine) {
	s.abandon(r.Context(), e)
	_ = json.NewEncoder(w).Encode(e.Reset())
}

// ------------------------------ stream -------------------------------------

const wsWriteWait = 10 * time.Second

// handleGameStream pushes a snapshot on connect and whenever it changes.
// The client never needs to send anything; reads only detect close.
func (s *Server) handleGameStream(w http.ResponseWriter, r *http.Request) {
	e, status, msg := s.ownedEngine(r, chi.URLParam(r, "id"))
	if e == nil {
		writeError(w, status, msg)
		return
	}
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Debug().Err(err).Msg("ws upgrade")
		return
	}
	defer conn.Close()

	done := make(chan struct{})
	go func() {
		defer close(done)
		conn.SetReadLimit(512)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	t := time.NewTicker(s.wsPoll)
	defer t.Stop()

	var last []byte
	for {
		b, err := json.Marshal(e.State())
		if err != nil {
			return
		}
		if !bytes.Equal(b, last) {
			_ = conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
			if err := conn.WriteMessage(websocket.TextMessage, b); err != nil {
				return
			}
			last = b
		}
		select {
		case <-done:
			return
		case <-t.C:
		}
	}
}
