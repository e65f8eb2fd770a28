// internal/httpserver/routes_daily.go
//
// HTTP routes for the "Daily Challenge" mode.
// Exposes three endpoints under /daily:
//   - GET  /daily/char        → today's constraining character
//   - POST /daily/new         → start today's game (or reuse the live one)
//   - GET  /daily/leaderboard → top 20 results for today (or a given date)
//
// Each user can play once per day: a finished or abandoned daily game leaves
// a row in daily_results, and a normal game does not retire the daily one.
// The character is picked deterministically from date + salt; the result is
// persisted when the game ends.

package httpserver

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog/log"

	"github.com/robalobadob/feihualing/internal/daily"
	"github.com/robalobadob/feihualing/internal/game"
)

// mountDaily registers all /daily routes.
func (s *Server) mountDaily(r chi.Router) {
	r.Route("/daily", func(r chi.Router) {
		r.Get("/char", s.handleDailyChar)
		r.Post("/new", s.handleDailyNew)
		r.Get("/leaderboard", s.handleDailyLeaderboard)
	})
}

// todaysChar returns today's date key and constraining character.
func (s *Server) todaysChar(now time.Time) (date, char string) {
	date = daily.DateKey(now)
	return date, s.chars.At(daily.CharIndex(now, s.cfg.DailySalt, s.chars.Len()))
}

func (s *Server) handleDailyChar(w http.ResponseWriter, r *http.Request) {
	date, c := s.todaysChar(time.Now())
	_ = json.NewEncoder(w).Encode(map[string]string{"date": date, "char": c})
}

// dailyNewRes is returned by /daily/new. Played is set when today's result
// is already recorded; no game is started then.
type dailyNewRes struct {
	newGameRes
	Played bool `json:"played"`
}

// handleDailyNew creates or reuses the daily game for the current date.
func (s *Server) handleDailyNew(w http.ResponseWriter, r *http.Request) {
	o := s.owner(w, r)
	uid := o.UserID
	if uid == "" {
		uid = o.AnonID
	}
	now := time.Now()
	date, c := s.todaysChar(now)

	if played, err := s.daily.AlreadyPlayed(r.Context(), uid, date); err != nil {
		log.Warn().Err(err).Msg("daily already played")
		writeError(w, http.StatusInternalServerError, "db_error")
		return
	} else if played {
		_ = json.NewEncoder(w).Encode(dailyNewRes{newGameRes: newGameRes{Date: date}, Played: true})
		return
	}

	// Reuse today's daily game while it is in progress.
	slot := dailySlot(o)
	s.mu.Lock()
	id := s.live[slot]
	d := s.dailyGames[id]
	s.mu.Unlock()
	if d != nil && d.date == date {
		if e, err := s.store.Get(r.Context(), id); err == nil && e.State().Status == game.StatusPlaying {
			_ = json.NewEncoder(w).Encode(dailyNewRes{newGameRes: newGameRes{GameID: id, State: e.State(), Date: date}})
			return
		}
	}

	res, err := s.startGame(r.Context(), o, slot, c, nil, &dailyEntry{userID: uid, date: date, start: now})
	if err != nil {
		writeError(w, http.StatusInternalServerError, "save_failed")
		return
	}

	res.Date = date
	_ = json.NewEncoder(w).Encode(dailyNewRes{newGameRes: res})
}

// lbRes is returned by /daily/leaderboard.
type lbRes struct {
	Date string        `json:"date"`
	Top  []daily.LBRow `json:"top"`
}

// handleDailyLeaderboard returns the leaderboard for the given date (default today).
func (s *Server) handleDailyLeaderboard(w http.ResponseWriter, r *http.Request) {
	date := r.URL.Query().Get("date")
	if date == "" {
		date = daily.DateKey(time.Now())
	}
	rows, err := s.daily.Leaderboard(r.Context(), date, 20)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "server error")
		return
	}
	_ = json.NewEncoder(w).Encode(lbRes{Date: date, Top: rows})
}
