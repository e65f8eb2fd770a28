// internal/history/history.go
//
// SQLite persistence of played games.
// Responsibilities:
//   - Record a game row when a session starts (owned by a user or an anonymous cookie).
//   - On finish, store the outcome and every played line, and bump user stats.
//   - Transfer anonymous games to an account after signup/login.
//   - List a user's recent games and a game's moves.
//
// Live state stays in the engine; this package only sees Session snapshots.

package history

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/robalobadob/feihualing/internal/game"
)

// StatusAbandoned marks a game reset before it ended.
const StatusAbandoned = "abandoned"

// ErrNotFound is returned for an unknown game ID.
var ErrNotFound = errors.New("history: game not found")

// Owner identifies who played a game. Exactly one field is set.
type Owner struct {
	UserID string
	AnonID string
}

func (o Owner) args() (any, any) {
	var u, a any
	if o.UserID != "" {
		u = o.UserID
	} else if o.AnonID != "" {
		a = o.AnonID
	}
	return u, a
}

// Game is a row of the games table.
type Game struct {
	ID         string `json:"id"`
	LimitChar  string `json:"limitChar"`
	Difficulty string `json:"difficulty"`
	TimeLimit  int    `json:"timeLimit"`
	Status     string `json:"status"`
	Winner     string `json:"winner,omitempty"`
	Reason     string `json:"reason,omitempty"`
	Moves      int    `json:"moves"`
	StartedAt  string `json:"startedAt"`
	FinishedAt string `json:"finishedAt,omitempty"`
}

// Move is one played line.
type Move struct {
	Seq     int    `json:"seq"`
	Side    string `json:"side"`
	EntryID int64  `json:"entryId"`
	WorkID  int64  `json:"workId"`
	Content string `json:"content"`
}

// Stats are a user's running totals.
type Stats struct {
	GamesPlayed int `json:"gamesPlayed"`
	Wins        int `json:"wins"`
	Streak      int `json:"streak"`
}

// Store reads and writes game history.
type Store struct {
	db  *sql.DB
	now func() time.Time
}

func New(db *sql.DB) *Store {
	return &Store{db: db, now: func() time.Time { return time.Now().UTC() }}
}

// Start inserts the row for a freshly started session.
func (s *Store) Start(ctx context.Context, o Owner, sess game.Session) error {
	u, a := o.args()
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO games (id, user_id, anonymous_id, limit_char, difficulty, time_limit, status, started_at)
		 VALUES (?,?,?,?,?,?,?,?)`,
		sess.ID, u, a, sess.LimitChar, string(sess.Settings.Difficulty), sess.Settings.TimeLimit,
		string(game.StatusPlaying), s.now().Format(time.RFC3339),
	)
	if err != nil {
		return fmt.Errorf("insert game %s: %w", sess.ID, err)
	}
	return nil
}

// Finish records the outcome and moves of an ended session and, for a
// signed-in owner, bumps their stats in the same transaction. Finishing a
// game twice is a no-op.
func (s *Store) Finish(ctx context.Context, sess game.Session) error {
	if sess.Status != game.StatusEnded || sess.Outcome == nil {
		return fmt.Errorf("finish game %s: session not ended", sess.ID)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	var userID sql.NullString
	var status string
	err = tx.QueryRowContext(ctx, `SELECT user_id, status FROM games WHERE id=?`, sess.ID).Scan(&userID, &status)
	if errors.Is(err, sql.ErrNoRows) {
		return ErrNotFound
	}
	if err != nil {
		return fmt.Errorf("load game %s: %w", sess.ID, err)
	}
	if status == string(game.StatusEnded) {
		return nil
	}

	if _, err := tx.ExecContext(ctx,
		`UPDATE games SET status=?, winner=?, reason=?, moves=?, finished_at=? WHERE id=?`,
		string(game.StatusEnded), string(sess.Outcome.Winner), sess.Outcome.Reason,
		len(sess.UsedEntries), s.now().Format(time.RFC3339), sess.ID,
	); err != nil {
		return fmt.Errorf("finish game %s: %w", sess.ID, err)
	}

	for i, e := range sess.UsedEntries {
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO game_moves (game_id, seq, side, entry_id, work_id, content) VALUES (?,?,?,?,?,?)`,
			sess.ID, i, string(SideOf(i)), e.ID, e.WorkID, e.Content,
		); err != nil {
			return fmt.Errorf("insert move %d of %s: %w", i, sess.ID, err)
		}
	}

	if userID.Valid {
		if err := bumpStats(ctx, tx, userID.String, sess.Outcome.Winner == game.SidePlayer); err != nil {
			return fmt.Errorf("bump stats: %w", err)
		}
	}
	return tx.Commit()
}

// Abandon marks a game that was reset while still in progress.
func (s *Store) Abandon(ctx context.Context, id string) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE games SET status=?, finished_at=? WHERE id=? AND status=?`,
		StatusAbandoned, s.now().Format(time.RFC3339), id, string(game.StatusPlaying),
	)
	return err
}

// SideOf returns who played the i-th line. Sides alternate from FirstTurn.
func SideOf(i int) game.Side {
	if i%2 == 0 {
		return game.FirstTurn
	}
	if game.FirstTurn == game.SideOpponent {
		return game.SidePlayer
	}
	return game.SideOpponent
}

// PlayerLines counts the lines the player got accepted in sess.
func PlayerLines(sess game.Session) int {
	n := 0
	for i := range sess.UsedEntries {
		if SideOf(i) == game.SidePlayer {
			n++
		}
	}
	return n
}

// bumpStats increments games played; updates wins and streak based on result (within tx).
func bumpStats(ctx context.Context, tx *sql.Tx, userID string, won bool) error {
	var gp, wins, streak int
	row := tx.QueryRowContext(ctx, `SELECT games_played, wins, streak FROM users WHERE id=?`, userID)
	if err := row.Scan(&gp, &wins, &streak); err != nil {
		return err
	}
	gp++
	if won {
		wins++
		streak++
	} else {
		streak = 0
	}
	_, err := tx.ExecContext(ctx, `UPDATE users SET games_played=?, wins=?, streak=? WHERE id=?`, gp, wins, streak, userID)
	return err
}

// ClaimAnon transfers anonymous games to a user account after auth.
func (s *Store) ClaimAnon(ctx context.Context, anonID, userID string) error {
	if anonID == "" || userID == "" {
		return nil
	}
	_, err := s.db.ExecContext(ctx, `UPDATE games SET user_id=?, anonymous_id=NULL WHERE anonymous_id=?`, userID, anonID)
	return err
}

// Owner returns who owns a game.
func (s *Store) Owner(ctx context.Context, id string) (Owner, error) {
	var u, a sql.NullString
	err := s.db.QueryRowContext(ctx, `SELECT user_id, anonymous_id FROM games WHERE id=?`, id).Scan(&u, &a)
	if errors.Is(err, sql.ErrNoRows) {
		return Owner{}, ErrNotFound
	}
	if err != nil {
		return Owner{}, err
	}
	return Owner{UserID: u.String, AnonID: a.String}, nil
}

// Recent lists a user's latest games, newest first.
func (s *Store) Recent(ctx context.Context, userID string, limit int) ([]Game, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, limit_char, difficulty, time_limit, status, COALESCE(winner,''), COALESCE(reason,''),
		        moves, started_at, COALESCE(finished_at,'')
		 FROM games WHERE user_id=? ORDER BY started_at DESC, rowid DESC LIMIT ?`, userID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := []Game{}
	for rows.Next() {
		var g Game
		if err := rows.Scan(&g.ID, &g.LimitChar, &g.Difficulty, &g.TimeLimit, &g.Status, &g.Winner,
			&g.Reason, &g.Moves, &g.StartedAt, &g.FinishedAt); err != nil {
			return nil, err
		}
		out = append(out, g)
	}
	return out, rows.Err()
}

// Moves returns the lines of a finished game in play order.
func (s *Store) Moves(ctx context.Context, gameID string) ([]Move, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT seq, side, entry_id, work_id, content FROM game_moves WHERE game_id=? ORDER BY seq`, gameID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := []Move{}
	for rows.Next() {
		var m Move
		if err := rows.Scan(&m.Seq, &m.Side, &m.EntryID, &m.WorkID, &m.Content); err != nil {
			return nil, err
		}
		out = append(out, m)
	}
	return out, rows.Err()
}

// StatsFor returns a user's totals.
func (s *Store) StatsFor(ctx context.Context, userID string) (Stats, error) {
	var st Stats
	err := s.db.QueryRowContext(ctx,
		`SELECT games_played, wins, streak FROM users WHERE id=?`, userID,
	).Scan(&st.GamesPlayed, &st.Wins, &st.Streak)
	return st, err
}
