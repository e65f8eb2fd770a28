// internal/game/engine.go
//
// Turn-taking engine for a single feihualing session.
// Responsibilities:
//   - Own the session state machine: ready → playing → ended (reset → ready).
//   - Validate player lines against the constraining character, the used set,
//     and the corpus (exactly one match required).
//   - Pick opponent lines through a Selector.
//   - Run the per-turn player countdown and end the game on timeout.
//   - Attach recommended lines to a lost game in the background.
//
// Concurrency:
//   - Every mutation (calls, countdown ticks, background merges) goes through mu.
//   - Corpus lookups run with mu released. gen is captured before a lookup and
//     compared before committing; any transition that supersedes in-flight
//     work (start, reset, end, committed move) bumps it.
//   - Callers only ever see Session snapshots.

package game

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/samber/lo"
	"golang.org/x/text/unicode/norm"

	"github.com/robalobadob/feihualing/internal/corpus"
	"github.com/robalobadob/feihualing/internal/metrics"
)

const recommendTimeout = 10 * time.Second

// state is the live, mutable session. Only the engine touches it.
type state struct {
	status    Status
	limitChar string
	turn      Side
	used      []corpus.Entry
	remaining int
	outcome   *Outcome
}

func readyState() state {
	return state{status: StatusReady, turn: FirstTurn, used: []corpus.Entry{}}
}

// Engine drives one game session at a time.
type Engine struct {
	id       string
	corpus   corpus.Querier
	selector func(Difficulty) Selector
	onEnd    func(Session)
	log      zerolog.Logger

	mu       sync.Mutex
	settings Settings
	s        state
	gen      uint64
	timer    countdown

	tasks sync.WaitGroup
}

// Option configures an Engine.
type Option func(*Engine)

// WithID overrides the random engine ID.
func WithID(id string) Option { return func(e *Engine) { e.id = id } }

// WithScheduler replaces the wall-clock countdown scheduler.
func WithScheduler(s Scheduler) Option { return func(e *Engine) { e.timer.sched = s } }

// WithClock replaces time.Now for the countdown's sub-second bookkeeping.
func WithClock(now func() time.Time) Option { return func(e *Engine) { e.timer.now = now } }

// WithSettings sets the defaults merged with each StartNewGame patch.
func WithSettings(s Settings) Option { return func(e *Engine) { e.settings = s } }

// WithSelector replaces the difficulty → policy mapping.
func WithSelector(f func(Difficulty) Selector) Option { return func(e *Engine) { e.selector = f } }

// WithOnEnd registers a callback invoked, outside the engine lock, each time
// a game ends.
func WithOnEnd(f func(Session)) Option { return func(e *Engine) { e.onEnd = f } }

// New constructs an engine in the ready state.
func New(q corpus.Querier, opts ...Option) *Engine {
	e := &Engine{
		id:       uuid.NewString(),
		corpus:   q,
		selector: SelectorFor,
		settings: DefaultSettings(),
		s:        readyState(),
		timer:    countdown{sched: TickerScheduler{}, now: time.Now},
	}
	for _, o := range opts {
		o(e)
	}
	e.log = log.With().Str("game", e.id).Logger()
	return e
}

// ID returns the engine identifier.
func (e *Engine) ID() string { return e.id }

// StartNewGame discards the current session and starts a new one constrained
// by limitChar. patch is merged onto the current settings.
func (e *Engine) StartNewGame(limitChar string, patch *SettingsPatch) Session {
	e.mu.Lock()
	defer e.mu.Unlock()

	e.timer.cancel()
	e.timer.clear()
	e.settings = patch.apply(e.settings)
	e.gen++
	e.s = state{
		status:    StatusPlaying,
		limitChar: limitChar,
		turn:      FirstTurn,
		used:      []corpus.Entry{},
		remaining: e.settings.TimeLimit,
	}
	e.startTimerLocked()

	metrics.GamesStarted.Inc()
	e.log.Info().Str("limitChar", limitChar).Int("timeLimit", e.settings.TimeLimit).
		Str("difficulty", string(e.settings.Difficulty)).Msg("game started")
	return e.snapshotLocked()
}

// OpponentTurn plays the opponent's move.
func (e *Engine) OpponentTurn(ctx context.Context) TurnResult {
	res, ended := e.opponentTurn(ctx)
	metrics.Turns.WithLabelValues(string(SideOpponent), string(res.Code)).Inc()
	e.notifyEnd(ended)
	return res
}

func (e *Engine) opponentTurn(ctx context.Context) (TurnResult, *Session) {
	e.mu.Lock()
	if e.s.status != StatusPlaying || e.s.turn != SideOpponent {
		e.mu.Unlock()
		return fail(CodeNotOpponentTurn, ReasonNotOpponentTurn), nil
	}
	e.timer.cancel()
	gen, limitChar, exclude := e.gen, e.s.limitChar, e.usedIDsLocked()
	e.mu.Unlock()

	entries, err := e.corpus.QueryEntries(ctx, limitChar, exclude, corpus.DefaultLimit)

	e.mu.Lock()
	defer e.mu.Unlock()
	if gen != e.gen {
		e.log.Debug().Msg("opponent lookup superseded")
		return fail(CodeSuperseded, ReasonSuperseded), nil
	}
	if err != nil {
		e.log.Error().Err(err).Msg("opponent lookup failed")
		return fail(CodeOpponentError, ReasonOpponentError), nil
	}

	entries = e.unusedLocked(entries)
	if len(entries) == 0 {
		out := e.endLocked(SidePlayer, ReasonNoAvailableEntries)
		snap := e.snapshotLocked()
		res := fail(CodeNoAvailableEntries, out.Reason)
		res.GameOver = true
		return res, &snap
	}

	pick := e.selector(e.settings.Difficulty).Select(entries)
	e.s.used = append(e.s.used, pick)
	e.s.turn = SidePlayer
	e.s.remaining = e.settings.TimeLimit
	e.gen++
	e.timer.clear()
	e.startTimerLocked()

	e.log.Debug().Int64("entry", pick.ID).Str("content", pick.Content).Msg("opponent played")
	return ok(pick), nil
}

// PlayerTurn validates and applies the player's line.
func (e *Engine) PlayerTurn(ctx context.Context, input string) TurnResult {
	res := e.playerTurn(ctx, input)
	metrics.Turns.WithLabelValues(string(SidePlayer), string(res.Code)).Inc()
	return res
}

func (e *Engine) playerTurn(ctx context.Context, input string) TurnResult {
	input = norm.NFC.String(strings.TrimSpace(input))

	e.mu.Lock()
	if e.s.status != StatusPlaying || e.s.turn != SidePlayer {
		e.mu.Unlock()
		return fail(CodeNotPlayerTurn, ReasonNotPlayerTurn)
	}
	e.timer.cancel()

	if !strings.Contains(input, e.s.limitChar) {
		reason := ReasonMissingLimitChar + ` "` + e.s.limitChar + `"`
		e.startTimerLocked()
		e.mu.Unlock()
		return fail(CodeMissingLimitChar, reason)
	}
	if lo.ContainsBy(e.s.used, func(u corpus.Entry) bool { return u.Content == input }) {
		e.startTimerLocked()
		e.mu.Unlock()
		return fail(CodeAlreadyUsed, ReasonAlreadyUsed)
	}
	gen, exclude := e.gen, e.usedIDsLocked()
	e.mu.Unlock()

	// Containment query with the full line; exactly one hit counts as a match.
	entries, err := e.corpus.QueryEntries(ctx, input, exclude, corpus.DefaultLimit)

	e.mu.Lock()
	defer e.mu.Unlock()
	if gen != e.gen {
		e.log.Debug().Msg("player lookup superseded")
		return fail(CodeSuperseded, ReasonSuperseded)
	}
	if err != nil {
		e.log.Warn().Err(err).Msg("player validation lookup failed")
		e.startTimerLocked()
		return fail(CodeValidationError, ReasonValidationError)
	}

	entries = e.unusedLocked(entries)
	switch len(entries) {
	case 0:
		e.startTimerLocked()
		return fail(CodeNoMatch, ReasonNoMatch)
	case 1:
		e.s.used = append(e.s.used, entries[0])
		e.s.turn = SideOpponent
		e.gen++
		e.log.Debug().Int64("entry", entries[0].ID).Msg("player played")
		return ok(entries[0])
	default:
		e.startTimerLocked()
		return fail(CodeAmbiguous, ReasonAmbiguous)
	}
}

// EndGame ends the session with winner. Ending an already ended session
// returns the recorded outcome unchanged.
func (e *Engine) EndGame(winner Side, reason string) Outcome {
	e.mu.Lock()
	already := e.s.status == StatusEnded
	out := e.endLocked(winner, reason)
	var ended *Session
	if !already {
		snap := e.snapshotLocked()
		ended = &snap
	}
	e.mu.Unlock()

	e.notifyEnd(ended)
	return out
}

// State returns a snapshot of the current session.
func (e *Engine) State() Session {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.snapshotLocked()
}

// Reset discards the session and returns to ready. Settings are kept.
func (e *Engine) Reset() Session {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.timer.cancel()
	e.timer.clear()
	e.gen++
	e.s = readyState()
	return e.snapshotLocked()
}

// Close stops the countdown and waits for background work. The engine must
// not be used afterwards.
func (e *Engine) Close() {
	e.mu.Lock()
	e.timer.cancel()
	e.gen++
	e.mu.Unlock()
	e.tasks.Wait()
}

// Wait blocks until detached background tasks have finished.
func (e *Engine) Wait() { e.tasks.Wait() }

// ----------------------------- internals -----------------------------------

// endLocked records the outcome once and schedules recommendations when the
// player lost.
func (e *Engine) endLocked(winner Side, reason string) Outcome {
	if e.s.status == StatusEnded {
		return *e.s.outcome.clone()
	}
	e.timer.cancel()
	e.gen++
	e.s.status = StatusEnded
	e.s.outcome = &Outcome{Winner: winner, Reason: reason}

	metrics.GamesEnded.WithLabelValues(string(winner)).Inc()
	e.log.Info().Str("winner", string(winner)).Str("reason", reason).Int("moves", len(e.s.used)).Msg("game ended")

	if winner == SideOpponent {
		e.recommendLocked()
	}
	return *e.s.outcome.clone()
}

// recommendLocked starts the detached lookup for lines the player could have
// used. The result is merged only if the session has not moved on.
func (e *Engine) recommendLocked() {
	gen, limitChar, exclude := e.gen, e.s.limitChar, e.usedIDsLocked()
	e.tasks.Add(1)
	go func() {
		defer e.tasks.Done()
		ctx, cancel := context.WithTimeout(context.Background(), recommendTimeout)
		defer cancel()

		entries, err := e.corpus.QueryEntries(ctx, limitChar, exclude, recommendCount)
		if err != nil {
			e.log.Warn().Err(err).Msg("recommendations lookup failed")
			return
		}
		if len(entries) > recommendCount {
			entries = entries[:recommendCount]
		}
		if len(entries) == 0 {
			return
		}

		e.mu.Lock()
		defer e.mu.Unlock()
		if gen != e.gen || e.s.outcome == nil {
			e.log.Debug().Msg("drop stale recommendations")
			return
		}
		e.s.outcome.Recommended = entries
	}()
}

// startTimerLocked (re)starts the player countdown if the player is to move.
// The remaining time carries over; opponent moves reset it beforehand.
// A full second accumulated across earlier pauses is charged on resume; the
// last second is always left to a real tick so timeouts go through tick.
func (e *Engine) startTimerLocked() {
	if e.s.status != StatusPlaying || e.s.turn != SidePlayer {
		return
	}
	e.timer.start(e.tick)
	if e.s.remaining > 1 && e.timer.takeSecond() {
		e.s.remaining--
	}
}

// tick runs once per second on the scheduler goroutine.
func (e *Engine) tick(gen uint64) {
	e.mu.Lock()
	if !e.timer.current(gen) || e.s.status != StatusPlaying || e.s.turn != SidePlayer {
		e.mu.Unlock()
		return
	}
	e.timer.ticked()
	if e.s.remaining > 0 {
		e.s.remaining--
	}
	if e.s.remaining > 0 {
		e.mu.Unlock()
		return
	}
	e.endLocked(SideOpponent, ReasonPlayerTimeout)
	snap := e.snapshotLocked()
	e.mu.Unlock()
	e.notifyEnd(&snap)
}

func (e *Engine) notifyEnd(s *Session) {
	if s != nil && e.onEnd != nil {
		e.onEnd(*s)
	}
}

func (e *Engine) usedIDsLocked() []int64 {
	return lo.Map(e.s.used, func(u corpus.Entry, _ int) int64 { return u.ID })
}

// unusedLocked drops entries already played, in case the corpus ignored the
// exclusion list.
func (e *Engine) unusedLocked(entries []corpus.Entry) []corpus.Entry {
	return lo.Filter(entries, func(c corpus.Entry, _ int) bool {
		return !lo.ContainsBy(e.s.used, func(u corpus.Entry) bool { return u.ID == c.ID })
	})
}

func (e *Engine) snapshotLocked() Session {
	s := Session{
		ID:          e.id,
		Status:      e.s.status,
		LimitChar:   e.s.limitChar,
		CurrentTurn: e.s.turn,
		UsedEntries: append([]corpus.Entry{}, e.s.used...),
		Outcome:     e.s.outcome.clone(),
		Settings:    e.settings,
	}
	if e.s.status == StatusPlaying && e.s.turn == SidePlayer {
		r := e.s.remaining
		s.RemainingSeconds = &r
	}
	return s
}
