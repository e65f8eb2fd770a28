// internal/game/types.go
//
// Core type definitions for the feihualing game engine.
// Defines:
//   - Status / Side / Difficulty enums.
//   - Settings and the partial SettingsPatch merged on StartNewGame.
//   - Session: the immutable snapshot handed to callers.
//   - TurnResult / Outcome and the failure code taxonomy.

package game

import "github.com/robalobadob/feihualing/internal/corpus"

// Status is the lifecycle stage of a session.
type Status string

const (
	StatusReady   Status = "ready"
	StatusPlaying Status = "playing"
	StatusEnded   Status = "ended"
)

// Side identifies a party in the game.
type Side string

const (
	SidePlayer   Side = "player"
	SideOpponent Side = "opponent"
)

// FirstTurn is the side that moves first in every new game.
const FirstTurn = SideOpponent

// Difficulty is accepted in settings; see SelectorFor.
type Difficulty string

const (
	DifficultyEasy   Difficulty = "easy"
	DifficultyMedium Difficulty = "medium"
	DifficultyHard   Difficulty = "hard"
)

// Valid reports whether d is a known difficulty.
func (d Difficulty) Valid() bool {
	switch d {
	case DifficultyEasy, DifficultyMedium, DifficultyHard:
		return true
	}
	return false
}

const (
	defaultTimeLimit = 15 // seconds
	recommendCount   = 3
)

// Settings are the per-engine game settings.
type Settings struct {
	Difficulty Difficulty `json:"difficulty"`
	TimeLimit  int        `json:"timeLimit"` // seconds per player turn
}

// DefaultSettings returns medium difficulty with a 15 second turn limit.
func DefaultSettings() Settings {
	return Settings{Difficulty: DifficultyMedium, TimeLimit: defaultTimeLimit}
}

// SettingsPatch is a partial override; nil fields keep the current value.
type SettingsPatch struct {
	Difficulty *Difficulty `json:"difficulty,omitempty"`
	TimeLimit  *int        `json:"timeLimit,omitempty"`
}

// apply merges p onto s. Unknown difficulties and non-positive limits are ignored.
func (p *SettingsPatch) apply(s Settings) Settings {
	if p == nil {
		return s
	}
	if p.Difficulty != nil && p.Difficulty.Valid() {
		s.Difficulty = *p.Difficulty
	}
	if p.TimeLimit != nil && *p.TimeLimit > 0 {
		s.TimeLimit = *p.TimeLimit
	}
	return s
}

// Outcome is the result of a finished game.
type Outcome struct {
	Winner Side   `json:"winner"`
	Reason string `json:"reason"`
	// Recommended holds up to three entries the player could have played.
	// Only set when the opponent won, and only once the background lookup lands.
	Recommended []corpus.Entry `json:"recommended,omitempty"`
}

func (o *Outcome) clone() *Outcome {
	if o == nil {
		return nil
	}
	c := *o
	if o.Recommended != nil {
		c.Recommended = append([]corpus.Entry(nil), o.Recommended...)
	}
	return &c
}

// Session is a snapshot of engine state. Snapshots never alias engine memory.
type Session struct {
	ID               string         `json:"id"`
	Status           Status         `json:"status"`
	LimitChar        string         `json:"limitChar"`
	CurrentTurn      Side           `json:"currentTurn"`
	UsedEntries      []corpus.Entry `json:"usedEntries"`
	RemainingSeconds *int           `json:"remainingSeconds,omitempty"`
	Outcome          *Outcome       `json:"outcome,omitempty"`
	Settings         Settings       `json:"settings"`
}

// Code classifies a turn result.
type Code string

const (
	CodeOK                 Code = "ok"
	CodeNotOpponentTurn    Code = "not_opponent_turn"
	CodeNotPlayerTurn      Code = "not_player_turn"
	CodeMissingLimitChar   Code = "missing_limit_char"
	CodeAlreadyUsed        Code = "already_used"
	CodeNoMatch            Code = "no_match"
	CodeAmbiguous          Code = "ambiguous"
	CodeValidationError    Code = "validation_error"
	CodeOpponentError      Code = "opponent_error"
	CodeNoAvailableEntries Code = "no_available_entries"
	CodeSuperseded         Code = "superseded"
)

// Human-readable reasons shown by the UI.
const (
	ReasonNotOpponentTurn    = "not opponent's turn"
	ReasonNotPlayerTurn      = "not player's turn"
	ReasonMissingLimitChar   = "does not follow the constraint"
	ReasonAlreadyUsed        = "entry already used"
	ReasonNoMatch            = "no matching entry found"
	ReasonAmbiguous          = "ambiguous: multiple entries match"
	ReasonValidationError    = "validation error"
	ReasonOpponentError      = "opponent error"
	ReasonNoAvailableEntries = "no available entries"
	ReasonPlayerTimeout      = "player timed out"
	ReasonSuperseded         = "game changed while the move was being checked"
)

// TurnResult is the outcome of one move attempt.
type TurnResult struct {
	Success  bool          `json:"success"`
	Entry    *corpus.Entry `json:"entry,omitempty"`
	Code     Code          `json:"code"`
	Reason   string        `json:"reason,omitempty"`
	GameOver bool          `json:"gameOver,omitempty"` // the failure itself ended the game
}

func ok(e corpus.Entry) TurnResult {
	return TurnResult{Success: true, Entry: &e, Code: CodeOK}
}

func fail(code Code, reason string) TurnResult {
	return TurnResult{Code: code, Reason: reason}
}
