package game

import "github.com/robalobadob/feihualing/internal/corpus"

// Selector picks the opponent's move from a non-empty list of eligible entries.
type Selector interface {
	Select(entries []corpus.Entry) corpus.Entry
}

// SelectorFunc adapts a function to Selector.
type SelectorFunc func(entries []corpus.Entry) corpus.Entry

// Select implements Selector.
func (f SelectorFunc) Select(entries []corpus.Entry) corpus.Entry { return f(entries) }

// FirstEligible plays the first entry as ordered by the corpus.
var FirstEligible Selector = SelectorFunc(func(entries []corpus.Entry) corpus.Entry {
	return entries[0]
})

// SelectorFor returns the selection policy for a difficulty.
// Every difficulty plays FirstEligible for now; the corpus randomizes order.
func SelectorFor(Difficulty) Selector { return FirstEligible }
