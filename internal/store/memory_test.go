package store

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/robalobadob/feihualing/internal/corpus"
	"github.com/robalobadob/feihualing/internal/game"
)

func newEngine(id string) *game.Engine {
	c := corpus.NewMemory([]corpus.Poem{{Author: "李白", Title: "静夜思", Paragraphs: []string{"床前明月光"}}}, false)
	_ = c.Initialize(context.Background())
	return game.New(c, game.WithID(id))
}

func TestSaveGetDelete(t *testing.T) {
	ctx := context.Background()
	st := NewMemoryStore()
	defer st.Close()

	e := newEngine("g1")
	require.NoError(t, st.Save(ctx, e))

	got, err := st.Get(ctx, "g1")
	require.NoError(t, err)
	assert.Same(t, e, got)

	_, err = st.Get(ctx, "nope")
	assert.ErrorIs(t, err, ErrNotFound)

	require.NoError(t, st.Delete(ctx, "g1"))
	require.NoError(t, st.Delete(ctx, "g1"))
	_, err = st.Get(ctx, "g1")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestSaveReplacesEngine(t *testing.T) {
	ctx := context.Background()
	st := NewMemoryStore()
	defer st.Close()

	first, second := newEngine("same"), newEngine("same")
	require.NoError(t, st.Save(ctx, first))
	require.NoError(t, st.Save(ctx, first))
	require.NoError(t, st.Save(ctx, second))

	got, err := st.Get(ctx, "same")
	require.NoError(t, err)
	assert.Same(t, second, got)
}

func TestCloseStopsRunningGames(t *testing.T) {
	ctx := context.Background()
	st := NewMemoryStore()

	e := newEngine("live")
	e.StartNewGame("月", nil)
	require.True(t, e.OpponentTurn(ctx).Success)
	require.NoError(t, st.Save(ctx, e))

	st.Close()
	_, err := st.Get(ctx, "live")
	assert.ErrorIs(t, err, ErrNotFound)
}
