package httpserver

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/cookiejar"
	"net/http/httptest"
	"net/url"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/robalobadob/feihualing/assets"
	"github.com/robalobadob/feihualing/internal/chars"
	"github.com/robalobadob/feihualing/internal/config"
	"github.com/robalobadob/feihualing/internal/corpus"
	"github.com/robalobadob/feihualing/internal/game"
	"github.com/robalobadob/feihualing/internal/history"
	"github.com/robalobadob/feihualing/internal/sqlitedb"
	"github.com/robalobadob/feihualing/internal/store"
)

var testPoems = []corpus.Poem{
	{Author: "李白", Title: "静夜思", Paragraphs: []string{"床前明月光", "疑是地上霜", "举头望明月", "低头思故乡"}},
	{Author: "张九龄", Title: "望月怀远 节选", Paragraphs: []string{"海上生明月", "天涯共此时"}},
	{Author: "孟浩然", Title: "春晓", Paragraphs: []string{"春眠不觉晓", "处处闻啼鸟", "夜来风雨声", "花落知多少"}},
	// one line for every recommended character, so any daily pick has an opening
	{Author: "佚名", Title: "九字", Paragraphs: []string{"花月风雪山水云春秋"}},
}

// manualScheduler ticks only when fire is called.
type manualScheduler struct {
	mu  sync.Mutex
	fns map[int]func()
	n   int
}

func (m *manualScheduler) Every(_ time.Duration, fn func()) func() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.fns == nil {
		m.fns = map[int]func(){}
	}
	id := m.n
	m.n++
	m.fns[id] = fn
	return func() {
		m.mu.Lock()
		delete(m.fns, id)
		m.mu.Unlock()
	}
}

func (m *manualScheduler) fire(n int) {
	for i := 0; i < n; i++ {
		m.mu.Lock()
		fns := make([]func(), 0, len(m.fns))
		for _, f := range m.fns {
			fns = append(fns, f)
		}
		m.mu.Unlock()
		for _, f := range fns {
			f()
		}
	}
}

type testEnv struct {
	t     *testing.T
	srv   *httptest.Server
	c     *http.Client
	sched *manualScheduler
	st    store.Store
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	cfg := &config.Config{
		GameTimeLimit:  15,
		GameDifficulty: "medium",
		JWTSecret:      "test-secret",
		JWTExpiresDays: 1,
		CookieName:     "feihua_token",
		ClientOrigin:   "http://localhost:5173",
		DailySalt:      "salt",
	}

	db, err := sqlitedb.Open(filepath.Join(t.TempDir(), "app.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	_, err = sqlitedb.Migrate(context.Background(), db, assets.Migrations())
	require.NoError(t, err)

	c := corpus.NewMemory(testPoems, false)
	require.NoError(t, c.Initialize(context.Background()))
	cl, err := chars.Default()
	require.NoError(t, err)

	sched := &manualScheduler{}
	st := store.NewMemoryStore()
	s := New(cfg, st, db, c, cl, WithEngineOptions(game.WithScheduler(sched)), WithWSPoll(10*time.Millisecond))
	ts := httptest.NewServer(s.Router())
	t.Cleanup(func() {
		ts.Close()
		st.Close()
	})

	jar, err := cookiejar.New(nil)
	require.NoError(t, err)
	return &testEnv{t: t, srv: ts, c: &http.Client{Jar: jar}, sched: sched, st: st}
}

// do sends body as JSON and decodes the response into out when non-nil.
func (e *testEnv) do(method, path string, body any, out any) int {
	e.t.Helper()
	var rd io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		require.NoError(e.t, err)
		rd = bytes.NewReader(b)
	}
	req, err := http.NewRequest(method, e.srv.URL+path, rd)
	require.NoError(e.t, err)
	req.Header.Set("Content-Type", "application/json")
	resp, err := e.c.Do(req)
	require.NoError(e.t, err)
	defer resp.Body.Close()
	if out != nil {
		require.NoError(e.t, json.NewDecoder(resp.Body).Decode(out))
	}
	return resp.StatusCode
}

// otherClient returns an env sharing the server but with an empty cookie jar.
func (e *testEnv) otherClient() *testEnv {
	e.t.Helper()
	jar, err := cookiejar.New(nil)
	require.NoError(e.t, err)
	other := *e
	other.c = &http.Client{Jar: jar}
	return &other
}

// cookieHeader carries the jar's cookies for hand-built requests (websocket dials).
func (e *testEnv) cookieHeader() http.Header {
	u, err := url.Parse(e.srv.URL)
	require.NoError(e.t, err)
	h := http.Header{}
	for _, c := range e.c.Jar.Cookies(u) {
		h.Add("Cookie", c.String())
	}
	return h
}

func (e *testEnv) newGame(limitChar string) newGameRes {
	e.t.Helper()
	var res newGameRes
	require.Equal(e.t, http.StatusOK, e.do("POST", "/game/new", map[string]any{"limitChar": limitChar}, &res))
	return res
}

func TestHealth(t *testing.T) {
	env := newTestEnv(t)
	var body map[string]bool
	assert.Equal(t, http.StatusOK, env.do("GET", "/health", nil, &body))
	assert.True(t, body["ok"])

	var nf map[string]string
	assert.Equal(t, http.StatusNotFound, env.do("GET", "/nope", nil, &nf))
	assert.Equal(t, "not_found", nf["error"])
}

func TestNewGamePlaysOpeningMove(t *testing.T) {
	env := newTestEnv(t)
	res := env.newGame("明月")

	require.NotEmpty(t, res.GameID)
	require.NotNil(t, res.Opening)
	assert.True(t, res.Opening.Success)
	assert.Equal(t, "床前明月光", res.Opening.Entry.Content)

	assert.Equal(t, "明", res.State.LimitChar, "constraining character is truncated to one grapheme")
	assert.Equal(t, game.StatusPlaying, res.State.Status)
	assert.Equal(t, game.SidePlayer, res.State.CurrentTurn)
	require.NotNil(t, res.State.RemainingSeconds)
	assert.Equal(t, 15, *res.State.RemainingSeconds)
}

func TestNewGameValidation(t *testing.T) {
	env := newTestEnv(t)
	var body map[string]string
	assert.Equal(t, http.StatusBadRequest, env.do("POST", "/game/new", map[string]any{"limitChar": "  "}, &body))
	assert.Equal(t, "limit_char_required", body["error"])
}

func TestNewGameSettings(t *testing.T) {
	env := newTestEnv(t)
	var res newGameRes
	require.Equal(t, http.StatusOK, env.do("POST", "/game/new", map[string]any{
		"limitChar": "月",
		"settings":  map[string]any{"difficulty": "hard", "timeLimit": 30},
	}, &res))
	assert.Equal(t, game.Settings{Difficulty: game.DifficultyHard, TimeLimit: 30}, res.State.Settings)
	assert.Equal(t, 30, *res.State.RemainingSeconds)
}

func TestPlayTurns(t *testing.T) {
	env := newTestEnv(t)
	g := env.newGame("月")
	base := "/game/" + g.GameID

	var tr turnRes
	require.Equal(t, http.StatusOK, env.do("POST", base+"/player", map[string]string{"input": "床前明月光"}, &tr))
	assert.False(t, tr.Result.Success)
	assert.Equal(t, game.CodeAlreadyUsed, tr.Result.Code)

	require.Equal(t, http.StatusOK, env.do("POST", base+"/player", map[string]string{"input": "举头望明月"}, &tr))
	require.True(t, tr.Result.Success, tr.Result.Reason)
	assert.Equal(t, game.SideOpponent, tr.State.CurrentTurn)

	require.Equal(t, http.StatusOK, env.do("POST", base+"/opponent", nil, &tr))
	require.True(t, tr.Result.Success)
	assert.Equal(t, "海上生明月", tr.Result.Entry.Content)

	require.Equal(t, http.StatusOK, env.do("POST", base+"/player", map[string]string{"input": "明月几时有"}, &tr))
	assert.Equal(t, game.CodeNoMatch, tr.Result.Code)

	var s game.Session
	require.Equal(t, http.StatusOK, env.do("GET", base, nil, &s))
	assert.Len(t, s.UsedEntries, 3)
	assert.Equal(t, game.SidePlayer, s.CurrentTurn)
}

func TestUnknownGame(t *testing.T) {
	env := newTestEnv(t)
	assert.Equal(t, http.StatusNotFound, env.do("GET", "/game/missing", nil, nil))
	assert.Equal(t, http.StatusNotFound, env.do("POST", "/game/missing/opponent", nil, nil))
}

func TestGameAnswersOnlyToOwner(t *testing.T) {
	env := newTestEnv(t)
	g := env.newGame("月")
	base := "/game/" + g.GameID

	other := env.otherClient()
	other.newGame("春") // has its own anonymous cookie now
	assert.Equal(t, http.StatusNotFound, other.do("GET", base, nil, nil))
	assert.Equal(t, http.StatusNotFound, other.do("POST", base+"/player", map[string]string{"input": "举头望明月"}, nil))
	assert.Equal(t, http.StatusNotFound, other.do("POST", base+"/end", map[string]string{"winner": "opponent"}, nil))
	assert.Equal(t, http.StatusNotFound, other.do("POST", base+"/reset", nil, nil))

	wsURL := "ws" + strings.TrimPrefix(env.srv.URL, "http") + base + "/ws"
	_, resp, err := websocket.DefaultDialer.Dial(wsURL, other.cookieHeader())
	require.Error(t, err)
	require.NotNil(t, resp)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)

	var s game.Session
	require.Equal(t, http.StatusOK, env.do("GET", base, nil, &s))
	assert.Equal(t, game.StatusPlaying, s.Status)
	assert.Len(t, s.UsedEntries, 1)
}

func TestClaimedGameStaysPlayableAfterSignup(t *testing.T) {
	env := newTestEnv(t)
	g := env.newGame("月")

	require.Equal(t, http.StatusOK, env.do("POST", "/auth/signup",
		map[string]string{"username": "bai_juyi", "password": "lute-song"}, nil))

	var tr turnRes
	require.Equal(t, http.StatusOK, env.do("POST", "/game/"+g.GameID+"/player", map[string]string{"input": "举头望明月"}, &tr))
	assert.True(t, tr.Result.Success, tr.Result.Reason)
}

func TestEndAndReset(t *testing.T) {
	env := newTestEnv(t)
	g := env.newGame("月")
	base := "/game/" + g.GameID

	assert.Equal(t, http.StatusBadRequest, env.do("POST", base+"/end", map[string]string{"winner": "nobody"}, nil))

	var ended struct {
		Outcome game.Outcome `json:"outcome"`
		State   game.Session `json:"state"`
	}
	require.Equal(t, http.StatusOK, env.do("POST", base+"/end", map[string]string{"winner": "player", "reason": "resign"}, &ended))
	assert.Equal(t, game.Outcome{Winner: game.SidePlayer, Reason: "resign"}, ended.Outcome)
	assert.Equal(t, game.StatusEnded, ended.State.Status)

	var s game.Session
	require.Equal(t, http.StatusOK, env.do("POST", base+"/reset", nil, &s))
	assert.Equal(t, game.StatusReady, s.Status)
	assert.Empty(t, s.LimitChar)

	assert.Equal(t, http.StatusConflict, env.do("POST", base+"/end", map[string]string{"winner": "player"}, nil))
}

func TestTimeoutIsPersistedForSignedInUser(t *testing.T) {
	env := newTestEnv(t)
	require.Equal(t, http.StatusOK, env.do("POST", "/auth/signup",
		map[string]string{"username": "du_fu", "password": "spring-rain"}, nil))

	g := env.newGame("月")
	env.sched.fire(15)

	var s game.Session
	require.Equal(t, http.StatusOK, env.do("GET", "/game/"+g.GameID, nil, &s))
	require.Equal(t, game.StatusEnded, s.Status)
	assert.Equal(t, game.SideOpponent, s.Outcome.Winner)
	assert.Equal(t, game.ReasonPlayerTimeout, s.Outcome.Reason)

	var stats map[string]any
	require.Equal(t, http.StatusOK, env.do("GET", "/stats/me", nil, &stats))
	assert.EqualValues(t, 1, stats["gamesPlayed"])
	assert.EqualValues(t, 0, stats["wins"])

	var mine []map[string]any
	require.Equal(t, http.StatusOK, env.do("GET", "/games/mine", nil, &mine))
	require.Len(t, mine, 1)
	assert.Equal(t, g.GameID, mine[0]["id"])
	assert.Equal(t, "ended", mine[0]["status"])
	assert.Equal(t, "opponent", mine[0]["winner"])
}

func TestAnonymousGamesClaimedOnSignup(t *testing.T) {
	env := newTestEnv(t)
	g := env.newGame("月")
	env.do("POST", "/game/"+g.GameID+"/end", map[string]string{"winner": "player"}, nil)

	require.Equal(t, http.StatusOK, env.do("POST", "/auth/signup",
		map[string]string{"username": "wang_wei", "password": "empty-mountain"}, nil))

	var mine []map[string]any
	require.Equal(t, http.StatusOK, env.do("GET", "/games/mine", nil, &mine))
	require.Len(t, mine, 1)
	assert.Equal(t, g.GameID, mine[0]["id"])
}

func TestNewGameRetiresPrevious(t *testing.T) {
	env := newTestEnv(t)
	first := env.newGame("月")
	second := env.newGame("春")

	assert.Equal(t, http.StatusNotFound, env.do("GET", "/game/"+first.GameID, nil, nil))
	assert.Equal(t, http.StatusOK, env.do("GET", "/game/"+second.GameID, nil, nil))
}

func TestAuthFlow(t *testing.T) {
	env := newTestEnv(t)
	assert.Equal(t, http.StatusUnauthorized, env.do("GET", "/auth/me", nil, nil))

	var errBody map[string]string
	assert.Equal(t, http.StatusBadRequest, env.do("POST", "/auth/signup",
		map[string]string{"username": "li", "password": "short"}, &errBody))
	assert.NotEmpty(t, errBody["error"])

	creds := map[string]string{"username": "li_bai", "password": "moonlight-bed"}
	require.Equal(t, http.StatusOK, env.do("POST", "/auth/signup", creds, nil))
	assert.Equal(t, http.StatusConflict, env.do("POST", "/auth/signup", creds, nil))

	var me authUser
	require.Equal(t, http.StatusOK, env.do("GET", "/auth/me", nil, &me))
	assert.Equal(t, "li_bai", me.Username)

	require.Equal(t, http.StatusOK, env.do("POST", "/auth/logout", nil, nil))
	assert.Equal(t, http.StatusUnauthorized, env.do("GET", "/auth/me", nil, nil))

	assert.Equal(t, http.StatusUnauthorized, env.do("POST", "/auth/login",
		map[string]string{"username": "li_bai", "password": "wrong-password"}, nil))
	require.Equal(t, http.StatusOK, env.do("POST", "/auth/login", creds, nil))
	require.Equal(t, http.StatusOK, env.do("GET", "/auth/me", nil, &me))
}

func TestWork(t *testing.T) {
	env := newTestEnv(t)
	var w workRes
	require.Equal(t, http.StatusOK, env.do("GET", "/works/2", nil, &w))
	assert.Equal(t, "张九龄", w.Author)
	assert.Equal(t, []string{"海上生明月", "天涯共此时"}, w.Lines)
	assert.Equal(t, SourceURL("望月怀远 节选", "张九龄"), w.SourceURL)

	assert.Equal(t, http.StatusNotFound, env.do("GET", "/works/99", nil, nil))
	assert.Equal(t, http.StatusBadRequest, env.do("GET", "/works/abc", nil, nil))
}

func TestSourceURL(t *testing.T) {
	assert.Equal(t,
		"https://www.gushicimingju.com/search/alls/%E9%9D%99%E5%A4%9C%E6%80%9D+%E6%9D%8E%E7%99%BD",
		SourceURL("静夜思 其一", "李白"))
	assert.Equal(t, "https://www.gushicimingju.com/search/alls/a%26b+c%20d", SourceURL("a&b", "c d"))
}

func TestRecommendedChars(t *testing.T) {
	env := newTestEnv(t)
	var body map[string][]string
	require.Equal(t, http.StatusOK, env.do("GET", "/chars", nil, &body))
	assert.Equal(t, []string{"花", "月", "风", "雪", "山", "水", "云", "春", "秋"}, body["chars"])

	require.Equal(t, http.StatusOK, env.do("GET", "/chars/recommended", nil, &body))
	assert.Len(t, body["chars"], 3)

	require.Equal(t, http.StatusOK, env.do("GET", "/chars/recommended?n=5", nil, &body))
	assert.Len(t, body["chars"], 5)

	assert.Equal(t, http.StatusBadRequest, env.do("GET", "/chars/recommended?n=zero", nil, nil))
}

func TestDaily(t *testing.T) {
	env := newTestEnv(t)

	var today map[string]string
	require.Equal(t, http.StatusOK, env.do("GET", "/daily/char", nil, &today))
	assert.NotEmpty(t, today["char"])
	assert.NotEmpty(t, today["date"])

	var first dailyNewRes
	require.Equal(t, http.StatusOK, env.do("POST", "/daily/new", nil, &first))
	assert.False(t, first.Played)
	assert.Equal(t, today["char"], first.State.LimitChar)

	var again dailyNewRes
	require.Equal(t, http.StatusOK, env.do("POST", "/daily/new", nil, &again))
	assert.Equal(t, first.GameID, again.GameID, "live daily game is reused")

	env.do("POST", "/game/"+first.GameID+"/end", map[string]string{"winner": "player"}, nil)

	var done dailyNewRes
	require.Equal(t, http.StatusOK, env.do("POST", "/daily/new", nil, &done))
	assert.True(t, done.Played)
	assert.Empty(t, done.GameID)

	var lb lbRes
	require.Equal(t, http.StatusOK, env.do("GET", "/daily/leaderboard", nil, &lb))
	require.Len(t, lb.Top, 1)
	assert.True(t, lb.Top[0].Won)
}

func TestDailyGameSurvivesRegularGame(t *testing.T) {
	env := newTestEnv(t)

	var d dailyNewRes
	require.Equal(t, http.StatusOK, env.do("POST", "/daily/new", nil, &d))
	require.False(t, d.Played)

	env.newGame("月")
	assert.Equal(t, http.StatusOK, env.do("GET", "/game/"+d.GameID, nil, nil))

	var again dailyNewRes
	require.Equal(t, http.StatusOK, env.do("POST", "/daily/new", nil, &again))
	assert.Equal(t, d.GameID, again.GameID)
}

func TestAbandonedDailyCountsAsPlayed(t *testing.T) {
	env := newTestEnv(t)

	var d dailyNewRes
	require.Equal(t, http.StatusOK, env.do("POST", "/daily/new", nil, &d))
	require.Equal(t, game.StatusPlaying, d.State.Status)
	require.Equal(t, http.StatusOK, env.do("POST", "/game/"+d.GameID+"/reset", nil, nil))

	var retry dailyNewRes
	require.Equal(t, http.StatusOK, env.do("POST", "/daily/new", nil, &retry))
	assert.True(t, retry.Played)
	assert.Empty(t, retry.GameID)

	var lb lbRes
	require.Equal(t, http.StatusOK, env.do("GET", "/daily/leaderboard", nil, &lb))
	require.Len(t, lb.Top, 1)
	assert.False(t, lb.Top[0].Won)
}

func TestGameMoves(t *testing.T) {
	env := newTestEnv(t)
	require.Equal(t, http.StatusOK, env.do("POST", "/auth/signup",
		map[string]string{"username": "wang_han", "password": "grape-wine"}, nil))

	g := env.newGame("月")
	base := "/game/" + g.GameID
	require.Equal(t, http.StatusOK, env.do("POST", base+"/player", map[string]string{"input": "举头望明月"}, nil))
	require.Equal(t, http.StatusOK, env.do("POST", base+"/end", map[string]string{"winner": "player", "reason": "resign"}, nil))

	var moves []history.Move
	require.Equal(t, http.StatusOK, env.do("GET", "/games/"+g.GameID+"/moves", nil, &moves))
	require.Len(t, moves, 2)
	assert.Equal(t, "床前明月光", moves[0].Content)
	assert.Equal(t, string(game.SideOpponent), moves[0].Side)
	assert.Equal(t, "举头望明月", moves[1].Content)
	assert.Equal(t, string(game.SidePlayer), moves[1].Side)

	other := env.otherClient()
	require.Equal(t, http.StatusOK, other.do("POST", "/auth/signup",
		map[string]string{"username": "wang_zhihuan", "password": "stork-tower"}, nil))
	assert.Equal(t, http.StatusNotFound, other.do("GET", "/games/"+g.GameID+"/moves", nil, nil))
	assert.Equal(t, http.StatusNotFound, env.do("GET", "/games/missing/moves", nil, nil))
}

func TestGameStream(t *testing.T) {
	env := newTestEnv(t)
	g := env.newGame("月")

	wsURL := "ws" + strings.TrimPrefix(env.srv.URL, "http") + "/game/" + g.GameID + "/ws"
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, env.cookieHeader())
	require.NoError(t, err)
	defer conn.Close()
	_ = conn.SetReadDeadline(time.Now().Add(5 * time.Second))

	var s game.Session
	require.NoError(t, conn.ReadJSON(&s))
	assert.Equal(t, 15, *s.RemainingSeconds)

	env.sched.fire(1)
	require.NoError(t, conn.ReadJSON(&s))
	assert.Equal(t, 14, *s.RemainingSeconds)
}

func TestMetrics(t *testing.T) {
	env := newTestEnv(t)
	env.newGame("月")

	resp, err := env.c.Get(env.srv.URL + "/metrics")
	require.NoError(t, err)
	defer resp.Body.Close()
	b, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.Contains(t, string(b), "feihua_games_started_total")
}
