// internal/httpserver/routes_corpus.go
//
// Read-only corpus endpoints.
//   - GET /works/{id}          → author, title, lines and a source search URL
//   - GET /chars               → the full recommended character list
//   - GET /chars/recommended   → n random recommended characters (default 3)

package httpserver

import (
	"encoding/json"
	"errors"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog/log"

	"github.com/robalobadob/feihualing/internal/corpus"
)

const (
	defaultRecommended = 3
	maxRecommended     = 20
	searchBase         = "https://www.gushicimingju.com/search/alls/"
)

func (s *Server) mountCorpus(r chi.Router) {
	r.Get("/works/{id}", s.handleWork)
	r.Get("/chars", func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(map[string][]string{"chars": s.chars.All()})
	})
	r.Get("/chars/recommended", s.handleRecommendedChars)
}

type workRes struct {
	corpus.Work
	SourceURL string `json:"sourceUrl"`
}

func (s *Server) handleWork(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid_id")
		return
	}
	work, err := s.corpus.GetWorkByID(r.Context(), id)
	if errors.Is(err, corpus.ErrNotFound) {
		writeError(w, http.StatusNotFound, "not_found")
		return
	}
	if err != nil {
		log.Error().Err(err).Int64("work", id).Msg("get work")
		writeError(w, http.StatusInternalServerError, "corpus_error")
		return
	}
	_ = json.NewEncoder(w).Encode(workRes{Work: work, SourceURL: SourceURL(work.Title, work.Author)})
}

// SourceURL links a work to its page on gushicimingju.com. Only the first
// space-separated token of the title is used, since titles may carry a
// subtitle.
func SourceURL(title, author string) string {
	first, _, _ := strings.Cut(strings.TrimSpace(title), " ")
	return searchBase + escapeComponent(first) + "+" + escapeComponent(author)
}

// escapeComponent percent-encodes s for use inside a path segment, spaces as %20.
func escapeComponent(s string) string {
	return strings.ReplaceAll(url.QueryEscape(s), "+", "%20")
}

func (s *Server) handleRecommendedChars(w http.ResponseWriter, r *http.Request) {
	n := defaultRecommended
	if v := r.URL.Query().Get("n"); v != "" {
		parsed, err := strconv.Atoi(v)
		if err != nil || parsed < 1 {
			writeError(w, http.StatusBadRequest, "invalid_n")
			return
		}
		n = min(parsed, maxRecommended)
	}
	_ = json.NewEncoder(w).Encode(map[string][]string{"chars": s.chars.Pick(n)})
}
