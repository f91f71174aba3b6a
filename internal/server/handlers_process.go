package server

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"regexp"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/subplot/subplot/internal/db"
	"github.com/subplot/subplot/internal/model"
	"github.com/subplot/subplot/internal/process"
	"github.com/subplot/subplot/internal/provider"
)

var searchYearRe = regexp.MustCompile(`\((\d{4})\)`)

// ---- search ----------------------------------------------------------------

type searchRequest struct {
	Query           string `json:"query"`
	Mode            string `json:"mode,omitempty"`
	PreferredSource string `json:"preferred_source,omitempty"`
	Language        string `json:"language,omitempty"`
}

func (s *Server) handleSearch(w http.ResponseWriter, r *http.Request) {
	var payload searchRequest
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		writeError(w, http.StatusBadRequest, fmt.Errorf("decode request: %w", err))
		return
	}
	if strings.TrimSpace(payload.Query) == "" {
		writeError(w, http.StatusBadRequest, errors.New("query is required"))
		return
	}

	mode := payload.Mode
	if mode != provider.ModeFull {
		mode = provider.ModeQuick
	}
	source := payload.PreferredSource
	if source == "" {
		source = s.repo.GetSetting("preferred_source", provider.SourceBoth)
	}
	p, ok := s.providers[source]
	if !ok {
		writeError(w, http.StatusBadRequest, fmt.Errorf("unknown source %q", source))
		return
	}
	language := payload.Language
	if language == "" {
		language = s.repo.GetSetting("language", "")
	}

	// Free-text queries go to providers as typed; only a parenthesized year
	// is lifted out. Release-name token stripping is a filename concern.
	title := strings.TrimSpace(payload.Query)
	year := ""
	if m := searchYearRe.FindStringSubmatch(title); m != nil {
		year = m[1]
		title = strings.TrimSpace(strings.Replace(title, m[0], "", 1))
	}

	candidates, err := p.Search(r.Context(), provider.Query{
		Title:    title,
		Year:     year,
		Mode:     mode,
		Language: language,
	})
	if err != nil {
		writeError(w, http.StatusBadGateway, err)
		return
	}
	ranked := provider.Rank(candidates, mode)
	if ranked == nil {
		ranked = []model.MetadataRecord{}
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"query":      payload.Query,
		"title":      title,
		"year":       year,
		"mode":       mode,
		"source":     source,
		"candidates": ranked,
	})
}

// ---- processing ------------------------------------------------------------

type processRequest struct {
	Files          []process.Item `json:"files"`
	ForceReprocess bool           `json:"force_reprocess"`
}

func decodeProcessRequest(r *http.Request) (processRequest, error) {
	var payload processRequest
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		return payload, fmt.Errorf("decode request: %w", err)
	}
	if len(payload.Files) == 0 {
		return payload, errors.New("files is required")
	}
	for _, item := range payload.Files {
		if strings.TrimSpace(item.Path) == "" {
			return payload, errors.New("every file needs a path")
		}
	}
	return payload, nil
}

// handleProcess runs a batch to completion and returns plain results.
func (s *Server) handleProcess(w http.ResponseWriter, r *http.Request) {
	payload, err := decodeProcessRequest(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}

	s.events.Publish("run.started", map[string]int{"total": len(payload.Files)})
	results, successful, failed, err := process.Collect(
		s.batcher.Run(r.Context(), payload.Files, s.batchOptions(payload.ForceReprocess)))
	if err != nil {
		s.events.Publish("run.failed", map[string]string{"error": err.Error()})
		writeError(w, http.StatusInternalServerError, err)
		return
	}

	s.events.Publish("run.completed", map[string]int{"successful": successful, "failed": failed})
	writeJSON(w, http.StatusOK, map[string]any{
		"results":    results,
		"total":      len(payload.Files),
		"successful": successful,
		"failed":     failed,
	})
}

// handleProcessBatch streams start/progress/result/complete frames as NDJSON.
func (s *Server) handleProcessBatch(w http.ResponseWriter, r *http.Request) {
	payload, err := decodeProcessRequest(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}

	nw, err := newNDJSONWriter(w)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}

	s.events.Publish("run.started", map[string]int{"total": len(payload.Files)})
	for frame := range s.batcher.Run(r.Context(), payload.Files, s.batchOptions(payload.ForceReprocess)) {
		nw.Write(frame)
		switch frame.Type {
		case process.FrameComplete:
			s.events.Publish("run.completed", map[string]int{"successful": frame.Successful, "failed": frame.Failed})
		case process.FrameError:
			s.events.Publish("run.failed", map[string]string{"error": frame.Error})
		}
	}
}

// ---- suggested matches -----------------------------------------------------

func (s *Server) handleListMatches(w http.ResponseWriter, _ *http.Request) {
	matches, err := s.repo.SuggestedMatches()
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	if matches == nil {
		matches = []model.SuggestedMatch{}
	}
	writeJSON(w, http.StatusOK, matches)
}

func (s *Server) handleSaveMatch(w http.ResponseWriter, r *http.Request) {
	var payload struct {
		FilePath string               `json:"file_path"`
		Match    model.MetadataRecord `json:"match"`
	}
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		writeError(w, http.StatusBadRequest, fmt.Errorf("decode request: %w", err))
		return
	}
	if strings.TrimSpace(payload.FilePath) == "" || payload.Match.Title == "" {
		writeError(w, http.StatusBadRequest, errors.New("file_path and match.title are required"))
		return
	}

	if err := s.repo.SaveSuggestedMatch(payload.FilePath, payload.Match); err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	saved, err := s.repo.SuggestedMatchByPath(payload.FilePath)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusCreated, saved)
}

func (s *Server) handleDeleteMatch(w http.ResponseWriter, r *http.Request) {
	path := "/" + strings.TrimPrefix(chi.URLParam(r, "*"), "/")
	if err := s.repo.DeleteSuggestedMatch(path); err != nil {
		if errors.Is(err, db.ErrNotFound) {
			writeError(w, http.StatusNotFound, errors.New("suggested match not found"))
			return
		}
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"deleted": path})
}

func (s *Server) handleClearMatches(w http.ResponseWriter, _ *http.Request) {
	n, err := s.repo.ClearSuggestedMatches()
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]int64{"deleted": n})
}
