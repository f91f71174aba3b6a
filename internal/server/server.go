// Package server is the HTTP surface: JSON REST plus NDJSON streams for
// long-running scans and batches, and an SSE event feed.
package server

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/subplot/subplot/internal/automation"
	"github.com/subplot/subplot/internal/config"
	"github.com/subplot/subplot/internal/db"
	"github.com/subplot/subplot/internal/process"
	"github.com/subplot/subplot/internal/provider"
	"github.com/subplot/subplot/internal/scan"
	"github.com/subplot/subplot/internal/srt"
	"github.com/subplot/subplot/internal/usage"
)

type Server struct {
	cfg        config.Config
	repo       *db.Repository
	ledger     *usage.Ledger
	providers  map[string]provider.Provider
	processor  *srt.Processor
	scanner    *scan.Engine
	batcher    *process.Engine
	automation *automation.Engine
	events     *EventBus
}

func New(cfg config.Config, repo *db.Repository, ledger *usage.Ledger, providers map[string]provider.Provider,
	processor *srt.Processor, scanner *scan.Engine, batcher *process.Engine, auto *automation.Engine) *Server {
	return &Server{
		cfg:        cfg,
		repo:       repo,
		ledger:     ledger,
		providers:  providers,
		processor:  processor,
		scanner:    scanner,
		batcher:    batcher,
		automation: auto,
		events:     NewEventBus(),
	}
}

func (s *Server) Routes() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)

	r.Route("/api", func(api chi.Router) {
		api.Get("/health", s.handleHealth)
		api.Get("/events", s.handleEvents)

		api.Get("/settings", s.handleGetSettings)
		api.Post("/settings", s.handleUpdateSettings)

		api.Post("/scan", s.handleScan)
		api.Post("/scan/stream", s.handleScanStream)

		api.Post("/search", s.handleSearch)
		api.Post("/process", s.handleProcess)
		api.Post("/process/batch", s.handleProcessBatch)

		api.Get("/suggested-matches", s.handleListMatches)
		api.Post("/suggested-matches", s.handleSaveMatch)
		api.Delete("/suggested-matches", s.handleClearMatches)
		api.Delete("/suggested-matches/*", s.handleDeleteMatch)

		api.Get("/automations", s.handleListRules)
		api.Post("/automations", s.handleCreateRule)
		api.Get("/automations/{id}", s.handleGetRule)
		api.Put("/automations/{id}", s.handleUpdateRule)
		api.Delete("/automations/{id}", s.handleDeleteRule)
		api.Post("/automations/{id}/run", s.handleRunRule)
		api.Get("/automations/{id}/logs", s.handleRuleLogs)

		api.Get("/scheduled-scans", s.handleListScheduledScans)
		api.Post("/scheduled-scans", s.handleCreateScheduledScan)
		api.Get("/scheduled-scans/{id}", s.handleGetScheduledScan)
		api.Post("/scheduled-scans/{id}/cancel", s.handleCancelScheduledScan)

		api.Get("/integrations/usage", s.handleUsage)

		api.Get("/library", s.handleLibrary)

		api.Get("/folder-rules", s.handleListFolderRules)
		api.Post("/folder-rules", s.handleSaveFolderRule)
		api.Delete("/folder-rules", s.handleDeleteFolderRule)

		api.Get("/history/runs", s.handleRunHistory)
		api.Get("/history/runs/{id}", s.handleGetRun)
		api.Get("/history/scans", s.handleScanHistory)

		api.Get("/statistics", s.handleStatistics)
	})

	r.Handle("/*", s.staticHandler())
	return r
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":  "ok",
		"service": "subplot",
		"version": "0.1.0",
		"time":    time.Now().UTC().Format(time.RFC3339),
		"storage": "sqlite",
	})
}

func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		writeError(w, http.StatusInternalServerError, errors.New("streaming unsupported"))
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)

	stream := s.events.Subscribe()
	defer s.events.Unsubscribe(stream)

	heartbeat := time.NewTicker(15 * time.Second)
	defer heartbeat.Stop()

	for {
		select {
		case <-r.Context().Done():
			return
		case msg := <-stream:
			_, _ = fmt.Fprintf(w, "data: %s\n\n", msg)
			flusher.Flush()
		case <-heartbeat.C:
			_, _ = io.WriteString(w, ": heartbeat\n\n")
			flusher.Flush()
		}
	}
}

// ---- settings --------------------------------------------------------------

// settingDefaults back every key the UI can change.
var settingDefaults = map[string]string{
	"preferred_source":       provider.SourceBoth,
	"insertion_position":     srt.PositionStart,
	"language":               "",
	"subtitle_title_bold":    "true",
	"subtitle_plot_italic":   "true",
	"subtitle_show_director": "false",
	"subtitle_show_actors":   "false",
	"subtitle_show_released": "false",
	"subtitle_show_genre":    "false",
	"clean_advertising":      "false",
}

func (s *Server) handleGetSettings(w http.ResponseWriter, _ *http.Request) {
	stored, err := s.repo.AllSettings()
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	merged := make(map[string]string, len(settingDefaults))
	for key, fallback := range settingDefaults {
		merged[key] = fallback
		if v, ok := stored[key]; ok {
			merged[key] = v
		}
	}
	writeJSON(w, http.StatusOK, merged)
}

func (s *Server) handleUpdateSettings(w http.ResponseWriter, r *http.Request) {
	var payload map[string]string
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		writeError(w, http.StatusBadRequest, fmt.Errorf("decode request: %w", err))
		return
	}
	for key, value := range payload {
		if _, known := settingDefaults[key]; !known {
			writeError(w, http.StatusBadRequest, fmt.Errorf("unknown setting %q", key))
			return
		}
		if err := s.repo.SetSetting(key, value); err != nil {
			writeError(w, http.StatusInternalServerError, err)
			return
		}
	}
	s.events.Publish("settings.updated", payload)
	s.handleGetSettings(w, r)
}

// batchOptions assembles the effective processing defaults from the settings
// store. Folder rules layer on top per file inside the batch engine.
func (s *Server) batchOptions(forceReprocess bool) process.Options {
	return process.Options{
		ForceReprocess: forceReprocess,
		CleanContent:   s.boolSetting("clean_advertising"),
		Position:       s.repo.GetSetting("insertion_position", srt.PositionStart),
		Language:       s.repo.GetSetting("language", ""),
		Source:         s.repo.GetSetting("preferred_source", provider.SourceBoth),
		Format: srt.FormatOptions{
			TitleBold:    s.boolSetting("subtitle_title_bold"),
			PlotItalic:   s.boolSetting("subtitle_plot_italic"),
			ShowDirector: s.boolSetting("subtitle_show_director"),
			ShowActors:   s.boolSetting("subtitle_show_actors"),
			ShowReleased: s.boolSetting("subtitle_show_released"),
			ShowGenre:    s.boolSetting("subtitle_show_genre"),
		},
	}
}

func (s *Server) boolSetting(key string) bool {
	return s.repo.GetSetting(key, settingDefaults[key]) == "true"
}

// ---- shared helpers --------------------------------------------------------

func (s *Server) staticHandler() http.Handler {
	index := filepath.Join(s.cfg.StaticDir, "index.html")
	if _, err := os.Stat(index); err == nil {
		fs := http.FileServer(http.Dir(s.cfg.StaticDir))
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			relativePath := strings.TrimPrefix(r.URL.Path, "/")
			path := filepath.Join(s.cfg.StaticDir, filepath.Clean(relativePath))
			if info, err := os.Stat(path); err == nil && !info.IsDir() {
				fs.ServeHTTP(w, r)
				return
			}
			http.ServeFile(w, r, index)
		})
	}

	return http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]any{
			"message": "frontend build not found. run npm run build in /web or use Docker image",
		})
	})
}

func queryInt(r *http.Request, key string, fallback, max int) int {
	raw := strings.TrimSpace(r.URL.Query().Get(key))
	if raw == "" {
		return fallback
	}
	parsed, err := strconv.Atoi(raw)
	if err != nil || parsed <= 0 || (max > 0 && parsed > max) {
		return fallback
	}
	return parsed
}

func pathID(r *http.Request) (int64, error) {
	id, err := strconv.ParseInt(strings.TrimSpace(chi.URLParam(r, "id")), 10, 64)
	if err != nil || id <= 0 {
		return 0, errors.New("invalid id")
	}
	return id, nil
}

func writeError(w http.ResponseWriter, status int, err error) {
	writeJSON(w, status, map[string]string{"error": err.Error()})
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

// ndjsonWriter serializes frames one JSON object per line, flushing after
// each so clients see progress as it happens.
type ndjsonWriter struct {
	w       http.ResponseWriter
	flusher http.Flusher
	enc     *json.Encoder
}

func newNDJSONWriter(w http.ResponseWriter) (*ndjsonWriter, error) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		return nil, errors.New("streaming unsupported")
	}
	w.Header().Set("Content-Type", "application/x-ndjson")
	w.Header().Set("Cache-Control", "no-cache")
	w.WriteHeader(http.StatusOK)
	return &ndjsonWriter{w: w, flusher: flusher, enc: json.NewEncoder(w)}, nil
}

func (nw *ndjsonWriter) Write(frame any) {
	if err := nw.enc.Encode(frame); err != nil {
		return
	}
	nw.flusher.Flush()
}
