package server

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/subplot/subplot/internal/db"
	"github.com/subplot/subplot/internal/model"
	"github.com/subplot/subplot/internal/scan"
)

type scanRequest struct {
	Directory string `json:"directory"`
	AutoMatch bool   `json:"auto_match"`
	Language  string `json:"language,omitempty"`
}

func (s *Server) decodeScanRequest(r *http.Request) (scan.Options, error) {
	var payload scanRequest
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		return scan.Options{}, fmt.Errorf("decode request: %w", err)
	}
	dir := strings.TrimSpace(payload.Directory)
	if dir == "" {
		dir = s.cfg.DefaultDirectory
	}
	if dir == "" {
		return scan.Options{}, errors.New("directory is required")
	}
	language := payload.Language
	if language == "" {
		language = s.repo.GetSetting("language", "")
	}
	return scan.Options{Directory: dir, AutoMatch: payload.AutoMatch, Language: language}, nil
}

// handleScan runs a scan to completion and returns the final file list.
func (s *Server) handleScan(w http.ResponseWriter, r *http.Request) {
	opts, err := s.decodeScanRequest(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}

	s.events.Publish("scan.started", map[string]string{"directory": opts.Directory})
	started := time.Now()
	files, err := scan.Collect(s.scanner.Run(r.Context(), opts))
	if err != nil {
		s.events.Publish("scan.failed", map[string]string{"directory": opts.Directory, "error": err.Error()})
		writeError(w, http.StatusInternalServerError, err)
		return
	}

	withPlot := 0
	for _, f := range files {
		if f.HasPlot {
			withPlot++
		}
	}
	s.events.Publish("scan.completed", map[string]any{"directory": opts.Directory, "files": len(files)})
	writeJSON(w, http.StatusOK, map[string]any{
		"directory":       opts.Directory,
		"files":           files,
		"total":           len(files),
		"files_with_plot": withPlot,
		"duration_ms":     time.Since(started).Milliseconds(),
	})
}

// handleScanStream runs a scan and relays its frames as NDJSON. Client
// disconnect cancels the scan through the request context.
func (s *Server) handleScanStream(w http.ResponseWriter, r *http.Request) {
	opts, err := s.decodeScanRequest(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}

	nw, err := newNDJSONWriter(w)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}

	s.events.Publish("scan.started", map[string]string{"directory": opts.Directory})
	for frame := range s.scanner.Run(r.Context(), opts) {
		nw.Write(frame)
		switch frame.Type {
		case scan.FrameComplete:
			s.events.Publish("scan.completed", map[string]any{"directory": opts.Directory, "files": frame.Total})
		case scan.FrameError:
			s.events.Publish("scan.failed", map[string]string{"directory": opts.Directory, "error": frame.Error})
		}
	}
}

// ---- scheduled scans -------------------------------------------------------

func (s *Server) handleListScheduledScans(w http.ResponseWriter, r *http.Request) {
	scans, err := s.repo.ListScheduledScans(queryInt(r, "limit", 50, 500), strings.TrimSpace(r.URL.Query().Get("status")))
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	if scans == nil {
		scans = []model.ScheduledScan{}
	}
	writeJSON(w, http.StatusOK, scans)
}

func (s *Server) handleCreateScheduledScan(w http.ResponseWriter, r *http.Request) {
	var payload struct {
		Directory    string    `json:"directory"`
		ScheduledFor time.Time `json:"scheduled_for"`
	}
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		writeError(w, http.StatusBadRequest, fmt.Errorf("decode request: %w", err))
		return
	}
	if strings.TrimSpace(payload.Directory) == "" {
		writeError(w, http.StatusBadRequest, errors.New("directory is required"))
		return
	}
	if payload.ScheduledFor.IsZero() {
		writeError(w, http.StatusBadRequest, errors.New("scheduled_for is required"))
		return
	}

	created, err := s.repo.CreateScheduledScan(payload.Directory, payload.ScheduledFor)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	s.events.Publish("scheduled_scan.created", created)
	writeJSON(w, http.StatusCreated, created)
}

func (s *Server) handleGetScheduledScan(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	sc, err := s.repo.GetScheduledScan(id)
	if err != nil {
		if errors.Is(err, db.ErrNotFound) {
			writeError(w, http.StatusNotFound, errors.New("scheduled scan not found"))
			return
		}
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusOK, sc)
}

func (s *Server) handleCancelScheduledScan(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	if err := s.repo.CancelScheduledScan(id); err != nil {
		if errors.Is(err, db.ErrInvalidTransition) {
			writeError(w, http.StatusConflict, errors.New("only scheduled scans can be cancelled"))
			return
		}
		writeError(w, http.StatusInternalServerError, err)
		return
	}

	sc, err := s.repo.GetScheduledScan(id)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	s.events.Publish("scheduled_scan.cancelled", sc)
	writeJSON(w, http.StatusOK, sc)
}
