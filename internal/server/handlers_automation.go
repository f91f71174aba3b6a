package server

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/subplot/subplot/internal/automation"
	"github.com/subplot/subplot/internal/db"
	"github.com/subplot/subplot/internal/model"
)

type rulePayload struct {
	Name          string   `json:"name"`
	Schedule      string   `json:"schedule"`
	Enabled       *bool    `json:"enabled,omitempty"`
	Patterns      []string `json:"patterns"`
	TargetFolders []string `json:"target_folders"`
}

func (p rulePayload) validate() error {
	if strings.TrimSpace(p.Name) == "" {
		return errors.New("name is required")
	}
	if _, err := automation.ParseSchedule(p.Schedule); err != nil {
		return err
	}
	if len(p.Patterns) == 0 {
		return errors.New("at least one pattern is required")
	}
	if len(p.TargetFolders) == 0 {
		return errors.New("at least one target folder is required")
	}
	return nil
}

func (s *Server) handleListRules(w http.ResponseWriter, _ *http.Request) {
	rules, err := s.repo.ListAutomationRules()
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	if rules == nil {
		rules = []model.AutomationRule{}
	}
	writeJSON(w, http.StatusOK, rules)
}

func (s *Server) handleCreateRule(w http.ResponseWriter, r *http.Request) {
	var payload rulePayload
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		writeError(w, http.StatusBadRequest, fmt.Errorf("decode request: %w", err))
		return
	}
	if err := payload.validate(); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}

	enabled := true
	if payload.Enabled != nil {
		enabled = *payload.Enabled
	}
	rule := &model.AutomationRule{
		Name:          payload.Name,
		Schedule:      payload.Schedule,
		Enabled:       enabled,
		Patterns:      payload.Patterns,
		TargetFolders: payload.TargetFolders,
	}
	if err := s.repo.CreateAutomationRule(rule); err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	s.events.Publish("automation.created", rule)
	writeJSON(w, http.StatusCreated, rule)
}

func (s *Server) handleGetRule(w http.ResponseWriter, r *http.Request) {
	rule, err := s.repo.GetAutomationRule(chi.URLParam(r, "id"))
	if err != nil {
		if errors.Is(err, db.ErrNotFound) {
			writeError(w, http.StatusNotFound, errors.New("automation rule not found"))
			return
		}
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusOK, rule)
}

func (s *Server) handleUpdateRule(w http.ResponseWriter, r *http.Request) {
	rule, err := s.repo.GetAutomationRule(chi.URLParam(r, "id"))
	if err != nil {
		if errors.Is(err, db.ErrNotFound) {
			writeError(w, http.StatusNotFound, errors.New("automation rule not found"))
			return
		}
		writeError(w, http.StatusInternalServerError, err)
		return
	}

	var payload rulePayload
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		writeError(w, http.StatusBadRequest, fmt.Errorf("decode request: %w", err))
		return
	}
	if err := payload.validate(); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}

	rule.Name = payload.Name
	rule.Schedule = payload.Schedule
	rule.Patterns = payload.Patterns
	rule.TargetFolders = payload.TargetFolders
	if payload.Enabled != nil {
		rule.Enabled = *payload.Enabled
	}
	if err := s.repo.UpdateAutomationRule(rule); err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	s.events.Publish("automation.updated", rule)
	writeJSON(w, http.StatusOK, rule)
}

func (s *Server) handleDeleteRule(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if err := s.repo.DeleteAutomationRule(id); err != nil {
		if errors.Is(err, db.ErrNotFound) {
			writeError(w, http.StatusNotFound, errors.New("automation rule not found"))
			return
		}
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	s.events.Publish("automation.deleted", map[string]string{"id": id})
	writeJSON(w, http.StatusOK, map[string]string{"deleted": id})
}

func (s *Server) handleRunRule(w http.ResponseWriter, r *http.Request) {
	rule, err := s.repo.GetAutomationRule(chi.URLParam(r, "id"))
	if err != nil {
		if errors.Is(err, db.ErrNotFound) {
			writeError(w, http.StatusNotFound, errors.New("automation rule not found"))
			return
		}
		writeError(w, http.StatusInternalServerError, err)
		return
	}

	dryRun := strings.EqualFold(r.URL.Query().Get("dry_run"), "true")
	report := s.automation.RunRule(r.Context(), *rule, dryRun)
	s.events.Publish("automation.ran", report)
	writeJSON(w, http.StatusOK, report)
}

func (s *Server) handleRuleLogs(w http.ResponseWriter, r *http.Request) {
	logs, err := s.repo.AutomationLogs(chi.URLParam(r, "id"), queryInt(r, "limit", 100, 1000))
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	if logs == nil {
		logs = []model.AutomationLog{}
	}
	writeJSON(w, http.StatusOK, logs)
}

// ---- folder rules ----------------------------------------------------------

func (s *Server) handleListFolderRules(w http.ResponseWriter, _ *http.Request) {
	rules, err := s.repo.ListFolderRules()
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	if rules == nil {
		rules = []model.FolderRule{}
	}
	writeJSON(w, http.StatusOK, rules)
}

func (s *Server) handleSaveFolderRule(w http.ResponseWriter, r *http.Request) {
	var payload model.FolderRule
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		writeError(w, http.StatusBadRequest, fmt.Errorf("decode request: %w", err))
		return
	}
	if strings.TrimSpace(payload.Directory) == "" {
		writeError(w, http.StatusBadRequest, errors.New("directory is required"))
		return
	}
	if err := s.repo.SaveFolderRule(payload); err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusCreated, payload)
}

func (s *Server) handleDeleteFolderRule(w http.ResponseWriter, r *http.Request) {
	directory := strings.TrimSpace(r.URL.Query().Get("directory"))
	if directory == "" {
		writeError(w, http.StatusBadRequest, errors.New("directory is required"))
		return
	}
	if err := s.repo.DeleteFolderRule(directory); err != nil {
		if errors.Is(err, db.ErrNotFound) {
			writeError(w, http.StatusNotFound, errors.New("folder rule not found"))
			return
		}
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"deleted": directory})
}
