package server

import (
	"errors"
	"net/http"
	"sort"
	"strings"

	"github.com/subplot/subplot/internal/db"
	"github.com/subplot/subplot/internal/model"
	"github.com/subplot/subplot/internal/titles"
)

// handleLibrary builds the paginated health report from the latest scan
// snapshot: files grouped per detected title with per-group issue counters.
func (s *Server) handleLibrary(w http.ResponseWriter, r *http.Request) {
	files, err := s.repo.LatestScanFiles()
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	latest, err := s.repo.LatestResultPerFile()
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}

	groups := map[string]*model.LibraryItem{}
	for _, f := range files {
		title, year := f.Title, f.Year
		if title == "" {
			ext := titles.Extract(f.Name)
			title, year = ext.Title, ext.Year
		}

		key := strings.ToLower(title) + "|" + year
		item, ok := groups[key]
		if !ok {
			item = &model.LibraryItem{Title: title, Year: year}
			groups[key] = item
		}

		lf := model.LibraryFile{FileInfo: f, DisplayName: title}
		if res, ok := latest[f.Path]; ok {
			lf.LatestStatus = res.Status
			lf.LatestError = res.ErrorMessage
		}
		item.Files = append(item.Files, lf)

		if !f.HasPlot {
			item.Health.MissingPlot++
		}
		if f.DuplicatePlot {
			item.Health.DuplicatePlot++
		}
		if f.Status == "insufficient_gap" {
			item.Health.InsufficientGap++
		}
	}

	items := make([]model.LibraryItem, 0, len(groups))
	for _, item := range groups {
		items = append(items, *item)
	}
	sort.Slice(items, func(i, j int) bool {
		return strings.ToLower(items[i].Title) < strings.ToLower(items[j].Title)
	})

	page := queryInt(r, "page", 1, 0)
	pageSize := queryInt(r, "page_size", 50, 500)
	start := (page - 1) * pageSize
	if start > len(items) {
		start = len(items)
	}
	end := start + pageSize
	if end > len(items) {
		end = len(items)
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"items":       items[start:end],
		"page":        page,
		"page_size":   pageSize,
		"total_items": len(items),
		"total_files": len(files),
	})
}

// ---- usage -----------------------------------------------------------------

func (s *Server) handleUsage(w http.ResponseWriter, _ *http.Request) {
	stats := make([]model.UsageStats, 0, len(s.providers))
	seen := map[string]bool{}
	for _, p := range s.providers {
		// The combined source shares its components' ledgers.
		for _, name := range strings.Split(p.Name(), "+") {
			if seen[name] {
				continue
			}
			seen[name] = true
			st, err := s.ledger.Stats(name, p.DailyLimit())
			if err != nil {
				writeError(w, http.StatusInternalServerError, err)
				return
			}
			stats = append(stats, st)
		}
	}
	sort.Slice(stats, func(i, j int) bool { return stats[i].Provider < stats[j].Provider })
	writeJSON(w, http.StatusOK, stats)
}

// ---- history ---------------------------------------------------------------

func (s *Server) handleRunHistory(w http.ResponseWriter, r *http.Request) {
	runs, err := s.repo.RunHistory(queryInt(r, "limit", 50, 500))
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	if runs == nil {
		runs = []model.ProcessingRun{}
	}
	writeJSON(w, http.StatusOK, runs)
}

func (s *Server) handleGetRun(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	run, err := s.repo.GetRun(id)
	if err != nil {
		if errors.Is(err, db.ErrNotFound) {
			writeError(w, http.StatusNotFound, errors.New("run not found"))
			return
		}
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusOK, run)
}

func (s *Server) handleScanHistory(w http.ResponseWriter, r *http.Request) {
	scans, err := s.repo.ScanHistory(queryInt(r, "limit", 50, 500))
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	if scans == nil {
		scans = []model.ScanHistoryEntry{}
	}
	writeJSON(w, http.StatusOK, scans)
}

// ---- statistics ------------------------------------------------------------

func (s *Server) handleStatistics(w http.ResponseWriter, _ *http.Request) {
	runs, err := s.repo.RunHistory(500)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	totalProcessed, totalSuccessful, totalFailed := 0, 0, 0
	for _, run := range runs {
		totalProcessed += run.TotalFiles
		totalSuccessful += run.SuccessfulFiles
		totalFailed += run.FailedFiles
	}

	files, err := s.repo.LatestScanFiles()
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	withPlot := 0
	for _, f := range files {
		if f.HasPlot {
			withPlot++
		}
	}

	matches, err := s.repo.SuggestedMatches()
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	rules, err := s.repo.ListAutomationRules()
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	enabledRules := 0
	for _, rule := range rules {
		if rule.Enabled {
			enabledRules++
		}
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"runs":               len(runs),
		"files_processed":    totalProcessed,
		"files_successful":   totalSuccessful,
		"files_failed":       totalFailed,
		"library_files":      len(files),
		"library_with_plot":  withPlot,
		"pending_matches":    len(matches),
		"automation_rules":   len(rules),
		"automation_enabled": enabledRules,
	})
}
