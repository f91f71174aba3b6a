package server

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/subplot/subplot/internal/automation"
	"github.com/subplot/subplot/internal/config"
	"github.com/subplot/subplot/internal/db"
	"github.com/subplot/subplot/internal/model"
	"github.com/subplot/subplot/internal/process"
	"github.com/subplot/subplot/internal/provider"
	"github.com/subplot/subplot/internal/scan"
	"github.com/subplot/subplot/internal/srt"
	"github.com/subplot/subplot/internal/usage"
)

const dialogueSRT = `1
00:01:00,000 --> 00:01:02,500
We're not so different, you and I.

2
00:01:05,000 --> 00:01:07,000
Speak for yourself.
`

type stubProvider struct {
	name      string
	records   []model.MetadataRecord
	err       error
	lastQuery provider.Query
}

func (s *stubProvider) Name() string    { return s.name }
func (s *stubProvider) DailyLimit() int { return 1000 }
func (s *stubProvider) Search(_ context.Context, q provider.Query) ([]model.MetadataRecord, error) {
	s.lastQuery = q
	return s.records, s.err
}

type testEnv struct {
	handler http.Handler
	repo    *db.Repository
	stub    *stubProvider
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	conn, err := db.Open(filepath.Join(t.TempDir(), "server.db"))
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	repo := db.NewRepository(conn)
	ledger := usage.NewLedger(repo)

	stub := &stubProvider{name: "omdb", records: []model.MetadataRecord{{
		Title: "Heat", Year: "1995", Plot: "A crew of thieves and the detective chasing them.",
		IMDbRating: "8.3/10", Runtime: "170 min", MediaType: "movie", Provider: "omdb",
	}}}
	providers := map[string]provider.Provider{
		provider.SourceOMDb: stub,
		provider.SourceBoth: stub,
	}

	processor := srt.NewProcessor(500)
	scanner := scan.NewEngine(repo, processor, stub, time.Millisecond)
	batcher := process.NewEngine(repo, processor, providers, time.Millisecond)
	auto := automation.NewEngine(repo)

	cfg := config.Config{StaticDir: t.TempDir()}
	srv := New(cfg, repo, ledger, providers, processor, scanner, batcher, auto)
	return &testEnv{handler: srv.Routes(), repo: repo, stub: stub}
}

func (e *testEnv) request(t *testing.T, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	rec := httptest.NewRecorder()
	e.handler.ServeHTTP(rec, req)
	return rec
}

func decodeBody[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var out T
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out), rec.Body.String())
	return out
}

func writeLibrary(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "Heat.1995.1080p.srt"), []byte(dialogueSRT), 0o644))
	return dir
}

func TestHealth(t *testing.T) {
	env := newTestEnv(t)
	rec := env.request(t, http.MethodGet, "/api/health", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	body := decodeBody[map[string]any](t, rec)
	assert.Equal(t, "ok", body["status"])
	assert.Equal(t, "subplot", body["service"])
}

func TestSettingsRoundTrip(t *testing.T) {
	env := newTestEnv(t)

	rec := env.request(t, http.MethodGet, "/api/settings", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	defaults := decodeBody[map[string]string](t, rec)
	assert.Equal(t, "start", defaults["insertion_position"])
	assert.Equal(t, "true", defaults["subtitle_title_bold"])

	rec = env.request(t, http.MethodPost, "/api/settings", map[string]string{"insertion_position": "end"})
	require.Equal(t, http.StatusOK, rec.Code)
	updated := decodeBody[map[string]string](t, rec)
	assert.Equal(t, "end", updated["insertion_position"])

	rec = env.request(t, http.MethodPost, "/api/settings", map[string]string{"bogus_key": "x"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestScanEndpoint(t *testing.T) {
	env := newTestEnv(t)
	dir := writeLibrary(t)

	rec := env.request(t, http.MethodPost, "/api/scan", map[string]any{"directory": dir})
	require.Equal(t, http.StatusOK, rec.Code)
	body := decodeBody[map[string]any](t, rec)
	assert.EqualValues(t, 1, body["total"])
	assert.EqualValues(t, 0, body["files_with_plot"])
}

func TestScanEndpointRequiresDirectory(t *testing.T) {
	env := newTestEnv(t)
	rec := env.request(t, http.MethodPost, "/api/scan", map[string]any{})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestScanStreamEmitsNDJSONFrames(t *testing.T) {
	env := newTestEnv(t)
	dir := writeLibrary(t)

	rec := env.request(t, http.MethodPost, "/api/scan/stream", map[string]any{"directory": dir})
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "application/x-ndjson", rec.Header().Get("Content-Type"))

	var types []string
	scanner := bufio.NewScanner(rec.Body)
	for scanner.Scan() {
		var frame scan.Frame
		require.NoError(t, json.Unmarshal(scanner.Bytes(), &frame))
		types = append(types, frame.Type)
	}
	require.NotEmpty(t, types)
	assert.Equal(t, scan.FrameComplete, types[len(types)-1])
}

func TestSearchEndpoint(t *testing.T) {
	env := newTestEnv(t)

	rec := env.request(t, http.MethodPost, "/api/search", map[string]string{
		"query": "Heat (1995)", "mode": "quick", "preferred_source": "omdb",
	})
	require.Equal(t, http.StatusOK, rec.Code)
	body := decodeBody[struct {
		Title      string                 `json:"title"`
		Year       string                 `json:"year"`
		Candidates []model.MetadataRecord `json:"candidates"`
	}](t, rec)
	assert.Equal(t, "Heat", body.Title)
	assert.Equal(t, "1995", body.Year)
	require.Len(t, body.Candidates, 1)
	assert.Equal(t, "Heat", body.Candidates[0].Title)
}

func TestSearchSendsFreeTextQueryVerbatim(t *testing.T) {
	env := newTestEnv(t)

	// Title words that overlap release-name junk ("Patient", "Limited") must
	// survive untouched; only a parenthesized year is lifted out.
	rec := env.request(t, http.MethodPost, "/api/search", map[string]string{
		"query": "The English Patient", "preferred_source": "omdb",
	})
	require.Equal(t, http.StatusOK, rec.Code)
	body := decodeBody[map[string]any](t, rec)
	assert.Equal(t, "The English Patient", body["title"])
	assert.Equal(t, "", body["year"])
	assert.Equal(t, "The English Patient", env.stub.lastQuery.Title)
	assert.Equal(t, "", env.stub.lastQuery.Year)
}

func TestSearchRejectsEmptyQuery(t *testing.T) {
	env := newTestEnv(t)
	rec := env.request(t, http.MethodPost, "/api/search", map[string]string{"query": "  "})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestProcessEndpoint(t *testing.T) {
	env := newTestEnv(t)
	dir := writeLibrary(t)
	path := filepath.Join(dir, "Heat.1995.1080p.srt")

	rec := env.request(t, http.MethodPost, "/api/process", map[string]any{
		"files": []map[string]any{{"path": path}},
	})
	require.Equal(t, http.StatusOK, rec.Code)
	body := decodeBody[struct {
		Successful int                `json:"successful"`
		Failed     int                `json:"failed"`
		Results    []model.FileResult `json:"results"`
	}](t, rec)
	assert.Equal(t, 1, body.Successful)
	assert.Zero(t, body.Failed)
	require.Len(t, body.Results, 1)

	raw, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(raw), srt.Sentinel)
	assert.Contains(t, string(raw), "Heat")
}

func TestProcessBatchStream(t *testing.T) {
	env := newTestEnv(t)
	dir := writeLibrary(t)
	path := filepath.Join(dir, "Heat.1995.1080p.srt")

	rec := env.request(t, http.MethodPost, "/api/process/batch", map[string]any{
		"files": []map[string]any{{"path": path}},
	})
	require.Equal(t, http.StatusOK, rec.Code)

	var types []string
	scanner := bufio.NewScanner(rec.Body)
	for scanner.Scan() {
		var frame process.Frame
		require.NoError(t, json.Unmarshal(scanner.Bytes(), &frame))
		types = append(types, frame.Type)
	}
	assert.Equal(t, []string{process.FrameStart, process.FrameProgress, process.FrameResult, process.FrameComplete}, types)
}

func TestProcessRejectsEmptyFiles(t *testing.T) {
	env := newTestEnv(t)
	rec := env.request(t, http.MethodPost, "/api/process", map[string]any{"files": []any{}})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestSuggestedMatchEndpoints(t *testing.T) {
	env := newTestEnv(t)

	rec := env.request(t, http.MethodPost, "/api/suggested-matches", map[string]any{
		"file_path": "/subs/heat.srt",
		"match":     map[string]string{"title": "Heat", "year": "1995"},
	})
	require.Equal(t, http.StatusCreated, rec.Code)

	rec = env.request(t, http.MethodGet, "/api/suggested-matches", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	matches := decodeBody[[]model.SuggestedMatch](t, rec)
	require.Len(t, matches, 1)
	assert.Equal(t, "Heat", matches[0].Match.Title)

	rec = env.request(t, http.MethodDelete, "/api/suggested-matches/subs/heat.srt", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	rec = env.request(t, http.MethodDelete, "/api/suggested-matches/subs/heat.srt", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestClearSuggestedMatches(t *testing.T) {
	env := newTestEnv(t)
	require.NoError(t, env.repo.SaveSuggestedMatch("/subs/a.srt", model.MetadataRecord{Title: "A"}))
	require.NoError(t, env.repo.SaveSuggestedMatch("/subs/b.srt", model.MetadataRecord{Title: "B"}))

	rec := env.request(t, http.MethodDelete, "/api/suggested-matches", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	body := decodeBody[map[string]int64](t, rec)
	assert.EqualValues(t, 2, body["deleted"])
}

func TestAutomationEndpoints(t *testing.T) {
	env := newTestEnv(t)
	dir := t.TempDir()
	wm := `1
00:00:01,000 --> 00:00:03,000
Downloaded via YTS.mx

2
00:01:00,000 --> 00:01:02,000
Real dialogue.
`
	require.NoError(t, os.WriteFile(filepath.Join(dir, "movie.srt"), []byte(wm), 0o644))

	rec := env.request(t, http.MethodPost, "/api/automations", map[string]any{
		"name": "strip yts", "schedule": "0 3 * * *",
		"patterns": []string{"YTS"}, "target_folders": []string{dir},
	})
	require.Equal(t, http.StatusCreated, rec.Code)
	rule := decodeBody[model.AutomationRule](t, rec)
	require.NotEmpty(t, rule.ID)

	rec = env.request(t, http.MethodPost, fmt.Sprintf("/api/automations/%s/run?dry_run=true", rule.ID), nil)
	require.Equal(t, http.StatusOK, rec.Code)
	report := decodeBody[model.RuleRunReport](t, rec)
	assert.True(t, report.DryRun)
	assert.Equal(t, 1, report.FilesModified)

	rec = env.request(t, http.MethodPost, fmt.Sprintf("/api/automations/%s/run", rule.ID), nil)
	require.Equal(t, http.StatusOK, rec.Code)

	raw, err := os.ReadFile(filepath.Join(dir, "movie.srt"))
	require.NoError(t, err)
	assert.NotContains(t, string(raw), "YTS")

	rec = env.request(t, http.MethodGet, fmt.Sprintf("/api/automations/%s/logs", rule.ID), nil)
	require.Equal(t, http.StatusOK, rec.Code)
	logs := decodeBody[[]model.AutomationLog](t, rec)
	assert.Len(t, logs, 2)

	rec = env.request(t, http.MethodDelete, "/api/automations/"+rule.ID, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	rec = env.request(t, http.MethodGet, "/api/automations/"+rule.ID, nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestAutomationValidation(t *testing.T) {
	env := newTestEnv(t)

	rec := env.request(t, http.MethodPost, "/api/automations", map[string]any{
		"name": "bad", "schedule": "not cron", "patterns": []string{"x"}, "target_folders": []string{"/tmp"},
	})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestScheduledScanEndpoints(t *testing.T) {
	env := newTestEnv(t)

	rec := env.request(t, http.MethodPost, "/api/scheduled-scans", map[string]any{
		"directory": "/subs", "scheduled_for": time.Now().Add(time.Hour).Format(time.RFC3339),
	})
	require.Equal(t, http.StatusCreated, rec.Code)
	created := decodeBody[model.ScheduledScan](t, rec)
	assert.Equal(t, model.ScanScheduled, created.Status)

	rec = env.request(t, http.MethodPost, fmt.Sprintf("/api/scheduled-scans/%d/cancel", created.ID), nil)
	require.Equal(t, http.StatusOK, rec.Code)
	cancelled := decodeBody[model.ScheduledScan](t, rec)
	assert.Equal(t, model.ScanCancelled, cancelled.Status)

	// Cancelling twice hits the state machine.
	rec = env.request(t, http.MethodPost, fmt.Sprintf("/api/scheduled-scans/%d/cancel", created.ID), nil)
	assert.Equal(t, http.StatusConflict, rec.Code)

	rec = env.request(t, http.MethodGet, "/api/scheduled-scans", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	scans := decodeBody[[]model.ScheduledScan](t, rec)
	assert.Len(t, scans, 1)
}

func TestUsageEndpoint(t *testing.T) {
	env := newTestEnv(t)
	require.NoError(t, env.repo.TrackAPICall("omdb", "search", true, 100*time.Millisecond, time.Now()))

	rec := env.request(t, http.MethodGet, "/api/integrations/usage", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	stats := decodeBody[[]model.UsageStats](t, rec)
	require.Len(t, stats, 1)
	assert.Equal(t, "omdb", stats[0].Provider)
	assert.Equal(t, 1, stats[0].TotalCalls24h)
	assert.Equal(t, 999, stats[0].Remaining)
}

func TestLibraryEndpoint(t *testing.T) {
	env := newTestEnv(t)
	dir := writeLibrary(t)

	rec := env.request(t, http.MethodPost, "/api/scan", map[string]any{"directory": dir})
	require.Equal(t, http.StatusOK, rec.Code)

	rec = env.request(t, http.MethodGet, "/api/library", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	body := decodeBody[struct {
		Items      []model.LibraryItem `json:"items"`
		TotalItems int                 `json:"total_items"`
	}](t, rec)
	require.Equal(t, 1, body.TotalItems)
	require.Len(t, body.Items, 1)
	assert.Equal(t, "Heat", body.Items[0].Title)
	assert.Equal(t, 1, body.Items[0].Health.MissingPlot)
	require.Len(t, body.Items[0].Files, 1)
}

func TestFolderRuleEndpoints(t *testing.T) {
	env := newTestEnv(t)

	rec := env.request(t, http.MethodPost, "/api/folder-rules", map[string]any{
		"directory": "/media/tv", "preferred_source": "tvmaze",
	})
	require.Equal(t, http.StatusCreated, rec.Code)

	rec = env.request(t, http.MethodGet, "/api/folder-rules", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	rules := decodeBody[[]model.FolderRule](t, rec)
	require.Len(t, rules, 1)
	assert.Equal(t, "tvmaze", rules[0].PreferredSource)

	rec = env.request(t, http.MethodDelete, "/api/folder-rules?directory=/media/tv", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	rec = env.request(t, http.MethodDelete, "/api/folder-rules?directory=/media/tv", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestHistoryEndpoints(t *testing.T) {
	env := newTestEnv(t)
	dir := writeLibrary(t)
	path := filepath.Join(dir, "Heat.1995.1080p.srt")

	rec := env.request(t, http.MethodPost, "/api/process", map[string]any{
		"files": []map[string]any{{"path": path}},
	})
	require.Equal(t, http.StatusOK, rec.Code)

	rec = env.request(t, http.MethodGet, "/api/history/runs", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	runs := decodeBody[[]model.ProcessingRun](t, rec)
	require.Len(t, runs, 1)
	assert.Equal(t, model.RunCompleted, runs[0].Status)

	rec = env.request(t, http.MethodGet, fmt.Sprintf("/api/history/runs/%d", runs[0].ID), nil)
	require.Equal(t, http.StatusOK, rec.Code)
	run := decodeBody[model.ProcessingRun](t, rec)
	require.Len(t, run.FileResults, 1)

	rec = env.request(t, http.MethodGet, "/api/history/runs/999", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestStatisticsEndpoint(t *testing.T) {
	env := newTestEnv(t)
	dir := writeLibrary(t)

	rec := env.request(t, http.MethodPost, "/api/scan", map[string]any{"directory": dir})
	require.Equal(t, http.StatusOK, rec.Code)

	rec = env.request(t, http.MethodGet, "/api/statistics", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	body := decodeBody[map[string]any](t, rec)
	assert.EqualValues(t, 1, body["library_files"])
	assert.EqualValues(t, 0, body["library_with_plot"])
}
