package db

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/subplot/subplot/internal/model"
)

func newTestRepo(t *testing.T) *Repository {
	t.Helper()
	conn, err := Open(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	return NewRepository(conn)
}

func TestMigrationsAreIdempotent(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "test.db")

	conn, err := Open(path)
	require.NoError(t, err)
	require.NoError(t, conn.Close())

	conn, err = Open(path)
	require.NoError(t, err)
	require.NoError(t, conn.Close())
}

func TestSettingsRoundTrip(t *testing.T) {
	repo := newTestRepo(t)

	assert.Equal(t, "fallback", repo.GetSetting("missing", "fallback"))

	require.NoError(t, repo.SetSetting("subtitle_dir", "/media/subs"))
	assert.Equal(t, "/media/subs", repo.GetSetting("subtitle_dir", ""))

	require.NoError(t, repo.SetSetting("subtitle_dir", "/mnt/subs"))
	assert.Equal(t, "/mnt/subs", repo.GetSetting("subtitle_dir", ""))

	all, err := repo.AllSettings()
	require.NoError(t, err)
	assert.Equal(t, "/mnt/subs", all["subtitle_dir"])
}

func TestProcessingRunLifecycle(t *testing.T) {
	repo := newTestRepo(t)

	runID, err := repo.CreateRun(3)
	require.NoError(t, err)

	require.NoError(t, repo.AddFileResult(runID, model.FileResult{
		FilePath: "/subs/a.srt", FileName: "a.srt", Success: true, Status: "processed", Summary: "ok",
	}))
	require.NoError(t, repo.AddFileResult(runID, model.FileResult{
		FilePath: "/subs/b.srt", FileName: "b.srt", Success: false, Status: "error", ErrorMessage: "no match",
	}))

	require.NoError(t, repo.SealRun(runID, model.RunCompleted, 1, 1, 2500*time.Millisecond))

	run, err := repo.GetRun(runID)
	require.NoError(t, err)
	assert.Equal(t, model.RunCompleted, run.Status)
	assert.Equal(t, 1, run.SuccessfulFiles)
	assert.Equal(t, 1, run.FailedFiles)
	assert.NotNil(t, run.CompletedAt)
	require.Len(t, run.FileResults, 2)
	assert.Equal(t, "a.srt", run.FileResults[0].FileName)
	assert.Equal(t, "no match", run.FileResults[1].ErrorMessage)

	history, err := repo.RunHistory(10)
	require.NoError(t, err)
	require.Len(t, history, 1)
	assert.Equal(t, runID, history[0].ID)
}

func TestGetRunNotFound(t *testing.T) {
	repo := newTestRepo(t)

	_, err := repo.GetRun(999)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestScanSnapshot(t *testing.T) {
	repo := newTestRepo(t)

	files := []model.FileInfo{
		{Path: "/subs/heat.srt", Name: "heat.srt", HasPlot: true, PlotMarkerCount: 1, Title: "Heat", Year: "1995"},
		{Path: "/subs/ronin.srt", Name: "ronin.srt", HasPlot: false},
	}
	scanID, err := repo.RecordScan("/subs", files, 120*time.Millisecond)
	require.NoError(t, err)
	assert.Positive(t, scanID)

	history, err := repo.ScanHistory(10)
	require.NoError(t, err)
	require.Len(t, history, 1)
	assert.Equal(t, 2, history[0].FilesFound)
	assert.Equal(t, 1, history[0].FilesWithPlot)

	latest, err := repo.LatestScanFiles()
	require.NoError(t, err)
	require.Len(t, latest, 2)
	assert.Equal(t, "heat.srt", latest[0].Name)
	assert.True(t, latest[0].HasPlot)
	assert.Equal(t, "Heat", latest[0].Title)
	assert.False(t, latest[1].HasPlot)
}

func TestLatestScanFilesEmpty(t *testing.T) {
	repo := newTestRepo(t)

	files, err := repo.LatestScanFiles()
	require.NoError(t, err)
	assert.Empty(t, files)
}

func TestScheduledScanStateMachine(t *testing.T) {
	repo := newTestRepo(t)

	scan, err := repo.CreateScheduledScan("/subs", time.Now().Add(-time.Minute))
	require.NoError(t, err)
	assert.Equal(t, model.ScanScheduled, scan.Status)

	due, err := repo.DueScheduledScans(time.Now())
	require.NoError(t, err)
	require.Len(t, due, 1)

	require.NoError(t, repo.ClaimScheduledScan(scan.ID))

	// Second claim loses the race.
	assert.ErrorIs(t, repo.ClaimScheduledScan(scan.ID), ErrInvalidTransition)

	// Cancel is only valid from scheduled.
	assert.ErrorIs(t, repo.CancelScheduledScan(scan.ID), ErrInvalidTransition)

	require.NoError(t, repo.CompleteScheduledScan(scan.ID, model.ScanCompleted, 12, 4, 300*time.Millisecond, ""))

	got, err := repo.GetScheduledScan(scan.ID)
	require.NoError(t, err)
	assert.Equal(t, model.ScanCompleted, got.Status)
	assert.Equal(t, 12, got.FilesFound)
	assert.NotNil(t, got.StartedAt)
	assert.NotNil(t, got.CompletedAt)
}

func TestScheduledScanCancel(t *testing.T) {
	repo := newTestRepo(t)

	scan, err := repo.CreateScheduledScan("/subs", time.Now().Add(time.Hour))
	require.NoError(t, err)

	require.NoError(t, repo.CancelScheduledScan(scan.ID))

	got, err := repo.GetScheduledScan(scan.ID)
	require.NoError(t, err)
	assert.Equal(t, model.ScanCancelled, got.Status)

	// A cancelled scan never becomes due.
	due, err := repo.DueScheduledScans(time.Now().Add(2 * time.Hour))
	require.NoError(t, err)
	assert.Empty(t, due)
}

func TestCompleteScheduledScanRejectsBadStatus(t *testing.T) {
	repo := newTestRepo(t)

	scan, err := repo.CreateScheduledScan("/subs", time.Now())
	require.NoError(t, err)
	require.NoError(t, repo.ClaimScheduledScan(scan.ID))

	err = repo.CompleteScheduledScan(scan.ID, "cancelled", 0, 0, 0, "")
	assert.ErrorIs(t, err, ErrInvalidTransition)
}

func TestAPIUsageWindow(t *testing.T) {
	repo := newTestRepo(t)
	now := time.Now()

	require.NoError(t, repo.TrackAPICall("omdb", "search", true, 120*time.Millisecond, now.Add(-23*time.Hour)))
	require.NoError(t, repo.TrackAPICall("omdb", "search", true, 80*time.Millisecond, now))
	require.NoError(t, repo.TrackAPICall("omdb", "detail", false, 200*time.Millisecond, now))
	require.NoError(t, repo.TrackAPICall("tmdb", "search", true, 50*time.Millisecond, now))

	summary, err := repo.UsageInWindow("omdb", now)
	require.NoError(t, err)
	assert.Equal(t, 3, summary.TotalCalls)
	assert.Equal(t, 2, summary.SuccessfulCalls)
	assert.Equal(t, 1, summary.FailedCalls)
	require.NotNil(t, summary.OldestCall)

	// The 23h-old row falls out of a window computed two hours later.
	summary, err = repo.UsageInWindow("omdb", now.Add(2*time.Hour))
	require.NoError(t, err)
	assert.Equal(t, 2, summary.TotalCalls)

	n, err := repo.CountCallsInWindow("tmdb", now)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}

func TestTrackAPICallSweepsExpiredRows(t *testing.T) {
	repo := newTestRepo(t)
	now := time.Now()

	require.NoError(t, repo.TrackAPICall("omdb", "search", true, 0, now.Add(-25*time.Hour)))
	require.NoError(t, repo.TrackAPICall("omdb", "search", true, 0, now))

	var total int
	require.NoError(t, repo.conn.QueryRow(`SELECT COUNT(*) FROM api_usage`).Scan(&total))
	assert.Equal(t, 1, total)
}

func TestSuggestedMatchUpsert(t *testing.T) {
	repo := newTestRepo(t)

	first := model.MetadataRecord{Title: "Heat", Year: "1995", Provider: "omdb"}
	require.NoError(t, repo.SaveSuggestedMatch("/subs/heat.srt", first))

	second := model.MetadataRecord{Title: "Heat", Year: "1995", IMDbRating: "8.3/10", Provider: "omdb"}
	require.NoError(t, repo.SaveSuggestedMatch("/subs/heat.srt", second))

	matches, err := repo.SuggestedMatches()
	require.NoError(t, err)
	require.Len(t, matches, 1)
	assert.Equal(t, "heat.srt", matches[0].FileName)
	assert.Equal(t, "8.3/10", matches[0].Match.IMDbRating)

	got, err := repo.SuggestedMatchByPath("/subs/heat.srt")
	require.NoError(t, err)
	assert.Equal(t, "Heat", got.Match.Title)

	require.NoError(t, repo.DeleteSuggestedMatch("/subs/heat.srt"))
	assert.ErrorIs(t, repo.DeleteSuggestedMatch("/subs/heat.srt"), ErrNotFound)
}

func TestClearSuggestedMatches(t *testing.T) {
	repo := newTestRepo(t)

	require.NoError(t, repo.SaveSuggestedMatch("/subs/a.srt", model.MetadataRecord{Title: "A"}))
	require.NoError(t, repo.SaveSuggestedMatch("/subs/b.srt", model.MetadataRecord{Title: "B"}))

	n, err := repo.ClearSuggestedMatches()
	require.NoError(t, err)
	assert.EqualValues(t, 2, n)
}

func TestAutomationRuleCRUD(t *testing.T) {
	repo := newTestRepo(t)

	rule := &model.AutomationRule{
		Name:          "strip yts",
		Schedule:      "0 3 * * *",
		Enabled:       true,
		Patterns:      []string{"YTS", "YIFY"},
		TargetFolders: []string{"/subs/movies"},
	}
	require.NoError(t, repo.CreateAutomationRule(rule))
	require.NotEmpty(t, rule.ID)

	got, err := repo.GetAutomationRule(rule.ID)
	require.NoError(t, err)
	assert.Equal(t, []string{"YTS", "YIFY"}, got.Patterns)
	assert.Equal(t, []string{"/subs/movies"}, got.TargetFolders)
	assert.Nil(t, got.LastRunAt)

	got.Enabled = false
	got.Patterns = append(got.Patterns, "RARBG")
	require.NoError(t, repo.UpdateAutomationRule(got))

	enabled, err := repo.EnabledAutomationRules()
	require.NoError(t, err)
	assert.Empty(t, enabled)

	require.NoError(t, repo.TouchRuleLastRun(rule.ID, time.Now()))
	got, err = repo.GetAutomationRule(rule.ID)
	require.NoError(t, err)
	assert.NotNil(t, got.LastRunAt)

	require.NoError(t, repo.DeleteAutomationRule(rule.ID))
	_, err = repo.GetAutomationRule(rule.ID)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestAutomationLogs(t *testing.T) {
	repo := newTestRepo(t)

	rule := &model.AutomationRule{Name: "r", Schedule: "* * * * *", Enabled: true}
	require.NoError(t, repo.CreateAutomationRule(rule))

	require.NoError(t, repo.AddAutomationLog(model.AutomationLog{
		RuleID: rule.ID, FilePath: "/subs/a.srt", Modified: true, RemovedLines: 3,
	}))
	require.NoError(t, repo.AddAutomationLog(model.AutomationLog{
		RuleID: rule.ID, FilePath: "/subs/b.srt", DryRun: true, ErrorMessage: "read failed",
	}))

	logs, err := repo.AutomationLogs(rule.ID, 0)
	require.NoError(t, err)
	require.Len(t, logs, 2)
	for _, l := range logs {
		assert.Equal(t, rule.ID, l.RuleID)
	}
}

func TestFolderRuleLongestPrefix(t *testing.T) {
	repo := newTestRepo(t)

	boolp := func(v bool) *bool { return &v }
	require.NoError(t, repo.SaveFolderRule(model.FolderRule{
		Directory: "/media", PreferredSource: "omdb",
	}))
	require.NoError(t, repo.SaveFolderRule(model.FolderRule{
		Directory: "/media/tv", PreferredSource: "tvmaze", InsertionPosition: "end", TitleBold: boolp(false),
	}))

	rule, err := repo.FolderRuleFor("/media/tv/severance/s01e01.srt")
	require.NoError(t, err)
	assert.Equal(t, "tvmaze", rule.PreferredSource)
	require.NotNil(t, rule.TitleBold)
	assert.False(t, *rule.TitleBold)

	rule, err = repo.FolderRuleFor("/media/movies/heat.srt")
	require.NoError(t, err)
	assert.Equal(t, "omdb", rule.PreferredSource)
	assert.Nil(t, rule.TitleBold)

	_, err = repo.FolderRuleFor("/other/heat.srt")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestFolderRuleUpsertAndDelete(t *testing.T) {
	repo := newTestRepo(t)

	require.NoError(t, repo.SaveFolderRule(model.FolderRule{Directory: "/media", Language: "de"}))
	require.NoError(t, repo.SaveFolderRule(model.FolderRule{Directory: "/media", Language: "fr"}))

	rules, err := repo.ListFolderRules()
	require.NoError(t, err)
	require.Len(t, rules, 1)
	assert.Equal(t, "fr", rules[0].Language)

	require.NoError(t, repo.DeleteFolderRule("/media"))
	assert.ErrorIs(t, repo.DeleteFolderRule("/media"), ErrNotFound)
}
