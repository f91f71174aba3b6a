package model

import "time"

// MetadataRecord is a single title match produced by a metadata provider.
// Records are never mutated after creation; callers copy on select.
type MetadataRecord struct {
	Title          string `json:"title"`
	Year           string `json:"year,omitempty"`
	Plot           string `json:"plot,omitempty"`
	Runtime        string `json:"runtime,omitempty"`
	IMDbRating     string `json:"imdb_rating,omitempty"`
	RottenTomatoes string `json:"rotten_tomatoes,omitempty"`
	MediaType      string `json:"media_type,omitempty"`
	Poster         string `json:"poster,omitempty"`
	ProviderID     string `json:"provider_id,omitempty"`
	IMDbID         string `json:"imdb_id,omitempty"`
	Director       string `json:"director,omitempty"`
	Actors         string `json:"actors,omitempty"`
	Released       string `json:"released,omitempty"`
	Genre          string `json:"genre,omitempty"`
	Provider       string `json:"provider,omitempty"`
}

// FileInfo describes one subtitle file discovered by a scan.
type FileInfo struct {
	Path            string          `json:"path"`
	Name            string          `json:"name"`
	HasPlot         bool            `json:"has_plot"`
	PlotMarkerCount int             `json:"plot_marker_count"`
	DuplicatePlot   bool            `json:"duplicate_plot"`
	Status          string          `json:"status"`
	Summary         string          `json:"summary,omitempty"`
	Title           string          `json:"title,omitempty"`
	Year            string          `json:"year,omitempty"`
	IMDbRating      string          `json:"imdb_rating,omitempty"`
	Runtime         string          `json:"runtime,omitempty"`
	SuggestedMatch  *MetadataRecord `json:"suggested_match,omitempty"`
}

type ProcessingRun struct {
	ID              int64        `json:"id"`
	StartedAt       time.Time    `json:"started_at"`
	CompletedAt     *time.Time   `json:"completed_at,omitempty"`
	TotalFiles      int          `json:"total_files"`
	SuccessfulFiles int          `json:"successful_files"`
	FailedFiles     int          `json:"failed_files"`
	DurationSeconds float64      `json:"duration_seconds,omitempty"`
	Status          string       `json:"status"`
	FileResults     []FileResult `json:"file_results,omitempty"`
}

const (
	RunInProgress = "in_progress"
	RunCompleted  = "completed"
	RunFailed     = "failed"
)

type FileResult struct {
	ID           int64     `json:"id"`
	RunID        int64     `json:"run_id"`
	FilePath     string    `json:"file_path"`
	FileName     string    `json:"file_name"`
	Success      bool      `json:"success"`
	Status       string    `json:"status"`
	Summary      string    `json:"summary,omitempty"`
	ErrorMessage string    `json:"error_message,omitempty"`
	ProcessedAt  time.Time `json:"processed_at"`
}

type ScanHistoryEntry struct {
	ID             int64     `json:"id"`
	Directory      string    `json:"directory"`
	ScannedAt      time.Time `json:"scanned_at"`
	FilesFound     int       `json:"files_found"`
	FilesWithPlot  int       `json:"files_with_plot"`
	ScanDurationMS int       `json:"scan_duration_ms"`
}

// ScheduledScan is a one-shot scan with monotonic status transitions:
// scheduled -> running -> completed|failed, or scheduled -> cancelled.
type ScheduledScan struct {
	ID             int64      `json:"id"`
	Directory      string     `json:"directory"`
	ScheduledFor   time.Time  `json:"scheduled_for"`
	CreatedAt      time.Time  `json:"created_at"`
	StartedAt      *time.Time `json:"started_at,omitempty"`
	CompletedAt    *time.Time `json:"completed_at,omitempty"`
	Status         string     `json:"status"`
	FilesFound     int        `json:"files_found"`
	FilesWithPlot  int        `json:"files_with_plot"`
	ScanDurationMS int        `json:"scan_duration_ms"`
	ErrorMessage   string     `json:"error_message,omitempty"`
}

const (
	ScanScheduled = "scheduled"
	ScanRunning   = "running"
	ScanCompleted = "completed"
	ScanFailed    = "failed"
	ScanCancelled = "cancelled"
)

type AutomationRule struct {
	ID            string     `json:"id"`
	Name          string     `json:"name"`
	Schedule      string     `json:"schedule"`
	Enabled       bool       `json:"enabled"`
	Patterns      []string   `json:"patterns"`
	TargetFolders []string   `json:"target_folders"`
	LastRunAt     *time.Time `json:"last_run_at,omitempty"`
	CreatedAt     time.Time  `json:"created_at"`
	UpdatedAt     time.Time  `json:"updated_at"`
}

type AutomationLog struct {
	ID           int64     `json:"id"`
	RuleID       string    `json:"rule_id"`
	FilePath     string    `json:"file_path"`
	Modified     bool      `json:"modified"`
	RemovedLines int       `json:"removed_lines"`
	DryRun       bool      `json:"dry_run"`
	ErrorMessage string    `json:"error_message,omitempty"`
	ExecutedAt   time.Time `json:"executed_at"`
}

// RuleRunReport summarizes one execution of an automation rule.
type RuleRunReport struct {
	RuleID        string   `json:"rule_id"`
	FilesScanned  int      `json:"files_scanned"`
	FilesModified int      `json:"files_modified"`
	RemovedLines  int      `json:"removed_lines"`
	DryRun        bool     `json:"dry_run"`
	Errors        []string `json:"errors,omitempty"`
}

type SuggestedMatch struct {
	ID        int64          `json:"id"`
	FilePath  string         `json:"file_path"`
	FileName  string         `json:"file_name"`
	Match     MetadataRecord `json:"match"`
	CreatedAt time.Time      `json:"created_at"`
	UpdatedAt time.Time      `json:"updated_at"`
}

// FolderRule overrides default processing settings for one directory subtree.
// Nil pointer fields mean "no override".
type FolderRule struct {
	Directory         string `json:"directory"`
	PreferredSource   string `json:"preferred_source,omitempty"`
	InsertionPosition string `json:"insertion_position,omitempty"`
	Language          string `json:"language,omitempty"`
	TitleBold         *bool  `json:"subtitle_title_bold,omitempty"`
	PlotItalic        *bool  `json:"subtitle_plot_italic,omitempty"`
	ShowDirector      *bool  `json:"subtitle_show_director,omitempty"`
	ShowActors        *bool  `json:"subtitle_show_actors,omitempty"`
	ShowReleased      *bool  `json:"subtitle_show_released,omitempty"`
	ShowGenre         *bool  `json:"subtitle_show_genre,omitempty"`
}

type UsageStats struct {
	Provider          string    `json:"provider"`
	TotalCalls24h     int       `json:"total_calls_24h"`
	SuccessfulCalls   int       `json:"successful_calls"`
	FailedCalls       int       `json:"failed_calls"`
	AvgResponseTimeMS float64   `json:"avg_response_time_ms"`
	Limit             int       `json:"limit"`
	Remaining         int       `json:"remaining"`
	ResetTime         time.Time `json:"reset_time"`
}

// LibraryItem groups the files of one detected title for the health report.
type LibraryItem struct {
	Title  string        `json:"title"`
	Year   string        `json:"year,omitempty"`
	Files  []LibraryFile `json:"files"`
	Health LibraryHealth `json:"health"`
}

type LibraryFile struct {
	FileInfo
	DisplayName  string `json:"display_name"`
	LatestStatus string `json:"latest_status,omitempty"`
	LatestError  string `json:"latest_error,omitempty"`
}

type LibraryHealth struct {
	MissingPlot     int `json:"missing_plot"`
	DuplicatePlot   int `json:"duplicate_plot"`
	InsufficientGap int `json:"insufficient_gap"`
}
