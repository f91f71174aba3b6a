package db

import (
	"database/sql"
	"errors"
	"time"

	"github.com/subplot/subplot/internal/model"
)

// Repository is the data-access layer over the sqlite store.
type Repository struct {
	conn *sql.DB
}

func NewRepository(conn *sql.DB) *Repository {
	return &Repository{conn: conn}
}

// ErrNotFound is returned when a requested row does not exist.
var ErrNotFound = errors.New("not found")

// ---- settings --------------------------------------------------------------

func (r *Repository) GetSetting(key, fallback string) string {
	var value string
	err := r.conn.QueryRow(`SELECT value FROM settings WHERE key = ?`, key).Scan(&value)
	if err != nil {
		return fallback
	}
	return value
}

func (r *Repository) SetSetting(key, value string) error {
	_, err := r.conn.Exec(
		`INSERT INTO settings (key, value, updated_at) VALUES (?, ?, ?)
		 ON CONFLICT(key) DO UPDATE SET value = excluded.value, updated_at = excluded.updated_at`,
		key, value, fmtTime(time.Now()))
	return err
}

func (r *Repository) AllSettings() (map[string]string, error) {
	rows, err := r.conn.Query(`SELECT key, value FROM settings`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := map[string]string{}
	for rows.Next() {
		var k, v string
		if err := rows.Scan(&k, &v); err != nil {
			return nil, err
		}
		out[k] = v
	}
	return out, rows.Err()
}

// ---- processing runs -------------------------------------------------------

func (r *Repository) CreateRun(totalFiles int) (int64, error) {
	res, err := r.conn.Exec(
		`INSERT INTO processing_runs (started_at, total_files, status) VALUES (?, ?, ?)`,
		fmtTime(time.Now()), totalFiles, model.RunInProgress)
	if err != nil {
		return 0, err
	}
	return res.LastInsertId()
}

// SealRun finishes a run with its final status and counters.
func (r *Repository) SealRun(runID int64, status string, successful, failed int, duration time.Duration) error {
	_, err := r.conn.Exec(
		`UPDATE processing_runs
		 SET completed_at = ?, successful_files = ?, failed_files = ?, duration_seconds = ?, status = ?
		 WHERE id = ?`,
		fmtTime(time.Now()), successful, failed, duration.Seconds(), status, runID)
	return err
}

func (r *Repository) AddFileResult(runID int64, fr model.FileResult) error {
	_, err := r.conn.Exec(
		`INSERT INTO file_results (run_id, file_path, file_name, success, status, summary, error_message, processed_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		runID, fr.FilePath, fr.FileName, boolToInt(fr.Success), fr.Status,
		nullableString(fr.Summary), nullableString(fr.ErrorMessage), fmtTime(time.Now()))
	return err
}

func (r *Repository) GetRun(runID int64) (*model.ProcessingRun, error) {
	run, err := r.scanRun(r.conn.QueryRow(
		`SELECT id, started_at, completed_at, total_files, successful_files, failed_files, duration_seconds, status
		 FROM processing_runs WHERE id = ?`, runID))
	if err != nil {
		return nil, err
	}

	rows, err := r.conn.Query(
		`SELECT id, run_id, file_path, file_name, success, status, summary, error_message, processed_at
		 FROM file_results WHERE run_id = ? ORDER BY id`, runID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	for rows.Next() {
		fr, err := scanFileResult(rows)
		if err != nil {
			return nil, err
		}
		run.FileResults = append(run.FileResults, fr)
	}
	return run, rows.Err()
}

func (r *Repository) RunHistory(limit int) ([]model.ProcessingRun, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := r.conn.Query(
		`SELECT id, started_at, completed_at, total_files, successful_files, failed_files, duration_seconds, status
		 FROM processing_runs ORDER BY started_at DESC LIMIT ?`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var runs []model.ProcessingRun
	for rows.Next() {
		run, err := r.scanRun(rows)
		if err != nil {
			return nil, err
		}
		runs = append(runs, *run)
	}
	return runs, rows.Err()
}

// LatestResultPerFile maps file path to its most recent processing result.
func (r *Repository) LatestResultPerFile() (map[string]model.FileResult, error) {
	rows, err := r.conn.Query(
		`SELECT id, run_id, file_path, file_name, success, status, summary, error_message, processed_at
		 FROM file_results ORDER BY processed_at ASC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := map[string]model.FileResult{}
	for rows.Next() {
		fr, err := scanFileResult(rows)
		if err != nil {
			return nil, err
		}
		out[fr.FilePath] = fr
	}
	return out, rows.Err()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func (r *Repository) scanRun(row rowScanner) (*model.ProcessingRun, error) {
	var run model.ProcessingRun
	var startedAt string
	var completedAt sql.NullString
	err := row.Scan(&run.ID, &startedAt, &completedAt, &run.TotalFiles,
		&run.SuccessfulFiles, &run.FailedFiles, &run.DurationSeconds, &run.Status)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	run.StartedAt = parseTime(startedAt)
	run.CompletedAt = scanNullableTime(completedAt)
	return &run, nil
}

func scanFileResult(row rowScanner) (model.FileResult, error) {
	var fr model.FileResult
	var success int
	var summary, errMsg sql.NullString
	var processedAt string
	err := row.Scan(&fr.ID, &fr.RunID, &fr.FilePath, &fr.FileName, &success,
		&fr.Status, &summary, &errMsg, &processedAt)
	if err != nil {
		return fr, err
	}
	fr.Success = success != 0
	fr.Summary = summary.String
	fr.ErrorMessage = errMsg.String
	fr.ProcessedAt = parseTime(processedAt)
	return fr, nil
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
