package db

import (
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/subplot/subplot/internal/model"
)

// ---- scan history ----------------------------------------------------------

// RecordScan stores a scan snapshot: the history row plus one scan_files row
// per discovered file. The snapshot feeds the library health report.
func (r *Repository) RecordScan(directory string, files []model.FileInfo, duration time.Duration) (int64, error) {
	withPlot := 0
	for _, f := range files {
		if f.HasPlot {
			withPlot++
		}
	}

	tx, err := r.conn.Begin()
	if err != nil {
		return 0, err
	}
	defer tx.Rollback()

	res, err := tx.Exec(
		`INSERT INTO scan_history (directory, scanned_at, files_found, files_with_plot, scan_duration_ms)
		 VALUES (?, ?, ?, ?, ?)`,
		directory, fmtTime(time.Now()), len(files), withPlot, duration.Milliseconds())
	if err != nil {
		return 0, err
	}
	scanID, err := res.LastInsertId()
	if err != nil {
		return 0, err
	}

	stmt, err := tx.Prepare(
		`INSERT INTO scan_files (scan_id, file_path, file_name, has_plot, plot_marker_count, title, year, imdb_rating, runtime)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return 0, err
	}
	defer stmt.Close()

	for _, f := range files {
		if _, err := stmt.Exec(scanID, f.Path, f.Name, boolToInt(f.HasPlot), f.PlotMarkerCount,
			nullableString(f.Title), nullableString(f.Year), nullableString(f.IMDbRating), nullableString(f.Runtime)); err != nil {
			return 0, err
		}
	}
	return scanID, tx.Commit()
}

func (r *Repository) ScanHistory(limit int) ([]model.ScanHistoryEntry, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := r.conn.Query(
		`SELECT id, directory, scanned_at, files_found, files_with_plot, scan_duration_ms
		 FROM scan_history ORDER BY scanned_at DESC LIMIT ?`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []model.ScanHistoryEntry
	for rows.Next() {
		var e model.ScanHistoryEntry
		var scannedAt string
		if err := rows.Scan(&e.ID, &e.Directory, &scannedAt, &e.FilesFound, &e.FilesWithPlot, &e.ScanDurationMS); err != nil {
			return nil, err
		}
		e.ScannedAt = parseTime(scannedAt)
		out = append(out, e)
	}
	return out, rows.Err()
}

// LatestScanFiles returns the file snapshot of the most recent scan, or an
// empty slice when no scan has run yet.
func (r *Repository) LatestScanFiles() ([]model.FileInfo, error) {
	var scanID int64
	err := r.conn.QueryRow(`SELECT id FROM scan_history ORDER BY scanned_at DESC LIMIT 1`).Scan(&scanID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	rows, err := r.conn.Query(
		`SELECT file_path, file_name, has_plot, plot_marker_count, title, year, imdb_rating, runtime
		 FROM scan_files WHERE scan_id = ? ORDER BY file_name`, scanID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []model.FileInfo
	for rows.Next() {
		var f model.FileInfo
		var hasPlot int
		var title, year, rating, runtime sql.NullString
		if err := rows.Scan(&f.Path, &f.Name, &hasPlot, &f.PlotMarkerCount, &title, &year, &rating, &runtime); err != nil {
			return nil, err
		}
		f.HasPlot = hasPlot != 0
		f.DuplicatePlot = f.PlotMarkerCount > 1
		f.Title = title.String
		f.Year = year.String
		f.IMDbRating = rating.String
		f.Runtime = runtime.String
		out = append(out, f)
	}
	return out, rows.Err()
}

// ---- scheduled scans -------------------------------------------------------

func (r *Repository) CreateScheduledScan(directory string, scheduledFor time.Time) (*model.ScheduledScan, error) {
	now := time.Now()
	res, err := r.conn.Exec(
		`INSERT INTO scheduled_scans (directory, scheduled_for, created_at, status) VALUES (?, ?, ?, ?)`,
		directory, fmtTime(scheduledFor), fmtTime(now), model.ScanScheduled)
	if err != nil {
		return nil, err
	}
	id, err := res.LastInsertId()
	if err != nil {
		return nil, err
	}
	return r.GetScheduledScan(id)
}

func (r *Repository) GetScheduledScan(id int64) (*model.ScheduledScan, error) {
	return scanScheduledScan(r.conn.QueryRow(
		`SELECT id, directory, scheduled_for, created_at, started_at, completed_at, status,
		        files_found, files_with_plot, scan_duration_ms, error_message
		 FROM scheduled_scans WHERE id = ?`, id))
}

func (r *Repository) ListScheduledScans(limit int, status string) ([]model.ScheduledScan, error) {
	if limit <= 0 {
		limit = 50
	}
	query := `SELECT id, directory, scheduled_for, created_at, started_at, completed_at, status,
	                 files_found, files_with_plot, scan_duration_ms, error_message
	          FROM scheduled_scans`
	args := []any{}
	if status != "" {
		query += ` WHERE status = ?`
		args = append(args, status)
	}
	query += ` ORDER BY scheduled_for DESC LIMIT ?`
	args = append(args, limit)

	rows, err := r.conn.Query(query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []model.ScheduledScan
	for rows.Next() {
		s, err := scanScheduledScan(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *s)
	}
	return out, rows.Err()
}

// DueScheduledScans returns scans still in scheduled state whose target time
// has passed.
func (r *Repository) DueScheduledScans(now time.Time) ([]model.ScheduledScan, error) {
	rows, err := r.conn.Query(
		`SELECT id, directory, scheduled_for, created_at, started_at, completed_at, status,
		        files_found, files_with_plot, scan_duration_ms, error_message
		 FROM scheduled_scans WHERE status = ? AND scheduled_for <= ? ORDER BY scheduled_for`,
		model.ScanScheduled, fmtTime(now))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []model.ScheduledScan
	for rows.Next() {
		s, err := scanScheduledScan(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *s)
	}
	return out, rows.Err()
}

// ErrInvalidTransition is returned for state changes the scheduled-scan state
// machine does not allow.
var ErrInvalidTransition = errors.New("invalid scheduled scan transition")

// ClaimScheduledScan performs the scheduled -> running transition as a
// compare-and-set so only one worker can claim a due scan.
func (r *Repository) ClaimScheduledScan(id int64) error {
	res, err := r.conn.Exec(
		`UPDATE scheduled_scans SET status = ?, started_at = ? WHERE id = ? AND status = ?`,
		model.ScanRunning, fmtTime(time.Now()), id, model.ScanScheduled)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrInvalidTransition
	}
	return nil
}

// CompleteScheduledScan seals a running scan as completed or failed.
func (r *Repository) CompleteScheduledScan(id int64, status string, filesFound, filesWithPlot int, duration time.Duration, errMsg string) error {
	if status != model.ScanCompleted && status != model.ScanFailed {
		return fmt.Errorf("%w: running -> %s", ErrInvalidTransition, status)
	}
	res, err := r.conn.Exec(
		`UPDATE scheduled_scans
		 SET status = ?, completed_at = ?, files_found = ?, files_with_plot = ?, scan_duration_ms = ?, error_message = ?
		 WHERE id = ? AND status = ?`,
		status, fmtTime(time.Now()), filesFound, filesWithPlot, duration.Milliseconds(),
		nullableString(errMsg), id, model.ScanRunning)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrInvalidTransition
	}
	return nil
}

// CancelScheduledScan cancels a scan. Valid only while still scheduled; a
// running scan is not interruptible.
func (r *Repository) CancelScheduledScan(id int64) error {
	res, err := r.conn.Exec(
		`UPDATE scheduled_scans SET status = ?, completed_at = ? WHERE id = ? AND status = ?`,
		model.ScanCancelled, fmtTime(time.Now()), id, model.ScanScheduled)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrInvalidTransition
	}
	return nil
}

func scanScheduledScan(row rowScanner) (*model.ScheduledScan, error) {
	var s model.ScheduledScan
	var scheduledFor, createdAt string
	var startedAt, completedAt, errMsg sql.NullString
	err := row.Scan(&s.ID, &s.Directory, &scheduledFor, &createdAt, &startedAt, &completedAt,
		&s.Status, &s.FilesFound, &s.FilesWithPlot, &s.ScanDurationMS, &errMsg)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	s.ScheduledFor = parseTime(scheduledFor)
	s.CreatedAt = parseTime(createdAt)
	s.StartedAt = scanNullableTime(startedAt)
	s.CompletedAt = scanNullableTime(completedAt)
	s.ErrorMessage = errMsg.String
	return &s, nil
}
