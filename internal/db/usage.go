package db

import (
	"database/sql"
	"time"
)

// usageWindow is the rolling window over which provider calls count against
// the daily quota.
const usageWindow = 24 * time.Hour

// TrackAPICall records one provider call. Rows older than the rolling window
// are swept opportunistically on each insert so the table never needs a
// separate maintenance job.
func (r *Repository) TrackAPICall(provider, endpoint string, success bool, responseTime time.Duration, at time.Time) error {
	if _, err := r.conn.Exec(`DELETE FROM api_usage WHERE called_at < ?`, fmtTime(at.Add(-usageWindow))); err != nil {
		return err
	}
	_, err := r.conn.Exec(
		`INSERT INTO api_usage (provider, endpoint, called_at, success, response_time_ms)
		 VALUES (?, ?, ?, ?, ?)`,
		provider, endpoint, fmtTime(at), boolToInt(success), responseTime.Milliseconds())
	return err
}

// UsageSummary holds the raw aggregates for one provider over the window.
type UsageSummary struct {
	TotalCalls        int
	SuccessfulCalls   int
	FailedCalls       int
	AvgResponseTimeMS float64
	OldestCall        *time.Time
}

// UsageInWindow aggregates a provider's calls inside the rolling window
// ending at now.
func (r *Repository) UsageInWindow(provider string, now time.Time) (UsageSummary, error) {
	cutoff := fmtTime(now.Add(-usageWindow))

	var s UsageSummary
	var avg sql.NullFloat64
	var oldest sql.NullString
	err := r.conn.QueryRow(
		`SELECT COUNT(*),
		        COALESCE(SUM(success), 0),
		        COALESCE(SUM(1 - success), 0),
		        AVG(response_time_ms),
		        MIN(called_at)
		 FROM api_usage WHERE provider = ? AND called_at >= ?`,
		provider, cutoff).Scan(&s.TotalCalls, &s.SuccessfulCalls, &s.FailedCalls, &avg, &oldest)
	if err != nil {
		return UsageSummary{}, err
	}
	s.AvgResponseTimeMS = avg.Float64
	if oldest.Valid {
		t := parseTime(oldest.String)
		s.OldestCall = &t
	}
	return s, nil
}

// CountCallsInWindow returns the number of calls a provider made inside the
// rolling window ending at now. Quota checks use this.
func (r *Repository) CountCallsInWindow(provider string, now time.Time) (int, error) {
	var n int
	err := r.conn.QueryRow(
		`SELECT COUNT(*) FROM api_usage WHERE provider = ? AND called_at >= ?`,
		provider, fmtTime(now.Add(-usageWindow))).Scan(&n)
	return n, err
}
