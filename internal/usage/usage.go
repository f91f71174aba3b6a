// Package usage tracks provider API calls against a rolling 24 hour quota
// window. Every call counts against the quota, including failures, so a
// provider returning errors cannot be hammered all day.
package usage

import (
	"log"
	"sync"
	"time"

	"github.com/subplot/subplot/internal/db"
	"github.com/subplot/subplot/internal/model"
)

// window mirrors the repository's rolling retention window.
const window = 24 * time.Hour

// Ledger records provider calls and answers quota checks. It implements
// provider.Recorder. The mutex serializes the check-then-insert sequence so
// concurrent searches cannot both squeeze through the last quota slot.
type Ledger struct {
	mu   sync.Mutex
	repo *db.Repository
	now  func() time.Time
}

func NewLedger(repo *db.Repository) *Ledger {
	return &Ledger{repo: repo, now: time.Now}
}

// Record stores one call. Recording failures are logged, never propagated;
// losing a usage row must not fail the search that triggered it.
func (l *Ledger) Record(provider, endpoint string, success bool, elapsed time.Duration) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if err := l.repo.TrackAPICall(provider, endpoint, success, elapsed, l.now()); err != nil {
		log.Printf("usage: record %s/%s: %v", provider, endpoint, err)
	}
}

// Allowed reports whether the provider has quota left in the current window.
// On a ledger read error it answers true; a broken usage table should not
// take the providers down with it.
func (l *Ledger) Allowed(provider string, limit int) bool {
	if limit <= 0 {
		return true
	}
	l.mu.Lock()
	defer l.mu.Unlock()

	n, err := l.repo.CountCallsInWindow(provider, l.now())
	if err != nil {
		log.Printf("usage: count %s: %v", provider, err)
		return true
	}
	return n < limit
}

// Stats reports a provider's usage over the current window. ResetTime is when
// the oldest call in the window ages out; with no calls it is now.
func (l *Ledger) Stats(provider string, limit int) (model.UsageStats, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	summary, err := l.repo.UsageInWindow(provider, now)
	if err != nil {
		return model.UsageStats{}, err
	}

	remaining := limit - summary.TotalCalls
	if remaining < 0 {
		remaining = 0
	}
	reset := now
	if summary.OldestCall != nil {
		reset = summary.OldestCall.Add(window)
	}
	return model.UsageStats{
		Provider:          provider,
		TotalCalls24h:     summary.TotalCalls,
		SuccessfulCalls:   summary.SuccessfulCalls,
		FailedCalls:       summary.FailedCalls,
		AvgResponseTimeMS: summary.AvgResponseTimeMS,
		Limit:             limit,
		Remaining:         remaining,
		ResetTime:         reset,
	}, nil
}
