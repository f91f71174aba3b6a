// Package provider defines the metadata provider contract shared by the
// OMDb, TMDb, and TVmaze adapters.
package provider

import (
	"context"
	"time"

	"github.com/subplot/subplot/internal/model"
)

// Search modes. Quick resolves in one round trip and keeps the top result;
// Full does secondary detail fetches so a user can disambiguate.
const (
	ModeQuick = "quick"
	ModeFull  = "full"
)

// Provider names accepted as a source selection.
const (
	SourceOMDb   = "omdb"
	SourceTMDb   = "tmdb"
	SourceTVmaze = "tvmaze"
	SourceBoth   = "both"
)

// Query is one metadata lookup.
type Query struct {
	Title    string
	Year     string
	Season   *int
	Episode  *int
	IsSeries bool
	Mode     string
	Language string
}

// Provider is a metadata source. Search returns an empty slice for "no
// candidates"; network failures, malformed responses, and quota exhaustion
// all surface the same way so a batch never hard-stops on one lookup.
type Provider interface {
	Name() string
	Search(ctx context.Context, q Query) ([]model.MetadataRecord, error)
	DailyLimit() int
}

// Recorder receives one entry per attempted upstream call. Adapters record
// before returning the response so failed calls still count toward quota.
type Recorder interface {
	Record(provider, endpoint string, success bool, elapsed time.Duration)
	Allowed(provider string, limit int) bool
}

// NopRecorder satisfies Recorder without tracking anything.
type NopRecorder struct{}

func (NopRecorder) Record(string, string, bool, time.Duration) {}
func (NopRecorder) Allowed(string, int) bool                   { return true }
