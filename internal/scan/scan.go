// Package scan walks a subtitle library and streams discovery progress as
// typed frames on a channel. The HTTP layer serializes frames onto the wire;
// the engine knows nothing about transports.
package scan

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/subplot/subplot/internal/db"
	"github.com/subplot/subplot/internal/model"
	"github.com/subplot/subplot/internal/provider"
	"github.com/subplot/subplot/internal/srt"
	"github.com/subplot/subplot/internal/titles"
)

// Frame types. Every stream carries exactly one terminal frame, either
// complete or error.
const (
	FrameStatus   = "status"
	FrameProgress = "progress"
	FrameComplete = "complete"
	FrameError    = "error"
)

// Frame is one event of a scan stream. Progress frames carry an incremental
// batch in Files plus the running Total; the complete frame carries the full
// list.
type Frame struct {
	Type          string           `json:"type"`
	Message       string           `json:"message,omitempty"`
	Files         []model.FileInfo `json:"files,omitempty"`
	Total         int              `json:"total,omitempty"`
	FilesWithPlot int              `json:"files_with_plot,omitempty"`
	DurationMS    int64            `json:"duration_ms,omitempty"`
	Error         string           `json:"error,omitempty"`
}

// batchSize is how many discovered files accumulate before a progress frame
// is emitted.
const batchSize = 10

// ErrStreamTruncated is reported by Collect when a stream ends without a
// terminal frame. Treating a truncated stream as success would hide dropped
// connections.
var ErrStreamTruncated = errors.New("scan stream ended without a terminal frame")

// Options configures one scan.
type Options struct {
	Directory string
	AutoMatch bool
	Language  string
}

// Engine produces scan streams. Safe for concurrent use; each Run owns its
// own channel.
type Engine struct {
	repo      *db.Repository
	processor *srt.Processor
	search    provider.Provider
	delay     time.Duration
}

// NewEngine builds a scan engine. search may be nil when auto-matching is
// never requested. delay spaces out provider calls during auto-match.
func NewEngine(repo *db.Repository, processor *srt.Processor, search provider.Provider, delay time.Duration) *Engine {
	return &Engine{repo: repo, processor: processor, search: search, delay: delay}
}

// Run starts a scan and returns its frame channel. The channel is closed
// after the terminal frame. Cancel ctx to abandon the scan; an error frame is
// emitted when cancellation is observed before completion.
func (e *Engine) Run(ctx context.Context, opts Options) <-chan Frame {
	frames := make(chan Frame)
	go func() {
		defer close(frames)
		e.run(ctx, opts, frames)
	}()
	return frames
}

func (e *Engine) run(ctx context.Context, opts Options, frames chan<- Frame) {
	started := time.Now()

	info, err := os.Stat(opts.Directory)
	if err != nil || !info.IsDir() {
		emit(ctx, frames, Frame{Type: FrameError, Error: fmt.Sprintf("not a directory: %s", opts.Directory)})
		return
	}

	emit(ctx, frames, Frame{Type: FrameStatus, Message: fmt.Sprintf("Scanning %s", opts.Directory)})

	var all []model.FileInfo
	var batch []model.FileInfo
	withPlot := 0

	walkErr := filepath.WalkDir(opts.Directory, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}
		if d.IsDir() || !strings.EqualFold(filepath.Ext(path), ".srt") {
			return nil
		}

		f := e.inspect(path)
		if f.HasPlot {
			withPlot++
		}
		all = append(all, f)
		batch = append(batch, f)

		if len(batch) >= batchSize {
			emit(ctx, frames, Frame{Type: FrameProgress, Files: batch, Total: len(all), FilesWithPlot: withPlot})
			batch = nil
		}
		return nil
	})
	if walkErr != nil {
		emit(ctx, frames, Frame{Type: FrameError, Error: fmt.Sprintf("scan aborted: %v", walkErr)})
		return
	}
	if len(batch) > 0 {
		emit(ctx, frames, Frame{Type: FrameProgress, Files: batch, Total: len(all), FilesWithPlot: withPlot})
	}

	if opts.AutoMatch && e.search != nil {
		if err := e.autoMatch(ctx, opts.Language, all, frames); err != nil {
			emit(ctx, frames, Frame{Type: FrameError, Error: fmt.Sprintf("scan aborted: %v", err)})
			return
		}
	}

	duration := time.Since(started)
	if e.repo != nil {
		if _, err := e.repo.RecordScan(opts.Directory, all, duration); err != nil {
			log.Printf("scan: record history for %s: %v", opts.Directory, err)
		}
	}

	emit(ctx, frames, Frame{
		Type:          FrameComplete,
		Files:         all,
		Total:         len(all),
		FilesWithPlot: withPlot,
		DurationMS:    duration.Milliseconds(),
	})
}

// inspect classifies one subtitle file: whether it already carries a metadata
// block, how many (more than one means a double insert), and whether the gap
// before the first caption is too small to ever fit one.
func (e *Engine) inspect(path string) model.FileInfo {
	f := model.FileInfo{Path: path, Name: filepath.Base(path)}

	f.HasPlot = e.processor.HasPlotFast(path)
	raw, err := os.ReadFile(path)
	if err != nil {
		f.Status = "unreadable"
		return f
	}
	f.PlotMarkerCount = srt.CountPlotMarkers(string(raw))
	f.DuplicatePlot = f.PlotMarkerCount > 1

	switch {
	case f.DuplicatePlot:
		f.Status = "duplicate_plot"
	case f.HasPlot:
		f.Status = "enriched"
		meta := e.processor.ExtractExistingMetadata(path)
		f.Title = meta.Title
		f.Year = meta.Year
		f.IMDbRating = meta.IMDbRating
		f.Runtime = meta.Runtime
	default:
		f.Status = "missing_plot"
		blocks := srt.Parse(string(raw))
		if len(blocks) > 0 && blocks[0].Start < srt.MinDurationMS+e.processor.MinSafeGapMS {
			f.Status = "insufficient_gap"
		}
	}
	return f
}

// autoMatch quick-searches every not-yet-enriched file and persists the best
// candidate as a suggested match. Calls are strictly sequential with a fixed
// delay between them to stay inside provider rate limits.
func (e *Engine) autoMatch(ctx context.Context, language string, files []model.FileInfo, frames chan<- Frame) error {
	pending := 0
	for _, f := range files {
		if !f.HasPlot {
			pending++
		}
	}
	if pending == 0 {
		return nil
	}
	emit(ctx, frames, Frame{Type: FrameStatus, Message: fmt.Sprintf("Auto-matching %d files", pending)})

	first := true
	for i := range files {
		f := &files[i]
		if f.HasPlot {
			continue
		}
		if !first {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(e.delay):
			}
		}
		first = false

		ext := titles.Extract(f.Name)
		q := provider.Query{
			Title:    ext.Title,
			Year:     ext.Year,
			Season:   ext.Season,
			Episode:  ext.Episode,
			IsSeries: ext.IsSeries,
			Mode:     provider.ModeQuick,
			Language: language,
		}
		candidates, err := e.search.Search(ctx, q)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			log.Printf("scan: auto-match %s: %v", f.Name, err)
			continue
		}
		ranked := provider.Rank(candidates, provider.ModeQuick)
		if len(ranked) == 0 {
			continue
		}

		match := ranked[0]
		f.SuggestedMatch = &match
		if e.repo != nil {
			if err := e.repo.SaveSuggestedMatch(f.Path, match); err != nil {
				log.Printf("scan: save match for %s: %v", f.Path, err)
			}
		}
		emit(ctx, frames, Frame{Type: FrameStatus, Message: fmt.Sprintf("Matched %s -> %s (%s)", f.Name, match.Title, match.Year)})
	}
	return nil
}

func emit(ctx context.Context, frames chan<- Frame, f Frame) {
	select {
	case frames <- f:
	case <-ctx.Done():
	}
}

// Collect drains a frame stream and returns the final file list. It enforces
// the stream contract: a channel that closes without a terminal frame yields
// ErrStreamTruncated, and an error frame yields its message as an error.
func Collect(frames <-chan Frame) ([]model.FileInfo, error) {
	for f := range frames {
		switch f.Type {
		case FrameComplete:
			return f.Files, nil
		case FrameError:
			return nil, errors.New(f.Error)
		}
	}
	return nil, ErrStreamTruncated
}
