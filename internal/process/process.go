// Package process applies metadata blocks to batches of subtitle files,
// streaming per-item progress as typed frames. Each batch is recorded as a
// ProcessingRun with one FileResult per item.
package process

import (
	"context"
	"errors"
	"fmt"
	"log"
	"path/filepath"
	"time"

	"github.com/subplot/subplot/internal/db"
	"github.com/subplot/subplot/internal/model"
	"github.com/subplot/subplot/internal/provider"
	"github.com/subplot/subplot/internal/srt"
	"github.com/subplot/subplot/internal/titles"
)

// Frame types emitted by a batch run.
const (
	FrameStart    = "start"
	FrameProgress = "progress"
	FrameResult   = "result"
	FrameComplete = "complete"
	FrameError    = "error"
)

// Frame is one event of a batch stream.
type Frame struct {
	Type       string            `json:"type"`
	RunID      int64             `json:"run_id,omitempty"`
	Total      int               `json:"total,omitempty"`
	Index      int               `json:"index,omitempty"`
	File       string            `json:"file,omitempty"`
	Result     *model.FileResult `json:"result,omitempty"`
	Successful int               `json:"successful,omitempty"`
	Failed     int               `json:"failed,omitempty"`
	Error      string            `json:"error,omitempty"`
}

// Item is one unit of work: a subtitle path with an optional pre-selected
// metadata record. Without an override the title is re-derived from the
// filename and quick-searched.
type Item struct {
	Path     string                `json:"path"`
	Override *model.MetadataRecord `json:"override,omitempty"`
}

// Options are the batch-wide defaults. Folder rules override them per file.
type Options struct {
	ForceReprocess bool
	CleanContent   bool
	Position       string
	Format         srt.FormatOptions
	Language       string
	Source         string
}

// ErrStreamTruncated is reported by Collect when a stream ends without a
// terminal frame.
var ErrStreamTruncated = errors.New("process stream ended without a terminal frame")

// Engine runs batches. Providers are keyed by source name (omdb, tmdb,
// tvmaze, both).
type Engine struct {
	repo      *db.Repository
	processor *srt.Processor
	providers map[string]provider.Provider
	delay     time.Duration
}

func NewEngine(repo *db.Repository, processor *srt.Processor, providers map[string]provider.Provider, delay time.Duration) *Engine {
	return &Engine{repo: repo, processor: processor, providers: providers, delay: delay}
}

// Run starts a batch and returns its frame channel, closed after the
// terminal frame. Cancelling ctx seals the run as failed; completed items
// keep their results.
func (e *Engine) Run(ctx context.Context, items []Item, opts Options) <-chan Frame {
	frames := make(chan Frame)
	go func() {
		defer close(frames)
		e.run(ctx, items, opts, frames)
	}()
	return frames
}

func (e *Engine) run(ctx context.Context, items []Item, opts Options, frames chan<- Frame) {
	if len(items) == 0 {
		emit(ctx, frames, Frame{Type: FrameError, Error: "no files to process"})
		return
	}

	started := time.Now()
	runID, err := e.repo.CreateRun(len(items))
	if err != nil {
		emit(ctx, frames, Frame{Type: FrameError, Error: fmt.Sprintf("create run: %v", err)})
		return
	}

	emit(ctx, frames, Frame{Type: FrameStart, RunID: runID, Total: len(items)})

	successful, failed := 0, 0
	searched := false
	for i, item := range items {
		if ctx.Err() != nil {
			e.seal(runID, model.RunFailed, successful, failed, started)
			emit(ctx, frames, Frame{Type: FrameError, RunID: runID, Error: "batch cancelled"})
			return
		}

		emit(ctx, frames, Frame{Type: FrameProgress, RunID: runID, Index: i + 1, Total: len(items), File: item.Path})

		// Space out provider calls; items with an override cost nothing.
		if searched && item.Override == nil {
			select {
			case <-ctx.Done():
				e.seal(runID, model.RunFailed, successful, failed, started)
				emit(ctx, frames, Frame{Type: FrameError, RunID: runID, Error: "batch cancelled"})
				return
			case <-time.After(e.delay):
			}
		}

		result, didSearch := e.processItem(ctx, item, opts)
		searched = searched || didSearch
		if result.Success {
			successful++
		} else {
			failed++
		}
		if err := e.repo.AddFileResult(runID, result); err != nil {
			log.Printf("process: record result for %s: %v", item.Path, err)
		}
		emit(ctx, frames, Frame{Type: FrameResult, RunID: runID, Index: i + 1, Total: len(items), File: item.Path, Result: &result})
	}

	e.seal(runID, model.RunCompleted, successful, failed, started)
	emit(ctx, frames, Frame{Type: FrameComplete, RunID: runID, Total: len(items), Successful: successful, Failed: failed})
}

func (e *Engine) seal(runID int64, status string, successful, failed int, started time.Time) {
	if err := e.repo.SealRun(runID, status, successful, failed, time.Since(started)); err != nil {
		log.Printf("process: seal run %d: %v", runID, err)
	}
}

// processItem resolves settings, finds metadata, and mutates one file. The
// second return reports whether a provider call was made.
func (e *Engine) processItem(ctx context.Context, item Item, opts Options) (model.FileResult, bool) {
	resolved := e.resolveOptions(item.Path, opts)

	meta := item.Override
	didSearch := false
	if meta == nil {
		didSearch = true
		found, err := e.search(ctx, item.Path, resolved)
		if err != nil {
			return failResult(item.Path, fmt.Sprintf("search failed: %v", err)), didSearch
		}
		if found == nil {
			return failResult(item.Path, "no match found"), didSearch
		}
		meta = found
	}

	pr := e.processor.Process(item.Path, *meta, srt.ProcessOptions{
		ForceReprocess: resolved.ForceReprocess,
		Position:       resolved.Position,
		Format:         resolved.Format,
		CleanContent:   resolved.CleanContent,
	})

	// A confirmed suggestion is consumed on apply.
	if pr.Success {
		if err := e.repo.DeleteSuggestedMatch(item.Path); err != nil && !errors.Is(err, db.ErrNotFound) {
			log.Printf("process: clear suggestion for %s: %v", item.Path, err)
		}
	}

	return model.FileResult{
		FilePath:     item.Path,
		FileName:     filepath.Base(item.Path),
		Success:      pr.Success,
		Status:       pr.Status,
		Summary:      pr.Summary,
		ErrorMessage: pr.Error,
	}, didSearch
}

// resolveOptions layers the most specific folder rule over the batch
// defaults.
func (e *Engine) resolveOptions(path string, opts Options) Options {
	rule, err := e.repo.FolderRuleFor(path)
	if err != nil {
		if !errors.Is(err, db.ErrNotFound) {
			log.Printf("process: folder rule for %s: %v", path, err)
		}
		return opts
	}

	if rule.PreferredSource != "" {
		opts.Source = rule.PreferredSource
	}
	if rule.InsertionPosition != "" {
		opts.Position = rule.InsertionPosition
	}
	if rule.Language != "" {
		opts.Language = rule.Language
	}
	if rule.TitleBold != nil {
		opts.Format.TitleBold = *rule.TitleBold
	}
	if rule.PlotItalic != nil {
		opts.Format.PlotItalic = *rule.PlotItalic
	}
	if rule.ShowDirector != nil {
		opts.Format.ShowDirector = *rule.ShowDirector
	}
	if rule.ShowActors != nil {
		opts.Format.ShowActors = *rule.ShowActors
	}
	if rule.ShowReleased != nil {
		opts.Format.ShowReleased = *rule.ShowReleased
	}
	if rule.ShowGenre != nil {
		opts.Format.ShowGenre = *rule.ShowGenre
	}
	return opts
}

func (e *Engine) search(ctx context.Context, path string, opts Options) (*model.MetadataRecord, error) {
	p := e.pick(opts.Source)
	if p == nil {
		return nil, fmt.Errorf("no provider for source %q", opts.Source)
	}

	ext := titles.Extract(filepath.Base(path))
	candidates, err := p.Search(ctx, provider.Query{
		Title:    ext.Title,
		Year:     ext.Year,
		Season:   ext.Season,
		Episode:  ext.Episode,
		IsSeries: ext.IsSeries,
		Mode:     provider.ModeQuick,
		Language: opts.Language,
	})
	if err != nil {
		return nil, err
	}
	ranked := provider.Rank(candidates, provider.ModeQuick)
	if len(ranked) == 0 {
		return nil, nil
	}
	return &ranked[0], nil
}

func (e *Engine) pick(source string) provider.Provider {
	if p, ok := e.providers[source]; ok {
		return p
	}
	if p, ok := e.providers[provider.SourceBoth]; ok {
		return p
	}
	for _, p := range e.providers {
		return p
	}
	return nil
}

func failResult(path, msg string) model.FileResult {
	return model.FileResult{
		FilePath:     path,
		FileName:     filepath.Base(path),
		Success:      false,
		Status:       "Error",
		ErrorMessage: msg,
	}
}

func emit(ctx context.Context, frames chan<- Frame, f Frame) {
	select {
	case frames <- f:
	case <-ctx.Done():
	}
}

// Collect drains a batch stream and returns its results and the terminal
// counts. A stream that closes without a terminal frame is an error.
func Collect(frames <-chan Frame) (results []model.FileResult, successful, failed int, err error) {
	for f := range frames {
		switch f.Type {
		case FrameResult:
			if f.Result != nil {
				results = append(results, *f.Result)
			}
		case FrameComplete:
			return results, f.Successful, f.Failed, nil
		case FrameError:
			return results, 0, 0, errors.New(f.Error)
		}
	}
	return results, 0, 0, ErrStreamTruncated
}
