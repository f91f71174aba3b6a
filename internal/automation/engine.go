// Package automation executes pattern-strip rules on cron schedules and runs
// one-shot scheduled scans when they come due.
package automation

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
	"github.com/subplot/subplot/internal/scan"
	"github.com/subplot/subplot/internal/srt"
)

// Engine executes automation rules. Rules strip caption lines containing any
// of the rule's substrings (case-sensitive) from every subtitle file under
// the rule's target folders.
type Engine struct {
	repo *db.Repository
}

func NewEngine(repo *db.Repository) *Engine {
	return &Engine{repo: repo}
}

// RunRule executes one rule over its target folders. Dry runs do the full
// scan and match but discard writes, still reporting would-be counts. A
// failed run never disables the rule.
func (e *Engine) RunRule(ctx context.Context, rule model.AutomationRule, dryRun bool) model.RuleRunReport {
	report := model.RuleRunReport{RuleID: rule.ID, DryRun: dryRun}

	for _, folder := range rule.TargetFolders {
		err := filepath.WalkDir(folder, func(path string, d fs.DirEntry, err error) error {
			if err != nil {
				return err
			}
			if ctxErr := ctx.Err(); ctxErr != nil {
				return ctxErr
			}
			if d.IsDir() || !strings.EqualFold(filepath.Ext(path), ".srt") {
				return nil
			}

			report.FilesScanned++
			modified, removed, fileErr := e.applyRule(path, rule.Patterns, dryRun)

			entry := model.AutomationLog{
				RuleID:       rule.ID,
				FilePath:     path,
				Modified:     modified,
				RemovedLines: removed,
				DryRun:       dryRun,
			}
			if fileErr != nil {
				entry.ErrorMessage = fileErr.Error()
				report.Errors = append(report.Errors, fmt.Sprintf("%s: %v", path, fileErr))
			} else if modified {
				report.FilesModified++
				report.RemovedLines += removed
			}
			if logErr := e.repo.AddAutomationLog(entry); logErr != nil {
				log.Printf("automation: log %s for rule %s: %v", path, rule.ID, logErr)
			}
			return nil
		})
		if err != nil {
			report.Errors = append(report.Errors, fmt.Sprintf("%s: %v", folder, err))
		}
	}

	if !dryRun {
		if err := e.repo.TouchRuleLastRun(rule.ID, time.Now()); err != nil {
			log.Printf("automation: touch last run for rule %s: %v", rule.ID, err)
		}
	}
	return report
}

// applyRule strips matching lines from one file. Blocks left without any
// text are dropped and the survivors renumbered; caption timing is never
// touched.
func (e *Engine) applyRule(path string, patterns []string, dryRun bool) (modified bool, removed int, err error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return false, 0, err
	}

	blocks := srt.Parse(string(raw))
	var kept []srt.Block
	for _, b := range blocks {
		lines := strings.Split(b.Text, "\n")
		var clean []string
		for _, line := range lines {
			if lineMatchesAny(line, patterns) {
				removed++
				continue
			}
			clean = append(clean, line)
		}
		if len(clean) == 0 {
			continue
		}
		b.Text = strings.Join(clean, "\n")
		kept = append(kept, b)
	}

	if removed == 0 {
		return false, 0, nil
	}
	if dryRun {
		return true, removed, nil
	}

	if err := os.WriteFile(path, []byte(srt.Format(srt.Renumber(kept))), 0o644); err != nil {
		return false, removed, err
	}
	return true, removed, nil
}

func lineMatchesAny(line string, patterns []string) bool {
	for _, p := range patterns {
		if p != "" && strings.Contains(line, p) {
			return true
		}
	}
	return false
}

// Scheduler drives both automation timelines: a 30 second tick that fires
// cron rules at most once per matching minute, and a 5 second poll that
// claims due one-shot scans.
type Scheduler struct {
	repo    *db.Repository
	engine  *Engine
	scanner *scan.Engine

	cronTick time.Duration
	pollTick time.Duration

	// rule id -> last minute the rule fired, to suppress double fires when
	// two ticks land in the same minute.
	lastFired map[string]time.Time
}

func NewScheduler(repo *db.Repository, engine *Engine, scanner *scan.Engine) *Scheduler {
	return &Scheduler{
		repo:      repo,
		engine:    engine,
		scanner:   scanner,
		cronTick:  30 * time.Second,
		pollTick:  5 * time.Second,
		lastFired: map[string]time.Time{},
	}
}

// Start runs both loops until ctx is cancelled.
func (s *Scheduler) Start(ctx context.Context) {
	go s.cronLoop(ctx)
	go s.pollLoop(ctx)
}

func (s *Scheduler) cronLoop(ctx context.Context) {
	ticker := time.NewTicker(s.cronTick)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			s.fireDueRules(ctx, now)
		}
	}
}

func (s *Scheduler) fireDueRules(ctx context.Context, now time.Time) {
	rules, err := s.repo.EnabledAutomationRules()
	if err != nil {
		log.Printf("automation: list rules: %v", err)
		return
	}

	minute := now.Truncate(time.Minute)
	for _, rule := range rules {
		schedule, err := ParseSchedule(rule.Schedule)
		if err != nil {
			log.Printf("automation: rule %s (%s): %v", rule.Name, rule.ID, err)
			continue
		}
		if !schedule.Matches(now) || s.lastFired[rule.ID].Equal(minute) {
			continue
		}
		s.lastFired[rule.ID] = minute

		report := s.engine.RunRule(ctx, rule, false)
		log.Printf("automation: rule %s scanned %d files, modified %d, removed %d lines, %d errors",
			rule.Name, report.FilesScanned, report.FilesModified, report.RemovedLines, len(report.Errors))
	}
}

func (s *Scheduler) pollLoop(ctx context.Context) {
	ticker := time.NewTicker(s.pollTick)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			s.runDueScans(ctx, now)
		}
	}
}

func (s *Scheduler) runDueScans(ctx context.Context, now time.Time) {
	due, err := s.repo.DueScheduledScans(now)
	if err != nil {
		log.Printf("automation: list due scans: %v", err)
		return
	}

	for _, sc := range due {
		if err := s.repo.ClaimScheduledScan(sc.ID); err != nil {
			// Someone else claimed it between the query and the update.
			if !errors.Is(err, db.ErrInvalidTransition) {
				log.Printf("automation: claim scan %d: %v", sc.ID, err)
			}
			continue
		}
		s.executeScan(ctx, sc)
	}
}

func (s *Scheduler) executeScan(ctx context.Context, sc model.ScheduledScan) {
	started := time.Now()
	files, err := scan.Collect(s.scanner.Run(ctx, scan.Options{Directory: sc.Directory}))
	duration := time.Since(started)

	if err != nil {
		if dbErr := s.repo.CompleteScheduledScan(sc.ID, model.ScanFailed, 0, 0, duration, err.Error()); dbErr != nil {
			log.Printf("automation: fail scan %d: %v", sc.ID, dbErr)
		}
		return
	}

	withPlot := 0
	for _, f := range files {
		if f.HasPlot {
			withPlot++
		}
	}
	if dbErr := s.repo.CompleteScheduledScan(sc.ID, model.ScanCompleted, len(files), withPlot, duration, ""); dbErr != nil {
		log.Printf("automation: complete scan %d: %v", sc.ID, dbErr)
	}
}
