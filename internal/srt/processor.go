package srt

import (
	"bufio"
	"fmt"
	"io"
	"log"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"sync"

	"github.com/subplot/subplot/internal/model"
)

const (
	// MaxSRTBytes rejects files too large to be real subtitles.
	MaxSRTBytes = 5 * 1024 * 1024
	// plotScanLines bounds the fast existing-plot check to the head of the file.
	plotScanLines = 40
	// plotScanTailBytes bounds the tail read that catches end-positioned blocks.
	plotScanTailBytes = 8 * 1024
)

// Insertion positions for synthesized blocks.
const (
	PositionStart = "start"
	PositionEnd   = "end"
	PositionIndex = "index"
)

// ProcessOptions controls one mutation of a subtitle file.
type ProcessOptions struct {
	ForceReprocess bool
	Position       string
	Format         FormatOptions
	CleanContent   bool
}

// ProcessResult reports the outcome of a mutation.
type ProcessResult struct {
	Success        bool   `json:"success"`
	Status         string `json:"status"`
	Summary        string `json:"summary,omitempty"`
	Title          string `json:"title,omitempty"`
	Year           string `json:"year,omitempty"`
	IMDbRating     string `json:"imdb_rating,omitempty"`
	RottenTomatoes string `json:"rotten_tomatoes,omitempty"`
	Runtime        string `json:"runtime,omitempty"`
	MediaType      string `json:"media_type,omitempty"`
	Error          string `json:"error,omitempty"`
}

// Processor applies metadata blocks to subtitle files. A per-path mutex keeps
// concurrent jobs from double-inserting into the same file.
type Processor struct {
	MinSafeGapMS int

	locks sync.Map // path -> *sync.Mutex
}

func NewProcessor(minSafeGapMS int) *Processor {
	if minSafeGapMS <= 0 {
		minSafeGapMS = 500
	}
	return &Processor{MinSafeGapMS: minSafeGapMS}
}

func (p *Processor) lock(path string) *sync.Mutex {
	mu, _ := p.locks.LoadOrStore(path, &sync.Mutex{})
	return mu.(*sync.Mutex)
}

func fail(msg string) ProcessResult {
	return ProcessResult{Success: false, Status: "Error", Error: msg}
}

// Process inserts metadata blocks built from meta into the file at path.
// Existing caption timing is never modified. Reprocessing a file that already
// carries a metadata block is a no-op unless ForceReprocess is set, in which
// case the old blocks are stripped and replaced.
func (p *Processor) Process(path string, meta model.MetadataRecord, opts ProcessOptions) ProcessResult {
	info, err := os.Stat(path)
	if err != nil {
		return fail("file not found")
	}
	if info.Size() > MaxSRTBytes {
		return fail("subtitle file too large")
	}

	plot := strings.TrimSpace(meta.Plot)
	if plot == "" {
		return fail("empty plot")
	}

	mu := p.lock(path)
	mu.Lock()
	defer mu.Unlock()

	if !opts.ForceReprocess && p.HasPlotFast(path) {
		existing := p.ExtractExistingMetadata(path)
		return ProcessResult{
			Success:        true,
			Status:         "Skipped",
			Summary:        p.ExtractExistingPlot(path),
			Title:          existing.Title,
			Year:           existing.Year,
			IMDbRating:     existing.IMDbRating,
			RottenTomatoes: existing.RottenTomatoes,
			Runtime:        existing.Runtime,
		}
	}

	raw, err := os.ReadFile(path)
	if err != nil {
		return fail(fmt.Sprintf("read failed: %v", err))
	}

	blocks := Parse(string(raw))
	if len(blocks) == 0 {
		return fail("no valid subtitle blocks found")
	}

	originals := StripGeneratedBlocks(blocks)
	if len(originals) == 0 {
		return fail("no dialogue subtitles found after cleaning")
	}

	if opts.CleanContent {
		before := len(originals)
		originals = CleanAdBlocks(originals)
		if removed := before - len(originals); removed > 0 {
			log.Printf("removed %d ad block(s) from %s", removed, filepath.Base(path))
		}
		if len(originals) == 0 {
			return fail("no dialogue subtitles found after ad removal")
		}
	}

	firstStart := originals[0].Start

	var final []Block
	switch opts.Position {
	case PositionEnd:
		final = append(append([]Block(nil), originals...), p.blocksAfter(meta, plot, originals[len(originals)-1].End, opts.Format)...)
	case PositionIndex:
		final = p.insertAfterFirst(meta, plot, originals, opts.Format)
	default:
		intro := BuildIntroBlocks(meta, plot, firstStart, p.MinSafeGapMS, opts.Format)
		final = append(intro, originals...)
	}

	renumbered := Renumber(final)

	// Sanity check: the original captions must not have moved.
	moved := true
	for _, b := range renumbered {
		if b.Start == firstStart {
			moved = false
			break
		}
	}
	if moved {
		return fail("internal error: timing corruption detected")
	}

	if err := writeFileAtomic(path, []byte(Format(renumbered))); err != nil {
		return fail(fmt.Sprintf("write failed: %v", err))
	}

	return ProcessResult{
		Success:        true,
		Status:         "Processed",
		Summary:        plot,
		Title:          meta.Title,
		Year:           meta.Year,
		IMDbRating:     meta.IMDbRating,
		RottenTomatoes: meta.RottenTomatoes,
		Runtime:        meta.Runtime,
		MediaType:      meta.MediaType,
	}
}

// blocksAfter builds header and plot blocks at the ideal reading pace,
// starting one safe gap after baseMS. Used for the end position where no
// upper bound constrains the window.
func (p *Processor) blocksAfter(meta model.MetadataRecord, plot string, baseMS int, opts FormatOptions) []Block {
	headerText := buildHeaderText(meta, opts)
	cur := baseMS + p.MinSafeGapMS

	blocks := []Block{{Start: cur, End: cur + ReadingDurationMS(headerText), Text: headerText}}
	cur = blocks[0].End

	for i, chunk := range mergeSmallTrailingChunks(SplitPlotChunks(plot)) {
		end := cur + ReadingDurationMS(chunk)
		blocks = append(blocks, Block{Start: cur, End: end, Text: formatPlotChunk(chunk, i == 0, opts)})
		cur = end
	}
	return blocks
}

// insertAfterFirst places synthesized blocks immediately after the first
// caption, fitted to the gap before the second one. When the gap cannot hold
// a minimum-duration block the metadata collapses to a zero-width block at the
// first caption's end rather than shifting anything.
func (p *Processor) insertAfterFirst(meta model.MetadataRecord, plot string, originals []Block, opts FormatOptions) []Block {
	first := originals[0]

	window := 0
	if len(originals) > 1 {
		window = originals[1].Start - first.End
	}

	var inserted []Block
	switch {
	case len(originals) == 1:
		inserted = p.blocksAfter(meta, plot, first.End, opts)
	case window >= MinDurationMS+p.MinSafeGapMS:
		inserted = BuildIntroBlocks(meta, plot, window, p.MinSafeGapMS, opts)
		for i := range inserted {
			inserted[i].Start += first.End
			inserted[i].End += first.End
		}
	default:
		text := buildHeaderText(meta, opts) + "\n" + formatPlotChunk(plot, true, opts)
		inserted = []Block{{Start: first.End, End: first.End, Text: text}}
	}

	out := make([]Block, 0, len(originals)+len(inserted))
	out = append(out, first)
	out = append(out, inserted...)
	out = append(out, originals[1:]...)
	return out
}

func containsPlotMarker(s string) bool {
	if strings.Contains(s, Sentinel) {
		return true
	}
	if strings.Contains(strings.ToLower(s), strings.ToLower(LegacySignature)) {
		return true
	}
	// Older files carry the metadata header without attribution.
	return strings.Contains(s, "⭐ IMDb:")
}

// HasPlotFast checks whether a file already carries a synthesized metadata
// block without a full parse. Start- and index-positioned blocks sit in the
// head lines; end-positioned blocks are caught by a bounded tail read.
func (p *Processor) HasPlotFast(path string) bool {
	f, err := os.Open(path)
	if err != nil {
		return false
	}
	defer f.Close()

	scanner := bufio.NewScanner(f)
	for i := 0; i < plotScanLines && scanner.Scan(); i++ {
		if containsPlotMarker(scanner.Text()) {
			return true
		}
	}

	info, err := f.Stat()
	if err != nil {
		return false
	}
	offset := info.Size() - plotScanTailBytes
	if offset < 0 {
		offset = 0
	}
	tail := make([]byte, info.Size()-offset)
	if _, err := f.ReadAt(tail, offset); err != nil && err != io.EOF {
		return false
	}
	return containsPlotMarker(string(tail))
}

// ExtractExistingPlot pulls the plot text out of a file that already has one.
// The plot lives in the second block; the first is the header.
func (p *Processor) ExtractExistingPlot(path string) string {
	raw, err := os.ReadFile(path)
	if err != nil {
		return ""
	}
	blocks := Parse(string(raw))
	if len(blocks) < 2 {
		return ""
	}
	text := blocks[1].Text
	if i := strings.Index(text, LegacySignature); i >= 0 {
		text = text[:i]
	}
	text = strings.TrimPrefix(SanitizeText(text), "Plot: ")
	return strings.TrimSpace(stripTagsRe.ReplaceAllString(text, ""))
}

var (
	stripTagsRe   = regexp.MustCompile(`</?[bi]>`)
	headerYearRe  = regexp.MustCompile(`\((\d{4})\)`)
	imdbRatingRe  = regexp.MustCompile(`IMDb:\s*(\S+)`)
	rtRatingRe    = regexp.MustCompile(`RT:\s*(\S+)`)
	headerTimerRe = regexp.MustCompile(`⏱\s*(.+?)(?:\s{2,}|$)`)
)

// ExtractExistingMetadata parses title, year, ratings, and runtime out of the
// header block of an already-enriched file.
func (p *Processor) ExtractExistingMetadata(path string) model.MetadataRecord {
	var meta model.MetadataRecord

	raw, err := os.ReadFile(path)
	if err != nil {
		return meta
	}
	blocks := Parse(string(raw))
	if len(blocks) == 0 {
		return meta
	}

	lines := strings.Split(SanitizeText(blocks[0].Text), "\n")
	if len(lines) > 0 {
		first := stripTagsRe.ReplaceAllString(lines[0], "")
		if m := headerYearRe.FindStringSubmatchIndex(first); m != nil {
			meta.Year = first[m[2]:m[3]]
			meta.Title = strings.TrimSpace(first[:m[0]])
		} else {
			meta.Title = strings.TrimSpace(first)
		}
	}
	if len(lines) > 1 {
		second := lines[1]
		if m := imdbRatingRe.FindStringSubmatch(second); m != nil {
			meta.IMDbRating = m[1]
		}
		if m := rtRatingRe.FindStringSubmatch(second); m != nil {
			meta.RottenTomatoes = m[1]
		}
		if m := headerTimerRe.FindStringSubmatch(second); m != nil {
			meta.Runtime = strings.TrimSpace(m[1])
		}
	}
	return meta
}

// CountPlotMarkers reports how many synthesized header blocks a file carries.
// More than one means an earlier version double-inserted.
func CountPlotMarkers(content string) int {
	count := 0
	legacy := strings.ToLower(LegacySignature)
	for _, b := range Parse(content) {
		if strings.Contains(b.Text, "⭐ IMDb:") || strings.Contains(strings.ToLower(b.Text), legacy) {
			count++
		}
	}
	return count
}

func writeFileAtomic(path string, data []byte) error {
	tmp, err := os.CreateTemp(filepath.Dir(path), filepath.Base(path)+".tmp*")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return err
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return err
	}
	if err := os.Rename(tmpName, path); err != nil {
		os.Remove(tmpName)
		return err
	}
	return nil
}
