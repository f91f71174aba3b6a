package srt

import (
	"fmt"
	"log"
	"regexp"
	"strings"

	"github.com/subplot/subplot/internal/model"
)

// FormatOptions controls the styling of synthesized blocks.
type FormatOptions struct {
	TitleBold    bool `json:"title_bold"`
	PlotItalic   bool `json:"plot_italic"`
	ShowDirector bool `json:"show_director"`
	ShowActors   bool `json:"show_actors"`
	ShowReleased bool `json:"show_released"`
	ShowGenre    bool `json:"show_genre"`
}

// DefaultFormatOptions matches the shipped defaults: bold title, italic plot.
func DefaultFormatOptions() FormatOptions {
	return FormatOptions{TitleBold: true, PlotItalic: true}
}

var runtimeDigitsRe = regexp.MustCompile(`\d+`)

func orNA(v string) string {
	if v == "" || v == "N/A" {
		return "N/A"
	}
	return v
}

func formatRuntime(raw string) string {
	raw = orNA(raw)
	if raw == "N/A" {
		return raw
	}
	if m := runtimeDigitsRe.FindString(raw); m != "" {
		return m + " min"
	}
	return raw
}

func buildHeaderText(meta model.MetadataRecord, opts FormatOptions) string {
	titleDisplay := meta.Title
	if opts.TitleBold {
		titleDisplay = "<b>" + titleDisplay + "</b>"
	}

	parts := []string{
		Sentinel,
		fmt.Sprintf("%s (%s)", titleDisplay, meta.Year),
		fmt.Sprintf("⭐ IMDb: %s   🍅 RT: %s   ⏱ %s",
			orNA(meta.IMDbRating), orNA(meta.RottenTomatoes), formatRuntime(meta.Runtime)),
	}

	if opts.ShowDirector && orNA(meta.Director) != "N/A" {
		parts = append(parts, "🎬 Director: "+meta.Director)
	}
	if opts.ShowActors && orNA(meta.Actors) != "N/A" {
		actors := meta.Actors
		if list := strings.Split(actors, ", "); len(list) > 3 {
			actors = strings.Join(list[:3], ", ") + "..."
		}
		parts = append(parts, "🎭 Cast: "+actors)
	}
	if opts.ShowReleased && orNA(meta.Released) != "N/A" {
		parts = append(parts, "📅 Released: "+meta.Released)
	}
	if opts.ShowGenre && orNA(meta.Genre) != "N/A" {
		parts = append(parts, "🎞 Genre: "+meta.Genre)
	}

	parts = append(parts, "— "+LegacySignature)
	return strings.Join(parts, "\n")
}

func formatPlotChunk(chunk string, first bool, opts FormatOptions) string {
	styled := WrapForTV(chunk)
	if opts.PlotItalic {
		styled = "<i>" + styled + "</i>"
	}
	if first {
		return Sentinel + "\nPlot: " + styled
	}
	return Sentinel + "\n" + styled
}

// BuildIntroBlocks synthesizes header and plot blocks that fit entirely in the
// gap before the first original caption. Existing timing is never modified:
// every synthesized block ends strictly before firstStartMS, and if the gap
// cannot hold even a minimum-duration block nothing is inserted.
func BuildIntroBlocks(meta model.MetadataRecord, plot string, firstStartMS, minSafeGapMS int, opts FormatOptions) []Block {
	headerText := buildHeaderText(meta, opts)
	availableMS := firstStartMS - minSafeGapMS

	if firstStartMS < MinDurationMS+minSafeGapMS {
		log.Printf("skipping intro: first caption at %dms leaves no safe window", firstStartMS)
		return nil
	}

	safeEnd := func(proposed int) int {
		if max := firstStartMS - 1; proposed > max {
			return max
		}
		return proposed
	}

	headerMS := ReadingDurationMS(headerText)
	chunks := SplitPlotChunks(plot)

	totalPlotMS := 0
	for _, c := range chunks {
		totalPlotMS += ReadingDurationMS(c)
	}
	totalNeededMS := headerMS + totalPlotMS

	var blocks []Block

	switch {
	case availableMS >= totalNeededMS:
		// Full window: everything at the ideal reading pace.
		blocks = append(blocks, Block{Index: 1, Start: 0, End: headerMS, Text: headerText})
		merged := mergeSmallTrailingChunks(chunks)
		cur := headerMS
		for i, chunk := range merged {
			end := safeEnd(cur + ReadingDurationMS(chunk))
			blocks = append(blocks, Block{
				Index: len(blocks) + 1,
				Start: cur,
				End:   end,
				Text:  formatPlotChunk(chunk, i == 0, opts),
			})
			cur = end
		}

	case availableMS >= headerMS+MinDurationMS*len(chunks):
		// Everything fits if the pace is compressed: blocks share the window
		// proportionally to their word counts.
		merged := mergeSmallTrailingChunks(chunks)
		headerEnd := headerMS
		if share := availableMS / (len(merged) + 1); share < headerEnd {
			headerEnd = share
		}
		if headerEnd < MinDurationMS {
			headerEnd = MinDurationMS
		}
		plotAvailMS := availableMS - headerEnd

		blocks = append(blocks, Block{Index: 1, Start: 0, End: headerEnd, Text: headerText})

		totalWords := 0
		for _, c := range merged {
			totalWords += CountWords(c)
		}
		cur := headerEnd
		for i, chunk := range merged {
			dur := plotAvailMS / len(merged)
			if totalWords > 0 {
				dur = plotAvailMS * CountWords(chunk) / totalWords
			}
			if dur < MinDurationMS {
				dur = MinDurationMS
			}
			end := safeEnd(cur + dur)
			blocks = append(blocks, Block{
				Index: len(blocks) + 1,
				Start: cur,
				End:   end,
				Text:  formatPlotChunk(chunk, i == 0, opts),
			})
			cur = end
		}

	case availableMS >= headerMS+MinDurationMS:
		// Partial: header plus as many chunks as fit; leftover sentences are
		// folded into the last block that fits rather than dropped silently.
		merged := mergeSmallTrailingChunks(chunks)
		headerEnd := headerMS
		if half := availableMS / 2; half < headerEnd {
			headerEnd = half
		}
		blocks = append(blocks, Block{Index: 1, Start: 0, End: headerEnd, Text: headerText})

		cur := headerEnd
		added := 0
		for i, chunk := range merged {
			remaining := availableMS - cur
			if remaining < MinDurationMS {
				break
			}
			dur := ReadingDurationMS(chunk)
			if dur > remaining {
				dur = remaining
			}
			if dur < MinDurationMS {
				dur = MinDurationMS
			}
			lastFitting := i == len(merged)-1 || remaining-dur < MinDurationMS
			if lastFitting && i < len(merged)-1 {
				chunk = strings.Join(merged[i:], " ")
			}
			end := safeEnd(cur + dur)
			blocks = append(blocks, Block{
				Index: len(blocks) + 1,
				Start: cur,
				End:   end,
				Text:  formatPlotChunk(chunk, added == 0, opts),
			})
			cur = end
			added++
			if lastFitting {
				break
			}
		}

	case availableMS >= MinDurationMS:
		// Only room for a brief title card.
		brief := fmt.Sprintf("%s\n%s (%s)\n— %s", Sentinel, meta.Title, meta.Year, LegacySignature)
		blocks = append(blocks, Block{Index: 1, Start: 0, End: safeEnd(availableMS), Text: brief})
	}

	return blocks
}
