package srt

import (
	"regexp"
	"strings"
)

// Reading-speed model for synthesized block durations. 160 words per minute is
// a comfortable on-screen pace; the clamp prevents flash-frames and stale text.
const (
	ReadingWPM    = 160
	MinDurationMS = 1200
	MaxDurationMS = 6000
)

// TV-safe display constraints for synthesized text.
const (
	TVLineWidth = 55
	TVMaxLines  = 2
)

// CountWords counts whitespace-separated words, ignoring sentinel tokens.
func CountWords(text string) int {
	return len(strings.Fields(tokenRe.ReplaceAllString(text, "")))
}

// ReadingDurationMS converts text length to display time at ReadingWPM,
// clamped to [MinDurationMS, MaxDurationMS].
func ReadingDurationMS(text string) int {
	words := CountWords(text)
	raw := int(float64(words) / (float64(ReadingWPM) / 60.0) * 1000)
	if raw < MinDurationMS {
		return MinDurationMS
	}
	if raw > MaxDurationMS {
		return MaxDurationMS
	}
	return raw
}

// WrapForTV wraps text to at most maxLines lines of width characters,
// truncating with an ellipsis when it does not fit.
func WrapForTV(text string) string {
	lines := wrapWords(text, TVLineWidth)
	if len(lines) > TVMaxLines {
		lines = lines[:TVMaxLines]
		lines[len(lines)-1] = strings.TrimRight(lines[len(lines)-1], " ") + "..."
	}
	return strings.Join(lines, "\n")
}

func wrapWords(text string, width int) []string {
	var lines []string
	var cur string
	for _, word := range strings.Fields(text) {
		if cur == "" {
			cur = word
			continue
		}
		if len(cur)+1+len(word) <= width {
			cur += " " + word
		} else {
			lines = append(lines, cur)
			cur = word
		}
	}
	if cur != "" {
		lines = append(lines, cur)
	}
	return lines
}

var sentenceEndRe = regexp.MustCompile(`([.!?])\s+`)

func splitSentences(text string) []string {
	marked := sentenceEndRe.ReplaceAllString(strings.TrimSpace(text), "$1\x00")
	var out []string
	for _, s := range strings.Split(marked, "\x00") {
		s = strings.TrimSpace(s)
		if s != "" {
			out = append(out, s)
		}
	}
	return out
}

// SplitPlotChunks breaks plot text into chunks that each fit the TV display
// constraints while preserving every word. Sentences are the preferred break
// points; over-long sentences fall back to word boundaries. Nothing is
// truncated.
func SplitPlotChunks(plot string) []string {
	plot = strings.TrimSpace(plot)
	if plot == "" {
		return nil
	}

	maxChars := TVLineWidth * TVMaxLines
	var chunks []string
	cur := ""

	for _, sentence := range splitSentences(plot) {
		test := sentence
		if cur != "" {
			test = cur + " " + sentence
		}
		if len(test) <= maxChars {
			cur = test
			continue
		}
		if cur != "" {
			chunks = append(chunks, cur)
		}
		if len(sentence) <= maxChars {
			cur = sentence
			continue
		}
		cur = ""
		for _, word := range strings.Fields(sentence) {
			test := word
			if cur != "" {
				test = cur + " " + word
			}
			if len(test) <= maxChars {
				cur = test
			} else {
				if cur != "" {
					chunks = append(chunks, cur)
				}
				cur = word
			}
		}
	}
	if cur != "" {
		chunks = append(chunks, cur)
	}
	return chunks
}

// mergeSmallTrailingChunks folds chunks of fewer than six words into their
// predecessor when the merge still fits the display, avoiding a separate
// subtitle for a dangling sentence fragment.
func mergeSmallTrailingChunks(chunks []string) []string {
	if len(chunks) <= 1 {
		return chunks
	}
	maxChars := TVLineWidth * TVMaxLines
	result := append([]string(nil), chunks...)
	for i := len(result) - 1; i > 0; i-- {
		if CountWords(result[i]) >= 6 {
			continue
		}
		merged := result[i-1] + " " + result[i]
		if len(merged) <= maxChars {
			result[i-1] = merged
			result = append(result[:i], result[i+1:]...)
		}
	}
	return result
}
