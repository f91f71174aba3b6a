// Package srt parses, mutates, and formats SubRip subtitle files. Synthesized
// metadata blocks carry a sentinel token during construction so that existing
// blocks can be detected and stripped deterministically on reprocessing.
package srt

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
)

// Sentinel marks synthesized blocks. It stays in the written file so that
// scans and reprocessing can identify system-inserted blocks deterministically.
const Sentinel = "{SUBPLOT}"

// LegacySignature is the attribution line older files carry. Detection falls
// back to it when the sentinel is absent.
const LegacySignature = "Generated by Subplot"

var tokenRe = regexp.MustCompile(`(?i)\{SUBPLOT(?::[^}]*)?\}`)

// Block is a single SRT entry. Times are milliseconds from stream start.
type Block struct {
	Index int
	Start int
	End   int
	Text  string
}

var timecodeRe = regexp.MustCompile(`(\d{2}:\d{2}:\d{2},\d{3})\s*-->\s*(\d{2}:\d{2}:\d{2},\d{3})`)

func timecodeToMS(tc string) (int, error) {
	parts := strings.SplitN(tc, ":", 3)
	if len(parts) != 3 {
		return 0, fmt.Errorf("bad timecode %q", tc)
	}
	secMS := strings.SplitN(parts[2], ",", 2)
	if len(secMS) != 2 {
		return 0, fmt.Errorf("bad timecode %q", tc)
	}
	h, err := strconv.Atoi(parts[0])
	if err != nil {
		return 0, err
	}
	m, err := strconv.Atoi(parts[1])
	if err != nil {
		return 0, err
	}
	s, err := strconv.Atoi(secMS[0])
	if err != nil {
		return 0, err
	}
	ms, err := strconv.Atoi(secMS[1])
	if err != nil {
		return 0, err
	}
	return ((h*3600+m*60+s)*1000 + ms), nil
}

func msToTimecode(ms int) string {
	if ms < 0 {
		ms = 0
	}
	s, ms := ms/1000, ms%1000
	h, s := s/3600, s%3600
	m, s := s/60, s%60
	return fmt.Sprintf("%02d:%02d:%02d,%03d", h, m, s, ms)
}

// Parse reads SRT content into blocks. It strips a BOM, normalizes line
// endings, anchors on timecode lines so malformed fragments are skipped rather
// than failing the file, and drops blocks with no text.
func Parse(content string) []Block {
	content = strings.TrimPrefix(content, "\uFEFF")
	content = strings.ReplaceAll(content, "\r\n", "\n")
	content = strings.ReplaceAll(content, "\r", "\n")

	lines := strings.Split(content, "\n")
	var blocks []Block

	for i := 0; i < len(lines); {
		line := strings.TrimSpace(lines[i])
		if line == "" {
			i++
			continue
		}

		m := timecodeRe.FindStringSubmatch(line)
		if m == nil {
			i++
			continue
		}

		start, err1 := timecodeToMS(m[1])
		end, err2 := timecodeToMS(m[2])
		if err1 != nil || err2 != nil {
			i++
			continue
		}

		index := 0
		if i > 0 {
			if n, err := strconv.Atoi(strings.TrimSpace(lines[i-1])); err == nil {
				index = n
			}
		}

		i++
		var textLines []string
		for i < len(lines) && strings.TrimSpace(lines[i]) != "" && !timecodeRe.MatchString(lines[i]) {
			textLines = append(textLines, lines[i])
			i++
		}

		text := strings.TrimSpace(strings.Join(textLines, "\n"))
		if text != "" {
			blocks = append(blocks, Block{Index: index, Start: start, End: end, Text: text})
		}

		for i < len(lines) && strings.TrimSpace(lines[i]) == "" {
			i++
		}
	}

	return blocks
}

// Format renders blocks back to SRT text with a trailing newline.
func Format(blocks []Block) string {
	var b strings.Builder
	for _, blk := range blocks {
		b.WriteString(strconv.Itoa(blk.Index))
		b.WriteString("\n")
		b.WriteString(msToTimecode(blk.Start))
		b.WriteString(" --> ")
		b.WriteString(msToTimecode(blk.End))
		b.WriteString("\n")
		b.WriteString(blk.Text)
		b.WriteString("\n\n")
	}
	return strings.TrimRight(b.String(), "\n") + "\n"
}

// Renumber assigns sequential 1-based indices without touching timing.
func Renumber(blocks []Block) []Block {
	out := make([]Block, len(blocks))
	for i, b := range blocks {
		b.Index = i + 1
		out[i] = b
	}
	return out
}

var multiNewlineRe = regexp.MustCompile(`\n{3,}`)

// SanitizeText removes sentinel tokens from subtitle text.
func SanitizeText(text string) string {
	cleaned := tokenRe.ReplaceAllString(text, "")
	cleaned = multiNewlineRe.ReplaceAllString(cleaned, "\n\n")
	return strings.TrimSpace(cleaned)
}

// SanitizeBlocks strips sentinel tokens from every block, dropping any left
// empty. Used when preparing text for display rather than for storage.
func SanitizeBlocks(blocks []Block) []Block {
	out := make([]Block, 0, len(blocks))
	for _, b := range blocks {
		clean := SanitizeText(b.Text)
		if clean == "" {
			continue
		}
		b.Text = clean
		out = append(out, b)
	}
	return out
}

// StripGeneratedBlocks removes previously synthesized metadata blocks,
// returning only the original dialogue. The sentinel is the definitive signal;
// the legacy signature, zero-duration blocks, and metadata marker glyphs cover
// files written before the sentinel existed.
func StripGeneratedBlocks(blocks []Block) []Block {
	out := make([]Block, 0, len(blocks))
	for _, b := range blocks {
		lower := strings.ToLower(b.Text)
		switch {
		case strings.Contains(b.Text, Sentinel) || tokenRe.MatchString(b.Text):
		case strings.Contains(lower, strings.ToLower(LegacySignature)):
		case b.Start == 0 && b.End == 0:
		case strings.Contains(lower, "imdb:") || strings.Contains(b.Text, "⭐") || strings.Contains(b.Text, "⏱"):
		default:
			out = append(out, b)
		}
	}
	return out
}
