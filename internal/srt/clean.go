package srt

import (
	"regexp"
	"strings"
)

// Watermark patterns: promotional text embedded inside subtitle dialogue by
// release groups and subtitle sites. Matching text is removed line by line.
var watermarkRes = []*regexp.Regexp{
	regexp.MustCompile(`(?i)yts\.(mx|am|lt|ag)`),
	regexp.MustCompile(`(?i)\byts\b`),
	regexp.MustCompile(`(?i)\byify\b`),
	regexp.MustCompile(`(?i)\brarbg\b`),
	regexp.MustCompile(`(?i)\beztv\b`),
	regexp.MustCompile(`(?i)\bettv\b`),
	regexp.MustCompile(`(?i)torrentgalaxy`),
	regexp.MustCompile(`(?i)\btgx\b`),
	regexp.MustCompile(`(?i)1337x`),
	regexp.MustCompile(`(?i)limetorrents?`),
	regexp.MustCompile(`(?i)opensubtitles?`),
	regexp.MustCompile(`(?i)subscene`),
	regexp.MustCompile(`(?i)addic7ed`),
	regexp.MustCompile(`(?i)podnapisi`),
	regexp.MustCompile(`(?i)yifysubtitles?`),
	regexp.MustCompile(`(?i)downloaded\s+from`),
	regexp.MustCompile(`(?i)subtitles?\s+by`),
	regexp.MustCompile(`(?i)sync(?:ed|hronized)?\s+(?:and\s+)?correct(?:ed|ions?)?\s+by`),
	regexp.MustCompile(`(?i)ripped\s+by`),
	regexp.MustCompile(`(?i)encoded?\s+by`),
	regexp.MustCompile(`(?i)resynce?d?\s+by`),
	regexp.MustCompile(`(?i)translated\s+by`),
	regexp.MustCompile(`(?i)captioned\s+by`),
	regexp.MustCompile(`(?i)support\s+us\s+and`),
	regexp.MustCompile(`(?i)get\s+more\s+subtitles`),
	regexp.MustCompile(`(?i)quality\s+subtitles`),
	regexp.MustCompile(`(?i)free\s+subtitles`),
	regexp.MustCompile(`(?i)www\.[a-z0-9\-]+\.(com|org|net|io|tv|mx|am|lt|ag)`),
	regexp.MustCompile(`(?i)https?://\S+`),
	regexp.MustCompile(`(?i)follow\s+us\s+on`),
	regexp.MustCompile(`(?i)join\s+us\s+at`),
	regexp.MustCompile(`(?i)visit\s+us\s+at`),
	regexp.MustCompile(`(?i)advertise\s+here`),
	regexp.MustCompile(`(?i)become\s+a\s+member`),
	regexp.MustCompile(`(?i)register\s+(now|today|free)`),
}

// Patterns that condemn an entire line as pure promotion.
var blockRemoverRes = []*regexp.Regexp{
	regexp.MustCompile(`(?i)^[\s\-_]*(?:www\.)?yts`),
	regexp.MustCompile(`(?i)^[\s\-_]*(?:www\.)?rarbg`),
	regexp.MustCompile(`(?i)^[\s\-_]*opensubtitles`),
	regexp.MustCompile(`(?i)^[\s\-_]*subscene`),
	regexp.MustCompile(`(?i)^[\s\-_]*downloaded\s+from`),
	regexp.MustCompile(`(?i)^[\s\-_]*subtitles?\s+by`),
	regexp.MustCompile(`(?i)^[\s\-_]*sync(?:ed)?\s+(?:and\s+)?correct`),
	regexp.MustCompile(`(?i)^[\s\-_]*support\s+us`),
	regexp.MustCompile(`(?i)^[\s\-_]*get\s+(?:more\s+)?subtitles`),
	regexp.MustCompile(`(?i)^[\s\-_]*advertise`),
	regexp.MustCompile(`^[\s\-=_\*]{10,}$`),
}

var punctOnlyRe = regexp.MustCompile(`[\s\-_.,!?:;=*]+`)
var alnumRe = regexp.MustCompile(`[a-zA-Z0-9]`)

// IsAdBlock reports whether a block is purely promotional: every non-empty
// line either matches a remover pattern or is nothing but watermark text.
func IsAdBlock(text string) bool {
	for _, line := range strings.Split(strings.TrimSpace(text), "\n") {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		if lineIsAd(line) {
			continue
		}
		return false
	}
	return true
}

func lineIsAd(line string) bool {
	for _, re := range blockRemoverRes {
		if re.MatchString(line) {
			return true
		}
	}
	return punctOnlyRe.ReplaceAllString(stripWatermarks(line), "") == ""
}

// stripWatermarks removes every span a watermark pattern matches in the
// original line. All patterns match before anything is removed, so one
// pattern's removal cannot split text another pattern would have matched.
func stripWatermarks(line string) string {
	drop := make([]bool, len(line))
	matched := false
	for _, re := range watermarkRes {
		for _, span := range re.FindAllStringIndex(line, -1) {
			matched = true
			for i := span[0]; i < span[1]; i++ {
				drop[i] = true
			}
		}
	}
	if !matched {
		return line
	}
	var b strings.Builder
	for i := 0; i < len(line); i++ {
		if !drop[i] {
			b.WriteByte(line[i])
		}
	}
	return b.String()
}

// CleanAdText removes watermark fragments from dialogue while keeping the
// rest of the block intact. Lines left without alphanumeric content are
// dropped. Returns "" when nothing survives.
func CleanAdText(text string) string {
	var kept []string
	for _, line := range strings.Split(text, "\n") {
		cleaned := strings.TrimSpace(strings.Join(strings.Fields(stripWatermarks(line)), " "))
		if cleaned != "" && alnumRe.MatchString(cleaned) {
			kept = append(kept, cleaned)
		}
	}
	return strings.Join(kept, "\n")
}

// CleanAdBlocks removes pure-ad blocks and strips watermarks from the rest.
func CleanAdBlocks(blocks []Block) []Block {
	out := make([]Block, 0, len(blocks))
	for _, b := range blocks {
		if IsAdBlock(b.Text) {
			continue
		}
		cleaned := CleanAdText(b.Text)
		if strings.TrimSpace(cleaned) == "" {
			continue
		}
		b.Text = cleaned
		out = append(out, b)
	}
	return out
}
