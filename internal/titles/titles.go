// Package titles derives searchable titles from release-style filenames and
// classifies promotional junk embedded in subtitle text.
package titles

import (
	"path/filepath"
	"regexp"
	"strconv"
	"strings"
)

var (
	junkRe = regexp.MustCompile(`(?i)\b(` +
		// quality
		`480p|720p|1080p|2160p|4320p|4k|8k|uhd|hdr|hdr10|dolby\s*vision|` +
		`bluray|blu[-\s]?ray|bdrip|brrip|webrip|web[-\s]?dl|dvdrip|dvdscr|telesync|telecine|hdrip|hdlight|` +
		// codecs / audio
		`x264|x265|h\.?264|h\.?265|hevc|xvid|divx|aac|ac3|dts|truehd|atmos|dd5\.1|flac|opus|8bit|10bit|hi10p|` +
		// release groups
		`yts(\.mx)?|yify|rarbg|eztv|ettv|psa|ion10|fgt|tgx|torrentgalaxy|1337x|limetorrents?|publichd|ganool|evo|` +
		// subtitle-site ads
		`opensubtitles|subscene|addic7ed|podnapisi|yifysubtitles|subtitles?\s*by|synce?d?\s*by|encoded?\s*by|resynce?d?\s*by|` +
		// language tags
		`eng|english|ita|italian|fra|french|spa|spanish|ger|german|multi|dubbed|vostfr|subfrench|subs?|subtitles?|` +
		// editions
		`unrated|uncut|directors?\s*cut|extended|theatrical|imax|special\s*edition|limited|internal|proper|repack|remastered` +
		`)\b`)

	webJunkRe    = regexp.MustCompile(`(?i)www\.[a-z0-9\-]+\.(com|org|net)`)
	bracketsRe   = regexp.MustCompile(`[\[({].*?[])}]`)
	separatorsRe = regexp.MustCompile(`[._\-]+`)
	multispaceRe = regexp.MustCompile(`\s+`)
	yearRe       = regexp.MustCompile(`\b(19\d{2}|20\d{2})\b`)
	emptyParenRe = regexp.MustCompile(`\(\s*\)|\[\s*\]`)

	// Trailing subtitle-language suffix before the extension, with optional
	// hearing-impaired/forced tag: "Movie.en.hi.srt" -> "Movie".
	langSuffixRe = regexp.MustCompile(`(?i)\.(en|eng|english|es|spa|spanish|fr|fre|fra|french|de|ger|german|it|ita|italian|pt|por|nl|dut|multi)(\.(hi|sdh|cc|forced))?$`)

	seasonEpisodeRes = []*regexp.Regexp{
		regexp.MustCompile(`(?i)[Ss](\d{1,2})[Ee](\d{1,2})`),
		regexp.MustCompile(`\b(\d{1,2})x(\d{1,2})\b`),
		regexp.MustCompile(`(?i)Season\s*(\d{1,2})\s*Episode\s*(\d{1,2})`),
	}
)

// Extraction is the result of cleaning a release filename.
type Extraction struct {
	Title    string
	Year     string
	Season   *int
	Episode  *int
	IsSeries bool
}

// CleanKnown normalizes an already-known title: empty-parenthesis cleanup only,
// never a re-derivation from the filename.
func CleanKnown(title string) string {
	cleaned := emptyParenRe.ReplaceAllString(title, "")
	return strings.TrimSpace(multispaceRe.ReplaceAllString(cleaned, " "))
}

// Extract derives a search title and informational year from a filename.
// The year is detected (parenthesized or bare) but removed from the search
// title: including it in provider queries produces false negatives.
func Extract(filename string) Extraction {
	name := strings.TrimSuffix(filepath.Base(filename), filepath.Ext(filename))
	name = langSuffixRe.ReplaceAllString(name, "")

	out := Extraction{}
	out.Season, out.Episode = ExtractSeasonEpisode(name)
	out.IsSeries = out.Season != nil || out.Episode != nil
	out.Year = ExtractYear(name)

	cleaned := name
	for _, re := range seasonEpisodeRes {
		cleaned = re.ReplaceAllString(cleaned, " ")
	}
	cleaned = junkRe.ReplaceAllString(cleaned, "")
	cleaned = webJunkRe.ReplaceAllString(cleaned, "")
	cleaned = bracketsRe.ReplaceAllString(cleaned, "")
	if out.Year != "" {
		cleaned = strings.ReplaceAll(cleaned, out.Year, "")
	}
	cleaned = separatorsRe.ReplaceAllString(cleaned, " ")
	cleaned = strings.NewReplacer("(", " ", ")", " ", "[", " ", "]", " ").Replace(cleaned)
	cleaned = strings.TrimSpace(multispaceRe.ReplaceAllString(cleaned, " "))

	if cleaned == "" {
		cleaned = strings.TrimSpace(multispaceRe.ReplaceAllString(separatorsRe.ReplaceAllString(name, " "), " "))
	}
	out.Title = cleaned
	return out
}

func ExtractYear(name string) string {
	return yearRe.FindString(name)
}

func ExtractSeasonEpisode(name string) (season, episode *int) {
	for _, re := range seasonEpisodeRes {
		m := re.FindStringSubmatch(name)
		if len(m) == 3 {
			s, err1 := strconv.Atoi(m[1])
			e, err2 := strconv.Atoi(m[2])
			if err1 == nil && err2 == nil {
				return &s, &e
			}
		}
	}
	return nil, nil
}
