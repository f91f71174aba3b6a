package provider

import (
	"sort"
	"strconv"
	"strings"

	"github.com/subplot/subplot/internal/model"
)

// Rank orders candidates for presentation. Quick mode trusts the provider's
// relevance order and keeps only the first candidate. Full mode sorts by
// descending release year so the most recent release sits on top; the sort is
// stable, so ties keep provider order.
func Rank(candidates []model.MetadataRecord, mode string) []model.MetadataRecord {
	if len(candidates) == 0 {
		return candidates
	}
	if mode != ModeFull {
		return candidates[:1]
	}

	ranked := make([]model.MetadataRecord, len(candidates))
	copy(ranked, candidates)
	sort.SliceStable(ranked, func(i, j int) bool {
		return yearValue(ranked[i].Year) > yearValue(ranked[j].Year)
	})
	return ranked
}

// yearValue parses a year field, tolerating series ranges like "2020-2023".
func yearValue(year string) int {
	if i := strings.IndexByte(year, '-'); i >= 0 {
		year = year[:i]
	}
	n, err := strconv.Atoi(strings.TrimSpace(year))
	if err != nil {
		return 0
	}
	return n
}
