package provider

import (
	"context"
	"log"

	"github.com/subplot/subplot/internal/model"
)

// Fallback queries the primary provider and falls back to the secondary when
// the primary yields nothing. A non-empty primary result wins outright; no
// cross-provider merging happens.
type Fallback struct {
	Primary   Provider
	Secondary Provider
}

func NewFallback(primary, secondary Provider) *Fallback {
	return &Fallback{Primary: primary, Secondary: secondary}
}

func (f *Fallback) Name() string { return f.Primary.Name() + "+" + f.Secondary.Name() }

// DailyLimit reports the primary's limit; the secondary tracks its own quota.
func (f *Fallback) DailyLimit() int { return f.Primary.DailyLimit() }

func (f *Fallback) Search(ctx context.Context, q Query) ([]model.MetadataRecord, error) {
	results, err := f.Primary.Search(ctx, q)
	if err != nil {
		log.Printf("%s search failed, falling back to %s: %v", f.Primary.Name(), f.Secondary.Name(), err)
	}
	if len(results) > 0 {
		return results, nil
	}
	return f.Secondary.Search(ctx, q)
}
