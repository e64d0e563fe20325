package service

import (
	"context"

	"github.com/commercecrafted/nichepipeline/internal/domain"
	"github.com/commercecrafted/nichepipeline/internal/source"
)

// bidPreference is the match type fallback order for enrichment.
var bidPreference = []string{source.MatchExact, source.MatchBroad, source.MatchPhrase}

// BidEnrichment is the outcome of EnrichBids.
type BidEnrichment struct {
	Keywords []source.KeywordCandidate
	Enriched int     // keywords that received a bid
	Calls    int     // provider calls made, retries included
	Errors   []error // failed keyword groups
}

// EnrichBids asks bids for recommendations in groups of groupSize keywords
// (opts.Delay apart) and applies the best match type per keyword: EXACT,
// then BROAD, then PHRASE. Keywords in a failed group keep their values.
func EnrichBids(ctx context.Context, bids source.BidSource, asin string, keywords []source.KeywordCandidate, groupSize int, opts BatchOptions) BidEnrichment {
	out := BidEnrichment{Keywords: keywords}
	if bids == nil || len(keywords) == 0 {
		return out
	}
	if groupSize <= 0 {
		groupSize = 33
	}

	var groups [][]string
	for start := 0; start < len(keywords); start += groupSize {
		end := min(start+groupSize, len(keywords))
		group := make([]string, 0, end-start)
		for _, k := range keywords[start:end] {
			group = append(group, k.Keyword)
		}
		groups = append(groups, group)
	}

	// One group per chunk keeps requests sequential and spaced by Delay.
	opts.ChunkSize = 1
	fetch := func(ctx context.Context, group []string) ([]source.BidRecommendation, error) {
		return bids.FetchBids(ctx, asin, group)
	}
	results, err := FetchInBatches(ctx, groups, fetch, opts, nil)
	if err != nil {
		out.Errors = append(out.Errors, err)
	}

	best := make(map[string]map[string]source.BidRecommendation)
	for _, r := range results {
		out.Calls += r.Attempts
		if r.Err != nil {
			out.Errors = append(out.Errors, r.Err)
			continue
		}
		for _, rec := range r.Value {
			key := domain.NormalizeKeyword(rec.Keyword)
			if best[key] == nil {
				best[key] = make(map[string]source.BidRecommendation)
			}
			best[key][rec.MatchType] = rec
		}
	}

	for i := range out.Keywords {
		k := &out.Keywords[i]
		byType := best[k.Keyword]
		for _, mt := range bidPreference {
			rec, ok := byType[mt]
			if !ok || rec.SuggestedBid <= 0 {
				continue
			}
			k.MatchType = mt
			k.SuggestedBid = rec.SuggestedBid
			k.BidRangeStart = rec.RangeStart
			k.BidRangeEnd = rec.RangeEnd
			if rec.EstimatedClicks > 0 {
				k.EstimatedClicks = rec.EstimatedClicks
			}
			if rec.EstimatedOrders > 0 {
				k.EstimatedOrders = rec.EstimatedOrders
			}
			out.Enriched++
			break
		}
	}
	return out
}

// keywordRecords converts merged candidates to rows for asin with derived
// defaults applied.
func keywordRecords(nicheID, asin string, candidates []source.KeywordCandidate) []domain.KeywordRecord {
	records := make([]domain.KeywordRecord, 0, len(candidates))
	for _, c := range candidates {
		rec := domain.KeywordRecord{
			ASIN:            asin,
			Keyword:         c.Keyword,
			NicheID:         nicheID,
			MatchType:       c.MatchType,
			Source:          c.Source,
			SuggestedBid:    c.SuggestedBid,
			BidRangeStart:   c.BidRangeStart,
			BidRangeEnd:     c.BidRangeEnd,
			EstimatedClicks: c.EstimatedClicks,
			EstimatedOrders: c.EstimatedOrders,
			SearchVolume:    c.SearchVolume,
			Competition:     c.Competition,
		}
		rec.ApplyDefaults()
		records = append(records, rec)
	}
	return records
}
