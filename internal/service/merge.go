package service

import (
	"sort"
	"strings"

	"github.com/commercecrafted/nichepipeline/internal/domain"
	"github.com/commercecrafted/nichepipeline/internal/source"
)

// MergeKeywords combines candidate lists from several keyword sources into
// one list with a single entry per normalized keyword, in first-seen order.
//
// A later occurrence of a known keyword only fills attributes that are still
// zero or empty; it never replaces a real value. When it comes from another
// source the entry's source becomes the sorted "+"-joined set of contributors.
func MergeKeywords(lists ...[]source.KeywordCandidate) []source.KeywordCandidate {
	index := make(map[string]int)
	var out []source.KeywordCandidate

	for _, list := range lists {
		for _, c := range list {
			key := domain.NormalizeKeyword(c.Keyword)
			if key == "" {
				continue
			}
			c.Keyword = key

			i, ok := index[key]
			if !ok {
				index[key] = len(out)
				out = append(out, c)
				continue
			}
			mergeInto(&out[i], c)
		}
	}
	if out == nil {
		out = []source.KeywordCandidate{}
	}
	return out
}

func mergeInto(dst *source.KeywordCandidate, src source.KeywordCandidate) {
	fillInt(&dst.SuggestedBid, src.SuggestedBid)
	fillInt(&dst.BidRangeStart, src.BidRangeStart)
	fillInt(&dst.BidRangeEnd, src.BidRangeEnd)
	fillInt(&dst.EstimatedClicks, src.EstimatedClicks)
	fillInt(&dst.EstimatedOrders, src.EstimatedOrders)
	fillInt(&dst.SearchVolume, src.SearchVolume)
	fillString(&dst.MatchType, src.MatchType)
	fillString(&dst.Competition, src.Competition)
	dst.Source = joinSources(dst.Source, src.Source)
}

func fillInt(dst *int, v int) {
	if *dst == 0 && v != 0 {
		*dst = v
	}
}

func fillString(dst *string, v string) {
	if *dst == "" && v != "" {
		*dst = v
	}
}

// joinSources adds b to the "+"-joined set a.
func joinSources(a, b string) string {
	if b == "" {
		return a
	}
	set := map[string]struct{}{}
	for _, s := range strings.Split(a, "+") {
		if s != "" {
			set[s] = struct{}{}
		}
	}
	for _, s := range strings.Split(b, "+") {
		if s != "" {
			set[s] = struct{}{}
		}
	}
	names := make([]string, 0, len(set))
	for s := range set {
		names = append(names, s)
	}
	sort.Strings(names)
	return strings.Join(names, "+")
}
