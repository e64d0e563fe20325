package repository_test

import (
	"context"
	"fmt"
	"testing"

	"github.com/commercecrafted/nichepipeline/internal/domain"
	"github.com/commercecrafted/nichepipeline/internal/repository"
	"github.com/commercecrafted/nichepipeline/internal/testutil"
)

func TestKeywordUpsertBatch(t *testing.T) {
	ctx := context.Background()
	repo := repository.NewKeywordRepository(testutil.NewDB(t))

	var records []domain.KeywordRecord
	for i := 0; i < 250; i++ {
		records = append(records, domain.KeywordRecord{
			ASIN:      "B1",
			Keyword:   fmt.Sprintf("keyword %d", i),
			MatchType: "BROAD",
			Source:    "amazon_ads",
		})
	}
	written, err := repo.UpsertBatch(ctx, records, 100)
	if err != nil {
		t.Fatalf("UpsertBatch: %v", err)
	}
	if written != 250 {
		t.Errorf("written = %d, want 250", written)
	}

	// Same keys again with new values update in place.
	records[0].SuggestedBid = 125
	records[0].MatchType = "EXACT"
	if _, err := repo.UpsertBatch(ctx, records[:1], 0); err != nil {
		t.Fatalf("UpsertBatch: %v", err)
	}

	got, err := repo.ListByASINs(ctx, []string{"B1"})
	if err != nil {
		t.Fatalf("ListByASINs: %v", err)
	}
	if len(got) != 250 {
		t.Fatalf("rows = %d, want 250", len(got))
	}
	if got[0].Keyword != "keyword 0" || got[0].SuggestedBid != 125 || got[0].MatchType != "EXACT" {
		t.Errorf("first row = %+v", got[0])
	}
}

func TestKeywordCountUnique(t *testing.T) {
	ctx := context.Background()
	repo := repository.NewKeywordRepository(testutil.NewDB(t))

	records := []domain.KeywordRecord{
		{ASIN: "B1", Keyword: "desk lamp"},
		{ASIN: "B1", Keyword: "led lamp"},
		{ASIN: "B2", Keyword: "desk lamp"},
		{ASIN: "B3", Keyword: "other"},
	}
	if _, err := repo.UpsertBatch(ctx, records, 2); err != nil {
		t.Fatalf("UpsertBatch: %v", err)
	}

	tests := []struct {
		name  string
		asins []string
		want  int64
	}{
		{"shared keyword counted once", []string{"B1", "B2"}, 2},
		{"single asin", []string{"B3"}, 1},
		{"no asins", nil, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := repo.CountUnique(ctx, tt.asins)
			if err != nil {
				t.Fatalf("CountUnique: %v", err)
			}
			if got != tt.want {
				t.Errorf("CountUnique = %d, want %d", got, tt.want)
			}
		})
	}
}
