package domain

import (
	"math"
	"testing"
)

func TestNormalizeKeyword(t *testing.T) {
	tests := map[string]string{
		"Wireless Mouse":         "wireless mouse",
		"  wireless   mouse  ":   "wireless mouse",
		"WIRELESS\tMOUSE\n":      "wireless mouse",
		"":                       "",
		"garlic press stainless": "garlic press stainless",
	}
	for in, want := range tests {
		if got := NormalizeKeyword(in); got != want {
			t.Errorf("NormalizeKeyword(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestKeywordApplyDefaults(t *testing.T) {
	tests := []struct {
		name string
		in   KeywordRecord
		want KeywordRecord
	}{
		{
			name: "all derived",
			in:   KeywordRecord{SuggestedBid: 125, EstimatedClicks: 4},
			want: KeywordRecord{SuggestedBid: 125, EstimatedClicks: 4, MatchType: "BROAD", SearchVolume: 120, Competition: KeywordCompetitionHigh},
		},
		{
			name: "medium bid",
			in:   KeywordRecord{SuggestedBid: 75},
			want: KeywordRecord{SuggestedBid: 75, MatchType: "BROAD", Competition: KeywordCompetitionMedium},
		},
		{
			name: "boundary bid is low",
			in:   KeywordRecord{SuggestedBid: 50, MatchType: "EXACT"},
			want: KeywordRecord{SuggestedBid: 50, MatchType: "EXACT", Competition: KeywordCompetitionLow},
		},
		{
			name: "provider values kept",
			in:   KeywordRecord{MatchType: "PHRASE", SearchVolume: 900, EstimatedClicks: 2, Competition: KeywordCompetitionHigh},
			want: KeywordRecord{MatchType: "PHRASE", SearchVolume: 900, EstimatedClicks: 2, Competition: KeywordCompetitionHigh},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := tt.in
			got.ApplyDefaults()
			if got != tt.want {
				t.Errorf("ApplyDefaults() = %+v, want %+v", got, tt.want)
			}
		})
	}
}

func TestSanitize(t *testing.T) {
	prices := map[float64]float64{-0.01: 0, 0: 0, 19.99: 19.99, math.Inf(1): 0}
	for in, want := range prices {
		if got := SanitizePrice(in); got != want {
			t.Errorf("SanitizePrice(%v) = %v, want %v", in, got, want)
		}
	}
	if got := SanitizePrice(math.NaN()); got != 0 {
		t.Errorf("SanitizePrice(NaN) = %v", got)
	}

	ratings := map[float64]float64{-1: 0, 4.6: 4.6, 7: 5}
	for in, want := range ratings {
		if got := SanitizeRating(in); got != want {
			t.Errorf("SanitizeRating(%v) = %v, want %v", in, got, want)
		}
	}
}

func TestProgress(t *testing.T) {
	p := NewProgress(3)
	if p.Percent() != 0 || p.CurrentStep != StepNotStarted {
		t.Errorf("new progress = %+v", p)
	}
	p.ProcessedCount = 2
	p.SucceededIdentifiers = []string{"A1"}
	p.FailedIdentifiers = []string{"A2"}
	if got := p.Percent(); got != 67 {
		t.Errorf("Percent() = %d, want 67", got)
	}
	if !p.Attempted("A1") || !p.Attempted("A2") || p.Attempted("A3") {
		t.Error("Attempted() does not match recorded outcomes")
	}
	if (Progress{}).Percent() != 0 {
		t.Error("Percent() of an empty job should be 0")
	}
}

func TestNicheStatusIsTerminal(t *testing.T) {
	tests := map[NicheStatus]bool{
		NicheStatusPending:    false,
		NicheStatusProcessing: false,
		NicheStatusCompleted:  true,
		NicheStatusFailed:     true,
	}
	for status, want := range tests {
		if got := status.IsTerminal(); got != want {
			t.Errorf("%s.IsTerminal() = %v, want %v", status, got, want)
		}
	}
}

func TestStringListRoundTrip(t *testing.T) {
	v, err := StringList{"A1", "B2"}.Value()
	if err != nil {
		t.Fatalf("Value() error = %v", err)
	}
	var got StringList
	if err := got.Scan(v); err != nil {
		t.Fatalf("Scan() error = %v", err)
	}
	if len(got) != 2 || got[0] != "A1" || got[1] != "B2" {
		t.Errorf("round trip = %v", got)
	}

	var empty StringList
	if err := empty.Scan(nil); err != nil || empty == nil || len(empty) != 0 {
		t.Errorf("Scan(nil) = %v, %v", empty, err)
	}
	if err := empty.Scan(42); err == nil {
		t.Error("Scan(int) error = nil")
	}
	if v, _ := StringList(nil).Value(); v != "[]" {
		t.Errorf("nil Value() = %v", v)
	}
}
