package openai

import (
	"context"
	"encoding/json"
	"net/http"
	"testing"

	"github.com/commercecrafted/nichepipeline/internal/source"
	"github.com/jarcoal/httpmock"
)

func newTestAdapter(t *testing.T, keywordIdeas bool) *Adapter {
	t.Helper()
	a := NewAdapter(Config{APIKey: "sk", BaseURL: "https://llm.test/v1", Model: "gpt-test", KeywordIdeas: keywordIdeas})
	httpmock.ActivateNonDefault(a.client.GetClient())
	t.Cleanup(httpmock.DeactivateAndReset)
	return a
}

func chatReply(t *testing.T, content string) httpmock.Responder {
	t.Helper()
	body, err := json.Marshal(map[string]any{
		"choices": []any{map[string]any{"message": map[string]any{"content": content}}},
	})
	if err != nil {
		t.Fatal(err)
	}
	return httpmock.NewBytesResponder(http.StatusOK, body)
}

func TestAnalyze(t *testing.T) {
	a := newTestAdapter(t, false)
	httpmock.RegisterResponder("POST", "https://llm.test/v1/chat/completions",
		chatReply(t, "```json\n{\"opportunityScore\": 72.6, \"competitionScore\": 140, \"demandScore\": -3, \"summary\": \"solid\", \"keywords\": [\"desk lamp\"]}\n```"))

	bsr := int64(800)
	got, err := a.Analyze(context.Background(), &source.ProductData{ASIN: "B1", Title: "Lamp", BSR: &bsr})
	if err != nil {
		t.Fatalf("Analyze: %v", err)
	}
	if got.OpportunityScore != 73 || got.CompetitionScore != 100 || got.DemandScore != 0 {
		t.Errorf("scores = %d/%d/%d, want 73/100/0", got.OpportunityScore, got.CompetitionScore, got.DemandScore)
	}
	if got.Summary != "solid" || len(got.Keywords) != 1 {
		t.Errorf("analysis = %+v", got)
	}
	if len(got.Raw) == 0 {
		t.Error("Raw is empty")
	}
}

func TestAnalyzeMalformed(t *testing.T) {
	tests := []struct {
		name    string
		content string
	}{
		{"no json", "I cannot help with that."},
		{"missing scores", `{"summary": "x"}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			a := newTestAdapter(t, false)
			httpmock.RegisterResponder("POST", "https://llm.test/v1/chat/completions", chatReply(t, tt.content))
			_, err := a.Analyze(context.Background(), &source.ProductData{ASIN: "B1"})
			if got := source.KindOf(err); got != source.KindMalformed {
				t.Errorf("kind = %q, want malformed (err %v)", got, err)
			}
		})
	}
}

func TestAnalyzeAPIError(t *testing.T) {
	a := newTestAdapter(t, false)
	httpmock.RegisterResponder("POST", "https://llm.test/v1/chat/completions",
		httpmock.NewStringResponder(http.StatusTooManyRequests, `{"error": {"message": "slow down"}}`))

	_, err := a.Analyze(context.Background(), &source.ProductData{ASIN: "B1"})
	if !source.IsRetryable(err) {
		t.Errorf("429 should be retryable, got %v", err)
	}
}

func TestFetchKeywords(t *testing.T) {
	t.Run("disabled", func(t *testing.T) {
		a := newTestAdapter(t, false)
		got, err := a.FetchKeywords(context.Background(), &source.ProductData{ASIN: "B1"})
		if err != nil || len(got) != 0 {
			t.Errorf("FetchKeywords = %v, %v; want nothing", got, err)
		}
		if n := httpmock.GetTotalCallCount(); n != 0 {
			t.Errorf("made %d calls, want none", n)
		}
	})

	t.Run("enabled", func(t *testing.T) {
		a := newTestAdapter(t, true)
		httpmock.RegisterResponder("POST", "https://llm.test/v1/chat/completions",
			chatReply(t, `{"keywords": ["desk lamp", " ", "reading light"]}`))
		got, err := a.FetchKeywords(context.Background(), &source.ProductData{ASIN: "B1", Title: "Lamp"})
		if err != nil {
			t.Fatalf("FetchKeywords: %v", err)
		}
		if len(got) != 2 {
			t.Fatalf("got %d candidates, want 2", len(got))
		}
		for _, c := range got {
			if c.Source != source.ProviderOpenAI || c.MatchType != source.MatchBroad {
				t.Errorf("candidate = %+v", c)
			}
		}
	})
}
