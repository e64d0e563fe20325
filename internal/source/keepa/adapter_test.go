package keepa

import (
	"context"
	"errors"
	"net/http"
	"testing"
	"time"

	"github.com/commercecrafted/nichepipeline/internal/source"
	"github.com/jarcoal/httpmock"
)

const productURL = "https://api.keepa.test/product"

func newTestAdapter(t *testing.T) *Adapter {
	t.Helper()
	a := NewAdapter(Config{APIKey: "test-key", BaseURL: "https://api.keepa.test", Timeout: time.Second})
	httpmock.ActivateNonDefault(a.client.GetClient())
	t.Cleanup(httpmock.DeactivateAndReset)
	return a
}

const sampleBody = `{
	"tokensLeft": 42,
	"products": [{
		"asin": "B08N5WRWNW",
		"title": "  Wireless Mouse  ",
		"brand": "Acme",
		"imagesCSV": "abc.jpg,def.jpg",
		"categoryTree": [{"catId": 1, "name": "Electronics"}, {"catId": 2, "name": "Mice"}],
		"csv": [
			[100, 2599, 200, -1],
			[100, 2999],
			null,
			[100, 812, 200, -1, 300, 790]
		],
		"stats": {"current": [-1, 2999, -1, 790, -1, -1, -1, -1, -1, -1, -1, -1, -1, -1, -1, -1, 46, 40, 3099]},
		"monthlySold": 300,
		"fbaFees": {"pickAndPackFee": 450}
	}]
}`

func TestFetchProductNormalizes(t *testing.T) {
	a := newTestAdapter(t)
	httpmock.RegisterResponder("GET", productURL, httpmock.NewStringResponder(http.StatusOK, sampleBody))

	got, err := a.FetchProduct(context.Background(), "B08N5WRWNW")
	if err != nil {
		t.Fatalf("FetchProduct: %v", err)
	}

	if got.Title != "Wireless Mouse" {
		t.Errorf("Title = %q, want trimmed", got.Title)
	}
	if got.Category != "Mice" {
		t.Errorf("Category = %q, want leaf category", got.Category)
	}
	if got.ImageURL != imageBaseURL+"abc.jpg" {
		t.Errorf("ImageURL = %q", got.ImageURL)
	}
	// amazon price is -1 so the new price is used
	if got.Price != 29.99 {
		t.Errorf("Price = %v, want 29.99", got.Price)
	}
	if got.Rating != 4.6 {
		t.Errorf("Rating = %v, want 4.6", got.Rating)
	}
	if got.ReviewCount != 40 {
		t.Errorf("ReviewCount = %d, want 40", got.ReviewCount)
	}
	if got.BSR == nil || *got.BSR != 790 {
		t.Errorf("BSR = %v, want 790", got.BSR)
	}
	if got.MonthlySales != 300 {
		t.Errorf("MonthlySales = %d, want 300", got.MonthlySales)
	}
	if got.FBAFees == nil || *got.FBAFees != 4.5 {
		t.Errorf("FBAFees = %v, want 4.5", got.FBAFees)
	}
	// -1 points are dropped from both series
	if len(got.PriceHistory) != 2 {
		t.Errorf("PriceHistory len = %d, want 2", len(got.PriceHistory))
	}
	if len(got.RankHistory) != 2 {
		t.Errorf("RankHistory len = %d, want 2", len(got.RankHistory))
	}
	if len(got.Raw) == 0 {
		t.Error("Raw payload should be retained")
	}
}

func TestFetchProductErrors(t *testing.T) {
	tests := []struct {
		name      string
		status    int
		body      string
		wantKind  source.ErrorKind
		retryable bool
	}{
		{name: "rate limited", status: http.StatusTooManyRequests, body: `{}`, wantKind: source.KindRateLimited, retryable: true},
		{name: "server error", status: http.StatusBadGateway, body: ``, wantKind: source.KindServer, retryable: true},
		{name: "unauthorized", status: http.StatusUnauthorized, body: `{}`, wantKind: source.KindAuth},
		{name: "missing products", status: http.StatusOK, body: `{"tokensLeft": 1}`, wantKind: source.KindMalformed},
		{name: "unknown asin", status: http.StatusOK, body: `{"products": []}`, wantKind: source.KindNotFound},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			a := newTestAdapter(t)
			httpmock.RegisterResponder("GET", productURL, httpmock.NewStringResponder(tt.status, tt.body))

			_, err := a.FetchProduct(context.Background(), "B000000000")
			var ae *source.AdapterError
			if !errors.As(err, &ae) {
				t.Fatalf("error = %v, want *source.AdapterError", err)
			}
			if ae.Kind != tt.wantKind {
				t.Errorf("Kind = %s, want %s", ae.Kind, tt.wantKind)
			}
			if ae.Identifier != "B000000000" {
				t.Errorf("Identifier = %q", ae.Identifier)
			}
			if ae.Retryable() != tt.retryable {
				t.Errorf("Retryable = %v, want %v", ae.Retryable(), tt.retryable)
			}
		})
	}
}

func TestFetchProductWithoutKey(t *testing.T) {
	a := NewAdapter(Config{})
	_, err := a.FetchProduct(context.Background(), "B000000000")
	if source.KindOf(err) != source.KindConfig {
		t.Fatalf("KindOf = %q, want config", source.KindOf(err))
	}
}

func TestKeepaTime(t *testing.T) {
	got := KeepaTime(0)
	want := time.Date(2011, time.January, 1, 0, 0, 0, 0, time.UTC)
	if !got.Equal(want) {
		t.Errorf("KeepaTime(0) = %v, want %v", got, want)
	}
}
