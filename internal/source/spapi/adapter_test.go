package spapi

import (
	"context"
	"net/http"
	"testing"

	"github.com/commercecrafted/nichepipeline/internal/source"
	"github.com/jarcoal/httpmock"
)

func newTestAdapter(t *testing.T) *Adapter {
	t.Helper()
	a := NewAdapter(Config{
		BaseURL:       "https://spapi.test",
		TokenURL:      "https://auth.test/o2/token",
		ClientID:      "id",
		ClientSecret:  "secret",
		RefreshToken:  "refresh",
		MarketplaceID: "ATVPDKIKX0DER",
	})
	httpmock.ActivateNonDefault(a.client.GetClient())
	t.Cleanup(httpmock.DeactivateAndReset)
	httpmock.RegisterResponder("POST", "https://auth.test/o2/token",
		httpmock.NewStringResponder(http.StatusOK, `{"access_token":"tok","expires_in":3600}`))
	return a
}

func TestFetchCatalog(t *testing.T) {
	a := newTestAdapter(t)
	httpmock.RegisterResponder("GET", "https://spapi.test/catalog/2022-04-01/items/B07X8K9PQR",
		httpmock.NewStringResponder(http.StatusOK, `{
			"asin": "B07X8K9PQR",
			"summaries": [{"itemName": "Desk Lamp", "brand": "Lumo", "browseClassification": {"displayName": "Lamps"}}],
			"images": [{"images": [{"link": "https://img/side.jpg", "variant": "PT01"}, {"link": "https://img/main.jpg", "variant": "MAIN"}]}],
			"salesRanks": [{"classificationRanks": [{"rank": 55}], "displayGroupRanks": [{"rank": 1200}]}]
		}`))
	httpmock.RegisterResponder("GET", "https://spapi.test/products/pricing/v0/price",
		httpmock.NewStringResponder(http.StatusOK, `{"payload": [{"ASIN": "B07X8K9PQR", "Product": {"Offers": [{"BuyingPrice": {"ListingPrice": {"Amount": 24.5}}}]}}]}`))

	got, err := a.FetchCatalog(context.Background(), "B07X8K9PQR")
	if err != nil {
		t.Fatalf("FetchCatalog: %v", err)
	}
	if got.Title != "Desk Lamp" || got.Brand != "Lumo" || got.Category != "Lamps" {
		t.Errorf("summary = %+v", got)
	}
	if got.ImageURL != "https://img/main.jpg" {
		t.Errorf("ImageURL = %q, want MAIN variant", got.ImageURL)
	}
	if got.BSR == nil || *got.BSR != 1200 {
		t.Errorf("BSR = %v, want display group rank 1200", got.BSR)
	}
	if got.Price != 24.5 {
		t.Errorf("Price = %v, want 24.5", got.Price)
	}
}

func TestFetchCatalogPricingFailureKeepsCatalog(t *testing.T) {
	a := newTestAdapter(t)
	httpmock.RegisterResponder("GET", "https://spapi.test/catalog/2022-04-01/items/B07X8K9PQR",
		httpmock.NewStringResponder(http.StatusOK, `{"asin": "B07X8K9PQR", "summaries": [{"itemName": "Desk Lamp"}]}`))
	httpmock.RegisterResponder("GET", "https://spapi.test/products/pricing/v0/price",
		httpmock.NewStringResponder(http.StatusInternalServerError, `{}`))

	got, err := a.FetchCatalog(context.Background(), "B07X8K9PQR")
	if err != nil {
		t.Fatalf("FetchCatalog: %v", err)
	}
	if got.Price != 0 {
		t.Errorf("Price = %v, want 0 when pricing fails", got.Price)
	}
}

func TestFetchCatalogAuthFailure(t *testing.T) {
	a := NewAdapter(Config{BaseURL: "https://spapi.test", TokenURL: "https://auth.test/o2/token"})
	httpmock.ActivateNonDefault(a.client.GetClient())
	defer httpmock.DeactivateAndReset()
	httpmock.RegisterResponder("POST", "https://auth.test/o2/token",
		httpmock.NewStringResponder(http.StatusUnauthorized, `{"error":"invalid_client"}`))

	_, err := a.FetchCatalog(context.Background(), "B07X8K9PQR")
	if source.KindOf(err) != source.KindAuth {
		t.Fatalf("KindOf = %q, want auth (err=%v)", source.KindOf(err), err)
	}
}
