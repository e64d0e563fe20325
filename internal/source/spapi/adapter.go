// Package spapi adapts the Amazon Selling Partner catalog and pricing APIs
// to source.CatalogSource.
package spapi

import (
	"context"
	"encoding/json"
	"strings"
	"time"

	"github.com/commercecrafted/nichepipeline/internal/source"
	"github.com/commercecrafted/nichepipeline/internal/source/lwa"
	"github.com/go-resty/resty/v2"
)

var catalogSchema = source.MustSchema("spapi-catalog.json", `{
	"type": "object",
	"required": ["asin"],
	"properties": {
		"summaries": {"type": "array"},
		"images": {"type": "array"},
		"salesRanks": {"type": "array"}
	}
}`)

// Config holds SP-API connection settings.
type Config struct {
	BaseURL       string
	TokenURL      string
	ClientID      string
	ClientSecret  string
	RefreshToken  string
	MarketplaceID string
	Timeout       time.Duration
}

// Adapter implements source.CatalogSource for the Selling Partner API.
type Adapter struct {
	client        *resty.Client
	tokens        *lwa.TokenSource
	marketplaceID string
}

// NewAdapter creates an SP-API adapter.
func NewAdapter(cfg Config) *Adapter {
	timeout := cfg.Timeout
	if timeout == 0 {
		timeout = 20 * time.Second
	}
	client := resty.New().
		SetBaseURL(strings.TrimSuffix(cfg.BaseURL, "/")).
		SetTimeout(timeout)

	return &Adapter{
		client: client,
		tokens: lwa.NewTokenSource(client, lwa.Credentials{
			TokenURL:     cfg.TokenURL,
			ClientID:     cfg.ClientID,
			ClientSecret: cfg.ClientSecret,
			RefreshToken: cfg.RefreshToken,
		}),
		marketplaceID: cfg.MarketplaceID,
	}
}

// Name returns the provider name.
func (a *Adapter) Name() string {
	return source.ProviderSPAPI
}

type catalogItem struct {
	ASIN      string `json:"asin"`
	Summaries []struct {
		ItemName             string `json:"itemName"`
		Brand                string `json:"brand"`
		BrowseClassification *struct {
			DisplayName string `json:"displayName"`
		} `json:"browseClassification"`
	} `json:"summaries"`
	Images []struct {
		Images []struct {
			Link    string `json:"link"`
			Variant string `json:"variant"`
		} `json:"images"`
	} `json:"images"`
	SalesRanks []struct {
		ClassificationRanks []struct {
			Rank int64 `json:"rank"`
		} `json:"classificationRanks"`
		DisplayGroupRanks []struct {
			Rank int64 `json:"rank"`
		} `json:"displayGroupRanks"`
	} `json:"salesRanks"`
}

type pricingResponse struct {
	Payload []struct {
		ASIN    string `json:"ASIN"`
		Product struct {
			Offers []struct {
				BuyingPrice struct {
					ListingPrice struct {
						Amount float64 `json:"Amount"`
					} `json:"ListingPrice"`
				} `json:"BuyingPrice"`
			} `json:"Offers"`
		} `json:"Product"`
	} `json:"payload"`
}

// FetchCatalog returns catalog attributes and, when available, the current
// listing price. A pricing failure leaves Price at zero rather than failing
// the call.
// Parameters:
//   - ctx: context for cancellation and deadlines.
//   - asin: product identifier.
//
// Returns:
//   - *source.CatalogData: normalized catalog data.
//   - error: *source.AdapterError on failure.
func (a *Adapter) FetchCatalog(ctx context.Context, asin string) (*source.CatalogData, error) {
	token, err := a.tokens.Token(ctx)
	if err != nil {
		return nil, lwa.AdapterError(a.Name(), asin, err)
	}

	resp, err := a.client.R().
		SetContext(ctx).
		SetHeader("x-amz-access-token", token).
		SetPathParam("asin", asin).
		SetQueryParams(map[string]string{
			"marketplaceIds": a.marketplaceID,
			"includedData":   "summaries,images,salesRanks",
		}).
		Get("/catalog/2022-04-01/items/{asin}")
	if err != nil {
		return nil, source.Classify(a.Name(), asin, err, 0)
	}
	if cerr := source.Classify(a.Name(), asin, nil, resp.StatusCode()); cerr != nil {
		return nil, cerr
	}
	if err := catalogSchema.Validate(resp.Body()); err != nil {
		return nil, source.Malformed(a.Name(), asin, err)
	}

	var item catalogItem
	if err := json.Unmarshal(resp.Body(), &item); err != nil {
		return nil, source.Malformed(a.Name(), asin, err)
	}
	out := normalizeCatalog(item)
	out.ASIN = asin
	out.Price = a.fetchPrice(ctx, token, asin)
	return out, nil
}

func (a *Adapter) fetchPrice(ctx context.Context, token, asin string) float64 {
	var out pricingResponse
	resp, err := a.client.R().
		SetContext(ctx).
		SetHeader("x-amz-access-token", token).
		SetQueryParams(map[string]string{
			"MarketplaceId": a.marketplaceID,
			"Asins":         asin,
			"ItemType":      "Asin",
		}).
		Get("/products/pricing/v0/price")
	if err != nil || resp.IsError() {
		return 0
	}
	if err := json.Unmarshal(resp.Body(), &out); err != nil {
		return 0
	}
	for _, p := range out.Payload {
		for _, offer := range p.Product.Offers {
			if amount := offer.BuyingPrice.ListingPrice.Amount; amount > 0 {
				return amount
			}
		}
	}
	return 0
}

func normalizeCatalog(item catalogItem) *source.CatalogData {
	out := &source.CatalogData{ASIN: item.ASIN}
	if len(item.Summaries) > 0 {
		s := item.Summaries[0]
		out.Title = strings.TrimSpace(s.ItemName)
		out.Brand = strings.TrimSpace(s.Brand)
		if s.BrowseClassification != nil {
			out.Category = s.BrowseClassification.DisplayName
		}
	}
	for _, set := range item.Images {
		for _, img := range set.Images {
			if img.Link != "" && (out.ImageURL == "" || img.Variant == "MAIN") {
				out.ImageURL = img.Link
			}
		}
	}
	// Display group rank is the one shown on the listing; classification
	// rank is the fallback.
	for _, sr := range item.SalesRanks {
		for _, r := range append(sr.DisplayGroupRanks, sr.ClassificationRanks...) {
			if r.Rank > 0 {
				rank := r.Rank
				out.BSR = &rank
				return out
			}
		}
	}
	return out
}

var _ source.CatalogSource = (*Adapter)(nil)
