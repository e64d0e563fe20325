// Package ads adapts the Amazon Advertising API to source.KeywordSource and
// source.BidSource.
package ads

import (
	"context"
	"encoding/json"
	"math"
	"strings"
	"time"

	"github.com/commercecrafted/nichepipeline/internal/source"
	"github.com/commercecrafted/nichepipeline/internal/source/lwa"
	"github.com/go-resty/resty/v2"
)

// Targeting expression types per match type.
var expressionTypes = map[string]string{
	source.MatchExact:  "KEYWORD_EXACT_MATCH",
	source.MatchPhrase: "KEYWORD_PHRASE_MATCH",
	source.MatchBroad:  "KEYWORD_BROAD_MATCH",
}

var suggestionsSchema = source.MustSchema("ads-suggested-keywords.json", `{
	"type": "array",
	"items": {"type": "object"}
}`)

var bidsSchema = source.MustSchema("ads-bid-recommendations.json", `{
	"type": "object",
	"properties": {
		"bidRecommendations": {"type": "array"}
	}
}`)

// Config holds Advertising API connection settings.
type Config struct {
	BaseURL        string
	TokenURL       string
	ClientID       string
	ClientSecret   string
	RefreshToken   string
	ProfileID      string
	MaxSuggestions int
	Timeout        time.Duration
}

// Adapter implements keyword suggestions and bid recommendations.
type Adapter struct {
	client         *resty.Client
	tokens         *lwa.TokenSource
	clientID       string
	profileID      string
	maxSuggestions int
}

// NewAdapter creates an Advertising API adapter.
func NewAdapter(cfg Config) *Adapter {
	timeout := cfg.Timeout
	if timeout == 0 {
		timeout = 30 * time.Second
	}
	maxSuggestions := cfg.MaxSuggestions
	if maxSuggestions <= 0 {
		maxSuggestions = 100
	}
	client := resty.New().
		SetBaseURL(strings.TrimSuffix(cfg.BaseURL, "/")).
		SetTimeout(timeout).
		SetHeader("Accept", "application/json")

	return &Adapter{
		client: client,
		tokens: lwa.NewTokenSource(client, lwa.Credentials{
			TokenURL:     cfg.TokenURL,
			ClientID:     cfg.ClientID,
			ClientSecret: cfg.ClientSecret,
			RefreshToken: cfg.RefreshToken,
		}),
		clientID:       cfg.ClientID,
		profileID:      cfg.ProfileID,
		maxSuggestions: maxSuggestions,
	}
}

// Name returns the provider name.
func (a *Adapter) Name() string {
	return source.ProviderAds
}

func (a *Adapter) request(ctx context.Context, identifier string) (*resty.Request, error) {
	token, err := a.tokens.Token(ctx)
	if err != nil {
		return nil, lwa.AdapterError(a.Name(), identifier, err)
	}
	return a.client.R().
		SetContext(ctx).
		SetAuthToken(token).
		SetHeader("Amazon-Advertising-API-ClientId", a.clientID).
		SetHeader("Amazon-Advertising-API-Scope", a.profileID).
		SetHeader("Content-Type", "application/json"), nil
}

type bidRange struct {
	RangeStart  float64 `json:"rangeStart"`
	RangeMedian float64 `json:"rangeMedian"`
	RangeEnd    float64 `json:"rangeEnd"`
	Suggested   float64 `json:"suggested"`
}

type suggestion struct {
	KeywordText     string    `json:"keywordText"`
	Keyword         string    `json:"keyword"`
	MatchType       string    `json:"matchType"`
	SuggestedBid    *bidRange `json:"suggestedBid"`
	Bid             *bidRange `json:"bid"`
	Clicks          int       `json:"clicks"`
	EstimatedClicks int       `json:"estimatedClicks"`
	Orders          int       `json:"orders"`
	EstimatedOrders int       `json:"estimatedOrders"`
}

// FetchKeywords returns the suggested keywords for the product's ASIN.
// Parameters:
//   - ctx: context for cancellation and deadlines.
//   - product: product whose ASIN is the suggestion seed.
//
// Returns:
//   - []source.KeywordCandidate: candidates tagged amazon_ads, bids in cents.
//   - error: *source.AdapterError on failure.
func (a *Adapter) FetchKeywords(ctx context.Context, product *source.ProductData) ([]source.KeywordCandidate, error) {
	asin := product.ASIN
	req, err := a.request(ctx, asin)
	if err != nil {
		return nil, err
	}

	resp, err := req.
		SetBody(map[string]interface{}{
			"asins":         []string{asin},
			"maxNumTargets": a.maxSuggestions,
			"sortDimension": "CLICKS",
		}).
		Post("/v2/asins/suggested/keywords")
	if err != nil {
		return nil, source.Classify(a.Name(), asin, err, 0)
	}
	if cerr := source.Classify(a.Name(), asin, nil, resp.StatusCode()); cerr != nil {
		return nil, cerr
	}
	if err := suggestionsSchema.Validate(resp.Body()); err != nil {
		return nil, source.Malformed(a.Name(), asin, err)
	}

	var items []suggestion
	if err := json.Unmarshal(resp.Body(), &items); err != nil {
		return nil, source.Malformed(a.Name(), asin, err)
	}

	out := make([]source.KeywordCandidate, 0, len(items))
	for _, item := range items {
		if c, ok := normalizeSuggestion(item); ok {
			out = append(out, c)
		}
	}
	return out, nil
}

func normalizeSuggestion(item suggestion) (source.KeywordCandidate, bool) {
	text := strings.TrimSpace(item.KeywordText)
	if text == "" {
		text = strings.TrimSpace(item.Keyword)
	}
	if text == "" {
		return source.KeywordCandidate{}, false
	}

	c := source.KeywordCandidate{
		Keyword:         text,
		MatchType:       normalizeMatchType(item.MatchType),
		Source:          source.ProviderAds,
		EstimatedClicks: firstPositive(item.Clicks, item.EstimatedClicks),
		EstimatedOrders: firstPositive(item.Orders, item.EstimatedOrders),
	}
	// rangeMedian is the primary bid, then bid.suggested.
	if r := item.SuggestedBid; r != nil {
		c.SuggestedBid = cents(r.RangeMedian)
		c.BidRangeStart = cents(r.RangeStart)
		c.BidRangeEnd = cents(r.RangeEnd)
	}
	if c.SuggestedBid == 0 && item.Bid != nil {
		c.SuggestedBid = cents(item.Bid.Suggested)
	}
	return c, true
}

type bidResponse struct {
	BidRecommendations []struct {
		Theme         string `json:"theme"`
		ImpactMetrics struct {
			Clicks struct {
				Values []struct {
					Upper int `json:"upper"`
				} `json:"values"`
			} `json:"clicks"`
			Orders struct {
				Values []struct {
					Upper int `json:"upper"`
				} `json:"values"`
			} `json:"orders"`
		} `json:"impactMetrics"`
		Expressions []struct {
			TargetingExpression struct {
				Type  string `json:"type"`
				Value string `json:"value"`
			} `json:"targetingExpression"`
			BidValues []struct {
				SuggestedBid float64 `json:"suggestedBid"`
			} `json:"bidValues"`
		} `json:"bidRecommendationsForTargetingExpressions"`
	} `json:"bidRecommendations"`
}

// FetchBids asks for bid recommendations for every match type of each
// keyword. Callers keep batches at 33 keywords so a request stays under the
// 100 targeting expression limit.
func (a *Adapter) FetchBids(ctx context.Context, asin string, keywords []string) ([]source.BidRecommendation, error) {
	if len(keywords) == 0 {
		return nil, nil
	}
	req, err := a.request(ctx, asin)
	if err != nil {
		return nil, err
	}

	expressions := make([]map[string]string, 0, len(keywords)*3)
	for _, kw := range keywords {
		for _, mt := range []string{source.MatchExact, source.MatchPhrase, source.MatchBroad} {
			expressions = append(expressions, map[string]string{"type": expressionTypes[mt], "value": kw})
		}
	}

	resp, err := req.
		SetBody(map[string]interface{}{
			"recommendationType":   "BIDS_FOR_NEW_AD_GROUP",
			"asins":                []string{asin},
			"targetingExpressions": expressions,
			"bidding":              map[string]interface{}{"strategy": "AUTO_FOR_SALES"},
		}).
		Post("/sp/targets/bid/recommendations")
	if err != nil {
		return nil, source.Classify(a.Name(), asin, err, 0)
	}
	if cerr := source.Classify(a.Name(), asin, nil, resp.StatusCode()); cerr != nil {
		return nil, cerr
	}
	if err := bidsSchema.Validate(resp.Body()); err != nil {
		return nil, source.Malformed(a.Name(), asin, err)
	}

	var parsed bidResponse
	if err := json.Unmarshal(resp.Body(), &parsed); err != nil {
		return nil, source.Malformed(a.Name(), asin, err)
	}

	var out []source.BidRecommendation
	for _, rec := range parsed.BidRecommendations {
		// index 2 holds the "high" estimate
		var clicks, orders int
		if v := rec.ImpactMetrics.Clicks.Values; len(v) > 2 {
			clicks = v[2].Upper
		}
		if v := rec.ImpactMetrics.Orders.Values; len(v) > 2 {
			orders = v[2].Upper
		}
		for _, expr := range rec.Expressions {
			mt := matchTypeFromExpression(expr.TargetingExpression.Type)
			if mt == "" || strings.TrimSpace(expr.TargetingExpression.Value) == "" {
				continue
			}
			b := source.BidRecommendation{
				Keyword:         strings.ToLower(strings.TrimSpace(expr.TargetingExpression.Value)),
				MatchType:       mt,
				EstimatedClicks: clicks,
				EstimatedOrders: orders,
			}
			if n := len(expr.BidValues); n > 0 {
				b.RangeStart = cents(expr.BidValues[0].SuggestedBid)
				b.SuggestedBid = b.RangeStart
			}
			if len(expr.BidValues) > 1 {
				b.SuggestedBid = cents(expr.BidValues[1].SuggestedBid)
			}
			if len(expr.BidValues) > 2 {
				b.RangeEnd = cents(expr.BidValues[2].SuggestedBid)
			}
			out = append(out, b)
		}
	}
	return out, nil
}

func matchTypeFromExpression(t string) string {
	for mt, et := range expressionTypes {
		if et == t {
			return mt
		}
	}
	return ""
}

func normalizeMatchType(mt string) string {
	switch strings.ToUpper(strings.TrimSpace(mt)) {
	case source.MatchExact:
		return source.MatchExact
	case source.MatchPhrase:
		return source.MatchPhrase
	default:
		return source.MatchBroad
	}
}

// cents converts a dollar amount to whole cents; negative or NaN is 0.
func cents(dollars float64) int {
	if math.IsNaN(dollars) || dollars <= 0 {
		return 0
	}
	return int(math.Round(dollars * 100))
}

func firstPositive(vals ...int) int {
	for _, v := range vals {
		if v > 0 {
			return v
		}
	}
	return 0
}

var (
	_ source.KeywordSource = (*Adapter)(nil)
	_ source.BidSource     = (*Adapter)(nil)
)
