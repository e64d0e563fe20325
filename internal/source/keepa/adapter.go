// Package keepa adapts the Keepa product API (price and sales rank history)
// to source.ProductSource.
package keepa

import (
	"context"
	"encoding/json"
	"strconv"
	"strings"
	"time"

	"github.com/commercecrafted/nichepipeline/internal/source"
	"github.com/go-resty/resty/v2"
)

// Keepa csv / stats.current indexes.
const (
	idxAmazon  = 0
	idxNew     = 1
	idxSales   = 3
	idxRating  = 16
	idxReviews = 17
	idxBuyBox  = 18
)

// keepaEpochOffset converts Keepa minutes to Unix minutes.
const keepaEpochOffset = 21564000

const imageBaseURL = "https://images-na.ssl-images-amazon.com/images/I/"

var responseSchema = source.MustSchema("keepa-product.json", `{
	"type": "object",
	"required": ["products"],
	"properties": {
		"products": {
			"type": "array",
			"items": {"type": "object", "required": ["asin"]}
		}
	}
}`)

// Config holds Keepa connection settings.
type Config struct {
	APIKey  string
	BaseURL string
	Domain  int
	Timeout time.Duration
}

// Adapter implements source.ProductSource for Keepa.
type Adapter struct {
	client *resty.Client
	apiKey string
	domain int
}

// NewAdapter creates a Keepa adapter.
// Parameters:
//   - cfg: API key, base URL, marketplace domain and request timeout.
//
// Returns:
//   - *Adapter: initialized adapter.
func NewAdapter(cfg Config) *Adapter {
	baseURL := cfg.BaseURL
	if baseURL == "" {
		baseURL = "https://api.keepa.com"
	}
	domain := cfg.Domain
	if domain == 0 {
		domain = 1
	}
	timeout := cfg.Timeout
	if timeout == 0 {
		timeout = 30 * time.Second
	}
	client := resty.New().
		SetBaseURL(strings.TrimSuffix(baseURL, "/")).
		SetTimeout(timeout).
		SetHeader("Accept", "application/json")

	return &Adapter{client: client, apiKey: cfg.APIKey, domain: domain}
}

// Name returns the provider name.
func (a *Adapter) Name() string {
	return source.ProviderKeepa
}

type productResponse struct {
	Products   []product `json:"products"`
	TokensLeft int       `json:"tokensLeft"`
}

type product struct {
	ASIN         string     `json:"asin"`
	Title        string     `json:"title"`
	Brand        string     `json:"brand"`
	ImagesCSV    string     `json:"imagesCSV"`
	CategoryTree []category `json:"categoryTree"`
	CSV          [][]int64  `json:"csv"`
	Stats        *struct {
		Current []int64 `json:"current"`
	} `json:"stats"`
	MonthlySold *int `json:"monthlySold"`
	FBAFees     *struct {
		PickAndPackFee *int64 `json:"pickAndPackFee"`
	} `json:"fbaFees"`
}

type category struct {
	CatID int64  `json:"catId"`
	Name  string `json:"name"`
}

// FetchProduct requests one ASIN with stats, history and FBA fees.
// Parameters:
//   - ctx: context for cancellation and deadlines.
//   - asin: product identifier.
//
// Returns:
//   - *source.ProductData: normalized product.
//   - error: *source.AdapterError on any failure.
func (a *Adapter) FetchProduct(ctx context.Context, asin string) (*source.ProductData, error) {
	if a.apiKey == "" {
		return nil, &source.AdapterError{Provider: a.Name(), Identifier: asin, Kind: source.KindConfig, Message: "api key not configured"}
	}

	resp, err := a.client.R().
		SetContext(ctx).
		SetQueryParams(map[string]string{
			"key":     a.apiKey,
			"domain":  strconv.Itoa(a.domain),
			"asin":    asin,
			"stats":   "90",
			"history": "1",
			"offers":  "20",
			"fbafees": "1",
		}).
		Get("/product")
	if err != nil {
		return nil, source.Classify(a.Name(), asin, err, 0)
	}
	if cerr := source.Classify(a.Name(), asin, nil, resp.StatusCode()); cerr != nil {
		return nil, cerr
	}

	body := resp.Body()
	if err := responseSchema.Validate(body); err != nil {
		return nil, source.Malformed(a.Name(), asin, err)
	}
	var parsed productResponse
	if err := json.Unmarshal(body, &parsed); err != nil {
		return nil, source.Malformed(a.Name(), asin, err)
	}

	for _, p := range parsed.Products {
		if strings.EqualFold(p.ASIN, asin) {
			raw, _ := json.Marshal(p)
			return normalize(p, raw), nil
		}
	}
	return nil, source.NotFound(a.Name(), asin)
}

// normalize maps a Keepa product onto the internal shape. Keepa encodes
// prices and fees in cents, ratings in tenths and "no data" as -1.
func normalize(p product, raw json.RawMessage) *source.ProductData {
	out := &source.ProductData{
		ASIN:  p.ASIN,
		Title: strings.TrimSpace(p.Title),
		Brand: strings.TrimSpace(p.Brand),
		Raw:   raw,
	}
	if n := len(p.CategoryTree); n > 0 {
		out.Category = p.CategoryTree[n-1].Name
	}
	if first, _, _ := strings.Cut(p.ImagesCSV, ","); first != "" {
		out.ImageURL = imageBaseURL + first
	}

	var price int64 = -1
	for _, idx := range []int{idxAmazon, idxNew, idxBuyBox} {
		if v := p.current(idx); v > 0 {
			price = v
			break
		}
	}
	if price > 0 {
		out.Price = float64(price) / 100
	}
	if v := p.current(idxRating); v > 0 {
		out.Rating = clamp(float64(v)/10, 0, 5)
	}
	if v := p.current(idxReviews); v > 0 {
		out.ReviewCount = int(v)
	}
	if v := p.current(idxSales); v > 0 {
		rank := v
		out.BSR = &rank
	}
	if p.MonthlySold != nil && *p.MonthlySold > 0 {
		out.MonthlySales = *p.MonthlySold
	}
	if p.FBAFees != nil && p.FBAFees.PickAndPackFee != nil && *p.FBAFees.PickAndPackFee >= 0 {
		fee := float64(*p.FBAFees.PickAndPackFee) / 100
		out.FBAFees = &fee
	}

	out.PriceHistory = append(decodePrices(p.series(idxAmazon), "amazon"), decodePrices(p.series(idxNew), "new")...)
	out.RankHistory = decodeRanks(p.series(idxSales))
	return out
}

// current prefers stats.current and falls back to the last history value.
func (p product) current(idx int) int64 {
	if p.Stats != nil && idx < len(p.Stats.Current) {
		if v := p.Stats.Current[idx]; v != -1 {
			return v
		}
	}
	s := p.series(idx)
	if len(s) >= 2 {
		return s[len(s)-1]
	}
	return -1
}

func (p product) series(idx int) []int64 {
	if idx < len(p.CSV) {
		return p.CSV[idx]
	}
	return nil
}

// KeepaTime converts Keepa minutes to UTC.
func KeepaTime(minutes int64) time.Time {
	return time.UnixMilli((minutes + keepaEpochOffset) * 60000).UTC()
}

func decodePrices(series []int64, priceType string) []source.PricePoint {
	var out []source.PricePoint
	for i := 0; i+1 < len(series); i += 2 {
		if series[i+1] < 0 {
			continue
		}
		out = append(out, source.PricePoint{
			At:    KeepaTime(series[i]),
			Type:  priceType,
			Price: float64(series[i+1]) / 100,
		})
	}
	return out
}

func decodeRanks(series []int64) []source.RankPoint {
	var out []source.RankPoint
	for i := 0; i+1 < len(series); i += 2 {
		if series[i+1] <= 0 {
			continue
		}
		out = append(out, source.RankPoint{At: KeepaTime(series[i]), Rank: series[i+1]})
	}
	return out
}

func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

var _ source.ProductSource = (*Adapter)(nil)
