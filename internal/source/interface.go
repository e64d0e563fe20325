package source

import (
	"context"
	"encoding/json"
	"time"
)

// Provider names. They double as the provenance tag on keyword records and
// as the values accepted in a niche's source list.
const (
	ProviderKeepa  = "keepa"
	ProviderSPAPI  = "spapi"
	ProviderAds    = "amazon_ads"
	ProviderOpenAI = "openai"
	ProviderApify  = "apify"
)

// Match types for keyword bids, in enrichment fallback order.
const (
	MatchExact  = "EXACT"
	MatchBroad  = "BROAD"
	MatchPhrase = "PHRASE"
)

// PricePoint is one decoded point of a price history series.
type PricePoint struct {
	At    time.Time
	Type  string // amazon, new
	Price float64
}

// RankPoint is one decoded point of a sales rank history series.
type RankPoint struct {
	At   time.Time
	Rank int64
}

// ProductData is the normalized output of a product (price/rank history) adapter.
// Prices are in currency units and never negative; BSR and FBAFees are nil
// when the provider had no data.
type ProductData struct {
	ASIN         string
	Title        string
	Brand        string
	Category     string
	ImageURL     string
	Price        float64
	Rating       float64
	ReviewCount  int
	BSR          *int64
	MonthlySales int
	FBAFees      *float64
	PriceHistory []PricePoint
	RankHistory  []RankPoint
	Raw          json.RawMessage
}

// CatalogData is the normalized output of a catalog/pricing adapter. Empty
// fields mean the provider did not know the value.
type CatalogData struct {
	ASIN     string
	Title    string
	Brand    string
	Category string
	ImageURL string
	Price    float64
	BSR      *int64
}

// KeywordCandidate is a raw keyword suggestion before merge. Bids are in cents.
type KeywordCandidate struct {
	Keyword         string
	MatchType       string
	Source          string
	SuggestedBid    int
	BidRangeStart   int
	BidRangeEnd     int
	EstimatedClicks int
	EstimatedOrders int
	SearchVolume    int
	Competition     string
}

// BidRecommendation is a normalized bid suggestion for one keyword and match type.
type BidRecommendation struct {
	Keyword         string
	MatchType       string
	SuggestedBid    int // cents
	RangeStart      int
	RangeEnd        int
	EstimatedClicks int
	EstimatedOrders int
}

// Analysis is the normalized output of an AI analysis adapter.
type Analysis struct {
	OpportunityScore int             `json:"opportunityScore"`
	CompetitionScore int             `json:"competitionScore"`
	DemandScore      int             `json:"demandScore"`
	Summary          string          `json:"summary"`
	Strengths        []string        `json:"strengths,omitempty"`
	Weaknesses       []string        `json:"weaknesses,omitempty"`
	Keywords         []string        `json:"keywords,omitempty"`
	Raw              json.RawMessage `json:"-"`
}

// ReviewSummary is the normalized output of a review scraping adapter.
type ReviewSummary struct {
	ASIN               string      `json:"asin"`
	TotalReviews       int         `json:"totalReviews"`
	AverageRating      float64     `json:"averageRating"`
	RatingDistribution map[int]int `json:"ratingDistribution"`
	VerifiedRate       float64     `json:"verifiedRate"`
	PositiveShare      float64     `json:"positiveShare"`
	NegativeShare      float64     `json:"negativeShare"`
}

// Adapter is the part every provider adapter shares.
type Adapter interface {
	// Name returns the provider name used for logs, metrics and provenance.
	Name() string
}

// ProductSource fetches price, rank and listing data for one identifier.
// This is the only adapter a niche job cannot run without.
type ProductSource interface {
	Adapter
	// FetchProduct returns normalized product data or an *AdapterError.
	FetchProduct(ctx context.Context, asin string) (*ProductData, error)
}

// CatalogSource fills listing attributes the product source may lack.
type CatalogSource interface {
	Adapter
	FetchCatalog(ctx context.Context, asin string) (*CatalogData, error)
}

// KeywordSource suggests keywords for a product.
type KeywordSource interface {
	Adapter
	// FetchKeywords returns raw candidates tagged with Name() as source.
	FetchKeywords(ctx context.Context, product *ProductData) ([]KeywordCandidate, error)
}

// BidSource recommends bids for keywords advertised against asin. One call
// returns recommendations for every match type of every keyword.
type BidSource interface {
	Adapter
	FetchBids(ctx context.Context, asin string, keywords []string) ([]BidRecommendation, error)
}

// AnalysisSource produces AI-generated analysis for a product.
type AnalysisSource interface {
	Adapter
	Analyze(ctx context.Context, product *ProductData) (*Analysis, error)
}

// ReviewSource scrapes and summarizes customer reviews.
type ReviewSource interface {
	Adapter
	FetchReviews(ctx context.Context, asin string) (*ReviewSummary, error)
}
