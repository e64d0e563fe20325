package domain

import (
	"math"
	"time"

	"gorm.io/datatypes"
)

// Product is the persisted record of one identifier, keyed by ASIN.
type Product struct {
	ASIN          string         `gorm:"type:text;primaryKey" json:"asin"`
	Title         string         `gorm:"type:text" json:"title"`
	Brand         string         `gorm:"type:text" json:"brand"`
	Category      string         `gorm:"type:text" json:"category"`
	ImageURL      string         `gorm:"type:text" json:"image_url"`
	Marketplace   string         `gorm:"type:text;default:US" json:"marketplace"`
	Price         float64        `json:"price"`
	Rating        float64        `json:"rating"`
	ReviewCount   int            `json:"review_count"`
	BSR           *int64         `gorm:"column:bsr" json:"bsr,omitempty"`
	MonthlySales  int            `json:"monthly_sales"`
	FBAFees       *float64       `gorm:"column:fba_fees" json:"fba_fees,omitempty"`
	RawPayload    datatypes.JSON `json:"raw_payload,omitempty"`
	AIAnalysis    datatypes.JSON `gorm:"column:ai_analysis" json:"ai_analysis,omitempty"`
	ReviewSummary datatypes.JSON `json:"review_summary,omitempty"`
	LastSyncedAt  time.Time      `json:"last_synced_at"`

	// Written by scoring.
	CompetitionScore int     `json:"competition_score"`
	DemandScore      int     `json:"demand_score"`
	OpportunityScore int     `json:"opportunity_score"`
	FeasibilityScore int     `json:"feasibility_score"`
	MonthlyRevenue   float64 `json:"monthly_revenue"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// TableName returns the database table name for Product.
func (Product) TableName() string {
	return "products"
}

// ProductScores is the scoring output for one product.
type ProductScores struct {
	CompetitionScore int
	DemandScore      int
	OpportunityScore int
	FeasibilityScore int
	MonthlyRevenue   float64
}

// SanitizePrice maps negative, NaN and infinite prices to 0.
func SanitizePrice(p float64) float64 {
	if math.IsNaN(p) || math.IsInf(p, 0) || p < 0 {
		return 0
	}
	return p
}

// SanitizeRating clamps a star rating to 0..5.
func SanitizeRating(r float64) float64 {
	if math.IsNaN(r) || r < 0 {
		return 0
	}
	if r > 5 {
		return 5
	}
	return r
}

// PriceHistory is one decoded price observation.
type PriceHistory struct {
	ID         uint      `gorm:"primaryKey" json:"-"`
	ASIN       string    `gorm:"type:text;not null;uniqueIndex:idx_price_history_point" json:"asin"`
	RecordedAt time.Time `gorm:"not null;uniqueIndex:idx_price_history_point" json:"recorded_at"`
	PriceType  string    `gorm:"type:text;not null;uniqueIndex:idx_price_history_point" json:"price_type"`
	Price      float64   `json:"price"`
}

// TableName returns the database table name for PriceHistory.
func (PriceHistory) TableName() string {
	return "price_history"
}

// RankHistory is one decoded sales rank observation.
type RankHistory struct {
	ID         uint      `gorm:"primaryKey" json:"-"`
	ASIN       string    `gorm:"type:text;not null;uniqueIndex:idx_rank_history_point" json:"asin"`
	RecordedAt time.Time `gorm:"not null;uniqueIndex:idx_rank_history_point" json:"recorded_at"`
	Rank       int64     `json:"rank"`
}

// TableName returns the database table name for RankHistory.
func (RankHistory) TableName() string {
	return "rank_history"
}
