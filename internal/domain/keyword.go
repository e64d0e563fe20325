package domain

import (
	"strings"
	"time"
)

// Keyword competition labels derived from the suggested bid.
const (
	KeywordCompetitionLow    = "LOW"
	KeywordCompetitionMedium = "MEDIUM"
	KeywordCompetitionHigh   = "HIGH"
)

// KeywordRecord is a merged keyword attached to one product.
type KeywordRecord struct {
	ID              uint      `gorm:"primaryKey" json:"-"`
	ASIN            string    `gorm:"type:text;not null;uniqueIndex:idx_keyword_asin_keyword" json:"asin"`
	Keyword         string    `gorm:"type:text;not null;uniqueIndex:idx_keyword_asin_keyword" json:"keyword"`
	NicheID         string    `gorm:"type:text;index" json:"niche_id,omitempty"`
	MatchType       string    `gorm:"type:text;default:BROAD" json:"match_type"`
	Source          string    `gorm:"type:text" json:"source"`
	SuggestedBid    int       `json:"suggested_bid"`
	BidRangeStart   int       `json:"bid_range_start"`
	BidRangeEnd     int       `json:"bid_range_end"`
	EstimatedClicks int       `json:"estimated_clicks"`
	EstimatedOrders int       `json:"estimated_orders"`
	SearchVolume    int       `json:"search_volume"`
	Competition     string    `gorm:"type:text" json:"competition"`
	CreatedAt       time.Time `json:"created_at"`
	UpdatedAt       time.Time `json:"updated_at"`
}

// TableName returns the database table name for KeywordRecord.
func (KeywordRecord) TableName() string {
	return "keyword_records"
}

// NormalizeKeyword lower-cases text, trims it and collapses inner whitespace.
func NormalizeKeyword(text string) string {
	return strings.Join(strings.Fields(strings.ToLower(text)), " ")
}

// CompetitionFromBid labels a keyword by its suggested bid in cents.
func CompetitionFromBid(cents int) string {
	switch {
	case cents > 100:
		return KeywordCompetitionHigh
	case cents > 50:
		return KeywordCompetitionMedium
	default:
		return KeywordCompetitionLow
	}
}

// ApplyDefaults fills the derived fields a provider left empty.
func (k *KeywordRecord) ApplyDefaults() {
	if k.MatchType == "" {
		k.MatchType = "BROAD"
	}
	if k.SearchVolume == 0 && k.EstimatedClicks > 0 {
		k.SearchVolume = k.EstimatedClicks * 30
	}
	if k.Competition == "" {
		k.Competition = CompetitionFromBid(k.SuggestedBid)
	}
}
