package domain

import (
	"math"
	"time"

	"gorm.io/datatypes"
)

// NicheStatus is the lifecycle state of a niche processing job.
// Transitions: pending -> processing -> completed | failed.
type NicheStatus string

const (
	NicheStatusPending    NicheStatus = "pending"
	NicheStatusProcessing NicheStatus = "processing"
	NicheStatusCompleted  NicheStatus = "completed"
	NicheStatusFailed     NicheStatus = "failed"
)

// IsTerminal reports whether the status can no longer change.
func (s NicheStatus) IsTerminal() bool {
	return s == NicheStatusCompleted || s == NicheStatusFailed
}

// Step labels shown to polling consumers.
const (
	StepNotStarted    = "Not started"
	StepFetchProduct  = "Fetching product data"
	StepFetchKeywords = "Fetching keyword data"
	StepScoring       = "Calculating scores and metrics"
	StepCompleted     = "Completed"
	StepFailed        = "Failed"
)

// IdentifierFailure records why one identifier could not be processed.
type IdentifierFailure struct {
	ASIN  string `json:"asin"`
	Error string `json:"error"`
}

// Progress is the per-job progress snapshot persisted after every identifier.
type Progress struct {
	ProcessedCount       int                 `json:"processedCount"`
	TotalCount           int                 `json:"totalCount"`
	CurrentIdentifier    string              `json:"currentIdentifier,omitempty"`
	SucceededIdentifiers []string            `json:"succeededIdentifiers"`
	FailedIdentifiers    []string            `json:"failedIdentifiers"`
	Failures             []IdentifierFailure `json:"failures,omitempty"`
	Warnings             []string            `json:"warnings,omitempty"`
	CurrentStep          string              `json:"currentStep"`
	APICallsMade         int                 `json:"apiCallsMade"`
	LastUpdate           time.Time           `json:"lastUpdate"`
}

// NewProgress returns an empty snapshot for total identifiers.
func NewProgress(total int) Progress {
	return Progress{
		TotalCount:           total,
		SucceededIdentifiers: []string{},
		FailedIdentifiers:    []string{},
		CurrentStep:          StepNotStarted,
	}
}

// Percent returns round(processed / total * 100), 0 for an empty job.
func (p Progress) Percent() int {
	if p.TotalCount == 0 {
		return 0
	}
	return int(math.Round(float64(p.ProcessedCount) / float64(p.TotalCount) * 100))
}

// Attempted reports whether asin already has a recorded outcome.
func (p Progress) Attempted(asin string) bool {
	return StringList(p.SucceededIdentifiers).Contains(asin) || StringList(p.FailedIdentifiers).Contains(asin)
}

// Competition levels derived from the mean competition score.
const (
	CompetitionLow      = "LOW"
	CompetitionMedium   = "MEDIUM"
	CompetitionHigh     = "HIGH"
	CompetitionVeryHigh = "VERY_HIGH"
)

// NicheAggregate holds the niche-level rollup computed after a job succeeds.
type NicheAggregate struct {
	TotalProducts                int        `json:"total_products"`
	FailedProducts               int        `json:"failed_products"`
	AveragePrice                 float64    `json:"average_price"`
	AverageBSR                   float64    `json:"average_bsr"`
	AverageRating                float64    `json:"average_rating"`
	TotalReviews                 int64      `json:"total_reviews"`
	AverageOpportunityScore      float64    `json:"average_opportunity_score"`
	AverageCompetitionScore      float64    `json:"average_competition_score"`
	AverageDemandScore           float64    `json:"average_demand_score"`
	TotalUniqueKeywords          int        `json:"total_unique_keywords"`
	CompetitionLevel             string     `gorm:"type:text" json:"competition_level"`
	TotalEstimatedMonthlyRevenue float64    `json:"total_estimated_monthly_revenue"`
	MarketSize                   float64    `json:"market_size"`
	TopKeywords                  string     `gorm:"type:text" json:"top_keywords"`
	ComputedAt                   *time.Time `json:"computed_at,omitempty"`
}

// Niche is one niche processing job together with its aggregate result.
type Niche struct {
	ID          string                       `gorm:"type:text;primaryKey" json:"id"`
	Name        string                       `gorm:"type:text;not null" json:"name"`
	Marketplace string                       `gorm:"type:text;default:US" json:"marketplace"`
	ASINs       StringList                   `gorm:"column:asins;type:text" json:"asins"`
	Sources     StringList                   `gorm:"type:text" json:"sources"`
	Status      NicheStatus                  `gorm:"type:text;default:pending;index" json:"status"`
	Progress    datatypes.JSONType[Progress] `json:"progress"`
	StartedAt   *time.Time                   `json:"started_at,omitempty"`
	CompletedAt *time.Time                   `json:"completed_at,omitempty"`
	Error       string                       `gorm:"type:text" json:"error,omitempty"`
	RetryOf     string                       `gorm:"type:text;index" json:"retry_of,omitempty"`
	Aggregate   NicheAggregate               `gorm:"embedded;embeddedPrefix:agg_" json:"aggregate"`
	CreatedAt   time.Time                    `json:"created_at"`
	UpdatedAt   time.Time                    `gorm:"index" json:"updated_at"`
}

// TableName returns the database table name for Niche.
// Parameters: none.
// Returns:
//   - string: table name for GORM mapping.
func (Niche) TableName() string {
	return "niches"
}

// CurrentProgress returns the decoded progress snapshot.
func (n *Niche) CurrentProgress() Progress {
	return n.Progress.Data()
}
