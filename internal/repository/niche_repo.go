package repository

import (
	"context"
	"time"

	"github.com/commercecrafted/nichepipeline/internal/domain"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

// NicheRepository handles niche job rows and their aggregates.
type NicheRepository struct {
	db *gorm.DB
}

// NewNicheRepository creates a new NicheRepository.
// Parameters:
//   - db: GORM database handle used for queries.
//
// Returns:
//   - *NicheRepository: repository instance bound to db.
func NewNicheRepository(db *gorm.DB) *NicheRepository {
	return &NicheRepository{db: db}
}

// Create inserts a new niche job.
func (r *NicheRepository) Create(ctx context.Context, niche *domain.Niche) error {
	return r.db.WithContext(ctx).Create(niche).Error
}

// GetByID retrieves a niche by its ID.
// Parameters:
//   - ctx: context for cancellation and deadlines.
//   - id: niche ID.
//
// Returns:
//   - *domain.Niche: niche record if found.
//   - error: ErrNotFound when missing, otherwise non-nil if lookup fails.
func (r *NicheRepository) GetByID(ctx context.Context, id string) (*domain.Niche, error) {
	var niche domain.Niche
	if err := r.db.WithContext(ctx).First(&niche, "id = ?", id).Error; err != nil {
		return nil, translate(err)
	}
	return &niche, nil
}

// MarkProcessing moves a pending niche to processing with its initial
// progress. It returns ErrNotFound when no pending niche has that ID.
func (r *NicheRepository) MarkProcessing(ctx context.Context, id string, startedAt time.Time, progress domain.Progress) error {
	res := r.db.WithContext(ctx).
		Model(&domain.Niche{}).
		Where("id = ? AND status = ?", id, domain.NicheStatusPending).
		Updates(map[string]interface{}{
			"status":     domain.NicheStatusProcessing,
			"started_at": startedAt,
			"progress":   datatypes.NewJSONType(progress),
			"updated_at": time.Now(),
		})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

// SaveProgress overwrites the progress snapshot of a processing niche.
func (r *NicheRepository) SaveProgress(ctx context.Context, id string, progress domain.Progress) error {
	res := r.db.WithContext(ctx).
		Model(&domain.Niche{}).
		Where("id = ? AND status = ?", id, domain.NicheStatusProcessing).
		Updates(map[string]interface{}{
			"progress":   datatypes.NewJSONType(progress),
			"updated_at": time.Now(),
		})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

// Complete marks a processing niche completed and stores its aggregate.
func (r *NicheRepository) Complete(ctx context.Context, id string, progress domain.Progress, agg domain.NicheAggregate) error {
	values := aggregateValues(agg)
	now := time.Now()
	values["status"] = domain.NicheStatusCompleted
	values["completed_at"] = now
	values["progress"] = datatypes.NewJSONType(progress)
	values["error"] = ""
	values["updated_at"] = now

	return r.finish(ctx, id, values)
}

// Fail marks a non-terminal niche failed with message.
func (r *NicheRepository) Fail(ctx context.Context, id string, message string, progress domain.Progress) error {
	now := time.Now()
	return r.finish(ctx, id, map[string]interface{}{
		"status":       domain.NicheStatusFailed,
		"completed_at": now,
		"progress":     datatypes.NewJSONType(progress),
		"error":        message,
		"updated_at":   now,
	})
}

func (r *NicheRepository) finish(ctx context.Context, id string, values map[string]interface{}) error {
	res := r.db.WithContext(ctx).
		Model(&domain.Niche{}).
		Where("id = ? AND status IN ?", id, []domain.NicheStatus{domain.NicheStatusPending, domain.NicheStatusProcessing}).
		Updates(values)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

// SaveAggregate overwrites the aggregate columns of a niche regardless of
// its status.
func (r *NicheRepository) SaveAggregate(ctx context.Context, id string, agg domain.NicheAggregate) error {
	values := aggregateValues(agg)
	values["updated_at"] = time.Now()
	res := r.db.WithContext(ctx).Model(&domain.Niche{}).Where("id = ?", id).Updates(values)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

// aggregateValues maps every agg_ column to its value, zero values included.
func aggregateValues(agg domain.NicheAggregate) map[string]interface{} {
	return map[string]interface{}{
		"agg_total_products":                  agg.TotalProducts,
		"agg_failed_products":                 agg.FailedProducts,
		"agg_average_price":                   agg.AveragePrice,
		"agg_average_bsr":                     agg.AverageBSR,
		"agg_average_rating":                  agg.AverageRating,
		"agg_total_reviews":                   agg.TotalReviews,
		"agg_average_opportunity_score":       agg.AverageOpportunityScore,
		"agg_average_competition_score":       agg.AverageCompetitionScore,
		"agg_average_demand_score":            agg.AverageDemandScore,
		"agg_total_unique_keywords":           agg.TotalUniqueKeywords,
		"agg_competition_level":               agg.CompetitionLevel,
		"agg_total_estimated_monthly_revenue": agg.TotalEstimatedMonthlyRevenue,
		"agg_market_size":                     agg.MarketSize,
		"agg_top_keywords":                    agg.TopKeywords,
		"agg_computed_at":                     agg.ComputedAt,
	}
}

// ListStale returns processing niches whose last update is before cutoff.
func (r *NicheRepository) ListStale(ctx context.Context, cutoff time.Time) ([]domain.Niche, error) {
	var niches []domain.Niche
	if err := r.db.WithContext(ctx).
		Where("status = ? AND updated_at < ?", domain.NicheStatusProcessing, cutoff).
		Order("updated_at ASC").
		Find(&niches).Error; err != nil {
		return nil, err
	}
	return niches, nil
}

// List returns niches newest first, optionally filtered by status.
// Parameters:
//   - ctx: context for cancellation and deadlines.
//   - status: status filter; empty means all.
//   - limit: maximum number of records to return.
//   - offset: number of records to skip.
//
// Returns:
//   - []domain.Niche: matching niches.
//   - error: non-nil if the query fails.
func (r *NicheRepository) List(ctx context.Context, status domain.NicheStatus, limit, offset int) ([]domain.Niche, error) {
	var niches []domain.Niche
	query := r.db.WithContext(ctx)
	if status != "" {
		query = query.Where("status = ?", status)
	}
	if err := query.
		Order("created_at DESC").
		Limit(limit).
		Offset(offset).
		Find(&niches).Error; err != nil {
		return nil, err
	}
	return niches, nil
}
