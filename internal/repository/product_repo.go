package repository

import (
	"context"
	"time"

	"github.com/commercecrafted/nichepipeline/internal/domain"
	"gorm.io/datatypes"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// fetchedColumns are overwritten on every product upsert. Scores and
// enrichment columns have their own writers.
var fetchedColumns = []string{
	"title", "brand", "category", "image_url", "marketplace",
	"price", "rating", "review_count", "bsr", "monthly_sales", "fba_fees",
	"raw_payload", "last_synced_at", "updated_at",
}

// ProductRepository handles product rows and their history.
type ProductRepository struct {
	db *gorm.DB
}

// NewProductRepository creates a new ProductRepository.
func NewProductRepository(db *gorm.DB) *ProductRepository {
	return &ProductRepository{db: db}
}

// Upsert creates or updates a product keyed by ASIN; the latest fetch wins.
// Parameters:
//   - ctx: context for cancellation and deadlines.
//   - product: product record to create or update.
//
// Returns:
//   - error: non-nil if the upsert fails.
func (r *ProductRepository) Upsert(ctx context.Context, product *domain.Product) error {
	product.Price = domain.SanitizePrice(product.Price)
	product.Rating = domain.SanitizeRating(product.Rating)
	if product.ReviewCount < 0 {
		product.ReviewCount = 0
	}
	return r.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "asin"}},
		DoUpdates: clause.AssignmentColumns(fetchedColumns),
	}).Create(product).Error
}

// GetByASIN retrieves one product.
func (r *ProductRepository) GetByASIN(ctx context.Context, asin string) (*domain.Product, error) {
	var product domain.Product
	if err := r.db.WithContext(ctx).First(&product, "asin = ?", asin).Error; err != nil {
		return nil, translate(err)
	}
	return &product, nil
}

// GetByASINs retrieves the products for asins in ASIN order. Unknown ASINs
// are skipped.
func (r *ProductRepository) GetByASINs(ctx context.Context, asins []string) ([]domain.Product, error) {
	if len(asins) == 0 {
		return []domain.Product{}, nil
	}
	var products []domain.Product
	if err := r.db.WithContext(ctx).
		Where("asin IN ?", asins).
		Order("asin ASC").
		Find(&products).Error; err != nil {
		return nil, err
	}
	return products, nil
}

// SaveScores writes the scoring output for one product.
func (r *ProductRepository) SaveScores(ctx context.Context, asin string, scores domain.ProductScores) error {
	res := r.db.WithContext(ctx).
		Model(&domain.Product{}).
		Where("asin = ?", asin).
		Updates(map[string]interface{}{
			"competition_score": scores.CompetitionScore,
			"demand_score":      scores.DemandScore,
			"opportunity_score": scores.OpportunityScore,
			"feasibility_score": scores.FeasibilityScore,
			"monthly_revenue":   scores.MonthlyRevenue,
			"updated_at":        time.Now(),
		})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

// SaveEnrichment stores AI analysis and review summary payloads. A nil
// payload leaves its column unchanged.
func (r *ProductRepository) SaveEnrichment(ctx context.Context, asin string, analysis, reviews datatypes.JSON) error {
	values := map[string]interface{}{}
	if analysis != nil {
		values["ai_analysis"] = analysis
	}
	if reviews != nil {
		values["review_summary"] = reviews
	}
	if len(values) == 0 {
		return nil
	}
	values["updated_at"] = time.Now()
	return r.db.WithContext(ctx).
		Model(&domain.Product{}).
		Where("asin = ?", asin).
		Updates(values).Error
}

// InsertPriceHistory stores price points, ignoring ones already recorded.
func (r *ProductRepository) InsertPriceHistory(ctx context.Context, points []domain.PriceHistory) error {
	if len(points) == 0 {
		return nil
	}
	return r.db.WithContext(ctx).
		Clauses(clause.OnConflict{DoNothing: true}).
		CreateInBatches(points, 500).Error
}

// InsertRankHistory stores rank points, ignoring ones already recorded.
func (r *ProductRepository) InsertRankHistory(ctx context.Context, points []domain.RankHistory) error {
	if len(points) == 0 {
		return nil
	}
	return r.db.WithContext(ctx).
		Clauses(clause.OnConflict{DoNothing: true}).
		CreateInBatches(points, 500).Error
}
