package repository

import (
	"context"

	"github.com/commercecrafted/nichepipeline/internal/domain"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// DefaultKeywordBatch is the number of keyword rows per upsert statement.
const DefaultKeywordBatch = 100

// KeywordRepository handles merged keyword rows.
type KeywordRepository struct {
	db *gorm.DB
}

// NewKeywordRepository creates a new KeywordRepository.
func NewKeywordRepository(db *gorm.DB) *KeywordRepository {
	return &KeywordRepository{db: db}
}

// UpsertBatch writes records in statements of batchSize rows, updating the
// existing row for the same (asin, keyword). Each statement stands alone; a
// failure leaves earlier batches written.
// Parameters:
//   - ctx: context for cancellation and deadlines.
//   - records: keyword rows; keywords must already be normalized.
//   - batchSize: rows per statement; <= 0 means DefaultKeywordBatch.
//
// Returns:
//   - int: number of rows written before any failure.
//   - error: non-nil if a batch fails.
func (r *KeywordRepository) UpsertBatch(ctx context.Context, records []domain.KeywordRecord, batchSize int) (int, error) {
	if batchSize <= 0 {
		batchSize = DefaultKeywordBatch
	}
	written := 0
	for start := 0; start < len(records); start += batchSize {
		end := start + batchSize
		if end > len(records) {
			end = len(records)
		}
		chunk := records[start:end]
		if err := r.db.WithContext(ctx).Clauses(clause.OnConflict{
			Columns: []clause.Column{{Name: "asin"}, {Name: "keyword"}},
			DoUpdates: clause.AssignmentColumns([]string{
				"niche_id", "match_type", "source", "suggested_bid", "bid_range_start",
				"bid_range_end", "estimated_clicks", "estimated_orders", "search_volume",
				"competition", "updated_at",
			}),
		}).Create(&chunk).Error; err != nil {
			return written, err
		}
		written += len(chunk)
	}
	return written, nil
}

// ListByASINs returns the keyword rows of asins, grouped by ASIN.
func (r *KeywordRepository) ListByASINs(ctx context.Context, asins []string) ([]domain.KeywordRecord, error) {
	if len(asins) == 0 {
		return []domain.KeywordRecord{}, nil
	}
	var records []domain.KeywordRecord
	if err := r.db.WithContext(ctx).
		Where("asin IN ?", asins).
		Order("asin ASC, id ASC").
		Find(&records).Error; err != nil {
		return nil, err
	}
	return records, nil
}

// CountUnique counts distinct keyword texts across asins.
func (r *KeywordRepository) CountUnique(ctx context.Context, asins []string) (int64, error) {
	if len(asins) == 0 {
		return 0, nil
	}
	var count int64
	if err := r.db.WithContext(ctx).
		Model(&domain.KeywordRecord{}).
		Where("asin IN ?", asins).
		Distinct("keyword").
		Count(&count).Error; err != nil {
		return 0, err
	}
	return count, nil
}
