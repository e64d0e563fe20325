package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/commercecrafted/nichepipeline/internal/domain"
	"github.com/commercecrafted/nichepipeline/internal/logger"
	"github.com/commercecrafted/nichepipeline/internal/storage"
	"github.com/xuri/excelize/v2"
)

// ErrArchiveDisabled is returned by ArchiveReport without object storage.
var ErrArchiveDisabled = errors.New("report archive is not configured")

// XLSXContentType is the MIME type of generated reports.
const XLSXContentType = "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"

const (
	sheetSummary  = "Summary"
	sheetProducts = "Products"
	sheetKeywords = "Keywords"
)

// NicheReader loads a niche job.
type NicheReader interface {
	GetByID(ctx context.Context, id string) (*domain.Niche, error)
}

// ReportService renders niche reports as XLSX workbooks and optionally
// archives them in object storage.
type ReportService struct {
	niches   NicheReader
	products ScoreStore
	keywords KeywordLister
	store    storage.ObjectStorage
	prefix   string
}

// NewReportService creates a report service. store may be nil, which
// disables archiving.
func NewReportService(niches NicheReader, products ScoreStore, keywords KeywordLister, store storage.ObjectStorage, prefix string) *ReportService {
	return &ReportService{niches: niches, products: products, keywords: keywords, store: store, prefix: prefix}
}

// ArchiveEnabled reports whether ArchiveReport can upload.
func (s *ReportService) ArchiveEnabled() bool {
	return s.store != nil
}

// BuildReport renders the niche summary, its products and its keywords.
func (s *ReportService) BuildReport(ctx context.Context, nicheID string) ([]byte, error) {
	start := time.Now()

	niche, err := s.niches.GetByID(ctx, nicheID)
	if err != nil {
		return nil, err
	}
	return s.render(ctx, niche, start)
}

func (s *ReportService) render(ctx context.Context, niche *domain.Niche, start time.Time) ([]byte, error) {
	products, err := s.products.GetByASINs(ctx, niche.ASINs)
	if err != nil {
		return nil, fmt.Errorf("load products: %w", err)
	}
	keywords, err := s.keywords.ListByASINs(ctx, niche.ASINs)
	if err != nil {
		return nil, fmt.Errorf("load keywords: %w", err)
	}

	f := excelize.NewFile()
	defer f.Close()

	if err := f.SetSheetName("Sheet1", sheetSummary); err != nil {
		return nil, err
	}
	for _, name := range []string{sheetProducts, sheetKeywords} {
		if _, err := f.NewSheet(name); err != nil {
			return nil, err
		}
	}

	writeSummary(f, niche)
	writeProducts(f, products)
	writeKeywords(f, keywords)

	buf, err := f.WriteToBuffer()
	if err != nil {
		return nil, fmt.Errorf("xlsx write: %w", err)
	}

	logger.With(logger.Fields{
		logger.FieldNicheID: niche.ID,
		"products":          len(products),
		"keywords":          len(keywords),
	}).WithDuration(start).Debug(ctx, "Report built")
	return buf.Bytes(), nil
}

// ArchiveReport uploads the niche report and returns its URL. A finished
// niche is uploaded once per aggregate and reused afterwards.
func (s *ReportService) ArchiveReport(ctx context.Context, nicheID string) (string, error) {
	if s.store == nil {
		return "", ErrArchiveDisabled
	}
	start := time.Now()
	niche, err := s.niches.GetByID(ctx, nicheID)
	if err != nil {
		return "", err
	}
	var version int64
	if at := niche.Aggregate.ComputedAt; at != nil {
		version = at.UnixMilli()
	}
	key := storage.ReportKey(s.prefix, nicheID, version)
	if niche.Status.IsTerminal() {
		ok, err := s.store.Exists(ctx, key)
		if err != nil {
			return "", fmt.Errorf("archive report: %w", err)
		}
		if ok {
			return s.store.URL(key), nil
		}
	}
	data, err := s.render(ctx, niche, start)
	if err != nil {
		return "", err
	}
	if err := s.store.Put(ctx, key, data, XLSXContentType); err != nil {
		return "", fmt.Errorf("archive report: %w", err)
	}
	logger.With(logger.Fields{logger.FieldNicheID: nicheID, "key": key}).
		WithDuration(start).Info(ctx, "Report archived")
	return s.store.URL(key), nil
}

func writeRow(f *excelize.File, sheet string, row int, values ...any) {
	cell, _ := excelize.CoordinatesToCellName(1, row)
	_ = f.SetSheetRow(sheet, cell, &values)
}

func writeSummary(f *excelize.File, n *domain.Niche) {
	p := n.CurrentProgress()
	agg := n.Aggregate
	rows := [][]any{
		{"Niche", n.Name},
		{"ID", n.ID},
		{"Marketplace", n.Marketplace},
		{"Status", string(n.Status)},
		{"Processed", fmt.Sprintf("%d / %d", p.ProcessedCount, p.TotalCount)},
		{"Failed ASINs", len(p.FailedIdentifiers)},
		{"Products", agg.TotalProducts},
		{"Average price", agg.AveragePrice},
		{"Average BSR", agg.AverageBSR},
		{"Average rating", agg.AverageRating},
		{"Total reviews", agg.TotalReviews},
		{"Opportunity score", agg.AverageOpportunityScore},
		{"Competition score", agg.AverageCompetitionScore},
		{"Demand score", agg.AverageDemandScore},
		{"Competition level", agg.CompetitionLevel},
		{"Monthly revenue", agg.TotalEstimatedMonthlyRevenue},
		{"Market size", agg.MarketSize},
		{"Unique keywords", agg.TotalUniqueKeywords},
		{"Top keywords", agg.TopKeywords},
	}
	if n.Error != "" {
		rows = append(rows, []any{"Error", n.Error})
	}
	for i, r := range rows {
		writeRow(f, sheetSummary, i+1, r...)
	}
	_ = f.SetColWidth(sheetSummary, "A", "A", 20)
	_ = f.SetColWidth(sheetSummary, "B", "B", 60)
}

func writeProducts(f *excelize.File, products []domain.Product) {
	writeRow(f, sheetProducts, 1, "ASIN", "Title", "Brand", "Price", "Rating", "Reviews", "BSR",
		"Monthly sales", "Monthly revenue", "Competition", "Demand", "Opportunity", "Feasibility")
	for i, p := range products {
		var bsr any = ""
		if p.BSR != nil {
			bsr = *p.BSR
		}
		writeRow(f, sheetProducts, i+2, p.ASIN, p.Title, p.Brand, p.Price, p.Rating, p.ReviewCount, bsr,
			p.MonthlySales, p.MonthlyRevenue, p.CompetitionScore, p.DemandScore, p.OpportunityScore, p.FeasibilityScore)
	}
	_ = f.SetColWidth(sheetProducts, "A", "A", 14)
	_ = f.SetColWidth(sheetProducts, "B", "B", 48)
}

func writeKeywords(f *excelize.File, keywords []domain.KeywordRecord) {
	writeRow(f, sheetKeywords, 1, "ASIN", "Keyword", "Match type", "Source", "Suggested bid (cents)",
		"Est. clicks", "Est. orders", "Search volume", "Competition")
	for i, k := range keywords {
		writeRow(f, sheetKeywords, i+2, k.ASIN, k.Keyword, k.MatchType, k.Source, k.SuggestedBid,
			k.EstimatedClicks, k.EstimatedOrders, k.SearchVolume, k.Competition)
	}
	_ = f.SetColWidth(sheetKeywords, "B", "B", 36)
}
