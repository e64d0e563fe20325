package service

import (
	"context"
	"math"
	"strings"
	"time"

	"github.com/commercecrafted/nichepipeline/internal/domain"
)

// topKeywordLimit caps the keywords listed on a niche aggregate.
const topKeywordLimit = 50

// bucket awards points to values on one side of bound. Tables are checked
// in order and the first match wins.
type bucket struct {
	bound  float64
	points int
}

var (
	competitionReviews = []bucket{{50, 20}, {100, 15}, {500, 10}, {1000, 5}}        // value < bound
	competitionBSR     = []bucket{{1000, 25}, {5000, 20}, {10000, 15}, {50000, 10}} // value < bound
	competitionRating  = []bucket{{4.5, 20}, {4.0, 15}, {3.5, 10}}                  // value >= bound
	competitionPrice   = []bucket{{100, 10}, {50, 15}, {25, 20}}                    // value > bound

	demandBSR      = []bucket{{100, 30}, {500, 25}, {1000, 20}, {5000, 15}, {10000, 10}, {50000, 5}} // value < bound
	demandSales    = []bucket{{1000, 30}, {500, 25}, {200, 20}, {100, 15}, {50, 10}}                 // value > bound
	demandVelocity = []bucket{{100, 20}, {50, 15}, {20, 10}, {10, 5}}                                // value > bound

	marginBonus = []bucket{{40, 10}, {30, 7}, {20, 5}} // value > bound
)

func below(v float64, table []bucket, otherwise int) int {
	for _, b := range table {
		if v < b.bound {
			return b.points
		}
	}
	return otherwise
}

func above(v float64, table []bucket, otherwise int) int {
	for _, b := range table {
		if v > b.bound {
			return b.points
		}
	}
	return otherwise
}

func atLeast(v float64, table []bucket, otherwise int) int {
	for _, b := range table {
		if v >= b.bound {
			return b.points
		}
	}
	return otherwise
}

// CompetitionScore rates how easy the product's market is to enter, 0..100.
// Higher means weaker competition.
func CompetitionScore(p *domain.Product) int {
	score := below(float64(p.ReviewCount), competitionReviews, 0)
	if p.BSR != nil {
		score += below(float64(*p.BSR), competitionBSR, 5)
	} else {
		score += 5
	}
	score += atLeast(p.Rating, competitionRating, 5)
	score += above(p.Price, competitionPrice, 25)
	return min(score, 100)
}

// DemandScore rates buyer demand, 0..100.
func DemandScore(p *domain.Product) int {
	score := 0
	if p.BSR != nil {
		score += below(float64(*p.BSR), demandBSR, 0)
	}
	score += above(float64(p.MonthlySales), demandSales, 5)
	if p.ReviewCount > 0 {
		score += above(float64(p.ReviewCount)/12, demandVelocity, 0)
	}
	score += priceSweetSpot(p.Price)
	return min(score, 100)
}

func priceSweetSpot(price float64) int {
	switch {
	case price >= 15 && price <= 50:
		return 20
	case price >= 10 && price <= 75:
		return 15
	case price >= 5 && price <= 100:
		return 10
	default:
		return 5
	}
}

// OpportunityScore combines demand and competition with margin and market
// gap bonuses, clamped to 0..100.
func OpportunityScore(p *domain.Product, demand, competition int) int {
	score := 0.5*float64(demand) + 0.3*float64(100-competition)

	if p.Price > 0 && p.FBAFees != nil {
		margin := (p.Price - *p.FBAFees) / p.Price * 100
		score += float64(above(margin, marginBonus, 0))
	}
	if p.ReviewCount < 100 && p.BSR != nil && *p.BSR < 10000 {
		score += 10
	}
	return clamp(int(math.Round(score)), 0, 100)
}

// ScoreProduct computes every per-product score.
func ScoreProduct(p *domain.Product) domain.ProductScores {
	competition := CompetitionScore(p)
	demand := DemandScore(p)
	opportunity := OpportunityScore(p, demand, competition)
	return domain.ProductScores{
		CompetitionScore: competition,
		DemandScore:      demand,
		OpportunityScore: opportunity,
		FeasibilityScore: int(math.Round(float64(opportunity+demand) / 2)),
		MonthlyRevenue:   round2(float64(p.MonthlySales) * p.Price),
	}
}

// CompetitionLevel labels a mean competition score.
func CompetitionLevel(avg float64) string {
	switch {
	case avg >= 80:
		return domain.CompetitionLow
	case avg >= 60:
		return domain.CompetitionMedium
	case avg >= 40:
		return domain.CompetitionHigh
	default:
		return domain.CompetitionVeryHigh
	}
}

// Rollup aggregates scored products into niche-level metrics. keywords are
// the niche's unique keywords in first-seen order.
func Rollup(products []domain.Product, failed int, keywords []string, now time.Time) domain.NicheAggregate {
	agg := domain.NicheAggregate{
		TotalProducts:       len(products),
		FailedProducts:      failed,
		TotalUniqueKeywords: len(keywords),
		ComputedAt:          &now,
	}
	top := keywords
	if len(top) > topKeywordLimit {
		top = top[:topKeywordLimit]
	}
	agg.TopKeywords = strings.Join(top, ",")

	if len(products) == 0 {
		agg.CompetitionLevel = CompetitionLevel(0)
		return agg
	}

	var opp, comp, demand, price, rating, bsrSum float64
	var ranked int
	for _, p := range products {
		opp += float64(p.OpportunityScore)
		comp += float64(p.CompetitionScore)
		demand += float64(p.DemandScore)
		price += p.Price
		rating += p.Rating
		agg.TotalReviews += int64(p.ReviewCount)
		agg.TotalEstimatedMonthlyRevenue += p.MonthlyRevenue
		if p.BSR != nil {
			bsrSum += float64(*p.BSR)
			ranked++
		}
	}

	n := float64(len(products))
	agg.AverageOpportunityScore = round2(opp / n)
	agg.AverageCompetitionScore = round2(comp / n)
	agg.AverageDemandScore = round2(demand / n)
	agg.AveragePrice = round2(price / n)
	agg.AverageRating = round2(rating / n)
	if ranked > 0 {
		agg.AverageBSR = round2(bsrSum / float64(ranked))
	}
	agg.TotalEstimatedMonthlyRevenue = round2(agg.TotalEstimatedMonthlyRevenue)
	agg.MarketSize = round2(agg.TotalEstimatedMonthlyRevenue * 12)
	agg.CompetitionLevel = CompetitionLevel(agg.AverageCompetitionScore)
	return agg
}

// ScoreStore is the persistence the scoring service needs.
type ScoreStore interface {
	GetByASINs(ctx context.Context, asins []string) ([]domain.Product, error)
	SaveScores(ctx context.Context, asin string, scores domain.ProductScores) error
}

// KeywordLister returns the keyword rows of a set of products.
type KeywordLister interface {
	ListByASINs(ctx context.Context, asins []string) ([]domain.KeywordRecord, error)
}

// ScoringService scores persisted products and rolls them up.
type ScoringService struct {
	products ScoreStore
	keywords KeywordLister
	now      func() time.Time
}

// NewScoringService creates a scoring service.
func NewScoringService(products ScoreStore, keywords KeywordLister) *ScoringService {
	return &ScoringService{products: products, keywords: keywords, now: time.Now}
}

// ScoreNiche scores the products of asins, persists the scores and returns
// the aggregate. failed is the number of identifiers that did not produce
// a product.
func (s *ScoringService) ScoreNiche(ctx context.Context, asins []string, failed int) (domain.NicheAggregate, error) {
	products, err := s.products.GetByASINs(ctx, asins)
	if err != nil {
		return domain.NicheAggregate{}, &PersistenceError{Op: "load products", Err: err}
	}

	for i := range products {
		p := &products[i]
		scores := ScoreProduct(p)
		if err := s.products.SaveScores(ctx, p.ASIN, scores); err != nil {
			return domain.NicheAggregate{}, &PersistenceError{Op: "save scores", Identifier: p.ASIN, Err: err}
		}
		p.CompetitionScore = scores.CompetitionScore
		p.DemandScore = scores.DemandScore
		p.OpportunityScore = scores.OpportunityScore
		p.FeasibilityScore = scores.FeasibilityScore
		p.MonthlyRevenue = scores.MonthlyRevenue
	}

	records, err := s.keywords.ListByASINs(ctx, asins)
	if err != nil {
		return domain.NicheAggregate{}, &PersistenceError{Op: "load keywords", Err: err}
	}
	return Rollup(products, failed, uniqueKeywords(records), s.now()), nil
}

func uniqueKeywords(records []domain.KeywordRecord) []string {
	seen := make(map[string]struct{}, len(records))
	out := make([]string, 0, len(records))
	for _, r := range records {
		if _, ok := seen[r.Keyword]; ok {
			continue
		}
		seen[r.Keyword] = struct{}{}
		out = append(out, r.Keyword)
	}
	return out
}

func clamp(v, lo, hi int) int {
	return max(lo, min(v, hi))
}

func round2(v float64) float64 {
	return math.Round(v*100) / 100
}
