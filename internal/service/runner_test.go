package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/commercecrafted/nichepipeline/internal/domain"
	"github.com/commercecrafted/nichepipeline/internal/notify"
	"github.com/commercecrafted/nichepipeline/internal/repository"
	"github.com/commercecrafted/nichepipeline/internal/source"
	"github.com/commercecrafted/nichepipeline/internal/testutil"
)

type fakeProducts struct {
	mu      sync.Mutex
	calls   []string
	missing map[string]bool
	cancel  context.CancelFunc // called on the first fetch when set
}

func (f *fakeProducts) Name() string { return "fake_product" }

func (f *fakeProducts) FetchProduct(_ context.Context, asin string) (*source.ProductData, error) {
	f.mu.Lock()
	f.calls = append(f.calls, asin)
	first := len(f.calls) == 1
	f.mu.Unlock()

	if first && f.cancel != nil {
		f.cancel()
	}
	if f.missing[asin] {
		return nil, source.NotFound(f.Name(), asin)
	}
	bsr := int64(800)
	return &source.ProductData{
		ASIN:         asin,
		Title:        "Product " + asin,
		Price:        30,
		Rating:       4.6,
		ReviewCount:  40,
		BSR:          &bsr,
		MonthlySales: 20,
		PriceHistory: []source.PricePoint{{At: time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC), Type: "amazon", Price: 29.99}},
		RankHistory:  []source.RankPoint{{At: time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC), Rank: 800}},
	}, nil
}

func (f *fakeProducts) fetched() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.calls...)
}

type fakeKeywords struct {
	name  string
	words map[string][]string
	panic bool
}

func (f *fakeKeywords) Name() string { return f.name }

func (f *fakeKeywords) FetchKeywords(_ context.Context, p *source.ProductData) ([]source.KeywordCandidate, error) {
	if f.panic {
		panic("keyword source exploded")
	}
	var out []source.KeywordCandidate
	for _, w := range f.words[p.ASIN] {
		out = append(out, source.KeywordCandidate{Keyword: w, Source: f.name, EstimatedClicks: 2})
	}
	return out, nil
}

type failingAnalysis struct{}

func (failingAnalysis) Name() string { return "fake_analysis" }

func (failingAnalysis) Analyze(_ context.Context, p *source.ProductData) (*source.Analysis, error) {
	return nil, &source.AdapterError{Provider: "fake_analysis", Identifier: p.ASIN, Kind: source.KindRateLimited}
}

type recordingPublisher struct {
	events []notify.ProgressEvent
}

func (p *recordingPublisher) Publish(_ context.Context, e notify.ProgressEvent) error {
	p.events = append(p.events, e)
	return nil
}

func (p *recordingPublisher) Close() error { return nil }

type runnerFixture struct {
	runner    *NicheRunner
	niches    *repository.NicheRepository
	products  *repository.ProductRepository
	keywords  *repository.KeywordRepository
	publisher *recordingPublisher
}

func newRunnerFixture(t *testing.T, adapters ...source.Adapter) *runnerFixture {
	t.Helper()
	db := testutil.NewDB(t)

	registry := source.NewRegistry([]string{"fake_product"})
	for _, a := range adapters {
		registry.Register(a)
	}

	f := &runnerFixture{
		niches:    repository.NewNicheRepository(db),
		products:  repository.NewProductRepository(db),
		keywords:  repository.NewKeywordRepository(db),
		publisher: &recordingPublisher{},
	}
	f.runner = NewNicheRunner(f.niches, f.products, f.keywords, registry, f.publisher, nil, nil, RunnerConfig{
		Identifiers:          BatchOptions{ChunkSize: 1},
		Bids:                 BatchOptions{ChunkSize: 1},
		BidGroupSize:         33,
		KeywordBatch:         100,
		ProgressWriteRetries: 1,
	})
	return f
}

func (f *runnerFixture) submit(t *testing.T, sources []string, asins ...string) *domain.Niche {
	t.Helper()
	niche, err := f.runner.Submit(context.Background(), SubmitRequest{Name: "garlic press", ASINs: asins, Sources: sources})
	if err != nil {
		t.Fatalf("Submit() error = %v", err)
	}
	return niche
}

func (f *runnerFixture) load(t *testing.T, id string) *domain.Niche {
	t.Helper()
	niche, err := f.niches.GetByID(context.Background(), id)
	if err != nil {
		t.Fatalf("GetByID(%s) error = %v", id, err)
	}
	return niche
}

func words(from, to int) []string {
	var out []string
	for i := from; i < to; i++ {
		out = append(out, fmt.Sprintf("kw %d", i))
	}
	return out
}

func TestRunPartialSuccessCompletes(t *testing.T) {
	products := &fakeProducts{missing: map[string]bool{"B000000003": true}}
	kwA := &fakeKeywords{name: "kw_a", words: map[string][]string{"B000000001": words(0, 12)}}
	kwB := &fakeKeywords{name: "kw_b", words: map[string][]string{"B000000001": words(9, 18)}}
	f := newRunnerFixture(t, products, kwA, kwB)

	niche := f.submit(t, []string{"fake_product", "kw_a", "kw_b"}, "B000000001", "B000000002", "B000000003")
	if err := f.runner.Run(context.Background(), niche.ID); err != nil {
		t.Fatalf("Run() error = %v", err)
	}

	got := f.load(t, niche.ID)
	if got.Status != domain.NicheStatusCompleted {
		t.Fatalf("status = %s, want completed (error %q)", got.Status, got.Error)
	}
	p := got.CurrentProgress()
	if p.ProcessedCount != 3 || p.Percent() != 100 {
		t.Errorf("processed = %d percent = %d, want 3 and 100", p.ProcessedCount, p.Percent())
	}
	if len(p.SucceededIdentifiers) != 2 || len(p.FailedIdentifiers) != 1 || p.FailedIdentifiers[0] != "B000000003" {
		t.Errorf("succeeded = %v failed = %v", p.SucceededIdentifiers, p.FailedIdentifiers)
	}
	if len(p.Failures) != 1 || !strings.Contains(p.Failures[0].Error, "not_found") {
		t.Errorf("failures = %+v", p.Failures)
	}
	if p.CurrentStep != domain.StepCompleted {
		t.Errorf("step = %q", p.CurrentStep)
	}
	if p.APICallsMade < 5 {
		t.Errorf("apiCallsMade = %d, want at least 5", p.APICallsMade)
	}

	agg := got.Aggregate
	if agg.TotalProducts != 2 || agg.FailedProducts != 1 {
		t.Errorf("aggregate products = %d failed = %d", agg.TotalProducts, agg.FailedProducts)
	}
	if agg.TotalUniqueKeywords != 18 {
		t.Errorf("unique keywords = %d, want 18", agg.TotalUniqueKeywords)
	}
	if agg.AverageCompetitionScore != 85 {
		t.Errorf("average competition = %v, want 85", agg.AverageCompetitionScore)
	}
	if agg.CompetitionLevel != domain.CompetitionLow {
		t.Errorf("competition level = %q", agg.CompetitionLevel)
	}

	n, err := f.keywords.CountUnique(context.Background(), []string{"B000000001"})
	if err != nil || n != 18 {
		t.Errorf("CountUnique() = %d, %v; want 18", n, err)
	}

	product, err := f.products.GetByASIN(context.Background(), "B000000001")
	if err != nil {
		t.Fatalf("GetByASIN() error = %v", err)
	}
	if product.CompetitionScore != 85 || product.DemandScore != 45 {
		t.Errorf("scores = %d/%d, want 85/45", product.CompetitionScore, product.DemandScore)
	}
}

func TestRunNoSuccessFails(t *testing.T) {
	products := &fakeProducts{missing: map[string]bool{"A1": true, "A2": true, "A3": true}}
	f := newRunnerFixture(t, products)

	niche := f.submit(t, nil, "a1", "a2", "a3")
	err := f.runner.Run(context.Background(), niche.ID)

	var failure *JobFailure
	if !errors.As(err, &failure) || !errors.Is(err, ErrNoSuccessfulIdentifiers) {
		t.Fatalf("Run() error = %v, want JobFailure wrapping ErrNoSuccessfulIdentifiers", err)
	}

	got := f.load(t, niche.ID)
	if got.Status != domain.NicheStatusFailed {
		t.Fatalf("status = %s, want failed", got.Status)
	}
	if got.Error != "no identifiers were successfully processed" {
		t.Errorf("error = %q", got.Error)
	}
	if p := got.CurrentProgress(); p.ProcessedCount != 3 || len(p.FailedIdentifiers) != 3 || p.CurrentStep != domain.StepFailed {
		t.Errorf("progress = %+v", p)
	}
}

func TestRunProgressIsMonotonic(t *testing.T) {
	products := &fakeProducts{missing: map[string]bool{"A2": true}}
	f := newRunnerFixture(t, products)

	niche := f.submit(t, nil, "A1", "A2", "A3", "A4")
	if err := f.runner.Run(context.Background(), niche.ID); err != nil {
		t.Fatalf("Run() error = %v", err)
	}

	events := f.publisher.events
	if len(events) < 5 {
		t.Fatalf("published %d events, want at least 5", len(events))
	}
	last := -1
	for i, e := range events {
		if e.Processed < last {
			t.Errorf("event %d processed = %d after %d", i, e.Processed, last)
		}
		if e.Succeeded+e.Failed != e.Processed {
			t.Errorf("event %d: succeeded %d + failed %d != processed %d", i, e.Succeeded, e.Failed, e.Processed)
		}
		last = e.Processed
	}
	final := events[len(events)-1]
	if final.Status != string(domain.NicheStatusCompleted) || final.Percent != 100 {
		t.Errorf("final event = %+v", final)
	}
	if events[1].Step != "Processing ASIN 1 of 4" || events[1].CurrentIdentifier != "A1" {
		t.Errorf("first identifier event = %+v", events[1])
	}
}

func TestRunTerminalJobIsNoop(t *testing.T) {
	products := &fakeProducts{}
	f := newRunnerFixture(t, products)

	niche := f.submit(t, nil, "A1")
	if err := f.runner.Run(context.Background(), niche.ID); err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	before := f.load(t, niche.ID)

	if err := f.runner.Run(context.Background(), niche.ID); err != nil {
		t.Fatalf("second Run() error = %v", err)
	}
	if n := len(products.fetched()); n != 1 {
		t.Errorf("fetches = %d, want 1", n)
	}
	after := f.load(t, niche.ID)
	if !after.UpdatedAt.Equal(before.UpdatedAt) || after.Status != domain.NicheStatusCompleted {
		t.Errorf("terminal job changed: %s %v -> %s %v", before.Status, before.UpdatedAt, after.Status, after.UpdatedAt)
	}
}

func TestRunResumesProcessingJob(t *testing.T) {
	products := &fakeProducts{}
	f := newRunnerFixture(t, products)
	ctx := context.Background()

	niche := f.submit(t, nil, "A1", "A2", "A3")
	progress := domain.NewProgress(3)
	progress.ProcessedCount = 1
	progress.SucceededIdentifiers = []string{"A1"}
	progress.CurrentStep = "Processing ASIN 1 of 3"
	if err := f.niches.MarkProcessing(ctx, niche.ID, time.Now(), progress); err != nil {
		t.Fatalf("MarkProcessing() error = %v", err)
	}

	if err := f.runner.Run(ctx, niche.ID); err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if got := products.fetched(); len(got) != 2 || got[0] != "A2" || got[1] != "A3" {
		t.Errorf("fetched = %v, want [A2 A3]", got)
	}
	got := f.load(t, niche.ID).CurrentProgress()
	if got.ProcessedCount != 3 || len(got.SucceededIdentifiers) != 3 {
		t.Errorf("progress = %+v", got)
	}
}

func TestRunCancelledLeavesProcessing(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	products := &fakeProducts{cancel: cancel}
	f := newRunnerFixture(t, products)

	niche := f.submit(t, nil, "A1", "A2", "A3")
	err := f.runner.Run(ctx, niche.ID)
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("Run() error = %v, want context.Canceled", err)
	}
	if got := f.load(t, niche.ID); got.Status != domain.NicheStatusProcessing {
		t.Fatalf("status = %s, want processing", got.Status)
	}

	products.cancel = nil
	if err := f.runner.Run(context.Background(), niche.ID); err != nil {
		t.Fatalf("resumed Run() error = %v", err)
	}
	if got := f.load(t, niche.ID); got.Status != domain.NicheStatusCompleted {
		t.Errorf("status after resume = %s", got.Status)
	}
}

func TestRunPanicFailsJob(t *testing.T) {
	f := newRunnerFixture(t, &fakeProducts{}, &fakeKeywords{name: "kw_a", panic: true})

	niche := f.submit(t, []string{"fake_product", "kw_a"}, "A1")
	err := f.runner.Run(context.Background(), niche.ID)

	var failure *JobFailure
	if !errors.As(err, &failure) {
		t.Fatalf("Run() error = %v, want JobFailure", err)
	}
	got := f.load(t, niche.ID)
	if got.Status != domain.NicheStatusFailed || !strings.Contains(got.Error, "keyword source exploded") {
		t.Errorf("status = %s error = %q", got.Status, got.Error)
	}
}

func TestRunOptionalFailureIsWarning(t *testing.T) {
	f := newRunnerFixture(t, &fakeProducts{}, failingAnalysis{})

	niche := f.submit(t, []string{"fake_product", "fake_analysis"}, "A1")
	if err := f.runner.Run(context.Background(), niche.ID); err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	p := f.load(t, niche.ID).CurrentProgress()
	if len(p.SucceededIdentifiers) != 1 {
		t.Errorf("succeeded = %v", p.SucceededIdentifiers)
	}
	if len(p.Warnings) != 1 || !strings.Contains(p.Warnings[0], "analysis") {
		t.Errorf("warnings = %v", p.Warnings)
	}
}

func TestRetryFailed(t *testing.T) {
	products := &fakeProducts{missing: map[string]bool{"A2": true}}
	f := newRunnerFixture(t, products)
	ctx := context.Background()

	niche := f.submit(t, nil, "A1", "A2")
	if _, err := f.runner.RetryFailed(ctx, niche.ID); !errors.Is(err, ErrJobNotTerminal) {
		t.Errorf("RetryFailed(pending) error = %v, want ErrJobNotTerminal", err)
	}
	if err := f.runner.Run(ctx, niche.ID); err != nil {
		t.Fatalf("Run() error = %v", err)
	}

	retry, err := f.runner.RetryFailed(ctx, niche.ID)
	if err != nil {
		t.Fatalf("RetryFailed() error = %v", err)
	}
	if retry.RetryOf != niche.ID || retry.Status != domain.NicheStatusPending {
		t.Errorf("retry = %+v", retry)
	}
	if len(retry.ASINs) != 1 || retry.ASINs[0] != "A2" {
		t.Errorf("retry ASINs = %v, want [A2]", retry.ASINs)
	}

	clean := f.submit(t, nil, "A1")
	if err := f.runner.Run(ctx, clean.ID); err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if _, err := f.runner.RetryFailed(ctx, clean.ID); !errors.Is(err, ErrNothingToRetry) {
		t.Errorf("RetryFailed(clean) error = %v, want ErrNothingToRetry", err)
	}
}

func TestRescore(t *testing.T) {
	f := newRunnerFixture(t, &fakeProducts{missing: map[string]bool{"A2": true}})
	ctx := context.Background()

	niche := f.submit(t, nil, "A1", "A2")
	if _, err := f.runner.Rescore(ctx, niche.ID); !errors.Is(err, ErrNotCompleted) {
		t.Errorf("Rescore(pending) error = %v, want ErrNotCompleted", err)
	}
	if _, err := f.runner.Rescore(ctx, "missing"); !errors.Is(err, repository.ErrNotFound) {
		t.Errorf("Rescore(missing) error = %v, want ErrNotFound", err)
	}
	if err := f.runner.Run(ctx, niche.ID); err != nil {
		t.Fatalf("Run() error = %v", err)
	}

	later := time.Date(2030, 1, 1, 0, 0, 0, 0, time.UTC)
	f.runner.scoring.now = func() time.Time { return later }
	rescored, err := f.runner.Rescore(ctx, niche.ID)
	if err != nil {
		t.Fatalf("Rescore() error = %v", err)
	}
	agg := rescored.Aggregate
	if agg.ComputedAt == nil || !agg.ComputedAt.Equal(later) {
		t.Errorf("ComputedAt = %v, want %v", agg.ComputedAt, later)
	}
	if agg.TotalProducts != 1 || agg.FailedProducts != 1 || agg.AverageCompetitionScore != 85 {
		t.Errorf("aggregate = %+v", agg)
	}
	if rescored.Status != domain.NicheStatusCompleted {
		t.Errorf("status = %s, want completed", rescored.Status)
	}
}

func TestFindStale(t *testing.T) {
	f := newRunnerFixture(t, &fakeProducts{})
	ctx := context.Background()

	niche := f.submit(t, nil, "A1")
	if err := f.niches.MarkProcessing(ctx, niche.ID, time.Now(), domain.NewProgress(1)); err != nil {
		t.Fatalf("MarkProcessing() error = %v", err)
	}

	stale, err := f.runner.FindStale(ctx, 30*time.Minute)
	if err != nil || len(stale) != 0 {
		t.Fatalf("FindStale() = %v, %v; want none", stale, err)
	}

	f.runner.now = func() time.Time { return time.Now().Add(time.Hour) }
	stale, err = f.runner.FindStale(ctx, 30*time.Minute)
	if err != nil {
		t.Fatalf("FindStale() error = %v", err)
	}
	if len(stale) != 1 || stale[0].ID != niche.ID {
		t.Errorf("FindStale() = %v, want [%s]", stale, niche.ID)
	}
}

func TestSubmitValidation(t *testing.T) {
	f := newRunnerFixture(t, &fakeProducts{})
	ctx := context.Background()

	tests := []struct {
		name    string
		req     SubmitRequest
		wantErr bool
	}{
		{name: "no asins", req: SubmitRequest{ASINs: []string{" ", ""}}, wantErr: true},
		{name: "unknown source", req: SubmitRequest{ASINs: []string{"A1"}, Sources: []string{"nope"}}, wantErr: true},
		{name: "valid", req: SubmitRequest{ASINs: []string{"a1", " A1 ", "b2"}, Marketplace: "de"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			niche, err := f.runner.Submit(ctx, tt.req)
			if tt.wantErr {
				if err == nil {
					t.Fatal("Submit() error = nil, want error")
				}
				return
			}
			if err != nil {
				t.Fatalf("Submit() error = %v", err)
			}
			if len(niche.ASINs) != 2 || niche.ASINs[0] != "A1" || niche.ASINs[1] != "B2" {
				t.Errorf("ASINs = %v", niche.ASINs)
			}
			if niche.Marketplace != "DE" || niche.Name != "A1" || niche.Status != domain.NicheStatusPending {
				t.Errorf("niche = %+v", niche)
			}
		})
	}
}
