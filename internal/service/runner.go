package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/commercecrafted/nichepipeline/internal/config"
	"github.com/commercecrafted/nichepipeline/internal/domain"
	"github.com/commercecrafted/nichepipeline/internal/logger"
	"github.com/commercecrafted/nichepipeline/internal/metrics"
	"github.com/commercecrafted/nichepipeline/internal/notify"
	"github.com/commercecrafted/nichepipeline/internal/source"
	"github.com/google/uuid"
	"gorm.io/datatypes"
)

// ErrNoIdentifiers is returned by Submit for a request without ASINs.
var ErrNoIdentifiers = errors.New("at least one ASIN is required")

// NicheStore is the niche persistence the runner needs.
type NicheStore interface {
	Create(ctx context.Context, niche *domain.Niche) error
	GetByID(ctx context.Context, id string) (*domain.Niche, error)
	MarkProcessing(ctx context.Context, id string, startedAt time.Time, progress domain.Progress) error
	SaveProgress(ctx context.Context, id string, progress domain.Progress) error
	Complete(ctx context.Context, id string, progress domain.Progress, agg domain.NicheAggregate) error
	Fail(ctx context.Context, id string, message string, progress domain.Progress) error
	SaveAggregate(ctx context.Context, id string, agg domain.NicheAggregate) error
	ListStale(ctx context.Context, cutoff time.Time) ([]domain.Niche, error)
}

// ProductStore is the product persistence the runner needs.
type ProductStore interface {
	ScoreStore
	Upsert(ctx context.Context, product *domain.Product) error
	SaveEnrichment(ctx context.Context, asin string, analysis, reviews datatypes.JSON) error
	InsertPriceHistory(ctx context.Context, points []domain.PriceHistory) error
	InsertRankHistory(ctx context.Context, points []domain.RankHistory) error
}

// KeywordStore is the keyword persistence the runner needs.
type KeywordStore interface {
	KeywordLister
	UpsertBatch(ctx context.Context, records []domain.KeywordRecord, batchSize int) (int, error)
}

// RunnerConfig shapes a NicheRunner.
type RunnerConfig struct {
	Identifiers          BatchOptions
	Bids                 BatchOptions
	BidGroupSize         int
	KeywordBatch         int
	ProgressWriteRetries int
	ProgressRetryDelay   time.Duration
}

// RunnerConfigFrom converts the pipeline configuration.
func RunnerConfigFrom(cfg config.PipelineConfig) RunnerConfig {
	return RunnerConfig{
		Identifiers:          BatchOptionsFrom(cfg.IdentifierBatch),
		Bids:                 BatchOptionsFrom(cfg.BidBatch),
		BidGroupSize:         cfg.BidBatch.Size,
		KeywordBatch:         cfg.KeywordUpsertBatch,
		ProgressWriteRetries: cfg.ProgressWriteRetries,
		ProgressRetryDelay:   200 * time.Millisecond,
	}
}

// NicheRunner executes niche jobs: it fetches every identifier through the
// selected adapters, records per-identifier progress and finishes the job
// with a score rollup.
type NicheRunner struct {
	niches    NicheStore
	products  ProductStore
	keywords  KeywordStore
	registry  *source.Registry
	scoring   *ScoringService
	publisher notify.Publisher
	metrics   *metrics.Metrics
	logger    *logger.Logger
	cfg       RunnerConfig
	now       func() time.Time
}

// NewNicheRunner creates a runner. publisher and m may be nil.
func NewNicheRunner(
	niches NicheStore,
	products ProductStore,
	keywords KeywordStore,
	registry *source.Registry,
	publisher notify.Publisher,
	m *metrics.Metrics,
	log *logger.Logger,
	cfg RunnerConfig,
) *NicheRunner {
	if publisher == nil {
		publisher = notify.Noop{}
	}
	if log == nil {
		log = logger.GetDefault()
	}
	return &NicheRunner{
		niches:    niches,
		products:  products,
		keywords:  keywords,
		registry:  registry,
		scoring:   NewScoringService(products, keywords),
		publisher: publisher,
		metrics:   m,
		logger:    log,
		cfg:       cfg,
		now:       time.Now,
	}
}

// withLogger attaches the runner logger unless ctx already carries one.
func (r *NicheRunner) withLogger(ctx context.Context) context.Context {
	if logger.FromContext(ctx) == logger.GetDefault() {
		return r.logger.WithContext(ctx)
	}
	return ctx
}

func (r *NicheRunner) log(ctx context.Context) *logger.Logger {
	return logger.FromContext(ctx)
}

// SubmitRequest describes a new niche job.
type SubmitRequest struct {
	ID          string
	Name        string
	ASINs       []string
	Marketplace string
	Sources     []string
}

// NormalizeASINs trims and upper-cases identifiers, dropping blanks and
// repeats while keeping the first-seen order.
func NormalizeASINs(asins []string) []string {
	seen := make(map[string]struct{}, len(asins))
	out := make([]string, 0, len(asins))
	for _, a := range asins {
		a = strings.ToUpper(strings.TrimSpace(a))
		if a == "" {
			continue
		}
		if _, ok := seen[a]; ok {
			continue
		}
		seen[a] = struct{}{}
		out = append(out, a)
	}
	return out
}

// Submit validates req and stores it as a pending niche job. It does not
// start processing.
func (r *NicheRunner) Submit(ctx context.Context, req SubmitRequest) (*domain.Niche, error) {
	asins := NormalizeASINs(req.ASINs)
	if len(asins) == 0 {
		return nil, ErrNoIdentifiers
	}
	if err := r.registry.Validate(req.Sources); err != nil {
		return nil, err
	}

	id := strings.TrimSpace(req.ID)
	if id == "" {
		id = uuid.NewString()
	}
	marketplace := strings.ToUpper(strings.TrimSpace(req.Marketplace))
	if marketplace == "" {
		marketplace = "US"
	}
	name := strings.TrimSpace(req.Name)
	if name == "" {
		name = asins[0]
	}

	niche := &domain.Niche{
		ID:          id,
		Name:        name,
		Marketplace: marketplace,
		ASINs:       asins,
		Sources:     req.Sources,
		Status:      domain.NicheStatusPending,
		Progress:    datatypes.NewJSONType(domain.NewProgress(len(asins))),
	}
	if err := r.niches.Create(ctx, niche); err != nil {
		return nil, &PersistenceError{Op: "create niche", Err: err}
	}

	logger.With(logger.Fields{logger.FieldNicheID: id}).WithCount(len(asins)).
		Info(r.withLogger(ctx), "Niche job submitted")
	return niche, nil
}

// Run processes the niche job id to a terminal state. A terminal job is
// left untouched. A job found in processing resumes with the identifiers
// that have no recorded outcome yet.
//
// Run returns nil when the job completed or was already terminal, a
// *JobFailure when it failed, and the context error when ctx ended first;
// in that case the job stays in processing and can be resumed.
func (r *NicheRunner) Run(ctx context.Context, id string) (err error) {
	ctx = logger.SetNicheID(r.withLogger(ctx), id)
	start := r.now()

	var progress domain.Progress
	defer func() {
		if rec := recover(); rec != nil {
			msg := fmt.Sprintf("panic: %v", rec)
			r.log(ctx).WithField("panic", rec).Error("Niche job panicked")
			err = r.fail(context.WithoutCancel(ctx), id, errors.New(msg), progress)
		}
	}()

	niche, err := r.niches.GetByID(ctx, id)
	if err != nil {
		return fmt.Errorf("load niche %s: %w", id, err)
	}
	if niche.Status.IsTerminal() {
		r.log(ctx).WithField(logger.FieldStatus, niche.Status).Info("Niche job already finished")
		return nil
	}

	set, err := r.registry.Select(niche.Sources)
	if err != nil {
		progress = niche.CurrentProgress()
		return r.fail(ctx, id, err, progress)
	}

	switch niche.Status {
	case domain.NicheStatusPending:
		progress = domain.NewProgress(len(niche.ASINs))
		progress.CurrentStep = domain.StepFetchProduct
		progress.LastUpdate = r.now()
		if err := r.niches.MarkProcessing(ctx, id, r.now(), progress); err != nil {
			return fmt.Errorf("mark niche %s processing: %w", id, err)
		}
	default:
		progress = niche.CurrentProgress()
		progress.TotalCount = len(niche.ASINs)
		r.log(ctx).WithField("processed", progress.ProcessedCount).Info("Resuming niche job")
	}

	r.metrics.JobStarted()
	finalStatus := domain.NicheStatusFailed
	defer func() { r.metrics.JobFinished(string(finalStatus)) }()

	r.publish(ctx, id, domain.NicheStatusProcessing, progress, "")

	var remaining []string
	for _, asin := range niche.ASINs {
		if !progress.Attempted(asin) {
			remaining = append(remaining, asin)
		}
	}

	// Fetches run on chunk goroutines, where a panic cannot reach the
	// recover above; it fails the identifier instead.
	fetch := func(ctx context.Context, asin string) (data *source.ProductData, err error) {
		defer func() {
			if rec := recover(); rec != nil {
				err = fmt.Errorf("panic: %v", rec)
			}
		}()
		started := time.Now()
		data, err = set.Product.FetchProduct(ctx, asin)
		r.observe(set.Product.Name(), started, err)
		if err == nil && data == nil {
			err = source.NotFound(set.Product.Name(), asin)
		}
		return data, err
	}
	fold := func(chunk []BatchResult[string, *source.ProductData]) {
		for _, res := range chunk {
			r.recordOutcome(ctx, niche, set, res, &progress)
		}
	}

	if _, err := FetchInBatches(ctx, remaining, fetch, r.cfg.Identifiers, fold); err != nil {
		finalStatus = domain.NicheStatusProcessing
		r.log(ctx).WithError(err).Warn("Niche job interrupted, left in processing")
		return err
	}

	if len(progress.SucceededIdentifiers) == 0 {
		return r.fail(ctx, id, ErrNoSuccessfulIdentifiers, progress)
	}

	progress.CurrentStep = domain.StepScoring
	progress.CurrentIdentifier = ""
	r.saveProgress(ctx, id, progress)

	agg, err := r.scoring.ScoreNiche(ctx, progress.SucceededIdentifiers, len(progress.FailedIdentifiers))
	if err != nil {
		return r.fail(ctx, id, err, progress)
	}

	progress.CurrentStep = domain.StepCompleted
	progress.LastUpdate = r.now()
	if err := r.niches.Complete(ctx, id, progress, agg); err != nil {
		return r.fail(ctx, id, &PersistenceError{Op: "complete niche", Err: err}, progress)
	}
	finalStatus = domain.NicheStatusCompleted
	r.publish(ctx, id, domain.NicheStatusCompleted, progress, "")

	logger.With(logger.Fields{
		"succeeded": len(progress.SucceededIdentifiers),
		"failed":    len(progress.FailedIdentifiers),
		"keywords":  agg.TotalUniqueKeywords,
	}).WithDuration(start).WithStatus(string(domain.NicheStatusCompleted)).Info(ctx, "Niche job completed")
	return nil
}

// recordOutcome finishes one identifier and persists the progress snapshot.
// It runs on the Run goroutine only.
func (r *NicheRunner) recordOutcome(ctx context.Context, niche *domain.Niche, set *source.Set, res BatchResult[string, *source.ProductData], progress *domain.Progress) {
	asin := res.Input
	ctx = logger.SetASIN(ctx, asin)

	index := progress.ProcessedCount + 1
	progress.CurrentIdentifier = asin
	progress.CurrentStep = fmt.Sprintf("Processing ASIN %d of %d", index, progress.TotalCount)
	progress.APICallsMade += res.Attempts

	err := res.Err
	if err == nil {
		var calls int
		var warnings []string
		calls, warnings, err = r.processIdentifier(ctx, niche, set, res.Value, progress)
		progress.APICallsMade += calls
		progress.Warnings = append(progress.Warnings, warnings...)
	}

	if err != nil {
		progress.FailedIdentifiers = append(progress.FailedIdentifiers, asin)
		progress.Failures = append(progress.Failures, domain.IdentifierFailure{ASIN: asin, Error: err.Error()})
		r.metrics.IncIdentifier("failed")
		r.log(ctx).WithError(err).WithField("kind", source.KindOf(err)).Warn("Identifier failed")
	} else {
		progress.SucceededIdentifiers = append(progress.SucceededIdentifiers, asin)
		r.metrics.IncIdentifier("succeeded")
	}

	progress.ProcessedCount++
	progress.LastUpdate = r.now()
	r.saveProgress(ctx, niche.ID, *progress)
	r.publish(ctx, niche.ID, domain.NicheStatusProcessing, *progress, "")
}

// processIdentifier persists a fetched product and runs the optional
// adapters. Only a product persistence failure is returned as an error;
// optional adapter failures come back as warnings.
func (r *NicheRunner) processIdentifier(ctx context.Context, niche *domain.Niche, set *source.Set, data *source.ProductData, progress *domain.Progress) (int, []string, error) {
	asin := data.ASIN
	if asin == "" {
		asin = progress.CurrentIdentifier
		data.ASIN = asin
	}
	var calls int
	var warnings []string
	warn := func(what string, err error) {
		msg := fmt.Sprintf("%s: %s: %v", asin, what, err)
		warnings = append(warnings, msg)
		r.log(ctx).WithError(err).Warn("Optional step failed: " + what)
	}

	if set.Catalog != nil {
		calls++
		started := time.Now()
		catalog, err := set.Catalog.FetchCatalog(ctx, asin)
		r.observe(set.Catalog.Name(), started, err)
		if err != nil {
			warn("catalog", err)
		} else {
			applyCatalog(data, catalog)
		}
	}

	product := productFromSource(data, niche.Marketplace, r.now())
	if err := r.products.Upsert(ctx, product); err != nil {
		return calls, warnings, &PersistenceError{Op: "upsert product", Identifier: asin, Err: err}
	}

	if err := r.products.InsertPriceHistory(ctx, priceHistory(data)); err != nil {
		warn("price history", err)
	}
	if err := r.products.InsertRankHistory(ctx, rankHistory(data)); err != nil {
		warn("rank history", err)
	}

	n, w := r.collectKeywords(ctx, niche.ID, set, data)
	calls += n
	for _, msg := range w {
		warnings = append(warnings, asin+": "+msg)
	}

	var analysisJSON, reviewsJSON datatypes.JSON
	if set.Analysis != nil {
		calls++
		started := time.Now()
		analysis, err := set.Analysis.Analyze(ctx, data)
		r.observe(set.Analysis.Name(), started, err)
		if err != nil {
			warn("analysis", err)
		} else if raw, err := json.Marshal(analysis); err == nil {
			analysisJSON = raw
		}
	}
	if set.Reviews != nil {
		calls++
		started := time.Now()
		summary, err := set.Reviews.FetchReviews(ctx, asin)
		r.observe(set.Reviews.Name(), started, err)
		if err != nil {
			warn("reviews", err)
		} else if raw, err := json.Marshal(summary); err == nil {
			reviewsJSON = raw
		}
	}
	if err := r.products.SaveEnrichment(ctx, asin, analysisJSON, reviewsJSON); err != nil {
		warn("save enrichment", err)
	}

	return calls, warnings, nil
}

// collectKeywords fetches, merges, bid-enriches and stores keywords for one
// product. It returns the provider calls made and warning messages.
func (r *NicheRunner) collectKeywords(ctx context.Context, nicheID string, set *source.Set, data *source.ProductData) (int, []string) {
	if len(set.Keywords) == 0 {
		return 0, nil
	}
	var calls int
	var warnings []string

	lists := make([][]source.KeywordCandidate, 0, len(set.Keywords))
	for _, ks := range set.Keywords {
		calls++
		started := time.Now()
		candidates, err := ks.FetchKeywords(ctx, data)
		r.observe(ks.Name(), started, err)
		if err != nil {
			warnings = append(warnings, fmt.Sprintf("keywords from %s: %v", ks.Name(), err))
			continue
		}
		lists = append(lists, candidates)
	}

	merged := MergeKeywords(lists...)
	if len(merged) == 0 {
		return calls, warnings
	}

	if set.Bids != nil {
		enrichment := EnrichBids(ctx, set.Bids, data.ASIN, merged, r.cfg.BidGroupSize, r.cfg.Bids)
		merged = enrichment.Keywords
		calls += enrichment.Calls
		for _, err := range enrichment.Errors {
			warnings = append(warnings, fmt.Sprintf("bids: %v", err))
		}
	}

	written, err := r.keywords.UpsertBatch(ctx, keywordRecords(nicheID, data.ASIN, merged), r.cfg.KeywordBatch)
	r.metrics.AddKeywords(written)
	if err != nil {
		warnings = append(warnings, fmt.Sprintf("save keywords: %v", err))
	}
	logger.With(logger.Fields{"step": domain.StepFetchKeywords}).WithCount(written).Debug(ctx, "Keywords stored")
	return calls, warnings
}

// saveProgress writes a snapshot, retrying a failed write. A snapshot that
// still cannot be written is logged and the job goes on.
func (r *NicheRunner) saveProgress(ctx context.Context, id string, progress domain.Progress) {
	var err error
	for attempt := 0; attempt <= r.cfg.ProgressWriteRetries; attempt++ {
		if attempt > 0 {
			if sleep(ctx, r.cfg.ProgressRetryDelay) != nil {
				break
			}
		}
		if err = r.niches.SaveProgress(ctx, id, progress); err == nil {
			r.metrics.IncProgressWrite("ok")
			return
		}
		r.metrics.IncProgressWrite("error")
	}
	r.log(ctx).WithError(err).Error("Failed to persist progress")
}

// fail moves the job to failed with cause as its error message.
func (r *NicheRunner) fail(ctx context.Context, id string, cause error, progress domain.Progress) error {
	progress.CurrentStep = domain.StepFailed
	progress.LastUpdate = r.now()
	if err := r.niches.Fail(ctx, id, cause.Error(), progress); err != nil {
		r.log(ctx).WithError(err).Error("Failed to mark niche failed")
	}
	r.publish(ctx, id, domain.NicheStatusFailed, progress, cause.Error())
	r.log(ctx).WithError(cause).WithField(logger.FieldStatus, domain.NicheStatusFailed).Error("Niche job failed")
	return &JobFailure{NicheID: id, Err: cause}
}

func (r *NicheRunner) publish(ctx context.Context, id string, status domain.NicheStatus, p domain.Progress, errMsg string) {
	event := notify.ProgressEvent{
		NicheID:           id,
		Status:            string(status),
		Step:              p.CurrentStep,
		Processed:         p.ProcessedCount,
		Total:             p.TotalCount,
		Percent:           p.Percent(),
		Succeeded:         len(p.SucceededIdentifiers),
		Failed:            len(p.FailedIdentifiers),
		CurrentIdentifier: p.CurrentIdentifier,
		Error:             errMsg,
		At:                r.now(),
	}
	if err := r.publisher.Publish(ctx, event); err != nil {
		r.log(ctx).WithError(err).Debug("Progress event not published")
	}
}

func (r *NicheRunner) observe(provider string, started time.Time, err error) {
	outcome := "ok"
	if err != nil {
		outcome = string(source.KindOf(err))
		if outcome == "" {
			outcome = "error"
		}
	}
	r.metrics.ObserveProviderCall(provider, outcome, time.Since(started))
}

// RetryFailed creates a pending niche job holding the failed identifiers of
// the finished job id.
func (r *NicheRunner) RetryFailed(ctx context.Context, id string) (*domain.Niche, error) {
	niche, err := r.niches.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if !niche.Status.IsTerminal() {
		return nil, ErrJobNotTerminal
	}
	failed := niche.CurrentProgress().FailedIdentifiers
	if len(failed) == 0 {
		return nil, ErrNothingToRetry
	}

	retry := &domain.Niche{
		ID:          uuid.NewString(),
		Name:        niche.Name,
		Marketplace: niche.Marketplace,
		ASINs:       append(domain.StringList{}, failed...),
		Sources:     niche.Sources,
		Status:      domain.NicheStatusPending,
		Progress:    datatypes.NewJSONType(domain.NewProgress(len(failed))),
		RetryOf:     niche.ID,
	}
	if err := r.niches.Create(ctx, retry); err != nil {
		return nil, &PersistenceError{Op: "create retry niche", Err: err}
	}
	return retry, nil
}

// Rescore recomputes product scores and the aggregate of a completed niche
// from what is persisted, without calling any provider.
func (r *NicheRunner) Rescore(ctx context.Context, id string) (*domain.Niche, error) {
	ctx = logger.SetNicheID(r.withLogger(ctx), id)
	start := time.Now()

	niche, err := r.niches.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if niche.Status != domain.NicheStatusCompleted {
		return nil, ErrNotCompleted
	}
	progress := niche.CurrentProgress()
	agg, err := r.scoring.ScoreNiche(ctx, progress.SucceededIdentifiers, len(progress.FailedIdentifiers))
	if err != nil {
		return nil, err
	}
	if err := r.niches.SaveAggregate(ctx, id, agg); err != nil {
		return nil, &PersistenceError{Op: "save aggregate", Err: err}
	}
	logger.With(logger.Fields{
		"opportunity": agg.AverageOpportunityScore,
		"competition": agg.CompetitionLevel,
	}).WithCount(agg.TotalProducts).WithDuration(start).Info(ctx, "Niche rescored")
	return r.niches.GetByID(ctx, id)
}

// FindStale lists processing jobs whose progress has not moved for olderThan.
func (r *NicheRunner) FindStale(ctx context.Context, olderThan time.Duration) ([]domain.Niche, error) {
	return r.niches.ListStale(ctx, r.now().Add(-olderThan))
}

func applyCatalog(data *source.ProductData, c *source.CatalogData) {
	if c == nil {
		return
	}
	if data.Title == "" {
		data.Title = c.Title
	}
	if data.Brand == "" {
		data.Brand = c.Brand
	}
	if data.Category == "" {
		data.Category = c.Category
	}
	if data.ImageURL == "" {
		data.ImageURL = c.ImageURL
	}
	if data.Price == 0 {
		data.Price = c.Price
	}
	if data.BSR == nil {
		data.BSR = c.BSR
	}
}

func productFromSource(data *source.ProductData, marketplace string, now time.Time) *domain.Product {
	p := &domain.Product{
		ASIN:         data.ASIN,
		Title:        data.Title,
		Brand:        data.Brand,
		Category:     data.Category,
		ImageURL:     data.ImageURL,
		Marketplace:  marketplace,
		Price:        domain.SanitizePrice(data.Price),
		Rating:       domain.SanitizeRating(data.Rating),
		ReviewCount:  max(data.ReviewCount, 0),
		BSR:          data.BSR,
		MonthlySales: max(data.MonthlySales, 0),
		FBAFees:      data.FBAFees,
		LastSyncedAt: now,
	}
	if len(data.Raw) > 0 {
		p.RawPayload = datatypes.JSON(data.Raw)
	}
	return p
}

func priceHistory(data *source.ProductData) []domain.PriceHistory {
	out := make([]domain.PriceHistory, 0, len(data.PriceHistory))
	for _, pt := range data.PriceHistory {
		out = append(out, domain.PriceHistory{ASIN: data.ASIN, RecordedAt: pt.At, PriceType: pt.Type, Price: pt.Price})
	}
	return out
}

func rankHistory(data *source.ProductData) []domain.RankHistory {
	out := make([]domain.RankHistory, 0, len(data.RankHistory))
	for _, pt := range data.RankHistory {
		out = append(out, domain.RankHistory{ASIN: data.ASIN, RecordedAt: pt.At, Rank: pt.Rank})
	}
	return out
}
