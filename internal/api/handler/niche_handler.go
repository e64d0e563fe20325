package handler

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/commercecrafted/nichepipeline/internal/domain"
	"github.com/commercecrafted/nichepipeline/internal/logger"
	"github.com/commercecrafted/nichepipeline/internal/repository"
	"github.com/commercecrafted/nichepipeline/internal/service"
	"github.com/gin-gonic/gin"
	lru "github.com/hashicorp/golang-lru/v2"
)

// JobRunner is the part of service.NicheRunner the handler drives.
type JobRunner interface {
	Submit(ctx context.Context, req service.SubmitRequest) (*domain.Niche, error)
	Run(ctx context.Context, id string) error
	RetryFailed(ctx context.Context, id string) (*domain.Niche, error)
	Rescore(ctx context.Context, id string) (*domain.Niche, error)
	FindStale(ctx context.Context, olderThan time.Duration) ([]domain.Niche, error)
}

// NicheStore reads niche jobs.
type NicheStore interface {
	service.NicheReader
	List(ctx context.Context, status domain.NicheStatus, limit, offset int) ([]domain.Niche, error)
}

// ReportBuilder renders and archives niche reports.
type ReportBuilder interface {
	BuildReport(ctx context.Context, nicheID string) ([]byte, error)
	ArchiveReport(ctx context.Context, nicheID string) (string, error)
	ArchiveEnabled() bool
}

// NicheHandler serves niche job endpoints.
type NicheHandler struct {
	runner     JobRunner
	niches     NicheStore
	products   service.ScoreStore
	keywords   service.KeywordLister
	reports    ReportBuilder
	staleAfter time.Duration

	// finished jobs never change, so their status views are cached
	statuses *lru.Cache[string, NicheStatusResponse]
	jobs     sync.WaitGroup
}

// NicheHandlerConfig holds the dependencies of a NicheHandler.
type NicheHandlerConfig struct {
	Runner      JobRunner
	Niches      NicheStore
	Products    service.ScoreStore
	Keywords    service.KeywordLister
	Reports     ReportBuilder
	StaleAfter  time.Duration
	StatusCache int
}

// NewNicheHandler creates a new niche handler.
func NewNicheHandler(cfg NicheHandlerConfig) (*NicheHandler, error) {
	size := cfg.StatusCache
	if size <= 0 {
		size = 256
	}
	cache, err := lru.New[string, NicheStatusResponse](size)
	if err != nil {
		return nil, fmt.Errorf("status cache: %w", err)
	}
	staleAfter := cfg.StaleAfter
	if staleAfter <= 0 {
		staleAfter = 30 * time.Minute
	}
	return &NicheHandler{
		runner:     cfg.Runner,
		niches:     cfg.Niches,
		products:   cfg.Products,
		keywords:   cfg.Keywords,
		reports:    cfg.Reports,
		staleAfter: staleAfter,
		statuses:   cache,
	}, nil
}

// SubmitNicheRequest is the body of POST /niches.
type SubmitNicheRequest struct {
	ID          string   `json:"id"`
	Name        string   `json:"name"`
	ASINs       []string `json:"asins" binding:"required"`
	Marketplace string   `json:"marketplace"`
	Sources     []string `json:"sources"`
}

// SubmitNicheResponse acknowledges an accepted job.
type SubmitNicheResponse struct {
	ID     string             `json:"id"`
	Status domain.NicheStatus `json:"status"`
}

// NicheStatusResponse is the polling view of a niche job.
type NicheStatusResponse struct {
	ID          string                 `json:"id"`
	Name        string                 `json:"name"`
	Marketplace string                 `json:"marketplace"`
	Status      domain.NicheStatus     `json:"status"`
	Percent     int                    `json:"percent"`
	CurrentStep string                 `json:"current_step"`
	Progress    domain.Progress        `json:"progress"`
	Error       string                 `json:"error,omitempty"`
	Aggregate   *domain.NicheAggregate `json:"aggregate,omitempty"`
	RetryOf     string                 `json:"retry_of,omitempty"`
	CreatedAt   time.Time              `json:"created_at"`
	StartedAt   *time.Time             `json:"started_at,omitempty"`
	CompletedAt *time.Time             `json:"completed_at,omitempty"`
}

func statusView(n *domain.Niche) NicheStatusResponse {
	p := n.CurrentProgress()
	view := NicheStatusResponse{
		ID:          n.ID,
		Name:        n.Name,
		Marketplace: n.Marketplace,
		Status:      n.Status,
		Percent:     p.Percent(),
		CurrentStep: p.CurrentStep,
		Progress:    p,
		Error:       n.Error,
		RetryOf:     n.RetryOf,
		CreatedAt:   n.CreatedAt,
		StartedAt:   n.StartedAt,
		CompletedAt: n.CompletedAt,
	}
	if n.Status == domain.NicheStatusCompleted {
		agg := n.Aggregate
		view.Aggregate = &agg
	}
	return view
}

// launch runs the job detached from the request so a client disconnect does
// not abort it.
func (h *NicheHandler) launch(ctx context.Context, id string) {
	ctx = context.WithoutCancel(ctx)
	h.jobs.Add(1)
	go func() {
		defer h.jobs.Done()
		if err := h.runner.Run(ctx, id); err != nil {
			logger.FromContext(ctx).WithError(err).WithField(logger.FieldNicheID, id).Warn("Niche job ended with error")
		}
	}()
}

// Wait blocks until every launched job has returned.
func (h *NicheHandler) Wait() {
	h.jobs.Wait()
}

// Submit handles POST /api/v1/niches.
func (h *NicheHandler) Submit(c *gin.Context) {
	ctx := c.Request.Context()

	var req SubmitNicheRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request: " + err.Error()})
		return
	}

	niche, err := h.runner.Submit(ctx, service.SubmitRequest{
		ID:          req.ID,
		Name:        req.Name,
		ASINs:       req.ASINs,
		Marketplace: req.Marketplace,
		Sources:     req.Sources,
	})
	if err != nil {
		var pe *service.PersistenceError
		if errors.As(err, &pe) {
			logger.CtxError(ctx, "Failed to submit niche: error=%v", err)
			c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to create niche job"})
			return
		}
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	h.launch(ctx, niche.ID)
	c.JSON(http.StatusAccepted, SubmitNicheResponse{ID: niche.ID, Status: niche.Status})
}

// Get handles GET /api/v1/niches/:id.
func (h *NicheHandler) Get(c *gin.Context) {
	id := c.Param("id")
	if view, ok := h.statuses.Get(id); ok {
		c.JSON(http.StatusOK, view)
		return
	}

	niche, ok := h.load(c, id)
	if !ok {
		return
	}
	view := statusView(niche)
	if niche.Status.IsTerminal() {
		h.statuses.Add(id, view)
	}
	c.JSON(http.StatusOK, view)
}

// Products handles GET /api/v1/niches/:id/products.
func (h *NicheHandler) Products(c *gin.Context) {
	niche, ok := h.load(c, c.Param("id"))
	if !ok {
		return
	}
	products, err := h.products.GetByASINs(c.Request.Context(), niche.ASINs)
	if err != nil {
		logger.CtxError(c.Request.Context(), "Failed to list products: niche_id=%s, error=%v", niche.ID, err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to list products"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"total": len(products), "results": products})
}

// Keywords handles GET /api/v1/niches/:id/keywords.
func (h *NicheHandler) Keywords(c *gin.Context) {
	niche, ok := h.load(c, c.Param("id"))
	if !ok {
		return
	}
	keywords, err := h.keywords.ListByASINs(c.Request.Context(), niche.ASINs)
	if err != nil {
		logger.CtxError(c.Request.Context(), "Failed to list keywords: niche_id=%s, error=%v", niche.ID, err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to list keywords"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"total": len(keywords), "results": keywords})
}

// RetryFailed handles POST /api/v1/niches/:id/retry-failed.
func (h *NicheHandler) RetryFailed(c *gin.Context) {
	ctx := c.Request.Context()
	retry, err := h.runner.RetryFailed(ctx, c.Param("id"))
	switch {
	case errors.Is(err, repository.ErrNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": "Niche not found"})
		return
	case errors.Is(err, service.ErrJobNotTerminal):
		c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
		return
	case errors.Is(err, service.ErrNothingToRetry):
		c.JSON(http.StatusOK, gin.H{"message": err.Error()})
		return
	case err != nil:
		logger.CtxError(ctx, "Failed to create retry job: error=%v", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to create retry job"})
		return
	}

	h.launch(ctx, retry.ID)
	c.JSON(http.StatusAccepted, SubmitNicheResponse{ID: retry.ID, Status: retry.Status})
}

// Rescore handles POST /api/v1/niches/:id/rescore.
func (h *NicheHandler) Rescore(c *gin.Context) {
	ctx := c.Request.Context()
	id := c.Param("id")
	niche, err := h.runner.Rescore(ctx, id)
	switch {
	case errors.Is(err, repository.ErrNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": "Niche not found"})
		return
	case errors.Is(err, service.ErrNotCompleted):
		c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
		return
	case err != nil:
		logger.CtxError(ctx, "Failed to rescore niche: niche_id=%s, error=%v", id, err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to rescore niche"})
		return
	}

	view := statusView(niche)
	h.statuses.Add(id, view)
	c.JSON(http.StatusOK, view)
}

// Report handles GET /api/v1/niches/:id/report.xlsx. With ?archive=true and
// object storage configured it uploads the report and redirects to it.
func (h *NicheHandler) Report(c *gin.Context) {
	ctx := c.Request.Context()
	id := c.Param("id")

	if c.Query("archive") == "true" && h.reports.ArchiveEnabled() {
		url, err := h.reports.ArchiveReport(ctx, id)
		if err != nil {
			h.reportError(c, id, err)
			return
		}
		c.Redirect(http.StatusFound, url)
		return
	}

	data, err := h.reports.BuildReport(ctx, id)
	if err != nil {
		h.reportError(c, id, err)
		return
	}
	c.Header("Content-Disposition", fmt.Sprintf(`attachment; filename="niche-%s.xlsx"`, id))
	c.Data(http.StatusOK, service.XLSXContentType, data)
}

func (h *NicheHandler) reportError(c *gin.Context, id string, err error) {
	if errors.Is(err, repository.ErrNotFound) {
		c.JSON(http.StatusNotFound, gin.H{"error": "Niche not found"})
		return
	}
	logger.CtxError(c.Request.Context(), "Failed to build report: niche_id=%s, error=%v", id, err)
	c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to build report"})
}

// Stale handles GET /api/v1/niches/stale?older_than=30m.
// List handles GET /api/v1/niches?status=completed&limit=20&offset=0.
func (h *NicheHandler) List(c *gin.Context) {
	status := domain.NicheStatus(c.Query("status"))
	switch status {
	case "", domain.NicheStatusPending, domain.NicheStatusProcessing, domain.NicheStatusCompleted, domain.NicheStatusFailed:
	default:
		c.JSON(http.StatusBadRequest, gin.H{"error": "unknown status"})
		return
	}
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "20"))
	offset, _ := strconv.Atoi(c.DefaultQuery("offset", "0"))
	if limit <= 0 || limit > 100 {
		limit = 20
	}
	if offset < 0 {
		offset = 0
	}

	niches, err := h.niches.List(c.Request.Context(), status, limit, offset)
	if err != nil {
		logger.CtxError(c.Request.Context(), "Failed to list niches: error=%v", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to list niches"})
		return
	}
	views := make([]NicheStatusResponse, 0, len(niches))
	for i := range niches {
		views = append(views, statusView(&niches[i]))
	}
	c.JSON(http.StatusOK, gin.H{"limit": limit, "offset": offset, "total": len(views), "results": views})
}

func (h *NicheHandler) Stale(c *gin.Context) {
	olderThan := h.staleAfter
	if raw := c.Query("older_than"); raw != "" {
		d, err := time.ParseDuration(raw)
		if err != nil || d <= 0 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "older_than must be a positive duration"})
			return
		}
		olderThan = d
	}

	niches, err := h.runner.FindStale(c.Request.Context(), olderThan)
	if err != nil {
		logger.CtxError(c.Request.Context(), "Failed to list stale niches: error=%v", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to list stale niches"})
		return
	}
	views := make([]NicheStatusResponse, 0, len(niches))
	for i := range niches {
		views = append(views, statusView(&niches[i]))
	}
	c.JSON(http.StatusOK, gin.H{"older_than": olderThan.String(), "total": len(views), "results": views})
}

func (h *NicheHandler) load(c *gin.Context, id string) (*domain.Niche, bool) {
	niche, err := h.niches.GetByID(c.Request.Context(), id)
	if errors.Is(err, repository.ErrNotFound) {
		c.JSON(http.StatusNotFound, gin.H{"error": "Niche not found"})
		return nil, false
	}
	if err != nil {
		logger.CtxError(c.Request.Context(), "Failed to load niche: niche_id=%s, error=%v", id, err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to load niche"})
		return nil, false
	}
	return niche, true
}
