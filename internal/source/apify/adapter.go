// Package apify adapts an Apify review scraping actor to source.ReviewSource.
package apify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/commercecrafted/nichepipeline/internal/source"
	"github.com/go-resty/resty/v2"
)

// Actor run states.
const (
	statusSucceeded = "SUCCEEDED"
	statusFailed    = "FAILED"
	statusAborted   = "ABORTED"
	statusTimedOut  = "TIMED-OUT"
)

// Config holds Apify connection settings.
type Config struct {
	Token        string
	BaseURL      string
	ActorID      string
	MaxReviews   int
	PollInterval time.Duration
	MaxWait      time.Duration
	Timeout      time.Duration
}

// Adapter starts an actor run per ASIN, waits for it and summarizes the
// scraped reviews.
type Adapter struct {
	client       *resty.Client
	actorID      string
	maxReviews   int
	pollInterval time.Duration
	maxWait      time.Duration
}

// NewAdapter creates an Apify review adapter.
func NewAdapter(cfg Config) *Adapter {
	timeout := cfg.Timeout
	if timeout == 0 {
		timeout = 30 * time.Second
	}
	poll := cfg.PollInterval
	if poll <= 0 {
		poll = 5 * time.Second
	}
	maxWait := cfg.MaxWait
	if maxWait <= 0 {
		maxWait = 5 * time.Minute
	}
	maxReviews := cfg.MaxReviews
	if maxReviews <= 0 {
		maxReviews = 100
	}

	client := resty.New().
		SetBaseURL(strings.TrimSuffix(cfg.BaseURL, "/")).
		SetTimeout(timeout).
		SetAuthToken(cfg.Token)

	return &Adapter{
		client:       client,
		actorID:      cfg.ActorID,
		maxReviews:   maxReviews,
		pollInterval: poll,
		maxWait:      maxWait,
	}
}

// Name returns the provider name.
func (a *Adapter) Name() string {
	return source.ProviderApify
}

type runEnvelope struct {
	Data struct {
		ID               string `json:"id"`
		Status           string `json:"status"`
		DefaultDatasetID string `json:"defaultDatasetId"`
	} `json:"data"`
}

type review struct {
	Rating           flexFloat `json:"rating"`
	Verified         bool      `json:"verified"`
	VerifiedPurchase bool      `json:"verifiedPurchase"`
}

// FetchReviews runs the scraper for asin and summarizes what it returns.
// A run that ends in any state other than SUCCEEDED, or that outlives the
// configured wait, is an error.
func (a *Adapter) FetchReviews(ctx context.Context, asin string) (*source.ReviewSummary, error) {
	run, err := a.startRun(ctx, asin)
	if err != nil {
		return nil, err
	}

	run, err = a.waitForRun(ctx, asin, run)
	if err != nil {
		return nil, err
	}
	if run.Data.DefaultDatasetID == "" {
		return nil, source.Malformed(a.Name(), asin, fmt.Errorf("run %s has no dataset", run.Data.ID))
	}

	resp, err := a.client.R().
		SetContext(ctx).
		SetQueryParam("format", "json").
		Get("/datasets/" + run.Data.DefaultDatasetID + "/items")
	if err != nil {
		return nil, source.Classify(a.Name(), asin, err, 0)
	}
	if cerr := source.Classify(a.Name(), asin, nil, resp.StatusCode()); cerr != nil {
		return nil, cerr
	}

	var reviews []review
	if err := json.Unmarshal(resp.Body(), &reviews); err != nil {
		return nil, source.Malformed(a.Name(), asin, err)
	}
	return summarize(asin, reviews), nil
}

func (a *Adapter) startRun(ctx context.Context, asin string) (*runEnvelope, error) {
	resp, err := a.client.R().
		SetContext(ctx).
		SetHeader("Content-Type", "application/json").
		SetBody(map[string]interface{}{
			"productUrls":   []string{"https://www.amazon.com/dp/" + asin},
			"maxReviews":    a.maxReviews,
			"reviewsFilter": "all",
			"sortBy":        "helpful",
		}).
		Post("/acts/" + a.actorID + "/runs")
	if err != nil {
		return nil, source.Classify(a.Name(), asin, err, 0)
	}
	if cerr := source.Classify(a.Name(), asin, nil, resp.StatusCode()); cerr != nil {
		return nil, cerr
	}
	return decodeRun(a.Name(), asin, resp.Body())
}

func (a *Adapter) waitForRun(ctx context.Context, asin string, run *runEnvelope) (*runEnvelope, error) {
	deadline := time.Now().Add(a.maxWait)
	for {
		switch run.Data.Status {
		case statusSucceeded:
			return run, nil
		case statusFailed, statusAborted, statusTimedOut:
			return nil, &source.AdapterError{
				Provider:   a.Name(),
				Identifier: asin,
				Kind:       source.KindServer,
				Message:    fmt.Sprintf("actor run %s ended %s", run.Data.ID, run.Data.Status),
			}
		}

		if time.Now().After(deadline) {
			return nil, &source.AdapterError{
				Provider:   a.Name(),
				Identifier: asin,
				Kind:       source.KindTimeout,
				Message:    fmt.Sprintf("actor run %s still %s after %s", run.Data.ID, run.Data.Status, a.maxWait),
			}
		}

		timer := time.NewTimer(a.pollInterval)
		select {
		case <-ctx.Done():
			timer.Stop()
			return nil, source.Classify(a.Name(), asin, ctx.Err(), 0)
		case <-timer.C:
		}

		resp, err := a.client.R().
			SetContext(ctx).
			Get("/actor-runs/" + run.Data.ID)
		if err != nil {
			return nil, source.Classify(a.Name(), asin, err, 0)
		}
		if cerr := source.Classify(a.Name(), asin, nil, resp.StatusCode()); cerr != nil {
			return nil, cerr
		}
		if run, err = decodeRun(a.Name(), asin, resp.Body()); err != nil {
			return nil, err
		}
	}
}

func decodeRun(provider, asin string, body []byte) (*runEnvelope, error) {
	var run runEnvelope
	if err := json.Unmarshal(body, &run); err != nil {
		return nil, source.Malformed(provider, asin, err)
	}
	if run.Data.ID == "" {
		return nil, source.Malformed(provider, asin, fmt.Errorf("run response without id"))
	}
	return &run, nil
}

// summarize builds the rating distribution and shares. Reviews without a
// 1-5 star rating still count toward the total and verified rate.
func summarize(asin string, reviews []review) *source.ReviewSummary {
	out := &source.ReviewSummary{
		ASIN:               asin,
		TotalReviews:       len(reviews),
		RatingDistribution: map[int]int{1: 0, 2: 0, 3: 0, 4: 0, 5: 0},
	}
	if len(reviews) == 0 {
		return out
	}

	var rated, ratingSum, verified, positive, negative int
	for _, r := range reviews {
		if r.Verified || r.VerifiedPurchase {
			verified++
		}
		stars := int(math.Round(float64(r.Rating)))
		if stars < 1 || stars > 5 {
			continue
		}
		rated++
		ratingSum += stars
		out.RatingDistribution[stars]++
		switch {
		case stars >= 4:
			positive++
		case stars <= 2:
			negative++
		}
	}

	total := float64(len(reviews))
	out.VerifiedRate = round1(float64(verified) / total * 100)
	if rated > 0 {
		out.AverageRating = round1(float64(ratingSum) / float64(rated))
		out.PositiveShare = round1(float64(positive) / float64(rated) * 100)
		out.NegativeShare = round1(float64(negative) / float64(rated) * 100)
	}
	return out
}

func round1(v float64) float64 {
	return math.Round(v*10) / 10
}

// flexFloat accepts a JSON number or a string such as "4.0 out of 5 stars".
type flexFloat float64

func (f *flexFloat) UnmarshalJSON(b []byte) error {
	if bytes.Equal(b, []byte("null")) {
		*f = 0
		return nil
	}
	if len(b) > 0 && b[0] == '"' {
		var s string
		if err := json.Unmarshal(b, &s); err != nil {
			return err
		}
		fields := strings.Fields(s)
		if len(fields) == 0 {
			*f = 0
			return nil
		}
		v, err := strconv.ParseFloat(fields[0], 64)
		if err != nil {
			*f = 0
			return nil
		}
		*f = flexFloat(v)
		return nil
	}
	var v float64
	if err := json.Unmarshal(b, &v); err != nil {
		return err
	}
	*f = flexFloat(v)
	return nil
}

var _ source.ReviewSource = (*Adapter)(nil)
