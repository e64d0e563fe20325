package apify

import (
	"context"
	"net/http"
	"testing"
	"time"

	"github.com/commercecrafted/nichepipeline/internal/source"
	"github.com/jarcoal/httpmock"
)

func newTestAdapter(t *testing.T, maxWait time.Duration) *Adapter {
	t.Helper()
	a := NewAdapter(Config{
		Token:        "apify-token",
		BaseURL:      "https://apify.test/v2",
		ActorID:      "reviews~scraper",
		PollInterval: time.Millisecond,
		MaxWait:      maxWait,
	})
	httpmock.ActivateNonDefault(a.client.GetClient())
	t.Cleanup(httpmock.DeactivateAndReset)
	return a
}

func TestFetchReviews(t *testing.T) {
	a := newTestAdapter(t, time.Second)
	httpmock.RegisterResponder("POST", "https://apify.test/v2/acts/reviews~scraper/runs",
		httpmock.NewStringResponder(http.StatusCreated, `{"data": {"id": "run1", "status": "RUNNING"}}`))

	polls := 0
	httpmock.RegisterResponder("GET", "https://apify.test/v2/actor-runs/run1",
		func(*http.Request) (*http.Response, error) {
			polls++
			if polls < 2 {
				return httpmock.NewStringResponse(http.StatusOK, `{"data": {"id": "run1", "status": "RUNNING"}}`), nil
			}
			return httpmock.NewStringResponse(http.StatusOK,
				`{"data": {"id": "run1", "status": "SUCCEEDED", "defaultDatasetId": "ds1"}}`), nil
		})
	httpmock.RegisterResponder("GET", "https://apify.test/v2/datasets/ds1/items",
		httpmock.NewStringResponder(http.StatusOK, `[
			{"rating": 5, "verified": true},
			{"rating": "4.0 out of 5 stars", "verifiedPurchase": true},
			{"rating": 3},
			{"rating": 1, "verified": true},
			{"rating": null}
		]`))

	got, err := a.FetchReviews(context.Background(), "B07X8K9PQR")
	if err != nil {
		t.Fatalf("FetchReviews: %v", err)
	}
	if polls != 2 {
		t.Errorf("polled %d times, want 2", polls)
	}
	if got.TotalReviews != 5 {
		t.Errorf("TotalReviews = %d, want 5", got.TotalReviews)
	}
	if got.RatingDistribution[5] != 1 || got.RatingDistribution[4] != 1 || got.RatingDistribution[1] != 1 {
		t.Errorf("distribution = %v", got.RatingDistribution)
	}
	if got.AverageRating != 3.3 {
		t.Errorf("AverageRating = %v, want 3.3", got.AverageRating)
	}
	if got.VerifiedRate != 60 {
		t.Errorf("VerifiedRate = %v, want 60", got.VerifiedRate)
	}
	if got.PositiveShare != 50 || got.NegativeShare != 25 {
		t.Errorf("shares = %v/%v, want 50/25", got.PositiveShare, got.NegativeShare)
	}
}

func TestFetchReviewsRunFailed(t *testing.T) {
	a := newTestAdapter(t, time.Second)
	httpmock.RegisterResponder("POST", "https://apify.test/v2/acts/reviews~scraper/runs",
		httpmock.NewStringResponder(http.StatusCreated, `{"data": {"id": "run1", "status": "RUNNING"}}`))
	httpmock.RegisterResponder("GET", "https://apify.test/v2/actor-runs/run1",
		httpmock.NewStringResponder(http.StatusOK, `{"data": {"id": "run1", "status": "ABORTED"}}`))

	_, err := a.FetchReviews(context.Background(), "B1")
	if got := source.KindOf(err); got != source.KindServer {
		t.Errorf("kind = %q, want server (err %v)", got, err)
	}
}

func TestFetchReviewsWaitExceeded(t *testing.T) {
	a := newTestAdapter(t, 5*time.Millisecond)
	httpmock.RegisterResponder("POST", "https://apify.test/v2/acts/reviews~scraper/runs",
		httpmock.NewStringResponder(http.StatusCreated, `{"data": {"id": "run1", "status": "RUNNING"}}`))
	httpmock.RegisterResponder("GET", "https://apify.test/v2/actor-runs/run1",
		httpmock.NewStringResponder(http.StatusOK, `{"data": {"id": "run1", "status": "RUNNING"}}`))

	_, err := a.FetchReviews(context.Background(), "B1")
	if got := source.KindOf(err); got != source.KindTimeout {
		t.Errorf("kind = %q, want timeout (err %v)", got, err)
	}
}

func TestSummarizeEmpty(t *testing.T) {
	got := summarize("B1", nil)
	if got.TotalReviews != 0 || got.AverageRating != 0 || len(got.RatingDistribution) != 5 {
		t.Errorf("summary = %+v", got)
	}
}
