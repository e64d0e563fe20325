package service

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/commercecrafted/nichepipeline/internal/source"
)

func TestFetchInBatchesPartialFailure(t *testing.T) {
	inputs := []int{1, 2, 3, 4, 5}
	fn := func(_ context.Context, n int) (int, error) {
		if n == 2 {
			return 0, errors.New("boom")
		}
		return n * 10, nil
	}

	var chunks [][]int
	got, err := FetchInBatches(context.Background(), inputs, fn, BatchOptions{ChunkSize: 2},
		func(rs []BatchResult[int, int]) {
			var ins []int
			for _, r := range rs {
				ins = append(ins, r.Input)
			}
			chunks = append(chunks, ins)
		})
	if err != nil {
		t.Fatalf("FetchInBatches: %v", err)
	}
	if len(got) != 5 {
		t.Fatalf("got %d results, want 5", len(got))
	}
	for i, r := range got {
		if r.Input != inputs[i] {
			t.Errorf("result %d input = %d, want input order", i, r.Input)
		}
		if r.Input == 2 {
			if r.Err == nil {
				t.Error("input 2 should carry its error")
			}
			continue
		}
		if r.Err != nil || r.Value != r.Input*10 {
			t.Errorf("result %d = %+v", i, r)
		}
	}
	if len(chunks) != 3 || len(chunks[0]) != 2 || len(chunks[2]) != 1 {
		t.Errorf("chunks = %v, want [[1 2] [3 4] [5]]", chunks)
	}
}

func TestFetchInBatchesConcurrentWithinChunk(t *testing.T) {
	var inFlight, peak int32
	fn := func(_ context.Context, n int) (int, error) {
		cur := atomic.AddInt32(&inFlight, 1)
		for {
			p := atomic.LoadInt32(&peak)
			if cur <= p || atomic.CompareAndSwapInt32(&peak, p, cur) {
				break
			}
		}
		time.Sleep(20 * time.Millisecond)
		atomic.AddInt32(&inFlight, -1)
		return n, nil
	}
	if _, err := FetchInBatches(context.Background(), []int{1, 2, 3, 4, 5, 6}, fn, BatchOptions{ChunkSize: 3}, nil); err != nil {
		t.Fatalf("FetchInBatches: %v", err)
	}
	if p := atomic.LoadInt32(&peak); p < 2 || p > 3 {
		t.Errorf("peak concurrency = %d, want 2..3", p)
	}
}

func TestFetchInBatchesDelayBetweenChunks(t *testing.T) {
	var mu sync.Mutex
	var starts []time.Time
	fn := func(_ context.Context, n int) (int, error) {
		mu.Lock()
		starts = append(starts, time.Now())
		mu.Unlock()
		return n, nil
	}
	if _, err := FetchInBatches(context.Background(), []int{1, 2, 3}, fn, BatchOptions{ChunkSize: 1, Delay: 30 * time.Millisecond}, nil); err != nil {
		t.Fatalf("FetchInBatches: %v", err)
	}
	for i := 1; i < len(starts); i++ {
		if gap := starts[i].Sub(starts[i-1]); gap < 25*time.Millisecond {
			t.Errorf("gap %d = %s, want >= delay", i, gap)
		}
	}
}

func TestFetchInBatchesRetriesRetryable(t *testing.T) {
	tests := []struct {
		name         string
		kind         source.ErrorKind
		wantAttempts int
		wantErr      bool
	}{
		{"rate limited retried until success", source.KindRateLimited, 3, false},
		{"auth not retried", source.KindAuth, 1, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var calls int32
			fn := func(_ context.Context, s string) (string, error) {
				if atomic.AddInt32(&calls, 1) < 3 {
					return "", &source.AdapterError{Provider: "p", Identifier: s, Kind: tt.kind}
				}
				return "ok", nil
			}
			opts := BatchOptions{ChunkSize: 1, MaxRetries: 3, RetryBaseDelay: time.Millisecond, RetryMaxDelay: 2 * time.Millisecond}
			got, err := FetchInBatches(context.Background(), []string{"B1"}, fn, opts, nil)
			if err != nil {
				t.Fatalf("FetchInBatches: %v", err)
			}
			if got[0].Attempts != tt.wantAttempts {
				t.Errorf("Attempts = %d, want %d", got[0].Attempts, tt.wantAttempts)
			}
			if (got[0].Err != nil) != tt.wantErr {
				t.Errorf("Err = %v, wantErr %v", got[0].Err, tt.wantErr)
			}
		})
	}
}

func TestFetchInBatchesCallTimeout(t *testing.T) {
	fn := func(ctx context.Context, n int) (int, error) {
		time.Sleep(200 * time.Millisecond) // ignores ctx
		return n, nil
	}
	start := time.Now()
	got, err := FetchInBatches(context.Background(), []int{1}, fn, BatchOptions{CallTimeout: 20 * time.Millisecond}, nil)
	if err != nil {
		t.Fatalf("FetchInBatches: %v", err)
	}
	if source.KindOf(got[0].Err) != source.KindTimeout {
		t.Errorf("Err = %v, want timeout", got[0].Err)
	}
	if elapsed := time.Since(start); elapsed > 150*time.Millisecond {
		t.Errorf("call was not bounded: %s", elapsed)
	}
}

func TestFetchInBatchesContextCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	fn := func(_ context.Context, n int) (int, error) {
		cancel()
		return n, nil
	}
	got, err := FetchInBatches(ctx, []int{1, 2, 3}, fn, BatchOptions{ChunkSize: 1, Delay: time.Second}, nil)
	if !errors.Is(err, context.Canceled) {
		t.Errorf("err = %v, want context.Canceled", err)
	}
	if len(got) != 1 {
		t.Errorf("got %d results, want the first chunk only", len(got))
	}
}

func TestBackoff(t *testing.T) {
	tests := []struct {
		attempt int
		want    time.Duration
	}{
		{0, 100 * time.Millisecond},
		{1, 200 * time.Millisecond},
		{2, 400 * time.Millisecond},
		{5, time.Second},
	}
	for _, tt := range tests {
		if got := backoff(tt.attempt, 100*time.Millisecond, time.Second); got != tt.want {
			t.Errorf("backoff(%d) = %s, want %s", tt.attempt, got, tt.want)
		}
	}
}
