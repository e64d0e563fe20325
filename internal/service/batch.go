package service

import (
	"context"
	"fmt"
	"time"

	"github.com/commercecrafted/nichepipeline/internal/config"
	"github.com/commercecrafted/nichepipeline/internal/source"
	"golang.org/x/sync/errgroup"
)

// BatchOptions shapes one rate-limited fan-out.
type BatchOptions struct {
	ChunkSize      int
	Delay          time.Duration // pause between chunks
	CallTimeout    time.Duration // per attempt; 0 means no extra bound
	MaxRetries     int
	RetryBaseDelay time.Duration
	RetryMaxDelay  time.Duration
}

// BatchOptionsFrom converts a configured batch shape.
func BatchOptionsFrom(cfg config.BatchConfig) BatchOptions {
	return BatchOptions{
		ChunkSize:      cfg.Size,
		Delay:          cfg.Delay,
		CallTimeout:    cfg.CallTimeout,
		MaxRetries:     cfg.MaxRetries,
		RetryBaseDelay: cfg.RetryBaseDelay,
		RetryMaxDelay:  cfg.RetryMaxDelay,
	}
}

// BatchResult is the outcome of one input. Exactly one of Value or Err is
// meaningful.
type BatchResult[T, R any] struct {
	Input    T
	Value    R
	Err      error
	Attempts int
}

// FetchInBatches calls fn for every input, ChunkSize calls at a time. Calls
// in a chunk run concurrently; the next chunk starts Delay after the
// previous one finished. A failed call never stops its chunk or later
// chunks. onChunk, when set, receives each chunk's results in input order
// from the calling goroutine.
//
// The returned slice holds every result in input order. The error is
// non-nil only when ctx ends before all chunks ran; results then cover the
// chunks that completed.
func FetchInBatches[T, R any](
	ctx context.Context,
	inputs []T,
	fn func(context.Context, T) (R, error),
	opts BatchOptions,
	onChunk func([]BatchResult[T, R]),
) ([]BatchResult[T, R], error) {
	size := opts.ChunkSize
	if size <= 0 {
		size = 1
	}

	results := make([]BatchResult[T, R], 0, len(inputs))
	for start := 0; start < len(inputs); start += size {
		if start > 0 && opts.Delay > 0 {
			if err := sleep(ctx, opts.Delay); err != nil {
				return results, err
			}
		}
		if err := ctx.Err(); err != nil {
			return results, err
		}

		end := start + size
		if end > len(inputs) {
			end = len(inputs)
		}
		chunk := make([]BatchResult[T, R], end-start)

		var g errgroup.Group
		for i, in := range inputs[start:end] {
			g.Go(func() error {
				chunk[i] = callWithRetry(ctx, in, fn, opts)
				return nil
			})
		}
		_ = g.Wait()

		results = append(results, chunk...)
		if onChunk != nil {
			onChunk(chunk)
		}
	}
	return results, nil
}

func callWithRetry[T, R any](ctx context.Context, in T, fn func(context.Context, T) (R, error), opts BatchOptions) BatchResult[T, R] {
	res := BatchResult[T, R]{Input: in}
	for attempt := 0; ; attempt++ {
		res.Attempts++
		v, err := callWithTimeout(ctx, in, fn, opts.CallTimeout)
		if err == nil {
			res.Value = v
			res.Err = nil
			return res
		}
		res.Err = err

		if attempt >= opts.MaxRetries || !source.IsRetryable(err) || ctx.Err() != nil {
			return res
		}
		if sleep(ctx, backoff(attempt, opts.RetryBaseDelay, opts.RetryMaxDelay)) != nil {
			return res
		}
	}
}

// callWithTimeout bounds one attempt even when fn ignores its context.
func callWithTimeout[T, R any](ctx context.Context, in T, fn func(context.Context, T) (R, error), timeout time.Duration) (R, error) {
	if timeout <= 0 {
		return fn(ctx, in)
	}
	cctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	type outcome struct {
		v   R
		err error
	}
	done := make(chan outcome, 1)
	go func() {
		v, err := fn(cctx, in)
		done <- outcome{v, err}
	}()

	select {
	case o := <-done:
		return o.v, o.err
	case <-cctx.Done():
		var zero R
		if ctx.Err() != nil {
			return zero, ctx.Err()
		}
		return zero, &source.AdapterError{
			Identifier: fmt.Sprint(in),
			Kind:       source.KindTimeout,
			Message:    fmt.Sprintf("call exceeded %s", timeout),
			Err:        context.DeadlineExceeded,
		}
	}
}

// backoff returns base * 2^attempt, capped at limit.
func backoff(attempt int, base, limit time.Duration) time.Duration {
	if base <= 0 {
		return 0
	}
	d := base
	for i := 0; i < attempt; i++ {
		d *= 2
		if limit > 0 && d >= limit {
			return limit
		}
	}
	if limit > 0 && d > limit {
		return limit
	}
	return d
}

// sleep waits for d or until ctx is done.
func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
