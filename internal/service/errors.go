package service

import (
	"errors"
	"fmt"
)

// ErrNoSuccessfulIdentifiers is the failure message of a job in which every
// identifier failed.
var ErrNoSuccessfulIdentifiers = errors.New("no identifiers were successfully processed")

// ErrNothingToRetry is returned by RetryFailed when the job has no failed
// identifiers.
var ErrNothingToRetry = errors.New("no failed identifiers to retry")

// ErrJobNotTerminal is returned by RetryFailed for a job still running.
var ErrJobNotTerminal = errors.New("niche job has not finished")

// ErrNotCompleted is returned by Rescore for a niche that did not complete.
var ErrNotCompleted = errors.New("niche job has not completed")

// PersistenceError wraps a datastore failure for one identifier.
type PersistenceError struct {
	Op         string
	Identifier string
	Err        error
}

func (e *PersistenceError) Error() string {
	if e.Identifier == "" {
		return fmt.Sprintf("persist %s: %v", e.Op, e.Err)
	}
	return fmt.Sprintf("persist %s for %s: %v", e.Op, e.Identifier, e.Err)
}

func (e *PersistenceError) Unwrap() error {
	return e.Err
}

// JobFailure is the terminal error of a niche job.
type JobFailure struct {
	NicheID string
	Err     error
}

func (e *JobFailure) Error() string {
	return fmt.Sprintf("niche %s failed: %v", e.NicheID, e.Err)
}

func (e *JobFailure) Unwrap() error {
	return e.Err
}
