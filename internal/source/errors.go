package source

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
)

// ErrorKind classifies an adapter failure.
type ErrorKind string

const (
	KindNetwork     ErrorKind = "network"
	KindTimeout     ErrorKind = "timeout"
	KindAuth        ErrorKind = "auth"
	KindNotFound    ErrorKind = "not_found"
	KindRateLimited ErrorKind = "rate_limited"
	KindServer      ErrorKind = "server"
	KindMalformed   ErrorKind = "malformed"
	KindConfig      ErrorKind = "config"
)

// AdapterError is a failed provider call scoped to one identifier.
type AdapterError struct {
	Provider   string
	Identifier string
	Kind       ErrorKind
	StatusCode int
	Message    string
	Err        error
}

func (e *AdapterError) Error() string {
	msg := fmt.Sprintf("%s %s for %s", e.Provider, e.Kind, e.Identifier)
	if e.StatusCode != 0 {
		msg += fmt.Sprintf(" (status %d)", e.StatusCode)
	}
	if e.Message != "" {
		msg += ": " + e.Message
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *AdapterError) Unwrap() error {
	return e.Err
}

// Retryable reports whether a later attempt may succeed.
func (e *AdapterError) Retryable() bool {
	switch e.Kind {
	case KindNetwork, KindTimeout, KindRateLimited, KindServer:
		return true
	}
	return false
}

// IsRetryable reports whether err is an AdapterError worth retrying.
// Bare context deadline errors also count, as they come from per-call timeouts.
func IsRetryable(err error) bool {
	var ae *AdapterError
	if errors.As(err, &ae) {
		return ae.Retryable()
	}
	return errors.Is(err, context.DeadlineExceeded)
}

// KindOf returns the classification of err, or "" when it is not an AdapterError.
func KindOf(err error) ErrorKind {
	var ae *AdapterError
	if errors.As(err, &ae) {
		return ae.Kind
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return KindTimeout
	}
	return ""
}

// Classify turns a transport error and/or HTTP status into an AdapterError.
// It returns nil when there was no error and the status is 2xx.
func Classify(provider, identifier string, err error, status int) error {
	if err == nil && status >= 200 && status < 300 {
		return nil
	}
	ae := &AdapterError{Provider: provider, Identifier: identifier, StatusCode: status, Err: err}

	var netErr net.Error
	switch {
	case errors.Is(err, context.DeadlineExceeded), errors.As(err, &netErr) && netErr.Timeout():
		ae.Kind = KindTimeout
	case err != nil:
		ae.Kind = KindNetwork
	case status == http.StatusUnauthorized || status == http.StatusForbidden:
		ae.Kind = KindAuth
	case status == http.StatusNotFound:
		ae.Kind = KindNotFound
	case status == http.StatusTooManyRequests:
		ae.Kind = KindRateLimited
	case status >= 500:
		ae.Kind = KindServer
	default:
		ae.Kind = KindMalformed
		ae.Message = fmt.Sprintf("unexpected status %d", status)
	}
	return ae
}

// Malformed builds an AdapterError for an unusable response body.
func Malformed(provider, identifier string, err error) error {
	return &AdapterError{Provider: provider, Identifier: identifier, Kind: KindMalformed, Err: err}
}

// NotFound builds an AdapterError for an identifier the provider does not know.
func NotFound(provider, identifier string) error {
	return &AdapterError{Provider: provider, Identifier: identifier, Kind: KindNotFound, Message: "no data returned"}
}
