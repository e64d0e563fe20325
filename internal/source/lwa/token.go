// Package lwa implements the Login with Amazon refresh-token grant shared by
// the Selling Partner and Advertising APIs.
package lwa

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/commercecrafted/nichepipeline/internal/source"
	"github.com/go-resty/resty/v2"
)

// expirySkew renews tokens slightly before Amazon expires them.
const expirySkew = time.Minute

// Credentials identify an LWA application and the seller authorization.
type Credentials struct {
	TokenURL     string
	ClientID     string
	ClientSecret string
	RefreshToken string
}

// TokenSource caches an access token until shortly before it expires.
type TokenSource struct {
	client *resty.Client
	creds  Credentials
	now    func() time.Time

	mu     sync.Mutex
	token  string
	expiry time.Time
}

// NewTokenSource creates a token source that posts to creds.TokenURL
// through client.
func NewTokenSource(client *resty.Client, creds Credentials) *TokenSource {
	return &TokenSource{client: client, creds: creds, now: time.Now}
}

type tokenResponse struct {
	AccessToken string `json:"access_token"`
	ExpiresIn   int    `json:"expires_in"`
}

// Token returns a valid access token, refreshing it when needed.
func (s *TokenSource) Token(ctx context.Context) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.token != "" && s.now().Before(s.expiry) {
		return s.token, nil
	}

	var out tokenResponse
	resp, err := s.client.R().
		SetContext(ctx).
		SetFormData(map[string]string{
			"grant_type":    "refresh_token",
			"refresh_token": s.creds.RefreshToken,
			"client_id":     s.creds.ClientID,
			"client_secret": s.creds.ClientSecret,
		}).
		Post(s.creds.TokenURL)
	if err != nil {
		return "", fmt.Errorf("lwa token request: %w", err)
	}
	if resp.IsError() {
		return "", &StatusError{StatusCode: resp.StatusCode(), Body: resp.String()}
	}
	if err := json.Unmarshal(resp.Body(), &out); err != nil {
		return "", fmt.Errorf("decode lwa token: %w", err)
	}
	if out.AccessToken == "" {
		return "", fmt.Errorf("lwa token response without access_token")
	}

	s.token = out.AccessToken
	s.expiry = s.now().Add(time.Duration(out.ExpiresIn)*time.Second - expirySkew)
	return s.token, nil
}

// StatusError is a non-2xx answer from the token endpoint.
type StatusError struct {
	StatusCode int
	Body       string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("lwa token endpoint returned %d: %s", e.StatusCode, e.Body)
}

// AdapterError classifies a token failure for provider calls on identifier.
// A rejected grant is an auth failure; anything else is a transport failure.
func AdapterError(provider, identifier string, err error) error {
	var se *StatusError
	if errors.As(err, &se) {
		kind := source.KindAuth
		if se.StatusCode >= 500 {
			kind = source.KindServer
		}
		return &source.AdapterError{Provider: provider, Identifier: identifier, Kind: kind, StatusCode: se.StatusCode, Err: err}
	}
	return source.Classify(provider, identifier, err, 0)
}
