package config

import (
	"errors"
	"fmt"
)

// Validate checks pipeline numbers and the credentials of every enabled
// provider. It returns all problems joined together.
func (c *Config) Validate() error {
	var errs []error

	for name, b := range map[string]BatchConfig{
		"identifier_batch": c.Pipeline.IdentifierBatch,
		"bid_batch":        c.Pipeline.BidBatch,
	} {
		if err := b.Validate(); err != nil {
			errs = append(errs, fmt.Errorf("pipeline.%s: %w", name, err))
		}
	}
	if c.Pipeline.KeywordUpsertBatch <= 0 {
		errs = append(errs, errors.New("pipeline.keyword_upsert_batch must be positive"))
	}

	p := c.Providers
	if p.Keepa.Enabled && p.Keepa.APIKey == "" {
		errs = append(errs, errors.New("providers.keepa: api_key is required (KEEPA_API_KEY)"))
	}
	if p.SPAPI.Enabled && (p.SPAPI.ClientID == "" || p.SPAPI.ClientSecret == "" || p.SPAPI.RefreshToken == "") {
		errs = append(errs, errors.New("providers.spapi: client_id, client_secret and refresh_token are required"))
	}
	if p.Ads.Enabled && (p.Ads.ClientID == "" || p.Ads.RefreshToken == "" || p.Ads.ProfileID == "") {
		errs = append(errs, errors.New("providers.ads: client_id, refresh_token and profile_id are required"))
	}
	if p.OpenAI.Enabled && p.OpenAI.APIKey == "" {
		errs = append(errs, errors.New("providers.openai: api_key is required (OPENAI_API_KEY)"))
	}
	if p.Apify.Enabled && p.Apify.Token == "" {
		errs = append(errs, errors.New("providers.apify: token is required (APIFY_TOKEN)"))
	}

	if c.Redis.Enabled && c.Redis.Addr == "" {
		errs = append(errs, errors.New("redis: addr is required when enabled"))
	}
	if c.Storage.Enabled && c.Storage.Bucket == "" {
		errs = append(errs, errors.New("storage: bucket is required when enabled"))
	}

	return errors.Join(errs...)
}

// Validate rejects non-positive chunk sizes and negative durations.
func (b BatchConfig) Validate() error {
	if b.Size <= 0 {
		return fmt.Errorf("size must be positive, got %d", b.Size)
	}
	if b.Delay < 0 || b.CallTimeout < 0 || b.RetryBaseDelay < 0 || b.RetryMaxDelay < 0 {
		return errors.New("durations must not be negative")
	}
	if b.MaxRetries < 0 {
		return fmt.Errorf("max_retries must not be negative, got %d", b.MaxRetries)
	}
	return nil
}
