// Package app wires configuration into the pipeline components shared by
// the API server and the CLI.
package app

import (
	"github.com/commercecrafted/nichepipeline/internal/config"
	"github.com/commercecrafted/nichepipeline/internal/logger"
	"github.com/commercecrafted/nichepipeline/internal/metrics"
	"github.com/commercecrafted/nichepipeline/internal/notify"
	"github.com/commercecrafted/nichepipeline/internal/repository"
	"github.com/commercecrafted/nichepipeline/internal/service"
	"github.com/commercecrafted/nichepipeline/internal/source"
	"github.com/commercecrafted/nichepipeline/internal/source/ads"
	"github.com/commercecrafted/nichepipeline/internal/source/apify"
	"github.com/commercecrafted/nichepipeline/internal/source/keepa"
	"github.com/commercecrafted/nichepipeline/internal/source/openai"
	"github.com/commercecrafted/nichepipeline/internal/source/spapi"
	"github.com/commercecrafted/nichepipeline/internal/storage"
	"gorm.io/gorm"
)

// BuildRegistry registers an adapter for every enabled provider.
func BuildRegistry(cfg config.ProvidersConfig, defaults []string) *source.Registry {
	registry := source.NewRegistry(defaults)

	if cfg.Keepa.Enabled {
		registry.Register(keepa.NewAdapter(keepa.Config{
			APIKey:  cfg.Keepa.APIKey,
			BaseURL: cfg.Keepa.BaseURL,
			Domain:  cfg.Keepa.Domain,
			Timeout: cfg.Keepa.Timeout,
		}))
	}
	if cfg.SPAPI.Enabled {
		registry.Register(spapi.NewAdapter(spapi.Config{
			BaseURL:       cfg.SPAPI.BaseURL,
			TokenURL:      cfg.SPAPI.TokenURL,
			ClientID:      cfg.SPAPI.ClientID,
			ClientSecret:  cfg.SPAPI.ClientSecret,
			RefreshToken:  cfg.SPAPI.RefreshToken,
			MarketplaceID: cfg.SPAPI.MarketplaceID,
			Timeout:       cfg.SPAPI.Timeout,
		}))
	}
	if cfg.Ads.Enabled {
		registry.Register(ads.NewAdapter(ads.Config{
			BaseURL:        cfg.Ads.BaseURL,
			TokenURL:       cfg.Ads.TokenURL,
			ClientID:       cfg.Ads.ClientID,
			ClientSecret:   cfg.Ads.ClientSecret,
			RefreshToken:   cfg.Ads.RefreshToken,
			ProfileID:      cfg.Ads.ProfileID,
			MaxSuggestions: cfg.Ads.MaxSuggestions,
			Timeout:        cfg.Ads.Timeout,
		}))
	}
	if cfg.OpenAI.Enabled {
		registry.Register(openai.NewAdapter(openai.Config{
			APIKey:       cfg.OpenAI.APIKey,
			BaseURL:      cfg.OpenAI.BaseURL,
			Model:        cfg.OpenAI.Model,
			KeywordIdeas: cfg.OpenAI.KeywordIdea,
			Timeout:      cfg.OpenAI.Timeout,
		}))
	}
	if cfg.Apify.Enabled {
		registry.Register(apify.NewAdapter(apify.Config{
			Token:        cfg.Apify.Token,
			BaseURL:      cfg.Apify.BaseURL,
			ActorID:      cfg.Apify.ActorID,
			MaxReviews:   cfg.Apify.MaxReviews,
			PollInterval: cfg.Apify.PollInterval,
			MaxWait:      cfg.Apify.MaxWait,
			Timeout:      cfg.Apify.Timeout,
		}))
	}
	return registry
}

// Pipeline holds the wired repositories and services.
type Pipeline struct {
	Registry *source.Registry
	Niches   *repository.NicheRepository
	Products *repository.ProductRepository
	Keywords *repository.KeywordRepository
	Runner   *service.NicheRunner
	Reports  *service.ReportService
}

// NewPipeline builds the pipeline on db. publisher, m and store may be nil.
func NewPipeline(cfg *config.Config, db *gorm.DB, publisher notify.Publisher, m *metrics.Metrics, store storage.ObjectStorage, log *logger.Logger) *Pipeline {
	p := &Pipeline{
		Registry: BuildRegistry(cfg.Providers, cfg.Pipeline.DefaultSources),
		Niches:   repository.NewNicheRepository(db),
		Products: repository.NewProductRepository(db),
		Keywords: repository.NewKeywordRepository(db),
	}
	p.Runner = service.NewNicheRunner(p.Niches, p.Products, p.Keywords, p.Registry, publisher, m, log,
		service.RunnerConfigFrom(cfg.Pipeline))
	p.Reports = service.NewReportService(p.Niches, p.Products, p.Keywords, store, cfg.Storage.Prefix)
	return p
}

// NewPublisher returns the Redis publisher when enabled, otherwise a no-op.
// A Redis connection failure is logged and falls back to the no-op.
func NewPublisher(cfg config.RedisConfig, log *logger.Logger) notify.Publisher {
	if !cfg.Enabled {
		return notify.Noop{}
	}
	pub, err := notify.NewRedisPublisher(cfg)
	if err != nil {
		log.WithError(err).Warn("Redis unavailable, progress events disabled")
		return notify.Noop{}
	}
	return pub
}
