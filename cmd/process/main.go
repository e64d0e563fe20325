package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/commercecrafted/nichepipeline/internal/app"
	"github.com/commercecrafted/nichepipeline/internal/config"
	"github.com/commercecrafted/nichepipeline/internal/logger"
	"github.com/commercecrafted/nichepipeline/internal/repository"
	"github.com/commercecrafted/nichepipeline/internal/service"
)

func main() {
	// Initialize logger first (with defaults)
	appLogger := logger.New(&logger.Config{
		Level:       "info",
		Format:      "text",
		ServiceName: "nichepipeline-process",
	})
	logger.SetDefaultLogger(appLogger)

	// Parse command line flags
	name := flag.String("name", "", "Niche name")
	asins := flag.String("asins", "", "Comma-separated ASINs to process")
	marketplace := flag.String("marketplace", "US", "Amazon marketplace")
	sources := flag.String("sources", "", "Comma-separated providers (default: pipeline.default_sources)")
	nicheID := flag.String("niche", "", "Resume an existing niche job instead of submitting a new one")
	configPath := flag.String("config", "", "Path to config file")
	flag.Parse()

	if *nicheID == "" && strings.TrimSpace(*asins) == "" {
		fmt.Fprintln(os.Stderr, "either -asins or -niche is required")
		flag.Usage()
		os.Exit(2)
	}

	// Load configuration
	cfg, err := config.Load(*configPath)
	if err != nil {
		appLogger.WithError(err).Fatal("Failed to load config")
	}

	// Initialize database
	db, err := repository.InitDB(&cfg.Database)
	if err != nil {
		appLogger.WithError(err).Fatal("Failed to initialize database")
	}

	publisher := app.NewPublisher(cfg.Redis, appLogger)
	defer publisher.Close()

	pipeline := app.NewPipeline(cfg, db, publisher, nil, nil, appLogger)

	// Setup signal handling; an interrupted job stays in processing and
	// can be resumed with -niche
	ctx, cancel := context.WithCancel(appLogger.WithContext(context.Background()))
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigChan
		appLogger.Info("Received interrupt signal, stopping after the current identifier...")
		cancel()
	}()

	id := *nicheID
	if id == "" {
		niche, err := pipeline.Runner.Submit(ctx, service.SubmitRequest{
			Name:        *name,
			ASINs:       splitList(*asins),
			Marketplace: *marketplace,
			Sources:     splitList(*sources),
		})
		if err != nil {
			appLogger.WithError(err).Fatal("Failed to submit niche")
		}
		id = niche.ID
	}

	appLogger.WithField(logger.FieldNicheID, id).Info("Processing niche")
	runErr := pipeline.Runner.Run(ctx, id)

	niche, err := pipeline.Niches.GetByID(context.Background(), id)
	if err != nil {
		appLogger.WithError(err).Fatal("Failed to load niche")
	}

	out := map[string]any{
		"id":       niche.ID,
		"status":   niche.Status,
		"progress": niche.CurrentProgress(),
	}
	if niche.Error != "" {
		out["error"] = niche.Error
	}
	if niche.Status.IsTerminal() && niche.Error == "" {
		out["aggregate"] = niche.Aggregate
	}
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	_ = enc.Encode(out)

	var failure *service.JobFailure
	switch {
	case errors.As(runErr, &failure):
		os.Exit(1)
	case runErr != nil:
		appLogger.WithError(runErr).Warn("Niche job did not finish")
		os.Exit(3)
	}
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
