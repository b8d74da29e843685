package main

import (
	"context"
	"errors"
	"flag"
	"log"
	"net/url"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/google/uuid"

	"github.com/tidewatch/chronocrawl/internal/api"
	"github.com/tidewatch/chronocrawl/internal/browser"
	"github.com/tidewatch/chronocrawl/internal/checkpoint"
	"github.com/tidewatch/chronocrawl/internal/config"
	"github.com/tidewatch/chronocrawl/internal/crawler"
	"github.com/tidewatch/chronocrawl/internal/extract"
	"github.com/tidewatch/chronocrawl/internal/models"
	"github.com/tidewatch/chronocrawl/internal/output"
	"github.com/tidewatch/chronocrawl/internal/ratelimit"
	"github.com/tidewatch/chronocrawl/pkg/logger"
)

func main() {
	var (
		brandsFile     = flag.String("brands", "data/brands.json", "Brand input file (JSON array of {name, url})")
		checkpointPath = flag.String("checkpoint", "", "Checkpoint file path (overrides CHECKPOINT_PATH)")
		outPath        = flag.String("out", "", "Output file path (overrides OUTPUT_PATH)")
		resume         = flag.Bool("resume", false, "Honor existing checkpoint and output state")
		headless       = flag.Bool("headless", true, "Run browser in headless mode")
		statusAddr     = flag.String("status-addr", "", "Address of the status HTTP endpoint (overrides STATUS_ADDR)")
	)
	flag.Parse()

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	cfg.Browser.Headless = *headless
	if *checkpointPath != "" {
		cfg.Checkpoint.Path = *checkpointPath
	}
	if *outPath != "" {
		cfg.Output.Path = *outPath
	}
	if *statusAddr != "" {
		cfg.Status.Addr = *statusAddr
	}

	if err := cfg.Validate(); err != nil {
		log.Fatalf("Invalid config: %v", err)
	}

	logger := logger.New(cfg.Logging.Level, cfg.Logging.Format)
	runID := uuid.New().String()
	logger.Info("starting catalog crawler", "run_id", runID, "resume", *resume)

	brands, err := crawler.LoadBrands(*brandsFile)
	if err != nil {
		logger.Error("failed to load brands", "error", err)
		os.Exit(1)
	}
	logger.Info("loaded brands", "count", len(brands))

	var backend checkpoint.Backend
	switch cfg.Checkpoint.Backend {
	case "redis":
		backend = checkpoint.NewRedisBackend(cfg.Checkpoint.RedisAddr, cfg.Checkpoint.RedisKey)
	default:
		backend = checkpoint.NewFileBackend(cfg.Checkpoint.Path)
	}

	store := checkpoint.NewStore(backend)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	go func() {
		<-sigChan
		logger.Info("shutdown signal received")
		cancel()
	}()

	// A corrupt checkpoint is fatal only when resuming; a fresh run starts
	// empty and overwrites it on the first flush.
	if err := store.Open(ctx, *resume); err != nil {
		logger.Error("failed to open checkpoint", "error", err)
		os.Exit(1)
	}

	var writer output.Writer
	switch cfg.Output.Backend {
	case "postgres":
		writer, err = output.NewPostgresWriter(ctx, cfg.Output.PostgresDSN)
	default:
		if !*resume {
			// Fresh run discards prior output.
			if err := os.Remove(cfg.Output.Path); err != nil && !os.IsNotExist(err) {
				logger.Error("failed to reset output file", "error", err)
				os.Exit(1)
			}
		}
		writer, err = output.NewJSONWriter(cfg.Output.Path)
	}
	if err != nil {
		logger.Error("failed to open output", "error", err)
		os.Exit(1)
	}
	defer writer.Close(context.Background())

	b, err := browser.New(&browser.Options{
		Headless:       cfg.Browser.Headless,
		Timeout:        cfg.Browser.Timeout,
		UserAgent:      cfg.Browser.UserAgent,
		ViewportWidth:  cfg.Browser.ViewportWidth,
		ViewportHeight: cfg.Browser.ViewportHeight,
		AcceptLanguage: cfg.Browser.AcceptLanguage,
		TimezoneID:     cfg.Browser.TimezoneID,
		Locale:         cfg.Browser.Locale,
	})
	if err != nil {
		logger.Error("failed to initialize browser", "error", err)
		os.Exit(1)
	}
	defer b.Close()

	session, err := b.NewSession()
	if err != nil {
		logger.Error("failed to open browser session", "error", err)
		os.Exit(1)
	}
	defer session.Close()

	if cfg.Status.Addr != "" {
		statusSrv := api.New(cfg.Status.Addr, store, runID)
		statusSrv.Start()
		defer func() {
			shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer shutdownCancel()
			statusSrv.Shutdown(shutdownCtx)
		}()
	}

	limiter := ratelimit.New(ratelimit.Options{
		DelayMin:       cfg.Crawl.DelayMin,
		DelayMax:       cfg.Crawl.DelayMax,
		BackoffFactor:  cfg.Crawl.BackoffFactor,
		BackoffCeiling: cfg.Crawl.BackoffCeiling,
	})

	c := crawler.New(
		session,
		extract.NewCatalogListingExtractor(baseURLOf(brands)),
		extract.NewCatalogItemExtractor(),
		limiter,
		store,
		writer,
		crawler.Options{
			MaxAttempts:           cfg.Crawl.MaxAttempts,
			BlockedAbortThreshold: cfg.Crawl.BlockedAbortThreshold,
			MaxPagesPerBrand:      cfg.Crawl.MaxPagesPerBrand,
			SmokeTest:             cfg.Crawl.SmokeTest,
			RunID:                 runID,
		},
	)

	runErr := c.Run(ctx, brands)

	// Best-effort final flush, also on interrupt and abort paths.
	flushCtx, flushCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer flushCancel()
	if err := store.Flush(flushCtx); err != nil {
		logger.Error("final checkpoint flush failed", "error", err)
	}

	switch {
	case runErr == nil:
		logger.Info("run completed")
	case errors.Is(runErr, context.Canceled):
		logger.Warn("run interrupted, checkpoint flushed")
		os.Exit(1)
	default:
		logger.Error("run failed", "error", runErr)
		os.Exit(1)
	}
}

// baseURLOf derives the site base for resolving relative listing links from
// the first brand entry.
func baseURLOf(brands []models.Brand) string {
	if len(brands) == 0 {
		return ""
	}

	parsed, err := url.Parse(brands[0].URL)
	if err != nil {
		return brands[0].URL
	}

	return parsed.Scheme + "://" + parsed.Host
}
