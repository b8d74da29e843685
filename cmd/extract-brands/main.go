package main

import (
	"context"
	"encoding/json"
	"flag"
	"log"
	"net/url"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/tidewatch/chronocrawl/internal/browser"
	"github.com/tidewatch/chronocrawl/internal/config"
	"github.com/tidewatch/chronocrawl/internal/extract"
	"github.com/tidewatch/chronocrawl/pkg/logger"
)

func main() {
	var (
		directoryURL = flag.String("url", "https://www.chrono24.com/search/browse.htm", "Brand directory URL")
		outPath      = flag.String("out", "data/brands.json", "Brand output file")
		headless     = flag.Bool("headless", true, "Run browser in headless mode")
	)
	flag.Parse()

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	logger := logger.New(cfg.Logging.Level, cfg.Logging.Format)
	logger.Info("extracting brand directory", "url", *directoryURL)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	go func() {
		<-sigChan
		cancel()
	}()

	b, err := browser.New(&browser.Options{
		Headless:       *headless,
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

	page, err := session.Fetch(ctx, *directoryURL)
	if err != nil {
		logger.Error("failed to load brand directory", "error", err)
		os.Exit(1)
	}

	extractor := extract.NewBrandDirectoryExtractor(baseOf(*directoryURL))
	brands, err := extractor.ExtractBrands(page)
	if err != nil {
		logger.Error("failed to extract brands", "error", err)
		os.Exit(1)
	}

	if err := writeBrands(*outPath, brands); err != nil {
		logger.Error("failed to write brands file", "error", err)
		os.Exit(1)
	}

	logger.Info("brand directory written", "count", len(brands), "file", *outPath)
}

func baseOf(rawURL string) string {
	parsed, err := url.Parse(rawURL)
	if err != nil {
		return rawURL
	}
	return parsed.Scheme + "://" + parsed.Host
}

func writeBrands(path string, brands any) error {
	data, err := json.MarshalIndent(brands, "", "  ")
	if err != nil {
		return err
	}

	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return err
		}
	}

	tmpFile := path + ".tmp"
	if err := os.WriteFile(tmpFile, data, 0o644); err != nil {
		return err
	}

	return os.Rename(tmpFile, path)
}
