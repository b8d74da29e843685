package crawler

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/tidewatch/chronocrawl/internal/checkpoint"
	"github.com/tidewatch/chronocrawl/internal/extract"
	"github.com/tidewatch/chronocrawl/internal/models"
	"github.com/tidewatch/chronocrawl/internal/output"
	"github.com/tidewatch/chronocrawl/internal/ratelimit"
)

// BrandProcessor crawls one brand end to end: the listing pagination first,
// then every discovered item not yet resolved in the checkpoint.
type BrandProcessor struct {
	Fetcher Fetcher
	Listing extract.ListingExtractor
	Items   extract.ItemExtractor
	Limiter ratelimit.Limiter
	Store   *checkpoint.Store
	Writer  output.Writer
	Opts    Options
	Guard   *abortGuard
	Logger  *slog.Logger
}

func (b *BrandProcessor) Run(ctx context.Context, brand models.Brand) error {
	pages := &PageProcessor{
		Fetcher:   b.Fetcher,
		Extractor: b.Listing,
		Limiter:   b.Limiter,
		Store:     b.Store,
		Opts:      b.Opts,
		Guard:     b.Guard,
		Logger:    b.Logger,
	}

	if err := pages.Run(ctx, brand); err != nil {
		return fmt.Errorf("pagination: %w", err)
	}

	urls := b.Store.DiscoveredURLs(brand.Name)
	b.Logger.Info("processing items", "brand", brand.Name, "discovered", len(urls))

	for _, itemURL := range urls {
		if err := ctx.Err(); err != nil {
			return err
		}

		if b.Store.IsItemResolved(brand.Name, itemURL) {
			continue
		}

		if err := b.processItem(ctx, brand, itemURL); err != nil {
			return err
		}
	}

	b.Store.MarkBrandDone(brand.Name)
	if err := b.Store.Flush(ctx); err != nil {
		return err
	}

	b.Logger.Info("brand done", "brand", brand.Name)
	return nil
}

// processItem extracts and flushes a single item. Deterministic extraction
// failures and exhausted retries are checkpointed as failed so resume never
// retries them silently; only cancellation, abort, and storage errors
// propagate.
func (b *BrandProcessor) processItem(ctx context.Context, brand models.Brand, itemURL string) error {
	var lastErr error

	for attempt := 1; attempt <= b.Opts.MaxAttempts; attempt++ {
		if err := b.Limiter.Wait(ctx); err != nil {
			return err
		}

		record, err := b.attempt(ctx, brand, itemURL)
		if err == nil {
			b.Limiter.RecordOutcome(true)
			b.Guard.record(nil)
			return b.commit(ctx, brand, record)
		}

		if extract.IsPermanent(err) {
			b.Limiter.RecordOutcome(true)
			b.Guard.record(nil)
			b.Logger.Warn("item skipped",
				"brand", brand.Name,
				"url", itemURL,
				"kind", extract.KindOf(err).String(),
				"error", err)
			return b.fail(ctx, brand, itemURL)
		}

		b.Limiter.RecordOutcome(false)
		if extract.IsBlocked(err) {
			// Blocked responses escalate twice as fast.
			b.Limiter.RecordOutcome(false)
		}

		if abortErr := b.Guard.record(err); abortErr != nil {
			return abortErr
		}

		lastErr = err
		b.Logger.Warn("item fetch failed",
			"brand", brand.Name,
			"url", itemURL,
			"attempt", attempt,
			"error", err)
	}

	b.Logger.Error("item failed after retries",
		"brand", brand.Name,
		"url", itemURL,
		"attempts", b.Opts.MaxAttempts,
		"error", lastErr)

	return b.fail(ctx, brand, itemURL)
}

func (b *BrandProcessor) attempt(ctx context.Context, brand models.Brand, itemURL string) (*models.WatchRecord, error) {
	page, err := b.Fetcher.Fetch(ctx, itemURL)
	if err != nil {
		return nil, err
	}
	return b.Items.ExtractItem(page, brand.Name)
}

// commit makes the record durable, then marks the item done. The order
// matters: the checkpoint must never claim an item whose record was lost.
func (b *BrandProcessor) commit(ctx context.Context, brand models.Brand, record *models.WatchRecord) error {
	record.RunID = b.Opts.RunID

	if err := b.Writer.Write(ctx, record); err != nil {
		return fmt.Errorf("write record %s: %w", record.URL, err)
	}

	b.Store.MarkItemDone(brand.Name, record.URL)
	if err := b.Store.Flush(ctx); err != nil {
		return err
	}

	b.Logger.Info("item extracted", "brand", brand.Name, "url", record.URL, "name", record.Name)
	return nil
}

func (b *BrandProcessor) fail(ctx context.Context, brand models.Brand, itemURL string) error {
	b.Store.MarkItemFailed(brand.Name, itemURL)
	return b.Store.Flush(ctx)
}
