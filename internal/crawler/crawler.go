package crawler

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"sort"
	"sync"

	"github.com/tidewatch/chronocrawl/internal/checkpoint"
	"github.com/tidewatch/chronocrawl/internal/extract"
	"github.com/tidewatch/chronocrawl/internal/models"
	"github.com/tidewatch/chronocrawl/internal/output"
	"github.com/tidewatch/chronocrawl/internal/ratelimit"
)

// ErrRunAborted ends the whole run after too many consecutive blocked
// responses: retrying past that point only digs the hole deeper.
var ErrRunAborted = errors.New("run aborted: blocked threshold exceeded")

// Fetcher loads a URL through the browser collaborator and returns the
// rendered page handle.
type Fetcher interface {
	Fetch(ctx context.Context, url string) (extract.Page, error)
}

type Options struct {
	MaxAttempts           int
	BlockedAbortThreshold int
	MaxPagesPerBrand      int
	SmokeTest             bool
	RunID                 string
}

func (o *Options) withDefaults() Options {
	opts := *o
	if opts.MaxAttempts < 1 {
		opts.MaxAttempts = 3
	}
	if opts.BlockedAbortThreshold < 1 {
		opts.BlockedAbortThreshold = 5
	}
	if opts.MaxPagesPerBrand < 1 {
		opts.MaxPagesPerBrand = 100
	}
	return opts
}

// Crawler drives the whole run: brands in deterministic order, each through
// the page processor and then the brand processor.
type Crawler struct {
	fetcher  Fetcher
	listings extract.ListingExtractor
	items    extract.ItemExtractor
	limiter  ratelimit.Limiter
	store    *checkpoint.Store
	writer   output.Writer
	opts     Options
	guard    *abortGuard
	logger   *slog.Logger
}

func New(
	fetcher Fetcher,
	listings extract.ListingExtractor,
	items extract.ItemExtractor,
	limiter ratelimit.Limiter,
	store *checkpoint.Store,
	writer output.Writer,
	opts Options,
) *Crawler {
	opts = opts.withDefaults()

	return &Crawler{
		fetcher:  fetcher,
		listings: listings,
		items:    items,
		limiter:  limiter,
		store:    store,
		writer:   writer,
		opts:     opts,
		guard:    &abortGuard{threshold: opts.BlockedAbortThreshold},
		logger:   slog.Default().With("component", "crawler"),
	}
}

// Run crawls every brand not already marked done. Per-brand failures are
// logged and skipped; only cancellation, the blocked-abort threshold, and
// checkpoint flush failures stop the run.
func (c *Crawler) Run(ctx context.Context, brands []models.Brand) error {
	ordered := make([]models.Brand, len(brands))
	copy(ordered, brands)
	sort.Slice(ordered, func(i, j int) bool { return ordered[i].Name < ordered[j].Name })

	if c.opts.SmokeTest && len(ordered) > 0 {
		if err := c.smokeTest(ctx, ordered[0]); err != nil {
			return fmt.Errorf("smoke test: %w", err)
		}
	}

	var skipped int

	for _, brand := range ordered {
		if err := ctx.Err(); err != nil {
			return err
		}

		if c.store.IsBrandDone(brand.Name) {
			c.logger.Info("brand already done, skipping", "brand", brand.Name)
			continue
		}

		c.logger.Info("processing brand", "brand", brand.Name, "url", brand.URL)

		bp := &BrandProcessor{
			Fetcher: c.fetcher,
			Listing: c.listings,
			Items:   c.items,
			Limiter: c.limiter,
			Store:   c.store,
			Writer:  c.writer,
			Opts:    c.opts,
			Guard:   c.guard,
			Logger:  c.logger,
		}

		if err := bp.Run(ctx, brand); err != nil {
			if errors.Is(err, ErrRunAborted) || errors.Is(err, context.Canceled) {
				return err
			}
			skipped++
			c.logger.Error("brand failed, skipping", "brand", brand.Name, "error", err)
			continue
		}

		if err := c.store.Flush(ctx); err != nil {
			return err
		}
	}

	if err := c.store.Flush(ctx); err != nil {
		return err
	}

	stats := c.store.Stats()
	c.logger.Info("crawl finished",
		"brands_done", stats.BrandsDone,
		"brands_skipped", skipped,
		"items_extracted", stats.ItemsExtracted,
		"items_failed", stats.ItemsFailed)

	return nil
}

// smokeTest validates the listing and item selectors against one brand
// before committing to a multi-hour run.
func (c *Crawler) smokeTest(ctx context.Context, brand models.Brand) error {
	c.logger.Info("running selector smoke test", "brand", brand.Name)

	if err := c.limiter.Wait(ctx); err != nil {
		return err
	}

	page, err := c.fetcher.Fetch(ctx, ListingPageURL(brand.URL, 1))
	if err != nil {
		return fmt.Errorf("fetch listing page: %w", err)
	}

	listing, err := c.listings.ExtractListing(page)
	if err != nil {
		return fmt.Errorf("extract listing: %w", err)
	}
	if len(listing.ItemURLs) == 0 {
		return fmt.Errorf("listing extractor found no item links on %s", brand.URL)
	}

	if err := c.limiter.Wait(ctx); err != nil {
		return err
	}

	itemPage, err := c.fetcher.Fetch(ctx, listing.ItemURLs[0])
	if err != nil {
		return fmt.Errorf("fetch item page: %w", err)
	}

	if _, err := c.items.ExtractItem(itemPage, brand.Name); err != nil {
		return fmt.Errorf("extract item: %w", err)
	}

	c.logger.Info("smoke test passed", "brand", brand.Name)
	return nil
}

// LoadBrands reads the brand input file: a JSON array of {name, url}.
func LoadBrands(path string) ([]models.Brand, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read brands file: %w", err)
	}

	var brands []models.Brand
	if err := json.Unmarshal(data, &brands); err != nil {
		return nil, fmt.Errorf("parse brands file %s: %w", path, err)
	}

	for i, b := range brands {
		if b.Name == "" || b.URL == "" {
			return nil, fmt.Errorf("brands file %s: entry %d is missing name or url", path, i)
		}
	}

	return brands, nil
}

// abortGuard tracks consecutive blocked/captcha occurrences across the run.
type abortGuard struct {
	mu        sync.Mutex
	streak    int
	threshold int
}

// record notes one fetch/extract outcome. It returns ErrRunAborted once the
// blocked streak reaches the threshold; any other outcome resets the streak.
func (g *abortGuard) record(err error) error {
	g.mu.Lock()
	defer g.mu.Unlock()

	if err != nil && extract.IsBlocked(err) {
		g.streak++
		if g.streak >= g.threshold {
			return ErrRunAborted
		}
		return nil
	}

	g.streak = 0
	return nil
}
