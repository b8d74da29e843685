package crawler

import (
	"context"
	"fmt"
	"log/slog"
	"net/url"
	"strings"

	"github.com/tidewatch/chronocrawl/internal/checkpoint"
	"github.com/tidewatch/chronocrawl/internal/extract"
	"github.com/tidewatch/chronocrawl/internal/models"
	"github.com/tidewatch/chronocrawl/internal/ratelimit"
)

// PageProcessor walks one brand's listing pagination, recording each
// completed page in the checkpoint. A brand resumes at the page after the
// last completed one, with the discovered set seeded from the checkpoint so
// re-fetched pages do not reintroduce duplicate work.
type PageProcessor struct {
	Fetcher   Fetcher
	Extractor extract.ListingExtractor
	Limiter   ratelimit.Limiter
	Store     *checkpoint.Store
	Opts      Options
	Guard     *abortGuard
	Logger    *slog.Logger
}

func (p *PageProcessor) Run(ctx context.Context, brand models.Brand) error {
	discovered := make(map[string]struct{})
	for _, u := range p.Store.DiscoveredURLs(brand.Name) {
		discovered[u] = struct{}{}
	}

	start := p.Store.LastPage(brand.Name) + 1

	for page := start; page <= p.Opts.MaxPagesPerBrand; page++ {
		listing, err := p.fetchListing(ctx, brand, page)
		if err != nil {
			return err
		}

		newCount := 0
		for _, u := range listing.ItemURLs {
			if _, seen := discovered[u]; !seen {
				discovered[u] = struct{}{}
				newCount++
			}
		}

		p.Store.MarkPageDone(brand.Name, page, listing.ItemURLs)
		if err := p.Store.Flush(ctx); err != nil {
			return err
		}

		p.Logger.Info("listing page done",
			"brand", brand.Name,
			"page", page,
			"urls", len(listing.ItemURLs),
			"new", newCount)

		// An empty page, a page of known URLs only, or a missing next-page
		// control all mean the pagination is exhausted.
		if len(listing.ItemURLs) == 0 || newCount == 0 || !listing.HasNext {
			p.Logger.Info("pagination exhausted", "brand", brand.Name, "pages", page)
			return nil
		}
	}

	p.Logger.Warn("reached page cap", "brand", brand.Name, "cap", p.Opts.MaxPagesPerBrand)
	return nil
}

// fetchListing loads and extracts one listing page with bounded retries.
// Transient and blocked failures escalate backoff and are retried; layout
// failures are deterministic and fail the brand immediately.
func (p *PageProcessor) fetchListing(ctx context.Context, brand models.Brand, page int) (*extract.Listing, error) {
	pageURL := ListingPageURL(brand.URL, page)

	var lastErr error
	for attempt := 1; attempt <= p.Opts.MaxAttempts; attempt++ {
		if err := p.Limiter.Wait(ctx); err != nil {
			return nil, err
		}

		listing, err := p.attempt(ctx, pageURL)
		if err == nil {
			p.Limiter.RecordOutcome(true)
			p.Guard.record(nil)
			return listing, nil
		}

		if extract.IsPermanent(err) {
			// The server answered; only the page shape is wrong.
			p.Limiter.RecordOutcome(true)
			p.Guard.record(nil)
			return nil, err
		}

		p.Limiter.RecordOutcome(false)
		if extract.IsBlocked(err) {
			// Blocked responses escalate twice as fast.
			p.Limiter.RecordOutcome(false)
		}

		if abortErr := p.Guard.record(err); abortErr != nil {
			return nil, abortErr
		}

		lastErr = err
		p.Logger.Warn("listing page fetch failed",
			"brand", brand.Name,
			"page", page,
			"url", pageURL,
			"attempt", attempt,
			"error", err)
	}

	return nil, fmt.Errorf("listing page %d failed after %d attempts: %w", page, p.Opts.MaxAttempts, lastErr)
}

func (p *PageProcessor) attempt(ctx context.Context, pageURL string) (*extract.Listing, error) {
	page, err := p.Fetcher.Fetch(ctx, pageURL)
	if err != nil {
		return nil, err
	}
	return p.Extractor.ExtractListing(page)
}

// ListingPageURL builds the URL of the page-th listing page. Page 1 is the
// brand URL itself; later pages rewrite index.htm into index-N.htm.
func ListingPageURL(baseURL string, page int) string {
	if page <= 1 {
		return baseURL
	}

	parsed, err := url.Parse(baseURL)
	if err != nil {
		return baseURL
	}

	path := parsed.Path
	switch {
	case strings.HasSuffix(path, "index.htm"):
		parsed.Path = strings.TrimSuffix(path, "index.htm") + fmt.Sprintf("index-%d.htm", page)
	case strings.HasSuffix(path, "/"):
		parsed.Path = path + fmt.Sprintf("index-%d.htm", page)
	default:
		parsed.Path = path + fmt.Sprintf("/index-%d.htm", page)
	}

	return parsed.String()
}
