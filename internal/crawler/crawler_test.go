package crawler

import (
	"context"
	"errors"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tidewatch/chronocrawl/internal/checkpoint"
	"github.com/tidewatch/chronocrawl/internal/extract"
	"github.com/tidewatch/chronocrawl/internal/models"
)

type stubPage struct{ url string }

func (p stubPage) URL() string { return p.url }

func (p stubPage) Content() (string, error) { return "", nil }

// fakeFetcher returns a stub handle per URL, optionally failing a scripted
// number of times first.
type fakeFetcher struct {
	calls []string
	errs  map[string][]error
}

func newFakeFetcher() *fakeFetcher {
	return &fakeFetcher{errs: make(map[string][]error)}
}

func (f *fakeFetcher) Fetch(_ context.Context, url string) (extract.Page, error) {
	f.calls = append(f.calls, url)

	if queue := f.errs[url]; len(queue) > 0 {
		err := queue[0]
		f.errs[url] = queue[1:]
		return nil, err
	}

	return stubPage{url: url}, nil
}

func (f *fakeFetcher) countCalls(url string) int {
	n := 0
	for _, c := range f.calls {
		if c == url {
			n++
		}
	}
	return n
}

type scriptedListings struct {
	pages map[string]*extract.Listing
	errs  map[string]error
}

func (s *scriptedListings) ExtractListing(page extract.Page) (*extract.Listing, error) {
	if err := s.errs[page.URL()]; err != nil {
		return nil, err
	}
	listing, ok := s.pages[page.URL()]
	if !ok {
		return nil, extract.UnexpectedLayout(page.URL(), errors.New("unscripted listing page"))
	}
	return listing, nil
}

type scriptedItems struct {
	errs  map[string]error
	calls []string
}

func (s *scriptedItems) ExtractItem(page extract.Page, brand string) (*models.WatchRecord, error) {
	s.calls = append(s.calls, page.URL())
	if err := s.errs[page.URL()]; err != nil {
		return nil, err
	}
	record := models.NewWatchRecord(page.URL(), brand)
	record.Name = "Watch " + page.URL()
	return record, nil
}

type nopLimiter struct {
	outcomes []bool
}

func (l *nopLimiter) Wait(_ context.Context) error { return nil }

func (l *nopLimiter) RecordOutcome(success bool) { l.outcomes = append(l.outcomes, success) }

type memWriter struct {
	records []*models.WatchRecord
}

func (w *memWriter) Write(_ context.Context, record *models.WatchRecord) error {
	w.records = append(w.records, record)
	return nil
}

func (w *memWriter) Close(_ context.Context) error { return nil }

func newTestStore(t *testing.T) *checkpoint.Store {
	t.Helper()
	return checkpoint.NewStore(checkpoint.NewFileBackend(filepath.Join(t.TempDir(), "checkpoint.json")))
}

const (
	brandAURL = "https://catalog.test/alpina/index.htm"
	brandBURL = "https://catalog.test/breitling/index.htm"
)

func brandA() models.Brand { return models.Brand{Name: "Alpina", URL: brandAURL} }

func brandB() models.Brand { return models.Brand{Name: "Breitling", URL: brandBURL} }

func TestCrawlerFullRun(t *testing.T) {
	fetcher := newFakeFetcher()
	listings := &scriptedListings{
		pages: map[string]*extract.Listing{
			// Page 2 re-lists i2; it must be extracted only once.
			brandAURL: {ItemURLs: []string{"i1", "i2"}, HasNext: true},
			ListingPageURL(brandAURL, 2): {ItemURLs: []string{"i2", "i3"}, HasNext: false},
			brandBURL:                    {ItemURLs: []string{"j1"}, HasNext: false},
		},
	}
	items := &scriptedItems{errs: map[string]error{}}
	store := newTestStore(t)
	writer := &memWriter{}

	c := New(fetcher, listings, items, &nopLimiter{}, store, writer, Options{})
	require.NoError(t, c.Run(context.Background(), []models.Brand{brandB(), brandA()}))

	assert.Len(t, writer.records, 4)
	for _, url := range []string{"i1", "i2", "i3", "j1"} {
		assert.Equal(t, 1, fetcher.countCalls(url), "item %s fetched once", url)
	}

	assert.Equal(t, 2, store.LastPage("Alpina"))
	assert.True(t, store.IsBrandDone("Alpina"))
	assert.True(t, store.IsBrandDone("Breitling"))

	// Brands run in name order regardless of input order.
	assert.Equal(t, brandAURL, fetcher.calls[0])
}

func TestCrawlerResumeDoesNoWork(t *testing.T) {
	path := filepath.Join(t.TempDir(), "checkpoint.json")
	ctx := context.Background()

	listings := &scriptedListings{
		pages: map[string]*extract.Listing{
			brandAURL: {ItemURLs: []string{"i1"}, HasNext: false},
		},
	}

	store := checkpoint.NewStore(checkpoint.NewFileBackend(path))
	first := New(newFakeFetcher(), listings, &scriptedItems{errs: map[string]error{}}, &nopLimiter{}, store, &memWriter{}, Options{})
	require.NoError(t, first.Run(ctx, []models.Brand{brandA()}))

	// Second run resumes from the flushed checkpoint and must not touch the
	// network at all.
	resumed := checkpoint.NewStore(checkpoint.NewFileBackend(path))
	require.NoError(t, resumed.Open(ctx, true))

	fetcher := newFakeFetcher()
	items := &scriptedItems{errs: map[string]error{}}
	writer := &memWriter{}
	second := New(fetcher, listings, items, &nopLimiter{}, resumed, writer, Options{})
	require.NoError(t, second.Run(ctx, []models.Brand{brandA()}))

	assert.Empty(t, fetcher.calls)
	assert.Empty(t, items.calls)
	assert.Empty(t, writer.records)
}

func TestCrawlerResumesMidBrand(t *testing.T) {
	store := newTestStore(t)
	store.MarkPageDone("Alpina", 1, []string{"i1", "i2"})
	store.MarkItemDone("Alpina", "i1")

	fetcher := newFakeFetcher()
	listings := &scriptedListings{
		pages: map[string]*extract.Listing{
			// Only page 2 is scripted: fetching page 1 again would fail the run.
			ListingPageURL(brandAURL, 2): {ItemURLs: []string{"i3"}, HasNext: false},
		},
	}
	items := &scriptedItems{errs: map[string]error{}}
	writer := &memWriter{}

	c := New(fetcher, listings, items, &nopLimiter{}, store, writer, Options{})
	require.NoError(t, c.Run(context.Background(), []models.Brand{brandA()}))

	assert.Equal(t, 0, fetcher.countCalls(brandAURL), "completed page must not be refetched")
	assert.Equal(t, 0, fetcher.countCalls("i1"), "extracted item must not be refetched")
	assert.Equal(t, 1, fetcher.countCalls("i2"))
	assert.Equal(t, 1, fetcher.countCalls("i3"))
	assert.Len(t, writer.records, 2)
}

func TestCrawlerAbortsOnBlockedThreshold(t *testing.T) {
	fetcher := newFakeFetcher()
	listings := &scriptedListings{
		pages: map[string]*extract.Listing{
			brandAURL: {ItemURLs: []string{"i1", "i2", "i3"}, HasNext: false},
		},
	}
	items := &scriptedItems{errs: map[string]error{
		"i1": extract.Blocked("i1"),
		"i2": extract.Blocked("i2"),
		"i3": extract.Blocked("i3"),
	}}
	store := newTestStore(t)

	c := New(fetcher, listings, items, &nopLimiter{}, store, &memWriter{}, Options{
		MaxAttempts:           3,
		BlockedAbortThreshold: 5,
	})

	err := c.Run(context.Background(), []models.Brand{brandA()})
	require.ErrorIs(t, err, ErrRunAborted)

	// Exactly five blocked occurrences: three attempts on i1, two on i2.
	assert.Len(t, items.calls, 5)
	assert.True(t, store.IsItemResolved("Alpina", "i1"), "exhausted item is checkpointed as failed")
	assert.False(t, store.IsItemResolved("Alpina", "i2"), "aborted item stays pending")
	assert.False(t, store.IsBrandDone("Alpina"))
}

func TestCrawlerSkipsPermanentItemFailures(t *testing.T) {
	fetcher := newFakeFetcher()
	listings := &scriptedListings{
		pages: map[string]*extract.Listing{
			brandAURL: {ItemURLs: []string{"i1", "i2"}, HasNext: false},
		},
	}
	items := &scriptedItems{errs: map[string]error{
		"i1": extract.MissingField("i1", "name"),
	}}
	store := newTestStore(t)
	writer := &memWriter{}

	c := New(fetcher, listings, items, &nopLimiter{}, store, writer, Options{MaxAttempts: 3})
	require.NoError(t, c.Run(context.Background(), []models.Brand{brandA()}))

	// Permanent failures are not retried.
	assert.Equal(t, 1, fetcher.countCalls("i1"))
	assert.Len(t, writer.records, 1)
	assert.Equal(t, "i2", writer.records[0].URL)

	assert.False(t, store.IsItemDone("Alpina", "i1"))
	assert.True(t, store.IsItemResolved("Alpina", "i1"))
	assert.True(t, store.IsBrandDone("Alpina"))
}

func TestCrawlerRetriesTransientFailures(t *testing.T) {
	fetcher := newFakeFetcher()
	fetcher.errs["i1"] = []error{extract.Transient("i1", errors.New("timeout"))}

	listings := &scriptedListings{
		pages: map[string]*extract.Listing{
			brandAURL: {ItemURLs: []string{"i1"}, HasNext: false},
		},
	}
	items := &scriptedItems{errs: map[string]error{}}
	limiter := &nopLimiter{}
	store := newTestStore(t)
	writer := &memWriter{}

	c := New(fetcher, listings, items, limiter, store, writer, Options{MaxAttempts: 3})
	require.NoError(t, c.Run(context.Background(), []models.Brand{brandA()}))

	assert.Equal(t, 2, fetcher.countCalls("i1"))
	assert.Len(t, writer.records, 1)
	assert.True(t, store.IsItemDone("Alpina", "i1"))

	// The failed attempt escalated the backoff; the success reset it.
	assert.Contains(t, limiter.outcomes, false)
	assert.True(t, limiter.outcomes[len(limiter.outcomes)-1])
}

func TestCrawlerSkipsFailedBrandAndContinues(t *testing.T) {
	fetcher := newFakeFetcher()
	listings := &scriptedListings{
		pages: map[string]*extract.Listing{
			brandBURL: {ItemURLs: []string{"j1"}, HasNext: false},
		},
		errs: map[string]error{
			brandAURL: extract.UnexpectedLayout(brandAURL, errors.New("listing changed")),
		},
	}
	items := &scriptedItems{errs: map[string]error{}}
	store := newTestStore(t)
	writer := &memWriter{}

	c := New(fetcher, listings, items, &nopLimiter{}, store, writer, Options{MaxAttempts: 2})
	require.NoError(t, c.Run(context.Background(), []models.Brand{brandA(), brandB()}))

	assert.False(t, store.IsBrandDone("Alpina"))
	assert.True(t, store.IsBrandDone("Breitling"))
	assert.Len(t, writer.records, 1)
}

func TestListingPageURL(t *testing.T) {
	tests := []struct {
		name     string
		base     string
		page     int
		expected string
	}{
		{"first page", "https://c.test/rolex/index.htm", 1, "https://c.test/rolex/index.htm"},
		{"index rewrite", "https://c.test/rolex/index.htm", 2, "https://c.test/rolex/index-2.htm"},
		{"trailing slash", "https://c.test/rolex/", 3, "https://c.test/rolex/index-3.htm"},
		{"bare path", "https://c.test/rolex", 4, "https://c.test/rolex/index-4.htm"},
		{"query preserved", "https://c.test/rolex/index.htm?sortorder=1", 2, "https://c.test/rolex/index-2.htm?sortorder=1"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, ListingPageURL(tt.base, tt.page))
		})
	}
}
