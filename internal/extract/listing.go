package extract

import (
	"fmt"
	"net/url"
	"strings"

	"github.com/PuerkitoBio/goquery"
)

// CatalogListingExtractor reads item URLs from a brand listing page.
type CatalogListingExtractor struct {
	BaseURL string
}

func NewCatalogListingExtractor(baseURL string) *CatalogListingExtractor {
	return &CatalogListingExtractor{BaseURL: baseURL}
}

func (e *CatalogListingExtractor) ExtractListing(page Page) (*Listing, error) {
	html, err := page.Content()
	if err != nil {
		return nil, Transient(page.URL(), err)
	}

	if looksBlocked(html) {
		return nil, Blocked(page.URL())
	}

	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return nil, UnexpectedLayout(page.URL(), fmt.Errorf("parse html: %w", err))
	}

	container := doc.Find("#wt-watches")
	if container.Length() == 0 {
		return nil, UnexpectedLayout(page.URL(), fmt.Errorf("listing container not found"))
	}

	listing := &Listing{}
	seen := make(map[string]struct{})

	container.Find("a[href]").Each(func(_ int, sel *goquery.Selection) {
		href, ok := sel.Attr("href")
		if !ok || href == "" {
			return
		}

		abs := e.absoluteURL(href)
		if _, dup := seen[abs]; dup {
			return
		}
		seen[abs] = struct{}{}
		listing.ItemURLs = append(listing.ItemURLs, abs)
	})

	listing.HasNext = e.hasNextPage(doc)

	return listing, nil
}

// hasNextPage checks the pagination strip for an enabled next-page control.
// Sites that render no strip on the last page fall through to false; the page
// processor also treats an empty or fully-duplicate page as the end.
func (e *CatalogListingExtractor) hasNextPage(doc *goquery.Document) bool {
	nextSelectors := []string{
		".pagination a.paging-next:not(.disabled)",
		"ul.pagination li.active + li a",
		"a[rel='next']",
	}

	for _, selector := range nextSelectors {
		if doc.Find(selector).Length() > 0 {
			return true
		}
	}

	return false
}

func (e *CatalogListingExtractor) absoluteURL(href string) string {
	if strings.HasPrefix(href, "http://") || strings.HasPrefix(href, "https://") {
		return href
	}

	base, err := url.Parse(e.BaseURL)
	if err != nil {
		return href
	}

	ref, err := url.Parse(href)
	if err != nil {
		return href
	}

	return base.ResolveReference(ref).String()
}
