package extract

import (
	"strings"

	"github.com/tidewatch/chronocrawl/internal/models"
)

// Page is a rendered page handle as seen by the extractors. The browser
// package provides the real implementation; tests use in-memory fakes.
type Page interface {
	URL() string
	Content() (string, error)
}

// Listing is the result of extracting one listing page.
type Listing struct {
	ItemURLs []string
	HasNext  bool
}

// ListingExtractor pulls item URLs out of a rendered listing page.
type ListingExtractor interface {
	ExtractListing(page Page) (*Listing, error)
}

// ItemExtractor pulls a structured record out of a rendered item page.
type ItemExtractor interface {
	ExtractItem(page Page, brand string) (*models.WatchRecord, error)
}

var blockedMarkers = []string{
	"captcha",
	"Pardon Our Interruption",
	"Access to this page has been denied",
	"unusual traffic",
}

// looksBlocked detects bot-protection interstitials in rendered HTML.
func looksBlocked(html string) bool {
	lower := strings.ToLower(html)
	for _, marker := range blockedMarkers {
		if strings.Contains(lower, strings.ToLower(marker)) {
			return true
		}
	}
	return false
}
