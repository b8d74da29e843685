package models

import (
	"time"
)

// Brand is one entry of the brand input file: a catalog brand and the URL of
// its first listing page.
type Brand struct {
	Name string `json:"name"`
	URL  string `json:"url"`
}

// WatchRecord is the extracted payload for one catalog item. The source URL
// is the natural unique key.
type WatchRecord struct {
	URL            string            `json:"url"`
	Brand          string            `json:"brand"`
	Name           string            `json:"name"`
	Price          string            `json:"price"`
	Description    string            `json:"description,omitempty"`
	Specifications map[string]string `json:"specifications,omitempty"`
	RunID          string            `json:"run_id,omitempty"`
	ScrapedAt      time.Time         `json:"scraped_at"`
}

func NewWatchRecord(url, brand string) *WatchRecord {
	return &WatchRecord{
		URL:            url,
		Brand:          brand,
		Specifications: make(map[string]string),
		ScrapedAt:      time.Now().UTC(),
	}
}
