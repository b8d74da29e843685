package extract

import (
	"fmt"
	"net/url"
	"strings"

	"github.com/PuerkitoBio/goquery"

	"github.com/tidewatch/chronocrawl/internal/models"
)

// BrandDirectoryExtractor reads the A-Z brand directory page that seeds the
// crawl, producing the brand input list.
type BrandDirectoryExtractor struct {
	BaseURL string
}

func NewBrandDirectoryExtractor(baseURL string) *BrandDirectoryExtractor {
	return &BrandDirectoryExtractor{BaseURL: baseURL}
}

func (e *BrandDirectoryExtractor) ExtractBrands(page Page) ([]models.Brand, error) {
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

	var brands []models.Brand
	seen := make(map[string]struct{})

	doc.Find("#main-content .letter-register section div nav ul li a").Each(func(_ int, sel *goquery.Selection) {
		name := strings.TrimSpace(sel.Text())
		href, ok := sel.Attr("href")
		if name == "" || !ok || href == "" {
			return
		}

		abs := e.absoluteURL(href)
		if _, dup := seen[abs]; dup {
			return
		}
		seen[abs] = struct{}{}

		brands = append(brands, models.Brand{Name: name, URL: abs})
	})

	if len(brands) == 0 {
		return nil, UnexpectedLayout(page.URL(), fmt.Errorf("no brand links found"))
	}

	return brands, nil
}

func (e *BrandDirectoryExtractor) absoluteURL(href string) string {
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
