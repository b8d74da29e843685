package extract

import (
	"fmt"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"github.com/tidewatch/chronocrawl/internal/models"
)

// CatalogItemExtractor reads the structured record from a watch detail page.
type CatalogItemExtractor struct{}

func NewCatalogItemExtractor() *CatalogItemExtractor {
	return &CatalogItemExtractor{}
}

var (
	nameSelectors = []string{
		"#detail-page-dealer section.data h1 span",
		"h1 span",
		"h1",
	}
	priceSelectors = []string{
		".detail-page-price span",
		".wt-detail-page-price span",
		".article-price__price",
	}
	descriptionSelectors = []string{
		"#detail-page-dealer section.data .description-text",
		"#detail-page-dealer section.data .article-description",
		".dealer-listing__description",
		".detail-page__description",
	}
	specTableSelectors = []string{
		"#detail-page-dealer section.data table",
		"#detail-page-dealer section.data div table",
		"table.technical-details",
		"table",
	}
)

func (e *CatalogItemExtractor) ExtractItem(page Page, brand string) (*models.WatchRecord, error) {
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

	record := models.NewWatchRecord(page.URL(), brand)

	record.Name = firstText(doc, nameSelectors)
	if record.Name == "" {
		return nil, MissingField(page.URL(), "name")
	}

	record.Price = firstText(doc, priceSelectors)
	record.Description = firstText(doc, descriptionSelectors)
	record.Specifications = extractSpecs(doc)

	// Some layouts only carry the description inside the spec table.
	if record.Description == "" {
		if desc, ok := record.Specifications["Description"]; ok {
			record.Description = desc
			delete(record.Specifications, "Description")
		}
	}

	return record, nil
}

func firstText(doc *goquery.Document, selectors []string) string {
	for _, selector := range selectors {
		if sel := doc.Find(selector).First(); sel.Length() > 0 {
			if text := strings.TrimSpace(sel.Text()); text != "" {
				return text
			}
		}
	}
	return ""
}

// extractSpecs walks the first spec-table selector that matches and collects
// key/value rows, skipping the generic "Basic Info" header and a header-like
// "Description" row.
func extractSpecs(doc *goquery.Document) map[string]string {
	specs := make(map[string]string)

	for _, selector := range specTableSelectors {
		doc.Find(selector).Each(func(_ int, table *goquery.Selection) {
			table.Find("tbody > tr").Each(func(_ int, row *goquery.Selection) {
				key := strings.TrimSpace(row.Find("th").First().Text())
				if key == "" {
					key = strings.TrimSpace(row.Find("td").First().Text())
				}

				value := strings.TrimSpace(row.Find("td").Last().Text())

				if key == "" || strings.EqualFold(key, "Basic Info") {
					return
				}
				if strings.EqualFold(key, "Description") && strings.EqualFold(value, "Description") {
					return
				}

				specs[key] = value
			})
		})

		if len(specs) > 0 {
			break
		}
	}

	return specs
}
