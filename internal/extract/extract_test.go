package extract

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakePage struct {
	url  string
	html string
	err  error
}

func (p fakePage) URL() string { return p.url }

func (p fakePage) Content() (string, error) { return p.html, p.err }

const listingHTML = `
<html><body>
<div id="wt-watches">
  <div><a href="/rolex/submariner-1.htm">Submariner</a></div>
  <div><a href="/rolex/daytona-2.htm">Daytona</a></div>
  <div><a href="/rolex/submariner-1.htm">Submariner again</a></div>
  <div><a href="https://www.example.com/rolex/gmt-3.htm">GMT</a></div>
</div>
<ul class="pagination"><li class="active"><a href="#">1</a></li><li><a href="/rolex/index-2.htm">2</a></li></ul>
<a rel="next" href="/rolex/index-2.htm">Next</a>
</body></html>`

func TestExtractListing(t *testing.T) {
	e := NewCatalogListingExtractor("https://www.example.com")

	listing, err := e.ExtractListing(fakePage{url: "https://www.example.com/rolex/index.htm", html: listingHTML})
	require.NoError(t, err)

	assert.Equal(t, []string{
		"https://www.example.com/rolex/submariner-1.htm",
		"https://www.example.com/rolex/daytona-2.htm",
		"https://www.example.com/rolex/gmt-3.htm",
	}, listing.ItemURLs)
	assert.True(t, listing.HasNext)
}

func TestExtractListingLastPage(t *testing.T) {
	html := `<html><body><div id="wt-watches">
		<div><a href="/rolex/submariner-1.htm">Submariner</a></div>
	</div></body></html>`

	e := NewCatalogListingExtractor("https://www.example.com")
	listing, err := e.ExtractListing(fakePage{url: "https://www.example.com/rolex/index-9.htm", html: html})
	require.NoError(t, err)

	assert.Len(t, listing.ItemURLs, 1)
	assert.False(t, listing.HasNext)
}

func TestExtractListingMissingContainer(t *testing.T) {
	e := NewCatalogListingExtractor("https://www.example.com")

	_, err := e.ExtractListing(fakePage{url: "u", html: "<html><body><p>maintenance</p></body></html>"})
	assert.Equal(t, KindUnexpectedLayout, KindOf(err))
}

func TestExtractListingBlocked(t *testing.T) {
	e := NewCatalogListingExtractor("https://www.example.com")

	_, err := e.ExtractListing(fakePage{url: "u", html: "<html><body>Please solve this CAPTCHA to continue</body></html>"})
	assert.True(t, IsBlocked(err))
}

const itemHTML = `
<html><body>
<div id="detail-page-dealer">
  <section class="data">
    <h1><span>Rolex Submariner Date</span></h1>
    <div class="description-text">Excellent condition, box and papers.</div>
    <table>
      <tr><th>Basic Info</th><td></td></tr>
      <tr><th>Reference number</th><td>126610LN</td></tr>
      <tr><th>Case material</th><td>Steel</td></tr>
      <tr><td>Description</td><td>Description</td></tr>
    </table>
  </section>
</div>
<div class="detail-page-price"><span>$13,500</span></div>
</body></html>`

func TestExtractItem(t *testing.T) {
	e := NewCatalogItemExtractor()

	record, err := e.ExtractItem(fakePage{url: "https://www.example.com/rolex/submariner-1.htm", html: itemHTML}, "Rolex")
	require.NoError(t, err)

	assert.Equal(t, "https://www.example.com/rolex/submariner-1.htm", record.URL)
	assert.Equal(t, "Rolex", record.Brand)
	assert.Equal(t, "Rolex Submariner Date", record.Name)
	assert.Equal(t, "$13,500", record.Price)
	assert.Equal(t, "Excellent condition, box and papers.", record.Description)
	assert.Equal(t, map[string]string{
		"Reference number": "126610LN",
		"Case material":    "Steel",
	}, record.Specifications)
	assert.False(t, record.ScrapedAt.IsZero())
}

func TestExtractItemDescriptionFromSpecs(t *testing.T) {
	html := `<html><body>
	<h1><span>Omega Speedmaster</span></h1>
	<table>
		<tr><th>Description</th><td>Moonwatch professional.</td></tr>
		<tr><th>Reference number</th><td>310.30.42.50.01.001</td></tr>
	</table>
	</body></html>`

	e := NewCatalogItemExtractor()
	record, err := e.ExtractItem(fakePage{url: "u", html: html}, "Omega")
	require.NoError(t, err)

	assert.Equal(t, "Moonwatch professional.", record.Description)
	assert.NotContains(t, record.Specifications, "Description")
}

func TestExtractItemMissingName(t *testing.T) {
	e := NewCatalogItemExtractor()

	_, err := e.ExtractItem(fakePage{url: "u", html: "<html><body><p>no heading</p></body></html>"}, "Rolex")

	var ee *Error
	require.True(t, errors.As(err, &ee))
	assert.Equal(t, KindMissingField, ee.Kind)
	assert.Equal(t, "name", ee.Field)
	assert.True(t, IsPermanent(err))
}

func TestExtractItemBlocked(t *testing.T) {
	e := NewCatalogItemExtractor()

	_, err := e.ExtractItem(fakePage{url: "u", html: "<html><title>Access Denied</title><body>unusual traffic detected</body></html>"}, "Rolex")
	assert.True(t, IsBlocked(err))
}

const directoryHTML = `
<html><body>
<div id="main-content">
 <div class="letter-register">
  <section><div><nav><ul>
   <li><a href="/rolex/index.htm">Rolex</a></li>
   <li><a href="/omega/index.htm">Omega</a></li>
   <li><a href="/rolex/index.htm">Rolex duplicate</a></li>
  </ul></nav></div></section>
 </div>
</div>
</body></html>`

func TestExtractBrands(t *testing.T) {
	e := NewBrandDirectoryExtractor("https://www.example.com")

	brands, err := e.ExtractBrands(fakePage{url: "https://www.example.com/search/browse.htm", html: directoryHTML})
	require.NoError(t, err)

	require.Len(t, brands, 2)
	assert.Equal(t, "Rolex", brands[0].Name)
	assert.Equal(t, "https://www.example.com/rolex/index.htm", brands[0].URL)
	assert.Equal(t, "Omega", brands[1].Name)
}

func TestErrorClassification(t *testing.T) {
	tests := []struct {
		name      string
		err       error
		kind      Kind
		permanent bool
	}{
		{"transient wrapper", Transient("u", errors.New("timeout")), KindTransient, false},
		{"blocked", Blocked("u"), KindBlocked, false},
		{"missing field", MissingField("u", "name"), KindMissingField, true},
		{"unexpected layout", UnexpectedLayout("u", errors.New("bad")), KindUnexpectedLayout, true},
		{"plain error", errors.New("connection reset"), KindTransient, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.kind, KindOf(tt.err))
			assert.Equal(t, tt.permanent, IsPermanent(tt.err))
		})
	}
}
