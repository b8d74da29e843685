package checkpoint

import (
	"encoding/json"
	"sort"
)

// State is the in-memory crawl progress: per brand, the last completed
// listing page, the URL sets, and the brand-done flag. All mutations are
// idempotent; the page index is monotonic and the URL sets only grow.
type State struct {
	brands map[string]*brandState
}

type brandState struct {
	lastPage   int
	discovered map[string]struct{}
	extracted  map[string]struct{}
	failed     map[string]struct{}
	done       bool
}

func NewState() *State {
	return &State{brands: make(map[string]*brandState)}
}

func (s *State) brand(name string) *brandState {
	b, ok := s.brands[name]
	if !ok {
		b = &brandState{
			discovered: make(map[string]struct{}),
			extracted:  make(map[string]struct{}),
			failed:     make(map[string]struct{}),
		}
		s.brands[name] = b
	}
	return b
}

// MarkPageDone records a completed listing page and unions its discovered
// item URLs. A stale page index never rolls the recorded progress back.
func (s *State) MarkPageDone(brand string, page int, discovered []string) {
	b := s.brand(brand)

	if page > b.lastPage {
		b.lastPage = page
	}

	for _, url := range discovered {
		b.discovered[url] = struct{}{}
	}
}

// MarkItemDone records a durably flushed item. Re-adding is a no-op.
func (s *State) MarkItemDone(brand, url string) {
	b := s.brand(brand)
	b.discovered[url] = struct{}{}
	b.extracted[url] = struct{}{}
}

// MarkItemFailed records a permanently skipped item so it is never silently
// retried on resume.
func (s *State) MarkItemFailed(brand, url string) {
	b := s.brand(brand)
	b.discovered[url] = struct{}{}
	b.failed[url] = struct{}{}
}

func (s *State) MarkBrandDone(brand string) {
	s.brand(brand).done = true
}

// LastPage returns the last completed page index for a brand, zero if the
// brand has not been crawled. Listing pages are 1-based.
func (s *State) LastPage(brand string) int {
	if b, ok := s.brands[brand]; ok {
		return b.lastPage
	}
	return 0
}

func (s *State) IsItemDone(brand, url string) bool {
	if b, ok := s.brands[brand]; ok {
		_, done := b.extracted[url]
		return done
	}
	return false
}

// IsItemResolved reports whether an item needs no further work: either its
// record was flushed or it was permanently skipped.
func (s *State) IsItemResolved(brand, url string) bool {
	if b, ok := s.brands[brand]; ok {
		if _, done := b.extracted[url]; done {
			return true
		}
		_, failed := b.failed[url]
		return failed
	}
	return false
}

func (s *State) IsBrandDone(brand string) bool {
	if b, ok := s.brands[brand]; ok {
		return b.done
	}
	return false
}

// DiscoveredURLs returns the known item URLs of a brand in sorted order.
func (s *State) DiscoveredURLs(brand string) []string {
	b, ok := s.brands[brand]
	if !ok {
		return nil
	}
	return sortedKeys(b.discovered)
}

// Stats summarizes progress for logging and the status endpoint.
type Stats struct {
	Brands          int `json:"brands"`
	BrandsDone      int `json:"brands_done"`
	ItemsDiscovered int `json:"items_discovered"`
	ItemsExtracted  int `json:"items_extracted"`
	ItemsFailed     int `json:"items_failed"`
}

func (s *State) Stats() Stats {
	var st Stats
	st.Brands = len(s.brands)
	for _, b := range s.brands {
		if b.done {
			st.BrandsDone++
		}
		st.ItemsDiscovered += len(b.discovered)
		st.ItemsExtracted += len(b.extracted)
		st.ItemsFailed += len(b.failed)
	}
	return st
}

// Persisted shape. Unknown fields in older or newer files are ignored on
// load, so the schema can only evolve additively.
type stateFile struct {
	Version int                  `json:"version"`
	Brands  map[string]brandFile `json:"brands"`
}

type brandFile struct {
	LastPage   int      `json:"last_page"`
	Discovered []string `json:"discovered_urls,omitempty"`
	Extracted  []string `json:"extracted_urls,omitempty"`
	Failed     []string `json:"failed_urls,omitempty"`
	Done       bool     `json:"done,omitempty"`
}

const stateVersion = 1

func (s *State) MarshalJSON() ([]byte, error) {
	out := stateFile{
		Version: stateVersion,
		Brands:  make(map[string]brandFile, len(s.brands)),
	}

	for name, b := range s.brands {
		out.Brands[name] = brandFile{
			LastPage:   b.lastPage,
			Discovered: sortedKeys(b.discovered),
			Extracted:  sortedKeys(b.extracted),
			Failed:     sortedKeys(b.failed),
			Done:       b.done,
		}
	}

	return json.MarshalIndent(out, "", "  ")
}

func (s *State) UnmarshalJSON(data []byte) error {
	var in stateFile
	if err := json.Unmarshal(data, &in); err != nil {
		return err
	}

	s.brands = make(map[string]*brandState, len(in.Brands))
	for name, b := range in.Brands {
		bs := &brandState{
			lastPage:   b.LastPage,
			discovered: make(map[string]struct{}, len(b.Discovered)),
			extracted:  make(map[string]struct{}, len(b.Extracted)),
			failed:     make(map[string]struct{}, len(b.Failed)),
			done:       b.Done,
		}
		for _, url := range b.Discovered {
			bs.discovered[url] = struct{}{}
		}
		for _, url := range b.Extracted {
			// Extracted implies discovered.
			bs.discovered[url] = struct{}{}
			bs.extracted[url] = struct{}{}
		}
		for _, url := range b.Failed {
			bs.discovered[url] = struct{}{}
			bs.failed[url] = struct{}{}
		}
		s.brands[name] = bs
	}

	return nil
}

func sortedKeys(set map[string]struct{}) []string {
	if len(set) == 0 {
		return nil
	}
	keys := make([]string, 0, len(set))
	for k := range set {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
