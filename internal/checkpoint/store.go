package checkpoint

import (
	"context"
	"errors"
	"fmt"
	"sync"
)

// ErrCorrupt marks a checkpoint that exists but cannot be parsed. It is fatal
// only when a resume was requested; a fresh run starts from an empty state.
var ErrCorrupt = errors.New("corrupt checkpoint")

// Backend persists a State durably. Persist must be atomic: a crash during a
// write must never leave a present-but-unparsable checkpoint behind.
type Backend interface {
	Load(ctx context.Context) (*State, error)
	Persist(ctx context.Context, state *State) error
}

// Store is the single source of truth for resume. Mutations update the
// in-memory state; Flush persists it through the backend.
type Store struct {
	backend Backend
	state   *State
	mu      sync.Mutex
}

func NewStore(backend Backend) *Store {
	return &Store{
		backend: backend,
		state:   NewState(),
	}
}

// Open loads prior progress when resume is requested. Without resume the
// store starts empty and the first flush replaces whatever was on disk.
func (s *Store) Open(ctx context.Context, resume bool) error {
	if !resume {
		return nil
	}

	state, err := s.backend.Load(ctx)
	if err != nil {
		return fmt.Errorf("load checkpoint: %w", err)
	}

	s.mu.Lock()
	s.state = state
	s.mu.Unlock()

	return nil
}

func (s *Store) MarkPageDone(brand string, page int, discovered []string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.state.MarkPageDone(brand, page, discovered)
}

func (s *Store) MarkItemDone(brand, url string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.state.MarkItemDone(brand, url)
}

func (s *Store) MarkItemFailed(brand, url string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.state.MarkItemFailed(brand, url)
}

func (s *Store) MarkBrandDone(brand string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.state.MarkBrandDone(brand)
}

func (s *Store) LastPage(brand string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state.LastPage(brand)
}

func (s *Store) IsItemDone(brand, url string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state.IsItemDone(brand, url)
}

func (s *Store) IsItemResolved(brand, url string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state.IsItemResolved(brand, url)
}

func (s *Store) IsBrandDone(brand string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state.IsBrandDone(brand)
}

func (s *Store) DiscoveredURLs(brand string) []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state.DiscoveredURLs(brand)
}

func (s *Store) Stats() Stats {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state.Stats()
}

// Flush atomically persists the current state.
func (s *Store) Flush(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.backend.Persist(ctx, s.state); err != nil {
		return fmt.Errorf("flush checkpoint: %w", err)
	}
	return nil
}
