package catalog

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/liamcoop/screener/screener"
)

// ErrNotFound is returned when a screener version does not exist or is not published
var ErrNotFound = errors.New("screener version not found")

// Key identifies a published screener version
type Key struct {
	ScreenerID string `json:"screenerId"`
	Version    int    `json:"version"`
}

func (k Key) String() string {
	return fmt.Sprintf("%s@v%d", k.ScreenerID, k.Version)
}

// Source provides read access to published screener definitions.
// Definitions are immutable once published; callers must not modify them.
type Source interface {
	// Get returns a published definition or ErrNotFound
	Get(ctx context.Context, key Key) (*screener.Definition, error)

	// List returns the keys of all published definitions
	List(ctx context.Context) ([]Key, error)
}

// InMemorySource implements Source using an in-memory map
type InMemorySource struct {
	definitions map[Key]*screener.Definition
	mu          sync.RWMutex
}

// NewInMemorySource creates an empty in-memory source
func NewInMemorySource() *InMemorySource {
	return &InMemorySource{
		definitions: make(map[Key]*screener.Definition),
	}
}

// Put publishes a definition under key. An existing version is never replaced.
func (s *InMemorySource) Put(key Key, def *screener.Definition) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.definitions[key]; exists {
		return fmt.Errorf("screener version %s already exists", key)
	}
	s.definitions[key] = def
	return nil
}

// Get retrieves a definition by key
func (s *InMemorySource) Get(_ context.Context, key Key) (*screener.Definition, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	def, exists := s.definitions[key]
	if !exists {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, key)
	}
	return def, nil
}

// List returns all keys ordered by screener id and version
func (s *InMemorySource) List(_ context.Context) ([]Key, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	keys := make([]Key, 0, len(s.definitions))
	for k := range s.definitions {
		keys = append(keys, k)
	}
	sortKeys(keys)
	return keys, nil
}

func sortKeys(keys []Key) {
	sort.Slice(keys, func(i, j int) bool {
		if keys[i].ScreenerID != keys[j].ScreenerID {
			return keys[i].ScreenerID < keys[j].ScreenerID
		}
		return keys[i].Version < keys[j].Version
	})
}
