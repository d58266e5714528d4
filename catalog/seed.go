package catalog

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/liamcoop/screener/screener"
)

// SeedEntry is one published version in a seed file
type SeedEntry struct {
	ScreenerID string          `json:"screenerId"`
	Version    int             `json:"version"`
	Definition json.RawMessage `json:"definition"`
}

// LoadSeedFile reads a JSON array of SeedEntry into a new InMemorySource
func LoadSeedFile(path string) (*InMemorySource, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read seed file: %w", err)
	}
	return ParseSeed(data)
}

// ParseSeed decodes seed data into a new InMemorySource
func ParseSeed(data []byte) (*InMemorySource, error) {
	var entries []SeedEntry
	if err := json.Unmarshal(data, &entries); err != nil {
		return nil, fmt.Errorf("invalid seed data: %w", err)
	}

	source := NewInMemorySource()
	for i, e := range entries {
		if e.ScreenerID == "" || e.Version < 1 {
			return nil, fmt.Errorf("seed entry %d: screenerId and a positive version are required", i)
		}
		def, err := screener.ParseDefinition(e.Definition)
		if err != nil {
			return nil, fmt.Errorf("seed entry %d: %w", i, err)
		}
		if err := source.Put(Key{ScreenerID: e.ScreenerID, Version: e.Version}, def); err != nil {
			return nil, fmt.Errorf("seed entry %d: %w", i, err)
		}
	}
	return source, nil
}
