package catalog

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/liamcoop/screener/screener"
)

// ErrRejected is returned for a published version that fails the definition check
var ErrRejected = errors.New("screener version rejected")

// Registry serves published screener definitions to evaluators.
// Every definition it hands out has passed the engine's definition check.
type Registry struct {
	source Source
	cache  DefinitionCache
	engine *screener.Engine
	logger *slog.Logger

	loaded   map[Key]*screener.Definition
	rejected map[Key]error
	mu       sync.RWMutex
}

// NewRegistry creates a registry over source. cache may be nil.
func NewRegistry(source Source, cache DefinitionCache, engine *screener.Engine, logger *slog.Logger) *Registry {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &Registry{
		source:   source,
		cache:    cache,
		engine:   engine,
		logger:   logger,
		loaded:   make(map[Key]*screener.Definition),
		rejected: make(map[Key]error),
	}
}

// LoadAll loads every published version from the source and swaps it in.
// Versions that fail the definition check are logged and skipped.
func (r *Registry) LoadAll(ctx context.Context) (int, error) {
	keys, err := r.source.List(ctx)
	if err != nil {
		return 0, fmt.Errorf("failed to list published screeners: %w", err)
	}

	loaded := make(map[Key]*screener.Definition, len(keys))
	rejected := make(map[Key]error)
	for _, key := range keys {
		def, err := r.source.Get(ctx, key)
		if err != nil {
			return 0, fmt.Errorf("failed to load screener %s: %w", key, err)
		}

		if err := r.engine.CheckDefinition(def); err != nil {
			r.logger.Error("screener version rejected", "screener", key.String(), "error", err)
			rejected[key] = err
			continue
		}
		loaded[key] = def
	}

	r.mu.Lock()
	r.loaded = loaded
	r.rejected = rejected
	r.mu.Unlock()

	r.logger.Info("screeners loaded", "loaded", len(loaded), "rejected", len(rejected))
	return len(loaded), nil
}

// Reload reloads all versions and clears the cache
func (r *Registry) Reload(ctx context.Context) (int, error) {
	n, err := r.LoadAll(ctx)
	if err != nil {
		return 0, err
	}
	if r.cache != nil {
		r.cache.Invalidate(ctx)
	}
	return n, nil
}

// Get returns the definition for key.
// Lookup order is the loaded set, the cache, then the source.
func (r *Registry) Get(ctx context.Context, key Key) (*screener.Definition, error) {
	r.mu.RLock()
	def, ok := r.loaded[key]
	rejectErr, rejected := r.rejected[key]
	r.mu.RUnlock()

	if ok {
		return def, nil
	}
	if rejected {
		return nil, fmt.Errorf("%w: %s: %v", ErrRejected, key, rejectErr)
	}

	if r.cache != nil {
		if def, ok := r.cache.Get(ctx, key); ok {
			return def, nil
		}
	}

	def, err := r.source.Get(ctx, key)
	if err != nil {
		return nil, err
	}
	if err := r.engine.CheckDefinition(def); err != nil {
		r.logger.Error("screener version rejected", "screener", key.String(), "error", err)
		return nil, fmt.Errorf("%w: %s: %v", ErrRejected, key, err)
	}

	if r.cache != nil {
		r.cache.Set(ctx, key, def)
	}
	return def, nil
}

// List returns the keys of all loaded versions
func (r *Registry) List() []Key {
	r.mu.RLock()
	defer r.mu.RUnlock()

	keys := make([]Key, 0, len(r.loaded))
	for k := range r.loaded {
		keys = append(keys, k)
	}
	sortKeys(keys)
	return keys
}

// Evaluate evaluates answers against the published version key
func (r *Registry) Evaluate(ctx context.Context, key Key, answers screener.AnswerSet) (screener.EvaluationResult, error) {
	def, err := r.Get(ctx, key)
	if err != nil {
		return screener.EvaluationResult{}, err
	}
	return r.engine.Evaluate(def, answers), nil
}

// Rejected returns the keys refused by the definition check at the last load
func (r *Registry) Rejected() []Key {
	r.mu.RLock()
	defer r.mu.RUnlock()

	keys := make([]Key, 0, len(r.rejected))
	for k := range r.rejected {
		keys = append(keys, k)
	}
	sortKeys(keys)
	return keys
}
