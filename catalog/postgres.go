package catalog

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	_ "github.com/lib/pq"

	"github.com/liamcoop/screener/screener"
)

// PostgresSource implements Source backed by the screener_versions table.
// Only rows with published_at set are visible.
type PostgresSource struct {
	db *sql.DB
}

// NewPostgresSource creates a PostgreSQL-backed Source
func NewPostgresSource(db *sql.DB) *PostgresSource {
	return &PostgresSource{db: db}
}

// Get retrieves a published definition by key
func (s *PostgresSource) Get(ctx context.Context, key Key) (*screener.Definition, error) {
	var raw []byte
	err := s.db.QueryRowContext(ctx, `
		SELECT definition
		FROM screener_versions
		WHERE screener_id = $1 AND version = $2 AND published_at IS NOT NULL
	`, key.ScreenerID, key.Version).Scan(&raw)

	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, key)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get screener version %s: %w", key, err)
	}

	def, err := screener.ParseDefinition(raw)
	if err != nil {
		return nil, fmt.Errorf("screener version %s: %w", key, err)
	}
	return def, nil
}

// List returns the keys of all published versions
func (s *PostgresSource) List(ctx context.Context) ([]Key, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT screener_id, version
		FROM screener_versions
		WHERE published_at IS NOT NULL
		ORDER BY screener_id ASC, version ASC
	`)
	if err != nil {
		return nil, fmt.Errorf("failed to list screener versions: %w", err)
	}
	defer rows.Close()

	var keys []Key
	for rows.Next() {
		var k Key
		if err := rows.Scan(&k.ScreenerID, &k.Version); err != nil {
			return nil, fmt.Errorf("failed to scan screener version: %w", err)
		}
		keys = append(keys, k)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating screener versions: %w", err)
	}

	return keys, nil
}
