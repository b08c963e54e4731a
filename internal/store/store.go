// Package store persists the local album tree in PostgreSQL and applies
// reconciliation plans to it.
package store

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/frostpix/frostpix/internal/photos"
)

// Store wraps a PostgreSQL connection pool.
type Store struct {
	pool *pgxpool.Pool
}

// New creates a new store backed by a connection pool.
func New(ctx context.Context, databaseURL string) (*Store, error) {
	config, err := pgxpool.ParseConfig(databaseURL)
	if err != nil {
		return nil, fmt.Errorf("parsing database URL: %w", err)
	}

	pool, err := pgxpool.NewWithConfig(ctx, config)
	if err != nil {
		return nil, fmt.Errorf("creating connection pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("pinging database: %w", err)
	}

	return &Store{pool: pool}, nil
}

// Close closes the connection pool.
func (s *Store) Close() {
	s.pool.Close()
}

// Albums returns an AlbumRepository.
func (s *Store) Albums() *AlbumRepository {
	return &AlbumRepository{pool: s.pool}
}

// Migrate creates the schema if needed and seeds the synthetic archive
// container.
func (s *Store) Migrate(ctx context.Context) error {
	schema := []string{
		`CREATE TABLE IF NOT EXISTS albums (
			id TEXT PRIMARY KEY,
			type INT NOT NULL,
			name TEXT NOT NULL,
			parent_id TEXT NOT NULL DEFAULT '',
			created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
			updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
		)`,
		`CREATE TABLE IF NOT EXISTS album_assets (
			album_id TEXT NOT NULL REFERENCES albums(id) ON DELETE CASCADE,
			asset_id TEXT NOT NULL,
			filename TEXT NOT NULL,
			PRIMARY KEY (album_id, asset_id)
		)`,
		`CREATE INDEX IF NOT EXISTS albums_parent_idx ON albums(parent_id)`,
	}
	for _, stmt := range schema {
		if _, err := s.pool.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("migrating schema: %w", err)
		}
	}

	stash := photos.NewStash()
	_, err := s.pool.Exec(ctx,
		`INSERT INTO albums (id, type, name, parent_id) VALUES ($1, $2, $3, $4)
		 ON CONFLICT (id) DO NOTHING`,
		stash.ID, int(stash.Type), stash.Name, stash.ParentID,
	)
	if err != nil {
		return fmt.Errorf("seeding archive container: %w", err)
	}
	return nil
}
