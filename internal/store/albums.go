package store

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/frostpix/frostpix/internal/photos"
)

// ErrNotFound is returned when an album does not exist locally.
var ErrNotFound = errors.New("not found")

// AlbumRepository handles album tree database operations.
type AlbumRepository struct {
	pool *pgxpool.Pool
}

// LoadAlbums loads the whole local tree with asset membership.
func (r *AlbumRepository) LoadAlbums(ctx context.Context) ([]photos.Album, error) {
	rows, err := r.pool.Query(ctx, `SELECT id, type, name, parent_id FROM albums ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("querying albums: %w", err)
	}
	defer rows.Close()

	var albums []photos.Album
	byID := map[string]int{}
	for rows.Next() {
		var a photos.Album
		var typeCode int
		if err := rows.Scan(&a.ID, &typeCode, &a.Name, &a.ParentID); err != nil {
			return nil, fmt.Errorf("scanning album: %w", err)
		}
		a.Type = photos.AlbumType(typeCode)
		a.Assets = map[string]string{}
		byID[a.ID] = len(albums)
		albums = append(albums, a)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("reading albums: %w", err)
	}

	assetRows, err := r.pool.Query(ctx, `SELECT album_id, asset_id, filename FROM album_assets`)
	if err != nil {
		return nil, fmt.Errorf("querying album assets: %w", err)
	}
	defer assetRows.Close()

	for assetRows.Next() {
		var albumID, assetID, filename string
		if err := assetRows.Scan(&albumID, &assetID, &filename); err != nil {
			return nil, fmt.Errorf("scanning album asset: %w", err)
		}
		if i, ok := byID[albumID]; ok {
			albums[i].Assets[assetID] = filename
		}
	}
	if err := assetRows.Err(); err != nil {
		return nil, fmt.Errorf("reading album assets: %w", err)
	}

	return albums, nil
}

// Get retrieves one album without its assets.
func (r *AlbumRepository) Get(ctx context.Context, id string) (*photos.Album, error) {
	var a photos.Album
	var typeCode int
	err := r.pool.QueryRow(ctx,
		`SELECT id, type, name, parent_id FROM albums WHERE id = $1`, id,
	).Scan(&a.ID, &typeCode, &a.Name, &a.ParentID)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("getting album: %w", err)
	}
	a.Type = photos.AlbumType(typeCode)
	return &a, nil
}

// upsert writes the album row and replaces its asset membership inside
// the given transaction.
func (r *AlbumRepository) upsert(ctx context.Context, tx pgx.Tx, a photos.Album) error {
	_, err := tx.Exec(ctx,
		`INSERT INTO albums (id, type, name, parent_id) VALUES ($1, $2, $3, $4)
		 ON CONFLICT (id) DO UPDATE SET
			type = EXCLUDED.type,
			name = EXCLUDED.name,
			parent_id = EXCLUDED.parent_id,
			updated_at = now()`,
		a.ID, int(a.Type), a.Name, a.ParentID,
	)
	if err != nil {
		return fmt.Errorf("upserting album %s: %w", a.ID, err)
	}

	if _, err := tx.Exec(ctx, `DELETE FROM album_assets WHERE album_id = $1`, a.ID); err != nil {
		return fmt.Errorf("clearing assets of album %s: %w", a.ID, err)
	}
	if len(a.Assets) == 0 {
		return nil
	}

	assetIDs := make([]string, 0, len(a.Assets))
	filenames := make([]string, 0, len(a.Assets))
	albumIDs := make([]string, 0, len(a.Assets))
	for assetID, filename := range a.Assets {
		albumIDs = append(albumIDs, a.ID)
		assetIDs = append(assetIDs, assetID)
		filenames = append(filenames, filename)
	}
	_, err = tx.Exec(ctx,
		`INSERT INTO album_assets (album_id, asset_id, filename)
		 SELECT * FROM unnest($1::text[], $2::text[], $3::text[])`,
		albumIDs, assetIDs, filenames,
	)
	if err != nil {
		return fmt.Errorf("inserting assets of album %s: %w", a.ID, err)
	}
	return nil
}

// setParent moves an album under a new parent inside the transaction.
func (r *AlbumRepository) setParent(ctx context.Context, tx pgx.Tx, id, parentID string) error {
	tag, err := tx.Exec(ctx,
		`UPDATE albums SET parent_id = $2, updated_at = now() WHERE id = $1`, id, parentID)
	if err != nil {
		return fmt.Errorf("moving album %s: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("moving album %s: %w", id, ErrNotFound)
	}
	return nil
}

// delete removes an album; its asset rows go with it.
func (r *AlbumRepository) delete(ctx context.Context, tx pgx.Tx, id string) error {
	if _, err := tx.Exec(ctx, `DELETE FROM albums WHERE id = $1`, id); err != nil {
		return fmt.Errorf("deleting album %s: %w", id, err)
	}
	return nil
}

// Archive marks an album as archived, freezing its asset membership.
func (r *AlbumRepository) Archive(ctx context.Context, id string) error {
	tag, err := r.pool.Exec(ctx,
		`UPDATE albums SET type = $2, updated_at = now() WHERE id = $1`,
		id, int(photos.TypeArchived),
	)
	if err != nil {
		return fmt.Errorf("archiving album %s: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("archiving album %s: %w", id, ErrNotFound)
	}
	return nil
}
