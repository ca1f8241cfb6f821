package store

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"
)

// MediaItem is an imported image and its metadata.
type MediaItem struct {
	ID          int64
	BlobID      int64
	Title       string
	Description string
	Tags        []string
	Year        int
	Month       int
	TakenAt     sql.NullTime
	HasGPS      bool
	Latitude    float64
	Longitude   float64
	Rating      int
	Processed   bool
	SourcePath  string
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// MediaBlob is the content of a media item. Blobs are shared between items
// with identical content.
type MediaBlob struct {
	ID        int64
	Data      []byte
	Thumbnail []byte
	MimeType  string
}

// UpsertMediaItem stores item keyed by its source path. An existing item is
// updated in place; if its content changed, the previous blob is deleted when
// nothing else references it. Returns the item id and whether it existed.
func (s *Store) UpsertMediaItem(ctx context.Context, item *MediaItem, blob *MediaBlob) (int64, bool, error) {
	if item.SourcePath == "" {
		return 0, false, fmt.Errorf("media item has no source path")
	}
	if blob == nil || len(blob.Data) == 0 {
		return 0, false, fmt.Errorf("media item %s has no content", item.SourcePath)
	}

	var id int64
	var updated bool
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		blobID, err := ensureMediaBlob(ctx, tx, blob)
		if err != nil {
			return err
		}

		var oldBlob int64
		err = tx.QueryRowContext(ctx,
			`SELECT id, blob_id FROM media_items WHERE source_path = ?`, item.SourcePath,
		).Scan(&id, &oldBlob)
		if err != nil && err != sql.ErrNoRows {
			return fmt.Errorf("lookup media item: %w", err)
		}

		tags := strings.Join(item.Tags, ",")
		var lat, lon any
		if item.HasGPS {
			lat, lon = item.Latitude, item.Longitude
		}

		if err == nil {
			_, err = tx.ExecContext(ctx, `
				UPDATE media_items SET
					blob_id = ?, title = ?, description = ?, tags = ?, year = ?, month = ?,
					taken_at = ?, latitude = ?, longitude = ?, has_gps = ?, rating = ?, processed = ?,
					updated_at = strftime('%Y-%m-%d %H:%M:%f', 'now')
				WHERE id = ?
			`, blobID, item.Title, item.Description, tags, item.Year, item.Month,
				formatNullTime(item.TakenAt), lat, lon, item.HasGPS, item.Rating, item.Processed, id)
			if err != nil {
				return fmt.Errorf("update media item: %w", err)
			}
			updated = true
			if oldBlob != blobID {
				return deleteUnreferencedBlob(ctx, tx, oldBlob)
			}
			return nil
		}

		res, err := tx.ExecContext(ctx, `
			INSERT INTO media_items (
				blob_id, title, description, tags, year, month, taken_at,
				latitude, longitude, has_gps, rating, processed, source_path
			) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		`, blobID, item.Title, item.Description, tags, item.Year, item.Month,
			formatNullTime(item.TakenAt), lat, lon, item.HasGPS, item.Rating, item.Processed, item.SourcePath)
		if err != nil {
			return fmt.Errorf("insert media item: %w", err)
		}
		id, err = res.LastInsertId()
		return err
	})
	if err != nil {
		return 0, false, err
	}
	item.ID = id
	return id, updated, nil
}

// ensureMediaBlob returns the id of the blob holding blob.Data, inserting it
// if no blob with the same content hash exists. A missing thumbnail on an
// existing blob is filled in.
func ensureMediaBlob(ctx context.Context, tx *sql.Tx, blob *MediaBlob) (int64, error) {
	hash := ContentHash(blob.Data)
	var id int64
	err := tx.QueryRowContext(ctx, `SELECT id FROM media_blobs WHERE content_hash = ?`, hash).Scan(&id)
	switch {
	case err == nil:
		if len(blob.Thumbnail) > 0 {
			if _, err := tx.ExecContext(ctx,
				`UPDATE media_blobs SET thumbnail = ? WHERE id = ? AND thumbnail IS NULL`,
				blob.Thumbnail, id); err != nil {
				return 0, fmt.Errorf("update thumbnail: %w", err)
			}
		}
	case err == sql.ErrNoRows:
		res, err := tx.ExecContext(ctx, `
			INSERT INTO media_blobs (data, thumbnail, mime_type, size, content_hash)
			VALUES (?, ?, ?, ?, ?)
		`, blob.Data, nullBytes(blob.Thumbnail), blob.MimeType, len(blob.Data), hash)
		if err != nil {
			return 0, fmt.Errorf("insert media blob: %w", err)
		}
		if id, err = res.LastInsertId(); err != nil {
			return 0, err
		}
	default:
		return 0, fmt.Errorf("lookup media blob: %w", err)
	}
	blob.ID = id
	return id, nil
}

// deleteUnreferencedBlob removes a blob once no media item points at it.
// The count runs inside the caller's transaction.
func deleteUnreferencedBlob(ctx context.Context, tx *sql.Tx, blobID int64) error {
	var refs int
	if err := tx.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM media_items WHERE blob_id = ?`, blobID,
	).Scan(&refs); err != nil {
		return fmt.Errorf("count blob references: %w", err)
	}
	if refs > 0 {
		return nil
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM media_blobs WHERE id = ?`, blobID); err != nil {
		return fmt.Errorf("delete media blob: %w", err)
	}
	return nil
}

// DeleteMediaItem deletes a media item and, if it held the last reference,
// its blob. Returns ErrNotFound for an unknown id.
func (s *Store) DeleteMediaItem(ctx context.Context, id int64) error {
	return s.withTx(ctx, func(tx *sql.Tx) error {
		var blobID int64
		err := tx.QueryRowContext(ctx, `SELECT blob_id FROM media_items WHERE id = ?`, id).Scan(&blobID)
		if err == sql.ErrNoRows {
			return fmt.Errorf("media item %d: %w", id, ErrNotFound)
		}
		if err != nil {
			return fmt.Errorf("lookup media item: %w", err)
		}
		if _, err := tx.ExecContext(ctx, `DELETE FROM media_items WHERE id = ?`, id); err != nil {
			return fmt.Errorf("delete media item: %w", err)
		}
		return deleteUnreferencedBlob(ctx, tx, blobID)
	})
}

// GetMediaItem loads a media item by id.
func (s *Store) GetMediaItem(ctx context.Context, id int64) (*MediaItem, error) {
	var m MediaItem
	var title, description, tags, takenAt sql.NullString
	var year, month sql.NullInt64
	var lat, lon sql.NullFloat64
	var createdAt, updatedAt string
	err := s.db.QueryRowContext(ctx, `
		SELECT id, blob_id, title, description, tags, year, month, taken_at,
		       latitude, longitude, has_gps, rating, processed, source_path,
		       created_at, updated_at
		FROM media_items WHERE id = ?
	`, id).Scan(&m.ID, &m.BlobID, &title, &description, &tags, &year, &month, &takenAt,
		&lat, &lon, &m.HasGPS, &m.Rating, &m.Processed, &m.SourcePath,
		&createdAt, &updatedAt)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("media item %d: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, err
	}
	m.Title = title.String
	m.Description = description.String
	if tags.String != "" {
		m.Tags = strings.Split(tags.String, ",")
	}
	m.Year = int(year.Int64)
	m.Month = int(month.Int64)
	m.TakenAt = parseNullTime(takenAt)
	m.Latitude = lat.Float64
	m.Longitude = lon.Float64
	m.CreatedAt = parseTime(createdAt)
	m.UpdatedAt = parseTime(updatedAt)
	return &m, nil
}

// GetMediaItemIDByPath returns the id of the item imported from path.
func (s *Store) GetMediaItemIDByPath(ctx context.Context, path string) (int64, error) {
	var id int64
	err := s.db.QueryRowContext(ctx, `SELECT id FROM media_items WHERE source_path = ?`, path).Scan(&id)
	if err == sql.ErrNoRows {
		return 0, fmt.Errorf("media item %s: %w", path, ErrNotFound)
	}
	return id, err
}
