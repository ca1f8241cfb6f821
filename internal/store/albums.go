package store

import (
	"context"
	"database/sql"
	"fmt"
)

// Album is a Facebook photo album. Albums are never deduplicated.
type Album struct {
	ID            int64
	Name          string
	Description   string
	CoverURI      string
	CoverData     []byte
	CoverMimeType string
	LastModified  sql.NullTime
	SourceFile    string
}

// AlbumImage is one photo of an album. Data is nil when the file could not
// be found in the export.
type AlbumImage struct {
	ID          int64
	AlbumID     int64
	URI         string
	Filename    string
	Title       string
	Description string
	CreatedAt   sql.NullTime
	Data        []byte
	MimeType    string
	TakenAt     sql.NullTime
	HasGPS      bool
	Latitude    float64
	Longitude   float64
}

// CreateAlbum inserts an album row and returns its id.
func (s *Store) CreateAlbum(ctx context.Context, a *Album) (int64, error) {
	res, err := s.db.ExecContext(ctx, `
		INSERT INTO facebook_albums (name, description, cover_uri, cover_data, cover_mime_type, last_modified, source_file)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`, a.Name, a.Description, a.CoverURI, nullBytes(a.CoverData), a.CoverMimeType,
		formatNullTime(a.LastModified), a.SourceFile)
	if err != nil {
		return 0, fmt.Errorf("insert album: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0, err
	}
	a.ID = id
	return id, nil
}

// InsertAlbumImage inserts an album image row and returns its id.
func (s *Store) InsertAlbumImage(ctx context.Context, img *AlbumImage) (int64, error) {
	var lat, lon any
	if img.HasGPS {
		lat, lon = img.Latitude, img.Longitude
	}
	res, err := s.db.ExecContext(ctx, `
		INSERT INTO album_images (
			album_id, uri, filename, title, description, creation_timestamp,
			data, mime_type, taken_at, latitude, longitude
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, img.AlbumID, img.URI, img.Filename, img.Title, img.Description, formatNullTime(img.CreatedAt),
		nullBytes(img.Data), img.MimeType, formatNullTime(img.TakenAt), lat, lon)
	if err != nil {
		return 0, fmt.Errorf("insert album image: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0, err
	}
	img.ID = id
	return id, nil
}

// ListAlbumImages returns the images of an album in insertion order.
func (s *Store) ListAlbumImages(ctx context.Context, albumID int64) ([]*AlbumImage, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, album_id, uri, filename, title, description, creation_timestamp,
		       data, mime_type, taken_at, latitude, longitude
		FROM album_images WHERE album_id = ? ORDER BY id
	`, albumID)
	if err != nil {
		return nil, fmt.Errorf("list album images: %w", err)
	}
	defer rows.Close()

	var out []*AlbumImage
	for rows.Next() {
		var img AlbumImage
		var filename, title, description, mimeType, created, taken sql.NullString
		var lat, lon sql.NullFloat64
		if err := rows.Scan(&img.ID, &img.AlbumID, &img.URI, &filename, &title, &description, &created,
			&img.Data, &mimeType, &taken, &lat, &lon); err != nil {
			return nil, err
		}
		img.Filename = filename.String
		img.Title = title.String
		img.Description = description.String
		img.MimeType = mimeType.String
		img.CreatedAt = parseNullTime(created)
		img.TakenAt = parseNullTime(taken)
		if lat.Valid && lon.Valid {
			img.HasGPS = true
			img.Latitude = lat.Float64
			img.Longitude = lon.Float64
		}
		out = append(out, &img)
	}
	return out, rows.Err()
}
