// Package albums imports Facebook photo albums (the JSON files in an
// export's album/ folder) together with their image files.
package albums

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"time"

	"github.com/wesm/lifevault/internal/importer"
	"github.com/wesm/lifevault/internal/locate"
	"github.com/wesm/lifevault/internal/store"
	"github.com/wesm/lifevault/internal/textutil"
)

// albumDirName is the export folder holding one JSON file per album.
const albumDirName = "album"

type albumFile struct {
	Name                  string  `json:"name"`
	Description           string  `json:"description"`
	Photos                []photo `json:"photos"`
	CoverPhoto            *photo  `json:"cover_photo"`
	LastModifiedTimestamp int64   `json:"last_modified_timestamp"`
}

type photo struct {
	URI               string         `json:"uri"`
	CreationTimestamp int64          `json:"creation_timestamp"`
	Title             string         `json:"title"`
	Description       string         `json:"description"`
	MediaMetadata     *mediaMetadata `json:"media_metadata"`
}

type mediaMetadata struct {
	PhotoMetadata *struct {
		ExifData []exifData `json:"exif_data"`
	} `json:"photo_metadata"`
}

type exifData struct {
	TakenTimestamp int64    `json:"taken_timestamp"`
	Latitude       *float64 `json:"latitude"`
	Longitude      *float64 `json:"longitude"`
}

// exif returns the first EXIF record of the photo, if any.
func (p *photo) exif() *exifData {
	if p.MediaMetadata == nil || p.MediaMetadata.PhotoMetadata == nil {
		return nil
	}
	if len(p.MediaMetadata.PhotoMetadata.ExifData) == 0 {
		return nil
	}
	return &p.MediaMetadata.PhotoMetadata.ExifData[0]
}

func unixTime(sec int64) sql.NullTime {
	if sec <= 0 {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: time.Unix(sec, 0).UTC(), Valid: true}
}

// FindAlbumFiles returns the album JSON files under dir. dir may be the
// album folder itself or any ancestor of it.
func FindAlbumFiles(dir string) ([]string, error) {
	var files []string
	err := filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() || !strings.EqualFold(filepath.Ext(path), ".json") {
			return nil
		}
		if filepath.Base(filepath.Dir(path)) == albumDirName {
			files = append(files, path)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	slices.Sort(files)
	return files, nil
}

// Importer imports album files into the store.
type Importer struct {
	store *store.Store
	opts  importer.Options
}

// Import imports every album under dir. Albums are inserted on every run.
func Import(ctx context.Context, st *store.Store, dir string, opts importer.Options) (*importer.Stats, error) {
	if err := importer.ValidateDir(dir); err != nil {
		return nil, err
	}
	files, err := FindAlbumFiles(dir)
	if err != nil {
		return nil, fmt.Errorf("find albums: %w", err)
	}

	imp := &Importer{store: st, opts: opts}
	log := opts.Log().With("source", importer.SourceFacebookAlbums)
	stats := importer.NewStats(importer.SourceFacebookAlbums.Unit())
	stats.TotalUnits = len(files)
	opts.Report(stats)
	log.Info("import started", "root", dir, "albums", len(files))

	writeCtx := context.WithoutCancel(ctx)
	for _, path := range files {
		if opts.Cancelled(ctx) {
			stats.Cancelled = true
			break
		}
		stats.CurrentUnit = filepath.Base(path)

		album, err := readAlbum(path)
		if err != nil {
			stats.Errors++
			log.Warn("skipping album", "file", path, "error", err)
		} else if err := imp.importAlbum(writeCtx, path, album, stats); err != nil {
			return stats, err
		}

		stats.UnitsProcessed++
		opts.Report(stats)
	}
	stats.CurrentUnit = ""

	opts.Report(stats)
	log.Info("import finished",
		"albums", stats.UnitsProcessed,
		"images", stats.MessagesCreated,
		"missing", stats.AttachmentsMissing,
		"errors", stats.Errors,
		"cancelled", stats.Cancelled)
	return stats, nil
}

func readAlbum(path string) (*albumFile, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var a albumFile
	if err := json.Unmarshal(data, &a); err != nil {
		return nil, fmt.Errorf("parse %s: %w", path, err)
	}
	return &a, nil
}

func (imp *Importer) importAlbum(ctx context.Context, path string, a *albumFile, stats *importer.Stats) error {
	albumDir := filepath.Dir(path)
	name := textutil.FixMojibake(a.Name)
	if name == "" {
		name = strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))
	}

	rec := &store.Album{
		Name:         name,
		Description:  textutil.FixMojibake(a.Description),
		LastModified: unixTime(a.LastModifiedTimestamp),
		SourceFile:   path,
	}
	if a.CoverPhoto != nil && a.CoverPhoto.URI != "" {
		rec.CoverURI = a.CoverPhoto.URI
		rec.CoverData, rec.CoverMimeType = imp.load(albumDir, a.CoverPhoto.URI, name, stats)
	}
	albumID, err := imp.store.CreateAlbum(ctx, rec)
	if err != nil {
		return fmt.Errorf("store album %q: %w", name, err)
	}

	for i := range a.Photos {
		p := &a.Photos[i]
		img := &store.AlbumImage{
			AlbumID:     albumID,
			URI:         p.URI,
			Filename:    filepath.Base(p.URI),
			Title:       textutil.FixMojibake(p.Title),
			Description: textutil.FixMojibake(p.Description),
			CreatedAt:   unixTime(p.CreationTimestamp),
		}
		img.Data, img.MimeType = imp.load(albumDir, p.URI, name, stats)
		if ex := p.exif(); ex != nil {
			img.TakenAt = unixTime(ex.TakenTimestamp)
			if ex.Latitude != nil && ex.Longitude != nil {
				img.HasGPS = true
				img.Latitude = *ex.Latitude
				img.Longitude = *ex.Longitude
			}
		}
		if _, err := imp.store.InsertAlbumImage(ctx, img); err != nil {
			return fmt.Errorf("store image %s: %w", p.URI, err)
		}
		stats.RecordStored(false)
	}
	return nil
}

// load resolves and reads an image, recording it as missing when it cannot
// be found or read. Missing images return nil data.
func (imp *Importer) load(albumDir, uri, albumName string, stats *importer.Stats) ([]byte, string) {
	res, ok := locate.Resolve(albumDir, uri, imp.opts.ExportRoot)
	if !ok {
		stats.RecordMissing(albumName, filepath.Base(uri))
		return nil, ""
	}
	data, err := importer.ReadAttachment(res.Path, imp.opts.MaxAttachmentBytes())
	if err != nil {
		imp.opts.Log().Warn("image unreadable", "path", res.Path, "error", err)
		stats.RecordMissing(albumName, filepath.Base(uri))
		return nil, ""
	}
	stats.AttachmentsFound++
	return data, res.MimeType
}
