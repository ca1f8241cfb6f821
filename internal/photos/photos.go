// Package photos imports image files from directory trees, extracting EXIF
// metadata and optional thumbnails.
package photos

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/wesm/lifevault/internal/imaging"
	"github.com/wesm/lifevault/internal/importer"
	"github.com/wesm/lifevault/internal/locate"
	"github.com/wesm/lifevault/internal/store"
)

var imageExtensions = map[string]bool{
	".jpg": true, ".jpeg": true, ".png": true, ".gif": true,
	".heic": true, ".heif": true, ".webp": true, ".bmp": true,
	".tif": true, ".tiff": true,
}

var excludedNames = map[string]bool{
	"Thumbs.db":   true,
	"desktop.ini": true,
	".DS_Store":   true,
}

const excludedDir = ".photostructure"

// Excluded reports whether a walked entry should be skipped. Caller
// patterns are shell globs matched against the entry name and its full path.
func Excluded(path string, isDir bool, patterns []string) bool {
	name := filepath.Base(path)
	if isDir && name == excludedDir {
		return true
	}
	if !isDir && (excludedNames[name] || strings.HasPrefix(name, "._")) {
		return true
	}
	for _, pat := range patterns {
		if ok, _ := filepath.Match(pat, name); ok {
			return true
		}
		if ok, _ := filepath.Match(pat, path); ok {
			return true
		}
	}
	return false
}

// IsImage reports whether path has a known image extension.
func IsImage(path string) bool {
	return imageExtensions[strings.ToLower(filepath.Ext(path))]
}

// walk calls fn for each importable image below root in lexical order.
// Returning a non-nil error from fn stops the walk.
func walk(root string, patterns []string, fn func(path string) error) error {
	return filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			if d != nil && d.IsDir() && path != root {
				return fs.SkipDir
			}
			return err
		}
		if path != root && Excluded(path, d.IsDir(), patterns) {
			if d.IsDir() {
				return fs.SkipDir
			}
			return nil
		}
		if d.IsDir() || !d.Type().IsRegular() || !IsImage(path) {
			return nil
		}
		return fn(path)
	})
}

// errStop ends a walk early.
var errStop = errors.New("stop walk")

// Import imports images from one directory tree.
func Import(ctx context.Context, st *store.Store, dir string, opts importer.Options) (*importer.Stats, error) {
	return ImportRoots(ctx, st, []string{dir}, opts)
}

// ImportRoots imports images from several trees. opts.MaxImages caps the
// number of images stored across all roots.
func ImportRoots(ctx context.Context, st *store.Store, roots []string, opts importer.Options) (*importer.Stats, error) {
	for _, root := range roots {
		if err := importer.ValidateDir(root); err != nil {
			return nil, err
		}
	}
	log := opts.Log().With("source", importer.SourceImages)

	// Pass one: count.
	stats := importer.NewStats(importer.SourceImages.Unit())
	for _, root := range roots {
		perDir := make(map[string]int)
		err := walk(root, opts.ExcludePatterns, func(path string) error {
			perDir[filepath.Dir(path)]++
			return nil
		})
		if err != nil {
			return nil, fmt.Errorf("scan %s: %w", root, err)
		}
		for dir, n := range perDir {
			log.Debug("images found", "dir", dir, "count", n)
			stats.TotalUnits += n
		}
	}
	opts.Report(stats)
	log.Info("import started", "roots", len(roots), "images", stats.TotalUnits)

	// Pass two: import.
	writeCtx := context.WithoutCancel(ctx)
	remaining := opts.MaxImages
	for _, root := range roots {
		if stats.Cancelled || (opts.MaxImages > 0 && remaining <= 0) {
			break
		}
		stored := 0
		err := walk(root, opts.ExcludePatterns, func(path string) error {
			if opts.Cancelled(ctx) {
				stats.Cancelled = true
				return errStop
			}
			if opts.MaxImages > 0 && stored >= remaining {
				return errStop
			}
			stats.CurrentUnit = path

			updated, err := importFile(writeCtx, st, root, path, &opts)
			if err != nil {
				var se *storeError
				if errors.As(err, &se) {
					return se.err
				}
				stats.Errors++
				log.Warn("skipping image", "path", path, "error", err)
			} else {
				stats.RecordStored(updated)
				stored++
			}
			stats.UnitsProcessed++
			opts.Report(stats)
			return nil
		})
		if err != nil && !errors.Is(err, errStop) {
			return stats, fmt.Errorf("import %s: %w", root, err)
		}
		remaining -= stored
	}
	stats.CurrentUnit = ""

	opts.Report(stats)
	log.Info("import finished",
		"files", stats.UnitsProcessed,
		"created", stats.MessagesCreated,
		"updated", stats.MessagesUpdated,
		"errors", stats.Errors,
		"cancelled", stats.Cancelled)
	return stats, nil
}

var errEmptyFile = errors.New("empty file")

// storeError marks a failure of the store, which ends the run, as opposed
// to a problem with one file.
type storeError struct{ err error }

func (e *storeError) Error() string { return e.err.Error() }

func (e *storeError) Unwrap() error { return e.err }

// importFile reads, describes and stores one image.
func importFile(ctx context.Context, st *store.Store, root, path string, opts *importer.Options) (bool, error) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return false, err
	}
	data, err := importer.ReadAttachment(abs, opts.MaxAttachmentBytes())
	if err != nil {
		return false, err
	}
	if len(data) == 0 {
		return false, errEmptyFile
	}

	item := &store.MediaItem{
		Title:      strings.TrimSuffix(filepath.Base(path), filepath.Ext(path)),
		Tags:       DirTags(root, path),
		SourcePath: abs,
	}
	if md, err := imaging.ReadEXIF(data); err == nil {
		if !md.TakenAt.IsZero() {
			item.TakenAt = sql.NullTime{Time: md.TakenAt, Valid: true}
		}
		item.HasGPS = md.HasGPS
		item.Latitude = md.Latitude
		item.Longitude = md.Longitude
		item.Tags = append(item.Tags, md.Tags...)
		if len(md.Tags) > 0 {
			item.Description = md.Tags[0]
		}
	}

	when := item.TakenAt.Time
	if !item.TakenAt.Valid {
		if info, err := os.Stat(abs); err == nil {
			when = info.ModTime()
		}
	}
	if !when.IsZero() {
		item.Year = when.Year()
		item.Month = int(when.Month())
	}

	blob := &store.MediaBlob{Data: data, MimeType: locate.MimeType(path)}
	if opts.CreateThumbnails {
		thumb, err := imaging.Thumbnail(data, opts.ThumbnailSize)
		if err != nil {
			opts.Log().Debug("no thumbnail", "path", path, "error", err)
		} else {
			blob.Thumbnail = thumb
		}
	}

	_, updated, err := st.UpsertMediaItem(ctx, item, blob)
	if err != nil {
		return false, &storeError{err}
	}
	return updated, nil
}

// DirTags returns the directory names between root and the file.
func DirTags(root, path string) []string {
	rel, err := filepath.Rel(root, filepath.Dir(path))
	if err != nil || rel == "." {
		return nil
	}
	var tags []string
	for _, part := range strings.Split(filepath.ToSlash(rel), "/") {
		if part != "" && part != "." && part != ".." {
			tags = append(tags, part)
		}
	}
	return tags
}
