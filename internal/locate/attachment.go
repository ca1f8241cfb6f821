package locate

import (
	"errors"
	"io/fs"
	"path"
	"path/filepath"
	"strings"
)

// mediaSubdirs are the folders platform exports place attachments in.
var mediaSubdirs = []string{"photos", "videos", "files", "audio", "gifs"}

// substitutions maps an extension to the format export tools commonly
// convert it to while leaving the original name in the metadata.
var substitutions = map[string]string{
	".heic": ".jpg",
	".opus": ".mp3",
}

// errFound stops a directory walk early.
var errFound = errors.New("found")

// Resolution is the outcome of resolving an attachment reference.
type Resolution struct {
	Path        string // absolute or base-relative path on disk
	Filename    string // file name to record, after any substitution
	MimeType    string // MIME type of Filename
	Substituted bool   // true when a fallback extension matched
}

// Attachment locates uri relative to baseDir. Strategies, first hit wins:
// the exact relative path, the bare file name, the known media subfolders,
// the export root (detected with uri as the probe when exportRoot is empty),
// and finally a recursive search under baseDir for the same file name.
func Attachment(baseDir, uri, exportRoot string) (string, bool) {
	uri = cleanURI(uri)
	if uri == "" {
		return "", false
	}
	name := path.Base(uri)

	if p := filepath.Join(baseDir, filepath.FromSlash(uri)); isFile(p) {
		return p, true
	}
	if p := filepath.Join(baseDir, name); isFile(p) {
		return p, true
	}
	for _, sub := range mediaSubdirs {
		if p := filepath.Join(baseDir, sub, name); isFile(p) {
			return p, true
		}
	}

	if exportRoot != "" {
		if p, ok := underRoot(exportRoot, uri, DefaultMarkers...); ok {
			return p, true
		}
	} else {
		for _, marker := range DefaultMarkers {
			root, ok := ExportRoot(baseDir, marker, uri)
			if !ok {
				continue
			}
			if p, ok := underRoot(root, uri, marker); ok {
				return p, true
			}
		}
	}

	return findByName(baseDir, func(n string) bool { return n == name })
}

// underRoot looks for uri under root, then for the tail of uri starting at
// any of the markers.
func underRoot(root, uri string, markers ...string) (string, bool) {
	if p := filepath.Join(root, filepath.FromSlash(uri)); isFile(p) {
		return p, true
	}
	for _, marker := range markers {
		if i := markerIndex(uri, marker); i > 0 {
			if p := filepath.Join(root, filepath.FromSlash(uri[i:])); isFile(p) {
				return p, true
			}
		}
	}
	return "", false
}

// Resolve is Attachment with format-substitution fallbacks: a missing .heic
// is retried as .jpg and a missing .opus as .mp3. The returned Filename and
// MimeType describe the file actually found.
func Resolve(baseDir, uri, exportRoot string) (Resolution, bool) {
	if p, ok := Attachment(baseDir, uri, exportRoot); ok {
		name := filepath.Base(p)
		return Resolution{Path: p, Filename: name, MimeType: MimeType(name)}, true
	}
	alt, ok := substitute(cleanURI(uri))
	if !ok {
		return Resolution{}, false
	}
	p, ok := Attachment(baseDir, alt, exportRoot)
	if !ok {
		return Resolution{}, false
	}
	name := filepath.Base(p)
	return Resolution{Path: p, Filename: name, MimeType: MimeType(name), Substituted: true}, true
}

// FindSuffix searches dir recursively for a file whose name ends with name.
// Chat exporters prefix attachment files with message identifiers, so an
// exact match is not expected. The same format substitutions as Resolve apply.
func FindSuffix(dir, name string) (Resolution, bool) {
	name = filepath.Base(cleanURI(name))
	if name == "" || name == "." {
		return Resolution{}, false
	}
	if p, ok := findByName(dir, func(n string) bool { return strings.HasSuffix(n, name) }); ok {
		found := filepath.Base(p)
		return Resolution{Path: p, Filename: found, MimeType: MimeType(found)}, true
	}
	alt, ok := substitute(name)
	if !ok {
		return Resolution{}, false
	}
	if p, ok := findByName(dir, func(n string) bool { return strings.HasSuffix(n, alt) }); ok {
		found := filepath.Base(p)
		return Resolution{Path: p, Filename: found, MimeType: MimeType(found), Substituted: true}, true
	}
	return Resolution{}, false
}

// substitute swaps a convertible extension, preserving the original case of
// the stem.
func substitute(uri string) (string, bool) {
	ext := path.Ext(uri)
	repl, ok := substitutions[strings.ToLower(ext)]
	if !ok {
		return "", false
	}
	return strings.TrimSuffix(uri, ext) + repl, true
}

// findByName walks root and returns the first regular file whose base name
// satisfies match. Walk order is lexical, so results are deterministic.
func findByName(root string, match func(string) bool) (string, bool) {
	var found string
	err := filepath.WalkDir(root, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			// Unreadable subtrees are skipped rather than aborting the search.
			if d != nil && d.IsDir() && p != root {
				return fs.SkipDir
			}
			return nil
		}
		if d.Type().IsRegular() && match(d.Name()) {
			found = p
			return errFound
		}
		return nil
	})
	if errors.Is(err, errFound) {
		return found, true
	}
	return "", false
}
