// Package locate finds files referenced by platform data exports: the export
// root that URIs are relative to, and attachment files that may have been
// moved, renamed, or converted to another format.
package locate

import (
	"os"
	"path/filepath"
	"strings"
)

// maxAscend bounds the upward search so malformed paths cannot loop.
const maxAscend = 10

// DefaultMarkers are the export marker folders tried when the caller does not
// name one.
var DefaultMarkers = []string{
	"your_facebook_activity",
	"your_instagram_activity",
	"your_activity_across_facebook",
	"messages",
}

// ExportRoot walks upward from startDir looking for a directory that has a
// child folder named marker. When uri is non-empty the candidate is accepted
// only if candidate/uri exists, which rules out unrelated folders that happen
// to share the marker name. If the upward walk fails and uri contains the
// marker, the root is reconstructed from the URI's segments instead; such a
// root holds either root/uri or, when the URI's leading prefix is absent on
// disk, the part of uri that starts at the marker.
func ExportRoot(startDir, marker, uri string) (string, bool) {
	if startDir == "" || marker == "" {
		return "", false
	}
	start, err := filepath.Abs(startDir)
	if err != nil {
		return "", false
	}
	uri = cleanURI(uri)

	dir := start
	for i := 0; i < maxAscend; i++ {
		if isDir(filepath.Join(dir, marker)) {
			if uri == "" || exists(filepath.Join(dir, uri)) {
				return dir, true
			}
		}
		parent := filepath.Dir(dir)
		if parent == dir {
			break
		}
		dir = parent
	}

	if uri == "" {
		return "", false
	}
	return rootFromURI(start, marker, uri)
}

// rootFromURI handles exports whose marker folder sits under a prefix the
// upward walk cannot see, e.g. a URI of "archive/your_facebook_activity/x.jpg"
// referenced from a folder outside "archive".
func rootFromURI(start, marker, uri string) (string, bool) {
	idx := markerIndex(uri, marker)
	if idx < 0 {
		return "", false
	}
	prefix := strings.Trim(uri[:idx], "/")
	rest := uri[idx:]

	// The conversation folder may itself live under the marker.
	if i := markerIndex(filepath.ToSlash(start), marker); i > 0 {
		candidate := filepath.FromSlash(strings.TrimRight(filepath.ToSlash(start)[:i], "/"))
		if exists(filepath.Join(candidate, rest)) {
			return candidate, true
		}
	}

	dir := start
	for i := 0; i < maxAscend; i++ {
		if exists(filepath.Join(dir, rest)) {
			return dir, true
		}
		if prefix != "" && exists(filepath.Join(dir, prefix, rest)) {
			return dir, true
		}
		parent := filepath.Dir(dir)
		if parent == dir {
			break
		}
		dir = parent
	}
	return "", false
}

// markerIndex returns the byte offset of marker in p when it appears as a
// whole path segment, or -1.
func markerIndex(p, marker string) int {
	if p == marker || strings.HasPrefix(p, marker+"/") {
		return 0
	}
	if i := strings.Index(p, "/"+marker+"/"); i >= 0 {
		return i + 1
	}
	if strings.HasSuffix(p, "/"+marker) {
		return len(p) - len(marker)
	}
	return -1
}

func cleanURI(uri string) string {
	uri = strings.TrimSpace(uri)
	uri = strings.TrimPrefix(uri, "file://")
	uri = filepath.ToSlash(uri)
	return strings.TrimPrefix(uri, "./")
}

func exists(p string) bool {
	_, err := os.Stat(p)
	return err == nil
}

func isDir(p string) bool {
	info, err := os.Stat(p)
	return err == nil && info.IsDir()
}

func isFile(p string) bool {
	info, err := os.Stat(p)
	return err == nil && info.Mode().IsRegular()
}
