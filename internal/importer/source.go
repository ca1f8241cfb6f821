// Package importer defines the contract shared by all source importers:
// the source enum, run statistics, options, and the chat import pipeline.
package importer

import (
	"errors"
	"fmt"
	"os"
)

// Source identifies an import source.
type Source string

const (
	SourceIMessage       Source = "imessage"
	SourceWhatsApp       Source = "whatsapp"
	SourceFacebook       Source = "facebook"
	SourceInstagram      Source = "instagram"
	SourceFacebookAlbums Source = "albums"
	SourceImages         Source = "images"
	SourceGmail          Source = "gmail"
)

var allSources = []Source{
	SourceIMessage,
	SourceWhatsApp,
	SourceFacebook,
	SourceInstagram,
	SourceFacebookAlbums,
	SourceImages,
	SourceGmail,
}

// Sources returns every known source in a stable order.
func Sources() []Source {
	return append([]Source(nil), allSources...)
}

// ParseSource maps a source name to its Source.
func ParseSource(name string) (Source, bool) {
	for _, s := range allSources {
		if string(s) == name {
			return s, true
		}
	}
	return "", false
}

// Unit names what one step of an import of this source processes.
func (s Source) Unit() string {
	switch s {
	case SourceFacebookAlbums:
		return "albums"
	case SourceImages:
		return "files"
	case SourceGmail:
		return "labels"
	default:
		return "conversations"
	}
}

// NeedsDirectory reports whether imports of this source read an export
// directory.
func (s Source) NeedsDirectory() bool {
	return s != SourceGmail
}

// ErrInvalidDirectory is returned before any work starts when an import
// directory is missing or not a directory.
var ErrInvalidDirectory = errors.New("invalid directory")

// ValidateDir checks that dir exists and is a directory.
func ValidateDir(dir string) error {
	if dir == "" {
		return fmt.Errorf("%w: no directory given", ErrInvalidDirectory)
	}
	info, err := os.Stat(dir)
	if err != nil {
		return fmt.Errorf("%w: %s: %v", ErrInvalidDirectory, dir, err)
	}
	if !info.IsDir() {
		return fmt.Errorf("%w: %s is not a directory", ErrInvalidDirectory, dir)
	}
	return nil
}
