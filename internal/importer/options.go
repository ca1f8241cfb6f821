package importer

import (
	"context"
	"log/slog"
)

// DefaultMaxAttachmentSize caps the size of a single attachment file read
// into the archive.
const DefaultMaxAttachmentSize = 100 * 1024 * 1024

// Reporter receives a stats snapshot after each processed unit.
type Reporter interface {
	Report(Stats)
}

// ReporterFunc adapts a function to Reporter.
type ReporterFunc func(Stats)

// Report calls f(s).
func (f ReporterFunc) Report(s Stats) { f(s) }

// Canceller is polled before each unit.
type Canceller interface {
	Cancelled() bool
}

// CancellerFunc adapts a function to Canceller.
type CancellerFunc func() bool

// Cancelled calls f().
func (f CancellerFunc) Cancelled() bool { return f() }

// Options configure an import run. Zero values select defaults.
type Options struct {
	Logger    *slog.Logger
	Reporter  Reporter
	Canceller Canceller

	// UserName identifies the archive owner in Facebook/Instagram exports.
	// Empty means the first listed participant.
	UserName string

	// ExportRoot overrides export root detection for attachment lookups.
	ExportRoot string

	// MaxAttachmentSize skips larger attachment files (default 100MB).
	MaxAttachmentSize int64

	// Filesystem image options.
	MaxImages        int // 0 = unlimited
	ExcludePatterns  []string
	CreateThumbnails bool
	ThumbnailSize    int
}

// Log returns the configured logger or the default logger.
func (o *Options) Log() *slog.Logger {
	if o.Logger == nil {
		return slog.Default()
	}
	return o.Logger
}

// MaxAttachmentBytes returns the effective attachment size cap.
func (o *Options) MaxAttachmentBytes() int64 {
	if o.MaxAttachmentSize <= 0 {
		return DefaultMaxAttachmentSize
	}
	return o.MaxAttachmentSize
}

// Report sends a copy of stats to the reporter, if any.
func (o *Options) Report(stats *Stats) {
	if o.Reporter != nil {
		o.Reporter.Report(stats.Clone())
	}
}

// Cancelled reports whether the run should stop before its next unit.
// Context cancellation counts as a cancel request.
func (o *Options) Cancelled(ctx context.Context) bool {
	if ctx.Err() != nil {
		return true
	}
	return o.Canceller != nil && o.Canceller.Cancelled()
}
