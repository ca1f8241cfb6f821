package importer

import (
	"context"
	"fmt"
	"io"
	"iter"
	"os"
	"path/filepath"
	"sync"

	"github.com/wesm/lifevault/internal/locate"
	"github.com/wesm/lifevault/internal/store"
)

// Unit is one independently processed piece of an export, e.g. one
// conversation folder or file.
type Unit struct {
	Name string // conversation name, used in progress and missing-file keys
	Path string
}

// AttachmentRef describes the attachment a message references.
type AttachmentRef struct {
	Name     string // file name as referenced by the export
	Path     string // resolved file, empty when not found
	MimeType string
}

// NormalizedMessage is a parsed chat message ready for storage.
type NormalizedMessage struct {
	store.ChatMessage
	Attachment *AttachmentRef
}

// ChatParser turns one chat export format into normalized messages.
type ChatParser interface {
	// Service is the service name used for post-pass serialization.
	Service() string
	// Units lists the conversations under an export root.
	Units(root string) ([]Unit, error)
	// Parse yields the messages of one unit. A yielded error is counted and
	// skipped; the sequence decides whether to continue.
	Parse(unit Unit) iter.Seq2[*NormalizedMessage, error]
}

// PostProcessor is implemented by parsers that need a pass over the stored
// data once all units are imported.
type PostProcessor interface {
	PostProcess(ctx context.Context, st *store.Store) error
}

var postPassLocks sync.Map // service -> *sync.Mutex

// lockPostPass serializes post-passes of the same service across jobs.
func lockPostPass(service string) func() {
	v, _ := postPassLocks.LoadOrStore(service, &sync.Mutex{})
	mu := v.(*sync.Mutex)
	mu.Lock()
	return mu.Unlock
}

// RunChat imports every unit of a chat export. Cancellation is checked
// before each unit; a unit that has started runs to completion. Parse
// errors are counted and skipped; storage errors end the run.
func RunChat(ctx context.Context, st *store.Store, p ChatParser, root string, opts Options) (*Stats, error) {
	log := opts.Log().With("service", p.Service())

	if err := ValidateDir(root); err != nil {
		return nil, err
	}
	units, err := p.Units(root)
	if err != nil {
		return nil, fmt.Errorf("list conversations: %w", err)
	}

	stats := NewStats("conversations")
	stats.TotalUnits = len(units)
	opts.Report(stats)
	log.Info("import started", "root", root, "conversations", len(units))

	// Writes of a started unit complete even if ctx is cancelled meanwhile.
	writeCtx := context.WithoutCancel(ctx)

	for _, unit := range units {
		if opts.Cancelled(ctx) {
			stats.Cancelled = true
			log.Info("import cancelled", "processed", stats.UnitsProcessed)
			break
		}
		stats.CurrentUnit = unit.Name

		for msg, err := range p.Parse(unit) {
			if err != nil {
				stats.Errors++
				log.Warn("skipping record", "conversation", unit.Name, "error", err)
				continue
			}

			blob := loadAttachment(msg.Attachment, unit, stats, &opts)
			_, updated, err := st.UpsertMessage(writeCtx, &msg.ChatMessage, blob)
			if err != nil {
				return stats, fmt.Errorf("store message in %s: %w", unit.Name, err)
			}
			stats.RecordStored(updated)
		}

		stats.UnitsProcessed++
		opts.Report(stats)
	}
	stats.CurrentUnit = ""

	if pp, ok := p.(PostProcessor); ok {
		unlock := lockPostPass(p.Service())
		err := pp.PostProcess(writeCtx, st)
		unlock()
		if err != nil {
			return stats, fmt.Errorf("post-process: %w", err)
		}
	}

	opts.Report(stats)
	log.Info("import finished",
		"conversations", stats.UnitsProcessed,
		"created", stats.MessagesCreated,
		"updated", stats.MessagesUpdated,
		"missing_attachments", stats.AttachmentsMissing,
		"errors", stats.Errors,
		"cancelled", stats.Cancelled)
	return stats, nil
}

// loadAttachment reads a referenced attachment and updates the found and
// missing counters. It returns nil when there is no usable attachment.
func loadAttachment(ref *AttachmentRef, unit Unit, stats *Stats, opts *Options) *store.Blob {
	if ref == nil || ref.Name == "" {
		return nil
	}
	if ref.Path == "" {
		stats.RecordMissing(unit.Name, ref.Name)
		return nil
	}

	data, err := ReadAttachment(ref.Path, opts.MaxAttachmentBytes())
	if err != nil {
		opts.Log().Warn("attachment unreadable", "path", ref.Path, "error", err)
		stats.RecordMissing(unit.Name, ref.Name)
		return nil
	}

	stats.AttachmentsFound++
	mimeType := ref.MimeType
	if mimeType == "" {
		mimeType = locate.MimeType(ref.Path)
	}
	return &store.Blob{Data: data, MimeType: mimeType, Filename: filepath.Base(ref.Path)}
}

// ReadAttachment reads a file of at most maxSize bytes.
func ReadAttachment(path string, maxSize int64) ([]byte, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return nil, err
	}
	if info.Size() > maxSize {
		return nil, fmt.Errorf("%s is %d bytes, over the %d byte limit", path, info.Size(), maxSize)
	}
	return io.ReadAll(io.LimitReader(f, maxSize+1))
}
