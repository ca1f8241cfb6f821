// Package sync imports Gmail labels into the archive.
package sync

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/wesm/lifevault/internal/gmail"
	"github.com/wesm/lifevault/internal/importer"
	"github.com/wesm/lifevault/internal/store"
)

// DefaultBatchSize is the number of messages fetched per batch.
const DefaultBatchSize = 10

// ErrUnknownLabel is returned when a requested label does not exist.
var ErrUnknownLabel = errors.New("unknown gmail label")

// ExistsFunc reports whether a message is already archived. uid is the
// Gmail message id, folder the label name.
type ExistsFunc func(ctx context.Context, uid, folder string) (bool, error)

// Options configures a Gmail import.
type Options struct {
	importer.Options

	// Account is the mailbox address; it scopes the history set.
	Account string

	// Labels selects labels by ID or name (case-insensitive). Empty
	// imports every label.
	Labels []string

	// Query is an optional Gmail search query (e.g., "after:2024/01/01").
	Query string

	// NewOnly skips messages already recorded in the label's history or
	// reported by Exists.
	NewOnly bool

	// Exists overrides the existence check used by NewOnly. The default
	// looks the message up in the store.
	Exists ExistsFunc

	// BatchSize is the number of messages to fetch in parallel.
	BatchSize int
}

// Syncer imports Gmail messages label by label.
type Syncer struct {
	client gmail.API
	store  *store.Store
	logger *slog.Logger
	opts   *Options
}

// New creates a new Syncer.
func New(client gmail.API, st *store.Store, opts *Options) *Syncer {
	if opts == nil {
		opts = &Options{}
	}
	if opts.BatchSize <= 0 {
		opts.BatchSize = DefaultBatchSize
	}
	if opts.Exists == nil {
		opts.Exists = st.EmailExists
	}
	return &Syncer{
		client: client,
		store:  st,
		logger: opts.Log(),
		opts:   opts,
	}
}

// WithLogger sets the logger.
func (s *Syncer) WithLogger(logger *slog.Logger) *Syncer {
	s.logger = logger
	s.opts.Logger = logger
	return s
}

// Import walks the selected labels. Cancellation is checked before each
// label; a cancelled context also stops the current label at its next API
// call. API failures other than cancellation and storage errors end the
// import with an error.
func (s *Syncer) Import(ctx context.Context) (*importer.Stats, error) {
	all, err := s.client.ListLabels(ctx)
	if err != nil {
		return nil, fmt.Errorf("list labels: %w", err)
	}
	labels, err := selectLabels(all, s.opts.Labels)
	if err != nil {
		return nil, err
	}
	names := make(map[string]string, len(all))
	for _, l := range all {
		names[l.ID] = l.Name
	}

	stats := importer.NewStats("labels")
	stats.TotalUnits = len(labels)
	s.opts.Report(stats)
	s.logger.Info("gmail import started", "account", s.opts.Account, "labels", len(labels), "new_only", s.opts.NewOnly)

	writeCtx := context.WithoutCancel(ctx)

	for _, label := range labels {
		if s.opts.Cancelled(ctx) {
			stats.Cancelled = true
			break
		}
		stats.CurrentUnit = label.Name

		if err := s.importLabel(ctx, writeCtx, label, names, stats); err != nil {
			if ctx.Err() != nil {
				stats.Cancelled = true
				break
			}
			return stats, err
		}

		stats.UnitsProcessed++
		s.opts.Report(stats)
	}
	stats.CurrentUnit = ""

	s.opts.Report(stats)
	s.logger.Info("gmail import finished",
		"labels", stats.UnitsProcessed,
		"created", stats.MessagesCreated,
		"updated", stats.MessagesUpdated,
		"errors", stats.Errors,
		"cancelled", stats.Cancelled)
	return stats, nil
}

// selectLabels resolves wanted IDs or names against the account's labels.
func selectLabels(all []*gmail.Label, wanted []string) ([]*gmail.Label, error) {
	if len(wanted) == 0 {
		return all, nil
	}
	var out []*gmail.Label
	for _, w := range wanted {
		var found *gmail.Label
		for _, l := range all {
			if l.ID == w || strings.EqualFold(l.Name, w) {
				found = l
				break
			}
		}
		if found == nil {
			return nil, fmt.Errorf("%w: %s", ErrUnknownLabel, w)
		}
		out = append(out, found)
	}
	return out, nil
}

// importLabel pages through one label and stores every selected message.
func (s *Syncer) importLabel(ctx, writeCtx context.Context, label *gmail.Label, names map[string]string, stats *importer.Stats) error {
	log := s.logger.With("label", label.Name)

	var history map[string]bool
	if s.opts.NewOnly {
		var err error
		history, err = s.store.GmailHistory(writeCtx, s.opts.Account, label.ID)
		if err != nil {
			return fmt.Errorf("load history for %s: %w", label.Name, err)
		}
	}

	pageToken := ""
	for {
		resp, err := s.client.ListMessages(ctx, label.ID, s.opts.Query, pageToken)
		if err != nil {
			return fmt.Errorf("list messages in %s: %w", label.Name, err)
		}

		ids, err := s.pending(ctx, resp.Messages, label, history)
		if err != nil {
			return err
		}
		for start := 0; start < len(ids); start += s.opts.BatchSize {
			end := min(start+s.opts.BatchSize, len(ids))
			if err := s.importBatch(ctx, writeCtx, ids[start:end], label, names, stats, log); err != nil {
				return err
			}
		}

		pageToken = resp.NextPageToken
		if pageToken == "" {
			return nil
		}
	}
}

// pending filters a listing page down to the messages to fetch.
func (s *Syncer) pending(ctx context.Context, refs []gmail.MessageID, label *gmail.Label, history map[string]bool) ([]string, error) {
	ids := make([]string, 0, len(refs))
	for _, ref := range refs {
		if s.opts.NewOnly {
			if history[ref.ID] {
				continue
			}
			exists, err := s.opts.Exists(ctx, ref.ID, label.Name)
			if err != nil {
				return nil, fmt.Errorf("check %s: %w", ref.ID, err)
			}
			if exists {
				continue
			}
		}
		ids = append(ids, ref.ID)
	}
	return ids, nil
}

func (s *Syncer) importBatch(ctx, writeCtx context.Context, ids []string, label *gmail.Label, names map[string]string, stats *importer.Stats, log *slog.Logger) error {
	msgs, err := s.client.GetMessagesBatch(ctx, ids)
	if err != nil {
		return fmt.Errorf("fetch messages: %w", err)
	}

	for i, msg := range msgs {
		if msg == nil {
			stats.Errors++
			log.Warn("message fetch failed", "id", ids[i])
			continue
		}

		email, err := s.buildEmail(ctx, msg, label, names, stats)
		if err != nil {
			if ctx.Err() != nil {
				return err
			}
			stats.Errors++
			log.Warn("skipping message", "id", msg.ID, "error", err)
			continue
		}

		_, updated, err := s.store.SaveEmail(writeCtx, email)
		if err != nil {
			return fmt.Errorf("store email %s: %w", msg.ID, err)
		}
		stats.RecordStored(updated)
		if err := s.store.AddGmailHistory(writeCtx, s.opts.Account, label.ID, msg.ID); err != nil {
			return fmt.Errorf("record history for %s: %w", msg.ID, err)
		}
	}
	return nil
}

// buildEmail converts a fetched message, downloading attachment bodies
// that Gmail did not inline. Unreadable attachments are recorded as
// missing and left out.
func (s *Syncer) buildEmail(ctx context.Context, msg *gmail.Message, label *gmail.Label, names map[string]string, stats *importer.Stats) (*store.Email, error) {
	if msg.Payload == nil {
		return nil, fmt.Errorf("message %s has no payload", msg.ID)
	}

	email := &store.Email{
		UID:      msg.ID,
		Folder:   label.Name,
		ThreadID: msg.ThreadID,
		Subject:  decodeHeader(msg.Header("Subject")),
		From:     decodeHeader(msg.Header("From")),
		To:       decodeHeader(msg.Header("To")),
		Cc:       decodeHeader(msg.Header("Cc")),
		Bcc:      decodeHeader(msg.Header("Bcc")),
		Snippet:  decodeHeader(msg.Snippet),
		Size:     msg.SizeEstimate,
	}
	if t, ok := messageDate(msg); ok {
		email.Date = sql.NullTime{Time: t, Valid: true}
	}
	for _, id := range msg.LabelIDs {
		if name, ok := names[id]; ok {
			email.Labels = append(email.Labels, name)
		} else {
			email.Labels = append(email.Labels, id)
		}
	}

	var parts bodyParts
	collectParts(msg.Payload, &parts)

	var err error
	if email.BodyText, err = s.joinText(ctx, msg.ID, parts.text); err != nil {
		return nil, err
	}
	if email.BodyHTML, err = s.joinText(ctx, msg.ID, parts.html); err != nil {
		return nil, err
	}

	maxSize := s.opts.MaxAttachmentBytes()
	for _, p := range parts.attachments {
		name := attachmentName(p)
		data, err := s.partData(ctx, msg.ID, p)
		if err == nil && int64(len(data)) > maxSize {
			err = fmt.Errorf("%d bytes, over the %d byte limit", len(data), maxSize)
		}
		if err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			s.logger.Warn("attachment unavailable", "id", msg.ID, "filename", name, "error", err)
			stats.RecordMissing(label.Name, name)
			continue
		}
		stats.AttachmentsFound++
		email.Attachments = append(email.Attachments, store.EmailAttachment{
			Filename:  name,
			MimeType:  p.MimeType,
			ContentID: p.ContentID(),
			Data:      data,
		})
	}
	return email, nil
}

func (s *Syncer) joinText(ctx context.Context, msgID string, parts []*gmail.MessagePart) (string, error) {
	var texts []string
	for _, p := range parts {
		data, err := s.partData(ctx, msgID, p)
		if err != nil {
			return "", fmt.Errorf("body part %s: %w", p.PartID, err)
		}
		if t := partText(p, data); t != "" {
			texts = append(texts, t)
		}
	}
	return strings.Join(texts, "\n"), nil
}

// partData returns the inline body or fetches it by attachment ID.
func (s *Syncer) partData(ctx context.Context, msgID string, p *gmail.MessagePart) ([]byte, error) {
	if p.Body.AttachmentID == "" {
		return p.Body.Data, nil
	}
	if p.Body.Size > s.opts.MaxAttachmentBytes() {
		return nil, fmt.Errorf("%d bytes, over the %d byte limit", p.Body.Size, s.opts.MaxAttachmentBytes())
	}
	return s.client.GetAttachment(ctx, msgID, p.Body.AttachmentID)
}

// Import runs a Gmail import with the given client.
func Import(ctx context.Context, client gmail.API, st *store.Store, opts Options) (*importer.Stats, error) {
	return New(client, st, &opts).Import(ctx)
}
