// Package jobs runs import jobs in the background, bridging importer
// progress into trackers and recording every run in the import ledger.
package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/wesm/lifevault/internal/albums"
	"github.com/wesm/lifevault/internal/gmail"
	"github.com/wesm/lifevault/internal/imessage"
	"github.com/wesm/lifevault/internal/importer"
	"github.com/wesm/lifevault/internal/messenger"
	"github.com/wesm/lifevault/internal/photos"
	"github.com/wesm/lifevault/internal/progress"
	"github.com/wesm/lifevault/internal/store"
	gsync "github.com/wesm/lifevault/internal/sync"
	"github.com/wesm/lifevault/internal/whatsapp"
)

var (
	// ErrUnknownSource is returned for a source name no importer handles.
	ErrUnknownSource = errors.New("unknown import source")

	// ErrNoAccount is returned for a Gmail request without an account.
	ErrNoAccount = errors.New("gmail import requires an account")

	// ErrGmailUnavailable is returned when no Gmail client factory is set.
	ErrGmailUnavailable = errors.New("gmail is not configured")
)

// GmailClientFunc opens an API client for a mailbox.
type GmailClientFunc func(ctx context.Context, account string) (gmail.API, error)

// Request describes one import job.
type Request struct {
	Source importer.Source `json:"source"`

	// Dirs are the export directories. Filesystem image imports accept
	// several roots; every other directory source takes exactly one.
	Dirs []string `json:"dirs,omitempty"`

	// Gmail
	Account string   `json:"account,omitempty"`
	Labels  []string `json:"labels,omitempty"`
	Query   string   `json:"query,omitempty"`
	NewOnly bool     `json:"new_only,omitempty"`

	// Options override the manager defaults field by field.
	Options importer.Options `json:"-"`
}

// Validate checks the request before any work starts.
func (r *Request) Validate() error {
	if _, ok := importer.ParseSource(string(r.Source)); !ok {
		return fmt.Errorf("%w: %q", ErrUnknownSource, r.Source)
	}
	if !r.Source.NeedsDirectory() {
		if r.Account == "" {
			return ErrNoAccount
		}
		return nil
	}

	if len(r.Dirs) == 0 {
		return fmt.Errorf("%w: no directory given", importer.ErrInvalidDirectory)
	}
	if len(r.Dirs) > 1 && r.Source != importer.SourceImages {
		return fmt.Errorf("%w: %s imports take one directory", importer.ErrInvalidDirectory, r.Source)
	}
	for _, d := range r.Dirs {
		if err := importer.ValidateDir(d); err != nil {
			return err
		}
	}
	return nil
}

// Manager starts import jobs and tracks them per source.
type Manager struct {
	store    *store.Store
	registry *progress.Registry
	logger   *slog.Logger
	defaults importer.Options
	gmail    GmailClientFunc

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// Option configures a Manager.
type Option func(*Manager)

// WithLogger sets the logger for the manager and its importers.
func WithLogger(logger *slog.Logger) Option {
	return func(m *Manager) {
		m.logger = logger
	}
}

// WithDefaults sets importer options applied to every job.
func WithDefaults(opts importer.Options) Option {
	return func(m *Manager) {
		m.defaults = opts
	}
}

// WithGmailClient sets the factory used to open Gmail clients.
func WithGmailClient(fn GmailClientFunc) Option {
	return func(m *Manager) {
		m.gmail = fn
	}
}

// NewManager creates a manager writing to st.
func NewManager(st *store.Store, opts ...Option) *Manager {
	ctx, cancel := context.WithCancel(context.Background())
	m := &Manager{
		store:    st,
		registry: progress.NewRegistry(),
		logger:   slog.Default(),
		ctx:      ctx,
		cancel:   cancel,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Registry exposes the per-source trackers.
func (m *Manager) Registry() *progress.Registry {
	return m.registry
}

// Start validates req and runs it in the background. It fails with
// progress.ErrConflict if the source already has a job in progress.
func (m *Manager) Start(req Request) (*progress.Tracker, error) {
	t, err := m.begin(m.ctx, &req)
	if err != nil {
		return nil, err
	}

	m.wg.Add(1)
	go func() {
		defer m.wg.Done()
		m.execute(m.ctx, t, req)
	}()
	return t, nil
}

// Run validates req and runs it in the calling goroutine. Cancelling ctx
// cancels the job at its next unit boundary.
func (m *Manager) Run(ctx context.Context, req Request) (progress.Snapshot, error) {
	t, err := m.begin(ctx, &req)
	if err != nil {
		return progress.Snapshot{}, err
	}
	err = m.execute(ctx, t, req)
	return t.Snapshot(), err
}

// Cancel requests cancellation of the running job of a source.
func (m *Manager) Cancel(source string) error {
	return m.registry.Cancel(source)
}

// Shutdown cancels background jobs and waits for them to record their
// final state, or for ctx to end.
func (m *Manager) Shutdown(ctx context.Context) error {
	m.cancel()
	done := make(chan struct{})
	go func() {
		m.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (m *Manager) begin(ctx context.Context, req *Request) (*progress.Tracker, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}
	if req.Source == importer.SourceGmail && m.gmail == nil {
		return nil, ErrGmailUnavailable
	}

	t, err := m.registry.Begin(string(req.Source))
	if err != nil {
		return nil, err
	}

	dir := ""
	if len(req.Dirs) > 0 {
		dir = req.Dirs[0]
	} else if req.Account != "" {
		dir = req.Account
	}
	if _, err := m.store.StartRun(context.WithoutCancel(ctx), t.Snapshot().JobID, string(req.Source), dir); err != nil {
		t.Finish(progress.StatusError, err)
		return nil, fmt.Errorf("record run: %w", err)
	}
	return t, nil
}

// execute runs the importer and moves the tracker and ledger entry to
// their terminal state.
func (m *Manager) execute(ctx context.Context, t *progress.Tracker, req Request) error {
	snap := t.Snapshot()
	log := m.logger.With("job", snap.JobID, "source", req.Source)

	opts := mergeOptions(m.defaults, req.Options)
	opts.Logger = log
	opts.Reporter = importer.ReporterFunc(func(s importer.Stats) {
		t.Update(func(snap *progress.Snapshot) { applyStats(snap, s) })
	})
	opts.Canceller = importer.CancellerFunc(t.Cancelled)

	stats, err := m.dispatch(ctx, req, opts)

	status := progress.StatusCompleted
	switch {
	case err != nil && ctx.Err() != nil && errors.Is(err, ctx.Err()):
		status = progress.StatusCancelled
		if stats != nil {
			stats.Cancelled = true
		}
		log.Info("import cancelled by shutdown")
		err = nil
	case err != nil:
		status = progress.StatusError
		log.Error("import failed", "error", err)
	case stats != nil && stats.Cancelled:
		status = progress.StatusCancelled
	}
	if stats != nil {
		t.Update(func(snap *progress.Snapshot) { applyStats(snap, stats.Clone()) })
	}
	t.Finish(status, err)

	var statsJSON []byte
	if stats != nil {
		var jerr error
		if statsJSON, jerr = json.Marshal(stats); jerr != nil {
			log.Warn("encode stats", "error", jerr)
		}
	}
	errMsg := ""
	if err != nil {
		errMsg = err.Error()
	}
	if ferr := m.store.FinishRun(context.WithoutCancel(ctx), snap.JobID, string(status), string(statsJSON), errMsg); ferr != nil {
		log.Warn("record run result", "error", ferr)
	}
	return err
}

func (m *Manager) dispatch(ctx context.Context, req Request, opts importer.Options) (*importer.Stats, error) {
	switch req.Source {
	case importer.SourceIMessage:
		return imessage.Import(ctx, m.store, req.Dirs[0], opts)
	case importer.SourceWhatsApp:
		return whatsapp.Import(ctx, m.store, req.Dirs[0], opts)
	case importer.SourceFacebook:
		return messenger.Import(ctx, m.store, messenger.Facebook, req.Dirs[0], opts)
	case importer.SourceInstagram:
		return messenger.Import(ctx, m.store, messenger.Instagram, req.Dirs[0], opts)
	case importer.SourceFacebookAlbums:
		return albums.Import(ctx, m.store, req.Dirs[0], opts)
	case importer.SourceImages:
		return photos.ImportRoots(ctx, m.store, req.Dirs, opts)
	case importer.SourceGmail:
		client, err := m.gmail(ctx, req.Account)
		if err != nil {
			return nil, fmt.Errorf("open gmail client: %w", err)
		}
		defer client.Close()
		return gsync.Import(ctx, client, m.store, gsync.Options{
			Options: opts,
			Account: req.Account,
			Labels:  req.Labels,
			Query:   req.Query,
			NewOnly: req.NewOnly,
		})
	}
	return nil, fmt.Errorf("%w: %q", ErrUnknownSource, req.Source)
}

// applyStats copies importer counters into a progress snapshot.
func applyStats(snap *progress.Snapshot, s importer.Stats) {
	snap.CurrentUnit = s.CurrentUnit
	snap.Processed = s.UnitsProcessed
	snap.Total = s.TotalUnits
	snap.Created = s.MessagesCreated
	snap.Updated = s.MessagesUpdated
	snap.Errors = s.Errors
	snap.Missing = s.AttachmentsMissing
	snap.Stats = s
}

// mergeOptions overlays the non-zero fields of o onto base.
func mergeOptions(base, o importer.Options) importer.Options {
	out := base
	if o.UserName != "" {
		out.UserName = o.UserName
	}
	if o.ExportRoot != "" {
		out.ExportRoot = o.ExportRoot
	}
	if o.MaxAttachmentSize > 0 {
		out.MaxAttachmentSize = o.MaxAttachmentSize
	}
	if o.MaxImages > 0 {
		out.MaxImages = o.MaxImages
	}
	if len(o.ExcludePatterns) > 0 {
		out.ExcludePatterns = o.ExcludePatterns
	}
	if o.CreateThumbnails {
		out.CreateThumbnails = true
	}
	if o.ThumbnailSize > 0 {
		out.ThumbnailSize = o.ThumbnailSize
	}
	return out
}
