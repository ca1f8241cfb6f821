// Package scheduler runs recurring Gmail imports on cron schedules.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/wesm/lifevault/internal/config"
)

var (
	// ErrStopped is returned when triggering an import after Stop.
	ErrStopped = errors.New("scheduler is stopped")

	// ErrNotScheduled is returned for an account without a schedule.
	ErrNotScheduled = errors.New("account is not scheduled")

	// ErrBusy is returned when the account's import is still running.
	ErrBusy = errors.New("import already running")
)

// ImportFunc performs one import for an account.
type ImportFunc func(ctx context.Context, account config.AccountConfig) error

// AccountStatus is the schedule state of one account.
type AccountStatus struct {
	Email     string    `json:"email"`
	Running   bool      `json:"running"`
	LastRun   time.Time `json:"last_run,omitzero"`
	NextRun   time.Time `json:"next_run"`
	Schedule  string    `json:"schedule"`
	LastError string    `json:"last_error,omitempty"`
}

type entry struct {
	account config.AccountConfig
	id      cron.EntryID
	running bool
	lastRun time.Time
	lastErr error
}

// Scheduler triggers imports for accounts on their cron schedules.
type Scheduler struct {
	cron   *cron.Cron
	run    ImportFunc
	logger *slog.Logger

	mu      sync.Mutex
	entries map[string]*entry // keyed by lowercased email
	stopped bool

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

var parser = cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow)

// New creates a scheduler calling run for every due account.
func New(run ImportFunc, logger *slog.Logger) *Scheduler {
	if logger == nil {
		logger = slog.Default()
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Scheduler{
		cron: cron.New(
			cron.WithParser(parser),
			cron.WithLogger(cronLogger{logger}),
			cron.WithChain(cron.Recover(cronLogger{logger})),
		),
		run:     run,
		logger:  logger,
		entries: make(map[string]*entry),
		ctx:     ctx,
		cancel:  cancel,
	}
}

func key(email string) string { return strings.ToLower(email) }

// AddAccount schedules an account, replacing any previous schedule.
func (s *Scheduler) AddAccount(acc config.AccountConfig) error {
	if err := ValidateCronExpr(acc.Schedule); err != nil {
		return err
	}
	k := key(acc.Email)

	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.entries[k]
	if ok {
		s.cron.Remove(e.id)
	} else {
		e = &entry{}
		s.entries[k] = e
	}
	e.account = acc

	id, err := s.cron.AddFunc(acc.Schedule, func() { s.fire(k) })
	if err != nil {
		delete(s.entries, k)
		return fmt.Errorf("schedule %s: %w", acc.Email, err)
	}
	e.id = id

	s.logger.Info("scheduled import",
		"email", acc.Email,
		"schedule", acc.Schedule,
		"next_run", s.cron.Entry(id).Next)
	return nil
}

// AddAccountsFromConfig schedules every enabled account with a schedule.
func (s *Scheduler) AddAccountsFromConfig(cfg *config.Config) (int, error) {
	var errs []error
	n := 0
	for _, acc := range cfg.ScheduledAccounts() {
		if err := s.AddAccount(acc); err != nil {
			errs = append(errs, err)
			continue
		}
		n++
	}
	return n, errors.Join(errs...)
}

// RemoveAccount drops an account's schedule. A running import continues.
func (s *Scheduler) RemoveAccount(email string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if e, ok := s.entries[key(email)]; ok {
		s.cron.Remove(e.id)
		delete(s.entries, key(email))
		s.logger.Info("removed schedule", "email", email)
	}
}

// IsScheduled reports whether the account has a schedule.
func (s *Scheduler) IsScheduled(email string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.entries[key(email)]
	return ok
}

// Start begins firing schedules.
func (s *Scheduler) Start() {
	s.cron.Start()
	s.mu.Lock()
	n := len(s.entries)
	s.mu.Unlock()
	s.logger.Info("scheduler started", "accounts", n)
}

// Stop halts the schedules and cancels running imports. The returned
// context is done once every import has returned.
func (s *Scheduler) Stop() context.Context {
	s.mu.Lock()
	s.stopped = true
	s.mu.Unlock()

	cronCtx := s.cron.Stop()
	s.cancel()

	ctx, done := context.WithCancel(context.Background())
	go func() {
		<-cronCtx.Done()
		s.wg.Wait()
		done()
	}()
	return ctx
}

// Trigger runs an account's import now, outside its schedule.
func (s *Scheduler) Trigger(email string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.stopped {
		return ErrStopped
	}
	e, ok := s.entries[key(email)]
	if !ok {
		return fmt.Errorf("%w: %s", ErrNotScheduled, email)
	}
	if e.running {
		return fmt.Errorf("%w: %s", ErrBusy, email)
	}
	s.launch(e)
	return nil
}

func (s *Scheduler) fire(k string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.entries[k]
	if !ok || s.stopped {
		return
	}
	if e.running {
		s.logger.Info("skipping scheduled import, previous run still active", "email", e.account.Email)
		return
	}
	s.launch(e)
}

// launch starts the import of e. s.mu must be held.
func (s *Scheduler) launch(e *entry) {
	e.running = true
	acc := e.account
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		start := time.Now()
		s.logger.Info("starting scheduled import", "email", acc.Email)

		err := s.run(s.ctx, acc)

		s.mu.Lock()
		e.running = false
		e.lastErr = err
		if err == nil {
			e.lastRun = time.Now()
		}
		s.mu.Unlock()

		if err != nil {
			s.logger.Error("scheduled import failed", "email", acc.Email, "duration", time.Since(start), "error", err)
			return
		}
		s.logger.Info("scheduled import completed", "email", acc.Email, "duration", time.Since(start))
	}()
}

// Status returns the state of all scheduled accounts, sorted by email.
func (s *Scheduler) Status() []AccountStatus {
	s.mu.Lock()
	defer s.mu.Unlock()

	statuses := make([]AccountStatus, 0, len(s.entries))
	for _, e := range s.entries {
		st := AccountStatus{
			Email:    e.account.Email,
			Running:  e.running,
			LastRun:  e.lastRun,
			NextRun:  s.cron.Entry(e.id).Next,
			Schedule: e.account.Schedule,
		}
		if e.lastErr != nil {
			st.LastError = e.lastErr.Error()
		}
		statuses = append(statuses, st)
	}
	sort.Slice(statuses, func(i, j int) bool { return statuses[i].Email < statuses[j].Email })
	return statuses
}

// ValidateCronExpr checks a five-field cron expression.
func ValidateCronExpr(expr string) error {
	if _, err := parser.Parse(expr); err != nil {
		return fmt.Errorf("invalid cron expression %q: %w", expr, err)
	}
	return nil
}

// cronLogger adapts slog to cron's logger interface.
type cronLogger struct{ l *slog.Logger }

func (c cronLogger) Info(msg string, kv ...any) { c.l.Debug("cron: "+msg, kv...) }

func (c cronLogger) Error(err error, msg string, kv ...any) {
	c.l.Error("cron: "+msg, append(kv, "error", err)...)
}
