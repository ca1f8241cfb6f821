package cmd

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/spf13/cobra"
	"github.com/wesm/lifevault/internal/api"
	"github.com/wesm/lifevault/internal/config"
	"github.com/wesm/lifevault/internal/importer"
	"github.com/wesm/lifevault/internal/jobs"
	"github.com/wesm/lifevault/internal/progress"
	"github.com/wesm/lifevault/internal/scheduler"
)

const shutdownTimeout = 30 * time.Second

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the HTTP API and scheduled Gmail imports",
	Long: `Run lifevault as a long-running daemon.

The daemon serves the HTTP API on the configured address (default
127.0.0.1:8080) and runs new-only Gmail imports for accounts with a
schedule:

  [[accounts]]
  email = "you@gmail.com"
  schedule = "0 2 * * *"   # 2am daily (cron format)
  enabled = true
  labels = ["INBOX"]

Use Ctrl+C to stop the daemon gracefully.`,
	RunE: runServe,
}

func runServe(cmd *cobra.Command, args []string) error {
	s, err := openStore()
	if err != nil {
		return err
	}
	defer s.Close()

	mgr, err := newJobManager(s)
	if err != nil {
		return err
	}

	sched := scheduler.New(scheduledImport(mgr), logger)
	count, err := sched.AddAccountsFromConfig(cfg)
	if err != nil {
		logger.Error("failed to schedule accounts", "error", err)
	}
	if count > 0 && cfg.OAuth.ClientSecrets == "" {
		return errOAuthNotConfigured()
	}
	sched.Start()

	srv := api.NewServer(cfg, s, mgr, sched, logger)
	serverErr := make(chan error, 1)
	go func() {
		if err := srv.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErr <- err
		}
	}()

	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "lifevault daemon started\n")
	fmt.Fprintf(out, "  API server: http://%s\n", cfg.ListenAddr())
	fmt.Fprintf(out, "  Scheduled accounts: %d\n", count)
	fmt.Fprintf(out, "  Database: %s\n\n", cfg.DatabasePath())
	for _, st := range sched.Status() {
		fmt.Fprintf(out, "  %s: next import at %s\n", st.Email, st.NextRun.Local().Format("2006-01-02 15:04:05"))
	}

	var runErr error
	select {
	case <-cmd.Context().Done():
		logger.Info("shutting down")
	case runErr = <-serverErr:
		logger.Error("API server error", "error", runErr)
	}

	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		logger.Error("API server shutdown error", "error", err)
	}
	select {
	case <-sched.Stop().Done():
	case <-ctx.Done():
	}
	if err := mgr.Shutdown(ctx); err != nil {
		logger.Warn("import jobs did not stop in time", "error", err)
	}
	return runErr
}

// scheduledImport runs a new-only Gmail import for an account. An import
// already running from the API counts as a skip, not a failure.
func scheduledImport(mgr *jobs.Manager) scheduler.ImportFunc {
	return func(ctx context.Context, acc config.AccountConfig) error {
		snap, err := mgr.Run(ctx, jobs.Request{
			Source:  importer.SourceGmail,
			Account: acc.Email,
			Labels:  acc.Labels,
			NewOnly: true,
		})
		if errors.Is(err, progress.ErrConflict) {
			logger.Info("gmail import already running, skipping", "email", acc.Email)
			return nil
		}
		if err != nil {
			return err
		}
		if snap.Status == progress.StatusError {
			return errors.New(snap.Error)
		}
		return nil
	}
}

func init() {
	rootCmd.AddCommand(serveCmd)
}
