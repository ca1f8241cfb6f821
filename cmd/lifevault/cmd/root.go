package cmd

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"
	"github.com/wesm/lifevault/internal/config"
	"github.com/wesm/lifevault/internal/gmail"
	"github.com/wesm/lifevault/internal/jobs"
	"github.com/wesm/lifevault/internal/oauth"
	"github.com/wesm/lifevault/internal/store"
)

var (
	cfgFile string
	homeDir string
	verbose bool
	cfg     *config.Config
	logger  *slog.Logger
)

var rootCmd = &cobra.Command{
	Use:   "lifevault",
	Short: "Personal data archive",
	Long: `lifevault imports personal data exports (iMessage, WhatsApp, Facebook,
Instagram, Facebook albums, photo folders and Gmail) into one local SQLite
archive. Re-running an import updates records in place instead of
duplicating them.`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		level := slog.LevelInfo
		if verbose {
			level = slog.LevelDebug
		}
		logger = slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
		slog.SetDefault(logger)

		var err error
		cfg, err = config.Load(cfgFile, homeDir)
		if err != nil {
			return fmt.Errorf("load config: %w", err)
		}
		if err := os.MkdirAll(cfg.Data.DataDir, 0o700); err != nil {
			return fmt.Errorf("create data directory %s: %w", cfg.Data.DataDir, err)
		}
		return nil
	},
}

// ExecuteContext runs the root command with the given context,
// enabling graceful shutdown when the context is cancelled.
func ExecuteContext(ctx context.Context) error {
	return rootCmd.ExecuteContext(ctx)
}

// configPath is where add-account writes the config.
func configPath() string {
	if cfgFile != "" {
		return cfgFile
	}
	return filepath.Join(cfg.HomeDir, "config.toml")
}

// openStore opens the archive and ensures its schema exists.
func openStore() (*store.Store, error) {
	s, err := store.Open(cfg.DatabasePath())
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	if err := s.InitSchema(); err != nil {
		s.Close()
		return nil, fmt.Errorf("init schema: %w", err)
	}
	return s, nil
}

func errOAuthNotConfigured() error {
	return fmt.Errorf(`OAuth client secrets not configured.

To import Gmail, create a Google Cloud OAuth client (Desktop app),
download its client_secret.json and add to %s:

  [oauth]
  client_secrets = "/path/to/client_secret.json"`, configPath())
}

// newJobManager builds the job manager. Gmail is available only when OAuth
// is configured.
func newJobManager(s *store.Store) (*jobs.Manager, error) {
	opts := []jobs.Option{
		jobs.WithLogger(logger),
		jobs.WithDefaults(cfg.ImporterOptions()),
	}
	if cfg.OAuth.ClientSecrets != "" {
		mgr, err := oauth.NewManager(cfg.OAuth.ClientSecrets, cfg.TokensDir(), logger)
		if err != nil {
			return nil, err
		}
		opts = append(opts, jobs.WithGmailClient(gmailClientFunc(mgr)))
	}
	return jobs.NewManager(s, opts...), nil
}

func gmailClientFunc(mgr *oauth.Manager) jobs.GmailClientFunc {
	return func(ctx context.Context, account string) (gmail.API, error) {
		ts, err := mgr.TokenSource(ctx, account)
		if errors.Is(err, oauth.ErrNoToken) {
			return nil, fmt.Errorf("%w (run 'lifevault add-account %s' first)", err, account)
		}
		if err != nil {
			return nil, err
		}
		return gmail.NewClient(ts,
			gmail.WithLogger(logger),
			gmail.WithRateLimiter(gmail.NewRateLimiter(cfg.Sync.RateLimitQPS)),
		), nil
	}
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default: ~/.lifevault/config.toml)")
	rootCmd.PersistentFlags().StringVar(&homeDir, "home", "", "home directory (overrides "+config.HomeEnv+")")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "verbose output")
}
