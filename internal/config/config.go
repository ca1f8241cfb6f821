// Package config handles loading and managing lifevault configuration.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/BurntSushi/toml"
	"github.com/wesm/lifevault/internal/importer"
)

// HomeEnv overrides the default home directory.
const HomeEnv = "LIFEVAULT_HOME"

// Config represents the lifevault configuration.
type Config struct {
	Data     DataConfig      `toml:"data"`
	OAuth    OAuthConfig     `toml:"oauth"`
	Sync     SyncConfig      `toml:"sync"`
	Server   ServerConfig    `toml:"server"`
	Import   ImportConfig    `toml:"import"`
	Accounts []AccountConfig `toml:"accounts"`

	// Computed paths (not from config file)
	HomeDir string `toml:"-"`
}

// DataConfig holds data storage configuration.
type DataConfig struct {
	DataDir     string `toml:"data_dir"`
	DatabaseURL string `toml:"database_url"`
}

// OAuthConfig holds OAuth configuration.
type OAuthConfig struct {
	ClientSecrets string `toml:"client_secrets"`
}

// SyncConfig holds Gmail API settings.
type SyncConfig struct {
	RateLimitQPS float64 `toml:"rate_limit_qps"`
}

// ServerConfig holds HTTP API server configuration.
type ServerConfig struct {
	APIPort  int    `toml:"api_port"`  // HTTP server port (default: 8080)
	BindAddr string `toml:"bind_addr"` // Listen address (default: 127.0.0.1)
	APIKey   string `toml:"api_key"`   // API authentication key
}

// ImportConfig holds defaults applied to every import job.
type ImportConfig struct {
	UserName         string   `toml:"user_name"`
	ExportRoot       string   `toml:"export_root"`
	MaxImages        int      `toml:"max_images"`
	CreateThumbnails bool     `toml:"create_thumbnails"`
	ThumbnailSize    int      `toml:"thumbnail_size"`
	ExcludePatterns  []string `toml:"exclude_patterns"`
}

// AccountConfig defines a Gmail account and its import schedule.
type AccountConfig struct {
	Email    string   `toml:"email"`    // Gmail account email
	Schedule string   `toml:"schedule"` // Cron expression (e.g., "0 2 * * *" for 2am daily)
	Enabled  bool     `toml:"enabled"`  // Whether scheduled imports are active
	Labels   []string `toml:"labels"`   // Labels to import; empty means all
}

// DefaultHome returns the default lifevault home directory.
// Respects the LIFEVAULT_HOME environment variable.
func DefaultHome() string {
	if h := os.Getenv(HomeEnv); h != "" {
		return expandPath(h)
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return ".lifevault"
	}
	return filepath.Join(home, ".lifevault")
}

// Load reads the configuration from path. An empty path means
// config.toml in homeDir; an empty homeDir means DefaultHome. A missing
// file yields the defaults.
func Load(path, homeDir string) (*Config, error) {
	if homeDir == "" {
		homeDir = DefaultHome()
	}
	homeDir = expandPath(homeDir)
	if path == "" {
		path = filepath.Join(homeDir, "config.toml")
	}

	cfg := &Config{
		HomeDir: homeDir,
		Data: DataConfig{
			DataDir: homeDir,
		},
		Sync: SyncConfig{
			RateLimitQPS: 5,
		},
		Server: ServerConfig{
			APIPort:  8080,
			BindAddr: "127.0.0.1",
		},
		Import: ImportConfig{
			ThumbnailSize: 320,
		},
		Accounts: []AccountConfig{},
	}

	if _, err := os.Stat(path); errors.Is(err, os.ErrNotExist) {
		return cfg, nil
	}

	md, err := toml.DecodeFile(path, cfg)
	if err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}
	if undecoded := md.Undecoded(); len(undecoded) > 0 {
		keys := make([]string, len(undecoded))
		for i, k := range undecoded {
			keys[i] = k.String()
		}
		return nil, fmt.Errorf("unknown config keys: %s", strings.Join(keys, ", "))
	}

	cfg.Data.DataDir = expandPath(cfg.Data.DataDir)
	cfg.OAuth.ClientSecrets = expandPath(cfg.OAuth.ClientSecrets)
	cfg.Import.ExportRoot = expandPath(cfg.Import.ExportRoot)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks values that the decoder cannot.
func (c *Config) Validate() error {
	if c.Server.APIPort < 0 || c.Server.APIPort > 65535 {
		return fmt.Errorf("server.api_port %d out of range", c.Server.APIPort)
	}
	if c.Import.MaxImages < 0 {
		return fmt.Errorf("import.max_images must not be negative")
	}
	if c.Import.ThumbnailSize < 0 {
		return fmt.Errorf("import.thumbnail_size must not be negative")
	}
	for _, pat := range c.Import.ExcludePatterns {
		if _, err := filepath.Match(pat, ""); err != nil {
			return fmt.Errorf("import.exclude_patterns: %q: %w", pat, err)
		}
	}
	seen := make(map[string]bool)
	for i, acc := range c.Accounts {
		if acc.Email == "" {
			return fmt.Errorf("accounts[%d]: email is required", i)
		}
		if seen[acc.Email] {
			return fmt.Errorf("accounts[%d]: duplicate account %s", i, acc.Email)
		}
		seen[acc.Email] = true
	}
	return nil
}

// DatabasePath returns the path to the SQLite database.
func (c *Config) DatabasePath() string {
	if c.Data.DatabaseURL != "" {
		return c.Data.DatabaseURL
	}
	return filepath.Join(c.Data.DataDir, "lifevault.db")
}

// TokensDir returns the path to the OAuth tokens directory.
func (c *Config) TokensDir() string {
	return filepath.Join(c.Data.DataDir, "tokens")
}

// ListenAddr returns the host:port the API server binds to.
func (c *Config) ListenAddr() string {
	return fmt.Sprintf("%s:%d", c.Server.BindAddr, c.Server.APIPort)
}

// ImporterOptions returns the import defaults as importer options.
func (c *Config) ImporterOptions() importer.Options {
	return importer.Options{
		UserName:         c.Import.UserName,
		ExportRoot:       c.Import.ExportRoot,
		MaxImages:        c.Import.MaxImages,
		CreateThumbnails: c.Import.CreateThumbnails,
		ThumbnailSize:    c.Import.ThumbnailSize,
		ExcludePatterns:  c.Import.ExcludePatterns,
	}
}

// ScheduledAccounts returns accounts with scheduling enabled.
func (c *Config) ScheduledAccounts() []AccountConfig {
	var scheduled []AccountConfig
	for _, acc := range c.Accounts {
		if acc.Enabled && acc.Schedule != "" {
			scheduled = append(scheduled, acc)
		}
	}
	return scheduled
}

// Account returns the configuration of an account, or nil.
func (c *Config) Account(email string) *AccountConfig {
	for i := range c.Accounts {
		if strings.EqualFold(c.Accounts[i].Email, email) {
			return &c.Accounts[i]
		}
	}
	return nil
}

// Save writes the configuration as TOML to path, creating its directory.
func (c *Config) Save(path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return fmt.Errorf("create config dir: %w", err)
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0o600)
	if err != nil {
		return fmt.Errorf("open config: %w", err)
	}
	if err := toml.NewEncoder(f).Encode(c); err != nil {
		f.Close()
		return fmt.Errorf("encode config: %w", err)
	}
	return f.Close()
}

// expandPath expands a leading ~ to the user's home directory.
func expandPath(path string) string {
	if path == "" || path[0] != '~' {
		return path
	}
	if len(path) > 1 && path[1] != '/' && path[1] != filepath.Separator {
		return path
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return path
	}
	return filepath.Join(home, path[1:])
}
