// Package config loads application settings from todaydo.yaml, the
// environment, and defaults, in that order of precedence.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config is the application configuration.
type Config struct {
	// DataDir holds the local database and daemon state.
	DataDir string `mapstructure:"data_dir"`

	// RemoteURL is the cloud document store DSN. Empty means the app
	// runs local-only.
	RemoteURL string `mapstructure:"remote_url"`

	// RemoteToken authenticates against the remote store.
	RemoteToken string `mapstructure:"remote_token"`

	// UserID is the logged-in account the daemon syncs for. Empty means
	// no user is logged in.
	UserID string `mapstructure:"user_id"`

	// Device names this install in session documents.
	Device string `mapstructure:"device"`

	// SessionSecret signs session tokens.
	SessionSecret string `mapstructure:"session_secret"`

	Sync   SyncConfig   `mapstructure:"sync"`
	Daemon DaemonConfig `mapstructure:"daemon"`
	Push   PushConfig   `mapstructure:"push"`
}

// SyncConfig tunes the reconciliation engine.
type SyncConfig struct {
	PullInterval     time.Duration `mapstructure:"pull_interval"`
	OptimisticLinger time.Duration `mapstructure:"optimistic_linger"`
}

// DaemonConfig tunes the background daemon.
type DaemonConfig struct {
	LogFile       string        `mapstructure:"log_file"`
	LogMaxSizeMB  int           `mapstructure:"log_max_size_mb"`
	LogMaxAge     int           `mapstructure:"log_max_age_days"`
	WatchDebounce time.Duration `mapstructure:"watch_debounce"`
	DashboardAddr string        `mapstructure:"dashboard_addr"`
	ReminderScan  time.Duration `mapstructure:"reminder_scan"`
}

// PushConfig carries web push credentials. All three must be set for
// reminder delivery to be enabled.
type PushConfig struct {
	Subscriber      string `mapstructure:"subscriber"`
	VAPIDPublicKey  string `mapstructure:"vapid_public_key"`
	VAPIDPrivateKey string `mapstructure:"vapid_private_key"`
}

// Enabled reports whether push delivery is configured.
func (p PushConfig) Enabled() bool {
	return p.Subscriber != "" && p.VAPIDPublicKey != "" && p.VAPIDPrivateKey != ""
}

func defaultDataDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ".todaydo"
	}
	return filepath.Join(home, ".todaydo")
}

// Every key gets a default so AutomaticEnv can see it during Unmarshal.
func setDefaults(v *viper.Viper) {
	v.SetDefault("data_dir", defaultDataDir())
	v.SetDefault("remote_url", "")
	v.SetDefault("remote_token", "")
	v.SetDefault("user_id", "")
	v.SetDefault("device", hostname())
	v.SetDefault("session_secret", "")
	v.SetDefault("daemon.log_file", "")
	v.SetDefault("push.subscriber", "")
	v.SetDefault("push.vapid_public_key", "")
	v.SetDefault("push.vapid_private_key", "")
	v.SetDefault("sync.pull_interval", 30*time.Second)
	v.SetDefault("sync.optimistic_linger", 5*time.Second)
	v.SetDefault("daemon.log_max_size_mb", 10)
	v.SetDefault("daemon.log_max_age_days", 14)
	v.SetDefault("daemon.watch_debounce", 500*time.Millisecond)
	v.SetDefault("daemon.dashboard_addr", "127.0.0.1:7721")
	v.SetDefault("daemon.reminder_scan", time.Minute)
}

func hostname() string {
	h, err := os.Hostname()
	if err != nil {
		return "unknown-device"
	}
	return h
}

// Load reads the configuration. file may be empty, in which case
// todaydo.yaml is searched for in the data directory and the working
// directory; a missing file is fine, the defaults stand.
//
// Every key can be overridden via the environment with the TODAYDO
// prefix, e.g. TODAYDO_REMOTE_URL or TODAYDO_SYNC_PULL_INTERVAL.
func Load(file string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix("TODAYDO")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if file != "" {
		v.SetConfigFile(file)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config %s: %w", file, err)
		}
	} else {
		v.SetConfigName("todaydo")
		v.SetConfigType("yaml")
		v.AddConfigPath(defaultDataDir())
		v.AddConfigPath(".")
		if err := v.ReadInConfig(); err != nil {
			var notFound viper.ConfigFileNotFoundError
			if !errors.As(err, &notFound) {
				return nil, fmt.Errorf("failed to read config: %w", err)
			}
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to decode config: %w", err)
	}
	return &cfg, nil
}

// DatabasePath returns the local store file under the data directory.
func (c *Config) DatabasePath() string {
	return filepath.Join(c.DataDir, "todaydo.db")
}

// RemoteDSN returns the remote connection string with the auth token
// attached, ready for the libsql driver.
func (c *Config) RemoteDSN() string {
	if c.RemoteToken == "" {
		return c.RemoteURL
	}
	sep := "?"
	if strings.Contains(c.RemoteURL, "?") {
		sep = "&"
	}
	return c.RemoteURL + sep + "authToken=" + c.RemoteToken
}
