// Command todaydo is the sync sidecar for the TodayDo app: it keeps the
// local database reconciled with the cloud document store, delivers
// reminders, and exposes a status dashboard.
package main

import (
	"fmt"
	"io"
	"log"
	"os"

	"github.com/spf13/cobra"
	"gopkg.in/natefinch/lumberjack.v2"

	"github.com/thsalrkd/todaydo/internal/config"
	"github.com/thsalrkd/todaydo/internal/engine"
	"github.com/thsalrkd/todaydo/internal/localstore"
	"github.com/thsalrkd/todaydo/internal/remote"
)

var cfgFile string

var rootCmd = &cobra.Command{
	Use:   "todaydo",
	Short: "TodayDo sync daemon and tools",
	Long: `todaydo keeps the local TodayDo database in sync with the cloud store.

The daemon pulls the authoritative remote state periodically, mirrors
local writes in the background, scans reminders, and serves a realtime
status dashboard. The other commands are one-shot tools over the same
local database.`,
	SilenceUsage: true,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "",
		"config file (default: todaydo.yaml in the data dir)")
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

// loadConfig reads configuration or exits with a message.
func loadConfig() *config.Config {
	cfg, err := config.Load(cfgFile)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error loading config: %v\n", err)
		os.Exit(1)
	}
	return cfg
}

// openLocal opens the local database or exits with a message.
func openLocal(cfg *config.Config) *localstore.Store {
	store, err := localstore.Open(cfg.DatabasePath())
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error opening local database: %v\n", err)
		os.Exit(1)
	}
	return store
}

// buildEngine wires an engine from configuration. With no remote URL
// or no user id the engine is local-only.
func buildEngine(cfg *config.Config, store *localstore.Store, logger *log.Logger) (*engine.Engine, *remote.Client) {
	locals := engine.NewLocals(store, logger)

	uid := cfg.UserID
	var remotes engine.Remotes
	var client *remote.Client
	if cfg.RemoteURL != "" && uid != "" {
		var err error
		client, err = remote.Open(cfg.RemoteDSN())
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error connecting to remote store: %v\n", err)
			os.Exit(1)
		}
		remotes = engine.NewRemotes(client)
	} else {
		uid = ""
	}

	return engine.New(uid, locals, remotes, &engine.Config{
		PullInterval:     cfg.Sync.PullInterval,
		OptimisticLinger: cfg.Sync.OptimisticLinger,
		Logger:           logger,
	}), client
}

// daemonLogWriter returns the daemon log destination: a rotated file
// when configured, stderr otherwise.
func daemonLogWriter(cfg *config.Config) io.Writer {
	if cfg.Daemon.LogFile == "" {
		return os.Stderr
	}
	return &lumberjack.Logger{
		Filename:   cfg.Daemon.LogFile,
		MaxSize:    cfg.Daemon.LogMaxSizeMB,
		MaxAge:     cfg.Daemon.LogMaxAge,
		MaxBackups: 3,
		Compress:   true,
	}
}
