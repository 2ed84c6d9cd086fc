package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	webpush "github.com/SherClockHolmes/webpush-go"
	"github.com/spf13/cobra"

	"github.com/thsalrkd/todaydo/internal/config"
	"github.com/thsalrkd/todaydo/internal/daemon"
	"github.com/thsalrkd/todaydo/internal/dashboard"
	"github.com/thsalrkd/todaydo/internal/localstore"
	"github.com/thsalrkd/todaydo/internal/notify"
)

var daemonCmd = &cobra.Command{
	Use:   "daemon",
	Short: "Run the background sync daemon",
	Long: `Run the sync daemon until interrupted.

The daemon:
  1. Pulls the remote state periodically and on local database changes
  2. Mirrors local writes to the remote store in the background
  3. Scans for due reminders and delivers them over web push
  4. Serves the status dashboard (HTTP + WebSocket)

Example usage:
  todaydo daemon
  todaydo daemon --config /etc/todaydo.yaml`,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg := loadConfig()

		logger := log.New(daemonLogWriter(cfg), "[todaydo] ", log.LstdFlags)

		store := openLocal(cfg)
		defer store.Close()

		eng, client := buildEngine(cfg, store, logger)
		if client != nil {
			defer client.Close()
		}

		dash := dashboard.New(eng.Status, &dashboard.Config{
			Addr:   cfg.Daemon.DashboardAddr,
			Logger: logger,
		})
		eng.SetNotify(dash.Broadcast)
		if err := dash.Start(); err != nil {
			return fmt.Errorf("failed to start dashboard: %w", err)
		}
		defer func() {
			if err := dash.Stop(); err != nil {
				logger.Printf("dashboard stop: %v", err)
			}
		}()
		fmt.Printf("Dashboard: http://%s (ws://%s/ws)\n", dash.Addr(), dash.Addr())

		scanner := buildScanner(cfg, store, logger)

		d, err := daemon.New(eng, scanner, cfg.DatabasePath(), &daemon.Config{
			DebounceInterval:     cfg.Daemon.WatchDebounce,
			ReminderScanInterval: cfg.Daemon.ReminderScan,
			Logger:               logger,
		})
		if err != nil {
			return fmt.Errorf("failed to create daemon: %w", err)
		}

		ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		fmt.Println("Sync daemon running. Press Ctrl+C to stop.")
		return d.Start(ctx)
	},
}

// buildScanner wires reminder delivery when push is configured and a
// device subscription has been registered; otherwise reminders are only
// logged.
func buildScanner(cfg *config.Config, store *localstore.Store, logger *log.Logger) *notify.Scanner {
	todos := localstore.NewTodos(store, logger)

	deliver := func(ctx context.Context, r notify.Reminder) error {
		logger.Printf("reminder due: %s at %s", r.Todo.Title, r.FireAt.Format(time.Kitchen))
		return nil
	}

	if cfg.Push.Enabled() {
		sub, err := loadSubscription(cfg)
		if err != nil {
			logger.Printf("WARNING: push configured but no usable subscription: %v", err)
		} else {
			sender := notify.NewSender(cfg.Push.Subscriber, cfg.Push.VAPIDPublicKey, cfg.Push.VAPIDPrivateKey)
			deliver = func(ctx context.Context, r notify.Reminder) error {
				return sender.Send(ctx, sub, notify.Message{
					Title: r.Todo.Title,
					Body:  "Due " + r.Todo.Date + " " + r.Todo.Time,
					Tag:   r.Todo.ID,
				})
			}
		}
	}

	return notify.NewScanner(todos, deliver, time.Local, logger)
}

// loadSubscription reads the device push subscription the app drops in
// the data directory.
func loadSubscription(cfg *config.Config) (*webpush.Subscription, error) {
	path := filepath.Join(cfg.DataDir, "subscription.json")
	// #nosec G304 - path under our own data dir
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read %s: %w", path, err)
	}
	var sub webpush.Subscription
	if err := json.Unmarshal(data, &sub); err != nil {
		return nil, fmt.Errorf("invalid subscription file: %w", err)
	}
	return &sub, nil
}

func init() {
	rootCmd.AddCommand(daemonCmd)
}
