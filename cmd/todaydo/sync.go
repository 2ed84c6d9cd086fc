package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"time"

	"github.com/spf13/cobra"
)

var syncCmd = &cobra.Command{
	Use:   "sync",
	Short: "One-shot pull from the remote store",
	Long: `Pull the full remote state and replace the local collections with it.

Requires remote_url and user_id to be configured. Local entities with
writes still in flight are kept.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg := loadConfig()
		if cfg.RemoteURL == "" || cfg.UserID == "" {
			return fmt.Errorf("sync requires remote_url and user_id to be configured")
		}

		logger := log.New(os.Stderr, "[sync] ", log.LstdFlags)

		store := openLocal(cfg)
		defer store.Close()

		eng, client := buildEngine(cfg, store, logger)
		if client != nil {
			defer client.Close()
		}

		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
		defer cancel()

		fmt.Printf("Pulling state for %s...\n", cfg.UserID)
		start := time.Now()
		if err := eng.Pull(ctx); err != nil {
			return fmt.Errorf("pull failed: %w", err)
		}
		eng.Stop()

		fmt.Printf("Sync complete in %s\n", time.Since(start).Round(time.Millisecond))
		return nil
	},
}

func init() {
	rootCmd.AddCommand(syncCmd)
}
