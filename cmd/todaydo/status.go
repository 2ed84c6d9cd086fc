package main

import (
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/spf13/cobra"

	"github.com/thsalrkd/todaydo/internal/engine"
)

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show the running daemon's sync status",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg := loadConfig()

		client := &http.Client{Timeout: 3 * time.Second}
		resp, err := client.Get("http://" + cfg.Daemon.DashboardAddr + "/status")
		if err != nil {
			return fmt.Errorf("daemon not reachable at %s (is it running?): %w",
				cfg.Daemon.DashboardAddr, err)
		}
		defer resp.Body.Close()

		var st engine.Status
		if err := json.NewDecoder(resp.Body).Decode(&st); err != nil {
			return fmt.Errorf("failed to decode status: %w", err)
		}

		if st.LoggedIn {
			fmt.Println("Logged in:    yes")
		} else {
			fmt.Println("Logged in:    no (local-only)")
		}
		if st.LastSyncTime.IsZero() {
			fmt.Println("Last sync:    never")
		} else {
			fmt.Printf("Last sync:    %s\n", st.LastSyncTime.Format(time.RFC3339))
		}
		fmt.Printf("Pending:      %d\n", st.PendingCount)
		fmt.Printf("Pulling now:  %v\n", st.PullInProgress)

		if len(st.FailedItems) > 0 {
			fmt.Printf("Failed items: %d\n", len(st.FailedItems))
			for _, item := range st.FailedItems {
				fmt.Printf("  - %s %s: %s\n", item.Kind, item.ID, item.Err)
			}
		} else {
			fmt.Println("Failed items: none")
		}
		return nil
	},
}

func init() {
	rootCmd.AddCommand(statusCmd)
}
