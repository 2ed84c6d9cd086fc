package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/thsalrkd/todaydo/internal/localstore"
	"github.com/thsalrkd/todaydo/internal/migrate"
)

var (
	importDryRun bool
	importBackup bool
)

var exportCmd = &cobra.Command{
	Use:   "export <file>",
	Short: "Export the local database to a JSONL file",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg := loadConfig()
		store := openLocal(cfg)
		defer store.Close()

		ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
		defer cancel()

		total, err := migrate.Export(ctx, collections(store), args[0])
		if err != nil {
			return fmt.Errorf("export failed: %w", err)
		}
		fmt.Printf("Exported %d documents to %s\n", total, args[0])
		return nil
	},
}

var importCmd = &cobra.Command{
	Use:   "import <file>",
	Short: "Import a JSONL export into the local database",
	Long: `Import documents from a JSONL export.

Existing documents with the same key are overwritten; everything else
is left alone. Bad lines are reported and skipped.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg := loadConfig()
		store := openLocal(cfg)
		defer store.Close()

		ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
		defer cancel()

		result, err := migrate.Import(ctx, collections(store), args[0], migrate.Options{
			DryRun: importDryRun,
			Backup: importBackup,
		})
		if err != nil {
			return fmt.Errorf("import failed: %w", err)
		}

		if result.BackupCreated != "" {
			fmt.Printf("Backup written to %s\n", result.BackupCreated)
		}
		for kind, n := range result.Imported {
			fmt.Printf("  %-8s %d\n", kind, n)
		}
		if len(result.Errors) > 0 {
			fmt.Printf("%d lines skipped:\n", len(result.Errors))
			for _, e := range result.Errors {
				fmt.Printf("  %s\n", e)
			}
		}
		if importDryRun {
			fmt.Println("Dry run: nothing written")
		}
		return nil
	},
}

func collections(store *localstore.Store) migrate.Collections {
	logger := log.New(os.Stderr, "[migrate] ", log.LstdFlags)
	return migrate.Collections{
		Todos:    localstore.NewTodos(store, logger),
		Routines: localstore.NewRoutines(store, logger),
		Records:  localstore.NewRecords(store, logger),
		Tags:     localstore.NewTags(store, logger),
		Profiles: localstore.NewProfiles(store, logger),
	}
}

func init() {
	importCmd.Flags().BoolVar(&importDryRun, "dry-run", false, "parse and count without writing")
	importCmd.Flags().BoolVar(&importBackup, "backup", false, "snapshot the input file first")
	rootCmd.AddCommand(exportCmd)
	rootCmd.AddCommand(importCmd)
}
