package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"time"

	"github.com/olebedev/when"
	"github.com/olebedev/when/rules/common"
	"github.com/olebedev/when/rules/en"
	"github.com/spf13/cobra"

	"github.com/thsalrkd/todaydo/internal/model"
)

var (
	addWhen      string
	addImportant bool
	addTag       string
)

var addCmd = &cobra.Command{
	Use:   "add <title>",
	Short: "Add a todo to the local database",
	Long: `Add a todo. The date accepts natural language.

Example usage:
  todaydo add "call the dentist" --when "tomorrow at 3pm"
  todaydo add "pack bags" --when "next friday" --important
  todaydo add "write report"                  # due today`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg := loadConfig()

		now := time.Now()
		due := now
		var clock string

		if addWhen != "" {
			w := when.New(nil)
			w.Add(en.All...)
			w.Add(common.All...)

			r, err := w.Parse(addWhen, now)
			if err != nil {
				return fmt.Errorf("failed to parse date %q: %w", addWhen, err)
			}
			if r == nil {
				return fmt.Errorf("could not understand date %q", addWhen)
			}
			due = r.Time
			if due.Hour() != 0 || due.Minute() != 0 {
				clock = due.Format(model.TimeLayout)
			}
		}

		logger := log.New(os.Stderr, "[add] ", log.LstdFlags)
		store := openLocal(cfg)
		defer store.Close()

		eng, client := buildEngine(cfg, store, logger)
		if client != nil {
			defer client.Close()
		}

		todo, err := model.NewTodo(args[0], model.FormatDate(due), now)
		if err != nil {
			return err
		}
		todo.Time = clock
		todo.Important = addImportant
		todo.Tag = addTag

		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		if err := eng.SaveTodo(ctx, todo); err != nil {
			return fmt.Errorf("failed to save todo: %w", err)
		}
		eng.Stop()

		if clock != "" {
			fmt.Printf("Added %q due %s %s\n", todo.Title, todo.Date, clock)
		} else {
			fmt.Printf("Added %q due %s\n", todo.Title, todo.Date)
		}
		return nil
	},
}

func init() {
	addCmd.Flags().StringVar(&addWhen, "when", "", "due date in natural language (default: today)")
	addCmd.Flags().BoolVar(&addImportant, "important", false, "mark the todo important")
	addCmd.Flags().StringVar(&addTag, "tag", "", "tag id to attach")
	rootCmd.AddCommand(addCmd)
}
