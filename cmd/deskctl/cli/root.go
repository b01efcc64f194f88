// Package cli implements deskctl, the operations CLI of the review desk.
package cli

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/odyssey-erp/reviewdesk/internal/desk"
)

// queueOpener builds a QueueCLI for the given Redis address.
type queueOpener func(redisAddr string) (*QueueCLI, error)

// Execute runs the CLI and returns the process exit code.
func Execute() int {
	rootCmd := newRootCmd(NewQueueCLI)
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return 1
	}
	return 0
}

func newRootCmd(open queueOpener) *cobra.Command {
	var redisAddr string
	var output string

	rootCmd := &cobra.Command{
		Use:           "deskctl",
		Short:         "Review desk operations CLI",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	defaultAddr := os.Getenv("REDIS_ADDR")
	if defaultAddr == "" {
		defaultAddr = "127.0.0.1:6379"
	}
	rootCmd.PersistentFlags().StringVar(&redisAddr, "redis-addr", defaultAddr, "Redis address of the job queue")
	rootCmd.PersistentFlags().StringVarP(&output, "output", "o", "table", "Output format: table or json")

	rootCmd.AddCommand(
		newQueueCmd(open, &redisAddr, &output),
		newOptionsCmd(&output),
	)
	return rootCmd
}

func newQueueCmd(open queueOpener, redisAddr, output *string) *cobra.Command {
	queueCmd := &cobra.Command{
		Use:   "queue",
		Short: "Inspect the decision queue",
	}

	statsCmd := &cobra.Command{
		Use:   "stats",
		Short: "Show task counts of the default queue",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			queue, err := open(*redisAddr)
			if err != nil {
				return err
			}
			defer func() { _ = queue.Close() }()

			stats, err := queue.InspectQueue(cmd.Context())
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			if *output == "json" {
				return printJSON(out, stats)
			}
			_, err = fmt.Fprintf(out, "queue=%s pending=%d active=%d scheduled=%d retry=%d archived=%d\n",
				stats.Queue, stats.Pending, stats.Active, stats.Scheduled, stats.Retry, stats.Archived)
			return err
		},
	}

	var size int
	scheduledCmd := &cobra.Command{
		Use:   "scheduled",
		Short: "List scheduled decision tasks",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			queue, err := open(*redisAddr)
			if err != nil {
				return err
			}
			defer func() { _ = queue.Close() }()

			tasks, err := queue.ListScheduled(cmd.Context(), size)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			if *output == "json" {
				type taskView struct {
					ID            string    `json:"id"`
					Type          string    `json:"type"`
					NextProcessAt time.Time `json:"next_process_at"`
				}
				views := make([]taskView, 0, len(tasks))
				for _, task := range tasks {
					views = append(views, taskView{ID: task.ID, Type: task.Type, NextProcessAt: task.NextProcessAt})
				}
				return printJSON(out, views)
			}
			if len(tasks) == 0 {
				_, err = fmt.Fprintln(out, "no scheduled tasks")
				return err
			}
			for _, task := range tasks {
				if _, err := fmt.Fprintf(out, "%s\t%s\t%s\n", task.ID, task.Type, task.NextProcessAt.UTC().Format(time.RFC3339)); err != nil {
					return err
				}
			}
			return nil
		},
	}
	scheduledCmd.Flags().IntVar(&size, "size", 10, "Number of tasks to list")

	queueCmd.AddCommand(statsCmd, scheduledCmd)
	return queueCmd
}

func newOptionsCmd(output *string) *cobra.Command {
	optionsCmd := &cobra.Command{
		Use:   "options",
		Short: "Work with filter option catalogs",
	}
	checkCmd := &cobra.Command{
		Use:   "check <file>",
		Short: "Validate an option catalog file",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			catalog, err := desk.LoadCatalog(args[0])
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			if *output == "json" {
				return printJSON(out, catalog)
			}
			_, err = fmt.Fprintf(out, "ok: %d selectors, %d options\n", len(catalog.Selectors), len(catalog.Options))
			return err
		},
	}
	optionsCmd.AddCommand(checkCmd)
	return optionsCmd
}

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
