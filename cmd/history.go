package cmd

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"
	"github.com/tanq16/extdl/internal/history"
	"github.com/tanq16/extdl/internal/output"
	"github.com/tanq16/extdl/internal/utils"
)

func newHistoryCmd() *cobra.Command {
	var limit int
	var failedOnly bool
	var pruneDays int

	cmd := &cobra.Command{
		Use:   "history",
		Short: "List recorded downloads or prune old records",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, args []string) {
			store, err := history.Open(historyPath())
			if err != nil {
				fmt.Println(output.FError(fmt.Sprintf("Error opening history: %v", err)))
				os.Exit(1)
			}
			defer store.Close()
			ctx := context.Background()

			if pruneDays > 0 {
				cutoff := time.Now().AddDate(0, 0, -pruneDays)
				removed, err := store.Prune(ctx, cutoff)
				if err != nil {
					fmt.Println(output.FError(fmt.Sprintf("Error pruning history: %v", err)))
					os.Exit(1)
				}
				output.PrintInfo(fmt.Sprintf("Removed %d records older than %d days", removed, pruneDays))
				return
			}

			var records []history.Record
			if failedOnly {
				records, err = store.ByStatus(ctx, history.StatusFailed)
			} else {
				records, err = store.Recent(ctx, limit)
			}
			if err != nil {
				fmt.Println(output.FError(fmt.Sprintf("Error reading history: %v", err)))
				os.Exit(1)
			}
			if len(records) == 0 {
				output.PrintInfo("No downloads recorded")
				return
			}
			output.PrintHeader("Download History")
			for _, rec := range records {
				when := time.Unix(rec.FinishedAt, 0).Format(time.DateTime)
				if rec.Status == history.StatusFailed {
					fmt.Println(output.FError(fmt.Sprintf("%s  %s  [%s] %s", when, rec.OutputPath, rec.Backend, rec.Error)))
					continue
				}
				line := fmt.Sprintf("%s  %s  [%s] %s in %s", when, rec.OutputPath, rec.Backend, utils.FormatBytes(uint64(rec.Bytes)), rec.Duration())
				fmt.Println(output.FSuccess(line))
				if rec.Fragments > 0 {
					fmt.Println(output.FDebug(fmt.Sprintf("    %d fragments from %s", rec.Fragments, rec.URL)))
				}
			}
		},
	}

	cmd.Flags().IntVarP(&limit, "limit", "n", 20, "Number of records to show")
	cmd.Flags().BoolVar(&failedOnly, "failed", false, "Show only failed downloads")
	cmd.Flags().IntVar(&pruneDays, "prune", 0, "Delete records older than this many days")
	return cmd
}
