package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"github.com/tanq16/extdl/internal/utils"
)

func newBatchCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "batch [YAML_FILE]",
		Short: "Process multiple downloads from a YAML file",
		Args:  cobra.ExactArgs(1),
		Run: func(cmd *cobra.Command, args []string) {
			batch, err := utils.LoadBatch(args[0])
			if err != nil {
				fmt.Fprintln(os.Stderr, err)
				os.Exit(1)
			}
			if len(batch.Tasks) == 0 {
				fmt.Fprintln(os.Stderr, "No tasks found in the batch file")
				os.Exit(1)
			}
			opts, err := resolveOptions(cmd, batch.Options)
			if err != nil {
				fmt.Fprintln(os.Stderr, err)
				os.Exit(1)
			}
			for i := range batch.Tasks {
				if err := expandPlaylist(cmd.Context(), &batch.Tasks[i], opts); err != nil {
					fmt.Fprintln(os.Stderr, err)
					os.Exit(1)
				}
			}
			runTasks(batch.Tasks, opts)
		},
	}
}
