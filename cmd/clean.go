package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"github.com/tanq16/extdl/internal/output"
	"github.com/tanq16/extdl/internal/utils"
)

func newCleanCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "clean [OUTPUT_PATH]...",
		Short: "Remove leftover fragment files and URL lists of interrupted downloads",
		Args:  cobra.MinimumNArgs(1),
		Run: func(cmd *cobra.Command, args []string) {
			failed := false
			for _, path := range args {
				removed, err := utils.CleanFragments(path)
				if err != nil {
					fmt.Println(output.FError(fmt.Sprintf("Error cleaning %s: %v", path, err)))
					failed = true
					continue
				}
				output.PrintInfo(fmt.Sprintf("Removed %d temporary files for %s", removed, path))
			}
			if failed {
				os.Exit(1)
			}
		},
	}
}
