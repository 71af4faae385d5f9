package cmd

import (
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"github.com/tanq16/extdl/internal/utils"
)

func newGetCmd() *cobra.Command {
	var (
		outputPath   string
		protocol     string
		headers      []string
		live         bool
		toStdout     bool
		sectionStart float64
		sectionEnd   float64
	)
	cmd := &cobra.Command{
		Use:   "get [URL]... [--output OUTPUT_PATH]",
		Short: "Download one URL, or merge several format URLs with ffmpeg",
		Args:  cobra.MinimumNArgs(1),
		Run: func(cmd *cobra.Command, args []string) {
			opts, err := resolveOptions(cmd, nil)
			if err != nil {
				fmt.Fprintln(os.Stderr, err)
				os.Exit(1)
			}
			task := utils.Task{
				URL:          args[0],
				Protocol:     protocol,
				Headers:      utils.ParseHeaderArgs(headers),
				OutputPath:   outputPath,
				IsLive:       live,
				ToStdout:     toStdout,
				SectionStart: sectionStart,
				SectionEnd:   sectionEnd,
			}
			if toStdout {
				task.OutputPath = "-"
			}
			if len(args) > 1 {
				protos := make([]string, 0, len(args))
				for _, u := range args {
					task.RequestedFormats = append(task.RequestedFormats, utils.Format{URL: u})
					protos = append(protos, "https")
				}
				if task.Protocol == "" {
					task.Protocol = strings.Join(protos, "+")
				}
			}
			utils.PrepareTask(&task)
			if err := expandPlaylist(cmd.Context(), &task, opts); err != nil {
				fmt.Fprintln(os.Stderr, err)
				os.Exit(1)
			}
			runTasks([]utils.Task{task}, opts)
		},
	}
	cmd.Flags().StringVarP(&outputPath, "output", "o", "", "Output file path")
	cmd.Flags().StringVar(&protocol, "protocol", "", "Protocol tag, '+'-joined for merges (default https)")
	cmd.Flags().StringArrayVarP(&headers, "header", "H", []string{}, "Custom headers (like 'Authorization: Basic dXNlcjpwYXNz'); can be specified multiple times")
	cmd.Flags().BoolVar(&live, "live", false, "Source is a live stream; an interrupt ends the recording")
	cmd.Flags().BoolVar(&toStdout, "stdout", false, "Write the media to stdout")
	cmd.Flags().Float64Var(&sectionStart, "section-start", 0, "Start of the section to download, in seconds")
	cmd.Flags().Float64Var(&sectionEnd, "section-end", 0, "End of the section to download, in seconds")
	return cmd
}
