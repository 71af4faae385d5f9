package cmd

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"
	"github.com/tanq16/extdl/internal/downloaders"
	"github.com/tanq16/extdl/internal/output"
)

func newBackendsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "backends",
		Short: "List external downloaders and whether they are usable here",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, args []string) {
			output.PrintHeader("External downloaders")
			for _, e := range downloaders.Registry {
				d := e.Descriptor
				status := output.FSuccess("✓ " + d.Name)
				path, err := d.Available(downloaderPath[d.Name])
				if err != nil {
					status = output.FError("✗ " + d.Name)
					path = "not found"
				}
				var features []string
				for _, f := range d.Features {
					features = append(features, f.String())
				}
				fmt.Printf("  %s %s\n", status, output.FDebug(path))
				fmt.Printf("      %s\n", output.FDebug("protocols: "+strings.Join(d.Protocols, ", ")))
				if len(features) > 0 {
					fmt.Printf("      %s\n", output.FDebug("features: "+strings.Join(features, ", ")))
				}
			}
		},
	}
}
