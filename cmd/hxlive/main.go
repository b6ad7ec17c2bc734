// Command hxlive runs the demo component server and offers small tools for
// working with component state.
package main

import (
	"fmt"
	"os"

	"github.com/containerd/log"
	"github.com/spf13/cobra"
)

const version = "0.1.0"

func main() {
	if err := newRootCommand().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func newRootCommand() *cobra.Command {
	var (
		level  string
		format string
	)
	cmd := &cobra.Command{
		Use:           "hxlive",
		Short:         "Server-driven reactive components for Go",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if err := log.SetLevel(level); err != nil {
				return err
			}
			return log.SetFormat(log.OutputFormat(format))
		},
	}
	cmd.PersistentFlags().StringVar(&level, "log-level", "info", "log level (debug, info, warn, error)")
	cmd.PersistentFlags().StringVar(&format, "log-format", string(log.TextFormat), "log format (text, json)")

	cmd.AddCommand(
		newServeCommand(),
		newChecksumCommand(),
		newVersionCommand(),
	)
	return cmd
}

func newVersionCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "hxlive version %s\n", version)
		},
	}
}
