package main

import (
	"github.com/spf13/cobra"

	"github.com/kubev2v/sheet-filter/internal/cli"
)

var rootCmd = &cobra.Command{
	Use:          "sheet-filter",
	Short:        "Filter large spreadsheets through a workflow service",
	SilenceUsage: true,
}

func init() {
	rootCmd.AddCommand(newRunCmd())
	rootCmd.AddCommand(cli.NewCmdProcess())
	rootCmd.AddCommand(cli.NewCmdJobs())
}
