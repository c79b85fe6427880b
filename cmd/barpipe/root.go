package main

import (
	"os"

	"github.com/spf13/cobra"
)

var rootCmd = &cobra.Command{
	Use:   "barpipe",
	Short: "barpipe simulates a PCIe BAR register access pipeline.",
	Long: `barpipe simulates the path from an inbound TLP beat stream, ` +
		`through the one-DWORD-per-cycle BAR access pipeline, to pluggable ` +
		`register block backends and back to completion TLPs.`,
}

// Execute runs the selected subcommand.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
