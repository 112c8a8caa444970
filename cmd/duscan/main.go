package main

import (
	"os"

	"github.com/spf13/cobra"
)

var (
	version = "dev"
	commit  = "none"
)

func main() {
	os.Exit(run())
}

func run() int {
	root := &cobra.Command{
		Use:          "duscan",
		Short:        "Scan directory trees and report disk usage",
		Version:      version + " (" + commit + ")",
		SilenceUsage: true,
	}

	root.AddCommand(newScanCmd())
	root.AddCommand(newHistoryCmd())

	if err := root.Execute(); err != nil {
		return 1
	}
	return 0
}
