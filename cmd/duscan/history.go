package main

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"text/tabwriter"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"github.com/ivoronin/duscan/internal/config"
	"github.com/ivoronin/duscan/internal/history"
)

// historyOptions holds CLI flags for the history command.
type historyOptions struct {
	historyFile string
	limit       int
	since       time.Duration
}

// newHistoryCmd creates the history subcommand.
func newHistoryCmd() *cobra.Command {
	opts := &historyOptions{
		historyFile: config.DataPath(),
		limit:       20,
	}

	cmd := &cobra.Command{
		Use:   "history [path]",
		Short: "Show previous scans",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(_ *cobra.Command, args []string) error {
			root := ""
			if len(args) == 1 {
				root = args[0]
			}
			return runHistory(os.Stdout, root, opts)
		},
	}

	cmd.Flags().StringVar(&opts.historyFile, "history-file", opts.historyFile, "Path to scan history database")
	cmd.Flags().IntVarP(&opts.limit, "limit", "n", opts.limit, "Maximum number of scans to show (0 for all)")
	cmd.Flags().DurationVar(&opts.since, "since", 0, "Only show scans started within this duration (e.g., 24h)")

	return cmd
}

func runHistory(w io.Writer, root string, opts *historyOptions) error {
	if opts.historyFile == "" {
		return fmt.Errorf("no history file")
	}
	store, err := history.Open(opts.historyFile)
	if err != nil {
		return fmt.Errorf("open history: %w", err)
	}
	defer func() { _ = store.Close() }()

	var entries []history.Entry
	if opts.since > 0 {
		entries, err = store.Since(time.Now().Add(-opts.since))
		entries = filterEntries(entries, root, opts.limit)
	} else {
		entries, err = store.List(root, opts.limit)
	}
	if err != nil {
		return err
	}
	if len(entries) == 0 {
		fmt.Fprintln(w, "No scans recorded")
		return nil
	}

	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "STARTED\tROOT\tSIZE\tFILES\tFOLDERS\tTOOK\tSTATUS")
	for _, e := range entries {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%d\t%d\t%.1fs\t%s\n",
			humanize.Time(e.Started), e.Root, humanize.IBytes(uint64(e.Size)),
			e.Files, e.Folders, e.Elapsed.Seconds(), e.Status)
	}
	return tw.Flush()
}

// filterEntries keeps scans of root (all roots when empty), up to limit.
func filterEntries(entries []history.Entry, root string, limit int) []history.Entry {
	if root != "" {
		if abs, err := filepath.Abs(root); err == nil {
			root = abs
		}
	}
	var kept []history.Entry
	for _, e := range entries {
		if root != "" && e.Root != root {
			continue
		}
		kept = append(kept, e)
		if limit > 0 && len(kept) == limit {
			break
		}
	}
	return kept
}
