package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/ivoronin/duscan/internal/config"
	"github.com/ivoronin/duscan/internal/history"
	"github.com/ivoronin/duscan/internal/progress"
	"github.com/ivoronin/duscan/internal/session"
)

// scanOptions holds CLI flags for the scan command.
type scanOptions struct {
	configFile   string
	includeFiles bool
	workers      int
	expandLevel  int
	interval     time.Duration
	batchSize    int
	excludes     []string
	depth        int
	minSizeStr   string
	noProgress   bool
	verbose      bool
	historyFile  string
}

// newScanCmd creates the scan subcommand.
func newScanCmd() *cobra.Command {
	def := config.DefaultConfig()
	interval, _ := def.Interval()
	opts := &scanOptions{
		configFile:  config.DefaultPath(),
		workers:     def.Scan.Workers,
		expandLevel: def.Pipeline.ExpandLevel,
		interval:    interval,
		batchSize:   def.Pipeline.BatchSize,
		depth:       def.Report.Depth,
		minSizeStr:  def.Report.MinSize,
		historyFile: config.DataPath(),
	}

	cmd := &cobra.Command{
		Use:   "scan [path]",
		Short: "Scan a directory and report sizes",
		Long: `Walks the directory in parallel, computing the size, file count and folder
count of every subdirectory, then prints the largest entries as a tree.

Settings are read from the config file first; flags given on the command line
override it. Press Ctrl-C to stop early and see the partial result.`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			path := "."
			if len(args) == 1 {
				path = args[0]
			}
			cfg, err := loadConfig(cmd, opts)
			if err != nil {
				return err
			}
			return runScan(path, cfg, opts)
		},
	}

	// Bind flags to options
	cmd.Flags().StringVarP(&opts.configFile, "config", "c", opts.configFile, "Path to YAML config file")
	cmd.Flags().BoolVarP(&opts.includeFiles, "files", "f", false, "Include individual files in the tree")
	cmd.Flags().IntVarP(&opts.workers, "workers", "w", opts.workers, "Number of concurrent directory reads")
	cmd.Flags().IntVar(&opts.expandLevel, "expand-level", opts.expandLevel, "Directories shallower than this start expanded")
	cmd.Flags().DurationVar(&opts.interval, "interval", opts.interval, "Minimum time between tree updates")
	cmd.Flags().IntVar(&opts.batchSize, "batch-size", opts.batchSize, "Maximum insertions applied per update")
	cmd.Flags().StringSliceVarP(&opts.excludes, "exclude", "e", nil, "Glob patterns to exclude")
	cmd.Flags().IntVarP(&opts.depth, "depth", "d", opts.depth, "Report depth (-1 for unlimited)")
	cmd.Flags().StringVarP(&opts.minSizeStr, "min-size", "m", opts.minSizeStr, "Hide report entries smaller than this (e.g., 100, 1K, 10M, 1G)")
	cmd.Flags().BoolVar(&opts.noProgress, "no-progress", false, "Disable progress output")
	cmd.Flags().BoolVarP(&opts.verbose, "verbose", "v", false, "Show unreadable entries")
	cmd.Flags().StringVar(&opts.historyFile, "history-file", opts.historyFile, "Path to scan history database (empty disables history)")

	return cmd
}

// loadConfig reads the config file and applies the flags set on the command line.
func loadConfig(cmd *cobra.Command, opts *scanOptions) (*config.Config, error) {
	cfg, err := config.Load(opts.configFile)
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}

	flags := cmd.Flags()
	if flags.Changed("files") {
		cfg.Scan.IncludeFiles = opts.includeFiles
	}
	if flags.Changed("workers") {
		cfg.Scan.Workers = opts.workers
	}
	if flags.Changed("exclude") {
		cfg.Scan.Excludes = opts.excludes
	}
	if flags.Changed("expand-level") {
		cfg.Pipeline.ExpandLevel = opts.expandLevel
	}
	if flags.Changed("interval") {
		cfg.Pipeline.Interval = opts.interval.String()
	}
	if flags.Changed("batch-size") {
		cfg.Pipeline.BatchSize = opts.batchSize
	}
	if flags.Changed("depth") {
		cfg.Report.Depth = opts.depth
	}
	if flags.Changed("min-size") {
		cfg.Report.MinSize = opts.minSizeStr
	}
	if flags.Changed("history-file") || cfg.HistoryFile == "" {
		cfg.HistoryFile = opts.historyFile
	}
	return cfg, nil
}

// errorCounter consumes non-fatal errors, printing them when verbose.
type errorCounter struct {
	count atomic.Int64
	bar   *progress.Bar
}

// drainErrors consumes errors from a channel and writes them to stderr.
// Clears progress bar line before printing to avoid visual collision.
func (c *errorCounter) drainErrors(errs <-chan error, verbose bool) {
	for err := range errs {
		c.count.Add(1)
		if verbose {
			c.bar.Clear()
			fmt.Fprintf(os.Stderr, "\r\033[Kerror: %v\n", err)
		}
	}
}

// runScan executes one scan: controller → pipeline → progress, then report.
func runScan(path string, cfg *config.Config, opts *scanOptions) error {
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid settings: %w", err)
	}
	minSize, _ := cfg.MinSize()
	pipeOpts, _ := cfg.PipelineOptions()

	store, err := history.Open(cfg.HistoryFile)
	if err != nil {
		return fmt.Errorf("open history: %w", err)
	}
	defer func() { _ = store.Close() }()

	bar := progress.New(!opts.noProgress)

	// Create shared error channel
	errs := make(chan error, 100)
	counter := &errorCounter{bar: bar}
	drained := make(chan struct{})
	go func() {
		defer close(drained)
		counter.drainErrors(errs, opts.verbose)
	}()

	ctrl := session.New(session.Config{
		Settings: cfg.ScanSettings(),
		Pipeline: pipeOpts,
		Observer: bar,
		Recorder: store,
		Errors:   errs,
	})

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	sum := ctrl.Run(ctx, path)
	stop()
	ctrl.Close()
	close(errs)
	<-drained

	bar.Finish(sum)

	if sum.State == session.Failed {
		return sum.Err
	}
	if n := counter.count.Load(); n > 0 && !opts.verbose {
		fmt.Fprintf(os.Stderr, "%d entries could not be read (use --verbose to list them)\n", n)
	}

	printReport(os.Stdout, sum.Tree, cfg.Report.Depth, minSize)

	if sum.State == session.Cancelled {
		return errors.New(sum.Status())
	}
	return nil
}
