package main

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/ivoronin/duscan/internal/config"
	"github.com/ivoronin/duscan/internal/history"
	"github.com/ivoronin/duscan/internal/session"
)

// TestLoadConfigFlagsOverrideFile tests that only explicitly set flags
// override the config file.
func TestLoadConfigFlagsOverrideFile(t *testing.T) {
	dir := t.TempDir()
	cfgPath := filepath.Join(dir, "config.yaml")
	content := "scan:\n  workers: 7\n  excludes: [\".git\"]\npipeline:\n  batch_size: 50\n"
	if err := os.WriteFile(cfgPath, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}

	cmd := newScanCmd()
	for name, value := range map[string]string{
		"config":   cfgPath,
		"workers":  "3",
		"interval": "1s",
		"files":    "true",
	} {
		if err := cmd.Flags().Set(name, value); err != nil {
			t.Fatalf("set --%s: %v", name, err)
		}
	}
	opts := optionsOf(t, cmd)

	cfg, err := loadConfig(cmd, opts)
	if err != nil {
		t.Fatalf("loadConfig() error = %v", err)
	}
	if cfg.Scan.Workers != 3 || !cfg.Scan.IncludeFiles {
		t.Errorf("flags not applied: %+v", cfg.Scan)
	}
	if len(cfg.Scan.Excludes) != 1 || cfg.Pipeline.BatchSize != 50 {
		t.Errorf("file values lost: %+v %+v", cfg.Scan, cfg.Pipeline)
	}
	if d, _ := cfg.Interval(); d != time.Second {
		t.Errorf("interval = %v, want 1s", d)
	}
	if cfg.HistoryFile != config.DataPath() {
		t.Errorf("history file = %q, want default", cfg.HistoryFile)
	}
}

// TestScanAndHistory tests a scan end to end followed by the history listing.
func TestScanAndHistory(t *testing.T) {
	root := t.TempDir()
	if err := os.MkdirAll(filepath.Join(root, "sub"), 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(root, "sub", "data.bin"), make([]byte, 2048), 0o644); err != nil {
		t.Fatal(err)
	}
	historyFile := filepath.Join(t.TempDir(), "history.db")

	cfg := config.DefaultConfig()
	cfg.HistoryFile = historyFile
	cfg.Pipeline.Interval = "5ms"
	if err := runScan(root, cfg, &scanOptions{noProgress: true}); err != nil {
		t.Fatalf("runScan() error = %v", err)
	}

	var buf bytes.Buffer
	if err := runHistory(&buf, root, &historyOptions{historyFile: historyFile, limit: 10}); err != nil {
		t.Fatalf("runHistory() error = %v", err)
	}
	out := buf.String()
	if !strings.Contains(out, root) || !strings.Contains(out, "scan complete") || !strings.Contains(out, "2.0 KiB") {
		t.Errorf("history output = %q", out)
	}
}

// TestScanMissingRoot tests that a failed scan is an error.
func TestScanMissingRoot(t *testing.T) {
	cfg := config.DefaultConfig()
	cfg.HistoryFile = ""
	err := runScan(filepath.Join(t.TempDir(), "missing"), cfg, &scanOptions{noProgress: true})
	if err == nil || !strings.Contains(err.Error(), "not found") {
		t.Errorf("runScan() error = %v, want not found", err)
	}
}

// TestScanInvalidMinSize tests that a bad threshold is rejected before scanning.
func TestScanInvalidMinSize(t *testing.T) {
	cfg := config.DefaultConfig()
	cfg.HistoryFile = ""
	cfg.Report.MinSize = "lots"
	if err := runScan(t.TempDir(), cfg, &scanOptions{noProgress: true}); err == nil {
		t.Error("runScan() should reject an invalid --min-size")
	}
}

// TestHistorySince tests that --since hides scans older than the window.
func TestHistorySince(t *testing.T) {
	historyFile := filepath.Join(t.TempDir(), "history.db")
	store, err := history.Open(historyFile)
	if err != nil {
		t.Fatal(err)
	}
	now := time.Now()
	for _, sc := range []struct {
		root    string
		started time.Time
	}{
		{"/old", now.Add(-48 * time.Hour)},
		{"/recent", now.Add(-time.Hour)},
		{"/other", now.Add(-30 * time.Minute)},
	} {
		sum := session.Summary{Session: uuid.New(), Root: sc.root, State: session.Completed, Started: sc.started}
		if err := store.Record(sum); err != nil {
			t.Fatal(err)
		}
	}
	_ = store.Close()

	var buf bytes.Buffer
	opts := &historyOptions{historyFile: historyFile, since: 24 * time.Hour}
	if err := runHistory(&buf, "", opts); err != nil {
		t.Fatalf("runHistory() error = %v", err)
	}
	out := buf.String()
	if strings.Contains(out, "/old") || !strings.Contains(out, "/recent") || !strings.Contains(out, "/other") {
		t.Errorf("history output = %q", out)
	}

	buf.Reset()
	if err := runHistory(&buf, "/recent", opts); err != nil {
		t.Fatalf("runHistory() error = %v", err)
	}
	if strings.Contains(buf.String(), "/other") || !strings.Contains(buf.String(), "/recent") {
		t.Errorf("root filter output = %q", buf.String())
	}
}

// TestHistoryEmpty tests the listing of an empty database.
func TestHistoryEmpty(t *testing.T) {
	var buf bytes.Buffer
	opts := &historyOptions{historyFile: filepath.Join(t.TempDir(), "history.db")}
	if err := runHistory(&buf, "", opts); err != nil {
		t.Fatalf("runHistory() error = %v", err)
	}
	if !strings.Contains(buf.String(), "No scans recorded") {
		t.Errorf("output = %q", buf.String())
	}
}

// optionsOf recovers the options bound to the command's flags.
func optionsOf(t *testing.T, cmd *cobra.Command) *scanOptions {
	t.Helper()
	opts := &scanOptions{}
	var err error
	flags := cmd.Flags()
	if opts.configFile, err = flags.GetString("config"); err != nil {
		t.Fatal(err)
	}
	opts.includeFiles, _ = flags.GetBool("files")
	opts.workers, _ = flags.GetInt("workers")
	opts.interval, _ = flags.GetDuration("interval")
	opts.historyFile, _ = flags.GetString("history-file")
	return opts
}
