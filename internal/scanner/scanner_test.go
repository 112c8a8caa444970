//go:build unix

package scanner

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"syscall"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/ivoronin/duscan/internal/events"
	"github.com/ivoronin/duscan/internal/testfs"
	"github.com/ivoronin/duscan/internal/tree"
)

// =============================================================================
// Section 1: Aggregation Tests
// =============================================================================

// TestScanTwoFilesAndEmptyDir tests the basic aggregate scenario: files of
// 100 and 300 bytes plus an empty subdirectory.
func TestScanTwoFilesAndEmptyDir(t *testing.T) {
	for _, includeFiles := range []bool{false, true} {
		t.Run(fmt.Sprintf("includeFiles=%v", includeFiles), func(t *testing.T) {
			root := t.TempDir()
			createFile(t, filepath.Join(root, "small.bin"), 100)
			createFile(t, filepath.Join(root, "large.bin"), 300)
			if err := os.Mkdir(filepath.Join(root, "empty"), 0o755); err != nil {
				t.Fatal(err)
			}

			tr, _, err := scan(t, root, Settings{IncludeFiles: includeFiles, MaxParallelism: 2})
			if err != nil {
				t.Fatalf("scan: %v", err)
			}

			n, _ := tr.Node(tr.Root())
			if n.Size != 400 || n.FileCount != 2 || n.FolderCount != 1 {
				t.Errorf("root = %d bytes/%d files/%d folders, want 400/2/1", n.Size, n.FileCount, n.FolderCount)
			}
			if n.Percentage != 100 {
				t.Errorf("root percentage = %v, want 100", n.Percentage)
			}

			empty := findChild(t, tr, tr.Root(), "empty")
			if empty.Percentage != 0 || empty.Size != 0 {
				t.Errorf("empty dir = %d bytes at %v%%, want 0 at 0%%", empty.Size, empty.Percentage)
			}

			wantChildren := 1
			if includeFiles {
				wantChildren = 3
			}
			if got := len(tr.Children(tr.Root())); got != wantChildren {
				t.Errorf("root has %d children, want %d", got, wantChildren)
			}
		})
	}
}

// TestScanMatchesDisk tests aggregates, ordering and percentages of a
// nested tree against an independent walk.
func TestScanMatchesDisk(t *testing.T) {
	h := testfs.New(t, testfs.FileTree{
		Dirs: []string{"empty", "a/empty"},
		Files: []testfs.File{
			{Path: "top.bin", Size: "10"},
			{Path: "a/one.bin", Size: "1KiB"},
			{Path: "a/b/two.bin", Size: "2KiB"},
			{Path: "a/b/c/three.bin", Size: "3KiB"},
			{Path: "a/b/c/zero.bin", Size: "0"},
			{Path: "d/four.bin", Size: "4KiB"},
			{Path: "d/e/f/g/h/five.bin", Size: "5"},
		},
		Symlinks: []testfs.Symlink{{Path: "a/loop", Target: ".."}},
	})

	for _, includeFiles := range []bool{false, true} {
		for _, workers := range []int{1, 4} {
			t.Run(fmt.Sprintf("files=%v/workers=%d", includeFiles, workers), func(t *testing.T) {
				tr, _, err := scan(t, h.Root(), Settings{IncludeFiles: includeFiles, MaxParallelism: workers})
				if err != nil {
					t.Fatalf("scan: %v", err)
				}
				h.AssertScanned(tr)
			})
		}
	}
}

// TestScanModTimeIsSubtreeMax tests that a directory's mtime is the newest file below it.
func TestScanModTimeIsSubtreeMax(t *testing.T) {
	root := t.TempDir()
	old := filepath.Join(root, "old.bin")
	recent := filepath.Join(root, "sub", "recent.bin")
	createFile(t, old, 1)
	createFile(t, recent, 1)

	oldTime := time.Date(2001, 1, 1, 0, 0, 0, 0, time.UTC)
	newTime := time.Date(2020, 1, 1, 0, 0, 0, 0, time.UTC)
	if err := os.Chtimes(old, oldTime, oldTime); err != nil {
		t.Fatal(err)
	}
	if err := os.Chtimes(recent, newTime, newTime); err != nil {
		t.Fatal(err)
	}

	tr, _, err := scan(t, root, Settings{MaxParallelism: 2})
	if err != nil {
		t.Fatalf("scan: %v", err)
	}
	n, _ := tr.Node(tr.Root())
	if !n.ModTime.Equal(newTime) {
		t.Errorf("root mtime = %v, want %v", n.ModTime, newTime)
	}
}

// =============================================================================
// Section 2: Event Stream Tests
// =============================================================================

// TestScanEventsNoLoss tests that every node in the final tree was announced
// exactly once.
func TestScanEventsNoLoss(t *testing.T) {
	h := testfs.New(t, testfs.FileTree{
		Files: []testfs.File{
			{Path: "a/1", Size: "1"}, {Path: "a/2", Size: "2"}, {Path: "b/c/3", Size: "3"},
			{Path: "b/c/d/4", Size: "4"}, {Path: "e/5", Size: "5"}, {Path: "6", Size: "6"},
		},
	})

	tr, evs, err := scan(t, h.Root(), Settings{IncludeFiles: true, MaxParallelism: 3})
	if err != nil {
		t.Fatalf("scan: %v", err)
	}

	discovered := make(map[tree.ID]int)
	for _, ev := range evs {
		if d, ok := ev.(events.NodeDiscovered); ok {
			discovered[d.Child]++
		}
	}

	children := 0
	tr.Walk(tr.Root(), func(id tree.ID, n tree.Node) bool {
		if id != tr.Root() {
			children++
			if discovered[id] != 1 {
				t.Errorf("%s announced %d times", n.Path, discovered[id])
			}
		}
		return true
	})
	if len(discovered) != children {
		t.Errorf("%d nodes announced, %d children in final tree", len(discovered), children)
	}
}

// TestScanEventOrdering tests that RootCreated comes first, that every node
// is discovered before its size is reported, and that a directory's size is
// reported only after all of its subdirectories.
func TestScanEventOrdering(t *testing.T) {
	h := testfs.New(t, testfs.FileTree{
		Dirs: []string{"a/b/c", "a/d", "e"},
		Files: []testfs.File{
			{Path: "a/b/c/f", Size: "1"}, {Path: "e/g", Size: "2"},
		},
	})
	session := uuid.New()

	tr, evs, err := scanSession(t, h.Root(), session, Settings{MaxParallelism: 4})
	if err != nil {
		t.Fatalf("scan: %v", err)
	}

	if _, ok := evs[0].(events.RootCreated); !ok {
		t.Fatalf("first event = %T, want RootCreated", evs[0])
	}

	discoveredAt := make(map[tree.ID]int)
	sizedAt := make(map[tree.ID]int)
	for i, ev := range evs {
		if ev.SessionID() != session {
			t.Errorf("event %d has foreign session", i)
		}
		switch e := ev.(type) {
		case events.NodeDiscovered:
			discoveredAt[e.Child] = i
		case events.NodeSizeCalculated:
			sizedAt[e.Node] = i
		}
	}

	for id, at := range sizedAt {
		if id != tr.Root() {
			if d, ok := discoveredAt[id]; !ok || d > at {
				t.Errorf("node %d sized before it was discovered", id)
			}
		}
		for _, c := range tr.Children(id) {
			if cs, ok := sizedAt[c]; ok && cs > at {
				t.Errorf("child %d sized after parent %d", c, id)
			}
		}
	}
	if _, ok := sizedAt[tr.Root()]; !ok {
		t.Error("root size was never reported")
	}
}

// TestScanPublishesProgress tests that the final progress snapshot carries the totals.
func TestScanPublishesProgress(t *testing.T) {
	h := testfs.New(t, testfs.FileTree{
		Files: []testfs.File{{Path: "a/1", Size: "10"}, {Path: "b/2", Size: "20"}},
	})

	ch := events.NewChannel(events.DefaultCapacity)
	s := New(h.Root(), uuid.New(), Settings{MaxParallelism: 2, ProgressEvery: 1}, ch, nil)
	if _, err := s.Run(context.Background()); err != nil {
		t.Fatalf("scan: %v", err)
	}

	p, ok := ch.TakeProgress()
	if !ok {
		t.Fatal("no progress published")
	}
	if p.Folders != 3 || p.Files != 2 || p.Bytes != 30 {
		t.Errorf("progress = %+v, want 3 folders, 2 files, 30 bytes", p)
	}
}

// =============================================================================
// Section 3: Error and Cancellation Tests
// =============================================================================

// TestScanNotFound tests that missing roots and file roots fail without events.
func TestScanNotFound(t *testing.T) {
	root := t.TempDir()
	file := filepath.Join(root, "file.txt")
	createFile(t, file, 10)

	for _, path := range []string{filepath.Join(root, "missing"), file} {
		ch := events.NewChannel(events.DefaultCapacity)
		tr, err := New(path, uuid.New(), DefaultSettings(), ch, nil).Run(context.Background())
		if !errors.Is(err, ErrNotFound) {
			t.Errorf("%s: err = %v, want ErrNotFound", path, err)
		}
		if tr != nil {
			t.Errorf("%s: got a tree for an invalid root", path)
		}
		if len(ch.Events()) != 0 {
			t.Errorf("%s: %d events emitted for an invalid root", path, len(ch.Events()))
		}
	}
}

// TestScanCancelAfterRootCreated tests that cancelling right after the root
// event yields a cancelled outcome and an empty root.
func TestScanCancelAfterRootCreated(t *testing.T) {
	root := t.TempDir()
	createFile(t, filepath.Join(root, "sub", "file.bin"), 100)
	createFile(t, filepath.Join(root, "file.bin"), 100)

	ch := events.NewChannel(0) // Every send waits for the consumer
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	s := New(root, uuid.New(), Settings{MaxParallelism: 2}, ch, nil)
	errCh := make(chan error, 1)
	go func() {
		_, err := s.Run(ctx)
		errCh <- err
	}()

	ev := <-ch.Events()
	created, ok := ev.(events.RootCreated)
	if !ok {
		t.Fatalf("first event = %T, want RootCreated", ev)
	}
	cancel()

	if err := <-errCh; !errors.Is(err, ErrCancelled) || !errors.Is(err, context.Canceled) {
		t.Fatalf("Run() = %v, want ErrCancelled", err)
	}

	n, _ := created.Tree.Node(created.Root)
	if n.Size != 0 || n.FileCount != 0 || n.FolderCount != 0 {
		t.Errorf("root = %d/%d/%d, want 0/0/0", n.Size, n.FileCount, n.FolderCount)
	}
	if n.Complete {
		t.Error("cancelled root must not be complete")
	}
	if s.Tree() != created.Tree {
		t.Error("Tree() should return the partial tree")
	}
}

// TestScanCancelMidway tests that cancellation unwinds promptly and leaves a
// consistent partial tree.
func TestScanCancelMidway(t *testing.T) {
	root := t.TempDir()
	for i := 0; i < 20; i++ {
		for j := 0; j < 5; j++ {
			createFile(t, filepath.Join(root, fmt.Sprintf("d%02d", i), fmt.Sprintf("e%d", j), "f.bin"), 10)
		}
	}

	ch := events.NewChannel(0)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	s := New(root, uuid.New(), Settings{IncludeFiles: true, MaxParallelism: 4}, ch, nil)
	errCh := make(chan error, 1)
	go func() {
		_, err := s.Run(ctx)
		errCh <- err
	}()

	for i := 0; i < 25; i++ {
		<-ch.Events()
	}
	cancel()

	select {
	case err := <-errCh:
		if !errors.Is(err, ErrCancelled) {
			t.Fatalf("Run() = %v, want ErrCancelled", err)
		}
	case <-time.After(10 * time.Second):
		t.Fatal("scan did not unwind after cancellation")
	}

	tr := s.Tree()
	seen := make(map[tree.ID]bool)
	tr.Walk(tr.Root(), func(id tree.ID, n tree.Node) bool {
		if seen[id] {
			t.Errorf("node %s listed twice", n.Path)
		}
		seen[id] = true
		if n.Size < 0 {
			t.Errorf("node %s has negative size", n.Path)
		}
		return true
	})
	if len(ch.Events()) != 0 {
		t.Error("events emitted after cancellation")
	}
}

// TestPermissionErrorHandling tests that scanner continues when directories are unreadable.
func TestPermissionErrorHandling(t *testing.T) {
	if os.Getuid() == 0 {
		t.Skip("skipping permission test when running as root")
	}

	root := t.TempDir()
	createFile(t, filepath.Join(root, "accessible.txt"), 100)

	unreadable := filepath.Join(root, "unreadable")
	createFile(t, filepath.Join(unreadable, "hidden.txt"), 500)
	if err := os.Chmod(unreadable, 0o000); err != nil {
		t.Fatal(err)
	}
	defer func() { _ = os.Chmod(unreadable, 0o755) }() // Cleanup

	errCh := make(chan error, 10)
	ch := events.NewChannel(events.DefaultCapacity)
	tr, err := New(root, uuid.New(), Settings{MaxParallelism: 2}, ch, errCh).Run(context.Background())
	close(errCh)
	if err != nil {
		t.Fatalf("scan should survive unreadable dirs: %v", err)
	}

	n, _ := tr.Node(tr.Root())
	if n.Size != 100 || n.FileCount != 1 || n.FolderCount != 1 {
		t.Errorf("root = %d/%d/%d, want 100/1/1", n.Size, n.FileCount, n.FolderCount)
	}
	if blocked := findChild(t, tr, tr.Root(), "unreadable"); !blocked.Complete || blocked.Size != 0 {
		t.Errorf("unreadable dir = %+v, want complete and empty", blocked)
	}

	var errCount int
	for err := range errCh {
		if !errors.Is(err, fs.ErrPermission) {
			t.Errorf("unexpected error: %v", err)
		}
		errCount++
	}
	if errCount == 0 {
		t.Error("expected permission error to be reported")
	}
}

// TestScanUnreadableRootFails tests that a root which passes Stat but cannot
// be listed fails the scan instead of completing with an empty tree.
func TestScanUnreadableRootFails(t *testing.T) {
	root := t.TempDir()
	createFile(t, filepath.Join(root, "data.bin"), 100)

	for _, cause := range []error{fs.ErrPermission, fs.ErrNotExist} {
		t.Run(cause.Error(), func(t *testing.T) {
			ch := events.NewChannel(events.DefaultCapacity)
			errCh := make(chan error, 10)
			s := New(root, uuid.New(), Settings{MaxParallelism: 2}, ch, errCh)
			s.open = func(name string) (*os.File, error) {
				if name == root {
					return nil, &fs.PathError{Op: "open", Path: name, Err: cause}
				}
				return os.Open(name)
			}

			tr, err := s.Run(context.Background())
			if err == nil {
				t.Fatal("scan of an unlistable root should fail")
			}
			if !errors.Is(err, cause) {
				t.Errorf("err = %v, want it to wrap %v", err, cause)
			}
			if errors.Is(err, ErrCancelled) {
				t.Errorf("err = %v, must not look like a cancellation", err)
			}
			if tr != nil {
				t.Error("failed scan returned a tree")
			}
			if len(errCh) != 0 {
				t.Error("root failure should not be reported as a non-fatal error")
			}
		})
	}
}

// TestScanUnreadableSubdirSkipped tests that a subdirectory failing to open
// keeps zero aggregates and only produces a non-fatal error.
func TestScanUnreadableSubdirSkipped(t *testing.T) {
	root := t.TempDir()
	createFile(t, filepath.Join(root, "accessible.txt"), 100)
	blocked := filepath.Join(root, "blocked")
	createFile(t, filepath.Join(blocked, "hidden.txt"), 500)

	errCh := make(chan error, 10)
	ch := events.NewChannel(events.DefaultCapacity)
	s := New(root, uuid.New(), Settings{MaxParallelism: 2}, ch, errCh)
	s.open = func(name string) (*os.File, error) {
		if name == blocked {
			return nil, &fs.PathError{Op: "open", Path: name, Err: fs.ErrPermission}
		}
		return os.Open(name)
	}

	tr, err := s.Run(context.Background())
	close(errCh)
	if err != nil {
		t.Fatalf("scan should survive an unreadable subdirectory: %v", err)
	}
	n, _ := tr.Node(tr.Root())
	if n.Size != 100 || n.FileCount != 1 || n.FolderCount != 1 {
		t.Errorf("root = %d/%d/%d, want 100/1/1", n.Size, n.FileCount, n.FolderCount)
	}
	if b := findChild(t, tr, tr.Root(), "blocked"); !b.Complete || b.Size != 0 {
		t.Errorf("blocked dir = %+v, want complete and empty", b)
	}
	var errCount int
	for range errCh {
		errCount++
	}
	if errCount != 1 {
		t.Errorf("reported %d errors, want 1", errCount)
	}
}

// TestScanRootPanicRecovered tests that a panic while listing the root
// becomes a failed scan rather than a crash.
func TestScanRootPanicRecovered(t *testing.T) {
	root := t.TempDir()
	ch := events.NewChannel(events.DefaultCapacity)
	s := New(root, uuid.New(), Settings{MaxParallelism: 2}, ch, nil)
	s.open = func(string) (*os.File, error) { panic("boom") }

	tr, err := s.Run(context.Background())
	if err == nil || !strings.Contains(err.Error(), "unexpected failure") {
		t.Fatalf("err = %v, want recovered panic", err)
	}
	if tr != nil {
		t.Error("failed scan returned a tree")
	}
}

// TestScanBoundsWalkerGoroutines tests that a wide directory does not park
// one goroutine per subdirectory while reads are saturated.
func TestScanBoundsWalkerGoroutines(t *testing.T) {
	const width = 200
	root := t.TempDir()
	for i := range width {
		if err := os.Mkdir(filepath.Join(root, fmt.Sprintf("d%03d", i)), 0o755); err != nil {
			t.Fatal(err)
		}
	}

	ch := events.NewChannel(4 * width)
	s := New(root, uuid.New(), Settings{MaxParallelism: 2}, ch, nil)
	entered := make(chan struct{}, width)
	release := make(chan struct{})
	s.open = func(name string) (*os.File, error) {
		if name != root {
			entered <- struct{}{}
			<-release
		}
		return os.Open(name)
	}

	baseline := runtime.NumGoroutine()
	var tr *tree.Tree
	done := make(chan error, 1)
	go func() {
		var err error
		tr, err = s.Run(context.Background())
		done <- err
	}()

	// Both read slots are now held by walkers parked in open
	for range 2 {
		select {
		case <-entered:
		case <-time.After(5 * time.Second):
			close(release)
			t.Fatal("walkers never started")
		}
	}
	time.Sleep(50 * time.Millisecond)
	if extra := runtime.NumGoroutine() - baseline; extra > 10 {
		t.Errorf("%d goroutines running for %d subdirectories, want a bounded number", extra, width)
	}
	close(release)

	if err := <-done; err != nil {
		t.Fatalf("scan: %v", err)
	}
	if n, _ := tr.Node(tr.Root()); n.FolderCount != width || !n.Complete {
		t.Errorf("root = %d folders (complete=%v), want %d", n.FolderCount, n.Complete, width)
	}
}

// TestGuardRecoversPanic tests that a panicking walker becomes an error.
func TestGuardRecoversPanic(t *testing.T) {
	err := guard("/some/dir", func() error { panic("boom") })
	if err == nil {
		t.Fatal("expected error from panicking walker")
	}
	if isAccessError(err) {
		t.Error("recovered panic must not be treated as an access error")
	}
}

// TestIsAccessError tests error classification.
func TestIsAccessError(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{"permission", fs.ErrPermission, true},
		{"not exist", fs.ErrNotExist, true},
		{"path error", &fs.PathError{Op: "open", Path: "/x", Err: syscall.EIO}, true},
		{"syscall error", os.NewSyscallError("getdents", syscall.EIO), true},
		{"canceled", context.Canceled, false},
		{"wrapped canceled", fmt.Errorf("walk: %w", context.Canceled), false},
		{"deadline", context.DeadlineExceeded, false},
		{"other", errors.New("boom"), false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := isAccessError(tt.err); got != tt.want {
				t.Errorf("isAccessError(%v) = %v, want %v", tt.err, got, tt.want)
			}
		})
	}
}

// =============================================================================
// Section 4: Filtering Tests
// =============================================================================

// TestDirectoryExclusionGit tests that excluded directories are skipped entirely.
func TestDirectoryExclusionGit(t *testing.T) {
	root := t.TempDir()
	createFile(t, filepath.Join(root, "main.go"), 100)
	createFile(t, filepath.Join(root, ".git", "config"), 50)
	createFile(t, filepath.Join(root, ".git", "objects", "pack"), 200)
	createFile(t, filepath.Join(root, "notes.tmp"), 70)

	tr, _, err := scan(t, root, Settings{MaxParallelism: 2, Excludes: []string{".git", "*.tmp"}})
	if err != nil {
		t.Fatalf("scan: %v", err)
	}

	n, _ := tr.Node(tr.Root())
	if n.Size != 100 || n.FileCount != 1 || n.FolderCount != 0 {
		t.Errorf("root = %d/%d/%d, want 100/1/0", n.Size, n.FileCount, n.FolderCount)
	}
}

// TestNonRegularFilesSkipped tests that symlinks and FIFOs are not counted or followed.
func TestNonRegularFilesSkipped(t *testing.T) {
	root := t.TempDir()
	regular := filepath.Join(root, "regular.txt")
	createFile(t, regular, 100)

	if err := os.Symlink(regular, filepath.Join(root, "symlink.txt")); err != nil {
		t.Fatal(err)
	}
	if err := os.Symlink(root, filepath.Join(root, "loop")); err != nil {
		t.Fatal(err)
	}
	if err := syscall.Mkfifo(filepath.Join(root, "fifo"), 0o644); err != nil {
		t.Logf("Skipping FIFO: %v", err)
	}

	tr, _, err := scan(t, root, Settings{IncludeFiles: true, MaxParallelism: 2})
	if err != nil {
		t.Fatalf("scan: %v", err)
	}

	kids := tr.Children(tr.Root())
	if len(kids) != 1 {
		t.Fatalf("expected 1 child, got %d", len(kids))
	}
	if n, _ := tr.Node(kids[0]); n.Name != "regular.txt" {
		t.Errorf("expected regular.txt, got %s", n.Name)
	}
}

// =============================================================================
// Helper Functions
// =============================================================================

func createFile(t *testing.T, path string, size int64) {
	t.Helper()
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatal(err)
	}
	content := make([]byte, size)
	if err := os.WriteFile(path, content, 0o644); err != nil {
		t.Fatal(err)
	}
}

// scan runs a scan while a collector goroutine records every structural event.
func scan(t *testing.T, root string, settings Settings) (*tree.Tree, []events.Event, error) {
	t.Helper()
	return scanSession(t, root, uuid.New(), settings)
}

func scanSession(t *testing.T, root string, session uuid.UUID, settings Settings) (*tree.Tree, []events.Event, error) {
	t.Helper()

	ch := events.NewChannel(16)
	var evs []events.Event
	stop := make(chan struct{})
	done := make(chan struct{})
	go func() {
		defer close(done)
		for {
			select {
			case ev := <-ch.Events():
				evs = append(evs, ev)
			case <-stop:
				for {
					select {
					case ev := <-ch.Events():
						evs = append(evs, ev)
					default:
						return
					}
				}
			}
		}
	}()

	tr, err := New(root, session, settings, ch, nil).Run(context.Background())
	close(stop)
	<-done
	return tr, evs, err
}

func findChild(t *testing.T, tr *tree.Tree, parent tree.ID, name string) tree.Node {
	t.Helper()
	for _, c := range tr.Children(parent) {
		if n, _ := tr.Node(c); n.Name == name {
			return n
		}
	}
	t.Fatalf("child %q not found", name)
	return tree.Node{}
}
