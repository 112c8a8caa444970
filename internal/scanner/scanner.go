// Package scanner provides the parallel directory-scanning engine.
//
// # Architecture Overview
//
// The scanner walks a directory tree with one goroutine per directory,
// computes size/file/folder aggregates bottom-up and streams structural
// events to a consumer while it runs. A caller that ignores every event
// still gets a fully aggregated, fully sorted tree from Run.
//
// # Concurrency Model
//
//  1. WALKER GOROUTINES (fan-out)
//     - A subdirectory gets its own goroutine (errgroup) while a worker
//     slot is free; otherwise the parent walks it inline
//     - Walker goroutines limited by semaphore (workers)
//     - Directory reads limited by semaphore (readSem)
//     - Each walker: acquires readSem → lists directory → releases
//     readSem → fans out child walkers → waits → rolls up aggregates
//
//  2. CONSUMER (outside this package)
//     - Reads the events.Channel; never called directly by walkers
//
//  3. CALLER GOROUTINE (orchestrator)
//     - Validates the root, emits RootCreated, walks the root directory
//     - Runs the final percentage and sort pass over the whole tree
//
// # Synchronization Primitives
//
//	┌─────────────────┬────────────────────────────────────────────────┐
//	│ Primitive       │ Purpose                                        │
//	├─────────────────┼────────────────────────────────────────────────┤
//	│ readSem         │ Limits concurrent directory reads (backpressure)│
//	│ workers         │ Limits walker goroutines                       │
//	│ errgroup        │ Per-directory fan-out, first-error cancellation│
//	│ events.Channel  │ Ordered bounded handoff to the consumer        │
//	│ tree.Tree       │ Serializes node allocation and roll-ups        │
//	│ atomic counters │ Lock-free progress updates from any goroutine  │
//	└─────────────────┴────────────────────────────────────────────────┘
//
// # Data Flow
//
//	Run() starts
//	    │
//	    ├──► stat root (ErrNotFound, no events, if not a directory)
//	    ├──► send RootCreated
//	    ├──► walkDirectory(root)
//	    │        │
//	    │        ├──► acquire semaphore (blocks if at limit)
//	    │        ├──► listDirectory() → file nodes / local totals, subdir nodes
//	    │        │        └──► send NodeDiscovered per node
//	    │        ├──► release semaphore
//	    │        ├──► walkDirectory(subdir) for each subdir, in a new
//	    │        │    goroutine if a worker slot is free, inline otherwise
//	    │        ├──► tree.Complete() [children rolled up]
//	    │        └──► send NodeSizeCalculated
//	    │
//	    ├──► tree.Finalize() [full sort + percentages]
//	    └──► return tree
//
// # Errors
//
// Per-entry failures (permission denied, I/O errors, entries vanishing
// mid-scan) never escape a walker: the entry is left out of the aggregates
// and the error goes to the optional non-fatal error channel. The root is the
// exception: if it cannot be listed the scan fails. Cancellation unwinds
// every walker without further events and Run returns ErrCancelled.
// Anything else, including a panic inside a walker, aborts the scan.
package scanner

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"sync/atomic"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/ivoronin/duscan/internal/events"
	"github.com/ivoronin/duscan/internal/tree"
	"github.com/ivoronin/duscan/internal/types"
)

var (
	// ErrNotFound is returned when the root path is missing or not a directory.
	ErrNotFound = errors.New("directory not found")
	// ErrCancelled is returned when the scan context is cancelled.
	ErrCancelled = fmt.Errorf("scan cancelled: %w", context.Canceled)
)

// Settings configures a scan. Settings are read-only during a scan.
type Settings struct {
	IncludeFiles   bool     // Create nodes for plain files
	MaxParallelism int      // Max concurrent directory reads
	Excludes       []string // Glob patterns matched against entry base names
	ProgressEvery  int      // Publish progress every N completed directories
}

// DefaultSettings returns the settings used when nothing is configured.
func DefaultSettings() Settings {
	return Settings{
		MaxParallelism: runtime.NumCPU(),
		ProgressEvery:  64,
	}
}

// Scanner walks one directory tree.
//
// The scanner is designed for single-use: create with New(), call Run() once.
type Scanner struct {
	// Config (immutable, set by New)
	root     string          // Root path as given
	session  uuid.UUID       // Tag for every emitted event
	settings Settings        // Scan options
	ch       *events.Channel // Event stream to the consumer
	errCh    chan error      // Non-fatal errors (permission denied, etc.)

	// Runtime (initialized in Run)
	tree    *tree.Tree      // Tree being built
	readSem types.Semaphore // Limits concurrent directory reads
	workers types.Semaphore // Limits walker goroutines
	stats   *stats          // Atomic counters for progress tracking

	open func(name string) (*os.File, error) // os.Open, replaced in tests
}

// New creates a Scanner for the directory at root.
func New(root string, session uuid.UUID, settings Settings, ch *events.Channel, errCh chan error) *Scanner {
	if settings.MaxParallelism < 1 {
		settings.MaxParallelism = runtime.NumCPU()
	}
	if settings.ProgressEvery < 1 {
		settings.ProgressEvery = DefaultSettings().ProgressEvery
	}
	return &Scanner{
		root:     root,
		session:  session,
		settings: settings,
		ch:       ch,
		errCh:    errCh,
		open:     os.Open,
	}
}

// stats tracks scanning progress using atomic counters for lock-free updates.
//
// Individual reads may not see a perfectly consistent view across counters,
// which is acceptable for progress display.
type stats struct {
	folders   atomic.Int64 // Directories listed
	files     atomic.Int64 // Regular files seen
	bytes     atomic.Int64 // Bytes across seen files
	completed atomic.Int64 // Directories fully aggregated
}

// Run executes the scan and returns the finished tree.
//
// Coordination sequence:
//  1. Resolve and validate the root (ErrNotFound, no events)
//  2. Send RootCreated so a consumer can render the empty root
//  3. Walk the root directory (recursive fan-out)
//  4. Publish the final progress snapshot
//  5. Sort and assign percentages over the whole tree
func (s *Scanner) Run(ctx context.Context) (*tree.Tree, error) {
	absPath, err := filepath.Abs(s.root)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrNotFound, s.root, err)
	}
	info, err := os.Stat(absPath)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrNotFound, absPath, err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("%w: %s is not a directory", ErrNotFound, absPath)
	}

	// Initialize runtime fields
	s.tree = tree.New(s.session, absPath)
	s.readSem = types.NewSemaphore(s.settings.MaxParallelism)
	s.workers = types.NewSemaphore(s.settings.MaxParallelism)
	s.stats = &stats{}

	root := s.tree.Root()
	if err := s.ch.Send(ctx, events.RootCreated{Session: s.session, Tree: s.tree, Root: root}); err != nil {
		return nil, s.abort(ctx, absPath, err)
	}

	err = guard(absPath, func() error {
		return s.walkDirectory(ctx, root, absPath)
	})
	if err != nil {
		return nil, s.abort(ctx, absPath, err)
	}

	s.publishProgress(absPath)
	s.tree.Finalize(root, tree.Unlimited, false)
	return s.tree, nil
}

// Tree returns the tree under construction, or nil before Run has created it.
// After a cancelled Run it holds whatever partial state existed.
func (s *Scanner) Tree() *tree.Tree { return s.tree }

// abort maps a walk error to the error returned by Run.
func (s *Scanner) abort(ctx context.Context, root string, err error) error {
	if ctx.Err() != nil {
		return ErrCancelled
	}
	return fmt.Errorf("scan %s: %w", root, err)
}

// walkDirectory processes one directory and, through walkSubdirs, all
// directories below it. It returns only after the whole subtree is
// aggregated, or with the error that aborted it. Access errors are
// swallowed everywhere except on the root.
//
// Semaphore pattern:
//   - acquire before listing (blocks if at concurrency limit)
//   - release after listing but before fanning out
//     (children can acquire while the parent waits for them)
func (s *Scanner) walkDirectory(ctx context.Context, id tree.ID, dir string) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	if err := s.readSem.AcquireContext(ctx); err != nil {
		return err
	}
	l, err := func() (listing, error) {
		defer s.readSem.Release()
		return s.listDirectory(ctx, id, dir)
	}()
	if err != nil {
		if !isAccessError(err) || id == s.tree.Root() {
			return err
		}
		// Keep whatever was listed before the failure
		s.sendError(ctx, err)
	}
	s.stats.folders.Add(1)

	if err := s.walkSubdirs(ctx, l.subdirs); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	s.tree.Complete(id, l.children)
	if err := s.ch.Send(ctx, events.NodeSizeCalculated{Session: s.session, Node: id}); err != nil {
		return err
	}

	if s.stats.completed.Add(1)%int64(s.settings.ProgressEvery) == 0 {
		s.publishProgress(dir)
	}
	return nil
}

// walkSubdirs walks every subdirectory and returns once all of them are done.
// A subdirectory gets its own goroutine only while a worker slot is free;
// otherwise it is walked inline, so goroutines stay bounded by
// MaxParallelism however wide the tree is.
func (s *Scanner) walkSubdirs(ctx context.Context, subdirs []subdir) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	g, gctx := errgroup.WithContext(ctx)
	for _, sub := range subdirs {
		walk := func() error {
			return guard(sub.path, func() error {
				return s.walkDirectory(gctx, sub.id, sub.path)
			})
		}
		if s.workers.TryAcquire() {
			g.Go(func() error {
				defer s.workers.Release()
				return walk()
			})
			continue
		}
		if err := walk(); err != nil {
			cancel()
			_ = g.Wait()
			return err
		}
	}
	return g.Wait()
}

// guard converts a panic inside a walker into an error so it aborts the
// scan through the errgroup instead of crashing the process.
func guard(dir string, fn func() error) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("unexpected failure in %s: %v", dir, r)
		}
	}()
	return fn()
}

func (s *Scanner) publishProgress(current string) {
	s.ch.Publish(events.Progress{
		Session:     s.session,
		Folders:     s.stats.folders.Load(),
		Files:       s.stats.files.Load(),
		Bytes:       s.stats.bytes.Load(),
		CurrentPath: current,
	})
}

// sendError sends a non-fatal error to the errors channel if one is set.
// It gives up when the scan is cancelled so walkers can unwind.
func (s *Scanner) sendError(ctx context.Context, err error) {
	if s.errCh == nil {
		return
	}
	select {
	case s.errCh <- err:
	case <-ctx.Done():
	}
}

// shouldExclude checks if a path matches any glob exclude pattern.
func (s *Scanner) shouldExclude(path string) bool {
	if len(s.settings.Excludes) == 0 {
		return false
	}
	base := filepath.Base(path)
	for _, pattern := range s.settings.Excludes {
		if matched, _ := filepath.Match(pattern, base); matched {
			return true
		}
	}
	return false
}
