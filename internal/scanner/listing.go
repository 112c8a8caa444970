package scanner

import (
	"context"
	"errors"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"time"

	"github.com/ivoronin/duscan/internal/events"
	"github.com/ivoronin/duscan/internal/tree"
)

// subdir is a discovered directory waiting for its own walker.
type subdir struct {
	id   tree.ID
	path string
}

// listing is the outcome of reading one directory.
type listing struct {
	children []tree.ID // Nodes to link under the directory on completion
	subdirs  []subdir  // Directories to descend into
}

// listDirectory reads a single directory, allocating and announcing a node
// for every subdirectory (and for every file when IncludeFiles is set).
// Files without a node are summed into the directory's local totals.
//
// Uses batched ReadDir (1000 entries per batch) to handle large directories
// efficiently. Cancellation is checked before each entry. On a read error
// the entries listed so far are returned along with the error.
func (s *Scanner) listDirectory(ctx context.Context, parent tree.ID, dirPath string) (l listing, err error) {
	var localSize, localFiles int64
	var localModTime time.Time
	defer func() {
		s.tree.SetLocal(parent, localSize, localFiles, localModTime)
	}()

	dir, err := s.open(dirPath)
	if err != nil {
		return l, err
	}
	defer func() { _ = dir.Close() }()

	// Batch reading: ReadDir(n) returns up to n entries at a time.
	// This bounds memory usage when listing directories with millions of files.
	const batchSize = 1000
	for {
		entries, err := dir.ReadDir(batchSize)
		if len(entries) == 0 {
			if err != nil && err != io.EOF {
				return l, err
			}
			break
		}

		for _, entry := range entries {
			if err := ctx.Err(); err != nil {
				return l, err
			}

			fullPath := filepath.Join(dirPath, entry.Name())
			if s.shouldExclude(fullPath) {
				continue
			}

			if entry.IsDir() {
				id := s.tree.Add(parent, tree.Node{Name: entry.Name(), Path: fullPath, IsDir: true})
				if err := s.announce(ctx, parent, id); err != nil {
					return l, err
				}
				l.children = append(l.children, id)
				l.subdirs = append(l.subdirs, subdir{id: id, path: fullPath})
				continue
			}

			// Skip non-regular files (symlinks, devices, sockets, etc.)
			if !entry.Type().IsRegular() {
				continue
			}

			// Info() may trigger additional stat call (platform-dependent)
			info, err := entry.Info()
			if err != nil {
				s.sendError(ctx, err) // Vanished or unreadable: left out of aggregates
				continue
			}

			s.stats.files.Add(1)
			s.stats.bytes.Add(info.Size())

			if !s.settings.IncludeFiles {
				localSize += info.Size()
				localFiles++
				if info.ModTime().After(localModTime) {
					localModTime = info.ModTime()
				}
				continue
			}

			id := s.tree.Add(parent, tree.Node{
				Name:    entry.Name(),
				Path:    fullPath,
				Size:    info.Size(),
				ModTime: info.ModTime(),
			})
			if err := s.announce(ctx, parent, id); err != nil {
				return l, err
			}
			l.children = append(l.children, id)
		}
	}

	return l, nil
}

// announce emits NodeDiscovered for a freshly allocated node.
func (s *Scanner) announce(ctx context.Context, parent, child tree.ID) error {
	return s.ch.Send(ctx, events.NodeDiscovered{Session: s.session, Parent: parent, Child: child})
}

// isAccessError reports whether err is local to one filesystem entry and
// should be swallowed rather than abort the scan.
func isAccessError(err error) bool {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}
	var pathErr *fs.PathError
	var sysErr *os.SyscallError
	return errors.Is(err, fs.ErrPermission) ||
		errors.Is(err, fs.ErrNotExist) ||
		errors.As(err, &pathErr) ||
		errors.As(err, &sysErr)
}
