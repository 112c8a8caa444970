package session

import (
	"fmt"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/google/uuid"

	"github.com/ivoronin/duscan/internal/tree"
)

// State is the lifecycle state of the controller.
type State int32

const (
	Idle State = iota
	Scanning
	Completed
	Cancelled
	Failed
)

func (s State) String() string {
	switch s {
	case Idle:
		return "idle"
	case Scanning:
		return "scanning"
	case Completed:
		return "completed"
	case Cancelled:
		return "cancelled"
	case Failed:
		return "failed"
	default:
		return fmt.Sprintf("State(%d)", int32(s))
	}
}

// Summary is the outcome of one scan.
type Summary struct {
	Session     uuid.UUID
	Root        string
	State       State
	Err         error // Set when State is Failed
	Started     time.Time
	Elapsed     time.Duration
	Size        int64
	Files       int64
	Folders     int64
	Largest     string // Path of the largest top-level directory, if any
	LargestSize int64
	Tree        *tree.Tree // nil when the scan failed
}

// Status returns the one-line status text shown for the outcome.
func (s Summary) Status() string {
	switch s.State {
	case Completed:
		return "scan complete"
	case Cancelled:
		return "scan cancelled"
	case Failed:
		if s.Err == nil {
			return "error: unknown"
		}
		return "error: " + s.Err.Error()
	default:
		return s.State.String()
	}
}

func (s Summary) String() string {
	return fmt.Sprintf("%s: %d folders, %d files (%s) in %.1fs",
		s.Status(), s.Folders, s.Files, humanize.IBytes(uint64(s.Size)), s.Elapsed.Seconds())
}

// fill copies totals and the largest top-level directory from the tree.
func (s *Summary) fill(tr *tree.Tree) {
	s.Tree = tr
	if tr == nil {
		return
	}
	root, _ := tr.Node(tr.Root())
	s.Size, s.Files, s.Folders = root.Size, root.FileCount, root.FolderCount
	if id := tr.Largest(tr.Root()); id != tree.None {
		n, _ := tr.Node(id)
		s.Largest, s.LargestSize = n.Path, n.Size
	}
}
