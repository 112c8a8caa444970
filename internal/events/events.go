// Package events carries scan events from engine workers to the single
// aggregation consumer.
//
// Structural events (RootCreated, NodeDiscovered, NodeSizeCalculated) travel
// through one ordered, bounded Go channel and are never dropped. Progress
// snapshots are coalesced: only the latest one is kept until the consumer
// takes it. Every event is tagged with the scan session it belongs to so the
// consumer can discard residue from a scan that has been replaced.
package events

import (
	"fmt"

	"github.com/dustin/go-humanize"
	"github.com/google/uuid"

	"github.com/ivoronin/duscan/internal/tree"
)

// Event is a message from the scan engine (or the controller) to the pipeline.
type Event interface {
	SessionID() uuid.UUID
}

// RootCreated is emitted once per scan before any recursive work begins.
type RootCreated struct {
	Session uuid.UUID
	Tree    *tree.Tree
	Root    tree.ID
}

// NodeDiscovered is emitted when an entry has been allocated under Parent.
type NodeDiscovered struct {
	Session uuid.UUID
	Parent  tree.ID
	Child   tree.ID
}

// NodeSizeCalculated is emitted when the subtree of Node has been fully
// aggregated.
type NodeSizeCalculated struct {
	Session uuid.UUID
	Node    tree.ID
}

// Drain fences the end of a scan: the consumer flushes everything queued
// before it, finalizes the tree and closes Done.
type Drain struct {
	Session uuid.UUID
	Done    chan struct{}
}

func (e RootCreated) SessionID() uuid.UUID        { return e.Session }
func (e NodeDiscovered) SessionID() uuid.UUID     { return e.Session }
func (e NodeSizeCalculated) SessionID() uuid.UUID { return e.Session }
func (e Drain) SessionID() uuid.UUID              { return e.Session }

// Progress is an immutable snapshot of the engine's running counters.
type Progress struct {
	Session     uuid.UUID
	Folders     int64
	Files       int64
	Bytes       int64
	CurrentPath string
}

func (p Progress) String() string {
	return fmt.Sprintf("Scanned %d folders, %d files (%s)",
		p.Folders, p.Files, humanize.IBytes(uint64(p.Bytes)))
}
