// Package tree holds the scanned directory tree as an arena of nodes.
//
// Nodes are addressed by stable ID handles rather than pointers. All reads
// and writes go through Tree methods, which serialize on a single RWMutex, so
// the scan engine and the aggregation pipeline can share one tree from
// different goroutines. Readers receive value snapshots: a Node returned by
// Tree.Node never changes underneath the caller, and a child list is never
// observed half-updated.
package tree

import "time"

// ID addresses a node inside its Tree. IDs are never reused within a tree.
type ID int32

// None is the parent of the root node.
const None ID = -1

// Unlimited disables the depth bound of recursive passes.
const Unlimited = -1

// Node is one filesystem entry (file or directory).
//
// Aggregate fields (Size, FileCount, FolderCount, ModTime) of a directory
// cover its whole subtree once Complete is set. Presentation fields
// (Percentage, Expanded, Highlighted, child order) belong to the consumer.
type Node struct {
	Name  string
	Path  string
	IsDir bool

	Size        int64
	FileCount   int64
	FolderCount int64
	ModTime     time.Time

	Percentage  float64
	Expanded    bool
	Highlighted bool

	Depth    int
	Parent   ID
	Children []ID

	// Local* hold the contribution of plain files that are not represented
	// as child nodes (the "include files" option is off).
	LocalSize    int64
	LocalFiles   int64
	LocalModTime time.Time

	Complete  bool // subtree aggregation finished
	Finalized bool // children sorted and percentages assigned by a full pass
	Attached  bool // linked into the parent's child list
}

// clone returns a copy that does not share the child slice.
func (n *Node) clone() Node {
	c := *n
	if n.Children != nil {
		c.Children = append([]ID(nil), n.Children...)
	}
	return c
}

func percentOf(size, parentSize int64) float64 {
	if parentSize <= 0 {
		return 0
	}
	return 100 * float64(size) / float64(parentSize)
}
