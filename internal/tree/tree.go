package tree

import (
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Tree is an arena of nodes belonging to one scan session.
type Tree struct {
	mu      sync.RWMutex
	session uuid.UUID
	nodes   []Node
	root    ID
}

// New creates a tree whose root is the directory at path.
// The root starts expanded with a percentage of 100.
func New(session uuid.UUID, path string) *Tree {
	name := filepath.Base(path)
	if name == "." || name == string(filepath.Separator) {
		name = path
	}
	return &Tree{
		session: session,
		nodes: []Node{{
			Name:       name,
			Path:       path,
			IsDir:      true,
			Percentage: 100,
			Expanded:   true,
			Parent:     None,
			Attached:   true,
		}},
		root: 0,
	}
}

// Session returns the scan session this tree belongs to.
func (t *Tree) Session() uuid.UUID { return t.session }

// Root returns the root node ID.
func (t *Tree) Root() ID { return t.root }

// Len returns the number of allocated nodes, attached or not.
func (t *Tree) Len() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.nodes)
}

func (t *Tree) valid(id ID) bool {
	return id >= 0 && int(id) < len(t.nodes)
}

// Node returns a snapshot of the node.
func (t *Tree) Node(id ID) (Node, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	if !t.valid(id) {
		return Node{}, false
	}
	return t.nodes[id].clone(), true
}

// Children returns a copy of the node's current child list.
func (t *Tree) Children(id ID) []ID {
	t.mu.RLock()
	defer t.mu.RUnlock()
	if !t.valid(id) {
		return nil
	}
	return append([]ID(nil), t.nodes[id].Children...)
}

// Add allocates a node under parent without linking it into the parent's
// child list. Depth and Parent are derived from parent. A file node gets a
// FileCount of 1 and is complete on creation.
func (t *Tree) Add(parent ID, n Node) ID {
	t.mu.Lock()
	defer t.mu.Unlock()

	n.Parent = parent
	n.Children = nil
	n.Attached = false
	if t.valid(parent) {
		n.Depth = t.nodes[parent].Depth + 1
	}
	if !n.IsDir {
		n.FileCount = 1
		n.FolderCount = 0
		n.Complete = true
	}
	t.nodes = append(t.nodes, n)
	return ID(len(t.nodes) - 1)
}

// Attach links child into parent's child list. It is idempotent: a child
// that is already linked is left alone and false is returned.
func (t *Tree) Attach(parent, child ID) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.attachLocked(parent, child)
}

func (t *Tree) attachLocked(parent, child ID) bool {
	if !t.valid(parent) || !t.valid(child) || parent == child {
		return false
	}
	c := &t.nodes[child]
	if c.Attached || c.Parent != parent {
		return false
	}
	c.Attached = true
	p := &t.nodes[parent]
	p.Children = append(p.Children, child)
	return true
}

// SetLocal records the contribution of plain files that are not child nodes.
func (t *Tree) SetLocal(id ID, size, files int64, modTime time.Time) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if !t.valid(id) {
		return
	}
	n := &t.nodes[id]
	n.LocalSize = size
	n.LocalFiles = files
	n.LocalModTime = modTime
}

// Complete links children into id and rolls their aggregates up into it,
// marking the node complete. Called once per directory by the scan engine
// after every subdirectory has completed.
func (t *Tree) Complete(id ID, children []ID) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if !t.valid(id) {
		return
	}
	for _, c := range children {
		t.attachLocked(id, c)
	}
	t.rollupLocked(id)
	t.nodes[id].Complete = true
}

// Recompute rolls the current children of an incomplete directory up into
// it. Complete nodes already hold their final aggregates and are skipped.
// Reports whether any aggregate changed.
func (t *Tree) Recompute(id ID) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	if !t.valid(id) {
		return false
	}
	n := &t.nodes[id]
	if !n.IsDir || n.Complete {
		return false
	}
	before := [3]int64{n.Size, n.FileCount, n.FolderCount}
	t.rollupLocked(id)
	return before != [3]int64{n.Size, n.FileCount, n.FolderCount}
}

func (t *Tree) rollupLocked(id ID) {
	n := &t.nodes[id]
	size, files, folders := n.LocalSize, n.LocalFiles, int64(0)
	modTime := n.LocalModTime
	for _, c := range n.Children {
		child := &t.nodes[c]
		size += child.Size
		files += child.FileCount
		if child.IsDir {
			folders += 1 + child.FolderCount
		}
		if child.ModTime.After(modTime) {
			modTime = child.ModTime
		}
	}
	n.Size = size
	n.FileCount = files
	n.FolderCount = folders
	n.ModTime = modTime
}

// SetExpanded sets the expansion flag.
func (t *Tree) SetExpanded(id ID, expanded bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.valid(id) {
		t.nodes[id].Expanded = expanded
	}
}

// SetHighlighted sets the highlight flag.
func (t *Tree) SetHighlighted(id ID, highlighted bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.valid(id) {
		t.nodes[id].Highlighted = highlighted
	}
}

// Largest returns the largest directory among the children of id, or None.
// Ties go to the child listed first.
func (t *Tree) Largest(id ID) ID {
	t.mu.RLock()
	defer t.mu.RUnlock()
	if !t.valid(id) {
		return None
	}
	best := None
	for _, c := range t.nodes[id].Children {
		child := &t.nodes[c]
		if !child.IsDir {
			continue
		}
		if best == None || child.Size > t.nodes[best].Size {
			best = c
		}
	}
	return best
}

// Walk visits the subtree rooted at id in depth-first pre-order, following
// the current child order. Returning false from fn skips the node's
// children. fn must not call back into the tree.
func (t *Tree) Walk(id ID, fn func(ID, Node) bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	if t.valid(id) {
		t.walkLocked(id, fn)
	}
}

func (t *Tree) walkLocked(id ID, fn func(ID, Node) bool) {
	if !fn(id, t.nodes[id].clone()) {
		return
	}
	for _, c := range t.nodes[id].Children {
		t.walkLocked(c, fn)
	}
}
