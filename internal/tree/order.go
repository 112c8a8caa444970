package tree

import (
	"cmp"
	"slices"
)

// UpdatePercentage recomputes the node's share of its parent's size.
// The root always stays at 100. Reports whether the value changed.
func (t *Tree) UpdatePercentage(id ID) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	if !t.valid(id) {
		return false
	}
	return t.updatePercentageLocked(id)
}

func (t *Tree) updatePercentageLocked(id ID) bool {
	n := &t.nodes[id]
	pct := 100.0
	if n.Parent != None {
		pct = percentOf(n.Size, t.nodes[n.Parent].Size)
	}
	if pct == n.Percentage {
		return false
	}
	n.Percentage = pct
	return true
}

// SortChildren orders the children of id by descending size, keeping the
// current relative order of equal sizes. Only children that are out of
// place are moved; the number of moved entries is returned.
func (t *Tree) SortChildren(id ID) int {
	t.mu.Lock()
	defer t.mu.Unlock()
	if !t.valid(id) {
		return 0
	}
	return t.sortChildrenLocked(id)
}

func (t *Tree) sortChildrenLocked(id ID) int {
	kids := t.nodes[id].Children
	if len(kids) < 2 {
		return 0
	}
	target := slices.Clone(kids)
	slices.SortStableFunc(target, func(a, b ID) int {
		return cmp.Compare(t.nodes[b].Size, t.nodes[a].Size)
	})

	moved := 0
	for i, want := range target {
		if kids[i] == want {
			continue
		}
		j := i + 1 + slices.Index(kids[i+1:], want)
		copy(kids[i+1:j+1], kids[i:j])
		kids[i] = want
		moved++
	}
	return moved
}

// RefreshChildren recomputes the percentages of the children of id and,
// through expanded children only, of their descendants down to maxDepth
// levels below id. It does not reorder anything.
func (t *Tree) RefreshChildren(id ID, maxDepth int) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.valid(id) {
		t.passLocked(id, maxDepth, true, false)
	}
}

// Finalize sorts children by descending size and assigns percentages for
// the subtree rooted at id, descending at most maxDepth levels (Unlimited
// for no bound). With expandedOnly set, collapsed directories are neither
// sorted nor descended into; they are left for ExpandNode. Visited nodes
// are marked Finalized. Running Finalize twice yields the same tree.
func (t *Tree) Finalize(id ID, maxDepth int, expandedOnly bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if !t.valid(id) {
		return
	}
	if id == t.root {
		t.nodes[id].Percentage = 100
	}
	t.passLocked(id, maxDepth, expandedOnly, true)
}

func (t *Tree) passLocked(id ID, depth int, expandedOnly, sortChildren bool) {
	if sortChildren {
		t.sortChildrenLocked(id)
		t.nodes[id].Finalized = true
	}
	for _, c := range t.nodes[id].Children {
		t.updatePercentageLocked(c)
	}
	if depth == 0 {
		return
	}
	for _, c := range t.nodes[id].Children {
		child := &t.nodes[c]
		if !child.IsDir || (expandedOnly && !child.Expanded) {
			continue
		}
		t.passLocked(c, depth-1, expandedOnly, sortChildren)
	}
}

// ExpandNode marks id expanded and, the first time a node that has not been
// finalized is expanded, sorts its children and assigns their percentages.
// Reports whether that fix-up ran.
func (t *Tree) ExpandNode(id ID) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	if !t.valid(id) {
		return false
	}
	n := &t.nodes[id]
	n.Expanded = true
	if n.Finalized || !n.Complete {
		return false
	}
	t.passLocked(id, 0, true, true)
	return true
}
