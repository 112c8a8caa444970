package pipeline

import (
	"slices"

	"github.com/ivoronin/duscan/internal/tree"
	"github.com/ivoronin/duscan/internal/types"
)

// flush applies one bounded batch of queued mutations and reports it.
//
// Steps:
//  1. Attach up to BatchSize discovered nodes, applying the expansion policy
//  2. Swap out the coalesced size updates
//  3. Roll aggregates up every affected ancestor, deepest first
//  4. Re-sort each parent whose children changed (minimal moves) and refresh
//     percentages below it down to ShallowDepth
//  5. Track the largest top-level directory
//  6. On the final flush, finalize expanded subtrees
func (p *Pipeline) flush(final bool) {
	p.dirty = false
	t := p.tree
	if t == nil {
		return
	}
	b := Batch{Session: t.Session(), Largest: tree.None, Final: final}
	parents := make(map[tree.ID]struct{})

	// 1. Insertions
	n := min(len(p.pending), p.opts.BatchSize)
	for _, d := range p.pending[:n] {
		t.Attach(d.Parent, d.Child)
		if node, ok := t.Node(d.Child); ok && node.IsDir && node.Depth < p.opts.ExpandLevel {
			t.SetExpanded(d.Child, true)
		}
		b.Inserted = append(b.Inserted, d.Child)
		parents[d.Parent] = struct{}{}
	}
	if n == len(p.pending) {
		p.pending = nil
	} else {
		p.pending = p.pending[n:]
		p.dirty = true
	}

	// 2. Size updates
	sizes := p.sizes
	p.sizes = make(map[tree.ID]struct{})
	for id := range sizes {
		node, ok := t.Node(id)
		if !ok {
			continue
		}
		b.Resized = append(b.Resized, id)
		if node.Parent != tree.None {
			parents[node.Parent] = struct{}{}
		}
	}
	slices.Sort(b.Resized)

	// 3. Ancestor propagation
	p.propagate(parents)

	// 4. Re-sort and percentage refresh
	for _, id := range sortedIDs(parents) {
		if t.SortChildren(id) > 0 {
			b.Reordered = append(b.Reordered, id)
		}
		t.RefreshChildren(id, p.opts.ShallowDepth)
	}
	for _, id := range b.Resized {
		t.UpdatePercentage(id)
	}

	// 5. Largest top-level directory
	if largest := t.Largest(t.Root()); largest != p.largest {
		if p.largest != tree.None {
			t.SetHighlighted(p.largest, false)
		}
		if largest != tree.None {
			t.SetHighlighted(largest, true)
		}
		p.largest = largest
		b.Largest = largest
	}

	// 6. Finalization
	if final {
		t.Finalize(t.Root(), tree.Unlimited, true)
	}

	b.Progress = p.progress
	p.progress = nil
	p.obs.Update(t, b)
}

// propagate recomputes every ancestor of the given nodes, including the
// nodes themselves, from the deepest level up to the root so each parent
// sums children that are already current. Recompute leaves nodes the engine
// has completed untouched.
func (p *Pipeline) propagate(nodes map[tree.ID]struct{}) {
	t := p.tree
	depth := make(map[tree.ID]int)
	for id := range nodes {
		for cur := id; cur != tree.None; {
			if _, seen := depth[cur]; seen {
				break
			}
			node, ok := t.Node(cur)
			if !ok {
				break
			}
			depth[cur] = node.Depth
			cur = node.Parent
		}
	}

	ids := make([]tree.ID, 0, len(depth))
	for id := range depth {
		ids = append(ids, id)
	}
	slices.Sort(ids)
	chain := types.NewSorted(ids, func(id tree.ID) int { return -depth[id] })

	var changed []tree.ID
	for _, id := range chain.Items() {
		if t.Recompute(id) {
			changed = append(changed, id)
		}
	}
	// Parents settle before their children's shares are taken
	for _, id := range slices.Backward(changed) {
		t.UpdatePercentage(id)
	}
}

func sortedIDs(set map[tree.ID]struct{}) []tree.ID {
	ids := make([]tree.ID, 0, len(set))
	for id := range set {
		ids = append(ids, id)
	}
	return types.NewSorted(ids, func(id tree.ID) tree.ID { return id }).Items()
}
