package testfs

import (
	"math"
	"path/filepath"
	"testing"

	"github.com/ivoronin/duscan/internal/tree"
)

// -----------------------------------------------------------------------------
// Assertion Functions
// -----------------------------------------------------------------------------

// percentTolerance absorbs floating-point rounding in percentage checks.
const percentTolerance = 1e-9

// AssertInvariants verifies the structural invariants of a finished tree:
//   - every directory's aggregates equal its local totals plus its children's
//   - every child's percentage is 100*size/parent.size (root is 100)
//   - children are ordered by non-increasing size
//   - every node appears in exactly one child list, under its own parent
func AssertInvariants(t *testing.T, tr *tree.Tree) {
	t.Helper()

	nodes := make(map[tree.ID]tree.Node)
	var order []tree.ID
	tr.Walk(tr.Root(), func(id tree.ID, n tree.Node) bool {
		if _, dup := nodes[id]; dup {
			t.Errorf("node %s listed twice", n.Path)
			return false
		}
		nodes[id] = n
		order = append(order, id)
		return true
	})

	for _, id := range order {
		n := nodes[id]
		if id == tr.Root() && n.Percentage != 100 {
			t.Errorf("root percentage = %v, want 100", n.Percentage)
		}
		if n.Size < 0 || n.FileCount < 0 || n.FolderCount < 0 {
			t.Errorf("%s has negative aggregates: %d/%d/%d", n.Path, n.Size, n.FileCount, n.FolderCount)
		}
		if n.IsDir {
			verifyAggregates(t, nodes, n)
			verifyChildren(t, nodes, id, n)
		}
	}
}

// verifyAggregates checks a directory's sums against its children.
func verifyAggregates(t *testing.T, nodes map[tree.ID]tree.Node, n tree.Node) {
	t.Helper()

	size, files, folders := n.LocalSize, n.LocalFiles, int64(0)
	for _, c := range n.Children {
		child := nodes[c]
		size += child.Size
		files += child.FileCount
		if child.IsDir {
			folders += 1 + child.FolderCount
		}
	}
	if size != n.Size || files != n.FileCount || folders != n.FolderCount {
		t.Errorf("%s aggregates = %d/%d/%d, children sum to %d/%d/%d",
			n.Path, n.Size, n.FileCount, n.FolderCount, size, files, folders)
	}
}

// verifyChildren checks back-references, ordering and percentages.
func verifyChildren(t *testing.T, nodes map[tree.ID]tree.Node, id tree.ID, n tree.Node) {
	t.Helper()

	prev := int64(math.MaxInt64)
	for _, c := range n.Children {
		child, ok := nodes[c]
		if !ok {
			t.Errorf("%s lists dangling child %d", n.Path, c)
			continue
		}
		if child.Parent != id {
			t.Errorf("%s listed under %s but parent is %d", child.Path, n.Path, child.Parent)
		}
		if child.Size > prev {
			t.Errorf("%s: child %s (%d) after a smaller sibling (%d)", n.Path, child.Name, child.Size, prev)
		}
		prev = child.Size

		want := 0.0
		if n.Size > 0 {
			want = 100 * float64(child.Size) / float64(n.Size)
		}
		if math.Abs(child.Percentage-want) > percentTolerance {
			t.Errorf("%s percentage = %v, want %v", child.Path, child.Percentage, want)
		}
	}
}

// AssertMatchesReap verifies every directory of the tree against the reaped
// totals of the same directory on disk, and that no reaped directory is
// missing from the tree.
func AssertMatchesReap(t *testing.T, tr *tree.Tree, reaped *ReapResult) {
	t.Helper()

	found := make(map[string]bool)
	tr.Walk(tr.Root(), func(_ tree.ID, n tree.Node) bool {
		if !n.IsDir {
			return true
		}
		rel, err := filepath.Rel(reaped.Root, n.Path)
		if err != nil {
			t.Errorf("node %s outside reaped root %s", n.Path, reaped.Root)
			return false
		}
		found[rel] = true

		want, ok := reaped.Dirs[rel]
		if !ok {
			t.Errorf("scanned directory %s not found on disk", rel)
			return true
		}
		if n.Size != want.Size || n.FileCount != want.Files || n.FolderCount != want.Folders {
			t.Errorf("%s: scanned %d bytes/%d files/%d folders, disk has %d/%d/%d",
				rel, n.Size, n.FileCount, n.FolderCount, want.Size, want.Files, want.Folders)
		}
		return true
	})

	for rel := range reaped.Dirs {
		if !found[rel] {
			t.Errorf("directory %s missing from scanned tree", rel)
		}
	}
}
