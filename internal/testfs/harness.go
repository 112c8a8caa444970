package testfs

import (
	"path/filepath"
	"testing"

	"github.com/ivoronin/duscan/internal/tree"
)

// -----------------------------------------------------------------------------
// Harness - Test API
// -----------------------------------------------------------------------------

// Harness creates a FileTree in t.TempDir() and checks scans of it.
//
// Usage:
//
//	h := testfs.New(t, testfs.FileTree{Files: []testfs.File{{Path: "a/b.txt", Size: "10"}}})
//	tr, _ := scanner.New(h.Root(), session, settings, ch, nil).Run(ctx)
//	h.AssertScanned(tr)
type Harness struct {
	t     *testing.T
	root  string   // Temporary directory root
	given FileTree // Original spec
}

// New creates a new Harness with the given FileTree specification.
// The temporary directory is automatically cleaned up by t.TempDir() mechanics.
func New(t *testing.T, given FileTree) *Harness {
	t.Helper()

	h := &Harness{
		t:     t,
		root:  t.TempDir(),
		given: given,
	}

	if err := SowFileTree(h.root, given); err != nil {
		t.Fatalf("failed to setup files: %v", err)
	}

	return h
}

// Root returns the temporary directory root path.
func (h *Harness) Root() string {
	return h.root
}

// Path returns the absolute path of a path relative to the root.
func (h *Harness) Path(rel string) string {
	return filepath.Join(h.root, rel)
}

// AssertScanned verifies tr against its own invariants and against a reap
// of the harness directory.
func (h *Harness) AssertScanned(tr *tree.Tree) {
	h.t.Helper()

	if tr == nil {
		h.t.Fatal("scan returned no tree")
	}
	reaped, err := Reap(h.root)
	if err != nil {
		h.t.Fatalf("reap %s: %v", h.root, err)
	}
	AssertInvariants(h.t, tr)
	AssertMatchesReap(h.t, tr, reaped)
}
