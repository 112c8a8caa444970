package testfs

import (
	"fmt"
	"io/fs"
	"path/filepath"
	"runtime"
	"sync"

	"github.com/charlievieth/fastwalk"
)

// -----------------------------------------------------------------------------
// Reap Operations - Capture filesystem state
// -----------------------------------------------------------------------------

// Reap walks root and returns the recursive totals of every directory.
//
// Regular files count toward every ancestor up to root; directories count
// as folders of every ancestor. Symlinks and special files are ignored and
// never followed. Unreadable directories are counted but not descended.
func Reap(root string) (*ReapResult, error) {
	absRoot, err := filepath.Abs(root)
	if err != nil {
		return nil, err
	}

	result := &ReapResult{Root: absRoot, Dirs: map[string]DirTotals{".": {}}}
	var mu sync.Mutex

	// add applies delta to rel's parent and every ancestor above it.
	add := func(rel string, delta DirTotals) {
		for rel != "." {
			rel = filepath.Dir(rel)
			t := result.Dirs[rel]
			t.Size += delta.Size
			t.Files += delta.Files
			t.Folders += delta.Folders
			result.Dirs[rel] = t
		}
	}

	conf := fastwalk.Config{Follow: false, NumWorkers: runtime.NumCPU()}
	walkFn := func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return nil // Unreadable entry: skip, like the scanner
		}
		if path == absRoot {
			return nil
		}
		rel, err := filepath.Rel(absRoot, path)
		if err != nil {
			return err
		}

		switch {
		case d.IsDir():
			mu.Lock()
			if _, ok := result.Dirs[rel]; !ok {
				result.Dirs[rel] = DirTotals{}
			}
			add(rel, DirTotals{Folders: 1})
			mu.Unlock()
		case d.Type().IsRegular():
			info, err := d.Info()
			if err != nil {
				return nil
			}
			mu.Lock()
			add(rel, DirTotals{Size: info.Size(), Files: 1})
			mu.Unlock()
		}
		return nil
	}

	if err := fastwalk.Walk(&conf, absRoot, walkFn); err != nil {
		return nil, fmt.Errorf("reap %s: %w", absRoot, err)
	}
	return result, nil
}
