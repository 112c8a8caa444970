// Package testfs provides test infrastructure for filesystem scans.
//
// Tests describe a directory tree with a FileTree, sow it into a temporary
// directory, scan it, and compare the scanned tree against an independent
// reap of the same directory:
//
//	given := testfs.FileTree{
//	    Dirs: []string{"empty"},
//	    Files: []testfs.File{
//	        {Path: "a.bin", Size: "100"},
//	        {Path: "docs/b.bin", Size: "1KiB"},
//	    },
//	}
//	h := testfs.New(t, given)
//	tr, err := scanner.New(h.Root(), uuid.New(), settings, ch, nil).Run(ctx)
//	h.AssertScanned(tr)
//
// Subdirectories are created automatically from file paths (mkdir -p semantics).
// File paths are relative to the harness root.
//
// # Sow and Reap
//
//	| Operation | Input            | Output                              |
//	|-----------|------------------|-------------------------------------|
//	| Sow       | FileTree         | Files and directories on disk       |
//	| Reap      | Directory path   | Per-directory totals (ReapResult)   |
//
// Reap walks the directory with charlievieth/fastwalk, which shares no code
// with the scanner, so its totals serve as an oracle.
package testfs

import "github.com/dustin/go-humanize"

// -----------------------------------------------------------------------------
// FileTree Specification Types
// -----------------------------------------------------------------------------

// FileTree describes a directory tree to create.
type FileTree struct {
	// Dirs are created even when no file lives in them.
	Dirs []string `json:"dirs,omitempty"`

	// Files are regular files; parent directories are created as needed.
	Files []File `json:"files,omitempty"`

	// Symlinks are created but never followed or counted by a scan.
	Symlinks []Symlink `json:"symlinks,omitempty"`
}

// File defines a regular file filled with a pattern byte.
type File struct {
	// Path is relative to the tree root, e.g. "docs/report.pdf".
	Path string `json:"path"`

	// Size in bytes or with a unit: "100", "1KiB", "2MB".
	// Parsed via go-humanize.
	Size string `json:"size"`

	// Pattern is the fill byte (defaults to 'x').
	Pattern rune `json:"pattern,omitempty"`
}

// Bytes returns the parsed file size, or 0 if Size is not parseable.
func (f *File) Bytes() int64 {
	size, err := humanize.ParseBytes(f.Size)
	if err != nil {
		return 0
	}
	return int64(size)
}

// TotalSize calculates the sum of all file sizes in bytes.
func (ft *FileTree) TotalSize() int64 {
	var total int64
	for i := range ft.Files {
		total += ft.Files[i].Bytes()
	}
	return total
}

// Symlink defines a symbolic link.
type Symlink struct {
	// Path is relative to the tree root.
	Path string `json:"path"`

	// Target is the path the symlink points to.
	Target string `json:"target"`
}

// -----------------------------------------------------------------------------
// Reap Types (filesystem state captured from disk)
// -----------------------------------------------------------------------------

// ReapResult holds the totals of every directory under a root.
type ReapResult struct {
	Root string `json:"root"`

	// Dirs maps a path relative to Root ("." for Root itself) to its totals.
	Dirs map[string]DirTotals `json:"dirs"`
}

// DirTotals are the recursive totals of one directory.
type DirTotals struct {
	Size    int64 `json:"size"`    // Bytes of regular files below
	Files   int64 `json:"files"`   // Regular files below
	Folders int64 `json:"folders"` // Directories below
}
