package testfs

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"

	"github.com/dustin/go-humanize"
)

// -----------------------------------------------------------------------------
// Sow Operations - Create filesystem from spec
// -----------------------------------------------------------------------------

// SowFileTree creates a directory structure from a FileTree specification
// under root.
func SowFileTree(root string, spec FileTree) error {
	for _, d := range spec.Dirs {
		if err := os.MkdirAll(filepath.Join(root, d), 0o755); err != nil {
			return fmt.Errorf("create dir %s: %w", d, err)
		}
	}
	for _, f := range spec.Files {
		if err := writeFile(filepath.Join(root, f.Path), f); err != nil {
			return fmt.Errorf("create %s: %w", f.Path, err)
		}
	}
	for _, sym := range spec.Symlinks {
		if err := createSymlink(sym.Target, filepath.Join(root, sym.Path)); err != nil {
			return fmt.Errorf("symlink %s -> %s: %w", sym.Path, sym.Target, err)
		}
	}
	return nil
}

// writeFile streams pattern-filled content directly to disk.
// Efficiently handles both tiny (100B) and huge (1GiB) files.
func writeFile(path string, spec File) (err error) {
	const maxBufSize = 1 << 20 // 1MiB max buffer

	size, err := humanize.ParseBytes(spec.Size)
	if err != nil {
		return fmt.Errorf("parse size %q: %w", spec.Size, err)
	}

	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	defer func() {
		if cerr := f.Close(); cerr != nil && err == nil {
			err = cerr
		}
	}()

	pattern := spec.Pattern
	if pattern == 0 {
		pattern = 'x'
	}

	// Use smaller buffer for small files
	bufSize := int(min(size, maxBufSize))
	buf := bytes.Repeat([]byte{byte(pattern)}, bufSize)

	remaining := int64(size)
	for remaining > 0 {
		toWrite := min(int64(len(buf)), remaining)
		if _, err := f.Write(buf[:toWrite]); err != nil {
			return err
		}
		remaining -= toWrite
	}
	return nil
}

// createSymlink creates a symlink, creating parent dirs.
func createSymlink(target, link string) error {
	if err := os.MkdirAll(filepath.Dir(link), 0o755); err != nil {
		return err
	}
	return os.Symlink(target, link)
}
