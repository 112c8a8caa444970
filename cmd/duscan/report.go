package main

import (
	"fmt"
	"io"
	"strings"

	"github.com/dustin/go-humanize"

	"github.com/ivoronin/duscan/internal/tree"
)

// printReport writes the tree in its current child order, one line per node,
// down to maxDepth levels below the root (tree.Unlimited for all). Nodes
// smaller than minSize are left out along with their subtrees; the root is
// always shown.
func printReport(w io.Writer, tr *tree.Tree, maxDepth int, minSize int64) {
	if tr == nil {
		return
	}
	root := tr.Root()
	tr.Walk(root, func(id tree.ID, n tree.Node) bool {
		if id != root && n.Size < minSize {
			return false
		}
		fmt.Fprintln(w, formatLine(n))
		return maxDepth == tree.Unlimited || n.Depth < maxDepth
	})
}

// formatLine renders "size  percent  indented-name  counts".
func formatLine(n tree.Node) string {
	name := n.Name
	counts := ""
	if n.IsDir {
		name += "/"
		counts = fmt.Sprintf("  (%d files, %d folders)", n.FileCount, n.FolderCount)
	}
	return fmt.Sprintf("%10s %6.1f%%  %s%s%s",
		humanize.IBytes(uint64(n.Size)), n.Percentage, strings.Repeat("  ", n.Depth), name, counts)
}
