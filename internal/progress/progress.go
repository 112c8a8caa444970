// Package progress renders a live scan spinner on stderr.
package progress

import (
	"fmt"
	"io"
	"os"
	"time"

	"github.com/schollz/progressbar/v3"

	"github.com/ivoronin/duscan/internal/pipeline"
	"github.com/ivoronin/duscan/internal/tree"
)

const updateInterval = 50 * time.Millisecond

// Bar wraps a progressbar spinner with enabled/disabled handling.
// All methods are no-ops when disabled.
//
// Bar implements pipeline.Observer: each batch advances the node counter
// and, when the batch carries one, shows the latest engine progress.
type Bar struct {
	bar *progressbar.ProgressBar
	w   io.Writer
}

// New creates a spinner on stderr.
// If enabled=false, returns a Bar where all methods are no-ops.
func New(enabled bool) *Bar {
	if !enabled {
		return &Bar{}
	}
	return newBar(os.Stderr)
}

func newBar(w io.Writer) *Bar {
	bar := progressbar.NewOptions(-1,
		progressbar.OptionSetWriter(w),
		progressbar.OptionThrottle(updateInterval),
		progressbar.OptionClearOnFinish(),
		progressbar.OptionSpinnerType(14),
		progressbar.OptionSetElapsedTime(false),
		progressbar.OptionShowCount(),
		progressbar.OptionSetItsString("nodes"),
	)
	return &Bar{bar: bar, w: w}
}

// Update consumes one pipeline batch.
func (b *Bar) Update(_ *tree.Tree, batch pipeline.Batch) {
	if b.bar == nil {
		return
	}
	if n := len(batch.Inserted); n > 0 {
		_ = b.bar.Add(n)
	}
	if batch.Progress != nil {
		b.Describe(batch.Progress)
	}
}

// Describe updates the spinner description.
func (b *Bar) Describe(s fmt.Stringer) {
	if b.bar != nil {
		b.bar.Describe(s.String())
	}
}

// Clear erases the spinner line so other output can be printed.
func (b *Bar) Clear() {
	if b.bar != nil {
		_ = b.bar.Clear()
	}
}

// Finish completes the spinner and prints a final message.
func (b *Bar) Finish(s fmt.Stringer) {
	if b.bar != nil {
		_ = b.bar.Finish()
		fmt.Fprintln(b.w, "✔ "+s.String())
	}
}
