// Package pipeline turns the scan engine's event stream into a throttled
// stream of batched tree mutations.
//
// A single consumer goroutine (Run) owns every presentation field of the
// tree: attachment order seen by observers, expansion, highlight and
// percentages. Structural events are queued and applied in bounded batches;
// size updates are coalesced per node. Flushes happen at most once per
// Interval while a scan runs, and unconditionally when the controller sends
// a Drain marker.
package pipeline

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/ivoronin/duscan/internal/events"
	"github.com/ivoronin/duscan/internal/tree"
)

// Options tunes the pipeline.
type Options struct {
	Interval     time.Duration // Minimum time between flushes while scanning
	BatchSize    int           // Max insertions applied per flush
	ExpandLevel  int           // Directories shallower than this start expanded
	ShallowDepth int           // Depth bound of the percentage refresh after a re-sort
}

// DefaultOptions returns the options used when nothing is configured.
func DefaultOptions() Options {
	return Options{
		Interval:     200 * time.Millisecond,
		BatchSize:    500,
		ExpandLevel:  1,
		ShallowDepth: 10,
	}
}

// Batch describes the mutations applied by one flush.
type Batch struct {
	Session   uuid.UUID
	Inserted  []tree.ID        // Nodes linked into their parents, in discovery order
	Resized   []tree.ID        // Nodes whose subtree size became final
	Reordered []tree.ID        // Parents whose child order changed
	Largest   tree.ID          // Largest top-level directory when it changed, else tree.None
	Progress  *events.Progress // Latest engine progress, if any arrived since the last flush
	Final     bool             // Set on the flush that follows a Drain marker
}

// Observer receives batches on the pipeline goroutine. Implementations must
// return quickly and must not call back into the pipeline.
type Observer interface {
	Update(t *tree.Tree, b Batch)
}

// ObserverFunc adapts a function to the Observer interface.
type ObserverFunc func(t *tree.Tree, b Batch)

// Update calls f(t, b).
func (f ObserverFunc) Update(t *tree.Tree, b Batch) { f(t, b) }

type expandRequest struct {
	id    tree.ID
	reply chan bool
}

// Pipeline is the single consumer of an events.Channel.
type Pipeline struct {
	// Config (immutable, set by New)
	ch   *events.Channel
	opts Options
	obs  Observer

	active  atomic.Pointer[uuid.UUID] // Session whose events are applied
	expands chan expandRequest
	done    chan struct{}

	// Consumer state, touched only by the Run goroutine
	tree     *tree.Tree
	pending  []events.NodeDiscovered // FIFO of unapplied insertions
	sizes    map[tree.ID]struct{}    // Coalesced size updates
	progress *events.Progress        // Latest undelivered progress
	largest  tree.ID                 // Currently highlighted top-level directory
	dirty    bool                    // Something to flush
}

// New creates a pipeline reading ch and reporting to obs (may be nil).
func New(ch *events.Channel, opts Options, obs Observer) *Pipeline {
	def := DefaultOptions()
	if opts.Interval <= 0 {
		opts.Interval = def.Interval
	}
	if opts.BatchSize < 1 {
		opts.BatchSize = def.BatchSize
	}
	if opts.ShallowDepth < 0 {
		opts.ShallowDepth = def.ShallowDepth
	}
	if obs == nil {
		obs = ObserverFunc(func(*tree.Tree, Batch) {})
	}
	return &Pipeline{
		ch:      ch,
		opts:    opts,
		obs:     obs,
		expands: make(chan expandRequest),
		done:    make(chan struct{}),
		sizes:   make(map[tree.ID]struct{}),
		largest: tree.None,
	}
}

// Activate makes session the only one whose events are applied.
// Residue from any earlier session is dropped.
func (p *Pipeline) Activate(session uuid.UUID) {
	p.active.Store(&session)
}

// Deactivate stops applying events of any session.
func (p *Pipeline) Deactivate() {
	p.active.Store(nil)
}

func (p *Pipeline) isActive(session uuid.UUID) bool {
	s := p.active.Load()
	return s != nil && *s == session
}

// Run consumes events until ctx is done. It must be called exactly once.
func (p *Pipeline) Run(ctx context.Context) {
	defer close(p.done)

	ticker := time.NewTicker(p.opts.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case ev := <-p.ch.Events():
			p.handle(ev)
		case <-p.ch.ProgressReady():
			if pr, ok := p.ch.TakeProgress(); ok && p.isActive(pr.Session) {
				p.progress = &pr
				p.dirty = true
			}
		case req := <-p.expands:
			req.reply <- p.expand(req.id)
		case <-ticker.C:
			p.dropStale()
			if p.dirty {
				p.flush(false)
			}
		}
	}
}

// Expand marks id expanded. The first expansion of a directory that the
// final pass skipped sorts its children and assigns their percentages;
// Expand reports whether that happened. It returns false once Run has exited.
func (p *Pipeline) Expand(ctx context.Context, id tree.ID) (bool, error) {
	req := expandRequest{id: id, reply: make(chan bool, 1)}
	select {
	case p.expands <- req:
	case <-p.done:
		return false, nil
	case <-ctx.Done():
		return false, ctx.Err()
	}
	return <-req.reply, nil
}

func (p *Pipeline) expand(id tree.ID) bool {
	p.dropStale()
	if p.tree == nil {
		return false
	}
	if !p.tree.ExpandNode(id) {
		return false
	}
	p.obs.Update(p.tree, Batch{Session: p.tree.Session(), Reordered: []tree.ID{id}, Largest: tree.None})
	return true
}

// handle routes one event. Events of inactive sessions are discarded.
func (p *Pipeline) handle(ev events.Event) {
	p.dropStale()

	if d, ok := ev.(events.Drain); ok {
		p.drain(d)
		return
	}
	if !p.isActive(ev.SessionID()) {
		return
	}

	switch e := ev.(type) {
	case events.RootCreated:
		p.reset()
		p.tree = e.Tree
		p.obs.Update(p.tree, Batch{Session: e.Session, Inserted: []tree.ID{e.Root}, Largest: tree.None})
	case events.NodeDiscovered:
		if p.tree != nil {
			p.pending = append(p.pending, e)
			p.dirty = true
		}
	case events.NodeSizeCalculated:
		if p.tree != nil {
			p.sizes[e.Node] = struct{}{}
			p.dirty = true
		}
	}
}

// drain applies everything queued for the marker's session, ignoring the
// throttle, runs the finalization pass and releases the waiter.
func (p *Pipeline) drain(d events.Drain) {
	defer close(d.Done)
	if !p.isActive(d.Session) || p.tree == nil || p.tree.Session() != d.Session {
		return
	}
	if pr, ok := p.ch.TakeProgress(); ok && p.isActive(pr.Session) {
		p.progress = &pr
	}
	for len(p.pending) > p.opts.BatchSize {
		p.flush(false)
	}
	p.flush(true)
}

// dropStale forgets the tree of a session that is no longer active.
func (p *Pipeline) dropStale() {
	if p.tree != nil && !p.isActive(p.tree.Session()) {
		p.reset()
	}
}

func (p *Pipeline) reset() {
	p.tree = nil
	p.pending = nil
	p.sizes = make(map[tree.ID]struct{})
	p.progress = nil
	p.largest = tree.None
	p.dirty = false
}
