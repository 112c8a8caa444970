// Package session drives scans: one active scan at a time, a final drain of
// the pipeline when a scan completes, and a Summary for every outcome.
//
// State machine:
//
//	Idle ──Start──► Scanning ──► Completed | Cancelled | Failed
//	  ▲                                       │
//	  └───────────────Start───────────────────┘
//
// A terminal state stays observable until the next Start. Start cancels and
// waits for any scan still running before it begins a new one.
package session

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/ivoronin/duscan/internal/events"
	"github.com/ivoronin/duscan/internal/pipeline"
	"github.com/ivoronin/duscan/internal/scanner"
)

// Recorder persists scan summaries.
type Recorder interface {
	Record(s Summary) error
}

// Config configures a Controller.
type Config struct {
	Settings scanner.Settings  // Engine options
	Pipeline pipeline.Options  // Batching, throttle and expansion policy
	Capacity int               // Structural event buffer; 0 for the default
	Observer pipeline.Observer // Receives pipeline batches (may be nil)
	Recorder Recorder          // Stores summaries (may be nil)
	Errors   chan error        // Non-fatal errors (may be nil)
}

// Controller owns the event channel, the pipeline goroutine and at most one
// running scan.
type Controller struct {
	cfg      Config
	ch       *events.Channel
	pipe     *pipeline.Pipeline
	ctx      context.Context
	stop     context.CancelFunc
	pipeDone chan struct{}

	startMu sync.Mutex // Serializes Start and Close

	mu      sync.Mutex
	state   State
	cancel  context.CancelFunc // Cancels the running scan
	done    chan struct{}      // Closed once the running scan has settled
	summary Summary
}

// New creates a controller and starts its pipeline goroutine.
// Close must be called to stop it.
func New(cfg Config) *Controller {
	if cfg.Capacity == 0 {
		cfg.Capacity = events.DefaultCapacity
	}
	ch := events.NewChannel(cfg.Capacity)
	ctx, stop := context.WithCancel(context.Background())
	c := &Controller{
		cfg:      cfg,
		ch:       ch,
		pipe:     pipeline.New(ch, cfg.Pipeline, cfg.Observer),
		ctx:      ctx,
		stop:     stop,
		pipeDone: make(chan struct{}),
	}
	go func() {
		defer close(c.pipeDone)
		c.pipe.Run(ctx)
	}()
	return c
}

// Pipeline returns the pipeline, for Expand.
func (c *Controller) Pipeline() *pipeline.Pipeline { return c.pipe }

// State returns the current state.
func (c *Controller) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Summary returns the outcome of the last settled scan.
func (c *Controller) Summary() Summary {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.summary
}

// Start begins scanning root and returns the new session.
// A scan that is still running is cancelled and awaited first.
func (c *Controller) Start(root string) uuid.UUID {
	c.startMu.Lock()
	defer c.startMu.Unlock()

	c.Cancel()
	c.Wait()

	session := uuid.New()
	ctx, cancel := context.WithCancel(c.ctx)
	done := make(chan struct{})

	c.mu.Lock()
	c.pipe.Activate(session)
	c.state = Scanning
	c.cancel = cancel
	c.done = done
	c.mu.Unlock()

	go c.scan(ctx, cancel, session, root, done)
	return session
}

// Cancel stops the running scan, if any, without waiting for it.
// Events still queued for it are discarded.
func (c *Controller) Cancel() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.cancel == nil {
		return
	}
	c.pipe.Deactivate()
	c.cancel()
}

// Wait blocks until the running scan has settled and returns its summary.
func (c *Controller) Wait() Summary {
	c.mu.Lock()
	done := c.done
	c.mu.Unlock()
	if done != nil {
		<-done
	}
	return c.Summary()
}

// Run scans root and waits for the outcome. Cancelling ctx cancels the scan.
func (c *Controller) Run(ctx context.Context, root string) Summary {
	c.Start(root)

	c.mu.Lock()
	done := c.done
	c.mu.Unlock()

	select {
	case <-done:
	case <-ctx.Done():
		c.Cancel()
	}
	return c.Wait()
}

// Close cancels any running scan and stops the pipeline.
func (c *Controller) Close() {
	c.startMu.Lock()
	defer c.startMu.Unlock()

	c.Cancel()
	c.Wait()
	c.stop()
	<-c.pipeDone
}

// scan runs the engine for one session and settles its outcome.
func (c *Controller) scan(ctx context.Context, cancel context.CancelFunc, session uuid.UUID, root string, done chan struct{}) {
	defer close(done)
	defer cancel()

	sum := Summary{Session: session, Root: root, Started: time.Now()}
	s := scanner.New(root, session, c.cfg.Settings, c.ch, c.cfg.Errors)
	tr, err := s.Run(ctx)

	switch {
	case err == nil && c.drain(ctx, session):
		sum.State = Completed
		sum.fill(tr)
	case err == nil, errors.Is(err, scanner.ErrCancelled):
		// Partial tree stays as it was at cancellation
		c.pipe.Deactivate()
		sum.State = Cancelled
		sum.fill(s.Tree())
	default:
		c.pipe.Deactivate()
		sum.State = Failed
		sum.Err = err
	}
	sum.Elapsed = time.Since(sum.Started)

	if c.cfg.Recorder != nil {
		if err := c.cfg.Recorder.Record(sum); err != nil {
			c.report(fmt.Errorf("record history: %w", err))
		}
	}

	c.mu.Lock()
	c.state = sum.State
	c.summary = sum
	c.cancel = nil
	c.mu.Unlock()
}

// drain fences the session's events with a Drain marker and waits until the
// pipeline has flushed them and finalized the tree.
func (c *Controller) drain(ctx context.Context, session uuid.UUID) bool {
	done := make(chan struct{})
	if err := c.ch.Send(ctx, events.Drain{Session: session, Done: done}); err != nil {
		return false
	}
	select {
	case <-done:
		return ctx.Err() == nil
	case <-ctx.Done():
		return false
	}
}

func (c *Controller) report(err error) {
	if c.cfg.Errors == nil {
		return
	}
	select {
	case c.cfg.Errors <- err:
	case <-c.ctx.Done():
	}
}
