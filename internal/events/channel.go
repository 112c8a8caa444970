package events

import (
	"context"
	"sync/atomic"
)

// DefaultCapacity is the structural event buffer size.
const DefaultCapacity = 4096

// Channel connects many producer goroutines to one consumer.
type Channel struct {
	events chan Event
	latest atomic.Pointer[Progress]
	notify chan struct{}
}

// NewChannel creates a channel buffering up to capacity structural events.
// A capacity of 0 makes every Send wait for the consumer.
func NewChannel(capacity int) *Channel {
	if capacity < 0 {
		capacity = DefaultCapacity
	}
	return &Channel{
		events: make(chan Event, capacity),
		notify: make(chan struct{}, 1),
	}
}

// Send queues a structural event, blocking while the buffer is full.
// It gives up with ctx.Err() once ctx is done, so a cancelled producer
// never emits after observing cancellation.
func (c *Channel) Send(ctx context.Context, ev Event) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	select {
	case c.events <- ev:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Events returns the structural event stream.
func (c *Channel) Events() <-chan Event { return c.events }

// Publish replaces the pending progress snapshot. It never blocks.
func (c *Channel) Publish(p Progress) {
	c.latest.Store(&p)
	select {
	case c.notify <- struct{}{}:
	default:
	}
}

// ProgressReady fires after Publish; the snapshot is read with TakeProgress.
func (c *Channel) ProgressReady() <-chan struct{} { return c.notify }

// TakeProgress returns and clears the pending progress snapshot.
func (c *Channel) TakeProgress() (Progress, bool) {
	p := c.latest.Swap(nil)
	if p == nil {
		return Progress{}, false
	}
	return *p, true
}
