// Package notify implements a cross-thread notification channel: any thread
// may post an int64 id, and a single consumer thread, woken through a file
// descriptor that it can include in its readiness wait, drains every pending
// id at once.
//
// The channel writes to its wake primitive only when the pending set goes
// from empty to non-empty, so a burst of completions costs one wake.
package notify

import (
	"errors"
	"os"
	"sync"
	"time"

	"github.com/joeycumines/go-offload/internal/wake"
)

type (
	// Kind identifies the OS mechanism used to wake the consumer.
	Kind = wake.Kind

	// Channel is a growable ring of pending notification ids, plus one wake
	// primitive. Send may be called from any goroutine. Drain, Reopen and
	// Close must only be called by the consumer.
	Channel struct {
		mu     sync.Mutex
		ids    []int64
		index  int
		prim   *wake.Primitive
		kinds  []Kind
		closed bool
	}
)

const (
	KindEventFD    = wake.KindEventFD
	KindPipe       = wake.KindPipe
	KindSocketPair = wake.KindSocketPair

	// DefaultCapacity is the initial number of ids the ring holds before
	// it first grows.
	DefaultCapacity = 4096
)

var (
	// ErrClosed is returned by operations on a closed Channel.
	ErrClosed = errors.New(`notify: channel closed`)
)

// New allocates the ring and opens the first available wake primitive.
func New(opts ...Option) (*Channel, error) {
	cfg, err := resolveChannelOptions(opts)
	if err != nil {
		return nil, err
	}
	prim, err := wake.Open(cfg.kinds...)
	if err != nil {
		return nil, err
	}
	return &Channel{
		ids:   make([]int64, cfg.capacity),
		prim:  prim,
		kinds: cfg.kinds,
	}, nil
}

// Send appends id to the pending set. If the set was empty, the wake
// primitive is written exactly once. On a write failure the id is not
// retained, and the error is an *os.SyscallError named send_notification.
func (c *Channel) Send(id int64) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return ErrClosed
	}

	if c.index == len(c.ids) {
		ids := make([]int64, len(c.ids)*2)
		copy(ids, c.ids)
		c.ids = ids
	}
	c.ids[c.index] = id
	c.index++

	if c.index == 1 {
		if err := c.prim.Signal(); err != nil {
			c.index--
			return os.NewSyscallError(`send_notification`, err)
		}
	}

	return nil
}

// Drain consumes one wake token then returns every pending id, in send
// order, resetting the pending set. It should be called only after FD was
// observed readable; otherwise it blocks until the next Send on an empty
// set. Read failures are an *os.SyscallError named recv_notifications.
func (c *Channel) Drain() ([]int64, error) {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil, ErrClosed
	}
	prim := c.prim
	c.mu.Unlock()

	if err := prim.Consume(); err != nil {
		return nil, os.NewSyscallError(`recv_notifications`, err)
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	for {
		n := c.index
		// allocate without holding the lock, senders may grow the set meanwhile
		c.mu.Unlock()
		ids := make([]int64, n)
		c.mu.Lock()
		if n == c.index {
			copy(ids, c.ids[:n])
			c.index = 0
			return ids, nil
		}
	}
}

// Wait blocks until FD is readable, or timeout elapses (negative waits
// forever), returning true if Drain may be called without blocking.
func (c *Channel) Wait(timeout time.Duration) (bool, error) {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return false, ErrClosed
	}
	prim := c.prim
	c.mu.Unlock()
	return prim.Wait(timeout)
}

// FD returns the descriptor the consumer should wait on for readability, or
// -1 if closed.
func (c *Channel) FD() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return -1
	}
	return c.prim.FD()
}

// Kind reports the wake mechanism in use.
func (c *Channel) Kind() Kind {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.prim.Kind()
}

// Pending returns the number of ids not yet drained.
func (c *Channel) Pending() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.index
}

// Reopen replaces the wake primitive with a fresh one, e.g. in a forked
// child. Pending ids are kept, and if there are any a new wake is issued.
func (c *Channel) Reopen() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return ErrClosed
	}

	prim, err := wake.Open(c.kinds...)
	if err != nil {
		return err
	}
	old := c.prim
	c.prim = prim
	_ = old.Close()

	if c.index > 0 {
		if err := c.prim.Signal(); err != nil {
			return os.NewSyscallError(`send_notification`, err)
		}
	}

	return nil
}

// Close releases the wake primitive. Pending ids are discarded. Calling
// Close more than once is a no-op.
func (c *Channel) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return nil
	}
	c.closed = true
	c.index = 0
	return c.prim.Close()
}
