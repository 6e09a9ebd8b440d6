package sched

import (
	"context"
	"sync"
	"time"

	"github.com/joeycumines/go-offload"
)

type (
	// offloadCall is a pending Offload, completed on the loop.
	offloadCall struct {
		job   offload.Job
		value any
		err   error
		done  chan struct{}
		mode  offload.Mode
	}

	// batcher groups Offload calls, from any number of goroutines, into
	// loop tasks, so that a burst of calls costs one loop wake.
	batcher struct {
		// betteralign:ignore

		loop          *Loop
		jobCh         chan *offloadCall
		stopped       chan struct{}
		done          chan struct{}
		stopOnce      sync.Once
		pending       []*offloadCall
		maxSize       int
		flushInterval time.Duration
	}
)

func newBatcher(loop *Loop, maxSize int, flushInterval time.Duration) *batcher {
	return &batcher{
		loop:          loop,
		jobCh:         make(chan *offloadCall),
		stopped:       make(chan struct{}),
		done:          make(chan struct{}),
		maxSize:       maxSize,
		flushInterval: flushInterval,
	}
}

// submit hands c to the batcher, returning an error if ctx is canceled, or
// the batcher is stopped.
func (x *batcher) submit(ctx context.Context, c *offloadCall) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-x.stopped:
		return ErrLoopClosed
	case x.jobCh <- c:
		return nil
	}
}

func (x *batcher) stop() {
	x.stopOnce.Do(func() {
		close(x.stopped)
	})
}

func (x *batcher) run() {
	defer close(x.done)

	var timer *time.Timer
	var flushCh <-chan time.Time
	stopTimer := func() {
		if timer != nil {
			timer.Stop()
			timer = nil
			flushCh = nil
		}
	}
	defer stopTimer()

	for {
		select {
		case <-x.stopped:
			// fails anything still pending
			x.flush()
			return

		case c := <-x.jobCh:
			x.pending = append(x.pending, c)

			if x.flushInterval <= 0 {
				x.fill()
			}

			if x.flushInterval <= 0 || len(x.pending) >= x.maxSize {
				stopTimer()
				x.flush()
			} else if len(x.pending) == 1 {
				// first job -> start the timer for flush
				timer = time.NewTimer(x.flushInterval)
				flushCh = timer.C
			}

		case <-flushCh:
			timer = nil
			flushCh = nil
			x.flush()
		}
	}
}

// fill takes any calls already waiting, without blocking, up to the max
// batch size.
func (x *batcher) fill() {
	for len(x.pending) < x.maxSize {
		select {
		case c := <-x.jobCh:
			x.pending = append(x.pending, c)
		default:
			return
		}
	}
}

func (x *batcher) flush() {
	if len(x.pending) == 0 {
		return
	}

	calls := x.pending
	x.pending = nil

	if err := x.loop.Submit(func() { x.loop.startCalls(calls) }); err != nil {
		for _, c := range calls {
			c.complete(nil, err)
		}
	}
}

// startCalls queues each call as its own loop task.
func (l *Loop) startCalls(calls []*offloadCall) {
	for _, c := range calls {
		l.local = append(l.local, func() { l.startCall(c) })
	}
}

func (l *Loop) startCall(c *offloadCall) {
	h := l.engine.Alloc(c.job)
	if err := l.Await(h, c.mode, c.complete); err != nil {
		_ = l.engine.Free(h)
		c.complete(nil, err)
	}
}

func (c *offloadCall) complete(value any, err error) {
	c.value, c.err = value, err
	close(c.done)
}
