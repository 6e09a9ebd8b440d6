package offload

import (
	"errors"
	"runtime"

	"github.com/joeycumines/go-offload/internal/osthread"
	"github.com/joeycumines/go-offload/notify"
)

// submit hands d to the pool: to a parked worker if there is one not
// already spoken for, else to a new worker, else per the saturation policy.
func (e *Engine) submit(d *descriptor) error {
	e.poolMu.Lock()

	if e.closed {
		e.poolMu.Unlock()
		return ErrClosed
	}

	if e.idleLocked() > 0 {
		e.enqueueLocked(d)
		e.poolCond.Signal()
		e.poolMu.Unlock()
		return nil
	}

	if e.count < e.size {
		e.count++
		epoch := e.epoch
		e.poolMu.Unlock()
		return e.launch(d, epoch)
	}

	if e.saturation == SaturationReject {
		count := e.count
		e.poolMu.Unlock()
		e.warning(`pool_exhausted`).
			Int(`threads`, count).
			Log(`rejected job, thread pool exhausted`)
		return &ResourceError{Op: `submit`, Err: ErrPoolExhausted}
	}

	e.enqueueLocked(d)
	queued := e.queueLen
	e.poolMu.Unlock()

	e.warning(`pool_saturated`).
		Int(`queued`, queued).
		Log(`thread pool saturated, job queued`)

	return nil
}

// launch starts a worker, with first as its initial job if non-nil. The
// caller must have already counted the worker.
func (e *Engine) launch(first *descriptor, epoch uint64) error {
	err := e.starter(func() {
		// never unlocked, the thread exits with the worker
		runtime.LockOSThread()
		e.workerLoop(first, epoch)
	})
	if err != nil {
		e.poolMu.Lock()
		if e.epoch == epoch {
			e.count--
		}
		e.poolMu.Unlock()
		e.warning(`launch_thread`).
			Err(err).
			Log(`failed to launch worker`)
		return &ResourceError{Op: `launch_thread`, Err: err}
	}
	e.logger.Debug().
		Uint64(`epoch`, epoch).
		Log(`worker launched`)
	return nil
}

// workerLoop runs first, then serves the queue (and claims the scheduler
// role, for switched calls) until the engine closes, or the epoch changes.
func (e *Engine) workerLoop(first *descriptor, epoch uint64) {
	if first != nil {
		e.execute(first)
	}

	e.poolMu.Lock()
	for {
		if e.epoch != epoch {
			e.poolMu.Unlock()
			return
		}

		for e.queue == nil && e.blocked == nil && !e.closed {
			e.waiting++
			e.poolCond.Wait()
			if e.epoch != epoch {
				e.poolMu.Unlock()
				return
			}
			e.waiting--
		}

		if e.blocked != nil {
			// takes over the scheduler role, releasing poolMu
			e.claimScheduler()
			return
		}

		if e.queue == nil {
			// closed, and there is nothing left to do
			e.count--
			e.poolMu.Unlock()
			return
		}

		d := e.dequeueLocked()
		e.poolMu.Unlock()

		e.execute(d)

		e.poolMu.Lock()
	}
}

// execute runs a job handed off by the scheduler, then sends its
// notification if the scheduler has checked it.
func (e *Engine) execute(d *descriptor) {
	d.mu.Lock()
	d.state = JobRunning
	d.thread = osthread.ID()
	job := d.job
	d.mu.Unlock()

	panicked := runJob(job)

	d.mu.Lock()
	d.panicked = panicked
	d.state = JobDone
	fast, id := d.fast, d.notification
	d.mu.Unlock()

	if !fast {
		e.notify(id)
	}
}

func (e *Engine) notify(id int64) {
	if err := e.notifier.Send(id); err != nil {
		if errors.Is(err, notify.ErrClosed) {
			e.logger.Debug().
				Int64(`id`, id).
				Log(`dropped notification, engine closed`)
			return
		}
		if b := e.logger.Err(); b.Enabled() {
			if _, ok := e.limiter.Allow(`send_notification`); ok {
				b.Err(err).Int64(`id`, id).Log(`failed to send notification`)
			} else {
				b.Release()
			}
		}
	}
}

// idleLocked returns the number of parked workers not already reserved for
// a queued job or a switched call.
func (e *Engine) idleLocked() int {
	n := e.waiting - e.queueLen
	if e.blocked != nil {
		n--
	}
	return n
}

func (e *Engine) enqueueLocked(d *descriptor) {
	if e.queue == nil {
		d.next = d
	} else {
		d.next = e.queue.next
		e.queue.next = d
	}
	e.queue = d
	e.queueLen++
}

func (e *Engine) dequeueLocked() *descriptor {
	d := e.queue.next
	if d == d.next {
		e.queue = nil
	} else {
		e.queue.next = d.next
	}
	d.next = nil
	e.queueLen--
	return d
}

// PoolSize returns the maximum number of worker threads.
func (e *Engine) PoolSize() int {
	e.poolMu.Lock()
	defer e.poolMu.Unlock()
	return e.size
}

// SetPoolSize changes the maximum number of worker threads. Lowering it
// does not stop running workers. Raising it launches workers for jobs
// queued while the pool was saturated.
func (e *Engine) SetPoolSize(size int) error {
	if size <= 0 {
		return errors.New(`offload: pool size must be positive`)
	}

	e.poolMu.Lock()
	e.size = size
	var spawn int
	if !e.closed {
		spawn = min(-e.idleLocked(), e.size-e.count)
	}
	if spawn < 0 {
		spawn = 0
	}
	e.count += spawn
	epoch := e.epoch
	e.poolMu.Unlock()

	var err error
	for i := 0; i < spawn; i++ {
		if e2 := e.launch(nil, epoch); e2 != nil && err == nil {
			err = e2
		}
	}
	return err
}

// ThreadCount returns the number of live worker threads.
func (e *Engine) ThreadCount() int {
	e.poolMu.Lock()
	defer e.poolMu.Unlock()
	return e.count
}

// WaitingCount returns the number of idle worker threads, available to take
// a job without launching a new one.
func (e *Engine) WaitingCount() int {
	e.poolMu.Lock()
	defer e.poolMu.Unlock()
	return max(e.idleLocked(), 0)
}

// QueueLen returns the number of detached jobs waiting for a worker.
func (e *Engine) QueueLen() int {
	e.poolMu.Lock()
	defer e.poolMu.Unlock()
	return e.queueLen
}

// ResetAfterFork discards all pool state, for use in a child process where
// the workers no longer exist: counts are zeroed, the queue is cleared,
// the calling thread becomes the scheduler thread, and the notification
// channel is reopened. Any worker of the previous generation that is still
// around exits when it next touches the pool. Jobs that were queued or
// running are never completed.
func (e *Engine) ResetAfterFork() error {
	e.poolMu.Lock()
	e.epoch++
	e.waiting = 0
	e.count = 0
	e.queue = nil
	e.queueLen = 0
	e.blocked = nil
	e.mainThread = osthread.ID()
	e.poolCond.Broadcast()
	e.poolMu.Unlock()

	e.frameMu.Lock()
	e.frames = nil
	e.frameMu.Unlock()

	e.logger.Info().Log(`pool reset`)

	return e.notifier.Reopen()
}
