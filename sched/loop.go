// Package sched implements a minimal cooperative scheduler loop, hosting an
// offload.Engine on a goroutine locked to its OS thread.
//
// The loop runs tasks submitted from any goroutine, and waits for readiness
// of two descriptors: its own task wake primitive, and the engine's
// notification channel. Completed jobs are collected on the loop thread,
// and their callbacks run there.
//
// Jobs started with offload.ModeSwitch move the loop to another OS thread:
// the loop's state lives in the Loop, so whichever thread holds the
// scheduler role simply carries on.
package sched

import (
	"context"
	"errors"
	"fmt"
	"os"
	"runtime"
	"sync"
	"sync/atomic"
	"syscall"

	"github.com/joeycumines/go-offload"
	"github.com/joeycumines/go-offload/internal/osthread"
	"github.com/joeycumines/go-offload/internal/wake"
	"github.com/joeycumines/logiface"
)

type (
	// Loop is a single-threaded scheduler driving an offload.Engine.
	// Instances must be initialized using the New factory.
	Loop struct {
		// betteralign:ignore

		engine  *offload.Engine
		logger  *logiface.Logger[logiface.Event]
		wake    *wake.Primitive
		batcher *batcher
		done    chan struct{}
		err     error

		mu          sync.Mutex
		tasks       []func()
		handlers    map[int64]func()
		wakePending atomic.Bool
		state       atomic.Int32

		loopGoroutineID atomic.Uint64

		// accessed only by the thread holding the scheduler role
		ctx       context.Context
		local     []func()
		ready     []int64
		callbacks map[int64]func()
		nextID    int64
		switching *pendingSwitch
	}

	// pendingSwitch is the switched call in flight, picked up by whichever
	// thread resumes the loop.
	pendingSwitch struct {
		cb func(any, error)
		h  offload.Handle
	}
)

const (
	stateAwake int32 = iota
	stateRunning
	stateTerminated
)

var (
	// ErrLoopRunning is returned by Run if the loop is already running.
	ErrLoopRunning = errors.New(`sched: loop already running`)

	// ErrLoopClosed is returned once the loop has stopped.
	ErrLoopClosed = errors.New(`sched: loop closed`)

	// ErrNotLoopThread is returned by methods that must be called from
	// tasks or callbacks running on the loop.
	ErrNotLoopThread = errors.New(`sched: not on the loop thread`)

	// ErrLoopThread is returned by Offload if called from the loop thread,
	// where waiting for the result would deadlock.
	ErrLoopThread = errors.New(`sched: blocking call on the loop thread`)
)

// New initializes a Loop for engine. The engine should not be shared with
// another scheduler.
func New(engine *offload.Engine, opts ...LoopOption) (*Loop, error) {
	if engine == nil {
		panic(`sched: nil engine`)
	}

	cfg, err := resolveLoopOptions(opts)
	if err != nil {
		return nil, err
	}

	w, err := wake.Open()
	if err != nil {
		return nil, err
	}

	l := &Loop{
		engine:    engine,
		logger:    cfg.logger,
		wake:      w,
		done:      make(chan struct{}),
		handlers:  make(map[int64]func()),
		callbacks: make(map[int64]func()),
		nextID:    1,
	}
	l.batcher = newBatcher(l, cfg.batchSize, cfg.flushInterval)

	return l, nil
}

// Engine returns the engine driven by the loop.
func (l *Loop) Engine() *offload.Engine { return l.engine }

// Run runs the loop on a new goroutine, locked to its OS thread, and blocks
// until it stops, returning the reason. The loop stops when ctx is done, or
// on a wait failure. A Loop may only be run once.
func (l *Loop) Run(ctx context.Context) error {
	if !l.state.CompareAndSwap(stateAwake, stateRunning) {
		if l.state.Load() == stateTerminated {
			return ErrLoopClosed
		}
		return ErrLoopRunning
	}

	l.ctx = ctx
	stop := context.AfterFunc(ctx, l.wakeup)
	defer stop()

	go l.batcher.run()

	go func() {
		// never unlocked, the thread exits with the loop
		runtime.LockOSThread()
		l.enter()
	}()

	<-l.done
	<-l.batcher.done

	return l.err
}

// Done is closed once the loop has stopped.
func (l *Loop) Done() <-chan struct{} { return l.done }

// Submit queues task to run on the loop. It may be called from any
// goroutine, including the loop.
func (l *Loop) Submit(task func()) error {
	if task == nil {
		panic(`sched: nil task`)
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	if l.state.Load() == stateTerminated {
		return ErrLoopClosed
	}

	l.tasks = append(l.tasks, task)

	if l.wakePending.CompareAndSwap(false, true) {
		if err := l.wake.Signal(); err != nil {
			// the task is queued, it will be seen on the next wake
			l.wakePending.Store(false)
			l.logger.Err().Err(err).Log(`failed to wake loop`)
		}
	}

	return nil
}

// Await starts the job h using mode, arranging for cb to run on the loop
// with the collected result. Must be called from the loop. If Start fails,
// the error is returned, and the job is left allocated.
func (l *Loop) Await(h offload.Handle, mode offload.Mode, cb func(any, error)) error {
	if !l.isLoopThread() {
		return ErrNotLoopThread
	}
	if cb == nil {
		panic(`sched: nil callback`)
	}
	if mode == offload.ModeSwitch {
		return l.Switch(h, cb)
	}
	done, err := l.engine.Start(h, mode)
	if err != nil {
		return err
	}
	l.watch(h, cb, done)
	return nil
}

// Switch starts the job h with offload.ModeSwitch, arranging for cb to run
// on the loop with the collected result. Must be called from the loop. If
// an idle worker takes over while the call blocks, the loop continues on
// that worker's thread, and the thread that called Switch becomes a worker.
func (l *Loop) Switch(h offload.Handle, cb func(any, error)) error {
	if !l.isLoopThread() {
		return ErrNotLoopThread
	}
	if cb == nil {
		panic(`sched: nil callback`)
	}

	l.switching = &pendingSwitch{cb: cb, h: h}
	done, err := l.engine.Start(h, offload.ModeSwitch)
	// only reached if no other thread took over
	l.switching = nil
	if err != nil {
		return err
	}
	l.watch(h, cb, done)
	return nil
}

// HandleSignal runs fn on the loop every time sig is received, replacing
// any previous handler for sig.
func (l *Loop) HandleSignal(sig os.Signal, fn func()) error {
	if fn == nil {
		panic(`sched: nil signal handler`)
	}
	num, ok := sig.(syscall.Signal)
	if !ok {
		return fmt.Errorf(`sched: unsupported signal %v`, sig)
	}
	// job ids are positive
	id := -int64(num)
	l.mu.Lock()
	prev, had := l.handlers[id]
	l.handlers[id] = fn
	l.mu.Unlock()
	if err := l.engine.NotifySignal(sig, id); err != nil {
		l.mu.Lock()
		if had {
			l.handlers[id] = prev
		} else {
			delete(l.handlers, id)
		}
		l.mu.Unlock()
		return err
	}
	return nil
}

// Offload runs job with mode via the loop, blocking until its result has
// been collected. It may be called from any goroutine except the loop.
// Calls arriving together are handed to the loop as one batch.
func (l *Loop) Offload(ctx context.Context, job offload.Job, mode offload.Mode) (any, error) {
	if l.isLoopThread() {
		return nil, ErrLoopThread
	}
	if job == nil {
		panic(`sched: nil job`)
	}
	c := &offloadCall{job: job, mode: mode, done: make(chan struct{})}
	if err := l.batcher.submit(ctx, c); err != nil {
		return nil, err
	}
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-l.done:
		select {
		case <-c.done:
			return c.value, c.err
		default:
		}
		return nil, ErrLoopClosed
	case <-c.done:
		return c.value, c.err
	}
}

// watch arranges for cb once h is done: immediately (as the next local
// task) if already done, else when its notification id arrives.
func (l *Loop) watch(h offload.Handle, cb func(any, error), done bool) {
	complete := func() {
		v, err := l.engine.Collect(h)
		cb(v, err)
	}
	if !done {
		id := l.nextID
		l.nextID++
		var err error
		done, err = l.engine.Check(h, id)
		if err != nil {
			l.local = append(l.local, func() { cb(nil, err) })
			return
		}
		if !done {
			l.callbacks[id] = complete
			return
		}
	}
	l.local = append(l.local, complete)
}

func (l *Loop) enter() {
	l.loopGoroutineID.Store(goroutineID())
	if err := l.engine.BindScheduler(l.resume); err != nil {
		l.finish(err)
		return
	}
	l.logger.Debug().
		Int(`thread`, osthread.ID()).
		Log(`loop started`)
	l.cycle()
}

// resume continues the loop on a worker thread that took over the
// scheduler role from a thread blocked in Switch.
func (l *Loop) resume() {
	l.loopGoroutineID.Store(goroutineID())
	sw := l.switching
	l.switching = nil
	l.logger.Debug().
		Int(`thread`, osthread.ID()).
		Log(`loop resumed`)
	if sw != nil {
		l.watch(sw.h, sw.cb, false)
	}
	l.cycle()
}

// cycle runs until the loop stops. Work is taken one item at a time, from
// fields of the Loop, so that a Switch in any task leaves the remainder
// for the thread that resumes.
func (l *Loop) cycle() {
	for {
		if err := l.ctx.Err(); err != nil {
			l.finish(err)
			return
		}
		if l.step() {
			continue
		}
		if err := l.poll(); err != nil {
			l.finish(err)
			return
		}
	}
}

// step runs a single item of work, returning false if there was none.
func (l *Loop) step() bool {
	if len(l.local) != 0 {
		fn := l.local[0]
		l.local[0] = nil
		l.local = l.local[1:]
		l.safeExecute(fn)
		return true
	}

	if len(l.ready) != 0 {
		id := l.ready[0]
		l.ready = l.ready[1:]
		if fn := l.callbacks[id]; fn != nil {
			delete(l.callbacks, id)
			l.safeExecute(fn)
			return true
		}
		l.mu.Lock()
		fn := l.handlers[id]
		l.mu.Unlock()
		if fn != nil {
			l.safeExecute(fn)
		} else {
			l.logger.Warning().
				Int64(`id`, id).
				Log(`unknown notification id`)
		}
		return true
	}

	l.mu.Lock()
	tasks := l.tasks
	l.tasks = nil
	l.mu.Unlock()
	if len(tasks) != 0 {
		l.local = append(l.local, tasks...)
		return true
	}

	return false
}

// poll waits for the task wake primitive or the engine's notifications.
func (l *Loop) poll() error {
	notifier := l.engine.Notifier()
	ready, err := wake.Poll([]int{l.wake.FD(), notifier.FD()}, -1)
	if err != nil {
		return err
	}
	if ready[0] {
		if err := l.wake.Consume(); err != nil {
			return err
		}
		l.wakePending.Store(false)
	}
	if ready[1] {
		ids, err := notifier.Drain()
		if err != nil {
			return err
		}
		l.ready = append(l.ready, ids...)
	}
	return nil
}

// wakeup interrupts poll, e.g. when the context is done.
func (l *Loop) wakeup() {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.state.Load() == stateTerminated {
		return
	}
	if l.wakePending.CompareAndSwap(false, true) {
		if err := l.wake.Signal(); err != nil {
			l.wakePending.Store(false)
		}
	}
}

func (l *Loop) finish(err error) {
	l.mu.Lock()
	l.state.Store(stateTerminated)
	l.err = err
	_ = l.wake.Close()
	l.tasks = nil
	for id := range l.handlers {
		delete(l.handlers, id)
	}
	l.mu.Unlock()

	l.loopGoroutineID.Store(0)
	l.batcher.stop()

	if pending := len(l.callbacks); pending != 0 {
		l.logger.Warning().
			Int(`pending`, pending).
			Log(`loop stopped with jobs in flight`)
	}
	l.logger.Debug().
		Err(err).
		Log(`loop stopped`)

	close(l.done)
}

// safeExecute runs fn, logging any panic.
func (l *Loop) safeExecute(fn func()) {
	defer func() {
		if r := recover(); r != nil {
			l.logger.Err().
				Any(`panic`, r).
				Log(`task panicked`)
		}
	}()
	fn()
}

func (l *Loop) isLoopThread() bool {
	id := l.loopGoroutineID.Load()
	return id != 0 && id == goroutineID()
}
