package offload

import (
	"os"
	"sync"

	"github.com/joeycumines/go-catrate"
	"github.com/joeycumines/go-offload/internal/osthread"
	"github.com/joeycumines/go-offload/notify"
	"github.com/joeycumines/logiface"
)

// Engine runs blocking jobs on behalf of a single scheduler thread. It owns
// the job descriptors, the worker pool, and the notification channel that
// wakes the scheduler when a detached or switched job completes.
//
// Alloc, Start, Check, Collect, Free and RunSync are meant to be called only
// by the scheduler. Statistics, SetPoolSize, NotifySignal and StopSignal
// may be called from any goroutine.
//
// Instances must be initialized using the New factory.
type Engine struct {
	// betteralign:ignore

	slab          slab
	notifier      *notify.Channel
	logger        *logiface.Logger[logiface.Event]
	limiter       *catrate.Limiter
	starter       ThreadStarter
	enterBlocking func()
	leaveBlocking func()
	saturation    Saturation
	defaultMode   Mode
	switchEnabled bool

	poolMu     sync.Mutex
	poolCond   *sync.Cond
	queue      *descriptor // last enqueued, queue.next is the head
	queueLen   int
	waiting    int // parked workers
	count      int // live workers
	size       int
	epoch      uint64
	closed     bool
	mainThread int
	blocked    *switchFrame // switched call awaiting a claimant
	resume     func()

	frameMu sync.Mutex
	frames  []*switchFrame

	sigMu   sync.Mutex
	signals map[os.Signal]*signalForwarder
}

// New initializes an Engine, opening its notification channel. The Close
// method should be called when the Engine is no longer needed.
func New(opts ...EngineOption) (*Engine, error) {
	cfg, err := resolveEngineOptions(opts)
	if err != nil {
		return nil, err
	}

	notifier, err := notify.New(cfg.notifyOptions...)
	if err != nil {
		return nil, err
	}

	e := &Engine{
		notifier:      notifier,
		logger:        cfg.logger,
		starter:       cfg.starter,
		enterBlocking: cfg.enterBlocking,
		leaveBlocking: cfg.leaveBlocking,
		saturation:    cfg.saturation,
		defaultMode:   cfg.defaultMode,
		switchEnabled: cfg.switchEnabled,
		size:          cfg.poolSize,
	}
	e.poolCond = sync.NewCond(&e.poolMu)
	if cfg.warningRates != nil {
		e.limiter = catrate.NewLimiter(cfg.warningRates)
	}

	e.logger.Debug().
		Str(`wake`, notifier.Kind().String()).
		Int(`pool_size`, cfg.poolSize).
		Log(`engine created`)

	return e, nil
}

// Alloc registers job, returning a handle in the not-started state. The
// handle must eventually be passed to Collect (once done) or Free.
func (e *Engine) Alloc(job Job) Handle {
	if job == nil {
		panic(`offload: nil job`)
	}
	_, h := e.slab.alloc(job)
	return h
}

// Start dispatches the job using mode, reporting whether it already
// finished. If not done, the caller should Check the job with a
// notification id, then Collect it once that id is delivered via the
// Notifier. A job may be started once. On error the job was not started,
// and may be started again or freed.
func (e *Engine) Start(h Handle, mode Mode) (done bool, err error) {
	d, err := e.slab.get(h)
	if err != nil {
		return false, err
	}
	if d.started {
		return false, ErrAlreadyStarted
	}

	d.state = JobPending
	d.fast = true
	d.mode = mode
	d.thread = 0
	d.notification = 0

	switch mode {
	case ModeInline:
		d.started = true
		e.runInline(d)
		return true, nil

	case ModeDetach:
		d.started = true
		if err := e.submit(d); err != nil {
			d.started = false
			return false, err
		}
		return false, nil

	case ModeSwitch:
		return e.startSwitch(d)

	default:
		return false, ErrInvalidMode
	}
}

// Run allocates and starts job using the default mode (see
// WithDefaultMode). On error the job is freed and the handle is zero.
func (e *Engine) Run(job Job) (Handle, bool, error) {
	h := e.Alloc(job)
	done, err := e.Start(h, e.defaultMode)
	if err != nil {
		_ = e.Free(h)
		return 0, false, err
	}
	return h, done, nil
}

// DefaultMode returns the mode used by Run.
func (e *Engine) DefaultMode() Mode { return e.defaultMode }

// Check records id as the job's notification id, and reports whether it is
// done. After Check returns false, id will be delivered exactly once
// through the Notifier when the job completes. If Check is never called,
// the job completes silently. Inline jobs always report done.
func (e *Engine) Check(h Handle, id int64) (bool, error) {
	d, err := e.slab.get(h)
	if err != nil {
		return false, err
	}
	if !d.started {
		return false, ErrNotStarted
	}
	if d.mode == ModeInline {
		return true, nil
	}
	d.mu.Lock()
	d.fast = false
	d.notification = id
	done := d.state == JobDone
	d.mu.Unlock()
	return done, nil
}

// Collect invalidates the handle, then returns the job's converted result.
// The job must be done, otherwise ErrNotDone is returned and the handle
// remains valid. If the job's Run panicked, a PanicError is returned
// without calling the job's Collect method.
func (e *Engine) Collect(h Handle) (any, error) {
	d, err := e.slab.get(h)
	if err != nil {
		return nil, err
	}
	if !e.isDone(d) {
		return nil, ErrNotDone
	}
	job, panicked := d.job, d.panicked
	e.slab.release(d)
	if panicked != nil {
		return nil, PanicError{Value: panicked}
	}
	return job.Collect()
}

// Free invalidates the handle of a job that was never started, or that is
// done, without calling Collect.
func (e *Engine) Free(h Handle) error {
	d, err := e.slab.get(h)
	if err != nil {
		return err
	}
	if d.started && !e.isDone(d) {
		return ErrNotDone
	}
	e.slab.release(d)
	return nil
}

// RunSync runs the job on the calling thread then collects it.
func (e *Engine) RunSync(h Handle) (any, error) {
	d, err := e.slab.get(h)
	if err != nil {
		return nil, err
	}
	if d.started {
		return nil, ErrAlreadyStarted
	}
	d.started = true
	d.mode = ModeInline
	d.fast = true
	e.runInline(d)
	return e.Collect(h)
}

// State returns the job's current state.
func (e *Engine) State(h Handle) (JobState, error) {
	d, err := e.slab.get(h)
	if err != nil {
		return 0, err
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.state, nil
}

// Thread returns the id of the OS thread that ran (or is running) the job,
// or 0 if it has not been picked up, or thread ids are not supported.
func (e *Engine) Thread(h Handle) (int, error) {
	d, err := e.slab.get(h)
	if err != nil {
		return 0, err
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.thread, nil
}

// Jobs returns the number of allocated (not yet collected or freed) jobs.
func (e *Engine) Jobs() int { return e.slab.len() }

// Notifier returns the channel through which completion (and signal)
// notification ids are delivered. The scheduler waits on its FD then calls
// Drain.
func (e *Engine) Notifier() *notify.Channel { return e.notifier }

// BindScheduler makes the calling OS thread the scheduler thread. The caller
// must hold runtime.LockOSThread. The resume function is required only for
// ModeSwitch: it is called, on a worker's thread, when that worker takes
// over the scheduler role from a thread blocked in a switched call, and it
// must continue the scheduler's work there.
func (e *Engine) BindScheduler(resume func()) error {
	e.poolMu.Lock()
	defer e.poolMu.Unlock()
	if e.closed {
		return ErrClosed
	}
	e.mainThread = osthread.ID()
	e.resume = resume
	return nil
}

// SchedulerThread returns the id of the OS thread currently holding the
// scheduler role, or 0 if unbound or unsupported.
func (e *Engine) SchedulerThread() int {
	e.poolMu.Lock()
	defer e.poolMu.Unlock()
	return e.mainThread
}

// Close stops accepting detached and switched jobs, lets workers exit once
// the queue is empty, stops signal forwarding, and closes the notification
// channel. Jobs still running will finish, but their notifications are
// dropped.
func (e *Engine) Close() error {
	e.poolMu.Lock()
	if e.closed {
		e.poolMu.Unlock()
		return nil
	}
	e.closed = true
	e.poolCond.Broadcast()
	e.poolMu.Unlock()

	e.stopSignals()

	e.logger.Debug().Log(`engine closed`)

	return e.notifier.Close()
}

func (e *Engine) isDone(d *descriptor) bool {
	if !d.started {
		return false
	}
	if d.mode == ModeInline {
		return d.state == JobDone
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.state == JobDone
}

func (e *Engine) runInline(d *descriptor) {
	d.state = JobRunning
	d.thread = osthread.ID()
	if e.enterBlocking != nil {
		e.enterBlocking()
	}
	d.panicked = runJob(d.job)
	if e.leaveBlocking != nil {
		e.leaveBlocking()
	}
	d.state = JobDone
}

func runJob(job Job) (panicked any) {
	defer func() {
		if r := recover(); r != nil {
			panicked = r
		}
	}()
	job.Run()
	return nil
}
