package offload

import (
	"sync"
)

type (
	// Job is a unit of blocking work. Run performs the blocking call, on
	// whichever thread the engine chooses, and must not touch scheduler
	// state. Collect converts the raw outcome into a result, and is called
	// exactly once, on the scheduler thread, after Run has returned.
	Job interface {
		Run()
		Collect() (any, error)
	}

	// Handle identifies a job descriptor held by an Engine. The zero Handle
	// is never valid. Handles become stale once the job is collected or
	// freed, and every operation on a stale handle fails with
	// ErrInvalidHandle, even after the underlying slot is reused.
	Handle uint64

	// JobState is the lifecycle state of a started job.
	JobState int

	// descriptor is the engine-side record of a job. Once handed to a worker
	// (detach or switch), state, fast, thread and notification are guarded
	// by mu.
	descriptor struct {
		mu           sync.Mutex
		job          Job
		next         *descriptor // pool queue link, guarded by Engine.poolMu
		panicked     any
		notification int64
		thread       int
		state        JobState
		mode         Mode
		gen          uint32 // guarded by slab.mu
		index        uint32
		fast         bool
		started      bool
	}

	// slab stores descriptors by index, reusing freed slots.
	slab struct {
		mu    sync.Mutex
		slots []*descriptor
		free  []uint32
	}
)

const (
	// JobPending is the state of a job that has been started but not yet
	// picked up.
	JobPending JobState = iota
	// JobRunning is the state while Run executes.
	JobRunning
	// JobDone is the state once Run has returned.
	JobDone
)

func (s JobState) String() string {
	switch s {
	case JobPending:
		return `pending`
	case JobRunning:
		return `running`
	case JobDone:
		return `done`
	default:
		return `unknown`
	}
}

func makeHandle(index, gen uint32) Handle {
	return Handle(uint64(gen)<<32 | uint64(index))
}

func (h Handle) index() uint32 { return uint32(h) }

func (h Handle) gen() uint32 { return uint32(h >> 32) }

func (x *slab) alloc(job Job) (*descriptor, Handle) {
	x.mu.Lock()
	defer x.mu.Unlock()

	var d *descriptor
	if n := len(x.free); n != 0 {
		d = x.slots[x.free[n-1]]
		x.free = x.free[:n-1]
	} else {
		d = &descriptor{index: uint32(len(x.slots)), gen: 1}
		x.slots = append(x.slots, d)
	}

	d.job = job
	d.next = nil
	d.panicked = nil
	d.notification = 0
	d.thread = 0
	d.state = JobPending
	d.mode = ModeInline
	d.fast = true
	d.started = false

	return d, makeHandle(d.index, d.gen)
}

func (x *slab) get(h Handle) (*descriptor, error) {
	x.mu.Lock()
	defer x.mu.Unlock()
	if i := h.index(); int(i) < len(x.slots) {
		if d := x.slots[i]; d.gen == h.gen() && d.job != nil {
			return d, nil
		}
	}
	return nil, ErrInvalidHandle
}

// release invalidates every handle to d and makes its slot reusable.
func (x *slab) release(d *descriptor) {
	x.mu.Lock()
	defer x.mu.Unlock()
	d.job = nil
	d.gen++
	if d.gen == 0 {
		d.gen = 1
	}
	x.free = append(x.free, d.index)
}

// len returns the number of live descriptors.
func (x *slab) len() int {
	x.mu.Lock()
	defer x.mu.Unlock()
	return len(x.slots) - len(x.free)
}
