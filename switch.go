package offload

import (
	"runtime"

	"github.com/joeycumines/go-offload/internal/osthread"
)

// switchFrame records a switched call in flight, published to the pool so
// that a parked worker can take over the scheduler role.
type switchFrame struct {
	caller int
}

// startSwitch runs d on the calling (scheduler) thread, while allowing an
// idle worker to become the scheduler thread. If the call completes before
// any worker claims the role, it returns done. Otherwise the claimant calls
// the resume function passed to BindScheduler, and the calling goroutine
// never returns: it serves the pool as a worker, then ends via
// runtime.Goexit (running its deferred calls).
func (e *Engine) startSwitch(d *descriptor) (bool, error) {
	if !osthread.Supported || !e.switchEnabled {
		return false, ErrNotSupported
	}

	self := osthread.ID()

	e.poolMu.Lock()

	if e.closed {
		e.poolMu.Unlock()
		return false, ErrClosed
	}

	if e.resume == nil || e.mainThread != self {
		e.poolMu.Unlock()
		return false, ErrNotScheduler
	}

	// ensure there is at least one thread able to take over
	if e.idleLocked() <= 0 {
		if e.count >= e.size && e.saturation == SaturationReject {
			count := e.count
			e.poolMu.Unlock()
			e.warning(`pool_exhausted`).
				Int(`threads`, count).
				Log(`rejected switched job, thread pool exhausted`)
			return false, &ResourceError{Op: `submit`, Err: ErrPoolExhausted}
		}
		e.count++
		epoch := e.epoch
		e.poolMu.Unlock()
		if err := e.launch(nil, epoch); err != nil {
			return false, err
		}
		e.poolMu.Lock()
	}

	epoch := e.epoch
	frame := e.takeFrame()
	frame.caller = self
	d.started = true
	e.blocked = frame
	e.poolCond.Signal()
	e.poolMu.Unlock()

	e.execute(d)

	e.poolMu.Lock()
	if e.mainThread == self {
		// no worker claimed the role
		if e.blocked == frame {
			e.blocked = nil
		}
		e.poolMu.Unlock()
		e.putFrame(frame)
		return true, nil
	}
	e.count++
	e.poolMu.Unlock()
	e.putFrame(frame)

	e.logger.Debug().
		Int(`thread`, self).
		Log(`switched call returned, joining pool`)

	e.workerLoop(nil, epoch)

	runtime.Goexit()
	panic(`unreachable`)
}

// claimScheduler makes the calling worker the scheduler thread, then runs
// the resume function. Must be called with poolMu held, and a blocked
// frame present. Releases poolMu.
func (e *Engine) claimScheduler() {
	frame := e.blocked
	e.blocked = nil
	caller := frame.caller
	self := osthread.ID()
	e.mainThread = self
	e.count--
	resume := e.resume
	e.poolMu.Unlock()

	e.logger.Debug().
		Int(`from`, caller).
		Int(`to`, self).
		Log(`scheduler role switched`)

	resume()
}

func (e *Engine) takeFrame() *switchFrame {
	e.frameMu.Lock()
	defer e.frameMu.Unlock()
	if n := len(e.frames); n != 0 {
		f := e.frames[n-1]
		e.frames = e.frames[:n-1]
		return f
	}
	return new(switchFrame)
}

func (e *Engine) putFrame(f *switchFrame) {
	f.caller = 0
	e.frameMu.Lock()
	e.frames = append(e.frames, f)
	e.frameMu.Unlock()
}
