package offload

import (
	"errors"
	"fmt"
	"syscall"
)

var (
	// ErrInvalidHandle indicates a Handle that was never allocated, or whose
	// job has already been collected or freed.
	ErrInvalidHandle = errors.New(`offload: invalid job handle`)

	// ErrNotDone is returned by Collect if the job has not finished, and by
	// Free if the job is still in flight.
	ErrNotDone = errors.New(`offload: job not done`)

	// ErrNotStarted is returned by Check for a job that was never started.
	ErrNotStarted = errors.New(`offload: job not started`)

	// ErrAlreadyStarted is returned by Start and RunSync if the job was
	// already started.
	ErrAlreadyStarted = errors.New(`offload: job already started`)

	// ErrPoolExhausted is wrapped by the ResourceError returned when the
	// pool is saturated and the engine was configured with SaturationReject.
	ErrPoolExhausted = errors.New(`offload: thread pool exhausted`)

	// ErrNotSupported is returned when ModeSwitch is requested but the
	// platform cannot identify OS threads, or switching was disabled.
	ErrNotSupported = errors.New(`offload: switch mode not supported`)

	// ErrNotScheduler is returned when ModeSwitch is requested from a thread
	// other than the bound scheduler thread.
	ErrNotScheduler = errors.New(`offload: not on the scheduler thread`)

	// ErrInvalidMode is returned by Start for an unknown Mode.
	ErrInvalidMode = errors.New(`offload: invalid mode`)

	// ErrClosed is returned by operations on a closed Engine.
	ErrClosed = errors.New(`offload: engine closed`)
)

type (
	// ResourceError reports that the engine could not obtain a resource it
	// needed to dispatch a job, e.g. a worker thread. The job was not run.
	ResourceError struct {
		// Op names the failed operation, e.g. launch_thread.
		Op  string
		Err error
	}

	// OSError is the canonical error for a failed leaf call, carrying the
	// exact error code, the name of the call, and an optional argument
	// (typically a path).
	OSError struct {
		Call string
		Arg  string
		Code syscall.Errno
	}

	// PanicError is returned by Collect when the job's Run method panicked.
	PanicError struct {
		Value any
	}
)

func (e *ResourceError) Error() string {
	return fmt.Sprintf(`offload: %s: %v`, e.Op, e.Err)
}

func (e *ResourceError) Unwrap() error { return e.Err }

func (e *OSError) Error() string {
	if e.Arg == `` {
		return fmt.Sprintf(`%s: %v`, e.Call, e.Code)
	}
	return fmt.Sprintf(`%s %s: %v`, e.Call, e.Arg, e.Code)
}

// Unwrap returns the error code, for use with [errors.Is], e.g.
// errors.Is(err, syscall.ENOENT).
func (e *OSError) Unwrap() error { return e.Code }

func (e PanicError) Error() string {
	return fmt.Sprintf(`offload: job panicked: %v`, e.Value)
}

// Unwrap returns the panic value if it is an error.
func (e PanicError) Unwrap() error {
	if err, ok := e.Value.(error); ok {
		return err
	}
	return nil
}
