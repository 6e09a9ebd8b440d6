package offload

import (
	"errors"
	"fmt"
	"syscall"
)

// CallJob is a Job wrapping a single leaf call, e.g. a syscall. Run records
// the raw outcome, Collect converts it.
type CallJob[T any] struct {
	fn    func() (T, error)
	value T
	err   error
	call  string
	arg   string
}

// Call returns a CallJob for fn. The name and arg identify the call in any
// resulting error: if fn fails with a syscall.Errno (directly, or wrapped),
// Collect returns an *OSError carrying that exact code, name and arg. Other
// errors are returned wrapped with the name.
func Call[T any](name, arg string, fn func() (T, error)) *CallJob[T] {
	if fn == nil {
		panic(`offload: nil call`)
	}
	return &CallJob[T]{fn: fn, call: name, arg: arg}
}

func (x *CallJob[T]) Run() {
	x.value, x.err = x.fn()
}

func (x *CallJob[T]) Collect() (any, error) {
	return x.result()
}

func (x *CallJob[T]) result() (T, error) {
	if x.err != nil {
		var zero T
		var errno syscall.Errno
		if errors.As(x.err, &errno) {
			return zero, &OSError{Call: x.call, Arg: x.arg, Code: errno}
		}
		return zero, fmt.Errorf(`%s: %w`, x.call, x.err)
	}
	return x.value, nil
}

// CollectAs collects h, asserting the result type. CallJob results are
// returned without boxing.
func CollectAs[T any](e *Engine, h Handle) (T, error) {
	var zero T
	d, err := e.slab.get(h)
	if err != nil {
		return zero, err
	}
	if c, ok := d.job.(*CallJob[T]); ok {
		if !e.isDone(d) {
			return zero, ErrNotDone
		}
		panicked := d.panicked
		e.slab.release(d)
		if panicked != nil {
			return zero, PanicError{Value: panicked}
		}
		return c.result()
	}
	v, err := e.Collect(h)
	if err != nil {
		return zero, err
	}
	t, ok := v.(T)
	if !ok && v != nil {
		return zero, fmt.Errorf(`offload: result type %T is not %T`, v, zero)
	}
	return t, nil
}
