//go:build unix

package offload

import (
	"runtime"
	"sync/atomic"
	"testing"
	"time"

	"github.com/joeycumines/go-offload/internal/osthread"
	"github.com/stretchr/testify/require"
)

type (
	// gateJob blocks in Run until gate is closed (if set).
	gateJob struct {
		gate    <-chan struct{}
		started chan struct{}
		value   any
		thread  atomic.Int64
	}

	funcJob struct {
		run     func()
		collect func() (any, error)
	}
)

func (x *gateJob) Run() {
	x.thread.Store(int64(osthread.ID()))
	if x.started != nil {
		close(x.started)
	}
	if x.gate != nil {
		<-x.gate
	}
}

func (x *gateJob) Collect() (any, error) { return x.value, nil }

func (x *funcJob) Run() {
	if x.run != nil {
		x.run()
	}
}

func (x *funcJob) Collect() (any, error) {
	if x.collect != nil {
		return x.collect()
	}
	return nil, nil
}

func newTestEngine(t *testing.T, opts ...EngineOption) *Engine {
	t.Helper()
	e, err := New(opts...)
	require.NoError(t, err)
	t.Cleanup(func() { _ = e.Close() })
	return e
}

// receiveIDs waits for n notification ids.
func receiveIDs(t *testing.T, e *Engine, n int) []int64 {
	t.Helper()
	var ids []int64
	deadline := time.Now().Add(time.Second * 5)
	for len(ids) < n {
		if time.Now().After(deadline) {
			t.Fatalf(`timed out waiting for notifications, got %v`, ids)
		}
		ready, err := e.Notifier().Wait(time.Millisecond * 50)
		require.NoError(t, err)
		if !ready {
			continue
		}
		got, err := e.Notifier().Drain()
		require.NoError(t, err)
		ids = append(ids, got...)
	}
	return ids
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(time.Second * 5)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatalf(`timed out waiting for %s`, what)
		}
		time.Sleep(time.Millisecond)
	}
}

// checkNumGoroutines returns a func that fails the test if the goroutine
// count hasn't returned to its starting value within timeout.
func checkNumGoroutines(timeout time.Duration) func(t *testing.T) {
	start := runtime.NumGoroutine()
	return func(t *testing.T) {
		t.Helper()
		deadline := time.Now().Add(timeout)
		for {
			n := runtime.NumGoroutine()
			if n <= start {
				return
			}
			if time.Now().After(deadline) {
				t.Errorf(`goroutine leak: started with %d, now %d`, start, n)
				return
			}
			time.Sleep(time.Millisecond * 10)
		}
	}
}
