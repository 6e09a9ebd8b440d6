//go:build unix

package sched

import (
	"context"
	"errors"
	"syscall"
	"testing"
	"time"

	"github.com/joeycumines/go-offload"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sync/errgroup"
)

// startLoop runs a new loop until the test ends.
func startLoop(t *testing.T, engineOpts []offload.EngineOption, loopOpts ...LoopOption) *Loop {
	t.Helper()

	engine, err := offload.New(engineOpts...)
	require.NoError(t, err)

	loop, err := New(engine, loopOpts...)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	runErr := make(chan error, 1)
	go func() { runErr <- loop.Run(ctx) }()

	t.Cleanup(func() {
		cancel()
		select {
		case err := <-runErr:
			if !errors.Is(err, context.Canceled) {
				t.Errorf(`unexpected run error: %v`, err)
			}
		case <-time.After(time.Second * 5):
			t.Error(`loop did not stop`)
		}
		_ = engine.Close()
	})

	return loop
}

// onLoop runs fn on the loop and waits for it.
func onLoop(t *testing.T, loop *Loop, fn func()) {
	t.Helper()
	done := make(chan struct{})
	require.NoError(t, loop.Submit(func() {
		defer close(done)
		fn()
	}))
	select {
	case <-done:
	case <-time.After(time.Second * 5):
		t.Fatal(`task did not run`)
	}
}

func TestLoop_lifecycle(t *testing.T) {
	engine, err := offload.New()
	require.NoError(t, err)
	defer engine.Close()

	loop, err := New(engine)
	require.NoError(t, err)
	assert.Same(t, engine, loop.Engine())

	ctx, cancel := context.WithCancel(context.Background())
	runErr := make(chan error, 1)
	go func() { runErr <- loop.Run(ctx) }()

	ran := make(chan struct{})
	require.NoError(t, loop.Submit(func() { close(ran) }))
	<-ran

	assert.ErrorIs(t, loop.Run(ctx), ErrLoopRunning)

	cancel()
	assert.ErrorIs(t, <-runErr, context.Canceled)
	<-loop.Done()

	assert.ErrorIs(t, loop.Submit(func() {}), ErrLoopClosed)
	assert.ErrorIs(t, loop.Run(context.Background()), ErrLoopClosed)
	_, err = loop.Offload(context.Background(), offload.Call(`noop`, ``, func() (int, error) { return 0, nil }), offload.ModeInline)
	assert.ErrorIs(t, err, ErrLoopClosed)
}

func TestLoop_tasksRunInOrder(t *testing.T) {
	loop := startLoop(t, nil)

	var got []int
	done := make(chan struct{})
	for i := 0; i < 100; i++ {
		require.NoError(t, loop.Submit(func() {
			got = append(got, i)
			if i == 99 {
				close(done)
			}
		}))
	}
	<-done

	for i, v := range got {
		if v != i {
			t.Fatalf(`out of order at %d: %v`, i, got)
		}
	}
}

func TestLoop_await(t *testing.T) {
	loop := startLoop(t, []offload.EngineOption{offload.WithPoolSize(2)})
	engine := loop.Engine()

	h := engine.Alloc(offload.Call(`noop`, ``, func() (int, error) { return 0, nil }))
	assert.ErrorIs(t, loop.Await(h, offload.ModeDetach, func(any, error) {}), ErrNotLoopThread)
	assert.ErrorIs(t, loop.Switch(h, func(any, error) {}), ErrNotLoopThread)
	require.NoError(t, engine.Free(h))

	type result struct {
		value    any
		err      error
		nestedOK bool
	}
	results := make(chan result, 3)

	gate := make(chan struct{})
	onLoop(t, loop, func() {
		for i, mode := range [...]offload.Mode{offload.ModeInline, offload.ModeDetach, offload.ModeDetach} {
			h := engine.Alloc(offload.Call(`job`, ``, func() (int, error) {
				if mode == offload.ModeDetach {
					<-gate
				}
				return i, nil
			}))
			if err := loop.Await(h, mode, func(value any, err error) {
				// callbacks run on the loop
				h := engine.Alloc(offload.Call(`nested`, ``, func() (int, error) { return 0, nil }))
				nestedErr := loop.Await(h, offload.ModeInline, func(any, error) {})
				results <- result{value, err, nestedErr == nil}
			}); err != nil {
				t.Error(err)
			}
		}
	})

	r := <-results
	require.NoError(t, r.err)
	assert.Equal(t, 0, r.value)
	assert.True(t, r.nestedOK)

	close(gate)

	var values []any
	for i := 0; i < 2; i++ {
		r := <-results
		require.NoError(t, r.err)
		assert.True(t, r.nestedOK)
		values = append(values, r.value)
	}
	assert.ElementsMatch(t, []any{1, 2}, values)
}

func TestLoop_offloadConcurrent(t *testing.T) {
	loop := startLoop(t,
		[]offload.EngineOption{offload.WithPoolSize(4)},
		WithBatchSize(8),
	)

	var g errgroup.Group
	for i := 0; i < 64; i++ {
		g.Go(func() error {
			mode := offload.ModeDetach
			if i%4 == 0 {
				mode = offload.ModeInline
			}
			v, err := loop.Offload(context.Background(), offload.Call(`double`, ``, func() (int, error) {
				time.Sleep(time.Millisecond)
				return i * 2, nil
			}), mode)
			if err != nil {
				return err
			}
			if v != i*2 {
				return errors.New(`unexpected value`)
			}
			return nil
		})
	}
	require.NoError(t, g.Wait())

	assert.LessOrEqual(t, loop.Engine().ThreadCount(), 4)
	assert.Equal(t, 0, loop.Engine().Jobs())
}

func TestLoop_offloadError(t *testing.T) {
	loop := startLoop(t, []offload.EngineOption{
		offload.WithThreadStarter(func(fn func()) error { return assert.AnError }),
	}, WithFlushInterval(time.Millisecond))

	_, err := loop.Offload(context.Background(), offload.Call(`unlink`, `/x`, func() (int, error) {
		return 0, syscall.ENOENT
	}), offload.ModeInline)
	var osErr *offload.OSError
	require.True(t, errors.As(err, &osErr), `%T: %v`, err, err)
	assert.Equal(t, `unlink`, osErr.Call)

	_, err = loop.Offload(context.Background(), offload.Call(`noop`, ``, func() (int, error) {
		return 0, nil
	}), offload.ModeDetach)
	assert.ErrorIs(t, err, assert.AnError)
	var resErr *offload.ResourceError
	assert.True(t, errors.As(err, &resErr))
	assert.Equal(t, 0, loop.Engine().Jobs())
}

func TestLoop_offloadContext(t *testing.T) {
	loop := startLoop(t, nil)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := loop.Offload(ctx, offload.Call(`noop`, ``, func() (int, error) { return 0, nil }), offload.ModeDetach)
	assert.ErrorIs(t, err, context.Canceled)

	gate := make(chan struct{})
	defer close(gate)
	ctx, cancel = context.WithTimeout(context.Background(), time.Millisecond*20)
	defer cancel()
	_, err = loop.Offload(ctx, offload.Call(`block`, ``, func() (int, error) { <-gate; return 0, nil }), offload.ModeDetach)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestLoop_offloadOnLoopThread(t *testing.T) {
	loop := startLoop(t, nil)
	onLoop(t, loop, func() {
		_, err := loop.Offload(context.Background(), offload.Call(`noop`, ``, func() (int, error) { return 0, nil }), offload.ModeInline)
		assert.ErrorIs(t, err, ErrLoopThread)
	})
}

func TestLoop_panicInTask(t *testing.T) {
	loop := startLoop(t, nil)
	require.NoError(t, loop.Submit(func() { panic(`some panic`) }))
	onLoop(t, loop, func() {})
}

func TestLoop_handleSignal(t *testing.T) {
	loop := startLoop(t, nil)

	got := make(chan struct{}, 1)
	require.NoError(t, loop.HandleSignal(syscall.SIGUSR2, func() {
		select {
		case got <- struct{}{}:
		default:
		}
	}))
	require.NoError(t, syscall.Kill(syscall.Getpid(), syscall.SIGUSR2))

	select {
	case <-got:
	case <-time.After(time.Second * 5):
		t.Fatal(`signal handler did not run`)
	}
	assert.True(t, loop.Engine().StopSignal(syscall.SIGUSR2))
}

func TestLoop_handleSignalEngineClosed(t *testing.T) {
	engine, err := offload.New()
	require.NoError(t, err)
	loop, err := New(engine)
	require.NoError(t, err)
	defer loop.wake.Close()

	var calls int
	loop.handlers[-int64(syscall.SIGUSR1)] = func() { calls++ }
	require.NoError(t, engine.Close())

	err = loop.HandleSignal(syscall.SIGUSR2, func() {})
	assert.ErrorIs(t, err, offload.ErrClosed)
	assert.NotContains(t, loop.handlers, -int64(syscall.SIGUSR2))

	err = loop.HandleSignal(syscall.SIGUSR1, func() {})
	assert.ErrorIs(t, err, offload.ErrClosed)
	if assert.Contains(t, loop.handlers, -int64(syscall.SIGUSR1)) {
		loop.handlers[-int64(syscall.SIGUSR1)]()
		assert.Equal(t, 1, calls)
	}
}

func TestNew_options(t *testing.T) {
	engine, err := offload.New()
	require.NoError(t, err)
	defer engine.Close()

	for _, tc := range [...]struct {
		name    string
		opts    []LoopOption
		wantErr bool
	}{
		{`defaults`, nil, false},
		{`nil option`, []LoopOption{nil}, false},
		{`zero batch size`, []LoopOption{WithBatchSize(0)}, true},
		{`negative flush interval`, []LoopOption{WithFlushInterval(-1)}, true},
		{`all set`, []LoopOption{WithBatchSize(4), WithFlushInterval(time.Millisecond), WithLogger(nil)}, false},
	} {
		t.Run(tc.name, func(t *testing.T) {
			loop, err := New(engine, tc.opts...)
			if tc.wantErr {
				assert.Error(t, err)
				assert.Nil(t, loop)
				return
			}
			require.NoError(t, err)
			require.NoError(t, loop.wake.Close())
		})
	}
}
