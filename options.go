package offload

import (
	"errors"
	"time"

	"github.com/joeycumines/go-offload/notify"
	"github.com/joeycumines/logiface"
)

// DefaultPoolSize is the default maximum number of worker threads.
const DefaultPoolSize = 1000

// ThreadStarter launches fn on a new goroutine, returning an error if it
// could not. The goroutine locks itself to its OS thread.
type ThreadStarter func(fn func()) error

// engineOptions holds configuration options for Engine creation.
type engineOptions struct {
	logger        *logiface.Logger[logiface.Event]
	warningRates  map[time.Duration]int
	starter       ThreadStarter
	enterBlocking func()
	leaveBlocking func()
	notifyOptions []notify.Option
	poolSize      int
	saturation    Saturation
	defaultMode   Mode
	switchEnabled bool
}

// EngineOption configures an Engine.
type EngineOption interface {
	applyEngine(*engineOptions) error
}

// engineOptionImpl implements EngineOption.
type engineOptionImpl struct {
	applyEngineFunc func(*engineOptions) error
}

func (e *engineOptionImpl) applyEngine(opts *engineOptions) error {
	return e.applyEngineFunc(opts)
}

// WithPoolSize sets the maximum number of worker threads.
// Defaults to DefaultPoolSize. It may be changed later via
// Engine.SetPoolSize.
func WithPoolSize(size int) EngineOption {
	return &engineOptionImpl{func(opts *engineOptions) error {
		if size <= 0 {
			return errors.New(`offload: pool size must be positive`)
		}
		opts.poolSize = size
		return nil
	}}
}

// WithSaturation sets the behavior of ModeDetach when no worker is idle and
// the pool is at capacity. Defaults to SaturationQueue.
func WithSaturation(policy Saturation) EngineOption {
	return &engineOptionImpl{func(opts *engineOptions) error {
		switch policy {
		case SaturationQueue, SaturationReject:
		default:
			return errors.New(`offload: invalid saturation policy`)
		}
		opts.saturation = policy
		return nil
	}}
}

// WithThreadStarter replaces the function used to launch workers. An error
// from it fails the triggering Start with a ResourceError for launch_thread.
// Defaults to a plain go statement.
func WithThreadStarter(starter ThreadStarter) EngineOption {
	return &engineOptionImpl{func(opts *engineOptions) error {
		if starter == nil {
			return errors.New(`offload: nil thread starter`)
		}
		opts.starter = starter
		return nil
	}}
}

// WithDefaultMode sets the Mode used by Engine.Run. Defaults to ModeDetach.
func WithDefaultMode(mode Mode) EngineOption {
	return &engineOptionImpl{func(opts *engineOptions) error {
		switch mode {
		case ModeInline, ModeDetach, ModeSwitch:
		default:
			return ErrInvalidMode
		}
		opts.defaultMode = mode
		return nil
	}}
}

// WithSwitch enables or disables ModeSwitch. When disabled, ModeSwitch
// fails with ErrNotSupported. Enabled by default, though it only works on
// linux.
func WithSwitch(enabled bool) EngineOption {
	return &engineOptionImpl{func(opts *engineOptions) error {
		opts.switchEnabled = enabled
		return nil
	}}
}

// WithLogger sets the logger. A nil logger (the default) disables logging.
func WithLogger(logger *logiface.Logger[logiface.Event]) EngineOption {
	return &engineOptionImpl{func(opts *engineOptions) error {
		opts.logger = logger
		return nil
	}}
}

// WithWarningRates limits how often each kind of warning (pool saturation,
// worker launch failure, notification failure) is logged, using
// category-based sliding windows. A nil map disables limiting.
// Defaults to 1 per second and 10 per minute.
//
// WARNING: Invalid rates will cause New to panic, see catrate.NewLimiter.
func WithWarningRates(rates map[time.Duration]int) EngineOption {
	return &engineOptionImpl{func(opts *engineOptions) error {
		opts.warningRates = rates
		return nil
	}}
}

// WithNotifyOptions configures the engine's notification channel.
func WithNotifyOptions(options ...notify.Option) EngineOption {
	return &engineOptionImpl{func(opts *engineOptions) error {
		opts.notifyOptions = append(opts.notifyOptions, options...)
		return nil
	}}
}

// WithBlockingSection sets functions called immediately before and after a
// job runs on the scheduler thread (ModeInline and RunSync), e.g. to release
// and reacquire a lock the scheduler holds while running.
func WithBlockingSection(enter, leave func()) EngineOption {
	return &engineOptionImpl{func(opts *engineOptions) error {
		opts.enterBlocking = enter
		opts.leaveBlocking = leave
		return nil
	}}
}

// resolveEngineOptions applies EngineOption instances to engineOptions.
func resolveEngineOptions(opts []EngineOption) (*engineOptions, error) {
	cfg := &engineOptions{
		warningRates: map[time.Duration]int{
			time.Second: 1,
			time.Minute: 10,
		},
		starter: func(fn func()) error {
			go fn()
			return nil
		},
		poolSize:      DefaultPoolSize,
		saturation:    SaturationQueue,
		defaultMode:   ModeDetach,
		switchEnabled: true,
	}
	for _, opt := range opts {
		if opt == nil {
			continue
		}
		if err := opt.applyEngine(cfg); err != nil {
			return nil, err
		}
	}
	return cfg, nil
}
