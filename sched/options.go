package sched

import (
	"errors"
	"time"

	"github.com/joeycumines/logiface"
)

// loopOptions holds configuration options for Loop creation.
type loopOptions struct {
	logger        *logiface.Logger[logiface.Event]
	batchSize     int
	flushInterval time.Duration
}

// LoopOption configures a Loop.
type LoopOption interface {
	applyLoop(*loopOptions) error
}

// loopOptionImpl implements LoopOption.
type loopOptionImpl struct {
	applyLoopFunc func(*loopOptions) error
}

func (l *loopOptionImpl) applyLoop(opts *loopOptions) error {
	return l.applyLoopFunc(opts)
}

// WithLogger sets the logger. A nil logger (the default) disables logging.
func WithLogger(logger *logiface.Logger[logiface.Event]) LoopOption {
	return &loopOptionImpl{func(opts *loopOptions) error {
		opts.logger = logger
		return nil
	}}
}

// WithBatchSize sets the maximum number of Offload calls handed to the loop
// as a single task. Defaults to 16.
func WithBatchSize(size int) LoopOption {
	return &loopOptionImpl{func(opts *loopOptions) error {
		if size <= 0 {
			return errors.New(`sched: batch size must be positive`)
		}
		opts.batchSize = size
		return nil
	}}
}

// WithFlushInterval sets how long an incomplete batch of Offload calls may
// wait for more calls before it is handed to the loop. Defaults to 0, which
// hands over whatever has arrived as soon as the batcher is free.
func WithFlushInterval(interval time.Duration) LoopOption {
	return &loopOptionImpl{func(opts *loopOptions) error {
		if interval < 0 {
			return errors.New(`sched: negative flush interval`)
		}
		opts.flushInterval = interval
		return nil
	}}
}

// resolveLoopOptions applies LoopOption instances to loopOptions.
func resolveLoopOptions(opts []LoopOption) (*loopOptions, error) {
	cfg := &loopOptions{
		batchSize: 16,
	}
	for _, opt := range opts {
		if opt == nil {
			continue
		}
		if err := opt.applyLoop(cfg); err != nil {
			return nil, err
		}
	}
	return cfg, nil
}
