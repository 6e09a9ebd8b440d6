package notify

import (
	"errors"
)

// channelOptions holds configuration options for Channel creation.
type channelOptions struct {
	kinds    []Kind
	capacity int
}

// Option configures a Channel.
type Option interface {
	applyChannel(*channelOptions) error
}

// channelOptionImpl implements Option.
type channelOptionImpl struct {
	applyChannelFunc func(*channelOptions) error
}

func (c *channelOptionImpl) applyChannel(opts *channelOptions) error {
	return c.applyChannelFunc(opts)
}

// WithCapacity sets the initial ring capacity, which doubles whenever it is
// exceeded. Defaults to DefaultCapacity.
func WithCapacity(capacity int) Option {
	return &channelOptionImpl{func(opts *channelOptions) error {
		if capacity <= 0 {
			return errors.New(`notify: capacity must be positive`)
		}
		opts.capacity = capacity
		return nil
	}}
}

// WithKinds sets the wake primitives to try, in order of preference.
// Defaults to eventfd, then pipe, then socket pair.
func WithKinds(kinds ...Kind) Option {
	return &channelOptionImpl{func(opts *channelOptions) error {
		if len(kinds) == 0 {
			return errors.New(`notify: no wake kinds`)
		}
		opts.kinds = append([]Kind(nil), kinds...)
		return nil
	}}
}

// resolveChannelOptions applies Option instances to channelOptions.
func resolveChannelOptions(opts []Option) (*channelOptions, error) {
	cfg := &channelOptions{
		capacity: DefaultCapacity,
	}
	for _, opt := range opts {
		if opt == nil {
			continue
		}
		if err := opt.applyChannel(cfg); err != nil {
			return nil, err
		}
	}
	return cfg, nil
}
