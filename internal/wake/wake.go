// Package wake implements the OS primitives used to wake a thread blocked
// waiting on a file descriptor: an eventfd counter, a pipe, or a connected
// socket pair.
package wake

import (
	"errors"
	"fmt"
)

type (
	// Kind identifies the OS mechanism backing a Primitive.
	Kind int

	// Primitive is a readable file descriptor plus the means of making it
	// readable from another thread. Every Signal must be paired with exactly
	// one Consume. Signal and Consume are safe to call concurrently with
	// each other, but not with Close.
	Primitive struct {
		kind Kind
		rfd  int
		wfd  int
	}
)

const (
	// KindEventFD is a Linux eventfd counter, a single descriptor for both
	// ends.
	KindEventFD Kind = iota + 1
	// KindPipe is an anonymous pipe.
	KindPipe
	// KindSocketPair is a connected pair of unix stream sockets.
	KindSocketPair
)

var (
	// ErrUnsupported indicates the requested Kind is not available on this
	// platform.
	ErrUnsupported = errors.New(`wake: primitive not supported on this platform`)

	// defaultKinds is the preference order used when Open is given none.
	defaultKinds = [...]Kind{KindEventFD, KindPipe, KindSocketPair}
)

// DefaultKinds returns the preference order: eventfd, then pipe, then socket
// pair.
func DefaultKinds() []Kind {
	kinds := defaultKinds
	return kinds[:]
}

// String returns a lower case name for the kind.
func (k Kind) String() string {
	switch k {
	case KindEventFD:
		return `eventfd`
	case KindPipe:
		return `pipe`
	case KindSocketPair:
		return `socketpair`
	default:
		return fmt.Sprintf(`Kind(%d)`, int(k))
	}
}

// Open creates the first primitive that can be created, trying kinds in
// order. If no kinds are given, DefaultKinds is used. The returned error
// joins the failure of every candidate.
func Open(kinds ...Kind) (*Primitive, error) {
	if len(kinds) == 0 {
		kinds = DefaultKinds()
	}
	var errs []error
	for _, kind := range kinds {
		p, err := open(kind)
		if err == nil {
			return p, nil
		}
		errs = append(errs, fmt.Errorf(`%s: %w`, kind, err))
	}
	return nil, fmt.Errorf(`wake: no usable primitive: %w`, errors.Join(errs...))
}

func open(kind Kind) (*Primitive, error) {
	var (
		rfd, wfd int
		err      error
	)
	switch kind {
	case KindEventFD:
		rfd, wfd, err = openEventFD()
	case KindPipe:
		rfd, wfd, err = openPipe()
	case KindSocketPair:
		rfd, wfd, err = openSocketPair()
	default:
		return nil, fmt.Errorf(`wake: invalid kind %d`, int(kind))
	}
	if err != nil {
		return nil, err
	}
	return &Primitive{kind: kind, rfd: rfd, wfd: wfd}, nil
}

// Kind reports the mechanism backing the primitive.
func (p *Primitive) Kind() Kind { return p.kind }

// FD returns the descriptor that becomes readable after Signal.
func (p *Primitive) FD() int { return p.rfd }
