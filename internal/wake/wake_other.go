//go:build !unix

package wake

import (
	"time"
)

func openPipe() (int, int, error) {
	return 0, 0, ErrUnsupported
}

func openSocketPair() (int, int, error) {
	return 0, 0, ErrUnsupported
}

func (p *Primitive) Signal() error { return ErrUnsupported }

func (p *Primitive) Consume() error { return ErrUnsupported }

func (p *Primitive) Close() error { return nil }

func (p *Primitive) Wait(timeout time.Duration) (bool, error) { return false, ErrUnsupported }

func Poll(fds []int, timeout time.Duration) ([]bool, error) { return nil, ErrUnsupported }
