//go:build unix

package wake

import (
	"encoding/binary"
	"time"

	"golang.org/x/sys/unix"
)

// Signal makes FD readable: one 8 byte increment for an eventfd, one byte
// otherwise.
func (p *Primitive) Signal() error {
	buf := p.token()
	for {
		_, err := unix.Write(p.wfd, buf)
		if err == unix.EINTR {
			continue
		}
		return err
	}
}

// Consume performs one blocking read of the token written by Signal.
func (p *Primitive) Consume() error {
	buf := p.token()
	for {
		n, err := unix.Read(p.rfd, buf)
		if err == unix.EINTR {
			continue
		}
		if err != nil {
			return err
		}
		if n != len(buf) {
			return unix.EIO
		}
		return nil
	}
}

// Close releases the descriptors. The primitive must not be used after.
func (p *Primitive) Close() error {
	err := unix.Close(p.rfd)
	if p.wfd != p.rfd {
		if e := unix.Close(p.wfd); err == nil {
			err = e
		}
	}
	return err
}

func (p *Primitive) token() []byte {
	if p.kind == KindEventFD {
		var buf [8]byte
		binary.NativeEndian.PutUint64(buf[:], 1)
		return buf[:]
	}
	return []byte{'!'}
}

// Wait blocks until FD is readable or timeout elapses, returning true if
// readable. A negative timeout waits indefinitely.
func (p *Primitive) Wait(timeout time.Duration) (bool, error) {
	ready, err := Poll([]int{p.rfd}, timeout)
	if err != nil {
		return false, err
	}
	return ready[0], nil
}

// Poll waits until at least one of fds is readable or timeout elapses. The
// result reports readiness per descriptor. A negative timeout waits
// indefinitely. EINTR is reported as a timeout.
func Poll(fds []int, timeout time.Duration) ([]bool, error) {
	pfds := make([]unix.PollFd, len(fds))
	for i, fd := range fds {
		pfds[i] = unix.PollFd{Fd: int32(fd), Events: unix.POLLIN}
	}
	ms := -1
	if timeout >= 0 {
		ms = int((timeout + time.Millisecond - 1) / time.Millisecond)
	}
	ready := make([]bool, len(fds))
	if _, err := unix.Poll(pfds, ms); err != nil {
		if err == unix.EINTR {
			return ready, nil
		}
		return nil, err
	}
	for i := range pfds {
		ready[i] = pfds[i].Revents&(unix.POLLIN|unix.POLLHUP|unix.POLLERR) != 0
	}
	return ready, nil
}
