//go:build linux

package wake

import (
	"golang.org/x/sys/unix"
)

func openEventFD() (int, int, error) {
	fd, err := unix.Eventfd(0, unix.EFD_CLOEXEC)
	if err != nil {
		return 0, 0, err
	}
	return fd, fd, nil
}
