//go:build linux

package osthread

import (
	"golang.org/x/sys/unix"
)

// Supported reports whether ID returns a real thread identity.
const Supported = true

// ID returns the kernel thread id of the calling thread. The caller should
// hold runtime.LockOSThread for the result to stay meaningful.
func ID() int {
	return unix.Gettid()
}
