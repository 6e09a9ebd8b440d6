//go:build !linux

package osthread

// Supported reports whether ID returns a real thread identity.
const Supported = false

// ID returns 0, thread identity is not available on this platform.
func ID() int {
	return 0
}
