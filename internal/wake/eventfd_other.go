//go:build !linux

package wake

func openEventFD() (int, int, error) {
	return 0, 0, ErrUnsupported
}
