package sched

import (
	"bytes"
	"runtime"
	"strconv"
)

var goroutinePrefix = []byte(`goroutine `)

// goroutineID identifies the calling goroutine by the header of its stack
// trace ("goroutine N [status]:"), or returns 0 if it cannot be parsed.
func goroutineID() uint64 {
	var buf [64]byte
	b := buf[:runtime.Stack(buf[:], false)]
	b, ok := bytes.CutPrefix(b, goroutinePrefix)
	if !ok {
		return 0
	}
	if i := bytes.IndexByte(b, ' '); i >= 0 {
		b = b[:i]
	}
	id, err := strconv.ParseUint(string(b), 10, 64)
	if err != nil {
		return 0
	}
	return id
}
