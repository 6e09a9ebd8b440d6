package offload

import (
	"fmt"
)

type (
	// Mode selects how a started job is executed.
	Mode int

	// Saturation selects what Start does with a ModeDetach job when every
	// worker is busy and the pool is at capacity.
	Saturation int
)

const (
	// ModeInline runs the job on the calling thread, before Start returns.
	ModeInline Mode = iota
	// ModeDetach hands the job to a pool worker.
	ModeDetach
	// ModeSwitch runs the job on the calling thread while an idle worker
	// takes over the scheduler role. Linux only.
	//
	// A switched call needs an idle worker. If there is none, one is
	// started, and under SaturationQueue this happens even when the pool is
	// at PoolSize, so ThreadCount may exceed PoolSize. Under
	// SaturationReject, Start fails instead.
	ModeSwitch
)

const (
	// SaturationQueue leaves the job queued for the next free worker.
	SaturationQueue Saturation = iota
	// SaturationReject fails Start with a ResourceError wrapping
	// ErrPoolExhausted.
	SaturationReject
)

func (m Mode) String() string {
	switch m {
	case ModeInline:
		return `inline`
	case ModeDetach:
		return `detach`
	case ModeSwitch:
		return `switch`
	default:
		return fmt.Sprintf(`Mode(%d)`, int(m))
	}
}

func (s Saturation) String() string {
	switch s {
	case SaturationQueue:
		return `queue`
	case SaturationReject:
		return `reject`
	default:
		return fmt.Sprintf(`Saturation(%d)`, int(s))
	}
}
