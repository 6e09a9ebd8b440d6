package offload

import (
	"os"
	"os/signal"
)

// signalForwarder relays deliveries of one signal to the notification
// channel.
type signalForwarder struct {
	ch   chan os.Signal
	done chan struct{}
}

// NotifySignal delivers id through the Notifier every time sig is received,
// replacing any previous id registered for sig. Deliveries that arrive
// faster than they can be forwarded may coalesce.
func (e *Engine) NotifySignal(sig os.Signal, id int64) error {
	e.poolMu.Lock()
	closed := e.closed
	e.poolMu.Unlock()
	if closed {
		return ErrClosed
	}

	f := &signalForwarder{
		ch:   make(chan os.Signal, 1),
		done: make(chan struct{}),
	}

	e.sigMu.Lock()
	defer e.sigMu.Unlock()

	if prev := e.signals[sig]; prev != nil {
		prev.stop()
	}
	if e.signals == nil {
		e.signals = make(map[os.Signal]*signalForwarder)
	}
	e.signals[sig] = f

	signal.Notify(f.ch, sig)
	go func() {
		for {
			select {
			case <-f.done:
				return
			case <-f.ch:
				e.notify(id)
			}
		}
	}()

	e.logger.Debug().
		Str(`signal`, sig.String()).
		Int64(`id`, id).
		Log(`signal forwarding started`)

	return nil
}

// StopSignal stops forwarding sig, reporting whether it was registered.
func (e *Engine) StopSignal(sig os.Signal) bool {
	e.sigMu.Lock()
	defer e.sigMu.Unlock()
	f := e.signals[sig]
	if f == nil {
		return false
	}
	delete(e.signals, sig)
	f.stop()
	return true
}

func (e *Engine) stopSignals() {
	e.sigMu.Lock()
	defer e.sigMu.Unlock()
	for sig, f := range e.signals {
		delete(e.signals, sig)
		f.stop()
	}
}

func (f *signalForwarder) stop() {
	signal.Stop(f.ch)
	close(f.done)
}
