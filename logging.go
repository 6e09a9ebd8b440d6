package offload

import (
	"github.com/joeycumines/logiface"
)

// warning returns a builder for a warning in the given category, or nil if
// logging is disabled, or the category was logged too often recently (see
// WithWarningRates).
func (e *Engine) warning(category string) *logiface.Builder[logiface.Event] {
	b := e.logger.Warning()
	if !b.Enabled() {
		return nil
	}
	if _, ok := e.limiter.Allow(category); !ok {
		b.Release()
		return nil
	}
	return b.Str(`category`, category)
}
