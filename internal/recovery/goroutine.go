package recovery

import (
	"fmt"
	"runtime/debug"

	"github.com/qdash-dev/copilot/internal/logger"
)

// SafeGo runs fn in a goroutine and logs instead of crashing when it panics.
func SafeGo(name string, fn func()) {
	go func() {
		defer func() {
			if r := recover(); r != nil {
				logger.Logger.Error().
					Str("goroutine", name).
					Str("stack", string(debug.Stack())).
					Msgf("🚨 panic recovered: %v", r)
			}
		}()
		fn()
	}()
}

// Run calls fn on the current goroutine and converts a panic into an error.
func Run(name string, fn func() error) (err error) {
	defer func() {
		if r := recover(); r != nil {
			logger.Logger.Error().
				Str("task", name).
				Str("stack", string(debug.Stack())).
				Msgf("🚨 panic recovered: %v", r)
			err = fmt.Errorf("%s panicked: %v", name, r)
		}
	}()
	return fn()
}
