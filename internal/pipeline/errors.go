package pipeline

import (
	"context"
	"errors"
	"fmt"

	"github.com/ppiankov/cfrfetch/internal/model"
	"github.com/ppiankov/cfrfetch/internal/validate"
)

// ErrPartialFailure is returned by Run under the isolate policy when at least
// one agency or title failed and the run continued past it.
var ErrPartialFailure = errors.New("run finished with failures")

// RetryError is returned when a unit exhausted its attempts
type RetryError struct {
	Unit     string
	Attempts int
	Err      error // last failure
}

func (e *RetryError) Error() string {
	return fmt.Sprintf("%s: giving up after %d attempts: %v", e.Unit, e.Attempts, e.Err)
}

func (e *RetryError) Unwrap() error {
	return e.Err
}

// fatal reports whether err ends the run regardless of the failure policy's
// per-agency isolation.
func fatal(err error, policy model.FailurePolicy) bool {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	if validate.IsMalformed(err) {
		return true
	}
	return policy != model.FailureIsolate
}
