package run

import (
	"context"
	"errors"
	"fmt"
)

var (
	// ErrInvalidState indicates an operation on a terminal or unknown run, or
	// a transition the state machine does not allow.
	ErrInvalidState = errors.New("invalid run state")
	// ErrConfiguration indicates a required collaborator (search providers,
	// text generator) is missing.
	ErrConfiguration = errors.New("configuration error")
	// ErrCancelled indicates the run was cancelled cooperatively.
	ErrCancelled = errors.New("run cancelled")
	// ErrTimedOut indicates a phase exceeded its wall-clock budget.
	ErrTimedOut = errors.New("phase timed out")
)

// Reason classifies why a run ended in PhaseFailed.
type Reason string

const (
	// ReasonCancelled is recorded when the caller cancels the run.
	ReasonCancelled Reason = "cancelled"
	// ReasonTimedOut is recorded when a phase budget is exceeded.
	ReasonTimedOut Reason = "timed_out"
	// ReasonConfiguration is recorded when a required capability is missing.
	ReasonConfiguration Reason = "configuration"
	// ReasonPlanning is recorded when no usable query set could be produced.
	ReasonPlanning Reason = "planning"
	// ReasonEvaluation is recorded when the quality assessment failed.
	ReasonEvaluation Reason = "evaluation"
	// ReasonWriting is recorded when the report could not be produced.
	ReasonWriting Reason = "writing"
	// ReasonInternal covers anything else that prevented forward progress.
	ReasonInternal Reason = "internal"
)

// Error is a run failure tagged with its Reason. It unwraps to both the
// sentinel matching the reason (when one exists) and the underlying cause.
type Error struct {
	Reason Reason
	Err    error
}

// NewError tags err with reason.
func NewError(reason Reason, err error) *Error {
	return &Error{Reason: reason, Err: err}
}

func (e *Error) Error() string {
	if e.Err == nil {
		return string(e.Reason)
	}
	return fmt.Sprintf("%s: %v", e.Reason, e.Err)
}

// Unwrap exposes the reason sentinel and the cause to errors.Is and errors.As.
func (e *Error) Unwrap() []error {
	errs := make([]error, 0, 2)
	if s := sentinel(e.Reason); s != nil {
		errs = append(errs, s)
	}
	if e.Err != nil {
		errs = append(errs, e.Err)
	}
	return errs
}

// ReasonOf classifies err. Context cancellation and deadline errors map to
// ReasonCancelled and ReasonTimedOut respectively.
func ReasonOf(err error) Reason {
	var re *Error
	switch {
	case err == nil:
		return ""
	case errors.As(err, &re):
		return re.Reason
	case errors.Is(err, ErrTimedOut), errors.Is(err, context.DeadlineExceeded):
		return ReasonTimedOut
	case errors.Is(err, ErrCancelled), errors.Is(err, context.Canceled):
		return ReasonCancelled
	case errors.Is(err, ErrConfiguration):
		return ReasonConfiguration
	default:
		return ReasonInternal
	}
}

func sentinel(r Reason) error {
	switch r {
	case ReasonCancelled:
		return ErrCancelled
	case ReasonTimedOut:
		return ErrTimedOut
	case ReasonConfiguration:
		return ErrConfiguration
	default:
		return nil
	}
}
