package appointment

import (
	"errors"
	"fmt"
)

var (
	ErrInvalidTransition = errors.New("invalid status transition")
	ErrNotMovable        = errors.New("appointment cannot be moved in its current status")
	ErrInvalidDuration   = errors.New("duration minutes must be positive")
	ErrMissingSchedule   = errors.New("appointment has no scheduled time")
)

// TransitionError carries the status an appointment was in and the one the caller asked for.
// It matches ErrInvalidTransition with errors.Is.
type TransitionError struct {
	From   Status
	To     Status
	Event  Event
	Reason string
}

func (e *TransitionError) Error() string {
	msg := fmt.Sprintf("%s: %s -> %s", ErrInvalidTransition, e.From, e.To)
	if e.Reason != "" {
		msg += " (" + e.Reason + ")"
	}
	return msg
}

func (e *TransitionError) Unwrap() error {
	return ErrInvalidTransition
}
