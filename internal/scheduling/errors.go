package scheduling

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/hackgods/clinic-scheduling/internal/appointment"
	"github.com/hackgods/clinic-scheduling/internal/availability"
	"github.com/hackgods/clinic-scheduling/internal/slot"
)

var (
	ErrVersionConflict = errors.New("appointment was modified by someone else")
	ErrHardBlock       = errors.New("doctor is blocked during the requested time")
	ErrBookingConflict = errors.New("requested time conflicts with another booking")
)

// ValidationError lists malformed input fields.
type ValidationError = availability.ValidationError

func invalid(fields ...string) error {
	return &ValidationError{Fields: fields}
}

// VersionConflictError means the caller worked from stale data and should reload.
type VersionConflictError struct {
	AppointmentID int64
	Expected      int
	Actual        int
}

func (e *VersionConflictError) Error() string {
	return fmt.Sprintf("%s: appointment %d expected version %d, current version %d",
		ErrVersionConflict, e.AppointmentID, e.Expected, e.Actual)
}

func (e *VersionConflictError) Unwrap() error { return ErrVersionConflict }

type BlockedError struct {
	BlockID uuid.UUID
	Type    availability.BlockType
	Reason  string
	Start   time.Time
	End     time.Time
}

func (e *BlockedError) Error() string {
	msg := fmt.Sprintf("%s: %s", ErrHardBlock, e.Type)
	if e.Reason != "" {
		msg += " (" + e.Reason + ")"
	}
	return msg
}

func (e *BlockedError) Unwrap() error { return ErrHardBlock }

type BookingConflictError struct {
	AppointmentIDs []int64
}

func (e *BookingConflictError) Error() string {
	ids := make([]string, len(e.AppointmentIDs))
	for i, id := range e.AppointmentIDs {
		ids[i] = fmt.Sprint(id)
	}
	return fmt.Sprintf("%s: conflicts with %d other booking(s) [%s]", ErrBookingConflict, len(ids), strings.Join(ids, ", "))
}

func (e *BookingConflictError) Unwrap() error { return ErrBookingConflict }

type Kind string

const (
	KindNotFound          Kind = "not_found"
	KindVersionConflict   Kind = "version_conflict"
	KindHardBlock         Kind = "hard_block"
	KindBookingConflict   Kind = "booking_conflict"
	KindInvalidTransition Kind = "invalid_transition"
	KindValidation        Kind = "validation"
	KindInternal          Kind = "internal"
)

// Retryable is true only for version conflicts, after the caller reloads.
func (k Kind) Retryable() bool {
	return k == KindVersionConflict
}

// validationSentinels are domain constructor errors that describe bad input.
var validationSentinels = []error{
	slot.ErrInvalidWindow,
	slot.ErrWindowTooLong,
	slot.ErrInvalidMinutes,
	slot.ErrInvalidStep,
	slot.ErrSearchRangeTooLong,
	slot.ErrInvalidTimeOfDay,
	appointment.ErrInvalidDuration,
	appointment.ErrMissingSchedule,
	appointment.ErrMissingActor,
	appointment.ErrMissingTimestamp,
	appointment.ErrInvalidMethod,
	appointment.ErrInvalidReason,
	appointment.ErrDetailsRequired,
	appointment.ErrSuggestionInPast,
	appointment.ErrNegativeGrace,
	appointment.ErrAutomaticWithActor,
}

// KindOf classifies any error returned by the service. A nil error has no kind.
func KindOf(err error) Kind {
	if err == nil {
		return ""
	}
	var ve *ValidationError
	switch {
	case errors.Is(err, ErrNotFound):
		return KindNotFound
	case errors.Is(err, ErrVersionConflict):
		return KindVersionConflict
	case errors.Is(err, ErrHardBlock):
		return KindHardBlock
	case errors.Is(err, ErrBookingConflict):
		return KindBookingConflict
	case errors.Is(err, appointment.ErrInvalidTransition), errors.Is(err, appointment.ErrNotMovable):
		return KindInvalidTransition
	case errors.As(err, &ve):
		return KindValidation
	}
	for _, s := range validationSentinels {
		if errors.Is(err, s) {
			return KindValidation
		}
	}
	return KindInternal
}

func outcome(err error) string {
	if err == nil {
		return "ok"
	}
	return string(KindOf(err))
}
