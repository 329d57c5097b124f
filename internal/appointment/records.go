package appointment

import (
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

var (
	ErrMissingActor       = errors.New("actor is required")
	ErrMissingTimestamp   = errors.New("timestamp is required")
	ErrInvalidMethod      = errors.New("unknown method")
	ErrInvalidReason      = errors.New("unknown rejection reason")
	ErrDetailsRequired    = errors.New("details are required when the reason is other")
	ErrSuggestionInPast   = errors.New("suggested alternative must be after the rejection")
	ErrNegativeGrace      = errors.New("grace minutes must not be negative")
	ErrAutomaticWithActor = errors.New("automatic no-show must not carry an actor")
)

type ConfirmationMethod string

const (
	ConfirmDirect ConfirmationMethod = "direct"
	ConfirmAuto   ConfirmationMethod = "auto"
	ConfirmPhone  ConfirmationMethod = "phone"
	ConfirmEmail  ConfirmationMethod = "email"
)

func (m ConfirmationMethod) IsValid() bool {
	switch m {
	case ConfirmDirect, ConfirmAuto, ConfirmPhone, ConfirmEmail:
		return true
	}
	return false
}

func ParseConfirmationMethod(s string) (ConfirmationMethod, error) {
	m := ConfirmationMethod(s)
	if !m.IsValid() {
		return "", fmt.Errorf("%w: confirmation %q", ErrInvalidMethod, s)
	}
	return m, nil
}

type RejectionReason string

const (
	RejectUnavailable    RejectionReason = "unavailable"
	RejectConflict       RejectionReason = "conflict"
	RejectUnsuitable     RejectionReason = "unsuitable"
	RejectMedical        RejectionReason = "medical"
	RejectAdministrative RejectionReason = "administrative"
	RejectOther          RejectionReason = "other"
)

func (r RejectionReason) IsValid() bool {
	switch r {
	case RejectUnavailable, RejectConflict, RejectUnsuitable, RejectMedical, RejectAdministrative, RejectOther:
		return true
	}
	return false
}

func ParseRejectionReason(s string) (RejectionReason, error) {
	r := RejectionReason(s)
	if !r.IsValid() {
		return "", fmt.Errorf("%w: %q", ErrInvalidReason, s)
	}
	return r, nil
}

type CheckInMethod string

const (
	CheckInFrontDesk CheckInMethod = "front_desk"
	CheckInKiosk     CheckInMethod = "kiosk"
	CheckInMobile    CheckInMethod = "mobile"
)

func (m CheckInMethod) IsValid() bool {
	switch m {
	case CheckInFrontDesk, CheckInKiosk, CheckInMobile:
		return true
	}
	return false
}

func ParseCheckInMethod(s string) (CheckInMethod, error) {
	m := CheckInMethod(s)
	if !m.IsValid() {
		return "", fmt.Errorf("%w: check-in %q", ErrInvalidMethod, s)
	}
	return m, nil
}

// DoctorConfirmation records who accepted the booking and how.
type DoctorConfirmation struct {
	ConfirmedBy uuid.UUID          `json:"confirmed_by"`
	ConfirmedAt time.Time          `json:"confirmed_at"`
	Method      ConfirmationMethod `json:"method"`
	Notes       string             `json:"notes,omitempty"`
}

func NewDoctorConfirmation(by uuid.UUID, at time.Time, method ConfirmationMethod, notes string) (DoctorConfirmation, error) {
	if by == uuid.Nil {
		return DoctorConfirmation{}, ErrMissingActor
	}
	if at.IsZero() {
		return DoctorConfirmation{}, ErrMissingTimestamp
	}
	if !method.IsValid() {
		return DoctorConfirmation{}, fmt.Errorf("%w: confirmation %q", ErrInvalidMethod, method)
	}
	return DoctorConfirmation{ConfirmedBy: by, ConfirmedAt: at.UTC(), Method: method, Notes: notes}, nil
}

// AppointmentRejection records a doctor declining the booking, optionally with a
// suggested alternative start.
type AppointmentRejection struct {
	RejectedBy     uuid.UUID       `json:"rejected_by"`
	RejectedAt     time.Time       `json:"rejected_at"`
	Reason         RejectionReason `json:"reason"`
	Details        string          `json:"details,omitempty"`
	SuggestedStart *time.Time      `json:"suggested_start,omitempty"`
}

func NewAppointmentRejection(by uuid.UUID, at time.Time, reason RejectionReason, details string, suggested *time.Time) (AppointmentRejection, error) {
	if by == uuid.Nil {
		return AppointmentRejection{}, ErrMissingActor
	}
	if at.IsZero() {
		return AppointmentRejection{}, ErrMissingTimestamp
	}
	if !reason.IsValid() {
		return AppointmentRejection{}, fmt.Errorf("%w: %q", ErrInvalidReason, reason)
	}
	if reason == RejectOther && details == "" {
		return AppointmentRejection{}, ErrDetailsRequired
	}

	r := AppointmentRejection{RejectedBy: by, RejectedAt: at.UTC(), Reason: reason, Details: details}
	if suggested != nil {
		if !suggested.After(at) {
			return AppointmentRejection{}, ErrSuggestionInPast
		}
		s := suggested.UTC()
		r.SuggestedStart = &s
	}
	return r, nil
}

type CheckInInfo struct {
	CheckedInAt time.Time     `json:"checked_in_at"`
	CheckedInBy uuid.UUID     `json:"checked_in_by"`
	Method      CheckInMethod `json:"method"`
	MinutesLate int           `json:"minutes_late"`
}

// NewCheckInInfo derives lateness from the scheduled start; arriving early counts as on time.
func NewCheckInInfo(by uuid.UUID, at time.Time, method CheckInMethod, scheduledAt time.Time) (CheckInInfo, error) {
	if by == uuid.Nil {
		return CheckInInfo{}, ErrMissingActor
	}
	if at.IsZero() {
		return CheckInInfo{}, ErrMissingTimestamp
	}
	if !method.IsValid() {
		return CheckInInfo{}, fmt.Errorf("%w: check-in %q", ErrInvalidMethod, method)
	}
	late := 0
	if !scheduledAt.IsZero() && at.After(scheduledAt) {
		late = int(at.Sub(scheduledAt) / time.Minute)
	}
	return CheckInInfo{CheckedInAt: at.UTC(), CheckedInBy: by, Method: method, MinutesLate: late}, nil
}

func (c CheckInInfo) IsLate() bool {
	return c.MinutesLate > 0
}

type NoShowInfo struct {
	MarkedAt     time.Time  `json:"marked_at"`
	MarkedBy     *uuid.UUID `json:"marked_by,omitempty"`
	Automatic    bool       `json:"automatic"`
	GraceMinutes int        `json:"grace_minutes"`
	Note         string     `json:"note,omitempty"`
}

// NewManualNoShow is used when front desk marks the patient absent.
func NewManualNoShow(by uuid.UUID, at time.Time, note string) (NoShowInfo, error) {
	if by == uuid.Nil {
		return NoShowInfo{}, ErrMissingActor
	}
	if at.IsZero() {
		return NoShowInfo{}, ErrMissingTimestamp
	}
	actor := by
	return NoShowInfo{MarkedAt: at.UTC(), MarkedBy: &actor, Note: note}, nil
}

// NewAutomaticNoShow is used by the sweep once the grace window has elapsed.
func NewAutomaticNoShow(at time.Time, graceMinutes int) (NoShowInfo, error) {
	if at.IsZero() {
		return NoShowInfo{}, ErrMissingTimestamp
	}
	if graceMinutes < 0 {
		return NoShowInfo{}, ErrNegativeGrace
	}
	return NoShowInfo{MarkedAt: at.UTC(), Automatic: true, GraceMinutes: graceMinutes}, nil
}

func (n NoShowInfo) Validate() error {
	if n.MarkedAt.IsZero() {
		return ErrMissingTimestamp
	}
	if n.Automatic && n.MarkedBy != nil {
		return ErrAutomaticWithActor
	}
	if !n.Automatic && (n.MarkedBy == nil || *n.MarkedBy == uuid.Nil) {
		return ErrMissingActor
	}
	if n.GraceMinutes < 0 {
		return ErrNegativeGrace
	}
	return nil
}
