package appointment

import "fmt"

type Status string

const (
	StatusPending              Status = "pending"
	StatusScheduled            Status = "scheduled"
	StatusConfirmed            Status = "confirmed"
	StatusCheckedIn            Status = "checked_in"
	StatusReadyForConsultation Status = "ready_for_consultation"
	StatusInConsultation       Status = "in_consultation"
	StatusCompleted            Status = "completed"
	StatusNoShow               Status = "no_show"
	StatusCancelled            Status = "cancelled"
)

// AllStatuses lists every status in lifecycle order.
var AllStatuses = []Status{
	StatusPending,
	StatusScheduled,
	StatusConfirmed,
	StatusCheckedIn,
	StatusReadyForConsultation,
	StatusInConsultation,
	StatusCompleted,
	StatusNoShow,
	StatusCancelled,
}

func (s Status) IsValid() bool {
	_, ok := transitions[s]
	return ok
}

func (s Status) IsTerminal() bool {
	return s == StatusCompleted || s == StatusNoShow || s == StatusCancelled
}

// IsInProgress means the patient is physically in the clinic.
func (s Status) IsInProgress() bool {
	return s == StatusCheckedIn || s == StatusReadyForConsultation || s == StatusInConsultation
}

func ParseStatus(s string) (Status, error) {
	st := Status(s)
	if !st.IsValid() {
		return "", fmt.Errorf("unknown appointment status %q", s)
	}
	return st, nil
}

// Event names the lifecycle action that requested a transition.
type Event string

const (
	EventDoctorConfirmation   Event = "doctor_confirmation"
	EventDoctorRejection      Event = "doctor_rejection"
	EventCheckIn              Event = "check_in"
	EventReadyForConsultation Event = "ready_for_consultation"
	EventConsultationStarted  Event = "consultation_started"
	EventCompleted            Event = "completed"
	EventNoShow               Event = "no_show"
	EventCancellation         Event = "cancellation"
	EventReschedule           Event = "reschedule"
)

var transitions = map[Status][]Status{
	StatusPending:              {StatusScheduled, StatusConfirmed, StatusCancelled, StatusNoShow},
	StatusScheduled:            {StatusConfirmed, StatusCheckedIn, StatusCancelled, StatusNoShow},
	StatusConfirmed:            {StatusCheckedIn, StatusCancelled, StatusNoShow},
	StatusCheckedIn:            {StatusReadyForConsultation, StatusInConsultation, StatusCancelled},
	StatusReadyForConsultation: {StatusInConsultation, StatusCancelled},
	StatusInConsultation:       {StatusCompleted, StatusCancelled},
	StatusCompleted:            {},
	StatusNoShow:               {},
	StatusCancelled:            {},
}

// TransitionState is the slice of an appointment the state machine needs.
type TransitionState struct {
	Status          Status
	HasConfirmation bool
	HasRejection    bool
	HasCheckIn      bool
	HasNoShow       bool
}

type TransitionResult struct {
	Valid     bool   `json:"valid"`
	NewStatus Status `json:"new_status,omitempty"`
	Reason    string `json:"reason,omitempty"`
}

func allow(to Status) TransitionResult {
	return TransitionResult{Valid: true, NewStatus: to}
}

func deny(format string, args ...any) TransitionResult {
	return TransitionResult{Reason: fmt.Sprintf(format, args...)}
}

// ValidNextStates returns a fresh slice; terminal and unknown statuses yield an empty one.
func ValidNextStates(s Status) []Status {
	next := transitions[s]
	out := make([]Status, len(next))
	copy(out, next)
	return out
}

func IsValidTransition(from, to Status) bool {
	for _, s := range transitions[from] {
		if s == to {
			return true
		}
	}
	return false
}

func CanBeCancelled(st TransitionState) bool {
	return st.Status.IsValid() && !st.Status.IsTerminal()
}

func CanBeMarkedNoShow(st TransitionState) bool {
	return !st.HasCheckIn && !st.HasNoShow && IsValidTransition(st.Status, StatusNoShow)
}

func CanBeCompleted(st TransitionState) bool {
	return IsValidTransition(st.Status, StatusCompleted)
}

func CanBeDoctorConfirmed(st TransitionState) bool {
	if st.HasConfirmation || st.HasRejection {
		return false
	}
	return st.Status == StatusPending || st.Status == StatusScheduled
}

func CanBeRejected(st TransitionState) bool {
	if st.HasConfirmation || st.HasRejection {
		return false
	}
	return st.Status == StatusPending
}

func CanBeCheckedIn(st TransitionState) bool {
	return !st.HasNoShow && !st.HasCheckIn && IsValidTransition(st.Status, StatusCheckedIn)
}

func CanStartConsultation(st TransitionState) bool {
	return IsValidTransition(st.Status, StatusInConsultation)
}

func OnDoctorConfirmation(st TransitionState) TransitionResult {
	switch {
	case st.Status.IsTerminal():
		return deny("appointment is %s", st.Status)
	case st.HasConfirmation:
		return deny("appointment is already confirmed by the doctor")
	case st.HasRejection:
		return deny("a rejected appointment cannot be confirmed")
	case !CanBeDoctorConfirmed(st):
		return deny("cannot confirm an appointment in status %s", st.Status)
	}
	return allow(StatusConfirmed)
}

func OnDoctorRejection(st TransitionState) TransitionResult {
	switch {
	case st.Status.IsTerminal():
		return deny("appointment is %s", st.Status)
	case st.HasRejection:
		return deny("appointment is already rejected")
	case st.HasConfirmation:
		return deny("a confirmed appointment cannot be rejected")
	case !CanBeRejected(st):
		return deny("cannot reject an appointment in status %s", st.Status)
	}
	return allow(StatusCancelled)
}

func OnCheckIn(st TransitionState) TransitionResult {
	switch {
	case st.HasNoShow:
		return deny("patient was marked as no-show")
	case st.HasCheckIn:
		return deny("patient is already checked in")
	case !CanBeCheckedIn(st):
		return deny("cannot check in an appointment in status %s", st.Status)
	}
	return allow(StatusCheckedIn)
}

func OnReadyForConsultation(st TransitionState) TransitionResult {
	if !IsValidTransition(st.Status, StatusReadyForConsultation) {
		return deny("cannot mark ready from status %s", st.Status)
	}
	return allow(StatusReadyForConsultation)
}

func OnConsultationStarted(st TransitionState) TransitionResult {
	if !CanStartConsultation(st) {
		return deny("cannot start consultation from status %s", st.Status)
	}
	return allow(StatusInConsultation)
}

func OnAppointmentCompleted(st TransitionState) TransitionResult {
	if !CanBeCompleted(st) {
		return deny("cannot complete an appointment in status %s", st.Status)
	}
	return allow(StatusCompleted)
}

func OnNoShow(st TransitionState) TransitionResult {
	switch {
	case st.HasCheckIn:
		return deny("patient has checked in")
	case st.HasNoShow:
		return deny("appointment is already marked as no-show")
	case !CanBeMarkedNoShow(st):
		return deny("cannot mark no-show from status %s", st.Status)
	}
	return allow(StatusNoShow)
}

func OnCancellation(st TransitionState) TransitionResult {
	if !CanBeCancelled(st) {
		return deny("cannot cancel an appointment in status %s", st.Status)
	}
	return allow(StatusCancelled)
}
