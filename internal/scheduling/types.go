package scheduling

import (
	"time"

	"github.com/google/uuid"

	"github.com/hackgods/clinic-scheduling/internal/appointment"
	"github.com/hackgods/clinic-scheduling/internal/availability"
	"github.com/hackgods/clinic-scheduling/internal/slot"
)

type MoveRequest struct {
	AppointmentID   int64
	NewStart        time.Time
	ExpectedVersion int
	ResourceID      *string
	MovedBy         uuid.UUID
}

type MoveResult struct {
	AppointmentID int64     `json:"appointment_id"`
	NewVersion    int       `json:"new_version"`
	ScheduledAt   time.Time `json:"scheduled_at"`
	EndsAt        time.Time `json:"ends_at"`
}

type BookRequest struct {
	PatientID       uuid.UUID
	DoctorID        uuid.UUID
	Start           time.Time
	DurationMinutes int
	// Direct books straight into scheduled, skipping doctor confirmation.
	Direct     bool
	ResourceID *string
	Notes      string
	BookedBy   uuid.UUID
}

type CreateBlockRequest struct {
	DoctorID  uuid.UUID
	Start     time.Time
	End       time.Time
	Type      availability.BlockType
	Reason    string
	CreatedBy *uuid.UUID
}

type CreateOverrideRequest struct {
	DoctorID  uuid.UUID
	StartDate time.Time
	EndDate   time.Time
	IsBlocked bool
	Start     *slot.TimeOfDay
	End       *slot.TimeOfDay
	Reason    string
	CreatedBy *uuid.UUID
}

type UpdateAvailabilityRequest struct {
	DoctorID     uuid.UUID
	TemplateName string
	Slots        []availability.Slot
	UpdatedBy    *uuid.UUID
}

// Schedule is the merged calendar view of one doctor over a range.
type Schedule struct {
	DoctorID     uuid.UUID                 `json:"doctor_id"`
	Start        time.Time                 `json:"start"`
	End          time.Time                 `json:"end"`
	Template     *availability.Template    `json:"template,omitempty"`
	WorkingDays  []availability.DayPlan    `json:"working_days"`
	Overrides    []availability.Override   `json:"overrides"`
	Blocks       []availability.Block      `json:"blocks"`
	Appointments []appointment.Appointment `json:"appointments"`
}

type DecisionAction string

const (
	ActionConfirm DecisionAction = "confirm"
	ActionReject  DecisionAction = "reject"
)

type DecisionRequest struct {
	AppointmentID   int64
	Action          DecisionAction
	ActorID         uuid.UUID
	Method          appointment.ConfirmationMethod
	Notes           string
	RejectionReason appointment.RejectionReason
	Details         string
	SuggestedStart  *time.Time
	// ExpectedVersion is optional here; zero means the loaded version is used.
	ExpectedVersion int
}

// LifecycleRequest drives check-in, consultation, completion, cancellation and manual no-show.
type LifecycleRequest struct {
	AppointmentID   int64
	ExpectedVersion int
	ActorID         uuid.UUID
	CheckInMethod   appointment.CheckInMethod
	Reason          string
}

// Summary is the read model returned after a state change.
type Summary struct {
	ID                 int64                             `json:"id"`
	PatientID          uuid.UUID                         `json:"patient_id"`
	DoctorID           uuid.UUID                         `json:"doctor_id"`
	ScheduledAt        time.Time                         `json:"scheduled_at"`
	EndsAt             time.Time                         `json:"ends_at"`
	DurationMinutes    int                               `json:"duration_minutes"`
	Status             appointment.Status                `json:"status"`
	Version            int                               `json:"version"`
	StatusChangedAt    *time.Time                        `json:"status_changed_at,omitempty"`
	StatusChangedBy    *uuid.UUID                        `json:"status_changed_by,omitempty"`
	Confirmation       *appointment.DoctorConfirmation   `json:"confirmation,omitempty"`
	Rejection          *appointment.AppointmentRejection `json:"rejection,omitempty"`
	CheckIn            *appointment.CheckInInfo          `json:"check_in,omitempty"`
	NoShow             *appointment.NoShowInfo           `json:"no_show,omitempty"`
	CancellationReason string                            `json:"cancellation_reason,omitempty"`
	ResourceID         *string                           `json:"resource_id,omitempty"`
	ValidNextStates    []appointment.Status              `json:"valid_next_states"`
}

func Summarize(a *appointment.Appointment) Summary {
	start, _ := a.StartTime()
	return Summary{
		ID:                 a.ID,
		PatientID:          a.PatientID,
		DoctorID:           a.DoctorID,
		ScheduledAt:        start,
		EndsAt:             a.EndsAt(),
		DurationMinutes:    a.DurationMinutes,
		Status:             a.Status,
		Version:            a.Version,
		StatusChangedAt:    a.StatusChangedAt,
		StatusChangedBy:    a.StatusChangedBy,
		Confirmation:       a.Confirmation,
		Rejection:          a.Rejection,
		CheckIn:            a.CheckIn,
		NoShow:             a.NoShow,
		CancellationReason: a.CancellationReason,
		ResourceID:         a.ResourceID,
		ValidNextStates:    a.ValidNextStates(),
	}
}

type SlotSearch struct {
	DoctorID        uuid.UUID
	From            time.Time
	To              time.Time
	DurationMinutes int
}

type SweepResult struct {
	Examined int `json:"examined"`
	Marked   int `json:"marked"`
	Skipped  int `json:"skipped"`
	Failed   int `json:"failed"`
}
