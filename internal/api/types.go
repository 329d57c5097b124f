package api

import (
	"time"

	"github.com/google/uuid"

	"github.com/hackgods/clinic-scheduling/internal/slot"
)

type BookAppointmentRequest struct {
	PatientID       uuid.UUID `json:"patient_id"`
	DoctorID        uuid.UUID `json:"doctor_id"`
	StartTime       time.Time `json:"start_time"`
	DurationMinutes int       `json:"duration_minutes"`
	Direct          bool      `json:"direct"`
	ResourceID      *string   `json:"resource_id,omitempty"`
	Notes           string    `json:"notes,omitempty"`
}

type MoveAppointmentRequest struct {
	NewStartTime    time.Time `json:"new_start_time"`
	ExpectedVersion int       `json:"expected_version"`
	ResourceID      *string   `json:"resource_id,omitempty"`
}

type MoveAppointmentResponse struct {
	Success       bool      `json:"success"`
	AppointmentID int64     `json:"appointment_id"`
	NewVersion    int       `json:"new_version"`
	ScheduledAt   time.Time `json:"scheduled_at"`
	EndsAt        time.Time `json:"ends_at"`
}

type DecisionRequest struct {
	Action             string     `json:"action"`
	Method             string     `json:"method,omitempty"`
	Notes              string     `json:"notes,omitempty"`
	RejectionReason    string     `json:"rejection_reason,omitempty"`
	Details            string     `json:"details,omitempty"`
	SuggestedStartTime *time.Time `json:"suggested_start_time,omitempty"`
	ExpectedVersion    int        `json:"expected_version,omitempty"`
}

// LifecycleRequest is the optional body of check-in, consultation, completion,
// cancellation and no-show calls.
type LifecycleRequest struct {
	ExpectedVersion int    `json:"expected_version,omitempty"`
	Method          string `json:"method,omitempty"`
	Reason          string `json:"reason,omitempty"`
}

type CreateBlockRequest struct {
	StartTime time.Time `json:"start_time"`
	EndTime   time.Time `json:"end_time"`
	BlockType string    `json:"block_type"`
	Reason    string    `json:"reason,omitempty"`
}

type CreateOverrideRequest struct {
	StartDate string          `json:"start_date"`
	EndDate   string          `json:"end_date"`
	IsBlocked bool            `json:"is_blocked"`
	StartTime *slot.TimeOfDay `json:"start_time,omitempty"`
	EndTime   *slot.TimeOfDay `json:"end_time,omitempty"`
	Reason    string          `json:"reason,omitempty"`
}

type SlotRequest struct {
	DayOfWeek int            `json:"day_of_week"`
	StartTime slot.TimeOfDay `json:"start_time"`
	EndTime   slot.TimeOfDay `json:"end_time"`
	SlotType  string         `json:"slot_type,omitempty"`
}

type UpdateAvailabilityRequest struct {
	TemplateName string        `json:"template_name"`
	Slots        []SlotRequest `json:"slots"`
}

type SuccessResponse struct {
	Success bool `json:"success"`
	Data    any  `json:"data,omitempty"`
}

type SlotsResponse struct {
	DoctorID        uuid.UUID     `json:"doctor_id"`
	DurationMinutes int           `json:"duration_minutes"`
	Slots           []slot.Window `json:"slots"`
}

type NextSlotResponse struct {
	DoctorID uuid.UUID    `json:"doctor_id"`
	Found    bool         `json:"found"`
	Slot     *slot.Window `json:"slot,omitempty"`
}

type ErrorResponse struct {
	Error   string `json:"error"`
	Details string `json:"details,omitempty"`

	Retryable      bool     `json:"retryable,omitempty"`
	CurrentVersion int      `json:"current_version,omitempty"`
	BlockType      string   `json:"block_type,omitempty"`
	BlockReason    string   `json:"block_reason,omitempty"`
	ConflictingIDs []int64  `json:"conflicting_ids,omitempty"`
	CurrentStatus  string   `json:"current_status,omitempty"`
	TargetStatus   string   `json:"target_status,omitempty"`
	Fields         []string `json:"fields,omitempty"`
}
