package scheduling

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"

	"github.com/hackgods/clinic-scheduling/internal/appointment"
	"github.com/hackgods/clinic-scheduling/internal/availability"
)

var ErrNotFound = errors.New("not found")

const (
	EventAppointmentBooked    = "APPOINTMENT_BOOKED"
	EventAppointmentMoved     = "APPOINTMENT_MOVED"
	EventAppointmentConfirmed = "APPOINTMENT_CONFIRMED"
	EventAppointmentRejected  = "APPOINTMENT_REJECTED"
	EventAppointmentCheckedIn = "APPOINTMENT_CHECKED_IN"
	EventAppointmentReady     = "APPOINTMENT_READY_FOR_CONSULTATION"
	EventConsultationStarted  = "CONSULTATION_STARTED"
	EventAppointmentCompleted = "APPOINTMENT_COMPLETED"
	EventAppointmentCancelled = "APPOINTMENT_CANCELLED"
	EventAppointmentNoShow    = "APPOINTMENT_NO_SHOW"
	EventBlockCreated         = "BLOCK_CREATED"
	EventOverrideCreated      = "OVERRIDE_CREATED"
	EventAvailabilityReplaced = "AVAILABILITY_REPLACED"
)

// EventLog is the audit row written alongside every accepted change.
type EventLog struct {
	ID            int64
	EventType     string
	AppointmentID *int64
	DoctorID      uuid.UUID
	ActorID       *uuid.UUID
	Payload       []byte
	CreatedAt     time.Time
}

// Repository contains all DB interactions needed by the service.
type Repository interface {
	GetAppointment(ctx context.Context, id int64) (*appointment.Appointment, error)
	// ListActiveAppointments returns non-cancelled appointments whose full interval
	// overlaps [from, to).
	ListActiveAppointments(ctx context.Context, doctorID uuid.UUID, from, to time.Time) ([]appointment.Appointment, error)
	CreateAppointment(ctx context.Context, a *appointment.Appointment) (*appointment.Appointment, error)
	// UpdateAppointment writes a only if the stored version equals expectedVersion and
	// returns the incremented version, or a *VersionConflictError.
	UpdateAppointment(ctx context.Context, a *appointment.Appointment, expectedVersion int) (int, error)
	// ListNoShowCandidates returns pending, scheduled and confirmed appointments that
	// started before the cutoff, oldest first.
	ListNoShowCandidates(ctx context.Context, startedBefore time.Time, limit int) ([]appointment.Appointment, error)

	ListBlocks(ctx context.Context, doctorID uuid.UUID, from, to time.Time) ([]availability.Block, error)
	CreateBlock(ctx context.Context, b availability.Block) (*availability.Block, error)

	ListOverrides(ctx context.Context, doctorID uuid.UUID, from, to time.Time) ([]availability.Override, error)
	CreateOverride(ctx context.Context, o availability.Override) (*availability.Override, error)

	// GetActiveTemplate returns the active template, else the oldest one, else ErrNotFound.
	GetActiveTemplate(ctx context.Context, doctorID uuid.UUID) (*availability.Template, error)
	// ReplaceTemplateSlots finds or creates the named template, activates it and
	// replaces all of its slots.
	ReplaceTemplateSlots(ctx context.Context, doctorID uuid.UUID, name string, slots []availability.Slot) (*availability.Template, error)

	InsertEvent(ctx context.Context, ev EventLog) error

	// Atomic runs fn inside one transaction. fn must only use the Repository it is given.
	Atomic(ctx context.Context, fn func(Repository) error) error
}

// OverrideDateRange widens an instant range to the civil dates that could touch it in
// any clinic time zone. Callers resolve the exact days afterwards.
func OverrideDateRange(from, to time.Time) (time.Time, time.Time) {
	return availability.CivilDate(from).AddDate(0, 0, -1), availability.CivilDate(to).AddDate(0, 0, 1)
}
