package appointment

import (
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/hackgods/clinic-scheduling/internal/slot"
)

const (
	LegacyDateLayout = "2006-01-02"
	LegacyTimeLayout = "15:04"
)

// Appointment is the aggregate root of the scheduling core. ScheduledAt is
// authoritative; AppointmentDate and AppointmentTime are UTC projections kept for
// older readers.
type Appointment struct {
	ID              int64     `json:"id"`
	PatientID       uuid.UUID `json:"patient_id"`
	DoctorID        uuid.UUID `json:"doctor_id"`
	ScheduledAt     time.Time `json:"scheduled_at"`
	DurationMinutes int       `json:"duration_minutes"`
	AppointmentDate string    `json:"appointment_date,omitempty"`
	AppointmentTime string    `json:"appointment_time,omitempty"`
	Status          Status    `json:"status"`
	Version         int       `json:"version"`

	StatusChangedAt *time.Time `json:"status_changed_at,omitempty"`
	StatusChangedBy *uuid.UUID `json:"status_changed_by,omitempty"`

	Confirmation *DoctorConfirmation   `json:"confirmation,omitempty"`
	Rejection    *AppointmentRejection `json:"rejection,omitempty"`
	CheckIn      *CheckInInfo          `json:"check_in,omitempty"`
	NoShow       *NoShowInfo           `json:"no_show,omitempty"`

	CancellationReason string    `json:"cancellation_reason,omitempty"`
	ResourceID         *string   `json:"resource_id,omitempty"`
	Notes              string    `json:"notes,omitempty"`
	CreatedAt          time.Time `json:"created_at"`
	UpdatedAt          time.Time `json:"updated_at"`
}

type NewParams struct {
	PatientID       uuid.UUID
	DoctorID        uuid.UUID
	ScheduledAt     time.Time
	DurationMinutes int
	// Direct marks a front-desk booking, which skips the pending state.
	Direct     bool
	ResourceID *string
	Notes      string
	Now        time.Time
	// MaxDuration overrides slot.DefaultMaxDuration when positive.
	MaxDuration time.Duration
}

func New(p NewParams) (*Appointment, error) {
	if p.PatientID == uuid.Nil || p.DoctorID == uuid.Nil {
		return nil, ErrMissingActor
	}
	if p.DurationMinutes <= 0 {
		return nil, fmt.Errorf("%w: got %d", ErrInvalidDuration, p.DurationMinutes)
	}
	w, err := slot.FromScheduled(p.ScheduledAt, p.DurationMinutes, maxDurationOpts(p.MaxDuration)...)
	if err != nil {
		return nil, err
	}

	status := StatusPending
	if p.Direct {
		status = StatusScheduled
	}

	a := &Appointment{
		PatientID:       p.PatientID,
		DoctorID:        p.DoctorID,
		ScheduledAt:     w.Start().UTC(),
		DurationMinutes: p.DurationMinutes,
		Status:          status,
		Version:         1,
		ResourceID:      p.ResourceID,
		Notes:           p.Notes,
		CreatedAt:       p.Now.UTC(),
		UpdatedAt:       p.Now.UTC(),
	}
	a.SyncLegacyFields()
	return a, nil
}

func maxDurationOpts(d time.Duration) []slot.Option {
	if d > 0 {
		return []slot.Option{slot.WithMaxDuration(d)}
	}
	return nil
}

func (a *Appointment) TransitionState() TransitionState {
	return TransitionState{
		Status:          a.Status,
		HasConfirmation: a.Confirmation != nil,
		HasRejection:    a.Rejection != nil,
		HasCheckIn:      a.CheckIn != nil,
		HasNoShow:       a.NoShow != nil,
	}
}

func (a *Appointment) ValidNextStates() []Status {
	return ValidNextStates(a.Status)
}

// StartTime resolves the start from ScheduledAt, falling back to the legacy fields.
func (a *Appointment) StartTime() (time.Time, error) {
	if !a.ScheduledAt.IsZero() {
		return a.ScheduledAt, nil
	}
	if a.AppointmentDate == "" || a.AppointmentTime == "" {
		return time.Time{}, ErrMissingSchedule
	}
	clock := a.AppointmentTime
	// Older rows carry seconds.
	if strings.Count(clock, ":") == 2 {
		clock = clock[:strings.LastIndex(clock, ":")]
	}
	t, err := time.ParseInLocation(LegacyDateLayout+" "+LegacyTimeLayout, a.AppointmentDate+" "+clock, time.UTC)
	if err != nil {
		return time.Time{}, fmt.Errorf("%w: legacy date %q time %q", ErrMissingSchedule, a.AppointmentDate, a.AppointmentTime)
	}
	return t, nil
}

// SlotWindow derives the booked interval. Stored rows are trusted, so no maximum
// duration is enforced here.
func (a *Appointment) SlotWindow() (slot.Window, error) {
	start, err := a.StartTime()
	if err != nil {
		return slot.Window{}, err
	}
	if a.DurationMinutes <= 0 {
		return slot.Window{}, fmt.Errorf("%w: got %d", ErrInvalidDuration, a.DurationMinutes)
	}
	return slot.FromScheduled(start, a.DurationMinutes, slot.Unbounded())
}

func (a *Appointment) EndsAt() time.Time {
	w, err := a.SlotWindow()
	if err != nil {
		return time.Time{}
	}
	return w.End()
}

func (a *Appointment) ConflictsWith(other slot.Window) bool {
	w, err := a.SlotWindow()
	if err != nil {
		return false
	}
	return w.OverlapsWith(other)
}

func (a *Appointment) SyncLegacyFields() {
	if a.ScheduledAt.IsZero() {
		return
	}
	u := a.ScheduledAt.UTC()
	a.AppointmentDate = u.Format(LegacyDateLayout)
	a.AppointmentTime = u.Format(LegacyTimeLayout)
}

func (a *Appointment) ConfirmWithDoctor(c DoctorConfirmation) error {
	res := OnDoctorConfirmation(a.TransitionState())
	if !res.Valid {
		return a.transitionError(StatusConfirmed, EventDoctorConfirmation, res)
	}
	a.Confirmation = &c
	a.stamp(res.NewStatus, &c.ConfirmedBy, c.ConfirmedAt)
	return nil
}

// RejectByDoctor cancels the appointment and keeps the rejection as its audit record.
func (a *Appointment) RejectByDoctor(r AppointmentRejection) error {
	res := OnDoctorRejection(a.TransitionState())
	if !res.Valid {
		return a.transitionError(StatusCancelled, EventDoctorRejection, res)
	}
	a.Rejection = &r
	a.CancellationReason = "rejected: " + string(r.Reason)
	a.stamp(res.NewStatus, &r.RejectedBy, r.RejectedAt)
	return nil
}

func (a *Appointment) CheckInPatient(info CheckInInfo) error {
	res := OnCheckIn(a.TransitionState())
	if !res.Valid {
		return a.transitionError(StatusCheckedIn, EventCheckIn, res)
	}
	a.CheckIn = &info
	a.stamp(res.NewStatus, &info.CheckedInBy, info.CheckedInAt)
	return nil
}

func (a *Appointment) MarkReadyForConsultation(by uuid.UUID, at time.Time) error {
	res := OnReadyForConsultation(a.TransitionState())
	if !res.Valid {
		return a.transitionError(StatusReadyForConsultation, EventReadyForConsultation, res)
	}
	a.stamp(res.NewStatus, &by, at)
	return nil
}

func (a *Appointment) StartConsultation(by uuid.UUID, at time.Time) error {
	res := OnConsultationStarted(a.TransitionState())
	if !res.Valid {
		return a.transitionError(StatusInConsultation, EventConsultationStarted, res)
	}
	a.stamp(res.NewStatus, &by, at)
	return nil
}

func (a *Appointment) Complete(by uuid.UUID, at time.Time) error {
	res := OnAppointmentCompleted(a.TransitionState())
	if !res.Valid {
		return a.transitionError(StatusCompleted, EventCompleted, res)
	}
	a.stamp(res.NewStatus, &by, at)
	return nil
}

func (a *Appointment) MarkNoShow(info NoShowInfo) error {
	if err := info.Validate(); err != nil {
		return err
	}
	res := OnNoShow(a.TransitionState())
	if !res.Valid {
		return a.transitionError(StatusNoShow, EventNoShow, res)
	}
	a.NoShow = &info
	a.stamp(res.NewStatus, info.MarkedBy, info.MarkedAt)
	return nil
}

func (a *Appointment) Cancel(by uuid.UUID, at time.Time, reason string) error {
	res := OnCancellation(a.TransitionState())
	if !res.Valid {
		return a.transitionError(StatusCancelled, EventCancellation, res)
	}
	a.CancellationReason = reason
	a.stamp(res.NewStatus, &by, at)
	return nil
}

// Reschedule moves the start, keeping the duration. Conflict checks belong to the caller.
func (a *Appointment) Reschedule(newStart time.Time, opts ...slot.Option) error {
	if a.Status.IsTerminal() || a.Status.IsInProgress() {
		return fmt.Errorf("%w: status %s", ErrNotMovable, a.Status)
	}
	w, err := slot.FromScheduled(newStart, a.DurationMinutes, opts...)
	if err != nil {
		return err
	}
	a.ScheduledAt = w.Start().UTC()
	a.SyncLegacyFields()
	return nil
}

func (a *Appointment) stamp(to Status, by *uuid.UUID, at time.Time) {
	a.Status = to
	t := at.UTC()
	a.StatusChangedAt = &t
	if by != nil {
		actor := *by
		a.StatusChangedBy = &actor
	} else {
		a.StatusChangedBy = nil
	}
}

func (a *Appointment) transitionError(to Status, ev Event, res TransitionResult) error {
	return &TransitionError{From: a.Status, To: to, Event: ev, Reason: res.Reason}
}
