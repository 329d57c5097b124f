package scheduling_test

import (
	"context"
	"errors"
	"slices"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/hackgods/clinic-scheduling/internal/appointment"
	"github.com/hackgods/clinic-scheduling/internal/availability"
	"github.com/hackgods/clinic-scheduling/internal/config"
	"github.com/hackgods/clinic-scheduling/internal/scheduling"
	"github.com/hackgods/clinic-scheduling/internal/scheduling/schedulingtest"
	"github.com/hackgods/clinic-scheduling/internal/slot"
)

var (
	doctorID  = uuid.MustParse("6f1c2b8e-4a61-4c3e-9d0a-111111111111")
	patientID = uuid.MustParse("6f1c2b8e-4a61-4c3e-9d0a-222222222222")
	staffID   = uuid.MustParse("6f1c2b8e-4a61-4c3e-9d0a-333333333333")
	clockNow  = time.Date(2026, 1, 15, 8, 0, 0, 0, time.UTC)
)

func utc(year int, month time.Month, day, hour, minute int) time.Time {
	return time.Date(year, month, day, hour, minute, 0, 0, time.UTC)
}

func newService(t *testing.T, now time.Time, mods ...func(*config.Config)) (*scheduling.Service, *schedulingtest.Repo) {
	t.Helper()
	cfg := config.Default()
	cfg.BufferMinutes = 0
	cfg.RequireWorkingHours = false
	cfg.MaxConcurrentBookings = 1
	cfg.Location = time.UTC
	cfg.NoShowGrace = 15 * time.Minute
	for _, mod := range mods {
		mod(&cfg)
	}
	repo := schedulingtest.New()
	svc := scheduling.NewService(repo, cfg, scheduling.WithClock(scheduling.FixedClock(now)))
	return svc, repo
}

func seed(repo *schedulingtest.Repo, start time.Time, minutes int, status appointment.Status, version int) appointment.Appointment {
	a := appointment.Appointment{
		PatientID:       patientID,
		DoctorID:        doctorID,
		ScheduledAt:     start,
		DurationMinutes: minutes,
		Status:          status,
		Version:         version,
		CreatedAt:       clockNow,
		UpdatedAt:       clockNow,
	}
	a.SyncLegacyFields()
	return repo.Put(a)
}

func load(t *testing.T, repo *schedulingtest.Repo, id int64) *appointment.Appointment {
	t.Helper()
	a, err := repo.GetAppointment(context.Background(), id)
	if err != nil {
		t.Fatalf("load appointment %d: %v", id, err)
	}
	return a
}

func TestMoveAppointment_HardBlockWins(t *testing.T) {
	ctx := context.Background()
	svc, repo := newService(t, clockNow)
	a := seed(repo, utc(2026, 2, 9, 9, 0), 30, appointment.StatusScheduled, 1)

	if _, err := svc.CreateBlock(ctx, scheduling.CreateBlockRequest{
		DoctorID: doctorID,
		Start:    utc(2026, 2, 10, 9, 0),
		End:      utc(2026, 2, 10, 17, 0),
		Type:     availability.BlockLeave,
		Reason:   "annual leave",
	}); err != nil {
		t.Fatalf("CreateBlock: %v", err)
	}

	_, err := svc.MoveAppointment(ctx, scheduling.MoveRequest{
		AppointmentID:   a.ID,
		NewStart:        utc(2026, 2, 10, 10, 0),
		ExpectedVersion: 1,
	})

	var blocked *scheduling.BlockedError
	if !errors.As(err, &blocked) {
		t.Fatalf("expected BlockedError, got %v", err)
	}
	if blocked.Type != availability.BlockLeave {
		t.Errorf("block type = %s, want LEAVE", blocked.Type)
	}
	if k := scheduling.KindOf(err); k != scheduling.KindHardBlock || k.Retryable() {
		t.Errorf("kind = %s retryable=%v", k, k.Retryable())
	}

	got := load(t, repo, a.ID)
	if got.Version != 1 || !got.ScheduledAt.Equal(a.ScheduledAt) {
		t.Errorf("appointment changed: version %d at %s", got.Version, got.ScheduledAt)
	}
	if slices.Contains(repo.EventTypes(), scheduling.EventAppointmentMoved) {
		t.Error("move event recorded for a rejected move")
	}
}

func TestMoveAppointment_BlockCheckedBeforeBookings(t *testing.T) {
	ctx := context.Background()
	svc, repo := newService(t, clockNow)
	a := seed(repo, utc(2026, 3, 1, 14, 0), 30, appointment.StatusConfirmed, 2)
	seed(repo, utc(2026, 3, 1, 9, 0), 30, appointment.StatusScheduled, 1)

	if _, err := svc.CreateBlock(ctx, scheduling.CreateBlockRequest{
		DoctorID: doctorID,
		Start:    utc(2026, 3, 1, 9, 0),
		End:      utc(2026, 3, 1, 9, 30),
		Type:     availability.BlockEmergency,
	}); err != nil {
		t.Fatalf("CreateBlock: %v", err)
	}

	_, err := svc.MoveAppointment(ctx, scheduling.MoveRequest{AppointmentID: a.ID, NewStart: utc(2026, 3, 1, 9, 0), ExpectedVersion: 2})
	if !errors.Is(err, scheduling.ErrHardBlock) {
		t.Fatalf("expected hard block, got %v", err)
	}
}

func TestMoveAppointment_Succeeds(t *testing.T) {
	ctx := context.Background()
	svc, repo := newService(t, clockNow)
	a := seed(repo, utc(2026, 3, 1, 9, 0), 30, appointment.StatusScheduled, 5)

	res, err := svc.MoveAppointment(ctx, scheduling.MoveRequest{
		AppointmentID:   a.ID,
		NewStart:        utc(2026, 3, 1, 9, 30),
		ExpectedVersion: 5,
		MovedBy:         staffID,
	})
	if err != nil {
		t.Fatalf("MoveAppointment: %v", err)
	}
	if res.NewVersion != 6 {
		t.Errorf("new version = %d, want 6", res.NewVersion)
	}
	if !res.EndsAt.Equal(utc(2026, 3, 1, 10, 0)) {
		t.Errorf("ends at = %s", res.EndsAt)
	}

	got := load(t, repo, a.ID)
	if !got.ScheduledAt.Equal(utc(2026, 3, 1, 9, 30)) || got.Version != 6 {
		t.Errorf("stored = %s v%d", got.ScheduledAt, got.Version)
	}
	if got.AppointmentTime != "09:30" || got.AppointmentDate != "2026-03-01" {
		t.Errorf("legacy fields = %s %s", got.AppointmentDate, got.AppointmentTime)
	}

	events := repo.Events()
	if len(events) != 1 || events[0].EventType != scheduling.EventAppointmentMoved {
		t.Fatalf("events = %v", repo.EventTypes())
	}
	if events[0].ActorID == nil || *events[0].ActorID != staffID {
		t.Errorf("event actor = %v", events[0].ActorID)
	}
}

func TestMoveAppointment_StaleSecondClient(t *testing.T) {
	ctx := context.Background()
	svc, repo := newService(t, clockNow)
	a := seed(repo, utc(2026, 3, 1, 9, 0), 30, appointment.StatusScheduled, 5)

	if _, err := svc.MoveAppointment(ctx, scheduling.MoveRequest{AppointmentID: a.ID, NewStart: utc(2026, 3, 1, 9, 30), ExpectedVersion: 5}); err != nil {
		t.Fatalf("first move: %v", err)
	}

	_, err := svc.MoveAppointment(ctx, scheduling.MoveRequest{AppointmentID: a.ID, NewStart: utc(2026, 3, 1, 11, 0), ExpectedVersion: 5})
	var vc *scheduling.VersionConflictError
	if !errors.As(err, &vc) {
		t.Fatalf("expected VersionConflictError, got %v", err)
	}
	if vc.Expected != 5 || vc.Actual != 6 {
		t.Errorf("conflict = %+v", vc)
	}
	if !scheduling.KindOf(err).Retryable() {
		t.Error("version conflict must be retryable")
	}
	if got := load(t, repo, a.ID); !got.ScheduledAt.Equal(utc(2026, 3, 1, 9, 30)) {
		t.Errorf("second move leaked: %s", got.ScheduledAt)
	}
}

func TestMoveAppointment_VersionGateWritesNothing(t *testing.T) {
	ctx := context.Background()
	svc, repo := newService(t, clockNow)
	a := seed(repo, utc(2026, 3, 1, 9, 0), 30, appointment.StatusScheduled, 3)

	for _, start := range []time.Time{utc(2026, 3, 1, 10, 0), utc(2026, 3, 2, 9, 0), utc(2026, 4, 1, 12, 15)} {
		_, err := svc.MoveAppointment(ctx, scheduling.MoveRequest{AppointmentID: a.ID, NewStart: start, ExpectedVersion: 2})
		if !errors.Is(err, scheduling.ErrVersionConflict) {
			t.Fatalf("move to %s: expected version conflict, got %v", start, err)
		}
	}
	got := load(t, repo, a.ID)
	if got.Version != 3 || !got.ScheduledAt.Equal(a.ScheduledAt) {
		t.Errorf("appointment changed: v%d %s", got.Version, got.ScheduledAt)
	}
	if n := len(repo.Events()); n != 0 {
		t.Errorf("events written: %d", n)
	}
}

func TestMoveAppointment_BookingConflict(t *testing.T) {
	ctx := context.Background()
	svc, repo := newService(t, clockNow)
	b := seed(repo, utc(2026, 3, 1, 9, 0), 30, appointment.StatusConfirmed, 1)
	c := seed(repo, utc(2026, 3, 1, 11, 0), 30, appointment.StatusScheduled, 1)

	_, err := svc.MoveAppointment(ctx, scheduling.MoveRequest{AppointmentID: c.ID, NewStart: utc(2026, 3, 1, 9, 15), ExpectedVersion: 1})
	var bc *scheduling.BookingConflictError
	if !errors.As(err, &bc) {
		t.Fatalf("expected BookingConflictError, got %v", err)
	}
	if !slices.Equal(bc.AppointmentIDs, []int64{b.ID}) {
		t.Errorf("conflicting ids = %v, want [%d]", bc.AppointmentIDs, b.ID)
	}

	// Back-to-back is not a conflict.
	if _, err := svc.MoveAppointment(ctx, scheduling.MoveRequest{AppointmentID: c.ID, NewStart: utc(2026, 3, 1, 9, 30), ExpectedVersion: 1}); err != nil {
		t.Fatalf("adjacent move: %v", err)
	}
}

func TestMoveAppointment_IgnoresSelfAndCancelled(t *testing.T) {
	ctx := context.Background()
	svc, repo := newService(t, clockNow)
	a := seed(repo, utc(2026, 3, 1, 9, 0), 60, appointment.StatusScheduled, 1)
	seed(repo, utc(2026, 3, 1, 9, 30), 30, appointment.StatusCancelled, 2)

	if _, err := svc.MoveAppointment(ctx, scheduling.MoveRequest{AppointmentID: a.ID, NewStart: utc(2026, 3, 1, 9, 15), ExpectedVersion: 1}); err != nil {
		t.Fatalf("move overlapping only itself and a cancelled booking: %v", err)
	}
}

func TestMoveAppointment_Buffer(t *testing.T) {
	ctx := context.Background()
	svc, repo := newService(t, clockNow, func(c *config.Config) { c.BufferMinutes = 10 })
	b := seed(repo, utc(2026, 3, 1, 9, 0), 30, appointment.StatusScheduled, 1)
	c := seed(repo, utc(2026, 3, 1, 13, 0), 30, appointment.StatusScheduled, 1)

	_, err := svc.MoveAppointment(ctx, scheduling.MoveRequest{AppointmentID: c.ID, NewStart: utc(2026, 3, 1, 9, 35), ExpectedVersion: 1})
	var bc *scheduling.BookingConflictError
	if !errors.As(err, &bc) || bc.AppointmentIDs[0] != b.ID {
		t.Fatalf("expected buffer conflict with %d, got %v", b.ID, err)
	}
	if _, err := svc.MoveAppointment(ctx, scheduling.MoveRequest{AppointmentID: c.ID, NewStart: utc(2026, 3, 1, 9, 40), ExpectedVersion: 1}); err != nil {
		t.Fatalf("move after buffer: %v", err)
	}
}

func TestMoveAppointment_Overbooking(t *testing.T) {
	ctx := context.Background()
	svc, repo := newService(t, clockNow, func(c *config.Config) { c.MaxConcurrentBookings = 2 })
	seed(repo, utc(2026, 3, 1, 9, 0), 30, appointment.StatusScheduled, 1)
	c := seed(repo, utc(2026, 3, 1, 12, 0), 30, appointment.StatusScheduled, 1)
	d := seed(repo, utc(2026, 3, 1, 13, 0), 30, appointment.StatusScheduled, 1)

	if _, err := svc.MoveAppointment(ctx, scheduling.MoveRequest{AppointmentID: c.ID, NewStart: utc(2026, 3, 1, 9, 0), ExpectedVersion: 1}); err != nil {
		t.Fatalf("second booking at the same time: %v", err)
	}
	_, err := svc.MoveAppointment(ctx, scheduling.MoveRequest{AppointmentID: d.ID, NewStart: utc(2026, 3, 1, 9, 15), ExpectedVersion: 1})
	if !errors.Is(err, scheduling.ErrBookingConflict) {
		t.Fatalf("third stacked booking: expected conflict, got %v", err)
	}
}

func TestMoveAppointment_Rejections(t *testing.T) {
	ctx := context.Background()
	svc, repo := newService(t, clockNow)
	done := seed(repo, utc(2026, 3, 1, 9, 0), 30, appointment.StatusCompleted, 4)
	live := seed(repo, utc(2026, 3, 2, 9, 0), 30, appointment.StatusScheduled, 1)

	tests := []struct {
		name string
		req  scheduling.MoveRequest
		want scheduling.Kind
	}{
		{"terminal status", scheduling.MoveRequest{AppointmentID: done.ID, NewStart: utc(2026, 3, 3, 9, 0), ExpectedVersion: 4}, scheduling.KindInvalidTransition},
		{"in the past", scheduling.MoveRequest{AppointmentID: live.ID, NewStart: utc(2026, 1, 1, 9, 0), ExpectedVersion: 1}, scheduling.KindValidation},
		{"missing version", scheduling.MoveRequest{AppointmentID: live.ID, NewStart: utc(2026, 3, 3, 9, 0)}, scheduling.KindValidation},
		{"missing start", scheduling.MoveRequest{AppointmentID: live.ID, ExpectedVersion: 1}, scheduling.KindValidation},
		{"unknown appointment", scheduling.MoveRequest{AppointmentID: 999, NewStart: utc(2026, 3, 3, 9, 0), ExpectedVersion: 1}, scheduling.KindNotFound},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := svc.MoveAppointment(ctx, tt.req)
			if got := scheduling.KindOf(err); got != tt.want {
				t.Fatalf("kind = %q (%v), want %q", got, err, tt.want)
			}
		})
	}
}

func TestMoveAppointment_WorkingHours(t *testing.T) {
	ctx := context.Background()
	svc, repo := newService(t, clockNow, func(c *config.Config) { c.RequireWorkingHours = true })
	a := seed(repo, utc(2026, 3, 2, 9, 0), 30, appointment.StatusScheduled, 1)

	// 2026-03-01 is a Sunday.
	if _, err := svc.UpdateAvailability(ctx, scheduling.UpdateAvailabilityRequest{
		DoctorID:     doctorID,
		TemplateName: "default",
		Slots: []availability.Slot{
			{DayOfWeek: 0, Start: slot.MustParseTimeOfDay("09:00"), End: slot.MustParseTimeOfDay("12:00")},
		},
	}); err != nil {
		t.Fatalf("UpdateAvailability: %v", err)
	}

	_, err := svc.MoveAppointment(ctx, scheduling.MoveRequest{AppointmentID: a.ID, NewStart: utc(2026, 3, 1, 13, 0), ExpectedVersion: 1})
	if scheduling.KindOf(err) != scheduling.KindValidation {
		t.Fatalf("outside hours: expected validation error, got %v", err)
	}
	if _, err := svc.MoveAppointment(ctx, scheduling.MoveRequest{AppointmentID: a.ID, NewStart: utc(2026, 3, 1, 11, 30), ExpectedVersion: 1}); err != nil {
		t.Fatalf("inside hours: %v", err)
	}
}

func TestMoveAppointment_RollsBackWhenEventFails(t *testing.T) {
	ctx := context.Background()
	svc, repo := newService(t, clockNow)
	a := seed(repo, utc(2026, 3, 1, 9, 0), 30, appointment.StatusScheduled, 1)
	repo.FailInsertEvent = errors.New("disk full")

	_, err := svc.MoveAppointment(ctx, scheduling.MoveRequest{AppointmentID: a.ID, NewStart: utc(2026, 3, 1, 10, 0), ExpectedVersion: 1})
	if scheduling.KindOf(err) != scheduling.KindInternal {
		t.Fatalf("expected internal error, got %v", err)
	}
	got := load(t, repo, a.ID)
	if got.Version != 1 || !got.ScheduledAt.Equal(a.ScheduledAt) {
		t.Errorf("partial write: v%d %s", got.Version, got.ScheduledAt)
	}
}

func TestBookAppointment(t *testing.T) {
	ctx := context.Background()
	svc, repo := newService(t, clockNow)
	existing := seed(repo, utc(2026, 3, 1, 9, 0), 30, appointment.StatusScheduled, 1)

	a, err := svc.BookAppointment(ctx, scheduling.BookRequest{
		PatientID:       patientID,
		DoctorID:        doctorID,
		Start:           utc(2026, 3, 1, 9, 30),
		DurationMinutes: 20,
	})
	if err != nil {
		t.Fatalf("BookAppointment: %v", err)
	}
	if a.Status != appointment.StatusPending || a.Version != 1 || a.ID == 0 {
		t.Errorf("booked = %+v", a)
	}

	_, err = svc.BookAppointment(ctx, scheduling.BookRequest{
		PatientID:       patientID,
		DoctorID:        doctorID,
		Start:           utc(2026, 3, 1, 8, 45),
		DurationMinutes: 30,
		Direct:          true,
	})
	var bc *scheduling.BookingConflictError
	if !errors.As(err, &bc) || bc.AppointmentIDs[0] != existing.ID {
		t.Fatalf("expected conflict with %d, got %v", existing.ID, err)
	}

	_, err = svc.BookAppointment(ctx, scheduling.BookRequest{PatientID: patientID, DoctorID: doctorID, Start: utc(2026, 3, 1, 12, 0)})
	if scheduling.KindOf(err) != scheduling.KindValidation {
		t.Fatalf("zero duration: got %v", err)
	}
}

func TestDecideAppointment(t *testing.T) {
	ctx := context.Background()
	svc, repo := newService(t, clockNow)

	t.Run("confirm", func(t *testing.T) {
		a := seed(repo, utc(2026, 3, 1, 9, 0), 30, appointment.StatusPending, 1)
		sum, err := svc.ConfirmAppointment(ctx, scheduling.DecisionRequest{AppointmentID: a.ID, ActorID: doctorID, Method: appointment.ConfirmPhone})
		if err != nil {
			t.Fatalf("confirm: %v", err)
		}
		if sum.Status != appointment.StatusConfirmed || sum.Version != 2 || sum.Confirmation == nil {
			t.Fatalf("summary = %+v", sum)
		}
		if sum.Confirmation.Method != appointment.ConfirmPhone {
			t.Errorf("method = %s", sum.Confirmation.Method)
		}

		_, err = svc.RejectAppointment(ctx, scheduling.DecisionRequest{AppointmentID: a.ID, ActorID: doctorID, RejectionReason: appointment.RejectConflict})
		var te *appointment.TransitionError
		if !errors.As(err, &te) || te.From != appointment.StatusConfirmed {
			t.Fatalf("reject after confirm: %v", err)
		}
		if got := load(t, repo, a.ID); got.Rejection != nil {
			t.Error("confirmed appointment gained a rejection")
		}
	})

	t.Run("reject", func(t *testing.T) {
		a := seed(repo, utc(2026, 3, 1, 10, 0), 30, appointment.StatusPending, 1)
		suggested := utc(2026, 3, 2, 10, 0)
		sum, err := svc.DecideAppointment(ctx, scheduling.DecisionRequest{
			AppointmentID:   a.ID,
			Action:          scheduling.ActionReject,
			ActorID:         doctorID,
			RejectionReason: appointment.RejectUnavailable,
			SuggestedStart:  &suggested,
		})
		if err != nil {
			t.Fatalf("reject: %v", err)
		}
		if sum.Status != appointment.StatusCancelled || sum.Rejection == nil || sum.Confirmation != nil {
			t.Fatalf("summary = %+v", sum)
		}
		if len(sum.ValidNextStates) != 0 {
			t.Errorf("cancelled has next states %v", sum.ValidNextStates)
		}
	})

	t.Run("invalid input", func(t *testing.T) {
		a := seed(repo, utc(2026, 3, 1, 11, 0), 30, appointment.StatusPending, 1)
		tests := []scheduling.DecisionRequest{
			{AppointmentID: a.ID, Action: "maybe", ActorID: doctorID},
			{AppointmentID: a.ID, Action: scheduling.ActionReject, ActorID: doctorID, RejectionReason: appointment.RejectOther},
			{AppointmentID: a.ID, Action: scheduling.ActionConfirm},
		}
		for _, req := range tests {
			if _, err := svc.DecideAppointment(ctx, req); scheduling.KindOf(err) != scheduling.KindValidation {
				t.Errorf("%+v: got %v", req, err)
			}
		}
		if got := load(t, repo, a.ID); got.Version != 1 {
			t.Errorf("invalid decisions wrote v%d", got.Version)
		}
	})
}

func TestLifecycle(t *testing.T) {
	ctx := context.Background()
	now := utc(2026, 3, 1, 9, 7)
	svc, repo := newService(t, now)
	a := seed(repo, utc(2026, 3, 1, 9, 0), 30, appointment.StatusConfirmed, 1)
	req := scheduling.LifecycleRequest{AppointmentID: a.ID, ActorID: staffID}

	sum, err := svc.CheckInPatient(ctx, req)
	if err != nil {
		t.Fatalf("check in: %v", err)
	}
	if sum.CheckIn == nil || sum.CheckIn.MinutesLate != 7 || sum.CheckIn.Method != appointment.CheckInFrontDesk {
		t.Fatalf("check-in = %+v", sum.CheckIn)
	}

	steps := []struct {
		name string
		fn   func(context.Context, scheduling.LifecycleRequest) (*scheduling.Summary, error)
		want appointment.Status
	}{
		{"ready", svc.MarkReadyForConsultation, appointment.StatusReadyForConsultation},
		{"start", svc.StartConsultation, appointment.StatusInConsultation},
		{"complete", svc.CompleteAppointment, appointment.StatusCompleted},
	}
	for _, step := range steps {
		sum, err := step.fn(ctx, req)
		if err != nil {
			t.Fatalf("%s: %v", step.name, err)
		}
		if sum.Status != step.want {
			t.Fatalf("%s: status %s, want %s", step.name, sum.Status, step.want)
		}
	}

	_, err = svc.CancelAppointment(ctx, scheduling.LifecycleRequest{AppointmentID: a.ID, ActorID: staffID, Reason: "patient asked"})
	if scheduling.KindOf(err) != scheduling.KindInvalidTransition {
		t.Fatalf("cancel completed: %v", err)
	}
	got := load(t, repo, a.ID)
	if got.Status != appointment.StatusCompleted || got.Version != 5 {
		t.Errorf("final = %s v%d", got.Status, got.Version)
	}

	want := []string{
		scheduling.EventAppointmentCheckedIn,
		scheduling.EventAppointmentReady,
		scheduling.EventConsultationStarted,
		scheduling.EventAppointmentCompleted,
	}
	if !slices.Equal(repo.EventTypes(), want) {
		t.Errorf("events = %v", repo.EventTypes())
	}
}

func TestLifecycle_ManualNoShowAndCancel(t *testing.T) {
	ctx := context.Background()
	svc, repo := newService(t, utc(2026, 3, 1, 9, 20))
	past := seed(repo, utc(2026, 3, 1, 9, 0), 30, appointment.StatusScheduled, 1)
	future := seed(repo, utc(2026, 3, 1, 11, 0), 30, appointment.StatusScheduled, 1)

	sum, err := svc.MarkNoShow(ctx, scheduling.LifecycleRequest{AppointmentID: past.ID, ActorID: staffID})
	if err != nil {
		t.Fatalf("no-show: %v", err)
	}
	if sum.NoShow == nil || sum.NoShow.Automatic || *sum.NoShow.MarkedBy != staffID {
		t.Fatalf("no-show = %+v", sum.NoShow)
	}
	if _, err := svc.CheckInPatient(ctx, scheduling.LifecycleRequest{AppointmentID: past.ID, ActorID: staffID}); scheduling.KindOf(err) != scheduling.KindInvalidTransition {
		t.Fatalf("check in after no-show: %v", err)
	}

	if _, err := svc.MarkNoShow(ctx, scheduling.LifecycleRequest{AppointmentID: future.ID, ActorID: staffID}); scheduling.KindOf(err) != scheduling.KindValidation {
		t.Fatalf("no-show before start: %v", err)
	}
	if _, err := svc.CancelAppointment(ctx, scheduling.LifecycleRequest{AppointmentID: future.ID}); scheduling.KindOf(err) != scheduling.KindValidation {
		t.Fatalf("cancel without actor: %v", err)
	}
	sum, err = svc.CancelAppointment(ctx, scheduling.LifecycleRequest{AppointmentID: future.ID, ActorID: staffID, Reason: "  sick  ", ExpectedVersion: 1})
	if err != nil {
		t.Fatalf("cancel: %v", err)
	}
	if sum.CancellationReason != "sick" {
		t.Errorf("reason = %q", sum.CancellationReason)
	}
}

func TestSweepNoShows(t *testing.T) {
	ctx := context.Background()
	svc, repo := newService(t, utc(2026, 3, 1, 10, 0))
	late := seed(repo, utc(2026, 3, 1, 9, 0), 30, appointment.StatusConfirmed, 2)
	grace := seed(repo, utc(2026, 3, 1, 9, 50), 30, appointment.StatusScheduled, 1)
	arrived := seed(repo, utc(2026, 3, 1, 9, 0), 30, appointment.StatusCheckedIn, 3)

	res, err := svc.SweepNoShows(ctx)
	if err != nil {
		t.Fatalf("SweepNoShows: %v", err)
	}
	if res.Examined != 1 || res.Marked != 1 || res.Skipped != 0 || res.Failed != 0 {
		t.Fatalf("result = %+v", res)
	}

	got := load(t, repo, late.ID)
	if got.Status != appointment.StatusNoShow || got.NoShow == nil || !got.NoShow.Automatic {
		t.Fatalf("late = %s %+v", got.Status, got.NoShow)
	}
	if got.StatusChangedBy != nil || got.NoShow.GraceMinutes != 15 {
		t.Errorf("automatic no-show = by %v grace %d", got.StatusChangedBy, got.NoShow.GraceMinutes)
	}
	if load(t, repo, grace.ID).Status != appointment.StatusScheduled {
		t.Error("appointment inside the grace window was marked")
	}
	if load(t, repo, arrived.ID).Status != appointment.StatusCheckedIn {
		t.Error("checked-in appointment was marked")
	}

	res, err = svc.SweepNoShows(ctx)
	if err != nil || res.Examined != 0 {
		t.Fatalf("second sweep = %+v, %v", res, err)
	}
}

func TestGetDoctorSchedule(t *testing.T) {
	ctx := context.Background()
	repo := schedulingtest.New()
	cache := schedulingtest.NewCache()
	cfg := config.Default()
	svc := scheduling.NewService(repo, cfg,
		scheduling.WithClock(scheduling.FixedClock(clockNow)),
		scheduling.WithCache(cache))

	if _, err := svc.UpdateAvailability(ctx, scheduling.UpdateAvailabilityRequest{
		DoctorID:     doctorID,
		TemplateName: "default",
		Slots: []availability.Slot{
			{DayOfWeek: 0, Start: slot.MustParseTimeOfDay("09:00"), End: slot.MustParseTimeOfDay("12:00")},
			{DayOfWeek: 1, Start: slot.MustParseTimeOfDay("13:00"), End: slot.MustParseTimeOfDay("17:00"), Type: availability.SlotSurgery},
		},
	}); err != nil {
		t.Fatalf("UpdateAvailability: %v", err)
	}
	day := utc(2026, 3, 2, 0, 0)
	if _, err := svc.CreateOverride(ctx, scheduling.CreateOverrideRequest{DoctorID: doctorID, StartDate: day, EndDate: day, IsBlocked: true, Reason: "training"}); err != nil {
		t.Fatalf("CreateOverride: %v", err)
	}
	seed(repo, utc(2026, 3, 1, 9, 0), 30, appointment.StatusScheduled, 1)

	start, end := utc(2026, 3, 1, 0, 0), utc(2026, 3, 3, 0, 0)
	sched, err := svc.GetDoctorSchedule(ctx, doctorID, start, end)
	if err != nil {
		t.Fatalf("GetDoctorSchedule: %v", err)
	}
	if len(sched.WorkingDays) != 2 || len(sched.Appointments) != 1 || len(sched.Overrides) != 1 {
		t.Fatalf("schedule = %d days, %d appointments, %d overrides", len(sched.WorkingDays), len(sched.Appointments), len(sched.Overrides))
	}
	if !sched.WorkingDays[0].Open() || sched.WorkingDays[1].Open() {
		t.Errorf("open = %v, %v", sched.WorkingDays[0].Open(), sched.WorkingDays[1].Open())
	}
	if sched.WorkingDays[1].Source != availability.SourceClosed {
		t.Errorf("override day source = %s", sched.WorkingDays[1].Source)
	}

	cached, err := svc.GetDoctorSchedule(ctx, doctorID, start, end)
	if err != nil {
		t.Fatalf("cached read: %v", err)
	}
	if cache.Hits != 1 || len(cached.Appointments) != 1 {
		t.Errorf("hits = %d, appointments = %d", cache.Hits, len(cached.Appointments))
	}

	if _, err := svc.CreateBlock(ctx, scheduling.CreateBlockRequest{
		DoctorID: doctorID, Start: utc(2026, 3, 1, 11, 0), End: utc(2026, 3, 1, 12, 0), Type: availability.BlockAdmin,
	}); err != nil {
		t.Fatalf("CreateBlock: %v", err)
	}
	fresh, err := svc.GetDoctorSchedule(ctx, doctorID, start, end)
	if err != nil {
		t.Fatalf("read after block: %v", err)
	}
	if len(fresh.Blocks) != 1 || cache.Hits != 1 {
		t.Errorf("stale schedule served: blocks %d hits %d", len(fresh.Blocks), cache.Hits)
	}

	if _, err := svc.GetDoctorSchedule(ctx, doctorID, end, start); scheduling.KindOf(err) != scheduling.KindValidation {
		t.Errorf("reversed range: %v", err)
	}
}

func TestUpdateAvailability(t *testing.T) {
	ctx := context.Background()
	svc, repo := newService(t, clockNow)

	_, err := svc.UpdateAvailability(ctx, scheduling.UpdateAvailabilityRequest{
		DoctorID:     doctorID,
		TemplateName: "default",
		Slots: []availability.Slot{
			{DayOfWeek: 1, Start: slot.MustParseTimeOfDay("09:00"), End: slot.MustParseTimeOfDay("12:00")},
			{DayOfWeek: 1, Start: slot.MustParseTimeOfDay("11:00"), End: slot.MustParseTimeOfDay("13:00")},
		},
	})
	var ve *scheduling.ValidationError
	if !errors.As(err, &ve) {
		t.Fatalf("overlapping slots: %v", err)
	}
	if _, err := repo.GetActiveTemplate(ctx, doctorID); !errors.Is(err, scheduling.ErrNotFound) {
		t.Fatalf("template created by a rejected update: %v", err)
	}

	tmpl, err := svc.UpdateAvailability(ctx, scheduling.UpdateAvailabilityRequest{
		DoctorID:     doctorID,
		TemplateName: "default",
		Slots: []availability.Slot{
			{DayOfWeek: 1, Start: slot.MustParseTimeOfDay("09:00"), End: slot.MustParseTimeOfDay("12:00")},
		},
	})
	if err != nil {
		t.Fatalf("UpdateAvailability: %v", err)
	}
	if !tmpl.IsActive || len(tmpl.Slots) != 1 || tmpl.Slots[0].Type != availability.SlotClinic {
		t.Fatalf("template = %+v", tmpl)
	}

	repo.FailInsertEvent = errors.New("disk full")
	if _, err := svc.UpdateAvailability(ctx, scheduling.UpdateAvailabilityRequest{DoctorID: doctorID, TemplateName: "default"}); err == nil {
		t.Fatal("expected failure")
	}
	got, err := repo.GetActiveTemplate(ctx, doctorID)
	if err != nil || len(got.Slots) != 1 {
		t.Fatalf("failed replace left %v slots (%v)", got, err)
	}
}

func TestFindAvailableSlots(t *testing.T) {
	ctx := context.Background()
	svc, repo := newService(t, clockNow)

	if _, err := svc.UpdateAvailability(ctx, scheduling.UpdateAvailabilityRequest{
		DoctorID:     doctorID,
		TemplateName: "default",
		Slots: []availability.Slot{
			{DayOfWeek: 0, Start: slot.MustParseTimeOfDay("09:00"), End: slot.MustParseTimeOfDay("11:00")},
		},
	}); err != nil {
		t.Fatalf("UpdateAvailability: %v", err)
	}
	seed(repo, utc(2026, 3, 1, 9, 45), 30, appointment.StatusConfirmed, 1)
	if _, err := svc.CreateBlock(ctx, scheduling.CreateBlockRequest{
		DoctorID: doctorID, Start: utc(2026, 3, 1, 10, 45), End: utc(2026, 3, 1, 11, 0), Type: availability.BlockAdmin,
	}); err != nil {
		t.Fatalf("CreateBlock: %v", err)
	}

	got, err := svc.FindAvailableSlots(ctx, scheduling.SlotSearch{
		DoctorID:        doctorID,
		From:            utc(2026, 3, 1, 0, 0),
		To:              utc(2026, 3, 2, 0, 0),
		DurationMinutes: 30,
	})
	if err != nil {
		t.Fatalf("FindAvailableSlots: %v", err)
	}
	var starts []string
	for _, w := range got {
		starts = append(starts, w.Start().Format("15:04"))
	}
	if want := []string{"09:00", "09:15", "10:15"}; !slices.Equal(starts, want) {
		t.Errorf("starts = %v, want %v", starts, want)
	}

	_, err = svc.FindAvailableSlots(ctx, scheduling.SlotSearch{
		DoctorID: doctorID, From: utc(2026, 3, 1, 0, 0), To: utc(2026, 3, 20, 0, 0), DurationMinutes: 30,
	})
	if scheduling.KindOf(err) != scheduling.KindValidation {
		t.Errorf("oversized range: %v", err)
	}
}

func TestNextAvailableSlot(t *testing.T) {
	ctx := context.Background()
	svc, repo := newService(t, clockNow)

	if _, err := svc.UpdateAvailability(ctx, scheduling.UpdateAvailabilityRequest{
		DoctorID:     doctorID,
		TemplateName: "default",
		Slots: []availability.Slot{
			{DayOfWeek: 0, Start: slot.MustParseTimeOfDay("09:00"), End: slot.MustParseTimeOfDay("10:00")},
			{DayOfWeek: 1, Start: slot.MustParseTimeOfDay("09:00"), End: slot.MustParseTimeOfDay("10:00")},
		},
	}); err != nil {
		t.Fatalf("UpdateAvailability: %v", err)
	}
	seed(repo, utc(2026, 3, 1, 9, 0), 60, appointment.StatusScheduled, 1)
	if _, err := svc.CreateBlock(ctx, scheduling.CreateBlockRequest{
		DoctorID: doctorID, Start: utc(2026, 3, 2, 9, 0), End: utc(2026, 3, 2, 9, 30), Type: availability.BlockSurgery,
	}); err != nil {
		t.Fatalf("CreateBlock: %v", err)
	}

	w, err := svc.NextAvailableSlot(ctx, doctorID, utc(2026, 3, 1, 8, 0), 30)
	if err != nil {
		t.Fatalf("NextAvailableSlot: %v", err)
	}
	if w == nil || !w.Start().Equal(utc(2026, 3, 2, 9, 30)) {
		t.Fatalf("next = %v, want 2026-03-02 09:30", w)
	}

	w, err = svc.NextAvailableSlot(ctx, doctorID, utc(2026, 3, 1, 8, 0), 90)
	if err != nil || w != nil {
		t.Fatalf("oversized request = %v, %v", w, err)
	}
}

func TestUtilization(t *testing.T) {
	ctx := context.Background()
	svc, repo := newService(t, clockNow)
	seed(repo, utc(2026, 3, 1, 9, 0), 30, appointment.StatusScheduled, 1)
	seed(repo, utc(2026, 3, 1, 9, 15), 30, appointment.StatusScheduled, 1)

	busy, err := svc.Utilization(ctx, doctorID, utc(2026, 3, 1, 9, 0), utc(2026, 3, 1, 10, 0))
	if err != nil {
		t.Fatalf("Utilization: %v", err)
	}
	if busy.BusyMinutes != 45 || busy.FreeMinutes != 15 {
		t.Errorf("busy = %+v", busy)
	}
}

func TestValidNextStates(t *testing.T) {
	ctx := context.Background()
	svc, repo := newService(t, clockNow)
	for _, st := range []appointment.Status{appointment.StatusCompleted, appointment.StatusNoShow, appointment.StatusCancelled} {
		a := seed(repo, utc(2026, 3, 1, 9, 0), 30, st, 1)
		next, err := svc.ValidNextStates(ctx, a.ID)
		if err != nil {
			t.Fatalf("%s: %v", st, err)
		}
		if len(next) != 0 {
			t.Errorf("%s: next = %v", st, next)
		}
	}
	if _, err := svc.ValidNextStates(ctx, 404); !errors.Is(err, scheduling.ErrNotFound) {
		t.Errorf("missing appointment: %v", err)
	}
}
