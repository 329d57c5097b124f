package scheduling

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/hackgods/clinic-scheduling/internal/appointment"
	"github.com/hackgods/clinic-scheduling/internal/availability"
	"github.com/hackgods/clinic-scheduling/internal/config"
	"github.com/hackgods/clinic-scheduling/internal/metrics"
	"github.com/hackgods/clinic-scheduling/internal/slot"
)

const tracerName = "github.com/hackgods/clinic-scheduling/internal/scheduling"

// MaxScheduleRange bounds a single calendar read.
const MaxScheduleRange = 93 * 24 * time.Hour

const defaultSweepBatch = 100

type Service struct {
	repo    Repository
	cfg     config.Config
	clock   Clock
	cache   ScheduleCache
	log     *zap.Logger
	metrics *metrics.Collector
	tracer  trace.Tracer
}

type Option func(*Service)

func WithClock(c Clock) Option {
	return func(s *Service) { s.clock = c }
}

func WithCache(c ScheduleCache) Option {
	return func(s *Service) { s.cache = c }
}

func WithLogger(l *zap.Logger) Option {
	return func(s *Service) { s.log = l }
}

func WithMetrics(m *metrics.Collector) Option {
	return func(s *Service) { s.metrics = m }
}

func NewService(repo Repository, cfg config.Config, opts ...Option) *Service {
	s := &Service{
		repo:   repo,
		cfg:    cfg,
		clock:  SystemClock{},
		cache:  noopCache{},
		log:    zap.NewNop(),
		tracer: otel.Tracer(tracerName),
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.cfg.Location == nil {
		s.cfg.Location = time.UTC
	}
	if s.cfg.SearchStepMinutes <= 0 {
		s.cfg.SearchStepMinutes = 15
	}
	return s
}

// mutation changes a loaded appointment in memory and names the event to record.
type mutation func(ctx context.Context, tx Repository, a *appointment.Appointment, now time.Time) (event string, payload map[string]any, err error)

// mutate is the single write path for existing appointments: load, version gate,
// change, conditional update, audit event. All of it runs in one transaction.
// expected <= 0 skips the caller gate but the write is still conditioned on the
// version that was loaded.
func (s *Service) mutate(ctx context.Context, id int64, expected int, actor *uuid.UUID, fn mutation) (*appointment.Appointment, error) {
	var updated *appointment.Appointment

	err := s.repo.Atomic(ctx, func(tx Repository) error {
		a, err := tx.GetAppointment(ctx, id)
		if err != nil {
			return fmt.Errorf("load appointment: %w", err)
		}
		if expected > 0 && a.Version != expected {
			return &VersionConflictError{AppointmentID: id, Expected: expected, Actual: a.Version}
		}
		loaded := a.Version
		now := s.clock.Now()

		event, payload, err := fn(ctx, tx, a, now)
		if err != nil {
			return err
		}

		a.UpdatedAt = now
		version, err := tx.UpdateAppointment(ctx, a, loaded)
		if err != nil {
			return fmt.Errorf("update appointment: %w", err)
		}
		a.Version = version

		if err := s.logEvent(ctx, tx, event, &a.ID, a.DoctorID, actor, now, payload); err != nil {
			return err
		}
		updated = a
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.invalidate(ctx, updated.DoctorID)
	return updated, nil
}

// MoveAppointment reschedules an appointment after checking, in order: the caller's
// version, the candidate window, hard blocks, other bookings and, when required,
// working hours.
func (s *Service) MoveAppointment(ctx context.Context, req MoveRequest) (res *MoveResult, err error) {
	ctx, done := s.begin(ctx, "move_appointment", attribute.Int64("appointment.id", req.AppointmentID))
	defer func() { done(err) }()

	var problems []string
	if req.ExpectedVersion <= 0 {
		problems = append(problems, "expected_version must be positive")
	}
	if req.NewStart.IsZero() {
		problems = append(problems, "new_start_time is required")
	}
	if len(problems) > 0 {
		return nil, invalid(problems...)
	}

	a, err := s.mutate(ctx, req.AppointmentID, req.ExpectedVersion, actorPtr(req.MovedBy),
		func(ctx context.Context, tx Repository, appt *appointment.Appointment, now time.Time) (string, map[string]any, error) {
			if appt.Status.IsTerminal() || appt.Status.IsInProgress() {
				return "", nil, fmt.Errorf("%w: status %s", appointment.ErrNotMovable, appt.Status)
			}

			candidate, err := slot.FromScheduled(req.NewStart, appt.DurationMinutes, s.windowOpts()...)
			if err != nil {
				return "", nil, err
			}
			if candidate.Start().Before(now) {
				return "", nil, invalid("new_start_time must not be in the past")
			}

			if err := s.checkCandidate(ctx, tx, appt.DoctorID, candidate, appt.ID); err != nil {
				return "", nil, err
			}

			from, _ := appt.StartTime()
			if err := appt.Reschedule(candidate.Start(), s.windowOpts()...); err != nil {
				return "", nil, err
			}
			if req.ResourceID != nil {
				appt.ResourceID = req.ResourceID
			}

			return EventAppointmentMoved, map[string]any{
				"from":             from,
				"to":               appt.ScheduledAt,
				"duration_minutes": appt.DurationMinutes,
				"expected_version": req.ExpectedVersion,
			}, nil
		})
	if err != nil {
		return nil, err
	}

	return &MoveResult{
		AppointmentID: a.ID,
		NewVersion:    a.Version,
		ScheduledAt:   a.ScheduledAt,
		EndsAt:        a.EndsAt(),
	}, nil
}

// BookAppointment creates an appointment after the same checks a move goes through.
func (s *Service) BookAppointment(ctx context.Context, req BookRequest) (out *appointment.Appointment, err error) {
	ctx, done := s.begin(ctx, "book_appointment", attribute.String("doctor.id", req.DoctorID.String()))
	defer func() { done(err) }()

	now := s.clock.Now()
	a, err := appointment.New(appointment.NewParams{
		PatientID:       req.PatientID,
		DoctorID:        req.DoctorID,
		ScheduledAt:     req.Start,
		DurationMinutes: req.DurationMinutes,
		Direct:          req.Direct,
		ResourceID:      req.ResourceID,
		Notes:           req.Notes,
		Now:             now,
		MaxDuration:     s.cfg.MaxSlotDuration,
	})
	if err != nil {
		return nil, err
	}
	candidate, err := a.SlotWindow()
	if err != nil {
		return nil, err
	}
	if candidate.Start().Before(now) {
		return nil, invalid("start_time must not be in the past")
	}

	err = s.repo.Atomic(ctx, func(tx Repository) error {
		if err := s.checkCandidate(ctx, tx, a.DoctorID, candidate, 0); err != nil {
			return err
		}
		created, err := tx.CreateAppointment(ctx, a)
		if err != nil {
			return fmt.Errorf("create appointment: %w", err)
		}
		out = created
		return s.logEvent(ctx, tx, EventAppointmentBooked, &created.ID, created.DoctorID, actorPtr(req.BookedBy), now, map[string]any{
			"patient_id":       created.PatientID,
			"scheduled_at":     created.ScheduledAt,
			"duration_minutes": created.DurationMinutes,
			"status":           created.Status,
		})
	})
	if err != nil {
		return nil, err
	}

	s.invalidate(ctx, out.DoctorID)
	return out, nil
}

type booked struct {
	id int64
	w  slot.Window
}

func (b booked) SlotWindow() slot.Window { return b.w }

// checkCandidate answers "can this doctor take this window". Blocks are checked
// first so they always win over booking conflicts.
func (s *Service) checkCandidate(ctx context.Context, tx Repository, doctorID uuid.UUID, candidate slot.Window, excludeID int64) error {
	blocks, err := tx.ListBlocks(ctx, doctorID, candidate.Start(), candidate.End())
	if err != nil {
		return fmt.Errorf("list blocks: %w", err)
	}
	if hits := slot.FindConflicts(candidate, blocks, 0); len(hits) > 0 {
		b := hits[0]
		return &BlockedError{BlockID: b.ID, Type: b.Type, Reason: b.Reason, Start: b.Start, End: b.End}
	}

	pad := time.Duration(max(s.cfg.BufferMinutes, 0)) * time.Minute
	existing, err := tx.ListActiveAppointments(ctx, doctorID, candidate.Start().Add(-pad), candidate.End().Add(pad))
	if err != nil {
		return fmt.Errorf("list appointments: %w", err)
	}
	occupants := s.occupants(existing, excludeID)

	if limit := s.cfg.MaxConcurrentBookings; limit > 1 {
		if slot.IsOverbookedAt(candidate, occupants, limit) {
			return &BookingConflictError{AppointmentIDs: idsOf(slot.FindConflicts(candidate, occupants, 0))}
		}
	} else if hits := slot.FindConflicts(candidate, occupants, s.cfg.BufferMinutes); len(hits) > 0 {
		return &BookingConflictError{AppointmentIDs: idsOf(hits)}
	}

	if s.cfg.RequireWorkingHours {
		return s.checkWorkingHours(ctx, tx, doctorID, candidate)
	}
	return nil
}

func (s *Service) checkWorkingHours(ctx context.Context, tx Repository, doctorID uuid.UUID, candidate slot.Window) error {
	tmpl, err := tx.GetActiveTemplate(ctx, doctorID)
	if err != nil && !errors.Is(err, ErrNotFound) {
		return fmt.Errorf("load template: %w", err)
	}
	if errors.Is(err, ErrNotFound) {
		tmpl = nil
	}
	day := slot.StartOfDay(candidate.Start().In(s.cfg.Location))
	overrides, err := tx.ListOverrides(ctx, doctorID, day, candidate.End())
	if err != nil {
		return fmt.Errorf("list overrides: %w", err)
	}

	plan := availability.ResolveDay(candidate.Start(), s.cfg.Location, tmpl, overrides)
	if !plan.Contains(candidate) {
		return invalid(fmt.Sprintf("requested time %s is outside the doctor's working hours", candidate))
	}
	return nil
}

func (s *Service) occupants(appts []appointment.Appointment, excludeID int64) []booked {
	out := make([]booked, 0, len(appts))
	for i := range appts {
		a := &appts[i]
		if a.ID == excludeID || a.Status == appointment.StatusCancelled {
			continue
		}
		w, err := a.SlotWindow()
		if err != nil {
			s.log.Warn("skipping appointment without a usable window",
				zap.Int64("appointment_id", a.ID), zap.Error(err))
			continue
		}
		out = append(out, booked{id: a.ID, w: w})
	}
	return out
}

func idsOf(hits []booked) []int64 {
	ids := make([]int64, len(hits))
	for i, h := range hits {
		ids[i] = h.id
	}
	return ids
}

// CreateBlock records a hard block. Overlapping blocks are allowed; existing
// appointments under the block are left alone and only reported.
func (s *Service) CreateBlock(ctx context.Context, req CreateBlockRequest) (out *availability.Block, err error) {
	ctx, done := s.begin(ctx, "create_block", attribute.String("doctor.id", req.DoctorID.String()))
	defer func() { done(err) }()

	now := s.clock.Now()
	b := availability.Block{
		DoctorID:  req.DoctorID,
		Start:     req.Start.UTC().Truncate(time.Millisecond),
		End:       req.End.UTC().Truncate(time.Millisecond),
		Type:      req.Type,
		Reason:    strings.TrimSpace(req.Reason),
		CreatedBy: req.CreatedBy,
		CreatedAt: now,
	}
	if err := b.Validate(); err != nil {
		return nil, err
	}

	err = s.repo.Atomic(ctx, func(tx Repository) error {
		created, err := tx.CreateBlock(ctx, b)
		if err != nil {
			return fmt.Errorf("create block: %w", err)
		}
		affected, err := tx.ListActiveAppointments(ctx, b.DoctorID, b.Start, b.End)
		if err != nil {
			return fmt.Errorf("list appointments: %w", err)
		}
		if len(affected) > 0 {
			s.log.Warn("block overlaps existing appointments",
				zap.String("block_id", created.ID.String()),
				zap.Int("appointments", len(affected)))
		}
		out = created
		return s.logEvent(ctx, tx, EventBlockCreated, nil, b.DoctorID, req.CreatedBy, now, map[string]any{
			"block_id":                 created.ID,
			"type":                     created.Type,
			"start":                    created.Start,
			"end":                      created.End,
			"reason":                   created.Reason,
			"overlapping_appointments": len(affected),
		})
	})
	if err != nil {
		return nil, err
	}

	s.invalidate(ctx, out.DoctorID)
	return out, nil
}

func (s *Service) CreateOverride(ctx context.Context, req CreateOverrideRequest) (out *availability.Override, err error) {
	ctx, done := s.begin(ctx, "create_override", attribute.String("doctor.id", req.DoctorID.String()))
	defer func() { done(err) }()

	now := s.clock.Now()
	o := availability.Override{
		DoctorID:  req.DoctorID,
		StartDate: availability.CivilDate(req.StartDate),
		EndDate:   availability.CivilDate(req.EndDate),
		IsBlocked: req.IsBlocked,
		Start:     req.Start,
		End:       req.End,
		Reason:    strings.TrimSpace(req.Reason),
		CreatedAt: now,
	}
	if err := o.Validate(); err != nil {
		return nil, err
	}

	err = s.repo.Atomic(ctx, func(tx Repository) error {
		created, err := tx.CreateOverride(ctx, o)
		if err != nil {
			return fmt.Errorf("create override: %w", err)
		}
		out = created
		return s.logEvent(ctx, tx, EventOverrideCreated, nil, o.DoctorID, req.CreatedBy, now, map[string]any{
			"override_id": created.ID,
			"start_date":  created.StartDate.Format(availability.DateLayout),
			"end_date":    created.EndDate.Format(availability.DateLayout),
			"is_blocked":  created.IsBlocked,
		})
	})
	if err != nil {
		return nil, err
	}

	s.invalidate(ctx, out.DoctorID)
	return out, nil
}

// UpdateAvailability replaces every slot of the named template in one transaction.
func (s *Service) UpdateAvailability(ctx context.Context, req UpdateAvailabilityRequest) (out *availability.Template, err error) {
	ctx, done := s.begin(ctx, "update_availability", attribute.String("doctor.id", req.DoctorID.String()))
	defer func() { done(err) }()

	name := strings.TrimSpace(req.TemplateName)
	var problems []string
	if req.DoctorID == uuid.Nil {
		problems = append(problems, "doctor_id is required")
	}
	if name == "" {
		problems = append(problems, "template_name is required")
	}
	if len(problems) > 0 {
		return nil, invalid(problems...)
	}

	slots := make([]availability.Slot, len(req.Slots))
	copy(slots, req.Slots)
	if err := availability.ValidateSlots(slots); err != nil {
		return nil, err
	}

	now := s.clock.Now()
	err = s.repo.Atomic(ctx, func(tx Repository) error {
		tmpl, err := tx.ReplaceTemplateSlots(ctx, req.DoctorID, name, slots)
		if err != nil {
			return fmt.Errorf("replace template slots: %w", err)
		}
		out = tmpl
		return s.logEvent(ctx, tx, EventAvailabilityReplaced, nil, req.DoctorID, req.UpdatedBy, now, map[string]any{
			"template_id": tmpl.ID,
			"name":        tmpl.Name,
			"slot_count":  len(tmpl.Slots),
		})
	})
	if err != nil {
		return nil, err
	}

	s.invalidate(ctx, req.DoctorID)
	return out, nil
}

// GetDoctorSchedule is a read-only fan-out used to render a calendar. No conflict
// logic runs here.
func (s *Service) GetDoctorSchedule(ctx context.Context, doctorID uuid.UUID, start, end time.Time) (out *Schedule, err error) {
	ctx, done := s.begin(ctx, "get_doctor_schedule", attribute.String("doctor.id", doctorID.String()))
	defer func() { done(err) }()

	if err := validateRange(doctorID, start, end, MaxScheduleRange); err != nil {
		return nil, err
	}

	key := fmt.Sprintf("%d-%d", start.UnixMilli(), end.UnixMilli())
	cached, gen, ok := s.cachedSchedule(ctx, doctorID, key)
	if ok {
		return cached, nil
	}

	sched, err := s.loadSchedule(ctx, s.repo, doctorID, start, end)
	if err != nil {
		return nil, err
	}
	s.storeSchedule(ctx, doctorID, key, gen, sched)
	return sched, nil
}

func validateRange(doctorID uuid.UUID, start, end time.Time, limit time.Duration) error {
	var problems []string
	if doctorID == uuid.Nil {
		problems = append(problems, "doctor_id is required")
	}
	if start.IsZero() || end.IsZero() || !start.Before(end) {
		problems = append(problems, "start must be before end")
	} else if end.Sub(start) > limit {
		problems = append(problems, fmt.Sprintf("range must not exceed %s", limit))
	}
	if len(problems) > 0 {
		return invalid(problems...)
	}
	return nil
}

func (s *Service) loadSchedule(ctx context.Context, repo Repository, doctorID uuid.UUID, start, end time.Time) (*Schedule, error) {
	tmpl, err := repo.GetActiveTemplate(ctx, doctorID)
	switch {
	case errors.Is(err, ErrNotFound):
		tmpl = nil
	case err != nil:
		return nil, fmt.Errorf("load template: %w", err)
	}

	overrides, err := repo.ListOverrides(ctx, doctorID, start, end)
	if err != nil {
		return nil, fmt.Errorf("list overrides: %w", err)
	}
	blocks, err := repo.ListBlocks(ctx, doctorID, start, end)
	if err != nil {
		return nil, fmt.Errorf("list blocks: %w", err)
	}
	appts, err := repo.ListActiveAppointments(ctx, doctorID, start, end)
	if err != nil {
		return nil, fmt.Errorf("list appointments: %w", err)
	}

	return &Schedule{
		DoctorID:     doctorID,
		Start:        start,
		End:          end,
		Template:     tmpl,
		WorkingDays:  availability.ResolveRange(start, end, s.cfg.Location, tmpl, overrides),
		Overrides:    overrides,
		Blocks:       blocks,
		Appointments: appts,
	}, nil
}

// cachedSchedule returns the generation it observed even on a miss. A negative
// generation means the cache could not be read and nothing should be stored.
func (s *Service) cachedSchedule(ctx context.Context, doctorID uuid.UUID, key string) (*Schedule, int64, bool) {
	data, gen, ok, err := s.cache.Get(ctx, doctorID, key)
	if err != nil {
		s.metrics.CacheResult("error")
		s.log.Warn("schedule cache read failed", zap.String("doctor_id", doctorID.String()), zap.Error(err))
		return nil, -1, false
	}
	if !ok {
		s.metrics.CacheResult("miss")
		return nil, gen, false
	}

	var sched Schedule
	if err := json.Unmarshal(data, &sched); err != nil {
		s.metrics.CacheResult("error")
		s.log.Warn("discarding corrupt cached schedule", zap.String("doctor_id", doctorID.String()), zap.Error(err))
		return nil, gen, false
	}
	s.metrics.CacheResult("hit")
	return &sched, gen, true
}

func (s *Service) storeSchedule(ctx context.Context, doctorID uuid.UUID, key string, gen int64, sched *Schedule) {
	if gen < 0 {
		return
	}
	data, err := json.Marshal(sched)
	if err != nil {
		s.log.Warn("failed to marshal schedule for cache", zap.Error(err))
		return
	}
	if err := s.cache.Set(ctx, doctorID, key, gen, data); err != nil {
		s.log.Warn("schedule cache write failed", zap.String("doctor_id", doctorID.String()), zap.Error(err))
	}
}

func (s *Service) invalidate(ctx context.Context, doctorID uuid.UUID) {
	if err := s.cache.Invalidate(ctx, doctorID); err != nil {
		s.log.Warn("schedule cache invalidation failed", zap.String("doctor_id", doctorID.String()), zap.Error(err))
	}
}

// DecideAppointment applies a doctor's confirm or reject decision.
func (s *Service) DecideAppointment(ctx context.Context, req DecisionRequest) (out *Summary, err error) {
	ctx, done := s.begin(ctx, "decide_appointment",
		attribute.Int64("appointment.id", req.AppointmentID),
		attribute.String("decision.action", string(req.Action)))
	defer func() { done(err) }()

	var fn mutation
	switch req.Action {
	case ActionConfirm:
		method := req.Method
		if method == "" {
			method = appointment.ConfirmDirect
		}
		fn = func(_ context.Context, _ Repository, a *appointment.Appointment, now time.Time) (string, map[string]any, error) {
			c, err := appointment.NewDoctorConfirmation(req.ActorID, now, method, req.Notes)
			if err != nil {
				return "", nil, err
			}
			if err := a.ConfirmWithDoctor(c); err != nil {
				return "", nil, err
			}
			return EventAppointmentConfirmed, map[string]any{"method": method}, nil
		}
	case ActionReject:
		fn = func(_ context.Context, _ Repository, a *appointment.Appointment, now time.Time) (string, map[string]any, error) {
			r, err := appointment.NewAppointmentRejection(req.ActorID, now, req.RejectionReason, req.Details, req.SuggestedStart)
			if err != nil {
				return "", nil, err
			}
			if err := a.RejectByDoctor(r); err != nil {
				return "", nil, err
			}
			return EventAppointmentRejected, map[string]any{
				"reason":          r.Reason,
				"details":         r.Details,
				"suggested_start": r.SuggestedStart,
			}, nil
		}
	default:
		return nil, invalid(`action must be "confirm" or "reject"`)
	}

	a, err := s.mutate(ctx, req.AppointmentID, req.ExpectedVersion, actorPtr(req.ActorID), fn)
	if err != nil {
		return nil, err
	}
	sum := Summarize(a)
	return &sum, nil
}

func (s *Service) ConfirmAppointment(ctx context.Context, req DecisionRequest) (*Summary, error) {
	req.Action = ActionConfirm
	return s.DecideAppointment(ctx, req)
}

func (s *Service) RejectAppointment(ctx context.Context, req DecisionRequest) (*Summary, error) {
	req.Action = ActionReject
	return s.DecideAppointment(ctx, req)
}

func (s *Service) CheckInPatient(ctx context.Context, req LifecycleRequest) (*Summary, error) {
	return s.lifecycle(ctx, "check_in", req, func(_ context.Context, _ Repository, a *appointment.Appointment, now time.Time) (string, map[string]any, error) {
		method := req.CheckInMethod
		if method == "" {
			method = appointment.CheckInFrontDesk
		}
		start, _ := a.StartTime()
		info, err := appointment.NewCheckInInfo(req.ActorID, now, method, start)
		if err != nil {
			return "", nil, err
		}
		if err := a.CheckInPatient(info); err != nil {
			return "", nil, err
		}
		return EventAppointmentCheckedIn, map[string]any{"method": method, "minutes_late": info.MinutesLate}, nil
	})
}

func (s *Service) MarkReadyForConsultation(ctx context.Context, req LifecycleRequest) (*Summary, error) {
	return s.lifecycle(ctx, "ready_for_consultation", req, func(_ context.Context, _ Repository, a *appointment.Appointment, now time.Time) (string, map[string]any, error) {
		if err := a.MarkReadyForConsultation(req.ActorID, now); err != nil {
			return "", nil, err
		}
		return EventAppointmentReady, nil, nil
	})
}

func (s *Service) StartConsultation(ctx context.Context, req LifecycleRequest) (*Summary, error) {
	return s.lifecycle(ctx, "start_consultation", req, func(_ context.Context, _ Repository, a *appointment.Appointment, now time.Time) (string, map[string]any, error) {
		if err := a.StartConsultation(req.ActorID, now); err != nil {
			return "", nil, err
		}
		return EventConsultationStarted, nil, nil
	})
}

func (s *Service) CompleteAppointment(ctx context.Context, req LifecycleRequest) (*Summary, error) {
	return s.lifecycle(ctx, "complete_appointment", req, func(_ context.Context, _ Repository, a *appointment.Appointment, now time.Time) (string, map[string]any, error) {
		if err := a.Complete(req.ActorID, now); err != nil {
			return "", nil, err
		}
		return EventAppointmentCompleted, nil, nil
	})
}

func (s *Service) CancelAppointment(ctx context.Context, req LifecycleRequest) (*Summary, error) {
	return s.lifecycle(ctx, "cancel_appointment", req, func(_ context.Context, _ Repository, a *appointment.Appointment, now time.Time) (string, map[string]any, error) {
		if err := a.Cancel(req.ActorID, now, strings.TrimSpace(req.Reason)); err != nil {
			return "", nil, err
		}
		return EventAppointmentCancelled, map[string]any{"reason": a.CancellationReason}, nil
	})
}

// MarkNoShow is the manual front-desk action. The automatic path is SweepNoShows.
func (s *Service) MarkNoShow(ctx context.Context, req LifecycleRequest) (*Summary, error) {
	return s.lifecycle(ctx, "mark_no_show", req, func(_ context.Context, _ Repository, a *appointment.Appointment, now time.Time) (string, map[string]any, error) {
		if start, err := a.StartTime(); err == nil && now.Before(start) {
			return "", nil, invalid("cannot mark a no-show before the appointment starts")
		}
		info, err := appointment.NewManualNoShow(req.ActorID, now, strings.TrimSpace(req.Reason))
		if err != nil {
			return "", nil, err
		}
		if err := a.MarkNoShow(info); err != nil {
			return "", nil, err
		}
		return EventAppointmentNoShow, map[string]any{"automatic": false}, nil
	})
}

func (s *Service) lifecycle(ctx context.Context, op string, req LifecycleRequest, fn mutation) (out *Summary, err error) {
	ctx, done := s.begin(ctx, op, attribute.Int64("appointment.id", req.AppointmentID))
	defer func() { done(err) }()

	if req.ActorID == uuid.Nil {
		return nil, invalid("actor_id is required")
	}

	a, err := s.mutate(ctx, req.AppointmentID, req.ExpectedVersion, actorPtr(req.ActorID), fn)
	if err != nil {
		return nil, err
	}
	sum := Summarize(a)
	return &sum, nil
}

// SweepNoShows marks appointments whose start passed more than the grace period ago
// without a check-in. Each mark is version checked, so a concurrent check-in wins.
func (s *Service) SweepNoShows(ctx context.Context) (res SweepResult, err error) {
	ctx, done := s.begin(ctx, "sweep_no_shows")
	defer func() { done(err) }()

	now := s.clock.Now()
	limit := s.cfg.NoShowBatchSize
	if limit <= 0 {
		limit = defaultSweepBatch
	}
	candidates, err := s.repo.ListNoShowCandidates(ctx, now.Add(-s.cfg.NoShowGrace), limit)
	if err != nil {
		s.metrics.Sweep("error", 0)
		return res, fmt.Errorf("list no-show candidates: %w", err)
	}

	grace := int(s.cfg.NoShowGrace / time.Minute)
	for _, c := range candidates {
		res.Examined++
		_, err := s.mutate(ctx, c.ID, c.Version, nil, func(_ context.Context, _ Repository, a *appointment.Appointment, now time.Time) (string, map[string]any, error) {
			info, err := appointment.NewAutomaticNoShow(now, grace)
			if err != nil {
				return "", nil, err
			}
			if err := a.MarkNoShow(info); err != nil {
				return "", nil, err
			}
			return EventAppointmentNoShow, map[string]any{"automatic": true, "grace_minutes": grace}, nil
		})

		switch KindOf(err) {
		case "":
			res.Marked++
		case KindVersionConflict, KindInvalidTransition, KindNotFound:
			res.Skipped++
			s.log.Debug("no-show candidate changed concurrently", zap.Int64("appointment_id", c.ID), zap.Error(err))
		default:
			res.Failed++
			s.log.Error("failed to mark no-show", zap.Int64("appointment_id", c.ID), zap.Error(err))
		}
	}

	s.metrics.Sweep("ok", res.Marked)
	s.log.Info("no-show sweep finished",
		zap.Int("examined", res.Examined),
		zap.Int("marked", res.Marked),
		zap.Int("skipped", res.Skipped),
		zap.Int("failed", res.Failed))
	return res, nil
}

// FindAvailableSlots lists every bookable window of the requested length inside
// [From, To), honouring working hours, blocks, bookings and the configured buffer.
func (s *Service) FindAvailableSlots(ctx context.Context, q SlotSearch) (out []slot.Window, err error) {
	ctx, done := s.begin(ctx, "find_available_slots", attribute.String("doctor.id", q.DoctorID.String()))
	defer func() { done(err) }()

	if err := validateRange(q.DoctorID, q.From, q.To, slot.MaxSearchHorizon); err != nil {
		return nil, err
	}
	if q.DurationMinutes <= 0 {
		return nil, invalid("duration_minutes must be positive")
	}
	rng, err := slot.New(q.From, q.To, slot.Unbounded())
	if err != nil {
		return nil, err
	}

	sched, err := s.loadSchedule(ctx, s.repo, q.DoctorID, rng.Start(), rng.End())
	if err != nil {
		return nil, err
	}
	busy := s.occupants(sched.Appointments, 0)
	dur := time.Duration(q.DurationMinutes) * time.Minute
	now := s.clock.Now()
	limit := s.cfg.MaxConcurrentBookings

	for _, day := range sched.WorkingDays {
		for _, open := range day.Windows {
			w, ok := open.Intersect(rng)
			if !ok {
				continue
			}
			for _, free := range slot.Subtract(w, sched.Blocks) {
				var found []slot.Window
				if limit > 1 {
					found, err = slot.FindAvailableSlots(free, dur, []booked{}, 0, s.cfg.SearchStepMinutes)
				} else {
					found, err = slot.FindAvailableSlots(free, dur, busy, s.cfg.BufferMinutes, s.cfg.SearchStepMinutes)
				}
				if err != nil {
					return nil, err
				}
				for _, c := range found {
					if c.Start().Before(now) {
						continue
					}
					if limit > 1 && slot.IsOverbookedAt(c, busy, limit) {
						continue
					}
					out = append(out, c)
				}
			}
		}
	}
	return out, nil
}

// NextAvailableSlot returns nil without an error when nothing is free within the horizon.
func (s *Service) NextAvailableSlot(ctx context.Context, doctorID uuid.UUID, from time.Time, durationMinutes int) (out *slot.Window, err error) {
	ctx, done := s.begin(ctx, "next_available_slot", attribute.String("doctor.id", doctorID.String()))
	defer func() { done(err) }()

	if doctorID == uuid.Nil {
		return nil, invalid("doctor_id is required")
	}
	if durationMinutes <= 0 {
		return nil, invalid("duration_minutes must be positive")
	}
	if now := s.clock.Now(); from.IsZero() || from.Before(now) {
		from = now
	}
	from = from.In(s.cfg.Location)
	horizonEnd := slot.StartOfDay(from).AddDate(0, 0, slot.NextSlotHorizonDays)

	sched, err := s.loadSchedule(ctx, s.repo, doctorID, from, horizonEnd)
	if err != nil {
		return nil, err
	}

	base := availability.PlanFunc(s.cfg.Location, sched.Template, sched.Overrides)
	plan := func(day time.Time) []slot.Window {
		var open []slot.Window
		for _, w := range base(day) {
			open = append(open, slot.Subtract(w, sched.Blocks)...)
		}
		return open
	}

	busy := make([]slot.Window, 0, len(sched.Appointments))
	for _, b := range s.occupants(sched.Appointments, 0) {
		busy = append(busy, b.w)
	}

	w, ok := slot.NextAvailable(slot.NextSlotQuery{
		From:          from,
		Duration:      time.Duration(durationMinutes) * time.Minute,
		StepMinutes:   s.cfg.SearchStepMinutes,
		HorizonDays:   slot.NextSlotHorizonDays,
		Plan:          plan,
		Busy:          busy,
		BufferMinutes: s.cfg.BufferMinutes,
	})
	if !ok {
		return nil, nil
	}
	return &w, nil
}

// Utilization reports busy and free minutes of the doctor's bookings over a range.
func (s *Service) Utilization(ctx context.Context, doctorID uuid.UUID, start, end time.Time) (out slot.BusyTime, err error) {
	ctx, done := s.begin(ctx, "utilization", attribute.String("doctor.id", doctorID.String()))
	defer func() { done(err) }()

	if err := validateRange(doctorID, start, end, MaxScheduleRange); err != nil {
		return out, err
	}
	rng, err := slot.New(start, end, slot.Unbounded())
	if err != nil {
		return out, err
	}
	appts, err := s.repo.ListActiveAppointments(ctx, doctorID, rng.Start(), rng.End())
	if err != nil {
		return out, fmt.Errorf("list appointments: %w", err)
	}
	return slot.CalculateBusyTime(rng, s.occupants(appts, 0)), nil
}

func (s *Service) GetAppointment(ctx context.Context, id int64) (*appointment.Appointment, error) {
	a, err := s.repo.GetAppointment(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("get appointment: %w", err)
	}
	return a, nil
}

func (s *Service) ValidNextStates(ctx context.Context, id int64) ([]appointment.Status, error) {
	a, err := s.GetAppointment(ctx, id)
	if err != nil {
		return nil, err
	}
	return a.ValidNextStates(), nil
}

func (s *Service) logEvent(ctx context.Context, tx Repository, eventType string, appointmentID *int64, doctorID uuid.UUID, actor *uuid.UUID, at time.Time, payload map[string]any) error {
	var data []byte
	if payload != nil {
		var err error
		data, err = json.Marshal(payload)
		if err != nil {
			s.log.Warn("failed to marshal event payload", zap.String("event_type", eventType), zap.Error(err))
			data = nil
		}
	}

	ev := EventLog{
		EventType:     eventType,
		AppointmentID: appointmentID,
		DoctorID:      doctorID,
		ActorID:       actor,
		Payload:       data,
		CreatedAt:     at,
	}
	if err := tx.InsertEvent(ctx, ev); err != nil {
		return fmt.Errorf("insert event %s: %w", eventType, err)
	}
	return nil
}

// begin opens a span and returns the function that closes it and records the outcome.
func (s *Service) begin(ctx context.Context, op string, attrs ...attribute.KeyValue) (context.Context, func(error)) {
	ctx, span := s.tracer.Start(ctx, "scheduling."+op, trace.WithAttributes(attrs...))
	started := time.Now()

	return ctx, func(err error) {
		kind := outcome(err)
		s.metrics.ObserveOperation(op, kind, time.Since(started))
		span.SetAttributes(attribute.String("scheduling.outcome", kind))

		if err != nil {
			span.RecordError(err)
			if KindOf(err) == KindInternal {
				span.SetStatus(codes.Error, err.Error())
				s.log.Error("scheduling operation failed", zap.String("operation", op), zap.Error(err))
			} else {
				s.log.Info("scheduling operation rejected",
					zap.String("operation", op), zap.String("kind", kind), zap.Error(err))
			}
		}
		span.End()
	}
}

func (s *Service) windowOpts() []slot.Option {
	if s.cfg.MaxSlotDuration > 0 {
		return []slot.Option{slot.WithMaxDuration(s.cfg.MaxSlotDuration)}
	}
	return nil
}

func actorPtr(id uuid.UUID) *uuid.UUID {
	if id == uuid.Nil {
		return nil
	}
	return &id
}
