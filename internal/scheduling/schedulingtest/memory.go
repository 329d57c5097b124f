// Package schedulingtest provides an in-memory scheduling.Repository for tests and
// local simulation.
package schedulingtest

import (
	"context"
	"fmt"
	"slices"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/hackgods/clinic-scheduling/internal/appointment"
	"github.com/hackgods/clinic-scheduling/internal/availability"
	"github.com/hackgods/clinic-scheduling/internal/scheduling"
)

// Repo serializes transactions behind one mutex. Atomic works on a copy of the
// state and only publishes it when fn succeeds.
type Repo struct {
	mu sync.Mutex
	st *state

	// FailInsertEvent, when set, is returned by every InsertEvent call.
	FailInsertEvent error
}

func New() *Repo {
	return &Repo{st: newState()}
}

type state struct {
	appointments map[int64]appointment.Appointment
	nextID       int64
	blocks       []availability.Block
	overrides    []availability.Override
	templates    []availability.Template
	events       []scheduling.EventLog
}

func newState() *state {
	return &state{appointments: map[int64]appointment.Appointment{}}
}

func (s *state) clone() *state {
	c := &state{
		appointments: make(map[int64]appointment.Appointment, len(s.appointments)),
		nextID:       s.nextID,
		blocks:       slices.Clone(s.blocks),
		overrides:    slices.Clone(s.overrides),
		events:       slices.Clone(s.events),
	}
	for id, a := range s.appointments {
		c.appointments[id] = a
	}
	c.templates = make([]availability.Template, len(s.templates))
	for i, t := range s.templates {
		t.Slots = slices.Clone(t.Slots)
		c.templates[i] = t
	}
	return c
}

// Events returns a copy of every committed audit row.
func (r *Repo) Events() []scheduling.EventLog {
	r.mu.Lock()
	defer r.mu.Unlock()
	return slices.Clone(r.st.events)
}

// EventTypes lists committed event types in insertion order.
func (r *Repo) EventTypes() []string {
	events := r.Events()
	out := make([]string, len(events))
	for i, ev := range events {
		out[i] = ev.EventType
	}
	return out
}

// Put stores a exactly as given, keeping its version. A zero ID is assigned the next
// one. Useful for legacy rows and fixed versions.
func (r *Repo) Put(a appointment.Appointment) appointment.Appointment {
	r.mu.Lock()
	defer r.mu.Unlock()
	if a.ID == 0 {
		r.st.nextID++
		a.ID = r.st.nextID
	} else if a.ID > r.st.nextID {
		r.st.nextID = a.ID
	}
	r.st.appointments[a.ID] = a
	return a
}

func (r *Repo) Atomic(ctx context.Context, fn func(scheduling.Repository) error) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	tx := &txRepo{st: r.st.clone(), failEvents: r.FailInsertEvent}
	if err := fn(tx); err != nil {
		return err
	}
	r.st = tx.st
	return nil
}

func (r *Repo) do(fn func(tx *txRepo) error) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return fn(&txRepo{st: r.st, failEvents: r.FailInsertEvent})
}

func (r *Repo) GetAppointment(ctx context.Context, id int64) (out *appointment.Appointment, err error) {
	err = r.do(func(tx *txRepo) error {
		out, err = tx.GetAppointment(ctx, id)
		return err
	})
	return out, err
}

func (r *Repo) ListActiveAppointments(ctx context.Context, doctorID uuid.UUID, from, to time.Time) (out []appointment.Appointment, err error) {
	err = r.do(func(tx *txRepo) error {
		out, err = tx.ListActiveAppointments(ctx, doctorID, from, to)
		return err
	})
	return out, err
}

func (r *Repo) CreateAppointment(ctx context.Context, a *appointment.Appointment) (out *appointment.Appointment, err error) {
	err = r.do(func(tx *txRepo) error {
		out, err = tx.CreateAppointment(ctx, a)
		return err
	})
	return out, err
}

func (r *Repo) UpdateAppointment(ctx context.Context, a *appointment.Appointment, expected int) (out int, err error) {
	err = r.do(func(tx *txRepo) error {
		out, err = tx.UpdateAppointment(ctx, a, expected)
		return err
	})
	return out, err
}

func (r *Repo) ListNoShowCandidates(ctx context.Context, before time.Time, limit int) (out []appointment.Appointment, err error) {
	err = r.do(func(tx *txRepo) error {
		out, err = tx.ListNoShowCandidates(ctx, before, limit)
		return err
	})
	return out, err
}

func (r *Repo) ListBlocks(ctx context.Context, doctorID uuid.UUID, from, to time.Time) (out []availability.Block, err error) {
	err = r.do(func(tx *txRepo) error {
		out, err = tx.ListBlocks(ctx, doctorID, from, to)
		return err
	})
	return out, err
}

func (r *Repo) CreateBlock(ctx context.Context, b availability.Block) (out *availability.Block, err error) {
	err = r.do(func(tx *txRepo) error {
		out, err = tx.CreateBlock(ctx, b)
		return err
	})
	return out, err
}

func (r *Repo) ListOverrides(ctx context.Context, doctorID uuid.UUID, from, to time.Time) (out []availability.Override, err error) {
	err = r.do(func(tx *txRepo) error {
		out, err = tx.ListOverrides(ctx, doctorID, from, to)
		return err
	})
	return out, err
}

func (r *Repo) CreateOverride(ctx context.Context, o availability.Override) (out *availability.Override, err error) {
	err = r.do(func(tx *txRepo) error {
		out, err = tx.CreateOverride(ctx, o)
		return err
	})
	return out, err
}

func (r *Repo) GetActiveTemplate(ctx context.Context, doctorID uuid.UUID) (out *availability.Template, err error) {
	err = r.do(func(tx *txRepo) error {
		out, err = tx.GetActiveTemplate(ctx, doctorID)
		return err
	})
	return out, err
}

func (r *Repo) ReplaceTemplateSlots(ctx context.Context, doctorID uuid.UUID, name string, slots []availability.Slot) (out *availability.Template, err error) {
	err = r.do(func(tx *txRepo) error {
		out, err = tx.ReplaceTemplateSlots(ctx, doctorID, name, slots)
		return err
	})
	return out, err
}

func (r *Repo) InsertEvent(ctx context.Context, ev scheduling.EventLog) error {
	return r.do(func(tx *txRepo) error {
		return tx.InsertEvent(ctx, ev)
	})
}

// txRepo operates on one state without locking. The owning Repo holds the lock.
type txRepo struct {
	st         *state
	failEvents error
}

func (t *txRepo) Atomic(_ context.Context, fn func(scheduling.Repository) error) error {
	return fn(t)
}

func (t *txRepo) GetAppointment(_ context.Context, id int64) (*appointment.Appointment, error) {
	a, ok := t.st.appointments[id]
	if !ok {
		return nil, fmt.Errorf("appointment %d: %w", id, scheduling.ErrNotFound)
	}
	return &a, nil
}

func (t *txRepo) ListActiveAppointments(_ context.Context, doctorID uuid.UUID, from, to time.Time) ([]appointment.Appointment, error) {
	var out []appointment.Appointment
	for _, a := range t.st.appointments {
		if a.DoctorID != doctorID || a.Status == appointment.StatusCancelled {
			continue
		}
		w, err := a.SlotWindow()
		if err != nil {
			continue
		}
		if w.Start().Before(to) && w.End().After(from) {
			out = append(out, a)
		}
	}
	sortByStart(out)
	return out, nil
}

func (t *txRepo) CreateAppointment(_ context.Context, a *appointment.Appointment) (*appointment.Appointment, error) {
	c := *a
	t.st.nextID++
	c.ID = t.st.nextID
	c.Version = 1
	c.SyncLegacyFields()
	t.st.appointments[c.ID] = c
	return &c, nil
}

func (t *txRepo) UpdateAppointment(_ context.Context, a *appointment.Appointment, expected int) (int, error) {
	cur, ok := t.st.appointments[a.ID]
	if !ok {
		return 0, fmt.Errorf("appointment %d: %w", a.ID, scheduling.ErrNotFound)
	}
	if cur.Version != expected {
		return 0, &scheduling.VersionConflictError{AppointmentID: a.ID, Expected: expected, Actual: cur.Version}
	}
	c := *a
	c.SyncLegacyFields()
	c.Version = cur.Version + 1
	t.st.appointments[c.ID] = c
	return c.Version, nil
}

func (t *txRepo) ListNoShowCandidates(_ context.Context, before time.Time, limit int) ([]appointment.Appointment, error) {
	var out []appointment.Appointment
	for _, a := range t.st.appointments {
		switch a.Status {
		case appointment.StatusPending, appointment.StatusScheduled, appointment.StatusConfirmed:
		default:
			continue
		}
		start, err := a.StartTime()
		if err != nil || !start.Before(before) {
			continue
		}
		out = append(out, a)
	}
	sortByStart(out)
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (t *txRepo) ListBlocks(_ context.Context, doctorID uuid.UUID, from, to time.Time) ([]availability.Block, error) {
	var out []availability.Block
	for _, b := range t.st.blocks {
		if b.DoctorID == doctorID && b.Start.Before(to) && b.End.After(from) {
			out = append(out, b)
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Start.Before(out[j].Start) })
	return out, nil
}

func (t *txRepo) CreateBlock(_ context.Context, b availability.Block) (*availability.Block, error) {
	if b.ID == uuid.Nil {
		b.ID = uuid.New()
	}
	t.st.blocks = append(t.st.blocks, b)
	return &b, nil
}

func (t *txRepo) ListOverrides(_ context.Context, doctorID uuid.UUID, from, to time.Time) ([]availability.Override, error) {
	first, last := scheduling.OverrideDateRange(from, to)
	var out []availability.Override
	for _, o := range t.st.overrides {
		if o.DoctorID == doctorID && !o.StartDate.After(last) && !o.EndDate.Before(first) {
			out = append(out, o)
		}
	}
	return out, nil
}

func (t *txRepo) CreateOverride(_ context.Context, o availability.Override) (*availability.Override, error) {
	if o.ID == uuid.Nil {
		o.ID = uuid.New()
	}
	t.st.overrides = append(t.st.overrides, o)
	return &o, nil
}

func (t *txRepo) GetActiveTemplate(_ context.Context, doctorID uuid.UUID) (*availability.Template, error) {
	var found *availability.Template
	for i := range t.st.templates {
		tmpl := &t.st.templates[i]
		if tmpl.DoctorID != doctorID {
			continue
		}
		if tmpl.IsActive {
			found = tmpl
			break
		}
		if found == nil || tmpl.CreatedAt.Before(found.CreatedAt) {
			found = tmpl
		}
	}
	if found == nil {
		return nil, fmt.Errorf("template for doctor %s: %w", doctorID, scheduling.ErrNotFound)
	}
	c := *found
	c.Slots = slices.Clone(found.Slots)
	return &c, nil
}

func (t *txRepo) ReplaceTemplateSlots(_ context.Context, doctorID uuid.UUID, name string, slots []availability.Slot) (*availability.Template, error) {
	idx := -1
	for i := range t.st.templates {
		tmpl := &t.st.templates[i]
		if tmpl.DoctorID != doctorID {
			continue
		}
		tmpl.IsActive = false
		if tmpl.Name == name {
			idx = i
		}
	}
	if idx < 0 {
		now := time.Now().UTC()
		t.st.templates = append(t.st.templates, availability.Template{
			ID: uuid.New(), DoctorID: doctorID, Name: name, CreatedAt: now, UpdatedAt: now,
		})
		idx = len(t.st.templates) - 1
	}

	tmpl := &t.st.templates[idx]
	tmpl.IsActive = true
	tmpl.Slots = make([]availability.Slot, len(slots))
	for i, s := range slots {
		s.ID = uuid.New()
		s.TemplateID = tmpl.ID
		tmpl.Slots[i] = s
	}

	c := *tmpl
	c.Slots = slices.Clone(tmpl.Slots)
	return &c, nil
}

func (t *txRepo) InsertEvent(_ context.Context, ev scheduling.EventLog) error {
	if t.failEvents != nil {
		return t.failEvents
	}
	ev.ID = int64(len(t.st.events) + 1)
	t.st.events = append(t.st.events, ev)
	return nil
}

func sortByStart(appts []appointment.Appointment) {
	sort.Slice(appts, func(i, j int) bool {
		si, _ := appts[i].StartTime()
		sj, _ := appts[j].StartTime()
		if si.Equal(sj) {
			return appts[i].ID < appts[j].ID
		}
		return si.Before(sj)
	})
}

var (
	_ scheduling.Repository = (*Repo)(nil)
	_ scheduling.Repository = (*txRepo)(nil)
)
