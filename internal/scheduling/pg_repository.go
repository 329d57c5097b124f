package scheduling

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/hackgods/clinic-scheduling/internal/appointment"
	"github.com/hackgods/clinic-scheduling/internal/availability"
	"github.com/hackgods/clinic-scheduling/internal/slot"
)

// querier is satisfied by both *pgxpool.Pool and pgx.Tx.
type querier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	CopyFrom(ctx context.Context, table pgx.Identifier, columns []string, src pgx.CopyFromSource) (int64, error)
}

type PgRepository struct {
	pool *pgxpool.Pool
	q    querier
}

func NewPgRepository(pool *pgxpool.Pool) *PgRepository {
	return &PgRepository{pool: pool, q: pool}
}

// Atomic runs fn in a serializable transaction. Serialization failures surface as
// version conflicts so callers reload and retry.
func (r *PgRepository) Atomic(ctx context.Context, fn func(Repository) error) error {
	if r.pool == nil {
		return fn(r)
	}

	tx, err := r.pool.BeginTx(ctx, pgx.TxOptions{IsoLevel: pgx.Serializable})
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback(ctx) //nolint:errcheck

	if err := fn(&PgRepository{q: tx}); err != nil {
		return mapSerialization(err)
	}
	if err := tx.Commit(ctx); err != nil {
		return mapSerialization(fmt.Errorf("commit tx: %w", err))
	}
	return nil
}

func mapSerialization(err error) error {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && (pgErr.Code == "40001" || pgErr.Code == "40P01") {
		return fmt.Errorf("%w: concurrent transaction: %s", ErrVersionConflict, pgErr.Message)
	}
	return err
}

// Helpers

// startExpr resolves legacy rows that predate scheduled_at.
const startExpr = `COALESCE(scheduled_at, (appointment_date || ' ' || substr(appointment_time, 1, 5))::timestamp AT TIME ZONE 'UTC')`

const appointmentColumns = `id, patient_id, doctor_id, scheduled_at, duration_minutes, appointment_date, appointment_time,
	status, version, status_changed_at, status_changed_by, confirmation, rejection, check_in, no_show,
	cancellation_reason, resource_id, notes, created_at, updated_at`

func scanAppointment(row pgx.Row) (*appointment.Appointment, error) {
	var a appointment.Appointment
	var scheduledAt *time.Time
	var date, clock *string
	var confirmation, rejection, checkIn, noShow []byte

	err := row.Scan(
		&a.ID,
		&a.PatientID,
		&a.DoctorID,
		&scheduledAt,
		&a.DurationMinutes,
		&date,
		&clock,
		&a.Status,
		&a.Version,
		&a.StatusChangedAt,
		&a.StatusChangedBy,
		&confirmation,
		&rejection,
		&checkIn,
		&noShow,
		&a.CancellationReason,
		&a.ResourceID,
		&a.Notes,
		&a.CreatedAt,
		&a.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}

	if scheduledAt != nil {
		a.ScheduledAt = scheduledAt.UTC()
	}
	if date != nil {
		a.AppointmentDate = *date
	}
	if clock != nil {
		a.AppointmentTime = *clock
	}
	if a.Confirmation, err = fromJSON[appointment.DoctorConfirmation](confirmation); err != nil {
		return nil, fmt.Errorf("decode confirmation of appointment %d: %w", a.ID, err)
	}
	if a.Rejection, err = fromJSON[appointment.AppointmentRejection](rejection); err != nil {
		return nil, fmt.Errorf("decode rejection of appointment %d: %w", a.ID, err)
	}
	if a.CheckIn, err = fromJSON[appointment.CheckInInfo](checkIn); err != nil {
		return nil, fmt.Errorf("decode check-in of appointment %d: %w", a.ID, err)
	}
	if a.NoShow, err = fromJSON[appointment.NoShowInfo](noShow); err != nil {
		return nil, fmt.Errorf("decode no-show of appointment %d: %w", a.ID, err)
	}
	return &a, nil
}

func collectAppointments(rows pgx.Rows) ([]appointment.Appointment, error) {
	defer rows.Close()

	var result []appointment.Appointment
	for rows.Next() {
		a, err := scanAppointment(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, *a)
	}

	if err := rows.Err(); err != nil {
		return nil, err
	}
	return result, nil
}

type appointmentRecords struct {
	confirmation, rejection, checkIn, noShow []byte
}

func encodeRecords(a *appointment.Appointment) (appointmentRecords, error) {
	var rec appointmentRecords
	var err error
	if rec.confirmation, err = toJSON(a.Confirmation); err != nil {
		return rec, err
	}
	if rec.rejection, err = toJSON(a.Rejection); err != nil {
		return rec, err
	}
	if rec.checkIn, err = toJSON(a.CheckIn); err != nil {
		return rec, err
	}
	if rec.noShow, err = toJSON(a.NoShow); err != nil {
		return rec, err
	}
	return rec, nil
}

func toJSON[T any](v *T) ([]byte, error) {
	if v == nil {
		return nil, nil
	}
	return json.Marshal(v)
}

func fromJSON[T any](data []byte) (*T, error) {
	if len(data) == 0 {
		return nil, nil
	}
	var v T
	if err := json.Unmarshal(data, &v); err != nil {
		return nil, err
	}
	return &v, nil
}

func scanBlock(row pgx.Row) (*availability.Block, error) {
	var b availability.Block

	err := row.Scan(
		&b.ID,
		&b.DoctorID,
		&b.Start,
		&b.End,
		&b.Type,
		&b.Reason,
		&b.CreatedBy,
		&b.CreatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}

	b.Start, b.End = b.Start.UTC(), b.End.UTC()
	return &b, nil
}

func scanOverride(row pgx.Row) (*availability.Override, error) {
	var o availability.Override
	var start, end *int16

	err := row.Scan(
		&o.ID,
		&o.DoctorID,
		&o.StartDate,
		&o.EndDate,
		&o.IsBlocked,
		&start,
		&end,
		&o.Reason,
		&o.CreatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}

	o.StartDate, o.EndDate = availability.CivilDate(o.StartDate), availability.CivilDate(o.EndDate)
	o.Start, o.End = minutesToTime(start), minutesToTime(end)
	return &o, nil
}

func minutesToTime(m *int16) *slot.TimeOfDay {
	if m == nil {
		return nil
	}
	t := slot.TimeOfDay(*m)
	return &t
}

func timeToMinutes(t *slot.TimeOfDay) *int16 {
	if t == nil {
		return nil
	}
	m := int16(*t)
	return &m
}

func nullableTime(t time.Time) *time.Time {
	if t.IsZero() {
		return nil
	}
	return &t
}

func nullableString(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

// Interface methods

func (r *PgRepository) GetAppointment(ctx context.Context, id int64) (*appointment.Appointment, error) {
	row := r.q.QueryRow(ctx, `
		SELECT `+appointmentColumns+`
		FROM appointments
		WHERE id = $1
	`, id)
	a, err := scanAppointment(row)
	if errors.Is(err, ErrNotFound) {
		return nil, fmt.Errorf("appointment %d: %w", id, ErrNotFound)
	}
	return a, err
}

func (r *PgRepository) ListActiveAppointments(ctx context.Context, doctorID uuid.UUID, from, to time.Time) ([]appointment.Appointment, error) {
	rows, err := r.q.Query(ctx, `
		SELECT `+appointmentColumns+`
		FROM appointments
		WHERE doctor_id = $1
		  AND status <> 'cancelled'
		  AND `+startExpr+` < $3
		  AND `+startExpr+` + make_interval(mins => duration_minutes) > $2
		ORDER BY `+startExpr+`, id
	`, doctorID, from, to)
	if err != nil {
		return nil, err
	}
	return collectAppointments(rows)
}

func (r *PgRepository) CreateAppointment(ctx context.Context, a *appointment.Appointment) (*appointment.Appointment, error) {
	rec, err := encodeRecords(a)
	if err != nil {
		return nil, fmt.Errorf("encode records: %w", err)
	}
	a.SyncLegacyFields()

	row := r.q.QueryRow(ctx, `
		INSERT INTO appointments (patient_id, doctor_id, scheduled_at, duration_minutes, appointment_date, appointment_time,
			status, version, status_changed_at, status_changed_by, confirmation, rejection, check_in, no_show,
			cancellation_reason, resource_id, notes, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, 1, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18)
		RETURNING `+appointmentColumns+`
	`, a.PatientID, a.DoctorID, nullableTime(a.ScheduledAt), a.DurationMinutes,
		nullableString(a.AppointmentDate), nullableString(a.AppointmentTime),
		a.Status, a.StatusChangedAt, a.StatusChangedBy,
		rec.confirmation, rec.rejection, rec.checkIn, rec.noShow,
		a.CancellationReason, a.ResourceID, a.Notes, a.CreatedAt, a.UpdatedAt)

	return scanAppointment(row)
}

func (r *PgRepository) UpdateAppointment(ctx context.Context, a *appointment.Appointment, expectedVersion int) (int, error) {
	rec, err := encodeRecords(a)
	if err != nil {
		return 0, fmt.Errorf("encode records: %w", err)
	}
	a.SyncLegacyFields()

	var version int
	err = r.q.QueryRow(ctx, `
		UPDATE appointments
		SET scheduled_at = $3,
		    duration_minutes = $4,
		    appointment_date = $5,
		    appointment_time = $6,
		    status = $7,
		    status_changed_at = $8,
		    status_changed_by = $9,
		    confirmation = $10,
		    rejection = $11,
		    check_in = $12,
		    no_show = $13,
		    cancellation_reason = $14,
		    resource_id = $15,
		    notes = $16,
		    updated_at = $17,
		    version = version + 1
		WHERE id = $1
		  AND version = $2
		RETURNING version
	`, a.ID, expectedVersion, nullableTime(a.ScheduledAt), a.DurationMinutes,
		nullableString(a.AppointmentDate), nullableString(a.AppointmentTime),
		a.Status, a.StatusChangedAt, a.StatusChangedBy,
		rec.confirmation, rec.rejection, rec.checkIn, rec.noShow,
		a.CancellationReason, a.ResourceID, a.Notes, a.UpdatedAt).Scan(&version)
	if err == nil {
		return version, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return 0, err
	}

	var actual int
	err = r.q.QueryRow(ctx, `SELECT version FROM appointments WHERE id = $1`, a.ID).Scan(&actual)
	if errors.Is(err, pgx.ErrNoRows) {
		return 0, fmt.Errorf("appointment %d: %w", a.ID, ErrNotFound)
	}
	if err != nil {
		return 0, err
	}
	return 0, &VersionConflictError{AppointmentID: a.ID, Expected: expectedVersion, Actual: actual}
}

func (r *PgRepository) ListNoShowCandidates(ctx context.Context, startedBefore time.Time, limit int) ([]appointment.Appointment, error) {
	rows, err := r.q.Query(ctx, `
		SELECT `+appointmentColumns+`
		FROM appointments
		WHERE status IN ('pending', 'scheduled', 'confirmed')
		  AND `+startExpr+` < $1
		ORDER BY `+startExpr+`, id
		LIMIT $2
	`, startedBefore, limit)
	if err != nil {
		return nil, err
	}
	return collectAppointments(rows)
}

func (r *PgRepository) ListBlocks(ctx context.Context, doctorID uuid.UUID, from, to time.Time) ([]availability.Block, error) {
	rows, err := r.q.Query(ctx, `
		SELECT id, doctor_id, start_time, end_time, block_type, reason, created_by, created_at
		FROM availability_blocks
		WHERE doctor_id = $1
		  AND start_time < $3
		  AND end_time > $2
		ORDER BY start_time, id
	`, doctorID, from, to)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []availability.Block
	for rows.Next() {
		b, err := scanBlock(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, *b)
	}

	if err := rows.Err(); err != nil {
		return nil, err
	}
	return result, nil
}

func (r *PgRepository) CreateBlock(ctx context.Context, b availability.Block) (*availability.Block, error) {
	if b.ID == uuid.Nil {
		b.ID = uuid.New()
	}

	row := r.q.QueryRow(ctx, `
		INSERT INTO availability_blocks (id, doctor_id, start_time, end_time, block_type, reason, created_by, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		RETURNING id, doctor_id, start_time, end_time, block_type, reason, created_by, created_at
	`, b.ID, b.DoctorID, b.Start, b.End, b.Type, b.Reason, b.CreatedBy, b.CreatedAt)

	return scanBlock(row)
}

func (r *PgRepository) ListOverrides(ctx context.Context, doctorID uuid.UUID, from, to time.Time) ([]availability.Override, error) {
	first, last := OverrideDateRange(from, to)
	rows, err := r.q.Query(ctx, `
		SELECT id, doctor_id, start_date, end_date, is_blocked, start_minutes, end_minutes, reason, created_at
		FROM availability_overrides
		WHERE doctor_id = $1
		  AND start_date <= $3
		  AND end_date >= $2
		ORDER BY start_date, created_at
	`, doctorID, first, last)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []availability.Override
	for rows.Next() {
		o, err := scanOverride(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, *o)
	}

	if err := rows.Err(); err != nil {
		return nil, err
	}
	return result, nil
}

func (r *PgRepository) CreateOverride(ctx context.Context, o availability.Override) (*availability.Override, error) {
	if o.ID == uuid.Nil {
		o.ID = uuid.New()
	}

	row := r.q.QueryRow(ctx, `
		INSERT INTO availability_overrides (id, doctor_id, start_date, end_date, is_blocked, start_minutes, end_minutes, reason, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		RETURNING id, doctor_id, start_date, end_date, is_blocked, start_minutes, end_minutes, reason, created_at
	`, o.ID, o.DoctorID, o.StartDate, o.EndDate, o.IsBlocked, timeToMinutes(o.Start), timeToMinutes(o.End), o.Reason, o.CreatedAt)

	return scanOverride(row)
}

func (r *PgRepository) GetActiveTemplate(ctx context.Context, doctorID uuid.UUID) (*availability.Template, error) {
	var t availability.Template
	err := r.q.QueryRow(ctx, `
		SELECT id, doctor_id, name, is_active, created_at, updated_at
		FROM availability_templates
		WHERE doctor_id = $1
		ORDER BY is_active DESC, created_at ASC
		LIMIT 1
	`, doctorID).Scan(&t.ID, &t.DoctorID, &t.Name, &t.IsActive, &t.CreatedAt, &t.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("template for doctor %s: %w", doctorID, ErrNotFound)
		}
		return nil, err
	}

	if t.Slots, err = r.templateSlots(ctx, t.ID); err != nil {
		return nil, err
	}
	return &t, nil
}

func (r *PgRepository) templateSlots(ctx context.Context, templateID uuid.UUID) ([]availability.Slot, error) {
	rows, err := r.q.Query(ctx, `
		SELECT id, template_id, day_of_week, start_minutes, end_minutes, slot_type
		FROM availability_slots
		WHERE template_id = $1
		ORDER BY day_of_week, start_minutes
	`, templateID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []availability.Slot
	for rows.Next() {
		var s availability.Slot
		var day, start, end int16
		if err := rows.Scan(&s.ID, &s.TemplateID, &day, &start, &end, &s.Type); err != nil {
			return nil, err
		}
		s.DayOfWeek = int(day)
		s.Start, s.End = slot.TimeOfDay(start), slot.TimeOfDay(end)
		result = append(result, s)
	}

	if err := rows.Err(); err != nil {
		return nil, err
	}
	return result, nil
}

func (r *PgRepository) ReplaceTemplateSlots(ctx context.Context, doctorID uuid.UUID, name string, slots []availability.Slot) (*availability.Template, error) {
	var t availability.Template
	err := r.q.QueryRow(ctx, `
		INSERT INTO availability_templates (id, doctor_id, name, is_active, created_at, updated_at)
		VALUES ($1, $2, $3, false, now(), now())
		ON CONFLICT (doctor_id, name) DO UPDATE SET updated_at = now()
		RETURNING id, doctor_id, name, is_active, created_at, updated_at
	`, uuid.New(), doctorID, name).Scan(&t.ID, &t.DoctorID, &t.Name, &t.IsActive, &t.CreatedAt, &t.UpdatedAt)
	if err != nil {
		return nil, fmt.Errorf("upsert template: %w", err)
	}

	// Deactivate first so the one-active index never sees two rows.
	if _, err := r.q.Exec(ctx, `
		UPDATE availability_templates SET is_active = false WHERE doctor_id = $1 AND id <> $2 AND is_active
	`, doctorID, t.ID); err != nil {
		return nil, fmt.Errorf("deactivate templates: %w", err)
	}
	if _, err := r.q.Exec(ctx, `UPDATE availability_templates SET is_active = true WHERE id = $1`, t.ID); err != nil {
		return nil, fmt.Errorf("activate template: %w", err)
	}
	t.IsActive = true

	if _, err := r.q.Exec(ctx, `DELETE FROM availability_slots WHERE template_id = $1`, t.ID); err != nil {
		return nil, fmt.Errorf("delete slots: %w", err)
	}

	t.Slots = make([]availability.Slot, len(slots))
	rows := make([][]any, len(slots))
	for i, s := range slots {
		s.ID = uuid.New()
		s.TemplateID = t.ID
		t.Slots[i] = s
		rows[i] = []any{s.ID, s.TemplateID, int16(s.DayOfWeek), int16(s.Start), int16(s.End), string(s.Type)}
	}
	if _, err := r.q.CopyFrom(ctx,
		pgx.Identifier{"availability_slots"},
		[]string{"id", "template_id", "day_of_week", "start_minutes", "end_minutes", "slot_type"},
		pgx.CopyFromRows(rows),
	); err != nil {
		return nil, fmt.Errorf("copy slots: %w", err)
	}

	return &t, nil
}

func (r *PgRepository) InsertEvent(ctx context.Context, ev EventLog) error {
	_, err := r.q.Exec(ctx, `
		INSERT INTO event_logs (event_type, appointment_id, doctor_id, actor_id, payload, created_at)
		VALUES ($1, $2, $3, $4, $5, COALESCE($6, now()))
	`, ev.EventType, ev.AppointmentID, ev.DoctorID, ev.ActorID, ev.Payload, nullableTime(ev.CreatedAt))
	if err != nil {
		return fmt.Errorf("insert event log: %w", err)
	}

	return nil
}

var _ Repository = (*PgRepository)(nil)
