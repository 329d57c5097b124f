package main

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/brianvoe/gofakeit/v6"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/hackgods/clinic-scheduling/internal/availability"
	"github.com/hackgods/clinic-scheduling/internal/config"
	"github.com/hackgods/clinic-scheduling/internal/db"
	"github.com/hackgods/clinic-scheduling/internal/logger"
	"github.com/hackgods/clinic-scheduling/internal/scheduling"
	"github.com/hackgods/clinic-scheduling/internal/slot"
)

const (
	seedHorizon     = 21 * 24 * time.Hour
	seedSlotMinutes = 30
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "seed: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("config load: %w", err)
	}
	log, err := logger.New(cfg.LogLevel, cfg.LogFormat)
	if err != nil {
		return err
	}
	defer func() { _ = log.Sync() }()

	doctors := max(config.Int("SEED_DOCTORS", 20), 1)
	perDoctor := max(config.Int("SEED_APPOINTMENTS_PER_DOCTOR", 40), 1)
	patients := max(config.Int("SEED_PATIENTS", 500), 1)
	log.Info("seed starting", zap.Int("doctors", doctors), zap.Int("appointments_per_doctor", perDoctor))

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Minute)
	defer cancel()

	pool, err := db.ConnectPostgres(ctx, cfg.PostgresDSN)
	if err != nil {
		return fmt.Errorf("connect postgres: %w", err)
	}
	defer pool.Close()

	if err := db.Migrate(ctx, pool); err != nil {
		return err
	}

	gofakeit.Seed(time.Now().UnixNano())

	svc := scheduling.NewService(scheduling.NewPgRepository(pool), cfg, scheduling.WithLogger(log.Named("scheduling")))
	s := &seeder{svc: svc, log: log, loc: cfg.Location, patients: fakeIDs(patients)}

	for i := 0; i < doctors; i++ {
		doctorID := uuid.New()
		if err := s.seedDoctor(ctx, doctorID, perDoctor); err != nil {
			return fmt.Errorf("seed doctor %s: %w", doctorID, err)
		}
	}

	log.Info("seed complete", zap.Int("booked", s.booked), zap.Int("skipped", s.skipped))
	return nil
}

type seeder struct {
	svc      *scheduling.Service
	log      *zap.Logger
	loc      *time.Location
	patients []uuid.UUID

	booked  int
	skipped int
}

func (s *seeder) seedDoctor(ctx context.Context, doctorID uuid.UUID, appointments int) error {
	name := "Dr. " + gofakeit.Name()

	if _, err := s.svc.UpdateAvailability(ctx, scheduling.UpdateAvailabilityRequest{
		DoctorID:     doctorID,
		TemplateName: "standard week",
		Slots:        weekTemplate(),
	}); err != nil {
		return err
	}

	// One administrative afternoon somewhere in the next two weeks.
	day := slot.StartOfDay(time.Now().In(s.loc)).AddDate(0, 0, gofakeit.Number(1, 14))
	if _, err := s.svc.CreateBlock(ctx, scheduling.CreateBlockRequest{
		DoctorID: doctorID,
		Start:    slot.MustParseTimeOfDay("13:00").On(day),
		End:      slot.MustParseTimeOfDay("17:00").On(day),
		Type:     availability.BlockAdmin,
		Reason:   "Department meeting",
	}); err != nil {
		return err
	}

	free, err := s.freeSlots(ctx, doctorID, time.Now(), seedHorizon)
	if err != nil {
		return err
	}

	for i := 0; i < appointments && len(free) > 0; i++ {
		w := free[gofakeit.Number(0, len(free)-1)]
		_, err := s.svc.BookAppointment(ctx, scheduling.BookRequest{
			PatientID:       s.patients[gofakeit.Number(0, len(s.patients)-1)],
			DoctorID:        doctorID,
			Start:           w.Start(),
			DurationMinutes: seedSlotMinutes,
			Direct:          gofakeit.Bool(),
			Notes:           "Referred by Dr. " + gofakeit.LastName(),
		})
		switch scheduling.KindOf(err) {
		case "":
			s.booked++
		case scheduling.KindBookingConflict, scheduling.KindHardBlock:
			s.skipped++
		default:
			return err
		}
	}

	s.log.Info("doctor seeded", zap.String("doctor_id", doctorID.String()), zap.String("name", name))
	return nil
}

// freeSlots walks [from, from+horizon) in searches no longer than slot.MaxSearchHorizon.
func (s *seeder) freeSlots(ctx context.Context, doctorID uuid.UUID, from time.Time, horizon time.Duration) ([]slot.Window, error) {
	until := from.Add(horizon)
	var free []slot.Window
	for start := from; start.Before(until); start = start.Add(slot.MaxSearchHorizon) {
		end := start.Add(slot.MaxSearchHorizon)
		if end.After(until) {
			end = until
		}
		found, err := s.svc.FindAvailableSlots(ctx, scheduling.SlotSearch{
			DoctorID:        doctorID,
			From:            start,
			To:              end,
			DurationMinutes: seedSlotMinutes,
		})
		if err != nil {
			return nil, err
		}
		free = append(free, found...)
	}
	return free, nil
}

// weekTemplate is Monday to Friday clinic hours with a lunch break, plus a Saturday
// telehealth morning.
func weekTemplate() []availability.Slot {
	var slots []availability.Slot
	for day := time.Monday; day <= time.Friday; day++ {
		slots = append(slots,
			availability.Slot{DayOfWeek: int(day), Start: slot.MustParseTimeOfDay("09:00"), End: slot.MustParseTimeOfDay("12:00"), Type: availability.SlotClinic},
			availability.Slot{DayOfWeek: int(day), Start: slot.MustParseTimeOfDay("13:00"), End: slot.MustParseTimeOfDay("17:00"), Type: availability.SlotClinic},
		)
	}
	return append(slots, availability.Slot{
		DayOfWeek: int(time.Saturday),
		Start:     slot.MustParseTimeOfDay("09:00"),
		End:       slot.MustParseTimeOfDay("12:00"),
		Type:      availability.SlotTelehealth,
	})
}

func fakeIDs(n int) []uuid.UUID {
	ids := make([]uuid.UUID, n)
	for i := range ids {
		ids[i] = uuid.MustParse(gofakeit.UUID())
	}
	return ids
}
