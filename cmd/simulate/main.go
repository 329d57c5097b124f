package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"math/rand"
	"net/http"
	"os"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"

	"github.com/hackgods/clinic-scheduling/internal/config"
	"github.com/hackgods/clinic-scheduling/internal/db"
	"github.com/hackgods/clinic-scheduling/internal/logger"
)

type SimConfig struct {
	APIBaseURL       string
	Duration         time.Duration
	Workers          int
	MoveRatio        float64
	ScheduleRatio    float64
	SlotSearchRatio  float64
	StaleRatio       float64 // share of moves sent with the remembered version instead of a fresh read
	AppointmentLimit int
	PostgresDSN      string
}

type trackedAppointment struct {
	ID       int64
	DoctorID uuid.UUID
	Version  int
}

type DataPool struct {
	mu           sync.RWMutex
	appointments []trackedAppointment
	Doctors      []uuid.UUID
}

func (dp *DataPool) Random(rng *rand.Rand) (int, trackedAppointment) {
	dp.mu.RLock()
	defer dp.mu.RUnlock()
	idx := rng.Intn(len(dp.appointments))
	return idx, dp.appointments[idx]
}

// Remember keeps the highest version seen for an appointment.
func (dp *DataPool) Remember(idx, version int) {
	dp.mu.Lock()
	defer dp.mu.Unlock()
	if version > dp.appointments[idx].Version {
		dp.appointments[idx].Version = version
	}
}

type OperationMetrics struct {
	Total     int64
	Success   int64
	Conflict  int64
	Error     int64
	Latencies []time.Duration
	mu        sync.Mutex
}

func (om *OperationMetrics) Record(latency time.Duration, success bool, conflict bool) {
	atomic.AddInt64(&om.Total, 1)
	if success {
		atomic.AddInt64(&om.Success, 1)
	} else if conflict {
		atomic.AddInt64(&om.Conflict, 1)
	} else {
		atomic.AddInt64(&om.Error, 1)
	}

	om.mu.Lock()
	om.Latencies = append(om.Latencies, latency)
	om.mu.Unlock()
}

func (om *OperationMetrics) Stats() (avg, min, max, p50, p95 time.Duration) {
	om.mu.Lock()
	defer om.mu.Unlock()

	if len(om.Latencies) == 0 {
		return 0, 0, 0, 0, 0
	}

	latencies := make([]time.Duration, len(om.Latencies))
	copy(latencies, om.Latencies)

	sort.Slice(latencies, func(i, j int) bool {
		return latencies[i] < latencies[j]
	})

	var sum time.Duration
	for _, l := range latencies {
		sum += l
	}

	avg = sum / time.Duration(len(latencies))
	min = latencies[0]
	max = latencies[len(latencies)-1]
	p50 = latencies[min2(len(latencies)*50/100, len(latencies)-1)]
	p95 = latencies[min2(len(latencies)*95/100, len(latencies)-1)]

	return avg, min, max, p50, p95
}

func min2(a, b int) int {
	if a < b {
		return a
	}
	return b
}

type Metrics struct {
	Move       OperationMetrics
	Schedule   OperationMetrics
	SlotSearch OperationMetrics
}

type Simulator struct {
	config  SimConfig
	pool    *DataPool
	client  *http.Client
	metrics Metrics
	actor   string
	log     *zap.Logger
}

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "simulate: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	baseCfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("config load: %w", err)
	}
	log, err := logger.New(baseCfg.LogLevel, baseCfg.LogFormat)
	if err != nil {
		return err
	}
	defer func() { _ = log.Sync() }()

	cfg := loadConfig(baseCfg)
	if err := validateConfig(cfg); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}

	log.Info("simulator starting",
		zap.Duration("duration", cfg.Duration),
		zap.Int("workers", cfg.Workers),
		zap.Float64("move", cfg.MoveRatio),
		zap.Float64("schedule", cfg.ScheduleRatio),
		zap.Float64("slots", cfg.SlotSearchRatio),
		zap.Float64("stale", cfg.StaleRatio))

	// Load data from Postgres
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	pgPool, err := db.ConnectPostgres(ctx, cfg.PostgresDSN)
	if err != nil {
		return fmt.Errorf("connect postgres: %w", err)
	}
	defer pgPool.Close()

	dataPool, err := loadDataPool(ctx, pgPool, cfg)
	if err != nil {
		return fmt.Errorf("load data pool: %w", err)
	}

	log.Info("data pool loaded",
		zap.Int("appointments", len(dataPool.appointments)),
		zap.Int("doctors", len(dataPool.Doctors)))

	sim := &Simulator{
		config: cfg,
		pool:   dataPool,
		client: &http.Client{
			Timeout: 10 * time.Second,
		},
		actor: uuid.NewString(),
		log:   log,
	}

	sim.Run()

	// The report goes to stdout; operational logs stay on the logger.
	sim.PrintReport()
	return nil
}

func loadConfig(baseCfg config.Config) SimConfig {
	cfg := SimConfig{
		APIBaseURL:       config.String("SIM_API_BASE_URL", "http://localhost:8080"),
		Duration:         config.Duration("SIM_DURATION", 30*time.Second),
		Workers:          config.Int("SIM_WORKERS", 10),
		MoveRatio:        config.Float("SIM_MOVE_RATIO", 0.6),
		ScheduleRatio:    config.Float("SIM_SCHEDULE_RATIO", 0.3),
		SlotSearchRatio:  config.Float("SIM_SLOT_SEARCH_RATIO", 0.1),
		StaleRatio:       config.Float("SIM_STALE_RATIO", 0.3),
		AppointmentLimit: config.Int("SIM_APPOINTMENT_LIMIT", 200),
		PostgresDSN:      baseCfg.PostgresDSN,
	}

	// Normalize ratios
	total := cfg.MoveRatio + cfg.ScheduleRatio + cfg.SlotSearchRatio
	if total > 0 {
		cfg.MoveRatio /= total
		cfg.ScheduleRatio /= total
		cfg.SlotSearchRatio /= total
	}

	return cfg
}

func validateConfig(cfg SimConfig) error {
	if cfg.PostgresDSN == "" {
		return fmt.Errorf("POSTGRES_DSN is required (set in .env or environment)")
	}
	if cfg.Workers <= 0 {
		return fmt.Errorf("SIM_WORKERS must be > 0")
	}
	if cfg.Duration <= 0 {
		return fmt.Errorf("SIM_DURATION must be > 0")
	}
	return nil
}

// loadDataPool picks a small set of movable future appointments so workers contend
// on the same rows.
func loadDataPool(ctx context.Context, pool *pgxpool.Pool, cfg SimConfig) (*DataPool, error) {
	dataPool := &DataPool{}

	rows, err := pool.Query(ctx, `
		SELECT id, doctor_id, version FROM appointments
		WHERE status IN ('pending', 'scheduled', 'confirmed') AND scheduled_at > now()
		ORDER BY scheduled_at
		LIMIT $1
	`, cfg.AppointmentLimit)
	if err != nil {
		return nil, fmt.Errorf("load appointments: %w", err)
	}
	defer rows.Close()

	seen := make(map[uuid.UUID]bool)
	for rows.Next() {
		var a trackedAppointment
		if err := rows.Scan(&a.ID, &a.DoctorID, &a.Version); err != nil {
			return nil, err
		}
		dataPool.appointments = append(dataPool.appointments, a)
		if !seen[a.DoctorID] {
			seen[a.DoctorID] = true
			dataPool.Doctors = append(dataPool.Doctors, a.DoctorID)
		}
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	if len(dataPool.appointments) == 0 {
		return nil, fmt.Errorf("no movable appointments loaded; run the seed first")
	}

	return dataPool, nil
}

func (s *Simulator) Run() {
	ctx, cancel := context.WithTimeout(context.Background(), s.config.Duration)
	defer cancel()

	s.log.Info("simulation running", zap.Duration("duration", s.config.Duration), zap.Int("workers", s.config.Workers))

	var wg sync.WaitGroup
	for i := 0; i < s.config.Workers; i++ {
		wg.Add(1)
		go func(workerID int) {
			defer wg.Done()
			s.worker(ctx, workerID)
		}(i)
	}

	wg.Wait()
	s.log.Info("simulation complete")
}

func (s *Simulator) worker(ctx context.Context, workerID int) {
	rng := rand.New(rand.NewSource(time.Now().UnixNano() + int64(workerID)))

	for {
		select {
		case <-ctx.Done():
			return
		default:
			r := rng.Float64()
			switch {
			case r < s.config.MoveRatio:
				s.doMove(ctx, rng)
			case r < s.config.MoveRatio+s.config.ScheduleRatio:
				s.doSchedule(ctx, rng)
			default:
				s.doSlotSearch(ctx, rng)
			}
		}
	}
}

type appointmentView struct {
	Version     int       `json:"version"`
	ScheduledAt time.Time `json:"scheduled_at"`
}

func (s *Simulator) send(ctx context.Context, method, url string, body any, out any) (int, error) {
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			return 0, err
		}
	}
	req, err := http.NewRequestWithContext(ctx, method, url, &buf)
	if err != nil {
		return 0, err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Actor-ID", s.actor)

	resp, err := s.client.Do(req)
	if err != nil {
		return 0, err
	}
	defer resp.Body.Close()
	if out != nil && resp.StatusCode < 300 {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return resp.StatusCode, err
		}
	}
	return resp.StatusCode, nil
}

// doMove shifts an appointment by up to an hour either way. Stale moves reuse the
// last version this process saw, so they race other workers and expect 409s.
func (s *Simulator) doMove(ctx context.Context, rng *rand.Rand) {
	idx, appt := s.pool.Random(rng)
	base := fmt.Sprintf("%s/appointments/%d", s.config.APIBaseURL, appt.ID)

	var current appointmentView
	if _, err := s.send(ctx, http.MethodGet, base, nil, &current); err != nil || current.ScheduledAt.IsZero() {
		return
	}
	version := current.Version
	if rng.Float64() < s.config.StaleRatio && appt.Version > 0 {
		version = appt.Version
	}

	shift := time.Duration(rng.Intn(8)+1) * 15 * time.Minute
	if rng.Intn(2) == 0 {
		shift = -shift
	}

	var moved struct {
		NewVersion int `json:"new_version"`
	}
	start := time.Now()
	status, err := s.send(ctx, http.MethodPost, base+"/move", map[string]any{
		"new_start_time":   current.ScheduledAt.Add(shift),
		"expected_version": version,
	}, &moved)
	latency := time.Since(start)

	if err == nil && status == http.StatusOK {
		s.pool.Remember(idx, moved.NewVersion)
	} else {
		s.pool.Remember(idx, current.Version)
	}
	// Booking conflicts and hard blocks are also 409; the report counts them together.
	s.metrics.Move.Record(latency, err == nil && status == http.StatusOK, err == nil && status == http.StatusConflict)
}

func (s *Simulator) doSchedule(ctx context.Context, rng *rand.Rand) {
	doctorID := s.pool.Doctors[rng.Intn(len(s.pool.Doctors))]
	from := time.Now().UTC().Format("2006-01-02")
	to := time.Now().UTC().AddDate(0, 0, 7).Format("2006-01-02")

	start := time.Now()
	status, err := s.send(ctx, http.MethodGet,
		fmt.Sprintf("%s/doctors/%s/schedule?start=%s&end=%s", s.config.APIBaseURL, doctorID, from, to), nil, nil)
	s.metrics.Schedule.Record(time.Since(start), err == nil && status == http.StatusOK, false)
}

func (s *Simulator) doSlotSearch(ctx context.Context, rng *rand.Rand) {
	doctorID := s.pool.Doctors[rng.Intn(len(s.pool.Doctors))]
	from := time.Now().UTC().Format(time.RFC3339)
	to := time.Now().UTC().AddDate(0, 0, 3).Format(time.RFC3339)

	start := time.Now()
	status, err := s.send(ctx, http.MethodGet,
		fmt.Sprintf("%s/doctors/%s/slots?from=%s&to=%s&duration=30", s.config.APIBaseURL, doctorID, from, to), nil, nil)
	s.metrics.SlotSearch.Record(time.Since(start), err == nil && status == http.StatusOK, false)
}

func (s *Simulator) PrintReport() {
	fmt.Println("\n" + repeat("=", 80))
	fmt.Println("SIMULATION REPORT")
	fmt.Println(repeat("=", 80))
	fmt.Printf("Duration: %s\n", s.config.Duration)
	fmt.Printf("Workers: %d\n", s.config.Workers)
	fmt.Println()

	printOperationReport("Move", &s.metrics.Move)
	printOperationReport("Schedule read", &s.metrics.Schedule)
	printOperationReport("Slot search", &s.metrics.SlotSearch)
}

func printOperationReport(name string, om *OperationMetrics) {
	total := atomic.LoadInt64(&om.Total)
	if total == 0 {
		return
	}

	success := atomic.LoadInt64(&om.Success)
	conflict := atomic.LoadInt64(&om.Conflict)
	errs := atomic.LoadInt64(&om.Error)

	avg, min, max, p50, p95 := om.Stats()

	fmt.Printf("%s:\n", name)
	fmt.Printf("  Total: %d\n", total)
	fmt.Printf("  Success: %d (%.1f%%)\n", success, float64(success)/float64(total)*100)
	if conflict > 0 {
		fmt.Printf("  Conflicts: %d (%.1f%%)\n", conflict, float64(conflict)/float64(total)*100)
	}
	if errs > 0 {
		fmt.Printf("  Errors: %d (%.1f%%)\n", errs, float64(errs)/float64(total)*100)
	}
	fmt.Printf("  Latency: avg=%s min=%s max=%s p50=%s p95=%s\n",
		avg.Round(time.Millisecond), min.Round(time.Millisecond), max.Round(time.Millisecond),
		p50.Round(time.Millisecond), p95.Round(time.Millisecond))
	fmt.Println()
}

// Helper functions

func repeat(s string, n int) string {
	return strings.Repeat(s, n)
}
