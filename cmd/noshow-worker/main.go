package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/robfig/cron/v3"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/hackgods/clinic-scheduling/internal/config"
	"github.com/hackgods/clinic-scheduling/internal/db"
	"github.com/hackgods/clinic-scheduling/internal/logger"
	"github.com/hackgods/clinic-scheduling/internal/metrics"
	redisclient "github.com/hackgods/clinic-scheduling/internal/redis"
	"github.com/hackgods/clinic-scheduling/internal/scheduling"
	"github.com/hackgods/clinic-scheduling/internal/tracing"
)

const leaseName = "no-show-sweep"

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "noshow-worker: %v\n", err)
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
	log = log.With(zap.String("component", "noshow-worker"), zap.String("env", cfg.Env))
	log.Info("noshow-worker starting up",
		zap.Duration("interval", cfg.WorkerInterval),
		zap.Duration("grace", cfg.NoShowGrace),
		zap.Int("batch", cfg.NoShowBatchSize))

	rootCtx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	tp, err := tracing.Init(rootCtx, tracing.Config{
		Enabled:     cfg.TracingEnabled,
		Endpoint:    cfg.OTLPEndpoint,
		ServiceName: "clinic-scheduling-noshow-worker",
		Environment: cfg.Env,
		SampleRate:  cfg.TracingSampleRate,
	})
	if err != nil {
		return fmt.Errorf("tracing init: %w", err)
	}
	defer func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := tp.Shutdown(ctx); err != nil {
			log.Warn("tracer shutdown", zap.Error(err))
		}
	}()

	// Connect Postgres
	pgCtx, cancelPg := context.WithTimeout(rootCtx, 10*time.Second)
	pgPool, err := db.ConnectPostgres(pgCtx, cfg.PostgresDSN)
	cancelPg()
	if err != nil {
		return fmt.Errorf("postgres connection: %w", err)
	}
	defer pgPool.Close()
	log.Info("connected to Postgres")

	rdb, err := redisclient.NewRedisClient(rootCtx, cfg.RedisAddr, cfg.RedisUsername, cfg.RedisPassword,
		redisclient.WithClientName("noshow-worker"), redisclient.WithPoolSize(4, 1))
	if err != nil {
		return fmt.Errorf("redis connection: %w", err)
	}
	defer func() {
		if err := rdb.Close(); err != nil {
			log.Warn("error closing redis", zap.Error(err))
		}
	}()
	log.Info("connected to Redis")

	reg := prometheus.NewRegistry()
	m := metrics.NewCollector(cfg.MetricsNamespace, reg)
	go serveMetrics(rootCtx, log, cfg.WorkerMetrics, reg)

	opts := []scheduling.Option{scheduling.WithLogger(log), scheduling.WithMetrics(m)}
	if cfg.ScheduleCacheTTL > 0 {
		opts = append(opts, scheduling.WithCache(redisclient.NewScheduleCache(rdb, cfg.ScheduleCacheTTL, log)))
	}
	svc := scheduling.NewService(scheduling.NewPgRepository(pgPool), cfg, opts...)
	w := &worker{
		svc:     svc,
		leaser:  redisclient.NewRedisLeaser(rdb, cfg.LockTTL),
		log:     log,
		metrics: m,
		tracer:  tp.Tracer("github.com/hackgods/clinic-scheduling/cmd/noshow-worker"),
	}

	// Run once at startup
	w.runOnce(rootCtx)

	spec := cfg.WorkerSchedule
	if spec == "" {
		spec = "@every " + cfg.WorkerInterval.String()
	}
	cl := cronLogger{log.Sugar()}
	c := cron.New(
		cron.WithLocation(cfg.Location),
		cron.WithLogger(cl),
		cron.WithChain(cron.Recover(cl), cron.SkipIfStillRunning(cl)),
	)
	if _, err := c.AddFunc(spec, func() { w.runOnce(rootCtx) }); err != nil {
		return fmt.Errorf("invalid sweep schedule %q: %w", spec, err)
	}
	c.Start()
	log.Info("sweep scheduled", zap.String("schedule", spec))

	<-rootCtx.Done()
	log.Info("shutdown signal received, stopping noshow-worker")
	<-c.Stop().Done()
	return nil
}

// cronLogger routes cron's own messages through zap.
type cronLogger struct{ s *zap.SugaredLogger }

func (l cronLogger) Info(msg string, keysAndValues ...interface{}) {
	l.s.Debugw(msg, keysAndValues...)
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	l.s.Errorw(msg, append(keysAndValues, "error", err)...)
}

type sweeper interface {
	SweepNoShows(ctx context.Context) (scheduling.SweepResult, error)
}

type worker struct {
	svc     sweeper
	leaser  redisclient.Leaser
	log     *zap.Logger
	metrics *metrics.Collector
	tracer  trace.Tracer
}

// runOnce sweeps under a cluster-wide lease; replicas that miss the lease skip the tick.
func (w *worker) runOnce(ctx context.Context) {
	tracer := w.tracer
	if tracer == nil {
		tracer = otel.Tracer("github.com/hackgods/clinic-scheduling/cmd/noshow-worker")
	}
	ctx, span := tracer.Start(ctx, "noshow.run")
	defer span.End()

	start := time.Now()
	var res scheduling.SweepResult

	err := w.leaser.WithLease(ctx, leaseName, func(ctx context.Context) error {
		var err error
		res, err = w.svc.SweepNoShows(ctx)
		return err
	})
	switch {
	case errors.Is(err, redisclient.ErrLeaseNotAcquired):
		w.metrics.Sweep("skipped", 0)
		span.SetAttributes(attribute.Bool("lease.acquired", false))
		w.log.Debug("sweep lease held elsewhere, skipping")
	case err != nil:
		span.RecordError(err)
		span.SetStatus(codes.Error, "sweep failed")
		w.log.Error("no-show sweep failed", zap.Error(err), zap.Int("marked", res.Marked))
	default:
		span.SetAttributes(attribute.Bool("lease.acquired", true), attribute.Int("sweep.marked", res.Marked))
		w.log.Info("no-show sweep complete",
			zap.Int("examined", res.Examined),
			zap.Int("marked", res.Marked),
			zap.Int("skipped", res.Skipped),
			zap.Int("failed", res.Failed),
			zap.Duration("took", time.Since(start)))
	}
}

func serveMetrics(ctx context.Context, log *zap.Logger, addr string, g prometheus.Gatherer) {
	if addr == "" {
		return
	}
	srv := &http.Server{Addr: addr, Handler: metrics.Handler(g), ReadHeaderTimeout: 5 * time.Second}
	go func() {
		<-ctx.Done()
		_ = srv.Close()
	}()
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		log.Warn("metrics server stopped", zap.Error(err))
	}
}
