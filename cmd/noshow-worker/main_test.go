package main

import (
	"context"
	"errors"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
	"go.uber.org/zap"

	"github.com/hackgods/clinic-scheduling/internal/metrics"
	redisclient "github.com/hackgods/clinic-scheduling/internal/redis"
	"github.com/hackgods/clinic-scheduling/internal/scheduling"
)

type fakeLeaser struct{ held bool }

func (l fakeLeaser) WithLease(ctx context.Context, _ string, fn func(context.Context) error) error {
	if l.held {
		return redisclient.ErrLeaseNotAcquired
	}
	return fn(ctx)
}

type countingSweeper struct {
	calls int
	err   error
}

func (s *countingSweeper) SweepNoShows(context.Context) (scheduling.SweepResult, error) {
	s.calls++
	return scheduling.SweepResult{Examined: 2, Marked: 1}, s.err
}

func TestRunOnce_SkipsWhenLeaseHeld(t *testing.T) {
	m := metrics.NewCollector("test", prometheus.NewRegistry())
	sw := &countingSweeper{}
	w := &worker{svc: sw, leaser: fakeLeaser{held: true}, log: zap.NewNop(), metrics: m}

	w.runOnce(context.Background())

	if sw.calls != 0 {
		t.Fatalf("sweep ran %d times without the lease", sw.calls)
	}
	if got := testutil.ToFloat64(m.NoShowSweeps.WithLabelValues("skipped")); got != 1 {
		t.Errorf("skipped sweeps = %v, want 1", got)
	}
}

func TestRunOnce_SweepsUnderLease(t *testing.T) {
	for _, sweepErr := range []error{nil, errors.New("db down")} {
		sw := &countingSweeper{err: sweepErr}
		w := &worker{svc: sw, leaser: fakeLeaser{}, log: zap.NewNop()}

		w.runOnce(context.Background())

		if sw.calls != 1 {
			t.Errorf("err=%v: sweep calls = %d, want 1", sweepErr, sw.calls)
		}
	}
}

func TestRunOnce_RecordsSpan(t *testing.T) {
	sr := tracetest.NewSpanRecorder()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(sr))

	for _, held := range []bool{false, true} {
		w := &worker{svc: &countingSweeper{}, leaser: fakeLeaser{held: held}, log: zap.NewNop(), tracer: tp.Tracer("test")}
		w.runOnce(context.Background())
	}

	spans := sr.Ended()
	if len(spans) != 2 {
		t.Fatalf("got %d spans, want 2", len(spans))
	}
	for i, want := range []bool{true, false} {
		if spans[i].Name() != "noshow.run" {
			t.Errorf("span %d name = %q", i, spans[i].Name())
		}
		var acquired, found bool
		for _, kv := range spans[i].Attributes() {
			if kv.Key == "lease.acquired" {
				acquired, found = kv.Value.AsBool(), true
			}
		}
		if !found || acquired != want {
			t.Errorf("span %d lease.acquired = %v (found %v), want %v", i, acquired, found, want)
		}
	}
}
