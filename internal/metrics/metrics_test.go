package metrics

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestObserveOperation_CountsVersionConflicts(t *testing.T) {
	c := NewCollector("test", prometheus.NewRegistry())

	c.ObserveOperation("move", "ok", time.Millisecond)
	c.ObserveOperation("move", "version_conflict", time.Millisecond)
	c.ObserveOperation("move", "version_conflict", time.Millisecond)

	if got := testutil.ToFloat64(c.OperationsTotal.WithLabelValues("move", "version_conflict")); got != 2 {
		t.Errorf("version_conflict outcomes = %v, want 2", got)
	}
	if got := testutil.ToFloat64(c.VersionConflicts); got != 2 {
		t.Errorf("version conflicts = %v, want 2", got)
	}
}

func TestSweepAndCache(t *testing.T) {
	c := NewCollector("test", prometheus.NewRegistry())
	c.Sweep("ok", 3)
	c.Sweep("ok", 2)
	c.CacheResult("hit")

	if got := testutil.ToFloat64(c.NoShowMarked); got != 5 {
		t.Errorf("marked = %v, want 5", got)
	}
	if got := testutil.ToFloat64(c.CacheRequests.WithLabelValues("hit")); got != 1 {
		t.Errorf("cache hits = %v, want 1", got)
	}
}

func TestTrackInFlight(t *testing.T) {
	c := NewCollector("test", prometheus.NewRegistry())
	done := c.TrackInFlight()
	if got := testutil.ToFloat64(c.InFlightGauge); got != 1 {
		t.Errorf("in flight = %v, want 1", got)
	}
	done()
	if got := testutil.ToFloat64(c.InFlightGauge); got != 0 {
		t.Errorf("in flight = %v, want 0", got)
	}
}

func TestNilCollectorIsSafe(t *testing.T) {
	var c *Collector
	c.ObserveRequest("GET", "/", "200", time.Millisecond)
	c.ObserveOperation("move", "ok", time.Millisecond)
	c.CacheResult("miss")
	c.Sweep("ok", 1)
	c.RateLimitHit()
	c.TrackInFlight()()
}
