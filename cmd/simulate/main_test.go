package main

import (
	"math"
	"testing"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"

	"github.com/hackgods/clinic-scheduling/internal/config"
)

func TestLoadConfig_NormalizesRatios(t *testing.T) {
	t.Setenv("SIM_MOVE_RATIO", "2")
	t.Setenv("SIM_SCHEDULE_RATIO", "1")
	t.Setenv("SIM_SLOT_SEARCH_RATIO", "1")
	t.Setenv("SIM_DURATION", "5s")

	base := config.Default()
	base.PostgresDSN = "postgres://localhost/clinic"
	cfg := loadConfig(base)

	if math.Abs(cfg.MoveRatio-0.5) > 1e-9 || math.Abs(cfg.ScheduleRatio-0.25) > 1e-9 || math.Abs(cfg.SlotSearchRatio-0.25) > 1e-9 {
		t.Errorf("ratios = %.2f/%.2f/%.2f, want 0.50/0.25/0.25", cfg.MoveRatio, cfg.ScheduleRatio, cfg.SlotSearchRatio)
	}
	if cfg.Duration != 5*time.Second {
		t.Errorf("duration = %s, want 5s", cfg.Duration)
	}
	if err := validateConfig(cfg); err != nil {
		t.Errorf("validateConfig: %v", err)
	}

	cfg.Workers = 0
	if err := validateConfig(cfg); err == nil {
		t.Error("expected error for zero workers")
	}
}

func TestRun_LogsThroughLogger(t *testing.T) {
	core, logs := observer.New(zap.InfoLevel)
	sim := &Simulator{
		config: SimConfig{Duration: time.Millisecond},
		pool:   &DataPool{},
		log:    zap.New(core),
	}

	sim.Run()

	if n := logs.FilterMessage("simulation running").Len(); n != 1 {
		t.Errorf("running entries = %d, want 1", n)
	}
	if n := logs.FilterMessage("simulation complete").Len(); n != 1 {
		t.Errorf("complete entries = %d, want 1", n)
	}
}
