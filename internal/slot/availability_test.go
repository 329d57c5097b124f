package slot

import (
	"encoding/json"
	"errors"
	"testing"
	"time"
)

var (
	nineToFive = WorkingHours{Start: MustParseTimeOfDay("09:00"), End: MustParseTimeOfDay("17:00")}
	lunch      = []BreakTime{{Start: MustParseTimeOfDay("12:00"), End: MustParseTimeOfDay("13:00"), Label: "lunch"}}
)

func day(hour, minute int) time.Time {
	return time.Date(2026, 3, 2, hour, minute, 0, 0, time.UTC)
}

func TestParseTimeOfDay(t *testing.T) {
	tests := []struct {
		in      string
		want    TimeOfDay
		wantErr bool
	}{
		{"09:00", 540, false},
		{"17:30:00", 1050, false},
		{"24:00", 1440, false},
		{"24:01", 0, true},
		{"12:60", 0, true},
		{"noon", 0, true},
		{"9", 0, true},
		{"09:00:59", 540, false},
		{"09:00:xx", 0, true},
		{"09:00:60", 0, true},
		{"24:00:01", 0, true},
		{"+9:00", 0, true},
		{"09:-1", 0, true},
		{"009:00", 0, true},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := ParseTimeOfDay(tt.in)
			if tt.wantErr {
				if !errors.Is(err, ErrInvalidTimeOfDay) {
					t.Errorf("expected ErrInvalidTimeOfDay, got %v", err)
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if got != tt.want {
				t.Errorf("got %d, want %d", got, tt.want)
			}
		})
	}
}

func TestTimeOfDayJSON(t *testing.T) {
	var wh WorkingHours
	if err := json.Unmarshal([]byte(`{"start":"08:30","end":"16:00"}`), &wh); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if wh.Start.String() != "08:30" || wh.End.String() != "16:00" {
		t.Errorf("unexpected working hours: %+v", wh)
	}
	data, _ := json.Marshal(wh)
	if string(data) != `{"start":"08:30","end":"16:00"}` {
		t.Errorf("marshal = %s", data)
	}
}

func TestWorkingHoursValidate(t *testing.T) {
	if err := nineToFive.Validate(); err != nil {
		t.Errorf("unexpected error: %v", err)
	}
	bad := WorkingHours{Start: MustParseTimeOfDay("17:00"), End: MustParseTimeOfDay("09:00")}
	if err := bad.Validate(); !errors.Is(err, ErrInvalidWindow) {
		t.Errorf("expected ErrInvalidWindow, got %v", err)
	}
}

func TestIsWithinWorkingHours(t *testing.T) {
	if !IsWithinWorkingHours(day(9, 0), nineToFive) {
		t.Error("09:00 should be inside")
	}
	if IsWithinWorkingHours(day(17, 0), nineToFive) {
		t.Error("17:00 is the exclusive end")
	}
	if IsWithinWorkingHours(day(8, 59), nineToFive) {
		t.Error("08:59 should be outside")
	}
}

func TestIsSlotWithinWorkingHours_RequiresContainment(t *testing.T) {
	inside, _ := New(day(16, 0), day(17, 0))
	if !IsSlotWithinWorkingHours(inside, nineToFive) {
		t.Error("16:00-17:00 should fit")
	}
	spill, _ := New(day(16, 30), day(17, 30))
	if IsSlotWithinWorkingHours(spill, nineToFive) {
		t.Error("slot starting inside but ending after close should not fit")
	}
}

func TestBreaks(t *testing.T) {
	if IsNotInBreakTime(day(12, 30), lunch) {
		t.Error("12:30 is during lunch")
	}
	if !IsNotInBreakTime(day(13, 0), lunch) {
		t.Error("13:00 is after lunch")
	}

	overlapping, _ := New(day(11, 30), day(12, 30))
	if IsAvailableDuringSlot(overlapping, lunch) {
		t.Error("slot overlapping lunch should not be available")
	}
	before, _ := New(day(11, 0), day(12, 0))
	if !IsAvailableDuringSlot(before, lunch) {
		t.Error("slot ending at lunch start should be available")
	}
}

func TestIsAvailableDuringSlot_ChecksEveryDay(t *testing.T) {
	// Starts after Monday's lunch and ends before Wednesday's, so only Tuesday's break
	// overlaps.
	span, err := New(day(13, 0), day(11, 0).AddDate(0, 0, 2), Unbounded())
	if err != nil {
		t.Fatal(err)
	}
	if IsAvailableDuringSlot(span, lunch) {
		t.Error("window spanning Tuesday lunch should not be available")
	}

	overnight, err := New(day(13, 0), day(11, 0).AddDate(0, 0, 1), Unbounded())
	if err != nil {
		t.Fatal(err)
	}
	if !IsAvailableDuringSlot(overnight, lunch) {
		t.Error("window from Monday 13:00 to Tuesday 11:00 misses both lunches")
	}
}

func TestGetNextAvailableSlot_SkipsBreakAndRollsToNextDay(t *testing.T) {
	got, ok := GetNextAvailableSlot(day(11, 45), 30*time.Minute, 15, nineToFive, lunch)
	if !ok {
		t.Fatal("expected a slot")
	}
	if !got.Start().Equal(day(13, 0)) {
		t.Errorf("expected 13:00 after lunch, got %v", got)
	}

	got, ok = GetNextAvailableSlot(day(16, 45), time.Hour, 15, nineToFive, lunch)
	if !ok {
		t.Fatal("expected a slot on the next day")
	}
	if !got.Start().Equal(day(9, 0).AddDate(0, 0, 1)) {
		t.Errorf("expected next morning 09:00, got %v", got)
	}
}

func TestNextAvailable_AvoidsBusyWithBuffer(t *testing.T) {
	busy, _ := New(day(9, 0), day(10, 0))
	got, ok := NextAvailable(NextSlotQuery{
		From:          day(8, 0),
		Duration:      30 * time.Minute,
		StepMinutes:   15,
		Plan:          FixedDayPlan(nineToFive, nil),
		Busy:          []Window{busy},
		BufferMinutes: 10,
	})
	if !ok {
		t.Fatal("expected a slot")
	}
	if !got.Start().Equal(day(10, 15)) {
		t.Errorf("expected 10:15 once the buffer clears, got %v", got)
	}
}

func TestNextAvailable_NothingWithinHorizon(t *testing.T) {
	_, ok := NextAvailable(NextSlotQuery{
		From:        day(9, 0),
		Duration:    30 * time.Minute,
		StepMinutes: 15,
		HorizonDays: 3,
		Plan:        func(time.Time) []Window { return nil },
	})
	if ok {
		t.Error("expected no slot when no day has open hours")
	}
}

func TestGapHelpers(t *testing.T) {
	if !HasBufferBetweenAppointments(day(10, 0), 15, day(10, 15)) {
		t.Error("exact buffer should be enough")
	}
	if HasBufferBetweenAppointments(day(10, 0), 15, day(10, 10)) {
		t.Error("10 minute gap is short of a 15 minute buffer")
	}
	if got := CalculateFreeTimeBetween(day(10, 0), day(10, 45)); got != 45 {
		t.Errorf("free = %d, want 45", got)
	}
	if got := CalculateFreeTimeBetween(day(10, 0), day(9, 30)); got != 0 {
		t.Errorf("overlap should give 0, got %d", got)
	}
	if HasAvailabilityOnDay(day(0, 0), WorkingHours{Start: 600, End: 660}, []BreakTime{{Start: 600, End: 660}}) {
		t.Error("break covering the whole day leaves nothing")
	}
}
