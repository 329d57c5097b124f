package slot

import (
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"
)

// NextSlotHorizonDays is how many calendar days a next-available search looks ahead.
const NextSlotHorizonDays = 7

const minutesPerDay = 24 * 60

var ErrInvalidTimeOfDay = errors.New("time of day must be HH:MM between 00:00 and 24:00")

// TimeOfDay is a wall-clock offset from midnight in minutes. 24:00 is allowed as an
// end bound meaning "end of day".
type TimeOfDay int

func NewTimeOfDay(hour, minute int) (TimeOfDay, error) {
	if hour < 0 || minute < 0 || minute > 59 || hour > 24 || (hour == 24 && minute != 0) {
		return 0, fmt.Errorf("%w: %02d:%02d", ErrInvalidTimeOfDay, hour, minute)
	}
	return TimeOfDay(hour*60 + minute), nil
}

// ParseTimeOfDay accepts "HH:MM" and "HH:MM:SS". Seconds are validated, then dropped.
func ParseTimeOfDay(s string) (TimeOfDay, error) {
	parts := strings.Split(strings.TrimSpace(s), ":")
	if len(parts) < 2 || len(parts) > 3 {
		return 0, fmt.Errorf("%w: %q", ErrInvalidTimeOfDay, s)
	}
	h, ok := parseClockField(parts[0])
	if !ok {
		return 0, fmt.Errorf("%w: %q", ErrInvalidTimeOfDay, s)
	}
	m, ok := parseClockField(parts[1])
	if !ok {
		return 0, fmt.Errorf("%w: %q", ErrInvalidTimeOfDay, s)
	}
	if len(parts) == 3 {
		sec, ok := parseClockField(parts[2])
		if !ok || sec > 59 || (h == 24 && sec != 0) {
			return 0, fmt.Errorf("%w: %q", ErrInvalidTimeOfDay, s)
		}
	}
	return NewTimeOfDay(h, m)
}

// parseClockField accepts one or two ASCII digits, no sign.
func parseClockField(s string) (int, bool) {
	if len(s) == 0 || len(s) > 2 {
		return 0, false
	}
	n := 0
	for _, c := range s {
		if c < '0' || c > '9' {
			return 0, false
		}
		n = n*10 + int(c-'0')
	}
	return n, true
}

func MustParseTimeOfDay(s string) TimeOfDay {
	t, err := ParseTimeOfDay(s)
	if err != nil {
		panic(err)
	}
	return t
}

func TimeOfDayOf(t time.Time) TimeOfDay {
	return TimeOfDay(t.Hour()*60 + t.Minute())
}

func (t TimeOfDay) Valid() bool {
	return t >= 0 && t <= minutesPerDay
}

func (t TimeOfDay) Hour() int   { return int(t) / 60 }
func (t TimeOfDay) Minute() int { return int(t) % 60 }

func (t TimeOfDay) String() string {
	return fmt.Sprintf("%02d:%02d", t.Hour(), t.Minute())
}

// On anchors the time of day on the calendar day of date, in date's location.
// time.Date normalises 24:00 to the next midnight and handles DST gaps.
func (t TimeOfDay) On(date time.Time) time.Time {
	return time.Date(date.Year(), date.Month(), date.Day(), t.Hour(), t.Minute(), 0, 0, date.Location())
}

func (t TimeOfDay) MarshalJSON() ([]byte, error) {
	return json.Marshal(t.String())
}

func (t *TimeOfDay) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}
	parsed, err := ParseTimeOfDay(s)
	if err != nil {
		return err
	}
	*t = parsed
	return nil
}

// WorkingHours are same-day bounds, e.g. 09:00–17:00.
type WorkingHours struct {
	Start TimeOfDay `json:"start"`
	End   TimeOfDay `json:"end"`
}

func (wh WorkingHours) Validate() error {
	if !wh.Start.Valid() || !wh.End.Valid() || wh.Start >= wh.End {
		return fmt.Errorf("%w: working hours %s-%s", ErrInvalidWindow, wh.Start, wh.End)
	}
	return nil
}

// WindowOn returns the absolute working window on date's calendar day.
func (wh WorkingHours) WindowOn(date time.Time) (Window, bool) {
	return dailyWindow(date, wh.Start, wh.End)
}

// BreakTime is a recurring same-day exclusion such as lunch.
type BreakTime struct {
	Start TimeOfDay `json:"start"`
	End   TimeOfDay `json:"end"`
	Label string    `json:"label,omitempty"`
}

func (b BreakTime) WindowOn(date time.Time) (Window, bool) {
	return dailyWindow(date, b.Start, b.End)
}

func dailyWindow(date time.Time, from, to TimeOfDay) (Window, bool) {
	if from >= to {
		return Window{}, false
	}
	start := from.On(date)
	end := to.On(date)
	if !start.Before(end) {
		return Window{}, false
	}
	return Window{start: start.Truncate(time.Millisecond), end: end.Truncate(time.Millisecond)}, true
}

// StartOfDay is midnight of t's calendar day in t's location.
func StartOfDay(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, t.Location())
}

func IsWithinWorkingHours(t time.Time, wh WorkingHours) bool {
	w, ok := wh.WindowOn(t)
	return ok && w.ContainsTime(t)
}

// IsSlotWithinWorkingHours requires full containment; starting inside is not enough.
func IsSlotWithinWorkingHours(slot Window, wh WorkingHours) bool {
	w, ok := wh.WindowOn(slot.Start())
	return ok && w.ContainsWindow(slot)
}

func IsNotInBreakTime(t time.Time, breaks []BreakTime) bool {
	for _, b := range breaks {
		if w, ok := b.WindowOn(t); ok && w.ContainsTime(t) {
			return false
		}
	}
	return true
}

// IsAvailableDuringSlot checks the slot against breaks on every calendar day it touches.
func IsAvailableDuringSlot(slot Window, breaks []BreakTime) bool {
	last := StartOfDay(slot.End().Add(-time.Millisecond))
	for day := StartOfDay(slot.Start()); !day.After(last); day = day.AddDate(0, 0, 1) {
		for _, b := range breaks {
			if w, ok := b.WindowOn(day); ok && slot.OverlapsWith(w) {
				return false
			}
		}
	}
	return true
}

// DayPlanFunc returns the bookable windows on the calendar day containing day.
type DayPlanFunc func(day time.Time) []Window

type NextSlotQuery struct {
	From          time.Time
	Duration      time.Duration
	StepMinutes   int
	HorizonDays   int
	Plan          DayPlanFunc
	Busy          []Window
	BufferMinutes int
}

// NextAvailable walks forward day by day. Candidates are aligned on each working
// window's start in StepMinutes increments. Not finding anything is a normal outcome.
func NextAvailable(q NextSlotQuery) (Window, bool) {
	if q.Duration <= 0 || q.StepMinutes <= 0 || q.Plan == nil {
		return Window{}, false
	}
	horizon := q.HorizonDays
	if horizon <= 0 {
		horizon = NextSlotHorizonDays
	}
	step := time.Duration(q.StepMinutes) * time.Minute
	from := q.From.Truncate(time.Millisecond)
	firstDay := StartOfDay(from)

	for d := 0; d < horizon; d++ {
		day := firstDay.AddDate(0, 0, d)
		open := q.Plan(day)
		sort.Slice(open, func(i, j int) bool { return open[i].start.Before(open[j].start) })

		for _, w := range open {
			for start := w.start; !start.Add(q.Duration).After(w.end); start = start.Add(step) {
				if start.Before(from) {
					continue
				}
				candidate := Window{start: start, end: start.Add(q.Duration)}
				if !HasConflict(candidate, q.Busy, q.BufferMinutes) {
					return candidate, true
				}
			}
		}
	}
	return Window{}, false
}

// GetNextAvailableSlot is NextAvailable with the same working hours and breaks every day.
func GetNextAvailableSlot(from time.Time, duration time.Duration, stepMinutes int, wh WorkingHours, breaks []BreakTime) (Window, bool) {
	return NextAvailable(NextSlotQuery{
		From:        from,
		Duration:    duration,
		StepMinutes: stepMinutes,
		Plan:        FixedDayPlan(wh, breaks),
	})
}

// FixedDayPlan yields working hours minus breaks for any date.
func FixedDayPlan(wh WorkingHours, breaks []BreakTime) DayPlanFunc {
	return func(day time.Time) []Window {
		w, ok := wh.WindowOn(day)
		if !ok {
			return nil
		}
		excluded := make([]Window, 0, len(breaks))
		for _, b := range breaks {
			if bw, ok := b.WindowOn(day); ok {
				excluded = append(excluded, bw)
			}
		}
		return Subtract(w, excluded)
	}
}

func HasBufferBetweenAppointments(end time.Time, bufferMinutes int, nextStart time.Time) bool {
	return nextStart.Sub(end) >= bufferOf(bufferMinutes)
}

// CalculateFreeTimeBetween returns whole free minutes between two bookings, 0 if they overlap.
func CalculateFreeTimeBetween(end, nextStart time.Time) int {
	gap := nextStart.Sub(end)
	if gap <= 0 {
		return 0
	}
	return int(gap / time.Minute)
}

func HasAvailabilityOnDay(date time.Time, wh WorkingHours, breaks []BreakTime) bool {
	return len(FixedDayPlan(wh, breaks)(date)) > 0
}
