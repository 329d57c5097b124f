package slot

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

// DefaultMaxDuration bounds a single booking window. Anything longer is almost
// always a data-entry mistake (wrong day, AM/PM swap).
const DefaultMaxDuration = 8 * time.Hour

var (
	ErrInvalidWindow  = errors.New("window start must be before end")
	ErrWindowTooLong  = errors.New("window exceeds maximum duration")
	ErrInvalidMinutes = errors.New("duration minutes must be positive")
)

// Window is a half-open time interval [start, end). Zero value is not a valid window.
type Window struct {
	start time.Time
	end   time.Time
}

type options struct {
	maxDuration time.Duration
}

type Option func(*options)

// WithMaxDuration overrides DefaultMaxDuration. Zero disables the bound.
func WithMaxDuration(d time.Duration) Option {
	return func(o *options) {
		o.maxDuration = d
	}
}

// Unbounded is used for blocks and search ranges which legitimately span days.
func Unbounded() Option {
	return WithMaxDuration(0)
}

func New(start, end time.Time, opts ...Option) (Window, error) {
	o := options{maxDuration: DefaultMaxDuration}
	for _, opt := range opts {
		opt(&o)
	}

	start = start.Truncate(time.Millisecond)
	end = end.Truncate(time.Millisecond)

	if !start.Before(end) {
		return Window{}, fmt.Errorf("%w: start=%s end=%s", ErrInvalidWindow, start.Format(time.RFC3339), end.Format(time.RFC3339))
	}
	if o.maxDuration > 0 && end.Sub(start) > o.maxDuration {
		return Window{}, fmt.Errorf("%w: %s > %s", ErrWindowTooLong, end.Sub(start), o.maxDuration)
	}

	return Window{start: start, end: end}, nil
}

func FromDuration(start time.Time, d time.Duration, opts ...Option) (Window, error) {
	if d <= 0 {
		return Window{}, fmt.Errorf("%w: duration %s", ErrInvalidWindow, d)
	}
	return New(start, start.Add(d), opts...)
}

// FromScheduled builds the window of a booking stored as scheduled_at + duration_minutes.
func FromScheduled(scheduledAt time.Time, durationMinutes int, opts ...Option) (Window, error) {
	if durationMinutes <= 0 {
		return Window{}, fmt.Errorf("%w: got %d", ErrInvalidMinutes, durationMinutes)
	}
	return FromDuration(scheduledAt, time.Duration(durationMinutes)*time.Minute, opts...)
}

func (w Window) Start() time.Time { return w.start }
func (w Window) End() time.Time   { return w.end }

func (w Window) Duration() time.Duration {
	return w.end.Sub(w.start)
}

func (w Window) Minutes() int {
	return int(w.Duration() / time.Minute)
}

func (w Window) IsZero() bool {
	return w.start.IsZero() && w.end.IsZero()
}

// SlotWindow lets a bare Window be used wherever an Occupant is expected.
func (w Window) SlotWindow() Window { return w }

// OverlapsWith is symmetric; touching endpoints do not overlap.
func (w Window) OverlapsWith(other Window) bool {
	return w.start.Before(other.end) && other.start.Before(w.end)
}

func (w Window) IsAdjacentTo(other Window) bool {
	return w.end.Equal(other.start) || other.end.Equal(w.start)
}

func (w Window) ContainsWindow(other Window) bool {
	return !other.start.Before(w.start) && !other.end.After(w.end)
}

func (w Window) ContainsTime(t time.Time) bool {
	return !t.Before(w.start) && t.Before(w.end)
}

// ConflictsWith treats adjacency as a conflict unless allowAdjacent is set.
func (w Window) ConflictsWith(other Window, allowAdjacent bool) bool {
	if w.OverlapsWith(other) {
		return true
	}
	return !allowAdjacent && w.IsAdjacentTo(other)
}

func (w Window) IsPast(now time.Time) bool {
	return !w.end.After(now)
}

func (w Window) IsFuture(now time.Time) bool {
	return w.start.After(now)
}

func (w Window) Shift(d time.Duration) Window {
	return Window{start: w.start.Add(d), end: w.end.Add(d)}
}

// MoveTo keeps the length and anchors the window at start.
func (w Window) MoveTo(start time.Time) Window {
	start = start.Truncate(time.Millisecond)
	return Window{start: start, end: start.Add(w.Duration())}
}

// Expand widens the window on both sides. Negative values are treated as zero.
func (w Window) Expand(before, after time.Duration) Window {
	if before < 0 {
		before = 0
	}
	if after < 0 {
		after = 0
	}
	return Window{start: w.start.Add(-before), end: w.end.Add(after)}
}

func (w Window) Intersect(other Window) (Window, bool) {
	if !w.OverlapsWith(other) {
		return Window{}, false
	}
	start := w.start
	if other.start.After(start) {
		start = other.start
	}
	end := w.end
	if other.end.Before(end) {
		end = other.end
	}
	return Window{start: start, end: end}, true
}

func (w Window) Equal(other Window) bool {
	return w.start.Equal(other.start) && w.end.Equal(other.end)
}

func (w Window) String() string {
	return fmt.Sprintf("[%s, %s)", w.start.Format(time.RFC3339), w.end.Format(time.RFC3339))
}

type windowJSON struct {
	Start time.Time `json:"start"`
	End   time.Time `json:"end"`
}

func (w Window) MarshalJSON() ([]byte, error) {
	return json.Marshal(windowJSON{Start: w.start, End: w.end})
}

func (w *Window) UnmarshalJSON(data []byte) error {
	var raw windowJSON
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	parsed, err := New(raw.Start, raw.End, Unbounded())
	if err != nil {
		return err
	}
	*w = parsed
	return nil
}
