package slot

import (
	"errors"
	"fmt"
	"math"
	"sort"
	"time"
)

// MaxSearchHorizon caps how far a free-slot search may walk in one call.
const MaxSearchHorizon = 7 * 24 * time.Hour

var (
	ErrInvalidStep        = errors.New("step minutes must be positive")
	ErrSearchRangeTooLong = errors.New("search range exceeds horizon")
)

// Occupant is anything that occupies a window on a calendar: a booking, a block, a break.
type Occupant interface {
	SlotWindow() Window
}

type BusyTime struct {
	BusyMinutes           int     `json:"busy_minutes"`
	FreeMinutes           int     `json:"free_minutes"`
	UtilizationPercentage float64 `json:"utilization_percentage"`
}

func bufferOf(minutes int) time.Duration {
	if minutes <= 0 {
		return 0
	}
	return time.Duration(minutes) * time.Minute
}

// HasConflict pads every existing window by bufferMinutes on both sides before the
// overlap test, so a zero buffer keeps back-to-back bookings legal.
func HasConflict[T Occupant](candidate Window, existing []T, bufferMinutes int) bool {
	buf := bufferOf(bufferMinutes)
	for _, e := range existing {
		if candidate.OverlapsWith(e.SlotWindow().Expand(buf, buf)) {
			return true
		}
	}
	return false
}

// FindConflicts returns every conflicting occupant in input order.
func FindConflicts[T Occupant](candidate Window, existing []T, bufferMinutes int) []T {
	buf := bufferOf(bufferMinutes)
	var out []T
	for _, e := range existing {
		if candidate.OverlapsWith(e.SlotWindow().Expand(buf, buf)) {
			out = append(out, e)
		}
	}
	return out
}

func IsSlotAvailable[T Occupant](candidate Window, existing []T, bufferMinutes int) bool {
	return !HasConflict(candidate, existing, bufferMinutes)
}

// FindAvailableSlots walks searchRange in stepMinutes increments and returns every
// window of slotDuration that fits inside the range without a conflict.
func FindAvailableSlots[T Occupant](searchRange Window, slotDuration time.Duration, existing []T, bufferMinutes, stepMinutes int) ([]Window, error) {
	if stepMinutes <= 0 {
		return nil, fmt.Errorf("%w: got %d", ErrInvalidStep, stepMinutes)
	}
	if slotDuration <= 0 {
		return nil, fmt.Errorf("%w: slot duration %s", ErrInvalidWindow, slotDuration)
	}
	if searchRange.Duration() > MaxSearchHorizon {
		return nil, fmt.Errorf("%w: %s > %s", ErrSearchRangeTooLong, searchRange.Duration(), MaxSearchHorizon)
	}

	step := time.Duration(stepMinutes) * time.Minute
	var out []Window
	for start := searchRange.Start(); !start.Add(slotDuration).After(searchRange.End()); start = start.Add(step) {
		candidate := Window{start: start, end: start.Add(slotDuration)}
		if !HasConflict(candidate, existing, bufferMinutes) {
			out = append(out, candidate)
		}
	}
	return out, nil
}

// CalculateBusyTime unions the occupants clipped to searchRange, so stacked bookings
// are never counted twice.
func CalculateBusyTime[T Occupant](searchRange Window, existing []T) BusyTime {
	total := searchRange.Duration()
	if total <= 0 {
		return BusyTime{}
	}

	clipped := make([]Window, 0, len(existing))
	for _, e := range existing {
		if w, ok := e.SlotWindow().Intersect(searchRange); ok {
			clipped = append(clipped, w)
		}
	}

	var busy time.Duration
	for _, w := range Merge(clipped) {
		busy += w.Duration()
	}

	pct := float64(busy) / float64(total) * 100
	return BusyTime{
		BusyMinutes:           int(busy / time.Minute),
		FreeMinutes:           int((total - busy) / time.Minute),
		UtilizationPercentage: math.Round(pct*100) / 100,
	}
}

// IsOverbookedAt reports whether the existing occupants already stack maxConcurrent deep
// at some instant inside candidate, i.e. adding candidate would exceed the limit.
func IsOverbookedAt[T Occupant](candidate Window, existing []T, maxConcurrent int) bool {
	if maxConcurrent <= 0 {
		maxConcurrent = 1
	}
	return MaxDepth(candidate, existing) >= maxConcurrent
}

// MaxDepth is the largest number of occupants overlapping any single instant of within.
func MaxDepth[T Occupant](within Window, existing []T) int {
	type edge struct {
		at    time.Time
		delta int
	}
	edges := make([]edge, 0, len(existing)*2)
	for _, e := range existing {
		w, ok := e.SlotWindow().Intersect(within)
		if !ok {
			continue
		}
		edges = append(edges, edge{at: w.start, delta: 1}, edge{at: w.end, delta: -1})
	}

	// Half-open: an end at T is processed before a start at T.
	sort.Slice(edges, func(i, j int) bool {
		if edges[i].at.Equal(edges[j].at) {
			return edges[i].delta < edges[j].delta
		}
		return edges[i].at.Before(edges[j].at)
	})

	depth, maxDepth := 0, 0
	for _, e := range edges {
		depth += e.delta
		if depth > maxDepth {
			maxDepth = depth
		}
	}
	return maxDepth
}

// Merge sorts windows and coalesces overlapping or touching ones.
func Merge(windows []Window) []Window {
	if len(windows) == 0 {
		return nil
	}
	sorted := make([]Window, len(windows))
	copy(sorted, windows)
	sort.Slice(sorted, func(i, j int) bool {
		return sorted[i].start.Before(sorted[j].start)
	})

	out := []Window{sorted[0]}
	for _, w := range sorted[1:] {
		last := &out[len(out)-1]
		if !w.start.After(last.end) {
			if w.end.After(last.end) {
				last.end = w.end
			}
			continue
		}
		out = append(out, w)
	}
	return out
}

// Subtract removes every occupant from base and returns the free remainder.
func Subtract[T Occupant](base Window, occupants []T) []Window {
	busy := make([]Window, 0, len(occupants))
	for _, o := range occupants {
		if w, ok := o.SlotWindow().Intersect(base); ok {
			busy = append(busy, w)
		}
	}

	var free []Window
	cursor := base.start
	for _, b := range Merge(busy) {
		if b.start.After(cursor) {
			free = append(free, Window{start: cursor, end: b.start})
		}
		if b.end.After(cursor) {
			cursor = b.end
		}
	}
	if cursor.Before(base.end) {
		free = append(free, Window{start: cursor, end: base.end})
	}
	return free
}
