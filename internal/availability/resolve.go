package availability

import (
	"sort"
	"time"

	"github.com/hackgods/clinic-scheduling/internal/slot"
)

type Source string

const (
	SourceTemplate Source = "template"
	SourceOverride Source = "override"
	SourceClosed   Source = "closed"
)

// DayPlan is the effective bookable time of one calendar day, before blocks and
// existing appointments are taken out.
type DayPlan struct {
	Date     time.Time     `json:"date"`
	Source   Source        `json:"source"`
	Windows  []slot.Window `json:"windows"`
	Types    []SlotType    `json:"slot_types,omitempty"`
	Override *Override     `json:"override,omitempty"`
}

func (p DayPlan) Open() bool {
	return len(p.Windows) > 0
}

// Contains reports whether w fits entirely inside one of the day's windows.
func (p DayPlan) Contains(w slot.Window) bool {
	for _, open := range p.Windows {
		if open.ContainsWindow(w) {
			return true
		}
	}
	return false
}

// ResolveDay layers overrides over the weekly template for the calendar day of date
// in loc. A blocking override closes the day; a single-day custom-hours override
// replaces the template hours; otherwise the template slots for that weekday apply.
func ResolveDay(date time.Time, loc *time.Location, tmpl *Template, overrides []Override) DayPlan {
	if loc == nil {
		loc = time.UTC
	}
	local := date.In(loc)
	day := time.Date(local.Year(), local.Month(), local.Day(), 0, 0, 0, 0, loc)
	plan := DayPlan{Date: day, Source: SourceClosed}

	var custom *Override
	for i := range overrides {
		o := overrides[i]
		if !o.Covers(day) {
			continue
		}
		if o.IsBlocked {
			plan.Source = SourceClosed
			plan.Override = &o
			return plan
		}
		if custom == nil && o.Start != nil && o.End != nil {
			custom = &o
		}
	}

	if custom != nil {
		plan.Source = SourceOverride
		plan.Override = custom
		if w, err := slot.New(custom.Start.On(day), custom.End.On(day), slot.Unbounded()); err == nil {
			plan.Windows = []slot.Window{w}
			plan.Types = []SlotType{SlotClinic}
		}
		return plan
	}

	if tmpl == nil {
		return plan
	}

	slots := make([]Slot, 0, len(tmpl.Slots))
	for _, s := range tmpl.Slots {
		if s.Weekday() == day.Weekday() {
			slots = append(slots, s)
		}
	}
	sort.Slice(slots, func(i, j int) bool { return slots[i].Start < slots[j].Start })

	for _, s := range slots {
		w, err := slot.New(s.Start.On(day), s.End.On(day), slot.Unbounded())
		if err != nil {
			continue
		}
		plan.Windows = append(plan.Windows, w)
		plan.Types = append(plan.Types, s.Type)
	}
	if plan.Open() {
		plan.Source = SourceTemplate
	}
	return plan
}

// ResolveRange resolves every calendar day touched by [from, to).
func ResolveRange(from, to time.Time, loc *time.Location, tmpl *Template, overrides []Override) []DayPlan {
	if loc == nil {
		loc = time.UTC
	}
	if !from.Before(to) {
		return nil
	}
	start := slot.StartOfDay(from.In(loc))
	var plans []DayPlan
	for day := start; day.Before(to); day = day.AddDate(0, 0, 1) {
		plans = append(plans, ResolveDay(day, loc, tmpl, overrides))
	}
	return plans
}

// PlanFunc adapts the resolution to slot.NextAvailable.
func PlanFunc(loc *time.Location, tmpl *Template, overrides []Override) slot.DayPlanFunc {
	return func(day time.Time) []slot.Window {
		return ResolveDay(day, loc, tmpl, overrides).Windows
	}
}
