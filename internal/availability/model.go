package availability

import (
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/hackgods/clinic-scheduling/internal/slot"
)

// DateLayout is the civil-date format used for overrides on the wire.
const DateLayout = "2006-01-02"

type ValidationError struct {
	Fields []string
}

func (e *ValidationError) Error() string {
	return "validation failed: " + strings.Join(e.Fields, "; ")
}

// fields collects validation messages and yields nil when there are none.
type fields []string

func (f *fields) add(msg string) { *f = append(*f, msg) }

func (f fields) err() error {
	if len(f) == 0 {
		return nil
	}
	return &ValidationError{Fields: f}
}

type SlotType string

const (
	SlotClinic     SlotType = "clinic"
	SlotSurgery    SlotType = "surgery"
	SlotTelehealth SlotType = "telehealth"
	SlotProcedure  SlotType = "procedure"
)

func (t SlotType) IsValid() bool {
	switch t {
	case SlotClinic, SlotSurgery, SlotTelehealth, SlotProcedure:
		return true
	}
	return false
}

type BlockType string

const (
	BlockLeave             BlockType = "LEAVE"
	BlockSurgery           BlockType = "SURGERY"
	BlockAdmin             BlockType = "ADMIN"
	BlockEmergency         BlockType = "EMERGENCY"
	BlockConference        BlockType = "CONFERENCE"
	BlockBurnoutProtection BlockType = "BURNOUT_PROTECTION"
)

func (t BlockType) IsValid() bool {
	switch t {
	case BlockLeave, BlockSurgery, BlockAdmin, BlockEmergency, BlockConference, BlockBurnoutProtection:
		return true
	}
	return false
}

// Template is a doctor's recurring weekly pattern. At most one is active per doctor.
type Template struct {
	ID        uuid.UUID `json:"id"`
	DoctorID  uuid.UUID `json:"doctor_id"`
	Name      string    `json:"name"`
	IsActive  bool      `json:"is_active"`
	Slots     []Slot    `json:"slots"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

type Slot struct {
	ID         uuid.UUID      `json:"id"`
	TemplateID uuid.UUID      `json:"template_id"`
	DayOfWeek  int            `json:"day_of_week"` // 0 = Sunday
	Start      slot.TimeOfDay `json:"start_time"`
	End        slot.TimeOfDay `json:"end_time"`
	Type       SlotType       `json:"slot_type"`
}

func (s Slot) Weekday() time.Weekday { return time.Weekday(s.DayOfWeek) }

func (s Slot) Validate() error {
	return s.problems().err()
}

func (s Slot) problems() fields {
	var f fields
	if s.DayOfWeek < 0 || s.DayOfWeek > 6 {
		f.add("day_of_week must be between 0 and 6")
	}
	if !s.Start.Valid() || !s.End.Valid() {
		f.add("start_time and end_time must be between 00:00 and 24:00")
	} else if s.Start >= s.End {
		f.add("start_time must be before end_time")
	}
	if s.Type != "" && !s.Type.IsValid() {
		f.add("unknown slot_type " + string(s.Type))
	}
	return f
}

// ValidateSlots checks each slot and rejects overlapping slots on the same weekday.
// Empty slot types are defaulted to clinic in place.
func ValidateSlots(slots []Slot) error {
	var f fields
	for i := range slots {
		if slots[i].Type == "" {
			slots[i].Type = SlotClinic
		}
		for _, msg := range slots[i].problems() {
			f.add(fmt.Sprintf("slots[%d]: %s", i, msg))
		}
	}
	if len(f) > 0 {
		return f.err()
	}

	for i := range slots {
		for j := i + 1; j < len(slots); j++ {
			a, b := slots[i], slots[j]
			if a.DayOfWeek == b.DayOfWeek && a.Start < b.End && b.Start < a.End {
				f.add(fmt.Sprintf("slots[%d] overlaps slots[%d] on %s", i, j, a.Weekday()))
			}
		}
	}
	return f.err()
}

// Override is a date-range exception to the template. Dates are civil dates stored
// at midnight UTC; EndDate is inclusive.
type Override struct {
	ID        uuid.UUID       `json:"id"`
	DoctorID  uuid.UUID       `json:"doctor_id"`
	StartDate time.Time       `json:"start_date"`
	EndDate   time.Time       `json:"end_date"`
	IsBlocked bool            `json:"is_blocked"`
	Start     *slot.TimeOfDay `json:"start_time,omitempty"`
	End       *slot.TimeOfDay `json:"end_time,omitempty"`
	Reason    string          `json:"reason,omitempty"`
	CreatedAt time.Time       `json:"created_at"`
}

// CivilDate strips the clock and location from t, keeping its calendar day.
func CivilDate(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
}

func ParseDate(s string) (time.Time, error) {
	return time.Parse(DateLayout, s)
}

func (o Override) IsSingleDay() bool {
	return CivilDate(o.StartDate).Equal(CivilDate(o.EndDate))
}

// Covers reports whether the calendar day of date falls inside the override.
func (o Override) Covers(date time.Time) bool {
	d := CivilDate(date)
	return !d.Before(CivilDate(o.StartDate)) && !d.After(CivilDate(o.EndDate))
}

func (o Override) Validate() error {
	var f fields
	if o.DoctorID == uuid.Nil {
		f.add("doctor_id is required")
	}
	if o.StartDate.IsZero() || o.EndDate.IsZero() {
		f.add("start_date and end_date are required")
	} else if CivilDate(o.EndDate).Before(CivilDate(o.StartDate)) {
		f.add("end_date must not be before start_date")
	}

	hasHours := o.Start != nil || o.End != nil
	switch {
	case o.IsBlocked && hasHours:
		f.add("a blocking override cannot carry custom hours")
	case !o.IsBlocked && !o.IsSingleDay():
		f.add("multi-day overrides must be blocking")
	case !o.IsBlocked && (o.Start == nil || o.End == nil):
		f.add("custom-hours override needs both start_time and end_time")
	case !o.IsBlocked && (!o.Start.Valid() || !o.End.Valid() || *o.Start >= *o.End):
		f.add("custom-hours start_time must be before end_time")
	}
	return f.err()
}

// Block is time the doctor is categorically unavailable. Blocks win over everything.
type Block struct {
	ID        uuid.UUID  `json:"id"`
	DoctorID  uuid.UUID  `json:"doctor_id"`
	Start     time.Time  `json:"start_time"`
	End       time.Time  `json:"end_time"`
	Type      BlockType  `json:"block_type"`
	Reason    string     `json:"reason,omitempty"`
	CreatedBy *uuid.UUID `json:"created_by,omitempty"`
	CreatedAt time.Time  `json:"created_at"`
}

// SlotWindow makes a Block usable with the conflict functions. Blocks are validated on
// creation, so an invalid one yields the zero window, which overlaps nothing.
func (b Block) SlotWindow() slot.Window {
	w, err := slot.New(b.Start, b.End, slot.Unbounded())
	if err != nil {
		return slot.Window{}
	}
	return w
}

func (b Block) Validate() error {
	var f fields
	if b.DoctorID == uuid.Nil {
		f.add("doctor_id is required")
	}
	if b.Start.IsZero() || b.End.IsZero() {
		f.add("start_time and end_time are required")
	} else if !b.Start.Before(b.End) {
		f.add("start_time must be before end_time")
	}
	if !b.Type.IsValid() {
		f.add("unknown block_type " + string(b.Type))
	}
	return f.err()
}
