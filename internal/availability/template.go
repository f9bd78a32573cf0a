package availability

import (
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

var (
	ErrInvalidTemplate = errors.New("invalid availability template")
)

// Break is a recurring daily interval during which no slots are offered.
type Break struct {
	Start  TimeOfDay `json:"start_time"`
	End    TimeOfDay `json:"end_time"`
	Reason string    `json:"reason,omitempty"`
}

// Template is a doctor's weekly availability configuration. Slots are always
// derived from the template at read time; they are never materialized as rows.
type Template struct {
	DoctorID     uuid.UUID `json:"doctor_id"`
	WorkingDays  []int     `json:"working_days"` // time.Weekday values, 0=Sunday
	DailyStart   TimeOfDay `json:"daily_start"`
	DailyEnd     TimeOfDay `json:"daily_end"`
	SlotDuration int       `json:"slot_duration_minutes"`
	Breaks       []Break   `json:"breaks,omitempty"`
	MaxPerSlot   int       `json:"max_per_slot"`
	UpdatedAt    time.Time `json:"updated_at,omitempty"`
}

// Validate checks the template invariants before it is persisted.
func (t Template) Validate() error {
	if !t.DailyStart.Valid() || !t.DailyEnd.Valid() {
		return fmt.Errorf("%w: daily window out of range", ErrInvalidTemplate)
	}
	if t.DailyStart >= t.DailyEnd {
		return fmt.Errorf("%w: daily start %s must be before daily end %s",
			ErrInvalidTemplate, t.DailyStart, t.DailyEnd)
	}
	if t.SlotDuration <= 0 {
		return fmt.Errorf("%w: slot duration must be positive", ErrInvalidTemplate)
	}
	if t.MaxPerSlot <= 0 {
		return fmt.Errorf("%w: max per slot must be positive", ErrInvalidTemplate)
	}
	for _, d := range t.WorkingDays {
		if d < 0 || d > 6 {
			return fmt.Errorf("%w: working day %d out of range", ErrInvalidTemplate, d)
		}
	}
	for _, b := range t.Breaks {
		if b.Start >= b.End {
			return fmt.Errorf("%w: break %s-%s is empty", ErrInvalidTemplate, b.Start, b.End)
		}
		if b.Start < t.DailyStart || b.End > t.DailyEnd {
			return fmt.Errorf("%w: break %s-%s outside daily window %s-%s",
				ErrInvalidTemplate, b.Start, b.End, t.DailyStart, t.DailyEnd)
		}
	}
	return nil
}

// WorksOn reports whether the template includes the given weekday.
func (t Template) WorksOn(day time.Weekday) bool {
	for _, d := range t.WorkingDays {
		if time.Weekday(d) == day {
			return true
		}
	}
	return false
}

// DefaultTemplate mirrors the platform defaults applied when a doctor has not
// configured availability yet: Mon-Fri, 09:00-17:00, 30 minute slots.
func DefaultTemplate(doctorID uuid.UUID) Template {
	return Template{
		DoctorID:     doctorID,
		WorkingDays:  []int{1, 2, 3, 4, 5},
		DailyStart:   9 * 60,
		DailyEnd:     17 * 60,
		SlotDuration: 30,
		MaxPerSlot:   1,
	}
}
