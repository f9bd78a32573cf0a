package availability

import "time"

// Slot is a candidate bookable interval [Start, End) of exactly one slot
// duration.
type Slot struct {
	Start TimeOfDay `json:"startTime"`
	End   TimeOfDay `json:"endTime"`
}

// Interval is an occupied [Start, End) range on a given day, typically the
// times of an appointment that is still pending or confirmed. Cancelled,
// completed and no-show appointments must not be passed in; they do not
// block slots.
type Interval struct {
	Start TimeOfDay
	End   TimeOfDay
}

// Overlaps applies the half-open overlap test. Touching boundaries do not
// overlap: a slot ending exactly when a break starts is kept.
func (iv Interval) Overlaps(start, end TimeOfDay) bool {
	return start < iv.End && end > iv.Start
}

// GenerateSlots derives the bookable slots for one calendar date from a
// doctor's template and the intervals already occupied on that date. The
// result is ascending by start time and recomputed on every call.
//
// The daily window is walked in steps of the slot duration; a trailing
// partial interval shorter than the duration is dropped.
func GenerateSlots(t Template, date time.Time, booked []Interval) []Slot {
	slots := []Slot{}

	if !t.WorksOn(date.Weekday()) {
		return slots
	}

	step := TimeOfDay(t.SlotDuration)
	for start := t.DailyStart; start+step <= t.DailyEnd; start += step {
		end := start + step

		if overlapsBreak(t.Breaks, start, end) {
			continue
		}
		if overlapsBooked(booked, start, end) {
			continue
		}

		slots = append(slots, Slot{Start: start, End: end})
	}

	return slots
}

func overlapsBreak(breaks []Break, start, end TimeOfDay) bool {
	for _, b := range breaks {
		if start < b.End && end > b.Start {
			return true
		}
	}
	return false
}

func overlapsBooked(booked []Interval, start, end TimeOfDay) bool {
	for _, iv := range booked {
		if iv.Overlaps(start, end) {
			return true
		}
	}
	return false
}
