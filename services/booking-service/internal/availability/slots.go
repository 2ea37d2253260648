package availability

import (
	"time"

	"github.com/glamdesk/salonbook/services/booking-service/internal/model"
)

// AvailableSlots returns the candidate bookings of length duration inside
// window on day, stepping from the window's start. Candidates are stepped
// over wall-clock minutes and built with day.At, so each one is named by a
// single start/end HH:MM pair that maps back to the same instants. Wall
// times skipped by a daylight-saving change, and candidates whose elapsed
// length differs from duration, are left out. A slot may end exactly at the
// window's end.
func AvailableSlots(day model.Date, loc *time.Location, window model.Interval, duration, step time.Duration) []model.Interval {
	durMin := int(duration / time.Minute)
	stepMin := int(step / time.Minute)
	if durMin <= 0 || stepMin <= 0 || !window.Valid() {
		return nil
	}
	if loc == nil {
		loc = time.UTC
	}
	first, ok := wallMinute(day, loc, window.Start, true)
	if !ok {
		return nil
	}

	var out []model.Interval
	for m := first; m+durMin <= model.MinutesPerDay; m += stepMin {
		start, ok := exactAt(day, loc, m)
		if !ok {
			continue
		}
		end, ok := exactAt(day, loc, m+durMin)
		if !ok {
			continue
		}
		if start.Before(window.Start) || end.After(window.End) || end.Sub(start) != duration {
			continue
		}
		out = append(out, model.Interval{Start: start, End: end})
	}
	return out
}

// LocalInterval builds the instants for a wall-clock booking request on day.
// It reports false when either wall time does not exist in loc or when a
// daylight-saving change makes the elapsed length differ from the wall
// length. Slots produced by AvailableSlots always pass.
func LocalInterval(day model.Date, loc *time.Location, startMinute, endMinute int) (model.Interval, bool) {
	if loc == nil {
		loc = time.UTC
	}
	start, ok := exactAt(day, loc, startMinute)
	if !ok {
		return model.Interval{}, false
	}
	end, ok := exactAt(day, loc, endMinute)
	if !ok {
		return model.Interval{}, false
	}
	iv := model.Interval{Start: start, End: end}
	if !iv.Valid() || end.Sub(start) != time.Duration(endMinute-startMinute)*time.Minute {
		return model.Interval{}, false
	}
	return iv, true
}

// exactAt is day.At(loc, minute) when that wall time exists on day.
func exactAt(day model.Date, loc *time.Location, minute int) (time.Time, bool) {
	t := day.At(loc, minute)
	got, ok := wallMinute(day, loc, t, false)
	return t, ok && got == minute
}

// wallMinute is t's minute of day in loc, rounded up when ceil is set and t
// is not on a minute boundary. The next midnight counts as MinutesPerDay.
func wallMinute(day model.Date, loc *time.Location, t time.Time, ceil bool) (int, bool) {
	lt := t.In(loc)
	m := lt.Hour()*60 + lt.Minute()
	if lt.Second() != 0 || lt.Nanosecond() != 0 {
		if !ceil {
			return 0, false
		}
		m++
	}
	switch model.DateOf(lt) {
	case day:
		return m, true
	case day.AddDays(1):
		if m == 0 {
			return model.MinutesPerDay, true
		}
	}
	return 0, false
}

// GenerateSlots emits candidate slots inside each free interval. free must be
// sorted and disjoint (as returned by Subtract), which makes the output
// sorted by start.
func GenerateSlots(staffID string, day model.Date, loc *time.Location, free []model.Interval, duration, step time.Duration) []model.Slot {
	var out []model.Slot
	for _, f := range free {
		for _, iv := range AvailableSlots(day, loc, f, duration, step) {
			out = append(out, model.Slot{
				StaffID: staffID,
				Date:    day,
				Start:   iv.Start,
				End:     iv.End,
			})
		}
	}
	return out
}

// DropPast removes slots starting before now. The generator itself never
// looks at the clock; callers apply this for same-day queries.
func DropPast(slots []model.Slot, now time.Time) []model.Slot {
	out := slots[:0:0]
	for _, s := range slots {
		if s.Start.Before(now) {
			continue
		}
		out = append(out, s)
	}
	return out
}
