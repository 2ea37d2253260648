package model

import "time"

// WorkingHours is one staff member's schedule for one weekday, in minutes
// after local midnight.
type WorkingHours struct {
	StaffID     string
	Weekday     time.Weekday
	IsWorking   bool
	StartMinute int
	EndMinute   int
}

func (w WorkingHours) Validate() error {
	if w.Weekday < time.Sunday || w.Weekday > time.Saturday {
		return Invalid("weekday", "must be 0..6")
	}
	if !w.IsWorking {
		return nil
	}
	if w.StartMinute < 0 || w.EndMinute > MinutesPerDay {
		return Invalid("hours", "must be within 00:00..24:00")
	}
	if w.StartMinute >= w.EndMinute {
		return Invalid("hours", "start must be before end")
	}
	return nil
}

// On returns the working interval for day, or false when the staff member is
// off.
func (w WorkingHours) On(day Date, loc *time.Location) (Interval, bool) {
	if !w.IsWorking || w.StartMinute >= w.EndMinute {
		return Interval{}, false
	}
	iv := Interval{Start: day.At(loc, w.StartMinute), End: day.At(loc, w.EndMinute)}
	return iv, iv.Valid()
}
