// Package recurrence expands repeating blocked-time rules into concrete
// intervals over a bounded window.
package recurrence

import (
	"iter"
	"slices"
	"time"

	"github.com/glamdesk/salonbook/services/booking-service/internal/model"
)

const (
	// MaxIterations caps the number of cadence steps one expansion may take,
	// whatever the inputs.
	MaxIterations = 1000
	// MaxHorizon caps the length of the query window. Rules without an end
	// date are never expanded further than this past the window start.
	MaxHorizon = 366 * 24 * time.Hour
)

// Expand yields every occurrence of rule, shaped like origin, that overlaps
// window. Occurrences come out in ascending start order. The sequence is a
// pure function of its inputs and can be ranged over any number of times.
func Expand(rule model.Recurrence, origin, window model.Interval) iter.Seq[model.Interval] {
	return func(yield func(model.Interval) bool) {
		if !origin.Valid() || !window.Valid() {
			return
		}
		step := rule.Interval
		if step < 1 {
			step = 1
		}

		limit := window.End
		if window.Duration() > MaxHorizon {
			limit = window.Start.Add(MaxHorizon)
		}
		loc := origin.Start.Location()
		if rule.Until != nil {
			untilEnd := rule.Until.AddDays(1).Midnight(loc)
			if untilEnd.Before(limit) {
				limit = untilEnd
			}
		}

		length := origin.Duration()
		// Anything starting before this cannot reach into the window.
		earliest := window.Start.Add(-length)

		var (
			first int
			at    func(k int) []time.Time
		)
		switch {
		case rule.Frequency == model.FrequencyDaily:
			first = skipDays(origin.Start, earliest, step)
			at = func(k int) []time.Time {
				return []time.Time{origin.Start.AddDate(0, 0, k*step)}
			}
		case rule.Frequency == model.FrequencyWeekly && len(rule.DaysOfWeek) == 0:
			first = skipDays(origin.Start, earliest, 7*step)
			at = func(k int) []time.Time {
				return []time.Time{origin.Start.AddDate(0, 0, 7*k*step)}
			}
		case rule.Frequency == model.FrequencyWeekly:
			days := weekdays(rule.DaysOfWeek)
			weekStart := origin.Start.AddDate(0, 0, -int(origin.Start.Weekday()))
			first = skipDays(weekStart, earliest, 7*step)
			at = func(k int) []time.Time {
				out := make([]time.Time, 0, len(days))
				for _, wd := range days {
					out = append(out, weekStart.AddDate(0, 0, 7*k*step+int(wd)))
				}
				return out
			}
		case rule.Frequency == model.FrequencyMonthly:
			first = skipMonths(origin.Start, earliest, step)
			at = func(k int) []time.Time {
				return []time.Time{monthly(origin.Start, k*step)}
			}
		default:
			return
		}

		for k, n := first, 0; n < MaxIterations; k, n = k+1, n+1 {
			for _, start := range at(k) {
				if start.Before(origin.Start) {
					continue
				}
				if !start.Before(limit) {
					return
				}
				occ := model.Interval{Start: start, End: start.Add(length)}
				if !occ.End.After(window.Start) {
					continue
				}
				if !yield(occ) {
					return
				}
			}
		}
	}
}

// Occurrences collects Expand into a slice.
func Occurrences(rule model.Recurrence, origin, window model.Interval) []model.Interval {
	return slices.Collect(Expand(rule, origin, window))
}

// skipDays returns a step index whose occurrence is at or before target, so
// expansion of long-running rules does not walk from the origin. One step of
// slack absorbs daylight-saving hour shifts.
func skipDays(anchor, target time.Time, stepDays int) int {
	if !target.After(anchor) {
		return 0
	}
	days := int(target.Sub(anchor) / (24 * time.Hour))
	k := days/stepDays - 1
	if k < 0 {
		return 0
	}
	return k
}

func skipMonths(anchor, target time.Time, stepMonths int) int {
	if !target.After(anchor) {
		return 0
	}
	months := (target.Year()-anchor.Year())*12 + int(target.Month()-anchor.Month())
	k := months/stepMonths - 1
	if k < 0 {
		return 0
	}
	return k
}

// monthly returns the occurrence n months after origin on origin's day of
// month, clamped to the last day of shorter months (Jan 31 -> Feb 28/29).
func monthly(origin time.Time, n int) time.Time {
	firstOfMonth := time.Date(origin.Year(), origin.Month()+time.Month(n), 1, 0, 0, 0, 0, origin.Location())
	lastDay := firstOfMonth.AddDate(0, 1, -1).Day()
	day := origin.Day()
	if day > lastDay {
		day = lastDay
	}
	return time.Date(firstOfMonth.Year(), firstOfMonth.Month(), day,
		origin.Hour(), origin.Minute(), origin.Second(), origin.Nanosecond(), origin.Location())
}

func weekdays(in []time.Weekday) []time.Weekday {
	out := slices.Clone(in)
	slices.Sort(out)
	return slices.Compact(out)
}
