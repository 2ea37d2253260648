package availability

import (
	"slices"

	"github.com/glamdesk/salonbook/services/booking-service/internal/model"
)

// Merge returns the minimal sorted list of disjoint intervals covering in.
// Overlapping and touching intervals are folded together. Invalid (empty)
// intervals are dropped.
func Merge(in []model.Interval) []model.Interval {
	b := make([]model.Interval, 0, len(in))
	for _, iv := range in {
		if iv.Valid() {
			b = append(b, iv)
		}
	}
	if len(b) == 0 {
		return nil
	}
	slices.SortFunc(b, func(x, y model.Interval) int {
		if c := x.Start.Compare(y.Start); c != 0 {
			return c
		}
		return x.End.Compare(y.End)
	})

	merged := make([]model.Interval, 0, len(b))
	for _, cur := range b {
		if len(merged) == 0 {
			merged = append(merged, cur)
			continue
		}
		last := &merged[len(merged)-1]
		if cur.Start.After(last.End) {
			merged = append(merged, cur)
			continue
		}
		if cur.End.After(last.End) {
			last.End = cur.End
		}
	}
	return merged
}

// Subtract removes exclusions from base and returns the remaining disjoint
// pieces in ascending order.
func Subtract(base model.Interval, exclusions []model.Interval) []model.Interval {
	if !base.Valid() {
		return nil
	}
	var clipped []model.Interval
	for _, e := range exclusions {
		if c, ok := e.Clip(base); ok {
			clipped = append(clipped, c)
		}
	}

	var out []model.Interval
	cursor := base.Start
	for _, m := range Merge(clipped) {
		if m.Start.After(cursor) {
			out = append(out, model.Interval{Start: cursor, End: m.Start})
		}
		if m.End.After(cursor) {
			cursor = m.End
		}
	}
	if base.End.After(cursor) {
		out = append(out, model.Interval{Start: cursor, End: base.End})
	}
	return out
}

// Covered reports whether want lies entirely inside one of free.
func Covered(free []model.Interval, want model.Interval) bool {
	for _, f := range free {
		if f.Contains(want) {
			return true
		}
	}
	return false
}
