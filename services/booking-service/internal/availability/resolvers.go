package availability

import (
	"context"
	"fmt"
	"time"

	"github.com/glamdesk/salonbook/services/booking-service/internal/model"
	"github.com/glamdesk/salonbook/services/booking-service/internal/recurrence"
)

type WorkingHoursResolver struct {
	src WorkingHoursSource
}

func NewWorkingHoursResolver(src WorkingHoursSource) *WorkingHoursResolver {
	return &WorkingHoursResolver{src: src}
}

// Resolve returns the staff member's working interval on day, or false when
// they are not working. Not working is a normal outcome, not an error.
func (r *WorkingHoursResolver) Resolve(ctx context.Context, salonID, staffID string, day model.Date, loc *time.Location) (model.Interval, bool, error) {
	wh, found, err := r.src.GetWorkingHours(ctx, salonID, staffID, day.Weekday())
	if err != nil {
		return model.Interval{}, false, fmt.Errorf("get working hours: %w", err)
	}
	if !found {
		return model.Interval{}, false, nil
	}
	iv, ok := wh.On(day, loc)
	return iv, ok, nil
}

type BlockedTimeResolver struct {
	src BlockedTimeSource
}

func NewBlockedTimeResolver(src BlockedTimeSource) *BlockedTimeResolver {
	return &BlockedTimeResolver{src: src}
}

// Resolve returns the merged closed intervals on day that apply to target.
func (r *BlockedTimeResolver) Resolve(ctx context.Context, salonID string, target model.Target, day model.Date, loc *time.Location) ([]model.Interval, error) {
	window := day.Window(loc)
	rules, err := r.src.ListBlockedTimes(ctx, salonID, model.BlockedTimeFilter{
		StaffID:    target.StaffID,
		LocationID: target.LocationID,
		Window:     window,
	})
	if err != nil {
		return nil, fmt.Errorf("list blocked times: %w", err)
	}
	return BlockedIntervals(rules, target, window), nil
}

// BlockedIntervals expands the rules applying to target over window, clips
// them to it and merges the result.
func BlockedIntervals(rules []model.BlockedTime, target model.Target, window model.Interval) []model.Interval {
	var out []model.Interval
	for _, b := range rules {
		if !b.IsActive || b.Scope == nil || !b.Scope.Applies(target) {
			continue
		}
		if !b.IsRecurring || b.Recurrence == nil {
			if c, ok := b.Origin().Clip(window); ok {
				out = append(out, c)
			}
			continue
		}
		for occ := range recurrence.Expand(*b.Recurrence, b.Origin(), window) {
			if c, ok := occ.Clip(window); ok {
				out = append(out, c)
			}
		}
	}
	return Merge(out)
}
