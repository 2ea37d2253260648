package availability

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/glamdesk/salonbook/services/booking-service/internal/model"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const salonID = "sal-1"

type fakeStore struct {
	hours   map[time.Weekday]model.WorkingHours
	blocked []model.BlockedTime
	appts   []model.Appointment
	err     error
}

func (f *fakeStore) GetWorkingHours(_ context.Context, _, staffID string, wd time.Weekday) (model.WorkingHours, bool, error) {
	if f.err != nil {
		return model.WorkingHours{}, false, f.err
	}
	wh, ok := f.hours[wd]
	if !ok || wh.StaffID != staffID {
		return model.WorkingHours{}, false, nil
	}
	return wh, true, nil
}

func (f *fakeStore) ListBlockedTimes(_ context.Context, _ string, filter model.BlockedTimeFilter) ([]model.BlockedTime, error) {
	var out []model.BlockedTime
	for _, b := range f.blocked {
		if filter.Matches(b) {
			out = append(out, b)
		}
	}
	return out, nil
}

func (f *fakeStore) ListAppointments(_ context.Context, _, staffID string, window model.Interval) ([]model.Appointment, error) {
	var out []model.Appointment
	for _, a := range f.appts {
		if a.StaffID == staffID && a.Busy() && a.Interval().Overlaps(window) {
			out = append(out, a)
		}
	}
	return out, nil
}

type utcSalons struct{}

func (utcSalons) SalonLocation(context.Context, string) (*time.Location, error) {
	return time.UTC, nil
}

// mondayNineToFive: staff stf-1 works Mon 09:00-17:00, testDay is a Monday.
func mondayNineToFive() *fakeStore {
	return &fakeStore{hours: map[time.Weekday]model.WorkingHours{
		time.Monday: {StaffID: "stf-1", Weekday: time.Monday, IsWorking: true, StartMinute: 9 * 60, EndMinute: 17 * 60},
	}}
}

func query(day model.Date, services ...string) Query {
	return Query{
		SalonID:            salonID,
		StaffID:            "stf-1",
		LocationID:         "loc-1",
		Date:               day,
		ServiceIDs:         services,
		DurationMinutes:    60,
		GranularityMinutes: 30,
	}
}

func clocks(slots []model.Slot) []string {
	out := make([]string, 0, len(slots))
	for _, s := range slots {
		out = append(out, s.Start.Format("15:04"))
	}
	return out
}

func TestGetAvailableSlots_FullDay(t *testing.T) {
	svc := NewService(SourcesFrom(mondayNineToFive()), utcSalons{})

	slots, err := svc.GetAvailableSlots(context.Background(), query(testDay, "svc-cut"))
	require.NoError(t, err)
	require.Len(t, slots, 15)
	assert.Equal(t, "09:00", slots[0].Start.Format("15:04"))
	assert.Equal(t, "16:00", slots[14].Start.Format("15:04"))
	assert.Equal(t, hm(17, 0), slots[14].End)
}

func TestGetAvailableSlots_ExistingAppointment(t *testing.T) {
	store := mondayNineToFive()
	store.appts = []model.Appointment{
		{ID: "a1", StaffID: "stf-1", StartTime: hm(11, 0), EndTime: hm(12, 0), Status: model.StatusPending},
		{ID: "a2", StaffID: "stf-1", StartTime: hm(14, 0), EndTime: hm(15, 0), Status: model.StatusCancelled},
	}
	svc := NewService(SourcesFrom(store), utcSalons{})

	slots, err := svc.GetAvailableSlots(context.Background(), query(testDay))
	require.NoError(t, err)
	assert.Equal(t, []string{
		"09:00", "09:30", "10:00",
		"12:00", "12:30", "13:00", "13:30", "14:00", "14:30", "15:00", "15:30", "16:00",
	}, clocks(slots))
}

func TestGetAvailableSlots_RecurringLunchBlock(t *testing.T) {
	store := mondayNineToFive()
	store.blocked = []model.BlockedTime{{
		ID:          "bt-lunch",
		Scope:       model.FullScope{},
		Start:       model.Date{Year: 2026, Month: 1, Day: 5}.At(time.UTC, 12*60),
		End:         model.Date{Year: 2026, Month: 1, Day: 5}.At(time.UTC, 13*60),
		IsRecurring: true,
		Recurrence:  &model.Recurrence{Frequency: model.FrequencyWeekly, Interval: 1, DaysOfWeek: []time.Weekday{time.Monday}},
		IsActive:    true,
	}}
	svc := NewService(SourcesFrom(store), utcSalons{})

	slots, err := svc.GetAvailableSlots(context.Background(), query(testDay))
	require.NoError(t, err)
	assert.Equal(t, []string{
		"09:00", "09:30", "10:00", "10:30", "11:00",
		"13:00", "13:30", "14:00", "14:30", "15:00", "15:30", "16:00",
	}, clocks(slots))
}

func TestGetAvailableSlots_PartialBlockForOtherService(t *testing.T) {
	wed := model.Date{Year: 2026, Month: 3, Day: 4}
	store := &fakeStore{
		hours: map[time.Weekday]model.WorkingHours{
			time.Wednesday: {StaffID: "stf-1", Weekday: time.Wednesday, IsWorking: true, StartMinute: 9 * 60, EndMinute: 17 * 60},
		},
		blocked: []model.BlockedTime{{
			ID:       "bt-color",
			Scope:    model.PartialScope{ServiceIDs: []string{"svc-color"}},
			Start:    wed.At(time.UTC, 10*60),
			End:      wed.At(time.UTC, 14*60),
			IsActive: true,
		}},
	}
	svc := NewService(SourcesFrom(store), utcSalons{})

	haircut, err := svc.GetAvailableSlots(context.Background(), query(wed, "svc-cut"))
	require.NoError(t, err)
	assert.Len(t, haircut, 15)

	color, err := svc.GetAvailableSlots(context.Background(), query(wed, "svc-color"))
	require.NoError(t, err)
	assert.Equal(t, []string{"09:00", "14:00", "14:30", "15:00", "15:30", "16:00"}, clocks(color))
}

func TestGetAvailableSlots_ScopeFiltering(t *testing.T) {
	store := mondayNineToFive()
	store.blocked = []model.BlockedTime{
		{ID: "other-staff", Scope: model.StaffScope{StaffID: "stf-2"}, Start: hm(9, 0), End: hm(17, 0), IsActive: true},
		{ID: "other-loc", Scope: model.LocationScope{LocationID: "loc-2"}, Start: hm(9, 0), End: hm(17, 0), IsActive: true},
		{ID: "inactive", Scope: model.FullScope{}, Start: hm(9, 0), End: hm(17, 0), IsActive: false},
		{ID: "mine", Scope: model.StaffScope{StaffID: "stf-1"}, Start: hm(9, 0), End: hm(10, 0), IsActive: true},
		{ID: "here", Scope: model.LocationScope{LocationID: "loc-1"}, Start: hm(16, 0), End: hm(18, 0), IsActive: true},
	}
	svc := NewService(SourcesFrom(store), utcSalons{})

	slots, err := svc.GetAvailableSlots(context.Background(), query(testDay))
	require.NoError(t, err)
	require.NotEmpty(t, slots)
	assert.Equal(t, "10:00", clocks(slots)[0])
	assert.Equal(t, "15:00", clocks(slots)[len(slots)-1])
}

func TestGetAvailableSlots_NotWorkingIsEmpty(t *testing.T) {
	store := mondayNineToFive()
	store.hours[time.Tuesday] = model.WorkingHours{StaffID: "stf-1", Weekday: time.Tuesday, IsWorking: false}
	svc := NewService(SourcesFrom(store), utcSalons{})

	tue, err := svc.GetAvailableSlots(context.Background(), query(testDay.AddDays(1)))
	require.NoError(t, err)
	assert.Empty(t, tue)

	sun, err := svc.GetAvailableSlots(context.Background(), query(testDay.AddDays(-1)))
	require.NoError(t, err)
	assert.Empty(t, sun)
}

func TestGetAvailableSlots_Validation(t *testing.T) {
	svc := NewService(SourcesFrom(mondayNineToFive()), utcSalons{})

	q := query(testDay)
	q.DurationMinutes = 0
	_, err := svc.GetAvailableSlots(context.Background(), q)
	assert.True(t, model.IsValidation(err))

	q = query(testDay)
	q.StaffID = ""
	_, err = svc.GetAvailableSlots(context.Background(), q)
	assert.True(t, model.IsValidation(err))
}

func TestGetAvailableSlots_DefaultGranularity(t *testing.T) {
	svc := NewService(SourcesFrom(mondayNineToFive()), utcSalons{})
	q := query(testDay)
	q.GranularityMinutes = 0

	slots, err := svc.GetAvailableSlots(context.Background(), q)
	require.NoError(t, err)
	assert.Len(t, slots, 15)
}

func TestGetAvailableSlots_PropagatesStoreErrors(t *testing.T) {
	store := mondayNineToFive()
	store.err = model.Transient("get working hours", context.DeadlineExceeded)
	svc := NewService(SourcesFrom(store), utcSalons{})

	_, err := svc.GetAvailableSlots(context.Background(), query(testDay))
	require.Error(t, err)
	assert.True(t, model.IsTransient(err))
	assert.True(t, errors.Is(err, context.DeadlineExceeded))
}

func TestGetAvailableSlots_Soundness(t *testing.T) {
	store := mondayNineToFive()
	store.appts = []model.Appointment{
		{ID: "a1", StaffID: "stf-1", StartTime: hm(9, 45), EndTime: hm(10, 20), Status: model.StatusConfirmed},
		{ID: "a2", StaffID: "stf-1", StartTime: hm(15, 10), EndTime: hm(15, 40), Status: model.StatusCompleted},
	}
	store.blocked = []model.BlockedTime{
		{ID: "b1", Scope: model.FullScope{}, Start: hm(12, 5), End: hm(13, 25), IsActive: true},
		{ID: "b2", Scope: model.StaffScope{StaffID: "stf-1"}, Start: hm(16, 50), End: hm(18, 0), IsActive: true},
	}
	svc := NewService(SourcesFrom(store), utcSalons{})

	for _, g := range []int{5, 15, 30} {
		for _, d := range []int{15, 45, 90} {
			q := query(testDay)
			q.GranularityMinutes, q.DurationMinutes = g, d
			slots, err := svc.GetAvailableSlots(context.Background(), q)
			require.NoError(t, err)

			working := iv(9, 0, 17, 0)
			for _, s := range slots {
				si := model.Interval{Start: s.Start, End: s.End}
				assert.True(t, working.Contains(si))
				for _, b := range store.blocked {
					assert.False(t, si.Overlaps(b.Origin()), "g=%d d=%d slot %s overlaps %s", g, d, s.Start.Format("15:04"), b.ID)
				}
				for _, a := range store.appts {
					assert.False(t, si.Overlaps(a.Interval()), "g=%d d=%d slot %s overlaps %s", g, d, s.Start.Format("15:04"), a.ID)
				}
			}
		}
	}
}

func TestGetAvailableSlots_Completeness(t *testing.T) {
	store := mondayNineToFive()
	// Free gaps: 09:00-10:10 (70m), 10:40-12:00 (80m), 13:00-17:00 (240m).
	store.appts = []model.Appointment{
		{ID: "a1", StaffID: "stf-1", StartTime: hm(10, 10), EndTime: hm(10, 40), Status: model.StatusPending},
	}
	store.blocked = []model.BlockedTime{
		{ID: "b1", Scope: model.FullScope{}, Start: hm(12, 0), End: hm(13, 0), IsActive: true},
	}
	svc := NewService(SourcesFrom(store), utcSalons{})

	gaps := []time.Duration{70 * time.Minute, 80 * time.Minute, 240 * time.Minute}
	for _, g := range []int{10, 15, 30} {
		for _, d := range []int{30, 60, 75} {
			q := query(testDay)
			q.GranularityMinutes, q.DurationMinutes = g, d
			slots, err := svc.GetAvailableSlots(context.Background(), q)
			require.NoError(t, err)

			want := 0
			dur := time.Duration(d) * time.Minute
			for _, gap := range gaps {
				if gap >= dur {
					want += int((gap-dur)/(time.Duration(g)*time.Minute)) + 1
				}
			}
			assert.Len(t, slots, want, "granularity=%d duration=%d", g, d)
		}
	}
}

func TestResolvers_AreIdempotent(t *testing.T) {
	store := mondayNineToFive()
	store.blocked = []model.BlockedTime{{
		ID:          "bt-daily",
		Scope:       model.FullScope{},
		Start:       model.Date{Year: 2026, Month: 1, Day: 1}.At(time.UTC, 12*60),
		End:         model.Date{Year: 2026, Month: 1, Day: 1}.At(time.UTC, 12*60+30),
		IsRecurring: true,
		Recurrence:  &model.Recurrence{Frequency: model.FrequencyDaily, Interval: 1},
		IsActive:    true,
	}}
	ctx := context.Background()
	target := model.Target{StaffID: "stf-1", LocationID: "loc-1"}

	whr := NewWorkingHoursResolver(store)
	w1, ok1, err := whr.Resolve(ctx, salonID, "stf-1", testDay, time.UTC)
	require.NoError(t, err)
	w2, ok2, err := whr.Resolve(ctx, salonID, "stf-1", testDay, time.UTC)
	require.NoError(t, err)
	assert.Equal(t, ok1, ok2)
	assert.Equal(t, w1, w2)

	btr := NewBlockedTimeResolver(store)
	b1, err := btr.Resolve(ctx, salonID, target, testDay, time.UTC)
	require.NoError(t, err)
	b2, err := btr.Resolve(ctx, salonID, target, testDay, time.UTC)
	require.NoError(t, err)
	assert.Equal(t, []model.Interval{iv(12, 0, 12, 30)}, b1)
	assert.Equal(t, b1, b2)
}

func TestBlockedIntervals_ClipsToDay(t *testing.T) {
	rules := []model.BlockedTime{
		{ID: "multi-day", Scope: model.FullScope{}, Start: hm(20, 0).AddDate(0, 0, -1), End: hm(10, 0), IsActive: true},
		{ID: "evening", Scope: model.FullScope{}, Start: hm(22, 0), End: hm(2, 0).AddDate(0, 0, 1), IsActive: true},
	}
	got := BlockedIntervals(rules, model.Target{StaffID: "stf-1"}, testDay.Window(time.UTC))
	assert.Equal(t, []model.Interval{
		{Start: testDay.Midnight(time.UTC), End: hm(10, 0)},
		{Start: hm(22, 0), End: testDay.AddDays(1).Midnight(time.UTC)},
	}, got)
}

func TestGetAvailableSlots_SalonTimezone(t *testing.T) {
	loc := time.FixedZone("UTC+3", 3*60*60)
	store := mondayNineToFive()
	svc := NewService(SourcesFrom(store), tzSalons{loc: loc})

	slots, err := svc.GetAvailableSlots(context.Background(), query(testDay))
	require.NoError(t, err)
	require.NotEmpty(t, slots)
	assert.Equal(t, time.Date(2026, 3, 2, 6, 0, 0, 0, time.UTC), slots[0].Start.UTC())
	assert.Equal(t, "09:00", slots[0].Start.Format("15:04"))
}

type tzSalons struct{ loc *time.Location }

func (s tzSalons) SalonLocation(context.Context, string) (*time.Location, error) {
	return s.loc, nil
}
