package storage

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/glamdesk/salonbook/services/booking-service/internal/booking"
	"github.com/glamdesk/salonbook/services/booking-service/internal/model"
	"github.com/glamdesk/salonbook/services/booking-service/internal/outbox"
)

var day = model.Date{Year: 2026, Month: 3, Day: 2}

func appt(staff string, from, to int, status model.AppointmentStatus) model.Appointment {
	return model.Appointment{
		SalonID:   "sal-1",
		StaffID:   staff,
		StartTime: day.At(time.UTC, from),
		EndTime:   day.At(time.UTC, to),
		Status:    status,
	}
}

func TestMemory_PutAppointmentEnforcesOverlap(t *testing.T) {
	m := NewMemory()
	_, err := m.PutAppointment(appt("stf-1", 600, 660, model.StatusConfirmed))
	require.NoError(t, err)

	_, err = m.PutAppointment(appt("stf-1", 630, 690, model.StatusPending))
	assert.ErrorIs(t, err, model.ErrSlotUnavailable)

	_, err = m.PutAppointment(appt("stf-2", 630, 690, model.StatusPending))
	assert.NoError(t, err, "other staff member")
	_, err = m.PutAppointment(appt("stf-1", 660, 720, model.StatusPending))
	assert.NoError(t, err, "touching intervals")
	_, err = m.PutAppointment(appt("stf-1", 600, 660, model.StatusCancelled))
	assert.NoError(t, err, "cancelled rows are ignored")

	other := appt("stf-1", 600, 660, model.StatusPending)
	other.SalonID = "sal-2"
	_, err = m.PutAppointment(other)
	assert.NoError(t, err, "same staff id in another salon")
}

func TestMemory_ListAppointmentsSkipsCancelled(t *testing.T) {
	m := NewMemory()
	for _, a := range []model.Appointment{
		appt("stf-1", 780, 840, model.StatusConfirmed),
		appt("stf-1", 600, 660, model.StatusPending),
		appt("stf-1", 700, 720, model.StatusCancelled),
		appt("stf-2", 600, 660, model.StatusConfirmed),
	} {
		_, err := m.PutAppointment(a)
		require.NoError(t, err)
	}

	got, err := m.ListAppointments(context.Background(), "sal-1", "stf-1", day.Window(time.UTC))
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, day.At(time.UTC, 600), got[0].StartTime)
	assert.Equal(t, day.At(time.UTC, 780), got[1].StartTime)
}

func TestMemory_ListBlockedTimesConvertsToSalonZone(t *testing.T) {
	ny, err := time.LoadLocation("America/New_York")
	require.NoError(t, err)
	m := NewMemory()
	m.SetSalonTimezone("sal-1", ny)

	start := time.Date(2026, 3, 2, 17, 0, 0, 0, time.UTC)
	_, err = m.PutBlockedTime(model.BlockedTime{
		SalonID: "sal-1", Scope: model.FullScope{}, Start: start, End: start.Add(time.Hour), IsActive: true,
	})
	require.NoError(t, err)
	_, err = m.PutBlockedTime(model.BlockedTime{
		SalonID: "sal-1", Scope: model.FullScope{}, Start: start, End: start.Add(time.Hour), IsActive: false,
	})
	require.NoError(t, err)

	rules, err := m.ListBlockedTimes(context.Background(), "sal-1", model.BlockedTimeFilter{})
	require.NoError(t, err)
	require.Len(t, rules, 1)
	assert.Equal(t, ny, rules[0].Start.Location())
	assert.Equal(t, 12, rules[0].Start.Hour())
}

func TestMemory_WithinDiscardsOnError(t *testing.T) {
	m := NewMemory()
	boom := errors.New("boom")
	err := m.Within(context.Background(), func(ctx context.Context, tx booking.Tx) error {
		a := appt("stf-1", 600, 660, model.StatusPending)
		if _, err := tx.InsertAppointment(ctx, &a); err != nil {
			return err
		}
		if err := tx.InsertEvent(ctx, outbox.Event{EventType: outbox.TypeAppointmentRequested}); err != nil {
			return err
		}
		return boom
	})
	require.ErrorIs(t, err, boom)
	assert.Empty(t, m.Appointments())
	assert.Empty(t, m.Events())
}

func TestMemory_WithinStagedOverlap(t *testing.T) {
	m := NewMemory()
	err := m.Within(context.Background(), func(ctx context.Context, tx booking.Tx) error {
		a := appt("stf-1", 600, 660, model.StatusPending)
		if _, err := tx.InsertAppointment(ctx, &a); err != nil {
			return err
		}
		b := appt("stf-1", 630, 690, model.StatusPending)
		_, err := tx.InsertAppointment(ctx, &b)
		return err
	})
	assert.ErrorIs(t, err, model.ErrSlotUnavailable)
	assert.Empty(t, m.Appointments())
}

func TestMemory_IdempotencyKeyLifecycle(t *testing.T) {
	m := NewMemory()
	ctx := context.Background()

	require.NoError(t, m.Within(ctx, func(ctx context.Context, tx booking.Tx) error {
		rec, existed, err := tx.LockIdempotencyKey(ctx, "sal-1", "k")
		require.NoError(t, err)
		assert.False(t, existed)
		assert.False(t, rec.Completed())
		return tx.FinalizeIdempotency(ctx, model.IdempotencyRecord{SalonID: "sal-1", Key: "k", AppointmentID: "apt-1"})
	}))

	require.NoError(t, m.Within(ctx, func(ctx context.Context, tx booking.Tx) error {
		rec, existed, err := tx.LockIdempotencyKey(ctx, "sal-1", "k")
		require.NoError(t, err)
		assert.True(t, existed)
		assert.Equal(t, "apt-1", rec.AppointmentID)

		_, existed, err = tx.LockIdempotencyKey(ctx, "sal-2", "k")
		require.NoError(t, err)
		assert.False(t, existed, "keys are per salon")
		return nil
	}))
}

func TestMemory_OutboxAndInbox(t *testing.T) {
	m := NewMemory()
	ctx := context.Background()
	require.NoError(t, m.Within(ctx, func(ctx context.Context, tx booking.Tx) error {
		for i := 0; i < 3; i++ {
			if err := tx.InsertEvent(ctx, outbox.Event{AggregateID: "apt", EventType: outbox.TypeAppointmentRequested}); err != nil {
				return err
			}
		}
		return nil
	}))

	var seen []int64
	send := func(_ context.Context, records []outbox.Record) error {
		for _, r := range records {
			seen = append(seen, r.ID)
		}
		return nil
	}
	require.NoError(t, m.WithUnpublished(ctx, 2, send))
	require.NoError(t, m.WithUnpublished(ctx, 2, send))
	require.NoError(t, m.WithUnpublished(ctx, 2, send))
	assert.Equal(t, []int64{1, 2, 3}, seen)

	first, err := m.Record(ctx, "evt-1", "t")
	require.NoError(t, err)
	assert.True(t, first)
	again, err := m.Record(ctx, "evt-1", "t")
	require.NoError(t, err)
	assert.False(t, again)
}

func TestMemory_FaultIsTransient(t *testing.T) {
	m := NewMemory()
	m.SetFault(errors.New("down"))

	_, _, err := m.GetWorkingHours(context.Background(), "sal-1", "stf-1", time.Monday)
	assert.True(t, model.IsTransient(err))
	_, err = m.SalonLocation(context.Background(), "sal-1")
	assert.True(t, model.IsTransient(err))

	m.SetFault(nil)
	_, err = m.SalonLocation(context.Background(), "sal-1")
	assert.ErrorIs(t, err, model.ErrNotFound)
}
