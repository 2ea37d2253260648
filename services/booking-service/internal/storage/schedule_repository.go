package storage

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/glamdesk/salonbook/services/booking-service/internal/model"
)

// querier is satisfied by both *pgxpool.Pool and pgx.Tx, so the same read
// code serves the plain read path and the guard's transaction.
type querier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// scheduleReader reads working hours, blocked time, appointments and salon
// timezones.
type scheduleReader struct {
	q      querier
	zones  *zoneCache
	logger *slog.Logger
}

type blockedTimeRow struct {
	ID, SalonID, Kind, Ref string
	Services               []string
	Start, End             time.Time
	IsRecurring, IsActive  bool
	Frequency              *string
	Interval               *int32
	Days                   []int16
	Until                  *time.Time
	Reason, Zone           string
}

// blockedTime converts a row to the model with its times in loc. Rows the
// model would not accept on write, such as days_of_week on a monthly rule,
// fail with a ValidationError.
func (row blockedTimeRow) blockedTime(loc *time.Location) (model.BlockedTime, error) {
	b := model.BlockedTime{
		ID:          row.ID,
		SalonID:     row.SalonID,
		Start:       row.Start.In(loc),
		End:         row.End.In(loc),
		IsRecurring: row.IsRecurring,
		IsActive:    row.IsActive,
		Reason:      row.Reason,
	}
	scope, err := model.NewScope(model.ScopeKind(row.Kind), row.Ref, row.Services)
	if err != nil {
		return model.BlockedTime{}, fmt.Errorf("blocked time %s: %w", row.ID, err)
	}
	b.Scope = scope
	if row.IsRecurring && row.Frequency != nil {
		rec := &model.Recurrence{Frequency: model.Frequency(*row.Frequency), Interval: 1}
		if row.Interval != nil {
			rec.Interval = int(*row.Interval)
		}
		for _, d := range row.Days {
			rec.DaysOfWeek = append(rec.DaysOfWeek, time.Weekday(d))
		}
		if row.Until != nil {
			d := model.DateOf(*row.Until)
			rec.Until = &d
		}
		b.Recurrence = rec
	}
	if err := b.Validate(); err != nil {
		return model.BlockedTime{}, fmt.Errorf("blocked time %s: %w", row.ID, err)
	}
	return b, nil
}

func (r scheduleReader) GetWorkingHours(ctx context.Context, salonID, staffID string, weekday time.Weekday) (model.WorkingHours, bool, error) {
	wh := model.WorkingHours{StaffID: staffID, Weekday: weekday}
	err := r.q.QueryRow(ctx, `
		SELECT is_working, start_minute, end_minute
		FROM staff_working_hours
		WHERE salon_id = $1 AND staff_id = $2 AND weekday = $3
	`, salonID, staffID, int(weekday)).Scan(&wh.IsWorking, &wh.StartMinute, &wh.EndMinute)
	if errors.Is(err, pgx.ErrNoRows) {
		return model.WorkingHours{}, false, nil
	}
	if err != nil {
		return model.WorkingHours{}, false, classify("get working hours", err)
	}
	return wh, true, nil
}

// ListBlockedTimes narrows by salon, scope and window start in SQL and
// applies the exact filter in Go. Rule times are returned in the salon's
// timezone so recurrence keeps local wall-clock times.
func (r scheduleReader) ListBlockedTimes(ctx context.Context, salonID string, filter model.BlockedTimeFilter) ([]model.BlockedTime, error) {
	var before *time.Time
	if filter.Window.Valid() {
		end := filter.Window.End
		before = &end
	}
	rows, err := r.q.Query(ctx, `
		SELECT b.id::text, b.salon_id::text, b.scope, COALESCE(b.scope_ref, ''), b.affected_service_ids,
			b.start_time, b.end_time, b.is_recurring, b.frequency, b.recurrence_interval,
			b.days_of_week, b.recurrence_end, b.is_active, COALESCE(b.reason, ''), s.timezone
		FROM blocked_times b
		JOIN salons s ON s.id = b.salon_id
		WHERE b.salon_id = $1
			AND b.is_active
			AND ($2 = '' OR b.scope <> 'staff' OR b.scope_ref = $2)
			AND ($3 = '' OR b.scope <> 'location' OR b.scope_ref = $3)
			AND ($4::timestamptz IS NULL OR b.start_time < $4)
		ORDER BY b.start_time
	`, salonID, filter.StaffID, filter.LocationID, before)
	if err != nil {
		return nil, classify("list blocked times", err)
	}
	defer rows.Close()

	var out []model.BlockedTime
	for rows.Next() {
		var row blockedTimeRow
		if err := rows.Scan(&row.ID, &row.SalonID, &row.Kind, &row.Ref, &row.Services,
			&row.Start, &row.End, &row.IsRecurring, &row.Frequency, &row.Interval,
			&row.Days, &row.Until, &row.IsActive, &row.Reason, &row.Zone); err != nil {
			return nil, classify("scan blocked time", err)
		}
		loc, err := r.zones.load(row.Zone)
		if err != nil {
			return nil, fmt.Errorf("blocked time %s: %w", row.ID, err)
		}
		b, err := row.blockedTime(loc)
		if model.IsValidation(err) {
			r.logger.Warn("skipping invalid blocked time", "blocked_time_id", row.ID, "salon_id", salonID, "err", err)
			continue
		}
		if err != nil {
			return nil, err
		}
		if filter.Matches(b) {
			out = append(out, b)
		}
	}
	if err := rows.Err(); err != nil {
		return nil, classify("list blocked times", err)
	}
	return out, nil
}

func (r scheduleReader) ListAppointments(ctx context.Context, salonID, staffID string, window model.Interval) ([]model.Appointment, error) {
	return r.listAppointments(ctx, salonID, staffID, window, false)
}

// ListStaffSchedule is ListAppointments including cancelled rows, for
// display.
func (r scheduleReader) ListStaffSchedule(ctx context.Context, salonID, staffID string, window model.Interval) ([]model.Appointment, error) {
	return r.listAppointments(ctx, salonID, staffID, window, true)
}

func (r scheduleReader) listAppointments(ctx context.Context, salonID, staffID string, window model.Interval, withCancelled bool) ([]model.Appointment, error) {
	rows, err := r.q.Query(ctx, `
		SELECT `+appointmentColumns+`
		FROM appointments
		WHERE salon_id = $1
			AND staff_id = $2
			AND ($5::boolean OR status <> 'cancelled')
			AND start_time < $4
			AND end_time > $3
		ORDER BY start_time ASC
	`, salonID, staffID, window.Start, window.End, withCancelled)
	if err != nil {
		return nil, classify("list appointments", err)
	}
	defer rows.Close()

	var appts []model.Appointment
	for rows.Next() {
		appt, err := scanAppointment(rows)
		if err != nil {
			return nil, classify("scan appointment", err)
		}
		appts = append(appts, appt)
	}
	if err := rows.Err(); err != nil {
		return nil, classify("list appointments", err)
	}
	return appts, nil
}

func (r scheduleReader) SalonLocation(ctx context.Context, salonID string) (*time.Location, error) {
	var zone string
	err := r.q.QueryRow(ctx, `SELECT timezone FROM salons WHERE id = $1`, salonID).Scan(&zone)
	if err != nil {
		return nil, classify("get salon timezone", err)
	}
	return r.zones.load(zone)
}

// zoneCache memoizes time.LoadLocation, which reads the tz database.
type zoneCache struct {
	mu    sync.Mutex
	zones map[string]*time.Location
}

func newZoneCache() *zoneCache {
	return &zoneCache{zones: map[string]*time.Location{}}
}

func (c *zoneCache) load(name string) (*time.Location, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if loc, ok := c.zones[name]; ok {
		return loc, nil
	}
	loc, err := time.LoadLocation(name)
	if err != nil {
		return nil, model.Invalid("timezone", fmt.Sprintf("unknown timezone %q", name))
	}
	c.zones[name] = loc
	return loc, nil
}

const appointmentColumns = `id::text, salon_id::text, staff_id::text, COALESCE(location_id::text, ''), customer_id::text,
			service_ids, appointment_date, start_time, end_time, status, cancelled_at,
			COALESCE(cancellation_reason, ''), created_at`

func scanAppointment(row pgx.Row) (model.Appointment, error) {
	var (
		appt model.Appointment
		date time.Time
	)
	err := row.Scan(
		&appt.ID,
		&appt.SalonID,
		&appt.StaffID,
		&appt.LocationID,
		&appt.CustomerID,
		&appt.ServiceIDs,
		&date,
		&appt.StartTime,
		&appt.EndTime,
		&appt.Status,
		&appt.CancelledAt,
		&appt.CancelReason,
		&appt.CreatedAt,
	)
	if err != nil {
		return model.Appointment{}, err
	}
	appt.Date = model.DateOf(date)
	return appt, nil
}
