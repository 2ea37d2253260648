package storage

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/glamdesk/salonbook/libs/db"
	"github.com/glamdesk/salonbook/services/booking-service/internal/booking"
	"github.com/glamdesk/salonbook/services/booking-service/internal/model"
	"github.com/glamdesk/salonbook/services/booking-service/internal/outbox"
)

// BookingRepository is the PostgreSQL store. Outside a transaction it serves
// the availability read path; Within hands out a transactional booking.Tx.
type BookingRepository struct {
	scheduleReader
	pool   *db.Pool
	outbox *outbox.Repository
}

func NewBookingRepository(pool *db.Pool, outboxRepo *outbox.Repository, logger *slog.Logger) *BookingRepository {
	return &BookingRepository{
		scheduleReader: scheduleReader{q: pool, zones: newZoneCache(), logger: logger},
		pool:           pool,
		outbox:         outboxRepo,
	}
}

// Within runs fn in a READ COMMITTED transaction. Serialization of
// conflicting bookings comes from the advisory lock taken by LockStaffDay
// and, as a backstop, the exclusion constraint on appointments.
func (r *BookingRepository) Within(ctx context.Context, fn func(ctx context.Context, tx booking.Tx) error) error {
	tx, err := r.pool.BeginTx(ctx, pgx.TxOptions{IsoLevel: pgx.ReadCommitted})
	if err != nil {
		return classify("begin", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	if err := fn(ctx, &bookingTx{
		scheduleReader: scheduleReader{q: tx, zones: r.zones, logger: r.logger},
		tx:             tx,
		outbox:         r.outbox,
	}); err != nil {
		return err
	}
	return classify("commit", tx.Commit(ctx))
}

type bookingTx struct {
	scheduleReader
	tx     pgx.Tx
	outbox *outbox.Repository
}

var _ booking.Tx = (*bookingTx)(nil)

func staffDayKey(salonID, staffID string, day model.Date) string {
	return salonID + "|" + staffID + "|" + day.String()
}

func (t *bookingTx) LockStaffDay(ctx context.Context, salonID, staffID string, day model.Date) error {
	_, err := t.tx.Exec(ctx, `SELECT pg_advisory_xact_lock(hashtextextended($1, 0))`, staffDayKey(salonID, staffID, day))
	return classify("lock staff day", err)
}

func (t *bookingTx) LockIdempotencyKey(ctx context.Context, salonID, key string) (model.IdempotencyRecord, bool, error) {
	rec, err := t.selectIdempotencyForUpdate(ctx, salonID, key)
	if err == nil {
		return rec, true, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return model.IdempotencyRecord{}, false, classify("select idempotency key", err)
	}

	_, err = t.tx.Exec(ctx, `
		INSERT INTO booking_idempotency_keys (salon_id, idempotency_key)
		VALUES ($1, $2)
		ON CONFLICT (salon_id, idempotency_key) DO NOTHING
	`, salonID, key)
	if err != nil {
		return model.IdempotencyRecord{}, false, classify("insert idempotency key", err)
	}

	rec, err = t.selectIdempotencyForUpdate(ctx, salonID, key)
	if err != nil {
		return model.IdempotencyRecord{}, false, classify("select idempotency key", err)
	}
	// A concurrent first attempt may have finished between the two selects.
	return rec, rec.Completed(), nil
}

func (t *bookingTx) selectIdempotencyForUpdate(ctx context.Context, salonID, key string) (model.IdempotencyRecord, error) {
	var rec model.IdempotencyRecord
	err := t.tx.QueryRow(ctx, `
		SELECT salon_id::text, idempotency_key, COALESCE(appointment_id::text, ''), rejected
		FROM booking_idempotency_keys
		WHERE salon_id = $1 AND idempotency_key = $2
		FOR UPDATE
	`, salonID, key).Scan(&rec.SalonID, &rec.Key, &rec.AppointmentID, &rec.Rejected)
	return rec, err
}

func (t *bookingTx) FinalizeIdempotency(ctx context.Context, rec model.IdempotencyRecord) error {
	var appointmentID *string
	if rec.AppointmentID != "" {
		appointmentID = &rec.AppointmentID
	}
	_, err := t.tx.Exec(ctx, `
		UPDATE booking_idempotency_keys
		SET appointment_id = $3,
			rejected = $4,
			updated_at = now()
		WHERE salon_id = $1 AND idempotency_key = $2
	`, rec.SalonID, rec.Key, appointmentID, rec.Rejected)
	return classify("finalize idempotency key", err)
}

func (t *bookingTx) InsertAppointment(ctx context.Context, appt *model.Appointment) (string, error) {
	var locationID *string
	if appt.LocationID != "" {
		locationID = &appt.LocationID
	}
	var id string
	err := t.tx.QueryRow(ctx, `
		INSERT INTO appointments
			(id, salon_id, staff_id, location_id, customer_id, service_ids, appointment_date, start_time, end_time, status, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
		RETURNING id::text
	`, appt.ID, appt.SalonID, appt.StaffID, locationID, appt.CustomerID, appt.ServiceIDs,
		appt.Date.Midnight(time.UTC), appt.StartTime, appt.EndTime, string(appt.Status), appt.CreatedAt).Scan(&id)
	if err != nil {
		return "", classify("insert appointment", err)
	}
	return id, nil
}

func (t *bookingTx) GetAppointmentForUpdate(ctx context.Context, salonID, appointmentID string) (model.Appointment, error) {
	appt, err := scanAppointment(t.tx.QueryRow(ctx, `
		SELECT `+appointmentColumns+`
		FROM appointments
		WHERE id::text = $1 AND salon_id = $2
		FOR UPDATE
	`, appointmentID, salonID))
	if err != nil {
		return model.Appointment{}, classify("get appointment", err)
	}
	return appt, nil
}

func (t *bookingTx) CancelAppointment(ctx context.Context, salonID, appointmentID, reason string) (time.Time, error) {
	var cancelledAt time.Time
	err := t.tx.QueryRow(ctx, `
		UPDATE appointments
		SET status = 'cancelled',
			cancelled_at = now(),
			cancellation_reason = NULLIF($3, '')
		WHERE id::text = $1 AND salon_id = $2
		RETURNING cancelled_at
	`, appointmentID, salonID, reason).Scan(&cancelledAt)
	if err != nil {
		return time.Time{}, classify("cancel appointment", err)
	}
	return cancelledAt, nil
}

func (t *bookingTx) InsertEvent(ctx context.Context, evt outbox.Event) error {
	if err := t.outbox.Insert(ctx, t.tx, evt); err != nil {
		return classify(fmt.Sprintf("insert %s", evt.EventType), err)
	}
	return nil
}
