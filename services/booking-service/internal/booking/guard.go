// Package booking holds the only code path that writes appointments. A
// confirmation re-checks availability and inserts the row inside one unit of
// work that is serialized per staff member and local date, so two attempts
// for overlapping intervals cannot both succeed.
package booking

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"github.com/glamdesk/salonbook/services/booking-service/internal/availability"
	"github.com/glamdesk/salonbook/services/booking-service/internal/metrics"
	"github.com/glamdesk/salonbook/services/booking-service/internal/model"
	"github.com/glamdesk/salonbook/services/booking-service/internal/outbox"
)

// Tx is the transactional view of the store handed to Within. Reads made
// through it observe everything committed before LockStaffDay returned.
type Tx interface {
	availability.Store

	// LockStaffDay blocks until no other unit of work holds the lock for
	// the same salon, staff member and local date.
	LockStaffDay(ctx context.Context, salonID, staffID string, day model.Date) error
	// LockIdempotencyKey creates the key when missing and locks it.
	// existed is false for a key seen for the first time.
	LockIdempotencyKey(ctx context.Context, salonID, key string) (rec model.IdempotencyRecord, existed bool, err error)
	FinalizeIdempotency(ctx context.Context, rec model.IdempotencyRecord) error
	// InsertAppointment returns model.ErrSlotUnavailable when the store's own
	// overlap constraint rejects the row.
	InsertAppointment(ctx context.Context, a *model.Appointment) (string, error)
	GetAppointmentForUpdate(ctx context.Context, salonID, appointmentID string) (model.Appointment, error)
	CancelAppointment(ctx context.Context, salonID, appointmentID, reason string) (time.Time, error)
	InsertEvent(ctx context.Context, evt outbox.Event) error
}

// UnitOfWork runs fn atomically. fn's writes are discarded when it returns
// an error.
type UnitOfWork interface {
	Within(ctx context.Context, fn func(ctx context.Context, tx Tx) error) error
}

type State string

const (
	StateRequested  State = "requested"
	StateValidating State = "validating"
	StateConfirmed  State = "confirmed"
	StateRejected   State = "rejected"
)

// Request asks for one exact interval. The guard never moves it to a
// nearby free time.
type Request struct {
	SalonID     string
	StaffID     string
	LocationID  string
	CustomerID  string
	ServiceIDs  []string
	Date        model.Date
	StartMinute int
	EndMinute   int
	// IdempotencyKey is optional. Repeating a request with the same key
	// returns the first attempt's outcome.
	IdempotencyKey string
	// Location is filled from the salon directory when nil.
	Location *time.Location
}

func (r Request) Validate() error {
	switch {
	case strings.TrimSpace(r.SalonID) == "":
		return model.Invalid("salon_id", "required")
	case strings.TrimSpace(r.StaffID) == "":
		return model.Invalid("staff_id", "required")
	case strings.TrimSpace(r.CustomerID) == "":
		return model.Invalid("customer_id", "required")
	case len(r.ServiceIDs) == 0:
		return model.Invalid("service_ids", "at least one service is required")
	case r.Date.IsZero():
		return model.Invalid("date", "required")
	case r.StartMinute < 0 || r.EndMinute > model.MinutesPerDay:
		return model.Invalid("start", "must be within 00:00..24:00")
	case r.EndMinute <= r.StartMinute:
		return model.Invalid("end", "must be after start")
	}
	if slices.Contains(r.ServiceIDs, "") {
		return model.Invalid("service_ids", "empty service id")
	}
	return nil
}

type Result struct {
	AppointmentID string
	State         State
	// Replayed is true when the outcome was read back from an earlier
	// attempt with the same idempotency key.
	Replayed bool
}

type Guard struct {
	uow    UnitOfWork
	salons availability.SalonDirectory
	logger *slog.Logger
	now    func() time.Time
}

func NewGuard(uow UnitOfWork, salons availability.SalonDirectory, logger *slog.Logger) *Guard {
	return &Guard{uow: uow, salons: salons, logger: logger, now: time.Now}
}

// ConfirmBooking inserts a pending appointment for req if the interval is
// still entirely free, or returns model.ErrSlotUnavailable. It is not safe
// to retry blindly after a transient error: the caller should query
// availability again first.
func (g *Guard) ConfirmBooking(ctx context.Context, req Request) (Result, error) {
	ctx, span := otel.Tracer("booking-service/booking").Start(ctx, "booking.ConfirmBooking")
	defer span.End()
	span.SetAttributes(
		attribute.String("salon.id", req.SalonID),
		attribute.String("staff.id", req.StaffID),
		attribute.String("date", req.Date.String()),
	)

	res, err := g.confirm(ctx, req)
	switch {
	case err == nil && res.Replayed:
		metrics.IncBookingAttempt("replayed")
	case err == nil:
		metrics.IncBookingAttempt("confirmed")
		g.logger.Info("appointment requested",
			"appointment_id", res.AppointmentID,
			"salon_id", req.SalonID,
			"staff_id", req.StaffID,
			"date", req.Date.String(),
			"start", model.FormatClock(req.StartMinute),
		)
	case errors.Is(err, model.ErrSlotUnavailable):
		metrics.IncBookingAttempt("rejected")
		span.SetAttributes(attribute.Bool("booking.rejected", true))
		g.logger.Info("booking rejected",
			"salon_id", req.SalonID,
			"staff_id", req.StaffID,
			"date", req.Date.String(),
			"start", model.FormatClock(req.StartMinute),
			"replayed", res.Replayed,
		)
	case model.IsValidation(err):
		metrics.IncBookingAttempt("invalid")
	default:
		metrics.IncBookingAttempt("error")
		span.RecordError(err)
		span.SetStatus(codes.Error, "confirm booking")
	}
	return res, err
}

func (g *Guard) confirm(ctx context.Context, req Request) (Result, error) {
	res := Result{State: StateRequested}
	if err := req.Validate(); err != nil {
		res.State = StateRejected
		return res, err
	}
	if req.Location == nil {
		loc, err := g.salons.SalonLocation(ctx, req.SalonID)
		if err != nil {
			return res, fmt.Errorf("salon timezone: %w", err)
		}
		req.Location = loc
	}
	want, ok := availability.LocalInterval(req.Date, req.Location, req.StartMinute, req.EndMinute)
	if !ok {
		res.State = StateRejected
		return res, model.Invalid("start", "interval crosses a daylight-saving change in the salon timezone")
	}
	key := strings.TrimSpace(req.IdempotencyKey)

	err := g.uow.Within(ctx, func(ctx context.Context, tx Tx) error {
		res = Result{State: StateValidating}

		if key != "" {
			rec, existed, err := tx.LockIdempotencyKey(ctx, req.SalonID, key)
			if err != nil {
				return fmt.Errorf("lock idempotency key: %w", err)
			}
			if existed && rec.Completed() {
				res.Replayed = true
				res.AppointmentID = rec.AppointmentID
				res.State = StateConfirmed
				if rec.Rejected {
					res.State = StateRejected
				}
				return nil
			}
		}

		if err := tx.LockStaffDay(ctx, req.SalonID, req.StaffID, req.Date); err != nil {
			return fmt.Errorf("lock staff day: %w", err)
		}

		free, err := availability.FreeIntervals(ctx, availability.SourcesFrom(tx), availability.Query{
			SalonID:         req.SalonID,
			StaffID:         req.StaffID,
			LocationID:      req.LocationID,
			Date:            req.Date,
			ServiceIDs:      req.ServiceIDs,
			DurationMinutes: req.EndMinute - req.StartMinute,
			Location:        req.Location,
		})
		if err != nil {
			return err
		}
		if !availability.Covered(free, want) {
			res.State = StateRejected
			if key == "" {
				return nil
			}
			return tx.FinalizeIdempotency(ctx, model.IdempotencyRecord{SalonID: req.SalonID, Key: key, Rejected: true})
		}

		appt := model.Appointment{
			ID:         uuid.NewString(),
			SalonID:    req.SalonID,
			StaffID:    req.StaffID,
			LocationID: req.LocationID,
			CustomerID: req.CustomerID,
			ServiceIDs: slices.Clone(req.ServiceIDs),
			Date:       req.Date,
			StartTime:  want.Start,
			EndTime:    want.End,
			Status:     model.StatusPending,
			CreatedAt:  g.now().UTC(),
		}
		id, err := tx.InsertAppointment(ctx, &appt)
		if err != nil {
			return err
		}
		appt.ID = id

		evt, err := outbox.NewAppointmentRequested(appt)
		if err != nil {
			return fmt.Errorf("build event: %w", err)
		}
		if err := tx.InsertEvent(ctx, evt); err != nil {
			return fmt.Errorf("write outbox event: %w", err)
		}
		if key != "" {
			if err := tx.FinalizeIdempotency(ctx, model.IdempotencyRecord{SalonID: req.SalonID, Key: key, AppointmentID: id}); err != nil {
				return fmt.Errorf("finalize idempotency key: %w", err)
			}
		}
		res.AppointmentID = id
		res.State = StateConfirmed
		return nil
	})
	if err != nil {
		// Includes model.ErrSlotUnavailable from the store's overlap
		// constraint; nothing was written.
		return Result{State: StateRejected}, err
	}
	if res.State == StateRejected {
		return res, model.ErrSlotUnavailable
	}
	return res, nil
}

type CancelResult struct {
	AppointmentID string
	Status        model.AppointmentStatus
	CancelledAt   time.Time
	// AlreadyCancelled is true when nothing changed.
	AlreadyCancelled bool
}

// Cancel moves a pending or confirmed appointment to cancelled, which frees
// its interval for new bookings. Cancelling twice is not an error.
func (g *Guard) Cancel(ctx context.Context, salonID, appointmentID, reason string) (CancelResult, error) {
	if strings.TrimSpace(salonID) == "" {
		return CancelResult{}, model.Invalid("salon_id", "required")
	}
	if strings.TrimSpace(appointmentID) == "" {
		return CancelResult{}, model.Invalid("appointment_id", "required")
	}
	reason = strings.TrimSpace(reason)

	var res CancelResult
	err := g.uow.Within(ctx, func(ctx context.Context, tx Tx) error {
		appt, err := tx.GetAppointmentForUpdate(ctx, salonID, appointmentID)
		if err != nil {
			return err
		}
		res = CancelResult{AppointmentID: appt.ID, Status: appt.Status}
		switch appt.Status {
		case model.StatusCancelled:
			res.AlreadyCancelled = true
			if appt.CancelledAt != nil {
				res.CancelledAt = *appt.CancelledAt
			}
			return nil
		case model.StatusPending, model.StatusConfirmed:
		default:
			return fmt.Errorf("%w: %s -> %s", model.ErrInvalidTransition, appt.Status, model.StatusCancelled)
		}

		cancelledAt, err := tx.CancelAppointment(ctx, salonID, appointmentID, reason)
		if err != nil {
			return err
		}
		evt, err := outbox.NewAppointmentCancelled(appt, reason, cancelledAt)
		if err != nil {
			return fmt.Errorf("build event: %w", err)
		}
		if err := tx.InsertEvent(ctx, evt); err != nil {
			return fmt.Errorf("write outbox event: %w", err)
		}
		res.Status = model.StatusCancelled
		res.CancelledAt = cancelledAt
		return nil
	})
	if err != nil {
		return CancelResult{}, err
	}
	if !res.AlreadyCancelled {
		metrics.IncCancellation()
		g.logger.Info("appointment cancelled", "appointment_id", appointmentID, "salon_id", salonID)
	}
	return res, nil
}
