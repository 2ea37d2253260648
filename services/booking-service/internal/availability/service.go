package availability

import (
	"context"
	"fmt"
	"slices"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"github.com/glamdesk/salonbook/services/booking-service/internal/model"
)

const DefaultGranularityMinutes = 30

// SalonDirectory resolves a salon's IANA timezone. All dates and clock times
// of a salon are interpreted in it.
type SalonDirectory interface {
	SalonLocation(ctx context.Context, salonID string) (*time.Location, error)
}

// Query is a slot search for one staff member on one local date.
type Query struct {
	SalonID    string
	StaffID    string
	LocationID string
	Date       model.Date
	ServiceIDs []string
	// DurationMinutes is the total length of the requested services.
	DurationMinutes    int
	GranularityMinutes int
	// Location is filled from the SalonDirectory when nil.
	Location *time.Location
}

func (q Query) Validate() error {
	if strings.TrimSpace(q.SalonID) == "" {
		return model.Invalid("salon_id", "required")
	}
	if strings.TrimSpace(q.StaffID) == "" {
		return model.Invalid("staff_id", "required")
	}
	if q.Date.IsZero() {
		return model.Invalid("date", "required")
	}
	if q.DurationMinutes <= 0 {
		return model.Invalid("duration_minutes", "must be > 0")
	}
	if q.DurationMinutes > model.MinutesPerDay {
		return model.Invalid("duration_minutes", "must fit in one day")
	}
	if q.GranularityMinutes < 0 {
		return model.Invalid("granularity_minutes", "must be > 0")
	}
	return nil
}

func (q Query) target() model.Target {
	return model.Target{StaffID: q.StaffID, LocationID: q.LocationID, ServiceIDs: q.ServiceIDs}
}

func (q Query) granularity() time.Duration {
	g := q.GranularityMinutes
	if g <= 0 {
		g = DefaultGranularityMinutes
	}
	return time.Duration(g) * time.Minute
}

func (q Query) duration() time.Duration {
	return time.Duration(q.DurationMinutes) * time.Minute
}

// FreeIntervals computes working hours minus blocked time minus existing
// appointments for the query's staff member and date. No working hours
// yields an empty result.
func FreeIntervals(ctx context.Context, src Sources, q Query) ([]model.Interval, error) {
	loc := q.Location
	if loc == nil {
		loc = time.UTC
	}

	working, ok, err := NewWorkingHoursResolver(src.WorkingHours).Resolve(ctx, q.SalonID, q.StaffID, q.Date, loc)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, nil
	}

	blocked, err := NewBlockedTimeResolver(src.BlockedTimes).Resolve(ctx, q.SalonID, q.target(), q.Date, loc)
	if err != nil {
		return nil, err
	}

	appts, err := src.Appointments.ListAppointments(ctx, q.SalonID, q.StaffID, working)
	if err != nil {
		return nil, fmt.Errorf("list appointments: %w", err)
	}
	exclusions := slices.Clone(blocked)
	for _, a := range appts {
		if !a.Busy() {
			continue
		}
		exclusions = append(exclusions, a.Interval())
	}

	return Subtract(working, exclusions), nil
}

// Service answers slot queries. It only reads.
type Service struct {
	src    Sources
	salons SalonDirectory
}

func NewService(src Sources, salons SalonDirectory) *Service {
	return &Service{src: src, salons: salons}
}

// GetAvailableSlots returns the bookable start times for q in ascending
// order. An empty list means the staff member is not working or fully
// booked; it is not an error.
func (s *Service) GetAvailableSlots(ctx context.Context, q Query) ([]model.Slot, error) {
	ctx, span := otel.Tracer("booking-service/availability").Start(ctx, "availability.GetAvailableSlots")
	defer span.End()
	span.SetAttributes(
		attribute.String("salon.id", q.SalonID),
		attribute.String("staff.id", q.StaffID),
		attribute.String("date", q.Date.String()),
	)

	if err := q.Validate(); err != nil {
		return nil, err
	}
	if q.Location == nil {
		loc, err := s.salons.SalonLocation(ctx, q.SalonID)
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, "salon timezone")
			return nil, fmt.Errorf("salon timezone: %w", err)
		}
		q.Location = loc
	}

	free, err := FreeIntervals(ctx, s.src, q)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "free intervals")
		return nil, err
	}
	slots := GenerateSlots(q.StaffID, q.Date, q.Location, free, q.duration(), q.granularity())
	span.SetAttributes(attribute.Int("slots", len(slots)))
	return slots, nil
}
