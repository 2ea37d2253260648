package availability

import (
	"context"
	"time"

	"github.com/glamdesk/salonbook/services/booking-service/internal/model"
)

// WorkingHoursSource returns the staff member's row for weekday. found is
// false when no row exists.
type WorkingHoursSource interface {
	GetWorkingHours(ctx context.Context, salonID, staffID string, weekday time.Weekday) (wh model.WorkingHours, found bool, err error)
}

// BlockedTimeSource lists active blocked-time rules of a salon. It may return
// more rules than filter strictly matches.
type BlockedTimeSource interface {
	ListBlockedTimes(ctx context.Context, salonID string, filter model.BlockedTimeFilter) ([]model.BlockedTime, error)
}

// AppointmentSource lists the staff member's non-cancelled appointments
// overlapping window.
type AppointmentSource interface {
	ListAppointments(ctx context.Context, salonID, staffID string, window model.Interval) ([]model.Appointment, error)
}

// Sources bundles the three reads the engine depends on. The read path and
// the booking guard wire different implementations (cached vs. in-transaction).
type Sources struct {
	WorkingHours WorkingHoursSource
	BlockedTimes BlockedTimeSource
	Appointments AppointmentSource
}

// Store is anything that can serve all three reads.
type Store interface {
	WorkingHoursSource
	BlockedTimeSource
	AppointmentSource
}

func SourcesFrom(s Store) Sources {
	return Sources{WorkingHours: s, BlockedTimes: s, Appointments: s}
}
