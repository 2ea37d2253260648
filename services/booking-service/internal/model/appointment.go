package model

import "time"

type AppointmentStatus string

const (
	StatusPending   AppointmentStatus = "pending"
	StatusConfirmed AppointmentStatus = "confirmed"
	StatusCompleted AppointmentStatus = "completed"
	StatusCancelled AppointmentStatus = "cancelled"
)

type Appointment struct {
	ID           string
	SalonID      string
	StaffID      string
	LocationID   string
	CustomerID   string
	ServiceIDs   []string
	Date         Date
	StartTime    time.Time
	EndTime      time.Time
	Status       AppointmentStatus
	CancelledAt  *time.Time
	CancelReason string
	CreatedAt    time.Time
}

func (a Appointment) Interval() Interval {
	return Interval{Start: a.StartTime, End: a.EndTime}
}

// Busy reports whether the appointment occupies its staff member's time for
// availability purposes.
func (a Appointment) Busy() bool {
	return a.Status != StatusCancelled
}

// Exclusive reports whether the appointment takes part in the
// no-overlap invariant.
func (a Appointment) Exclusive() bool {
	return a.Status == StatusPending || a.Status == StatusConfirmed
}

// Slot is a bookable interval computed at query time. It is never stored.
type Slot struct {
	StaffID string
	Date    Date
	Start   time.Time
	End     time.Time
}

// IdempotencyRecord binds a client-supplied key to the outcome of its first
// attempt: the appointment it created, or a rejection.
type IdempotencyRecord struct {
	SalonID       string
	Key           string
	AppointmentID string
	Rejected      bool
}

func (r IdempotencyRecord) Completed() bool {
	return r.AppointmentID != "" || r.Rejected
}
