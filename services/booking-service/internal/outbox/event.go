package outbox

import (
	"encoding/json"
	"time"

	"github.com/glamdesk/salonbook/services/booking-service/internal/model"
)

const (
	AggregateAppointment = "appointment"

	TypeAppointmentRequested = "booking.appointment.requested.v1"
	TypeAppointmentCancelled = "booking.appointment.cancelled.v1"
)

// Event is the domain event envelope written to the outbox table.
// The Kafka topic name equals EventType (one topic per event).
type Event struct {
	AggregateType string
	AggregateID   string
	EventType     string
	Payload       []byte
}

// AppointmentRequested is emitted when the guard inserts a pending
// appointment. Times are RFC 3339 in the salon's timezone.
type AppointmentRequested struct {
	AppointmentID string   `json:"appointment_id"`
	SalonID       string   `json:"salon_id"`
	StaffID       string   `json:"staff_id"`
	LocationID    string   `json:"location_id,omitempty"`
	CustomerID    string   `json:"customer_id"`
	ServiceIDs    []string `json:"service_ids"`
	Date          string   `json:"appointment_date"`
	StartTime     string   `json:"start_time"`
	EndTime       string   `json:"end_time"`
	Status        string   `json:"status"`
}

type AppointmentCancelled struct {
	AppointmentID string `json:"appointment_id"`
	SalonID       string `json:"salon_id"`
	StaffID       string `json:"staff_id"`
	StartTime     string `json:"start_time"`
	EndTime       string `json:"end_time"`
	Reason        string `json:"reason,omitempty"`
	CancelledAt   string `json:"cancelled_at"`
}

func NewAppointmentRequested(a model.Appointment) (Event, error) {
	payload, err := json.Marshal(AppointmentRequested{
		AppointmentID: a.ID,
		SalonID:       a.SalonID,
		StaffID:       a.StaffID,
		LocationID:    a.LocationID,
		CustomerID:    a.CustomerID,
		ServiceIDs:    a.ServiceIDs,
		Date:          a.Date.String(),
		StartTime:     a.StartTime.Format(time.RFC3339),
		EndTime:       a.EndTime.Format(time.RFC3339),
		Status:        string(a.Status),
	})
	if err != nil {
		return Event{}, err
	}
	return Event{
		AggregateType: AggregateAppointment,
		AggregateID:   a.ID,
		EventType:     TypeAppointmentRequested,
		Payload:       payload,
	}, nil
}

func NewAppointmentCancelled(a model.Appointment, reason string, cancelledAt time.Time) (Event, error) {
	payload, err := json.Marshal(AppointmentCancelled{
		AppointmentID: a.ID,
		SalonID:       a.SalonID,
		StaffID:       a.StaffID,
		StartTime:     a.StartTime.Format(time.RFC3339),
		EndTime:       a.EndTime.Format(time.RFC3339),
		Reason:        reason,
		CancelledAt:   cancelledAt.UTC().Format(time.RFC3339),
	})
	if err != nil {
		return Event{}, err
	}
	return Event{
		AggregateType: AggregateAppointment,
		AggregateID:   a.ID,
		EventType:     TypeAppointmentCancelled,
		Payload:       payload,
	}, nil
}

// Record is an outbox row as read back by the publisher.
type Record struct {
	ID            int64
	EventID       string
	AggregateType string
	AggregateID   string
	EventType     string
	Payload       []byte
	Traceparent   string
	Tracestate    string
	CreatedAt     time.Time
}
