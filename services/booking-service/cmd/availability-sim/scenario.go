package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/glamdesk/salonbook/services/booking-service/internal/availability"
	"github.com/glamdesk/salonbook/services/booking-service/internal/booking"
	"github.com/glamdesk/salonbook/services/booking-service/internal/model"
	"github.com/glamdesk/salonbook/services/booking-service/internal/storage"
)

// Scenario is one salon's schedule plus the queries and booking attempts to
// run against it.
type Scenario struct {
	SalonID      string             `yaml:"salon_id"`
	Timezone     string             `yaml:"timezone"`
	WorkingHours []WorkingHoursSpec `yaml:"working_hours"`
	BlockedTimes []BlockedTimeSpec  `yaml:"blocked_times"`
	Appointments []AppointmentSpec  `yaml:"appointments"`
	Bookings     []BookingSpec      `yaml:"bookings"`
	Queries      []QuerySpec        `yaml:"queries"`
}

type WorkingHoursSpec struct {
	StaffID string `yaml:"staff_id"`
	Weekday string `yaml:"weekday"` // "monday" or "mon"
	Start   string `yaml:"start"`   // "09:00"
	End     string `yaml:"end"`     // "17:00"
	Off     bool   `yaml:"off,omitempty"`
}

type BlockedTimeSpec struct {
	Scope      string          `yaml:"scope"` // full, location, staff, partial
	Ref        string          `yaml:"ref,omitempty"`
	ServiceIDs []string        `yaml:"service_ids,omitempty"`
	Date       string          `yaml:"date"`
	Start      string          `yaml:"start"`
	End        string          `yaml:"end"`
	Reason     string          `yaml:"reason,omitempty"`
	Inactive   bool            `yaml:"inactive,omitempty"`
	Recurrence *RecurrenceSpec `yaml:"recurrence,omitempty"`
}

type RecurrenceSpec struct {
	Frequency  string   `yaml:"frequency"`
	Interval   int      `yaml:"interval"`
	DaysOfWeek []string `yaml:"days_of_week,omitempty"`
	Until      string   `yaml:"until,omitempty"`
}

type AppointmentSpec struct {
	StaffID string `yaml:"staff_id"`
	Date    string `yaml:"date"`
	Start   string `yaml:"start"`
	End     string `yaml:"end"`
	Status  string `yaml:"status,omitempty"`
}

type BookingSpec struct {
	StaffID        string   `yaml:"staff_id"`
	LocationID     string   `yaml:"location_id,omitempty"`
	CustomerID     string   `yaml:"customer_id,omitempty"`
	ServiceIDs     []string `yaml:"service_ids"`
	Date           string   `yaml:"date"`
	Start          string   `yaml:"start"`
	End            string   `yaml:"end"`
	IdempotencyKey string   `yaml:"idempotency_key,omitempty"`
}

type QuerySpec struct {
	StaffID            string   `yaml:"staff_id"`
	LocationID         string   `yaml:"location_id,omitempty"`
	ServiceIDs         []string `yaml:"service_ids,omitempty"`
	Date               string   `yaml:"date"`
	DurationMinutes    int      `yaml:"duration_minutes"`
	GranularityMinutes int      `yaml:"granularity_minutes,omitempty"`
}

// LoadScenario reads and decodes a YAML scenario. Unknown keys are rejected.
func LoadScenario(path string) (*Scenario, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("read scenario: %w", err)
	}
	defer f.Close()
	return DecodeScenario(f)
}

func DecodeScenario(r io.Reader) (*Scenario, error) {
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	var sc Scenario
	if err := dec.Decode(&sc); err != nil {
		return nil, fmt.Errorf("parse scenario: %w", err)
	}
	if strings.TrimSpace(sc.SalonID) == "" {
		sc.SalonID = "salon"
	}
	if sc.Timezone == "" {
		sc.Timezone = "UTC"
	}
	return &sc, nil
}

// BookingOutcome is the result of one booking attempt.
type BookingOutcome struct {
	Spec          BookingSpec
	AppointmentID string
	State         booking.State
	Err           error
}

// QueryOutcome is the slot list for one query.
type QueryOutcome struct {
	Spec  QuerySpec
	Slots []model.Slot
	Err   error
}

type Report struct {
	Location *time.Location
	Bookings []BookingOutcome
	Queries  []QueryOutcome
}

// Run seeds an in-memory store from sc, applies the booking attempts in order
// and then answers every query.
func (sc *Scenario) Run(ctx context.Context, logger *slog.Logger) (*Report, error) {
	loc, err := time.LoadLocation(sc.Timezone)
	if err != nil {
		return nil, fmt.Errorf("timezone: %w", err)
	}
	store, err := sc.seed(loc)
	if err != nil {
		return nil, err
	}

	rep := &Report{Location: loc}
	guard := booking.NewGuard(store, store, logger)
	for i, b := range sc.Bookings {
		req, err := b.request(sc.SalonID)
		if err != nil {
			return nil, fmt.Errorf("bookings[%d]: %w", i, err)
		}
		res, err := guard.ConfirmBooking(ctx, req)
		rep.Bookings = append(rep.Bookings, BookingOutcome{Spec: b, AppointmentID: res.AppointmentID, State: res.State, Err: err})
	}

	svc := availability.NewService(availability.SourcesFrom(store), store)
	for i, q := range sc.Queries {
		day, err := model.ParseDate(q.Date)
		if err != nil {
			return nil, fmt.Errorf("queries[%d].date: %w", i, err)
		}
		slots, err := svc.GetAvailableSlots(ctx, availability.Query{
			SalonID:            sc.SalonID,
			StaffID:            q.StaffID,
			LocationID:         q.LocationID,
			Date:               day,
			ServiceIDs:         q.ServiceIDs,
			DurationMinutes:    q.DurationMinutes,
			GranularityMinutes: q.GranularityMinutes,
		})
		rep.Queries = append(rep.Queries, QueryOutcome{Spec: q, Slots: slots, Err: err})
	}
	return rep, nil
}

func (sc *Scenario) seed(loc *time.Location) (*storage.Memory, error) {
	store := storage.NewMemory()
	store.SetSalonTimezone(sc.SalonID, loc)

	for i, w := range sc.WorkingHours {
		wd, err := parseWeekday(w.Weekday)
		if err != nil {
			return nil, fmt.Errorf("working_hours[%d]: %w", i, err)
		}
		wh := model.WorkingHours{StaffID: w.StaffID, Weekday: wd, IsWorking: !w.Off}
		if !w.Off {
			if wh.StartMinute, err = model.ParseClock(w.Start); err != nil {
				return nil, fmt.Errorf("working_hours[%d].start: %w", i, err)
			}
			if wh.EndMinute, err = model.ParseClock(w.End); err != nil {
				return nil, fmt.Errorf("working_hours[%d].end: %w", i, err)
			}
		}
		if err := store.PutWorkingHours(sc.SalonID, wh); err != nil {
			return nil, fmt.Errorf("working_hours[%d]: %w", i, err)
		}
	}

	for i, b := range sc.BlockedTimes {
		bt, err := b.blockedTime(sc.SalonID, loc)
		if err != nil {
			return nil, fmt.Errorf("blocked_times[%d]: %w", i, err)
		}
		if _, err := store.PutBlockedTime(bt); err != nil {
			return nil, fmt.Errorf("blocked_times[%d]: %w", i, err)
		}
	}

	for i, a := range sc.Appointments {
		iv, day, err := localInterval(a.Date, a.Start, a.End, loc)
		if err != nil {
			return nil, fmt.Errorf("appointments[%d]: %w", i, err)
		}
		status := model.AppointmentStatus(a.Status)
		if status == "" {
			status = model.StatusConfirmed
		}
		if _, err := store.PutAppointment(model.Appointment{
			SalonID:   sc.SalonID,
			StaffID:   a.StaffID,
			Date:      day,
			StartTime: iv.Start,
			EndTime:   iv.End,
			Status:    status,
		}); err != nil {
			return nil, fmt.Errorf("appointments[%d]: %w", i, err)
		}
	}
	return store, nil
}

func (b BlockedTimeSpec) blockedTime(salonID string, loc *time.Location) (model.BlockedTime, error) {
	scope, err := model.NewScope(model.ScopeKind(b.Scope), b.Ref, b.ServiceIDs)
	if err != nil {
		return model.BlockedTime{}, err
	}
	iv, _, err := localInterval(b.Date, b.Start, b.End, loc)
	if err != nil {
		return model.BlockedTime{}, err
	}
	bt := model.BlockedTime{
		SalonID:  salonID,
		Scope:    scope,
		Start:    iv.Start,
		End:      iv.End,
		IsActive: !b.Inactive,
		Reason:   b.Reason,
	}
	if b.Recurrence != nil {
		rec := model.Recurrence{Frequency: model.Frequency(b.Recurrence.Frequency), Interval: b.Recurrence.Interval}
		if rec.Interval == 0 {
			rec.Interval = 1
		}
		for _, d := range b.Recurrence.DaysOfWeek {
			wd, err := parseWeekday(d)
			if err != nil {
				return model.BlockedTime{}, err
			}
			rec.DaysOfWeek = append(rec.DaysOfWeek, wd)
		}
		if b.Recurrence.Until != "" {
			until, err := model.ParseDate(b.Recurrence.Until)
			if err != nil {
				return model.BlockedTime{}, fmt.Errorf("recurrence.until: %w", err)
			}
			rec.Until = &until
		}
		bt.IsRecurring = true
		bt.Recurrence = &rec
	}
	return bt, bt.Validate()
}

func (b BookingSpec) request(salonID string) (booking.Request, error) {
	day, err := model.ParseDate(b.Date)
	if err != nil {
		return booking.Request{}, err
	}
	start, err := model.ParseClock(b.Start)
	if err != nil {
		return booking.Request{}, err
	}
	end, err := model.ParseClock(b.End)
	if err != nil {
		return booking.Request{}, err
	}
	customer := b.CustomerID
	if customer == "" {
		customer = "walk-in"
	}
	return booking.Request{
		SalonID:        salonID,
		StaffID:        b.StaffID,
		LocationID:     b.LocationID,
		CustomerID:     customer,
		ServiceIDs:     b.ServiceIDs,
		Date:           day,
		StartMinute:    start,
		EndMinute:      end,
		IdempotencyKey: b.IdempotencyKey,
	}, nil
}

func localInterval(date, start, end string, loc *time.Location) (model.Interval, model.Date, error) {
	day, err := model.ParseDate(date)
	if err != nil {
		return model.Interval{}, model.Date{}, err
	}
	from, err := model.ParseClock(start)
	if err != nil {
		return model.Interval{}, model.Date{}, err
	}
	to, err := model.ParseClock(end)
	if err != nil {
		return model.Interval{}, model.Date{}, err
	}
	return model.Interval{Start: day.At(loc, from), End: day.At(loc, to)}, day, nil
}

var weekdays = map[string]time.Weekday{
	"sun": time.Sunday, "sunday": time.Sunday,
	"mon": time.Monday, "monday": time.Monday,
	"tue": time.Tuesday, "tuesday": time.Tuesday,
	"wed": time.Wednesday, "wednesday": time.Wednesday,
	"thu": time.Thursday, "thursday": time.Thursday,
	"fri": time.Friday, "friday": time.Friday,
	"sat": time.Saturday, "saturday": time.Saturday,
}

func parseWeekday(s string) (time.Weekday, error) {
	wd, ok := weekdays[strings.ToLower(strings.TrimSpace(s))]
	if !ok {
		return 0, fmt.Errorf("unknown weekday %q", s)
	}
	return wd, nil
}
