package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/glamdesk/salonbook/services/booking-service/internal/availability"
	"github.com/glamdesk/salonbook/services/booking-service/internal/booking"
	"github.com/glamdesk/salonbook/services/booking-service/internal/metrics"
	"github.com/glamdesk/salonbook/services/booking-service/internal/model"
)

// SlotFinder answers availability queries.
type SlotFinder interface {
	GetAvailableSlots(ctx context.Context, q availability.Query) ([]model.Slot, error)
}

// Booker confirms and cancels appointments.
type Booker interface {
	ConfirmBooking(ctx context.Context, req booking.Request) (booking.Result, error)
	Cancel(ctx context.Context, salonID, appointmentID, reason string) (booking.CancelResult, error)
}

// Schedule is the read side used for listings and timezone lookups.
type Schedule interface {
	availability.SalonDirectory
	ListStaffSchedule(ctx context.Context, salonID, staffID string, window model.Interval) ([]model.Appointment, error)
}

type BookingHandler struct {
	slots       SlotFinder
	bookings    Booker
	schedule    Schedule
	logger      *slog.Logger
	granularity int
	now         func() time.Time
}

// NewBookingHandler uses granularityMinutes when a slot query does not set
// one; zero keeps availability.DefaultGranularityMinutes.
func NewBookingHandler(slots SlotFinder, bookings Booker, schedule Schedule, logger *slog.Logger, granularityMinutes int) *BookingHandler {
	return &BookingHandler{
		slots:       slots,
		bookings:    bookings,
		schedule:    schedule,
		logger:      logger,
		granularity: granularityMinutes,
		now:         time.Now,
	}
}

// Register mounts the booking routes on mux.
func (h *BookingHandler) Register(mux *http.ServeMux) {
	mux.HandleFunc("/api/v1/public/slots", h.Slots)
	mux.HandleFunc("/api/v1/public/book", h.Create)
	mux.HandleFunc("/api/v1/appointments", h.List)
	mux.HandleFunc("/api/v1/appointments/cancel", h.Cancel)
}

// slotItem names a slot by date and HH:MM in the salon timezone, the same
// form POST /book accepts. start_time and end_time carry the instants.
type slotItem struct {
	StaffID   string `json:"staff_id"`
	Date      string `json:"date"`
	Start     string `json:"start"`
	End       string `json:"end"`
	StartTime string `json:"start_time"`
	EndTime   string `json:"end_time"`
}

type createBookingRequest struct {
	SalonID    string   `json:"salon_id"`
	StaffID    string   `json:"staff_id"`
	LocationID string   `json:"location_id"`
	CustomerID string   `json:"customer_id"`
	ServiceIDs []string `json:"service_ids"`
	Date       string   `json:"date"`
	Start      string   `json:"start"`
	End        string   `json:"end"`
}

type createBookingResponse struct {
	AppointmentID string `json:"appointment_id"`
	Status        string `json:"status"`
}

type cancelBookingRequest struct {
	SalonID       string `json:"salon_id"`
	AppointmentID string `json:"appointment_id"`
	Reason        string `json:"reason"`
}

type cancelBookingResponse struct {
	AppointmentID string `json:"appointment_id"`
	Status        string `json:"status"`
	CancelledAt   string `json:"cancelled_at,omitempty"`
}

type listAppointmentItem struct {
	AppointmentID string   `json:"appointment_id"`
	StaffID       string   `json:"staff_id"`
	LocationID    string   `json:"location_id,omitempty"`
	CustomerID    string   `json:"customer_id"`
	ServiceIDs    []string `json:"service_ids"`
	Date          string   `json:"date"`
	Start         string   `json:"start"`
	End           string   `json:"end"`
	StartTime     string   `json:"start_time"`
	EndTime       string   `json:"end_time"`
	Status        string   `json:"status"`
	CancelledAt   string   `json:"cancelled_at,omitempty"`
	CreatedAt     string   `json:"created_at"`
}

func (h *BookingHandler) Slots(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	started := time.Now()

	q := r.URL.Query()
	query := availability.Query{
		SalonID:            strings.TrimSpace(q.Get("salon_id")),
		StaffID:            strings.TrimSpace(q.Get("staff_id")),
		LocationID:         strings.TrimSpace(q.Get("location_id")),
		ServiceIDs:         serviceIDs(q["service_id"]),
		GranularityMinutes: h.granularity,
	}
	day, err := model.ParseDate(q.Get("date"))
	if err != nil {
		metrics.ObserveSlotQuery("invalid", time.Since(started), 0)
		http.Error(w, "invalid date (want YYYY-MM-DD)", http.StatusBadRequest)
		return
	}
	query.Date = day
	if query.DurationMinutes, err = intParam(q.Get("duration_minutes"), 0); err != nil {
		metrics.ObserveSlotQuery("invalid", time.Since(started), 0)
		http.Error(w, "invalid duration_minutes", http.StatusBadRequest)
		return
	}
	if query.GranularityMinutes, err = intParam(q.Get("granularity_minutes"), query.GranularityMinutes); err != nil {
		metrics.ObserveSlotQuery("invalid", time.Since(started), 0)
		http.Error(w, "invalid granularity_minutes", http.StatusBadRequest)
		return
	}
	if err := query.Validate(); err != nil {
		metrics.ObserveSlotQuery("invalid", time.Since(started), 0)
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	loc, err := h.schedule.SalonLocation(r.Context(), query.SalonID)
	if err != nil {
		metrics.ObserveSlotQuery(outcome(err), time.Since(started), 0)
		h.writeError(w, "salon timezone", err)
		return
	}
	query.Location = loc

	slots, err := h.slots.GetAvailableSlots(r.Context(), query)
	if err != nil {
		metrics.ObserveSlotQuery(outcome(err), time.Since(started), 0)
		h.writeError(w, "get available slots", err)
		return
	}
	now := h.now().In(loc)
	if model.DateOf(now) == day {
		slots = availability.DropPast(slots, now)
	}
	metrics.ObserveSlotQuery("ok", time.Since(started), len(slots))

	resp := make([]slotItem, 0, len(slots))
	for _, s := range slots {
		resp = append(resp, slotItem{
			StaffID:   s.StaffID,
			Date:      s.Date.String(),
			Start:     wallClock(s.Date, loc, s.Start),
			End:       wallClock(s.Date, loc, s.End),
			StartTime: s.Start.In(loc).Format(time.RFC3339),
			EndTime:   s.End.In(loc).Format(time.RFC3339),
		})
	}
	writeJSON(w, http.StatusOK, resp)
}

func (h *BookingHandler) Create(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var req createBookingRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid json body", http.StatusBadRequest)
		return
	}
	day, err := model.ParseDate(req.Date)
	if err != nil {
		http.Error(w, "invalid date (want YYYY-MM-DD)", http.StatusBadRequest)
		return
	}
	start, err := model.ParseClock(req.Start)
	if err != nil {
		http.Error(w, "invalid start: "+err.Error(), http.StatusBadRequest)
		return
	}
	end, err := model.ParseClock(req.End)
	if err != nil {
		http.Error(w, "invalid end: "+err.Error(), http.StatusBadRequest)
		return
	}

	res, err := h.bookings.ConfirmBooking(r.Context(), booking.Request{
		SalonID:        strings.TrimSpace(req.SalonID),
		StaffID:        strings.TrimSpace(req.StaffID),
		LocationID:     strings.TrimSpace(req.LocationID),
		CustomerID:     strings.TrimSpace(req.CustomerID),
		ServiceIDs:     serviceIDs(req.ServiceIDs),
		Date:           day,
		StartMinute:    start,
		EndMinute:      end,
		IdempotencyKey: strings.TrimSpace(r.Header.Get("Idempotency-Key")),
	})
	if err != nil {
		h.writeError(w, "confirm booking", err)
		return
	}

	status := http.StatusCreated
	if res.Replayed {
		status = http.StatusOK
	}
	writeJSON(w, status, createBookingResponse{
		AppointmentID: res.AppointmentID,
		Status:        string(model.StatusPending),
	})
}

func (h *BookingHandler) Cancel(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var req cancelBookingRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid json body", http.StatusBadRequest)
		return
	}

	res, err := h.bookings.Cancel(r.Context(), req.SalonID, req.AppointmentID, req.Reason)
	if err != nil {
		h.writeError(w, "cancel appointment", err)
		return
	}
	resp := cancelBookingResponse{AppointmentID: res.AppointmentID, Status: string(res.Status)}
	if !res.CancelledAt.IsZero() {
		resp.CancelledAt = res.CancelledAt.UTC().Format(time.RFC3339)
	}
	writeJSON(w, http.StatusOK, resp)
}

func (h *BookingHandler) List(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	q := r.URL.Query()
	salonID := strings.TrimSpace(q.Get("salon_id"))
	staffID := strings.TrimSpace(q.Get("staff_id"))
	if salonID == "" || staffID == "" {
		http.Error(w, "salon_id and staff_id required", http.StatusBadRequest)
		return
	}
	day, err := model.ParseDate(q.Get("date"))
	if err != nil {
		http.Error(w, "invalid date (want YYYY-MM-DD)", http.StatusBadRequest)
		return
	}

	loc, err := h.schedule.SalonLocation(r.Context(), salonID)
	if err != nil {
		h.writeError(w, "salon timezone", err)
		return
	}
	appts, err := h.schedule.ListStaffSchedule(r.Context(), salonID, staffID, day.Window(loc))
	if err != nil {
		h.writeError(w, "list appointments", err)
		return
	}

	items := make([]listAppointmentItem, 0, len(appts))
	for _, appt := range appts {
		startDay := model.DateOf(appt.StartTime.In(loc))
		item := listAppointmentItem{
			AppointmentID: appt.ID,
			StaffID:       appt.StaffID,
			LocationID:    appt.LocationID,
			CustomerID:    appt.CustomerID,
			ServiceIDs:    appt.ServiceIDs,
			Date:          startDay.String(),
			Start:         wallClock(startDay, loc, appt.StartTime),
			End:           wallClock(startDay, loc, appt.EndTime),
			StartTime:     appt.StartTime.In(loc).Format(time.RFC3339),
			EndTime:       appt.EndTime.In(loc).Format(time.RFC3339),
			Status:        string(appt.Status),
			CreatedAt:     appt.CreatedAt.UTC().Format(time.RFC3339),
		}
		if appt.CancelledAt != nil {
			item.CancelledAt = appt.CancelledAt.UTC().Format(time.RFC3339)
		}
		items = append(items, item)
	}
	writeJSON(w, http.StatusOK, items)
}

// wallClock formats t as HH:MM on day in loc. The following midnight is
// "24:00" so a slot closing the day stays on its date.
func wallClock(day model.Date, loc *time.Location, t time.Time) string {
	lt := t.In(loc)
	if model.DateOf(lt) == day.AddDays(1) && lt.Hour() == 0 && lt.Minute() == 0 {
		return model.FormatClock(model.MinutesPerDay)
	}
	return lt.Format("15:04")
}

// writeError maps engine errors to status codes. Internal details are logged,
// not returned.
func (h *BookingHandler) writeError(w http.ResponseWriter, op string, err error) {
	var v *model.ValidationError
	switch {
	case errors.As(err, &v):
		http.Error(w, v.Error(), http.StatusBadRequest)
	case errors.Is(err, model.ErrSlotUnavailable):
		http.Error(w, "requested time is no longer available", http.StatusConflict)
	case errors.Is(err, model.ErrInvalidTransition):
		http.Error(w, "appointment cannot be cancelled", http.StatusConflict)
	case errors.Is(err, model.ErrNotFound):
		http.Error(w, "not found", http.StatusNotFound)
	case model.IsTransient(err):
		h.logger.Warn(op+" unavailable", "err", err)
		w.Header().Set("Retry-After", "1")
		http.Error(w, "temporarily unavailable", http.StatusServiceUnavailable)
	default:
		h.logger.Error(op+" failed", "err", err)
		http.Error(w, "internal error", http.StatusInternalServerError)
	}
}

func outcome(err error) string {
	switch {
	case model.IsValidation(err):
		return "invalid"
	case errors.Is(err, model.ErrNotFound):
		return "not_found"
	case model.IsTransient(err):
		return "unavailable"
	default:
		return "error"
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	body, err := json.Marshal(v)
	if err != nil {
		http.Error(w, "failed to build response", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_, _ = w.Write(body)
}

// serviceIDs accepts repeated values as well as comma-separated lists and
// drops duplicates.
func serviceIDs(raw []string) []string {
	seen := map[string]struct{}{}
	var out []string
	for _, v := range raw {
		for _, id := range strings.Split(v, ",") {
			id = strings.TrimSpace(id)
			if id == "" {
				continue
			}
			if _, ok := seen[id]; ok {
				continue
			}
			seen[id] = struct{}{}
			out = append(out, id)
		}
	}
	return out
}

func intParam(raw string, def int) (int, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return def, nil
	}
	return strconv.Atoi(raw)
}
