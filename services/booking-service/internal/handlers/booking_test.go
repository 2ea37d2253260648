package handlers

import (
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/glamdesk/salonbook/services/booking-service/internal/availability"
	"github.com/glamdesk/salonbook/services/booking-service/internal/booking"
	"github.com/glamdesk/salonbook/services/booking-service/internal/model"
	"github.com/glamdesk/salonbook/services/booking-service/internal/storage"
)

func newTestHandler(t *testing.T) (*BookingHandler, *storage.Memory, *http.ServeMux) {
	t.Helper()
	m := storage.NewMemory()
	m.SetSalonTimezone("sal-1", time.UTC)
	require.NoError(t, m.PutWorkingHours("sal-1", model.WorkingHours{
		StaffID: "stf-1", Weekday: time.Monday, IsWorking: true, StartMinute: 9 * 60, EndMinute: 17 * 60,
	}))
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	h := NewBookingHandler(
		availability.NewService(availability.SourcesFrom(m), m),
		booking.NewGuard(m, m, logger),
		m,
		logger,
		0,
	)
	h.now = func() time.Time { return time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC) }
	mux := http.NewServeMux()
	h.Register(mux)
	return h, m, mux
}

func do(mux http.Handler, method, target, body string, headers ...string) *httptest.ResponseRecorder {
	var r io.Reader
	if body != "" {
		r = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, target, r)
	for i := 0; i+1 < len(headers); i += 2 {
		req.Header.Set(headers[i], headers[i+1])
	}
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, req)
	return rec
}

func decodeSlots(t *testing.T, rec *httptest.ResponseRecorder) []slotItem {
	t.Helper()
	var out []slotItem
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out))
	return out
}

const bookBody = `{"salon_id":"sal-1","staff_id":"stf-1","customer_id":"cus-1","service_ids":["svc-cut"],"date":"2026-03-02","start":"09:00","end":"10:00"}`

func TestSlots(t *testing.T) {
	_, _, mux := newTestHandler(t)

	rec := do(mux, http.MethodGet, "/api/v1/public/slots?salon_id=sal-1&staff_id=stf-1&date=2026-03-02&service_id=svc-cut&duration_minutes=60", "")
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))

	slots := decodeSlots(t, rec)
	require.Len(t, slots, 15)
	assert.Equal(t, slotItem{
		StaffID: "stf-1", Date: "2026-03-02", Start: "09:00", End: "10:00",
		StartTime: "2026-03-02T09:00:00Z", EndTime: "2026-03-02T10:00:00Z",
	}, slots[0])
	assert.Equal(t, "16:00", slots[14].Start)
	assert.Equal(t, "17:00", slots[14].End)
}

func TestSlots_NotWorkingIsEmptyArray(t *testing.T) {
	_, _, mux := newTestHandler(t)
	rec := do(mux, http.MethodGet, "/api/v1/public/slots?salon_id=sal-1&staff_id=stf-1&date=2026-03-03&duration_minutes=60", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `[]`, rec.Body.String())
}

func TestSlots_DropsPastSlotsToday(t *testing.T) {
	h, _, mux := newTestHandler(t)
	h.now = func() time.Time { return time.Date(2026, 3, 2, 14, 10, 0, 0, time.UTC) }

	slots := decodeSlots(t, do(mux, http.MethodGet, "/api/v1/public/slots?salon_id=sal-1&staff_id=stf-1&date=2026-03-02&duration_minutes=60", ""))
	require.NotEmpty(t, slots)
	assert.Equal(t, "14:30", slots[0].Start)
}

func TestSlots_BadRequests(t *testing.T) {
	_, _, mux := newTestHandler(t)
	cases := map[string]string{
		"missing date":     "salon_id=sal-1&staff_id=stf-1&duration_minutes=60",
		"bad duration":     "salon_id=sal-1&staff_id=stf-1&date=2026-03-02&duration_minutes=abc",
		"zero duration":    "salon_id=sal-1&staff_id=stf-1&date=2026-03-02",
		"missing staff":    "salon_id=sal-1&date=2026-03-02&duration_minutes=60",
		"bad granularity":  "salon_id=sal-1&staff_id=stf-1&date=2026-03-02&duration_minutes=60&granularity_minutes=-5",
		"too long booking": "salon_id=sal-1&staff_id=stf-1&date=2026-03-02&duration_minutes=1500",
	}
	for name, qs := range cases {
		t.Run(name, func(t *testing.T) {
			rec := do(mux, http.MethodGet, "/api/v1/public/slots?"+qs, "")
			assert.Equal(t, http.StatusBadRequest, rec.Code)
		})
	}

	rec := do(mux, http.MethodGet, "/api/v1/public/slots?salon_id=nope&staff_id=stf-1&date=2026-03-02&duration_minutes=60", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
	rec = do(mux, http.MethodPost, "/api/v1/public/slots", "")
	assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)
}

func TestSlots_TransientIs503(t *testing.T) {
	_, m, mux := newTestHandler(t)
	m.SetFault(errors.New("db down"))
	rec := do(mux, http.MethodGet, "/api/v1/public/slots?salon_id=sal-1&staff_id=stf-1&date=2026-03-02&duration_minutes=60", "")
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.Equal(t, "1", rec.Header().Get("Retry-After"))
}

func TestCreate(t *testing.T) {
	_, m, mux := newTestHandler(t)

	rec := do(mux, http.MethodPost, "/api/v1/public/book", bookBody)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	var resp createBookingResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.NotEmpty(t, resp.AppointmentID)
	assert.Equal(t, "pending", resp.Status)
	_, ok := m.Appointment(resp.AppointmentID)
	assert.True(t, ok)

	rec = do(mux, http.MethodPost, "/api/v1/public/book", bookBody)
	assert.Equal(t, http.StatusConflict, rec.Code)

	// The booked hour disappears from the slot list.
	slots := decodeSlots(t, do(mux, http.MethodGet, "/api/v1/public/slots?salon_id=sal-1&staff_id=stf-1&date=2026-03-02&duration_minutes=60", ""))
	assert.Equal(t, "10:00", slots[0].Start)
}

func TestSlots_ListedSlotIsBookableAsIs(t *testing.T) {
	_, m, mux := newTestHandler(t)
	ny, err := time.LoadLocation("America/New_York")
	require.NoError(t, err)
	m.SetSalonTimezone("sal-ny", ny)
	require.NoError(t, m.PutWorkingHours("sal-ny", model.WorkingHours{
		StaffID: "stf-1", Weekday: time.Monday, IsWorking: true, StartMinute: 22 * 60, EndMinute: model.MinutesPerDay,
	}))

	slots := decodeSlots(t, do(mux, http.MethodGet, "/api/v1/public/slots?salon_id=sal-ny&staff_id=stf-1&date=2026-03-02&duration_minutes=60", ""))
	require.Len(t, slots, 3)
	last := slots[2]
	assert.Equal(t, "23:00", last.Start)
	assert.Equal(t, "24:00", last.End)
	assert.Equal(t, "2026-03-02T23:00:00-05:00", last.StartTime)

	body, err := json.Marshal(createBookingRequest{
		SalonID: "sal-ny", StaffID: last.StaffID, CustomerID: "cus-1", ServiceIDs: []string{"svc-cut"},
		Date: last.Date, Start: last.Start, End: last.End,
	})
	require.NoError(t, err)
	rec := do(mux, http.MethodPost, "/api/v1/public/book", string(body))
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
}

func TestCreate_IdempotencyKey(t *testing.T) {
	_, m, mux := newTestHandler(t)

	first := do(mux, http.MethodPost, "/api/v1/public/book", bookBody, "Idempotency-Key", "abc")
	require.Equal(t, http.StatusCreated, first.Code)
	again := do(mux, http.MethodPost, "/api/v1/public/book", bookBody, "Idempotency-Key", "abc")
	require.Equal(t, http.StatusOK, again.Code)
	assert.JSONEq(t, first.Body.String(), again.Body.String())
	assert.Len(t, m.Appointments(), 1)
}

func TestCreate_BadRequests(t *testing.T) {
	_, _, mux := newTestHandler(t)
	cases := map[string]string{
		"invalid json":   `{`,
		"bad date":       `{"salon_id":"sal-1","staff_id":"stf-1","customer_id":"c","service_ids":["s"],"date":"03/02/2026","start":"09:00","end":"10:00"}`,
		"bad start":      `{"salon_id":"sal-1","staff_id":"stf-1","customer_id":"c","service_ids":["s"],"date":"2026-03-02","start":"9am","end":"10:00"}`,
		"end before":     `{"salon_id":"sal-1","staff_id":"stf-1","customer_id":"c","service_ids":["s"],"date":"2026-03-02","start":"10:00","end":"09:00"}`,
		"no services":    `{"salon_id":"sal-1","staff_id":"stf-1","customer_id":"c","date":"2026-03-02","start":"09:00","end":"10:00"}`,
		"no customer id": `{"salon_id":"sal-1","staff_id":"stf-1","service_ids":["s"],"date":"2026-03-02","start":"09:00","end":"10:00"}`,
	}
	for name, body := range cases {
		t.Run(name, func(t *testing.T) {
			rec := do(mux, http.MethodPost, "/api/v1/public/book", body)
			assert.Equal(t, http.StatusBadRequest, rec.Code, rec.Body.String())
		})
	}
}

func TestCancelAndList(t *testing.T) {
	_, _, mux := newTestHandler(t)

	rec := do(mux, http.MethodPost, "/api/v1/public/book", bookBody)
	require.Equal(t, http.StatusCreated, rec.Code)
	var created createBookingResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &created))

	rec = do(mux, http.MethodPost, "/api/v1/appointments/cancel",
		`{"salon_id":"sal-1","appointment_id":"`+created.AppointmentID+`","reason":"sick"}`)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	var cancelled cancelBookingResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &cancelled))
	assert.Equal(t, "cancelled", cancelled.Status)
	assert.NotEmpty(t, cancelled.CancelledAt)

	rec = do(mux, http.MethodPost, "/api/v1/appointments/cancel", `{"salon_id":"sal-1","appointment_id":"missing"}`)
	assert.Equal(t, http.StatusNotFound, rec.Code)
	rec = do(mux, http.MethodPost, "/api/v1/appointments/cancel", `{"salon_id":"sal-1"}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = do(mux, http.MethodGet, "/api/v1/appointments?salon_id=sal-1&staff_id=stf-1&date=2026-03-02", "")
	require.Equal(t, http.StatusOK, rec.Code)
	var items []listAppointmentItem
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &items))
	require.Len(t, items, 1)
	assert.Equal(t, created.AppointmentID, items[0].AppointmentID)
	assert.Equal(t, "cancelled", items[0].Status)
	assert.Equal(t, "2026-03-02", items[0].Date)
	assert.Equal(t, "09:00", items[0].Start)
	assert.Equal(t, "10:00", items[0].End)
	assert.Equal(t, "2026-03-02T09:00:00Z", items[0].StartTime)

	rec = do(mux, http.MethodGet, "/api/v1/appointments?salon_id=sal-1&date=2026-03-02", "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestCancel_CompletedIsConflict(t *testing.T) {
	_, m, mux := newTestHandler(t)
	day := model.Date{Year: 2026, Month: 3, Day: 2}
	id, err := m.PutAppointment(model.Appointment{
		SalonID: "sal-1", StaffID: "stf-1", StartTime: day.At(time.UTC, 600), EndTime: day.At(time.UTC, 660),
		Status: model.StatusCompleted,
	})
	require.NoError(t, err)

	rec := do(mux, http.MethodPost, "/api/v1/appointments/cancel", `{"salon_id":"sal-1","appointment_id":"`+id+`"}`)
	assert.Equal(t, http.StatusConflict, rec.Code)
}

func TestServiceIDs(t *testing.T) {
	assert.Equal(t, []string{"a", "b", "c"}, serviceIDs([]string{"a,b", " c ", "a", ""}))
	assert.Nil(t, serviceIDs(nil))
}
