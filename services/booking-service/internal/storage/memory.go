package storage

import (
	"context"
	"fmt"
	"slices"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/glamdesk/salonbook/services/booking-service/internal/booking"
	"github.com/glamdesk/salonbook/services/booking-service/internal/model"
	"github.com/glamdesk/salonbook/services/booking-service/internal/outbox"
)

// Memory is an in-process store with the same contracts as
// BookingRepository. Units of work are serialized by one mutex, and
// InsertAppointment enforces the same no-overlap rule as the database
// constraint. It backs tests and the availability simulator.
type Memory struct {
	mu        sync.RWMutex
	zones     map[string]*time.Location
	hours     map[string]model.WorkingHours // salon|staff|weekday
	blocked   map[string][]model.BlockedTime
	appts     map[string]model.Appointment
	idem      map[string]model.IdempotencyRecord
	events    []outbox.Record
	published map[int64]bool
	inbox     map[string]bool
	fault     error
	now       func() time.Time
}

func NewMemory() *Memory {
	return &Memory{
		zones:     map[string]*time.Location{},
		hours:     map[string]model.WorkingHours{},
		blocked:   map[string][]model.BlockedTime{},
		appts:     map[string]model.Appointment{},
		idem:      map[string]model.IdempotencyRecord{},
		published: map[int64]bool{},
		inbox:     map[string]bool{},
		now:       time.Now,
	}
}

func hoursKey(salonID, staffID string, wd time.Weekday) string {
	return fmt.Sprintf("%s|%s|%d", salonID, staffID, wd)
}

// SetFault makes every subsequent read and unit of work fail with err, or
// heals the store when err is nil.
func (m *Memory) SetFault(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.fault = err
}

func (m *Memory) SetSalonTimezone(salonID string, loc *time.Location) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.zones[salonID] = loc
}

func (m *Memory) PutWorkingHours(salonID string, wh model.WorkingHours) error {
	if err := wh.Validate(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.hours[hoursKey(salonID, wh.StaffID, wh.Weekday)] = wh
	return nil
}

// PutBlockedTime stores b, assigning an id when it has none.
func (m *Memory) PutBlockedTime(b model.BlockedTime) (string, error) {
	if err := b.Validate(); err != nil {
		return "", err
	}
	if b.ID == "" {
		b.ID = uuid.NewString()
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	rules := slices.DeleteFunc(m.blocked[b.SalonID], func(x model.BlockedTime) bool { return x.ID == b.ID })
	m.blocked[b.SalonID] = append(rules, b)
	return b.ID, nil
}

// PutAppointment seeds an existing appointment, bypassing the guard but not
// the overlap rule.
func (m *Memory) PutAppointment(a model.Appointment) (string, error) {
	if !a.Interval().Valid() {
		return "", model.Invalid("end", "must be after start")
	}
	if a.ID == "" {
		a.ID = uuid.NewString()
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.checkOverlap(a); err != nil {
		return "", err
	}
	m.appts[a.ID] = a
	return a.ID, nil
}

func (m *Memory) Appointment(id string) (model.Appointment, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	a, ok := m.appts[id]
	return a, ok
}

func (m *Memory) Appointments() []model.Appointment {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]model.Appointment, 0, len(m.appts))
	for _, a := range m.appts {
		out = append(out, a)
	}
	slices.SortFunc(out, func(a, b model.Appointment) int { return a.StartTime.Compare(b.StartTime) })
	return out
}

// Events returns every outbox record written so far.
func (m *Memory) Events() []outbox.Record {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return slices.Clone(m.events)
}

func (m *Memory) checkOverlap(a model.Appointment) error {
	if !a.Exclusive() {
		return nil
	}
	for _, x := range m.appts {
		if x.ID != a.ID && x.SalonID == a.SalonID && x.StaffID == a.StaffID && x.Exclusive() && x.Interval().Overlaps(a.Interval()) {
			return fmt.Errorf("insert appointment: %w", model.ErrSlotUnavailable)
		}
	}
	return nil
}

func (m *Memory) GetWorkingHours(ctx context.Context, salonID, staffID string, weekday time.Weekday) (model.WorkingHours, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return memReader{m}.GetWorkingHours(ctx, salonID, staffID, weekday)
}

func (m *Memory) ListBlockedTimes(ctx context.Context, salonID string, filter model.BlockedTimeFilter) ([]model.BlockedTime, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return memReader{m}.ListBlockedTimes(ctx, salonID, filter)
}

func (m *Memory) ListAppointments(ctx context.Context, salonID, staffID string, window model.Interval) ([]model.Appointment, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return memReader{m}.ListAppointments(ctx, salonID, staffID, window)
}

func (m *Memory) ListStaffSchedule(ctx context.Context, salonID, staffID string, window model.Interval) ([]model.Appointment, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return memReader{m}.listAppointments(ctx, salonID, staffID, window, true)
}

func (m *Memory) SalonLocation(ctx context.Context, salonID string) (*time.Location, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return memReader{m}.SalonLocation(ctx, salonID)
}

func (m *Memory) check(ctx context.Context, op string) error {
	if err := ctx.Err(); err != nil {
		return model.Transient(op, err)
	}
	if m.fault != nil {
		return model.Transient(op, m.fault)
	}
	return nil
}

// Within runs fn with the store exclusively locked. Writes are staged and
// applied only when fn succeeds.
func (m *Memory) Within(ctx context.Context, fn func(ctx context.Context, tx booking.Tx) error) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.check(ctx, "begin"); err != nil {
		return err
	}

	tx := &memTx{memReader: memReader{m}, appts: map[string]model.Appointment{}, idem: map[string]model.IdempotencyRecord{}}
	if err := fn(ctx, tx); err != nil {
		return err
	}
	if err := m.check(ctx, "commit"); err != nil {
		return err
	}
	for id, a := range tx.appts {
		m.appts[id] = a
	}
	for k, rec := range tx.idem {
		m.idem[k] = rec
	}
	for _, evt := range tx.events {
		evt.ID = int64(len(m.events) + 1)
		m.events = append(m.events, evt)
	}
	return nil
}

// WithUnpublished implements outbox.Source.
func (m *Memory) WithUnpublished(ctx context.Context, limit int, send func(context.Context, []outbox.Record) error) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.check(ctx, "fetch outbox"); err != nil {
		return err
	}
	var records []outbox.Record
	for _, evt := range m.events {
		if len(records) == limit {
			break
		}
		if !m.published[evt.ID] {
			records = append(records, evt)
		}
	}
	if len(records) == 0 {
		return nil
	}
	if err := send(ctx, records); err != nil {
		return err
	}
	for _, evt := range records {
		m.published[evt.ID] = true
	}
	return nil
}

// Record implements inbox.Recorder.
func (m *Memory) Record(ctx context.Context, eventID, _ string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.check(ctx, "inbox record"); err != nil {
		return false, err
	}
	if m.inbox[eventID] {
		return false, nil
	}
	m.inbox[eventID] = true
	return true, nil
}

// memReader implements the reads without locking; callers hold m.mu.
type memReader struct {
	m *Memory
}

func (r memReader) GetWorkingHours(ctx context.Context, salonID, staffID string, weekday time.Weekday) (model.WorkingHours, bool, error) {
	if err := r.m.check(ctx, "get working hours"); err != nil {
		return model.WorkingHours{}, false, err
	}
	wh, ok := r.m.hours[hoursKey(salonID, staffID, weekday)]
	return wh, ok, nil
}

func (r memReader) ListBlockedTimes(ctx context.Context, salonID string, filter model.BlockedTimeFilter) ([]model.BlockedTime, error) {
	if err := r.m.check(ctx, "list blocked times"); err != nil {
		return nil, err
	}
	loc := r.m.zones[salonID]
	var out []model.BlockedTime
	for _, b := range r.m.blocked[salonID] {
		if loc != nil {
			b.Start, b.End = b.Start.In(loc), b.End.In(loc)
		}
		if filter.Matches(b) {
			out = append(out, b)
		}
	}
	return out, nil
}

func (r memReader) ListAppointments(ctx context.Context, salonID, staffID string, window model.Interval) ([]model.Appointment, error) {
	return r.listAppointments(ctx, salonID, staffID, window, false)
}

func (r memReader) listAppointments(ctx context.Context, salonID, staffID string, window model.Interval, withCancelled bool) ([]model.Appointment, error) {
	if err := r.m.check(ctx, "list appointments"); err != nil {
		return nil, err
	}
	var out []model.Appointment
	for _, a := range r.m.appts {
		if a.SalonID == salonID && a.StaffID == staffID && (withCancelled || a.Busy()) && a.Interval().Overlaps(window) {
			out = append(out, a)
		}
	}
	slices.SortFunc(out, func(a, b model.Appointment) int { return a.StartTime.Compare(b.StartTime) })
	return out, nil
}

func (r memReader) SalonLocation(ctx context.Context, salonID string) (*time.Location, error) {
	if err := r.m.check(ctx, "get salon timezone"); err != nil {
		return nil, err
	}
	loc, ok := r.m.zones[salonID]
	if !ok {
		return nil, fmt.Errorf("get salon timezone: %w", model.ErrNotFound)
	}
	return loc, nil
}

type memTx struct {
	memReader
	appts  map[string]model.Appointment
	idem   map[string]model.IdempotencyRecord
	events []outbox.Record
}

var _ booking.Tx = (*memTx)(nil)

// LockStaffDay is a no-op: Within already holds the store exclusively.
func (t *memTx) LockStaffDay(ctx context.Context, _, _ string, _ model.Date) error {
	return t.m.check(ctx, "lock staff day")
}

func (t *memTx) LockIdempotencyKey(ctx context.Context, salonID, key string) (model.IdempotencyRecord, bool, error) {
	if err := t.m.check(ctx, "lock idempotency key"); err != nil {
		return model.IdempotencyRecord{}, false, err
	}
	k := salonID + "|" + key
	if rec, ok := t.idem[k]; ok {
		return rec, true, nil
	}
	if rec, ok := t.m.idem[k]; ok {
		return rec, true, nil
	}
	rec := model.IdempotencyRecord{SalonID: salonID, Key: key}
	t.idem[k] = rec
	return rec, false, nil
}

func (t *memTx) FinalizeIdempotency(ctx context.Context, rec model.IdempotencyRecord) error {
	if err := t.m.check(ctx, "finalize idempotency key"); err != nil {
		return err
	}
	t.idem[rec.SalonID+"|"+rec.Key] = rec
	return nil
}

func (t *memTx) InsertAppointment(ctx context.Context, a *model.Appointment) (string, error) {
	if err := t.m.check(ctx, "insert appointment"); err != nil {
		return "", err
	}
	if a.ID == "" {
		a.ID = uuid.NewString()
	}
	if err := t.m.checkOverlap(*a); err != nil {
		return "", err
	}
	for _, x := range t.appts {
		if x.SalonID == a.SalonID && x.StaffID == a.StaffID && x.Interval().Overlaps(a.Interval()) {
			return "", fmt.Errorf("insert appointment: %w", model.ErrSlotUnavailable)
		}
	}
	t.appts[a.ID] = *a
	return a.ID, nil
}

func (t *memTx) GetAppointmentForUpdate(ctx context.Context, salonID, appointmentID string) (model.Appointment, error) {
	if err := t.m.check(ctx, "get appointment"); err != nil {
		return model.Appointment{}, err
	}
	a, ok := t.appts[appointmentID]
	if !ok {
		a, ok = t.m.appts[appointmentID]
	}
	if !ok || a.SalonID != salonID {
		return model.Appointment{}, fmt.Errorf("get appointment: %w", model.ErrNotFound)
	}
	return a, nil
}

func (t *memTx) CancelAppointment(ctx context.Context, salonID, appointmentID, reason string) (time.Time, error) {
	a, err := t.GetAppointmentForUpdate(ctx, salonID, appointmentID)
	if err != nil {
		return time.Time{}, err
	}
	now := t.m.now().UTC()
	a.Status = model.StatusCancelled
	a.CancelledAt = &now
	a.CancelReason = reason
	t.appts[a.ID] = a
	return now, nil
}

func (t *memTx) InsertEvent(ctx context.Context, evt outbox.Event) error {
	if err := t.m.check(ctx, "insert event"); err != nil {
		return err
	}
	t.events = append(t.events, outbox.Record{
		EventID:       uuid.NewString(),
		AggregateType: evt.AggregateType,
		AggregateID:   evt.AggregateID,
		EventType:     evt.EventType,
		Payload:       evt.Payload,
		CreatedAt:     t.m.now().UTC(),
	})
	return nil
}
