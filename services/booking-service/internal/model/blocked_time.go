package model

import (
	"fmt"
	"slices"
	"strings"
	"time"
)

type ScopeKind string

const (
	ScopeFull     ScopeKind = "full"
	ScopeLocation ScopeKind = "location"
	ScopeStaff    ScopeKind = "staff"
	ScopePartial  ScopeKind = "partial"
)

// Target is what a blocked-time scope is matched against: the staff member,
// the location they work at and the services being requested.
type Target struct {
	StaffID    string
	LocationID string
	ServiceIDs []string
}

// Scope is a closed union: FullScope, LocationScope, StaffScope and
// PartialScope are its only implementations.
type Scope interface {
	Kind() ScopeKind
	Applies(t Target) bool
	scope()
}

type FullScope struct{}

type LocationScope struct {
	LocationID string
}

type StaffScope struct {
	StaffID string
}

// PartialScope blocks only requests for at least one of ServiceIDs.
type PartialScope struct {
	ServiceIDs []string
}

func (FullScope) Kind() ScopeKind     { return ScopeFull }
func (LocationScope) Kind() ScopeKind { return ScopeLocation }
func (StaffScope) Kind() ScopeKind    { return ScopeStaff }
func (PartialScope) Kind() ScopeKind  { return ScopePartial }

func (FullScope) Applies(Target) bool { return true }

func (s LocationScope) Applies(t Target) bool {
	return s.LocationID != "" && s.LocationID == t.LocationID
}

func (s StaffScope) Applies(t Target) bool {
	return s.StaffID != "" && s.StaffID == t.StaffID
}

func (s PartialScope) Applies(t Target) bool {
	for _, id := range t.ServiceIDs {
		if slices.Contains(s.ServiceIDs, id) {
			return true
		}
	}
	return false
}

func (FullScope) scope()     {}
func (LocationScope) scope() {}
func (StaffScope) scope()    {}
func (PartialScope) scope()  {}

// NewScope builds a scope from its stored representation.
func NewScope(kind ScopeKind, ref string, serviceIDs []string) (Scope, error) {
	ref = strings.TrimSpace(ref)
	switch kind {
	case ScopeFull:
		return FullScope{}, nil
	case ScopeLocation:
		if ref == "" {
			return nil, Invalid("scope_ref", "location scope requires a location id")
		}
		return LocationScope{LocationID: ref}, nil
	case ScopeStaff:
		if ref == "" {
			return nil, Invalid("scope_ref", "staff scope requires a staff id")
		}
		return StaffScope{StaffID: ref}, nil
	case ScopePartial:
		if len(serviceIDs) == 0 {
			return nil, Invalid("affected_service_ids", "partial scope requires at least one service")
		}
		return PartialScope{ServiceIDs: slices.Clone(serviceIDs)}, nil
	default:
		return nil, Invalid("scope", fmt.Sprintf("unknown scope %q", kind))
	}
}

// ScopeColumns is the inverse of NewScope.
func ScopeColumns(s Scope) (kind ScopeKind, ref string, serviceIDs []string) {
	switch v := s.(type) {
	case FullScope:
		return ScopeFull, "", nil
	case LocationScope:
		return ScopeLocation, v.LocationID, nil
	case StaffScope:
		return ScopeStaff, v.StaffID, nil
	case PartialScope:
		return ScopePartial, "", v.ServiceIDs
	default:
		panic(fmt.Sprintf("model: unhandled scope %T", s))
	}
}

type Frequency string

const (
	FrequencyDaily   Frequency = "daily"
	FrequencyWeekly  Frequency = "weekly"
	FrequencyMonthly Frequency = "monthly"
)

// Recurrence is a repeating rule. It is a plain value: expansion lives in
// the recurrence package and keeps no state between calls.
type Recurrence struct {
	Frequency  Frequency
	Interval   int
	DaysOfWeek []time.Weekday
	// Until is the last local date an occurrence may start on (inclusive).
	Until *Date
}

func (r Recurrence) Validate() error {
	switch r.Frequency {
	case FrequencyDaily, FrequencyWeekly, FrequencyMonthly:
	default:
		return Invalid("recurrence.frequency", fmt.Sprintf("unknown frequency %q", r.Frequency))
	}
	if r.Interval < 1 {
		return Invalid("recurrence.interval", "must be >= 1")
	}
	if len(r.DaysOfWeek) > 0 && r.Frequency != FrequencyWeekly {
		return Invalid("recurrence.days_of_week", "only valid for weekly rules")
	}
	for _, wd := range r.DaysOfWeek {
		if wd < time.Sunday || wd > time.Saturday {
			return Invalid("recurrence.days_of_week", fmt.Sprintf("weekday %d out of range 0..6", wd))
		}
	}
	return nil
}

// BlockedTime closes a period for bookings. Start/End describe the first
// occurrence when the rule recurs.
type BlockedTime struct {
	ID          string
	SalonID     string
	Scope       Scope
	Start       time.Time
	End         time.Time
	IsRecurring bool
	Recurrence  *Recurrence
	IsActive    bool
	Reason      string
}

func (b BlockedTime) Origin() Interval {
	return Interval{Start: b.Start, End: b.End}
}

func (b BlockedTime) Validate() error {
	if b.Scope == nil {
		return Invalid("scope", "required")
	}
	if !b.End.After(b.Start) {
		return Invalid("end", "must be after start")
	}
	if b.IsRecurring {
		if b.Recurrence == nil {
			return Invalid("recurrence", "required for recurring blocked time")
		}
		if err := b.Recurrence.Validate(); err != nil {
			return err
		}
		if b.Recurrence.Until != nil && b.Recurrence.Until.Before(DateOf(b.Start)) {
			return Invalid("recurrence.recurrence_end", "before first occurrence")
		}
	}
	return nil
}

// BlockedTimeFilter narrows ListBlockedTimes. Implementations may return a
// superset of the matching rules; the resolver re-applies scope and window.
type BlockedTimeFilter struct {
	StaffID    string
	LocationID string
	// Window limits the result to rules that can produce an occurrence
	// overlapping it. A zero window disables the check.
	Window Interval
}

// Matches is the reference implementation of the filter, used by
// in-process stores and caches.
func (f BlockedTimeFilter) Matches(b BlockedTime) bool {
	if !b.IsActive || b.Scope == nil {
		return false
	}
	switch s := b.Scope.(type) {
	case LocationScope:
		if f.LocationID != "" && s.LocationID != f.LocationID {
			return false
		}
	case StaffScope:
		if f.StaffID != "" && s.StaffID != f.StaffID {
			return false
		}
	}
	if !f.Window.Valid() {
		return true
	}
	if !b.IsRecurring || b.Recurrence == nil {
		return b.Origin().Overlaps(f.Window)
	}
	if !b.Start.Before(f.Window.End) {
		return false
	}
	if b.Recurrence.Until != nil {
		// Occurrences may start up to the end of Until and run for the
		// rule's duration.
		lastEnd := b.Recurrence.Until.AddDays(1).Midnight(b.Start.Location()).Add(b.End.Sub(b.Start))
		if !lastEnd.After(f.Window.Start) {
			return false
		}
	}
	return true
}
