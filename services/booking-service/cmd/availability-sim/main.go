// Command availability-sim runs the availability engine and booking guard
// against a YAML scenario using the in-memory store, and prints the outcome.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/glamdesk/salonbook/libs/runtime"
	"github.com/glamdesk/salonbook/services/booking-service/internal/model"
)

func main() {
	var (
		path     = flag.String("scenario", "", "path to a YAML scenario")
		asJSON   = flag.Bool("json", false, "print the report as JSON")
		logLevel = flag.String("log-level", "warn", "log level (debug, info, warn, error)")
	)
	flag.Parse()

	if strings.TrimSpace(*path) == "" {
		fatal("-scenario is required")
	}
	sc, err := LoadScenario(*path)
	if err != nil {
		fatal(err.Error())
	}

	logger := runtime.NewLoggerTo(os.Stderr, "availability-sim", *logLevel)
	rep, err := sc.Run(context.Background(), logger)
	if err != nil {
		fatal(err.Error())
	}

	if *asJSON {
		err = writeJSON(os.Stdout, rep)
	} else {
		err = writeText(os.Stdout, rep)
	}
	if err != nil {
		fatal(err.Error())
	}
}

type jsonSlot struct {
	Start string `json:"start"`
	End   string `json:"end"`
}

type jsonQuery struct {
	StaffID string     `json:"staff_id"`
	Date    string     `json:"date"`
	Slots   []jsonSlot `json:"slots"`
	Error   string     `json:"error,omitempty"`
}

type jsonBooking struct {
	StaffID       string `json:"staff_id"`
	Date          string `json:"date"`
	Start         string `json:"start"`
	End           string `json:"end"`
	State         string `json:"state"`
	AppointmentID string `json:"appointment_id,omitempty"`
	Error         string `json:"error,omitempty"`
}

func writeJSON(w io.Writer, rep *Report) error {
	out := struct {
		Timezone string        `json:"timezone"`
		Bookings []jsonBooking `json:"bookings"`
		Queries  []jsonQuery   `json:"queries"`
	}{Timezone: rep.Location.String(), Bookings: []jsonBooking{}, Queries: []jsonQuery{}}

	for _, b := range rep.Bookings {
		jb := jsonBooking{
			StaffID:       b.Spec.StaffID,
			Date:          b.Spec.Date,
			Start:         b.Spec.Start,
			End:           b.Spec.End,
			State:         string(b.State),
			AppointmentID: b.AppointmentID,
		}
		if b.Err != nil {
			jb.Error = b.Err.Error()
		}
		out.Bookings = append(out.Bookings, jb)
	}
	for _, q := range rep.Queries {
		jq := jsonQuery{StaffID: q.Spec.StaffID, Date: q.Spec.Date, Slots: []jsonSlot{}}
		if q.Err != nil {
			jq.Error = q.Err.Error()
		}
		for _, s := range q.Slots {
			jq.Slots = append(jq.Slots, jsonSlot{Start: s.Start.Format(time.RFC3339), End: s.End.Format(time.RFC3339)})
		}
		out.Queries = append(out.Queries, jq)
	}

	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(out)
}

func writeText(w io.Writer, rep *Report) error {
	var b strings.Builder
	fmt.Fprintf(&b, "timezone %s\n", rep.Location)
	for _, o := range rep.Bookings {
		fmt.Fprintf(&b, "book %s %s %s-%s: %s", o.Spec.StaffID, o.Spec.Date, o.Spec.Start, o.Spec.End, o.State)
		if o.Err != nil {
			fmt.Fprintf(&b, " (%v)", o.Err)
		}
		b.WriteString("\n")
	}
	for _, q := range rep.Queries {
		fmt.Fprintf(&b, "slots %s %s %dmin:", q.Spec.StaffID, q.Spec.Date, q.Spec.DurationMinutes)
		switch {
		case q.Err != nil:
			fmt.Fprintf(&b, " error: %v", q.Err)
		case len(q.Slots) == 0:
			b.WriteString(" none")
		}
		for _, s := range q.Slots {
			b.WriteString(" " + clock(s.Start))
		}
		b.WriteString("\n")
	}
	_, err := io.WriteString(w, b.String())
	return err
}

func clock(t time.Time) string {
	return model.FormatClock(t.Hour()*60 + t.Minute())
}

func fatal(msg string) {
	fmt.Fprintln(os.Stderr, msg)
	os.Exit(1)
}
