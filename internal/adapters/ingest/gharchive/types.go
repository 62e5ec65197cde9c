package gharchive

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	perr "ghdiscover/internal/platform/errors"
)

// HourRef identifies a GH Archive hour (UTC)
type HourRef struct {
	Year  int
	Month int
	Day   int
	Hour  int
}

// NewHourRef creates an HourRef from a time.Time, converting to UTC
func NewHourRef(t time.Time) HourRef {
	ut := t.UTC()
	return HourRef{Year: ut.Year(), Month: int(ut.Month()), Day: ut.Day(), Hour: ut.Hour()}
}

// ParseHour parses a file stem (2015-01-01-15) back into an HourRef
func ParseHour(s string) (HourRef, error) {
	var y, m, d, h int
	s = strings.TrimSuffix(strings.TrimSpace(s), ".json.gz")
	if _, err := fmt.Sscanf(s, "%d-%d-%d-%d", &y, &m, &d, &h); err != nil {
		return HourRef{}, perr.InvalidArgf("gharchive: bad hour %q", s)
	}
	ref := NewHourRef(time.Date(y, time.Month(m), d, h, 0, 0, 0, time.UTC))
	if ref != (HourRef{Year: y, Month: m, Day: d, Hour: h}) {
		return HourRef{}, perr.InvalidArgf("gharchive: hour out of range %q", s)
	}
	return ref, nil
}

// UTC returns the start of the hour
func (h HourRef) UTC() time.Time {
	return time.Date(h.Year, time.Month(h.Month), h.Day, h.Hour, 0, 0, 0, time.UTC)
}

// Next returns the following hour
func (h HourRef) Next() HourRef { return NewHourRef(h.UTC().Add(time.Hour)) }

// Before reports whether h is strictly earlier than o
func (h HourRef) Before(o HourRef) bool { return h.UTC().Before(o.UTC()) }

// IsZero reports whether h is the zero value
func (h HourRef) IsZero() bool { return h == HourRef{} }

// String returns the GH Archive file stem: YYYY-MM-DD-H (hour not zero padded)
func (h HourRef) String() string {
	return fmt.Sprintf("%04d-%02d-%02d-%d", h.Year, h.Month, h.Day, h.Hour)
}

// FileName is the published object name for the hour
func (h HourRef) FileName() string { return h.String() + ".json.gz" }

// EventEnvelope is the outer event format GH Archive stores per line.
// Payload stays raw; consumers decode the type specific parts they need
type EventEnvelope struct {
	ID        string          `json:"id"`
	Type      string          `json:"type"`
	Actor     Actor           `json:"actor"`
	Repo      Repo            `json:"repo"`
	Payload   json.RawMessage `json:"payload"`
	Public    bool            `json:"public"`
	CreatedAt Timestamp       `json:"created_at"`
}

// Actor is the user who triggered the event
type Actor struct {
	ID    int64  `json:"id"`
	Login string `json:"login"`
}

// UnmarshalJSON accepts the object form and the pre-2015 bare login string
func (a *Actor) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	if len(b) > 0 && b[0] == '"' {
		var login string
		if err := json.Unmarshal(b, &login); err != nil {
			return err
		}
		*a = Actor{Login: login}
		return nil
	}
	type plain Actor
	return json.Unmarshal(b, (*plain)(a))
}

// Repo is the repository the event occurred in
type Repo struct {
	ID   int64  `json:"id"`
	Name string `json:"name"` // owner/name
}

// Timestamp is created_at. Old dumps use "2012/03/10 13:00:00 -0800"
type Timestamp struct{ time.Time }

var legacyLayouts = []string{
	time.RFC3339,
	"2006/01/02 15:04:05 -0700",
	"2006-01-02T15:04:05-07:00",
}

// UnmarshalJSON parses RFC3339 and the legacy layouts, normalizing to UTC
func (t *Timestamp) UnmarshalJSON(b []byte) error {
	if string(b) == "null" {
		return nil
	}
	var s string
	if err := json.Unmarshal(b, &s); err != nil {
		return err
	}
	if s == "" {
		return nil
	}
	for _, layout := range legacyLayouts {
		if v, err := time.Parse(layout, s); err == nil {
			t.Time = v.UTC()
			return nil
		}
	}
	return fmt.Errorf("gharchive: unrecognized created_at %q", s)
}

// MarshalJSON writes RFC3339
func (t Timestamp) MarshalJSON() ([]byte, error) {
	if t.IsZero() {
		return []byte("null"), nil
	}
	return json.Marshal(t.UTC().Format(time.RFC3339))
}
