package model

import (
	"fmt"
	"strings"
	"time"
)

// TimeLayout is the text form of a reading timestamp in the local buffer.
// It sorts lexically in time order, which the buffer's window queries rely on.
const TimeLayout = "2006-01-02 15:04:05"

var parseLayouts = []string{
	TimeLayout,
	"2006-01-02 15:04:05.999999999",
	"2006-01-02T15:04:05",
	time.RFC3339Nano,
}

// Reading is one decoded sample of a channel.
// Description and Unit are carried for readability of the buffer only.
type Reading struct {
	Timestamp   time.Time
	Channel     string
	Value       float64
	Description string
	Unit        string

	// StoredTS is the exact timestamp text of the buffered row, empty until persisted.
	StoredTS string
}

// Key identifies a buffered row for deletion.
type Key struct {
	TS      string
	Channel string
}

// Key returns the buffer key of the reading.
func (r Reading) Key() Key {
	ts := r.StoredTS
	if ts == "" {
		ts = FormatTS(r.Timestamp)
	}
	return Key{TS: ts, Channel: r.Channel}
}

// FormatTS renders t in the buffer's timestamp layout (UTC, second resolution).
func FormatTS(t time.Time) string {
	return t.UTC().Format(TimeLayout)
}

// ParseTS parses a buffered timestamp. Zone-less values are taken as UTC.
func ParseTS(s string) (time.Time, error) {
	s = strings.TrimSpace(s)
	for _, layout := range parseLayouts {
		if t, err := time.ParseInLocation(layout, s, time.UTC); err == nil {
			return t, nil
		}
	}
	return time.Time{}, fmt.Errorf("unrecognised timestamp %q", s)
}
