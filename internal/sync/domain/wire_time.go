package domain

import (
	"fmt"
	"strings"
	"time"
)

// WireTimeFormat is the canonical timestamp format on the wire:
// ISO-8601 UTC with millisecond precision.
const WireTimeFormat = "2006-01-02T15:04:05.000Z"

// WireTime is a time.Time that marshals to the canonical wire timestamp.
// Payload structs use it so every date/time value crossing the codec
// boundary is already in wire form.
type WireTime time.Time

// NewWireTime converts a time.Time to WireTime, normalizing to UTC.
func NewWireTime(t time.Time) WireTime {
	return WireTime(t.UTC())
}

// Time returns the underlying time.Time.
func (w WireTime) Time() time.Time {
	return time.Time(w)
}

// MarshalJSON renders the timestamp in the canonical wire format.
func (w WireTime) MarshalJSON() ([]byte, error) {
	return []byte(fmt.Sprintf("%q", time.Time(w).UTC().Format(WireTimeFormat))), nil
}

// UnmarshalJSON accepts the canonical format, plus RFC3339 variants the
// backend has historically emitted.
func (w *WireTime) UnmarshalJSON(b []byte) error {
	s := strings.Trim(string(b), `"`)
	if s == "null" || s == "" {
		return nil
	}
	for _, layout := range []string{WireTimeFormat, time.RFC3339Nano, time.RFC3339} {
		if t, err := time.Parse(layout, s); err == nil {
			*w = WireTime(t.UTC())
			return nil
		}
	}
	return fmt.Errorf("invalid wire timestamp: %q", s)
}
