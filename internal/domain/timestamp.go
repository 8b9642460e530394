package domain

import (
	"encoding/json"
	"strings"
	"time"
)

// timestampLayouts are tried in order when parsing a textual timestamp.
// The dashboard historically emitted local "2006-01-02T15:04:05" values
// and plain dates for join dates.
var timestampLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05",
	"2006-01-02 15:04:05",
	"2006-01-02",
}

// Timestamp is a point in time that remembers its original textual form.
// Values that cannot be parsed are kept verbatim so that a record survives
// an export/import cycle unchanged, but they report Valid() == false.
type Timestamp struct {
	Time time.Time
	Raw  string
}

// ParseTimestamp parses s using the accepted layouts. Parse failures are
// not errors: the returned Timestamp simply is not valid.
func ParseTimestamp(s string) Timestamp {
	raw := strings.TrimSpace(s)
	ts := Timestamp{Raw: s}
	if raw == "" {
		return ts
	}
	for _, layout := range timestampLayouts {
		if t, err := time.Parse(layout, raw); err == nil {
			ts.Time = t.UTC()
			return ts
		}
	}
	return ts
}

// NewTimestamp builds a Timestamp from an instant.
func NewTimestamp(t time.Time) Timestamp {
	if t.IsZero() {
		return Timestamp{}
	}
	return ParseTimestamp(t.UTC().Format(time.RFC3339Nano))
}

// Valid reports whether the timestamp denotes a real point in time.
func (t Timestamp) Valid() bool {
	return !t.Time.IsZero()
}

// IsZero reports whether nothing was recorded at all.
func (t Timestamp) IsZero() bool {
	return t.Raw == "" && t.Time.IsZero()
}

// String returns the original textual form.
func (t Timestamp) String() string {
	if t.Raw != "" {
		return t.Raw
	}
	if t.Time.IsZero() {
		return ""
	}
	return t.Time.Format(time.RFC3339Nano)
}

// Unix returns the unix seconds of a valid timestamp and false otherwise.
func (t Timestamp) Unix() (int64, bool) {
	if !t.Valid() {
		return 0, false
	}
	return t.Time.Unix(), true
}

// MarshalJSON encodes the original textual form.
func (t Timestamp) MarshalJSON() ([]byte, error) {
	return json.Marshal(t.String())
}

// UnmarshalJSON accepts a string or null.
func (t *Timestamp) UnmarshalJSON(data []byte) error {
	if string(data) == "null" {
		*t = Timestamp{}
		return nil
	}
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}
	*t = ParseTimestamp(s)
	return nil
}

