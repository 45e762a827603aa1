package dto

import (
	"bytes"
	"encoding/json"
	"math"
	"strconv"
	"time"
)

// Timestamp decodes whatever the booking API puts in a time field: RFC 3339,
// a naive datetime (read as UTC), or unix seconds or milliseconds. Anything
// else leaves it zero instead of failing the whole response.
type Timestamp struct {
	time.Time
}

var timestampLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05.999999999",
	"2006-01-02 15:04:05.999999999Z07:00",
	"2006-01-02 15:04:05.999999999",
}

// epochMillisCutoff separates unix seconds from unix milliseconds.
const epochMillisCutoff = 1e11

func (t *Timestamp) UnmarshalJSON(b []byte) error {
	t.Time = time.Time{}
	b = bytes.TrimSpace(b)
	if len(b) == 0 || bytes.Equal(b, []byte("null")) {
		return nil
	}

	if b[0] != '"' {
		n, err := strconv.ParseFloat(string(b), 64)
		if err != nil || n <= 0 {
			return nil
		}
		if n >= epochMillisCutoff {
			t.Time = time.UnixMilli(int64(n)).UTC()
			return nil
		}
		sec, frac := math.Modf(n)
		t.Time = time.Unix(int64(sec), int64(frac*1e9)).UTC()
		return nil
	}

	var s string
	if err := json.Unmarshal(b, &s); err != nil || s == "" {
		return nil
	}
	for _, layout := range timestampLayouts {
		if parsed, err := time.Parse(layout, s); err == nil {
			t.Time = parsed
			return nil
		}
	}
	return nil
}
