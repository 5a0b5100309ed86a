// Package clock normalizes persisted timestamps into instants and computes
// focus durations in minutes.
package clock

import (
	"errors"
	"fmt"
	"math"
	"strings"
	"sync"
	"time"
)

// NaiveLayout is the timezone-less layout SQLite rows are written in. Values
// in this layout are always UTC.
const NaiveLayout = "2006-01-02 15:04:05"

// ErrEmptyTimestamp is returned when a required timestamp is missing.
var ErrEmptyTimestamp = errors.New("empty timestamp")

// Clock supplies the current instant.
type Clock interface {
	Now() time.Time
}

// Real reads the system clock.
type Real struct{}

// Now returns the current time in UTC.
func (Real) Now() time.Time { return time.Now().UTC() }

// Fixed is a manually driven clock.
type Fixed struct {
	mu  sync.Mutex
	now time.Time
}

// NewFixed returns a clock frozen at t.
func NewFixed(t time.Time) *Fixed {
	return &Fixed{now: t.UTC()}
}

func (f *Fixed) Now() time.Time {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.now
}

// Set moves the clock to t.
func (f *Fixed) Set(t time.Time) {
	f.mu.Lock()
	f.now = t.UTC()
	f.mu.Unlock()
}

// Advance moves the clock forward by d.
func (f *Fixed) Advance(d time.Duration) {
	f.mu.Lock()
	f.now = f.now.Add(d)
	f.mu.Unlock()
}

// Layouts carrying an explicit zone or offset marker.
var zonedLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02 15:04:05.999999999Z07:00",
	"2006-01-02 15:04:05.999999999 -0700",
	"2006-01-02 15:04:05.999999999 -0700 MST",
	"2006-01-02 15:04:05.999999999-07",
}

// Layouts without a zone; parsed as UTC.
var naiveLayouts = []string{
	"2006-01-02 15:04:05.999999999",
	"2006-01-02T15:04:05.999999999",
	"2006-01-02 15:04",
	"2006-01-02T15:04",
	"2006-01-02",
}

// Normalize converts a stored timestamp into a UTC instant. It accepts
// time.Time values (Postgres TIMESTAMPTZ), strings with an explicit UTC or
// offset marker, and naive "YYYY-MM-DD HH:MM:SS" strings which are read as UTC.
// The same instant is produced regardless of which representation was stored.
func Normalize(raw any) (time.Time, error) {
	switch v := raw.(type) {
	case nil:
		return time.Time{}, ErrEmptyTimestamp
	case time.Time:
		return v.UTC(), nil
	case *time.Time:
		if v == nil {
			return time.Time{}, ErrEmptyTimestamp
		}
		return v.UTC(), nil
	case string:
		return ParseString(v)
	case []byte:
		return ParseString(string(v))
	case int64:
		return time.Unix(v, 0).UTC(), nil
	default:
		return time.Time{}, fmt.Errorf("unsupported timestamp type %T", raw)
	}
}

// NormalizeNullable is Normalize for nullable columns: nil and empty strings
// yield a nil instant rather than an error.
func NormalizeNullable(raw any) (*time.Time, error) {
	switch v := raw.(type) {
	case nil:
		return nil, nil
	case string:
		if strings.TrimSpace(v) == "" {
			return nil, nil
		}
	case []byte:
		if len(strings.TrimSpace(string(v))) == 0 {
			return nil, nil
		}
	}
	t, err := Normalize(raw)
	if err != nil {
		return nil, err
	}
	return &t, nil
}

// ParseString parses a textual timestamp. Strings without a zone are UTC.
func ParseString(s string) (time.Time, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return time.Time{}, ErrEmptyTimestamp
	}
	for _, layout := range zonedLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t.UTC(), nil
		}
	}
	for _, layout := range naiveLayouts {
		if t, err := time.ParseInLocation(layout, s, time.UTC); err == nil {
			return t, nil
		}
	}
	return time.Time{}, fmt.Errorf("unrecognized timestamp %q", s)
}

// FormatNaive renders t as a naive UTC string for SQLite columns.
func FormatNaive(t time.Time) string {
	return t.UTC().Format(NaiveLayout)
}

// Stamp truncates t to whole seconds in UTC, the precision every backend
// stores.
func Stamp(t time.Time) time.Time {
	return t.UTC().Truncate(time.Second)
}

// Round1 rounds x to one decimal place.
func Round1(x float64) float64 {
	r := math.Round(x*10) / 10
	if r == 0 {
		return 0 // avoid -0
	}
	return r
}

// DurationMinutes returns (b-a) in minutes rounded to one decimal. The result
// is negative when b is before a.
func DurationMinutes(a, b time.Time) float64 {
	return Round1(float64(b.Sub(a).Milliseconds()) / 60000)
}

// NonNegativeMinutes is DurationMinutes with negative results clamped to 0.
func NonNegativeMinutes(a, b time.Time) float64 {
	d := DurationMinutes(a, b)
	if d < 0 {
		return 0
	}
	return d
}
