package analytics

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

const (
	dayLayout      = "2006-01-02"
	deletedSuffix  = "&type=deleted"
	startPrefix    = "start="
	endPrefix      = "end="
	sliceSeparator = "&"
)

var ErrInvalidSliceName = errors.New("invalid slice name")

// Slice is a date range of analytics for either active or deleted projects.
type Slice struct {
	Start   time.Time
	End     time.Time
	Deleted bool
}

func NewSlice(start, end time.Time, deleted bool) Slice {
	return Slice{Start: TruncateDay(start), End: TruncateDay(end), Deleted: deleted}
}

// TruncateDay drops the time-of-day in t's own location.
func TruncateDay(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, t.Location())
}

// SliceName formats the canonical cache key of a date range, using the
// calendar day of each bound.
func SliceName(start, end time.Time, deleted bool) string {
	name := startPrefix + start.Format(dayLayout) + sliceSeparator + endPrefix + end.Format(dayLayout)
	if deleted {
		name += deletedSuffix
	}

	return name
}

func (s Slice) Name() string {
	return SliceName(s.Start, s.End, s.Deleted)
}

// Days returns the number of calendar days covered, bounds included.
func (s Slice) Days() int {
	start := TruncateDay(s.Start)
	end := TruncateDay(s.End)
	if end.Before(start) {
		return 0
	}

	days := 0
	for d := start; !d.After(end); d = d.AddDate(0, 0, 1) {
		days++
	}

	return days
}

// Contains reports whether day falls inside the slice.
func (s Slice) Contains(day time.Time) bool {
	d := TruncateDay(day)
	return !d.Before(TruncateDay(s.Start)) && !d.After(TruncateDay(s.End))
}

// Previous returns the slice of the same length directly before s.
func (s Slice) Previous() Slice {
	days := s.Days()
	return Slice{
		Start:   TruncateDay(s.Start).AddDate(0, 0, -days),
		End:     TruncateDay(s.Start).AddDate(0, 0, -1),
		Deleted: s.Deleted,
	}
}

func IsDeletedSlice(name string) bool {
	return strings.Contains(name, "type=deleted")
}

// ParseDay parses a YYYY-MM-DD calendar day in loc.
func ParseDay(day string, loc *time.Location) (time.Time, error) {
	return time.ParseInLocation(dayLayout, day, loc)
}

// ParseSliceName is the inverse of SliceName. Days are parsed in loc.
func ParseSliceName(name string, loc *time.Location) (Slice, error) {
	parts := strings.Split(name, sliceSeparator)
	if len(parts) < 2 || len(parts) > 3 {
		return Slice{}, fmt.Errorf("%w: %q", ErrInvalidSliceName, name)
	}
	if !strings.HasPrefix(parts[0], startPrefix) || !strings.HasPrefix(parts[1], endPrefix) {
		return Slice{}, fmt.Errorf("%w: %q", ErrInvalidSliceName, name)
	}

	start, err := time.ParseInLocation(dayLayout, strings.TrimPrefix(parts[0], startPrefix), loc)
	if err != nil {
		return Slice{}, fmt.Errorf("%w: bad start: %v", ErrInvalidSliceName, err)
	}
	end, err := time.ParseInLocation(dayLayout, strings.TrimPrefix(parts[1], endPrefix), loc)
	if err != nil {
		return Slice{}, fmt.Errorf("%w: bad end: %v", ErrInvalidSliceName, err)
	}

	deleted := false
	if len(parts) == 3 {
		if parts[2] != strings.TrimPrefix(deletedSuffix, sliceSeparator) {
			return Slice{}, fmt.Errorf("%w: %q", ErrInvalidSliceName, name)
		}
		deleted = true
	}

	return Slice{Start: start, End: end, Deleted: deleted}, nil
}
