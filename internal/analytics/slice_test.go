package analytics

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSliceName(t *testing.T) {
	day := time.Date(2024, 1, 1, 0, 0, 0, 0, time.Local)

	assert.Equal(t, "start=2024-01-01&end=2024-01-01", SliceName(day, day, false))
	assert.Equal(t, "start=2024-01-01&end=2024-01-01&type=deleted", SliceName(day, day, true))
	assert.Equal(t, "start=2024-03-05&end=2024-12-31",
		SliceName(time.Date(2024, 3, 5, 0, 0, 0, 0, time.Local), time.Date(2024, 12, 31, 0, 0, 0, 0, time.Local), false))
}

func TestSliceNameIgnoresTimeOfDay(t *testing.T) {
	morning := time.Date(2024, 6, 9, 0, 0, 1, 0, time.Local)
	evening := time.Date(2024, 6, 9, 23, 59, 59, 999, time.Local)

	for _, deleted := range []bool{false, true} {
		assert.Equal(t, SliceName(morning, morning, deleted), SliceName(evening, evening, deleted))
		assert.Equal(t, NewSlice(morning, evening, deleted).Name(), SliceName(evening, morning, deleted))
	}
}

func TestParseSliceName(t *testing.T) {
	s, err := ParseSliceName("start=2024-01-01&end=2024-01-07&type=deleted", time.UTC)
	require.NoError(t, err)

	assert.True(t, s.Deleted)
	assert.Equal(t, time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC), s.Start)
	assert.Equal(t, time.Date(2024, 1, 7, 0, 0, 0, 0, time.UTC), s.End)
	assert.Equal(t, "start=2024-01-01&end=2024-01-07&type=deleted", s.Name())

	for _, bad := range []string{"", "start=2024-01-01", "end=2024-01-01&start=2024-01-01", "start=x&end=2024-01-01", "start=2024-01-01&end=2024-01-01&type=other"} {
		_, err := ParseSliceName(bad, time.UTC)
		assert.ErrorIs(t, err, ErrInvalidSliceName, bad)
	}
}

func TestParseDay(t *testing.T) {
	day, err := ParseDay("2024-02-29", time.UTC)
	require.NoError(t, err)
	assert.Equal(t, time.Date(2024, 2, 29, 0, 0, 0, 0, time.UTC), day)

	_, err = ParseDay("29/02/2024", time.UTC)
	assert.Error(t, err)
}

func TestSliceDaysAndPrevious(t *testing.T) {
	s := NewSlice(time.Date(2024, 1, 8, 10, 0, 0, 0, time.UTC), time.Date(2024, 1, 14, 1, 0, 0, 0, time.UTC), false)

	assert.Equal(t, 7, s.Days())
	assert.True(t, s.Contains(time.Date(2024, 1, 14, 23, 0, 0, 0, time.UTC)))
	assert.False(t, s.Contains(time.Date(2024, 1, 15, 0, 0, 0, 0, time.UTC)))

	prev := s.Previous()
	assert.Equal(t, "start=2024-01-01&end=2024-01-07", prev.Name())
	assert.Equal(t, 0, Slice{Start: s.End, End: s.Start}.Days())
}

func TestIsDeletedSlice(t *testing.T) {
	assert.True(t, IsDeletedSlice("start=2024-01-01&end=2024-01-01&type=deleted"))
	assert.False(t, IsDeletedSlice("start=2024-01-01&end=2024-01-01"))
}
