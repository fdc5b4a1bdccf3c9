package promo

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNormalizeDay(t *testing.T) {
	for in, want := range map[string]string{
		"9":      "DAY09",
		"day9":   "DAY09",
		"Day09":  "DAY09",
		" DAY10": "DAY10",
		"DAY1":   "DAY01",
	} {
		got, err := NormalizeDay(in)
		require.NoError(t, err, in)
		assert.Equal(t, want, got, in)
	}

	for _, in := range []string{"", "DAY", "day0", "DAY100", "nine", "-3"} {
		_, err := NormalizeDay(in)
		assert.ErrorIs(t, err, ErrInvalidInput, in)
	}
}

func TestMonth(t *testing.T) {
	m, err := ParseMonth("2024-12")
	require.NoError(t, err)
	assert.Equal(t, "2024-12", m.String())
	assert.Equal(t, Month{Year: 2024, Month: time.November}, m.Previous())
	assert.Equal(t, Month{Year: 2023, Month: time.December}, Month{Year: 2024, Month: time.January}.Previous())

	start, end := m.Bounds(kst)
	assert.Equal(t, time.Date(2024, 12, 1, 0, 0, 0, 0, kst), start)
	assert.Equal(t, time.Date(2025, 1, 1, 0, 0, 0, 0, kst), end)

	assert.False(t, m.ClosedAt(end.Add(-time.Nanosecond), kst))
	assert.True(t, m.ClosedAt(end, kst))

	// 2024-11-30 16:00 UTC is already December in Seoul.
	assert.Equal(t, m, MonthOf(time.Date(2024, 11, 30, 16, 0, 0, 0, time.UTC), kst))

	_, err = ParseMonth("2024/12")
	assert.ErrorIs(t, err, ErrInvalidInput)
}

func TestWeekdayLabel(t *testing.T) {
	assert.Equal(t, "월", WeekdayLabel(monday))
	assert.Equal(t, "일", WeekdayLabel(monday.AddDate(0, 0, -1)))
	assert.True(t, IsWeekdayLabel("토"))
	assert.False(t, IsWeekdayLabel("Sat"))
}
