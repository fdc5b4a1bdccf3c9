package promo

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// weekdayLabels is indexed by time.Weekday.
var weekdayLabels = [7]string{"일", "월", "화", "수", "목", "금", "토"}

// WeekdayLabel returns the Korean one-letter weekday of t in its location.
func WeekdayLabel(t time.Time) string {
	return weekdayLabels[t.Weekday()]
}

// IsWeekdayLabel reports whether s is one of the seven weekday labels.
func IsWeekdayLabel(s string) bool {
	for _, l := range weekdayLabels {
		if l == s {
			return true
		}
	}
	return false
}

// Month is a calendar month.
type Month struct {
	Year  int
	Month time.Month
}

// ParseMonth parses "YYYY-MM".
func ParseMonth(s string) (Month, error) {
	t, err := time.Parse("2006-01", strings.TrimSpace(s))
	if err != nil {
		return Month{}, fmt.Errorf("%w: month %q must be YYYY-MM", ErrInvalidInput, s)
	}
	return Month{Year: t.Year(), Month: t.Month()}, nil
}

func (m Month) String() string {
	return fmt.Sprintf("%04d-%02d", m.Year, int(m.Month))
}

// Bounds returns [start, next) at local midnight in loc. Wall-clock midnight
// is used as is; DST shifts are not compensated.
func (m Month) Bounds(loc *time.Location) (time.Time, time.Time) {
	start := time.Date(m.Year, m.Month, 1, 0, 0, 0, 0, loc)
	return start, start.AddDate(0, 1, 0)
}

// ClosedAt reports whether the month has fully elapsed at now.
func (m Month) ClosedAt(now time.Time, loc *time.Location) bool {
	_, end := m.Bounds(loc)
	return !now.Before(end)
}

// MonthOf returns the month containing t in loc.
func MonthOf(t time.Time, loc *time.Location) Month {
	lt := t.In(loc)
	return Month{Year: lt.Year(), Month: lt.Month()}
}

// Previous returns the month before m.
func (m Month) Previous() Month {
	if m.Month == time.January {
		return Month{Year: m.Year - 1, Month: time.December}
	}
	return Month{Year: m.Year, Month: m.Month - 1}
}

// NormalizeDay turns "9", "day9", "Day09" or "DAY09" into "DAY09".
func NormalizeDay(s string) (string, error) {
	v := strings.ToUpper(strings.TrimSpace(s))
	v = strings.TrimPrefix(v, "DAY")
	n, err := strconv.Atoi(v)
	if err != nil || n < 1 || n > 99 {
		return "", fmt.Errorf("%w: day label %q", ErrInvalidInput, s)
	}
	return fmt.Sprintf("DAY%02d", n), nil
}
