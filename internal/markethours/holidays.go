package markethours

import (
	"fmt"
	"time"
)

// Fixed-date exchange holidays. Lunar and moveable holidays change every
// year and are supplied through configuration.
var fixedDates = []struct {
	month time.Month
	day   int
}{
	{time.January, 1},   // New Year's Day
	{time.May, 1},       // Labour Day
	{time.June, 1},      // Pancasila Day
	{time.August, 17},   // Independence Day
	{time.December, 25}, // Christmas Day
	{time.December, 31}, // Year-end exchange holiday
}

// AddHolidays registers extra closed dates in "2006-01-02" form.
func (s *Session) AddHolidays(dates ...string) error {
	for _, d := range dates {
		t, err := time.Parse("2006-01-02", d)
		if err != nil {
			return fmt.Errorf("markethours: holiday %q: %w", d, err)
		}
		s.holidaySet[dateKey(t.Year(), t.Month(), t.Day())] = true
	}
	return nil
}

// IsHoliday returns true if the date (in session time) is a holiday.
func (s *Session) IsHoliday(t time.Time) bool {
	local := t.In(s.loc)
	for _, h := range fixedDates {
		if local.Month() == h.month && local.Day() == h.day {
			return true
		}
	}
	return s.holidaySet[dateKey(local.Year(), local.Month(), local.Day())]
}

func dateKey(year int, month time.Month, day int) string {
	return fmt.Sprintf("%04d-%02d-%02d", year, int(month), day)
}
