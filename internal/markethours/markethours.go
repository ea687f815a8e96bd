// Package markethours answers whether an exchange session is open.
package markethours

import (
	"fmt"
	"time"
)

// WIB is Western Indonesia Time (UTC+7), the Jakarta exchange clock.
var WIB = time.FixedZone("WIB", 7*3600)

// Default session hours in WIB.
const (
	OpenHour    = 9
	OpenMinute  = 0
	CloseHour   = 16
	CloseMinute = 0
)

// Session is one exchange's trading day: a local open/close window on
// weekdays, minus holidays.
type Session struct {
	loc        *time.Location
	openMin    int // minutes after local midnight
	closeMin   int
	holidaySet map[string]bool
}

// Default returns the Jakarta session (09:00 to 16:00 WIB) with the
// fixed-date exchange holidays.
func Default() *Session {
	return &Session{
		loc:        WIB,
		openMin:    OpenHour*60 + OpenMinute,
		closeMin:   CloseHour*60 + CloseMinute,
		holidaySet: map[string]bool{},
	}
}

// NewSession builds a session from config strings. tz is an IANA name
// ("" keeps WIB), open and close are "15:04", holidays are "2006-01-02".
func NewSession(tz, open, close string, holidays []string) (*Session, error) {
	s := Default()
	if tz != "" {
		loc, err := time.LoadLocation(tz)
		if err != nil {
			return nil, fmt.Errorf("markethours: timezone %q: %w", tz, err)
		}
		s.loc = loc
	}
	var err error
	if open != "" {
		if s.openMin, err = parseClock(open); err != nil {
			return nil, err
		}
	}
	if close != "" {
		if s.closeMin, err = parseClock(close); err != nil {
			return nil, err
		}
	}
	if s.closeMin <= s.openMin {
		return nil, fmt.Errorf("markethours: close %q not after open %q", close, open)
	}
	if err := s.AddHolidays(holidays...); err != nil {
		return nil, err
	}
	return s, nil
}

func parseClock(v string) (int, error) {
	t, err := time.Parse("15:04", v)
	if err != nil {
		return 0, fmt.Errorf("markethours: clock %q: %w", v, err)
	}
	return t.Hour()*60 + t.Minute(), nil
}

// Location returns the session's time zone.
func (s *Session) Location() *time.Location { return s.loc }

// IsOpen returns true if t falls within session hours on a trading day.
func (s *Session) IsOpen(t time.Time) bool {
	local := t.In(s.loc)
	if !s.IsTradingDay(local) {
		return false
	}
	hm := local.Hour()*60 + local.Minute()
	return hm >= s.openMin && hm < s.closeMin
}

// IsWeekday returns true if t is Mon–Fri in session time.
func (s *Session) IsWeekday(t time.Time) bool {
	wd := t.In(s.loc).Weekday()
	return wd >= time.Monday && wd <= time.Friday
}

// IsTradingDay returns true if t is a weekday and not a holiday.
func (s *Session) IsTradingDay(t time.Time) bool {
	return s.IsWeekday(t) && !s.IsHoliday(t)
}

func (s *Session) at(day time.Time, minutes int) time.Time {
	return time.Date(day.Year(), day.Month(), day.Day(), minutes/60, minutes%60, 0, 0, s.loc)
}

// NextOpen returns the next session open. If t is before today's open on a
// trading day, returns today's open.
func (s *Session) NextOpen(t time.Time) time.Time {
	local := t.In(s.loc)

	todayOpen := s.at(local, s.openMin)
	if local.Before(todayOpen) && s.IsTradingDay(local) {
		return todayOpen
	}

	d := local.AddDate(0, 0, 1)
	for i := 0; i < 14; i++ { // weekends plus a long holiday break
		if s.IsTradingDay(d) {
			return s.at(d, s.openMin)
		}
		d = d.AddDate(0, 0, 1)
	}
	return s.at(local.AddDate(0, 0, 1), s.openMin)
}

// TodayClose returns today's session close.
func (s *Session) TodayClose(t time.Time) time.Time {
	return s.at(t.In(s.loc), s.closeMin)
}

// TimeUntilClose returns the duration until today's close.
// Returns 0 if the session is already closed.
func (s *Session) TimeUntilClose(t time.Time) time.Duration {
	d := s.TodayClose(t).Sub(t)
	if d < 0 {
		return 0
	}
	return d
}

// TimeUntilOpen returns the duration until the next session open.
func (s *Session) TimeUntilOpen(t time.Time) time.Duration {
	return s.NextOpen(t).Sub(t)
}

// StatusString returns a human-readable market status.
func (s *Session) StatusString(t time.Time) string {
	if s.IsOpen(t) {
		return fmt.Sprintf("Market Open, closes in %s", fmtDur(s.TimeUntilClose(t)))
	}
	next := s.NextOpen(t)
	local := next.In(s.loc)
	return fmt.Sprintf("Market Closed, opens %s %s (%s)",
		local.Weekday().String()[:3], local.Format("15:04"), fmtDur(next.Sub(t)))
}

func fmtDur(d time.Duration) string {
	h := int(d.Hours())
	m := int(d.Minutes()) % 60
	if h > 0 {
		return fmt.Sprintf("%dh%dm", h, m)
	}
	return fmt.Sprintf("%dm", m)
}
