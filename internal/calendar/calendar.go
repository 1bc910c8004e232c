package calendar

import (
	"encoding/json"
	"fmt"
	"time"
)

// DateFormat is the ISO calendar date layout used everywhere in the engine.
const DateFormat = "2006-01-02"

// Date is a calendar date with day granularity, normalized to midnight UTC.
type Date struct {
	time.Time
}

// NewDate builds a Date from year, month and day.
func NewDate(year int, month time.Month, day int) Date {
	return Date{time.Date(year, month, day, 0, 0, 0, 0, time.UTC)}
}

// ParseDate parses an ISO date string (YYYY-MM-DD).
func ParseDate(s string) (Date, error) {
	t, err := time.Parse(DateFormat, s)
	if err != nil {
		return Date{}, fmt.Errorf("invalid date %q: %w", s, err)
	}
	return Date{t}, nil
}

// AddDays returns the date shifted by n calendar days (working days are
// handled by Calendar.AddWorkingDays).
func (d Date) AddDays(n int) Date {
	return Date{d.Time.AddDate(0, 0, n)}
}

func (d Date) String() string {
	return d.Time.Format(DateFormat)
}

func (d Date) MarshalJSON() ([]byte, error) {
	return json.Marshal(d.String())
}

func (d *Date) UnmarshalJSON(b []byte) error {
	var s string
	if err := json.Unmarshal(b, &s); err != nil {
		return err
	}
	if s == "" {
		*d = Date{}
		return nil
	}
	parsed, err := ParseDate(s)
	if err != nil {
		return err
	}
	*d = parsed
	return nil
}

func (d Date) MarshalYAML() (any, error) {
	return d.String(), nil
}

func (d *Date) UnmarshalYAML(unmarshal func(any) error) error {
	var s string
	if err := unmarshal(&s); err != nil {
		return err
	}
	if s == "" {
		*d = Date{}
		return nil
	}
	parsed, err := ParseDate(s)
	if err != nil {
		return err
	}
	*d = parsed
	return nil
}

// MonthDay identifies a fixed-date holiday that recurs every year.
type MonthDay struct {
	Month time.Month `yaml:"month" json:"month"`
	Day   int        `yaml:"day" json:"day"`
}

// Calendar computes working days. Weekends are always non-working; holidays
// are a fixed annual set plus Easter-relative moveable days. The zero value
// has no holidays; use Default for the standard holiday table. Calendars are
// immutable and safe to share between concurrent schedule computations.
type Calendar struct {
	Fixed         []MonthDay
	EasterOffsets []int // days relative to Easter Sunday
}

// Default returns the standard holiday calendar: New Year (two days),
// Labour Day, Assumption, Christmas (two days), plus Good Friday, Easter
// Monday and Whit Monday.
func Default() Calendar {
	return Calendar{
		Fixed: []MonthDay{
			{time.January, 1},
			{time.January, 2},
			{time.May, 1},
			{time.August, 15},
			{time.December, 25},
			{time.December, 26},
		},
		EasterOffsets: []int{-2, 1, 50},
	}
}

// easterSunday computes Gregorian Easter via the Meeus/Jones/Butcher
// algorithm.
func easterSunday(year int) Date {
	a := year % 19
	b := year / 100
	c := year % 100
	d := b / 4
	e := b % 4
	f := (b + 8) / 25
	g := (b - f + 1) / 3
	h := (19*a + b - d - g + 15) % 30
	i := c / 4
	k := c % 4
	l := (32 + 2*e + 2*i - h - k) % 7
	m := (a + 11*h + 22*l) / 451
	month := (h + l - 7*m + 114) / 31
	day := (h+l-7*m+114)%31 + 1
	return NewDate(year, time.Month(month), day)
}

// IsHoliday reports whether d falls on a configured holiday.
func (c Calendar) IsHoliday(d Date) bool {
	for _, md := range c.Fixed {
		if d.Month() == md.Month && d.Day() == md.Day {
			return true
		}
	}
	if len(c.EasterOffsets) > 0 {
		easter := easterSunday(d.Year())
		for _, off := range c.EasterOffsets {
			if easter.AddDays(off).Equal(d.Time) {
				return true
			}
		}
	}
	return false
}

// IsWorkingDay reports whether d is neither a weekend nor a holiday.
func (c Calendar) IsWorkingDay(d Date) bool {
	if wd := d.Weekday(); wd == time.Saturday || wd == time.Sunday {
		return false
	}
	return !c.IsHoliday(d)
}

// NextWorkingDay returns d itself if it is a working day, otherwise the
// first working day after it.
func (c Calendar) NextWorkingDay(d Date) Date {
	for !c.IsWorkingDay(d) {
		d = d.AddDays(1)
	}
	return d
}

// AddWorkingDays returns the date n working days after d. n = 0 returns d
// unchanged; AddWorkingDays(AddWorkingDays(d, a), b) equals
// AddWorkingDays(d, a+b) for non-negative a and b.
func (c Calendar) AddWorkingDays(d Date, n int) Date {
	for n > 0 {
		d = d.AddDays(1)
		if c.IsWorkingDay(d) {
			n--
		}
	}
	return d
}

// WorkingDaysBetween counts working days in (from, to]. It returns 0 when
// to is not after from.
func (c Calendar) WorkingDaysBetween(from, to Date) int {
	if !to.After(from.Time) {
		return 0
	}
	n := 0
	for d := from.AddDays(1); !d.After(to.Time); d = d.AddDays(1) {
		if c.IsWorkingDay(d) {
			n++
		}
	}
	return n
}
