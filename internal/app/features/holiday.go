package features

import "time"

// HolidayCalendar answers whether a given UTC day is a holiday, for the
// temporal feature family. The calendar source is pluggable via this
// injected lookup interface; StaticHolidayCalendar below is the default
// implementation.
type HolidayCalendar interface {
	IsHoliday(t time.Time) bool
}

// StaticHolidayCalendar holds a fixed yearly set of US-style bank holidays,
// specified as (month, day) pairs observed every year.
type StaticHolidayCalendar struct {
	days map[[2]int]bool
}

// NewStaticHolidayCalendar returns the default US bank holiday calendar.
func NewStaticHolidayCalendar() StaticHolidayCalendar {
	return StaticHolidayCalendar{days: map[[2]int]bool{
		{1, 1}:   true, // New Year's Day
		{7, 4}:   true, // Independence Day
		{11, 11}: true, // Veterans Day
		{12, 25}: true, // Christmas
	}}
}

func (c StaticHolidayCalendar) IsHoliday(t time.Time) bool {
	t = t.UTC()
	return c.days[[2]int{int(t.Month()), t.Day()}]
}
