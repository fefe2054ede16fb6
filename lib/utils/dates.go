package utils

import (
	"time"

	"github.com/pkg/errors"
)

// DateLayout is the calendar date format used for completion history keys and reset markers.
const DateLayout = "2006-01-02"

// ErrInvalidDate is returned for strings that are not YYYY-MM-DD calendar dates.
var ErrInvalidDate = errors.New("invalid date, expected YYYY-MM-DD")

// Clock returns the current instant. Services take one so tests can pin "today".
type Clock func() time.Time

// FixedClock returns a Clock that always reports t.
func FixedClock(t time.Time) Clock {
	return func() time.Time { return t }
}

// DateString formats t as a calendar date in loc.
func DateString(t time.Time, loc *time.Location) string {
	if loc == nil {
		loc = time.UTC
	}
	return t.In(loc).Format(DateLayout)
}

// ParseDate parses a YYYY-MM-DD calendar date at midnight UTC.
func ParseDate(date string) (time.Time, error) {
	t, err := time.Parse(DateLayout, date)
	if err != nil {
		return time.Time{}, errors.Wrapf(ErrInvalidDate, "%q", date)
	}
	return t, nil
}

// PreviousDate returns the calendar date immediately before date.
func PreviousDate(date string) (string, error) {
	t, err := ParseDate(date)
	if err != nil {
		return "", err
	}
	return t.AddDate(0, 0, -1).Format(DateLayout), nil
}

// Weekday returns the day of the week date falls on.
func Weekday(date string) (time.Weekday, error) {
	t, err := ParseDate(date)
	if err != nil {
		return 0, err
	}
	return t.Weekday(), nil
}
