package core

import (
	"fmt"
	"time"
)

const monthKeyLayout = "2006-01"

// MonthKey identifies a calendar month as "YYYY-MM". Keys sort
// chronologically as plain strings.
type MonthKey string

// NewMonthKey builds the key for year and month.
func NewMonthKey(year int, month time.Month) MonthKey {
	return MonthKey(fmt.Sprintf("%04d-%02d", year, int(month)))
}

// MonthKeyOf returns the month containing t, evaluated in UTC.
func MonthKeyOf(t time.Time) MonthKey {
	u := t.UTC()
	return NewMonthKey(u.Year(), u.Month())
}

// ParseMonthKey validates s and returns it as a MonthKey.
func ParseMonthKey(s string) (MonthKey, error) {
	t, err := time.Parse(monthKeyLayout, s)
	if err != nil {
		return "", fmt.Errorf("%w: %q", ErrInvalidMonthKey, s)
	}
	return MonthKeyOf(t), nil
}

func (k MonthKey) Validate() error {
	if _, err := time.Parse(monthKeyLayout, string(k)); err != nil {
		return fmt.Errorf("%w: %q", ErrInvalidMonthKey, string(k))
	}
	return nil
}

// Start returns the first instant of the month in UTC. It returns the zero
// time for an invalid key.
func (k MonthKey) Start() time.Time {
	t, err := time.Parse(monthKeyLayout, string(k))
	if err != nil {
		return time.Time{}
	}
	return t
}

// End returns the first instant of the following month.
func (k MonthKey) End() time.Time {
	return k.Start().AddDate(0, 1, 0)
}

func (k MonthKey) Year() int              { return k.Start().Year() }
func (k MonthKey) Month() time.Month      { return k.Start().Month() }
func (k MonthKey) Next() MonthKey         { return MonthKeyOf(k.End()) }
func (k MonthKey) Prev() MonthKey         { return MonthKeyOf(k.Start().AddDate(0, -1, 0)) }
func (k MonthKey) String() string         { return string(k) }
func (k MonthKey) Before(o MonthKey) bool { return k < o }

// Contains reports whether t falls inside the month.
func (k MonthKey) Contains(t time.Time) bool {
	return MonthKeyOf(t) == k
}

// MonthRange returns every month from first through last inclusive, or nil
// if last is before first.
func MonthRange(first, last MonthKey) []MonthKey {
	if first.Validate() != nil || last.Validate() != nil || last < first {
		return nil
	}
	var out []MonthKey
	for k := first; k <= last; k = k.Next() {
		out = append(out, k)
	}
	return out
}

// YearMonths returns the twelve months of year.
func YearMonths(year int) []MonthKey {
	return MonthRange(NewMonthKey(year, time.January), NewMonthKey(year, time.December))
}
