// Package week maps dates to Saturday-anchored week keys.
package week

import (
	"fmt"
	"time"

	"weeklytotals/internal/core"
)

// KeyLayout is the layout of a week key: the date of the week's Saturday.
const KeyLayout = "2006-01-02"

const nameLayout = "Jan 2"

// Start returns midnight of the Saturday on or before t, in t's location.
func Start(t time.Time) time.Time {
	d := time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, t.Location())
	back := (int(d.Weekday()) - int(time.Saturday) + 7) % 7
	return d.AddDate(0, 0, -back)
}

// Key returns the week key of the week containing t.
func Key(t time.Time) string {
	return Start(t).Format(KeyLayout)
}

// Parse validates a week key and returns its Saturday.
func Parse(key string) (time.Time, error) {
	t, err := time.Parse(KeyLayout, key)
	if err != nil {
		return time.Time{}, fmt.Errorf("%w: %q", core.ErrInvalidWeekKey, key)
	}
	if t.Weekday() != time.Saturday {
		return time.Time{}, fmt.Errorf("%w: %q is not a Saturday", core.ErrInvalidWeekKey, key)
	}
	return t, nil
}

// Valid reports whether key is a well-formed week key.
func Valid(key string) bool {
	_, err := Parse(key)
	return err == nil
}

func Previous(key string) (string, error) {
	return shift(key, -7)
}

func Next(key string) (string, error) {
	return shift(key, 7)
}

func shift(key string, days int) (string, error) {
	t, err := Parse(key)
	if err != nil {
		return "", err
	}
	return t.AddDate(0, 0, days).Format(KeyLayout), nil
}

// Name renders a week key as "Jan 4 - Jan 10".
func Name(key string) (string, error) {
	t, err := Parse(key)
	if err != nil {
		return "", err
	}
	return t.Format(nameLayout) + " - " + t.AddDate(0, 0, 6).Format(nameLayout), nil
}

// Calculator resolves the current week from an injectable clock.
type Calculator struct {
	now func() time.Time
	loc *time.Location
}

// NewCalculator returns a Calculator using now (time.Now when nil) in loc
// (time.Local when nil).
func NewCalculator(now func() time.Time, loc *time.Location) *Calculator {
	if now == nil {
		now = time.Now
	}
	if loc == nil {
		loc = time.Local
	}
	return &Calculator{now: now, loc: loc}
}

func (c *Calculator) CurrentWeek() string {
	return Key(c.now().In(c.loc))
}

func (c *Calculator) PreviousWeek() string {
	prev, _ := Previous(c.CurrentWeek())
	return prev
}

// Now returns the calculator's current time in its location.
func (c *Calculator) Now() time.Time {
	return c.now().In(c.loc)
}
