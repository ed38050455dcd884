package week

import (
	"errors"
	"testing"
	"time"

	"weeklytotals/internal/core"
)

func date(y int, m time.Month, d int) time.Time {
	return time.Date(y, m, d, 15, 30, 0, 0, time.UTC)
}

func TestKey(t *testing.T) {
	cases := []struct {
		in   time.Time
		want string
	}{
		{date(2025, 2, 8), "2025-02-08"},  // Saturday
		{date(2025, 2, 9), "2025-02-08"},  // Sunday
		{date(2025, 2, 14), "2025-02-08"}, // Friday
		{date(2025, 2, 15), "2025-02-15"},
		{date(2025, 1, 1), "2024-12-28"}, // year boundary
	}
	for _, tc := range cases {
		if got := Key(tc.in); got != tc.want {
			t.Fatalf("%s: expected %s, got %s", tc.in.Format(KeyLayout), tc.want, got)
		}
	}
}

func TestPreviousNext(t *testing.T) {
	prev, err := Previous("2025-02-08")
	if err != nil || prev != "2025-02-01" {
		t.Fatalf("expected 2025-02-01, got %s (err=%v)", prev, err)
	}
	next, err := Next("2025-02-08")
	if err != nil || next != "2025-02-15" {
		t.Fatalf("expected 2025-02-15, got %s (err=%v)", next, err)
	}
}

func TestName(t *testing.T) {
	cases := map[string]string{
		"2024-12-28": "Dec 28 - Jan 3",
		"2025-01-25": "Jan 25 - Jan 31",
		"2025-01-04": "Jan 4 - Jan 10",
	}
	for key, want := range cases {
		got, err := Name(key)
		if err != nil || got != want {
			t.Fatalf("%s: expected %q, got %q (err=%v)", key, want, got, err)
		}
	}
}

func TestParseRejects(t *testing.T) {
	for _, key := range []string{"", "2025-02-09", "08/02/2025", "2025-13-01"} {
		if _, err := Parse(key); !errors.Is(err, core.ErrInvalidWeekKey) {
			t.Fatalf("%q expected ErrInvalidWeekKey, got %v", key, err)
		}
	}
}

func TestCalculator(t *testing.T) {
	c := NewCalculator(func() time.Time { return date(2025, 2, 12) }, time.UTC)
	if got := c.CurrentWeek(); got != "2025-02-08" {
		t.Fatalf("unexpected current week %s", got)
	}
	if got := c.PreviousWeek(); got != "2025-02-01" {
		t.Fatalf("unexpected previous week %s", got)
	}
}
