package core

import (
	"errors"
	"testing"
	"time"
)

func TestParseMonthKey(t *testing.T) {
	cases := []struct {
		in string
		ok bool
	}{
		{"2025-01", true},
		{"1999-12", true},
		{"2025-13", false},
		{"2025-1", false},
		{"25-01", false},
		{"", false},
	}
	for _, tc := range cases {
		k, err := ParseMonthKey(tc.in)
		if tc.ok && (err != nil || string(k) != tc.in) {
			t.Fatalf("%q: got %q, %v", tc.in, k, err)
		}
		if !tc.ok && !errors.Is(err, ErrInvalidMonthKey) {
			t.Fatalf("%q: expected ErrInvalidMonthKey, got %v", tc.in, err)
		}
	}
}

func TestMonthKeyNavigation(t *testing.T) {
	k := MonthKey("2024-12")
	if k.Next() != "2025-01" {
		t.Errorf("Next = %q", k.Next())
	}
	if MonthKey("2025-01").Prev() != "2024-12" {
		t.Errorf("Prev = %q", MonthKey("2025-01").Prev())
	}
	if !k.Contains(time.Date(2024, 12, 31, 23, 59, 0, 0, time.UTC)) {
		t.Errorf("expected Contains for last minute of month")
	}
	if k.Contains(time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)) {
		t.Errorf("next month must not be contained")
	}
	if k.Year() != 2024 || k.Month() != time.December {
		t.Errorf("Year/Month = %d/%v", k.Year(), k.Month())
	}
}

func TestMonthRange(t *testing.T) {
	got := MonthRange("2024-11", "2025-02")
	want := []MonthKey{"2024-11", "2024-12", "2025-01", "2025-02"}
	if len(got) != len(want) {
		t.Fatalf("got %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("got %v, want %v", got, want)
		}
	}
	if MonthRange("2025-02", "2025-01") != nil {
		t.Errorf("reversed range should be empty")
	}
	if len(YearMonths(2025)) != 12 {
		t.Errorf("YearMonths should have 12 entries")
	}
}
