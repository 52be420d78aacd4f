package binmapper

import (
	"testing"
	"time"
)

func mustUTC(t *testing.T, s string) time.Time {
	t.Helper()
	tm, err := time.Parse(time.RFC3339, s)
	if err != nil {
		t.Fatalf("parse %q: %v", s, err)
	}
	return tm
}

func TestOf_BinBoundary(t *testing.T) {
	// Monday 2024-01-01 is a weekday.
	cases := []struct {
		ts   string
		want int
	}{
		{"2024-01-01T14:29:59Z", 57},
		{"2024-01-01T14:30:00Z", 58},
		{"2024-01-01T14:30:01Z", 58},
		{"2024-01-01T14:45:00Z", 59},
		{"2024-01-06T00:00:00Z", 96}, // Saturday
	}
	for _, c := range cases {
		got := BinID(mustUTC(t, c.ts), false)
		if got != c.want {
			t.Errorf("BinID(%s) = %d, want %d", c.ts, got, c.want)
		}
	}
}

func TestOf_Totality(t *testing.T) {
	start := mustUTC(t, "2024-01-01T00:00:00Z")
	for i := 0; i < 7*24*60; i++ { // one full week, minute resolution
		ts := start.Add(time.Duration(i) * time.Minute)
		id := BinID(ts, false)
		if id < 0 || id >= 192 {
			t.Fatalf("BinID(%s) = %d out of [0,192)", ts, id)
		}
	}
}

func TestOf_HolidayForcesWeekend(t *testing.T) {
	monday := mustUTC(t, "2024-01-01T10:00:00Z")
	got := Of(monday, true)
	if got.DayType.String() != "weekend" {
		t.Fatalf("holiday flag did not force weekend calendar, got %s", got.DayType)
	}
}

func TestOf_SameSlotSameBin(t *testing.T) {
	a := Of(mustUTC(t, "2024-01-01T14:30:00Z"), false)
	b := Of(mustUTC(t, "2024-01-01T14:44:59Z"), false)
	if a.BinID() != b.BinID() {
		t.Fatalf("two instants in the same (day_type, slot) mapped to different bins: %d vs %d", a.BinID(), b.BinID())
	}
}
