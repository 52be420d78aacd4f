// Package binmapper maps a UTC instant to one of the 192 time bins the
// Statistics Store is partitioned by. It is a pure function: no
// I/O, no shared state, safe to call from any goroutine.
package binmapper

import (
	"time"

	"github.com/citytransit/etalearn/internal/domain"
)

// Of computes the bin for t, a UTC instant. isHoliday forces the weekend
// calendar for the given instant regardless of weekday; holiday is a
// per-observation boolean, default false.
//
// The minute axis is closed-open: a slot owns every instant from its
// start (inclusive) up to but not including the next slot's start, so
// 14:30:00 belongs to the same slot as 14:30:59, not the slot ending at
// 14:30:00.
func Of(t time.Time, isHoliday bool) domain.TimeBin {
	u := t.UTC()

	dayType := domain.Weekday
	wd := u.Weekday()
	if isHoliday || wd == time.Saturday || wd == time.Sunday {
		dayType = domain.Weekend
	}

	minuteOfDay := u.Hour()*60 + u.Minute()
	slot := minuteOfDay / 15

	return domain.TimeBin{DayType: dayType, SlotOfDay: slot}
}

// BinID is a convenience wrapper returning the flat [0,192) identifier
// directly.
func BinID(t time.Time, isHoliday bool) int {
	return Of(t, isHoliday).BinID()
}
