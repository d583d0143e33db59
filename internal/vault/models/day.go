package models

import "time"

// SecondsPerDay is the width of a day window.
const SecondsPerDay int64 = 86_400

// DayIndex returns floor(unix / 86400). Unlike Go's truncating division it stays
// monotonic across the epoch, so a regressed or pre-1970 clock never panics and
// never lands two different days in the same bucket.
func DayIndex(unix int64) int64 {
	d := unix / SecondsPerDay
	if unix%SecondsPerDay != 0 && unix < 0 {
		d--
	}
	return d
}

// DayOf is DayIndex for a time.Time.
func DayOf(t time.Time) int64 {
	return DayIndex(t.Unix())
}
