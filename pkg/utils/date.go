package utils

import "time"

// TimeNow returns the current UTC time truncated to microseconds, the precision
// postgres keeps for timestamptz. Comparing a stored value with one computed in
// memory therefore never flips order after a round trip.
func TimeNow() time.Time {
	return time.Now().UTC().Truncate(time.Microsecond)
}

// NotBefore returns t, or floor when t is earlier than floor.
func NotBefore(t time.Time, floor *time.Time) time.Time {
	if floor != nil && t.Before(*floor) {
		return *floor
	}
	return t
}
