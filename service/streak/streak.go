// Package streak derives a consecutive-day activity streak ending today.
package streak

import "time"

// MaxLookback bounds how many days before today are examined, so a streak
// is at most MaxLookback+1.
const MaxLookback = 30

// Calculate returns the number of consecutive calendar days, ending on the
// day of now, that have at least one entry in dates. Days are taken in loc;
// a nil loc means UTC. No entry today means 0.
func Calculate(dates []time.Time, now time.Time, loc *time.Location) int {
	if loc == nil {
		loc = time.UTC
	}

	days := make(map[time.Time]struct{}, len(dates))
	for _, d := range dates {
		days[day(d, loc)] = struct{}{}
	}

	cursor := day(now, loc)
	if _, ok := days[cursor]; !ok {
		return 0
	}

	streak := 1
	for i := 0; i < MaxLookback; i++ {
		// AddDate keeps midnight across DST changes, unlike Add(-24h)
		cursor = cursor.AddDate(0, 0, -1)
		if _, ok := days[cursor]; !ok {
			break
		}
		streak++
	}

	return streak
}

func day(t time.Time, loc *time.Location) time.Time {
	y, m, d := t.In(loc).Date()
	return time.Date(y, m, d, 0, 0, 0, 0, loc)
}
