package scheduler

import (
	"sort"
	"time"

	"event-notifier-bot/event"
)

// NextWake returns the first configured time of day strictly after now in loc, or the earliest
// configured time tomorrow. Without configured times it returns the zero time.
func NextWake(now time.Time, times []event.TimeOfDay, loc *time.Location) time.Time {
	if len(times) == 0 {
		return time.Time{}
	}
	sorted := append([]event.TimeOfDay{}, times...)
	sort.Slice(sorted, func(i, j int) bool {
		return sorted[i].Before(sorted[j])
	})
	local := now.In(loc)
	for _, t := range sorted {
		candidate := t.On(local, loc)
		if candidate.After(local) {
			return candidate
		}
	}
	return sorted[0].On(local.AddDate(0, 0, 1), loc)
}

// DailySchedule fires at the same wall clock times every day. It implements cron.Schedule.
type DailySchedule struct {
	Times    []event.TimeOfDay
	Location *time.Location
}

func (s DailySchedule) Next(t time.Time) time.Time {
	return NextWake(t, s.Times, s.Location)
}
