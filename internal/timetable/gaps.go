package timetable

import (
	"time"

	"schoolcal/internal/models"
)

// Gaps returns the free intervals inside window that no block covers,
// in order. Every interval has a positive duration; touching blocks never
// produce an empty gap. Blocks must be sorted by start. Overlapping blocks
// are tolerated: coverage extends to the latest end seen so far.
func Gaps(blocks []models.Block, window models.Interval) []models.Interval {
	if !window.Start.Before(window.End) {
		return nil
	}

	var free []models.Interval
	cursor := window.Start
	for _, b := range blocks {
		if !cursor.Before(window.End) {
			break
		}
		if b.Start.After(cursor) {
			free = append(free, models.Interval{Start: cursor, End: minTime(b.Start, window.End)})
		}
		if b.End.After(cursor) {
			cursor = b.End
		}
	}
	if cursor.Before(window.End) {
		free = append(free, models.Interval{Start: cursor, End: window.End})
	}
	return free
}

// Window returns the sync window: from the start of the day containing now
// in loc, spanning days days.
func Window(now time.Time, loc *time.Location, days int) models.Interval {
	if loc == nil {
		loc = time.UTC
	}
	local := now.In(loc)
	start := time.Date(local.Year(), local.Month(), local.Day(), 0, 0, 0, 0, loc)
	return models.Interval{Start: start, End: start.AddDate(0, 0, days)}
}

func minTime(a, b time.Time) time.Time {
	if a.Before(b) {
		return a
	}
	return b
}
