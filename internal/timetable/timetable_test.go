package timetable

import (
	"time"

	"schoolcal/internal/models"
)

var day = time.Date(2024, time.May, 6, 0, 0, 0, 0, time.UTC)

func at(hour, minute int) time.Time {
	return day.Add(time.Duration(hour)*time.Hour + time.Duration(minute)*time.Minute)
}

func lesson(subject string, from, to time.Time) models.Lesson {
	return models.Lesson{
		Subject:            subject,
		Start:              from,
		End:                to,
		ClassName:          "10b",
		Teacher:            "Miller",
		AdditionalTeachers: []string{},
		Room:               "A101",
		AdditionalRooms:    []string{},
	}
}

func raw(subject string, from, to time.Time) models.RawLesson {
	return models.RawLesson{
		Subject:   subject,
		Start:     from,
		End:       to,
		ClassName: "10b",
		Teacher:   "Miller",
		Room:      "A101",
	}
}
