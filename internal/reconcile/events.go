package reconcile

import (
	"strings"
	"time"

	"schoolcal/internal/models"
)

// DefaultReminder is the lead time of the display alarm attached to every event.
const DefaultReminder = 5 * time.Minute

// NewEvent renders the calendar event for a compressed block.
func NewEvent(b models.Block, reminder time.Duration) models.Event {
	var desc strings.Builder
	desc.WriteString("Class: " + b.ClassName)
	desc.WriteString("\nTeacher: " + b.Teacher)
	if len(b.AdditionalTeachers) > 0 {
		desc.WriteString("\nAdditional teachers: " + strings.Join(b.AdditionalTeachers, ", "))
	}

	location := "Room: " + b.Room
	if len(b.AdditionalRooms) > 0 {
		location += "\nAdditional rooms: " + strings.Join(b.AdditionalRooms, ", ")
	}

	return models.Event{
		UID:         UID(b),
		Title:       b.Subject,
		Description: desc.String(),
		Location:    location,
		StartTime:   b.Start,
		EndTime:     b.End,
		Reminder:    reminder,
	}
}

// NewEvents renders one event per block, in block order.
func NewEvents(blocks []models.Block, reminder time.Duration) []models.Event {
	events := make([]models.Event, 0, len(blocks))
	for _, b := range blocks {
		events = append(events, NewEvent(b, reminder))
	}
	return events
}
