package models

import (
	"fmt"
	"time"
)

// Event represents a desired calendar event derived from a Block.
// This is an internal representation, independent of any specific calendar provider.
type Event struct {
	UID         string        `json:"uid"`         // Content hash, the idempotence key
	Title       string        `json:"title"`       // Summary of the event (the subject)
	Description string        `json:"description"` // Class and teachers
	Location    string        `json:"location"`    // Rooms
	StartTime   time.Time     `json:"start"`
	EndTime     time.Time     `json:"end"`
	Reminder    time.Duration `json:"reminder"` // Lead time of the single display alarm
}

// Slot returns the time slot occupied by the event.
func (e Event) Slot() Slot {
	return NewSlot(e.StartTime, e.EndTime)
}

// RemoteEvent is an event already present on the calendar server.
type RemoteEvent struct {
	UID       string    `json:"uid"`
	Ref       string    `json:"ref"` // Server-side locator: a CalDAV object path or a Google event id
	Title     string    `json:"title,omitempty"`
	StartTime time.Time `json:"start"`
	EndTime   time.Time `json:"end"`
}

// Slot returns the time slot occupied by the remote event.
func (r RemoteEvent) Slot() Slot {
	return NewSlot(r.StartTime, r.EndTime)
}

// Key identifies a remote event within one snapshot.
func (r RemoteEvent) Key() string {
	if r.Ref != "" {
		return r.Ref
	}
	return r.UID + "@" + r.Slot().String()
}

// Slot is a comparable (start, end) pair. Two times denoting the same
// instant in different locations produce the same Slot.
type Slot struct {
	Start int64
	End   int64
}

// NewSlot builds a Slot from two instants.
func NewSlot(start, end time.Time) Slot {
	return Slot{Start: start.UnixNano(), End: end.UnixNano()}
}

func (s Slot) String() string {
	return fmt.Sprintf("%s/%s",
		time.Unix(0, s.Start).UTC().Format(time.RFC3339),
		time.Unix(0, s.End).UTC().Format(time.RFC3339))
}
