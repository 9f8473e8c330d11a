package models

import "time"

// RawLesson is a lesson record as delivered by the school portal.
// Additional teachers and rooms arrive as comma separated strings.
type RawLesson struct {
	Subject            string    // Subject name, required
	Start              time.Time // Start of the lesson, required
	End                time.Time // End of the lesson, required
	ClassName          string    // Student class, optional
	Teacher            string    // Primary teacher, optional
	AdditionalTeachers string    // Comma separated list, optional
	Room               string    // Primary room, optional
	AdditionalRooms    string    // Comma separated list, optional
}

// Lesson is a RawLesson that passed normalization.
// The additional teachers and rooms are never nil.
type Lesson struct {
	Subject            string
	Start              time.Time
	End                time.Time
	ClassName          string
	Teacher            string
	AdditionalTeachers []string
	Room               string
	AdditionalRooms    []string
}

// Block is a Lesson whose End may have been extended to absorb directly
// following identical lessons.
type Block = Lesson

// SameSeries reports whether two lessons share subject, class, teacher and room.
func (l Lesson) SameSeries(o Lesson) bool {
	return l.Subject == o.Subject &&
		l.ClassName == o.ClassName &&
		l.Teacher == o.Teacher &&
		l.Room == o.Room
}

// Interval is a half-open time range [Start, End).
type Interval struct {
	Start time.Time `json:"start"`
	End   time.Time `json:"end"`
}

// Duration returns the length of the interval.
func (i Interval) Duration() time.Duration {
	return i.End.Sub(i.Start)
}
