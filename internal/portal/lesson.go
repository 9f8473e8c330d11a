package portal

import (
	"time"

	"schoolcal/internal/models"
)

type timetableRequest struct {
	SchoolID      int    `json:"schoolId"`
	StudentID     int    `json:"studentId"`
	From          string `json:"from"`
	To            string `json:"to"`
	GetAbsences   bool   `json:"getAbsences"`
	GetShortNames bool   `json:"getShortNames"`
}

type timetableResponse struct {
	Lessons []lessonRecord `json:"lessons"`
}

// lessonRecord is a lesson as the portal serializes it. Any field may be
// null or missing; validation happens during normalization.
type lessonRecord struct {
	SubjectName        *string `json:"SubjectName"`
	Start              *string `json:"start"`
	End                *string `json:"end"`
	StudentClassName   *string `json:"StudentClassName"`
	TeacherName        *string `json:"TeacherName"`
	AdditionalTeachers *string `json:"AdditionalTeacherNamesString"`
	RoomName           *string `json:"RoomName"`
	AdditionalRooms    *string `json:"AdditionalRooms"`
}

var timestampLayouts = []string{
	time.RFC3339,
	"2006-01-02T15:04:05-0700",
}

// toRaw converts the record. Absent or unparsable timestamps become the zero
// time so the normalizer rejects the record.
func (r lessonRecord) toRaw(loc *time.Location) models.RawLesson {
	return models.RawLesson{
		Subject:            deref(r.SubjectName),
		Start:              parseTimestamp(deref(r.Start), loc),
		End:                parseTimestamp(deref(r.End), loc),
		ClassName:          deref(r.StudentClassName),
		Teacher:            deref(r.TeacherName),
		AdditionalTeachers: deref(r.AdditionalTeachers),
		Room:               deref(r.RoomName),
		AdditionalRooms:    deref(r.AdditionalRooms),
	}
}

func parseTimestamp(s string, loc *time.Location) time.Time {
	if s == "" {
		return time.Time{}
	}
	for _, layout := range timestampLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t
		}
	}
	if t, err := time.ParseInLocation("2006-01-02T15:04:05", s, loc); err == nil {
		return t
	}
	return time.Time{}
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
