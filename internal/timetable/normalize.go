package timetable

import (
	"strings"

	"schoolcal/internal/models"
)

// MatchMode selects how exclusion markers are compared against a subject.
type MatchMode string

const (
	MatchContains MatchMode = "contains"
	MatchPrefix   MatchMode = "prefix"
	MatchExact    MatchMode = "exact"
)

// ParseMatchMode returns the MatchMode named by s, defaulting to MatchContains.
func ParseMatchMode(s string) (MatchMode, bool) {
	switch MatchMode(strings.ToLower(strings.TrimSpace(s))) {
	case "", MatchContains:
		return MatchContains, true
	case MatchPrefix:
		return MatchPrefix, true
	case MatchExact:
		return MatchExact, true
	default:
		return MatchContains, false
	}
}

// Exclusion is the set of subject markers whose lessons are dropped.
type Exclusion struct {
	Markers []string
	Mode    MatchMode
}

// Excludes reports whether subject matches any marker. Empty markers never match.
func (e Exclusion) Excludes(subject string) bool {
	for _, m := range e.Markers {
		if m == "" {
			continue
		}
		switch e.Mode {
		case MatchExact:
			if subject == m {
				return true
			}
		case MatchPrefix:
			if strings.HasPrefix(subject, m) {
				return true
			}
		default:
			if strings.Contains(subject, m) {
				return true
			}
		}
	}
	return false
}

// Normalize filters raw lessons through ex and reshapes the survivors,
// preserving input order. Records missing a required field are returned
// as *MalformedRecordError values and the rest of the batch proceeds.
func Normalize(raw []models.RawLesson, ex Exclusion) ([]models.Lesson, []error) {
	lessons := make([]models.Lesson, 0, len(raw))
	var errs []error

	for i, r := range raw {
		if reason := validate(r); reason != "" {
			errs = append(errs, &MalformedRecordError{Index: i, Subject: r.Subject, Reason: reason})
			continue
		}
		if ex.Excludes(r.Subject) {
			continue
		}
		lessons = append(lessons, models.Lesson{
			Subject:            r.Subject,
			Start:              r.Start,
			End:                r.End,
			ClassName:          r.ClassName,
			Teacher:            r.Teacher,
			AdditionalTeachers: splitNames(r.AdditionalTeachers),
			Room:               r.Room,
			AdditionalRooms:    splitNames(r.AdditionalRooms),
		})
	}
	return lessons, errs
}

func validate(r models.RawLesson) string {
	switch {
	case strings.TrimSpace(r.Subject) == "":
		return "missing subject"
	case r.Start.IsZero():
		return "missing start"
	case r.End.IsZero():
		return "missing end"
	case !r.Start.Before(r.End):
		return "start is not before end"
	}
	return ""
}

// splitNames splits a comma separated list. The portal always puts the
// primary name at the head of the list, so the first entry is dropped by
// position whatever it holds.
func splitNames(s string) []string {
	names := []string{}
	parts := strings.Split(s, ",")
	for _, part := range parts[1:] {
		if name := strings.TrimSpace(part); name != "" {
			names = append(names, name)
		}
	}
	return names
}
