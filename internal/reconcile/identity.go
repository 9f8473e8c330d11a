package reconcile

import (
	"crypto/sha256"
	"encoding/hex"
	"strings"
	"time"

	"schoolcal/internal/models"
)

const (
	fieldSep = "\x1e"
	listSep  = "\x1f"
)

// UID derives the stable identifier of the event built from b.
//
// The SHA-256 digest covers subject, start, end, teacher, additional teachers,
// room, additional rooms and class, in that order. Times are encoded in UTC so
// the same instant always hashes the same. List order is significant.
func UID(b models.Block) string {
	fields := []string{
		b.Subject,
		b.Start.UTC().Format(time.RFC3339Nano),
		b.End.UTC().Format(time.RFC3339Nano),
		b.Teacher,
		strings.Join(b.AdditionalTeachers, listSep),
		b.Room,
		strings.Join(b.AdditionalRooms, listSep),
		b.ClassName,
	}
	sum := sha256.Sum256([]byte(strings.Join(fields, fieldSep)))
	return hex.EncodeToString(sum[:])
}
