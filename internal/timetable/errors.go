package timetable

import (
	"fmt"
	"time"

	"schoolcal/internal/models"
)

// MalformedRecordError is returned for a raw lesson that lacks a required
// field or whose start is not before its end. Only that record is rejected.
type MalformedRecordError struct {
	Index   int    // Position of the record in the input batch
	Subject string // Subject, if present
	Reason  string
}

func (e *MalformedRecordError) Error() string {
	return fmt.Sprintf("malformed lesson record %d (%q): %s", e.Index, e.Subject, e.Reason)
}

// ClockSkewError reports a compressed block that ends before it starts.
// It is a data-integrity fault: the whole cycle must abort.
type ClockSkewError struct {
	Block models.Block
}

func (e *ClockSkewError) Error() string {
	return fmt.Sprintf("block %q ends at %s before it starts at %s",
		e.Block.Subject, e.Block.End.Format(time.RFC3339), e.Block.Start.Format(time.RFC3339))
}
