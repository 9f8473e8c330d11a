package reconcile

import (
	"fmt"
	"strings"

	"schoolcal/internal/models"
)

// AmbiguousSlotError reports a slot where several desired events collide and
// the calendar already holds several events that do not all belong to them.
// No action is planned for such a slot.
type AmbiguousSlotError struct {
	Slot    models.Slot
	Desired []string
	Remote  []string
}

func (e *AmbiguousSlotError) Error() string {
	return fmt.Sprintf("ambiguous slot %s: desired [%s], remote [%s]",
		e.Slot, strings.Join(e.Desired, ", "), strings.Join(e.Remote, ", "))
}
