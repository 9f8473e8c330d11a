package models

import "encoding/json"

// ActionKind tags an Action.
type ActionKind int

const (
	ActionCreate ActionKind = iota
	ActionDelete
)

func (k ActionKind) String() string {
	switch k {
	case ActionCreate:
		return "create"
	case ActionDelete:
		return "delete"
	default:
		return "unknown"
	}
}

// MarshalText implements encoding.TextMarshaler.
func (k ActionKind) MarshalText() ([]byte, error) {
	return []byte(k.String()), nil
}

// Action is a single instruction needed to converge the remote calendar.
// A Create carries Event, a Delete carries Remote. There is no update:
// changed content changes the UID, so it becomes a Delete plus a Create.
type Action struct {
	Kind   ActionKind
	Event  Event
	Remote RemoteEvent
}

// Create returns a Create action for e.
func Create(e Event) Action {
	return Action{Kind: ActionCreate, Event: e}
}

// Delete returns a Delete action for r.
func Delete(r RemoteEvent) Action {
	return Action{Kind: ActionDelete, Remote: r}
}

// Slot returns the time slot the action touches.
func (a Action) Slot() Slot {
	if a.Kind == ActionDelete {
		return a.Remote.Slot()
	}
	return a.Event.Slot()
}

// Title returns a human readable label for logging.
func (a Action) Title() string {
	if a.Kind == ActionDelete {
		return a.Remote.Title
	}
	return a.Event.Title
}

// MarshalJSON encodes only the populated side of the variant.
func (a Action) MarshalJSON() ([]byte, error) {
	out := struct {
		Kind   ActionKind   `json:"kind"`
		Event  *Event       `json:"event,omitempty"`
		Remote *RemoteEvent `json:"remote,omitempty"`
	}{Kind: a.Kind}
	if a.Kind == ActionDelete {
		out.Remote = &a.Remote
	} else {
		out.Event = &a.Event
	}
	return json.Marshal(out)
}
