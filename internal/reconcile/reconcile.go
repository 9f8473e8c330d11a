// Package reconcile decides which calendar events to create and delete so
// that a remote calendar converges to the computed schedule.
package reconcile

import (
	"errors"
	"time"

	"schoolcal/internal/models"
)

// Reconcile computes the actions that converge remote to the desired events
// and free intervals.
//
// Event reconciliation runs first, then every remote event overlapping a free
// interval is deleted. A remote event is deleted at most once. Slots that are
// ambiguous are skipped and reported through the returned error, which joins
// one *AmbiguousSlotError per slot; the actions for all other slots are still
// returned.
func Reconcile(desired []models.Event, free []models.Interval, remote []models.RemoteEvent, now time.Time) ([]models.Action, error) {
	actions, err := ReconcileEvents(desired, remote, now)

	deleted := make(map[string]bool)
	for _, a := range actions {
		if a.Kind == models.ActionDelete {
			deleted[a.Remote.Key()] = true
		}
	}
	for _, a := range ReconcileFreeTime(remote, free) {
		if deleted[a.Remote.Key()] {
			continue
		}
		deleted[a.Remote.Key()] = true
		actions = append(actions, a)
	}
	return actions, err
}

type slotGroup struct {
	slot   models.Slot
	events []models.Event
}

// ReconcileEvents matches desired events to remote events sharing their exact
// (start, end) slot. A matching identifier is a no-op, a different one is
// replaced by a Delete followed by a Create, and an empty slot gets a Create.
// Events that ended before now are skipped.
func ReconcileEvents(desired []models.Event, remote []models.RemoteEvent, now time.Time) ([]models.Action, error) {
	bySlot := make(map[models.Slot][]models.RemoteEvent)
	for _, r := range remote {
		bySlot[r.Slot()] = append(bySlot[r.Slot()], r)
	}

	var groups []*slotGroup
	index := make(map[models.Slot]*slotGroup)
	for _, e := range desired {
		if e.EndTime.Before(now) {
			continue
		}
		g, ok := index[e.Slot()]
		if !ok {
			g = &slotGroup{slot: e.Slot()}
			index[e.Slot()] = g
			groups = append(groups, g)
		}
		if !containsUID(g.events, e.UID) {
			g.events = append(g.events, e)
		}
	}

	var actions []models.Action
	var errs []error
	for _, g := range groups {
		planned, err := reconcileSlot(g, bySlot[g.slot])
		if err != nil {
			errs = append(errs, err)
			continue
		}
		actions = append(actions, planned...)
	}
	return actions, errors.Join(errs...)
}

func reconcileSlot(g *slotGroup, remotes []models.RemoteEvent) ([]models.Action, error) {
	want := make(map[string]bool, len(g.events))
	for _, e := range g.events {
		want[e.UID] = true
	}

	if len(g.events) > 1 && len(remotes) > 1 {
		for _, r := range remotes {
			if !want[r.UID] {
				return nil, ambiguous(g, remotes)
			}
		}
	}

	var actions []models.Action
	have := make(map[string]bool, len(remotes))
	for _, r := range remotes {
		if want[r.UID] && !have[r.UID] {
			have[r.UID] = true
			continue
		}
		// Stale content, or a server-side duplicate of an event already kept.
		actions = append(actions, models.Delete(r))
	}
	for _, e := range g.events {
		if !have[e.UID] {
			actions = append(actions, models.Create(e))
		}
	}
	return actions, nil
}

func ambiguous(g *slotGroup, remotes []models.RemoteEvent) error {
	err := &AmbiguousSlotError{Slot: g.slot}
	for _, e := range g.events {
		err.Desired = append(err.Desired, e.UID)
	}
	for _, r := range remotes {
		err.Remote = append(err.Remote, r.UID)
	}
	return err
}

func containsUID(events []models.Event, uid string) bool {
	for _, e := range events {
		if e.UID == uid {
			return true
		}
	}
	return false
}

// ReconcileFreeTime returns a Delete for every remote event that overlaps a
// free interval, in snapshot order.
func ReconcileFreeTime(remote []models.RemoteEvent, free []models.Interval) []models.Action {
	var actions []models.Action
	for _, r := range remote {
		for _, f := range free {
			if Overlaps(r, f) {
				actions = append(actions, models.Delete(r))
				break
			}
		}
	}
	return actions
}

// Overlaps reports whether r intersects the free interval f. Boundaries are
// half-open on both sides: an event ending exactly when f starts, or starting
// exactly when f ends, does not overlap.
func Overlaps(r models.RemoteEvent, f models.Interval) bool {
	start, end := r.StartTime, r.EndTime
	startsInside := !start.Before(f.Start) && start.Before(f.End)
	endsInside := end.After(f.Start) && !end.After(f.End)
	covers := !start.After(f.Start) && !end.Before(f.End)
	return startsInside || endsInside || covers
}
