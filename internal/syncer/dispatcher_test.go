package syncer

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"schoolcal/internal/models"
)

func TestGroupBySlotKeepsOrder(t *testing.T) {
	old := models.RemoteEvent{UID: "old", Ref: "old.ics", StartTime: at(9, 0), EndTime: at(10, 0)}
	fresh := models.Event{UID: "new", StartTime: at(9, 0), EndTime: at(10, 0)}
	other := models.Event{UID: "other", StartTime: at(11, 0), EndTime: at(12, 0)}

	groups := groupBySlot([]models.Action{models.Delete(old), models.Create(other), models.Create(fresh)})
	assert.Equal(t, [][]models.Action{
		{models.Delete(old), models.Create(fresh)},
		{models.Create(other)},
	}, groups)
}

func TestApplyRunsReplacementsInOrder(t *testing.T) {
	cal := newFakeCalendar()
	var actions []models.Action
	for i := range 40 {
		from := at(0, 0).Add(time.Duration(i) * 30 * time.Minute)
		old := models.RemoteEvent{UID: fmt.Sprintf("old-%d", i), Ref: fmt.Sprintf("old-%d.ics", i), StartTime: from, EndTime: from.Add(30 * time.Minute)}
		cal.events[old.Ref] = old
		actions = append(actions, models.Delete(old))
	}
	for i := range 40 {
		from := at(0, 0).Add(time.Duration(i) * 30 * time.Minute)
		actions = append(actions, models.Create(models.Event{UID: fmt.Sprintf("new-%d", i), StartTime: from, EndTime: from.Add(30 * time.Minute)}))
	}
	s := newTestSyncer(t, &fakeSource{}, cal, Options{Workers: 8}, nil)

	applied, failed, err := s.apply(context.Background(), discard(), actions)
	require.NoError(t, err)
	assert.Equal(t, 80, applied)
	assert.Zero(t, failed)

	seen := make(map[models.Slot]models.ActionKind)
	for _, a := range cal.applied {
		prev, ok := seen[a.Slot()]
		if a.Kind == models.ActionCreate {
			require.True(t, ok, "create at %s ran before its delete", a.Slot())
			assert.Equal(t, models.ActionDelete, prev)
		}
		seen[a.Slot()] = a.Kind
	}
	assert.Len(t, cal.events, 40)
}

func TestApplyStopsOnCancelledContext(t *testing.T) {
	cal := newFakeCalendar()
	s := newTestSyncer(t, &fakeSource{}, cal, Options{}, nil)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, failed, err := s.apply(ctx, discard(), []models.Action{
		models.Create(models.Event{UID: "a", StartTime: at(8, 0), EndTime: at(9, 0)}),
	})
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, 1, failed)
	assert.Empty(t, cal.applied)
}

func TestProgressCountsEveryRecord(t *testing.T) {
	p := newProgress(discard(), 1000, time.Millisecond)

	var wg sync.WaitGroup
	for i := range 1000 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			p.record(i%10 != 0)
		}()
	}
	wg.Wait()

	done, failed := p.finish()
	assert.Equal(t, 1000, done)
	assert.Equal(t, 100, failed)
}
