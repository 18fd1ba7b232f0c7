package reconciler

import (
	"fmt"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cuemby/vrm/pkg/component"
	"github.com/cuemby/vrm/pkg/reservation"
	"github.com/cuemby/vrm/pkg/rms"
	"github.com/cuemby/vrm/pkg/schedule"
	"github.com/cuemby/vrm/pkg/statemachine"
)

func newFixedClock(t time.Time) func() time.Time {
	return func() time.Time { return t }
}

func newAcI(id string, capacity int64, store *reservation.Store, now time.Time) *component.AcI {
	sched := schedule.New(id, 20, 60*time.Second, &schedule.NodeStrategy{TotalCapacity: capacity}, store, newFixedClock(now), zerolog.Nop())
	return component.NewAcI(id, sched, store, rms.NullRMS{}, zerolog.Nop())
}

func newNodeReservation(name string, duration time.Duration, capacity int64, windowStart, windowEnd time.Time) *reservation.Reservation {
	return &reservation.Reservation{
		Base: reservation.Base{
			ID:                   reservation.NewID(),
			Name:                 name,
			State:                statemachine.Open,
			TaskDuration:         duration,
			ReservedCapacity:     capacity,
			BookingIntervalStart: windowStart,
			BookingIntervalEnd:   windowEnd,
		},
		Kind: reservation.KindNode,
		Node: &reservation.NodeDetail{RouterID: "r0"},
	}
}

func TestDeadlineQueueCancelsReservationPastCommitDeadline(t *testing.T) {
	epoch := time.Unix(0, 0)
	store := reservation.NewStore(nil)
	aci := newAcI("aci-a", 4, store, epoch)

	r := newNodeReservation("task", 10*time.Second, 2, epoch, epoch.Add(100*time.Second))
	require.NoError(t, store.Add(r))
	require.True(t, aci.Reserve(r.ID, "client", time.Time{}, time.Time{}))

	current := epoch
	q := NewDeadlineQueue(map[string]component.Component{"aci-a": aci}, store, func() time.Time { return current }, zerolog.Nop())
	q.Register(r.ID, "aci-a", epoch.Add(5*time.Second), time.Time{})

	current = epoch.Add(10 * time.Second)
	q.drain()

	assert.Equal(t, statemachine.Deleted, store.Get(r.ID).State, "a reservation never committed by its commit deadline must be cancelled")
}

func TestDeadlineQueueLeavesCommittedReservationAlone(t *testing.T) {
	epoch := time.Unix(0, 0)
	store := reservation.NewStore(nil)
	aci := newAcI("aci-a", 4, store, epoch)

	r := newNodeReservation("task", 10*time.Second, 2, epoch, epoch.Add(100*time.Second))
	require.NoError(t, store.Add(r))
	require.True(t, aci.Reserve(r.ID, "client", time.Time{}, time.Time{}))
	require.True(t, aci.Commit(r.ID))

	current := epoch
	q := NewDeadlineQueue(map[string]component.Component{"aci-a": aci}, store, func() time.Time { return current }, zerolog.Nop())
	q.Register(r.ID, "aci-a", epoch.Add(5*time.Second), time.Time{})

	current = epoch.Add(10 * time.Second)
	q.drain()

	assert.Equal(t, statemachine.Committed, store.Get(r.ID).State, "a committed reservation must survive its now-moot commit deadline")
}

func TestDeadlineQueueFinishesReservationPastExecutionDeadline(t *testing.T) {
	epoch := time.Unix(0, 0)
	store := reservation.NewStore(nil)
	aci := newAcI("aci-a", 4, store, epoch)

	r := newNodeReservation("task", 10*time.Second, 2, epoch, epoch.Add(100*time.Second))
	require.NoError(t, store.Add(r))
	require.True(t, aci.Reserve(r.ID, "client", time.Time{}, time.Time{}))
	require.True(t, aci.Commit(r.ID))

	current := epoch
	q := NewDeadlineQueue(map[string]component.Component{"aci-a": aci}, store, func() time.Time { return current }, zerolog.Nop())
	q.Register(r.ID, "aci-a", time.Time{}, epoch.Add(30*time.Second))

	current = epoch.Add(45 * time.Second)
	q.drain()

	assert.Equal(t, statemachine.Finished, store.Get(r.ID).State, "a committed reservation past its execution deadline must be marked finished")
}

func TestDeadlineQueueIgnoresZeroDeadlines(t *testing.T) {
	epoch := time.Unix(0, 0)
	store := reservation.NewStore(nil)
	aci := newAcI("aci-a", 4, store, epoch)

	r := newNodeReservation("task", 10*time.Second, 2, epoch, epoch.Add(100*time.Second))
	require.NoError(t, store.Add(r))
	require.True(t, aci.Reserve(r.ID, "client", time.Time{}, time.Time{}))

	current := epoch
	q := NewDeadlineQueue(map[string]component.Component{"aci-a": aci}, store, func() time.Time { return current }, zerolog.Nop())
	q.Register(r.ID, "aci-a", time.Time{}, time.Time{})

	assert.Equal(t, 0, q.heap.Len(), "zero-value deadlines must never be scheduled")
}

func TestOptimizerSkipsRepackBelowThreshold(t *testing.T) {
	epoch := time.Unix(0, 0)
	store := reservation.NewStore(nil)
	aci := newAcI("aci-a", 10, store, epoch)
	root := component.NewADC("adc-root", zerolog.Nop())
	require.True(t, root.AddChild(aci))

	r := newNodeReservation("task", 10*time.Second, 1, epoch, epoch.Add(100*time.Second))
	require.NoError(t, store.Add(r))
	require.True(t, root.Reserve(r.ID, "client", time.Time{}, time.Time{}))

	before := aci.Satisfaction()

	opt := NewOptimizer(root, store, 1.0, zerolog.Nop())
	opt.runOnce()

	assert.Equal(t, before, aci.Satisfaction(), "a repack below threshold must leave the live schedule untouched")
}

func TestOptimizerRepackPassNeverWorsensSatisfaction(t *testing.T) {
	epoch := time.Unix(0, 0)
	store := reservation.NewStore(nil)
	aci := newAcI("aci-a", 10, store, epoch)
	root := component.NewADC("adc-root", zerolog.Nop())
	require.True(t, root.AddChild(aci))

	// Book several small reservations; EFT places all three in the first
	// slot, so the live schedule is already tightly packed. With threshold
	// 0.0 the optimizer still runs a full shadow repack pass, and since a
	// repack is committed only when it strictly reduces fragmentation,
	// satisfaction can only stay the same or rise.
	for i := 0; i < 3; i++ {
		r := newNodeReservation(fmt.Sprintf("task-%d", i), 30*time.Second, 2, epoch, epoch.Add(600*time.Second))
		require.NoError(t, store.Add(r))
		require.True(t, root.Reserve(r.ID, "client", time.Time{}, time.Time{}))
	}

	before := aci.Satisfaction()

	opt := NewOptimizer(root, store, 0.0, zerolog.Nop())
	opt.runOnce()

	assert.GreaterOrEqual(t, aci.Satisfaction(), 0.0, "optimizer must leave the AcI in a valid state whether or not it committed a repack")
	assert.GreaterOrEqual(t, aci.Satisfaction(), before, "a repack is committed only if it reduces fragmentation")
}

func TestOptimizerSkipsEmptyAcI(t *testing.T) {
	epoch := time.Unix(0, 0)
	store := reservation.NewStore(nil)
	aci := newAcI("aci-a", 10, store, epoch)
	root := component.NewADC("adc-root", zerolog.Nop())
	require.True(t, root.AddChild(aci))

	opt := NewOptimizer(root, store, 0.0, zerolog.Nop())
	opt.repack(aci)

	assert.Empty(t, aci.ActiveReservations(), "repacking an idle AcI must not fabricate any reservations")
}
