package component

import (
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cuemby/vrm/pkg/reservation"
	"github.com/cuemby/vrm/pkg/rms"
	"github.com/cuemby/vrm/pkg/schedule"
	"github.com/cuemby/vrm/pkg/statemachine"
)

func newFixedClock(t time.Time) func() time.Time {
	return func() time.Time { return t }
}

func newAcI(t *testing.T, id string, capacity int64, store *reservation.Store, now time.Time) *AcI {
	t.Helper()
	sched := schedule.New(id, 20, 60*time.Second, &schedule.NodeStrategy{TotalCapacity: capacity}, store, newFixedClock(now), zerolog.Nop())
	return NewAcI(id, sched, store, rms.NullRMS{}, zerolog.Nop())
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

// Scenario 3: EFT ordering across children. Child A is busy until
// t=30, child B is empty; a rigid request routed through the ADC by
// EFTComparator must land on B, finishing at t=20.
func TestScenarioEFTRoutingAcrossChildren(t *testing.T) {
	epoch := time.Unix(0, 0)
	store := reservation.NewStore(nil)

	acA := newAcI(t, "aci-a", 4, store, epoch)
	acB := newAcI(t, "aci-b", 4, store, epoch)

	busy := newNodeReservation("busy-on-a", 30*time.Second, 4, epoch, epoch.Add(100*time.Second))
	require.NoError(t, store.Add(busy))
	require.True(t, acA.Reserve(busy.ID, "client-a", time.Time{}, time.Time{}))
	require.True(t, acA.Commit(busy.ID))

	adc := NewADC("adc-root", zerolog.Nop())
	require.True(t, adc.AddChild(acA))
	require.True(t, adc.AddChild(acB))

	req := newNodeReservation("routed", 20*time.Second, 4, epoch, epoch.Add(100*time.Second))
	require.NoError(t, store.Add(req))

	require.True(t, adc.Reserve(req.ID, "client-r", time.Time{}, time.Time{}))

	routed := store.Get(req.ID)
	require.NotNil(t, routed)
	assert.Equal(t, epoch, routed.AssignedStart)
	assert.Equal(t, epoch.Add(20*time.Second), routed.AssignedEnd)

	child, ok := adc.componentFor(req.ID)
	require.True(t, ok)
	assert.Equal(t, "aci-b", child.ID())
}

func TestADCCommitDelegatesToHandlingChild(t *testing.T) {
	epoch := time.Unix(0, 0)
	store := reservation.NewStore(nil)

	acA := newAcI(t, "aci-a", 4, store, epoch)
	adc := NewADC("adc-root", zerolog.Nop())
	require.True(t, adc.AddChild(acA))

	r := newNodeReservation("job", 10*time.Second, 2, epoch, epoch.Add(100*time.Second))
	require.NoError(t, store.Add(r))

	require.True(t, adc.Reserve(r.ID, "client", time.Time{}, time.Time{}))
	require.True(t, adc.Commit(r.ID))

	assert.Equal(t, statemachine.Committed, store.State(r.ID))
}

func TestADCShadowCreateCommitPromotesAllChildren(t *testing.T) {
	epoch := time.Unix(0, 0)
	store := reservation.NewStore(nil)

	acA := newAcI(t, "aci-a", 4, store, epoch)
	acB := newAcI(t, "aci-b", 4, store, epoch)
	adc := NewADC("adc-root", zerolog.Nop())
	require.True(t, adc.AddChild(acA))
	require.True(t, adc.AddChild(acB))

	shadowID := reservation.NewShadowID()
	shadowStore := store.Snapshot()

	require.True(t, adc.CreateShadow(shadowID, shadowStore))
	require.True(t, adc.CommitShadow(shadowID))
}

// ReserveAtFirst (reserve_task_at_first) walks children in the
// configured ChildOrder and stops at the first one that accepts,
// rather than comparing every child's best candidate the way Reserve
// (reserve_task_at_best) does.
func TestADCReserveAtFirstWalksConfiguredOrder(t *testing.T) {
	epoch := time.Unix(0, 0)

	t.Run("registration order skips a child that can't fit", func(t *testing.T) {
		store := reservation.NewStore(nil)
		acA := newAcI(t, "aci-a", 2, store, epoch)
		acB := newAcI(t, "aci-b", 4, store, epoch)

		adc := NewADC("adc-root", zerolog.Nop())
		require.True(t, adc.AddChild(acA))
		require.True(t, adc.AddChild(acB))
		adc.SetChildOrder(RegistrationOrder)

		req := newNodeReservation("routed", 10*time.Second, 4, epoch, epoch.Add(100*time.Second))
		require.NoError(t, store.Add(req))

		require.True(t, adc.ReserveAtFirst(req.ID, "client-r", time.Time{}, time.Time{}))

		child, ok := adc.componentFor(req.ID)
		require.True(t, ok)
		assert.Equal(t, "aci-b", child.ID(), "aci-a can't host a 4-capacity request, first-fit must fall through to aci-b")
	})

	t.Run("size-descending order lands on the larger child first", func(t *testing.T) {
		store := reservation.NewStore(nil)
		acA := newAcI(t, "aci-a", 4, store, epoch)
		acB := newAcI(t, "aci-b", 8, store, epoch)

		adc := NewADC("adc-root", zerolog.Nop())
		require.True(t, adc.AddChild(acA))
		require.True(t, adc.AddChild(acB))
		adc.SetChildOrder(SizeDescending)

		req := newNodeReservation("routed", 10*time.Second, 4, epoch, epoch.Add(100*time.Second))
		require.NoError(t, store.Add(req))

		require.True(t, adc.ReserveAtFirst(req.ID, "client-r", time.Time{}, time.Time{}))

		child, ok := adc.componentFor(req.ID)
		require.True(t, ok)
		assert.Equal(t, "aci-b", child.ID(), "size-descending order must try the larger child (aci-b) first")
	})
}

func TestADCSatisfactionIsCapacityWeighted(t *testing.T) {
	epoch := time.Unix(0, 0)
	store := reservation.NewStore(nil)

	acA := newAcI(t, "aci-a", 10, store, epoch)
	acB := newAcI(t, "aci-b", 2, store, epoch)
	adc := NewADC("adc-root", zerolog.Nop())
	require.True(t, adc.AddChild(acA))
	require.True(t, adc.AddChild(acB))

	assert.InDelta(t, 1.0, adc.Satisfaction(), 0.0001, "empty schedules should be fully satisfied")
	assert.Equal(t, int64(12), adc.TotalCapacity())
}
