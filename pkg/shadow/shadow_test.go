package shadow

import (
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

func TestBeginCommitPromotesShadowAcrossTree(t *testing.T) {
	epoch := time.Unix(0, 0)
	store := reservation.NewStore(nil)

	acA := newAcI("aci-a", 4, store, epoch)
	acB := newAcI("aci-b", 4, store, epoch)
	root := component.NewADC("adc-root", zerolog.Nop())
	require.True(t, root.AddChild(acA))
	require.True(t, root.AddChild(acB))

	mgr := NewManager(root, store, zerolog.Nop())

	shadowID, ok := mgr.Begin()
	require.True(t, ok)

	require.True(t, mgr.Commit(shadowID))
}

func TestRollbackDiscardsShadowWithoutTouchingLive(t *testing.T) {
	epoch := time.Unix(0, 0)
	store := reservation.NewStore(nil)

	acA := newAcI("aci-a", 4, store, epoch)
	root := component.NewADC("adc-root", zerolog.Nop())
	require.True(t, root.AddChild(acA))

	mgr := NewManager(root, store, zerolog.Nop())

	shadowID, ok := mgr.Begin()
	require.True(t, ok)

	mgr.Rollback(shadowID)

	r := newNodeReservation("after-rollback", 10*time.Second, 2, epoch, epoch.Add(100*time.Second))
	require.NoError(t, store.Add(r))
	assert.True(t, acA.Reserve(r.ID, "client", time.Time{}, time.Time{}), "live schedule must be untouched after rollback")
}

func TestCreateShadowRejectsDuplicateID(t *testing.T) {
	epoch := time.Unix(0, 0)
	store := reservation.NewStore(nil)

	acA := newAcI("aci-a", 4, store, epoch)
	root := component.NewADC("adc-root", zerolog.Nop())
	require.True(t, root.AddChild(acA))

	mgr := NewManager(root, store, zerolog.Nop())

	shadowID, ok := mgr.Begin()
	require.True(t, ok)

	shadowStore := store.Snapshot()
	assert.False(t, acA.CreateShadow(shadowID, shadowStore), "re-using a live shadow id on a component must fail")
}
