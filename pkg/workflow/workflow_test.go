package workflow

import (
	"context"
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
	sched := schedule.New(id, 60, 1*time.Second, &schedule.NodeStrategy{TotalCapacity: capacity}, store, newFixedClock(now), zerolog.Nop())
	return component.NewAcI(id, sched, store, rms.NullRMS{}, zerolog.Nop())
}

func newOpenReservation(kind reservation.Kind, name string, duration time.Duration, capacity int64, windowStart, windowEnd time.Time) *reservation.Reservation {
	r := &reservation.Reservation{
		Base: reservation.Base{
			ID:                   reservation.NewID(),
			Name:                 name,
			State:                statemachine.Open,
			TaskDuration:         duration,
			ReservedCapacity:     capacity,
			BookingIntervalStart: windowStart,
			BookingIntervalEnd:   windowEnd,
		},
		Kind: kind,
	}
	if kind == reservation.KindNode {
		r.Node = &reservation.NodeDetail{RouterID: "r0"}
	} else if kind == reservation.KindLink {
		r.Link = &reservation.LinkDetail{}
	}
	return r
}

// Scenario 6: a SyncDependency forces two nodes into one CoAllocation
// group (must share the same window); a DataDependency orders a third
// node after the group's transfer completes.
func TestScenarioSyncAndDataDependencyCoAllocation(t *testing.T) {
	epoch := time.Unix(0, 0)
	store := reservation.NewStore(nil)

	ac := newAcI("aci-a", 10, store, epoch)
	root := component.NewADC("adc-root", zerolog.Nop())
	require.True(t, root.AddChild(ac))

	wfRes := newOpenReservation(reservation.KindWorkflow, "wf", 0, 0, epoch, epoch.Add(1000*time.Second))
	wfRes.Workflow = &reservation.WorkflowDetail{}
	require.NoError(t, store.Add(wfRes))

	nodeA := newOpenReservation(reservation.KindNode, "task-a", 4*time.Second, 2, epoch, epoch.Add(1000*time.Second))
	nodeB := newOpenReservation(reservation.KindNode, "task-b", 4*time.Second, 2, epoch, epoch.Add(1000*time.Second))
	nodeC := newOpenReservation(reservation.KindNode, "task-c", 4*time.Second, 2, epoch, epoch.Add(1000*time.Second))
	require.NoError(t, store.Add(nodeA))
	require.NoError(t, store.Add(nodeB))
	require.NoError(t, store.Add(nodeC))

	syncLink := newOpenReservation(reservation.KindLink, "wf.sync.a.b", 0, 0, epoch, epoch.Add(1000*time.Second))
	dataLink := newOpenReservation(reservation.KindLink, "wf.data.b.c", 0, 0, epoch, epoch.Add(1000*time.Second))
	require.NoError(t, store.Add(syncLink))
	require.NoError(t, store.Add(dataLink))

	wf := New(wfRes.ID, zerolog.Nop())
	wf.AddNode("a", nodeA.ID)
	wf.AddNode("b", nodeB.ID)
	wf.AddNode("c", nodeC.ID)
	require.NoError(t, wf.AddSyncDependency("sync-a-b", "a", "b", syncLink.ID, 10))
	require.NoError(t, wf.AddDataDependency("data-b-c", "b", "c", dataLink.ID, 40))

	sched := NewScheduler(store, zerolog.Nop())
	sched.AvgNetworkSpeed = 10 // 40 bytes / 10 = 4s transfer time

	require.True(t, sched.Schedule(context.Background(), wf, root))

	a := store.Get(nodeA.ID)
	b := store.Get(nodeB.ID)
	c := store.Get(nodeC.ID)

	assert.Equal(t, a.AssignedStart, b.AssignedStart, "co-allocated nodes must share a start time")
	assert.Equal(t, a.AssignedEnd, b.AssignedEnd, "co-allocated nodes must share an end time")
	assert.True(t, !c.AssignedStart.Before(b.AssignedEnd.Add(4*time.Second)),
		"dependent node must not start before the source group's transfer completes")

	require.True(t, sched.Commit(wf, root))
	assert.Equal(t, statemachine.Committed, store.State(wfRes.ID))
}

// Scenario 6 (rollback branch): when a later group in the workflow
// cannot be placed, every subtask already reserved is rolled back.
func TestScheduleRollsBackOnLaterGroupFailure(t *testing.T) {
	epoch := time.Unix(0, 0)
	store := reservation.NewStore(nil)

	ac := newAcI("aci-a", 2, store, epoch)
	root := component.NewADC("adc-root", zerolog.Nop())
	require.True(t, root.AddChild(ac))

	wfRes := newOpenReservation(reservation.KindWorkflow, "wf2", 0, 0, epoch, epoch.Add(1000*time.Second))
	wfRes.Workflow = &reservation.WorkflowDetail{}
	require.NoError(t, store.Add(wfRes))

	nodeA := newOpenReservation(reservation.KindNode, "task-a2", 4*time.Second, 2, epoch, epoch.Add(1000*time.Second))
	nodeB := newOpenReservation(reservation.KindNode, "task-b2", 4*time.Second, 4, epoch, epoch.Add(1000*time.Second))
	require.NoError(t, store.Add(nodeA))
	require.NoError(t, store.Add(nodeB))

	dataLink := newOpenReservation(reservation.KindLink, "wf2.data.a.b", 0, 0, epoch, epoch.Add(1000*time.Second))
	require.NoError(t, store.Add(dataLink))

	wf := New(wfRes.ID, zerolog.Nop())
	wf.AddNode("a", nodeA.ID)
	wf.AddNode("b", nodeB.ID)
	require.NoError(t, wf.AddDataDependency("data-a-b", "a", "b", dataLink.ID, 0))

	sched := NewScheduler(store, zerolog.Nop())

	require.False(t, sched.Schedule(context.Background(), wf, root), "node-b requires more capacity than the AcI has")
	assert.Equal(t, statemachine.Deleted, store.State(nodeA.ID), "already-reserved node must be rolled back")
}
