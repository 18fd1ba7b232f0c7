package reservation

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cuemby/vrm/pkg/statemachine"
)

func newTestReservation(name, client string) *Reservation {
	return &Reservation{
		Base: Base{
			ID:               NewID(),
			Name:             name,
			ClientID:         client,
			State:            statemachine.Open,
			TaskDuration:     time.Minute,
			ReservedCapacity: 4,
			IsMoldable:       true,
			MoldableWork:     4 * int64(time.Minute),
		},
		Kind: KindNode,
		Node: &NodeDetail{RouterID: "r0"},
	}
}

func TestStoreAddAndGet(t *testing.T) {
	s := NewStore(nil)
	r := newTestReservation("job-1", "client-a")

	require.NoError(t, s.Add(r))

	got := s.Get(r.ID)
	require.NotNil(t, got)
	assert.Equal(t, "job-1", got.Name)

	byName := s.GetByName("job-1")
	require.NotNil(t, byName)
	assert.Equal(t, r.ID, byName.ID)
}

func TestStoreRejectsDuplicateName(t *testing.T) {
	s := NewStore(nil)
	require.NoError(t, s.Add(newTestReservation("dup", "client-a")))

	err := s.Add(newTestReservation("dup", "client-b"))
	assert.Error(t, err)
}

func TestStoreClientIndex(t *testing.T) {
	s := NewStore(nil)
	r1 := newTestReservation("a", "client-a")
	r2 := newTestReservation("b", "client-a")
	r3 := newTestReservation("c", "client-b")

	require.NoError(t, s.Add(r1))
	require.NoError(t, s.Add(r2))
	require.NoError(t, s.Add(r3))

	ids := s.ClientReservations("client-a")
	assert.ElementsMatch(t, []ID{r1.ID, r2.ID}, ids)
}

type recordingListener struct {
	calls []statemachine.State
}

func (l *recordingListener) OnReservationChange(_ ID, newState statemachine.State) {
	l.calls = append(l.calls, newState)
}

func TestStoreUpdateStateNotifiesAfterUnlock(t *testing.T) {
	listener := &recordingListener{}
	s := NewStore(listener)
	r := newTestReservation("job", "client-a")
	require.NoError(t, s.Add(r))

	s.UpdateState(r.ID, statemachine.ReserveAnswer)

	assert.Equal(t, []statemachine.State{statemachine.ReserveAnswer}, listener.calls)
	assert.Equal(t, statemachine.ReserveAnswer, s.State(r.ID))
}

func TestStoreSnapshotIsIndependent(t *testing.T) {
	s := NewStore(nil)
	r := newTestReservation("job", "client-a")
	require.NoError(t, s.Add(r))

	snap := s.Snapshot()
	snap.UpdateState(r.ID, statemachine.Committed)

	assert.Equal(t, statemachine.Open, s.State(r.ID))
	assert.Equal(t, statemachine.Committed, snap.State(r.ID))
}

func TestAdjustCapacityMoldable(t *testing.T) {
	r := newTestReservation("job", "client-a")
	r.MoldableWork = 600
	r.ReservedCapacity = 2
	r.TaskDuration = 300

	ok := r.AdjustCapacity(4)
	require.True(t, ok)
	assert.Equal(t, int64(4), r.ReservedCapacity)
	assert.Equal(t, time.Duration(150), r.TaskDuration)
}

func TestAdjustCapacityNonMoldableRejectsChange(t *testing.T) {
	r := newTestReservation("job", "client-a")
	r.IsMoldable = false
	r.ReservedCapacity = 4

	ok := r.AdjustCapacity(2)
	assert.False(t, ok)
	assert.Equal(t, int64(4), r.ReservedCapacity)
}

func TestAdjustCapacityZeroFallsBackToOne(t *testing.T) {
	r := newTestReservation("job", "client-a")
	r.MoldableWork = 600
	r.ReservedCapacity = 2

	ok := r.AdjustCapacity(0)
	require.True(t, ok)
	assert.Equal(t, int64(1), r.ReservedCapacity)
	assert.Equal(t, time.Duration(600), r.TaskDuration)
}
