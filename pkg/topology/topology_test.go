package topology

import (
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cuemby/vrm/pkg/reservation"
	"github.com/cuemby/vrm/pkg/schedule"
	"github.com/cuemby/vrm/pkg/statemachine"
)

func threeRouterTopology() *Topology {
	links := []Link{
		{ID: "l-1-2", Source: "r1", Target: "r2", Capacity: 10},
		{ID: "l-1-3", Source: "r1", Target: "r3", Capacity: 10},
		{ID: "l-3-2", Source: "r3", Target: "r2", Capacity: 10},
	}
	return New(links, []string{"r1", "r2", "r3"}, zerolog.Nop())
}

func TestKShortestPathsFindsBothRoutes(t *testing.T) {
	topo := threeRouterTopology()
	paths := topo.Paths("r1", "r2")
	require.Len(t, paths, 2)

	var lengths []int
	for _, p := range paths {
		lengths = append(lengths, len(p.Links))
	}
	assert.Contains(t, lengths, 1)
	assert.Contains(t, lengths, 2)
}

func linkReservation(name, source, target string, capacity int64) *reservation.Reservation {
	return &reservation.Reservation{
		Base: reservation.Base{
			ID:                   reservation.NewID(),
			Name:                 name,
			State:                statemachine.Open,
			TaskDuration:         60 * time.Second,
			ReservedCapacity:     capacity,
			BookingIntervalStart: time.Unix(0, 0),
			BookingIntervalEnd:   time.Unix(0, 0).Add(600 * time.Second),
		},
		Kind: reservation.KindLink,
		Link: &reservation.LinkDetail{SourceRouterID: source, TargetRouterID: target},
	}
}

// Scenario 4: K-path bandwidth.
func TestScenarioKPathBandwidth(t *testing.T) {
	epoch := time.Unix(0, 0)
	topo := threeRouterTopology()
	strategy := NewLinkStrategy(topo)
	store := reservation.NewStore(nil)

	s := schedule.New("link-schedule", 10, 60*time.Second, strategy, store, func() time.Time { return epoch }, zerolog.Nop())

	r1 := linkReservation("r1-to-r2-first", "r1", "r2", 10)
	require.NoError(t, store.Add(r1))
	candidates := s.CalculateSchedule(r1.ID)
	require.NotEmpty(t, candidates)
	require.True(t, s.Reserve(r1.ID, candidates[0].Reservation.AssignedStart, candidates[0].Reservation.AssignedEnd, candidates[0].Reservation.ReservedCapacity))

	got1 := store.Get(r1.ID)
	require.NotNil(t, got1.Link)
	assert.Equal(t, []string{"l-1-2"}, got1.Link.BookedPath)

	r2 := linkReservation("r1-to-r2-second", "r1", "r2", 10)
	require.NoError(t, store.Add(r2))
	candidates = s.CalculateSchedule(r2.ID)
	require.NotEmpty(t, candidates)
	require.True(t, s.Reserve(r2.ID, candidates[0].Reservation.AssignedStart, candidates[0].Reservation.AssignedEnd, candidates[0].Reservation.ReservedCapacity))

	got2 := store.Get(r2.ID)
	require.NotNil(t, got2.Link)
	assert.Equal(t, []string{"l-1-3", "l-3-2"}, got2.Link.BookedPath)
}

func TestLinkStrategyCloneIsIndependent(t *testing.T) {
	topo := threeRouterTopology()
	strategy := NewLinkStrategy(topo)
	store := reservation.NewStore(nil)
	epoch := time.Unix(0, 0)

	s := schedule.New("link-schedule", 10, 60*time.Second, strategy, store, func() time.Time { return epoch }, zerolog.Nop())

	r := linkReservation("r1-to-r2", "r1", "r2", 10)
	require.NoError(t, store.Add(r))
	candidates := s.CalculateSchedule(r.ID)
	require.NotEmpty(t, candidates)
	require.True(t, s.Reserve(r.ID, candidates[0].Reservation.AssignedStart, candidates[0].Reservation.AssignedEnd, candidates[0].Reservation.ReservedCapacity))

	clone := strategy.Clone()
	require.True(t, clone.OnDeleteReservation(s, r.ID))

	assert.Equal(t, int64(10), strategy.bookedLoad("l-1-2", s.SlotIndex(epoch)), "deleting on the cloned strategy must not affect the original bookings")
}
