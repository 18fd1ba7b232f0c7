package topology

import (
	"sync"

	"github.com/cuemby/vrm/pkg/reservation"
	"github.com/cuemby/vrm/pkg/schedule"
)

// LinkStrategy is the schedule.Strategy used by network AcIs: slot
// capacity is not a flat number but a bottleneck-bandwidth search
// across the topology's cached K-shortest paths between a link
// reservation's source and target router.
type LinkStrategy struct {
	Topology *Topology

	mu sync.Mutex

	// booked tracks, per link id, per slot index, how much bandwidth is
	// currently committed - the link-level equivalent of schedule.Slot.
	booked map[string]map[int64]int64

	// reservedPaths remembers which path a reservation booked at each
	// slot index, so OnDeleteReservation can release exactly what
	// InsertReservation committed.
	reservedPaths map[reservation.ID]map[int64]Path
}

// NewLinkStrategy builds a LinkStrategy over topology t.
func NewLinkStrategy(t *Topology) *LinkStrategy {
	return &LinkStrategy{
		Topology:      t,
		booked:        make(map[string]map[int64]int64),
		reservedPaths: make(map[reservation.ID]map[int64]Path),
	}
}

func (l *LinkStrategy) Capacity() int64 {
	return l.Topology.MaxBandwidthAllPaths()
}

func (l *LinkStrategy) bookedLoad(linkID string, slotIndex int64) int64 {
	slots, ok := l.booked[linkID]
	if !ok {
		return 0
	}
	return slots[slotIndex]
}

func (l *LinkStrategy) pathAvailableCapacity(p Path, slotIndex int64) int64 {
	var bottleneck int64 = -1
	for _, linkID := range p.Links {
		link, ok := l.Topology.Links[linkID]
		if !ok {
			return 0
		}
		available := link.Capacity - l.bookedLoad(linkID, slotIndex)
		if available < 0 {
			available = 0
		}
		if bottleneck < 0 || available < bottleneck {
			bottleneck = available
		}
	}
	if bottleneck < 0 {
		return 0
	}
	return bottleneck
}

// AdjustRequirementToSlotCapacity returns requirement if some cached
// path between the reservation's endpoints can carry it in full at
// slotIndex, else the largest partial bottleneck any path can offer.
func (l *LinkStrategy) AdjustRequirementToSlotCapacity(s *schedule.SlottedSchedule, slotIndex int64, requirement int64, id reservation.ID) int64 {
	r := s.Store.Get(id)
	if r == nil || r.Link == nil {
		return 0
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	paths := l.Topology.Paths(r.Link.SourceRouterID, r.Link.TargetRouterID)
	var best int64
	for _, p := range paths {
		avail := l.pathAvailableCapacity(p, slotIndex)
		if avail >= requirement {
			return requirement
		}
		if avail > best {
			best = avail
		}
	}
	return best
}

// InsertReservation books requirement on the first cached path between
// the reservation's endpoints that has enough spare capacity at
// slotIndex, recording the chosen path so OnDeleteReservation can
// release it later.
func (l *LinkStrategy) InsertReservation(s *schedule.SlottedSchedule, requirement int64, slotIndex int64, id reservation.ID) {
	r := s.Store.Get(id)
	if r == nil || r.Link == nil {
		return
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	paths := l.Topology.Paths(r.Link.SourceRouterID, r.Link.TargetRouterID)
	for _, p := range paths {
		if l.pathAvailableCapacity(p, slotIndex) < requirement {
			continue
		}
		for _, linkID := range p.Links {
			if l.booked[linkID] == nil {
				l.booked[linkID] = make(map[int64]int64)
			}
			l.booked[linkID][slotIndex] += requirement
		}
		if l.reservedPaths[id] == nil {
			l.reservedPaths[id] = make(map[int64]Path)
		}
		l.reservedPaths[id][slotIndex] = p

		s.Store.Mutate(id, func(mr *reservation.Reservation) {
			mr.Link.BookedPath = append([]string(nil), p.Links...)
		})
		return
	}

	s.Log.Error().Str("reservation", string(id)).Int64("slot", slotIndex).Msg("no cached path had enough capacity at insert time")
}

// OnDeleteReservation releases every slot's booked path for id.
func (l *LinkStrategy) OnDeleteReservation(s *schedule.SlottedSchedule, id reservation.ID) bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	slots, ok := l.reservedPaths[id]
	if !ok {
		return false
	}

	for slotIndex, p := range slots {
		for _, linkID := range p.Links {
			if l.booked[linkID] == nil {
				continue
			}
			l.booked[linkID][slotIndex] -= requirementFor(s, id)
			if l.booked[linkID][slotIndex] < 0 {
				l.booked[linkID][slotIndex] = 0
			}
		}
	}
	delete(l.reservedPaths, id)
	return true
}

func requirementFor(s *schedule.SlottedSchedule, id reservation.ID) int64 {
	r := s.Store.Get(id)
	if r == nil {
		return 0
	}
	return r.ReservedCapacity
}

// OnClear forgets every booking, used on shadow rollback/teardown.
func (l *LinkStrategy) OnClear(_ *schedule.SlottedSchedule) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.booked = make(map[string]map[int64]int64)
	l.reservedPaths = make(map[reservation.ID]map[int64]Path)
}

// Clone deep-copies the strategy's booking state for shadow-schedule
// use; the Topology itself (routers, links, path cache) is read-only
// and shared.
func (l *LinkStrategy) Clone() *LinkStrategy {
	l.mu.Lock()
	defer l.mu.Unlock()

	booked := make(map[string]map[int64]int64, len(l.booked))
	for linkID, slots := range l.booked {
		copySlots := make(map[int64]int64, len(slots))
		for idx, v := range slots {
			copySlots[idx] = v
		}
		booked[linkID] = copySlots
	}

	reservedPaths := make(map[reservation.ID]map[int64]Path, len(l.reservedPaths))
	for id, slots := range l.reservedPaths {
		copySlots := make(map[int64]Path, len(slots))
		for idx, p := range slots {
			copySlots[idx] = Path{Links: append([]string(nil), p.Links...)}
		}
		reservedPaths[id] = copySlots
	}

	return &LinkStrategy{
		Topology:      l.Topology,
		booked:        booked,
		reservedPaths: reservedPaths,
	}
}
