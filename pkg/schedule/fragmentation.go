package schedule

import (
	"math"
	"math/rand"

	"github.com/cuemby/vrm/pkg/reservation"
)

const fragmentationPower = 2.0

// Fragmentation computes the quadratic-mean fragmentation index over
// [startSlot, endSlot]: for every free-capacity level it tracks
// contiguous free-block runs, accumulates their squared lengths, and
// reports 1.0 minus the mean of (sum-of-squares / sum^2) across levels.
// 0.0 is least fragmented, 1.0 is most fragmented; a range where no
// free capacity at all was observed also reports 0.0.
func (s *SlottedSchedule) Fragmentation(startSlot, endSlot int64) float64 {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.fragCacheValid {
		return s.fragCache
	}

	capacity := s.Strategy.Capacity()
	quadSum := make([]float64, capacity+1)
	sum := make([]float64, capacity+1)
	currentRun := make([]int64, capacity+1)

	for idx := startSlot; idx <= endSlot; idx++ {
		slot := s.getSlot(idx)
		var load int64
		if slot != nil {
			load = slot.Load
		}
		free := capacity - load

		for c := int64(1); c <= free; c++ {
			currentRun[c]++
		}
		for c := free + 1; c <= capacity; c++ {
			if currentRun[c] > 0 {
				quadSum[c] += math.Pow(float64(currentRun[c]), fragmentationPower)
				sum[c] += float64(currentRun[c])
				currentRun[c] = 0
			}
		}
	}

	for c := int64(1); c <= capacity; c++ {
		if currentRun[c] > 0 {
			quadSum[c] += math.Pow(float64(currentRun[c]), fragmentationPower)
			sum[c] += float64(currentRun[c])
			currentRun[c] = 0
		}
	}

	var blockFragmentation []float64
	for c := int64(1); c <= capacity; c++ {
		if sum[c] > 0 {
			blockFragmentation = append(blockFragmentation, quadSum[c]/math.Pow(sum[c], fragmentationPower))
		}
	}

	if len(blockFragmentation) == 0 {
		s.fragCache = 0.0
		s.fragCacheValid = true
		return 0.0
	}

	var total float64
	for _, f := range blockFragmentation {
		total += f
	}
	result := 1.0 - total/float64(len(blockFragmentation))

	s.fragCache = result
	s.fragCacheValid = true
	return result
}

// ResubmitFragmentation estimates fragmentation by simulating eviction
// and re-reservation of active occupants on a cloned schedule, counting
// how much reserved capacity could not be re-placed.
//
// The accumulator sums only the rejected reservation's capacity per
// failed resubmission attempt, not capacity times duration; the source
// this is ported from states the rule both ways in different branches.
// We take the capacity-only reading since that is the one stated
// without qualification.
func (s *SlottedSchedule) ResubmitFragmentation(startSlot, endSlot int64) float64 {
	s.mu.Lock()
	capacity := s.Strategy.Capacity()

	var freeCapacityInRange int64
	var rangeInUse bool
	for idx := startSlot; idx <= endSlot; idx++ {
		slot := s.getSlot(idx)
		var load int64
		if slot != nil {
			load = slot.Load
		}
		freeCapacityInRange += capacity - load
		if load > 0 {
			rangeInUse = true
		}
	}

	if len(s.active) == 0 || !rangeInUse {
		s.mu.Unlock()
		return 0.0
	}

	type occupant struct {
		id  reservation.ID
		cap int64
	}
	ids := make([]occupant, 0, len(s.active))
	for id, cap := range s.active {
		ids = append(ids, occupant{id, cap})
	}
	s.mu.Unlock()

	remainingCapacity := freeCapacityInRange * int64(s.SlotWidth)
	var rejectedCapacity int64

	for remainingCapacity > 0 && len(ids) > 0 {
		pick := ids[rand.Intn(len(ids))]

		r := s.Store.Get(pick.id)
		if r == nil {
			remainingCapacity -= pick.cap
			continue
		}

		candidates := s.CalculateSchedule(r.ID)
		if len(candidates) == 0 {
			rejectedCapacity += pick.cap
		}
		remainingCapacity -= pick.cap
	}

	if freeCapacityInRange == 0 {
		return 0.0
	}
	return float64(rejectedCapacity) / float64(freeCapacityInRange*int64(s.SlotWidth))
}
