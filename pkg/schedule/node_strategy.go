package schedule

import "github.com/cuemby/vrm/pkg/reservation"

// NodeStrategy is the Strategy used by AcIs whose RMS reserves flat CPU
// (or equivalent) capacity: each slot simply subtracts reserved load
// from a fixed total.
type NodeStrategy struct {
	TotalCapacity int64
}

func (n *NodeStrategy) Capacity() int64 { return n.TotalCapacity }

func (n *NodeStrategy) AdjustRequirementToSlotCapacity(s *SlottedSchedule, slotIndex int64, requirement int64, _ reservation.ID) int64 {
	slot := s.getSlot(slotIndex)
	if slot == nil {
		return 0
	}
	available := n.TotalCapacity - slot.Load
	if available < 0 {
		available = 0
	}
	if available > requirement {
		return requirement
	}
	return available
}

func (n *NodeStrategy) InsertReservation(s *SlottedSchedule, requirement int64, slotIndex int64, id reservation.ID) {
	slot := s.getSlot(slotIndex)
	if slot == nil {
		s.Log.Error().Int64("slot", slotIndex).Msg("insert reservation into slot failed, slot out of window")
		return
	}
	slot.Insert(id, requirement)
}

func (n *NodeStrategy) OnDeleteReservation(s *SlottedSchedule, id reservation.ID) bool {
	r := s.Store.Get(id)
	if r == nil {
		return false
	}

	startIdx := s.SlotIndex(r.AssignedStart)
	if startIdx < s.StartSlotIndex {
		startIdx = s.StartSlotIndex
	}
	endIdx := s.SlotIndex(r.AssignedEnd)

	ok := true
	for idx := startIdx; idx <= endIdx; idx++ {
		slot := s.getSlot(idx)
		if slot == nil {
			ok = false
			continue
		}
		if !slot.Delete(id, r.ReservedCapacity) {
			ok = false
		}
	}
	return ok
}

func (n *NodeStrategy) OnClear(_ *SlottedSchedule) {}
