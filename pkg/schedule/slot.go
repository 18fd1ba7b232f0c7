// Package schedule implements the slotted schedule: a ring buffer of
// fixed-width time slots tracking reserved capacity, used by both node
// strategy (flat capacity subtraction) and link strategy (capacity
// delegated to the topology engine) AcIs.
package schedule

import "github.com/cuemby/vrm/pkg/reservation"

// Slot is one fixed-width time bucket in the schedule ring. Load is the
// capacity currently reserved by Occupants; Strategy implementations
// interpret Load against either raw node capacity or, for links, the
// bottleneck bandwidth of a booked path.
type Slot struct {
	Load      int64
	Occupants map[reservation.ID]struct{}
}

func newSlot() Slot {
	return Slot{Occupants: make(map[reservation.ID]struct{})}
}

// Reset clears a slot back to empty, used when the window advances past
// it and it is about to be reused for a future virtual index.
func (s *Slot) Reset() {
	s.Load = 0
	s.Occupants = make(map[reservation.ID]struct{})
}

// Insert books capacity for id in this slot.
func (s *Slot) Insert(id reservation.ID, capacity int64) {
	s.Occupants[id] = struct{}{}
	s.Load += capacity
}

// Delete releases capacity for id from this slot. It reports whether id
// was actually present, mirroring the original's delete-reports-success
// semantics used to detect inconsistent bookkeeping.
func (s *Slot) Delete(id reservation.ID, capacity int64) bool {
	if _, ok := s.Occupants[id]; !ok {
		return false
	}
	delete(s.Occupants, id)
	s.Load -= capacity
	if s.Load < 0 {
		s.Load = 0
	}
	return true
}
