// Package schedule implements the slotted feasibility search every AcI
// books reservations against: a fixed-width time-slot grid, strategy-
// specific per-slot capacity (pkg/topology's LinkStrategy plugs into
// the same SlottedSchedule), and the fragmentation/load metrics the
// reconciler's optimiser reads back.
package schedule

import (
	"fmt"
	"math"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/cuemby/vrm/pkg/reservation"
	"github.com/cuemby/vrm/pkg/statemachine"
)

// Strategy supplies the resource-specific half of slot-capacity
// accounting. NodeStrategy (this package) does flat subtraction from a
// fixed node capacity; pkg/topology's LinkStrategy delegates per-slot
// assignable capacity to a K-shortest-path bottleneck search. Both
// share every other SlottedSchedule mechanism (window advance,
// feasibility search, fragmentation, load metric).
type Strategy interface {
	// Capacity returns the schedule's nominal total capacity.
	Capacity() int64

	// AdjustRequirementToSlotCapacity returns the maximum of requirement
	// that slotIndex can actually grant id, which may be less than
	// requirement (moldable shrink) or 0 (infeasible).
	AdjustRequirementToSlotCapacity(s *SlottedSchedule, slotIndex int64, requirement int64, id reservation.ID) int64

	// InsertReservation books capacity for id at slotIndex.
	InsertReservation(s *SlottedSchedule, requirement int64, slotIndex int64, id reservation.ID)

	// OnDeleteReservation releases whatever InsertReservation booked for
	// id across every slot it occupied. Returns false if bookkeeping was
	// inconsistent (nothing recorded for id).
	OnDeleteReservation(s *SlottedSchedule, id reservation.ID) bool

	// OnClear resets any strategy-private state (e.g. reserved_paths).
	OnClear(s *SlottedSchedule)
}

// Candidate is one feasible placement CalculateSchedule found: a copy
// of the reservation with booking interval and assigned start/end set
// to a specific window, in state ProbeAnswer.
type Candidate struct {
	Reservation *reservation.Reservation
	SlotStart   int64
}

// SlottedSchedule is a ring of N fixed-width slots covering a sliding
// window of the schedule's timeline. Virtual slot indices grow without
// bound as time advances; they map onto the fixed-size Ring via modulo.
type SlottedSchedule struct {
	mu sync.Mutex

	ID       string
	Strategy Strategy

	SlotWidth time.Duration
	Ring      []Slot

	StartSlotIndex int64
	EndSlotIndex   int64

	WindowStartTime time.Time
	WindowEndTime   time.Time

	UseQuadraticMeanFragmentation bool
	fragCacheValid                bool
	fragCache                     float64

	loadBuffer *loadBuffer

	// active tracks every reservation id currently occupying a slot in
	// this schedule, mirroring the original's active_reservations set;
	// the canonical reservation data itself lives in Store.
	active map[reservation.ID]int64 // id -> reserved capacity at booking time

	Store *reservation.Store
	Clock func() time.Time
	Log   zerolog.Logger
}

// New builds a schedule of numSlots real slots, each slotWidth wide,
// anchored at clock()'s current time.
func New(id string, numSlots int, slotWidth time.Duration, strategy Strategy, store *reservation.Store, clock func() time.Time, log zerolog.Logger) *SlottedSchedule {
	ring := make([]Slot, numSlots)
	for i := range ring {
		ring[i] = newSlot()
	}

	s := &SlottedSchedule{
		ID:             id,
		Strategy:       strategy,
		SlotWidth:      slotWidth,
		Ring:           ring,
		EndSlotIndex:   -1,
		fragCacheValid: true,
		active:         make(map[reservation.ID]int64),
		Store:          store,
		Clock:          clock,
		Log:            log.With().Str("schedule", id).Logger(),
		loadBuffer:     newLoadBuffer(),
	}
	s.Update()
	return s
}

// SlotIndex maps an absolute time to its virtual slot index. A time
// before the epoch floors to slot 0 rather than going negative.
func (s *SlottedSchedule) SlotIndex(t time.Time) int64 {
	idx := int64(math.Floor(float64(t.UnixNano()) / float64(s.SlotWidth.Nanoseconds())))
	if idx < 0 {
		s.Log.Error().Time("time", t).Msg("slot index computed as negative, clamping to 0")
		return 0
	}
	return idx
}

func (s *SlottedSchedule) realIndex(index int64) int {
	n := int64(len(s.Ring))
	return int(((index % n) + n) % n)
}

// SlotStartTime returns the absolute start time of virtual slot index.
func (s *SlottedSchedule) SlotStartTime(index int64) time.Time {
	return time.Unix(0, index*s.SlotWidth.Nanoseconds())
}

// SlotEndTime returns the absolute end time (exclusive of the next
// slot's first nanosecond) of virtual slot index.
func (s *SlottedSchedule) SlotEndTime(index int64) time.Time {
	return s.SlotStartTime(index + 1).Add(-time.Nanosecond)
}

// getSlot returns the slot for a virtual index if it currently lies
// within [StartSlotIndex, EndSlotIndex+1], else nil.
func (s *SlottedSchedule) getSlot(index int64) *Slot {
	if index < 0 || index < s.StartSlotIndex || index > s.EndSlotIndex+1 {
		return nil
	}
	return &s.Ring[s.realIndex(index)]
}

// effectiveSlotIndex clamps a virtual slot index into the current
// window, used to bound feasibility search ranges.
func (s *SlottedSchedule) effectiveSlotIndex(index int64) int64 {
	if index < s.StartSlotIndex {
		return s.StartSlotIndex
	}
	if index > s.EndSlotIndex {
		return s.EndSlotIndex
	}
	return index
}

// Update advances the scheduling window to the current clock time,
// evicting reservations whose assigned end has fallen out of the
// window and feeding their final slot load into the load buffer before
// the slot is reset for reuse.
func (s *SlottedSchedule) Update() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.update()
}

func (s *SlottedSchedule) update() {
	now := s.Clock()
	newStart := s.SlotIndex(now)

	if s.StartSlotIndex < newStart {
		s.fragCacheValid = false
	}

	toEvict := make(map[reservation.ID]struct{})
	for idx := s.StartSlotIndex; idx < newStart; idx++ {
		slot := s.getSlot(idx)
		if slot == nil {
			continue
		}
		for id := range slot.Occupants {
			r := s.Store.Get(id)
			if r == nil {
				continue
			}
			if s.SlotIndex(r.AssignedEnd) == idx {
				toEvict[id] = struct{}{}
			}
		}
	}
	for id := range toEvict {
		delete(s.active, id)
	}

	for idx := s.StartSlotIndex; idx < newStart; idx++ {
		slot := s.getSlot(idx)
		var load int64
		if slot != nil {
			load = slot.Load
		}
		s.loadBuffer.add(load, idx)
		if slot != nil {
			slot.Reset()
		}
	}

	s.StartSlotIndex = newStart
	s.EndSlotIndex = newStart + int64(len(s.Ring)) - 1
	s.WindowStartTime = s.SlotStartTime(s.StartSlotIndex)
	s.WindowEndTime = s.SlotEndTime(s.EndSlotIndex)
}

func (s *SlottedSchedule) isTimeInWindow(t time.Time) bool {
	return !t.Before(s.WindowStartTime) && !t.After(s.WindowEndTime)
}

// CalculateSchedule performs the feasibility search: for every virtual
// start-slot index between the request's booking interval (clipped to
// the current window) it attempts to fit the reservation, shrinking
// moldable capacity as needed, and returns every slot start that
// succeeded.
func (s *SlottedSchedule) CalculateSchedule(id reservation.ID) []Candidate {
	s.mu.Lock()
	defer s.mu.Unlock()

	r := s.Store.Get(id)
	if r == nil {
		return nil
	}

	startBoundary := r.BookingIntervalStart
	endBoundary := r.BookingIntervalEnd
	if startBoundary.IsZero() {
		startBoundary = time.Unix(0, 0)
	}
	if endBoundary.IsZero() {
		endBoundary = time.Unix(1<<62, 0)
	}

	if !r.IsMoldable && s.Strategy.Capacity() > 0 && s.Strategy.Capacity() < r.ReservedCapacity {
		return nil
	}

	earliestStart := s.effectiveSlotIndex(s.SlotIndex(startBoundary))
	latestStart := s.effectiveSlotIndex(s.SlotIndex(endBoundary.Add(-r.TaskDuration)))

	var results []Candidate
	for slotStart := earliestStart; slotStart <= latestStart; slotStart++ {
		if cand := s.tryFitReservation(id, slotStart, endBoundary); cand != nil {
			results = append(results, *cand)
		}
	}
	return results
}

// tryFitReservation walks slot by slot from slotStartIndex, shrinking
// moldable capacity when availability falls short and rejecting
// immediately for non-moldable mismatches, matching the original
// core_functions.rs walk.
func (s *SlottedSchedule) tryFitReservation(id reservation.ID, slotStartIndex int64, requestEndBoundary time.Time) *Candidate {
	r := s.Store.Get(id)
	if r == nil {
		return nil
	}

	requiredCapacity := r.ReservedCapacity
	duration := r.TaskDuration

	startTime := s.SlotStartTime(slotStartIndex)
	if startTime.Before(r.BookingIntervalStart) {
		startTime = r.BookingIntervalStart
	}

	endTime := startTime.Add(duration)
	endSlotIndex := s.SlotIndex(endTime)

	feasible := true
	for idx := slotStartIndex; idx <= endSlotIndex; idx++ {
		available := s.Strategy.AdjustRequirementToSlotCapacity(s, idx, requiredCapacity, id)

		if available == 0 && requiredCapacity != 0 {
			feasible = false
			break
		}
		if !r.IsMoldable && available != requiredCapacity {
			feasible = false
			break
		}
		if available < requiredCapacity {
			ok := false
			s.Store.Mutate(id, func(mr *reservation.Reservation) {
				ok = mr.AdjustCapacity(available)
				if ok {
					requiredCapacity = mr.ReservedCapacity
					duration = mr.TaskDuration
				}
			})
			if !ok {
				feasible = false
				break
			}

			endTime = startTime.Add(duration)
			if !s.isTimeInWindow(endTime) || endTime.After(requestEndBoundary) {
				feasible = false
				break
			}
			endSlotIndex = s.SlotIndex(endTime)
		}
	}

	if !feasible {
		return nil
	}

	clone := r.Clone()
	clone.BookingIntervalStart = startTime
	clone.BookingIntervalEnd = endTime
	clone.AssignedStart = startTime
	clone.AssignedEnd = endTime
	clone.State = statemachine.ProbeAnswer
	clone.ReservedCapacity = requiredCapacity
	clone.TaskDuration = duration

	return &Candidate{Reservation: clone, SlotStart: slotStartIndex}
}

// Reserve books a candidate placement into the live schedule: writes
// the assigned window back to the store and inserts the reservation
// into every slot it occupies via the strategy.
func (s *SlottedSchedule) Reserve(id reservation.ID, assignedStart, assignedEnd time.Time, capacity int64) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.Store.Mutate(id, func(r *reservation.Reservation) {
		r.AssignedStart = assignedStart
		r.AssignedEnd = assignedEnd
		r.ReservedCapacity = capacity
	}) {
		return false
	}

	startIdx := s.SlotIndex(assignedStart)
	endIdx := s.SlotIndex(assignedEnd)
	for idx := startIdx; idx <= endIdx; idx++ {
		s.Strategy.InsertReservation(s, capacity, idx, id)
	}
	s.active[id] = capacity
	s.fragCacheValid = false
	return true
}

// ReserveWithoutCheck force-inserts id into the schedule using its
// already-assigned window and capacity, bypassing CalculateSchedule;
// feasibility is not checked.
func (s *SlottedSchedule) ReserveWithoutCheck(id reservation.ID) {
	r := s.Store.Get(id)
	if r == nil {
		return
	}
	s.Reserve(id, r.AssignedStart, r.AssignedEnd, r.ReservedCapacity)
}

// Delete releases a reservation's booked capacity from every slot it
// occupies, skipping already-finished reservations (their slots have
// already rotated out of the window).
func (s *SlottedSchedule) Delete(id reservation.ID) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	r := s.Store.Get(id)
	if r == nil {
		return false
	}
	if !r.AssignedEnd.After(s.Clock()) {
		s.Log.Error().Str("reservation", string(id)).Msg("cannot delete already-finished reservation")
		return false
	}

	if !s.Strategy.OnDeleteReservation(s, id) {
		return false
	}

	delete(s.active, id)
	s.fragCacheValid = false
	return true
}

// Clear resets every slot and forgets every active reservation, used
// when a schedule is torn down (e.g. shadow rollback).
func (s *SlottedSchedule) Clear() {
	s.mu.Lock()
	defer s.mu.Unlock()

	for i := range s.Ring {
		s.Ring[i].Reset()
	}
	s.active = make(map[reservation.ID]int64)
	s.Strategy.OnClear(s)
}

// Clone deep-copies the schedule for shadow-schedule use: a fresh Ring,
// a fresh active set, sharing nothing mutable with the original.
func (s *SlottedSchedule) Clone(store *reservation.Store) *SlottedSchedule {
	s.mu.Lock()
	defer s.mu.Unlock()

	ring := make([]Slot, len(s.Ring))
	for i, slot := range s.Ring {
		ring[i] = newSlot()
		ring[i].Load = slot.Load
		for id := range slot.Occupants {
			ring[i].Occupants[id] = struct{}{}
		}
	}

	active := make(map[reservation.ID]int64, len(s.active))
	for id, cap := range s.active {
		active[id] = cap
	}

	return &SlottedSchedule{
		ID:                            fmt.Sprintf("%s-shadow", s.ID),
		Strategy:                      s.Strategy,
		SlotWidth:                     s.SlotWidth,
		Ring:                          ring,
		StartSlotIndex:                s.StartSlotIndex,
		EndSlotIndex:                  s.EndSlotIndex,
		WindowStartTime:               s.WindowStartTime,
		WindowEndTime:                 s.WindowEndTime,
		UseQuadraticMeanFragmentation: s.UseQuadraticMeanFragmentation,
		fragCacheValid:                false,
		active:                        active,
		Store:                         store,
		Clock:                         s.Clock,
		Log:                           s.Log,
		loadBuffer:                    newLoadBuffer(),
	}
}
