package component

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/cuemby/vrm/pkg/reservation"
	"github.com/cuemby/vrm/pkg/rms"
	"github.com/cuemby/vrm/pkg/schedule"
	"github.com/cuemby/vrm/pkg/statemachine"
)

// aciShadow is one in-flight shadow-schedule transaction's private
// state: a cloned schedule plus the committed-reservation bookkeeping
// at the moment the shadow was created.
type aciShadow struct {
	schedule  *schedule.SlottedSchedule
	committed map[reservation.ID]commitRecord
}

// AcI is a leaf Component: it wraps exactly one local resource
// management system (rms.RMS) and the one SlottedSchedule (node or
// link strategy) that does its feasibility search and capacity
// accounting.
type AcI struct {
	id  string
	rms rms.RMS

	mu sync.Mutex

	sched *schedule.SlottedSchedule
	store *reservation.Store

	notCommitted map[reservation.ID]commitRecord
	committed    map[reservation.ID]commitRecord

	shadows map[reservation.ShadowID]*aciShadow

	Log zerolog.Logger
}

// NewAcI builds an AcI over an already-constructed schedule and the
// reservation store it was built against.
func NewAcI(id string, sched *schedule.SlottedSchedule, store *reservation.Store, backing rms.RMS, log zerolog.Logger) *AcI {
	return &AcI{
		id:           id,
		rms:          backing,
		sched:        sched,
		store:        store,
		notCommitted: make(map[reservation.ID]commitRecord),
		committed:    make(map[reservation.ID]commitRecord),
		shadows:      make(map[reservation.ShadowID]*aciShadow),
		Log:          log.With().Str("aci", id).Logger(),
	}
}

func (a *AcI) ID() string { return a.id }

func (a *AcI) TotalCapacity() int64 {
	return a.sched.Strategy.Capacity()
}

func (a *AcI) Children() []Component { return nil }

func (a *AcI) Probe(id reservation.ID) []schedule.Candidate {
	return a.sched.CalculateSchedule(id)
}

func (a *AcI) ProbeBest(id reservation.ID, cmp Comparator) *schedule.Candidate {
	candidates := a.Probe(id)
	if len(candidates) == 0 {
		return nil
	}
	sort.Slice(candidates, func(i, j int) bool {
		return cmp(candidates[i].Reservation, candidates[j].Reservation) < 0
	})
	return &candidates[0]
}

// Reserve finds the best candidate via EFTComparator, books it into
// the live schedule, and records the commit/execution deadlines in
// notCommitted. It does not register them with a
// reconciler.DeadlineQueue, so no cancellation is scheduled here.
func (a *AcI) Reserve(id reservation.ID, clientID string, commitDeadline, executionDeadline time.Time) bool {
	best := a.ProbeBest(id, EFTComparator)
	if best == nil {
		a.store.UpdateState(id, statemachine.Rejected)
		return false
	}

	ok := a.sched.Reserve(id, best.Reservation.AssignedStart, best.Reservation.AssignedEnd, best.Reservation.ReservedCapacity)
	if !ok {
		a.store.UpdateState(id, statemachine.Rejected)
		return false
	}

	a.store.Mutate(id, func(r *reservation.Reservation) {
		r.ClientID = clientID
		r.State = statemachine.ReserveAnswer
	})
	a.store.UpdateState(id, statemachine.ReserveAnswer)

	a.mu.Lock()
	a.notCommitted[id] = commitRecord{
		Owner:             clientID,
		CommitDeadline:    commitDeadline,
		ExecutionDeadline: executionDeadline,
	}
	a.mu.Unlock()

	return true
}

// Commit finalizes id: if it was reserved, promotes it straight to
// Committed; otherwise attempts the original's implicit-reserve
// fallback (probe-and-reserve on the spot) before committing.
func (a *AcI) Commit(id reservation.ID) bool {
	a.mu.Lock()
	record, hadReservation := a.notCommitted[id]
	if hadReservation {
		delete(a.notCommitted, id)
	}
	a.mu.Unlock()

	if !hadReservation {
		a.Log.Debug().Str("reservation", string(id)).Msg("no prior reserve for commit, attempting implicit allocation")
		existing := a.store.Get(id)
		if existing == nil {
			a.store.UpdateState(id, statemachine.Rejected)
			return false
		}
		if !a.Reserve(id, existing.ClientID, time.Time{}, time.Time{}) {
			a.store.UpdateState(id, statemachine.Rejected)
			return false
		}
		a.mu.Lock()
		record = a.notCommitted[id]
		delete(a.notCommitted, id)
		a.mu.Unlock()
	}

	r := a.store.Get(id)
	if r == nil || !statemachine.AtLeast(r.State, statemachine.ReserveAnswer) {
		return false
	}

	if err := a.rms.Submit(context.Background(), r); err != nil {
		a.Log.Error().Err(err).Str("reservation", string(id)).Msg("rms rejected submission at commit")
		a.store.UpdateState(id, statemachine.Rejected)
		return false
	}

	a.store.UpdateState(id, statemachine.Committed)

	a.mu.Lock()
	a.committed[id] = record
	a.mu.Unlock()

	return true
}

// Delete releases id's schedule slots and cancels its RMS submission,
// rejecting deletion of reservations whose assigned end has already
// passed. Deleting a Committed reservation logs a penalty warning but
// charges nothing.
func (a *AcI) Delete(id reservation.ID) bool {
	r := a.store.Get(id)
	if r == nil {
		return false
	}

	if !a.sched.Delete(id) {
		return false
	}

	a.mu.Lock()
	_, wasCommitted := a.committed[id]
	delete(a.committed, id)
	delete(a.notCommitted, id)
	a.mu.Unlock()

	if wasCommitted {
		a.Log.Warn().Str("reservation", string(id)).Msg("deleting committed reservation: penalty logged, not charged")
		if err := a.rms.Cancel(context.Background(), r); err != nil {
			a.Log.Error().Err(err).Str("reservation", string(id)).Msg("rms cancel failed during delete")
		}
	}

	a.store.UpdateState(id, statemachine.Deleted)
	return true
}

func (a *AcI) Satisfaction() float64 {
	frag := a.sched.Fragmentation(a.sched.StartSlotIndex, a.sched.EndSlotIndex)
	return 1.0 - frag
}

func (a *AcI) SystemSatisfaction() float64 { return a.Satisfaction() }

func (a *AcI) LoadMetric() schedule.LoadMetric { return a.sched.LoadMetric() }

// CreateShadow clones this AcI's schedule against shadowStore - the
// transaction-wide snapshot every component in the hierarchy shares -
// and records the current committed set at the moment of creation.
func (a *AcI) CreateShadow(shadowID reservation.ShadowID, shadowStore *reservation.Store) bool {
	a.mu.Lock()
	defer a.mu.Unlock()

	if _, exists := a.shadows[shadowID]; exists {
		a.Log.Error().Str("shadow", string(shadowID)).Msg("shadow id already exists, delete it first")
		return false
	}

	committed := make(map[reservation.ID]commitRecord, len(a.committed))
	for id, rec := range a.committed {
		committed[id] = rec
	}

	a.shadows[shadowID] = &aciShadow{
		schedule:  a.sched.Clone(shadowStore),
		committed: committed,
	}
	return true
}

// CommitShadow promotes a shadow's schedule and committed-set to be
// the new live state. A missing shadow id here means a sibling
// component in the same transaction already failed upstream of this
// call, so it is reported, not panicked.
func (a *AcI) CommitShadow(shadowID reservation.ShadowID) bool {
	a.mu.Lock()
	defer a.mu.Unlock()

	shadow, ok := a.shadows[shadowID]
	if !ok {
		a.Log.Error().Str("shadow", string(shadowID)).Msg("commit requested for unknown shadow")
		return false
	}

	a.sched = shadow.schedule
	a.committed = shadow.committed
	delete(a.shadows, shadowID)
	return true
}

// DeleteShadow discards a shadow without touching live state.
func (a *AcI) DeleteShadow(shadowID reservation.ShadowID) {
	a.mu.Lock()
	defer a.mu.Unlock()
	delete(a.shadows, shadowID)
}

// ActiveReservations returns every reservation id currently booked on
// this AcI's live schedule, committed or not - the set the
// optimisation cycle (pkg/reconciler.Optimizer) repacks.
func (a *AcI) ActiveReservations() []reservation.ID {
	a.mu.Lock()
	defer a.mu.Unlock()
	out := make([]reservation.ID, 0, len(a.committed)+len(a.notCommitted))
	for id := range a.committed {
		out = append(out, id)
	}
	for id := range a.notCommitted {
		out = append(out, id)
	}
	return out
}

// ReserveInShadow re-books id against shadowID's cloned schedule
// rather than live state, used by the optimisation cycle to repack a
// shadow before deciding whether to commit it.
func (a *AcI) ReserveInShadow(shadowID reservation.ShadowID, id reservation.ID) bool {
	a.mu.Lock()
	shadow, ok := a.shadows[shadowID]
	a.mu.Unlock()
	if !ok {
		return false
	}

	candidates := shadow.schedule.CalculateSchedule(id)
	if len(candidates) == 0 {
		return false
	}
	sort.Slice(candidates, func(i, j int) bool {
		return EFTComparator(candidates[i].Reservation, candidates[j].Reservation) < 0
	})
	best := candidates[0]

	return shadow.schedule.Reserve(id, best.Reservation.AssignedStart, best.Reservation.AssignedEnd, best.Reservation.ReservedCapacity)
}

// DeleteInShadow removes id from shadowID's cloned schedule without
// touching live state.
func (a *AcI) DeleteInShadow(shadowID reservation.ShadowID, id reservation.ID) bool {
	a.mu.Lock()
	shadow, ok := a.shadows[shadowID]
	a.mu.Unlock()
	if !ok {
		return false
	}
	return shadow.schedule.Delete(id)
}

// ShadowFragmentation reports shadowID's schedule fragmentation over
// its full window, the measurement the optimisation cycle compares
// against live fragmentation before deciding to commit a repack.
func (a *AcI) ShadowFragmentation(shadowID reservation.ShadowID) (float64, bool) {
	a.mu.Lock()
	shadow, ok := a.shadows[shadowID]
	a.mu.Unlock()
	if !ok {
		return 0, false
	}
	return shadow.schedule.Fragmentation(shadow.schedule.StartSlotIndex, shadow.schedule.EndSlotIndex), true
}
