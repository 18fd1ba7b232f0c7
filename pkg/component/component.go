// Package component implements the VRM's two grid components: AcI, a
// leaf wrapping one local resource management system, and ADC, an
// interior node that routes and aggregates across children. Both
// satisfy Component, matching the source's shared VrmComponent trait
// (§9 "Polymorphism of components": one capability set, per-variant
// state held in the concrete type).
package component

import (
	"errors"
	"time"

	"github.com/cuemby/vrm/pkg/reservation"
	"github.com/cuemby/vrm/pkg/schedule"
)

// ErrCompromised is panicked with when a shadow-schedule commit
// diverges from its underlying RMS/schedule state: once that split
// happens there is no safe state to roll back to, so the original
// treats it as unrecoverable rather than attempting repair.
var ErrCompromised = errors.New("component: shadow/master state diverged, component is compromised")

// ErrInconsistentTracking is panicked with when an ADC's bookkeeping
// maps (res-to-component, workflow subtasks) are found to disagree
// with each other - a bug in registration/deregistration, never a
// condition callers can recover from locally.
var ErrInconsistentTracking = errors.New("component: tracking maps are inconsistent")

// Comparator orders two candidate reservations for probe_best/reserve
// selection; it returns <0 if a should be preferred over b, >0 for the
// reverse, 0 for a tie. EFTComparator (earliest-finish-time) is the
// default used by the workflow scheduler.
type Comparator func(a, b *reservation.Reservation) int

// EFTComparator prefers the candidate with the earlier assigned end
// time, the comparator scenario 3 exercises.
func EFTComparator(a, b *reservation.Reservation) int {
	switch {
	case a.AssignedEnd.Before(b.AssignedEnd):
		return -1
	case a.AssignedEnd.After(b.AssignedEnd):
		return 1
	default:
		return 0
	}
}

// Component is the capability set shared by AcI and ADC.
type Component interface {
	ID() string

	// TotalCapacity is the component's nominal resource capacity -
	// flat CPU-equivalent capacity for AcI, the plain sum of its
	// children's TotalCapacity for ADC.
	TotalCapacity() int64

	// Probe returns every feasible placement for id without mutating
	// any state - pure, repeatable, matches the "Probe is pure"
	// invariant.
	Probe(id reservation.ID) []schedule.Candidate

	// ProbeBest returns the single candidate Comparator ranks first,
	// or nil if Probe found nothing.
	ProbeBest(id reservation.ID, cmp Comparator) *schedule.Candidate

	// Reserve books the best candidate (by EFTComparator) for id; an
	// AcI records the commit/execution deadlines in its own bookkeeping.
	// Reserve does not register them with a reconciler.DeadlineQueue;
	// that is left to the caller.
	Reserve(id reservation.ID, clientID string, commitDeadline, executionDeadline time.Time) bool

	// Commit finalizes a reserved (or, via implicit-reserve fallback,
	// an unreserved) reservation and submits it to the backing RMS.
	Commit(id reservation.ID) bool

	// Delete cancels a reservation, releasing its schedule slots and
	// cancelling any RMS submission.
	Delete(id reservation.ID) bool

	// Satisfaction and SystemSatisfaction report 1-fragmentation for
	// this component alone, and (for ADC) the capacity-weighted
	// aggregate across the whole subtree.
	Satisfaction() float64
	SystemSatisfaction() float64

	LoadMetric() schedule.LoadMetric

	// CreateShadow/CommitShadow/DeleteShadow drive one leg of a
	// hierarchical shadow-schedule transaction; shadowStore is shared
	// across every component in the transaction so shadow operations
	// see a consistent, isolated reservation-store snapshot.
	CreateShadow(shadowID reservation.ShadowID, shadowStore *reservation.Store) bool
	CommitShadow(shadowID reservation.ShadowID) bool
	DeleteShadow(shadowID reservation.ShadowID)

	// Children is empty for AcI, non-empty for ADC.
	Children() []Component
}

// commitRecord is the bookkeeping the original calls ReservationContainer:
// who owns a reservation and by when it must be committed/finished.
type commitRecord struct {
	Owner             string
	CommitDeadline    time.Time
	ExecutionDeadline time.Time
}
