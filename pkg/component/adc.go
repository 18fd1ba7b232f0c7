package component

import (
	"math/rand"
	"sort"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/cuemby/vrm/pkg/reservation"
	"github.com/cuemby/vrm/pkg/schedule"
)

// ChildOrder selects how ADC.OrderedChildren sorts its children; the
// only walk that uses it is ReserveAtFirst. Random shuffles the
// children, matching the original's get_random_ordered_vrm_components.
type ChildOrder int

const (
	Random ChildOrder = iota
	RegistrationOrder
	LoadAscending
	LoadDescending
	SizeAscending
	SizeDescending
)

// ADC is an interior Component: it routes and aggregates requests
// across a set of children, each of which is itself an AcI or a nested
// ADC, per the source's VrmComponentManager + "polymorphism of
// components" design.
type ADC struct {
	id string

	mu       sync.Mutex
	children map[string]Component
	order    []string // registration order, stable iteration base

	// childOrder is the strategy ReserveAtFirst walks children in;
	// Reserve (reserve_task_at_best) always compares every child
	// globally and ignores it.
	childOrder ChildOrder

	resToComponent map[reservation.ID]string
	committed      map[reservation.ID]string
	notCommitted   map[reservation.ID]string

	workflowSubtasks        map[reservation.ID][]reservation.ID
	reverseWorkflowSubtasks map[reservation.ID]reservation.ID

	shadowComponents map[reservation.ShadowID]map[reservation.ID]string

	Log zerolog.Logger
}

// NewADC builds an empty ADC; children are added with AddChild.
func NewADC(id string, log zerolog.Logger) *ADC {
	return &ADC{
		id:                      id,
		children:                make(map[string]Component),
		resToComponent:          make(map[reservation.ID]string),
		committed:               make(map[reservation.ID]string),
		notCommitted:            make(map[reservation.ID]string),
		workflowSubtasks:        make(map[reservation.ID][]reservation.ID),
		reverseWorkflowSubtasks: make(map[reservation.ID]reservation.ID),
		shadowComponents:        make(map[reservation.ShadowID]map[reservation.ID]string),
		Log:                     log.With().Str("adc", id).Logger(),
	}
}

// SetChildOrder configures the ordering ReserveAtFirst walks children in.
// An ADC that is never given an order uses the zero value (Random);
// pkg/manager sets RegistrationOrder for a config that names no order.
func (d *ADC) SetChildOrder(order ChildOrder) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.childOrder = order
}

// AddChild registers a child Component. Adding the same id twice is
// rejected rather than silently overwriting the existing registration.
func (d *ADC) AddChild(c Component) bool {
	d.mu.Lock()
	defer d.mu.Unlock()

	if _, exists := d.children[c.ID()]; exists {
		d.Log.Error().Str("child", c.ID()).Msg("child already registered, refusing duplicate add")
		return false
	}
	d.children[c.ID()] = c
	d.order = append(d.order, c.ID())
	return true
}

// RemoveChild deregisters a child. Any reservations it was still
// handling are left in the tracking maps; the caller is expected to
// have drained them first.
func (d *ADC) RemoveChild(id string) bool {
	d.mu.Lock()
	defer d.mu.Unlock()

	if _, exists := d.children[id]; !exists {
		return false
	}
	delete(d.children, id)
	for i, childID := range d.order {
		if childID == id {
			d.order = append(d.order[:i], d.order[i+1:]...)
			break
		}
	}
	return true
}

func (d *ADC) ID() string { return d.id }

func (d *ADC) Children() []Component {
	d.mu.Lock()
	defer d.mu.Unlock()
	out := make([]Component, 0, len(d.order))
	for _, id := range d.order {
		out = append(out, d.children[id])
	}
	return out
}

func (d *ADC) TotalCapacity() int64 {
	var total int64
	for _, c := range d.Children() {
		total += c.TotalCapacity()
	}
	return total
}

// OrderedChildren returns every child sorted by order. Random shuffles
// the registration-order slice; the other strategies compare the
// metric named and fall back to registration order on ties.
func (d *ADC) OrderedChildren(order ChildOrder) []Component {
	children := d.Children()

	switch order {
	case RegistrationOrder:
		return children
	case Random:
		shuffled := make([]Component, len(children))
		copy(shuffled, children)
		rand.Shuffle(len(shuffled), func(i, j int) { shuffled[i], shuffled[j] = shuffled[j], shuffled[i] })
		return shuffled
	case LoadAscending, LoadDescending:
		sort.SliceStable(children, func(i, j int) bool {
			li := children[i].LoadMetric().Utilization
			lj := children[j].LoadMetric().Utilization
			if order == LoadAscending {
				return li < lj
			}
			return li > lj
		})
		return children
	case SizeAscending, SizeDescending:
		sort.SliceStable(children, func(i, j int) bool {
			si := children[i].TotalCapacity()
			sj := children[j].TotalCapacity()
			if order == SizeAscending {
				return si < sj
			}
			return si > sj
		})
		return children
	default:
		return children
	}
}

// validCandidate reports whether a child's answer keeps its assigned
// window inside the reservation's own booking interval - an ADC does
// not trust its children, per §4.6, and must drop any candidate that
// breaches the hard deadline it was asked to respect.
func (d *ADC) validCandidate(childID string, cand schedule.Candidate) bool {
	r := cand.Reservation
	if r == nil {
		return false
	}
	if r.AssignedStart.Before(r.BookingIntervalStart) || r.AssignedEnd.After(r.BookingIntervalEnd) {
		d.Log.Warn().Str("child", childID).Str("reservation", string(r.ID)).
			Msg("discarding child candidate outside its own booking interval")
		return false
	}
	return true
}

// Probe fans id out to every child that could plausibly host it and
// concatenates the candidates; it never mutates any child's state.
func (d *ADC) Probe(id reservation.ID) []schedule.Candidate {
	var all []schedule.Candidate
	for _, c := range d.Children() {
		for _, cand := range c.Probe(id) {
			if !d.validCandidate(c.ID(), cand) {
				continue
			}
			all = append(all, cand)
		}
	}
	return all
}

func (d *ADC) ProbeBest(id reservation.ID, cmp Comparator) *schedule.Candidate {
	candidates := d.Probe(id)
	if len(candidates) == 0 {
		return nil
	}
	sort.Slice(candidates, func(i, j int) bool {
		return cmp(candidates[i].Reservation, candidates[j].Reservation) < 0
	})
	return &candidates[0]
}

// Reserve asks every child to probe, picks the globally best candidate
// by EFTComparator, and delegates the actual Reserve call to the child that
// produced it - matching VrmComponentManager.reserve's
// probe-then-commit-to-one-child shape.
func (d *ADC) Reserve(id reservation.ID, clientID string, commitDeadline, executionDeadline time.Time) bool {
	var (
		best      *schedule.Candidate
		bestChild Component
	)

	for _, c := range d.Children() {
		candidates := c.Probe(id)
		for i := range candidates {
			if !d.validCandidate(c.ID(), candidates[i]) {
				continue
			}
			if best == nil || EFTComparator(candidates[i].Reservation, best.Reservation) < 0 {
				best = &candidates[i]
				bestChild = c
			}
		}
	}

	if bestChild == nil {
		return false
	}

	if !bestChild.Reserve(id, clientID, commitDeadline, executionDeadline) {
		return false
	}

	d.mu.Lock()
	d.resToComponent[id] = bestChild.ID()
	d.notCommitted[id] = bestChild.ID()
	d.mu.Unlock()

	return true
}

// ReserveAtFirst implements reserve_task_at_first: walk children in the
// ADC's configured ChildOrder and delegate to the first one that
// accepts id, rather than comparing every child's best candidate
// globally the way Reserve (reserve_task_at_best) does. The workflow
// scheduler always calls Reserve directly per §4.7's explicit
// reserve_task_at_best requirement; ReserveAtFirst is the path a plain
// client reservation request takes.
func (d *ADC) ReserveAtFirst(id reservation.ID, clientID string, commitDeadline, executionDeadline time.Time) bool {
	d.mu.Lock()
	order := d.childOrder
	d.mu.Unlock()

	for _, c := range d.OrderedChildren(order) {
		if !c.Reserve(id, clientID, commitDeadline, executionDeadline) {
			continue
		}
		d.mu.Lock()
		d.resToComponent[id] = c.ID()
		d.notCommitted[id] = c.ID()
		d.mu.Unlock()
		return true
	}
	return false
}

// RegisterWorkflowSubtasks merges a workflow scheduler's per-subtask
// placement decisions into this ADC's tracking maps in one pass,
// panicking with ErrInconsistentTracking if any subtask wasn't already
// reserved - the same integrity check vrm_component_manager.rs runs
// before trusting a transaction map it didn't build itself.
func (d *ADC) RegisterWorkflowSubtasks(workflowID reservation.ID, placements map[reservation.ID]string) {
	d.mu.Lock()
	defer d.mu.Unlock()

	subtasks := make([]reservation.ID, 0, len(placements))
	for subtaskID, componentID := range placements {
		if _, ok := d.notCommitted[subtaskID]; !ok {
			panic(ErrInconsistentTracking)
		}
		d.resToComponent[subtaskID] = componentID
		subtasks = append(subtasks, subtaskID)
		d.reverseWorkflowSubtasks[subtaskID] = workflowID
	}
	d.workflowSubtasks[workflowID] = subtasks
}

// HandlerOf reports which direct child id is currently tracked
// against, for callers (the workflow scheduler) that need to record
// placement decisions this ADC already made via Reserve.
func (d *ADC) HandlerOf(id reservation.ID) (string, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	componentID, ok := d.resToComponent[id]
	return componentID, ok
}

func (d *ADC) componentFor(id reservation.ID) (Component, bool) {
	d.mu.Lock()
	componentID, ok := d.resToComponent[id]
	d.mu.Unlock()
	if !ok {
		return nil, false
	}
	d.mu.Lock()
	c, ok := d.children[componentID]
	d.mu.Unlock()
	return c, ok
}

func (d *ADC) Commit(id reservation.ID) bool {
	c, ok := d.componentFor(id)
	if !ok {
		d.Log.Error().Str("reservation", string(id)).Msg("commit requested for untracked reservation")
		return false
	}
	if !c.Commit(id) {
		return false
	}
	d.mu.Lock()
	delete(d.notCommitted, id)
	d.committed[id] = c.ID()
	d.mu.Unlock()
	return true
}

func (d *ADC) Delete(id reservation.ID) bool {
	c, ok := d.componentFor(id)
	if !ok {
		return false
	}
	if !c.Delete(id) {
		return false
	}

	d.mu.Lock()
	delete(d.resToComponent, id)
	delete(d.committed, id)
	delete(d.notCommitted, id)
	if workflowID, isSubtask := d.reverseWorkflowSubtasks[id]; isSubtask {
		delete(d.reverseWorkflowSubtasks, id)
		remaining := d.workflowSubtasks[workflowID][:0]
		for _, subtaskID := range d.workflowSubtasks[workflowID] {
			if subtaskID != id {
				remaining = append(remaining, subtaskID)
			}
		}
		d.workflowSubtasks[workflowID] = remaining
	}
	d.mu.Unlock()
	return true
}

// Satisfaction is the capacity-weighted average of every child's own
// Satisfaction, per get_satisfaction's weighting, skipping any child
// that reports a negative score. No AcI reports a negative score, so
// link AcIs are weighted in (by their bandwidth capacity) like node
// AcIs.
func (d *ADC) Satisfaction() float64 {
	return weightedSatisfaction(d.Children(), Component.Satisfaction)
}

func (d *ADC) SystemSatisfaction() float64 {
	return weightedSatisfaction(d.Children(), Component.SystemSatisfaction)
}

func weightedSatisfaction(children []Component, metric func(Component) float64) float64 {
	var sum, totalCapacity float64
	for _, c := range children {
		s := metric(c)
		if s < 0 {
			continue
		}
		capacity := float64(c.TotalCapacity())
		sum += s * capacity
		totalCapacity += capacity
	}
	if totalCapacity == 0 {
		return 0
	}
	return sum / totalCapacity
}

// LoadMetric aggregates every child's LoadMetric the way
// get_load_metric does: Utilization is the valid children's summed
// average reserved capacity over their summed possible capacity, the
// two capacity fields are per-child means, and the window widens to
// the earliest start and latest end seen.
func (d *ADC) LoadMetric() schedule.LoadMetric {
	children := d.Children()

	var (
		totalAvg, totalPossible float64
		earliestStart           = int64(1<<62 - 1)
		latestEnd               int64
		valid                   int
	)

	for _, c := range children {
		lm := c.LoadMetric()
		if lm.PossibleCapacity <= 0 && lm.AvgReservedCapacity <= 0 {
			continue
		}
		valid++
		totalAvg += lm.AvgReservedCapacity
		totalPossible += lm.PossibleCapacity
		if lm.StartSlot < earliestStart {
			earliestStart = lm.StartSlot
		}
		if lm.EndSlot > latestEnd {
			latestEnd = lm.EndSlot
		}
	}

	if valid == 0 {
		return schedule.LoadMetric{}
	}

	utilization := 0.0
	if totalPossible > 0 {
		utilization = totalAvg / totalPossible
	}

	return schedule.LoadMetric{
		StartSlot:           earliestStart,
		EndSlot:             latestEnd,
		AvgReservedCapacity: totalAvg / float64(valid),
		PossibleCapacity:    totalPossible / float64(valid),
		Utilization:         utilization,
	}
}

// CreateShadow fans out to every child. A child that fails has its
// leg rolled back on the children already created, mirroring the
// all-or-nothing guarantee shadow.Manager relies on at the hierarchy
// root.
func (d *ADC) CreateShadow(shadowID reservation.ShadowID, shadowStore *reservation.Store) bool {
	children := d.Children()
	created := make([]Component, 0, len(children))

	for _, c := range children {
		if !c.CreateShadow(shadowID, shadowStore) {
			for _, rollback := range created {
				rollback.DeleteShadow(shadowID)
			}
			return false
		}
		created = append(created, c)
	}

	d.mu.Lock()
	snapshot := make(map[reservation.ID]string, len(d.resToComponent))
	for id, componentID := range d.resToComponent {
		snapshot[id] = componentID
	}
	d.shadowComponents[shadowID] = snapshot
	d.mu.Unlock()

	return true
}

// CommitShadow promotes every child's shadow leg to live state. A
// child failing here means this ADC's view of the hierarchy has
// already diverged from what the children actually committed -
// unrecoverable, exactly the condition aci.rs's commit_shadow_schedule
// panics on.
func (d *ADC) CommitShadow(shadowID reservation.ShadowID) bool {
	for _, c := range d.Children() {
		if !c.CommitShadow(shadowID) {
			panic(ErrCompromised)
		}
	}

	d.mu.Lock()
	if snapshot, ok := d.shadowComponents[shadowID]; ok {
		d.resToComponent = snapshot
		delete(d.shadowComponents, shadowID)
	}
	d.mu.Unlock()

	return true
}

func (d *ADC) DeleteShadow(shadowID reservation.ShadowID) {
	for _, c := range d.Children() {
		c.DeleteShadow(shadowID)
	}
	d.mu.Lock()
	delete(d.shadowComponents, shadowID)
	d.mu.Unlock()
}
