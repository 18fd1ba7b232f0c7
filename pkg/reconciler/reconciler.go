package reconciler

import (
	"container/heap"
	"sort"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/cuemby/vrm/pkg/component"
	"github.com/cuemby/vrm/pkg/metrics"
	"github.com/cuemby/vrm/pkg/reservation"
	"github.com/cuemby/vrm/pkg/statemachine"
)

// DeadlineKind distinguishes the two timers a single reserve can carry:
// the commit deadline (reserved but never committed) and the execution
// deadline (committed but never finished).
type DeadlineKind int

const (
	DeadlineCommit DeadlineKind = iota
	DeadlineExecution
)

// deadlineEntry is one registered timer: component holds the id,
// expiring at Deadline.
type deadlineEntry struct {
	Deadline      time.Time
	Kind          DeadlineKind
	ReservationID reservation.ID
	ComponentID   string
	index         int
}

// deadlineHeap is a container/heap.Interface min-heap ordered by
// Deadline, so the queue's next tick only ever has to look at index 0.
type deadlineHeap []*deadlineEntry

func (h deadlineHeap) Len() int            { return len(h) }
func (h deadlineHeap) Less(i, j int) bool  { return h[i].Deadline.Before(h[j].Deadline) }
func (h deadlineHeap) Swap(i, j int)       { h[i], h[j] = h[j], h[i]; h[i].index = i; h[j].index = j }
func (h *deadlineHeap) Push(x interface{}) {
	e := x.(*deadlineEntry)
	e.index = len(*h)
	*h = append(*h, e)
}
func (h *deadlineHeap) Pop() interface{} {
	old := *h
	n := len(old)
	e := old[n-1]
	old[n-1] = nil
	*h = old[:n-1]
	return e
}

// DeadlineQueue is the single shared timer every reserved or committed
// reservation registers against, instead of each reservation spawning
// its own goroutine - one ticker loop drains whatever has come due
// since the last tick, matching §4.5's "no ad hoc per-reservation
// goroutines". A missed commit deadline cancels the reservation; a
// missed execution deadline marks it Finished, the two actions the
// original's reconciliation thread takes on timer expiry.
type DeadlineQueue struct {
	mu   sync.Mutex
	heap deadlineHeap

	components map[string]component.Component
	store      *reservation.Store

	clock  func() time.Time
	stopCh chan struct{}

	Log zerolog.Logger
}

// NewDeadlineQueue builds a queue that resolves a deadlineEntry's
// ComponentID against components (the VRM's full id->Component map) and
// reads/writes reservation state through store.
func NewDeadlineQueue(components map[string]component.Component, store *reservation.Store, clock func() time.Time, log zerolog.Logger) *DeadlineQueue {
	if clock == nil {
		clock = time.Now
	}
	return &DeadlineQueue{
		components: components,
		store:      store,
		clock:      clock,
		stopCh:     make(chan struct{}),
		Log:        log.With().Str("subsystem", "deadline-queue").Logger(),
	}
}

// Register schedules both of a fresh reserve's timers. A zero deadline
// is never scheduled - callers that pass time.Time{} (no deadline
// requested) simply opt out of that timer.
func (q *DeadlineQueue) Register(reservationID reservation.ID, componentID string, commitDeadline, executionDeadline time.Time) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if !commitDeadline.IsZero() {
		heap.Push(&q.heap, &deadlineEntry{Deadline: commitDeadline, Kind: DeadlineCommit, ReservationID: reservationID, ComponentID: componentID})
	}
	if !executionDeadline.IsZero() {
		heap.Push(&q.heap, &deadlineEntry{Deadline: executionDeadline, Kind: DeadlineExecution, ReservationID: reservationID, ComponentID: componentID})
	}
}

// Start begins the queue's drain loop.
func (q *DeadlineQueue) Start() {
	ticker := time.NewTicker(1 * time.Second)
	go func() {
		for {
			select {
			case <-ticker.C:
				q.drain()
			case <-q.stopCh:
				ticker.Stop()
				return
			}
		}
	}()
}

// Stop halts the drain loop.
func (q *DeadlineQueue) Stop() {
	close(q.stopCh)
}

func (q *DeadlineQueue) drain() {
	now := q.clock()

	var due []*deadlineEntry
	q.mu.Lock()
	for q.heap.Len() > 0 && q.heap[0].Deadline.Before(now) {
		due = append(due, heap.Pop(&q.heap).(*deadlineEntry))
	}
	q.mu.Unlock()

	for _, entry := range due {
		q.fire(entry)
	}
}

func (q *DeadlineQueue) fire(entry *deadlineEntry) {
	r := q.store.Get(entry.ReservationID)
	if r == nil {
		return
	}

	comp, ok := q.components[entry.ComponentID]
	if !ok {
		q.Log.Warn().Str("component", entry.ComponentID).Msg("deadline fired for unknown component")
		return
	}

	switch entry.Kind {
	case DeadlineCommit:
		if statemachine.Terminal(r.State) || r.State == statemachine.Committed {
			return
		}
		q.Log.Info().Str("reservation", string(entry.ReservationID)).Str("component", entry.ComponentID).Msg("commit deadline expired, cancelling reservation")
		comp.Delete(entry.ReservationID)
	case DeadlineExecution:
		if r.State != statemachine.Committed {
			return
		}
		q.Log.Info().Str("reservation", string(entry.ReservationID)).Str("component", entry.ComponentID).Msg("execution deadline expired, marking reservation finished")
		q.store.UpdateState(entry.ReservationID, statemachine.Finished)
	}
}

// Optimizer periodically repacks each AcI in a component tree: when
// system-wide satisfaction exceeds a threshold, every active
// reservation on that AcI is pulled from a shadow schedule and
// re-inserted longest-task-first, and the repack is kept only if it
// strictly reduces fragmentation. Grounded on spec §4.6's optimisation
// cycle, scoped to one AcI at a time rather than a whole-subtree shadow
// transaction - component.Component has no shadow-aware Reserve/Delete
// at the interface level, only the AcI-specific methods this package
// uses directly.
type Optimizer struct {
	root      component.Component
	store     *reservation.Store
	threshold float64

	stopCh chan struct{}
	Log    zerolog.Logger
}

// NewOptimizer builds an Optimizer over root (normally the VRM's master
// ADC). threshold is the system satisfaction above which a repack pass
// runs; spec's default is 0.5. store is snapshotted for each repack's
// shadow and read for each active reservation's TaskDuration (the
// longest-first reinsertion order).
func NewOptimizer(root component.Component, store *reservation.Store, threshold float64, log zerolog.Logger) *Optimizer {
	return &Optimizer{
		root:      root,
		store:     store,
		threshold: threshold,
		stopCh:    make(chan struct{}),
		Log:       log.With().Str("subsystem", "optimizer").Logger(),
	}
}

// Start begins the optimisation loop, ticking every 30 seconds.
func (o *Optimizer) Start() {
	ticker := time.NewTicker(30 * time.Second)
	go func() {
		for {
			select {
			case <-ticker.C:
				o.runOnce()
			case <-o.stopCh:
				ticker.Stop()
				return
			}
		}
	}()
}

// Stop halts the optimisation loop.
func (o *Optimizer) Stop() {
	close(o.stopCh)
}

func (o *Optimizer) runOnce() {
	timer := metrics.NewTimer()
	defer func() {
		timer.ObserveDuration(metrics.ReconciliationDuration)
		metrics.ReconciliationCyclesTotal.Inc()
	}()

	if o.root.SystemSatisfaction() <= o.threshold {
		return
	}

	for _, aci := range leafAcIs(o.root) {
		o.repack(aci)
	}
}

func (o *Optimizer) repack(aci *component.AcI) {
	active := aci.ActiveReservations()
	if len(active) == 0 {
		return
	}

	shadowID := reservation.NewShadowID()
	shadowStore := o.store.Snapshot()
	if !aci.CreateShadow(shadowID, shadowStore) {
		o.Log.Error().Str("aci", aci.ID()).Msg("optimisation repack could not create shadow")
		return
	}

	sort.Slice(active, func(i, j int) bool {
		return o.reservationDuration(active[i]) > o.reservationDuration(active[j])
	})

	for _, id := range active {
		aci.DeleteInShadow(shadowID, id)
	}
	for _, id := range active {
		if !aci.ReserveInShadow(shadowID, id) {
			o.Log.Warn().Str("aci", aci.ID()).Str("reservation", string(id)).Msg("repack could not replace reservation in shadow, rolling back")
			aci.DeleteShadow(shadowID)
			return
		}
	}

	shadowFrag, ok := aci.ShadowFragmentation(shadowID)
	if !ok {
		aci.DeleteShadow(shadowID)
		return
	}
	liveFrag := 1.0 - aci.Satisfaction()

	if shadowFrag < liveFrag {
		o.Log.Info().Str("aci", aci.ID()).Float64("live_fragmentation", liveFrag).Float64("shadow_fragmentation", shadowFrag).Msg("repack improved fragmentation, committing")
		aci.CommitShadow(shadowID)
	} else {
		aci.DeleteShadow(shadowID)
	}
}

func (o *Optimizer) reservationDuration(id reservation.ID) time.Duration {
	r := o.store.Get(id)
	if r == nil {
		return 0
	}
	return r.TaskDuration
}

func leafAcIs(c component.Component) []*component.AcI {
	if aci, ok := c.(*component.AcI); ok {
		return []*component.AcI{aci}
	}
	var out []*component.AcI
	for _, child := range c.Children() {
		out = append(out, leafAcIs(child)...)
	}
	return out
}
