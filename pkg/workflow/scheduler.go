package workflow

import (
	"context"
	"math"
	"time"

	"github.com/rs/zerolog"

	"github.com/cuemby/vrm/pkg/component"
	"github.com/cuemby/vrm/pkg/reservation"
	"github.com/cuemby/vrm/pkg/statemachine"
)

// Scheduler is the HEFT-sync workflow scheduler: it ranks a workflow's
// CoAllocation groups by upward rank, then walks them in that order,
// reserving each group's members against the master component with
// their booking window tightened to the earliest time their incoming
// DataDependencies could have finished transferring.
type Scheduler struct {
	store *reservation.Store

	// AvgNetworkSpeed estimates DataDependency transfer time as
	// Size/AvgNetworkSpeed. A non-positive value treats every transfer
	// as instantaneous, matching the original's avg_net_speed == 0
	// fallback.
	AvgNetworkSpeed int64

	// currentWorkflow is set for the duration of a Schedule call so
	// nodeDuration/lookupNode don't need wf threaded through every
	// helper; Schedule only ever processes one workflow at a time.
	currentWorkflow *Workflow

	Log zerolog.Logger
}

// NewScheduler builds a Scheduler backed by store, the same
// reservation store every subtask in submitted Workflows must already
// be registered in.
func NewScheduler(store *reservation.Store, log zerolog.Logger) *Scheduler {
	return &Scheduler{store: store, Log: log.With().Str("subsystem", "workflow-scheduler").Logger()}
}

// transferTime estimates a DataDependency's transfer duration in
// seconds: ceil(size/AvgNetworkSpeed), floored at 1 second whenever the
// transfer carries any bytes at all. A non-positive AvgNetworkSpeed
// treats every transfer as instantaneous, matching the original's
// avg_net_speed == 0 fallback.
func (s *Scheduler) transferTime(dep *DataDependency) float64 {
	if dep == nil || dep.Size <= 0 || s.AvgNetworkSpeed <= 0 {
		return 0
	}
	seconds := math.Ceil(float64(dep.Size) / float64(s.AvgNetworkSpeed))
	if seconds < 1 {
		seconds = 1
	}
	return seconds
}

func (s *Scheduler) nodeDuration(group *CoAllocation) float64 {
	var longest float64
	for _, nodeID := range group.Members {
		node := s.lookupNode(group, nodeID)
		if node == nil {
			continue
		}
		r := s.store.Get(node.ReservationID)
		if r == nil {
			continue
		}
		if d := r.TaskDuration.Seconds(); d > longest {
			longest = d
		}
	}
	return longest
}

// lookupNode is a small indirection so nodeDuration/Schedule share one
// Workflow's Nodes map without threading it through every call site.
func (s *Scheduler) lookupNode(group *CoAllocation, nodeID string) *Node {
	return s.currentWorkflow.Nodes[nodeID]
}

func (s *Scheduler) withWorkflow(wf *Workflow, fn func()) {
	s.currentWorkflow = wf
	defer func() { s.currentWorkflow = nil }()
	fn()
}

// Schedule builds wf's CoAllocation DAG, ranks its groups, and greedily
// reserves every group's members against masterADC in rank order. On
// any reservation failure it cancels every subtask reserved so far and
// returns false; on success it registers the whole placement with
// masterADC (if it is an *component.ADC) and widens wf's own
// reservation window to the min/max of its subtasks.
func (s *Scheduler) Schedule(ctx context.Context, wf *Workflow, masterADC component.Component) bool {
	var ok bool
	s.withWorkflow(wf, func() {
		ok = s.schedule(ctx, wf, masterADC)
	})
	return ok
}

func (s *Scheduler) schedule(ctx context.Context, wf *Workflow, masterADC component.Component) bool {
	BuildCoAllocationDAG(wf)
	order := wf.UpwardRankOrder(s.nodeDuration, s.transferTime)

	wfRes := s.store.Get(wf.ID)
	if wfRes == nil {
		s.Log.Error().Msg("workflow reservation missing from store")
		return false
	}
	clientID := wfRes.ClientID
	wfEnd := wfRes.BookingIntervalEnd

	var scheduled []reservation.ID
	placements := make(map[reservation.ID]string)

	rollback := func() {
		for _, id := range scheduled {
			masterADC.Delete(id)
		}
	}

	var assignedStart, assignedEnd time.Time

	for _, groupID := range order {
		select {
		case <-ctx.Done():
			rollback()
			return false
		default:
		}

		group := wf.CoAllocations[groupID]
		earliestStart := s.earliestFeasibleStart(wf, group)

		var groupStart, groupEnd time.Time

		for i, nodeID := range group.Members {
			node := wf.Nodes[nodeID]
			r := s.store.Get(node.ReservationID)
			if r == nil {
				s.Log.Error().Str("node", nodeID).Msg("workflow node reservation missing from store")
				rollback()
				return false
			}

			s.store.Mutate(node.ReservationID, func(mr *reservation.Reservation) {
				if earliestStart.After(mr.BookingIntervalStart) {
					mr.BookingIntervalStart = earliestStart
				}
				if i > 0 {
					mr.BookingIntervalStart = groupStart
					mr.BookingIntervalEnd = groupEnd
				}
			})

			if !masterADC.Reserve(node.ReservationID, r.ClientID, time.Time{}, time.Time{}) {
				s.Log.Error().Str("node", nodeID).Msg("reserve failed during workflow scheduling, rolling back")
				rollback()
				return false
			}

			reserved := s.store.Get(node.ReservationID)
			scheduled = append(scheduled, node.ReservationID)

			if adc, isADC := masterADC.(*component.ADC); isADC {
				if handler, found := adc.HandlerOf(node.ReservationID); found {
					placements[node.ReservationID] = handler
				}
			}

			if i == 0 {
				groupStart, groupEnd = reserved.AssignedStart, reserved.AssignedEnd
			}

			if assignedStart.IsZero() || reserved.AssignedStart.Before(assignedStart) {
				assignedStart = reserved.AssignedStart
			}
			if reserved.AssignedEnd.After(assignedEnd) {
				assignedEnd = reserved.AssignedEnd
			}
		}

		// Register every SyncDependency LinkReservation within this
		// group - held open for exactly the co-allocated window its two
		// endpoints share.
		for _, dep := range group.SyncDeps {
			if !s.reserveDependencyLink(masterADC, dep.ReservationID, dep.Source, dep.Target, clientID,
				groupStart, groupEnd, groupEnd.Sub(groupStart), &scheduled, placements) {
				s.Log.Error().Str("dependency", dep.ID).Msg("sync dependency link reserve failed, rolling back")
				rollback()
				return false
			}
		}

		// Register every DataDependency LinkReservation whose target is
		// this group - by now both the producer (scheduled in an
		// earlier, predecessor group) and the consumer (just scheduled
		// above) have assigned windows.
		for _, coDep := range group.IncomingDeps {
			dep := coDep.DataDependency
			sourceNode := wf.Nodes[dep.Source]
			sourceRes := s.store.Get(sourceNode.ReservationID)
			if sourceRes == nil {
				s.Log.Error().Str("dependency", dep.ID).Msg("data dependency source reservation missing from store")
				rollback()
				return false
			}
			duration := time.Duration(s.transferTime(dep)) * time.Second
			if !s.reserveDependencyLink(masterADC, dep.ReservationID, dep.Source, dep.Target, clientID,
				sourceRes.AssignedEnd, wfEnd, duration, &scheduled, placements) {
				s.Log.Error().Str("dependency", dep.ID).Msg("data dependency link reserve failed, rolling back")
				rollback()
				return false
			}
		}
	}

	// A DataDependency whose endpoints both landed in the same
	// CoAllocation group never became a CoAllocationDependency (dag.go
	// only tracks cross-group edges), so it still needs its
	// LinkReservation registered here.
	for depID, dep := range wf.DataDeps {
		if _, crossesGroups := wf.CoAllocationDeps[depID]; crossesGroups {
			continue
		}
		sourceNode := wf.Nodes[dep.Source]
		if sourceNode == nil {
			continue
		}
		sourceRes := s.store.Get(sourceNode.ReservationID)
		if sourceRes == nil {
			continue
		}
		duration := time.Duration(s.transferTime(dep)) * time.Second
		if !s.reserveDependencyLink(masterADC, dep.ReservationID, dep.Source, dep.Target, clientID,
			sourceRes.AssignedEnd, wfEnd, duration, &scheduled, placements) {
			s.Log.Error().Str("dependency", dep.ID).Msg("data dependency link reserve failed, rolling back")
			rollback()
			return false
		}
	}

	if adc, isADC := masterADC.(*component.ADC); isADC && len(placements) > 0 {
		adc.RegisterWorkflowSubtasks(wf.ID, placements)
	}

	s.store.Mutate(wf.ID, func(mr *reservation.Reservation) {
		mr.AssignedStart = assignedStart
		mr.AssignedEnd = assignedEnd
	})
	s.store.UpdateState(wf.ID, statemachine.ReserveAnswer)

	return true
}

// reserveDependencyLink registers one DataDependency or SyncDependency's
// LinkReservation: its endpoints are set to the producer and consumer
// nodes' routers (per §4.7 step 3), its booking interval pinned to
// [start, end], and its duration to dur, then it is reserved through
// masterADC exactly like a node subtask so it ends up tracked (and
// later committable) the same way.
func (s *Scheduler) reserveDependencyLink(masterADC component.Component, linkID reservation.ID, sourceNodeID, targetNodeID, clientID string,
	start, end time.Time, dur time.Duration, scheduled *[]reservation.ID, placements map[reservation.ID]string) bool {

	sourceNode := s.currentWorkflow.Nodes[sourceNodeID]
	targetNode := s.currentWorkflow.Nodes[targetNodeID]
	if sourceNode == nil || targetNode == nil {
		s.Log.Error().Str("link", string(linkID)).Msg("dependency link endpoint node missing from workflow")
		return false
	}

	sourceRes := s.store.Get(sourceNode.ReservationID)
	targetRes := s.store.Get(targetNode.ReservationID)
	if sourceRes == nil || targetRes == nil || sourceRes.Node == nil || targetRes.Node == nil {
		s.Log.Error().Str("link", string(linkID)).Msg("dependency link endpoint reservation missing from store")
		return false
	}

	s.store.Mutate(linkID, func(mr *reservation.Reservation) {
		if mr.Link == nil {
			mr.Link = &reservation.LinkDetail{}
		}
		mr.Link.SourceRouterID = sourceRes.Node.RouterID
		mr.Link.TargetRouterID = targetRes.Node.RouterID
		mr.BookingIntervalStart = start
		mr.BookingIntervalEnd = end
		mr.TaskDuration = dur
	})

	if !masterADC.Reserve(linkID, clientID, time.Time{}, time.Time{}) {
		return false
	}

	*scheduled = append(*scheduled, linkID)
	if adc, isADC := masterADC.(*component.ADC); isADC {
		if handler, found := adc.HandlerOf(linkID); found {
			placements[linkID] = handler
		}
	}
	return true
}

// earliestFeasibleStart is the latest point at which every incoming
// CoAllocationDependency's transfer could have completed - group start
// is never earlier than max(source group end + transfer time).
func (s *Scheduler) earliestFeasibleStart(wf *Workflow, group *CoAllocation) time.Time {
	var earliest time.Time

	for _, dep := range group.IncomingDeps {
		sourceGroup := wf.CoAllocations[dep.SourceGroup]
		var sourceEnd time.Time
		for _, nodeID := range sourceGroup.Members {
			node := wf.Nodes[nodeID]
			if node == nil {
				continue
			}
			r := s.store.Get(node.ReservationID)
			if r == nil {
				continue
			}
			if r.AssignedEnd.After(sourceEnd) {
				sourceEnd = r.AssignedEnd
			}
		}
		candidate := sourceEnd.Add(time.Duration(s.transferTime(dep.DataDependency)) * time.Second)
		if candidate.After(earliest) {
			earliest = candidate
		}
	}

	return earliest
}

// Commit cascades a commit across every subtask of wf, rolling back
// (deleting) every subtask already committed on the first failure -
// the same all-or-nothing guarantee a single reservation's Commit
// gives, applied at the workflow granularity.
func (s *Scheduler) Commit(wf *Workflow, masterADC component.Component) bool {
	ids := wf.subtaskReservations()
	var committed []reservation.ID

	for _, id := range ids {
		if !masterADC.Commit(id) {
			for _, done := range committed {
				masterADC.Delete(done)
			}
			s.store.UpdateState(wf.ID, statemachine.Rejected)
			return false
		}
		committed = append(committed, id)
	}

	s.store.UpdateState(wf.ID, statemachine.Committed)
	return true
}
