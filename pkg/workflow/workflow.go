// Package workflow implements the HEFT-sync workflow scheduler: a DAG
// of WorkflowNodes joined by DataDependency (file transfer, moldable)
// and SyncDependency (co-allocated, must-run-simultaneously) edges,
// collapsed into a CoAllocation graph and scheduled group by group in
// upward-rank order.
//
// Grounded on original_source's domain/vrm_system_model/workflow/workflow.rs
// (graph construction, CoAllocation grouping, upward/downward rank) and
// grid_resource_management_system/scheduler/heft_sync_workflow_scheduler.rs
// (the scheduling loop itself). The DTO/JSON parsing phase the original
// runs before graph construction is not reproduced here: cmd/vrm
// builds Workflow values directly from the already-validated document,
// this package starts from the graph.
package workflow

import (
	"fmt"

	"github.com/rs/zerolog"

	"github.com/cuemby/vrm/pkg/reservation"
)

// Node is one schedulable unit of a workflow - almost always a node
// reservation, occasionally absorbed into a coarser CoAllocation group
// via SyncDependency edges.
type Node struct {
	ID            string
	ReservationID reservation.ID

	IncomingData []string
	OutgoingData []string
	IncomingSync []string
	OutgoingSync []string

	coAllocationID string
}

// DataDependency is a one-shot file transfer between two nodes: it
// does not force co-allocation, only an ordering (target can't start
// until the transfer, represented by its own LinkReservation, would
// complete).
type DataDependency struct {
	ID            string
	ReservationID reservation.ID
	Source        string
	Target        string
	Size          int64
}

// SyncDependency is a bandwidth-reserving edge between two nodes that
// must execute at the same time; all nodes connected (transitively) by
// SyncDependency edges are merged into one CoAllocation group.
type SyncDependency struct {
	ID            string
	ReservationID reservation.ID
	Source        string
	Target        string
	Bandwidth     int64
}

// Workflow is the full per-submission graph: nodes plus the two edge
// kinds, plus (once BuildCoAllocationDAG has run) the CoAllocation
// overlay used for scheduling.
type Workflow struct {
	ID reservation.ID

	Nodes           map[string]*Node
	DataDeps        map[string]*DataDependency
	SyncDeps        map[string]*SyncDependency
	CoAllocations   map[string]*CoAllocation
	CoAllocationDeps map[string]*CoAllocationDependency

	EntryGroups []string
	ExitGroups  []string

	Log zerolog.Logger
}

// New builds an empty Workflow for the reservation id wfID, which must
// already exist in the reservation store with Kind == KindWorkflow.
func New(wfID reservation.ID, log zerolog.Logger) *Workflow {
	return &Workflow{
		ID:               wfID,
		Nodes:            make(map[string]*Node),
		DataDeps:         make(map[string]*DataDependency),
		SyncDeps:         make(map[string]*SyncDependency),
		CoAllocations:    make(map[string]*CoAllocation),
		CoAllocationDeps: make(map[string]*CoAllocationDependency),
		Log:              log.With().Str("workflow", string(wfID)).Logger(),
	}
}

// AddNode registers a workflow node backed by reservationID, which must
// already exist in the store as a node reservation.
func (w *Workflow) AddNode(id string, reservationID reservation.ID) {
	w.Nodes[id] = &Node{ID: id, ReservationID: reservationID}
}

// AddDataDependency links source -> target by a transfer of size bytes
// over the link reservation linkRes. A dependency whose endpoint node
// is missing is discarded with a logged warning rather than rejecting
// the whole workflow, per the endpoint-presence invariant.
func (w *Workflow) AddDataDependency(id, source, target string, linkRes reservation.ID, size int64) error {
	sourceNode, sourceOK := w.Nodes[source]
	targetNode, targetOK := w.Nodes[target]
	if !sourceOK || !targetOK {
		w.Log.Warn().Str("dependency", id).Str("source", source).Str("target", target).
			Msg("discarding data dependency with missing endpoint node")
		return fmt.Errorf("workflow: data dependency %q references missing node", id)
	}

	dep := &DataDependency{ID: id, ReservationID: linkRes, Source: source, Target: target, Size: size}
	w.DataDeps[id] = dep
	sourceNode.OutgoingData = append(sourceNode.OutgoingData, id)
	targetNode.IncomingData = append(targetNode.IncomingData, id)
	return nil
}

// AddSyncDependency links source -> target with a bandwidth
// reservation over linkRes; both nodes will end up in the same
// CoAllocation group once BuildCoAllocationDAG runs.
func (w *Workflow) AddSyncDependency(id, source, target string, linkRes reservation.ID, bandwidth int64) error {
	sourceNode, sourceOK := w.Nodes[source]
	targetNode, targetOK := w.Nodes[target]
	if !sourceOK || !targetOK {
		w.Log.Warn().Str("dependency", id).Str("source", source).Str("target", target).
			Msg("discarding sync dependency with missing endpoint node")
		return fmt.Errorf("workflow: sync dependency %q references missing node", id)
	}

	dep := &SyncDependency{ID: id, ReservationID: linkRes, Source: source, Target: target, Bandwidth: bandwidth}
	w.SyncDeps[id] = dep
	sourceNode.OutgoingSync = append(sourceNode.OutgoingSync, id)
	targetNode.IncomingSync = append(targetNode.IncomingSync, id)
	return nil
}

// subtaskReservations returns every reservation id a member of this
// workflow's graph is backed by: every node plus every dependency's
// link reservation.
func (w *Workflow) subtaskReservations() []reservation.ID {
	out := make([]reservation.ID, 0, len(w.Nodes)+len(w.DataDeps)+len(w.SyncDeps))
	for _, n := range w.Nodes {
		out = append(out, n.ReservationID)
	}
	for _, d := range w.DataDeps {
		out = append(out, d.ReservationID)
	}
	for _, s := range w.SyncDeps {
		out = append(out, s.ReservationID)
	}
	return out
}
