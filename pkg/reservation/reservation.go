// Package reservation holds the common reservation record shared by
// node, link, and workflow reservations, plus the store that owns
// every reservation's canonical state.
package reservation

import (
	"time"

	"github.com/google/uuid"

	"github.com/cuemby/vrm/pkg/statemachine"
)

// ID identifies a reservation. It is a string (uuid v4) rather than a
// raw int so it can never be mistaken for an arithmetic quantity.
type ID string

// ShadowID identifies a shadow schedule transaction.
type ShadowID string

// NewID mints a fresh reservation identifier.
func NewID() ID {
	return ID(uuid.NewString())
}

// NewShadowID mints a fresh shadow schedule identifier.
func NewShadowID() ShadowID {
	return ShadowID(uuid.NewString())
}

// Proceeding is the requested operation that produced (or is about to
// produce) a state transition. It is recorded on the reservation so
// downstream logging/analytics can say what the last request was.
type Proceeding int

const (
	ProceedingProbe Proceeding = iota
	ProceedingReserve
	ProceedingCommit
	ProceedingDelete
)

func (p Proceeding) String() string {
	switch p {
	case ProceedingProbe:
		return "Probe"
	case ProceedingReserve:
		return "Reserve"
	case ProceedingCommit:
		return "Commit"
	case ProceedingDelete:
		return "Delete"
	default:
		return "Unknown"
	}
}

// Kind tags which of NodeDetail/LinkDetail/WorkflowDetail a Reservation
// carries. Exactly one of Node/Link/Workflow is non-nil, matching Kind.
type Kind int

const (
	KindNode Kind = iota
	KindLink
	KindWorkflow
)

func (k Kind) String() string {
	switch k {
	case KindNode:
		return "Node"
	case KindLink:
		return "Link"
	case KindWorkflow:
		return "Workflow"
	default:
		return "Unknown"
	}
}

// Base is the common record every reservation variant embeds.
type Base struct {
	ID         ID
	Name       string
	ClientID   string
	HandlerID  string
	State      statemachine.State
	Proceeding Proceeding

	ArrivalTime time.Time

	// Booking interval is the caller-supplied window the reservation must
	// land within; assigned start/end is where the scheduler actually
	// placed it, always a subset of the booking interval.
	BookingIntervalStart time.Time
	BookingIntervalEnd   time.Time
	AssignedStart        time.Time
	AssignedEnd          time.Time

	TaskDuration     time.Duration
	ReservedCapacity int64

	// Moldable reservations may have their ReservedCapacity reshaped by
	// the scheduler as long as ReservedCapacity * TaskDuration stays
	// close to MoldableWork.
	IsMoldable   bool
	MoldableWork int64

	// FragDelta holds a per-reservation fragmentation contribution.
	// Nothing in the tree sets or reads it; ResubmitFragmentation
	// recomputes from the schedule instead.
	FragDelta float64
}

// AdjustCapacity reshapes a moldable reservation's TaskDuration to match
// a new ReservedCapacity while holding MoldableWork constant. Non-
// moldable reservations log and proceed unchanged in the original; here
// the caller (schedule package) is expected to never invoke this on a
// non-moldable reservation, so a mismatch is reported via the ok return
// instead of silently warning.
func (b *Base) AdjustCapacity(capacity int64) bool {
	if capacity == b.ReservedCapacity {
		return true
	}
	if !b.IsMoldable {
		return false
	}

	if capacity == 0 {
		b.TaskDuration = time.Duration(b.MoldableWork)
		b.ReservedCapacity = 1
	} else {
		b.TaskDuration = time.Duration(b.MoldableWork / capacity)
		b.ReservedCapacity = capacity
	}

	if b.TaskDuration <= 0 {
		b.TaskDuration = 1
	}
	return true
}

// NodeDetail carries the fields specific to a compute-node reservation.
type NodeDetail struct {
	RouterID string
}

// LinkDetail carries the fields specific to a network-link reservation.
type LinkDetail struct {
	SourceRouterID string
	TargetRouterID string
	// BookedPath, when non-empty, is the sequence of link ids the
	// LinkStrategy committed capacity on for this reservation.
	BookedPath []string
}

// WorkflowDetail carries the fields specific to a workflow reservation:
// the graph of WorkflowNodes plus the dependencies between them. The
// graph itself lives in pkg/workflow; this only stores the ids the
// reservation layer needs to track children.
type WorkflowDetail struct {
	SubtaskIDs []ID
}

// Reservation is the tagged union of the three reservation variants.
// Callers downcast via Kind only at the node-strategy/link-strategy/
// workflow-scheduler boundary.
type Reservation struct {
	Base

	Kind     Kind
	Node     *NodeDetail
	Link     *LinkDetail
	Workflow *WorkflowDetail
}

// Clone deep-copies a reservation, used by Store.Snapshot and by shadow
// schedule creation.
func (r *Reservation) Clone() *Reservation {
	clone := *r
	if r.Node != nil {
		n := *r.Node
		clone.Node = &n
	}
	if r.Link != nil {
		l := *r.Link
		l.BookedPath = append([]string(nil), r.Link.BookedPath...)
		clone.Link = &l
	}
	if r.Workflow != nil {
		w := *r.Workflow
		w.SubtaskIDs = append([]ID(nil), r.Workflow.SubtaskIDs...)
		clone.Workflow = &w
	}
	return &clone
}
