// Package statemachine encodes the reservation lifecycle as a single
// totally-ordered lattice of states plus one dispatch function,
// Transition, that holds the allowed moves in one place. The
// reservation store and the components set states directly
// (reservation.Store.UpdateState/Mutate); they do not call Transition.
package statemachine

// State is the lifecycle stage of a reservation. Values are declared in
// commitment order so AtLeast can be a plain integer comparison instead
// of a lookup table.
type State int

const (
	Rejected State = iota
	Deleted
	Open
	ProbeAnswer
	ReserveAnswer
	Committed
	Finished
)

func (s State) String() string {
	switch s {
	case Rejected:
		return "Rejected"
	case Deleted:
		return "Deleted"
	case Open:
		return "Open"
	case ProbeAnswer:
		return "ProbeAnswer"
	case ReserveAnswer:
		return "ReserveAnswer"
	case Committed:
		return "Committed"
	case Finished:
		return "Finished"
	default:
		return "Unknown"
	}
}

// Event is a requested lifecycle transition, mirroring the original
// ReservationProceeding values plus the terminal events a component
// surface can emit.
type Event int

const (
	EventProbe Event = iota
	EventReserve
	EventCommit
	EventDelete
	EventReject
	EventFinish
)

func (e Event) String() string {
	switch e {
	case EventProbe:
		return "Probe"
	case EventReserve:
		return "Reserve"
	case EventCommit:
		return "Commit"
	case EventDelete:
		return "Delete"
	case EventReject:
		return "Reject"
	case EventFinish:
		return "Finish"
	default:
		return "Unknown"
	}
}

// transitions is the full lattice. A (current, event) pair missing from
// this table is not a valid move; Transition reports that with ok=false
// and the caller stays in current, it never guesses.
var transitions = map[State]map[Event]State{
	Open: {
		EventProbe:   ProbeAnswer,
		EventReserve: ReserveAnswer,
		EventReject:  Rejected,
		EventDelete:  Deleted,
	},
	ProbeAnswer: {
		EventProbe:   ProbeAnswer,
		EventReserve: ReserveAnswer,
		EventReject:  Rejected,
		EventDelete:  Deleted,
	},
	ReserveAnswer: {
		EventCommit: Committed,
		EventDelete: Deleted,
		EventReject: Rejected,
	},
	Committed: {
		EventDelete: Deleted,
		EventFinish: Finished,
		EventReject: Rejected,
	},
}

// Transition is the single dispatch point for every reservation state
// change in the system. It returns the next state and whether the move
// was legal; an illegal move leaves current untouched.
func Transition(current State, event Event) (State, bool) {
	next, ok := transitions[current][event]
	if !ok {
		return current, false
	}
	return next, true
}

// AtLeast reports whether state has progressed to or past threshold in
// commitment order, the comparison used throughout the reservation
// protocol (e.g. "is the candidate at least ReserveAnswer").
func AtLeast(state, threshold State) bool {
	return state >= threshold
}

// Terminal reports whether state accepts no further transitions.
func Terminal(state State) bool {
	return state == Rejected || state == Deleted || state == Finished
}
