// Package shadow drives a hierarchical shadow-schedule transaction
// across a component.Component tree: a probe-then-commit-or-rollback
// sequence that lets the optimisation cycle (and, eventually, workflow
// co-allocation) try a change against an isolated copy of every
// affected schedule before it touches the live one.
//
// Grounded on reservation_store.rs's snapshot() (the per-transaction
// store copy every component's shadow schedule is cloned against) and
// aci.rs's commit_shadow_schedule/rollback behavior.
package shadow

import (
	"github.com/rs/zerolog"

	"github.com/cuemby/vrm/pkg/component"
	"github.com/cuemby/vrm/pkg/reservation"
)

// Manager creates, commits, and rolls back shadow-schedule
// transactions against a root component.Component and its full
// subtree.
type Manager struct {
	root  component.Component
	store *reservation.Store
	Log   zerolog.Logger
}

// NewManager builds a Manager over root, whose CreateShadow fans out
// depth-first to every descendant. store is the live reservation
// store; each transaction snapshots it independently.
func NewManager(root component.Component, store *reservation.Store, log zerolog.Logger) *Manager {
	return &Manager{root: root, store: store, Log: log.With().Str("subsystem", "shadow").Logger()}
}

// Begin creates a new shadow transaction: a fresh store snapshot plus
// one CreateShadow call on the root, which (for an ADC) fans out
// depth-first to every descendant itself. If any component in the tree
// refuses (a shadow id it already holds), every leg already created is
// rolled back and Begin reports failure - shadow creation is
// all-or-nothing, matching the "shadow isolation" invariant that a
// half-created transaction must never become visible.
func (m *Manager) Begin() (reservation.ShadowID, bool) {
	shadowID := reservation.NewShadowID()
	shadowStore := m.store.Snapshot()

	created := walkAndCreate(m.root, shadowID, shadowStore, nil)
	if created == nil {
		m.Log.Error().Str("shadow", string(shadowID)).Msg("shadow transaction failed to create on one or more components")
		return shadowID, false
	}

	return shadowID, true
}

// walkAndCreate returns the list of components that accepted
// CreateShadow, in creation order, or nil if c refused (after rolling
// back everything already created). It does not descend into c's
// children: an ADC's own CreateShadow already creates the shadow on
// every descendant and rolls back its own partial legs.
func walkAndCreate(c component.Component, shadowID reservation.ShadowID, shadowStore *reservation.Store, created []component.Component) []component.Component {
	if !c.CreateShadow(shadowID, shadowStore) {
		for i := len(created) - 1; i >= 0; i-- {
			created[i].DeleteShadow(shadowID)
		}
		return nil
	}
	created = append(created, c)

	return created
}

// Commit promotes shadowID to live state across the whole tree. A
// component refusing here means the shadow and master state have
// already diverged since Begin - unrecoverable, so Commit lets
// component.ErrCompromised panic through rather than attempting a
// partial rollback of already-promoted children.
func (m *Manager) Commit(shadowID reservation.ShadowID) bool {
	return commitTree(m.root, shadowID)
}

// commitTree commits shadowID on c only; an ADC's CommitShadow already
// promotes the shadow on every descendant.
func commitTree(c component.Component, shadowID reservation.ShadowID) bool {
	return c.CommitShadow(shadowID)
}

// Rollback discards shadowID everywhere in the tree without touching
// live state. Safe to call on a transaction that never finished
// Begin; components with no matching shadow id simply no-op.
func (m *Manager) Rollback(shadowID reservation.ShadowID) {
	rollbackTree(m.root, shadowID)
}

func rollbackTree(c component.Component, shadowID reservation.ShadowID) {
	c.DeleteShadow(shadowID)
	for _, child := range c.Children() {
		rollbackTree(child, shadowID)
	}
}
