// Package rms is the boundary between an AcI's own scheduling math
// (pkg/schedule, pkg/topology) and whatever system actually executes
// committed reservations. A committed reservation is a promise the VRM
// has already made to a client; the RMS adapter's only job is to
// mirror that promise onto real infrastructure (or, for NullRMS and
// the simulator, onto nothing at all).
package rms

import (
	"context"

	"github.com/cuemby/vrm/pkg/reservation"
)

// RMS is the local resource management system an AcI delegates actual
// job submission/cancellation to once a reservation is committed. The
// feasibility search and capacity accounting always happen in
// pkg/schedule; RMS never participates in that decision, matching the
// grid_resource_management_system/rms layer's narrow role as the
// physical-execution boundary.
type RMS interface {
	// Kind identifies the adapter for logging and metrics labels.
	Kind() string

	// Submit hands a committed reservation to the underlying system for
	// execution. Called exactly once per reservation, at Commit.
	Submit(ctx context.Context, r *reservation.Reservation) error

	// Cancel tells the underlying system to stop/cancel an already
	// submitted reservation. Called at Delete for reservations at or
	// past Committed.
	Cancel(ctx context.Context, r *reservation.Reservation) error
}

// NullRMS is the no-op adapter used by AcIs whose resources are purely
// simulated or whose capacity has no backing execution system -
// the Go equivalent of the original's NullRms, used wherever an AcI's
// grid nodes/network links don't warrant a real scheduler connection.
type NullRMS struct{}

func (NullRMS) Kind() string { return "null" }

func (NullRMS) Submit(context.Context, *reservation.Reservation) error { return nil }

func (NullRMS) Cancel(context.Context, *reservation.Reservation) error { return nil }
