package rms

import (
	"context"
	"sync"

	"github.com/cuemby/vrm/pkg/reservation"
)

// Simulator is an in-memory RMS that just remembers which reservation
// ids are currently "running" - used in tests and demo runs standing
// in for a real cluster, mirroring the original's RmsSimulator which
// advances task state on its own clock rather than talking to a
// physical scheduler.
type Simulator struct {
	mu      sync.Mutex
	running map[reservation.ID]struct{}
}

// NewSimulator builds an empty Simulator.
func NewSimulator() *Simulator {
	return &Simulator{running: make(map[reservation.ID]struct{})}
}

func (s *Simulator) Kind() string { return "simulator" }

func (s *Simulator) Submit(_ context.Context, r *reservation.Reservation) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.running[r.ID] = struct{}{}
	return nil
}

func (s *Simulator) Cancel(_ context.Context, r *reservation.Reservation) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.running, r.ID)
	return nil
}

// IsRunning reports whether id was submitted and not yet cancelled.
func (s *Simulator) IsRunning(id reservation.ID) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.running[id]
	return ok
}
