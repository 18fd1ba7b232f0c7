package rms

import (
	"context"
	"fmt"
	"time"

	slurm "github.com/jontk/slurm-client"
	slurmapi "github.com/jontk/slurm-client/api"
	"github.com/rs/zerolog"

	"github.com/cuemby/vrm/pkg/reservation"
)

// SlurmRMS submits committed node reservations as Slurm jobs via
// github.com/jontk/slurm-client, the adapter the AcI uses for grid
// nodes that are in fact a real Slurm partition rather than a
// simulated resource.
type SlurmRMS struct {
	client    slurm.SlurmClient
	partition string
	log       zerolog.Logger
}

// NewSlurmRMS wraps an already-constructed slurm.SlurmClient (built via
// slurm.NewClient with whatever auth/config options the deployment
// needs) for submission against partition.
func NewSlurmRMS(client slurm.SlurmClient, partition string, log zerolog.Logger) *SlurmRMS {
	return &SlurmRMS{
		client:    client,
		partition: partition,
		log:       log.With().Str("rms", "slurm").Str("partition", partition).Logger(),
	}
}

func (s *SlurmRMS) Kind() string { return "slurm" }

// Submit translates a committed node reservation into a Slurm batch
// job sized to the reservation's assigned window and capacity.
func (s *SlurmRMS) Submit(ctx context.Context, r *reservation.Reservation) error {
	if r.Node == nil {
		return fmt.Errorf("rms: reservation %s has no node detail, cannot submit to slurm", r.ID)
	}

	timeLimit := int(r.TaskDuration / time.Minute)
	if timeLimit <= 0 {
		timeLimit = 1
	}

	submission := &slurmapi.JobSubmission{
		Name:      r.Name,
		Partition: s.partition,
		CPUs:      int(r.ReservedCapacity),
		TimeLimit: timeLimit,
		Command:   "true",
	}

	resp, err := s.client.Submit(ctx, submission)
	if err != nil {
		s.log.Error().Err(err).Str("reservation", string(r.ID)).Msg("slurm job submission failed")
		return fmt.Errorf("rms: slurm submit: %w", err)
	}

	r.HandlerID = fmt.Sprintf("%d", resp.JobId)
	s.log.Info().Str("reservation", string(r.ID)).Str("slurm_job_id", r.HandlerID).Msg("submitted reservation to slurm")

	return nil
}

// Cancel cancels the Slurm job backing r. The reservation's HandlerID
// field carries the Slurm job id recorded at Submit time, since
// slurm-client cancels by job id rather than by name.
func (s *SlurmRMS) Cancel(ctx context.Context, r *reservation.Reservation) error {
	if r.HandlerID == "" {
		s.log.Warn().Str("reservation", string(r.ID)).Msg("no slurm job id recorded, nothing to cancel")
		return nil
	}
	if err := s.client.Cancel(ctx, r.HandlerID); err != nil {
		s.log.Error().Err(err).Str("reservation", string(r.ID)).Msg("slurm job cancellation failed")
		return fmt.Errorf("rms: slurm cancel: %w", err)
	}
	return nil
}
