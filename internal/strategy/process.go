package strategy

import (
	"context"
	"fmt"
	"strconv"

	apperrors "github.com/lead-scanner/internal/errors"
	"github.com/lead-scanner/internal/logging"
	"github.com/lead-scanner/internal/models"
	"github.com/lead-scanner/internal/types"
	"github.com/lead-scanner/internal/worker"
)

// ProcessStrategy delegates a job to the external lead worker and follows it
// through the progress protocol on the worker's stdout
type ProcessStrategy struct {
	command worker.Command
	decoder *worker.Decoder
	// done, when set, is called after a supervised worker has been fully handled
	done func(jobID string)
}

// NewProcessStrategy creates the worker-process strategy
func NewProcessStrategy(command worker.Command, decoder *worker.Decoder) *ProcessStrategy {
	if decoder == nil {
		decoder = worker.NewDecoder("")
	}
	return &ProcessStrategy{command: command, decoder: decoder}
}

// Name implements Strategy
func (s *ProcessStrategy) Name() string { return NameProcess }

// Detached implements Strategy
func (s *ProcessStrategy) Detached() bool { return true }

// Execute spawns the worker with (jobId, sourceUrl, targetLeadCount) and
// returns once it is running. A spawn failure is returned as a StrategyError.
func (s *ProcessStrategy) Execute(ctx context.Context, run *Run) error {
	logger := logging.FromContext(ctx).WithFields(map[string]interface{}{
		"jobId":    run.JobID,
		"strategy": NameProcess,
	})
	ctx = logging.WithLogger(ctx, logger)

	proc, err := worker.Start(s.command, run.JobID, run.SourceURL, strconv.Itoa(run.TargetLeadCount))
	if err != nil {
		return apperrors.NewStrategyError(NameProcess, fmt.Sprintf("failed to start worker: %v", err), err)
	}
	if run.Handles != nil {
		run.Handles.Attach(proc)
	}

	logger.WithField("pid", proc.PID()).Info("Worker process started")

	go s.supervise(ctx, run, proc)
	return nil
}

func (s *ProcessStrategy) supervise(ctx context.Context, run *Run, proc *worker.Process) {
	if run.Handles != nil {
		defer run.Handles.Detach(proc)
	}
	if s.done != nil {
		defer s.done(run.JobID)
	}

	state := &processState{run: run}
	outcome := worker.Supervise(ctx, proc, s.decoder, func(u models.ProgressUpdate) {
		state.apply(ctx, u)
	})

	switch {
	case outcome.Cancelled:
		run.Progress.Finish(ctx, types.JobError,
			fmt.Sprintf("worker cancelled by operator (exited with code %d)", outcome.ExitCode))
	case outcome.ExitCode != 0:
		run.Progress.Finish(ctx, types.JobError, fmt.Sprintf("worker exited with code %d", outcome.ExitCode))
	default:
		run.Progress.Finish(ctx, types.JobFinished,
			fmt.Sprintf("worker completed: %d new leads", state.accepted))
	}
}

// processState is owned by the supervising goroutine
type processState struct {
	run      *Run
	begun    bool
	accepted int
}

func (p *processState) apply(ctx context.Context, u models.ProgressUpdate) {
	logger := logging.FromContext(ctx)

	status, ok := worker.MapStatus(u.Status)
	if !ok {
		logger.WithField("status", u.Status).Warn("Ignoring worker update with unknown status")
		return
	}

	if !p.begun && status != types.JobError {
		p.begun = true
		p.run.Progress.Begin(ctx, p.run.TargetLeadCount, "worker started")
	}

	accepted := false
	if u.LeadCandidate != nil {
		verdict, err := Accept(ctx, p.run.Sink, p.run.JobID, *u.LeadCandidate)
		if err != nil {
			logger.WithError(apperrors.NewCandidateError(u.LeadCandidate.ListingURL, err)).Trace("Candidate failed")
		} else {
			accepted = verdict == VerdictAccepted
			logger.WithFields(map[string]interface{}{
				"listingUrl": u.LeadCandidate.ListingURL,
				"verdict":    string(verdict),
			}).Trace("Worker candidate evaluated")
		}
	}
	if accepted {
		p.accepted++
	}

	message := u.Message
	if message == "" {
		message = fmt.Sprintf("processed %d", u.Processed)
	}

	switch status {
	case types.JobRunning:
		p.run.Progress.Observe(ctx, u.Processed, accepted, message)
	case types.JobFinished:
		p.run.Progress.Observe(ctx, u.Processed, accepted, message)
		p.run.Progress.Finish(ctx, types.JobFinished, message)
	case types.JobError:
		p.run.Progress.Finish(ctx, types.JobError, message)
	}
}
