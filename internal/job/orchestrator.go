// Package job owns scrape job creation, strategy dispatch, progress tracking
// and cancellation.
package job

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"sync"
	"time"

	"github.com/google/uuid"

	apperrors "github.com/lead-scanner/internal/errors"
	"github.com/lead-scanner/internal/logging"
	"github.com/lead-scanner/internal/models"
	"github.com/lead-scanner/internal/storage"
	"github.com/lead-scanner/internal/strategy"
	"github.com/lead-scanner/internal/types"
	"github.com/lead-scanner/internal/worker"
)

// DefaultTargetLeads is used when a start request omits the lead count
const DefaultTargetLeads = 20

// SweepFunc signals stray worker processes
type SweepFunc func(ctx context.Context) (int, error)

// Config configures the Orchestrator
type Config struct {
	Environment        types.Environment
	DefaultTargetLeads int
	// Sweep runs on every cancel after the live handle is terminated. Nil disables it.
	Sweep SweepFunc
}

// Orchestrator creates jobs, runs the strategy chosen for the environment and
// answers status and cancel requests
type Orchestrator struct {
	store      storage.JobStore
	sink       storage.LeadSink
	strategies strategy.Registry
	cfg        Config

	// startMu makes the live-process check and the spawn one step
	startMu sync.Mutex
	slot    *processSlot

	inlineMu sync.Mutex
	inline   map[string]context.CancelFunc

	now func() time.Time
}

// NewOrchestrator creates an orchestrator over the given stores and strategies
func NewOrchestrator(store storage.JobStore, sink storage.LeadSink, strategies strategy.Registry, cfg Config) *Orchestrator {
	if cfg.DefaultTargetLeads <= 0 {
		cfg.DefaultTargetLeads = DefaultTargetLeads
	}
	return &Orchestrator{
		store:      store,
		sink:       sink,
		strategies: strategies,
		cfg:        cfg,
		slot:       &processSlot{},
		inline:     make(map[string]context.CancelFunc),
		now:        time.Now,
	}
}

// SweepByCommand returns a SweepFunc that terminates processes started from
// the worker command. It is nil unless env runs the worker as a process.
func SweepByCommand(env types.Environment, command worker.Command) SweepFunc {
	if name, err := strategy.NameFor(env); err != nil || name != strategy.NameProcess || command.Path == "" {
		return nil
	}
	return func(ctx context.Context) (int, error) {
		return worker.SweepByCommand(ctx, command)
	}
}

// StartJob validates the request, writes a queued job and runs the selected
// strategy. Detached strategies return as soon as work is handed off; inline
// strategies return after the job reached a terminal state. Failures after the
// job was created are recorded on the job, not returned.
func (o *Orchestrator) StartJob(ctx context.Context, sourceURL string, targetLeadCount int) (string, error) {
	if err := validateSourceURL(sourceURL); err != nil {
		return "", err
	}
	switch {
	case targetLeadCount == 0:
		targetLeadCount = o.cfg.DefaultTargetLeads
	case targetLeadCount < 0:
		return "", apperrors.NewValidationError("max", "must be a positive integer")
	}

	strat, err := strategy.Select(o.cfg.Environment, o.strategies)
	if err != nil {
		return "", apperrors.NewInternalError("no extraction strategy available", err)
	}

	if strat.Detached() {
		o.startMu.Lock()
		defer o.startMu.Unlock()

		if o.slot.live() {
			return "", apperrors.NewConflictError("a worker process is already running")
		}
		o.slot.clearStale()
	}

	job := &models.ScrapeJob{
		ID:          uuid.New().String(),
		Status:      types.JobQueued,
		SearchURL:   sourceURL,
		MaxListings: targetLeadCount,
		Strategy:    strat.Name(),
		StartedAt:   o.now().UTC(),
	}
	if err := o.store.Create(ctx, job); err != nil {
		return "", err
	}

	logger := logging.FromContext(ctx).WithFields(map[string]interface{}{
		"jobId":    job.ID,
		"strategy": strat.Name(),
	})
	logger.WithFields(map[string]interface{}{
		"url":    sourceURL,
		"target": targetLeadCount,
	}).Info("Job created")

	// the job outlives the request that started it
	runCtx := logging.WithLogger(context.WithoutCancel(ctx), logger)

	tracker := NewTracker(o.store, job.ID)
	run := &strategy.Run{
		JobID:           job.ID,
		SourceURL:       sourceURL,
		TargetLeadCount: targetLeadCount,
		Progress:        tracker,
		Sink:            o.sink,
		Handles:         o.slot,
	}

	if strat.Detached() {
		if err := strat.Execute(runCtx, run); err != nil {
			logger.WithError(err).Warn("Strategy failed to start")
			tracker.Finish(runCtx, types.JobError, describe(err))
		}
		return job.ID, nil
	}

	inlineCtx, cancel := context.WithCancel(runCtx)
	o.trackInline(job.ID, cancel)
	defer o.untrackInline(job.ID)
	defer cancel()

	if err := strat.Execute(inlineCtx, run); err != nil {
		logger.WithError(err).Warn("Strategy failed")
		tracker.Finish(runCtx, types.JobError, describe(err))
		return job.ID, nil
	}

	// strategies finish their own jobs; this only covers one that returned early
	tracker.Finish(runCtx, types.JobFinished, "completed")
	return job.ID, nil
}

// GetJob returns the stored job or a NotFoundError
func (o *Orchestrator) GetJob(ctx context.Context, id string) (*models.ScrapeJob, error) {
	if _, err := uuid.Parse(id); err != nil {
		return nil, apperrors.NewNotFoundError("job", id)
	}
	return o.store.Get(ctx, id)
}

// CancelJob terminates the live worker process group, sweeps stray workers by
// name and stops running inline jobs. It always succeeds.
func (o *Orchestrator) CancelJob(ctx context.Context) error {
	logger := logging.FromContext(ctx)

	if terminated, err := o.slot.terminate(); err != nil {
		logger.WithError(err).Warn("Failed to signal worker process group")
	} else if terminated {
		logger.Info("Worker process group signalled")
	}

	if o.cfg.Sweep != nil {
		n, err := o.cfg.Sweep(ctx)
		if err != nil {
			logger.WithError(err).Debug("Worker sweep failed")
		} else if n > 0 {
			logger.WithField("count", n).Info("Stray worker processes signalled")
		}
	}

	o.inlineMu.Lock()
	for id, cancel := range o.inline {
		cancel()
		logger.WithField("jobId", id).Info("Inline job cancelled")
	}
	o.inlineMu.Unlock()

	return nil
}

func (o *Orchestrator) trackInline(id string, cancel context.CancelFunc) {
	o.inlineMu.Lock()
	defer o.inlineMu.Unlock()
	o.inline[id] = cancel
}

func (o *Orchestrator) untrackInline(id string) {
	o.inlineMu.Lock()
	defer o.inlineMu.Unlock()
	delete(o.inline, id)
}

func validateSourceURL(raw string) error {
	if raw == "" {
		return apperrors.NewValidationError("url", "is required")
	}
	u, err := url.Parse(raw)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return apperrors.NewValidationError("url", "must be an absolute http(s) URL")
	}
	return nil
}

// describe turns a strategy failure into the job's final log line
func describe(err error) string {
	if errors.Is(err, context.Canceled) {
		return "cancelled by operator"
	}
	var catErr *apperrors.CategorizedError
	if errors.As(err, &catErr) {
		return catErr.Message
	}
	return fmt.Sprintf("strategy failed: %v", err)
}

// processSlot holds the single live worker handle
type processSlot struct {
	mu     sync.Mutex
	handle worker.Handle
}

// Attach records h, terminating any other handle still alive
func (s *processSlot) Attach(h worker.Handle) {
	s.mu.Lock()
	prev := s.handle
	s.handle = h
	s.mu.Unlock()

	if prev != nil && prev != h && prev.Alive() {
		_ = prev.Terminate()
	}
}

// Detach clears h if it is still the live handle
func (s *processSlot) Detach(h worker.Handle) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.handle == h {
		s.handle = nil
	}
}

func (s *processSlot) live() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.handle != nil && s.handle.Alive()
}

// clearStale drops a handle whose process already exited, signalling its group
// in case children are left
func (s *processSlot) clearStale() {
	s.mu.Lock()
	h := s.handle
	if h != nil && !h.Alive() {
		s.handle = nil
	} else {
		h = nil
	}
	s.mu.Unlock()

	if h != nil {
		_ = h.Terminate()
	}
}

func (s *processSlot) terminate() (bool, error) {
	s.mu.Lock()
	h := s.handle
	s.mu.Unlock()

	if h == nil || !h.Alive() {
		return false, nil
	}
	return true, h.Terminate()
}
