// Package poller watches one job from the client side. It is a small state
// machine, Idle then Watching(jobId) then Idle, that persists its state after
// every transition so a restarted client resumes the same job.
package poller

import (
	"context"
	"fmt"
	"sync"
	"time"

	apperrors "github.com/lead-scanner/internal/errors"
	"github.com/lead-scanner/internal/logging"
	"github.com/lead-scanner/internal/models"
	"github.com/lead-scanner/internal/types"
)

// DefaultInterval is the status polling period
const DefaultInterval = 2 * time.Second

// Config configures a Poller
type Config struct {
	Interval time.Duration
	// OnChange is called with every new state, outside the poller lock
	OnChange func(State)
}

// Poller follows the active job's progress
type Poller struct {
	client JobClient
	store  Store
	cfg    Config

	mu    sync.Mutex
	state State
	// last snapshot seen, kept after the job ends
	last *models.ScrapeJob
}

// New creates an idle poller
func New(client JobClient, store Store, cfg Config) *Poller {
	if cfg.Interval <= 0 {
		cfg.Interval = DefaultInterval
	}
	return &Poller{client: client, store: store, cfg: cfg}
}

// Mount restores persisted state without touching the network. It reports
// whether a job is being watched.
func (p *Poller) Mount() (bool, error) {
	state, err := p.store.Load()
	if err != nil {
		return false, err
	}

	p.mu.Lock()
	if state.JobID() == "" {
		p.state = State{}
		p.mu.Unlock()
		return false, nil
	}
	p.state = state
	p.last = state.Job
	p.mu.Unlock()

	logging.WithField("jobId", state.JobID()).Info("Resumed watching job")
	p.notify(state)
	return true, nil
}

// Start asks the server for a new job and begins watching it
func (p *Poller) Start(ctx context.Context, sourceURL string, target int) (string, error) {
	id, err := p.client.StartJob(ctx, sourceURL, target)
	if err != nil {
		return "", err
	}

	state := State{
		Active: true,
		Job:    &models.ScrapeJob{ID: id, Status: types.JobQueued, SearchURL: sourceURL, MaxListings: target},
	}
	if err := p.transition(state); err != nil {
		return id, err
	}
	return id, nil
}

// Watch begins following an existing job
func (p *Poller) Watch(id string) error {
	return p.transition(State{Active: true, Job: &models.ScrapeJob{ID: id, Status: types.JobQueued}})
}

// Tick polls once if a job is being watched
func (p *Poller) Tick(ctx context.Context) error {
	p.mu.Lock()
	id := p.state.JobID()
	p.mu.Unlock()
	if id == "" {
		return nil
	}

	job, err := p.client.GetJob(ctx, id)
	if err != nil {
		if apperrors.Is(err, apperrors.CategoryNotFound) {
			logging.WithField("jobId", id).Warn("Watched job no longer exists")
			if clearErr := p.transition(State{}); clearErr != nil {
				return clearErr
			}
		}
		return err
	}
	return p.apply(job)
}

// VisibilityRegained polls immediately instead of waiting for the next tick
func (p *Poller) VisibilityRegained(ctx context.Context) error {
	return p.Tick(ctx)
}

// Cancel stops the server-side job and forgets the local one
func (p *Poller) Cancel(ctx context.Context) error {
	if err := p.client.CancelJob(ctx); err != nil {
		return fmt.Errorf("cancel failed: %w", err)
	}
	return p.transition(State{})
}

// State returns the current state
func (p *Poller) State() State {
	p.mu.Lock()
	defer p.mu.Unlock()
	return copyState(p.state)
}

// Last returns the most recent snapshot, including a finished job's
func (p *Poller) Last() *models.ScrapeJob {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.last == nil {
		return nil
	}
	job := *p.last
	return &job
}

// Watching reports whether a job is being followed
func (p *Poller) Watching() bool {
	return p.State().JobID() != ""
}

// Run polls on the interval and on every visibility signal until the watched
// job ends or ctx is done. Poll failures are logged and retried next tick.
func (p *Poller) Run(ctx context.Context, visible <-chan struct{}) (*models.ScrapeJob, error) {
	ticker := time.NewTicker(p.cfg.Interval)
	defer ticker.Stop()

	for p.Watching() {
		select {
		case <-ctx.Done():
			return p.Last(), ctx.Err()
		case <-ticker.C:
			if err := p.Tick(ctx); err != nil {
				logging.FromContext(ctx).WithError(err).Warn("Status poll failed")
			}
		case <-visible:
			if err := p.VisibilityRegained(ctx); err != nil {
				logging.FromContext(ctx).WithError(err).Warn("Status poll failed")
			}
		}
	}
	return p.Last(), nil
}

// apply merges a fetched snapshot. Counters never move backwards for the same
// job, and a terminal status ends the watch.
func (p *Poller) apply(fetched *models.ScrapeJob) error {
	p.mu.Lock()
	known := p.state.Job
	if !p.state.Active || known == nil || known.ID != fetched.ID {
		p.mu.Unlock()
		return nil
	}
	merged := merge(known, fetched)
	p.mu.Unlock()

	if merged.Status.IsTerminal() {
		p.mu.Lock()
		p.last = merged
		p.mu.Unlock()
		logging.WithFields(map[string]interface{}{
			"jobId":  merged.ID,
			"status": merged.Status,
		}).Info("Job ended")
		return p.transition(State{})
	}
	return p.transition(State{Active: true, Job: merged})
}

func merge(known, fetched *models.ScrapeJob) *models.ScrapeJob {
	merged := *fetched
	merged.Total = max(merged.Total, known.Total)
	merged.Processed = max(merged.Processed, known.Processed)
	merged.SuccessfulLeads = max(merged.SuccessfulLeads, known.SuccessfulLeads)
	// a lagging snapshot cannot move the job back to queued
	if merged.Status == types.JobQueued && known.Status == types.JobRunning {
		merged.Status = known.Status
	}
	return &merged
}

// transition replaces the state and persists it
func (p *Poller) transition(state State) error {
	p.mu.Lock()
	p.state = copyState(state)
	if state.Job != nil {
		job := *state.Job
		p.last = &job
	}
	p.mu.Unlock()

	var err error
	if state.JobID() == "" {
		err = p.store.Clear()
	} else {
		err = p.store.Save(state)
	}
	if err != nil {
		err = fmt.Errorf("failed to persist poller state: %w", err)
	}
	p.notify(state)
	return err
}

func (p *Poller) notify(state State) {
	if p.cfg.OnChange != nil {
		p.cfg.OnChange(copyState(state))
	}
}
