// Package scheduler starts lead acquisition jobs on a cron schedule.
package scheduler

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	apperrors "github.com/lead-scanner/internal/errors"
	"github.com/lead-scanner/internal/logging"
)

// Starter starts a job
type Starter interface {
	StartJob(ctx context.Context, sourceURL string, targetLeadCount int) (string, error)
}

// Config configures the schedule. An empty Cron disables it.
type Config struct {
	Cron        string // standard 5-field expression or a descriptor such as @daily
	URL         string
	TargetLeads int
	Location    *time.Location
}

// Scheduler runs one recurring acquisition job
type Scheduler struct {
	starter Starter
	cfg     Config
	cron    *cron.Cron
	entry   cron.EntryID

	mu      sync.Mutex
	ctx     context.Context
	running bool
}

var parser = cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor)

// New validates cfg and registers the job. A disabled scheduler is returned
// when cfg.Cron is empty.
func New(starter Starter, cfg Config) (*Scheduler, error) {
	s := &Scheduler{starter: starter, cfg: cfg, ctx: context.Background()}
	if cfg.Cron == "" {
		return s, nil
	}
	if cfg.URL == "" {
		return nil, fmt.Errorf("scheduled job needs a source URL")
	}
	if _, err := parser.Parse(cfg.Cron); err != nil {
		return nil, fmt.Errorf("invalid cron expression %q: %w", cfg.Cron, err)
	}

	loc := cfg.Location
	if loc == nil {
		loc = time.Local
	}
	s.cron = cron.New(cron.WithParser(parser), cron.WithLocation(loc))

	entry, err := s.cron.AddFunc(cfg.Cron, func() {
		s.mu.Lock()
		ctx := s.ctx
		s.mu.Unlock()
		s.Trigger(ctx)
	})
	if err != nil {
		return nil, fmt.Errorf("failed to schedule job: %w", err)
	}
	s.entry = entry
	return s, nil
}

// Enabled reports whether a schedule is configured
func (s *Scheduler) Enabled() bool {
	return s.cron != nil
}

// Start begins firing the schedule. Runs use ctx for logging and values only.
func (s *Scheduler) Start(ctx context.Context) {
	if !s.Enabled() {
		logging.FromContext(ctx).Info("Scheduled acquisition disabled")
		return
	}

	s.mu.Lock()
	s.ctx = context.WithoutCancel(ctx)
	s.running = true
	s.mu.Unlock()

	s.cron.Start()
	logging.FromContext(ctx).WithFields(map[string]interface{}{
		"schedule": s.cfg.Cron,
		"url":      s.cfg.URL,
		"nextRun":  s.NextRun().Format(time.RFC3339),
	}).Info("Scheduled acquisition started")
}

// Stop stops the schedule and waits for a running trigger, or for ctx
func (s *Scheduler) Stop(ctx context.Context) error {
	s.mu.Lock()
	running := s.running
	s.running = false
	s.mu.Unlock()
	if !s.Enabled() || !running {
		return nil
	}

	done := s.cron.Stop()
	select {
	case <-done.Done():
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// NextRun returns the next fire time, or zero when not running
func (s *Scheduler) NextRun() time.Time {
	if !s.Enabled() {
		return time.Time{}
	}
	return s.cron.Entry(s.entry).Next
}

// Trigger starts the scheduled job now. A job already running is not an
// error; the run is skipped.
func (s *Scheduler) Trigger(ctx context.Context) (string, error) {
	logger := logging.FromContext(ctx).WithField("url", s.cfg.URL)

	id, err := s.starter.StartJob(ctx, s.cfg.URL, s.cfg.TargetLeads)
	switch {
	case err == nil:
		logger.WithField("jobId", id).Info("Scheduled job started")
		return id, nil
	case apperrors.Is(err, apperrors.CategoryConflict):
		logger.Info("Scheduled job skipped, a worker is already running")
		return "", nil
	default:
		logger.WithError(err).Error("Scheduled job failed to start")
		return "", err
	}
}
