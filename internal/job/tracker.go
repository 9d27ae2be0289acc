package job

import (
	"context"
	"sync"
	"time"

	"github.com/lead-scanner/internal/logging"
	"github.com/lead-scanner/internal/models"
	"github.com/lead-scanner/internal/storage"
	"github.com/lead-scanner/internal/types"
)

// Tracker owns the progress of one job. Every write carries the full set of
// counters, and writes for the job are serialized by the tracker's mutex.
type Tracker struct {
	mu    sync.Mutex
	store storage.JobStore
	jobID string
	now   func() time.Time

	status     types.JobStatus
	total      int
	processed  int
	successful int
	log        string
}

// NewTracker creates the tracker for a job that was just written as queued
func NewTracker(store storage.JobStore, jobID string) *Tracker {
	return &Tracker{
		store:  store,
		jobID:  jobID,
		now:    time.Now,
		status: types.JobQueued,
	}
}

// JobID returns the tracked job's id
func (t *Tracker) JobID() string { return t.jobID }

// Begin records the candidate total and marks the job running
func (t *Tracker) Begin(ctx context.Context, total int, log string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.status.IsTerminal() {
		return
	}

	if total < 0 {
		total = 0
	}
	t.status = types.JobRunning
	t.total = total
	t.log = log
	t.write(ctx, nil)
}

// Advance counts one evaluated candidate
func (t *Tracker) Advance(ctx context.Context, accepted bool, log string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.status.IsTerminal() {
		return
	}

	t.status = types.JobRunning
	t.processed++
	if accepted {
		t.successful++
	}
	t.log = log
	t.write(ctx, nil)
}

// Observe applies a processed count reported by an external worker. Counts
// lower than the current one are ignored.
func (t *Tracker) Observe(ctx context.Context, processed int, accepted bool, log string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.status.IsTerminal() {
		return
	}

	t.status = types.JobRunning
	if processed > t.processed {
		t.processed = processed
	}
	if accepted {
		t.successful++
	}
	if t.successful > t.processed {
		t.processed = t.successful
	}
	t.log = log
	t.write(ctx, nil)
}

// Finish writes the terminal status. Only the first call has any effect.
func (t *Tracker) Finish(ctx context.Context, status types.JobStatus, log string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.status.IsTerminal() {
		return
	}
	if !status.IsTerminal() {
		logging.FromContext(ctx).WithFields(map[string]interface{}{
			"jobId":  t.jobID,
			"status": string(status),
		}).Warn("Ignoring non-terminal finish")
		return
	}

	finishedAt := t.now().UTC()
	t.status = status
	t.log = log
	t.write(ctx, &finishedAt)

	logging.FromContext(ctx).WithFields(map[string]interface{}{
		"jobId":           t.jobID,
		"status":          string(status),
		"processed":       t.processed,
		"successfulLeads": t.successful,
	}).Info("Job finished")
}

// Snapshot returns the tracker's view of the job
func (t *Tracker) Snapshot() (status types.JobStatus, total, processed, successful int) {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.status, t.total, t.processed, t.successful
}

// write must be called with t.mu held. Store failures are logged; the job
// keeps running and the next write carries the full state again.
func (t *Tracker) write(ctx context.Context, finishedAt *time.Time) {
	status := t.status
	total, processed, successful := t.total, t.processed, t.successful
	log := t.log

	update := models.JobUpdate{
		Status:          &status,
		Total:           &total,
		Processed:       &processed,
		SuccessfulLeads: &successful,
		Log:             &log,
		FinishedAt:      finishedAt,
	}
	if err := t.store.Update(context.WithoutCancel(ctx), t.jobID, update); err != nil {
		logging.FromContext(ctx).WithError(err).WithField("jobId", t.jobID).Warn("Failed to write job progress")
	}
}
