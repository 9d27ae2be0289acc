// Package strategy implements the interchangeable ways of turning a listing
// search URL into leads: an external worker process, plain HTTP fetching, and
// a headless browser that can reveal phone numbers.
package strategy

import (
	"context"
	"fmt"

	"github.com/lead-scanner/internal/storage"
	"github.com/lead-scanner/internal/types"
	"github.com/lead-scanner/internal/worker"
)

// Strategy names, recorded on the job row
const (
	NameProcess = "process"
	NameHTTP    = "http"
	NameBrowser = "browser"
)

// Progress receives a job's progress. Implementations serialize writes per job,
// keep counters monotonic and ignore everything after a terminal write.
type Progress interface {
	// Begin records the candidate total and marks the job running
	Begin(ctx context.Context, total int, log string)
	// Advance counts one evaluated candidate
	Advance(ctx context.Context, accepted bool, log string)
	// Observe applies a processed count reported by an external worker
	Observe(ctx context.Context, processed int, accepted bool, log string)
	// Finish writes the terminal status
	Finish(ctx context.Context, status types.JobStatus, log string)
}

// HandleRegistry holds the single live worker process handle
type HandleRegistry interface {
	// Attach records h as the live handle, terminating any previous one
	Attach(h worker.Handle)
	// Detach clears h if it is still the live handle
	Detach(h worker.Handle)
}

// Run carries everything a strategy needs for one job
type Run struct {
	JobID           string
	SourceURL       string
	TargetLeadCount int
	Progress        Progress
	Sink            storage.LeadSink
	Handles         HandleRegistry
}

// Strategy discovers candidate listings and turns them into leads
type Strategy interface {
	Name() string
	// Detached strategies return from Execute once work is handed off and
	// report completion through Progress later; inline ones return when done.
	Detached() bool
	// Execute runs the job. A returned error ends the job with status error.
	Execute(ctx context.Context, run *Run) error
}

// Registry maps strategy names to configured instances
type Registry map[string]Strategy

// NameFor maps a deployment environment to the strategy it runs
func NameFor(env types.Environment) (string, error) {
	switch env {
	case types.EnvConstrainedHosting:
		return NameHTTP, nil
	case types.EnvInteractiveDevelopment:
		return NameProcess, nil
	case types.EnvUnconstrainedLocal:
		return NameBrowser, nil
	default:
		return "", fmt.Errorf("no strategy for environment %q", env)
	}
}

// Select resolves the strategy for env from the registry
func Select(env types.Environment, registry Registry) (Strategy, error) {
	name, err := NameFor(env)
	if err != nil {
		return nil, err
	}
	s, ok := registry[name]
	if !ok || s == nil {
		return nil, fmt.Errorf("strategy %q is not configured", name)
	}
	return s, nil
}
