// Package types provides common type definitions for the lead acquisition system.
package types

import (
	"fmt"
	"strings"
)

// JobStatus represents the lifecycle state of a scrape job
type JobStatus string

const (
	// JobQueued is the state of a freshly created job
	JobQueued JobStatus = "queued"
	// JobRunning is the state of a job whose strategy has started work
	JobRunning JobStatus = "running"
	// JobFinished is the terminal state of a job that completed normally
	JobFinished JobStatus = "finished"
	// JobError is the terminal state of a job that failed or was cancelled
	JobError JobStatus = "error"
)

// IsTerminal reports whether no further transition is allowed out of the status
func (s JobStatus) IsTerminal() bool {
	return s == JobFinished || s == JobError
}

// IsValid reports whether the status is one of the known job states
func (s JobStatus) IsValid() bool {
	switch s {
	case JobQueued, JobRunning, JobFinished, JobError:
		return true
	default:
		return false
	}
}

// LeadStatus represents the workflow status of a persisted lead
type LeadStatus string

const (
	// LeadNew is the fixed initial status of every lead created by the orchestrator
	LeadNew LeadStatus = "new_lead"
)

// Environment represents the deployment mode the orchestrator runs in
type Environment string

const (
	// EnvConstrainedHosting is a serverless-style host without a browser or long-lived processes
	EnvConstrainedHosting Environment = "constrained-hosting"
	// EnvInteractiveDevelopment is a developer machine where a worker process can be supervised
	EnvInteractiveDevelopment Environment = "interactive-development"
	// EnvUnconstrainedLocal is a local host that can run a headless browser inline
	EnvUnconstrainedLocal Environment = "unconstrained-local"
)

// ParseEnvironment parses a configuration value into an Environment
func ParseEnvironment(value string) (Environment, error) {
	switch env := Environment(strings.ToLower(strings.TrimSpace(value))); env {
	case EnvConstrainedHosting, EnvInteractiveDevelopment, EnvUnconstrainedLocal:
		return env, nil
	default:
		return "", fmt.Errorf("unknown environment %q", value)
	}
}

// ServiceError represents a structured error response
type ServiceError struct {
	Code    string                 `json:"code"`
	Message string                 `json:"message"`
	Details map[string]interface{} `json:"details,omitempty"`
}

func (e *ServiceError) Error() string {
	return e.Message
}
