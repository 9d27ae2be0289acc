package models

import (
	"time"

	"github.com/lead-scanner/internal/types"
)

// ScrapeJob represents one lead acquisition run in the database
type ScrapeJob struct {
	ID              string          `json:"id" db:"id"`
	Status          types.JobStatus `json:"status" db:"status"` // queued, running, finished, error
	Total           int             `json:"total" db:"total"`
	Processed       int             `json:"processed" db:"processed"`
	SuccessfulLeads int             `json:"successfulLeads" db:"successful_leads"`
	Log             string          `json:"log" db:"log"`
	SearchURL       string          `json:"searchUrl" db:"search_url"`
	MaxListings     int             `json:"maxListings" db:"max_listings"`
	Strategy        string          `json:"strategy" db:"strategy"`
	StartedAt       time.Time       `json:"startedAt" db:"started_at"`
	FinishedAt      *time.Time      `json:"finishedAt,omitempty" db:"finished_at"`
}

// Clone returns a deep copy so callers can hand snapshots across goroutines
func (j *ScrapeJob) Clone() *ScrapeJob {
	if j == nil {
		return nil
	}
	c := *j
	if j.FinishedAt != nil {
		t := *j.FinishedAt
		c.FinishedAt = &t
	}
	return &c
}

// JobUpdate carries a partial overwrite of a job row. Nil fields are left untouched.
type JobUpdate struct {
	Status          *types.JobStatus
	Total           *int
	Processed       *int
	SuccessfulLeads *int
	Log             *string
	FinishedAt      *time.Time
}

// IsEmpty reports whether the update would change nothing
func (u JobUpdate) IsEmpty() bool {
	return u.Status == nil && u.Total == nil && u.Processed == nil &&
		u.SuccessfulLeads == nil && u.Log == nil && u.FinishedAt == nil
}

// ApplyTo overwrites the set fields on job
func (u JobUpdate) ApplyTo(job *ScrapeJob) {
	if u.Status != nil {
		job.Status = *u.Status
	}
	if u.Total != nil {
		job.Total = *u.Total
	}
	if u.Processed != nil {
		job.Processed = *u.Processed
	}
	if u.SuccessfulLeads != nil {
		job.SuccessfulLeads = *u.SuccessfulLeads
	}
	if u.Log != nil {
		job.Log = *u.Log
	}
	if u.FinishedAt != nil {
		t := *u.FinishedAt
		job.FinishedAt = &t
	}
}
