package storage

import (
	"context"

	"github.com/lead-scanner/internal/models"
)

// JobStore persists scrape job records addressable by id
type JobStore interface {
	Create(ctx context.Context, job *models.ScrapeJob) error
	// Update overwrites the set fields. Updates to a job already in a terminal
	// state are ignored; an unknown id yields a NotFoundError.
	Update(ctx context.Context, id string, update models.JobUpdate) error
	Get(ctx context.Context, id string) (*models.ScrapeJob, error)
}

// InsertOutcome is the result of offering a lead to a LeadSink
type InsertOutcome int

const (
	// Inserted means a new lead row was written
	Inserted InsertOutcome = iota
	// Duplicate means a row with the same phone number or listing URL already exists
	Duplicate
)

func (o InsertOutcome) String() string {
	if o == Duplicate {
		return "duplicate"
	}
	return "inserted"
}

// LeadSink stores leads under phone number and listing URL uniqueness
type LeadSink interface {
	Insert(ctx context.Context, lead *models.Lead) (InsertOutcome, error)
	ExistsByPhone(ctx context.Context, phone string) (bool, error)
	ExistsByURL(ctx context.Context, listingURL string) (bool, error)
}
