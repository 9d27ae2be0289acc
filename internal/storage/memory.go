package storage

import (
	"context"
	"sync"
	"time"

	apperrors "github.com/lead-scanner/internal/errors"
	"github.com/lead-scanner/internal/models"
)

// MemoryJobStore is an in-process JobStore with the same terminal-state
// semantics as JobRepository. Used when no database is configured and in tests.
type MemoryJobStore struct {
	mu   sync.RWMutex
	jobs map[string]*models.ScrapeJob
}

// NewMemoryJobStore creates an empty job store
func NewMemoryJobStore() *MemoryJobStore {
	return &MemoryJobStore{jobs: make(map[string]*models.ScrapeJob)}
}

// Create stores a copy of job
func (s *MemoryJobStore) Create(_ context.Context, job *models.ScrapeJob) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.jobs[job.ID]; ok {
		return apperrors.NewInternalError("job already exists: "+job.ID, nil)
	}
	s.jobs[job.ID] = job.Clone()
	return nil
}

// Update overwrites the set fields unless the job is terminal
func (s *MemoryJobStore) Update(_ context.Context, id string, update models.JobUpdate) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	job, ok := s.jobs[id]
	if !ok {
		return apperrors.NewNotFoundError("job", id)
	}
	if job.Status.IsTerminal() {
		return nil
	}
	update.ApplyTo(job)
	return nil
}

// Get returns a copy of the stored job
func (s *MemoryJobStore) Get(_ context.Context, id string) (*models.ScrapeJob, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	job, ok := s.jobs[id]
	if !ok {
		return nil, apperrors.NewNotFoundError("job", id)
	}
	return job.Clone(), nil
}

// MemoryLeadSink is an in-process LeadSink keyed the same way as the leads table
type MemoryLeadSink struct {
	mu      sync.Mutex
	nextID  int64
	leads   []models.Lead
	byPhone map[string]struct{}
	byURL   map[string]struct{}
}

// NewMemoryLeadSink creates an empty lead sink
func NewMemoryLeadSink() *MemoryLeadSink {
	return &MemoryLeadSink{
		byPhone: make(map[string]struct{}),
		byURL:   make(map[string]struct{}),
	}
}

// Insert stores the lead unless its phone or URL is already present
func (s *MemoryLeadSink) Insert(_ context.Context, lead *models.Lead) (InsertOutcome, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.byURL[lead.ListingURL]; ok {
		return Duplicate, nil
	}
	if lead.PhoneNumber != nil {
		if _, ok := s.byPhone[*lead.PhoneNumber]; ok {
			return Duplicate, nil
		}
		s.byPhone[*lead.PhoneNumber] = struct{}{}
	}
	s.byURL[lead.ListingURL] = struct{}{}

	s.nextID++
	lead.ID = s.nextID
	lead.CreatedAt = time.Now().UTC()
	s.leads = append(s.leads, *lead)
	return Inserted, nil
}

// ExistsByPhone reports whether a lead with the phone number exists
func (s *MemoryLeadSink) ExistsByPhone(_ context.Context, phone string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.byPhone[phone]
	return ok, nil
}

// ExistsByURL reports whether a lead for the listing URL exists
func (s *MemoryLeadSink) ExistsByURL(_ context.Context, listingURL string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.byURL[listingURL]
	return ok, nil
}

// Leads returns a copy of every stored lead in insertion order
func (s *MemoryLeadSink) Leads() []models.Lead {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]models.Lead, len(s.leads))
	copy(out, s.leads)
	return out
}
