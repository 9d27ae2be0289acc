package worker

import (
	"context"
	"fmt"
	"io"
	"strconv"
	"sync"

	"github.com/lead-scanner/internal/logging"
	"github.com/lead-scanner/internal/models"
	"github.com/lead-scanner/internal/storage"
	"github.com/lead-scanner/internal/types"
)

// Emitter is the worker side of the progress protocol. It records progress
// like a job tracker and stands in for the lead sink: leads it accepts are
// written to out as candidates for the orchestrator to store. Phones and
// listing URLs are deduplicated within the worker's session.
type Emitter struct {
	out     io.Writer
	decoder *Decoder

	mu         sync.Mutex
	processed  int
	successful int
	pending    *models.LeadCandidate
	phones     map[string]struct{}
	urls       map[string]struct{}
	final      types.JobStatus
}

// NewEmitter writes protocol lines tagged for decoder to out
func NewEmitter(out io.Writer, decoder *Decoder) *Emitter {
	if decoder == nil {
		decoder = NewDecoder("")
	}
	return &Emitter{
		out:     out,
		decoder: decoder,
		phones:  make(map[string]struct{}),
		urls:    make(map[string]struct{}),
	}
}

// Begin announces the run
func (e *Emitter) Begin(ctx context.Context, total int, log string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.final != "" {
		return
	}
	e.emit(ctx, "running", log, nil)
}

// Advance counts one candidate and reports the lead it produced, if any
func (e *Emitter) Advance(ctx context.Context, accepted bool, log string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.final != "" {
		return
	}
	e.processed++
	var candidate *models.LeadCandidate
	if accepted {
		e.successful++
		candidate = e.pending
	}
	e.pending = nil
	e.emit(ctx, "running", log, candidate)
}

// Observe takes an absolute processed count
func (e *Emitter) Observe(ctx context.Context, processed int, accepted bool, log string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.final != "" {
		return
	}
	e.processed = max(e.processed, processed)
	var candidate *models.LeadCandidate
	if accepted {
		e.successful++
		candidate = e.pending
	}
	e.processed = max(e.processed, e.successful)
	e.pending = nil
	e.emit(ctx, "running", log, candidate)
}

// Finish writes the final line once
func (e *Emitter) Finish(ctx context.Context, status types.JobStatus, log string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.final != "" || !status.IsTerminal() {
		return
	}
	e.final = status
	wire := "completed"
	if status == types.JobError {
		wire = "error"
	}
	e.emit(ctx, wire, log, nil)
}

// Final returns the terminal status written, or "" before Finish
func (e *Emitter) Final() types.JobStatus {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.final
}

// Insert holds lead back for the next Advance. Leads repeating a phone or a
// listing URL seen earlier in the session are duplicates.
func (e *Emitter) Insert(_ context.Context, lead *models.Lead) (storage.InsertOutcome, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if _, seen := e.urls[lead.ListingURL]; seen {
		return storage.Duplicate, nil
	}
	phone := ""
	if lead.PhoneNumber != nil {
		phone = *lead.PhoneNumber
		if _, seen := e.phones[phone]; seen {
			return storage.Duplicate, nil
		}
		e.phones[phone] = struct{}{}
	}
	e.urls[lead.ListingURL] = struct{}{}

	price := ""
	if lead.AskingPrice != nil {
		price = strconv.FormatInt(*lead.AskingPrice, 10)
	}
	e.pending = &models.LeadCandidate{
		Title:       lead.VehicleTitle,
		Price:       price,
		ListingURL:  lead.ListingURL,
		PhoneNumber: phone,
	}
	return storage.Inserted, nil
}

func (e *Emitter) ExistsByPhone(_ context.Context, phone string) (bool, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	_, seen := e.phones[phone]
	return seen, nil
}

func (e *Emitter) ExistsByURL(_ context.Context, listingURL string) (bool, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	_, seen := e.urls[listingURL]
	return seen, nil
}

func (e *Emitter) emit(ctx context.Context, status, message string, candidate *models.LeadCandidate) {
	line, err := e.decoder.Encode(models.ProgressUpdate{
		Status:          status,
		Processed:       e.processed,
		SuccessfulLeads: e.successful,
		Message:         message,
		LeadCandidate:   candidate,
	})
	if err != nil {
		logging.FromContext(ctx).WithError(err).Error("Failed to encode progress")
		return
	}
	if _, err := fmt.Fprintln(e.out, line); err != nil {
		logging.FromContext(ctx).WithError(err).Error("Failed to write progress")
	}
}
