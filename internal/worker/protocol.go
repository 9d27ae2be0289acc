package worker

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/lead-scanner/internal/models"
	"github.com/lead-scanner/internal/types"
)

// DefaultProgressTag prefixes every progress line a worker writes to stdout
const DefaultProgressTag = "LEAD_PROGRESS:"

const maxLineSize = 1024 * 1024

// Decoder turns tagged stdout lines into progress updates
type Decoder struct {
	tag string
}

// NewDecoder creates a decoder for lines starting with tag
func NewDecoder(tag string) *Decoder {
	if tag == "" {
		tag = DefaultProgressTag
	}
	return &Decoder{tag: tag}
}

// wireUpdate accepts both the camelCase protocol and the older snake_case
// payload (successful_leads, car_data) emitted by earlier workers
type wireUpdate struct {
	Status             string                `json:"status"`
	Processed          int                   `json:"processed"`
	SuccessfulLeads    *int                  `json:"successfulLeads"`
	SuccessfulLeadsOld *int                  `json:"successful_leads"`
	Message            string                `json:"message"`
	LeadCandidate      *models.LeadCandidate `json:"leadCandidate"`
	CarData            *struct {
		URL         string `json:"url"`
		Title       string `json:"title"`
		Price       string `json:"price"`
		PhoneNumber string `json:"phone_number"`
	} `json:"car_data"`
}

// Decode parses one line. tagged is false for ordinary output; a tagged line
// whose payload is not valid JSON returns an error and should be skipped.
func (d *Decoder) Decode(line string) (update *models.ProgressUpdate, tagged bool, err error) {
	trimmed := strings.TrimSpace(line)
	if !strings.HasPrefix(trimmed, d.tag) {
		return nil, false, nil
	}

	payload := strings.TrimSpace(strings.TrimPrefix(trimmed, d.tag))
	var wire wireUpdate
	if err := json.Unmarshal([]byte(payload), &wire); err != nil {
		return nil, true, fmt.Errorf("malformed progress payload: %w", err)
	}
	if wire.Status == "" {
		return nil, true, fmt.Errorf("progress payload has no status")
	}

	update = &models.ProgressUpdate{
		Status:        strings.ToLower(strings.TrimSpace(wire.Status)),
		Processed:     wire.Processed,
		Message:       wire.Message,
		LeadCandidate: wire.LeadCandidate,
	}
	switch {
	case wire.SuccessfulLeads != nil:
		update.SuccessfulLeads = *wire.SuccessfulLeads
	case wire.SuccessfulLeadsOld != nil:
		update.SuccessfulLeads = *wire.SuccessfulLeadsOld
	}
	if update.LeadCandidate == nil && wire.CarData != nil && wire.CarData.URL != "" {
		update.LeadCandidate = &models.LeadCandidate{
			Title:       wire.CarData.Title,
			Price:       wire.CarData.Price,
			ListingURL:  wire.CarData.URL,
			PhoneNumber: wire.CarData.PhoneNumber,
		}
	}

	return update, true, nil
}

// MapStatus translates a worker status into a job status
func MapStatus(status string) (types.JobStatus, bool) {
	switch strings.ToLower(status) {
	case "running":
		return types.JobRunning, true
	case "completed", "finished":
		return types.JobFinished, true
	case "error":
		return types.JobError, true
	default:
		return "", false
	}
}

// Encode renders an update as a protocol line, used by the Go worker
func (d *Decoder) Encode(update models.ProgressUpdate) (string, error) {
	payload, err := json.Marshal(update)
	if err != nil {
		return "", err
	}
	return d.tag + " " + string(payload), nil
}
