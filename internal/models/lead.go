package models

import (
	"time"

	"github.com/lead-scanner/internal/types"
)

// Lead represents a deduplicated vehicle listing contact in the leads table
type Lead struct {
	ID           int64            `json:"id" db:"id"`
	Status       types.LeadStatus `json:"status" db:"status"`
	PhoneNumber  *string          `json:"phoneNumber,omitempty" db:"phone_number"`
	VehicleTitle string           `json:"vehicleTitle" db:"vehicle_model"`
	AskingPrice  *int64           `json:"askingPrice,omitempty" db:"asking_price"`
	ListingURL   string           `json:"listingUrl" db:"listing_url"`
	JobID        string           `json:"jobId,omitempty" db:"job_id"`
	CreatedAt    time.Time        `json:"createdAt" db:"created_at"`
}

// LeadCandidate is a listing extracted by a strategy before it is accepted as a lead.
// It is never persisted directly.
type LeadCandidate struct {
	Title       string `json:"title"`
	Price       string `json:"price"`
	ListingURL  string `json:"listingUrl"`
	PhoneNumber string `json:"phoneNumber,omitempty"`
}

// ProgressUpdate is one progress event emitted by the external worker process
type ProgressUpdate struct {
	Status          string         `json:"status"`
	Processed       int            `json:"processed"`
	SuccessfulLeads int            `json:"successfulLeads"`
	Message         string         `json:"message"`
	LeadCandidate   *LeadCandidate `json:"leadCandidate,omitempty"`
}
