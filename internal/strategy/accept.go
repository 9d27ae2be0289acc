package strategy

import (
	"context"
	"regexp"
	"strconv"
	"strings"

	"github.com/lead-scanner/internal/models"
	"github.com/lead-scanner/internal/storage"
	"github.com/lead-scanner/internal/types"
)

// UAE mobile numbers as they appear on listings
var phonePattern = regexp.MustCompile(`(\+971|971|0)(50|55|56|52|54)\d{7}`)

var phoneSeparators = regexp.MustCompile(`[\s\-\.\(\)]`)

var nonDigits = regexp.MustCompile(`[^\d]`)

// NormalizePhone strips spaces, dashes, dots and parentheses
func NormalizePhone(phone string) string {
	return phoneSeparators.ReplaceAllString(strings.TrimSpace(phone), "")
}

// FindPhone returns the first mobile number in text, normalized, or ""
func FindPhone(text string) string {
	compact := phoneSeparators.ReplaceAllString(text, "")
	return phonePattern.FindString(compact)
}

// ParsePrice keeps the digits of a displayed price. Zero means no usable price.
func ParsePrice(price string) int64 {
	digits := nonDigits.ReplaceAllString(price, "")
	if digits == "" {
		return 0
	}
	v, err := strconv.ParseInt(digits, 10, 64)
	if err != nil {
		return 0
	}
	return v
}

// Verdict is why a candidate was or was not turned into a lead
type Verdict string

const (
	VerdictAccepted       Verdict = "accepted"
	VerdictIncomplete     Verdict = "missing title or price"
	VerdictDuplicatePhone Verdict = "duplicate phone"
	VerdictDuplicateURL   Verdict = "duplicate listing"
	// VerdictDuplicate is a rejection by the sink's constraint after the checks passed
	VerdictDuplicate Verdict = "duplicate"
)

// Accept applies the lead acceptance rule and inserts the lead. The existence
// checks are only a shortcut; the sink's uniqueness constraint decides races.
func Accept(ctx context.Context, sink storage.LeadSink, jobID string, c models.LeadCandidate) (Verdict, error) {
	title := strings.TrimSpace(c.Title)
	price := ParsePrice(c.Price)
	if title == "" || price <= 0 || c.ListingURL == "" {
		return VerdictIncomplete, nil
	}

	phone := NormalizePhone(c.PhoneNumber)
	if phone != "" {
		exists, err := sink.ExistsByPhone(ctx, phone)
		if err != nil {
			return "", err
		}
		if exists {
			return VerdictDuplicatePhone, nil
		}
	}

	exists, err := sink.ExistsByURL(ctx, c.ListingURL)
	if err != nil {
		return "", err
	}
	if exists {
		return VerdictDuplicateURL, nil
	}

	lead := &models.Lead{
		Status:       types.LeadNew,
		VehicleTitle: title,
		AskingPrice:  &price,
		ListingURL:   c.ListingURL,
		JobID:        jobID,
	}
	if phone != "" {
		lead.PhoneNumber = &phone
	}

	outcome, err := sink.Insert(ctx, lead)
	if err != nil {
		return "", err
	}
	if outcome == storage.Duplicate {
		return VerdictDuplicate, nil
	}
	return VerdictAccepted, nil
}
