package storage

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	apperrors "github.com/lead-scanner/internal/errors"
	"github.com/lead-scanner/internal/models"
)

const pgUniqueViolation = "23505"

// LeadRepository is the Postgres lead sink. Uniqueness of phone number and
// listing URL is enforced by indexes on the leads table.
type LeadRepository struct {
	db *PostgresDB
}

// NewLeadRepository creates a new lead repository
func NewLeadRepository(db *PostgresDB) *LeadRepository {
	return &LeadRepository{db: db}
}

// Insert writes the lead unless one with the same phone or URL exists
func (r *LeadRepository) Insert(ctx context.Context, lead *models.Lead) (InsertOutcome, error) {
	query := `
		INSERT INTO leads (status, phone_number, vehicle_model, asking_price, listing_url, job_id)
		VALUES ($1, $2, $3, $4, $5, NULLIF($6::text, '')::uuid)
		ON CONFLICT DO NOTHING
		RETURNING id, created_at
	`

	err := r.db.Pool().QueryRow(ctx, query,
		lead.Status,
		lead.PhoneNumber,
		lead.VehicleTitle,
		lead.AskingPrice,
		lead.ListingURL,
		lead.JobID,
	).Scan(&lead.ID, &lead.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) || isUniqueViolation(err) {
			return Duplicate, nil
		}
		return Inserted, apperrors.NewDatabaseError("insert lead", err)
	}

	return Inserted, nil
}

// ExistsByPhone reports whether a lead with the normalized phone number exists
func (r *LeadRepository) ExistsByPhone(ctx context.Context, phone string) (bool, error) {
	var exists bool
	err := r.db.Pool().QueryRow(ctx,
		`SELECT EXISTS(SELECT 1 FROM leads WHERE phone_number = $1)`, phone,
	).Scan(&exists)
	if err != nil {
		return false, apperrors.NewDatabaseError("lookup lead by phone", err)
	}
	return exists, nil
}

// ExistsByURL reports whether a lead for the listing URL exists
func (r *LeadRepository) ExistsByURL(ctx context.Context, listingURL string) (bool, error) {
	var exists bool
	err := r.db.Pool().QueryRow(ctx,
		`SELECT EXISTS(SELECT 1 FROM leads WHERE listing_url = $1)`, listingURL,
	).Scan(&exists)
	if err != nil {
		return false, apperrors.NewDatabaseError("lookup lead by url", err)
	}
	return exists, nil
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	if !errors.As(err, &pgErr) {
		return false
	}
	return pgErr.Code == pgUniqueViolation
}
