package storage

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"

	apperrors "github.com/lead-scanner/internal/errors"
	"github.com/lead-scanner/internal/models"
	"github.com/lead-scanner/internal/types"
)

// JobRepository handles scrape job persistence in Postgres
type JobRepository struct {
	db *PostgresDB
}

// NewJobRepository creates a new scrape job repository
func NewJobRepository(db *PostgresDB) *JobRepository {
	return &JobRepository{db: db}
}

// Create inserts a new scrape job record
func (r *JobRepository) Create(ctx context.Context, job *models.ScrapeJob) error {
	query := `
		INSERT INTO scrape_jobs (
			id, status, total, processed, successful_leads, log,
			search_url, max_listings, strategy, started_at, finished_at
		)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
	`

	_, err := r.db.Pool().Exec(ctx, query,
		job.ID,
		job.Status,
		job.Total,
		job.Processed,
		job.SuccessfulLeads,
		job.Log,
		job.SearchURL,
		job.MaxListings,
		job.Strategy,
		job.StartedAt,
		job.FinishedAt,
	)
	if err != nil {
		return apperrors.NewDatabaseError("create scrape job", err)
	}

	return nil
}

// Get retrieves a scrape job by id
func (r *JobRepository) Get(ctx context.Context, id string) (*models.ScrapeJob, error) {
	query := `
		SELECT id, status, total, processed, successful_leads, log,
			   search_url, max_listings, strategy, started_at, finished_at
		FROM scrape_jobs
		WHERE id = $1
	`

	var job models.ScrapeJob
	err := r.db.Pool().QueryRow(ctx, query, id).Scan(
		&job.ID,
		&job.Status,
		&job.Total,
		&job.Processed,
		&job.SuccessfulLeads,
		&job.Log,
		&job.SearchURL,
		&job.MaxListings,
		&job.Strategy,
		&job.StartedAt,
		&job.FinishedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, apperrors.NewNotFoundError("job", id)
		}
		return nil, apperrors.NewDatabaseError("get scrape job", err)
	}

	return &job, nil
}

// Update overwrites the set fields of a job that has not reached a terminal state
func (r *JobRepository) Update(ctx context.Context, id string, update models.JobUpdate) error {
	if update.IsEmpty() {
		return nil
	}

	query, args := buildJobUpdate(id, update)

	result, err := r.db.Pool().Exec(ctx, query, args...)
	if err != nil {
		return apperrors.NewDatabaseError("update scrape job", err)
	}

	if result.RowsAffected() == 0 {
		// either unknown, or already terminal and therefore frozen
		var exists bool
		if err := r.db.Pool().QueryRow(ctx,
			`SELECT EXISTS(SELECT 1 FROM scrape_jobs WHERE id = $1)`, id,
		).Scan(&exists); err != nil {
			return apperrors.NewDatabaseError("update scrape job", err)
		}
		if !exists {
			return apperrors.NewNotFoundError("job", id)
		}
	}

	return nil
}

func buildJobUpdate(id string, update models.JobUpdate) (string, []interface{}) {
	sets := make([]string, 0, 6)
	args := []interface{}{id}

	add := func(column string, value interface{}) {
		args = append(args, value)
		sets = append(sets, fmt.Sprintf("%s = $%d", column, len(args)))
	}

	if update.Status != nil {
		add("status", *update.Status)
	}
	if update.Total != nil {
		add("total", *update.Total)
	}
	if update.Processed != nil {
		add("processed", *update.Processed)
	}
	if update.SuccessfulLeads != nil {
		add("successful_leads", *update.SuccessfulLeads)
	}
	if update.Log != nil {
		add("log", *update.Log)
	}
	if update.FinishedAt != nil {
		add("finished_at", *update.FinishedAt)
	}

	query := fmt.Sprintf(
		"UPDATE scrape_jobs SET %s WHERE id = $1 AND status NOT IN ('%s', '%s')",
		strings.Join(sets, ", "), types.JobFinished, types.JobError,
	)
	return query, args
}
