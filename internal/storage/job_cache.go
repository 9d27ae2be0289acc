package storage

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"

	apperrors "github.com/lead-scanner/internal/errors"
	"github.com/lead-scanner/internal/logging"
	"github.com/lead-scanner/internal/models"
)

const jobCachePrefix = "scrape_job:"

// CachedJobStore keeps the latest snapshot of each job in Redis so client
// polling does not hit Postgres every interval. Writes go to the backing store
// first; the cache is refreshed from what the backing store returns. Cache
// failures are logged and never fail the operation.
type CachedJobStore struct {
	backing JobStore
	cache   *RedisCache
	ttl     time.Duration
}

// NewCachedJobStore wraps backing with a Redis snapshot cache
func NewCachedJobStore(backing JobStore, cache *RedisCache, ttl time.Duration) *CachedJobStore {
	return &CachedJobStore{backing: backing, cache: cache, ttl: ttl}
}

// Create writes the job and primes the cache
func (s *CachedJobStore) Create(ctx context.Context, job *models.ScrapeJob) error {
	if err := s.backing.Create(ctx, job); err != nil {
		return err
	}
	s.store(ctx, job, true)
	return nil
}

// Update writes through and replaces the cached snapshot
func (s *CachedJobStore) Update(ctx context.Context, id string, update models.JobUpdate) error {
	if err := s.backing.Update(ctx, id, update); err != nil {
		return err
	}

	fresh, err := s.backing.Get(ctx, id)
	if err != nil {
		s.invalidate(ctx, id)
		return nil
	}
	// a stale snapshot must not outlive a failed overwrite
	if !s.store(ctx, fresh, true) {
		s.invalidate(ctx, id)
	}
	return nil
}

// Get serves from the cache and falls back to the backing store
func (s *CachedJobStore) Get(ctx context.Context, id string) (*models.ScrapeJob, error) {
	raw, err := s.cache.Get(ctx, jobCachePrefix+id)
	switch {
	case err == nil:
		var job models.ScrapeJob
		if jsonErr := json.Unmarshal([]byte(raw), &job); jsonErr == nil {
			return &job, nil
		}
		s.invalidate(ctx, id)
	case !errors.Is(err, redis.Nil):
		logging.FromContext(ctx).WithError(apperrors.NewCacheError("get job", err)).
			WithField("jobId", id).Warn("Job cache read failed, falling back to store")
	}

	job, err := s.backing.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	// SetNX so a concurrent Update's fresher snapshot is never replaced by this one
	s.store(ctx, job, false)
	return job, nil
}

func (s *CachedJobStore) store(ctx context.Context, job *models.ScrapeJob, overwrite bool) bool {
	payload, err := json.Marshal(job)
	if err != nil {
		return false
	}

	key := jobCachePrefix + job.ID
	if overwrite {
		err = s.cache.Set(ctx, key, payload, s.ttl)
	} else {
		_, err = s.cache.SetNX(ctx, key, payload, s.ttl)
	}
	if err != nil {
		logging.FromContext(ctx).WithError(apperrors.NewCacheError("store job", err)).
			WithField("jobId", job.ID).Warn("Job cache write failed")
		return false
	}
	return true
}

func (s *CachedJobStore) invalidate(ctx context.Context, id string) {
	if err := s.cache.Del(ctx, jobCachePrefix+id); err != nil {
		logging.FromContext(ctx).WithError(apperrors.NewCacheError("invalidate job", err)).
			WithField("jobId", id).Warn("Job cache invalidation failed")
	}
}
