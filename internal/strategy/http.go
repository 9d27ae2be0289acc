package strategy

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"golang.org/x/time/rate"

	"github.com/lead-scanner/internal/circuitbreaker"
	apperrors "github.com/lead-scanner/internal/errors"
	"github.com/lead-scanner/internal/logging"
	"github.com/lead-scanner/internal/models"
	"github.com/lead-scanner/internal/retry"
	"github.com/lead-scanner/internal/types"
)

const maxPageBytes = 5 << 20

// statusError is a non-2xx response
type statusError struct {
	URL  string
	Code int
}

func (e *statusError) Error() string {
	return fmt.Sprintf("GET %s: status %d", e.URL, e.Code)
}

// HTTPConfig configures HTTPStrategy
type HTTPConfig struct {
	Cap               int
	UserAgent         string
	RequestTimeout    time.Duration
	RequestsPerSecond float64 // <= 0 means unlimited
	Retry             *retry.RetryConfig
	Breaker           *circuitbreaker.Config
}

// HTTPStrategy fetches pages itself and reads title and price from the
// markup. It never recovers phone numbers.
type HTTPStrategy struct {
	client     *http.Client
	limiter    *rate.Limiter
	discoverer *Discoverer
	cfg        HTTPConfig
}

// NewHTTPStrategy creates the plain HTTP strategy
func NewHTTPStrategy(cfg HTTPConfig, discoverer *Discoverer, client *http.Client) *HTTPStrategy {
	if cfg.Cap <= 0 {
		cfg.Cap = 5
	}
	retryCfg := retry.DefaultRetryConfig()
	if cfg.Retry != nil {
		*retryCfg = *cfg.Retry
	}
	if retryCfg.Retryable == nil {
		retryCfg.Retryable = isTransient
	}
	cfg.Retry = retryCfg
	if client == nil {
		client = &http.Client{Timeout: cfg.RequestTimeout}
	}

	limit := rate.Inf
	if cfg.RequestsPerSecond > 0 {
		limit = rate.Limit(cfg.RequestsPerSecond)
	}

	return &HTTPStrategy{
		client:     client,
		limiter:    rate.NewLimiter(limit, 1),
		discoverer: discoverer,
		cfg:        cfg,
	}
}

// Name implements Strategy
func (s *HTTPStrategy) Name() string { return NameHTTP }

// Detached implements Strategy
func (s *HTTPStrategy) Detached() bool { return false }

// Execute discovers up to Cap listings and evaluates each one
func (s *HTTPStrategy) Execute(ctx context.Context, run *Run) error {
	logger := logging.FromContext(ctx).WithFields(map[string]interface{}{
		"jobId":    run.JobID,
		"strategy": NameHTTP,
	})
	ctx = logging.WithLogger(ctx, logger)

	limit := s.cfg.Cap
	if run.TargetLeadCount > 0 && run.TargetLeadCount < limit {
		limit = run.TargetLeadCount
	}

	candidates, err := s.discoverer.Discover(ctx, run.SourceURL, limit, s.fetchWithRetry)
	if err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return apperrors.NewStrategyError(NameHTTP, "failed to load listing search page", err)
	}
	if len(candidates) == 0 {
		return apperrors.NewStrategyError(NameHTTP, "no candidate listings found", nil)
	}

	run.Progress.Begin(ctx, len(candidates), fmt.Sprintf("found %d candidate listings", len(candidates)))

	breaker := circuitbreaker.NewCircuitBreaker(s.breakerConfig(run.JobID))
	leads := 0
	for i, listingURL := range candidates {
		if err := ctx.Err(); err != nil {
			return err
		}

		verdict, err := s.evaluate(ctx, breaker, run, listingURL)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			logger.WithError(apperrors.NewCandidateError(listingURL, err)).Trace("Candidate failed")
			run.Progress.Advance(ctx, false, fmt.Sprintf("processed %d/%d: failed", i+1, len(candidates)))
			continue
		}

		accepted := verdict == VerdictAccepted
		if accepted {
			leads++
		}
		run.Progress.Advance(ctx, accepted, fmt.Sprintf("processed %d/%d: %s", i+1, len(candidates), verdict))
	}

	run.Progress.Finish(ctx, types.JobFinished,
		fmt.Sprintf("completed: %d new leads from %d listings", leads, len(candidates)))
	return nil
}

func (s *HTTPStrategy) evaluate(ctx context.Context, breaker *circuitbreaker.CircuitBreaker, run *Run, listingURL string) (Verdict, error) {
	var html string
	err := breaker.Execute(ctx, func() error {
		var fetchErr error
		html, fetchErr = s.fetch(ctx, listingURL)
		return fetchErr
	})
	if err != nil {
		return "", err
	}

	title, price, err := ParseListing(html)
	if err != nil {
		return "", err
	}
	if title == "" {
		return "", errors.New("no title in listing markup")
	}

	return Accept(ctx, run.Sink, run.JobID, models.LeadCandidate{
		Title:      title,
		Price:      price,
		ListingURL: listingURL,
	})
}

func (s *HTTPStrategy) breakerConfig(jobID string) *circuitbreaker.Config {
	if s.cfg.Breaker != nil {
		cfg := *s.cfg.Breaker
		cfg.Name = "http:" + jobID
		return &cfg
	}
	return circuitbreaker.DefaultConfig("http:" + jobID)
}

func (s *HTTPStrategy) fetchWithRetry(ctx context.Context, pageURL string) (string, error) {
	var html string
	err := retry.WithRetry(ctx, s.cfg.Retry, func(ctx context.Context, attempt int) error {
		var fetchErr error
		html, fetchErr = s.fetch(ctx, pageURL)
		return fetchErr
	})
	return html, err
}

func (s *HTTPStrategy) fetch(ctx context.Context, pageURL string) (string, error) {
	if err := s.limiter.Wait(ctx); err != nil {
		return "", err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, pageURL, nil)
	if err != nil {
		return "", err
	}
	if s.cfg.UserAgent != "" {
		req.Header.Set("User-Agent", s.cfg.UserAgent)
	}
	req.Header.Set("Accept", "text/html,application/xhtml+xml")

	resp, err := s.client.Do(req)
	if err != nil {
		return "", err
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, maxPageBytes))
		return "", &statusError{URL: pageURL, Code: resp.StatusCode}
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxPageBytes))
	if err != nil {
		return "", err
	}
	return string(body), nil
}

// isTransient retries network errors, 429 and 5xx, but not other 4xx
func isTransient(err error) bool {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}
	var se *statusError
	if errors.As(err, &se) {
		return se.Code == http.StatusTooManyRequests || se.Code >= 500
	}
	return true
}
