package poller

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	apperrors "github.com/lead-scanner/internal/errors"
	"github.com/lead-scanner/internal/models"
	"github.com/lead-scanner/internal/retry"
	"github.com/lead-scanner/internal/types"
)

// JobClient is the job control surface the poller drives
type JobClient interface {
	StartJob(ctx context.Context, sourceURL string, target int) (string, error)
	GetJob(ctx context.Context, id string) (*models.ScrapeJob, error)
	CancelJob(ctx context.Context) error
}

// HTTPClient talks to the job control endpoint over HTTP
type HTTPClient struct {
	baseURL  string
	clientID string
	client   *http.Client
	starter  *http.Client
	retry    *retry.RetryConfig
}

// HTTPClientConfig configures an HTTPClient
type HTTPClientConfig struct {
	BaseURL      string
	ClientID     string // sent as X-Client-ID for per-client rate limiting
	Timeout      time.Duration
	// StartTimeout bounds POST /jobs. Inline jobs answer only once they
	// finish, so zero leaves it bounded by the caller's context alone.
	StartTimeout time.Duration
	Retry        *retry.RetryConfig
}

// NewHTTPClient creates a job control client
func NewHTTPClient(cfg HTTPClientConfig) *HTTPClient {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Second
	}
	retryCfg := &retry.RetryConfig{
		MaxAttempts:  3,
		InitialDelay: 250 * time.Millisecond,
		MaxDelay:     2 * time.Second,
		Multiplier:   2.0,
	}
	if cfg.Retry != nil {
		*retryCfg = *cfg.Retry
	}
	retryCfg.Retryable = isRetryable

	return &HTTPClient{
		baseURL:  strings.TrimRight(cfg.BaseURL, "/"),
		clientID: cfg.ClientID,
		client:   &http.Client{Timeout: cfg.Timeout},
		starter:  &http.Client{Timeout: cfg.StartTimeout},
		retry:    retryCfg,
	}
}

type startRequest struct {
	URL string `json:"url"`
	Max *int   `json:"max,omitempty"`
}

type startResponse struct {
	JobID string `json:"jobId"`
}

type errorEnvelope struct {
	Error types.ServiceError `json:"error"`
}

// StartJob posts a new job. A non-positive target leaves the server default.
func (c *HTTPClient) StartJob(ctx context.Context, sourceURL string, target int) (string, error) {
	req := startRequest{URL: sourceURL}
	if target > 0 {
		req.Max = &target
	}
	body, err := json.Marshal(req)
	if err != nil {
		return "", fmt.Errorf("failed to encode start request: %w", err)
	}

	var resp startResponse
	if err := c.send(ctx, c.starter, http.MethodPost, "/jobs", body, &resp); err != nil {
		return "", err
	}
	return resp.JobID, nil
}

// GetJob fetches the job snapshot, retrying transient failures
func (c *HTTPClient) GetJob(ctx context.Context, id string) (*models.ScrapeJob, error) {
	var job models.ScrapeJob
	err := retry.WithRetry(ctx, c.retry, func(ctx context.Context, attempt int) error {
		return c.do(ctx, http.MethodGet, "/jobs/"+url.PathEscape(id), nil, &job)
	})
	if err != nil {
		return nil, err
	}
	return &job, nil
}

// CancelJob asks the server to stop whatever is running
func (c *HTTPClient) CancelJob(ctx context.Context) error {
	return c.do(ctx, http.MethodDelete, "/jobs/active", nil, nil)
}

func (c *HTTPClient) do(ctx context.Context, method, path string, body []byte, out interface{}) error {
	return c.send(ctx, c.client, method, path, body, out)
}

func (c *HTTPClient) send(ctx context.Context, client *http.Client, method, path string, body []byte, out interface{}) error {
	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return fmt.Errorf("failed to build request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.clientID != "" {
		req.Header.Set("X-Client-ID", c.clientID)
	}

	resp, err := client.Do(req)
	if err != nil {
		return &transportError{err: err}
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return &transportError{err: fmt.Errorf("failed to read response: %w", err)}
	}

	if resp.StatusCode >= 300 {
		return decodeError(resp.StatusCode, data)
	}
	if out == nil {
		return nil
	}
	if err := json.Unmarshal(data, out); err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}
	return nil
}

// decodeError turns the server's error envelope back into a categorized error
func decodeError(status int, data []byte) error {
	var env errorEnvelope
	_ = json.Unmarshal(data, &env)
	msg := env.Error.Message
	if msg == "" {
		msg = http.StatusText(status)
	}

	switch status {
	case http.StatusBadRequest:
		param, _ := env.Error.Details["parameter"].(string)
		return apperrors.NewValidationError(param, msg)
	case http.StatusConflict:
		return apperrors.NewConflictError(msg)
	case http.StatusNotFound:
		return &apperrors.CategorizedError{
			Category:   apperrors.CategoryNotFound,
			StatusCode: status,
			Code:       "NOT_FOUND",
			Message:    msg,
		}
	default:
		return &statusError{status: status, code: env.Error.Code, message: msg}
	}
}

// statusError is a non-categorized error response
type statusError struct {
	status  int
	code    string
	message string
}

func (e *statusError) Error() string {
	if e.code != "" {
		return fmt.Sprintf("server returned %d %s: %s", e.status, e.code, e.message)
	}
	return fmt.Sprintf("server returned %d: %s", e.status, e.message)
}

type transportError struct{ err error }

func (e *transportError) Error() string { return e.err.Error() }
func (e *transportError) Unwrap() error { return e.err }

// isRetryable retries transport failures, 429 and 5xx responses
func isRetryable(err error) bool {
	var te *transportError
	if errors.As(err, &te) {
		return !errors.Is(err, context.Canceled) && !errors.Is(err, context.DeadlineExceeded)
	}
	var se *statusError
	if errors.As(err, &se) {
		return se.status == http.StatusTooManyRequests || se.status >= 500
	}
	return false
}
