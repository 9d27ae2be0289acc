package poller

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	apperrors "github.com/lead-scanner/internal/errors"
	"github.com/lead-scanner/internal/models"
	"github.com/lead-scanner/internal/types"
)

// scriptedClient replays job snapshots in order, repeating the last one
type scriptedClient struct {
	mu        sync.Mutex
	startID   string
	startErr  error
	snapshots []*models.ScrapeJob
	getErrs   []error
	cancelErr error

	gets    int
	cancels int
}

func (c *scriptedClient) StartJob(_ context.Context, _ string, _ int) (string, error) {
	return c.startID, c.startErr
}

func (c *scriptedClient) GetJob(_ context.Context, _ string) (*models.ScrapeJob, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	i := c.gets
	c.gets++
	if i < len(c.getErrs) && c.getErrs[i] != nil {
		return nil, c.getErrs[i]
	}
	if len(c.snapshots) == 0 {
		return nil, errors.New("no snapshot scripted")
	}
	if i >= len(c.snapshots) {
		i = len(c.snapshots) - 1
	}
	job := *c.snapshots[i]
	return &job, nil
}

func (c *scriptedClient) CancelJob(context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.cancels++
	return c.cancelErr
}

func (c *scriptedClient) getCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.gets
}

func snapshot(id string, status types.JobStatus, total, processed, successful int) *models.ScrapeJob {
	return &models.ScrapeJob{ID: id, Status: status, Total: total, Processed: processed, SuccessfulLeads: successful}
}

func watchingState(job *models.ScrapeJob) State {
	return State{Active: true, Job: job}
}

func TestMount_RestoresWithoutNetwork(t *testing.T) {
	store := NewMemoryStore()
	require.NoError(t, store.Save(watchingState(snapshot("job-1", types.JobRunning, 10, 4, 2))))
	client := &scriptedClient{}

	var seen []State
	p := New(client, store, Config{OnChange: func(s State) { seen = append(seen, s) }})
	watching, err := p.Mount()

	require.NoError(t, err)
	assert.True(t, watching)
	assert.Equal(t, "job-1", p.State().JobID())
	assert.Equal(t, 4, p.State().Job.Processed)
	assert.Zero(t, client.getCount())
	require.Len(t, seen, 1)
	assert.Equal(t, "job-1", seen[0].JobID())
}

func TestMount_EmptyStoreIsIdle(t *testing.T) {
	p := New(&scriptedClient{}, NewMemoryStore(), Config{})
	watching, err := p.Mount()

	require.NoError(t, err)
	assert.False(t, watching)
	assert.False(t, p.Watching())
}

func TestStart_PersistsQueuedJob(t *testing.T) {
	store := NewMemoryStore()
	p := New(&scriptedClient{startID: "job-1"}, store, Config{})

	id, err := p.Start(context.Background(), "https://example/listings", 5)
	require.NoError(t, err)
	assert.Equal(t, "job-1", id)

	saved, err := store.Load()
	require.NoError(t, err)
	assert.True(t, saved.Active)
	assert.Equal(t, "job-1", saved.JobID())
	assert.Equal(t, types.JobQueued, saved.Job.Status)
	assert.Equal(t, 5, saved.Job.MaxListings)
}

func TestStart_ConflictLeavesIdle(t *testing.T) {
	store := NewMemoryStore()
	client := &scriptedClient{startErr: apperrors.NewConflictError("a worker process is already running")}
	p := New(client, store, Config{})

	_, err := p.Start(context.Background(), "https://example/listings", 5)
	assert.True(t, apperrors.Is(err, apperrors.CategoryConflict))
	assert.False(t, p.Watching())
	assert.Zero(t, store.Saves())
}

func TestTick_PersistsEverySnapshot(t *testing.T) {
	store := NewMemoryStore()
	client := &scriptedClient{snapshots: []*models.ScrapeJob{
		snapshot("job-1", types.JobRunning, 5, 1, 0),
		snapshot("job-1", types.JobRunning, 5, 2, 1),
	}}
	p := New(client, store, Config{})
	require.NoError(t, p.Watch("job-1"))

	require.NoError(t, p.Tick(context.Background()))
	saved, _ := store.Load()
	assert.Equal(t, 1, saved.Job.Processed)

	require.NoError(t, p.Tick(context.Background()))
	saved, _ = store.Load()
	assert.Equal(t, 2, saved.Job.Processed)
	assert.Equal(t, 1, saved.Job.SuccessfulLeads)
	assert.Equal(t, types.JobRunning, saved.Job.Status)
}

func TestTick_IdleDoesNothing(t *testing.T) {
	client := &scriptedClient{}
	p := New(client, NewMemoryStore(), Config{})

	require.NoError(t, p.Tick(context.Background()))
	assert.Zero(t, client.getCount())
}

func TestTick_TerminalClearsStorage(t *testing.T) {
	for _, status := range []types.JobStatus{types.JobFinished, types.JobError} {
		t.Run(string(status), func(t *testing.T) {
			store := NewMemoryStore()
			client := &scriptedClient{snapshots: []*models.ScrapeJob{snapshot("job-1", status, 3, 3, 2)}}
			p := New(client, store, Config{})
			require.NoError(t, p.Watch("job-1"))

			require.NoError(t, p.Tick(context.Background()))

			assert.False(t, p.Watching())
			saved, _ := store.Load()
			assert.Equal(t, State{}, saved)
			require.NotNil(t, p.Last())
			assert.Equal(t, status, p.Last().Status)
			assert.Equal(t, 2, p.Last().SuccessfulLeads)

			// polling stops once the job ended
			require.NoError(t, p.Tick(context.Background()))
			assert.Equal(t, 1, client.getCount())
		})
	}
}

func TestTick_CountersNeverRegress(t *testing.T) {
	client := &scriptedClient{snapshots: []*models.ScrapeJob{
		snapshot("job-1", types.JobRunning, 10, 6, 3),
		snapshot("job-1", types.JobQueued, 0, 2, 1),
	}}
	p := New(client, NewMemoryStore(), Config{})
	require.NoError(t, p.Watch("job-1"))

	require.NoError(t, p.Tick(context.Background()))
	require.NoError(t, p.Tick(context.Background()))

	job := p.State().Job
	assert.Equal(t, types.JobRunning, job.Status)
	assert.Equal(t, 10, job.Total)
	assert.Equal(t, 6, job.Processed)
	assert.Equal(t, 3, job.SuccessfulLeads)
}

func TestTick_FailureKeepsWatching(t *testing.T) {
	store := NewMemoryStore()
	client := &scriptedClient{getErrs: []error{errors.New("connection refused")}}
	p := New(client, store, Config{})
	require.NoError(t, p.Watch("job-1"))

	assert.Error(t, p.Tick(context.Background()))
	assert.True(t, p.Watching())
	saved, _ := store.Load()
	assert.Equal(t, "job-1", saved.JobID())
}

func TestTick_UnknownJobStopsWatching(t *testing.T) {
	store := NewMemoryStore()
	client := &scriptedClient{getErrs: []error{apperrors.NewNotFoundError("job", "job-1")}}
	p := New(client, store, Config{})
	require.NoError(t, p.Watch("job-1"))

	err := p.Tick(context.Background())
	assert.True(t, apperrors.Is(err, apperrors.CategoryNotFound))
	assert.False(t, p.Watching())
}

func TestCancel(t *testing.T) {
	t.Run("clears regardless of remote status", func(t *testing.T) {
		store := NewMemoryStore()
		client := &scriptedClient{snapshots: []*models.ScrapeJob{snapshot("job-1", types.JobRunning, 5, 2, 1)}}
		p := New(client, store, Config{})
		require.NoError(t, p.Watch("job-1"))
		require.NoError(t, p.Tick(context.Background()))

		require.NoError(t, p.Cancel(context.Background()))
		assert.False(t, p.Watching())
		assert.Equal(t, 1, client.cancels)
		saved, _ := store.Load()
		assert.Equal(t, State{}, saved)
	})

	t.Run("failure keeps the job", func(t *testing.T) {
		client := &scriptedClient{cancelErr: errors.New("connection refused")}
		p := New(client, NewMemoryStore(), Config{})
		require.NoError(t, p.Watch("job-1"))

		assert.Error(t, p.Cancel(context.Background()))
		assert.True(t, p.Watching())
	})

	t.Run("idle cancel is harmless", func(t *testing.T) {
		p := New(&scriptedClient{}, NewMemoryStore(), Config{})
		assert.NoError(t, p.Cancel(context.Background()))
		assert.False(t, p.Watching())
	})
}

// A client restarted while a job runs in the background picks the same job
// up again and never reports less progress than it had seen.
func TestResilience_BackgroundThenForeground(t *testing.T) {
	store := NewMemoryStore()
	client := &scriptedClient{
		startID: "job-1",
		snapshots: []*models.ScrapeJob{
			snapshot("job-1", types.JobRunning, 10, 4, 2),
			// a stale replica answers first after foregrounding
			snapshot("job-1", types.JobRunning, 10, 3, 1),
			snapshot("job-1", types.JobRunning, 10, 7, 4),
		},
	}

	first := New(client, store, Config{})
	_, err := first.Start(context.Background(), "https://example/listings", 10)
	require.NoError(t, err)
	require.NoError(t, first.Tick(context.Background()))
	before := first.State().Job

	// backgrounded and reloaded: a fresh poller over the same storage
	second := New(client, store, Config{})
	watching, err := second.Mount()
	require.NoError(t, err)
	require.True(t, watching)
	assert.Equal(t, "job-1", second.State().JobID())

	require.NoError(t, second.VisibilityRegained(context.Background()))
	after := second.State().Job
	assert.Equal(t, before.ID, after.ID)
	assert.GreaterOrEqual(t, after.Processed, before.Processed)
	assert.GreaterOrEqual(t, after.SuccessfulLeads, before.SuccessfulLeads)

	require.NoError(t, second.VisibilityRegained(context.Background()))
	assert.Equal(t, 7, second.State().Job.Processed)
}

func TestRun_StopsOnTerminal(t *testing.T) {
	client := &scriptedClient{snapshots: []*models.ScrapeJob{
		snapshot("job-1", types.JobRunning, 3, 1, 1),
		snapshot("job-1", types.JobFinished, 3, 3, 2),
	}}
	p := New(client, NewMemoryStore(), Config{Interval: 5 * time.Millisecond})
	require.NoError(t, p.Watch("job-1"))

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	final, err := p.Run(ctx, nil)

	require.NoError(t, err)
	require.NotNil(t, final)
	assert.Equal(t, types.JobFinished, final.Status)
	assert.Equal(t, 3, final.Processed)
}

func TestRun_VisibilityPollsImmediately(t *testing.T) {
	client := &scriptedClient{snapshots: []*models.ScrapeJob{snapshot("job-1", types.JobFinished, 1, 1, 1)}}
	p := New(client, NewMemoryStore(), Config{Interval: time.Hour})
	require.NoError(t, p.Watch("job-1"))

	visible := make(chan struct{}, 1)
	visible <- struct{}{}

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	final, err := p.Run(ctx, visible)

	require.NoError(t, err)
	assert.Equal(t, types.JobFinished, final.Status)
	assert.Equal(t, 1, client.getCount())
}

func TestRun_ContextCancelled(t *testing.T) {
	client := &scriptedClient{snapshots: []*models.ScrapeJob{snapshot("job-1", types.JobRunning, 3, 1, 0)}}
	p := New(client, NewMemoryStore(), Config{Interval: time.Hour})
	require.NoError(t, p.Watch("job-1"))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := p.Run(ctx, nil)

	assert.ErrorIs(t, err, context.Canceled)
	assert.True(t, p.Watching())
}
