package strategy

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/lead-scanner/internal/types"
	"github.com/lead-scanner/internal/worker"
)

// recorder is a Progress that keeps the last state and every log line
type recorder struct {
	mu         sync.Mutex
	status     types.JobStatus
	total      int
	processed  int
	successful int
	logs       []string
	finished   chan struct{}
}

func newRecorder() *recorder {
	return &recorder{status: types.JobQueued, finished: make(chan struct{})}
}

func (r *recorder) Begin(_ context.Context, total int, log string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.status.IsTerminal() {
		return
	}
	r.status, r.total = types.JobRunning, total
	r.logs = append(r.logs, log)
}

func (r *recorder) Advance(_ context.Context, accepted bool, log string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.status.IsTerminal() {
		return
	}
	r.processed++
	if accepted {
		r.successful++
	}
	r.logs = append(r.logs, log)
}

func (r *recorder) Observe(_ context.Context, processed int, accepted bool, log string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.status.IsTerminal() {
		return
	}
	if processed > r.processed {
		r.processed = processed
	}
	if accepted {
		r.successful++
	}
	r.logs = append(r.logs, log)
}

func (r *recorder) Finish(_ context.Context, status types.JobStatus, log string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.status.IsTerminal() {
		return
	}
	r.status = status
	r.logs = append(r.logs, log)
	close(r.finished)
}

func (r *recorder) lastLog() string {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.logs) == 0 {
		return ""
	}
	return r.logs[len(r.logs)-1]
}

func (r *recorder) snapshot() (types.JobStatus, int, int, int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.status, r.total, r.processed, r.successful
}

func (r *recorder) waitFinished(t *testing.T) {
	t.Helper()
	select {
	case <-r.finished:
	case <-time.After(15 * time.Second):
		t.Fatal("job never reached a terminal state")
	}
}

// registry is a HandleRegistry that remembers what was attached
type registry struct {
	mu       sync.Mutex
	attached []worker.Handle
	detached []worker.Handle
}

func (r *registry) Attach(h worker.Handle) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.attached = append(r.attached, h)
}

func (r *registry) Detach(h worker.Handle) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.detached = append(r.detached, h)
}

func (r *registry) counts() (int, int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.attached), len(r.detached)
}

// fixedDiscoverer uses /listing/<n> paths and always starts on page 1
func fixedDiscoverer(t *testing.T) *Discoverer {
	t.Helper()
	d, err := NewDiscoverer(`^/listing/\d+$`, 1)
	if err != nil {
		t.Fatal(err)
	}
	return d
}
