package strategy

import (
	"context"
	"fmt"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	apperrors "github.com/lead-scanner/internal/errors"
	"github.com/lead-scanner/internal/storage"
	"github.com/lead-scanner/internal/types"
	"github.com/lead-scanner/internal/worker"
)

// TestHelperProcess is not a real test. It stands in for the lead worker
// when re-executed by the process strategy tests.
func TestHelperProcess(t *testing.T) {
	if os.Getenv("GO_WANT_HELPER_PROCESS") != "1" {
		return
	}

	args := os.Args
	for i, a := range args {
		if a == "--" {
			args = args[i+1:]
			break
		}
	}
	if len(args) != 3 {
		fmt.Fprintf(os.Stderr, "want jobId url target, got %q\n", strings.Join(args, " "))
		os.Exit(3)
	}

	tag := worker.DefaultProgressTag
	switch os.Getenv("HELPER_MODE") {
	case "leads":
		fmt.Println(tag + ` {"status":"running","processed":0,"message":"opening ` + args[1] + `"}`)
		fmt.Println(tag + ` {"status":"running","processed":1,"successfulLeads":1,"message":"visited 1","leadCandidate":{"title":"Nissan Patrol","price":"AED 185,000","listingUrl":"https://cars.example/listing/1","phoneNumber":"050 123 4567"}}`)
		fmt.Println(tag + ` {"status":"running","processed":2,"successfulLeads":2,"message":"visited 2","leadCandidate":{"title":"Nissan Sunny","price":"AED 25,000","listingUrl":"https://cars.example/listing/2","phoneNumber":"0501234567"}}`)
		fmt.Println(tag + ` {"status":"completed","processed":2,"successfulLeads":2,"message":"done"}`)
		os.Exit(0)
	case "quiet":
		os.Exit(0)
	case "exit1":
		fmt.Println(tag + ` {"status":"running","processed":1,"message":"visited 1"}`)
		os.Exit(1)
	case "sleep":
		fmt.Println(tag + ` {"status":"running","message":"waiting"}`)
		time.Sleep(30 * time.Second)
		os.Exit(0)
	}
	os.Exit(2)
}

func helperCommand(mode string) worker.Command {
	return worker.Command{
		Path: os.Args[0],
		Args: []string{"-test.run=TestHelperProcess", "--"},
		Env:  []string{"GO_WANT_HELPER_PROCESS=1", "HELPER_MODE=" + mode},
	}
}

func runProcess(t *testing.T, mode string) (*recorder, *registry, *storage.MemoryLeadSink, <-chan struct{}) {
	t.Helper()
	s := NewProcessStrategy(helperCommand(mode), nil)
	done := make(chan struct{})
	s.done = func(string) { close(done) }

	progress := newRecorder()
	handles := &registry{}
	sink := storage.NewMemoryLeadSink()

	err := s.Execute(context.Background(), &Run{
		JobID:           "job-1",
		SourceURL:       searchURL,
		TargetLeadCount: 3,
		Progress:        progress,
		Sink:            sink,
		Handles:         handles,
	})
	require.NoError(t, err)
	return progress, handles, sink, done
}

func waitDone(t *testing.T, done <-chan struct{}) {
	t.Helper()
	select {
	case <-done:
	case <-time.After(15 * time.Second):
		t.Fatal("worker supervision did not finish")
	}
}

func TestProcessStrategy_CompletesWithSinkAcceptances(t *testing.T) {
	progress, handles, sink, done := runProcess(t, "leads")
	waitDone(t, done)

	status, total, processed, successful := progress.snapshot()
	assert.Equal(t, types.JobFinished, status)
	assert.Equal(t, 3, total)
	assert.Equal(t, 2, processed)
	// the second candidate shares a phone; the worker's own count is ignored
	assert.Equal(t, 1, successful)
	assert.Equal(t, "done", progress.lastLog())
	assert.Len(t, sink.Leads(), 1)

	attached, detached := handles.counts()
	assert.Equal(t, 1, attached)
	assert.Equal(t, 1, detached)
}

func TestProcessStrategy_SilentWorkerFinishes(t *testing.T) {
	progress, _, _, done := runProcess(t, "quiet")
	waitDone(t, done)

	status, _, _, _ := progress.snapshot()
	assert.Equal(t, types.JobFinished, status)
	assert.Equal(t, "worker completed: 0 new leads", progress.lastLog())
}

func TestProcessStrategy_NonZeroExit(t *testing.T) {
	progress, _, _, done := runProcess(t, "exit1")
	waitDone(t, done)

	status, total, processed, _ := progress.snapshot()
	assert.Equal(t, types.JobError, status)
	assert.Equal(t, 3, total)
	assert.Equal(t, 1, processed)
	assert.Equal(t, "worker exited with code 1", progress.lastLog())
}

func TestProcessStrategy_Terminated(t *testing.T) {
	progress, handles, _, done := runProcess(t, "sleep")

	require.Eventually(t, func() bool {
		status, _, _, _ := progress.snapshot()
		return status == types.JobRunning
	}, 10*time.Second, 10*time.Millisecond)

	handles.mu.Lock()
	h := handles.attached[0]
	handles.mu.Unlock()
	require.True(t, h.Alive())
	require.NoError(t, h.Terminate())

	waitDone(t, done)
	status, _, _, _ := progress.snapshot()
	assert.Equal(t, types.JobError, status)
	assert.True(t, strings.HasPrefix(progress.lastLog(), "worker cancelled by operator"))
	assert.False(t, h.Alive())
}

func TestProcessStrategy_SpawnFailure(t *testing.T) {
	s := NewProcessStrategy(worker.Command{Path: "/nonexistent/leadworker"}, nil)
	handles := &registry{}

	err := s.Execute(context.Background(), &Run{JobID: "job-1", SourceURL: searchURL, TargetLeadCount: 3, Progress: newRecorder(), Sink: storage.NewMemoryLeadSink(), Handles: handles})
	require.Error(t, err)
	assert.True(t, apperrors.Is(err, apperrors.CategoryStrategy))
	assert.True(t, strings.HasPrefix(apperrors.Categorize(err).Message, "failed to start worker"))

	attached, _ := handles.counts()
	assert.Zero(t, attached)
}
