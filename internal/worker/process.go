// Package worker supervises the external lead worker process: spawning it in
// its own process group, decoding its progress protocol and sweeping strays.
package worker

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"os/exec"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/lead-scanner/internal/logging"
)

// Handle is the orchestrator's view of a live worker process
type Handle interface {
	// Alive reports whether the process has not exited yet
	Alive() bool
	// Terminate signals the whole process group. Safe to call more than once.
	Terminate() error
}

// Command is the worker executable plus fixed leading arguments
type Command struct {
	Path string
	Args []string
	Env  []string // added to the parent's environment
}

// ParseCommand splits a configured command line on whitespace
func ParseCommand(line string) Command {
	fields := strings.Fields(line)
	if len(fields) == 0 {
		return Command{}
	}
	return Command{Path: fields[0], Args: fields[1:]}
}

// Name is the executable name used for the system-wide sweep
func (c Command) Name() string {
	if c.Path == "" {
		return ""
	}
	parts := strings.Split(strings.ReplaceAll(c.Path, "\\", "/"), "/")
	return parts[len(parts)-1]
}

// Process is a spawned worker. Its stdout is consumed by Supervise.
type Process struct {
	cmd    *exec.Cmd
	stdout io.ReadCloser
	stderr io.ReadCloser

	done      chan struct{}
	waitOnce  sync.Once
	exitCode  int
	cancelled atomic.Bool
}

// Start spawns the command with extra trailing arguments in a new process group
func Start(c Command, extraArgs ...string) (*Process, error) {
	if c.Path == "" {
		return nil, fmt.Errorf("worker command is not configured")
	}

	args := make([]string, 0, len(c.Args)+len(extraArgs))
	args = append(args, c.Args...)
	args = append(args, extraArgs...)

	cmd := exec.Command(c.Path, args...) // #nosec G204 - operator-configured worker command
	cmd.Env = append(os.Environ(), c.Env...)
	setProcessGroup(cmd)

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, fmt.Errorf("failed to open worker stdout: %w", err)
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		return nil, fmt.Errorf("failed to open worker stderr: %w", err)
	}

	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("failed to start worker %s: %w", c.Path, err)
	}

	return &Process{
		cmd:    cmd,
		stdout: stdout,
		stderr: stderr,
		done:   make(chan struct{}),
	}, nil
}

// PID returns the OS process id, which is also the process group id
func (p *Process) PID() int {
	return p.cmd.Process.Pid
}

// Alive reports whether the process has not been reaped yet
func (p *Process) Alive() bool {
	select {
	case <-p.done:
		return false
	default:
		return true
	}
}

// Terminate sends SIGTERM to the worker's process group and marks the run as cancelled
func (p *Process) Terminate() error {
	p.cancelled.Store(true)
	if !p.Alive() {
		return nil
	}
	return terminateGroup(p.cmd)
}

// Cancelled reports whether Terminate was called
func (p *Process) Cancelled() bool {
	return p.cancelled.Load()
}

// Done is closed once the process has exited and its output is drained
func (p *Process) Done() <-chan struct{} {
	return p.done
}

// ExitCode is valid after Done is closed
func (p *Process) ExitCode() int {
	<-p.done
	return p.exitCode
}

// drainStderr forwards worker diagnostics to the debug log
func (p *Process) drainStderr(logger *logging.Logger, wg *sync.WaitGroup) {
	defer wg.Done()
	scanner := bufio.NewScanner(p.stderr)
	scanner.Buffer(make([]byte, 64*1024), maxLineSize)
	for scanner.Scan() {
		logger.WithField("stream", "stderr").Debug(scanner.Text())
	}
}

// wait reaps the process. Must only be called after stdout and stderr hit EOF.
func (p *Process) wait() {
	p.waitOnce.Do(func() {
		p.exitCode = exitCodeOf(p.cmd.Wait())
		close(p.done)
	})
}
