package worker

import (
	"context"
	"os"
	"path/filepath"

	"github.com/shirou/gopsutil/process"

	"github.com/lead-scanner/internal/logging"
)

// Matches reports whether a process command line was started from c: the
// same executable followed by all of c's fixed arguments. An interpreter
// alone never matches a command that names a script.
func (c Command) Matches(cmdline []string) bool {
	if c.Path == "" || len(cmdline) < 1+len(c.Args) {
		return false
	}
	if cmdline[0] != c.Path && filepath.Base(cmdline[0]) != c.Name() {
		return false
	}
	for i, arg := range c.Args {
		if cmdline[1+i] != arg {
			return false
		}
	}
	return true
}

// SweepByCommand sends SIGTERM to every process on the host whose command
// line matches c, except the current process. It recovers workers whose
// handle was lost, e.g. across a server restart. Returns how many were
// signalled.
func SweepByCommand(ctx context.Context, c Command) (int, error) {
	if c.Path == "" {
		return 0, nil
	}

	procs, err := process.ProcessesWithContext(ctx)
	if err != nil {
		return 0, err
	}

	self := int32(os.Getpid()) // #nosec G115 - pids fit in int32
	logger := logging.FromContext(ctx)
	signalled := 0
	for _, p := range procs {
		if p.Pid == self {
			continue
		}
		cmdline, err := p.CmdlineSliceWithContext(ctx)
		if err != nil || !c.Matches(cmdline) {
			continue
		}
		if err := p.TerminateWithContext(ctx); err != nil {
			logger.WithError(err).WithField("pid", p.Pid).Debug("Failed to terminate stray worker")
			continue
		}
		signalled++
	}

	if signalled > 0 {
		logger.WithFields(map[string]interface{}{
			"command":   c.Path,
			"signalled": signalled,
		}).Info("Swept stray worker processes")
	}
	return signalled, nil
}
