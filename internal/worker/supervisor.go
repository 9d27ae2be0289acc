package worker

import (
	"bufio"
	"context"
	"io"
	"sync"

	"github.com/lead-scanner/internal/logging"
	"github.com/lead-scanner/internal/models"
)

// Outcome describes how a supervised worker ended
type Outcome struct {
	ExitCode  int
	Cancelled bool
	// Updates is the number of progress lines successfully decoded
	Updates int
}

// Supervise reads p's stdout until EOF, handing each decoded update to apply
// in the order the worker wrote them, then reaps the process. Untagged lines
// are logged at debug; malformed tagged lines are logged and skipped.
func Supervise(ctx context.Context, p *Process, decoder *Decoder, apply func(models.ProgressUpdate)) Outcome {
	logger := logging.FromContext(ctx).WithField("pid", p.PID())

	var stderrDone sync.WaitGroup
	stderrDone.Add(1)
	go p.drainStderr(logger, &stderrDone)

	outcome := Outcome{}
	scanner := bufio.NewScanner(p.stdout)
	scanner.Buffer(make([]byte, 64*1024), maxLineSize)
	for scanner.Scan() {
		line := scanner.Text()

		update, tagged, err := decoder.Decode(line)
		switch {
		case !tagged:
			logger.WithField("stream", "stdout").Debug(line)
		case err != nil:
			logger.WithError(err).WithField("line", line).Warn("Skipping malformed worker progress line")
		default:
			outcome.Updates++
			apply(*update)
		}
	}
	if err := scanner.Err(); err != nil {
		logger.WithError(err).Warn("Worker stdout read failed")
		_, _ = io.Copy(io.Discard, p.stdout)
	}

	stderrDone.Wait()
	p.wait()

	outcome.ExitCode = p.exitCode
	outcome.Cancelled = p.Cancelled()

	logger.WithFields(map[string]interface{}{
		"exitCode":  outcome.ExitCode,
		"cancelled": outcome.Cancelled,
		"updates":   outcome.Updates,
	}).Info("Worker process exited")

	return outcome
}
