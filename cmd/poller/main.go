//go:build unix

// Package main is a terminal client that starts and follows a lead
// acquisition job. It keeps the watched job in a state file so a restarted
// client resumes the same job, and polls at once when it is brought back to
// the foreground (SIGCONT).
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/lead-scanner/internal/logging"
	"github.com/lead-scanner/internal/poller"
)

func main() {
	var (
		server   = flag.String("server", "http://localhost:8080", "Job control endpoint base URL")
		startURL = flag.String("start", "", "Start a job for this listing search URL")
		target   = flag.Int("max", 0, "Target lead count for -start (0 uses the server default)")
		cancel   = flag.Bool("cancel", false, "Cancel the running job and exit")
		interval = flag.Duration("interval", poller.DefaultInterval, "Polling interval")
		state    = flag.String("state", defaultStatePath(), "State file")
		level    = flag.String("log-level", "warn", "Log level")
	)
	flag.Parse()

	logging.SetGlobalLogger(logging.NewLoggerWithOutput(logging.ParseLogLevel(*level), logging.FormatText, os.Stderr))

	hostname, _ := os.Hostname()
	client := poller.NewHTTPClient(poller.HTTPClientConfig{
		BaseURL:  *server,
		ClientID: fmt.Sprintf("poller-%s-%d", hostname, os.Getuid()),
	})
	p := poller.New(client, poller.NewFileStore(*state), poller.Config{
		Interval: *interval,
		OnChange: printState,
	})

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// restore before any network call
	watching, err := p.Mount()
	if err != nil {
		fail("failed to restore state: %v", err)
	}

	if *cancel {
		if err := p.Cancel(ctx); err != nil {
			fail("%v", err)
		}
		fmt.Println("cancelled")
		return
	}

	if *startURL != "" {
		if watching {
			fail("already watching job %s, cancel it first", p.State().JobID())
		}
		id, err := p.Start(ctx, *startURL, *target)
		if err != nil {
			fail("failed to start job: %v", err)
		}
		fmt.Printf("started job %s\n", id)
	} else if !watching {
		fmt.Println("no active job")
		return
	}

	visible := make(chan struct{}, 1)
	cont := make(chan os.Signal, 1)
	signal.Notify(cont, syscall.SIGCONT)
	defer signal.Stop(cont)
	go func() {
		for range cont {
			select {
			case visible <- struct{}{}:
			default:
			}
		}
	}()

	// first poll right away rather than after one interval
	if err := p.Tick(ctx); err != nil {
		logging.WithError(err).Warn("Status poll failed")
	}

	final, err := p.Run(ctx, visible)
	if err != nil {
		// interrupted: the state file keeps the job for the next run
		fmt.Println("stopped watching; rerun to resume")
		return
	}
	if final != nil {
		when := ""
		if final.FinishedAt != nil {
			when = " at " + final.FinishedAt.Local().Format(time.Kitchen)
		}
		fmt.Printf("job %s%s: %s\n", final.Status, when, final.Log)
	}
}

func printState(s poller.State) {
	if s.Job == nil {
		return
	}
	j := s.Job
	fmt.Printf("[%s] %-8s %d/%d processed, %d leads  %s\n",
		j.ID, j.Status, j.Processed, j.Total, j.SuccessfulLeads, j.Log)
}

func defaultStatePath() string {
	dir, err := os.UserCacheDir()
	if err != nil {
		dir = os.TempDir()
	}
	return filepath.Join(dir, "lead-scanner", "poller.json")
}

func fail(format string, args ...interface{}) {
	fmt.Fprintf(os.Stderr, format+"\n", args...)
	os.Exit(1)
}
