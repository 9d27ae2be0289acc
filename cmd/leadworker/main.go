// Package main is the external lead worker. It is started by the server as
//
//	leadworker <jobId> <searchUrl> <targetLeadCount>
//
// drives a headless browser over the search results and reports progress on
// stdout through the tagged line protocol. Logs go to stderr.
package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"strconv"
	"syscall"

	"github.com/lead-scanner/internal/adapter"
	"github.com/lead-scanner/internal/config"
	apperrors "github.com/lead-scanner/internal/errors"
	"github.com/lead-scanner/internal/logging"
	"github.com/lead-scanner/internal/strategy"
	"github.com/lead-scanner/internal/types"
	"github.com/lead-scanner/internal/worker"
)

func main() {
	os.Exit(run(os.Args[1:]))
}

func run(args []string) int {
	if len(args) != 3 {
		fmt.Fprintln(os.Stderr, "usage: leadworker <jobId> <searchUrl> <targetLeadCount>")
		return 2
	}
	jobID, searchURL := args[0], args[1]
	target, err := strconv.Atoi(args[2])
	if err != nil || target <= 0 {
		fmt.Fprintf(os.Stderr, "invalid target lead count %q\n", args[2])
		return 2
	}

	cfg, err := config.LoadConfig()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load configuration: %v\n", err)
		return 1
	}

	// stdout carries the protocol
	logger := logging.NewLoggerWithOutput(logging.ParseLogLevel(cfg.Logging.Level), logging.ParseLogFormat(cfg.Logging.Format), os.Stderr).
		WithFields(map[string]interface{}{"jobId": jobID, "component": "leadworker"})
	logging.SetGlobalLogger(logger)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	ctx = logging.WithLogger(ctx, logger)

	emitter := worker.NewEmitter(os.Stdout, worker.NewDecoder(cfg.Worker.ProgressTag))

	discoverer, err := strategy.NewDiscoverer(cfg.Scrape.ListingPattern, cfg.Scrape.TotalPages)
	if err != nil {
		emitter.Finish(ctx, types.JobError, err.Error())
		return 1
	}

	browser := strategy.NewBrowserStrategy(strategy.BrowserConfig{
		Cap:            target,
		SettleDelay:    cfg.Scrape.SettleDelay,
		CandidateDelay: cfg.Scrape.CandidateDelay,
	}, discoverer, adapter.SessionFactory(adapter.ChromeConfig{
		Headless:  cfg.Scrape.BrowserHeadless,
		UserAgent: cfg.Scrape.UserAgent,
		ExecPath:  cfg.Scrape.BrowserExecPath,
	}))

	logger.WithFields(map[string]interface{}{
		"url":    searchURL,
		"target": target,
	}).Info("Worker started")

	err = browser.Execute(ctx, &strategy.Run{
		JobID:           jobID,
		SourceURL:       searchURL,
		TargetLeadCount: target,
		Progress:        emitter,
		Sink:            emitter,
	})
	switch {
	case err == nil:
		logger.Info("Worker finished")
		return 0
	case errors.Is(err, context.Canceled):
		logger.Warn("Worker interrupted")
		emitter.Finish(ctx, types.JobError, "worker interrupted")
		return 1
	default:
		logger.WithError(err).Error("Worker failed")
		msg := err.Error()
		if catErr := apperrors.Categorize(err); catErr != nil {
			msg = catErr.Message
		}
		emitter.Finish(ctx, types.JobError, msg)
		return 1
	}
}
