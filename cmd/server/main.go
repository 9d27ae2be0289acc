// Package main provides the API server entry point for the lead scanner service.
package main

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/lead-scanner/internal/adapter"
	"github.com/lead-scanner/internal/api"
	"github.com/lead-scanner/internal/config"
	"github.com/lead-scanner/internal/job"
	"github.com/lead-scanner/internal/logging"
	"github.com/lead-scanner/internal/scheduler"
	"github.com/lead-scanner/internal/storage"
	"github.com/lead-scanner/internal/strategy"
	"github.com/lead-scanner/internal/worker"
)

func main() {
	fmt.Println("Lead Scanner API Server")
	log.Println("Server starting...")

	// Load configuration
	cfg, err := config.LoadConfig()
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}
	if err := cfg.Validate(); err != nil {
		log.Fatalf("Invalid configuration: %v", err)
	}

	// Initialize structured logging
	logLevel := logging.ParseLogLevel(cfg.Logging.Level)
	logFormat := logging.ParseLogFormat(cfg.Logging.Format)
	logging.InitGlobalLogger(logLevel, logFormat)

	logger := logging.GetGlobalLogger()
	logger.WithFields(map[string]interface{}{
		"level":  cfg.Logging.Level,
		"format": cfg.Logging.Format,
	}).Info("Structured logging initialized")

	env, _ := cfg.Environment()

	// Initialize stores
	logger.Info("Connecting to databases...")

	var jobStore storage.JobStore
	var leadSink storage.LeadSink

	postgres, err := storage.NewPostgresDB(&cfg.Database.Postgres)
	if err != nil {
		logger.WithError(err).Warn("Postgres unavailable, jobs and leads are kept in memory")
		jobStore = storage.NewMemoryJobStore()
		leadSink = storage.NewMemoryLeadSink()
	} else {
		defer postgres.Close()
		jobStore = storage.NewJobRepository(postgres)
		leadSink = storage.NewLeadRepository(postgres)
	}

	redis, err := storage.NewRedisCache(&cfg.Database.Redis)
	if err != nil {
		logger.WithError(err).Warn("Redis unavailable, job snapshots are not cached")
	} else {
		defer redis.Close()
		jobStore = storage.NewCachedJobStore(jobStore, redis, cfg.Cache.TTL)
	}

	// Initialize strategies
	discoverer, err := strategy.NewDiscoverer(cfg.Scrape.ListingPattern, cfg.Scrape.TotalPages)
	if err != nil {
		logger.WithError(err).Fatal("Invalid listing pattern")
	}

	command := worker.ParseCommand(cfg.Worker.Command)
	strategies := strategy.Registry{
		strategy.NameProcess: strategy.NewProcessStrategy(command, worker.NewDecoder(cfg.Worker.ProgressTag)),
		strategy.NameHTTP: strategy.NewHTTPStrategy(strategy.HTTPConfig{
			Cap:               cfg.Scrape.HTTPCap,
			UserAgent:         cfg.Scrape.UserAgent,
			RequestTimeout:    cfg.Scrape.RequestTimeout,
			RequestsPerSecond: cfg.Scrape.RequestsPerSecond,
		}, discoverer, nil),
		strategy.NameBrowser: strategy.NewBrowserStrategy(strategy.BrowserConfig{
			Cap:            cfg.Scrape.BrowserCap,
			SettleDelay:    cfg.Scrape.SettleDelay,
			CandidateDelay: cfg.Scrape.CandidateDelay,
		}, discoverer, adapter.SessionFactory(adapter.ChromeConfig{
			Headless:  cfg.Scrape.BrowserHeadless,
			UserAgent: cfg.Scrape.UserAgent,
			ExecPath:  cfg.Scrape.BrowserExecPath,
		})),
	}

	orchestrator := job.NewOrchestrator(jobStore, leadSink, strategies, job.Config{
		Environment:        env,
		DefaultTargetLeads: cfg.Orchestrator.DefaultTargetLeads,
		Sweep:              job.SweepByCommand(env, command),
	})

	logger.WithFields(map[string]interface{}{
		"environment": env,
		"worker":      cfg.Worker.Command,
	}).Info("Orchestrator initialized")

	// Scheduled acquisition
	sched, err := scheduler.New(orchestrator, scheduler.Config{
		Cron:        cfg.Schedule.Cron,
		URL:         cfg.Schedule.URL,
		TargetLeads: cfg.Schedule.TargetLeads,
	})
	if err != nil {
		logger.WithError(err).Fatal("Invalid schedule")
	}
	sched.Start(logging.WithLogger(context.Background(), logger.WithField("component", "scheduler")))

	// Create server configuration
	serverConfig := &api.ServerConfig{
		Host: cfg.Server.Host,
		Port: cfg.Server.Port,
		// inline strategies answer POST /jobs only when the job is done
		ReadTimeout:     15 * time.Second,
		WriteTimeout:    0,
		IdleTimeout:     60 * time.Second,
		ShutdownTimeout: 10 * time.Second,
		ClientRPS:       cfg.RateLimit.RequestsPerSecond,
		ClientBurst:     cfg.RateLimit.RequestsPerSecond * 2,
	}

	server := api.NewServer(serverConfig, orchestrator)

	// Start server in a goroutine
	go func() {
		if err := server.Start(); err != nil && err != http.ErrServerClosed {
			logger.WithError(err).Fatal("Server failed to start")
		}
	}()

	logger.WithFields(map[string]interface{}{
		"host": cfg.Server.Host,
		"port": cfg.Server.Port,
	}).Info("Server started successfully")

	// Wait for interrupt signal to gracefully shutdown the server
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("Shutting down server...")

	// Create shutdown context with timeout
	ctx, cancel := context.WithTimeout(context.Background(), serverConfig.ShutdownTimeout)
	defer cancel()

	if err := sched.Stop(ctx); err != nil {
		logger.WithError(err).Warn("Scheduler did not stop in time")
	}

	// stop the worker and any inline job before exiting
	if err := orchestrator.CancelJob(ctx); err != nil {
		logger.WithError(err).Warn("Failed to stop running jobs")
	}

	// Attempt graceful shutdown
	if err := server.Shutdown(ctx); err != nil {
		logger.WithError(err).Fatal("Server forced to shutdown")
	}

	logger.Info("Server exited")
}
