package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/dvloznov/bank-download/internal/api/handlers"
	"github.com/dvloznov/bank-download/internal/app"
	"github.com/dvloznov/bank-download/internal/driver"
	"github.com/dvloznov/bank-download/internal/jobs"
	"github.com/dvloznov/bank-download/internal/jobs/inmemory"
	"github.com/dvloznov/bank-download/internal/logger"
	"github.com/google/subcommands"
	"github.com/robfig/cron/v3"
)

// scheduleCmd implements the "schedule" command.
type scheduleCmd struct {
	configPath string
	listen     string
	now        bool
}

func (*scheduleCmd) Name() string     { return "schedule" }
func (*scheduleCmd) Synopsis() string { return "syncs every account on a cron schedule" }
func (*scheduleCmd) Usage() string {
	return `schedule [-config file] [-listen addr] [-now]

Runs until interrupted. On every tick of schedule.cron one sync job per
enabled account is queued and run by schedule.workers workers. An account
whose previous job has not finished is skipped for that tick.

The status server exposes:
  GET  /health      liveness
  GET  /metrics     Prometheus metrics
  GET  /jobs        recent jobs (?account=&status=&limit=&offset=)
  GET  /jobs/{id}   one job
  POST /jobs        {"account": "name"} queues an immediate sync
`
}

func (c *scheduleCmd) SetFlags(f *flag.FlagSet) {
	f.StringVar(&c.configPath, "config", defaultConfig, "configuration file")
	f.StringVar(&c.listen, "listen", "", "status server address (overrides schedule.listen)")
	f.BoolVar(&c.now, "now", false, "also sync every account at startup")
}

func (c *scheduleCmd) Execute(ctx context.Context, _ *flag.FlagSet, _ ...interface{}) subcommands.ExitStatus {
	ctx, cfg, log, err := setup(ctx, c.configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return subcommands.ExitFailure
	}
	if c.listen != "" {
		cfg.Schedule.Listen = c.listen
	}

	a, err := app.New(ctx, cfg)
	if err != nil {
		log.Error().Err(err).Msg("Failed to initialize")
		return subcommands.ExitFailure
	}
	defer a.Close()

	accts, err := a.Accounts(ctx)
	if err != nil {
		log.Error().Err(err).Msg("Failed to configure accounts")
		return subcommands.ExitFailure
	}
	names := make([]string, len(accts))
	for i, acct := range accts {
		names[i] = acct.Name
	}

	// Initialize job infrastructure
	jobStore := inmemory.NewStore()
	jobQueue := inmemory.NewQueue(len(accts), cfg.Schedule.Workers, jobStore)
	sched := newScheduler(names, jobQueue, jobStore)

	workerCtx, cancelWorker := context.WithCancel(ctx)
	defer cancelWorker()

	handler := a.Runner(os.Stdout).Handler(accts, cfg.Schedule.Workers > 1, func(res driver.Result) {
		if err := a.Mailer.Send(workerCtx, driver.Digest([]driver.Result{res})); err != nil {
			log.Warn().Err(err).Str("account", res.Account).Msg("Failed to send notification")
		}
	})
	if err := jobQueue.Start(workerCtx, handler); err != nil {
		log.Error().Err(err).Msg("Failed to start job workers")
		return subcommands.ExitFailure
	}

	cr := cron.New()
	if _, err := cr.AddFunc(cfg.Schedule.Cron, func() { sched.EnqueueAll(ctx) }); err != nil {
		log.Error().Err(err).Str("cron", cfg.Schedule.Cron).Msg("Invalid schedule")
		return subcommands.ExitFailure
	}
	cr.Start()
	log.Info().Str("cron", cfg.Schedule.Cron).Int("accounts", len(names)).Int("workers", cfg.Schedule.Workers).Msg("Scheduler started")

	if c.now {
		sched.EnqueueAll(ctx)
	}

	server := &http.Server{
		Addr:         cfg.Schedule.Listen,
		Handler:      handlers.Routes(handlers.NewJobsHandler(jobStore, sched, names), a.Metrics.Handler(), log),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	serverErr := make(chan error, 1)
	go func() {
		log.Info().Str("addr", server.Addr).Msg("Starting status server")
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErr <- err
		}
	}()

	// Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	status := subcommands.ExitSuccess
	select {
	case <-quit:
	case err := <-serverErr:
		log.Error().Err(err).Msg("Status server failed")
		status = subcommands.ExitFailure
	}

	log.Info().Msg("Shutting down...")
	<-cr.Stop().Done()

	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("Status server forced to shutdown")
	}

	// Stop job queue and wait for in-flight syncs
	if err := jobQueue.Stop(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("In-flight syncs did not finish")
		status = subcommands.ExitFailure
	}

	log.Info().Msg("Scheduler exited")
	return status
}

// scheduler publishes sync jobs, keeping at most one unfinished job per
// account.
type scheduler struct {
	accounts  []string
	publisher jobs.Publisher
	store     jobs.JobStore

	mu sync.Mutex // serializes the busy check and the publish
}

func newScheduler(accounts []string, publisher jobs.Publisher, store jobs.JobStore) *scheduler {
	return &scheduler{accounts: accounts, publisher: publisher, store: store}
}

// errBusy is returned for an account that already has an unfinished job.
var errBusy = errors.New("a sync of this account is already queued or running")

// PublishSyncAccount publishes job unless its account is busy.
func (s *scheduler) PublishSyncAccount(ctx context.Context, job *jobs.SyncAccountJob) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, st := range []jobs.JobStatus{jobs.JobStatusPending, jobs.JobStatusRunning, jobs.JobStatusRetrying} {
		list, err := s.store.ListJobs(ctx, jobs.JobFilter{Account: job.Account, Status: st, Limit: 1})
		if err != nil {
			return fmt.Errorf("PublishSyncAccount: %w", err)
		}
		if len(list) > 0 {
			return fmt.Errorf("PublishSyncAccount: %s: %w", job.Account, errBusy)
		}
	}
	return s.publisher.PublishSyncAccount(ctx, job)
}

// Close closes the underlying publisher.
func (s *scheduler) Close() error {
	return s.publisher.Close()
}

// EnqueueAll queues a scheduled sync of every account and returns how many
// jobs were queued.
func (s *scheduler) EnqueueAll(ctx context.Context) int {
	log := logger.FromContext(ctx)

	n := 0
	for _, name := range s.accounts {
		job := &jobs.SyncAccountJob{Account: name, Trigger: jobs.TriggerSchedule}
		err := s.PublishSyncAccount(ctx, job)
		switch {
		case errors.Is(err, errBusy):
			log.Warn().Str("account", name).Msg("Previous sync not finished, skipping")
		case err != nil:
			log.Error().Err(err).Str("account", name).Msg("Failed to queue sync")
		default:
			n++
		}
	}
	log.Info().Int("queued", n).Msg("Scheduled syncs queued")
	return n
}
