// Package driver runs ingestion for a set of accounts: it prints each
// account's balance and new transactions, keeps the run log and metrics, and
// reports every account failure without stopping the others.
package driver

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/dvloznov/bank-download/internal/domain"
	"github.com/dvloznov/bank-download/internal/ingest"
	"github.com/dvloznov/bank-download/internal/jobs"
	"github.com/dvloznov/bank-download/internal/jobs/inmemory"
	"github.com/dvloznov/bank-download/internal/logger"
	"github.com/dvloznov/bank-download/internal/metrics"
	"github.com/dvloznov/bank-download/internal/notify"
	"github.com/dvloznov/bank-download/internal/source"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// RunLog records the start and end of every account run.
type RunLog interface {
	StartRun(ctx context.Context, run domain.IngestionRun) error
	FinishRun(ctx context.Context, run domain.IngestionRun) error
}

// Account is one configured account with its source.
type Account struct {
	Name    string
	Adapter source.Adapter
}

// Result is what one account run produced.
type Result struct {
	Account string
	RunID   string
	Balance decimal.Decimal
	New     []domain.Transaction
	Stats   ingest.Stats
	Err     error
}

// Digest converts results to a notification digest.
func Digest(results []Result) notify.Digest {
	d := make(notify.Digest, 0, len(results))
	for _, r := range results {
		d = append(d, notify.AccountDigest{Account: r.Account, Balance: r.Balance, New: r.New, Err: r.Err})
	}
	return d
}

// Runner runs accounts through an ingestion engine.
type Runner struct {
	engine  *ingest.Engine
	runLog  RunLog
	metrics *metrics.Recorder
	jobs    jobs.JobStore
	now     func() time.Time

	mu  sync.Mutex // guards out
	out io.Writer
}

// Option configures a Runner.
type Option func(*Runner)

// WithRunLog records every run in l.
func WithRunLog(l RunLog) Option {
	return func(r *Runner) { r.runLog = l }
}

// WithMetrics records run durations and failures.
func WithMetrics(m *metrics.Recorder) Option {
	return func(r *Runner) { r.metrics = m }
}

// WithJobStore keeps the state of every sync job in s.
func WithJobStore(s jobs.JobStore) Option {
	return func(r *Runner) { r.jobs = s }
}

// WithClock overrides the clock used for run timestamps.
func WithClock(now func() time.Time) Option {
	return func(r *Runner) { r.now = now }
}

// NewRunner creates a Runner printing to out.
func NewRunner(engine *ingest.Engine, out io.Writer, opts ...Option) *Runner {
	r := &Runner{engine: engine, out: out, now: time.Now}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Sync runs one account, printing its output as it is produced.
func (r *Runner) Sync(ctx context.Context, acct Account) Result {
	return r.sync(ctx, acct, lockedWriter{r})
}

// SyncAll runs every account on an in-memory job queue with the given number
// of workers. With more than one worker each account's output is printed as
// one block when it finishes. The returned error joins every account error.
func (r *Runner) SyncAll(ctx context.Context, accts []Account, workers int) ([]Result, error) {
	if len(accts) == 0 {
		return nil, nil
	}

	byName := make(map[string]int, len(accts))
	for i, a := range accts {
		if _, dup := byName[a.Name]; dup {
			return nil, fmt.Errorf("SyncAll: duplicate account %q", a.Name)
		}
		byName[a.Name] = i
	}

	var (
		mu      sync.Mutex
		results = make([]Result, len(accts))
		done    = make([]bool, len(accts))
		wg      sync.WaitGroup
	)
	wg.Add(len(accts))

	handler := r.Handler(accts, workers > 1, func(res Result) {
		mu.Lock()
		defer mu.Unlock()
		i := byName[res.Account]
		results[i], done[i] = res, true
		wg.Done()
	})

	q := inmemory.NewQueue(len(accts), workers, r.jobs)
	if err := q.Start(ctx, handler); err != nil {
		return nil, fmt.Errorf("SyncAll: starting queue: %w", err)
	}

	for _, a := range accts {
		if err := q.PublishSyncAccount(ctx, &jobs.SyncAccountJob{Account: a.Name, Trigger: jobs.TriggerManual}); err != nil {
			wg.Done()
			mu.Lock()
			i := byName[a.Name]
			results[i], done[i] = Result{Account: a.Name, Err: err}, true
			mu.Unlock()
		}
	}

	finished := make(chan struct{})
	go func() {
		wg.Wait()
		close(finished)
	}()
	select {
	case <-finished:
	case <-ctx.Done():
	}
	if err := q.Stop(context.WithoutCancel(ctx)); err != nil {
		logger.FromContext(ctx).Warn().Err(err).Msg("Stopping job queue")
	}

	mu.Lock()
	defer mu.Unlock()

	var errs []error
	for i := range results {
		if !done[i] {
			results[i] = Result{Account: accts[i].Name, Err: ctx.Err()}
		}
		if err := results[i].Err; err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", results[i].Account, err))
		}
	}
	return results, errors.Join(errs...)
}

// Handler returns a job handler syncing the named account from accts and
// passing the result to onResult. With buffered set, the account's output is
// printed in one piece after the run.
func (r *Runner) Handler(accts []Account, buffered bool, onResult func(Result)) jobs.JobHandler {
	byName := make(map[string]Account, len(accts))
	for _, a := range accts {
		byName[a.Name] = a
	}

	return func(ctx context.Context, job jobs.Job) error {
		sj, ok := job.(*jobs.SyncAccountJob)
		if !ok {
			return fmt.Errorf("unexpected job type: %T", job)
		}
		acct, ok := byName[sj.Account]
		if !ok {
			err := fmt.Errorf("unknown account %q", sj.Account)
			if onResult != nil {
				onResult(Result{Account: sj.Account, Err: err})
			}
			return err
		}

		var res Result
		if buffered {
			var buf bytes.Buffer
			res = r.sync(ctx, acct, &buf)
			r.mu.Lock()
			_, _ = r.out.Write(buf.Bytes())
			r.mu.Unlock()
		} else {
			res = r.Sync(ctx, acct)
		}

		sj.RunID, sj.NewCount = res.RunID, len(res.New)
		if onResult != nil {
			onResult(res)
		}
		return res.Err
	}
}

// sync runs one account, writing its balance and new transactions to w.
func (r *Runner) sync(ctx context.Context, acct Account, w io.Writer) Result {
	log := logger.FromContext(ctx).With().Str("account", acct.Name).Logger()
	ctx = logger.WithContext(ctx, log)

	res := Result{Account: acct.Name}
	started := r.now()

	run, err := r.engine.Ingest(ctx, acct.Name, acct.Adapter)
	if err != nil {
		res.Err = err
		rec := domain.IngestionRun{RunID: uuid.NewString(), AccountName: acct.Name, StartedAt: started, Status: domain.RunStatusRunning}
		res.RunID = rec.RunID
		r.startRun(ctx, rec)
		r.finish(ctx, rec, &res, started)
		return res
	}

	res.RunID, res.Balance = run.RunID, run.Balance
	rec := domain.IngestionRun{RunID: run.RunID, AccountName: acct.Name, StartedAt: started, Status: domain.RunStatusRunning}
	r.startRun(ctx, rec)

	fmt.Fprintf(w, "%s balance %s\n", acct.Name, run.Balance)
	for out, err := range run.Outcomes(ctx) {
		if err != nil {
			res.Err = err
			break
		}
		if !out.IsNew {
			continue
		}
		t := out.Transaction
		fmt.Fprintf(w, "%s %s %s\n", t.Date, t.Amount, t.Description)
		res.New = append(res.New, t)
	}
	res.Stats = run.Stats()

	r.finish(ctx, rec, &res, started)
	return res
}

func (r *Runner) startRun(ctx context.Context, rec domain.IngestionRun) {
	if r.runLog == nil {
		return
	}
	if err := r.runLog.StartRun(ctx, rec); err != nil {
		logger.FromContext(ctx).Warn().Err(err).Str("run_id", rec.RunID).Msg("Failed to record run start")
	}
}

// finish records the end of a run in the run log, the metrics and the log.
func (r *Runner) finish(ctx context.Context, rec domain.IngestionRun, res *Result, started time.Time) {
	log := logger.FromContext(ctx)

	rec.Finish(r.now(), len(res.New), res.Err)
	if r.runLog != nil {
		if err := r.runLog.FinishRun(ctx, rec); err != nil {
			log.Warn().Err(err).Str("run_id", rec.RunID).Msg("Failed to record run end")
		}
	}
	r.metrics.RecordRun(res.Account, started, res.Err)

	if res.Err != nil {
		log.Error().
			Err(res.Err).
			Str("kind", domain.Kind(res.Err)).
			Str("run_id", rec.RunID).
			Int("new", len(res.New)).
			Msg("Account sync failed")
		return
	}
	log.Info().
		Str("run_id", rec.RunID).
		Int("new", len(res.New)).
		Int("windows", res.Stats.Windows).
		Str("stop_reason", res.Stats.StopReason).
		Msg("Account synced")
}

// lockedWriter serializes writes from concurrent streaming runs.
type lockedWriter struct{ r *Runner }

func (w lockedWriter) Write(p []byte) (int, error) {
	w.r.mu.Lock()
	defer w.r.mu.Unlock()
	return w.r.out.Write(p)
}
