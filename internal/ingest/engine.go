// Package ingest drives one account's ingestion: it walks date windows
// backward, pulls pages from a source adapter, reconciles every record with
// the store and decides when older windows no longer need scanning.
package ingest

import (
	"context"
	"errors"
	"fmt"
	"iter"
	"time"

	"github.com/dvloznov/bank-download/internal/domain"
	"github.com/dvloznov/bank-download/internal/logger"
	"github.com/dvloznov/bank-download/internal/metrics"
	"github.com/dvloznov/bank-download/internal/source"
	"github.com/dvloznov/bank-download/internal/store"
	"github.com/dvloznov/bank-download/internal/window"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// PageArchive keeps a copy of every raw page fetched, for auditing and for
// re-parsing after an adapter fix.
type PageArchive interface {
	ArchivePage(ctx context.Context, key string, p source.Page) error
}

// Engine reconciles source records with a Store.
type Engine struct {
	store    *store.Store
	walker   window.Walker
	archive  PageArchive
	metrics  *metrics.Recorder
	newRunID func() string
}

// Option configures an Engine.
type Option func(*Engine)

// WithWalker replaces the default 60-day walker (clock, width).
func WithWalker(w window.Walker) Option {
	return func(e *Engine) { e.walker = w }
}

// WithArchive archives every raw page before it is parsed.
func WithArchive(a PageArchive) Option {
	return func(e *Engine) { e.archive = a }
}

// WithMetrics records counters for windows, pages and outcomes.
func WithMetrics(m *metrics.Recorder) Option {
	return func(e *Engine) { e.metrics = m }
}

// WithRunID overrides how run ids are generated.
func WithRunID(f func() string) Option {
	return func(e *Engine) { e.newRunID = f }
}

// NewEngine creates an Engine over s.
func NewEngine(s *store.Store, opts ...Option) *Engine {
	e := &Engine{
		store:    s,
		walker:   window.Walker{Width: window.DefaultWidth},
		newRunID: uuid.NewString,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Stats summarizes what a run did so far.
type Stats struct {
	Windows    int
	Pages      int
	New        int
	Existing   int
	StopReason string
}

// Run is one ingestion of one account. The balance is fetched when the run is
// created; transactions are fetched lazily by Outcomes.
type Run struct {
	AccountName string
	RunID       string
	Balance     decimal.Decimal
	StartedAt   time.Time

	engine  *Engine
	adapter source.Adapter
	seen    map[string]struct{}
	stats   Stats
	started bool
}

// ErrRunConsumed is yielded by Outcomes on a Run that has already been
// iterated.
var ErrRunConsumed = errors.New("run already consumed")

// Ingest starts a run for accountName. It fetches the balance once and
// returns a Run whose Outcomes walk the source.
func (e *Engine) Ingest(ctx context.Context, accountName string, adapter source.Adapter) (*Run, error) {
	if accountName == "" {
		return nil, fmt.Errorf("Ingest: account name is required")
	}

	run := &Run{
		AccountName: accountName,
		RunID:       e.newRunID(),
		StartedAt:   time.Now(),
		engine:      e,
		adapter:     adapter,
		seen:        make(map[string]struct{}),
	}

	ctx = run.withLogger(ctx)
	log := logger.FromContext(ctx)

	balance, err := adapter.Balance(ctx)
	if err != nil {
		return nil, adapterError(accountName, "balance", err)
	}
	run.Balance = balance
	e.metrics.RecordBalance(accountName, balance)

	log.Debug().Str("balance", balance.String()).Msg("Fetched balance")

	return run, nil
}

// Stats returns counters for the part of the run consumed so far.
func (r *Run) Stats() Stats {
	return r.stats
}

func (r *Run) withLogger(ctx context.Context) context.Context {
	log := logger.WithFields(logger.FromContext(ctx), map[string]interface{}{
		"account": r.AccountName,
		"run_id":  r.RunID,
	})
	return logger.WithContext(ctx, log)
}

// Outcomes yields every reconciled transaction in the order the source
// returns them. Windows are scanned newest first; after a window whose first
// page is empty, or in which any record was already stored, older windows are
// not requested. An account that was idle for a whole window and has older,
// never ingested history will therefore not have that history fetched.
//
// Iteration ends after the first error, which is yielded with a zero outcome.
// A Run can be iterated once; later iterations yield only ErrRunConsumed.
func (r *Run) Outcomes(ctx context.Context) iter.Seq2[domain.IngestionOutcome, error] {
	return func(yield func(domain.IngestionOutcome, error) bool) {
		if r.started {
			yield(domain.IngestionOutcome{}, fmt.Errorf("Outcomes: %s: %w", r.RunID, ErrRunConsumed))
			return
		}
		r.started = true

		ctx := r.withLogger(ctx)
		log := logger.FromContext(ctx)

		if u, ok := r.adapter.(source.Unwindowed); ok {
			log.Debug().Msg("Source does not filter by date, reading all pages")
			if _, ok := r.scan(ctx, u.WalkAll(ctx), "all", yield); ok {
				r.stats.StopReason = "exhausted"
			}
			return
		}

		for w := range r.engine.walker.Windows() {
			from, to := w.From.String(), w.To.String()
			log.Debug().Str("window_from", from).Str("window_to", to).Msg("Scanning window")

			r.stats.Windows++
			r.engine.metrics.RecordWindow(r.AccountName)

			st, ok := r.scan(ctx, r.adapter.WalkPages(ctx, w), from+"_"+to, yield)
			if !ok {
				return
			}

			if st.firstPageEmpty || st.foundExisting {
				r.stats.StopReason = "first_page_empty"
				if st.foundExisting {
					r.stats.StopReason = "found_existing"
				}
				log.Debug().
					Bool("first_page_empty", st.firstPageEmpty).
					Bool("found_existing", st.foundExisting).
					Int("windows", r.stats.Windows).
					Msg("Stopping window walk")
				return
			}
		}
	}
}

// Collect consumes Outcomes into a slice.
func (r *Run) Collect(ctx context.Context) ([]domain.IngestionOutcome, error) {
	var out []domain.IngestionOutcome
	for o, err := range r.Outcomes(ctx) {
		if err != nil {
			return out, err
		}
		out = append(out, o)
	}
	return out, nil
}

type windowState struct {
	pages          int
	firstPageEmpty bool
	foundExisting  bool
}

// scan reconciles every record of every page. It returns false when
// iteration must end, either on error or because the consumer stopped.
func (r *Run) scan(ctx context.Context, pages iter.Seq2[source.Page, error], label string, yield func(domain.IngestionOutcome, error) bool) (windowState, bool) {
	log := logger.FromContext(ctx)
	st := windowState{firstPageEmpty: true}

	for page, err := range pages {
		if err != nil {
			yield(domain.IngestionOutcome{}, adapterError(r.AccountName, "walk_pages", err))
			return st, false
		}

		r.stats.Pages++
		r.engine.metrics.RecordPage(r.AccountName)
		r.archivePage(ctx, label, page)
		log.Debug().Int("page", page.Seq).Int("bytes", len(page.Data)).Msg("Fetched page")

		records := 0
		for rec, err := range r.adapter.ProcessPage(ctx, page) {
			if err != nil {
				yield(domain.IngestionOutcome{}, adapterError(r.AccountName, "process_page", err))
				return st, false
			}
			records++

			out, dup, err := r.reconcile(ctx, rec)
			if err != nil {
				yield(domain.IngestionOutcome{}, err)
				return st, false
			}
			if dup {
				continue
			}
			if !out.IsNew {
				st.foundExisting = true
			}
			if !yield(out, nil) {
				return st, false
			}
		}

		if st.pages == 0 && records > 0 {
			st.firstPageEmpty = false
		}
		st.pages++
	}

	return st, true
}

func (r *Run) archivePage(ctx context.Context, label string, page source.Page) {
	if r.engine.archive == nil {
		return
	}
	key := fmt.Sprintf("%s/%s/%s/%03d", r.AccountName, r.RunID, label, page.Seq)
	if err := r.engine.archive.ArchivePage(ctx, key, page); err != nil {
		log := logger.FromContext(ctx)
		log.Warn().Err(err).Str("key", key).Msg("Failed to archive page")
	}
}
