// Package app builds the components every command needs from a loaded
// configuration.
package app

import (
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/dvloznov/bank-download/internal/adapter/httpfeed"
	"github.com/dvloznov/bank-download/internal/archive"
	"github.com/dvloznov/bank-download/internal/config"
	"github.com/dvloznov/bank-download/internal/driver"
	infraBQ "github.com/dvloznov/bank-download/internal/infra/bigquery"
	"github.com/dvloznov/bank-download/internal/infra/gcs"
	"github.com/dvloznov/bank-download/internal/infra/postgres"
	"github.com/dvloznov/bank-download/internal/ingest"
	"github.com/dvloznov/bank-download/internal/logger"
	"github.com/dvloznov/bank-download/internal/metrics"
	"github.com/dvloznov/bank-download/internal/migrate"
	"github.com/dvloznov/bank-download/internal/notify"
	"github.com/dvloznov/bank-download/internal/store"
	"github.com/dvloznov/bank-download/internal/store/inmemory"
	"github.com/dvloznov/bank-download/internal/transport"
	"github.com/dvloznov/bank-download/internal/window"
)

// Storage is an opened store backend.
type Storage struct {
	Backend store.Backend
	RunLog  driver.RunLog // nil for the memory backend

	applier    migrate.Applier
	migrations func() ([]migrate.Migration, error)
	close      func() error
}

// OpenStorage connects to the backend selected in cfg.
func OpenStorage(ctx context.Context, cfg config.StoreConfig) (*Storage, error) {
	switch cfg.Backend {
	case config.StoreMemory:
		return &Storage{Backend: inmemory.NewBackend(), close: func() error { return nil }}, nil

	case config.StorePostgres:
		pool, err := postgres.Connect(ctx, cfg.PostgresURL)
		if err != nil {
			return nil, fmt.Errorf("OpenStorage: %w", err)
		}
		return &Storage{
			Backend:    postgres.NewTransactionStore(pool),
			RunLog:     postgres.NewRunLog(pool),
			applier:    postgres.NewMigrator(pool),
			migrations: postgres.Migrations,
			close: func() error {
				pool.Close()
				return nil
			},
		}, nil

	case config.StoreBigQuery:
		client, err := infraBQ.NewClient(ctx, cfg.BigQuery)
		if err != nil {
			return nil, fmt.Errorf("OpenStorage: %w", err)
		}
		return &Storage{
			Backend:    infraBQ.NewTransactionStore(client),
			RunLog:     infraBQ.NewRunLog(client),
			applier:    infraBQ.NewMigrator(client),
			migrations: func() ([]migrate.Migration, error) { return infraBQ.Migrations(cfg.BigQuery) },
			close:      client.Close,
		}, nil
	}
	return nil, fmt.Errorf("OpenStorage: unknown backend %q", cfg.Backend)
}

// Migrate applies pending schema migrations and returns how many ran.
func (s *Storage) Migrate(ctx context.Context, appliedBy string) (int, error) {
	if s.applier == nil {
		return 0, errors.New("Migrate: the memory backend has no schema")
	}
	all, err := s.migrations()
	if err != nil {
		return 0, fmt.Errorf("Migrate: reading migrations: %w", err)
	}
	return migrate.Run(ctx, s.applier, all, appliedBy)
}

// Close releases the backend connection.
func (s *Storage) Close() error {
	return s.close()
}

// App holds the long-lived components of one process.
type App struct {
	Config  *config.Config
	Storage *Storage
	Engine  *ingest.Engine
	Metrics *metrics.Recorder
	Mailer  *notify.Mailer

	archive io.Closer
}

// New opens storage and the page archive and builds the ingestion engine.
func New(ctx context.Context, cfg *config.Config) (*App, error) {
	storage, err := OpenStorage(ctx, cfg.Store)
	if err != nil {
		return nil, err
	}

	a := &App{
		Config:  cfg,
		Storage: storage,
		Metrics: metrics.New(cfg.Metrics),
	}
	if cfg.Notify.Enabled() {
		a.Mailer = notify.NewMailer(cfg.Notify)
	}

	opts := []ingest.Option{
		ingest.WithMetrics(a.Metrics),
		ingest.WithWalker(window.Walker{Width: cfg.WindowDays}),
	}
	switch cfg.Archive.Kind {
	case config.ArchiveDir:
		opts = append(opts, ingest.WithArchive(archive.Dir{Root: cfg.Path(cfg.Archive.Dir)}))
	case config.ArchiveGCS:
		gcsArchive, err := gcs.NewArchive(ctx, cfg.Archive.URI)
		if err != nil {
			storage.Close()
			return nil, fmt.Errorf("New: %w", err)
		}
		a.archive = gcsArchive
		opts = append(opts, ingest.WithArchive(gcsArchive))
	}

	a.Engine = ingest.NewEngine(store.New(storage.Backend), opts...)
	return a, nil
}

// Accounts builds a source for each named account, or for every enabled one
// when no names are given. Each account gets its own HTTP client.
func (a *App) Accounts(ctx context.Context, names ...string) ([]driver.Account, error) {
	cfg := a.Config
	accts, err := cfg.Enabled(names...)
	if err != nil {
		return nil, err
	}

	out := make([]driver.Account, 0, len(accts))
	for _, ac := range accts {
		src, err := cfg.SourceConfig(ac)
		if err != nil {
			return nil, err
		}

		opts := transport.Options{MinInterval: cfg.Transport.MinInterval, Timeout: cfg.Transport.Timeout}
		if ac.Session != "" {
			session, err := transport.LoadSession(cfg.Path(ac.Session))
			if err != nil {
				return nil, fmt.Errorf("Accounts: account %s: %w", ac.Name, err)
			}
			opts.Session = session
		}

		adapter, err := httpfeed.New(ac.Name, *src, transport.New(opts))
		if err != nil {
			return nil, fmt.Errorf("Accounts: account %s: %w", ac.Name, err)
		}
		out = append(out, driver.Account{Name: ac.Name, Adapter: adapter})
	}

	logger.FromContext(ctx).Debug().Int("accounts", len(out)).Msg("Accounts configured")
	return out, nil
}

// Runner creates a driver printing new transactions to out.
func (a *App) Runner(out io.Writer, opts ...driver.Option) *driver.Runner {
	base := []driver.Option{driver.WithMetrics(a.Metrics)}
	if a.Storage.RunLog != nil {
		base = append(base, driver.WithRunLog(a.Storage.RunLog))
	}
	return driver.NewRunner(a.Engine, out, append(base, opts...)...)
}

// Close releases storage and the archive.
func (a *App) Close() error {
	var errs []error
	if a.archive != nil {
		errs = append(errs, a.archive.Close())
	}
	errs = append(errs, a.Storage.Close())
	return errors.Join(errs...)
}
