package main

import (
	"context"
	"flag"
	"fmt"
	"os"

	"github.com/dvloznov/bank-download/internal/app"
	"github.com/google/subcommands"
)

// migrateCmd implements the "migrate" command.
type migrateCmd struct {
	configPath string
	appliedBy  string
}

func (*migrateCmd) Name() string     { return "migrate" }
func (*migrateCmd) Synopsis() string { return "creates or upgrades the store schema" }
func (*migrateCmd) Usage() string {
	return `migrate [-config file] [-applied-by name]

Applies the pending schema migrations of the configured postgres or bigquery
store. Applied migrations are recorded in schema_migrations with a checksum;
an edited migration is reported instead of being run again.
`
}

func (c *migrateCmd) SetFlags(f *flag.FlagSet) {
	f.StringVar(&c.configPath, "config", defaultConfig, "configuration file")
	f.StringVar(&c.appliedBy, "applied-by", "bankdl-migrate", "name recorded with each applied migration")
}

func (c *migrateCmd) Execute(ctx context.Context, _ *flag.FlagSet, _ ...interface{}) subcommands.ExitStatus {
	ctx, cfg, log, err := setup(ctx, c.configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return subcommands.ExitFailure
	}

	storage, err := app.OpenStorage(ctx, cfg.Store)
	if err != nil {
		log.Error().Err(err).Msg("Failed to open storage")
		return subcommands.ExitFailure
	}
	defer storage.Close()

	n, err := storage.Migrate(ctx, c.appliedBy)
	if err != nil {
		log.Error().Err(err).Str("backend", cfg.Store.Backend).Msg("Migration failed")
		return subcommands.ExitFailure
	}

	if n > 0 {
		log.Info().Str("backend", cfg.Store.Backend).Int("applied", n).Msg("Migrations applied")
	}
	return subcommands.ExitSuccess
}
