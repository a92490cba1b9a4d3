package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/dvloznov/bank-download/internal/app"
	"github.com/dvloznov/bank-download/internal/driver"
	"github.com/google/subcommands"
)

// ingestCmd implements the "ingest" command.
type ingestCmd struct {
	configPath string
	parallel   int
}

func (*ingestCmd) Name() string     { return "ingest" }
func (*ingestCmd) Synopsis() string { return "downloads new transactions of every account once" }
func (*ingestCmd) Usage() string {
	return `ingest [-config file] [-parallel n] [account...]

Walks each account's history backward from today in date windows until it
reaches transactions already stored, and prints the balance and every new
transaction. Without account names every enabled account is synced.

A failing account does not stop the others; the exit status is non-zero if
any account failed.
`
}

func (c *ingestCmd) SetFlags(f *flag.FlagSet) {
	f.StringVar(&c.configPath, "config", defaultConfig, "configuration file")
	f.IntVar(&c.parallel, "parallel", 1, "number of accounts synced at the same time")
}

func (c *ingestCmd) Execute(ctx context.Context, f *flag.FlagSet, _ ...interface{}) subcommands.ExitStatus {
	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	ctx, cfg, log, err := setup(ctx, c.configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return subcommands.ExitFailure
	}

	a, err := app.New(ctx, cfg)
	if err != nil {
		log.Error().Err(err).Msg("Failed to initialize")
		return subcommands.ExitFailure
	}
	defer func() {
		if err := a.Close(); err != nil {
			log.Warn().Err(err).Msg("Failed to close storage")
		}
	}()

	accts, err := a.Accounts(ctx, f.Args()...)
	if err != nil {
		log.Error().Err(err).Msg("Failed to configure accounts")
		return subcommands.ExitFailure
	}
	if len(accts) == 0 {
		log.Warn().Msg("No accounts to sync")
		return subcommands.ExitSuccess
	}

	results, syncErr := a.Runner(os.Stdout).SyncAll(ctx, accts, c.parallel)

	if err := a.Mailer.Send(ctx, driver.Digest(results)); err != nil {
		log.Warn().Err(err).Msg("Failed to send notification")
	}
	if url := cfg.Metrics.PushGateway; url != "" {
		if err := a.Metrics.Push(ctx, url, cfg.Metrics.Job); err != nil {
			log.Warn().Err(err).Str("gateway", url).Msg("Failed to push metrics")
		}
	}

	if syncErr != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", syncErr)
		return subcommands.ExitFailure
	}
	return subcommands.ExitSuccess
}
