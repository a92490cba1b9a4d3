// Command bankdl downloads new bank transactions into a local store.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"path"

	"github.com/dvloznov/bank-download/internal/config"
	"github.com/dvloznov/bank-download/internal/logger"
	"github.com/google/subcommands"
	"github.com/rs/zerolog"
)

func main() {
	commander := subcommands.NewCommander(flag.CommandLine, path.Base(os.Args[0]))
	commander.Register(commander.HelpCommand(), "")
	commander.Register(commander.FlagsCommand(), "")
	commander.Register(&ingestCmd{}, "")
	commander.Register(&scheduleCmd{}, "")
	commander.Register(&migrateCmd{}, "")

	flag.Parse()
	os.Exit(int(commander.Execute(context.Background())))
}

const defaultConfig = "bankdl.yaml"

// setup loads the config file and puts a logger built from it on ctx.
func setup(ctx context.Context, configPath string) (context.Context, *config.Config, zerolog.Logger, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return ctx, nil, zerolog.Nop(), err
	}
	log, err := logger.NewFromOptions(cfg.Log, os.Stderr)
	if err != nil {
		return ctx, nil, zerolog.Nop(), fmt.Errorf("config %s: %w", configPath, err)
	}
	return logger.WithContext(ctx, log), cfg, log, nil
}
