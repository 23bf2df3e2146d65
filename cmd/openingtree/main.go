package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/freeeve/openingtree/internal/config"
	"github.com/freeeve/openingtree/internal/load"
	"github.com/freeeve/openingtree/internal/logx"
	"github.com/freeeve/openingtree/internal/sink"
)

func main() {
	flags := config.BindFlags(flag.CommandLine)
	flag.Parse()

	cfg, err := config.Load(flags.ConfigPath, flags.EnvFile)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	flags.Apply(cfg)

	if cfg.Source.Path == "" {
		fmt.Fprintln(os.Stderr, "Usage: openingtree --source <games.csv|.jsonl|.pgn[.zst]> [options]")
		flag.PrintDefaults()
		os.Exit(1)
	}
	if err := cfg.Validate(); err != nil {
		fmt.Fprintf(os.Stderr, "invalid config: %v\n", err)
		os.Exit(1)
	}

	logger := logx.New(os.Stdout, cfg.Log.Level, cfg.Log.Format)
	logger.Info().
		Str("source", cfg.Source.Path).
		Str("sink", cfg.Sink.Kind).
		Str("dsn", cfg.Sink.DSN).
		Int("max_depth", cfg.Tree.MaxDepth).
		Int("workers", cfg.Tree.Workers).
		Msg("starting openingtree")

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	s, err := sink.Open(sink.Config{Kind: cfg.Sink.Kind, DSN: cfg.Sink.DSN, Sync: cfg.Sink.SyncWrites}, logger)
	if err != nil {
		logger.Fatal().Err(err).Msg("open sink")
	}

	sum, err := load.New(cfg, s, logger).Run(ctx)
	if ferr := load.Finish(s, err); ferr != nil {
		logger.Error().Err(ferr).Msg("close sink")
		if err == nil {
			err = ferr
		}
	}
	if err != nil {
		logger.Fatal().Err(err).Msg("load failed")
	}

	logger.Info().
		Str("run_id", sum.ID).
		Str("meta_collection", cfg.Output.FlatCollection+load.MetaSuffix).
		Msg("done")
}
