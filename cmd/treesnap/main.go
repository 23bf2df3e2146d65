package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"runtime"
	"syscall"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/freeeve/openingtree/internal/logx"
	"github.com/freeeve/openingtree/internal/snapshot"
	"github.com/freeeve/openingtree/internal/tree"
)

func main() {
	var (
		outPath   = flag.String("out", "", "Write the merged trie to this snapshot file")
		maxDepth  = flag.Int("max-depth", 0, "Cut the merged trie to this depth (0 = depth of the first snapshot)")
		top       = flag.Int("top", 10, "Number of first moves to report")
		logLevel  = flag.String("log-level", "info", "Log level")
		logFormat = flag.String("log-format", "console", "Log format: console or json")
	)
	flag.Parse()

	if flag.NArg() == 0 {
		fmt.Fprintln(os.Stderr, "Usage: treesnap [options] <snapshot.ots>...")
		flag.PrintDefaults()
		os.Exit(1)
	}

	logger := logx.New(os.Stdout, *logLevel, *logFormat)
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	start := time.Now()
	paths := flag.Args()
	t, info, err := snapshot.Read(paths[0])
	if err != nil {
		logger.Fatal().Err(err).Str("path", paths[0]).Msg("read snapshot")
	}
	logSnapshot(logger.Info(), paths[0], info)

	if *maxDepth > 0 && *maxDepth != t.MaxDepth() {
		cut := tree.New(*maxDepth)
		cut.Merge(t)
		t = cut
	}

	if len(paths) > 1 {
		infos, err := snapshot.MergeInto(t, paths[1:]...)
		if err != nil {
			logger.Fatal().Err(err).Msg("merge snapshots")
		}
		for i, info := range infos {
			logSnapshot(logger.Info(), paths[i+1], info)
		}
	}

	if *outPath != "" {
		info, err := snapshot.Write(*outPath, t, uuid.NewString())
		if err != nil {
			logger.Fatal().Err(err).Msg("write snapshot")
		}
		logSnapshot(logger.Info(), *outPath, info)
	}

	if err := t.Derive(ctx, runtime.NumCPU()); err != nil {
		logger.Fatal().Err(err).Msg("derive")
	}

	perDepth := make([]int, t.MaxDepth()+1)
	t.Walk(func(i int) error {
		perDepth[t.Node(i).Depth]++
		return nil
	})

	root := t.Node(t.Root())
	logger.Info().
		Int("snapshots", len(paths)).
		Int("max_depth", t.MaxDepth()).
		Str("games", humanize.Comma(int64(root.Counts.Total()))).
		Str("nodes", humanize.Comma(int64(t.Len()))).
		Ints("nodes_per_depth", perDepth).
		Float64("white_win_rate", root.Rates.WhiteWin).
		Float64("draw_rate", root.Rates.Draw).
		Float64("black_win_rate", root.Rates.BlackWin).
		Dur("elapsed", time.Since(start)).
		Msg("merged")

	for i, c := range root.Ranked {
		if i == *top {
			break
		}
		r := tree.RatesOf(c.Counts)
		logger.Info().
			Int("rank", i+1).
			Str("move", c.Move).
			Str("games", humanize.Comma(int64(c.Counts.Total()))).
			Float64("white_win_rate", r.WhiteWin).
			Float64("draw_rate", r.Draw).
			Float64("black_win_rate", r.BlackWin).
			Msg("first move")
	}
}

func logSnapshot(ev *zerolog.Event, path string, info snapshot.Info) {
	ev.Str("path", path).
		Str("run_id", info.RunID).
		Time("created_at", info.CreatedAt).
		Int("max_depth", info.MaxDepth).
		Str("games", humanize.Comma(int64(info.Games))).
		Int("nodes", info.NodeCount).
		Str("size", humanize.Bytes(uint64(info.Bytes))).
		Msg("snapshot")
}
