// Package ingest streams records from a source into a statistical trie,
// optionally spread over several shards that are merged at the end.
package ingest

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/freeeve/openingtree/internal/graph"
	"github.com/freeeve/openingtree/internal/source"
	"github.com/freeeve/openingtree/internal/tree"
)

// Config configures the ingest worker.
type Config struct {
	Workers       int            // Shards ingesting in parallel (default 1)
	MaxDepth      int            // Trie depth bound
	MaxGames      int64          // Stop after this many ingested games (0 = unlimited)
	ProgressEvery time.Duration  // Progress log interval (default 10s)
	BatchSize     int            // Games per channel send when sharded (default 512)
	Logger        zerolog.Logger // Logger
}

// Stats counts what happened to the records of one run.
type Stats struct {
	Read              int64 `json:"read" msgpack:"read"`
	Ingested          int64 `json:"ingested" msgpack:"ingested"`
	SkippedEmptyMoves int64 `json:"skipped_empty_moves" msgpack:"skipped_empty_moves"`
	SkippedBadResult  int64 `json:"skipped_bad_result" msgpack:"skipped_bad_result"`
	Malformed         int64 `json:"malformed" msgpack:"malformed"`
}

// Skipped returns the number of records that did not contribute.
func (s Stats) Skipped() int64 {
	return s.SkippedEmptyMoves + s.SkippedBadResult + s.Malformed
}

type counters struct {
	read, ingested, empty, badResult, malformed atomic.Int64
}

func (c *counters) snapshot() Stats {
	return Stats{
		Read:              c.read.Load(),
		Ingested:          c.ingested.Load(),
		SkippedEmptyMoves: c.empty.Load(),
		SkippedBadResult:  c.badResult.Load(),
		Malformed:         c.malformed.Load(),
	}
}

// Worker builds a trie from one source.
type Worker struct {
	cfg Config
	log zerolog.Logger
	c   counters
}

// NewWorker creates a new ingest worker.
func NewWorker(cfg Config) *Worker {
	if cfg.Workers < 1 {
		cfg.Workers = 1
	}
	if cfg.ProgressEvery <= 0 {
		cfg.ProgressEvery = 10 * time.Second
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 512
	}
	return &Worker{cfg: cfg, log: cfg.Logger}
}

// Stats returns the counters so far. Safe to call while Run is in progress.
func (w *Worker) Stats() Stats { return w.c.snapshot() }

type game struct {
	moves   []string
	outcome graph.Outcome
}

// Run drains src into a new trie. On error nothing is returned but the
// counters; a cancelled context surfaces as ctx.Err().
func (w *Worker) Run(ctx context.Context, src source.Reader) (*tree.Trie, Stats, error) {
	w.log.Info().
		Int("workers", w.cfg.Workers).
		Int("max_depth", w.cfg.MaxDepth).
		Int64("max_games", w.cfg.MaxGames).
		Msg("ingest started")
	startTime := time.Now()

	var (
		t   *tree.Trie
		err error
	)
	if w.cfg.Workers == 1 {
		t = tree.New(w.cfg.MaxDepth)
		err = w.read(ctx, src, t.Len, func(g game) error {
			t.Ingest(g.moves, g.outcome)
			return nil
		})
	} else {
		t, err = w.runSharded(ctx, src)
	}

	stats := w.c.snapshot()
	if err != nil {
		return nil, stats, err
	}

	elapsed := time.Since(startTime)
	w.log.Info().
		Int64("games_read", stats.Read).
		Int64("games_ingested", stats.Ingested).
		Int64("skipped_empty_moves", stats.SkippedEmptyMoves).
		Int64("skipped_bad_result", stats.SkippedBadResult).
		Int64("malformed", stats.Malformed).
		Int("nodes", t.Len()).
		Dur("elapsed", elapsed).
		Float64("games_per_sec", float64(stats.Ingested)/elapsed.Seconds()).
		Msg("ingest complete")
	return t, stats, nil
}

// runSharded has one goroutine reading and normalizing while Workers
// goroutines each fill a private trie. Shards are merged in shard order.
func (w *Worker) runSharded(ctx context.Context, src source.Reader) (*tree.Trie, error) {
	g, gctx := errgroup.WithContext(ctx)
	batches := make(chan []game, w.cfg.Workers*2)
	shards := make([]*tree.Trie, w.cfg.Workers)

	g.Go(func() error {
		defer close(batches)
		batch := make([]game, 0, w.cfg.BatchSize)
		send := func() error {
			select {
			case batches <- batch:
				batch = make([]game, 0, w.cfg.BatchSize)
				return nil
			case <-gctx.Done():
				return gctx.Err()
			}
		}
		err := w.read(gctx, src, nil, func(gm game) error {
			batch = append(batch, gm)
			if len(batch) == cap(batch) {
				return send()
			}
			return nil
		})
		if err != nil {
			return err
		}
		if len(batch) > 0 {
			return send()
		}
		return nil
	})

	for i := range shards {
		g.Go(func() error {
			shard := tree.New(w.cfg.MaxDepth)
			for batch := range batches {
				for _, gm := range batch {
					shard.Ingest(gm.moves, gm.outcome)
				}
			}
			shards[i] = shard
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	mergeStart := time.Now()
	out := shards[0]
	for _, s := range shards[1:] {
		out.Merge(s)
	}
	w.log.Info().
		Int("shards", len(shards)).
		Int("nodes", out.Len()).
		Dur("elapsed", time.Since(mergeStart)).
		Msg("shards merged")
	return out, nil
}

// read pulls records until EOF, the game limit or an error, normalizing
// each and passing contributing games to handle. nodes, if set, reports the
// trie size for progress logs.
func (w *Worker) read(ctx context.Context, src source.Reader, nodes func() int, handle func(game) error) error {
	startTime := time.Now()
	lastLog := startTime
	// A game needs at most one move past the deepest node.
	keep := w.cfg.MaxDepth + 1

	for {
		select {
		case <-ctx.Done():
			w.log.Info().Msg("interrupted, stopping ingest")
			return ctx.Err()
		default:
		}

		rec, err := src.Next()
		if err == io.EOF {
			return nil
		}
		if errors.Is(err, source.ErrMalformed) {
			w.c.malformed.Add(1)
			w.log.Debug().Err(err).Msg("skipping malformed record")
			continue
		}
		if err != nil {
			return fmt.Errorf("read record %d: %w", w.c.read.Load()+w.c.malformed.Load()+1, err)
		}
		w.c.read.Add(1)

		moves := graph.ParseMoves(rec.Moves)
		if len(moves) == 0 {
			w.c.empty.Add(1)
			continue
		}
		outcome := graph.NormalizeResult(rec.Result)
		if !outcome.Valid() {
			w.c.badResult.Add(1)
			continue
		}
		if len(moves) > keep {
			moves = moves[:keep]
		}

		if err := handle(game{moves: moves, outcome: outcome}); err != nil {
			return err
		}
		ingested := w.c.ingested.Add(1)

		if w.cfg.MaxGames > 0 && ingested >= w.cfg.MaxGames {
			w.log.Info().Int64("games", ingested).Msg("reached max games limit")
			return nil
		}

		if time.Since(lastLog) > w.cfg.ProgressEvery {
			elapsed := time.Since(startTime)
			ev := w.log.Info().
				Int64("games", ingested).
				Int64("skipped", w.c.empty.Load()+w.c.badResult.Load()+w.c.malformed.Load()).
				Float64("games_per_sec", float64(ingested)/elapsed.Seconds())
			if nodes != nil {
				ev = ev.Int("nodes", nodes())
			}
			ev.Msg("ingest progress")
			lastLog = time.Now()
		}
	}
}
