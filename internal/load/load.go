// Package load runs one batch: read a source into a trie, derive metrics,
// partition into documents and write them to a sink.
//
// Everything that can fail on bad input (ECO files, the source, snapshots,
// ingestion, nested document sizing) runs before the first sink mutation, so
// such a failure leaves the previous load in place. Sink failures after that
// point are handed to Finish, which discards staged writes.
package load

import (
	"context"
	"fmt"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/freeeve/openingtree/internal/config"
	"github.com/freeeve/openingtree/internal/eco"
	"github.com/freeeve/openingtree/internal/ingest"
	"github.com/freeeve/openingtree/internal/partition"
	"github.com/freeeve/openingtree/internal/sink"
	"github.com/freeeve/openingtree/internal/snapshot"
	"github.com/freeeve/openingtree/internal/source"
	"github.com/freeeve/openingtree/internal/tree"
)

// MetaSuffix names the collection holding run summaries: <flat>_meta.
const MetaSuffix = "_meta"

// Loader runs loads against one sink.
type Loader struct {
	cfg  *config.Config
	sink sink.Sink
	log  zerolog.Logger

	// Namer annotates flat documents. When nil and Output.ECODir is set, the
	// ECO directory is loaded at the start of Run.
	Namer partition.OpeningNamer
}

// New creates a loader. cfg is expected to be validated.
func New(cfg *config.Config, s sink.Sink, log zerolog.Logger) *Loader {
	return &Loader{cfg: cfg, sink: s, log: log}
}

// FlatIndexes are declared on the flat collection.
func FlatIndexes() []sink.Index {
	return []sink.Index{
		{Name: "move_sequence", Fields: []sink.IndexField{sink.Asc("move_sequence")}},
		{Name: "depth", Fields: []sink.IndexField{sink.Asc("depth")}},
		{Name: "total_games", Fields: []sink.IndexField{sink.Asc("total_games")}},
		{Name: "depth_total_games", Fields: []sink.IndexField{sink.Asc("depth"), sink.Desc("total_games")}},
	}
}

// NestedIndexes are declared on the nested collection.
func NestedIndexes() []sink.Index {
	return []sink.Index{
		{Name: "first_move", Fields: []sink.IndexField{sink.Asc("first_move")}},
		{Name: "data_total_games", Fields: []sink.IndexField{sink.Desc("data.total_games")}},
	}
}

// Run performs a full load and returns its summary. The summary is also
// written to the meta collection.
func (l *Loader) Run(ctx context.Context) (*Summary, error) {
	cfg := l.cfg
	sum := &Summary{
		ID:        uuid.NewString(),
		StartedAt: time.Now().UTC(),
		Source:    cfg.Source.Path,
		MaxDepth:  cfg.Tree.MaxDepth,
		Documents: make(map[string]int64),
	}
	log := l.log.With().Str("run_id", sum.ID).Logger()
	log.Info().
		Str("source", cfg.Source.Path).
		Int("max_depth", cfg.Tree.MaxDepth).
		Strs("shapes", cfg.Output.Shapes).
		Msg("load started")

	if l.Namer == nil && cfg.Output.ECODir != "" {
		db := eco.NewDatabase()
		if err := db.LoadDir(cfg.Output.ECODir); err != nil {
			return nil, fmt.Errorf("load eco: %w", err)
		}
		log.Info().Int("openings", db.Count()).Str("dir", cfg.Output.ECODir).Msg("loaded ECO database")
		l.Namer = db
	}

	t, err := l.build(ctx, log, sum)
	if err != nil {
		return nil, err
	}

	deriveStart := time.Now()
	if err := t.Derive(ctx, cfg.Tree.Workers); err != nil {
		return nil, fmt.Errorf("derive: %w", err)
	}
	sum.Nodes = t.Len()
	sum.RootTotal = t.Node(t.Root()).Counts.Total()
	sum.TopFirstMoves = topMoves(t, 5)
	log.Info().Int("nodes", t.Len()).Dur("elapsed", time.Since(deriveStart)).Msg("metrics derived")

	var nested []partition.NestedDoc
	if cfg.HasShape("nested") {
		if nested, err = l.buildNested(log, t, sum); err != nil {
			return nil, err
		}
	}

	// Nothing above touched the sink.
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	if cfg.HasShape("flat") {
		if err := l.writeFlat(ctx, log, t, sum); err != nil {
			return nil, err
		}
	}
	if cfg.HasShape("nested") {
		if err := l.writeNested(ctx, log, nested, sum); err != nil {
			return nil, err
		}
	}

	sum.FinishedAt = time.Now().UTC()
	if err := l.writeSummary(ctx, sum); err != nil {
		return nil, err
	}

	ev := log.Info().
		Int64("games", sum.Games.Ingested).
		Int64("skipped", sum.Games.Skipped()).
		Int("nodes", sum.Nodes).
		Int("truncated_units", sum.TruncatedUnits).
		Int("failed_indexes", len(sum.FailedIndexes)).
		Dur("elapsed", sum.FinishedAt.Sub(sum.StartedAt))
	for coll, n := range sum.Documents {
		ev = ev.Int64("docs_"+coll, n)
	}
	ev.Msg("load complete")
	for i, m := range sum.TopFirstMoves {
		log.Info().Int("rank", i+1).Str("move", m.Name).Uint64("total_games", m.TotalGames).Msg("top first move")
	}
	return sum, nil
}

// build ingests the source, merges snapshots and writes the output
// snapshot, returning the raw trie.
func (l *Loader) build(ctx context.Context, log zerolog.Logger, sum *Summary) (*tree.Trie, error) {
	cfg := l.cfg
	src, err := source.Open(cfg.Source.Path, source.Options{
		Format:   source.Format(cfg.Source.Format),
		MaxPlies: cfg.Tree.MaxDepth + 1,
	})
	if err != nil {
		return nil, fmt.Errorf("open source: %w", err)
	}
	defer src.Close()

	w := ingest.NewWorker(ingest.Config{
		Workers:  cfg.Tree.Workers,
		MaxDepth: cfg.Tree.MaxDepth,
		MaxGames: cfg.Source.MaxGames,
		Logger:   log,
	})
	t, stats, err := w.Run(ctx, src)
	sum.Games = stats
	if err != nil {
		return nil, fmt.Errorf("ingest %s: %w", cfg.Source.Path, err)
	}

	if len(cfg.Snapshot.In) > 0 {
		infos, err := snapshot.MergeInto(t, cfg.Snapshot.In...)
		if err != nil {
			return nil, fmt.Errorf("merge snapshots: %w", err)
		}
		for i, info := range infos {
			log.Info().
				Str("path", cfg.Snapshot.In[i]).
				Str("snapshot_run", info.RunID).
				Uint64("games", info.Games).
				Str("size", humanize.Bytes(uint64(info.Bytes))).
				Msg("merged snapshot")
		}
		sum.SnapshotsMerged = len(infos)
	}

	if cfg.Snapshot.Out != "" {
		info, err := snapshot.Write(cfg.Snapshot.Out, t, sum.ID)
		if err != nil {
			return nil, err
		}
		log.Info().
			Str("path", cfg.Snapshot.Out).
			Int("nodes", info.NodeCount).
			Str("size", humanize.Bytes(uint64(info.Bytes))).
			Msg("wrote snapshot")
	}
	return t, nil
}

func (l *Loader) writeFlat(ctx context.Context, log zerolog.Logger, t *tree.Trie, sum *Summary) error {
	coll := l.cfg.Output.FlatCollection
	start := time.Now()
	if err := l.sink.ReplaceCollection(ctx, coll); err != nil {
		return fmt.Errorf("replace %s: %w", coll, err)
	}

	b := newBatcher(ctx, l.sink, coll, l.cfg.Output.InsertBatchSize)
	opts := partition.FlatOptions{Separator: l.cfg.Output.IDSeparator, Namer: l.Namer}
	if err := partition.Flat(t, opts, func(d partition.FlatDoc) error { return b.add(d) }); err != nil {
		return fmt.Errorf("flat documents: %w", err)
	}
	if err := b.flush(); err != nil {
		return err
	}
	sum.Documents[coll] = b.written
	log.Info().
		Str("collection", coll).
		Int64("documents", b.written).
		Int("batches", b.batches).
		Dur("elapsed", time.Since(start)).
		Msg("flat documents written")

	l.createIndexes(ctx, log, coll, FlatIndexes(), sum)
	return nil
}

// buildNested builds and bounds every nested document. Sizing runs before
// any sink call so an oversized unit fails the run with the sink untouched.
func (l *Loader) buildNested(log zerolog.Logger, t *tree.Trie, sum *Summary) ([]partition.NestedDoc, error) {
	opts := partition.NestedOptions{
		Separator: l.cfg.Output.IDSeparator,
		Bounds: partition.Bounds{
			Budget:       l.cfg.Tree.SizeBudgetBytes,
			ReducedDepth: l.cfg.Tree.ReducedDepth,
			Policy:       partition.Policy(l.cfg.Tree.TruncationPolicy),
		},
	}

	var docs []partition.NestedDoc
	var totalBytes, maxBytes int
	err := partition.Nested(t, opts, func(d partition.NestedDoc) error {
		size, err := partition.Size(d)
		if err != nil {
			return err
		}
		totalBytes += size
		maxBytes = max(maxBytes, size)
		if d.Truncated {
			sum.TruncatedUnits++
			log.Info().
				Str("first_move", d.FirstMove).
				Int("kept_depth", d.Depth).
				Str("size", humanize.Bytes(uint64(size))).
				Str("budget", humanize.Bytes(uint64(opts.Bounds.Budget))).
				Msg("nested document truncated")
		}
		docs = append(docs, d)
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("nested documents: %w", err)
	}
	log.Info().
		Int("documents", len(docs)).
		Int("truncated", sum.TruncatedUnits).
		Str("total_size", humanize.Bytes(uint64(totalBytes))).
		Str("largest", humanize.Bytes(uint64(maxBytes))).
		Msg("nested documents built")
	return docs, nil
}

func (l *Loader) writeNested(ctx context.Context, log zerolog.Logger, docs []partition.NestedDoc, sum *Summary) error {
	coll := l.cfg.Output.NestedCollection
	start := time.Now()
	if err := l.sink.ReplaceCollection(ctx, coll); err != nil {
		return fmt.Errorf("replace %s: %w", coll, err)
	}

	b := newBatcher(ctx, l.sink, coll, l.cfg.Output.InsertBatchSize)
	for _, d := range docs {
		if err := b.add(d); err != nil {
			return err
		}
	}
	if err := b.flush(); err != nil {
		return err
	}
	sum.Documents[coll] = b.written
	log.Info().
		Str("collection", coll).
		Int64("documents", b.written).
		Int("batches", b.batches).
		Dur("elapsed", time.Since(start)).
		Msg("nested documents written")

	l.createIndexes(ctx, log, coll, NestedIndexes(), sum)
	return nil
}

// createIndexes declares every index; failures are logged and recorded but
// do not fail the load.
func (l *Loader) createIndexes(ctx context.Context, log zerolog.Logger, coll string, indexes []sink.Index, sum *Summary) {
	for _, idx := range indexes {
		if err := l.sink.CreateIndex(ctx, coll, idx); err != nil {
			log.Warn().Err(err).Str("collection", coll).Str("index", idx.Name).Msg("create index failed")
			sum.FailedIndexes = append(sum.FailedIndexes, coll+"."+idx.Name)
		}
	}
}

func (l *Loader) writeSummary(ctx context.Context, sum *Summary) error {
	coll := l.cfg.Output.FlatCollection + MetaSuffix
	if err := l.sink.ReplaceCollection(ctx, coll); err != nil {
		return fmt.Errorf("replace %s: %w", coll, err)
	}
	if err := l.sink.InsertMany(ctx, coll, []sink.Document{sum}); err != nil {
		return fmt.Errorf("insert summary into %s: %w", coll, err)
	}
	return nil
}

// Finish releases s after a run. When runErr is set, sinks that stage
// writes discard them so a failed run publishes nothing; otherwise s is
// closed normally.
func Finish(s sink.Sink, runErr error) error {
	if runErr != nil {
		if a, ok := s.(sink.Aborter); ok {
			return a.Abort()
		}
	}
	return s.Close()
}

// topMoves returns the n most played first moves.
func topMoves(t *tree.Trie, n int) []partition.NextMove {
	ranked := t.Node(t.Root()).Ranked
	out := make([]partition.NextMove, 0, min(n, len(ranked)))
	for _, c := range ranked {
		if len(out) == n {
			break
		}
		out = append(out, partition.NextMove{
			Name:       c.Move,
			WhiteWin:   c.Counts.WhiteWin,
			Draw:       c.Counts.Draw,
			BlackWin:   c.Counts.BlackWin,
			TotalGames: c.Counts.Total(),
		})
	}
	return out
}
