package config

import (
	"flag"
)

// Flags holds command-line settings. Only flags given on the command line
// override the loaded config; flag defaults never do.
type Flags struct {
	fs *flag.FlagSet

	ConfigPath string
	EnvFile    string

	source, format, policy, flatColl, nestedColl, sep, ecoDir string
	sinkKind, dsn, snapOut, logLevel, logFormat, shapes, snapIn string
	maxDepth, workers, budget, reduced, batch                  int
	maxGames                                                   int64
	syncWrites                                                 bool
}

// BindFlags registers the loader flags on fs.
func BindFlags(fs *flag.FlagSet) *Flags {
	f := &Flags{fs: fs}
	d := DefaultConfig()

	fs.StringVar(&f.ConfigPath, "config", "", "Path to TOML config file")
	fs.StringVar(&f.EnvFile, "env-file", ".env", "Path to .env file (ignored if missing)")

	fs.StringVar(&f.source, "source", "", "Input file: .csv, .jsonl or .pgn, optionally .zst")
	fs.StringVar(&f.format, "format", "", "Input format (csv, jsonl, pgn); detected from extension if empty")
	fs.Int64Var(&f.maxGames, "max-games", 0, "Maximum games to ingest (0 = unlimited)")

	fs.IntVar(&f.maxDepth, "max-depth", d.Tree.MaxDepth, "Deepest move sequence stored")
	fs.IntVar(&f.workers, "workers", d.Tree.Workers, "Ingest shards")
	fs.IntVar(&f.budget, "size-budget", d.Tree.SizeBudgetBytes, "Max serialized bytes per nested document (0 = unlimited)")
	fs.IntVar(&f.reduced, "reduced-depth", d.Tree.ReducedDepth, "Depth nested documents are cut to when over budget")
	fs.StringVar(&f.policy, "truncation", d.Tree.TruncationPolicy, "Truncation policy: fixed or search")

	fs.StringVar(&f.shapes, "shapes", "flat,nested", "Comma-separated output shapes")
	fs.StringVar(&f.flatColl, "flat-collection", d.Output.FlatCollection, "Collection for flat documents")
	fs.StringVar(&f.nestedColl, "nested-collection", d.Output.NestedCollection, "Collection for nested documents")
	fs.StringVar(&f.sep, "id-separator", d.Output.IDSeparator, "Separator joining moves in document ids")
	fs.IntVar(&f.batch, "batch", d.Output.InsertBatchSize, "Documents per insert batch")
	fs.StringVar(&f.ecoDir, "eco-dir", "", "Directory of ECO .tsv files for opening names")

	fs.StringVar(&f.sinkKind, "sink", d.Sink.Kind, "Sink: sqlite, badger, file or memory")
	fs.StringVar(&f.dsn, "dsn", d.Sink.DSN, "Sink location: sqlite file, badger dir or output dir")
	fs.BoolVar(&f.syncWrites, "sync-writes", false, "Badger: fsync every write")

	fs.StringVar(&f.snapIn, "snapshot-in", "", "Comma-separated snapshots to merge before deriving")
	fs.StringVar(&f.snapOut, "snapshot-out", "", "Write the raw trie to this snapshot file")

	fs.StringVar(&f.logLevel, "log-level", d.Log.Level, "Log level")
	fs.StringVar(&f.logFormat, "log-format", d.Log.Format, "Log format: console or json")
	return f
}

// Apply copies explicitly set flags into cfg.
func (f *Flags) Apply(cfg *Config) {
	f.fs.Visit(func(fl *flag.Flag) {
		switch fl.Name {
		case "source":
			cfg.Source.Path = f.source
		case "format":
			cfg.Source.Format = f.format
		case "max-games":
			cfg.Source.MaxGames = f.maxGames
		case "max-depth":
			cfg.Tree.MaxDepth = f.maxDepth
		case "workers":
			cfg.Tree.Workers = f.workers
		case "size-budget":
			cfg.Tree.SizeBudgetBytes = f.budget
		case "reduced-depth":
			cfg.Tree.ReducedDepth = f.reduced
		case "truncation":
			cfg.Tree.TruncationPolicy = f.policy
		case "shapes":
			cfg.Output.Shapes = SplitList(f.shapes)
		case "flat-collection":
			cfg.Output.FlatCollection = f.flatColl
		case "nested-collection":
			cfg.Output.NestedCollection = f.nestedColl
		case "id-separator":
			cfg.Output.IDSeparator = f.sep
		case "batch":
			cfg.Output.InsertBatchSize = f.batch
		case "eco-dir":
			cfg.Output.ECODir = f.ecoDir
		case "sink":
			cfg.Sink.Kind = f.sinkKind
		case "dsn":
			cfg.Sink.DSN = f.dsn
		case "sync-writes":
			cfg.Sink.SyncWrites = f.syncWrites
		case "snapshot-in":
			cfg.Snapshot.In = SplitList(f.snapIn)
		case "snapshot-out":
			cfg.Snapshot.Out = f.snapOut
		case "log-level":
			cfg.Log.Level = f.logLevel
		case "log-format":
			cfg.Log.Format = f.logFormat
		}
	})
}
