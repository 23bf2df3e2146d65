package config

import (
	"flag"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func valid() *Config {
	cfg := DefaultConfig()
	cfg.Source.Path = "games.csv"
	return cfg
}

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()
	if cfg.Tree.MaxDepth != 8 || cfg.Output.InsertBatchSize != 1000 || cfg.Tree.SizeBudgetBytes != 16<<20 {
		t.Errorf("defaults = %+v", cfg)
	}
	if cfg.Tree.ReducedDepth >= cfg.Tree.MaxDepth {
		t.Errorf("default reduced depth %d not below max depth %d", cfg.Tree.ReducedDepth, cfg.Tree.MaxDepth)
	}
	if !cfg.HasShape("flat") || !cfg.HasShape("nested") {
		t.Errorf("shapes = %v", cfg.Output.Shapes)
	}
	if err := valid().Validate(); err != nil {
		t.Errorf("Validate(defaults + source): %v", err)
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
		want   string // substring of the error, "" for valid
	}{
		{"no source", func(c *Config) { c.Source.Path = "" }, "Path"},
		{"zero depth", func(c *Config) { c.Tree.MaxDepth = 0 }, "MaxDepth"},
		{"reduced equals max", func(c *Config) { c.Tree.ReducedDepth = 8 }, "ReducedDepth"},
		{"reduced above max", func(c *Config) { c.Tree.MaxDepth = 3 }, "ReducedDepth"},
		{"zero batch", func(c *Config) { c.Output.InsertBatchSize = 0 }, "InsertBatchSize"},
		{"bad policy", func(c *Config) { c.Tree.TruncationPolicy = "random" }, "TruncationPolicy"},
		{"bad shape", func(c *Config) { c.Output.Shapes = []string{"flat", "tree"} }, "Shapes"},
		{"no shapes", func(c *Config) { c.Output.Shapes = nil }, "Shapes"},
		{"duplicate shape", func(c *Config) { c.Output.Shapes = []string{"flat", "flat"} }, "Shapes"},
		{"bad collection", func(c *Config) { c.Output.FlatCollection = "1openings" }, "FlatCollection"},
		{"same collections", func(c *Config) { c.Output.NestedCollection = c.Output.FlatCollection }, "NestedCollection"},
		{"bad sink", func(c *Config) { c.Sink.Kind = "mongo" }, "Kind"},
		{"sqlite without dsn", func(c *Config) { c.Sink.DSN = "" }, "DSN"},
		{"memory without dsn", func(c *Config) { c.Sink.Kind, c.Sink.DSN = "memory", "" }, ""},
		{"bad format", func(c *Config) { c.Source.Format = "xml" }, "Format"},
		{"negative budget", func(c *Config) { c.Tree.SizeBudgetBytes = -1 }, "SizeBudgetBytes"},
		{"unbounded budget", func(c *Config) { c.Tree.SizeBudgetBytes = 0 }, ""},
		{"separator with escape char", func(c *Config) { c.Output.IDSeparator = "%" }, "IDSeparator"},
		{"separator with hex digit", func(c *Config) { c.Output.IDSeparator = "a" }, "IDSeparator"},
		{"arrow separator", func(c *Config) { c.Output.IDSeparator = "->" }, ""},
		{"search policy", func(c *Config) { c.Tree.TruncationPolicy = "search" }, ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := valid()
			tt.mutate(cfg)
			err := cfg.Validate()
			if tt.want == "" {
				if err != nil {
					t.Errorf("Validate: %v", err)
				}
				return
			}
			if err == nil || !strings.Contains(err.Error(), tt.want) {
				t.Errorf("Validate err = %v, want mention of %s", err, tt.want)
			}
		})
	}
}

func TestLoad_TOML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "openingtree.toml")
	os.WriteFile(path, []byte(`
[source]
path = "games.pgn.zst"
max_games = 5000

[tree]
max_depth = 12
reduced_depth = 6
truncation_policy = "search"

[output]
shapes = ["nested"]
nested_collection = "trees"

[sink]
kind = "badger"
dsn = "/var/lib/openingtree"
`), 0644)

	cfg, err := Load(path, "")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Source.Path != "games.pgn.zst" || cfg.Source.MaxGames != 5000 {
		t.Errorf("source = %+v", cfg.Source)
	}
	if cfg.Tree.MaxDepth != 12 || cfg.Tree.ReducedDepth != 6 || cfg.Tree.TruncationPolicy != "search" {
		t.Errorf("tree = %+v", cfg.Tree)
	}
	// Unset keys keep their defaults.
	if cfg.Tree.Workers != 1 || cfg.Output.InsertBatchSize != 1000 || cfg.Output.FlatCollection != "openings" {
		t.Errorf("defaults lost: %+v", cfg)
	}
	if cfg.HasShape("flat") || !cfg.HasShape("nested") {
		t.Errorf("shapes = %v", cfg.Output.Shapes)
	}
	if err := cfg.Validate(); err != nil {
		t.Errorf("Validate: %v", err)
	}
}

func TestLoad_Errors(t *testing.T) {
	dir := t.TempDir()
	unknown := filepath.Join(dir, "unknown.toml")
	os.WriteFile(unknown, []byte("[tree]\nmax_dept = 3\n"), 0644)
	broken := filepath.Join(dir, "broken.toml")
	os.WriteFile(broken, []byte("[tree\n"), 0644)

	for _, path := range []string{filepath.Join(dir, "missing.toml"), unknown, broken} {
		if _, err := Load(path, ""); err == nil {
			t.Errorf("Load(%s) succeeded", filepath.Base(path))
		}
	}
}

func TestLoad_EnvAndDotEnv(t *testing.T) {
	envFile := filepath.Join(t.TempDir(), ".env")
	os.WriteFile(envFile, []byte("OPENINGTREE_SOURCE=from-dotenv.csv\nOPENINGTREE_WORKERS=3\n"), 0644)

	t.Setenv("OPENINGTREE_MAX_DEPTH", "10")
	t.Setenv("OPENINGTREE_SHAPES", "flat, nested ,")
	t.Setenv("OPENINGTREE_SNAPSHOT_IN", "a.ots,b.ots")
	t.Setenv("OPENINGTREE_SYNC_WRITES", "true")
	// Already-set variables win over the .env file.
	t.Setenv("OPENINGTREE_WORKERS", "5")
	t.Cleanup(func() { os.Unsetenv("OPENINGTREE_SOURCE") })

	cfg, err := Load("", envFile)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Source.Path != "from-dotenv.csv" {
		t.Errorf("source = %q", cfg.Source.Path)
	}
	if cfg.Tree.MaxDepth != 10 || cfg.Tree.Workers != 5 {
		t.Errorf("tree = %+v", cfg.Tree)
	}
	if len(cfg.Output.Shapes) != 2 || len(cfg.Snapshot.In) != 2 || !cfg.Sink.SyncWrites {
		t.Errorf("lists/bools = %+v %+v %+v", cfg.Output, cfg.Snapshot, cfg.Sink)
	}
}

func TestLoad_BadEnv(t *testing.T) {
	t.Setenv("OPENINGTREE_MAX_DEPTH", "deep")
	if _, err := Load("", ""); err == nil || !strings.Contains(err.Error(), "OPENINGTREE_MAX_DEPTH") {
		t.Errorf("err = %v", err)
	}
}

func TestFlags_OnlyExplicitOverride(t *testing.T) {
	cfg := valid()
	cfg.Tree.MaxDepth = 12 // as if from a config file
	cfg.Sink.Kind = "badger"

	fs := flag.NewFlagSet("test", flag.ContinueOnError)
	f := BindFlags(fs)
	err := fs.Parse([]string{"-config", "x.toml", "-workers", "4", "-shapes", "nested", "-snapshot-in", "a.ots,b.ots", "-sync-writes"})
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	f.Apply(cfg)

	if f.ConfigPath != "x.toml" {
		t.Errorf("ConfigPath = %q", f.ConfigPath)
	}
	if cfg.Tree.MaxDepth != 12 {
		t.Errorf("unset -max-depth overrode config: %d", cfg.Tree.MaxDepth)
	}
	if cfg.Sink.Kind != "badger" {
		t.Errorf("unset -sink overrode config: %s", cfg.Sink.Kind)
	}
	if cfg.Tree.Workers != 4 || !cfg.HasShape("nested") || cfg.HasShape("flat") || len(cfg.Snapshot.In) != 2 || !cfg.Sink.SyncWrites {
		t.Errorf("flags not applied: %+v", cfg)
	}
}
