// Package config loads loader settings. Precedence, lowest first: defaults,
// TOML file, .env file and OPENINGTREE_* environment variables, command-line
// flags that were explicitly set.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"strings"

	"github.com/BurntSushi/toml"
	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"

	"github.com/freeeve/openingtree/internal/graph"
)

// EnvPrefix prefixes every environment override.
const EnvPrefix = "OPENINGTREE_"

type Config struct {
	Source   SourceConfig   `toml:"source"`
	Tree     TreeConfig     `toml:"tree"`
	Output   OutputConfig   `toml:"output"`
	Sink     SinkConfig     `toml:"sink"`
	Snapshot SnapshotConfig `toml:"snapshot"`
	Log      LogConfig      `toml:"log"`
}

type SourceConfig struct {
	Path     string `toml:"path" validate:"required"`
	Format   string `toml:"format" validate:"omitempty,oneof=csv jsonl pgn"`
	MaxGames int64  `toml:"max_games" validate:"gte=0"`
}

type TreeConfig struct {
	MaxDepth         int    `toml:"max_depth" validate:"gte=1,lte=64"`
	Workers          int    `toml:"workers" validate:"gte=1,lte=256"`
	SizeBudgetBytes  int    `toml:"size_budget_bytes" validate:"gte=0"`
	ReducedDepth     int    `toml:"reduced_depth" validate:"gte=0,ltfield=MaxDepth"`
	TruncationPolicy string `toml:"truncation_policy" validate:"oneof=fixed search"`
}

type OutputConfig struct {
	Shapes           []string `toml:"shapes" validate:"min=1,unique,dive,oneof=flat nested"`
	FlatCollection   string   `toml:"flat_collection" validate:"required,collection"`
	NestedCollection string   `toml:"nested_collection" validate:"required,collection,nefield=FlatCollection"`
	IDSeparator      string   `toml:"id_separator" validate:"required,separator"`
	InsertBatchSize  int      `toml:"insert_batch_size" validate:"gte=1,lte=100000"`
	ECODir           string   `toml:"eco_dir"`
}

type SinkConfig struct {
	Kind       string `toml:"kind" validate:"oneof=sqlite badger file memory"`
	DSN        string `toml:"dsn" validate:"required_unless=Kind memory"`
	SyncWrites bool   `toml:"sync_writes"`
}

type SnapshotConfig struct {
	In  []string `toml:"in"`
	Out string   `toml:"out"`
}

type LogConfig struct {
	Level  string `toml:"level" validate:"oneof=trace debug info warn error"`
	Format string `toml:"format" validate:"oneof=console json"`
}

// DefaultConfig returns the settings used when nothing overrides them.
func DefaultConfig() *Config {
	return &Config{
		Tree: TreeConfig{
			MaxDepth:         8,
			Workers:          1,
			SizeBudgetBytes:  16 * 1024 * 1024, // 16MiB per document
			ReducedDepth:     4,
			TruncationPolicy: "fixed",
		},
		Output: OutputConfig{
			Shapes:           []string{"flat", "nested"},
			FlatCollection:   "openings",
			NestedCollection: "opening_trees",
			IDSeparator:      "_",
			InsertBatchSize:  1000,
		},
		Sink: SinkConfig{
			Kind: "sqlite",
			DSN:  "./data/openings.db",
		},
		Log: LogConfig{
			Level:  "info",
			Format: "console",
		},
	}
}

// Load builds a config from defaults, the TOML file at path (if path is not
// empty), envFile (ignored if missing) and the process environment.
func Load(path, envFile string) (*Config, error) {
	cfg := DefaultConfig()

	if path != "" {
		md, err := toml.DecodeFile(path, cfg)
		if err != nil {
			return nil, fmt.Errorf("parsing config %s: %w", path, err)
		}
		if undecoded := md.Undecoded(); len(undecoded) > 0 {
			return nil, fmt.Errorf("parsing config %s: unknown keys %v", path, undecoded)
		}
	}

	if envFile != "" {
		if err := godotenv.Load(envFile); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("loading %s: %w", envFile, err)
		}
	}
	if err := cfg.applyEnv(os.LookupEnv); err != nil {
		return nil, err
	}
	return cfg, nil
}

// applyEnv overrides fields from OPENINGTREE_* variables.
func (c *Config) applyEnv(lookup func(string) (string, bool)) error {
	strs := map[string]*string{
		"SOURCE":            &c.Source.Path,
		"FORMAT":            &c.Source.Format,
		"TRUNCATION_POLICY": &c.Tree.TruncationPolicy,
		"FLAT_COLLECTION":   &c.Output.FlatCollection,
		"NESTED_COLLECTION": &c.Output.NestedCollection,
		"ID_SEPARATOR":      &c.Output.IDSeparator,
		"ECO_DIR":           &c.Output.ECODir,
		"SINK":              &c.Sink.Kind,
		"DSN":               &c.Sink.DSN,
		"SNAPSHOT_OUT":      &c.Snapshot.Out,
		"LOG_LEVEL":         &c.Log.Level,
		"LOG_FORMAT":        &c.Log.Format,
	}
	ints := map[string]*int{
		"MAX_DEPTH":         &c.Tree.MaxDepth,
		"WORKERS":           &c.Tree.Workers,
		"SIZE_BUDGET_BYTES": &c.Tree.SizeBudgetBytes,
		"REDUCED_DEPTH":     &c.Tree.ReducedDepth,
		"INSERT_BATCH_SIZE": &c.Output.InsertBatchSize,
	}
	lists := map[string]*[]string{
		"SHAPES":      &c.Output.Shapes,
		"SNAPSHOT_IN": &c.Snapshot.In,
	}

	for name, dst := range strs {
		if v, ok := lookup(EnvPrefix + name); ok && v != "" {
			*dst = v
		}
	}
	for name, dst := range ints {
		if v, ok := lookup(EnvPrefix + name); ok && v != "" {
			n, err := strconv.Atoi(v)
			if err != nil {
				return fmt.Errorf("%s%s: %w", EnvPrefix, name, err)
			}
			*dst = n
		}
	}
	for name, dst := range lists {
		if v, ok := lookup(EnvPrefix + name); ok && v != "" {
			*dst = SplitList(v)
		}
	}
	if v, ok := lookup(EnvPrefix + "MAX_GAMES"); ok && v != "" {
		n, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			return fmt.Errorf("%sMAX_GAMES: %w", EnvPrefix, err)
		}
		c.Source.MaxGames = n
	}
	if v, ok := lookup(EnvPrefix + "SYNC_WRITES"); ok && v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return fmt.Errorf("%sSYNC_WRITES: %w", EnvPrefix, err)
		}
		c.Sink.SyncWrites = b
	}
	return nil
}

// SplitList splits a comma-separated list, dropping blanks.
func SplitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

// HasShape reports whether shape is enabled.
func (c *Config) HasShape(shape string) bool {
	for _, s := range c.Output.Shapes {
		if s == shape {
			return true
		}
	}
	return false
}

var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	v.RegisterValidation("collection", func(fl validator.FieldLevel) bool {
		s := fl.Field().String()
		if s == "" {
			return false
		}
		for i, r := range s {
			switch {
			case r == '_', r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z':
			case r >= '0' && r <= '9' && i > 0:
			default:
				return false
			}
		}
		return true
	})
	v.RegisterValidation("separator", func(fl validator.FieldLevel) bool {
		return graph.ValidSeparator(fl.Field().String())
	})
	return v
}

// Validate checks field constraints.
func (c *Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) {
			msgs := make([]string, 0, len(verrs))
			for _, fe := range verrs {
				msgs = append(msgs, fmt.Sprintf("%s: failed %s%s", fe.Namespace(), fe.Tag(), param(fe.Param())))
			}
			return fmt.Errorf("invalid config: %s", strings.Join(msgs, "; "))
		}
		return fmt.Errorf("invalid config: %w", err)
	}
	return nil
}

func param(p string) string {
	if p == "" {
		return ""
	}
	return "=" + p
}
