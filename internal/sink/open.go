package sink

import (
	"fmt"

	"github.com/rs/zerolog"
)

// Kinds accepted by Open.
const (
	KindSQLite = "sqlite"
	KindBadger = "badger"
	KindFile   = "file"
	KindMemory = "memory"
)

// Config selects and locates a sink.
type Config struct {
	Kind string
	DSN  string // sqlite file, badger directory or output directory
	Sync bool   // badger: fsync every write
}

// Open creates the sink described by cfg.
func Open(cfg Config, log zerolog.Logger) (Sink, error) {
	switch cfg.Kind {
	case KindSQLite:
		return OpenSQLite(cfg.DSN)
	case KindBadger:
		return OpenBadger(BadgerConfig{Path: cfg.DSN, SyncWrites: cfg.Sync, Logger: &log})
	case KindFile:
		return NewFileSink(cfg.DSN)
	case KindMemory:
		return NewMemorySink(), nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownKind, cfg.Kind)
	}
}
