package sink

import (
	"bytes"
	"context"
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"os"
	"strings"

	"github.com/dgraph-io/badger/v4"
	"github.com/rs/zerolog"
)

// BadgerConfig configures a BadgerSink.
type BadgerConfig struct {
	Path       string // ignored when InMemory
	InMemory   bool
	SyncWrites bool
	Logger     *zerolog.Logger // nil disables badger's own logging
}

// BadgerSink stores documents under c/<collection>/<id> and index entries
// under i/<collection>/<index>/<encoded values><id>, whose value is the id.
// Iterating an index prefix yields ids in index order.
type BadgerSink struct {
	db *badger.DB
}

// badgerLogger adapts zerolog to badger's Logger interface.
type badgerLogger struct {
	log zerolog.Logger
}

func (l badgerLogger) Errorf(format string, args ...interface{}) {
	l.log.Error().Msgf(strings.TrimSuffix(format, "\n"), args...)
}

func (l badgerLogger) Warningf(format string, args ...interface{}) {
	l.log.Warn().Msgf(strings.TrimSuffix(format, "\n"), args...)
}

func (l badgerLogger) Infof(format string, args ...interface{}) {
	l.log.Debug().Msgf(strings.TrimSuffix(format, "\n"), args...)
}

func (l badgerLogger) Debugf(format string, args ...interface{}) {
	l.log.Trace().Msgf(strings.TrimSuffix(format, "\n"), args...)
}

// OpenBadger opens a BadgerDB-backed sink.
func OpenBadger(cfg BadgerConfig) (*BadgerSink, error) {
	if !cfg.InMemory && cfg.Path == "" {
		return nil, errors.New("badger: path is required for persistent database")
	}

	var opts badger.Options
	if cfg.InMemory {
		opts = badger.DefaultOptions("").WithInMemory(true)
	} else {
		if err := os.MkdirAll(cfg.Path, 0750); err != nil {
			return nil, fmt.Errorf("badger: create directory %s: %w", cfg.Path, err)
		}
		opts = badger.DefaultOptions(cfg.Path)
	}
	opts = opts.WithSyncWrites(cfg.SyncWrites).WithNumVersionsToKeep(1)
	if cfg.Logger != nil {
		opts = opts.WithLogger(badgerLogger{log: cfg.Logger.With().Str("component", "badger").Logger()})
	} else {
		opts = opts.WithLogger(nil)
	}

	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("badger: open: %w", err)
	}
	return &BadgerSink{db: db}, nil
}

func docPrefix(name string) []byte { return []byte("c/" + name + "/") }

func indexPrefix(name string) []byte { return []byte("i/" + name + "/") }

func (s *BadgerSink) ReplaceCollection(ctx context.Context, name string) error {
	if err := checkName(name); err != nil {
		return err
	}
	if err := s.db.DropPrefix(docPrefix(name), indexPrefix(name)); err != nil {
		return fmt.Errorf("badger: drop %s: %w", name, err)
	}
	return nil
}

func (s *BadgerSink) InsertMany(ctx context.Context, name string, docs []Document) error {
	if err := checkName(name); err != nil {
		return err
	}
	if len(docs) == 0 {
		return nil
	}

	// Marshal everything first so a bad document fails the batch before
	// anything is written.
	prefix := docPrefix(name)
	keys := make([][]byte, len(docs))
	vals := make([][]byte, len(docs))
	for i, d := range docs {
		b, err := json.Marshal(d)
		if err != nil {
			return fmt.Errorf("badger: marshal %s: %w", d.DocumentID(), err)
		}
		keys[i] = append(append([]byte{}, prefix...), d.DocumentID()...)
		vals[i] = b
	}

	// One transaction per batch: either every document lands or none does.
	err := s.db.Update(func(txn *badger.Txn) error {
		for i := range keys {
			if err := ctx.Err(); err != nil {
				return err
			}
			if err := txn.Set(keys[i], vals[i]); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("badger: insert into %s: %w", name, err)
	}
	return nil
}

// CreateIndex scans the collection and writes one index entry per document.
// Documents inserted afterwards are not indexed; loads create indexes last.
func (s *BadgerSink) CreateIndex(ctx context.Context, name string, idx Index) error {
	if err := checkName(name); err != nil {
		return err
	}
	if err := checkIndex(idx); err != nil {
		return err
	}

	idxPrefix := append(indexPrefix(name), idx.Name+"/"...)
	if err := s.db.DropPrefix(idxPrefix); err != nil {
		return fmt.Errorf("badger: reset index %s: %w", idx.Name, err)
	}

	wb := s.db.NewWriteBatch()
	defer wb.Cancel()

	prefix := docPrefix(name)
	err := s.db.View(func(txn *badger.Txn) error {
		it := txn.NewIterator(badger.DefaultIteratorOptions)
		defer it.Close()

		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			if err := ctx.Err(); err != nil {
				return err
			}
			item := it.Item()
			id := item.KeyCopy(nil)[len(prefix):]
			raw, err := item.ValueCopy(nil)
			if err != nil {
				return err
			}
			key, err := indexKey(idxPrefix, idx, raw, id)
			if err != nil {
				return fmt.Errorf("document %s: %w", id, err)
			}
			if err := wb.Set(key, append([]byte{}, id...)); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("badger: build index %s on %s: %w", idx.Name, name, err)
	}
	if err := wb.Flush(); err != nil {
		return fmt.Errorf("badger: flush index %s: %w", idx.Name, err)
	}
	return nil
}

// indexKey builds prefix + encoded field values + id.
func indexKey(prefix []byte, idx Index, raw, id []byte) ([]byte, error) {
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	var doc map[string]any
	if err := dec.Decode(&doc); err != nil {
		return nil, err
	}

	key := append([]byte{}, prefix...)
	for _, f := range idx.Fields {
		enc := encodeIndexValue(lookupPath(doc, f.Path))
		if f.Desc {
			for i := range enc {
				enc[i] = ^enc[i]
			}
		}
		key = append(key, enc...)
	}
	return append(key, id...), nil
}

func lookupPath(doc map[string]any, path string) any {
	var cur any = doc
	for _, part := range strings.Split(path, ".") {
		m, ok := cur.(map[string]any)
		if !ok {
			return nil
		}
		cur = m[part]
	}
	return cur
}

// Index value encoding keeps byte order equal to value order within a type:
//   - 0x00: missing/null
//   - 0x01 + 8 bytes: number, IEEE754 with sign-flip
//   - 0x02 + bytes + 0x00: string
//   - 0x03 + bytes + 0x00: anything else as JSON
const (
	tagNull   = 0x00
	tagNumber = 0x01
	tagString = 0x02
	tagJSON   = 0x03
)

func encodeIndexValue(v any) []byte {
	switch x := v.(type) {
	case nil:
		return []byte{tagNull}
	case json.Number:
		f, err := x.Float64()
		if err != nil {
			return append(append([]byte{tagString}, x.String()...), 0)
		}
		return encodeFloat(f)
	case float64:
		return encodeFloat(x)
	case string:
		return append(append([]byte{tagString}, x...), 0)
	default:
		b, _ := json.Marshal(x)
		return append(append([]byte{tagJSON}, b...), 0)
	}
}

func encodeFloat(f float64) []byte {
	bits := math.Float64bits(f)
	if f >= 0 {
		bits ^= 1 << 63
	} else {
		bits = ^bits
	}
	buf := make([]byte, 9)
	buf[0] = tagNumber
	binary.BigEndian.PutUint64(buf[1:], bits)
	return buf
}

// ScanIndex calls fn with document ids in index order until fn returns false.
func (s *BadgerSink) ScanIndex(ctx context.Context, name, index string, fn func(id string) bool) error {
	prefix := append(indexPrefix(name), index+"/"...)
	return s.db.View(func(txn *badger.Txn) error {
		it := txn.NewIterator(badger.DefaultIteratorOptions)
		defer it.Close()
		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			if err := ctx.Err(); err != nil {
				return err
			}
			id, err := it.Item().ValueCopy(nil)
			if err != nil {
				return err
			}
			if !fn(string(id)) {
				return nil
			}
		}
		return nil
	})
}

func (s *BadgerSink) Count(ctx context.Context, name string) (int64, error) {
	prefix := docPrefix(name)
	var n int64
	err := s.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.PrefetchValues = false
		it := txn.NewIterator(opts)
		defer it.Close()
		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			n++
		}
		return nil
	})
	return n, err
}

func (s *BadgerSink) Get(ctx context.Context, name, id string) ([]byte, error) {
	var out []byte
	err := s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(append(docPrefix(name), id...))
		if err != nil {
			return err
		}
		out, err = item.ValueCopy(nil)
		return err
	})
	if errors.Is(err, badger.ErrKeyNotFound) {
		return nil, ErrNotFound
	}
	return out, err
}

func (s *BadgerSink) Close() error { return s.db.Close() }
