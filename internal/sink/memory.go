package sink

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
)

// MemorySink keeps collections in memory and records every operation in
// order. Insert and index failures can be injected.
type MemorySink struct {
	mu          sync.Mutex
	collections map[string]map[string][]byte
	indexes     map[string][]Index
	ops         []string

	// InsertErr, when set, fails every InsertMany.
	InsertErr error
	// IndexErr, when set, is consulted for every CreateIndex.
	IndexErr func(Index) error
}

// NewMemorySink creates an empty memory sink.
func NewMemorySink() *MemorySink {
	return &MemorySink{
		collections: make(map[string]map[string][]byte),
		indexes:     make(map[string][]Index),
	}
}

func (m *MemorySink) ReplaceCollection(ctx context.Context, name string) error {
	if err := checkName(name); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.ops = append(m.ops, "replace:"+name)
	m.collections[name] = make(map[string][]byte)
	delete(m.indexes, name)
	return nil
}

func (m *MemorySink) InsertMany(ctx context.Context, name string, docs []Document) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.ops = append(m.ops, fmt.Sprintf("insert:%s:%d", name, len(docs)))
	if m.InsertErr != nil {
		return m.InsertErr
	}

	coll, ok := m.collections[name]
	if !ok {
		coll = make(map[string][]byte)
		m.collections[name] = coll
	}
	staged := make(map[string][]byte, len(docs))
	for _, d := range docs {
		id := d.DocumentID()
		if _, dup := coll[id]; dup {
			return fmt.Errorf("duplicate id %q in %s", id, name)
		}
		if _, dup := staged[id]; dup {
			return fmt.Errorf("duplicate id %q in batch for %s", id, name)
		}
		b, err := json.Marshal(d)
		if err != nil {
			return fmt.Errorf("marshal %s: %w", id, err)
		}
		staged[id] = b
	}
	for id, b := range staged {
		coll[id] = b
	}
	return nil
}

func (m *MemorySink) CreateIndex(ctx context.Context, name string, idx Index) error {
	if err := checkIndex(idx); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.ops = append(m.ops, "index:"+name+":"+idx.Name)
	if m.IndexErr != nil {
		if err := m.IndexErr(idx); err != nil {
			return err
		}
	}
	m.indexes[name] = append(m.indexes[name], idx)
	return nil
}

func (m *MemorySink) Count(ctx context.Context, name string) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return int64(len(m.collections[name])), nil
}

func (m *MemorySink) Get(ctx context.Context, name, id string) ([]byte, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	b, ok := m.collections[name][id]
	if !ok {
		return nil, ErrNotFound
	}
	return b, nil
}

// Ops returns the operations seen so far, e.g. "replace:openings",
// "insert:openings:1000", "index:openings:depth".
func (m *MemorySink) Ops() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]string, len(m.ops))
	copy(out, m.ops)
	return out
}

// Indexes returns the indexes declared on a collection.
func (m *MemorySink) Indexes(name string) []Index {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]Index(nil), m.indexes[name]...)
}

func (m *MemorySink) Close() error { return nil }
