// Package sink persists partitioned documents into a document-oriented
// store. A load replaces a collection wholesale, inserts documents in
// batches and then declares indexes.
package sink

import (
	"context"
	"errors"
	"fmt"
	"regexp"
)

var (
	// ErrNotFound is returned when a document id is not in a collection.
	ErrNotFound = errors.New("not found")
	// ErrUnknownKind is returned by Open for an unsupported sink kind.
	ErrUnknownKind = errors.New("unknown sink kind")
	// ErrBadCollection is returned for collection or index names that are
	// not plain identifiers.
	ErrBadCollection = errors.New("invalid collection name")
)

// Document is anything with a stable id that marshals to JSON.
type Document interface {
	DocumentID() string
}

// IndexField is one key of an index. Path is a dotted JSON path.
type IndexField struct {
	Path string
	Desc bool
}

// Index is a declarative index request.
type Index struct {
	Name   string
	Fields []IndexField
}

// Asc and Desc build index fields.
func Asc(path string) IndexField  { return IndexField{Path: path} }
func Desc(path string) IndexField { return IndexField{Path: path, Desc: true} }

// Sink is the destination store.
type Sink interface {
	// ReplaceCollection clears any prior contents of the collection.
	ReplaceCollection(ctx context.Context, name string) error
	// InsertMany writes one batch. A failed batch is not partially applied.
	InsertMany(ctx context.Context, name string, docs []Document) error
	// CreateIndex declares an index over existing and future documents.
	CreateIndex(ctx context.Context, name string, idx Index) error
	Close() error
}

// Aborter is implemented by sinks that stage writes until Close. Abort
// discards everything staged and releases the sink in place of Close.
type Aborter interface {
	Abort() error
}

// Counter is implemented by sinks that can count documents in a collection.
type Counter interface {
	Count(ctx context.Context, name string) (int64, error)
}

// Getter is implemented by sinks that can fetch one raw document.
type Getter interface {
	Get(ctx context.Context, name, id string) ([]byte, error)
}

var (
	identRegex = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)
	pathRegex  = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*(\.[A-Za-z_][A-Za-z0-9_]*)*$`)
)

func checkName(name string) error {
	if !identRegex.MatchString(name) {
		return fmt.Errorf("%w: %q", ErrBadCollection, name)
	}
	return nil
}

func checkIndex(idx Index) error {
	if err := checkName(idx.Name); err != nil {
		return err
	}
	if len(idx.Fields) == 0 {
		return fmt.Errorf("index %s has no fields", idx.Name)
	}
	for _, f := range idx.Fields {
		if !pathRegex.MatchString(f.Path) {
			return fmt.Errorf("index %s: invalid field path %q", idx.Name, f.Path)
		}
	}
	return nil
}
