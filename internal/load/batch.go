package load

import (
	"context"
	"fmt"

	"github.com/freeeve/openingtree/internal/sink"
)

// batcher groups documents into InsertMany calls of at most size documents.
type batcher struct {
	ctx  context.Context
	sink sink.Sink
	coll string
	size int

	buf     []sink.Document
	written int64
	batches int
}

func newBatcher(ctx context.Context, s sink.Sink, coll string, size int) *batcher {
	if size < 1 {
		size = 1
	}
	return &batcher{ctx: ctx, sink: s, coll: coll, size: size, buf: make([]sink.Document, 0, size)}
}

func (b *batcher) add(d sink.Document) error {
	b.buf = append(b.buf, d)
	if len(b.buf) >= b.size {
		return b.flush()
	}
	return nil
}

func (b *batcher) flush() error {
	if len(b.buf) == 0 {
		return nil
	}
	if err := b.sink.InsertMany(b.ctx, b.coll, b.buf); err != nil {
		return fmt.Errorf("insert batch %d (%d documents) into %s: %w", b.batches+1, len(b.buf), b.coll, err)
	}
	b.written += int64(len(b.buf))
	b.batches++
	b.buf = make([]sink.Document, 0, b.size)
	return nil
}
