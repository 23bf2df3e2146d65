package ingest

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"testing"

	"github.com/rs/zerolog"

	"github.com/freeeve/openingtree/internal/source"
	"github.com/freeeve/openingtree/internal/tree"
)

// sliceReader serves fixed records; errs[i], when set, is returned instead
// of records[i].
type sliceReader struct {
	records []source.Record
	errs    map[int]error
	i       int
	closed  bool
}

func (r *sliceReader) Next() (source.Record, error) {
	if r.i >= len(r.records) {
		return source.Record{}, io.EOF
	}
	i := r.i
	r.i++
	if err, ok := r.errs[i]; ok {
		return source.Record{}, err
	}
	return r.records[i], nil
}

func (r *sliceReader) Close() error {
	r.closed = true
	return nil
}

func corpus(n int) []source.Record {
	openings := []string{
		"e4 e5 Nf3 Nc6 Bb5 a6",
		"e4 c5 Nf3 d6 d4 cxd4",
		"d4 d5 c4 e6 Nc3 Nf6",
		"d4 Nf6 c4 g6 Nc3 Bg7",
		"c4 e5 Nc3 Nf6",
		"e4 e5 Nf3 Nf6",
		"Nf3",
	}
	results := []any{"1", "0", "-1", 1, 0.0, -1}
	out := make([]source.Record, n)
	for i := range out {
		out[i] = source.Record{
			Result: results[i%len(results)],
			Moves:  openings[(i*7+i/3)%len(openings)],
		}
	}
	return out
}

func TestRun_Sequential(t *testing.T) {
	src := &sliceReader{records: []source.Record{
		{Result: "1", Moves: "e4 e5 Nf3"},
		{Result: "-1", Moves: "e4 c5"},
		{Result: "1", Moves: ""},
		{Result: "2", Moves: "d4"},
		{Result: nil, Moves: "d4"},
		{Result: "0", Moves: `["d4", "d5"]`},
	}, errs: map[int]error{6: fmt.Errorf("%w: bad line", source.ErrMalformed)}}
	src.records = append(src.records, source.Record{}, source.Record{Result: 1, Moves: "c4"})

	w := NewWorker(Config{MaxDepth: 3, Logger: zerolog.Nop()})
	tr, stats, err := w.Run(context.Background(), src)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}

	want := Stats{Read: 7, Ingested: 4, SkippedEmptyMoves: 1, SkippedBadResult: 2, Malformed: 1}
	if stats != want {
		t.Errorf("stats = %+v, want %+v", stats, want)
	}
	if stats.Skipped() != 4 {
		t.Errorf("Skipped() = %d, want 4", stats.Skipped())
	}
	if w.Stats() != stats {
		t.Errorf("Worker.Stats() = %+v, want %+v", w.Stats(), stats)
	}

	root := tr.Node(tr.Root())
	if root.Counts.Total() != 4 || root.Counts.WhiteWin != 2 || root.Counts.Draw != 1 || root.Counts.BlackWin != 1 {
		t.Errorf("root counts = %+v", root.Counts)
	}
	if idx, ok := tr.Lookup([]string{"d4", "d5"}); !ok || tr.Node(idx).Counts.Draw != 1 {
		t.Errorf("d4 d5 missing or wrong")
	}
}

func TestRun_ShardedMatchesSequential(t *testing.T) {
	records := corpus(5000)

	seq, seqStats, err := NewWorker(Config{MaxDepth: 4, Logger: zerolog.Nop()}).
		Run(context.Background(), &sliceReader{records: records})
	if err != nil {
		t.Fatalf("sequential Run: %v", err)
	}

	for _, workers := range []int{2, 4, 7} {
		t.Run(fmt.Sprintf("workers=%d", workers), func(t *testing.T) {
			w := NewWorker(Config{Workers: workers, MaxDepth: 4, BatchSize: 64, Logger: zerolog.Nop()})
			par, stats, err := w.Run(context.Background(), &sliceReader{records: records})
			if err != nil {
				t.Fatalf("Run: %v", err)
			}
			if stats != seqStats {
				t.Errorf("stats = %+v, want %+v", stats, seqStats)
			}
			if par.Len() != seq.Len() {
				t.Fatalf("nodes = %d, want %d", par.Len(), seq.Len())
			}
			err = seq.Walk(func(i int) error {
				moves := seq.Sequence(i)
				j, ok := par.Lookup(moves)
				if !ok {
					return fmt.Errorf("sequence %v missing", moves)
				}
				if par.Node(j).Counts != seq.Node(i).Counts {
					return fmt.Errorf("sequence %v: counts %+v, want %+v", moves, par.Node(j).Counts, seq.Node(i).Counts)
				}
				if !sameSet(par.Continuations(j), seq.Continuations(i)) {
					return fmt.Errorf("sequence %v: continuations %v, want %v", moves, par.Continuations(j), seq.Continuations(i))
				}
				return nil
			})
			if err != nil {
				t.Error(err)
			}
		})
	}
}

func sameSet(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	seen := make(map[string]bool, len(a))
	for _, s := range a {
		seen[s] = true
	}
	for _, s := range b {
		if !seen[s] {
			return false
		}
	}
	return true
}

func TestRun_MaxGames(t *testing.T) {
	for _, workers := range []int{1, 3} {
		t.Run(fmt.Sprintf("workers=%d", workers), func(t *testing.T) {
			w := NewWorker(Config{Workers: workers, MaxDepth: 2, MaxGames: 100, Logger: zerolog.Nop()})
			tr, stats, err := w.Run(context.Background(), &sliceReader{records: corpus(1000)})
			if err != nil {
				t.Fatalf("Run: %v", err)
			}
			if stats.Ingested != 100 {
				t.Errorf("ingested = %d, want 100", stats.Ingested)
			}
			if got := tr.Node(tr.Root()).Counts.Total(); got != 100 {
				t.Errorf("root total = %d, want 100", got)
			}
		})
	}
}

func TestRun_TrimsMovesPastDepth(t *testing.T) {
	src := &sliceReader{records: []source.Record{{Result: "1", Moves: "e4 e5 Nf3 Nc6 Bb5 a6 Ba4"}}}
	tr, _, err := NewWorker(Config{MaxDepth: 2, Logger: zerolog.Nop()}).Run(context.Background(), src)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	idx, ok := tr.Lookup([]string{"e4", "e5"})
	if !ok {
		t.Fatal("e4 e5 missing")
	}
	// The continuation at max depth is still recorded.
	if got := tr.Continuations(idx); len(got) != 1 || got[0] != "Nf3" {
		t.Errorf("continuations at max depth = %v, want [Nf3]", got)
	}
}

func TestRun_ReadErrorAborts(t *testing.T) {
	boom := errors.New("disk on fire")
	for _, workers := range []int{1, 4} {
		t.Run(fmt.Sprintf("workers=%d", workers), func(t *testing.T) {
			src := &sliceReader{records: corpus(2000), errs: map[int]error{1500: boom}}
			tr, stats, err := NewWorker(Config{Workers: workers, MaxDepth: 3, Logger: zerolog.Nop()}).
				Run(context.Background(), src)
			if !errors.Is(err, boom) {
				t.Fatalf("err = %v, want %v", err, boom)
			}
			if tr != nil {
				t.Error("trie returned with error")
			}
			if stats.Read != 1500 {
				t.Errorf("read = %d, want 1500", stats.Read)
			}
			if !strings.Contains(err.Error(), "record 1501") {
				t.Errorf("error does not name the record: %v", err)
			}
		})
	}
}

func TestRun_Cancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	for _, workers := range []int{1, 2} {
		_, _, err := NewWorker(Config{Workers: workers, MaxDepth: 3, Logger: zerolog.Nop()}).
			Run(ctx, &sliceReader{records: corpus(100)})
		if !errors.Is(err, context.Canceled) {
			t.Errorf("workers=%d: err = %v, want context.Canceled", workers, err)
		}
	}
}

func TestRun_Deterministic(t *testing.T) {
	build := func() *tree.Trie {
		tr, _, err := NewWorker(Config{MaxDepth: 5, Logger: zerolog.Nop()}).
			Run(context.Background(), &sliceReader{records: corpus(777)})
		if err != nil {
			t.Fatalf("Run: %v", err)
		}
		return tr
	}
	a, b := build(), build()
	if a.Len() != b.Len() {
		t.Fatalf("node counts differ: %d vs %d", a.Len(), b.Len())
	}
	for i := 0; i < a.Len(); i++ {
		if fmt.Sprint(a.Sequence(i)) != fmt.Sprint(b.Sequence(i)) || a.Node(i).Counts != b.Node(i).Counts {
			t.Fatalf("node %d differs", i)
		}
	}
}
