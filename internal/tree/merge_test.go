package tree

import (
	"testing"

	"github.com/freeeve/openingtree/internal/graph"
)

func assertSameCounts(t *testing.T, want, got *Trie) {
	t.Helper()
	if want.Len() != got.Len() {
		t.Fatalf("Len = %d, want %d", got.Len(), want.Len())
	}
	_ = want.Walk(func(i int) error {
		seq := want.Sequence(i)
		j, ok := got.Lookup(seq)
		if !ok {
			t.Errorf("%v missing", seq)
			return nil
		}
		if want.Node(i).Counts != got.Node(j).Counts {
			t.Errorf("%v counts = %+v, want %+v", seq, got.Node(j).Counts, want.Node(i).Counts)
		}
		wantNext := want.Continuations(i)
		gotNext := map[string]bool{}
		for _, mv := range got.Continuations(j) {
			gotNext[mv] = true
		}
		if len(wantNext) != len(gotNext) {
			t.Errorf("%v continuations = %v, want %v", seq, got.Continuations(j), wantNext)
		}
		for _, mv := range wantNext {
			if !gotNext[mv] {
				t.Errorf("%v missing continuation %s", seq, mv)
			}
		}
		return nil
	})
}

func TestMerge_EqualsSequential(t *testing.T) {
	seq := build(4, sampleGames)

	// Split round-robin across three shards.
	shards := []*Trie{New(4), New(4), New(4)}
	for i, g := range sampleGames {
		shards[i%3].Ingest(g.moves, g.outcome)
	}

	for _, order := range [][]int{{0, 1, 2}, {2, 0, 1}, {1, 2, 0}} {
		merged := New(4)
		for _, s := range order {
			merged.Merge(shards[s])
		}
		assertSameCounts(t, seq, merged)
	}
}

func TestMerge_Associative(t *testing.T) {
	a := build(3, sampleGames[:3])
	b := build(3, sampleGames[3:6])
	c := build(3, sampleGames[6:])

	left := New(3)
	left.Merge(a)
	left.Merge(b)
	left.Merge(c)

	bc := New(3)
	bc.Merge(b)
	bc.Merge(c)
	right := New(3)
	right.Merge(a)
	right.Merge(bc)

	assertSameCounts(t, left, right)
}

func TestMerge_DeeperSourceIsCapped(t *testing.T) {
	deep := build(5, sampleGames)
	shallow := New(2)
	shallow.Merge(deep)

	assertSameCounts(t, build(2, sampleGames), shallow)
}

func TestMerge_LeavesSourceUntouched(t *testing.T) {
	src := New(3)
	src.Ingest([]string{"e4", "e5"}, graph.WhiteWin)
	before := src.Node(src.Root()).Counts

	dst := New(3)
	dst.Ingest([]string{"d4"}, graph.Draw)
	dst.Merge(src)
	dst.Merge(src)

	if src.Node(src.Root()).Counts != before {
		t.Errorf("source root counts changed to %+v", src.Node(src.Root()).Counts)
	}
	if got := dst.Node(dst.Root()).Counts; got != (graph.Counts{WhiteWin: 2, Draw: 1}) {
		t.Errorf("dst root counts = %+v", got)
	}
}
