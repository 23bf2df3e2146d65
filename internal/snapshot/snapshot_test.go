package snapshot

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/freeeve/openingtree/internal/graph"
	"github.com/freeeve/openingtree/internal/tree"
)

func buildTrie(maxDepth int, games ...string) *tree.Trie {
	t := tree.New(maxDepth)
	outcomes := []graph.Outcome{graph.WhiteWin, graph.Draw, graph.BlackWin}
	for i, g := range games {
		t.Ingest(strings.Fields(g), outcomes[i%3])
	}
	return t
}

func TestWriteRead(t *testing.T) {
	path := filepath.Join(t.TempDir(), "tree.ots")
	orig := buildTrie(4, "e4 e5 Nf3 Nc6 Bb5", "e4 c5", "d4 d5 c4", "e4 e5 Bc4")

	info, err := Write(path, orig, "run-1")
	if err != nil {
		t.Fatalf("Write: %v", err)
	}
	if info.Games != 4 || info.NodeCount != orig.Len() || info.Bytes == 0 {
		t.Errorf("write info = %+v", info)
	}
	if _, err := os.Stat(path + ".tmp"); !os.IsNotExist(err) {
		t.Errorf("temp file left behind")
	}

	got, rinfo, err := Read(path)
	if err != nil {
		t.Fatalf("Read: %v", err)
	}
	if rinfo.RunID != "run-1" || rinfo.MaxDepth != 4 || rinfo.Games != 4 {
		t.Errorf("read info = %+v", rinfo)
	}
	if got.Len() != orig.Len() {
		t.Fatalf("Len = %d, want %d", got.Len(), orig.Len())
	}
	for i := 0; i < orig.Len(); i++ {
		if got.Node(i).Counts != orig.Node(i).Counts {
			t.Errorf("node %d counts = %+v, want %+v", i, got.Node(i).Counts, orig.Node(i).Counts)
		}
	}
}

func TestMergeInto(t *testing.T) {
	dir := t.TempDir()
	a := buildTrie(3, "e4 e5 Nf3", "d4 d5")
	b := buildTrie(3, "e4 c5", "e4 e5 Bc4", "c4")
	pa, pb := filepath.Join(dir, "a.ots"), filepath.Join(dir, "b.ots")
	if _, err := Write(pa, a, ""); err != nil {
		t.Fatal(err)
	}
	if _, err := Write(pb, b, ""); err != nil {
		t.Fatal(err)
	}

	merged := tree.New(3)
	infos, err := MergeInto(merged, pa, pb)
	if err != nil {
		t.Fatalf("MergeInto: %v", err)
	}
	if len(infos) != 2 {
		t.Errorf("infos = %d, want 2", len(infos))
	}

	want := buildTrie(3)
	want.Merge(a)
	want.Merge(b)
	if merged.Len() != want.Len() {
		t.Fatalf("Len = %d, want %d", merged.Len(), want.Len())
	}
	if got := merged.Node(merged.Root()).Counts.Total(); got != 5 {
		t.Errorf("root total = %d, want 5", got)
	}
	idx, ok := merged.Lookup([]string{"e4", "e5"})
	if !ok || merged.Node(idx).Counts.Total() != 2 {
		t.Errorf("e4 e5 not merged")
	}
}

func TestMergeInto_DeeperSnapshotIsCut(t *testing.T) {
	path := filepath.Join(t.TempDir(), "deep.ots")
	if _, err := Write(path, buildTrie(6, "e4 e5 Nf3 Nc6 Bb5 a6"), ""); err != nil {
		t.Fatal(err)
	}
	shallow := tree.New(2)
	if _, err := MergeInto(shallow, path); err != nil {
		t.Fatalf("MergeInto: %v", err)
	}
	if shallow.Len() != 3 {
		t.Errorf("Len = %d, want 3", shallow.Len())
	}
	if _, ok := shallow.Lookup([]string{"e4", "e5", "Nf3"}); ok {
		t.Error("node past max depth was merged")
	}
}

func TestRead_Errors(t *testing.T) {
	dir := t.TempDir()
	notSnap := filepath.Join(dir, "junk.ots")
	os.WriteFile(notSnap, []byte("hello world"), 0644)
	truncated := filepath.Join(dir, "short.ots")
	os.WriteFile(truncated, []byte(Magic+"\x28\xb5"), 0644)

	if _, _, err := Read(filepath.Join(dir, "missing.ots")); !errors.Is(err, os.ErrNotExist) {
		t.Errorf("missing: err = %v", err)
	}
	if _, _, err := Read(notSnap); !errors.Is(err, ErrBadMagic) {
		t.Errorf("junk: err = %v, want ErrBadMagic", err)
	}
	if _, _, err := Read(truncated); err == nil {
		t.Error("truncated: expected error")
	}
}
