// Package snapshot persists raw (not yet derived) tries so runs over
// separate inputs can be merged later.
//
// File structure:
//
//	Magic (4): "OTS1"
//	Body: zstd stream of one msgpack-encoded File
package snapshot

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/klauspost/compress/zstd"
	"github.com/vmihailenco/msgpack/v5"

	"github.com/freeeve/openingtree/internal/tree"
)

const (
	Magic   = "OTS1"
	Version = 1
)

// ErrBadMagic is returned when a file is not a snapshot.
var ErrBadMagic = errors.New("snapshot: bad magic")

// File is the snapshot body.
type File struct {
	Version   int               `msgpack:"version"`
	MaxDepth  int               `msgpack:"max_depth"`
	CreatedAt time.Time         `msgpack:"created_at"`
	RunID     string            `msgpack:"run_id,omitempty"`
	Games     uint64            `msgpack:"games"`
	Nodes     []tree.NodeRecord `msgpack:"nodes"`
}

// Info describes a snapshot without its nodes.
type Info struct {
	MaxDepth  int
	CreatedAt time.Time
	RunID     string
	Games     uint64
	NodeCount int
	Bytes     int64
}

// Write stores t at path. The file is written to path.tmp and renamed.
func Write(path string, t *tree.Trie, runID string) (Info, error) {
	body := File{
		Version:   Version,
		MaxDepth:  t.MaxDepth(),
		CreatedAt: time.Now().UTC(),
		RunID:     runID,
		Games:     t.Node(t.Root()).Counts.Total(),
		Nodes:     t.Export(),
	}

	tmpPath := path + ".tmp"
	if err := writeFile(tmpPath, &body); err != nil {
		os.Remove(tmpPath)
		return Info{}, fmt.Errorf("write snapshot %s: %w", path, err)
	}
	if err := os.Rename(tmpPath, path); err != nil {
		os.Remove(tmpPath)
		return Info{}, fmt.Errorf("rename snapshot %s: %w", path, err)
	}

	info := infoOf(&body)
	if fi, err := os.Stat(path); err == nil {
		info.Bytes = fi.Size()
	}
	return info, nil
}

func writeFile(path string, body *File) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	defer f.Close()

	w := bufio.NewWriterSize(f, 1<<20)
	if _, err := w.WriteString(Magic); err != nil {
		return err
	}
	enc, err := zstd.NewWriter(w, zstd.WithEncoderLevel(zstd.SpeedBetterCompression))
	if err != nil {
		return err
	}
	if err := msgpack.NewEncoder(enc).Encode(body); err != nil {
		enc.Close()
		return err
	}
	if err := enc.Close(); err != nil {
		return err
	}
	if err := w.Flush(); err != nil {
		return err
	}
	if err := f.Sync(); err != nil {
		return err
	}
	return f.Close()
}

// Read loads the snapshot at path and rebuilds its trie.
func Read(path string) (*tree.Trie, Info, error) {
	body, err := readFile(path)
	if err != nil {
		return nil, Info{}, err
	}
	t, err := tree.Import(body.MaxDepth, body.Nodes)
	if err != nil {
		return nil, Info{}, fmt.Errorf("snapshot %s: %w", path, err)
	}
	info := infoOf(body)
	if fi, err := os.Stat(path); err == nil {
		info.Bytes = fi.Size()
	}
	return t, info, nil
}

func readFile(path string) (*File, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	r := bufio.NewReaderSize(f, 1<<20)
	magic := make([]byte, len(Magic))
	if _, err := io.ReadFull(r, magic); err != nil || string(magic) != Magic {
		return nil, fmt.Errorf("%w: %s", ErrBadMagic, path)
	}

	dec, err := zstd.NewReader(r)
	if err != nil {
		return nil, fmt.Errorf("snapshot %s: %w", path, err)
	}
	defer dec.Close()

	var body File
	if err := msgpack.NewDecoder(dec).Decode(&body); err != nil {
		return nil, fmt.Errorf("snapshot %s: decode: %w", path, err)
	}
	if body.Version != Version {
		return nil, fmt.Errorf("snapshot %s: unsupported version %d", path, body.Version)
	}
	return &body, nil
}

func infoOf(body *File) Info {
	return Info{
		MaxDepth:  body.MaxDepth,
		CreatedAt: body.CreatedAt,
		RunID:     body.RunID,
		Games:     body.Games,
		NodeCount: len(body.Nodes),
	}
}

// MergeInto reads each snapshot and merges it into t. Snapshots deeper than
// t are cut to t's depth.
func MergeInto(t *tree.Trie, paths ...string) ([]Info, error) {
	infos := make([]Info, 0, len(paths))
	for _, p := range paths {
		s, info, err := Read(p)
		if err != nil {
			return infos, err
		}
		t.Merge(s)
		infos = append(infos, info)
	}
	return infos, nil
}
