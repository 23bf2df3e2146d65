package sink

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"

	"github.com/klauspost/compress/zstd"
)

// FileSink writes each collection as zstd-compressed JSON lines in
// <dir>/<collection>.jsonl.zst. A collection is written to a temp file and
// renamed into place on Close; Abort discards it instead, so readers never
// see a half-written load.
// Indexes are recorded in <collection>.indexes.json for whatever imports
// the files.
type FileSink struct {
	dir   string
	level zstd.EncoderLevel

	mu   sync.Mutex
	open map[string]*fileCollection
}

type fileCollection struct {
	f       *os.File
	buf     *bufio.Writer
	enc     *zstd.Encoder
	tmpPath string
	count   int64
	indexes []fileIndex
}

type fileIndex struct {
	Name   string      `json:"name"`
	Fields []fileField `json:"fields"`
}

type fileField struct {
	Path  string `json:"path"`
	Order int    `json:"order"` // 1 ascending, -1 descending
}

// NewFileSink creates a file sink rooted at dir.
func NewFileSink(dir string) (*FileSink, error) {
	if dir == "" {
		return nil, errors.New("file sink: directory is required")
	}
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("file sink: create %s: %w", dir, err)
	}
	return &FileSink{
		dir:   dir,
		level: zstd.SpeedBestCompression,
		open:  make(map[string]*fileCollection),
	}, nil
}

// CollectionPath returns the final path of a collection file.
func (s *FileSink) CollectionPath(name string) string {
	return filepath.Join(s.dir, name+".jsonl.zst")
}

func (s *FileSink) indexPath(name string) string {
	return filepath.Join(s.dir, name+".indexes.json")
}

func (s *FileSink) ReplaceCollection(ctx context.Context, name string) error {
	if err := checkName(name); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	if prev, ok := s.open[name]; ok {
		prev.abort()
		delete(s.open, name)
	}

	tmpPath := s.CollectionPath(name) + ".tmp"
	f, err := os.Create(tmpPath)
	if err != nil {
		return fmt.Errorf("file sink: create %s: %w", tmpPath, err)
	}
	buf := bufio.NewWriterSize(f, 1<<20)
	enc, err := zstd.NewWriter(buf, zstd.WithEncoderLevel(s.level))
	if err != nil {
		f.Close()
		os.Remove(tmpPath)
		return fmt.Errorf("file sink: zstd writer: %w", err)
	}
	s.open[name] = &fileCollection{f: f, buf: buf, enc: enc, tmpPath: tmpPath}
	return nil
}

func (s *FileSink) InsertMany(ctx context.Context, name string, docs []Document) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	c, ok := s.open[name]
	if !ok {
		return fmt.Errorf("file sink: collection %s was not replaced before insert", name)
	}

	var batch []byte
	for _, d := range docs {
		b, err := json.Marshal(d)
		if err != nil {
			return fmt.Errorf("file sink: marshal %s: %w", d.DocumentID(), err)
		}
		batch = append(batch, b...)
		batch = append(batch, '\n')
	}
	if _, err := c.enc.Write(batch); err != nil {
		return fmt.Errorf("file sink: write %s: %w", name, err)
	}
	c.count += int64(len(docs))
	return nil
}

func (s *FileSink) CreateIndex(ctx context.Context, name string, idx Index) error {
	if err := checkIndex(idx); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	c, ok := s.open[name]
	if !ok {
		return fmt.Errorf("file sink: collection %s is not open", name)
	}
	fi := fileIndex{Name: idx.Name}
	for _, f := range idx.Fields {
		order := 1
		if f.Desc {
			order = -1
		}
		fi.Fields = append(fi.Fields, fileField{Path: f.Path, Order: order})
	}
	c.indexes = append(c.indexes, fi)
	return nil
}

func (s *FileSink) Count(ctx context.Context, name string) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if c, ok := s.open[name]; ok {
		return c.count, nil
	}
	var n int64
	err := ReadJSONL(s.CollectionPath(name), func([]byte) error {
		n++
		return nil
	})
	return n, err
}

// Abort drops every open collection without publishing it. Files from
// earlier loads stay in place.
func (s *FileSink) Abort() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for name, c := range s.open {
		c.abort()
		delete(s.open, name)
	}
	return nil
}

// Close finishes every open collection and renames it into place.
func (s *FileSink) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	var errs []error
	for name, c := range s.open {
		if err := s.finish(name, c); err != nil {
			errs = append(errs, fmt.Errorf("file sink: finish %s: %w", name, err))
		}
		delete(s.open, name)
	}
	return errors.Join(errs...)
}

func (s *FileSink) finish(name string, c *fileCollection) error {
	if err := c.enc.Close(); err != nil {
		c.abort()
		return err
	}
	if err := c.buf.Flush(); err != nil {
		c.abort()
		return err
	}
	if err := c.f.Sync(); err != nil {
		c.abort()
		return err
	}
	if err := c.f.Close(); err != nil {
		os.Remove(c.tmpPath)
		return err
	}
	if err := os.Rename(c.tmpPath, s.CollectionPath(name)); err != nil {
		return err
	}

	data, err := json.MarshalIndent(c.indexes, "", "  ")
	if err != nil {
		return err
	}
	tmp := s.indexPath(name) + ".tmp"
	if err := os.WriteFile(tmp, data, 0644); err != nil {
		return err
	}
	return os.Rename(tmp, s.indexPath(name))
}

func (c *fileCollection) abort() {
	c.enc.Close()
	c.f.Close()
	os.Remove(c.tmpPath)
}

// ReadJSONL calls fn for every line of a .jsonl.zst file.
func ReadJSONL(path string, fn func(line []byte) error) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()

	dec, err := zstd.NewReader(f)
	if err != nil {
		return err
	}
	defer dec.Close()

	r := bufio.NewReaderSize(dec, 1<<20)
	for {
		line, err := r.ReadBytes('\n')
		if len(line) > 1 {
			if ferr := fn(line[:len(line)-1]); ferr != nil {
				return ferr
			}
		}
		if err == io.EOF {
			return nil
		}
		if err != nil {
			return err
		}
	}
}
