// Package source reads game records from CSV, JSON lines or PGN files.
// Files ending in .zst are decompressed transparently.
package source

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/klauspost/compress/zstd"
)

var (
	// ErrUnknownFormat is returned when the format is neither given nor
	// recognizable from the file extension.
	ErrUnknownFormat = errors.New("unknown source format")
	// ErrMissingColumn is returned when a CSV header has no moves column.
	ErrMissingColumn = errors.New("missing column")
	// ErrMalformed marks a single record that could not be decoded. The
	// reader can continue past it.
	ErrMalformed = errors.New("malformed record")
)

// Record is one game: a raw result and a raw move string.
type Record struct {
	Result any
	Moves  string
}

// Reader yields records until io.EOF.
type Reader interface {
	Next() (Record, error)
	Close() error
}

// Format names an input format.
type Format string

const (
	FormatCSV   Format = "csv"
	FormatJSONL Format = "jsonl"
	FormatPGN   Format = "pgn"
)

// Field aliases in lookup order.
var (
	ResultFields = []string{"result", "outcome", "game_result", "Result"}
	MovesFields  = []string{"moves", "opening_moves", "first_moves", "Moves"}
)

// Options configures Open.
type Options struct {
	Format Format // empty: detect from extension
	// MaxPlies limits how many moves of a PGN game are converted to SAN.
	// 0 converts all of them.
	MaxPlies int
}

// DetectFormat guesses the format from the file name, ignoring a .zst suffix.
func DetectFormat(path string) (Format, error) {
	name := strings.ToLower(strings.TrimSuffix(path, ".zst"))
	switch filepath.Ext(name) {
	case ".csv":
		return FormatCSV, nil
	case ".jsonl", ".ndjson", ".json":
		return FormatJSONL, nil
	case ".pgn":
		return FormatPGN, nil
	}
	return "", fmt.Errorf("%w: %s", ErrUnknownFormat, filepath.Base(path))
}

// Open opens path for reading. Every check that can fail without consuming
// records (existence, permissions, compression header, CSV header) happens
// here so callers can bail out before touching any output.
func Open(path string, opts Options) (Reader, error) {
	format := opts.Format
	if format == "" {
		var err error
		if format, err = DetectFormat(path); err != nil {
			return nil, err
		}
	}

	switch format {
	case FormatCSV:
		in, err := openInput(path)
		if err != nil {
			return nil, err
		}
		r, err := newCSVReader(in)
		if err != nil {
			in.Close()
			return nil, fmt.Errorf("source %s: %w", path, err)
		}
		return r, nil
	case FormatJSONL:
		in, err := openInput(path)
		if err != nil {
			return nil, err
		}
		return newJSONLReader(in), nil
	case FormatPGN:
		// The PGN parser opens the file itself; probe it first.
		in, err := openInput(path)
		if err != nil {
			return nil, err
		}
		in.Close()
		return newPGNReader(path, opts.MaxPlies), nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownFormat, format)
	}
}

// input is a buffered, possibly decompressing, file reader.
type input struct {
	*bufio.Reader
	f   *os.File
	dec *zstd.Decoder
}

func (in *input) Close() error {
	if in.dec != nil {
		in.dec.Close()
	}
	return in.f.Close()
}

func openInput(path string) (*input, error) {
	st, err := os.Stat(path)
	if err != nil {
		return nil, fmt.Errorf("source: %w", err)
	}
	if st.IsDir() {
		return nil, fmt.Errorf("source: %s is a directory", path)
	}
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("source: %w", err)
	}

	in := &input{f: f}
	var r io.Reader = f
	if strings.HasSuffix(path, ".zst") {
		dec, err := zstd.NewReader(f)
		if err != nil {
			f.Close()
			return nil, fmt.Errorf("source: zstd reader: %w", err)
		}
		in.dec = dec
		r = dec
	}
	in.Reader = bufio.NewReaderSize(r, 1<<20)

	// Force the first read so a corrupt frame header fails here.
	if _, err := in.Peek(1); err != nil && err != io.EOF {
		in.Close()
		return nil, fmt.Errorf("source: read %s: %w", path, err)
	}
	return in, nil
}
