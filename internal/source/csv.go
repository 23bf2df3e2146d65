package source

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"strings"
)

type csvReader struct {
	in     *input
	r      *csv.Reader
	result []int // column indexes in alias order
	moves  []int
}

func newCSVReader(in *input) (*csvReader, error) {
	r := csv.NewReader(in)
	r.FieldsPerRecord = -1
	r.LazyQuotes = true
	r.ReuseRecord = true

	header, err := r.Read()
	if err == io.EOF {
		return nil, fmt.Errorf("%w: empty file, no header", ErrMissingColumn)
	}
	if err != nil {
		return nil, fmt.Errorf("read header: %w", err)
	}
	if len(header) > 0 {
		header[0] = strings.TrimPrefix(header[0], "\ufeff")
	}

	c := &csvReader{
		in:     in,
		r:      r,
		result: columns(header, ResultFields),
		moves:  columns(header, MovesFields),
	}
	if len(c.moves) == 0 {
		return nil, fmt.Errorf("%w: none of %v in header", ErrMissingColumn, MovesFields)
	}
	return c, nil
}

// columns returns the indexes of the aliases present in header.
func columns(header, aliases []string) []int {
	var out []int
	for _, a := range aliases {
		for i, h := range header {
			if h == a {
				out = append(out, i)
				break
			}
		}
	}
	return out
}

// pick returns the first non-empty value among cols.
func pick(row []string, cols []int) string {
	for _, i := range cols {
		if i < len(row) && row[i] != "" {
			return row[i]
		}
	}
	return ""
}

func (c *csvReader) Next() (Record, error) {
	row, err := c.r.Read()
	if err != nil {
		var perr *csv.ParseError
		if errors.As(err, &perr) {
			return Record{}, fmt.Errorf("%w: %v", ErrMalformed, err)
		}
		return Record{}, err
	}

	return Record{Result: pick(row, c.result), Moves: pick(row, c.moves)}, nil
}

func (c *csvReader) Close() error { return c.in.Close() }
