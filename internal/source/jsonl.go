package source

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
)

type jsonlReader struct {
	in   *input
	line int
}

func newJSONLReader(in *input) *jsonlReader {
	return &jsonlReader{in: in}
}

func (j *jsonlReader) Next() (Record, error) {
	for {
		raw, err := j.in.ReadBytes('\n')
		if len(raw) == 0 && err != nil {
			return Record{}, err
		}
		j.line++
		raw = bytes.TrimSpace(raw)
		if len(raw) == 0 {
			if err == io.EOF {
				return Record{}, io.EOF
			}
			continue
		}

		dec := json.NewDecoder(bytes.NewReader(raw))
		dec.UseNumber()
		var obj map[string]any
		if derr := dec.Decode(&obj); derr != nil {
			return Record{}, fmt.Errorf("%w: line %d: %v", ErrMalformed, j.line, derr)
		}
		return Record{
			Result: firstField(obj, ResultFields),
			Moves:  movesString(firstField(obj, MovesFields)),
		}, nil
	}
}

func firstField(obj map[string]any, aliases []string) any {
	for _, a := range aliases {
		if v, ok := obj[a]; ok && v != nil && v != "" {
			return v
		}
	}
	return nil
}

// movesString turns a JSON moves value into the text form the normalizer
// parses. Arrays become the bracketed list form.
func movesString(v any) string {
	switch x := v.(type) {
	case nil:
		return ""
	case string:
		return x
	case []any:
		b, err := json.Marshal(x)
		if err != nil {
			return ""
		}
		return string(b)
	default:
		return fmt.Sprint(x)
	}
}

func (j *jsonlReader) Close() error { return j.in.Close() }
