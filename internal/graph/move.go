package graph

import (
	"encoding/json"
	"fmt"
	"math"
	"regexp"
	"strconv"
	"strings"
)

// RootID identifies the empty move sequence.
const RootID = "root"

// DefaultSeparator joins move tokens into a sequence id.
const DefaultSeparator = "_"

// ParseMoves splits a raw move payload into tokens.
// Accepted forms:
//   - list literal: ["e4", "e5"] or ['e4','e5'] or [e4, e5]
//   - whitespace separated: e4 e5 Nf3
//
// Tokens are opaque; chess legality is not checked.
func ParseMoves(raw string) []string {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil
	}

	if strings.HasPrefix(raw, "[") && strings.HasSuffix(raw, "]") {
		parts := strings.Split(raw[1:len(raw)-1], ",")
		moves := make([]string, 0, len(parts))
		for _, p := range parts {
			p = strings.Trim(strings.TrimSpace(p), `"'`)
			p = strings.TrimSpace(p)
			if p == "" {
				continue
			}
			moves = append(moves, p)
		}
		return moves
	}

	return strings.Fields(raw)
}

// NormalizeResult maps a raw result value to an Outcome.
// Numbers are truncated to integers: 1 -> WhiteWin, -1 -> BlackWin, 0 -> Draw.
// Strings are trimmed and read the same way; PGN results ("1-0", "0-1",
// "1/2-1/2") are accepted too. Anything else is Invalid.
func NormalizeResult(raw any) Outcome {
	switch v := raw.(type) {
	case nil:
		return Invalid
	case string:
		return outcomeFromString(v)
	case json.Number:
		f, err := v.Float64()
		if err != nil || f != math.Trunc(f) {
			return Invalid
		}
		return outcomeFromFloat(f)
	case int:
		return outcomeFromInt(int64(v))
	case int8:
		return outcomeFromInt(int64(v))
	case int16:
		return outcomeFromInt(int64(v))
	case int32:
		return outcomeFromInt(int64(v))
	case int64:
		return outcomeFromInt(v)
	case uint:
		return outcomeFromUint(uint64(v))
	case uint8:
		return outcomeFromUint(uint64(v))
	case uint16:
		return outcomeFromUint(uint64(v))
	case uint32:
		return outcomeFromUint(uint64(v))
	case uint64:
		return outcomeFromUint(v)
	case float32:
		return outcomeFromFloat(float64(v))
	case float64:
		return outcomeFromFloat(v)
	default:
		return Invalid
	}
}

func outcomeFromString(s string) Outcome {
	s = strings.TrimSpace(s)
	switch s {
	case "1", "1-0":
		return WhiteWin
	case "-1", "0-1":
		return BlackWin
	case "0", "1/2-1/2":
		return Draw
	}
	// "1.0", "-1.0", "0.0" and friends; "0.5", "+1" and "1e0" are not results
	if plainResult.MatchString(s) {
		if f, err := strconv.ParseFloat(s, 64); err == nil {
			return outcomeFromFloat(f)
		}
	}
	return Invalid
}

var plainResult = regexp.MustCompile(`^-?\d+(\.0+)?$`)

func outcomeFromInt(n int64) Outcome {
	switch n {
	case 1:
		return WhiteWin
	case -1:
		return BlackWin
	case 0:
		return Draw
	default:
		return Invalid
	}
}

func outcomeFromUint(n uint64) Outcome {
	if n > 1 {
		return Invalid
	}
	return outcomeFromInt(int64(n))
}

func outcomeFromFloat(f float64) Outcome {
	if math.IsNaN(f) || math.IsInf(f, 0) || math.Abs(f) > 2 {
		return Invalid
	}
	return outcomeFromInt(int64(f))
}

// SequenceID returns the canonical id of a move sequence: RootID for the
// empty sequence, otherwise the moves joined by sep. '%' and sep inside a
// token are percent-encoded, as is the first byte of a lone move spelled
// RootID, so distinct sequences never share an id. sep must satisfy
// ValidSeparator.
func SequenceID(moves []string, sep string) string {
	if len(moves) == 0 {
		return RootID
	}
	if sep == "" {
		sep = DefaultSeparator
	}
	if len(moves) == 1 && moves[0] == RootID {
		return percentEncode(RootID[:1]) + RootID[1:]
	}
	escaped := make([]string, len(moves))
	for i, m := range moves {
		escaped[i] = escapeToken(m, sep)
	}
	return strings.Join(escaped, sep)
}

func escapeToken(tok, sep string) string {
	if !strings.Contains(tok, "%") && !strings.Contains(tok, sep) {
		return tok
	}
	tok = strings.ReplaceAll(tok, "%", "%25")
	return strings.ReplaceAll(tok, sep, percentEncode(sep))
}

func percentEncode(s string) string {
	var b strings.Builder
	for i := 0; i < len(s); i++ {
		fmt.Fprintf(&b, "%%%02X", s[i])
	}
	return b.String()
}

// separatorReserved holds the bytes an id separator may not contain: the
// escape character, hex digits and the letters of RootID.
const separatorReserved = "%0123456789ABCDEFabcdef" + RootID

// ValidSeparator reports whether sep can join escaped tokens without
// ambiguity.
func ValidSeparator(sep string) bool {
	return sep != "" && !strings.ContainsAny(sep, separatorReserved)
}
