package partition

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/freeeve/openingtree/internal/graph"
	"github.com/freeeve/openingtree/internal/tree"
)

// ErrUnitTooLarge is returned when a nested document exceeds the budget even
// with every level below its first move removed.
var ErrUnitTooLarge = errors.New("partition: unit exceeds size budget at depth 0")

// Policy selects how an oversized nested document is cut down.
type Policy string

const (
	// PolicyFixed cuts to the configured reduced depth and keeps stepping
	// down one level while the document is still too large.
	PolicyFixed Policy = "fixed"
	// PolicySearch binary-searches the deepest level that fits.
	PolicySearch Policy = "search"
)

// NestedNode is one position in a nested document.
type NestedNode struct {
	WhiteWin     uint64                 `json:"white_win"`
	Draw         uint64                 `json:"draw"`
	BlackWin     uint64                 `json:"black_win"`
	WhiteWinRate float64                `json:"white_win_rate"`
	DrawRate     float64                `json:"draw_rate"`
	BlackWinRate float64                `json:"black_win_rate"`
	TotalGames   uint64                 `json:"total_games"`
	Next         map[string]*NestedNode `json:"next"`
}

// NestedDoc holds the subtree below one first move.
type NestedDoc struct {
	ID        string      `json:"id"`
	FirstMove string      `json:"first_move"`
	Depth     int         `json:"depth"` // levels kept below the first move
	Truncated bool        `json:"truncated"`
	Data      *NestedNode `json:"data"`
}

// DocumentID implements sink.Document.
func (d NestedDoc) DocumentID() string { return d.ID }

// Bounds limits nested documents.
type Bounds struct {
	Budget       int // max serialized bytes, <= 0 disables the check
	ReducedDepth int
	Policy       Policy
}

// NestedOptions configures Nested.
type NestedOptions struct {
	Separator string
	Bounds    Bounds
}

// Nested emits one document per first move, most popular first. Documents
// over budget are truncated before being emitted.
func Nested(t *tree.Trie, opts NestedOptions, emit func(NestedDoc) error) error {
	if !t.Derived() {
		return ErrNotDerived
	}
	sep := opts.Separator
	if sep == "" {
		sep = graph.DefaultSeparator
	}

	root := t.Node(t.Root())
	for _, c := range root.Ranked {
		idx, ok := t.ChildIndex(t.Root(), c.Move)
		if !ok {
			continue
		}
		data := buildNested(t, idx, t.MaxDepth()-1)
		doc := NestedDoc{
			ID:        graph.SequenceID([]string{c.Move}, sep),
			FirstMove: c.Move,
			Depth:     height(data, t.MaxDepth()),
			Data:      data,
		}

		bounded, err := BoundSubtree(doc, opts.Bounds)
		if err != nil {
			return fmt.Errorf("first move %s: %w", c.Move, err)
		}
		if err := emit(bounded); err != nil {
			return err
		}
	}
	return nil
}

// buildNested copies the subtree at idx, descending at most levels more.
func buildNested(t *tree.Trie, idx, levels int) *NestedNode {
	n := t.Node(idx)
	out := &NestedNode{
		WhiteWin:     n.Counts.WhiteWin,
		Draw:         n.Counts.Draw,
		BlackWin:     n.Counts.BlackWin,
		WhiteWinRate: n.Rates.WhiteWin,
		DrawRate:     n.Rates.Draw,
		BlackWinRate: n.Rates.BlackWin,
		TotalGames:   n.Counts.Total(),
		Next:         make(map[string]*NestedNode, len(n.Ranked)),
	}
	if levels <= 0 {
		return out
	}
	for _, c := range n.Ranked {
		if child, ok := t.ChildIndex(idx, c.Move); ok {
			out.Next[c.Move] = buildNested(t, child, levels-1)
		}
	}
	return out
}

// height returns how many levels hang below n, looking at most limit deep.
func height(n *NestedNode, limit int) int {
	if n == nil || limit <= 0 || len(n.Next) == 0 {
		return 0
	}
	h := 0
	for _, child := range n.Next {
		h = max(h, height(child, limit-1))
	}
	return h + 1
}

// TruncateDepth returns a copy of n keeping at most levels levels below it.
// Nodes at the cut keep their own counts and rates with no continuations.
func TruncateDepth(n *NestedNode, levels int) *NestedNode {
	if n == nil {
		return nil
	}
	out := *n
	out.Next = make(map[string]*NestedNode, len(n.Next))
	if levels <= 0 {
		return &out
	}
	for mv, child := range n.Next {
		out.Next[mv] = TruncateDepth(child, levels-1)
	}
	return &out
}

// Size returns the serialized size of doc in bytes.
func Size(doc NestedDoc) (int, error) {
	b, err := json.Marshal(doc)
	if err != nil {
		return 0, err
	}
	return len(b), nil
}

// BoundSubtree returns doc unchanged when it fits the budget, otherwise a
// truncated copy that does. The first-move node's own counts are never
// touched.
func BoundSubtree(doc NestedDoc, b Bounds) (NestedDoc, error) {
	if b.Budget <= 0 {
		return doc, nil
	}
	size, err := Size(doc)
	if err != nil {
		return doc, err
	}
	if size <= b.Budget {
		return doc, nil
	}

	cut := func(levels int) (NestedDoc, bool, error) {
		out := doc
		out.Data = TruncateDepth(doc.Data, levels)
		out.Depth = height(out.Data, levels)
		out.Truncated = true
		size, err := Size(out)
		if err != nil {
			return out, false, err
		}
		return out, size <= b.Budget, nil
	}

	top := doc.Depth - 1
	if b.Policy == PolicySearch {
		best, fits, err := cut(0)
		if err != nil {
			return doc, err
		}
		if !fits {
			return doc, ErrUnitTooLarge
		}
		lo, hi := 1, top
		for lo <= hi {
			mid := (lo + hi) / 2
			cand, fits, err := cut(mid)
			if err != nil {
				return doc, err
			}
			if fits {
				best = cand
				lo = mid + 1
			} else {
				hi = mid - 1
			}
		}
		return best, nil
	}

	start := min(max(b.ReducedDepth, 0), top)
	for levels := start; levels >= 0; levels-- {
		cand, fits, err := cut(levels)
		if err != nil {
			return doc, err
		}
		if fits {
			return cand, nil
		}
	}
	return doc, ErrUnitTooLarge
}
