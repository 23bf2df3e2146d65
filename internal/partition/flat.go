// Package partition turns a derived tree.Trie into documents for a store
// with a per-document size ceiling.
//
// Two shapes are produced. The flat shape has one document per trie node and
// is naturally small. The nested shape has one document per first move with
// the whole subtree inline, and is truncated when it outgrows the budget.
package partition

import (
	"errors"

	"github.com/freeeve/openingtree/internal/graph"
	"github.com/freeeve/openingtree/internal/tree"
)

// ErrNotDerived is returned when a trie is partitioned before Derive ran.
var ErrNotDerived = errors.New("partition: trie not derived")

// OpeningNamer names the opening reached by a move sequence.
type OpeningNamer interface {
	Name(moves []string) (eco, name string, ok bool)
}

// NextMove is one ranked continuation inside a flat document.
type NextMove struct {
	Name       string `json:"name"`
	WhiteWin   uint64 `json:"white_win"`
	Draw       uint64 `json:"draw"`
	BlackWin   uint64 `json:"black_win"`
	TotalGames uint64 `json:"total_games"`
}

// FlatDoc describes a single move sequence.
type FlatDoc struct {
	ID           string     `json:"id"`
	MoveSequence []string   `json:"move_sequence"`
	Depth        int        `json:"depth"`
	WhiteWin     uint64     `json:"white_win"`
	Draw         uint64     `json:"draw"`
	BlackWin     uint64     `json:"black_win"`
	TotalGames   uint64     `json:"total_games"`
	WhiteWinRate float64    `json:"white_win_rate"`
	DrawRate     float64    `json:"draw_rate"`
	BlackWinRate float64    `json:"black_win_rate"`
	NextMoves    []NextMove `json:"next_moves"`
	ECO          string     `json:"eco,omitempty"`
	Opening      string     `json:"opening,omitempty"`
}

// DocumentID implements sink.Document.
func (d FlatDoc) DocumentID() string { return d.ID }

// FlatOptions configures Flat.
type FlatOptions struct {
	Separator string       // joins moves into ids, default "_"
	Namer     OpeningNamer // optional ECO annotation
}

// Flat emits one document per node that has games, in depth-first order
// starting at the root. An error from emit stops the walk and is returned.
func Flat(t *tree.Trie, opts FlatOptions, emit func(FlatDoc) error) error {
	if !t.Derived() {
		return ErrNotDerived
	}
	sep := opts.Separator
	if sep == "" {
		sep = graph.DefaultSeparator
	}

	return t.Walk(func(i int) error {
		n := t.Node(i)
		total := n.Counts.Total()
		if total == 0 {
			return nil
		}

		seq := t.Sequence(i)
		doc := FlatDoc{
			ID:           graph.SequenceID(seq, sep),
			MoveSequence: seq,
			Depth:        n.Depth,
			WhiteWin:     n.Counts.WhiteWin,
			Draw:         n.Counts.Draw,
			BlackWin:     n.Counts.BlackWin,
			TotalGames:   total,
			WhiteWinRate: n.Rates.WhiteWin,
			DrawRate:     n.Rates.Draw,
			BlackWinRate: n.Rates.BlackWin,
			NextMoves:    make([]NextMove, 0, len(n.Ranked)),
		}
		for _, c := range n.Ranked {
			doc.NextMoves = append(doc.NextMoves, NextMove{
				Name:       c.Move,
				WhiteWin:   c.Counts.WhiteWin,
				Draw:       c.Counts.Draw,
				BlackWin:   c.Counts.BlackWin,
				TotalGames: c.Counts.Total(),
			})
		}
		if opts.Namer != nil && len(seq) > 0 {
			if code, name, ok := opts.Namer.Name(seq); ok {
				doc.ECO = code
				doc.Opening = name
			}
		}
		return emit(doc)
	})
}
