// Package tree aggregates game outcomes into a depth-bounded trie keyed by
// move sequences.
//
// Nodes live in an arena and reference each other by index. A node is
// created the first time its sequence is reached and is only ever mutated by
// counter increments and continuation inserts. Once Derive runs the trie is
// sealed and read-only.
package tree

import (
	"github.com/freeeve/openingtree/internal/graph"
)

const (
	rootIndex = 0
	noChild   = -1 // continuation seen at max depth, no node behind it
)

// Continuation is one ranked follow-up move with its aggregate counts.
type Continuation struct {
	Move   string
	Counts graph.Counts
}

// Node aggregates every game whose move list starts with the node's sequence.
type Node struct {
	Parent int32
	Move   string // move leading here from Parent, "" for root
	Depth  int
	Counts graph.Counts

	next  map[string]int32 // continuation -> child index or noChild
	order []string         // continuations in first-observed order

	// Filled by Derive.
	Rates  graph.Rates
	Ranked []Continuation
}

// Trie is the statistical move trie. It is not safe for concurrent mutation;
// parallel ingestion uses one Trie per shard and merges them.
type Trie struct {
	maxDepth int
	nodes    []Node
	sealed   bool
}

// New returns an empty trie holding sequences up to maxDepth moves.
func New(maxDepth int) *Trie {
	if maxDepth < 0 {
		maxDepth = 0
	}
	return &Trie{
		maxDepth: maxDepth,
		nodes:    []Node{{Parent: -1}},
	}
}

// MaxDepth returns the deepest sequence length the trie stores.
func (t *Trie) MaxDepth() int { return t.maxDepth }

// Len returns the number of nodes including the root.
func (t *Trie) Len() int { return len(t.nodes) }

// Root returns the index of the root node.
func (t *Trie) Root() int { return rootIndex }

// Node returns the node at index i. The pointer is only stable while the
// trie is not being mutated.
func (t *Trie) Node(i int) *Node { return &t.nodes[i] }

// Derived reports whether Derive has run.
func (t *Trie) Derived() bool { return t.sealed }

// Ingest folds one game into the trie. It returns false, leaving the trie
// untouched, when moves is empty or the outcome is invalid.
func (t *Trie) Ingest(moves []string, outcome graph.Outcome) bool {
	if t.sealed {
		panic("tree: ingest into derived trie")
	}
	if len(moves) == 0 || !outcome.Valid() {
		return false
	}

	cur := int32(rootIndex)
	t.nodes[cur].Counts.Add(outcome)
	t.addContinuation(cur, moves[0])

	limit := min(len(moves), t.maxDepth)
	for d := 0; d < limit; d++ {
		cur = t.child(cur, moves[d])
		t.nodes[cur].Counts.Add(outcome)
		if d+1 < len(moves) {
			t.addContinuation(cur, moves[d+1])
		}
	}
	return true
}

// addContinuation records move as a continuation of node i. Inserting a
// known move is a no-op.
func (t *Trie) addContinuation(i int32, move string) {
	n := &t.nodes[i]
	if n.next == nil {
		n.next = make(map[string]int32, 4)
	}
	if _, ok := n.next[move]; ok {
		return
	}
	n.next[move] = noChild
	n.order = append(n.order, move)
}

// child locates or creates the node reached from parent by move.
// The caller guarantees the child depth does not exceed maxDepth.
func (t *Trie) child(parent int32, move string) int32 {
	t.addContinuation(parent, move)
	if idx := t.nodes[parent].next[move]; idx != noChild {
		return idx
	}

	idx := int32(len(t.nodes))
	t.nodes = append(t.nodes, Node{
		Parent: parent,
		Move:   move,
		Depth:  t.nodes[parent].Depth + 1,
	})
	t.nodes[parent].next[move] = idx
	return idx
}

// Lookup returns the index of the node for moves.
func (t *Trie) Lookup(moves []string) (int, bool) {
	if len(moves) > t.maxDepth {
		return 0, false
	}
	cur := int32(rootIndex)
	for _, mv := range moves {
		idx, ok := t.nodes[cur].next[mv]
		if !ok || idx == noChild {
			return 0, false
		}
		cur = idx
	}
	return int(cur), true
}

// ChildIndex returns the node reached from node i by move, if it exists.
func (t *Trie) ChildIndex(i int, move string) (int, bool) {
	idx, ok := t.nodes[i].next[move]
	if !ok || idx == noChild {
		return 0, false
	}
	return int(idx), true
}

// Continuations returns the distinct moves observed after node i in
// first-observed order.
func (t *Trie) Continuations(i int) []string {
	out := make([]string, len(t.nodes[i].order))
	copy(out, t.nodes[i].order)
	return out
}

// Sequence reconstructs the move sequence of node i.
func (t *Trie) Sequence(i int) []string {
	n := &t.nodes[i]
	seq := make([]string, n.Depth)
	for cur := int32(i); cur != rootIndex; cur = t.nodes[cur].Parent {
		seq[t.nodes[cur].Depth-1] = t.nodes[cur].Move
	}
	return seq
}

// Walk visits every node depth-first in pre-order, root first, children in
// first-observed order. The walk is iterative and never descends past
// MaxDepth. Returning an error from fn stops the walk.
func (t *Trie) Walk(fn func(i int) error) error {
	stack := []int32{rootIndex}
	for len(stack) > 0 {
		cur := stack[len(stack)-1]
		stack = stack[:len(stack)-1]

		if err := fn(int(cur)); err != nil {
			return err
		}

		n := &t.nodes[cur]
		if n.Depth >= t.maxDepth {
			continue
		}
		// Push in reverse so the first-observed child is visited first.
		for j := len(n.order) - 1; j >= 0; j-- {
			if idx := n.next[n.order[j]]; idx != noChild {
				stack = append(stack, idx)
			}
		}
	}
	return nil
}
