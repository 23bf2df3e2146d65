package tree

import (
	"errors"
	"fmt"

	"github.com/freeeve/openingtree/internal/graph"
)

// ErrCorrupt is returned by Import for node lists that do not describe a trie.
var ErrCorrupt = errors.New("tree: corrupt node list")

// NodeRecord is the raw, pre-derive state of one node. Records are listed in
// arena order, so a parent always precedes its children.
type NodeRecord struct {
	Parent int32        `msgpack:"p"`
	Move   string       `msgpack:"m"`
	Counts graph.Counts `msgpack:"c"`
	Next   []string     `msgpack:"n"` // continuations, first-observed order
}

// Export returns the raw state of every node. Derived metrics are not
// included; an imported trie is derived again.
func (t *Trie) Export() []NodeRecord {
	out := make([]NodeRecord, len(t.nodes))
	for i := range t.nodes {
		n := &t.nodes[i]
		out[i] = NodeRecord{
			Parent: n.Parent,
			Move:   n.Move,
			Counts: n.Counts,
			Next:   append([]string(nil), n.order...),
		}
	}
	return out
}

// Import rebuilds a trie from Export output.
func Import(maxDepth int, recs []NodeRecord) (*Trie, error) {
	if len(recs) == 0 || recs[0].Parent != -1 || recs[0].Move != "" {
		return nil, fmt.Errorf("%w: missing root", ErrCorrupt)
	}
	t := New(maxDepth)
	t.nodes = make([]Node, 0, len(recs))

	for i, r := range recs {
		n := Node{Parent: r.Parent, Move: r.Move, Counts: r.Counts}
		if i != rootIndex {
			if r.Parent < 0 || int(r.Parent) >= i {
				return nil, fmt.Errorf("%w: node %d has parent %d", ErrCorrupt, i, r.Parent)
			}
			parent := &t.nodes[r.Parent]
			n.Depth = parent.Depth + 1
			if n.Depth > maxDepth {
				return nil, fmt.Errorf("%w: node %d at depth %d exceeds %d", ErrCorrupt, i, n.Depth, maxDepth)
			}
			idx, ok := parent.next[r.Move]
			if !ok {
				return nil, fmt.Errorf("%w: node %d move %q is not a continuation of %d", ErrCorrupt, i, r.Move, r.Parent)
			}
			if idx != noChild {
				return nil, fmt.Errorf("%w: duplicate node for %q under %d", ErrCorrupt, r.Move, r.Parent)
			}
			parent.next[r.Move] = int32(i)
		}
		if len(r.Next) > 0 {
			n.next = make(map[string]int32, len(r.Next))
			for _, mv := range r.Next {
				if _, dup := n.next[mv]; dup {
					return nil, fmt.Errorf("%w: node %d lists %q twice", ErrCorrupt, i, mv)
				}
				n.next[mv] = noChild
				n.order = append(n.order, mv)
			}
		}
		t.nodes = append(t.nodes, n)
	}
	return t, nil
}
