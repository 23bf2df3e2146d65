package tree

// Merge folds other into t: counts are summed per sequence and continuation
// sets are unioned. Continuations new to t are appended in other's observed
// order. Nodes of other deeper than t.MaxDepth are dropped, but their moves
// still count as continuations of t's deepest nodes.
//
// Counts and sets do not depend on merge order. other is not modified and
// must not be t.
func (t *Trie) Merge(other *Trie) {
	if t.sealed {
		panic("tree: merge into derived trie")
	}
	if other == nil || other == t {
		return
	}

	// Parents always precede their children in the arena, so a single
	// forward pass can map other's indices onto t's.
	remap := make([]int32, len(other.nodes))
	remap[rootIndex] = rootIndex

	for i := range other.nodes {
		src := &other.nodes[i]

		if i != rootIndex {
			parent := remap[src.Parent]
			if parent == noChild || t.nodes[parent].Depth >= t.maxDepth {
				remap[i] = noChild
				continue
			}
			remap[i] = t.child(parent, src.Move)
		}

		dst := remap[i]
		t.nodes[dst].Counts.Merge(src.Counts)
		for _, mv := range src.order {
			t.addContinuation(dst, mv)
		}
	}
}
