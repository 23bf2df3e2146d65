package tree

import (
	"context"
	"sort"

	"github.com/cockroachdb/apd/v3"
	"golang.org/x/sync/errgroup"

	"github.com/freeeve/openingtree/internal/graph"
)

// Rates are rounded half-up on exact decimals, so 2/3 is 66.67 and 1/8 is
// 12.5 on every platform.
var rateContext = func() *apd.Context {
	c := apd.BaseContext.WithPrecision(34)
	c.Rounding = apd.RoundHalfUp
	return c
}()

// Percent returns 100*count/total rounded half-up to two decimals, or 0 when
// total is 0.
func Percent(count, total uint64) float64 {
	if total == 0 {
		return 0
	}

	var num, den, q apd.Decimal
	num.SetFinite(int64(count), 2) // count * 100
	den.SetFinite(int64(total), 0)
	if _, err := rateContext.Quo(&q, &num, &den); err != nil {
		return 0
	}
	if _, err := rateContext.Quantize(&q, &q, -2); err != nil {
		return 0
	}
	f, err := q.Float64()
	if err != nil {
		return 0
	}
	return f
}

// RatesOf returns the win/draw/loss percentages of c.
func RatesOf(c graph.Counts) graph.Rates {
	total := c.Total()
	return graph.Rates{
		WhiteWin: Percent(c.WhiteWin, total),
		Draw:     Percent(c.Draw, total),
		BlackWin: Percent(c.BlackWin, total),
	}
}

// derivedChunk is how many nodes a derive goroutine handles between
// cancellation checks.
const derivedChunk = 4096

// Derive seals the trie and computes rates and ranked continuations for every
// node. Each node only reads its own counts and those of its direct
// children, so the arena is split across workers without locking.
func (t *Trie) Derive(ctx context.Context, workers int) error {
	t.sealed = true
	if workers < 1 {
		workers = 1
	}

	n := len(t.nodes)
	size := (n + workers - 1) / workers
	if size < 1 {
		size = 1
	}

	g, ctx := errgroup.WithContext(ctx)
	for start := 0; start < n; start += size {
		start, end := start, min(start+size, n)
		g.Go(func() error {
			for i := start; i < end; i++ {
				if (i-start)%derivedChunk == 0 {
					if err := ctx.Err(); err != nil {
						return err
					}
				}
				t.deriveNode(i)
			}
			return nil
		})
	}
	return g.Wait()
}

func (t *Trie) deriveNode(i int) {
	n := &t.nodes[i]
	n.Rates = RatesOf(n.Counts)

	ranked := make([]Continuation, 0, len(n.order))
	for _, mv := range n.order {
		idx := n.next[mv]
		if idx == noChild {
			continue
		}
		ranked = append(ranked, Continuation{Move: mv, Counts: t.nodes[idx].Counts})
	}
	sort.SliceStable(ranked, func(a, b int) bool {
		return ranked[a].Counts.Total() > ranked[b].Counts.Total()
	})
	n.Ranked = ranked
}
