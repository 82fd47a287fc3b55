// Package inference implements the E-step decoders that infer which
// generators produced a transaction.
package inference

import (
	"math"

	"github.com/bits-and-blooms/bitset"

	"github.com/Adithya-Monish-Kumar-K/Sequence-Mining-Platform/internal/cache"
)

// Decoder infers a covering for one transaction from its cache. Decoders
// must not modify the cache; the orchestrator stores the result.
type Decoder interface {
	Infer(c *cache.Cache) *cache.Covering
}

// Greedy builds a covering one generator instance at a time, always picking
// the instance with the lowest marginal cost per newly covered item.
// Instances never overlap: every position is claimed by exactly one
// instance. Greedy is stateless and safe for concurrent use.
type Greedy struct {
	floor float64
}

// NewGreedy returns a greedy decoder that floors interior-zero multiplicity
// probabilities at floor. A non-positive floor selects
// cache.DefaultSmoothingFloor.
func NewGreedy(floor float64) *Greedy {
	if floor <= 0 {
		floor = cache.DefaultSmoothingFloor
	}
	return &Greedy{floor: floor}
}

// Infer returns a valid covering of c's transaction. When no cached
// generator can cover any remaining position, each uncovered position is
// filled with its own singleton, so the result always covers the whole
// transaction, even for an empty cache.
func (g *Greedy) Infer(c *cache.Cache) *cache.Covering {
	tx := c.Transaction()
	n := uint(tx.Len())
	covering := cache.NewCovering()
	claimed := bitset.New(n)
	entries := c.Entries()
	length := 0

	for claimed.Count() != n {
		minCostPerItem := math.Inf(1)
		best := -1
		var bestCovered *bitset.BitSet

		for i, e := range entries {
			covered := tx.Covered(e.Seq, claimed)
			if covered.None() {
				continue
			}
			costPerItem := g.marginalCost(e, covering.Count(e.Seq), length) / float64(e.Seq.Len())
			if costPerItem < minCostPerItem {
				minCostPerItem = costPerItem
				best = i
				bestCovered = covered
			}
		}

		if best < 0 {
			for pos, ok := claimed.NextClear(0); ok && pos < n; pos, ok = claimed.NextClear(pos + 1) {
				covering.Add(tx.Singleton(int(pos)))
				claimed.Set(pos)
			}
			return covering
		}

		covering.Add(entries[best].Seq)
		length += entries[best].Seq.Len()
		claimed.InPlaceUnion(bestCovered)
	}
	return covering
}

// marginalCost is f(C ∪ {s}) - f(C) for adding the (occur+1)-th instance of
// e.Seq when length items are already placed.
func (g *Greedy) marginalCost(e cache.Entry, occur, length int) float64 {
	next := e.Table.Smoothed(occur+1, g.floor)
	cur := e.Table.Smoothed(occur, g.floor)
	return -math.Log(next) + math.Log(cur) + cache.LogRange(length+1, length+e.Seq.Len())
}
