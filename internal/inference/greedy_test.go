package inference

import (
	"math"
	"math/rand"
	"testing"

	"github.com/bits-and-blooms/bitset"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Adithya-Monish-Kumar-K/Sequence-Mining-Platform/internal/cache"
	"github.com/Adithya-Monish-Kumar-K/Sequence-Mining-Platform/internal/sequence"
)

func seq(items ...sequence.Item) sequence.Sequence {
	return sequence.New(items...)
}

func newCache(items ...sequence.Item) *cache.Cache {
	return cache.New(sequence.NewTransaction("t", items))
}

// assertValidCovering replays the instances of cov in selection order and
// checks that they are placed disjointly and together claim every position
// of c's transaction.
func assertValidCovering(t *testing.T, c *cache.Cache, cov *cache.Covering) {
	t.Helper()
	tx := c.Transaction()
	claimed := bitset.New(uint(tx.Len()))
	for _, s := range cov.Instances() {
		covered := tx.Covered(s, claimed)
		require.Equal(t, uint(s.Len()), covered.Count(), "instance of %s could not be placed", s)
		require.Zero(t, claimed.IntersectionCardinality(covered))
		claimed.InPlaceUnion(covered)
	}
	assert.Equal(t, uint(tx.Len()), claimed.Count(), "every position must be covered")
	assert.Equal(t, tx.Len(), cov.ItemCount(), "no position may be covered twice")
}

func TestGreedy_DisjointGeneratorsCoverTransaction(t *testing.T) {
	c := newCache(1, 2, 3)
	c.Put(seq(1, 2), cache.Table{1: 0.5})
	c.Put(seq(3), cache.Table{1: 0.8})

	cov := NewGreedy(0).Infer(c)

	assert.Equal(t, map[sequence.Sequence]int{seq(1, 2): 1, seq(3): 1}, cov.Counts())
	assertValidCovering(t, c, cov)
}

func TestGreedy_EmptyCacheFallsBackToSingletons(t *testing.T) {
	c := newCache(5)

	cov := NewGreedy(0).Infer(c)

	assert.Equal(t, map[sequence.Sequence]int{seq(5): 1}, cov.Counts())
}

func TestGreedy_EmptyCacheLongTransaction(t *testing.T) {
	c := newCache(4, 4, 7, 1)

	cov := NewGreedy(0).Infer(c)

	assert.Equal(t, map[sequence.Sequence]int{seq(4): 2, seq(7): 1, seq(1): 1}, cov.Counts())
	assertValidCovering(t, c, cov)
}

func TestGreedy_EmptyTransaction(t *testing.T) {
	c := newCache()
	cov := NewGreedy(0).Infer(c)
	assert.Zero(t, cov.Size())
}

func TestGreedy_ZeroProbabilitySingletonsUseFallback(t *testing.T) {
	c := newCache(1, 2)
	c.AddCandidate(seq(1), 0)
	c.AddCandidate(seq(2), 0)

	cov := NewGreedy(0).Infer(c)

	assert.Equal(t, map[sequence.Sequence]int{seq(1): 1, seq(2): 1}, cov.Counts())
}

func TestGreedy_PrefersCheaperPerItem(t *testing.T) {
	c := newCache(1, 2)
	c.AddCandidate(seq(1), 0.1)
	c.AddCandidate(seq(2), 0.1)
	c.AddCandidate(seq(1, 2), 0.9)

	cov := NewGreedy(0).Infer(c)

	assert.Equal(t, map[sequence.Sequence]int{seq(1, 2): 1}, cov.Counts())
}

func TestGreedy_TiesGoToFirstCachedGenerator(t *testing.T) {
	c := newCache(1, 2)
	c.AddCandidate(seq(2), 0.5)
	c.AddCandidate(seq(1), 0.5)

	cov := NewGreedy(0).Infer(c)

	// Both singletons cost the same for the first pick; [2] is cached first.
	assert.Equal(t, []sequence.Sequence{seq(2), seq(1)}, cov.Distinct())
}

func TestGreedy_FlatGeneratorUsedAtMostOnce(t *testing.T) {
	c := newCache(1, 2, 1, 2)
	c.AddCandidate(seq(1, 2), 0.9)
	c.AddCandidate(seq(1), 0.5)
	c.AddCandidate(seq(2), 0.5)

	cov := NewGreedy(0).Infer(c)

	// A flat table has no mass at multiplicity 2, so the second instance is
	// impossible and the rest is explained by singletons.
	assert.Equal(t, 1, cov.Count(seq(1, 2)))
	assert.Equal(t, 1, cov.Count(seq(1)))
	assert.Equal(t, 1, cov.Count(seq(2)))
	assertValidCovering(t, c, cov)
}

func TestGreedy_MultiplicityTableAllowsRepeats(t *testing.T) {
	c := newCache(1, 2, 1, 2)
	c.Put(seq(1, 2), cache.Table{0: 0.2, 1: 0.3, 2: 0.5})
	c.AddCandidate(seq(1), 0.1)
	c.AddCandidate(seq(2), 0.1)

	cov := NewGreedy(0).Infer(c)

	assert.Equal(t, map[sequence.Sequence]int{seq(1, 2): 2}, cov.Counts())
}

func TestGreedy_InteriorZeroIsSmoothed(t *testing.T) {
	g := NewGreedy(1e-8)
	e := cache.Entry{Seq: seq(1), Table: cache.Table{0: 0.5, 1: 0, 2: 0.5}}

	cost := g.marginalCost(e, 0, 0)
	assert.False(t, math.IsInf(cost, 0), "zero at k=1 below mass at k=2 must be smoothed")
	assert.InDelta(t, -math.Log(1e-8)+math.Log(0.5), cost, 1e-9)

	cost = g.marginalCost(e, 2, 0)
	assert.True(t, math.IsInf(cost, 1), "tail zero at k=3 is genuinely impossible")
}

func TestGreedy_DefaultFloor(t *testing.T) {
	assert.Equal(t, cache.DefaultSmoothingFloor, NewGreedy(0).floor)
	assert.Equal(t, 1e-5, NewGreedy(1e-5).floor)
}

func TestGreedy_RandomCachesAlwaysProduceValidCoverings(t *testing.T) {
	rng := rand.New(rand.NewSource(7))
	g := NewGreedy(0)
	for trial := 0; trial < 200; trial++ {
		items := make([]sequence.Item, 1+rng.Intn(12))
		for i := range items {
			items[i] = sequence.Item(rng.Intn(4))
		}
		c := newCache(items...)
		for j := 0; j < rng.Intn(6); j++ {
			gen := make([]sequence.Item, 1+rng.Intn(3))
			for i := range gen {
				gen[i] = sequence.Item(rng.Intn(4))
			}
			s := seq(gen...)
			if !c.Transaction().Contains(s) {
				continue
			}
			if rng.Intn(2) == 0 {
				c.AddCandidate(s, rng.Float64())
			} else {
				c.Put(s, cache.Table{0: rng.Float64(), 1: 0, 2: rng.Float64()})
			}
		}

		assertValidCovering(t, c, g.Infer(c))
	}
}

func BenchmarkGreedy_Infer(b *testing.B) {
	items := make([]sequence.Item, 40)
	for i := range items {
		items[i] = sequence.Item(i % 8)
	}
	c := newCache(items...)
	for i := 0; i < 8; i++ {
		c.AddCandidate(seq(sequence.Item(i)), 0.9)
		c.AddCandidate(seq(sequence.Item(i), sequence.Item((i+1)%8)), 0.4)
	}
	g := NewGreedy(0)

	b.ReportAllocs()
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		_ = g.Infer(c)
	}
}
