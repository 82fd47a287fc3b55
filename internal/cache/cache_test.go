package cache

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Adithya-Monish-Kumar-K/Sequence-Mining-Platform/internal/sequence"
)

func seq(items ...sequence.Item) sequence.Sequence {
	return sequence.New(items...)
}

func newCache(items ...sequence.Item) *Cache {
	return New(sequence.NewTransaction("t", items))
}

func TestTable_FlatAndPresence(t *testing.T) {
	tbl := Flat(0.3)
	assert.InDelta(t, 0.7, tbl.At(0), 1e-12)
	assert.InDelta(t, 0.3, tbl.At(1), 1e-12)
	assert.InDelta(t, 0.3, tbl.Presence(), 1e-12)
	assert.Zero(t, tbl.At(5), "missing multiplicities are zero")

	multi := Table{0: 0.5, 1: 0.2, 3: 0.3}
	assert.InDelta(t, 0.5, multi.Presence(), 1e-12)
	assert.InDelta(t, 0.3, multi.At(3), 1e-12)
}

func TestTable_Smoothed(t *testing.T) {
	tbl := Table{0: 0.5, 1: 0, 2: 0.5}

	assert.Equal(t, 1e-9, tbl.Smoothed(1, 1e-9), "interior zero is floored")
	assert.Zero(t, tbl.Smoothed(3, 1e-9), "tail zero stays zero")
	assert.Equal(t, 0.5, tbl.Smoothed(2, 1e-9))

	sparse := Table{1: 0.4}
	assert.Equal(t, 1e-9, sparse.Smoothed(0, 1e-9), "missing entry below mass is floored")
	assert.Zero(t, sparse.Smoothed(2, 1e-9))
}

func TestLogRange(t *testing.T) {
	assert.InDelta(t, math.Log(6), LogRange(1, 3), 1e-12)
	assert.Zero(t, LogRange(3, 2))
	assert.InDelta(t, math.Log(10), orderingPenalty(2, 3), 1e-12, "C(5,3) = 10")
}

func TestCovering(t *testing.T) {
	cov := NewCovering()
	cov.Add(seq(1, 2))
	cov.Add(seq(3))
	cov.Add(seq(1, 2))

	assert.Equal(t, 2, cov.Count(seq(1, 2)))
	assert.True(t, cov.Contains(seq(3)))
	assert.False(t, cov.Contains(seq(4)))
	assert.Equal(t, []sequence.Sequence{seq(1, 2), seq(3)}, cov.Distinct())
	assert.Equal(t, 3, cov.Size())
	assert.Equal(t, 5, cov.ItemCount())
	assert.Equal(t, []sequence.Sequence{seq(1, 2), seq(3), seq(1, 2)}, cov.Instances())

	other := NewCovering()
	other.Add(seq(3))
	other.Add(seq(1, 2))
	other.Add(seq(1, 2))
	assert.True(t, cov.Equal(other))

	var empty *Covering
	assert.Zero(t, empty.Count(seq(1)))
	assert.Zero(t, empty.Size())
	assert.Empty(t, empty.Distinct())
	assert.True(t, empty.Equal(NewCovering()))
}

func TestCache_Initialize(t *testing.T) {
	c := newCache(3, 1, 3, 2)
	singletons := map[sequence.Sequence]int{
		seq(1): 5,
		seq(3): 2,
		seq(4): 9,
	}
	c.Initialize(singletons, 10)

	require.Equal(t, 2, c.Len(), "only contained singletons with known counts")
	entries := c.Entries()
	assert.Equal(t, seq(3), entries[0].Seq, "order of first appearance")
	assert.Equal(t, seq(1), entries[1].Seq)

	p, ok := c.Probability(seq(1))
	require.True(t, ok)
	assert.InDelta(t, 0.5, p, 1e-12)
	_, ok = c.Table(seq(2))
	assert.False(t, ok, "item 2 has no known count")
}

func TestCache_AddRemoveCandidate(t *testing.T) {
	c := newCache(1, 2, 3)
	c.AddCandidate(seq(1), 0.5)
	c.AddCandidate(seq(2), 0.5)
	c.AddCandidate(seq(3), 0.5)

	c.AddCandidate(seq(1, 2), 1.0)
	assert.Equal(t, 4, c.Len())

	c.RemoveCandidate(seq(2))
	entries := c.Entries()
	require.Len(t, entries, 3)
	assert.Equal(t, []sequence.Sequence{seq(1), seq(3), seq(1, 2)},
		[]sequence.Sequence{entries[0].Seq, entries[1].Seq, entries[2].Seq})

	tbl, ok := c.Table(seq(1, 2))
	require.True(t, ok, "index must survive removal of an earlier entry")
	assert.Equal(t, 1.0, tbl.Presence())

	c.RemoveCandidate(seq(9))
	assert.Equal(t, 3, c.Len())
}

func TestCache_PutReplacesInPlace(t *testing.T) {
	c := newCache(1, 2)
	c.AddCandidate(seq(1), 0.1)
	c.AddCandidate(seq(2), 0.2)
	c.Put(seq(1), Table{1: 0.7})

	entries := c.Entries()
	assert.Equal(t, seq(1), entries[0].Seq)
	assert.Equal(t, 0.7, entries[0].Table.Presence())
}

func TestCache_Refresh(t *testing.T) {
	c := newCache(1, 2, 3)
	c.AddCandidate(seq(1), 0.4)
	c.AddCandidate(seq(2), 0.4)
	c.AddCandidate(seq(1, 2), 0.4)
	c.AddCandidate(seq(2, 3), 0.4)

	c.Refresh(Probabilities{
		seq(1):    0.9,
		seq(1, 2): 0.25,
	})

	require.Equal(t, 3, c.Len())
	p, _ := c.Probability(seq(1))
	assert.Equal(t, 0.9, p)
	p, ok := c.Probability(seq(2))
	require.True(t, ok, "absent singleton is kept")
	assert.Zero(t, p, "absent singleton gets probability exactly zero")
	p, _ = c.Probability(seq(1, 2))
	assert.Equal(t, 0.25, p)
	_, ok = c.Table(seq(2, 3))
	assert.False(t, ok, "absent longer generator is dropped")
}

func TestCache_RefreshDistribution(t *testing.T) {
	c := newCache(1, 2, 1, 2)
	c.AddCandidate(seq(1), 0.4)
	c.AddCandidate(seq(1, 2), 0.4)
	c.AddCandidate(seq(2, 1), 0.4)

	dist := Distribution{seq(1, 2): Table{0: 0.5, 2: 0.5}}
	c.RefreshDistribution(dist)

	require.Equal(t, 2, c.Len())
	tbl, _ := c.Table(seq(1, 2))
	assert.Equal(t, 0.5, tbl.At(2))
	p, _ := c.Probability(seq(1))
	assert.Zero(t, p)
}

func TestCache_Cost(t *testing.T) {
	c := newCache(1, 2, 3)
	c.AddCandidate(seq(1, 2), 0.5)
	c.AddCandidate(seq(3), 0.8)
	c.AddCandidate(seq(1), 0.1)

	cov := NewCovering()
	cov.Add(seq(1, 2))
	cov.Add(seq(3))

	probs := Probabilities{seq(1, 2): 0.5, seq(3): 0.8, seq(1): 0.1}

	// [1 2]: -log(.5) + log C(2,2); [3]: -log(.8) + log C(3,1); [1] unused.
	want := -math.Log(0.5) + 0 +
		-math.Log(0.8) + math.Log(3) +
		-math.Log(0.9)
	assert.InDelta(t, want, c.Cost(cov, probs), 1e-12)

	c.SetCovering(cov)
	assert.InDelta(t, want, c.CachedCost(), 1e-12)
}

func TestCache_CostSkipsMissingAndZeroPresence(t *testing.T) {
	c := newCache(1, 2)
	c.AddCandidate(seq(1), 0)
	c.AddCandidate(seq(2), 0.5)

	cov := NewCovering()
	cov.Add(seq(1))
	cov.Add(seq(2))

	// [1] is used but its cached presence is exactly zero, so it pays
	// -log(1-p) under the supplied probability instead.
	got := c.Cost(cov, Probabilities{seq(1): 0.2})
	assert.InDelta(t, -math.Log(0.8), got, 1e-12)
}

func TestCache_OrderingPenaltyIsOrderIndependent(t *testing.T) {
	a := newCache(1, 2, 3, 4)
	a.AddCandidate(seq(1, 2), 0.5)
	a.AddCandidate(seq(3, 4), 0.5)

	b := newCache(1, 2, 3, 4)
	b.AddCandidate(seq(3, 4), 0.5)
	b.AddCandidate(seq(1, 2), 0.5)

	cov := NewCovering()
	cov.Add(seq(1, 2))
	cov.Add(seq(3, 4))
	probs := Probabilities{seq(1, 2): 0.5, seq(3, 4): 0.5}

	assert.InDelta(t, a.Cost(cov, probs), b.Cost(cov, probs), 1e-12)
}
