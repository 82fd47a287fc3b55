// Package cache holds the per-transaction model state used by hard EM: the
// generators a transaction can support together with their multiplicity
// tables, the transaction's inferred covering, and the temporary covering
// computed during a structural trial. It also implements the encoding-cost
// model that scores a covering.
package cache

import (
	"math"

	"github.com/Adithya-Monish-Kumar-K/Sequence-Mining-Platform/internal/sequence"
)

// Entry is one cached generator with its multiplicity table.
type Entry struct {
	Seq   sequence.Sequence
	Table Table
}

// Cache is owned by exactly one transaction and is never shared between
// goroutines working on different transactions. It is not safe for
// concurrent use.
type Cache struct {
	tx       *sequence.Transaction
	entries  []Entry
	index    map[sequence.Sequence]int
	covering *Covering
	temp     *Covering
}

// New returns an empty cache for tx.
func New(tx *sequence.Transaction) *Cache {
	return &Cache{
		tx:    tx,
		index: make(map[sequence.Sequence]int),
	}
}

// Transaction returns the transaction this cache belongs to.
func (c *Cache) Transaction() *sequence.Transaction {
	return c.tx
}

// Initialize replaces the cache content with every singleton generator the
// transaction contains whose corpus count is known, each with the flat
// probability count/total. Singletons are added in order of first
// appearance in the transaction.
func (c *Cache) Initialize(singletons map[sequence.Sequence]int, total int) {
	c.entries = c.entries[:0]
	c.index = make(map[sequence.Sequence]int)
	for i := 0; i < c.tx.Len(); i++ {
		s := c.tx.Singleton(i)
		if _, seen := c.index[s]; seen {
			continue
		}
		count, ok := singletons[s]
		if !ok {
			continue
		}
		c.Put(s, Flat(float64(count)/float64(total)))
	}
}

// Len returns the number of cached generators.
func (c *Cache) Len() int {
	return len(c.entries)
}

// Entries returns the cached generators in cache order. The slice is a copy;
// the tables are shared and must not be modified.
func (c *Cache) Entries() []Entry {
	out := make([]Entry, len(c.entries))
	copy(out, c.entries)
	return out
}

// Table returns the multiplicity table cached for s.
func (c *Cache) Table(s sequence.Sequence) (Table, bool) {
	i, ok := c.index[s]
	if !ok {
		return nil, false
	}
	return c.entries[i].Table, true
}

// Probability returns the presence probability cached for s.
func (c *Cache) Probability(s sequence.Sequence) (float64, bool) {
	t, ok := c.Table(s)
	if !ok {
		return 0, false
	}
	return t.Presence(), true
}

// Put installs t for s, replacing an existing table in place or appending a
// new entry at the end of the cache order.
func (c *Cache) Put(s sequence.Sequence, t Table) {
	if i, ok := c.index[s]; ok {
		c.entries[i].Table = t
		return
	}
	c.index[s] = len(c.entries)
	c.entries = append(c.entries, Entry{Seq: s, Table: t})
}

// AddCandidate caches s with the flat probability p.
func (c *Cache) AddCandidate(s sequence.Sequence, p float64) {
	c.Put(s, Flat(p))
}

// RemoveCandidate drops s from the cache, keeping the order of the others.
func (c *Cache) RemoveCandidate(s sequence.Sequence) {
	i, ok := c.index[s]
	if !ok {
		return
	}
	c.entries = append(c.entries[:i], c.entries[i+1:]...)
	c.reindex()
}

// Refresh installs new corpus probabilities. Generators present in probs get
// the flat table for their new probability. Absent singletons are kept with
// probability exactly zero so an incomplete covering can still fall back to
// them; absent longer generators are dropped.
func (c *Cache) Refresh(probs Probabilities) {
	c.refresh(func(s sequence.Sequence) (Table, bool) {
		p, ok := probs[s]
		if !ok {
			return nil, false
		}
		return Flat(p), true
	})
}

// RefreshDistribution is Refresh for full multiplicity tables.
func (c *Cache) RefreshDistribution(dist Distribution) {
	c.refresh(func(s sequence.Sequence) (Table, bool) {
		t, ok := dist[s]
		return t, ok
	})
}

func (c *Cache) refresh(lookup func(sequence.Sequence) (Table, bool)) {
	kept := c.entries[:0]
	for _, e := range c.entries {
		if t, ok := lookup(e.Seq); ok {
			e.Table = t
		} else if e.Seq.Len() == 1 {
			e.Table = Flat(0)
		} else {
			continue
		}
		kept = append(kept, e)
	}
	for i := len(kept); i < len(c.entries); i++ {
		c.entries[i] = Entry{}
	}
	c.entries = kept
	c.reindex()
}

func (c *Cache) reindex() {
	c.index = make(map[sequence.Sequence]int, len(c.entries))
	for i, e := range c.entries {
		c.index[e.Seq] = i
	}
}

// Covering returns the stored covering (nil before the first E-step).
func (c *Cache) Covering() *Covering {
	return c.covering
}

// SetCovering replaces the stored covering.
func (c *Cache) SetCovering(cov *Covering) {
	c.covering = cov
}

// TempCovering returns the covering computed by the latest structural trial.
func (c *Cache) TempCovering() *Covering {
	return c.temp
}

// SetTempCovering replaces the temporary covering.
func (c *Cache) SetTempCovering(cov *Covering) {
	c.temp = cov
}

// Cost returns the encoding cost of cov under probs. Generators missing from
// probs are skipped. A cached generator that is used by cov, and whose cached
// presence probability is not exactly zero, pays -log(p) plus the ordering
// penalty for interleaving its items with those already counted; every other
// cached generator pays -log(1-p).
func (c *Cache) Cost(cov *Covering, probs Probabilities) float64 {
	return c.cost(cov, func(e Entry) (float64, bool) {
		p, ok := probs[e.Seq]
		return p, ok
	})
}

// CachedCost is the cost of the stored covering under the cached
// presence probabilities.
func (c *Cache) CachedCost() float64 {
	return c.cost(c.covering, func(e Entry) (float64, bool) {
		return e.Table.Presence(), true
	})
}

func (c *Cache) cost(cov *Covering, lookup func(Entry) (float64, bool)) float64 {
	var total float64
	l := 0
	for _, e := range c.entries {
		p, ok := lookup(e)
		if !ok {
			continue
		}
		if cov.Contains(e.Seq) && e.Table.Presence() != 0 {
			size := e.Seq.Len()
			total += -math.Log(p) + orderingPenalty(l, size)
			l += size
		} else {
			total += -math.Log(1 - p)
		}
	}
	return total
}
