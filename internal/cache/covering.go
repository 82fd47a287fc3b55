package cache

import "github.com/Adithya-Monish-Kumar-K/Sequence-Mining-Platform/internal/sequence"

// Covering is the multiset of generator instances assigned to one
// transaction. Distinct generators are kept in first-insertion order and
// instances in the order they were added, so a covering can be replayed
// against its transaction. A nil *Covering is a valid empty covering.
type Covering struct {
	counts    map[sequence.Sequence]int
	order     []sequence.Sequence
	instances []sequence.Sequence
}

// NewCovering returns an empty covering.
func NewCovering() *Covering {
	return &Covering{counts: make(map[sequence.Sequence]int)}
}

// Add places one more instance of s.
func (c *Covering) Add(s sequence.Sequence) {
	if c.counts[s] == 0 {
		c.order = append(c.order, s)
	}
	c.counts[s]++
	c.instances = append(c.instances, s)
}

// Count returns the multiplicity of s.
func (c *Covering) Count(s sequence.Sequence) int {
	if c == nil {
		return 0
	}
	return c.counts[s]
}

// Contains reports whether s appears at least once.
func (c *Covering) Contains(s sequence.Sequence) bool {
	return c.Count(s) > 0
}

// Distinct returns the distinct generators in first-insertion order.
func (c *Covering) Distinct() []sequence.Sequence {
	if c == nil {
		return nil
	}
	out := make([]sequence.Sequence, len(c.order))
	copy(out, c.order)
	return out
}

// Instances returns every instance in the order it was added.
func (c *Covering) Instances() []sequence.Sequence {
	if c == nil {
		return nil
	}
	out := make([]sequence.Sequence, len(c.instances))
	copy(out, c.instances)
	return out
}

// Size returns the total number of instances.
func (c *Covering) Size() int {
	if c == nil {
		return 0
	}
	return len(c.instances)
}

// ItemCount returns the number of transaction items the instances claim.
func (c *Covering) ItemCount() int {
	if c == nil {
		return 0
	}
	n := 0
	for s, k := range c.counts {
		n += s.Len() * k
	}
	return n
}

// Counts returns a copy of the generator → multiplicity map.
func (c *Covering) Counts() map[sequence.Sequence]int {
	out := make(map[sequence.Sequence]int)
	if c == nil {
		return out
	}
	for s, k := range c.counts {
		out[s] = k
	}
	return out
}

// Equal reports whether both coverings hold the same generators with the
// same multiplicities.
func (c *Covering) Equal(other *Covering) bool {
	if c.Size() != other.Size() || len(c.Distinct()) != len(other.Distinct()) {
		return false
	}
	for _, s := range c.Distinct() {
		if c.Count(s) != other.Count(s) {
			return false
		}
	}
	return true
}
