package sequence

import "github.com/bits-and-blooms/bitset"

// Transaction is one observed data point: an ordered list of items with an
// identifier from the source it was loaded from. Its content never changes
// after construction.
type Transaction struct {
	id    string
	items []Item
}

// NewTransaction copies items into a new Transaction.
func NewTransaction(id string, items []Item) *Transaction {
	cp := make([]Item, len(items))
	copy(cp, items)
	return &Transaction{id: id, items: cp}
}

// ID returns the source identifier.
func (t *Transaction) ID() string {
	return t.id
}

// Len returns the number of items in the transaction.
func (t *Transaction) Len() int {
	return len(t.items)
}

// At returns the item at position i.
func (t *Transaction) At(i int) Item {
	return t.items[i]
}

// Items returns a copy of the transaction's items.
func (t *Transaction) Items() []Item {
	cp := make([]Item, len(t.items))
	copy(cp, t.items)
	return cp
}

// Contains reports whether s occurs in t as a (not necessarily contiguous)
// subsequence.
func (t *Transaction) Contains(s Sequence) bool {
	if s.IsEmpty() {
		return false
	}
	j := 0
	for _, it := range t.items {
		if it == s.At(j) {
			j++
			if j == s.Len() {
				return true
			}
		}
	}
	return false
}

// Covered returns the positions s would newly cover in t, given the positions
// already claimed. Items of s are matched left to right against the earliest
// unclaimed positions holding them. If s cannot be matched completely the
// result is empty: a generator instance covers all of its items or none.
// A nil claimed set means nothing is claimed yet.
func (t *Transaction) Covered(s Sequence, claimed *bitset.BitSet) *bitset.BitSet {
	covered := bitset.New(uint(len(t.items)))
	if s.IsEmpty() {
		return covered
	}
	pos := 0
	for i := 0; i < s.Len(); i++ {
		want := s.At(i)
		for pos < len(t.items) && (t.items[pos] != want || isClaimed(claimed, pos)) {
			pos++
		}
		if pos == len(t.items) {
			return covered.ClearAll()
		}
		covered.Set(uint(pos))
		pos++
	}
	return covered
}

// Singleton returns the one-item generator for the item at position i.
func (t *Transaction) Singleton(i int) Sequence {
	return New(t.items[i])
}

func isClaimed(claimed *bitset.BitSet, pos int) bool {
	return claimed != nil && claimed.Test(uint(pos))
}
