// Package sequence defines the immutable item sequences mined by the platform
// (generators) and the observed transactions they are matched against.
package sequence

import (
	"encoding/binary"
	"fmt"
	"strconv"
	"strings"
)

// Item is a single symbol inside a sequence or transaction.
type Item int32

const itemWidth = 4

// Sequence is an immutable ordered list of items. Two sequences holding the
// same items in the same order are equal under ==, so a Sequence can be used
// directly as a map key.
type Sequence struct {
	key string
}

// New builds a Sequence from the given items.
func New(items ...Item) Sequence {
	buf := make([]byte, 0, len(items)*itemWidth)
	for _, it := range items {
		buf = binary.BigEndian.AppendUint32(buf, uint32(it))
	}
	return Sequence{key: string(buf)}
}

// Parse reads a comma- or space-separated list of integer items, e.g. "1,2,3".
func Parse(s string) (Sequence, error) {
	fields := strings.FieldsFunc(s, func(r rune) bool {
		return r == ',' || r == ' ' || r == '\t'
	})
	items := make([]Item, 0, len(fields))
	for _, f := range fields {
		v, err := strconv.ParseInt(f, 10, 32)
		if err != nil {
			return Sequence{}, fmt.Errorf("parsing item %q: %w", f, err)
		}
		items = append(items, Item(v))
	}
	return New(items...), nil
}

// Len returns the number of items.
func (s Sequence) Len() int {
	return len(s.key) / itemWidth
}

// IsEmpty reports whether the sequence has no items.
func (s Sequence) IsEmpty() bool {
	return len(s.key) == 0
}

// At returns the i-th item.
func (s Sequence) At(i int) Item {
	j := i * itemWidth
	return Item(uint32(s.key[j])<<24 | uint32(s.key[j+1])<<16 | uint32(s.key[j+2])<<8 | uint32(s.key[j+3]))
}

// Items returns a copy of the items.
func (s Sequence) Items() []Item {
	items := make([]Item, s.Len())
	for i := range items {
		items[i] = s.At(i)
	}
	return items
}

// Compare orders sequences item by item; a proper prefix sorts first.
func (s Sequence) Compare(other Sequence) int {
	n := min(s.Len(), other.Len())
	for i := 0; i < n; i++ {
		a, b := s.At(i), other.At(i)
		if a < b {
			return -1
		}
		if a > b {
			return 1
		}
	}
	switch {
	case s.Len() < other.Len():
		return -1
	case s.Len() > other.Len():
		return 1
	}
	return 0
}

// String renders the sequence as "[1 2 3]".
func (s Sequence) String() string {
	var b strings.Builder
	b.WriteByte('[')
	for i := 0; i < s.Len(); i++ {
		if i > 0 {
			b.WriteByte(' ')
		}
		b.WriteString(strconv.FormatInt(int64(s.At(i)), 10))
	}
	b.WriteByte(']')
	return b.String()
}
