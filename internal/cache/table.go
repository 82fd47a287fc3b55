package cache

import (
	"math"

	"github.com/Adithya-Monish-Kumar-K/Sequence-Mining-Platform/internal/sequence"
)

// DefaultSmoothingFloor replaces a zero probability that sits below an
// observed higher multiplicity. It is far below 1/N for any realistic corpus
// size N, so a smoothed multiplicity always costs more than an observed one.
const DefaultSmoothingFloor = 1e-10

// Table maps a multiplicity k to the probability that a transaction holds
// exactly k disjoint instances of a generator. Missing entries are zero.
// Tables are treated as values: once installed in a cache they are never
// mutated, only replaced.
type Table map[int]float64

// Probabilities is the corpus-wide generator → presence probability map
// produced by every M-step.
type Probabilities map[sequence.Sequence]float64

// Distribution is the corpus-wide generator → multiplicity table map.
type Distribution map[sequence.Sequence]Table

// Flat returns the two-point table {0: 1-p, 1: p} for a present/absent
// probability p.
func Flat(p float64) Table {
	return Table{0: 1 - p, 1: p}
}

// At returns the probability of multiplicity k.
func (t Table) At(k int) float64 {
	return t[k]
}

// Presence returns the probability of at least one instance.
func (t Table) Presence() float64 {
	var p float64
	for k, v := range t {
		if k >= 1 {
			p += v
		}
	}
	return p
}

// Smoothed returns the probability of multiplicity k, substituting floor
// when that probability is zero but some higher multiplicity has mass.
// Zeros in the tail (nothing observed above k) are returned unchanged.
func (t Table) Smoothed(k int, floor float64) float64 {
	p := t[k]
	if p == 0 && t.hasMassAbove(k) {
		return floor
	}
	return p
}

func (t Table) hasMassAbove(k int) bool {
	for m, v := range t {
		if m > k && v != 0 {
			return true
		}
	}
	return false
}

// LogRange returns log(a) + log(a+1) + ... + log(b), or 0 when a > b.
func LogRange(a, b int) float64 {
	var sum float64
	for i := a; i <= b; i++ {
		sum += math.Log(float64(i))
	}
	return sum
}

// orderingPenalty is the log of the number of ways to interleave size new
// items with l already placed ones: log C(l+size, size).
func orderingPenalty(l, size int) float64 {
	return LogRange(l+1, l+size) - LogRange(1, size)
}
