// Package dictionary turns mined generator probabilities into a ranked
// dictionary and moves it between the miner and its consumers: Postgres
// snapshots, a Redis read cache, Kafka publication, and an HTTP API.
package dictionary

import (
	"cmp"
	"slices"
	"time"

	"github.com/Adithya-Monish-Kumar-K/Sequence-Mining-Platform/internal/cache"
	"github.com/Adithya-Monish-Kumar-K/Sequence-Mining-Platform/internal/sequence"
)

// Entry is one generator of the mined dictionary.
type Entry struct {
	Sequence    []int32 `json:"sequence"`
	Probability float64 `json:"probability"`
}

// Snapshot is a dictionary together with the run that produced it.
type Snapshot struct {
	ID           string    `json:"id"`
	RunID        string    `json:"runId"`
	CreatedAt    time.Time `json:"createdAt"`
	Transactions int       `json:"transactions"`
	Iterations   int       `json:"iterations"`
	AverageCost  float64   `json:"averageCost"`
	Converged    bool      `json:"converged"`
	Entries      []Entry   `json:"entries"`
}

// Build returns the generators whose probability is positive and at least
// minProbability, ordered by probability descending, then longer sequences
// first, then lexicographically.
func Build(probs cache.Probabilities, minProbability float64) []Entry {
	type ranked struct {
		seq sequence.Sequence
		p   float64
	}
	kept := make([]ranked, 0, len(probs))
	for s, p := range probs {
		if p <= 0 || p < minProbability {
			continue
		}
		kept = append(kept, ranked{seq: s, p: p})
	}
	slices.SortFunc(kept, func(a, b ranked) int {
		if c := cmp.Compare(b.p, a.p); c != 0 {
			return c
		}
		if c := cmp.Compare(b.seq.Len(), a.seq.Len()); c != 0 {
			return c
		}
		return a.seq.Compare(b.seq)
	})

	entries := make([]Entry, len(kept))
	for i, r := range kept {
		items := r.seq.Items()
		ints := make([]int32, len(items))
		for j, it := range items {
			ints[j] = int32(it)
		}
		entries[i] = Entry{Sequence: ints, Probability: r.p}
	}
	return entries
}

// Filter returns the entries with probability at least minProbability,
// keeping at most limit of them when limit is positive.
func Filter(entries []Entry, minProbability float64, limit int) []Entry {
	out := make([]Entry, 0, len(entries))
	for _, e := range entries {
		if e.Probability < minProbability {
			continue
		}
		out = append(out, e)
		if limit > 0 && len(out) == limit {
			break
		}
	}
	return out
}
