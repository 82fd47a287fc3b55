package em

import "github.com/Adithya-Monish-Kumar-K/Sequence-Mining-Platform/internal/sequence"

// CountSingletons returns, for every item, the number of transactions that
// contain it at least once.
func CountSingletons(txs []*sequence.Transaction) map[sequence.Sequence]int {
	counts := make(map[sequence.Sequence]int)
	seen := make(map[sequence.Item]struct{})
	for _, tx := range txs {
		clear(seen)
		for i := 0; i < tx.Len(); i++ {
			item := tx.At(i)
			if _, ok := seen[item]; ok {
				continue
			}
			seen[item] = struct{}{}
			counts[sequence.New(item)]++
		}
	}
	return counts
}
