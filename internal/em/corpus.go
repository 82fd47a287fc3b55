package em

import (
	"fmt"

	"github.com/Adithya-Monish-Kumar-K/Sequence-Mining-Platform/internal/cache"
	"github.com/Adithya-Monish-Kumar-K/Sequence-Mining-Platform/internal/sequence"
	apperrors "github.com/Adithya-Monish-Kumar-K/Sequence-Mining-Platform/pkg/errors"
)

// Corpus is a transaction database together with the per-transaction model
// state. It remembers the candidate of the latest structural trial so that an
// acceptance can be checked against it.
type Corpus struct {
	caches   []*cache.Cache
	trial    sequence.Sequence
	trialled bool
}

// NewCorpus wraps txs in a corpus with one empty cache per transaction.
func NewCorpus(txs []*sequence.Transaction) (*Corpus, error) {
	if len(txs) == 0 {
		return nil, apperrors.ErrEmptyCorpus
	}
	caches := make([]*cache.Cache, len(txs))
	for i, tx := range txs {
		if tx.Len() == 0 {
			return nil, fmt.Errorf("transaction %q: %w", tx.ID(), apperrors.ErrEmptyTransaction)
		}
		caches[i] = cache.New(tx)
	}
	return &Corpus{caches: caches}, nil
}

// Len returns the number of transactions.
func (c *Corpus) Len() int {
	if c == nil {
		return 0
	}
	return len(c.caches)
}

// Cache returns the cache of the i-th transaction.
func (c *Corpus) Cache(i int) *cache.Cache {
	return c.caches[i]
}

// Transactions returns the transactions in corpus order.
func (c *Corpus) Transactions() []*sequence.Transaction {
	out := make([]*sequence.Transaction, len(c.caches))
	for i, tc := range c.caches {
		out[i] = tc.Transaction()
	}
	return out
}

func (c *Corpus) markTrial(candidate sequence.Sequence) {
	c.trial = candidate
	c.trialled = true
}

func (c *Corpus) clearTrial() {
	c.trial = sequence.Sequence{}
	c.trialled = false
}

func (c *Corpus) hasTrial(candidate sequence.Sequence) bool {
	return c.trialled && c.trial == candidate
}
