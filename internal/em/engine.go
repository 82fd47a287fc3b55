// Package em orchestrates hard expectation-maximisation over a corpus of
// transactions: the E-step decodes every transaction with a Decoder, the
// M-step turns covering counts into generator probabilities, and the
// structural step tries a candidate generator without committing it.
//
// Work is fanned out over transactions with a bounded errgroup; each worker
// accumulates partial counts that are merged by addition once every worker
// has finished. The Engine serializes generations: at most one step runs on
// a corpus at a time.
package em

import (
	"context"
	"fmt"
	"log/slog"
	"runtime"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"
	"gonum.org/v1/gonum/floats"

	"github.com/Adithya-Monish-Kumar-K/Sequence-Mining-Platform/internal/cache"
	"github.com/Adithya-Monish-Kumar-K/Sequence-Mining-Platform/internal/inference"
	"github.com/Adithya-Monish-Kumar-K/Sequence-Mining-Platform/internal/sequence"
	apperrors "github.com/Adithya-Monish-Kumar-K/Sequence-Mining-Platform/pkg/errors"
	"github.com/Adithya-Monish-Kumar-K/Sequence-Mining-Platform/pkg/logger"
	"github.com/Adithya-Monish-Kumar-K/Sequence-Mining-Platform/pkg/metrics"
)

// Trial is the outcome of a structural EM step.
type Trial struct {
	Candidate   sequence.Sequence
	AverageCost float64
	Probability float64
	Supported   int
}

// Engine runs EM steps over a Corpus.
type Engine struct {
	decoder inference.Decoder
	workers int
	metrics *metrics.Metrics
	logger  *slog.Logger
	mu      sync.Mutex
}

// Option configures an Engine.
type Option func(*Engine)

// WithWorkers bounds the number of concurrent workers. Zero or less uses
// GOMAXPROCS.
func WithWorkers(n int) Option {
	return func(e *Engine) {
		e.workers = n
	}
}

// WithMetrics records step durations and model statistics into m.
func WithMetrics(m *metrics.Metrics) Option {
	return func(e *Engine) {
		e.metrics = m
	}
}

// WithLogger replaces the engine logger.
func WithLogger(l *slog.Logger) Option {
	return func(e *Engine) {
		e.logger = l
	}
}

// NewEngine returns an engine that decodes transactions with decoder.
func NewEngine(decoder inference.Decoder, opts ...Option) *Engine {
	e := &Engine{
		decoder: decoder,
		logger:  logger.WithComponent("em-engine"),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Initialize fills every cache with the singletons its transaction contains,
// each with probability count/N.
func (e *Engine) Initialize(ctx context.Context, corpus *Corpus, singletons map[sequence.Sequence]int) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if corpus.Len() == 0 {
		return apperrors.ErrEmptyCorpus
	}
	defer e.observe("initialize", time.Now())

	n := corpus.Len()
	err := e.fanOut(ctx, n, func(_ context.Context, _, lo, hi int) error {
		for i := lo; i < hi; i++ {
			corpus.caches[i].Initialize(singletons, n)
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("initializing caches: %w", err)
	}
	corpus.clearTrial()
	e.logger.Debug("caches initialized", "transactions", n, "singletons", len(singletons))
	return nil
}

// HardEMStep decodes every transaction, stores its covering, and refreshes
// every cache with the new probabilities: the fraction of transactions whose
// covering uses each generator at least once.
func (e *Engine) HardEMStep(ctx context.Context, corpus *Corpus) (cache.Probabilities, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	probs, _, err := e.hardEMStep(ctx, corpus)
	return probs, err
}

// hardEMStep also reports how many stored coverings the E-step changed.
func (e *Engine) hardEMStep(ctx context.Context, corpus *Corpus) (cache.Probabilities, int, error) {
	if corpus.Len() == 0 {
		return nil, 0, apperrors.ErrEmptyCorpus
	}
	start := time.Now()
	n := corpus.Len()

	var changed atomic.Int64
	counts, err := e.countCoverings(ctx, n, func(i int) *cache.Covering {
		c := corpus.caches[i]
		cov := e.decoder.Infer(c)
		if !cov.Equal(c.Covering()) {
			changed.Add(1)
		}
		c.SetCovering(cov)
		return cov
	})
	if err != nil {
		return nil, 0, fmt.Errorf("hard EM E-step: %w", err)
	}
	e.observe("e_step", start)
	if e.metrics != nil {
		e.metrics.TransactionsDecodedTotal.Add(float64(n))
	}

	probs := normalize(counts, n)
	if err := e.refresh(ctx, corpus, probs); err != nil {
		return nil, 0, fmt.Errorf("hard EM M-step: %w", err)
	}
	corpus.clearTrial()
	e.observe("hard_em", start)
	e.recordModel(probs)
	return probs, int(changed.Load()), nil
}

// AverageCost returns the mean cached cost over all transactions.
func (e *Engine) AverageCost(ctx context.Context, corpus *Corpus) (float64, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.averageCost(ctx, corpus)
}

func (e *Engine) averageCost(ctx context.Context, corpus *Corpus) (float64, error) {
	if corpus.Len() == 0 {
		return 0, apperrors.ErrEmptyCorpus
	}
	n := corpus.Len()
	costs := make([]float64, n)
	err := e.fanOut(ctx, n, func(_ context.Context, _, lo, hi int) error {
		for i := lo; i < hi; i++ {
			costs[i] = corpus.caches[i].CachedCost()
		}
		return nil
	})
	if err != nil {
		return 0, fmt.Errorf("computing average cost: %w", err)
	}
	avg := floats.Sum(costs) / float64(n)
	if e.metrics != nil {
		e.metrics.AverageCost.Set(avg)
	}
	return avg, nil
}

// StructuralEMStep evaluates candidate without committing it. Every
// transaction that contains candidate is re-decoded with candidate cached
// at probability 1 and the result is kept as its temporary covering; the
// other transactions keep their stored coverings. The returned cost is the
// average cost under the probabilities that covering counts would imply.
// Afterwards every cache is exactly as before, apart from temporary
// coverings.
func (e *Engine) StructuralEMStep(ctx context.Context, corpus *Corpus, candidate sequence.Sequence) (Trial, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.structuralEMStep(ctx, corpus, candidate)
}

func (e *Engine) structuralEMStep(ctx context.Context, corpus *Corpus, candidate sequence.Sequence) (Trial, error) {
	if candidate.IsEmpty() {
		return Trial{}, apperrors.ErrEmptyCandidate
	}
	if corpus.Len() == 0 {
		return Trial{}, apperrors.ErrEmptyCorpus
	}
	start := time.Now()
	n := corpus.Len()

	supported := make([]bool, n)
	previous := make([]cache.Table, n)
	counts, err := e.countCoverings(ctx, n, func(i int) *cache.Covering {
		c := corpus.caches[i]
		if !c.Transaction().Contains(candidate) {
			return c.Covering()
		}
		supported[i] = true
		if t, ok := c.Table(candidate); ok {
			previous[i] = t
		}
		c.AddCandidate(candidate, 1.0)
		cov := e.decoder.Infer(c)
		c.SetTempCovering(cov)
		return cov
	})
	if err != nil {
		e.restore(corpus, candidate, supported, previous)
		e.countTrial(metrics.TrialError)
		return Trial{}, fmt.Errorf("structural E-step for %s: %w", candidate, err)
	}

	probs := normalize(counts, n)
	costs := make([]float64, n)
	err = e.fanOut(ctx, n, func(_ context.Context, _, lo, hi int) error {
		for i := lo; i < hi; i++ {
			c := corpus.caches[i]
			if supported[i] {
				costs[i] = c.Cost(c.TempCovering(), probs)
			} else {
				costs[i] = c.Cost(c.Covering(), probs)
			}
		}
		return nil
	})
	e.restore(corpus, candidate, supported, previous)
	if err != nil {
		e.countTrial(metrics.TrialError)
		return Trial{}, fmt.Errorf("structural cost for %s: %w", candidate, err)
	}

	trial := Trial{
		Candidate:   candidate,
		AverageCost: floats.Sum(costs) / float64(n),
		Probability: probs[candidate],
	}
	for _, ok := range supported {
		if ok {
			trial.Supported++
		}
	}
	corpus.markTrial(candidate)

	e.observe("structural_em", start)
	if trial.Probability > 0 {
		e.countTrial(metrics.TrialSupported)
	} else {
		e.countTrial(metrics.TrialUnsupported)
	}
	e.logger.Debug("structural trial",
		"candidate", candidate.String(),
		"average_cost", trial.AverageCost,
		"probability", trial.Probability,
		"supported", trial.Supported,
	)
	return trial, nil
}

// restore undoes the cache changes of a structural trial. A candidate that
// was already cached gets its previous table back; otherwise it is removed.
func (e *Engine) restore(corpus *Corpus, candidate sequence.Sequence, supported []bool, previous []cache.Table) {
	for i, ok := range supported {
		if !ok {
			continue
		}
		if previous[i] != nil {
			corpus.caches[i].Put(candidate, previous[i])
		} else {
			corpus.caches[i].RemoveCandidate(candidate)
		}
	}
}

// TrialCandidates runs a structural step for each candidate in order and
// returns the trials. It stops at the first error.
func (e *Engine) TrialCandidates(ctx context.Context, corpus *Corpus, candidates []sequence.Sequence) ([]Trial, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	trials := make([]Trial, 0, len(candidates))
	for _, candidate := range candidates {
		if err := ctx.Err(); err != nil {
			return trials, err
		}
		trial, err := e.structuralEMStep(ctx, corpus, candidate)
		if err != nil {
			return trials, err
		}
		trials = append(trials, trial)
	}
	return trials, nil
}

// AcceptCandidate commits candidate at probability p. Transactions that
// contain candidate cache it and adopt their temporary covering from the
// preceding structural trial; probabilities are then recomputed from the
// coverings and installed in every cache. The latest structural trial on
// corpus must have been for candidate.
func (e *Engine) AcceptCandidate(ctx context.Context, corpus *Corpus, candidate sequence.Sequence, p float64) (cache.Probabilities, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if candidate.IsEmpty() {
		return nil, apperrors.ErrEmptyCandidate
	}
	if corpus.Len() == 0 {
		return nil, apperrors.ErrEmptyCorpus
	}
	if p < 0 || p > 1 {
		return nil, fmt.Errorf("%w: probability %v outside [0, 1]", apperrors.ErrInvalidInput, p)
	}
	if !corpus.hasTrial(candidate) {
		return nil, fmt.Errorf("accepting %s: %w", candidate, apperrors.ErrNoTrial)
	}
	start := time.Now()
	n := corpus.Len()

	counts, err := e.countCoverings(ctx, n, func(i int) *cache.Covering {
		c := corpus.caches[i]
		if !c.Transaction().Contains(candidate) {
			return c.Covering()
		}
		c.AddCandidate(candidate, p)
		c.SetCovering(c.TempCovering())
		return c.Covering()
	})
	if err != nil {
		return nil, fmt.Errorf("accepting %s: %w", candidate, err)
	}

	probs := normalize(counts, n)
	if err := e.refresh(ctx, corpus, probs); err != nil {
		return nil, fmt.Errorf("accepting %s: %w", candidate, err)
	}
	corpus.clearTrial()
	e.observe("accept", start)
	e.recordModel(probs)
	e.logger.Info("candidate accepted", "candidate", candidate.String(), "probability", probs[candidate])
	return probs, nil
}

// CountDistribution returns, for every generator used by some stored
// covering, the fraction of transactions whose covering uses it exactly k
// times. The entry for k = 0 holds the remaining mass.
func (e *Engine) CountDistribution(ctx context.Context, corpus *Corpus) (cache.Distribution, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.countDistribution(ctx, corpus)
}

func (e *Engine) countDistribution(ctx context.Context, corpus *Corpus) (cache.Distribution, error) {
	if corpus.Len() == 0 {
		return nil, apperrors.ErrEmptyCorpus
	}
	n := corpus.Len()
	partial := make([]map[sequence.Sequence]map[int]int, e.workerCount(n))
	err := e.fanOut(ctx, n, func(_ context.Context, worker, lo, hi int) error {
		local := make(map[sequence.Sequence]map[int]int)
		for i := lo; i < hi; i++ {
			cov := corpus.caches[i].Covering()
			for _, s := range cov.Distinct() {
				if local[s] == nil {
					local[s] = make(map[int]int)
				}
				local[s][cov.Count(s)]++
			}
		}
		partial[worker] = local
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("counting multiplicities: %w", err)
	}

	merged := make(map[sequence.Sequence]map[int]int)
	for _, local := range partial {
		for s, byK := range local {
			if merged[s] == nil {
				merged[s] = make(map[int]int)
			}
			for k, count := range byK {
				merged[s][k] += count
			}
		}
	}

	dist := make(cache.Distribution, len(merged))
	for s, byK := range merged {
		table := make(cache.Table, len(byK)+1)
		used := 0
		for k, count := range byK {
			table[k] = float64(count) / float64(n)
			used += count
		}
		table[0] = float64(n-used) / float64(n)
		dist[s] = table
	}
	return dist, nil
}

// ApplyDistribution installs dist into every cache.
func (e *Engine) ApplyDistribution(ctx context.Context, corpus *Corpus, dist cache.Distribution) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.applyDistribution(ctx, corpus, dist)
}

func (e *Engine) applyDistribution(ctx context.Context, corpus *Corpus, dist cache.Distribution) error {
	if corpus.Len() == 0 {
		return apperrors.ErrEmptyCorpus
	}
	return e.fanOut(ctx, corpus.Len(), func(_ context.Context, _, lo, hi int) error {
		for i := lo; i < hi; i++ {
			corpus.caches[i].RefreshDistribution(dist)
		}
		return nil
	})
}

// countCoverings applies cover to every transaction index and counts, per
// generator, the transactions whose covering contains it.
func (e *Engine) countCoverings(ctx context.Context, n int, cover func(i int) *cache.Covering) (map[sequence.Sequence]int, error) {
	partial := make([]map[sequence.Sequence]int, e.workerCount(n))
	err := e.fanOut(ctx, n, func(ctx context.Context, worker, lo, hi int) error {
		local := make(map[sequence.Sequence]int)
		for i := lo; i < hi; i++ {
			if err := ctx.Err(); err != nil {
				return err
			}
			for _, s := range cover(i).Distinct() {
				local[s]++
			}
		}
		partial[worker] = local
		return nil
	})
	if err != nil {
		return nil, err
	}

	counts := make(map[sequence.Sequence]int)
	for _, local := range partial {
		for s, k := range local {
			counts[s] += k
		}
	}
	return counts, nil
}

func (e *Engine) refresh(ctx context.Context, corpus *Corpus, probs cache.Probabilities) error {
	return e.fanOut(ctx, corpus.Len(), func(_ context.Context, _, lo, hi int) error {
		for i := lo; i < hi; i++ {
			corpus.caches[i].Refresh(probs)
		}
		return nil
	})
}

func normalize(counts map[sequence.Sequence]int, n int) cache.Probabilities {
	probs := make(cache.Probabilities, len(counts))
	for s, k := range counts {
		probs[s] = float64(k) / float64(n)
	}
	return probs
}

func (e *Engine) workerCount(n int) int {
	w := e.workers
	if w <= 0 {
		w = runtime.GOMAXPROCS(0)
	}
	if w > n {
		w = n
	}
	if w < 1 {
		w = 1
	}
	return w
}

// fanOut splits [0, n) into contiguous chunks, one per worker, and runs fn
// on each chunk concurrently. The first error cancels the rest.
func (e *Engine) fanOut(ctx context.Context, n int, fn func(ctx context.Context, worker, lo, hi int) error) error {
	workers := e.workerCount(n)
	chunk := (n + workers - 1) / workers

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(workers)
	for w := 0; w < workers; w++ {
		lo := w * chunk
		if lo >= n {
			break
		}
		hi := min(lo+chunk, n)
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			return fn(gctx, w, lo, hi)
		})
	}
	return g.Wait()
}

func (e *Engine) observe(phase string, start time.Time) {
	if e.metrics == nil {
		return
	}
	e.metrics.StepDuration.WithLabelValues(phase).Observe(time.Since(start).Seconds())
}

func (e *Engine) countTrial(outcome string) {
	if e.metrics == nil {
		return
	}
	e.metrics.StructuralTrialsTotal.WithLabelValues(outcome).Inc()
}

func (e *Engine) recordModel(probs cache.Probabilities) {
	if e.metrics == nil {
		return
	}
	size := 0
	for _, p := range probs {
		if p > 0 {
			size++
		}
	}
	e.metrics.DictionarySize.Set(float64(size))
}
