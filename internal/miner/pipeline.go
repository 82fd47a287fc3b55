// Package miner wires a transaction source, the EM engine, and the
// dictionary outputs into the two mining workflows: a full hard-EM run that
// produces a dictionary snapshot, and a batch of structural trials scored
// against the converged model.
package miner

import (
	"context"
	"fmt"
	"log/slog"
	"math/rand"
	"time"

	"github.com/google/uuid"

	"github.com/Adithya-Monish-Kumar-K/Sequence-Mining-Platform/internal/corpus"
	"github.com/Adithya-Monish-Kumar-K/Sequence-Mining-Platform/internal/dictionary"
	"github.com/Adithya-Monish-Kumar-K/Sequence-Mining-Platform/internal/em"
	"github.com/Adithya-Monish-Kumar-K/Sequence-Mining-Platform/internal/sequence"
	"github.com/Adithya-Monish-Kumar-K/Sequence-Mining-Platform/pkg/config"
	"github.com/Adithya-Monish-Kumar-K/Sequence-Mining-Platform/pkg/logger"
	"github.com/Adithya-Monish-Kumar-K/Sequence-Mining-Platform/pkg/resilience"
	"github.com/Adithya-Monish-Kumar-K/Sequence-Mining-Platform/pkg/tracing"
)

// SnapshotSaver persists a snapshot.
type SnapshotSaver interface {
	SaveSnapshot(ctx context.Context, snap *dictionary.Snapshot) error
}

// SnapshotPublisher announces a snapshot to downstream consumers.
type SnapshotPublisher interface {
	Publish(ctx context.Context, snap *dictionary.Snapshot) error
}

// Invalidator drops cached dictionaries.
type Invalidator interface {
	Invalidate(ctx context.Context) error
}

// TrialReport is the outcome of a trial batch.
type TrialReport struct {
	RunID        string
	BaselineCost float64
	Trials       []em.Trial
}

// Pipeline runs mining workflows. Outputs are optional; a pipeline without
// them only computes.
type Pipeline struct {
	loader      corpus.Loader
	engine      *em.Engine
	cfg         config.MiningConfig
	saver       SnapshotSaver
	publisher   SnapshotPublisher
	invalidator Invalidator
	tracing     config.TracingConfig
	logger      *slog.Logger
}

// Option configures a Pipeline.
type Option func(*Pipeline)

func WithSaver(s SnapshotSaver) Option {
	return func(p *Pipeline) { p.saver = s }
}

func WithPublisher(pub SnapshotPublisher) Option {
	return func(p *Pipeline) { p.publisher = pub }
}

func WithInvalidator(inv Invalidator) Option {
	return func(p *Pipeline) { p.invalidator = inv }
}

// WithTracing logs a span tree for sampled runs.
func WithTracing(cfg config.TracingConfig) Option {
	return func(p *Pipeline) { p.tracing = cfg }
}

// New returns a pipeline reading transactions from loader.
func New(loader corpus.Loader, engine *em.Engine, cfg config.MiningConfig, opts ...Option) *Pipeline {
	p := &Pipeline{
		loader: loader,
		engine: engine,
		cfg:    cfg,
		logger: logger.WithComponent("miner"),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Mine loads the corpus, runs hard EM to convergence, and turns the final
// probabilities into a snapshot that is then saved and published. Cache
// invalidation failures are logged but do not fail the run.
func (p *Pipeline) Mine(ctx context.Context) (*dictionary.Snapshot, error) {
	ctx, runID := ensureRunID(ctx)
	ctx, span := tracing.StartSpan(ctx, "mine", runID)
	defer p.finishSpan(span)
	log := logger.FromContext(ctx)

	c, err := p.prepare(ctx)
	if err != nil {
		return nil, err
	}
	res, err := p.engine.Run(ctx, c, p.runOptions())
	if err != nil {
		return nil, fmt.Errorf("running hard EM: %w", err)
	}

	snap := &dictionary.Snapshot{
		ID:           uuid.NewString(),
		RunID:        runID,
		CreatedAt:    time.Now().UTC(),
		Transactions: c.Len(),
		Iterations:   res.Iterations,
		AverageCost:  res.AverageCost,
		Converged:    res.Converged,
		Entries:      dictionary.Build(res.Probabilities, p.cfg.MinProbability),
	}
	span.SetAttr("entries", len(snap.Entries))

	if p.saver != nil {
		if err := p.saver.SaveSnapshot(ctx, snap); err != nil {
			return snap, fmt.Errorf("saving snapshot: %w", err)
		}
	}
	if p.invalidator != nil {
		if err := p.invalidator.Invalidate(ctx); err != nil {
			log.Warn("dictionary cache invalidation failed", "error", err)
		}
	}
	if p.publisher != nil {
		if err := p.publisher.Publish(ctx, snap); err != nil {
			return snap, fmt.Errorf("publishing snapshot: %w", err)
		}
	}

	log.Info("mining run complete",
		"snapshot_id", snap.ID,
		"transactions", snap.Transactions,
		"iterations", snap.Iterations,
		"average_cost", snap.AverageCost,
		"converged", snap.Converged,
		"entries", len(snap.Entries),
	)
	return snap, nil
}

// Trial loads the corpus, runs hard EM to convergence, and then runs one
// structural step per candidate. No candidate is accepted.
func (p *Pipeline) Trial(ctx context.Context, candidates []sequence.Sequence) (*TrialReport, error) {
	ctx, runID := ensureRunID(ctx)
	ctx, span := tracing.StartSpan(ctx, "trial", runID)
	defer p.finishSpan(span)

	c, err := p.prepare(ctx)
	if err != nil {
		return nil, err
	}
	res, err := p.engine.Run(ctx, c, p.runOptions())
	if err != nil {
		return nil, fmt.Errorf("running hard EM: %w", err)
	}

	_, trialSpan := tracing.StartChildSpan(ctx, "em.trials")
	trials, err := p.engine.TrialCandidates(ctx, c, candidates)
	trialSpan.SetAttr("candidates", len(candidates))
	trialSpan.End()
	if err != nil {
		return nil, fmt.Errorf("trialling candidates: %w", err)
	}
	return &TrialReport{RunID: runID, BaselineCost: res.AverageCost, Trials: trials}, nil
}

func (p *Pipeline) prepare(ctx context.Context) (*em.Corpus, error) {
	var txs []*sequence.Transaction
	err := resilience.WithTimeout(ctx, p.cfg.LoadTimeout, "load-corpus", func(ctx context.Context) error {
		var err error
		txs, err = p.loader.Load(ctx)
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("loading corpus: %w", err)
	}

	c, err := em.NewCorpus(txs)
	if err != nil {
		return nil, fmt.Errorf("building corpus: %w", err)
	}
	if err := p.engine.Initialize(ctx, c, em.CountSingletons(txs)); err != nil {
		return nil, err
	}
	return c, nil
}

func (p *Pipeline) runOptions() em.RunOptions {
	return em.RunOptions{
		MaxIterations:   p.cfg.MaxIterations,
		Tolerance:       p.cfg.ConvergenceTolerance,
		UseDistribution: p.cfg.UseDistribution,
	}
}

func (p *Pipeline) finishSpan(span *tracing.Span) {
	span.End()
	if p.tracing.Enabled && rand.Float64() < p.tracing.SampleRate {
		span.Log(p.logger)
	}
}

func ensureRunID(ctx context.Context) (context.Context, string) {
	if id, ok := logger.RunID(ctx); ok {
		return ctx, id
	}
	id := uuid.NewString()
	return logger.WithRunID(ctx, id), id
}
