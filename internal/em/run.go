package em

import (
	"context"
	"fmt"
	"math"
	"time"

	"github.com/Adithya-Monish-Kumar-K/Sequence-Mining-Platform/internal/cache"
	apperrors "github.com/Adithya-Monish-Kumar-K/Sequence-Mining-Platform/pkg/errors"
	"github.com/Adithya-Monish-Kumar-K/Sequence-Mining-Platform/pkg/logger"
	"github.com/Adithya-Monish-Kumar-K/Sequence-Mining-Platform/pkg/tracing"
)

// RunOptions controls the hard-EM driver.
type RunOptions struct {
	MaxIterations int
	Tolerance     float64
	// UseDistribution installs the full multiplicity tables after every
	// step instead of flat probabilities.
	UseDistribution bool
}

// Result summarises a driver run.
type Result struct {
	Probabilities cache.Probabilities
	AverageCost   float64
	Iterations    int
	Converged     bool
}

// Run repeats hard EM steps until the average cost changes by less than
// opts.Tolerance or opts.MaxIterations steps have run. The corpus must
// have been initialized. Run never proposes new generators.
func (e *Engine) Run(ctx context.Context, corpus *Corpus, opts RunOptions) (Result, error) {
	if opts.MaxIterations <= 0 {
		return Result{}, fmt.Errorf("%w: max iterations must be positive, got %d", apperrors.ErrInvalidInput, opts.MaxIterations)
	}
	if corpus.Len() == 0 {
		return Result{}, apperrors.ErrEmptyCorpus
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	log := logger.FromContext(ctx).With("component", "em-engine")
	ctx, span := tracing.StartChildSpan(ctx, "em.run")
	defer span.End()

	var res Result
	prev := math.Inf(1)
	for res.Iterations < opts.MaxIterations {
		if err := ctx.Err(); err != nil {
			return res, fmt.Errorf("hard EM run interrupted: %w", err)
		}
		start := time.Now()
		stepCtx, stepSpan := tracing.StartChildSpan(ctx, "em.generation")

		probs, changed, err := e.hardEMStep(stepCtx, corpus)
		if err != nil {
			stepSpan.End()
			return res, err
		}
		if opts.UseDistribution {
			dist, err := e.countDistribution(stepCtx, corpus)
			if err != nil {
				stepSpan.End()
				return res, err
			}
			if err := e.applyDistribution(stepCtx, corpus, dist); err != nil {
				stepSpan.End()
				return res, fmt.Errorf("installing count distribution: %w", err)
			}
		}
		cost, err := e.averageCost(stepCtx, corpus)
		if err != nil {
			stepSpan.End()
			return res, err
		}

		res.Iterations++
		res.Probabilities = probs
		res.AverageCost = cost
		if e.metrics != nil {
			e.metrics.EMIterationsTotal.Inc()
		}
		stepSpan.SetAttr("iteration", res.Iterations)
		stepSpan.SetAttr("average_cost", cost)
		stepSpan.SetAttr("coverings_changed", changed)
		stepSpan.End()

		log.Info("hard EM generation complete",
			"iteration", res.Iterations,
			"average_cost", cost,
			"generators", len(probs),
			"coverings_changed", changed,
			"duration", time.Since(start),
		)

		if math.Abs(prev-cost) < opts.Tolerance {
			res.Converged = true
			break
		}
		prev = cost
	}

	span.SetAttr("iterations", res.Iterations)
	span.SetAttr("converged", res.Converged)
	return res, nil
}
