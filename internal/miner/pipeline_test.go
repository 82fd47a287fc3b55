package miner

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Adithya-Monish-Kumar-K/Sequence-Mining-Platform/internal/dictionary"
	"github.com/Adithya-Monish-Kumar-K/Sequence-Mining-Platform/internal/em"
	"github.com/Adithya-Monish-Kumar-K/Sequence-Mining-Platform/internal/inference"
	"github.com/Adithya-Monish-Kumar-K/Sequence-Mining-Platform/internal/sequence"
	"github.com/Adithya-Monish-Kumar-K/Sequence-Mining-Platform/pkg/config"
	apperrors "github.com/Adithya-Monish-Kumar-K/Sequence-Mining-Platform/pkg/errors"
	"github.com/Adithya-Monish-Kumar-K/Sequence-Mining-Platform/pkg/logger"
)

type staticLoader struct {
	txs   []*sequence.Transaction
	err   error
	delay time.Duration
}

func (l *staticLoader) Load(ctx context.Context) ([]*sequence.Transaction, error) {
	if l.delay > 0 {
		select {
		case <-time.After(l.delay):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	return l.txs, l.err
}

func pairTransactions() []*sequence.Transaction {
	var txs []*sequence.Transaction
	for i := 0; i < 4; i++ {
		txs = append(txs, sequence.NewTransaction(fmt.Sprintf("p%d", i), []sequence.Item{1, 2}))
	}
	for i := 0; i < 6; i++ {
		txs = append(txs, sequence.NewTransaction(fmt.Sprintf("s%d", i), []sequence.Item{3}))
	}
	return txs
}

func miningConfig() config.MiningConfig {
	return config.MiningConfig{
		Workers:              2,
		MaxIterations:        10,
		ConvergenceTolerance: 1e-9,
		LoadTimeout:          time.Second,
	}
}

type recorder struct {
	saved       []*dictionary.Snapshot
	published   []*dictionary.Snapshot
	invalidated int
	saveErr     error
	invErr      error
}

func (r *recorder) SaveSnapshot(_ context.Context, s *dictionary.Snapshot) error {
	if r.saveErr != nil {
		return r.saveErr
	}
	r.saved = append(r.saved, s)
	return nil
}

func (r *recorder) Publish(_ context.Context, s *dictionary.Snapshot) error {
	r.published = append(r.published, s)
	return nil
}

func (r *recorder) Invalidate(context.Context) error {
	r.invalidated++
	return r.invErr
}

func newPipeline(loader *staticLoader, rec *recorder) *Pipeline {
	engine := em.NewEngine(inference.NewGreedy(0), em.WithWorkers(2))
	return New(loader, engine, miningConfig(),
		WithSaver(rec), WithPublisher(rec), WithInvalidator(rec),
		WithTracing(config.TracingConfig{Enabled: true, SampleRate: 1}),
	)
}

func TestPipeline_Mine(t *testing.T) {
	rec := &recorder{invErr: errors.New("redis down")}
	p := newPipeline(&staticLoader{txs: pairTransactions()}, rec)
	ctx := logger.WithRunID(context.Background(), "run-7")

	snap, err := p.Mine(ctx)
	require.NoError(t, err)

	assert.Equal(t, "run-7", snap.RunID)
	assert.NotEmpty(t, snap.ID)
	assert.Equal(t, 10, snap.Transactions)
	assert.True(t, snap.Converged)
	assert.Equal(t, []dictionary.Entry{
		{Sequence: []int32{3}, Probability: 0.6},
		{Sequence: []int32{1}, Probability: 0.4},
		{Sequence: []int32{2}, Probability: 0.4},
	}, snap.Entries)

	require.Len(t, rec.saved, 1)
	assert.Same(t, snap, rec.saved[0])
	assert.Len(t, rec.published, 1)
	assert.Equal(t, 1, rec.invalidated, "invalidation errors do not fail the run")
}

func TestPipeline_MineSaveFailure(t *testing.T) {
	rec := &recorder{saveErr: errors.New("disk full")}
	p := newPipeline(&staticLoader{txs: pairTransactions()}, rec)

	_, err := p.Mine(context.Background())
	assert.Error(t, err)
	assert.Empty(t, rec.published, "nothing is published after a failed save")
}

func TestPipeline_MineEmptyCorpus(t *testing.T) {
	p := newPipeline(&staticLoader{}, &recorder{})
	_, err := p.Mine(context.Background())
	assert.ErrorIs(t, err, apperrors.ErrEmptyCorpus)
}

func TestPipeline_LoadTimeout(t *testing.T) {
	engine := em.NewEngine(inference.NewGreedy(0))
	cfg := miningConfig()
	cfg.LoadTimeout = 20 * time.Millisecond
	p := New(&staticLoader{txs: pairTransactions(), delay: time.Second}, engine, cfg)

	_, err := p.Mine(context.Background())
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestPipeline_Trial(t *testing.T) {
	p := newPipeline(&staticLoader{txs: pairTransactions()}, &recorder{})

	report, err := p.Trial(context.Background(), []sequence.Sequence{sequence.New(1, 2), sequence.New(3, 1)})
	require.NoError(t, err)

	require.Len(t, report.Trials, 2)
	assert.NotEmpty(t, report.RunID)
	assert.Less(t, report.Trials[0].AverageCost, report.BaselineCost)
	assert.InDelta(t, 0.4, report.Trials[0].Probability, 1e-12)
	assert.Zero(t, report.Trials[1].Probability)
}

func TestPipeline_TrialEmptyCandidate(t *testing.T) {
	p := newPipeline(&staticLoader{txs: pairTransactions()}, &recorder{})
	_, err := p.Trial(context.Background(), []sequence.Sequence{sequence.New()})
	assert.ErrorIs(t, err, apperrors.ErrEmptyCandidate)
}
