package corpus

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/google/uuid"

	"github.com/Adithya-Monish-Kumar-K/Sequence-Mining-Platform/internal/sequence"
	"github.com/Adithya-Monish-Kumar-K/Sequence-Mining-Platform/pkg/config"
	apperrors "github.com/Adithya-Monish-Kumar-K/Sequence-Mining-Platform/pkg/errors"
	"github.com/Adithya-Monish-Kumar-K/Sequence-Mining-Platform/pkg/kafka"
	"github.com/Adithya-Monish-Kumar-K/Sequence-Mining-Platform/pkg/logger"
	"github.com/Adithya-Monish-Kumar-K/Sequence-Mining-Platform/pkg/metrics"
)

// TransactionEvent is the JSON payload of one transaction message.
type TransactionEvent struct {
	ID    string  `json:"id"`
	Items []int32 `json:"items"`
}

// Runner drives a message loop until ctx is cancelled. *kafka.Consumer
// satisfies it.
type Runner interface {
	Start(ctx context.Context) error
}

// Collector accumulates transaction events until it holds target distinct
// transactions. Handle is its kafka.MessageHandler.
type Collector struct {
	target  int
	mu      sync.Mutex
	txs     []*sequence.Transaction
	seen    map[string]struct{}
	done    chan struct{}
	once    sync.Once
	metrics *metrics.Metrics
	logger  *slog.Logger
}

// NewCollector returns a collector that completes after target transactions.
func NewCollector(target int, m *metrics.Metrics) *Collector {
	return &Collector{
		target:  target,
		seen:    make(map[string]struct{}),
		done:    make(chan struct{}),
		metrics: m,
		logger:  logger.WithComponent("corpus-collector"),
	}
}

// Handle decodes one message. Duplicate ids and messages arriving after the
// target was reached are ignored.
func (c *Collector) Handle(_ context.Context, _ []byte, value []byte) error {
	event, err := kafka.DecodeJSON[TransactionEvent](value)
	if err != nil {
		return err
	}
	if event.ID == "" {
		return fmt.Errorf("%w: transaction event without id", apperrors.ErrInvalidInput)
	}
	if len(event.Items) == 0 {
		return fmt.Errorf("transaction %q: %w", event.ID, apperrors.ErrEmptyTransaction)
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if len(c.txs) >= c.target {
		return nil
	}
	if _, dup := c.seen[event.ID]; dup {
		c.logger.Debug("duplicate transaction ignored", "id", event.ID)
		return nil
	}
	items := make([]sequence.Item, len(event.Items))
	for i, v := range event.Items {
		items[i] = sequence.Item(v)
	}
	c.seen[event.ID] = struct{}{}
	c.txs = append(c.txs, sequence.NewTransaction(event.ID, items))
	if c.metrics != nil {
		c.metrics.TransactionsLoadedTotal.WithLabelValues("kafka").Inc()
	}
	if len(c.txs) == c.target {
		c.once.Do(func() { close(c.done) })
	}
	return nil
}

// Done is closed once the target is reached.
func (c *Collector) Done() <-chan struct{} {
	return c.done
}

// Transactions returns the transactions collected so far in arrival order.
func (c *Collector) Transactions() []*sequence.Transaction {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]*sequence.Transaction, len(c.txs))
	copy(out, c.txs)
	return out
}

// Collect runs r until the collector reaches its target, then stops r and
// returns the transactions. If ctx ends first the partial result is
// returned with the context error.
func (c *Collector) Collect(ctx context.Context, r Runner) ([]*sequence.Transaction, error) {
	if c.target <= 0 {
		return nil, fmt.Errorf("%w: collector target must be positive, got %d", apperrors.ErrInvalidInput, c.target)
	}
	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	errCh := make(chan error, 1)
	go func() {
		errCh <- r.Start(runCtx)
	}()

	select {
	case <-c.done:
		cancel()
		if err := <-errCh; err != nil {
			c.logger.Warn("consumer stopped with error", "error", err)
		}
		c.logger.Info("corpus collected", "count", c.target)
		return c.Transactions(), nil
	case err := <-errCh:
		select {
		case <-c.done:
			return c.Transactions(), nil
		default:
		}
		if err == nil {
			err = ctx.Err()
		}
		if err == nil {
			err = fmt.Errorf("consumer stopped after %d of %d transactions", len(c.Transactions()), c.target)
		}
		return c.Transactions(), err
	case <-ctx.Done():
		<-errCh
		return c.Transactions(), ctx.Err()
	}
}

// loadGroupPrefix names the throwaway consumer group of a single load. Each
// load joins a fresh group so the committed offsets of earlier loads never
// move its start past the oldest retained message.
const loadGroupPrefix = "seqmining-load-"

// KafkaLoader collects a corpus of a fixed size from the transactions topic.
// Every Load reads from the oldest retained message under its own consumer
// group.
type KafkaLoader struct {
	cfg     config.KafkaConfig
	target  int
	metrics *metrics.Metrics
}

// NewKafkaLoader returns a loader that collects target transactions.
func NewKafkaLoader(cfg config.KafkaConfig, target int, m *metrics.Metrics) *KafkaLoader {
	return &KafkaLoader{cfg: cfg, target: target, metrics: m}
}

// Load consumes until target transactions have been collected.
func (l *KafkaLoader) Load(ctx context.Context) ([]*sequence.Transaction, error) {
	c := NewCollector(l.target, l.metrics)
	opts := l.consumerOptions()
	consumer := kafka.NewConsumer(l.cfg, l.cfg.Topics.Transactions, c.Handle, opts...)
	return c.Collect(ctx, consumer)
}

func (l *KafkaLoader) consumerOptions() []kafka.ConsumerOption {
	return []kafka.ConsumerOption{
		kafka.WithGroupID(loadGroupPrefix + uuid.NewString()),
		kafka.FromBeginning(),
	}
}
