package dictionary

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/Adithya-Monish-Kumar-K/Sequence-Mining-Platform/pkg/kafka"
	"github.com/Adithya-Monish-Kumar-K/Sequence-Mining-Platform/pkg/resilience"
)

// EventWriter is the subset of the Kafka producer the publisher needs.
type EventWriter interface {
	Publish(ctx context.Context, event kafka.Event) error
	PublishBatch(ctx context.Context, events []kafka.Event) error
}

// SnapshotEvent announces a new dictionary. Its entries follow as
// EntryEvents keyed by the same snapshot id.
type SnapshotEvent struct {
	SnapshotID   string  `json:"snapshotId"`
	RunID        string  `json:"runId"`
	Entries      int     `json:"entries"`
	AverageCost  float64 `json:"averageCost"`
	Transactions int     `json:"transactions"`
}

// EntryEvent carries one ranked dictionary entry.
type EntryEvent struct {
	SnapshotID  string  `json:"snapshotId"`
	Rank        int     `json:"rank"`
	Sequence    []int32 `json:"sequence"`
	Probability float64 `json:"probability"`
}

// Publisher writes snapshots to Kafka.
type Publisher struct {
	writer    EventWriter
	batchSize int
	retry     resilience.RetryConfig
	logger    *slog.Logger
}

// NewPublisher returns a publisher that sends entries in batches of
// batchSize (100 when non-positive).
func NewPublisher(w EventWriter, batchSize int) *Publisher {
	if batchSize <= 0 {
		batchSize = 100
	}
	return &Publisher{
		writer:    w,
		batchSize: batchSize,
		retry:     resilience.RetryConfig{MaxAttempts: 3},
		logger:    slog.Default().With("component", "dictionary-publisher"),
	}
}

// Publish sends the snapshot header followed by its entries. Every message
// is keyed by the snapshot id so they share a partition and stay ordered.
func (p *Publisher) Publish(ctx context.Context, snap *Snapshot) error {
	header := kafka.Event{
		Key:  snap.ID,
		Type: "dictionary.snapshot",
		Value: SnapshotEvent{
			SnapshotID:   snap.ID,
			RunID:        snap.RunID,
			Entries:      len(snap.Entries),
			AverageCost:  snap.AverageCost,
			Transactions: snap.Transactions,
		},
	}
	err := resilience.Retry(ctx, "publish-dictionary-header", p.retry, func() error {
		return p.writer.Publish(ctx, header)
	})
	if err != nil {
		return fmt.Errorf("publishing snapshot %s: %w", snap.ID, err)
	}

	for start := 0; start < len(snap.Entries); start += p.batchSize {
		end := min(start+p.batchSize, len(snap.Entries))
		batch := make([]kafka.Event, 0, end-start)
		for rank := start; rank < end; rank++ {
			e := snap.Entries[rank]
			batch = append(batch, kafka.Event{
				Key:  snap.ID,
				Type: "dictionary.entry",
				Value: EntryEvent{
					SnapshotID:  snap.ID,
					Rank:        rank,
					Sequence:    e.Sequence,
					Probability: e.Probability,
				},
			})
		}
		err := resilience.Retry(ctx, "publish-dictionary-entries", p.retry, func() error {
			return p.writer.PublishBatch(ctx, batch)
		})
		if err != nil {
			return fmt.Errorf("publishing entries %d-%d of snapshot %s: %w", start, end, snap.ID, err)
		}
	}

	p.logger.Info("dictionary published", "snapshot_id", snap.ID, "entries", len(snap.Entries))
	return nil
}
