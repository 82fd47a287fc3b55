// Package corpus loads transaction databases for mining, either from a
// Postgres table or by collecting transaction events from Kafka.
package corpus

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"

	"github.com/lib/pq"

	"github.com/Adithya-Monish-Kumar-K/Sequence-Mining-Platform/internal/sequence"
	apperrors "github.com/Adithya-Monish-Kumar-K/Sequence-Mining-Platform/pkg/errors"
	"github.com/Adithya-Monish-Kumar-K/Sequence-Mining-Platform/pkg/logger"
	"github.com/Adithya-Monish-Kumar-K/Sequence-Mining-Platform/pkg/metrics"
)

// Loader produces the transactions of one corpus.
type Loader interface {
	Load(ctx context.Context) ([]*sequence.Transaction, error)
}

// Row is one stored transaction.
type Row struct {
	ID    string
	Items []int64
}

const createTransactionsTable = `
CREATE TABLE IF NOT EXISTS transactions (
	id         TEXT PRIMARY KEY,
	items      INTEGER[] NOT NULL,
	created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
)`

// PostgresLoader reads transactions from the transactions table in id
// order.
type PostgresLoader struct {
	db      *sql.DB
	metrics *metrics.Metrics
	logger  *slog.Logger
}

// NewPostgresLoader returns a loader over db. m may be nil.
func NewPostgresLoader(db *sql.DB, m *metrics.Metrics) *PostgresLoader {
	return &PostgresLoader{
		db:      db,
		metrics: m,
		logger:  logger.WithComponent("corpus-postgres"),
	}
}

// EnsureSchema creates the transactions table if it does not exist.
func (l *PostgresLoader) EnsureSchema(ctx context.Context) error {
	if _, err := l.db.ExecContext(ctx, createTransactionsTable); err != nil {
		return fmt.Errorf("creating transactions table: %w", err)
	}
	return nil
}

// Insert stores rows, replacing transactions with the same id.
func (l *PostgresLoader) Insert(ctx context.Context, rows []Row) error {
	for _, r := range rows {
		_, err := l.db.ExecContext(ctx,
			`INSERT INTO transactions (id, items) VALUES ($1, $2)
			 ON CONFLICT (id) DO UPDATE SET items = EXCLUDED.items`,
			r.ID, pq.Array(r.Items),
		)
		if err != nil {
			return fmt.Errorf("inserting transaction %s: %w", r.ID, err)
		}
	}
	return nil
}

// Load reads every stored transaction.
func (l *PostgresLoader) Load(ctx context.Context) ([]*sequence.Transaction, error) {
	rows, err := l.db.QueryContext(ctx, `SELECT id, items FROM transactions ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("querying transactions: %w", err)
	}
	defer rows.Close()

	var out []Row
	for rows.Next() {
		var r Row
		if err := rows.Scan(&r.ID, pq.Array(&r.Items)); err != nil {
			return nil, fmt.Errorf("scanning transaction: %w", err)
		}
		out = append(out, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating transactions: %w", err)
	}

	txs, err := FromRows(out)
	if err != nil {
		return nil, err
	}
	if l.metrics != nil {
		l.metrics.TransactionsLoadedTotal.WithLabelValues("postgres").Add(float64(len(txs)))
	}
	l.logger.Info("transactions loaded", "count", len(txs))
	return txs, nil
}

// FromRows validates rows and converts them to transactions. Empty item
// lists are rejected.
func FromRows(rows []Row) ([]*sequence.Transaction, error) {
	if len(rows) == 0 {
		return nil, apperrors.ErrEmptyCorpus
	}
	txs := make([]*sequence.Transaction, len(rows))
	for i, r := range rows {
		if len(r.Items) == 0 {
			return nil, fmt.Errorf("transaction %q: %w", r.ID, apperrors.ErrEmptyTransaction)
		}
		items := make([]sequence.Item, len(r.Items))
		for j, v := range r.Items {
			items[j] = sequence.Item(v)
		}
		txs[i] = sequence.NewTransaction(r.ID, items)
	}
	return txs, nil
}
