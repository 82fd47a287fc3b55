package dictionary

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	"github.com/lib/pq"

	apperrors "github.com/Adithya-Monish-Kumar-K/Sequence-Mining-Platform/pkg/errors"
	"github.com/Adithya-Monish-Kumar-K/Sequence-Mining-Platform/pkg/postgres"
)

const schema = `
CREATE TABLE IF NOT EXISTS dictionary_snapshots (
	id         TEXT PRIMARY KEY,
	run_id     TEXT NOT NULL,
	data       JSONB NOT NULL,
	created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
);
CREATE TABLE IF NOT EXISTS dictionary_entries (
	snapshot_id TEXT NOT NULL REFERENCES dictionary_snapshots(id) ON DELETE CASCADE,
	rank        INTEGER NOT NULL,
	items       INTEGER[] NOT NULL,
	probability DOUBLE PRECISION NOT NULL,
	PRIMARY KEY (snapshot_id, rank)
)`

// Reader serves stored snapshots.
type Reader interface {
	LatestSnapshot(ctx context.Context) (*Snapshot, error)
	GetSnapshot(ctx context.Context, id string) (*Snapshot, error)
	ListSnapshots(ctx context.Context, limit int) ([]Snapshot, error)
}

// Store persists dictionary snapshots in PostgreSQL. The whole snapshot is
// kept as JSONB; entries are also written row by row so they can be queried
// by item.
type Store struct {
	db     *postgres.Client
	logger *slog.Logger
}

// NewStore creates a snapshot store.
func NewStore(db *postgres.Client) *Store {
	return &Store{
		db:     db,
		logger: slog.Default().With("component", "dictionary-store"),
	}
}

// EnsureSchema creates the snapshot tables if they do not exist.
func (s *Store) EnsureSchema(ctx context.Context) error {
	if _, err := s.db.DB.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("creating dictionary schema: %w", err)
	}
	return nil
}

// SaveSnapshot writes snap and its entries in one transaction.
func (s *Store) SaveSnapshot(ctx context.Context, snap *Snapshot) error {
	data, err := json.Marshal(snap)
	if err != nil {
		return fmt.Errorf("marshaling snapshot: %w", err)
	}

	err = s.db.InTx(ctx, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO dictionary_snapshots (id, run_id, data, created_at) VALUES ($1, $2, $3, $4)`,
			snap.ID, snap.RunID, data, snap.CreatedAt,
		); err != nil {
			return fmt.Errorf("inserting snapshot: %w", err)
		}
		stmt, err := tx.PrepareContext(ctx,
			`INSERT INTO dictionary_entries (snapshot_id, rank, items, probability) VALUES ($1, $2, $3, $4)`,
		)
		if err != nil {
			return fmt.Errorf("preparing entry insert: %w", err)
		}
		defer stmt.Close()
		for rank, e := range snap.Entries {
			if _, err := stmt.ExecContext(ctx, snap.ID, rank, pq.Array(e.Sequence), e.Probability); err != nil {
				return fmt.Errorf("inserting entry %d: %w", rank, err)
			}
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("saving dictionary snapshot %s: %w", snap.ID, err)
	}

	s.logger.Info("dictionary snapshot saved",
		"snapshot_id", snap.ID,
		"run_id", snap.RunID,
		"entries", len(snap.Entries),
	)
	return nil
}

// LatestSnapshot loads the most recent snapshot. It returns ErrNotFound
// when none has been saved.
func (s *Store) LatestSnapshot(ctx context.Context) (*Snapshot, error) {
	var data []byte
	err := s.db.DB.QueryRowContext(ctx,
		`SELECT data FROM dictionary_snapshots ORDER BY created_at DESC LIMIT 1`,
	).Scan(&data)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("latest dictionary snapshot: %w", apperrors.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("querying latest snapshot: %w", err)
	}
	return decodeSnapshot(data)
}

// GetSnapshot loads the snapshot with the given id.
func (s *Store) GetSnapshot(ctx context.Context, id string) (*Snapshot, error) {
	var data []byte
	err := s.db.DB.QueryRowContext(ctx,
		`SELECT data FROM dictionary_snapshots WHERE id = $1`, id,
	).Scan(&data)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("dictionary snapshot %s: %w", id, apperrors.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("querying snapshot %s: %w", id, err)
	}
	return decodeSnapshot(data)
}

// ListSnapshots returns the last limit snapshots, newest first.
func (s *Store) ListSnapshots(ctx context.Context, limit int) ([]Snapshot, error) {
	rows, err := s.db.DB.QueryContext(ctx,
		`SELECT data FROM dictionary_snapshots ORDER BY created_at DESC LIMIT $1`,
		limit,
	)
	if err != nil {
		return nil, fmt.Errorf("listing snapshots: %w", err)
	}
	defer rows.Close()

	var snapshots []Snapshot
	for rows.Next() {
		var data []byte
		if err := rows.Scan(&data); err != nil {
			return nil, fmt.Errorf("scanning snapshot row: %w", err)
		}
		snap, err := decodeSnapshot(data)
		if err != nil {
			s.logger.Warn("skipping corrupt snapshot", "error", err)
			continue
		}
		snapshots = append(snapshots, *snap)
	}
	return snapshots, rows.Err()
}

func decodeSnapshot(data []byte) (*Snapshot, error) {
	var snap Snapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		return nil, fmt.Errorf("unmarshaling snapshot: %w", err)
	}
	return &snap, nil
}
