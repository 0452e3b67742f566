package persistence

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	"PerpAMM/internal/core"
	"PerpAMM/internal/observability"
	"PerpAMM/internal/state"
)

// SnapshotStore keeps every accepted pool snapshot. A snapshot is full pool
// state, so warm restart loads only the latest row per pool.
type SnapshotStore struct {
	db      *sql.DB
	metrics *observability.Metrics
}

// StoredSnapshot is one row of amm.pool_snapshots.
type StoredSnapshot struct {
	Pool     string
	Block    uint64
	Snapshot *state.LiquidityPoolStorage
	Digest   [32]byte
}

func NewSnapshotStore(db *sql.DB, metrics *observability.Metrics) *SnapshotStore {
	return &SnapshotStore{db: db, metrics: metrics}
}

// SaveSnapshot persists a snapshot. Saving the same (pool, block) again
// overwrites it.
func (s *SnapshotStore) SaveSnapshot(ctx context.Context, pool string, block uint64, snap *state.LiquidityPoolStorage) ([32]byte, error) {
	data, err := json.Marshal(snap)
	if err != nil {
		return [32]byte{}, fmt.Errorf("marshal snapshot: %w", err)
	}
	digest, err := core.SnapshotDigest("pool_snapshot", snap)
	if err != nil {
		return [32]byte{}, err
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO amm.pool_snapshots (pool, block, data, digest, created_at)
		VALUES ($1, $2, $3, $4, NOW())
		ON CONFLICT (pool, block) DO UPDATE SET data = $3, digest = $4
	`, pool, int64(block), string(data), digest[:])
	if err != nil {
		if s.metrics != nil {
			s.metrics.PersistErrors.WithLabelValues("save_snapshot").Inc()
		}
		return [32]byte{}, fmt.Errorf("save snapshot %s@%d: %w", pool, block, err)
	}
	return digest, nil
}

// LoadLatest returns the newest snapshot of pool, or nil when none exists.
func (s *SnapshotStore) LoadLatest(ctx context.Context, pool string) (*StoredSnapshot, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT pool, block, data, digest FROM amm.pool_snapshots
		WHERE pool = $1
		ORDER BY block DESC
		LIMIT 1
	`, pool)

	snap, err := scanSnapshot(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("load snapshot %s: %w", pool, err)
	}
	if s.metrics != nil {
		s.metrics.SnapshotsLoaded.WithLabelValues(pool).Inc()
	}
	return snap, nil
}

// LoadAllLatest returns the newest snapshot of every pool, for warm restart.
func (s *SnapshotStore) LoadAllLatest(ctx context.Context) ([]*StoredSnapshot, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT DISTINCT ON (pool) pool, block, data, digest
		FROM amm.pool_snapshots
		ORDER BY pool, block DESC
	`)
	if err != nil {
		return nil, fmt.Errorf("load snapshots: %w", err)
	}
	defer rows.Close()

	var snaps []*StoredSnapshot
	for rows.Next() {
		snap, err := scanSnapshot(rows)
		if err != nil {
			return nil, err
		}
		if s.metrics != nil {
			s.metrics.SnapshotsLoaded.WithLabelValues(snap.Pool).Inc()
		}
		snaps = append(snaps, snap)
	}
	return snaps, rows.Err()
}

// PruneBefore deletes snapshots of pool older than block, keeping at least
// the latest one.
func (s *SnapshotStore) PruneBefore(ctx context.Context, pool string, block uint64) (int64, error) {
	res, err := s.db.ExecContext(ctx, `
		DELETE FROM amm.pool_snapshots
		WHERE pool = $1 AND block < $2
		  AND block < (SELECT MAX(block) FROM amm.pool_snapshots WHERE pool = $1)
	`, pool, int64(block))
	if err != nil {
		return 0, fmt.Errorf("prune snapshots %s: %w", pool, err)
	}
	return res.RowsAffected()
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanSnapshot(row rowScanner) (*StoredSnapshot, error) {
	var (
		snap   StoredSnapshot
		block  int64
		data   []byte
		digest []byte
	)
	if err := row.Scan(&snap.Pool, &block, &data, &digest); err != nil {
		return nil, err
	}
	snap.Block = uint64(block)
	copy(snap.Digest[:], digest)

	var p state.LiquidityPoolStorage
	if err := json.Unmarshal(data, &p); err != nil {
		return nil, fmt.Errorf("unmarshal snapshot %s@%d: %w", snap.Pool, snap.Block, err)
	}
	snap.Snapshot = &p
	return &snap, nil
}
