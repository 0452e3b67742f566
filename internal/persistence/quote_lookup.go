package persistence

import (
	"context"
	"database/sql"
	"fmt"

	"PerpAMM/internal/event"

	"github.com/google/uuid"
)

// QuoteLookup reads the quote log. Repeating a request ID replays the
// logged answer instead of recomputing it on a newer snapshot.
type QuoteLookup struct {
	db *sql.DB
}

func NewQuoteLookup(db *sql.DB) *QuoteLookup {
	return &QuoteLookup{db: db}
}

// ByRequestID returns the logged quote for requestID, or nil.
func (l *QuoteLookup) ByRequestID(ctx context.Context, requestID uuid.UUID) (*event.QuoteEnvelope, error) {
	var (
		q           event.QuoteEnvelope
		requestType string
		block       int64
		payload     sql.NullString
		digest      []byte
		chainHash   []byte
		prevHash    []byte
	)
	err := l.db.QueryRowContext(ctx, `
		SELECT sequence, request_type, pool, block, digest, payload, error_kind, chain_hash, prev_hash, created_at
		FROM amm.quote_log
		WHERE request_id = $1
	`, requestID.String()).Scan(
		&q.Sequence, &requestType, &q.PoolID, &block, &digest, &payload, &q.ErrorKind, &chainHash, &prevHash, &q.Timestamp,
	)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("lookup quote %s: %w", requestID, err)
	}

	q.RequestID = requestID
	q.RequestType = event.ParseRequestType(requestType)
	q.Block = uint64(block)
	if payload.Valid {
		q.Payload = []byte(payload.String)
	}
	copy(q.Digest[:], digest)
	copy(q.ChainHash[:], chainHash)
	copy(q.PrevHash[:], prevHash)
	return &q, nil
}

// LastLink returns the chain hash and sequence of the newest quote.
func (l *QuoteLookup) LastLink(ctx context.Context) (hash [32]byte, sequence int64, found bool, err error) {
	var raw []byte
	err = l.db.QueryRowContext(ctx, `
		SELECT sequence, chain_hash FROM amm.quote_log ORDER BY sequence DESC LIMIT 1
	`).Scan(&sequence, &raw)
	if err == sql.ErrNoRows {
		return hash, 0, false, nil
	}
	if err != nil {
		return hash, 0, false, fmt.Errorf("last quote link: %w", err)
	}
	copy(hash[:], raw)
	return hash, sequence, true, nil
}
