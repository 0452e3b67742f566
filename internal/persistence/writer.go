package persistence

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"PerpAMM/internal/event"

	"github.com/lib/pq"
)

// QuoteLogWriter writes sequenced quotes to amm.quote_log using multi-row
// INSERT.
type QuoteLogWriter struct {
	db *sql.DB
}

const quoteLogColumns = 11

func NewQuoteLogWriter(db *sql.DB) *QuoteLogWriter {
	return &QuoteLogWriter{db: db}
}

// WriteBatch writes quotes in one statement. Rows whose sequence or
// request_id already exist are skipped.
func (w *QuoteLogWriter) WriteBatch(ctx context.Context, quotes []event.QuoteEnvelope) error {
	if len(quotes) == 0 {
		return nil
	}

	query := `INSERT INTO amm.quote_log
		(sequence, request_id, request_type, pool, block, digest, payload, error_kind, chain_hash, prev_hash, created_at)
		VALUES `

	values := make([]string, 0, len(quotes))
	args := make([]interface{}, 0, len(quotes)*quoteLogColumns)

	for i, q := range quotes {
		base := i * quoteLogColumns
		placeholders := make([]string, quoteLogColumns)
		for c := range placeholders {
			placeholders[c] = fmt.Sprintf("$%d", base+c+1)
		}
		values = append(values, "("+strings.Join(placeholders, ", ")+")")

		var payload sql.NullString
		if len(q.Payload) > 0 {
			payload = sql.NullString{String: string(q.Payload), Valid: true}
		}
		digest, chainHash, prevHash := q.Digest, q.ChainHash, q.PrevHash
		args = append(args,
			q.Sequence, q.RequestID.String(), q.RequestType.String(), q.PoolID, int64(q.Block),
			digest[:], payload, q.ErrorKind, chainHash[:], prevHash[:], q.Timestamp,
		)
	}

	query += strings.Join(values, ", ")
	query += " ON CONFLICT DO NOTHING"

	_, err := w.db.ExecContext(ctx, query, args...)
	return err
}

// PermanentWriteError reports whether Postgres rejected the statement for
// its content (data exception, integrity or syntax class), so retrying the
// same rows cannot succeed.
func PermanentWriteError(err error) bool {
	var pqErr *pq.Error
	if !errors.As(err, &pqErr) {
		return false
	}
	switch pqErr.Code.Class() {
	case "22", "23", "42":
		return true
	}
	return false
}
