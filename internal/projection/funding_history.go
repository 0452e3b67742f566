package projection

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"sync"
	"time"

	"PerpAMM/internal/math"
)

// FundingProjection is one market's funding rate and unit accumulative
// funding, accrued from the pool's last on-chain funding update to
// ProjectedAt.
type FundingProjection struct {
	Pool                    string       `json:"pool"`
	PerpetualIndex          int          `json:"perpetualIndex"`
	Block                   uint64       `json:"block"`
	FundingRate             math.Decimal `json:"fundingRate"`
	IndexPrice              math.Decimal `json:"indexPrice"`
	UnitAccumulativeFunding math.Decimal `json:"unitAccumulativeFunding"`
	ElapsedSeconds          int64        `json:"elapsedSeconds"`
	ProjectedAt             time.Time    `json:"projectedAt"`
}

// FundingSink receives each projection pass.
type FundingSink interface {
	WriteFunding(ctx context.Context, rows []FundingProjection) error
}

// FundingHistoryWriter appends projections to amm.funding_history.
type FundingHistoryWriter struct {
	db *sql.DB
}

func NewFundingHistoryWriter(db *sql.DB) *FundingHistoryWriter {
	return &FundingHistoryWriter{db: db}
}

const fundingColumns = 8

func (w *FundingHistoryWriter) WriteFunding(ctx context.Context, rows []FundingProjection) error {
	if len(rows) == 0 {
		return nil
	}

	query := `INSERT INTO amm.funding_history
		(pool, perpetual_index, block, funding_rate, index_price, unit_accumulative_funding, elapsed_seconds, projected_at)
		VALUES `

	values := make([]string, 0, len(rows))
	args := make([]interface{}, 0, len(rows)*fundingColumns)
	for i, r := range rows {
		base := i * fundingColumns
		values = append(values, fmt.Sprintf(
			"($%d, $%d, $%d, $%d, $%d, $%d, $%d, $%d)",
			base+1, base+2, base+3, base+4, base+5, base+6, base+7, base+8,
		))
		args = append(args,
			r.Pool, r.PerpetualIndex, int64(r.Block), r.FundingRate, r.IndexPrice,
			r.UnitAccumulativeFunding, r.ElapsedSeconds, r.ProjectedAt,
		)
	}

	query += strings.Join(values, ", ")
	query += " ON CONFLICT DO NOTHING"

	_, err := w.db.ExecContext(ctx, query, args...)
	return err
}

// FundingHistory keeps the most recent projections per market in memory
// for the query API.
type FundingHistory struct {
	mu      sync.RWMutex
	limit   int
	entries map[marketKey][]FundingProjection
}

type marketKey struct {
	pool           string
	perpetualIndex int
}

// NewFundingHistory keeps up to limit entries per market.
func NewFundingHistory(limit int) *FundingHistory {
	if limit <= 0 {
		limit = 1
	}
	return &FundingHistory{
		limit:   limit,
		entries: make(map[marketKey][]FundingProjection),
	}
}

// WriteFunding implements FundingSink.
func (h *FundingHistory) WriteFunding(_ context.Context, rows []FundingProjection) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	for _, r := range rows {
		k := marketKey{r.Pool, r.PerpetualIndex}
		entries := append(h.entries[k], r)
		if len(entries) > h.limit {
			entries = entries[len(entries)-h.limit:]
		}
		h.entries[k] = entries
	}
	return nil
}

// QueryByMarket returns up to limit projections for one market, newest
// first.
func (h *FundingHistory) QueryByMarket(pool string, perpetualIndex, limit int) []FundingProjection {
	h.mu.RLock()
	defer h.mu.RUnlock()

	entries := h.entries[marketKey{pool, perpetualIndex}]
	result := make([]FundingProjection, 0, limit)
	for i := len(entries) - 1; i >= 0 && len(result) < limit; i-- {
		result = append(result, entries[i])
	}
	return result
}
