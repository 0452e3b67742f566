package query

import (
	"PerpAMM/internal/event"
	"PerpAMM/internal/math"
	"PerpAMM/internal/state"
)

// AccountResponse is a trader's account in one market with everything
// derived from it.
type AccountResponse struct {
	Pool           string               `json:"pool"`
	PerpetualIndex int                  `json:"perpetual_index"`
	Account        state.AccountDetails `json:"account"`

	// Healthy, AtRisk or Liquidatable
	MarginStatus string `json:"margin_status"`

	// Funding the position pays (negative: receives) between the pool's
	// last funding update and the snapshot time, at the current rate.
	// Absent when the snapshot carries no times.
	PendingFunding *math.Decimal `json:"pending_funding,omitempty"`

	AsOfBlock uint64 `json:"as_of_block"`
}

func newAccountResponse(pool string, perpetualIndex int, block uint64, details state.AccountDetails) *AccountResponse {
	return &AccountResponse{
		Pool:           pool,
		PerpetualIndex: perpetualIndex,
		Account:        details,
		MarginStatus:   details.Computed.MarginStatus().String(),
		AsOfBlock:      block,
	}
}

func pendingFunding(u *event.SnapshotUpdate, perpetualIndex int, position, rate math.Decimal) *math.Decimal {
	p := u.Snapshot
	perpetual, ok := p.Perpetuals[perpetualIndex]
	if !ok || p.FundingTime <= 0 || u.Timestamp.IsZero() {
		return nil
	}
	next := math.AccrueUnitFunding(perpetual.UnitAccumulativeFunding, rate, perpetual.IndexPrice, u.Timestamp.Unix()-p.FundingTime)
	payment := math.ComputeFundingPayment(position, perpetual.UnitAccumulativeFunding, next)
	return &payment
}
