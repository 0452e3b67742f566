package query

import (
	"PerpAMM/internal/amm"
	"PerpAMM/internal/core"
	"PerpAMM/internal/math"
)

// Every response carries the block of the snapshot it was computed on.

// TradePreviewResponse is the outcome of one market order.
type TradePreviewResponse struct {
	Pool           string            `json:"pool"`
	PerpetualIndex int               `json:"perpetual_index"`
	Trade          *core.TradeResult `json:"trade"`
	AsOfBlock      uint64            `json:"as_of_block"`
}

// AmountResponse answers the amount searches (max trade, trade by margin,
// amount at a limit price, limit order max); the sign is the side.
type AmountResponse struct {
	Pool           string       `json:"pool"`
	PerpetualIndex int          `json:"perpetual_index"`
	Amount         math.Decimal `json:"amount"`
	AsOfBlock      uint64       `json:"as_of_block"`
}

type AddLiquidityResponse struct {
	Pool      string                 `json:"pool"`
	Result    *amm.ShareToMintResult `json:"result"`
	AsOfBlock uint64                 `json:"as_of_block"`
}

// RemoveLiquidityResponse omits Result when no share was asked for.
type RemoveLiquidityResponse struct {
	Pool              string                  `json:"pool"`
	MaxRemovableShare math.Decimal            `json:"max_removable_share"`
	Result            *amm.CashToReturnResult `json:"result,omitempty"`
	AsOfBlock         uint64                  `json:"as_of_block"`
}

// FundingRateResponse includes the best quotes on both sides. A side the
// AMM refuses to quote is omitted.
type FundingRateResponse struct {
	Pool           string        `json:"pool"`
	PerpetualIndex int           `json:"perpetual_index"`
	FundingRate    math.Decimal  `json:"funding_rate"`
	BestAsk        *math.Decimal `json:"best_ask,omitempty"`
	BestBid        *math.Decimal `json:"best_bid,omitempty"`
	AsOfBlock      uint64        `json:"as_of_block"`
}

// OrderCostResponse is the extra wallet balance a new limit order ties up.
type OrderCostResponse struct {
	Pool      string       `json:"pool"`
	Cost      math.Decimal `json:"cost"`
	AsOfBlock uint64       `json:"as_of_block"`
}

// PoolSummary is the status view of one loaded pool.
type PoolSummary struct {
	Pool       string `json:"pool"`
	Block      uint64 `json:"block"`
	Perpetuals int    `json:"perpetuals"`
	IsRunning  bool   `json:"is_running"`
	Gaps       int64  `json:"block_gaps"`
}
