package event

import (
	"PerpAMM/internal/math"
	"PerpAMM/internal/state"

	"github.com/google/uuid"
)

// TradePreview asks for the outcome of trading Amount (trader's
// perspective, > 0 buys) against the AMM.
type TradePreview struct {
	ID             uuid.UUID
	Pool           string
	PerpetualIndex int
	Trader         state.AccountStorage
	Amount         math.Decimal
	Flags          state.TradeFlag
}

func (t *TradePreview) RequestID() uuid.UUID     { return t.ID }
func (t *TradePreview) RequestType() RequestType { return RequestTypeTradePreview }
func (t *TradePreview) PoolID() string           { return t.Pool }

// MaxTradeQuery asks for the largest market order the trader can send.
// TargetLeverage = 0 disables the automatic deposit.
type MaxTradeQuery struct {
	ID             uuid.UUID
	Pool           string
	PerpetualIndex int
	Trader         state.AccountStorage
	WalletBalance  math.Decimal
	IsTraderBuy    bool
	TargetLeverage math.Decimal
}

func (m *MaxTradeQuery) RequestID() uuid.UUID     { return m.ID }
func (m *MaxTradeQuery) RequestType() RequestType { return RequestTypeMaxTrade }
func (m *MaxTradeQuery) PoolID() string           { return m.Pool }

// AmountWithPriceQuery asks how much the trader can trade against the AMM
// before the average price crosses LimitPrice.
type AmountWithPriceQuery struct {
	ID             uuid.UUID
	Pool           string
	PerpetualIndex int
	IsTraderBuy    bool
	LimitPrice     math.Decimal
}

func (a *AmountWithPriceQuery) RequestID() uuid.UUID     { return a.ID }
func (a *AmountWithPriceQuery) RequestType() RequestType { return RequestTypeAmountWithPrice }
func (a *AmountWithPriceQuery) PoolID() string           { return a.Pool }

// TradeByMarginQuery asks for the largest trade whose AMM margin change
// stays within DeltaMargin (trader's side: < 0 buys, > 0 sells).
type TradeByMarginQuery struct {
	ID             uuid.UUID
	Pool           string
	PerpetualIndex int
	DeltaMargin    math.Decimal
}

func (t *TradeByMarginQuery) RequestID() uuid.UUID     { return t.ID }
func (t *TradeByMarginQuery) RequestType() RequestType { return RequestTypeTradeByMargin }
func (t *TradeByMarginQuery) PoolID() string           { return t.Pool }
