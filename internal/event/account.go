package event

import (
	"PerpAMM/internal/math"
	"PerpAMM/internal/order"
	"PerpAMM/internal/state"

	"github.com/google/uuid"
)

type FundingRateQuery struct {
	ID             uuid.UUID
	Pool           string
	PerpetualIndex int
}

func (f *FundingRateQuery) RequestID() uuid.UUID     { return f.ID }
func (f *FundingRateQuery) RequestType() RequestType { return RequestTypeFundingRate }
func (f *FundingRateQuery) PoolID() string           { return f.Pool }

type AccountQuery struct {
	ID             uuid.UUID
	Pool           string
	PerpetualIndex int
	Account        state.AccountStorage
}

func (a *AccountQuery) RequestID() uuid.UUID     { return a.ID }
func (a *AccountQuery) RequestType() RequestType { return RequestTypeAccount }
func (a *AccountQuery) PoolID() string           { return a.Pool }

// OrderCostQuery prices a new limit order against the trader's resting
// orders. Every order's Symbol must have an entry in Markets; Pool is the
// pool of NewOrder.
type OrderCostQuery struct {
	ID            uuid.UUID
	Pool          string
	Markets       map[int64]MarketRef
	WalletBalance math.Decimal
	Orders        []order.Order
	NewOrder      order.Order
}

// MarketRef binds an order symbol to a pool market and the trader's
// account in it.
type MarketRef struct {
	Pool           string
	PerpetualIndex int
	Account        state.AccountStorage
}

func (o *OrderCostQuery) RequestID() uuid.UUID     { return o.ID }
func (o *OrderCostQuery) RequestType() RequestType { return RequestTypeOrderCost }
func (o *OrderCostQuery) PoolID() string           { return o.Pool }

// LimitOrderMaxQuery asks for the largest limit order on Symbol the wallet
// can fund next to the resting orders. Pool is the pool of Symbol.
type LimitOrderMaxQuery struct {
	ID             uuid.UUID
	Pool           string
	Markets        map[int64]MarketRef
	WalletBalance  math.Decimal
	Orders         []order.Order
	Symbol         int64
	LimitPrice     math.Decimal
	IsTraderBuy    bool
	TargetLeverage math.Decimal
}

func (l *LimitOrderMaxQuery) RequestID() uuid.UUID     { return l.ID }
func (l *LimitOrderMaxQuery) RequestType() RequestType { return RequestTypeLimitOrderMax }
func (l *LimitOrderMaxQuery) PoolID() string           { return l.Pool }
