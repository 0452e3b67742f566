// Package amm prices trades against the pool's bonding curve and sizes
// liquidity changes. Every function takes a snapshot and returns new values;
// nothing here mutates its inputs.
package amm

import (
	"PerpAMM/internal/errs"
	"PerpAMM/internal/math"
	"PerpAMM/internal/state"
)

// TradingContext is the bonding-curve view of a pool from one perpetual.
//
// PoolMargin is only meaningful after SolvePoolMargin, and must be solved
// again whenever Cash or Position1 change or a different β is used.
type TradingContext struct {
	// current perpetual
	Index                 math.Decimal // P_i
	Position1             math.Decimal // N
	HalfSpread            math.Decimal // α
	OpenSlippageFactor    math.Decimal // β1
	CloseSlippageFactor   math.Decimal // β2
	FundingRateFactor     math.Decimal // γ
	FundingRateLimit      math.Decimal // Γ
	MaxClosePriceDiscount math.Decimal // δ
	AMMMaxLeverage        math.Decimal // λ

	// other Normal perpetuals, ascending index order
	OtherIndex              []math.Decimal
	OtherPosition           []math.Decimal
	OtherOpenSlippageFactor []math.Decimal
	OtherAMMMaxLeverage     []math.Decimal

	Cash       math.Decimal // M_c
	PoolMargin math.Decimal // M

	// trade accumulation
	DeltaMargin     math.Decimal
	DeltaPosition   math.Decimal
	BestAskBidPrice *math.Decimal

	ValueWithoutCurrent          math.Decimal // Σ P_i_j N_j
	SquareValueWithoutCurrent    math.Decimal // Σ β1_j P_i_j² N_j²
	PositionMarginWithoutCurrent math.Decimal // Σ P_i_j |N_j| / λ_j
}

// NewTradingContext builds the context for perpetualIndex, or a context in
// which every Normal market counts as "other" when perpetualIndex is nil.
func NewTradingContext(p *state.LiquidityPoolStorage, perpetualIndex *int) (TradingContext, error) {
	if perpetualIndex != nil {
		if _, err := p.Perpetual(*perpetualIndex); err != nil {
			return TradingContext{}, err
		}
	}

	var ctx TradingContext
	// M_c = poolCash + Σ (ammCash - uaf * N)
	cash := p.PoolCashBalance
	for _, id := range p.Indices() {
		perpetual := p.Perpetuals[id]
		if !perpetual.IsNormal() {
			continue
		}
		if !perpetual.IndexPrice.IsPositive() {
			return TradingContext{}, errs.InvalidArgument("index price must be positive, perpetual %d", id)
		}
		cash = cash.Add(perpetual.AMMCashBalance)
		cash = cash.Sub(perpetual.UnitAccumulativeFunding.Mul(perpetual.AMMPositionAmount))
		if perpetualIndex != nil && id == *perpetualIndex {
			ctx.Index = perpetual.IndexPrice
			ctx.Position1 = perpetual.AMMPositionAmount
			ctx.HalfSpread = perpetual.HalfSpread.Value
			ctx.OpenSlippageFactor = perpetual.OpenSlippageFactor.Value
			ctx.CloseSlippageFactor = perpetual.CloseSlippageFactor.Value
			ctx.FundingRateFactor = perpetual.FundingRateFactor.Value
			ctx.FundingRateLimit = perpetual.FundingRateLimit.Value
			ctx.MaxClosePriceDiscount = perpetual.MaxClosePriceDiscount.Value
			ctx.AMMMaxLeverage = perpetual.AMMMaxLeverage.Value
			continue
		}
		if !perpetual.AMMMaxLeverage.Value.IsPositive() {
			return TradingContext{}, errs.InvalidArgument("amm max leverage must be positive, perpetual %d", id)
		}
		ctx.OtherIndex = append(ctx.OtherIndex, perpetual.IndexPrice)
		ctx.OtherPosition = append(ctx.OtherPosition, perpetual.AMMPositionAmount)
		ctx.OtherOpenSlippageFactor = append(ctx.OtherOpenSlippageFactor, perpetual.OpenSlippageFactor.Value)
		ctx.OtherAMMMaxLeverage = append(ctx.OtherAMMMaxLeverage, perpetual.AMMMaxLeverage.Value)
	}
	ctx.Cash = cash
	return ctx.evaluateAggregates()
}

func (c TradingContext) evaluateAggregates() (TradingContext, error) {
	valueWithoutCurrent := math.Zero
	squareValueWithoutCurrent := math.Zero
	positionMarginWithoutCurrent := math.Zero
	for j := range c.OtherIndex {
		index, position := c.OtherIndex[j], c.OtherPosition[j]
		valueWithoutCurrent = valueWithoutCurrent.Add(index.Mul(position))
		squareValueWithoutCurrent = squareValueWithoutCurrent.Add(
			c.OtherOpenSlippageFactor[j].Mul(index).Mul(index).Mul(position).Mul(position))
		positionMarginWithoutCurrent = positionMarginWithoutCurrent.Add(
			index.Mul(position.Abs()).Div(c.OtherAMMMaxLeverage[j]))
	}

	// margin balance < 0 means the pool is in emergency
	marginBalanceWithCurrent := c.Cash.Add(valueWithoutCurrent).Add(c.Index.Mul(c.Position1))
	if marginBalanceWithCurrent.IsNegative() {
		return TradingContext{}, errs.InsufficientLiquidity("AMM is emergency")
	}

	c.ValueWithoutCurrent = valueWithoutCurrent
	c.SquareValueWithoutCurrent = squareValueWithoutCurrent
	c.PositionMarginWithoutCurrent = positionMarginWithoutCurrent
	return c, nil
}

// valueWithCurrent is Σ P_i N including the current market.
func (c TradingContext) valueWithCurrent() math.Decimal {
	return c.ValueWithoutCurrent.Add(c.Index.Mul(c.Position1))
}

// squareValueWithCurrent is Σ β P_i² N² including the current market at β.
func (c TradingContext) squareValueWithCurrent(beta math.Decimal) math.Decimal {
	return c.SquareValueWithoutCurrent.Add(
		beta.Mul(c.Index).Mul(c.Index).Mul(c.Position1).Mul(c.Position1))
}

func (c TradingContext) withBestAskBidPrice(price math.Decimal) TradingContext {
	c.BestAskBidPrice = &price
	return c
}
