package amm

import (
	"PerpAMM/internal/errs"
	"PerpAMM/internal/math"
	"PerpAMM/internal/state"
)

// TradeState threads one AMM trade through close, open and spread. Each
// step returns a new state; a state is never modified after creation.
type TradeState struct {
	ctx TradingContext
}

func NewTradeState(c TradingContext) TradeState {
	return TradeState{ctx: c}
}

// Context returns the trading context accumulated so far.
func (s TradeState) Context() TradingContext { return s.ctx }

func (s TradeState) DeltaMargin() math.Decimal   { return s.ctx.DeltaMargin }
func (s TradeState) DeltaPosition() math.Decimal { return s.ctx.DeltaPosition }

// BestAskBidPrice returns the quoted marginal price, if a leg has set one.
func (s TradeState) BestAskBidPrice() (math.Decimal, bool) {
	if s.ctx.BestAskBidPrice == nil {
		return math.Zero, false
	}
	return *s.ctx.BestAskBidPrice, true
}

// Close moves the AMM position toward zero by amount (AMM perspective).
func (s TradeState) Close(amount math.Decimal) (TradeState, error) {
	c, err := internalClose(s.ctx, amount)
	if err != nil {
		return s, err
	}
	return TradeState{ctx: c}, nil
}

// Open moves the AMM position away from zero by amount (AMM perspective).
func (s TradeState) Open(amount math.Decimal) (TradeState, error) {
	c, err := internalOpen(s.ctx, amount)
	if err != nil {
		return s, err
	}
	return TradeState{ctx: c}, nil
}

// ApplySpread makes the whole trade of amount no better for the trader than
// the best ask/bid: ΔM = max(ΔM, -best * amount).
func (s TradeState) ApplySpread(amount math.Decimal) (TradeState, error) {
	best, ok := s.BestAskBidPrice()
	if !ok {
		return s, errs.Bug("bestAskBidPrice is null")
	}
	valueAtBestAskBidPrice := best.Mul(amount).Neg()
	c := s.ctx
	if c.DeltaMargin.LessThan(valueAtBestAskBidPrice) {
		c.DeltaMargin = valueAtBestAskBidPrice
	}
	return TradeState{ctx: c}, nil
}

// InternalTrade simulates the AMM taking amount (AMM perspective, i.e. the
// negated trader amount) in perpetualIndex, closing first and then opening.
func InternalTrade(p *state.LiquidityPoolStorage, perpetualIndex int, amount math.Decimal) (TradingContext, error) {
	c, err := NewTradingContext(p, &perpetualIndex)
	if err != nil {
		return TradingContext{}, err
	}
	close, open := state.SplitAmount(c.Position1, amount)
	if close.IsZero() && open.IsZero() {
		return TradingContext{}, errs.Bug("AMM trade: trading amount = 0")
	}

	s := NewTradeState(c)
	if !close.IsZero() {
		if s, err = s.Close(close); err != nil {
			return TradingContext{}, err
		}
	}
	if !open.IsZero() {
		if s, err = s.Open(open); err != nil {
			return TradingContext{}, err
		}
	}
	if s, err = s.ApplySpread(amount); err != nil {
		return TradingContext{}, err
	}
	return s.Context(), nil
}

func internalClose(c TradingContext, amount math.Decimal) (TradingContext, error) {
	beta := c.CloseSlippageFactor
	ret := c
	position2 := ret.Position1.Add(amount)

	safe, err := IsAMMSafe(ret, beta)
	if err != nil {
		return TradingContext{}, err
	}
	var deltaMargin math.Decimal
	if safe {
		if ret, err = SolvePoolMargin(ret, beta, false); err != nil {
			return TradingContext{}, err
		}
		best, err := BestAskBidPriceIfSafe(ret, beta, amount.IsPositive())
		if err != nil {
			return TradingContext{}, err
		}
		ret = ret.withBestAskBidPrice(best)
		if deltaMargin, err = DeltaMargin(ret, beta, position2); err != nil {
			return TradingContext{}, err
		}
	} else {
		ret = ret.withBestAskBidPrice(BestAskBidPriceIfUnsafe(ret))
		deltaMargin = ret.Index.Mul(amount).Neg()
	}

	// max close price discount: -P_i * ΔN * (1 ± δ)
	discount := c.MaxClosePriceDiscount
	if amount.IsNegative() {
		discount = discount.Neg()
	}
	limitValue := math.One.Add(discount).Mul(c.Index).Mul(amount).Neg()
	deltaMargin = math.Max(deltaMargin, limitValue)

	if math.HasTheSameSign(deltaMargin, amount) {
		return TradingContext{}, errs.Bug("close error. ΔM and amount has the same sign unexpectedly: %s vs %s", deltaMargin, amount)
	}
	return commit(ret, deltaMargin, amount, position2), nil
}

func internalOpen(c TradingContext, amount math.Decimal) (TradingContext, error) {
	beta := c.OpenSlippageFactor
	ret := c
	position2 := ret.Position1.Add(amount)

	safe, err := IsAMMSafe(ret, beta)
	if err != nil {
		return TradingContext{}, err
	}
	if !safe {
		return TradingContext{}, errs.InsufficientLiquidity("AMM can not open position anymore: unsafe before trade")
	}
	if ret, err = SolvePoolMargin(ret, beta, false); err != nil {
		return TradingContext{}, err
	}
	if !ret.PoolMargin.IsPositive() {
		return TradingContext{}, errs.InsufficientLiquidity("AMM can not open position anymore: pool margin must be positive")
	}
	if amount.IsPositive() {
		// 0.....position2.....safePosition2
		safePosition2, err := SafeLongPositionAmount(ret, beta)
		if err != nil {
			return TradingContext{}, err
		}
		if position2.GreaterThan(safePosition2) {
			return TradingContext{}, errs.InsufficientLiquidity(
				"AMM can not open position anymore: position too large after trade %s > %s", position2, safePosition2)
		}
	} else {
		// safePosition2.....position2.....0
		safePosition2, err := SafeShortPositionAmount(ret, beta)
		if err != nil {
			return TradingContext{}, err
		}
		if position2.LessThan(safePosition2) {
			return TradingContext{}, errs.InsufficientLiquidity(
				"AMM can not open position anymore: position too large after trade %s < %s", position2, safePosition2)
		}
	}

	if ret.BestAskBidPrice == nil {
		best, err := BestAskBidPriceIfSafe(ret, beta, amount.IsPositive())
		if err != nil {
			return TradingContext{}, err
		}
		ret = ret.withBestAskBidPrice(best)
	}
	deltaMargin, err := DeltaMargin(ret, beta, position2)
	if err != nil {
		return TradingContext{}, err
	}
	if math.HasTheSameSign(deltaMargin, amount) {
		return TradingContext{}, errs.Bug("open error. ΔM and amount has the same sign unexpectedly: %s vs %s", deltaMargin, amount)
	}
	return commit(ret, deltaMargin, amount, position2), nil
}

func commit(c TradingContext, deltaMargin, amount, position2 math.Decimal) TradingContext {
	c.DeltaMargin = c.DeltaMargin.Add(deltaMargin)
	c.DeltaPosition = c.DeltaPosition.Add(amount)
	c.Cash = c.Cash.Add(deltaMargin)
	c.Position1 = position2
	return c
}

// DeltaMargin integrates the curve price from Position1 to position2
// (cash2 - cash1), rounded to 18 places:
//
//	P_i (N1 - N2) (1 - β / M * P_i * (N2 + N1) / 2)
func DeltaMargin(c TradingContext, beta, position2 math.Decimal) (math.Decimal, error) {
	if (c.Position1.IsPositive() && position2.IsNegative()) || (c.Position1.IsNegative() && position2.IsPositive()) {
		return math.Zero, errs.Bug("bug: cross direction is not supported")
	}
	if !c.PoolMargin.IsPositive() {
		return math.Zero, errs.InsufficientLiquidity("AMM poolMargin <= 0")
	}
	ret := position2.Add(c.Position1).Div(math.Two).
		Mul(c.Index).
		Div(c.PoolMargin).
		Mul(beta)
	ret = math.One.Sub(ret)
	ret = c.Position1.Sub(position2).Mul(ret).Mul(c.Index)
	return ret.RoundWad(), nil
}
