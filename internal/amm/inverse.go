package amm

import (
	"PerpAMM/internal/errs"
	"PerpAMM/internal/math"
	"PerpAMM/internal/state"
)

// InverseVWAP solves for the AMM amount whose cumulative average price,
// including the ΔM/ΔN already in c, equals price. It takes the root on the
// isAMMBuy side of
//
//	A = P_i² β
//	B = 2 (-P_i M + A N1 + M price)
//	C = -2 M (prevMa1MinusMa2 - prevAmount price)
//
// c must carry a solved pool margin under a safe context. The result is
// truncated to 18 places.
func InverseVWAP(c TradingContext, price, beta math.Decimal, isAMMBuy bool) (math.Decimal, error) {
	previousMa1MinusMa2 := c.DeltaMargin.Neg()
	previousAmount := c.DeltaPosition

	a := c.Index.Mul(c.Index).Mul(beta)
	denominator := a.Mul(math.Two)
	if denominator.IsZero() {
		return math.Zero, errs.InvalidArgument("bad perpetual parameter beta %s or index %s", beta, c.Index)
	}
	b := c.Index.Mul(c.PoolMargin).Neg()
	b = b.Add(a.Mul(c.Position1))
	b = b.Add(c.PoolMargin.Mul(price))
	b = b.Mul(math.Two)
	cc := previousMa1MinusMa2.Sub(previousAmount.Mul(price)).
		Mul(c.PoolMargin).
		Mul(math.Two).
		Neg()
	beforeSqrt := a.Mul(cc).Mul(math.New(4)).Neg().Add(b.Mul(b))
	if beforeSqrt.IsNegative() {
		return math.Zero, errs.InvalidArgument(
			"impossible price. index = %s, price = %s, M = %s, position1 = %s, previousMa1MinusMa2 = %s, previousAmount = %s",
			c.Index, price, c.PoolMargin, c.Position1, previousMa1MinusMa2, previousAmount)
	}
	numerator, err := math.Sqrt(beforeSqrt)
	if err != nil {
		return math.Zero, err
	}
	if !isAMMBuy {
		numerator = numerator.Neg()
	}
	numerator = numerator.Sub(b)
	return numerator.Div(denominator).Round(18, math.RoundDown), nil
}

// AmountWithPrice is the largest trader amount that trades no worse than
// limitPrice, before fees. Positive means the trader buys.
func AmountWithPrice(p *state.LiquidityPoolStorage, perpetualIndex int, isTraderBuy bool, limitPrice math.Decimal) (math.Decimal, error) {
	c, err := NewTradingContext(p, &perpetualIndex)
	if err != nil {
		return math.Zero, err
	}
	isAMMBuy := !isTraderBuy
	var amount math.Decimal
	switch {
	case c.Position1.Sign() <= 0 && !isAMMBuy:
		amount, err = OpenAmountWithPrice(c, limitPrice, isAMMBuy)
	case c.Position1.IsNegative() && isAMMBuy:
		amount, err = CloseAndOpenAmountWithPrice(c, limitPrice, isAMMBuy)
	case c.Position1.Sign() >= 0 && isAMMBuy:
		amount, err = OpenAmountWithPrice(c, limitPrice, isAMMBuy)
	case c.Position1.IsPositive() && !isAMMBuy:
		amount, err = CloseAndOpenAmountWithPrice(c, limitPrice, isAMMBuy)
	default:
		return math.Zero, errs.InvalidArgument("unknown trading direction")
	}
	if err != nil {
		return math.Zero, err
	}
	return amount.Neg(), nil
}

// OpenAmountWithPrice is the AMM-side amount that opens away from
// Position1 until the average price reaches limitPrice, capped by the safe
// position. Spread is honored; fees are not.
func OpenAmountWithPrice(c TradingContext, limitPrice math.Decimal, isAMMBuy bool) (math.Decimal, error) {
	if (isAMMBuy && c.Position1.IsNegative()) || (!isAMMBuy && c.Position1.IsPositive()) {
		return math.Zero, errs.InvalidArgument("this is not opening. pos1: %s isBuy: %t", c.Position1, isAMMBuy)
	}

	// unsafe open
	beta := c.OpenSlippageFactor
	safe, err := IsAMMSafe(c, beta)
	if err != nil {
		return math.Zero, err
	}
	if !safe {
		return math.Zero, nil
	}
	if c, err = SolvePoolMargin(c, beta, false); err != nil {
		return math.Zero, err
	}

	// limit by spread
	if c.BestAskBidPrice == nil {
		best, err := BestAskBidPriceIfSafe(c, beta, isAMMBuy)
		if err != nil {
			return math.Zero, err
		}
		c = c.withBestAskBidPrice(best)
	}
	if isAMMBuy && limitPrice.GreaterThan(*c.BestAskBidPrice) {
		return math.Zero, nil
	}
	if !isAMMBuy && limitPrice.LessThan(*c.BestAskBidPrice) {
		return math.Zero, nil
	}

	// limit by safe position
	var safePosition2 math.Decimal
	if isAMMBuy {
		if safePosition2, err = SafeLongPositionAmount(c, beta); err != nil {
			return math.Zero, err
		}
		if safePosition2.LessThan(c.Position1) {
			return math.Zero, nil
		}
	} else {
		if safePosition2, err = SafeShortPositionAmount(c, beta); err != nil {
			return math.Zero, err
		}
		if safePosition2.GreaterThan(c.Position1) {
			return math.Zero, nil
		}
	}
	maxAmount := safePosition2.Sub(c.Position1)
	atSafePosition, err := internalOpen(c, maxAmount)
	if err != nil {
		return math.Zero, err
	}
	if !maxAmount.Equal(atSafePosition.DeltaPosition.Sub(c.DeltaPosition)) {
		return math.Zero, errs.Bug("open positions failed")
	}
	safePriceAtPosition2 := atSafePosition.DeltaMargin.Div(atSafePosition.DeltaPosition).Abs()
	if (isAMMBuy && safePriceAtPosition2.GreaterThanOrEqual(limitPrice)) ||
		(!isAMMBuy && safePriceAtPosition2.LessThanOrEqual(limitPrice)) {
		return maxAmount, nil
	}

	// inverse of the price function
	amount, err := InverseVWAP(c, limitPrice, beta, isAMMBuy)
	if err != nil {
		return math.Zero, err
	}
	if (isAMMBuy && amount.IsPositive()) || (!isAMMBuy && amount.IsNegative()) {
		return amount, nil
	}
	// only close is possible
	return math.Zero, nil
}

// CloseAndOpenAmountWithPrice is the AMM-side amount that first closes
// Position1 toward zero and, once flat, keeps opening on the other side
// while the average price stays within limitPrice.
func CloseAndOpenAmountWithPrice(c TradingContext, limitPrice math.Decimal, isAMMBuy bool) (math.Decimal, error) {
	if !c.DeltaMargin.IsZero() || !c.DeltaPosition.IsZero() {
		return math.Zero, errs.InvalidArgument("partial close is not supported")
	}
	if c.Position1.IsZero() {
		return math.Zero, errs.InvalidArgument("close from 0 is not supported")
	}

	// limit by α
	beta := c.CloseSlippageFactor
	safe, err := IsAMMSafe(c, beta)
	if err != nil {
		return math.Zero, err
	}
	if safe {
		if c, err = SolvePoolMargin(c, beta, false); err != nil {
			return math.Zero, err
		}
		best, err := BestAskBidPriceIfSafe(c, beta, isAMMBuy)
		if err != nil {
			return math.Zero, err
		}
		c = c.withBestAskBidPrice(best)
	} else {
		c = c.withBestAskBidPrice(BestAskBidPriceIfUnsafe(c))
	}
	if isAMMBuy && limitPrice.GreaterThan(*c.BestAskBidPrice) {
		return math.Zero, nil
	}
	if !isAMMBuy && limitPrice.LessThan(*c.BestAskBidPrice) {
		return math.Zero, nil
	}

	// limit by δ
	discountLimitPrice := closeDiscountLimitPrice(c)
	if isAMMBuy && limitPrice.GreaterThan(discountLimitPrice) {
		return math.Zero, nil
	}
	if !isAMMBuy && limitPrice.LessThan(discountLimitPrice) {
		return math.Zero, nil
	}

	// close all, if the price allows
	zero, err := internalClose(c, c.Position1.Neg())
	if err != nil {
		return math.Zero, err
	}
	if zero.DeltaPosition.IsZero() {
		return math.Zero, errs.Bug("close to zero failed")
	}
	zeroPrice := zero.DeltaMargin.Div(zero.DeltaPosition).Abs()
	switch {
	case (isAMMBuy && zeroPrice.GreaterThanOrEqual(limitPrice)) || (!isAMMBuy && zeroPrice.LessThanOrEqual(limitPrice)):
		c = zero
	case !safe:
		// unsafe close and the price does not match
		return math.Zero, nil
	default:
		// close by price
		amount, err := InverseVWAP(c, limitPrice, beta, isAMMBuy)
		if err != nil {
			return math.Zero, err
		}
		if (isAMMBuy && amount.IsPositive()) || (!isAMMBuy && amount.IsNegative()) {
			if c, err = internalClose(c, amount); err != nil {
				return math.Zero, err
			}
		}
	}

	// crossed zero: keep opening on the other side
	if (isAMMBuy && c.Position1.Sign() >= 0) || (!isAMMBuy && c.Position1.Sign() <= 0) {
		openAmount, err := OpenAmountWithPrice(c, limitPrice, isAMMBuy)
		if err != nil {
			return math.Zero, err
		}
		return c.DeltaPosition.Add(openAmount), nil
	}
	return c.DeltaPosition, nil
}
