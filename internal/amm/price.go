package amm

import (
	"PerpAMM/internal/errs"
	"PerpAMM/internal/math"
	"PerpAMM/internal/state"
)

// BestAskBidPriceIfSafe is the marginal curve price at Position1 with the
// half spread applied against the trader:
//
//	P_i (1 - β / M * P_i * N1) * (1 ∓ α)
//
// It ignores δ. Requires a solved pool margin.
func BestAskBidPriceIfSafe(c TradingContext, beta math.Decimal, isAMMBuy bool) (math.Decimal, error) {
	if !c.PoolMargin.IsPositive() {
		return math.Zero, errs.InsufficientLiquidity("AMM poolMargin <= 0")
	}
	price := c.Position1.Mul(c.Index).Div(c.PoolMargin).Mul(beta)
	price = math.One.Sub(price).Mul(c.Index)
	return appendSpread(c, price, isAMMBuy), nil
}

// BestAskBidPriceIfUnsafe pins the price to the index.
func BestAskBidPriceIfUnsafe(c TradingContext) math.Decimal {
	return c.Index
}

func appendSpread(c TradingContext, midPrice math.Decimal, isAMMBuy bool) math.Decimal {
	if isAMMBuy {
		// AMM buys, trader sells
		return midPrice.Mul(math.One.Sub(c.HalfSpread)).RoundWad()
	}
	return midPrice.Mul(math.One.Add(c.HalfSpread)).RoundWad()
}

// closeDiscountLimitPrice is (1 ± δ) * P_i for a close of the current position.
func closeDiscountLimitPrice(c TradingContext) math.Decimal {
	discount := c.MaxClosePriceDiscount
	if c.Position1.IsPositive() {
		discount = discount.Neg()
	}
	return math.One.Add(discount).Mul(c.Index)
}

// BestAskBidPrice is the price for an infinitesimal trade, covering the
// spread, the close discount and the unsafe (index-pinned) regime.
func BestAskBidPrice(p *state.LiquidityPoolStorage, perpetualIndex int, isAMMBuy bool) (math.Decimal, error) {
	c, err := NewTradingContext(p, &perpetualIndex)
	if err != nil {
		return math.Zero, err
	}
	isAMMClosing := (c.Position1.IsPositive() && !isAMMBuy) || (c.Position1.IsNegative() && isAMMBuy)
	beta := c.OpenSlippageFactor
	if isAMMClosing {
		beta = c.CloseSlippageFactor
	}

	safe, err := IsAMMSafe(c, beta)
	if err != nil {
		return math.Zero, err
	}
	if !safe {
		if !isAMMClosing {
			return math.Zero, errs.InsufficientLiquidity("AMM can not open position anymore: unsafe before trade")
		}
		return BestAskBidPriceIfUnsafe(c), nil
	}

	if c, err = SolvePoolMargin(c, beta, false); err != nil {
		return math.Zero, err
	}
	price, err := BestAskBidPriceIfSafe(c, beta, isAMMBuy)
	if err != nil {
		return math.Zero, err
	}
	if isAMMClosing {
		limit := closeDiscountLimitPrice(c)
		if isAMMBuy && price.GreaterThan(limit) {
			return limit, nil
		}
		if !isAMMBuy && price.LessThan(limit) {
			return limit, nil
		}
	}
	return price, nil
}
