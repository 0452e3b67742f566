package amm

import (
	"PerpAMM/internal/math"
	"PerpAMM/internal/state"
)

// FundingRate is the rate the AMM would charge right now:
//
//	fr = base + (-γ * P_i * N / M), clamped to ±Γ
//
// base applies only while open interest is non-zero and its sign opposes
// the AMM position. An unsafe AMM saturates at ±Γ against its position.
func FundingRate(p *state.LiquidityPoolStorage, perpetualIndex int) (math.Decimal, error) {
	c, err := NewTradingContext(p, &perpetualIndex)
	if err != nil {
		return math.Zero, err
	}
	safe, err := IsAMMSafe(c, c.OpenSlippageFactor)
	if err != nil {
		return math.Zero, err
	}
	if !safe {
		switch c.Position1.Sign() {
		case 0:
			return math.Zero, nil
		case 1:
			return c.FundingRateLimit.Neg(), nil
		default:
			return c.FundingRateLimit, nil
		}
	}

	perpetual, err := p.Perpetual(perpetualIndex)
	if err != nil {
		return math.Zero, err
	}
	if c, err = SolvePoolMargin(c, c.OpenSlippageFactor, false); err != nil {
		return math.Zero, err
	}
	fr := math.Zero
	if !perpetual.OpenInterest.IsZero() {
		base := perpetual.BaseFundingRate.Value
		if (base.IsPositive() && c.Position1.Sign() <= 0) || (base.IsNegative() && c.Position1.Sign() >= 0) {
			fr = base
		}
	}
	if c.PoolMargin.IsPositive() {
		fr = fr.Add(c.FundingRateFactor.Mul(c.Index).Mul(c.Position1).Div(c.PoolMargin).Neg())
	}
	fr = math.Min(fr, c.FundingRateLimit)
	fr = math.Max(fr, c.FundingRateLimit.Neg())
	return fr, nil
}
