package amm

import (
	"PerpAMM/internal/errs"
	"PerpAMM/internal/math"
	"PerpAMM/internal/state"
)

// RemoveLiquidityMaxShareRelax leaves 1% headroom on MaxRemovableShare so
// the share still passes after small state drift.
var RemoveLiquidityMaxShareRelax = math.MustFromString("0.99")

// β does not matter when no perpetual is "current".
var noCurrentBeta = math.Zero

type ShareToMintResult struct {
	ShareToMint   math.Decimal `json:"shareToMint"`
	PoolMargin    math.Decimal `json:"poolMargin"`
	NewPoolMargin math.Decimal `json:"newPoolMargin"`
}

// ShareToMint sizes the LP shares for adding cashToAdd. Both solves allow an
// unsafe pool so that liquidity can always be added.
func ShareToMint(p *state.LiquidityPoolStorage, totalShare, cashToAdd math.Decimal) (*ShareToMintResult, error) {
	c, err := NewTradingContext(p, nil)
	if err != nil {
		return nil, err
	}
	if c, err = SolvePoolMargin(c, noCurrentBeta, true); err != nil {
		return nil, err
	}
	poolMargin := c.PoolMargin

	next := c
	next.Cash = c.Cash.Add(cashToAdd)
	if next, err = SolvePoolMargin(next, noCurrentBeta, true); err != nil {
		return nil, err
	}
	newPoolMargin := next.PoolMargin

	var shareToMint math.Decimal
	if poolMargin.IsZero() {
		shareToMint = newPoolMargin
	} else {
		shareToMint = newPoolMargin.Sub(poolMargin).Mul(totalShare).Div(poolMargin)
	}
	return &ShareToMintResult{
		ShareToMint:   shareToMint,
		PoolMargin:    poolMargin,
		NewPoolMargin: newPoolMargin,
	}, nil
}

type CashToReturnResult struct {
	CashToReturn  math.Decimal `json:"cashToReturn"`
	PoolMargin    math.Decimal `json:"poolMargin"`
	NewPoolMargin math.Decimal `json:"newPoolMargin"`
}

// CashToReturn is the cash paid out for burning shareToRemove. It fails with
// InsufficientLiquidity if the pool would become unsafe, quote a negative
// price in any market, or exceed any market's max leverage.
func CashToReturn(p *state.LiquidityPoolStorage, totalShare, shareToRemove math.Decimal) (*CashToReturnResult, error) {
	if totalShare.Sign() <= 0 || shareToRemove.GreaterThan(totalShare) {
		return nil, errs.InvalidArgument("remove liquidity error. totalShare: %s shareToRemove: %s", totalShare, shareToRemove)
	}
	c, err := NewTradingContext(p, nil)
	if err != nil {
		return nil, err
	}
	safe, err := IsAMMSafe(c, noCurrentBeta)
	if err != nil {
		return nil, err
	}
	if !safe {
		return nil, errs.InsufficientLiquidity("AMM can not remove liquidity: unsafe before removing liquidity")
	}
	if c, err = SolvePoolMargin(c, noCurrentBeta, false); err != nil {
		return nil, err
	}
	poolMargin := c.PoolMargin
	if poolMargin.IsZero() {
		return &CashToReturnResult{}, nil
	}

	newPoolMargin := totalShare.Sub(shareToRemove).Mul(poolMargin).Div(totalShare)
	minPoolMargin, err := math.Sqrt(c.SquareValueWithoutCurrent.Div(math.Two))
	if err != nil {
		return nil, err
	}
	if newPoolMargin.LessThan(minPoolMargin) {
		return nil, errs.InsufficientLiquidity("AMM can not remove liquidity: unsafe after removing liquidity")
	}

	var cashToReturn math.Decimal
	switch {
	case newPoolMargin.IsZero():
		// remove all
		cashToReturn = c.Cash
	case newPoolMargin.IsNegative():
		return nil, errs.InsufficientLiquidity("AMM can not remove liquidity: pool margin must be positive")
	default:
		// M - Σ P_i N + Σ β P_i² N² / 2 / M
		cashToReturn = c.SquareValueWithoutCurrent.Div(newPoolMargin).Div(math.Two).
			Add(newPoolMargin).
			Sub(c.ValueWithoutCurrent)
		cashToReturn = c.Cash.Sub(cashToReturn)
	}
	if cashToReturn.IsNegative() {
		return nil, errs.InsufficientLiquidity("AMM can not remove liquidity: received margin is negative")
	}

	// the AMM must not offer a negative price: N_j <= M / β_j / P_i_j
	for j := range c.OtherIndex {
		if !c.OtherOpenSlippageFactor[j].IsPositive() {
			return nil, errs.InvalidArgument("slippage factor must be positive, got %s", c.OtherOpenSlippageFactor[j])
		}
		maxPosition := newPoolMargin.Div(c.OtherOpenSlippageFactor[j]).Div(c.OtherIndex[j])
		if c.OtherPosition[j].GreaterThan(maxPosition) {
			return nil, errs.InsufficientLiquidity("AMM can not remove liquidity: negative price in %d", j)
		}
	}

	// the AMM must stay within max leverage
	if c.Cash.Add(c.ValueWithoutCurrent).Sub(cashToReturn).LessThan(c.PositionMarginWithoutCurrent) {
		return nil, errs.InsufficientLiquidity("AMM can not remove liquidity: amm exceeds max leverage after removing liquidity")
	}

	return &CashToReturnResult{
		CashToReturn:  cashToReturn,
		PoolMargin:    poolMargin,
		NewPoolMargin: newPoolMargin,
	}, nil
}

// MaxRemovableShare is the largest share CashToReturn accepts, relaxed by
// RemoveLiquidityMaxShareRelax and truncated to 18 places.
func MaxRemovableShare(p *state.LiquidityPoolStorage, totalShare math.Decimal) (math.Decimal, error) {
	c, err := NewTradingContext(p, nil)
	if err != nil {
		return math.Zero, err
	}
	safe, err := IsAMMSafe(c, noCurrentBeta)
	if err != nil {
		return math.Zero, err
	}
	if !safe {
		return math.Zero, nil
	}
	if c, err = SolvePoolMargin(c, noCurrentBeta, false); err != nil {
		return math.Zero, err
	}
	poolMargin := c.PoolMargin
	if poolMargin.Sign() <= 0 {
		return math.Zero, nil
	}

	// no position anywhere
	if c.PositionMarginWithoutCurrent.IsZero() {
		return totalShare, nil
	}

	// keep the AMM safe
	minPoolMargin, err := math.Sqrt(c.SquareValueWithoutCurrent.Div(math.Two))
	if err != nil {
		return math.Zero, err
	}

	// keep every price positive: M >= β P_i N
	for j := range c.OtherIndex {
		minPoolMargin = math.Max(minPoolMargin,
			c.OtherOpenSlippageFactor[j].Mul(c.OtherIndex[j]).Mul(c.OtherPosition[j]))
	}

	// keep max leverage: newCash + Σ P_i N >= Σ P_i |N| / λ
	forLeverage := c
	forLeverage.Cash = c.PositionMarginWithoutCurrent.Sub(c.ValueWithoutCurrent)
	if forLeverage, err = SolvePoolMargin(forLeverage, noCurrentBeta, true); err != nil {
		return math.Zero, err
	}
	minPoolMargin = math.Max(minPoolMargin, forLeverage.PoolMargin)

	if minPoolMargin.GreaterThanOrEqual(poolMargin) {
		return math.Zero, nil
	}
	shareToRemove := math.One.Sub(minPoolMargin.Div(poolMargin)).Mul(totalShare)
	return shareToRemove.Mul(RemoveLiquidityMaxShareRelax).Round(18, math.RoundDown), nil
}
