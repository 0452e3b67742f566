package amm

import (
	"PerpAMM/internal/errs"
	"PerpAMM/internal/math"
)

// IsAMMSafe reports whether the pool-margin equation has a real root at β:
//
//	cash >= √(2 Σ β P_i² N²) - Σ P_i N
func IsAMMSafe(c TradingContext, beta math.Decimal) (bool, error) {
	safeCash, err := math.Sqrt(math.Two.Mul(c.squareValueWithCurrent(beta)))
	if err != nil {
		return false, err
	}
	safeCash = safeCash.Sub(c.valueWithCurrent())
	return c.Cash.GreaterThanOrEqual(safeCash), nil
}

// SolvePoolMargin returns c with PoolMargin set to
//
//	M = (M_b + √(M_b² - 2 Σ β P_i² N²)) / 2
//
// A negative discriminant is a Bug unless allowUnsafe, in which case it is
// clamped to zero. Do not call with allowUnsafe=false unless IsAMMSafe holds.
func SolvePoolMargin(c TradingContext, beta math.Decimal, allowUnsafe bool) (TradingContext, error) {
	marginBalanceWithCurrent := c.Cash.Add(c.valueWithCurrent())
	beforeSqrt := marginBalanceWithCurrent.Mul(marginBalanceWithCurrent).
		Sub(math.Two.Mul(c.squareValueWithCurrent(beta)))
	if beforeSqrt.IsNegative() {
		if !allowUnsafe {
			return TradingContext{}, errs.Bug("AMM available margin sqrt < 0")
		}
		beforeSqrt = math.Zero
	}
	root, err := math.Sqrt(beforeSqrt)
	if err != nil {
		return TradingContext{}, err
	}
	poolMargin := marginBalanceWithCurrent.Add(root).Div(math.Two)
	if poolMargin.IsNegative() {
		return TradingContext{}, errs.InsufficientLiquidity("pool margin is negative")
	}
	c.PoolMargin = poolMargin
	return c, nil
}

// BoundKind tags a safe-position condition.
type BoundKind int

const (
	// BoundFinite: the condition limits |N| to Value.
	BoundFinite BoundKind = iota
	// BoundUnbounded: the condition never binds.
	BoundUnbounded
	// BoundEmpty: no position is safe under this condition.
	BoundEmpty
)

// Bound is the result of a safe-position condition.
type Bound struct {
	Kind  BoundKind
	Value math.Decimal
}

func finite(v math.Decimal) Bound { return Bound{Kind: BoundFinite, Value: v} }

func checkSlippageFactor(beta math.Decimal) error {
	if !beta.IsPositive() {
		return errs.InvalidArgument("slippage factor must be positive, got %s", beta)
	}
	return nil
}

// SafeCondition1 keeps the marginal price positive: M / P_i / β.
func SafeCondition1(c TradingContext, beta math.Decimal) (Bound, error) {
	if err := checkSlippageFactor(beta); err != nil {
		return Bound{}, err
	}
	position2 := c.PoolMargin.Div(c.Index).Div(beta)
	return finite(position2.RoundWad()), nil
}

// SafeCondition2 keeps every market within its AMM max leverage:
//
//	M - √(M(M - 2βλ²x))
//	--------------------   where x = M - Σ positionMargin_j + Σ β P_i_j² N_j² / 2 / M
//	      β λ P_i
//
// Unbounded when the discriminant is negative.
func SafeCondition2(c TradingContext, beta math.Decimal) (Bound, error) {
	if !c.PoolMargin.IsPositive() {
		return Bound{}, errs.InsufficientLiquidity("AMM poolMargin <= 0")
	}
	if err := checkSlippageFactor(beta); err != nil {
		return Bound{}, err
	}
	if !c.AMMMaxLeverage.IsPositive() {
		return Bound{}, errs.InvalidArgument("amm max leverage must be positive, got %s", c.AMMMaxLeverage)
	}
	x := c.PoolMargin.
		Sub(c.PositionMarginWithoutCurrent).
		Add(c.SquareValueWithoutCurrent.Div(c.PoolMargin).Div(math.Two))
	beforeSqrt := x.Mul(c.AMMMaxLeverage).Mul(c.AMMMaxLeverage).Mul(beta).Mul(math.Two)
	beforeSqrt = c.PoolMargin.Sub(beforeSqrt).Mul(c.PoolMargin)
	if beforeSqrt.IsNegative() {
		// the curve is always above the x-axis
		return Bound{Kind: BoundUnbounded}, nil
	}
	root, err := math.Sqrt(beforeSqrt)
	if err != nil {
		return Bound{}, err
	}
	position2 := math.Max(c.PoolMargin.Sub(root), math.Zero)
	position2 = position2.Div(beta).Div(c.AMMMaxLeverage).Div(c.Index)
	return finite(position2.RoundWad()), nil
}

// SafeCondition3 keeps the pool-margin discriminant non-negative:
//
//	√((2M² - Σ β P_i_j² N_j²) / β) / P_i
//
// Empty when the radicand is negative.
func SafeCondition3(c TradingContext, beta math.Decimal) (Bound, error) {
	if err := checkSlippageFactor(beta); err != nil {
		return Bound{}, err
	}
	beforeSqrt := math.Two.Mul(c.PoolMargin).Mul(c.PoolMargin).
		Sub(c.SquareValueWithoutCurrent).
		Div(beta)
	if beforeSqrt.IsNegative() {
		return Bound{Kind: BoundEmpty}, nil
	}
	root, err := math.Sqrt(beforeSqrt)
	if err != nil {
		return Bound{}, err
	}
	return finite(root.Div(c.Index).RoundWad()), nil
}

// SafeShortPositionAmount is the most negative position the AMM may hold.
// Requires a solved pool margin under a safe context.
func SafeShortPositionAmount(c TradingContext, beta math.Decimal) (math.Decimal, error) {
	if c.PoolMargin.Sign() <= 0 {
		return math.Zero, nil
	}
	condition3, err := SafeCondition3(c, beta)
	if err != nil {
		return math.Zero, err
	}
	if condition3.Kind == BoundEmpty {
		return math.Zero, nil
	}
	short3 := condition3.Value.Neg()
	condition2, err := SafeCondition2(c, beta)
	if err != nil {
		return math.Zero, err
	}
	if condition2.Kind == BoundUnbounded {
		return short3, nil
	}
	return math.Max(condition2.Value.Neg(), short3), nil
}

// SafeLongPositionAmount is the largest position the AMM may hold.
// Requires a solved pool margin under a safe context.
func SafeLongPositionAmount(c TradingContext, beta math.Decimal) (math.Decimal, error) {
	if c.PoolMargin.Sign() <= 0 {
		return math.Zero, nil
	}
	condition3, err := SafeCondition3(c, beta)
	if err != nil {
		return math.Zero, err
	}
	if condition3.Kind == BoundEmpty {
		return math.Zero, nil
	}
	condition1, err := SafeCondition1(c, beta)
	if err != nil {
		return math.Zero, err
	}
	condition13 := math.Min(condition1.Value, condition3.Value)
	condition2, err := SafeCondition2(c, beta)
	if err != nil {
		return math.Zero, err
	}
	if condition2.Kind == BoundUnbounded {
		return condition13, nil
	}
	return math.Min(condition2.Value, condition13), nil
}
