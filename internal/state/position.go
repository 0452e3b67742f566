package state

import (
	"PerpAMM/internal/errs"
	"PerpAMM/internal/math"
)

// SplitAmount divides a signed trade into the part that reduces the current
// position (close) and the part that opens beyond zero (open).
//
//	same sign (or either zero)         -> close 0, open amount
//	opposite, |position| >= |amount|   -> close amount, open 0
//	opposite, |position| <  |amount|   -> close -position, open position+amount
func SplitAmount(position, amount math.Decimal) (close, open math.Decimal) {
	if math.HasTheSameSign(position, amount) {
		return math.Zero, amount
	}
	if position.Abs().GreaterThanOrEqual(amount.Abs()) {
		return amount, math.Zero
	}
	return position.Neg(), position.Add(amount)
}

// ComputeDecreasePosition applies a reducing fill at price. Entry value and
// entry funding shrink proportionally.
func ComputeDecreasePosition(p *LiquidityPoolStorage, perpetualIndex int, a AccountStorage, price, amount math.Decimal) (AccountStorage, error) {
	perpetual, err := p.Perpetual(perpetualIndex)
	if err != nil {
		return AccountStorage{}, err
	}
	oldAmount := a.PositionAmount
	if oldAmount.IsZero() || amount.IsZero() || math.HasTheSameSign(oldAmount, amount) {
		return AccountStorage{}, errs.InvalidArgument("bad amount %s to decrease when position is %s", amount, oldAmount)
	}
	if price.Sign() <= 0 {
		return AccountStorage{}, errs.InvalidArgument("bad price %s", price)
	}
	if oldAmount.Abs().LessThan(amount.Abs()) {
		return AccountStorage{}, errs.InvalidArgument("position size |%s| is less than amount |%s|", oldAmount, amount)
	}
	cashBalance := a.CashBalance.Sub(price.Mul(amount))
	cashBalance = cashBalance.Add(perpetual.UnitAccumulativeFunding.Mul(amount))
	positionAmount := oldAmount.Add(amount)

	next := AccountStorage{
		CashBalance:    cashBalance,
		PositionAmount: positionAmount,
		TargetLeverage: a.TargetLeverage,
	}
	if a.EntryFunding != nil {
		next.EntryFunding = decimalPtr(a.EntryFunding.Mul(positionAmount).Div(oldAmount))
	}
	if a.EntryValue != nil {
		next.EntryValue = decimalPtr(a.EntryValue.Mul(positionAmount).Div(oldAmount))
	}
	return next, nil
}

// ComputeIncreasePosition applies an opening fill at price.
func ComputeIncreasePosition(p *LiquidityPoolStorage, perpetualIndex int, a AccountStorage, price, amount math.Decimal) (AccountStorage, error) {
	perpetual, err := p.Perpetual(perpetualIndex)
	if err != nil {
		return AccountStorage{}, err
	}
	oldAmount := a.PositionAmount
	if price.Sign() <= 0 {
		return AccountStorage{}, errs.InvalidArgument("bad price %s", price)
	}
	if amount.IsZero() {
		return AccountStorage{}, errs.InvalidArgument("bad amount")
	}
	if !oldAmount.IsZero() && !math.HasTheSameSign(oldAmount, amount) {
		return AccountStorage{}, errs.InvalidArgument("bad increase size %s where position is %s", amount, oldAmount)
	}
	cashBalance := a.CashBalance.Sub(price.Mul(amount))
	cashBalance = cashBalance.Add(perpetual.UnitAccumulativeFunding.Mul(amount))

	next := AccountStorage{
		CashBalance:    cashBalance,
		PositionAmount: oldAmount.Add(amount),
		TargetLeverage: a.TargetLeverage,
	}
	if a.EntryValue != nil {
		next.EntryValue = decimalPtr(a.EntryValue.Add(price.Mul(amount)))
	}
	if a.EntryFunding != nil {
		next.EntryFunding = decimalPtr(a.EntryFunding.Add(perpetual.UnitAccumulativeFunding.Mul(amount)))
	}
	return next, nil
}
