package state

import (
	"PerpAMM/internal/errs"
	"PerpAMM/internal/math"
)

type TradeWithPriceResult struct {
	AfterTrade  AccountDetails `json:"afterTrade"`
	TradeIsSafe bool           `json:"tradeIsSafe"`
	TotalFee    math.Decimal   `json:"totalFee"`
	// Automatic deposit (> 0) or withdraw (< 0) from the trader's wallet when
	// a target leverage is in effect.
	AdjustCollateral math.Decimal `json:"adjustCollateral"`
}

// ComputeFee charges price*|amount|*feeRate. A close-only trade never pays
// more than the available margin left after the trade.
func ComputeFee(hasOpened bool, price, amount, feeRate math.Decimal, afterTrade AccountDetails) (math.Decimal, error) {
	if price.Sign() <= 0 || amount.IsZero() {
		return math.Zero, errs.InvalidArgument("bad price %s or amount %s", price, amount)
	}
	totalFee := price.Mul(amount.Abs()).Mul(feeRate)
	if !hasOpened {
		availableMargin := afterTrade.Computed.AvailableMargin
		if availableMargin.Sign() <= 0 {
			totalFee = math.Zero
		} else if totalFee.GreaterThan(availableMargin) {
			totalFee = availableMargin
		}
	}
	return totalFee, nil
}

// ComputeTradeWithPrice settles a fill of amount at price for the trader:
// position update, fee, then the optional target-leverage margin adjustment.
func ComputeTradeWithPrice(
	p *LiquidityPoolStorage,
	perpetualIndex int,
	a AccountStorage,
	price, amount, feeRate math.Decimal,
	flags TradeFlag,
) (*TradeWithPriceResult, error) {
	if price.Sign() <= 0 || amount.IsZero() {
		return nil, errs.InvalidArgument("bad price %s or amount %s", price, amount)
	}
	perpetual, err := p.Perpetual(perpetualIndex)
	if err != nil {
		return nil, err
	}

	// trade
	newAccount := a
	close, open := SplitAmount(newAccount.PositionAmount, amount)
	if !close.IsZero() {
		if newAccount, err = ComputeDecreasePosition(p, perpetualIndex, newAccount, price, close); err != nil {
			return nil, err
		}
	}
	if !open.IsZero() {
		if newAccount, err = ComputeIncreasePosition(p, perpetualIndex, newAccount, price, open); err != nil {
			return nil, err
		}
	}

	// fee
	afterTrade, err := ComputeAccount(p, perpetualIndex, newAccount)
	if err != nil {
		return nil, err
	}
	totalFee, err := ComputeFee(!open.IsZero(), price, amount, feeRate, afterTrade)
	if err != nil {
		return nil, err
	}
	newAccount.CashBalance = newAccount.CashBalance.Sub(totalFee)
	if afterTrade, err = ComputeAccount(p, perpetualIndex, newAccount); err != nil {
		return nil, err
	}

	// adjust margin
	adjustCollateral := math.Zero
	oldUseTargetLeverage := flags.Has(MaskUseTargetLeverage)
	newTargetLeverage := flags.TargetLeverage()
	newUseTargetLeverage := newTargetLeverage.IsPositive()
	if oldUseTargetLeverage && newUseTargetLeverage {
		return nil, errs.InvalidArgument("invalid flags %#x", uint32(flags))
	}
	if oldUseTargetLeverage || newUseTargetLeverage {
		targetLeverage := newTargetLeverage
		if oldUseTargetLeverage {
			targetLeverage = a.TargetLeverage
		}
		if targetLeverage.IsZero() {
			targetLeverage = perpetual.DefaultTargetLeverage.Value
		}
		if perpetual.InitialMarginRate.IsPositive() {
			maxLeverage := math.One.Div(perpetual.InitialMarginRate)
			targetLeverage = math.Min(targetLeverage, maxLeverage)
		}
		adjustCollateral, err = AdjustMarginLeverage(p, perpetualIndex, afterTrade, price, close, open, totalFee, targetLeverage)
		if err != nil {
			return nil, err
		}
		newAccount.CashBalance = newAccount.CashBalance.Add(adjustCollateral)
	}

	// opening requires IM, closing only requires not bankrupt
	if afterTrade, err = ComputeAccount(p, perpetualIndex, newAccount); err != nil {
		return nil, err
	}
	tradeIsSafe := afterTrade.Computed.IsMarginSafe
	if !open.IsZero() {
		tradeIsSafe = afterTrade.Computed.IsIMSafe
	}
	return &TradeWithPriceResult{
		AfterTrade:       afterTrade,
		TradeIsSafe:      tradeIsSafe,
		TotalFee:         totalFee,
		AdjustCollateral: adjustCollateral,
	}, nil
}

// AdjustMarginLeverage returns the deposit (> 0) or withdraw (< 0) that lands
// the trader at the target leverage. afterTrade must already include the
// position change and the fee.
//
// Close only: keep the margin ratio of the remaining position, never deposit,
// and never withdraw below IM.
// Open or close+open: the opened part carries mark*|open|/leverage of margin,
// and the result is never below what IM requires.
func AdjustMarginLeverage(
	p *LiquidityPoolStorage,
	perpetualIndex int,
	afterTrade AccountDetails,
	price, close, open, totalFee, leverage math.Decimal,
) (math.Decimal, error) {
	perpetual, err := p.Perpetual(perpetualIndex)
	if err != nil {
		return math.Zero, err
	}
	deltaPosition := close.Add(open)
	deltaCash := deltaPosition.Mul(price).Neg()
	position2 := afterTrade.Storage.PositionAmount

	if !close.IsZero() && open.IsZero() {
		// -withdraw == (availableCash2 * close - (deltaCash - fee) * position2 + reservedValue) / position1
		adjustCollateral := afterTrade.Computed.AvailableCashBalance.Mul(close).
			Sub(deltaCash.Sub(totalFee).Mul(position2))
		if !position2.IsZero() {
			adjustCollateral = adjustCollateral.Sub(perpetual.KeeperGasReward.Mul(close))
		}
		adjustCollateral = adjustCollateral.Div(position2.Sub(close))
		adjustCollateral = math.Max(adjustCollateral, afterTrade.Computed.AvailableMargin.Neg())
		return math.Min(adjustCollateral, math.Zero), nil
	}

	if leverage.Sign() <= 0 {
		return math.Zero, errs.InvalidArgument("target leverage <= 0")
	}
	openPositionMargin := open.Abs().Mul(perpetual.MarkPrice).Div(leverage)
	var adjustCollateral math.Decimal
	if position2.Sub(deltaPosition).IsZero() || !close.IsZero() {
		// new margin balance = openPositionMargin
		adjustCollateral = openPositionMargin.Add(perpetual.KeeperGasReward).
			Sub(afterTrade.Computed.MarginBalance)
	} else {
		// append openPositionMargin - pnl + fee
		adjustCollateral = openPositionMargin.Sub(perpetual.MarkPrice.Mul(open)).
			Sub(deltaCash).
			Add(totalFee)
	}
	return math.Max(adjustCollateral, afterTrade.Computed.AvailableMargin.Neg()), nil
}
