package state

import "PerpAMM/internal/math"

// ComputeAccount derives margin, leverage and PNL figures for a trader in
// one perpetual. It is a pure function of its inputs.
func ComputeAccount(p *LiquidityPoolStorage, perpetualIndex int, s AccountStorage) (AccountDetails, error) {
	perpetual, err := p.Perpetual(perpetualIndex)
	if err != nil {
		return AccountDetails{}, err
	}
	positionValue := perpetual.MarkPrice.Mul(s.PositionAmount.Abs())
	positionMargin := positionValue.Mul(perpetual.InitialMarginRate)
	maintenanceMargin := positionValue.Mul(perpetual.MaintenanceMarginRate)
	reservedCash := math.Zero
	if !s.PositionAmount.IsZero() {
		reservedCash = perpetual.KeeperGasReward
	}
	availableCashBalance := s.CashBalance.Sub(s.PositionAmount.Mul(perpetual.UnitAccumulativeFunding))
	marginBalance := availableCashBalance.Add(perpetual.MarkPrice.Mul(s.PositionAmount))
	availableMargin := marginBalance.Sub(positionMargin).Sub(reservedCash)
	withdrawableBalance := math.Max(math.Zero, availableMargin)
	isIMSafe := !availableMargin.IsNegative()
	isMMSafe := !marginBalance.Sub(maintenanceMargin).Sub(reservedCash).IsNegative()
	isMarginSafe := marginBalance.GreaterThanOrEqual(reservedCash)
	marginWithoutReserved := marginBalance.Sub(reservedCash)

	leverage := math.FiniteRatio(math.Zero)
	if positionValue.IsPositive() {
		if marginWithoutReserved.IsPositive() {
			leverage = math.FiniteRatio(positionValue.Div(marginWithoutReserved))
		} else {
			leverage = math.Infinity
		}
	}
	marginRatio := math.FiniteRatio(math.Zero)
	if maintenanceMargin.IsPositive() {
		if marginWithoutReserved.IsPositive() {
			marginRatio = math.FiniteRatio(maintenanceMargin.Div(marginWithoutReserved))
		} else {
			marginRatio = math.Infinity
		}
	}

	var fundingPNL, entryPrice, pnl1, pnl2, roe *math.Decimal
	if s.EntryFunding != nil {
		fundingPNL = decimalPtr(s.EntryFunding.Sub(s.PositionAmount.Mul(perpetual.UnitAccumulativeFunding)))
	}
	if s.EntryValue != nil {
		if s.PositionAmount.IsZero() {
			entryPrice = decimalPtr(math.Zero)
		} else {
			entryPrice = decimalPtr(s.EntryValue.Div(s.PositionAmount))
		}
		pnl1 = decimalPtr(perpetual.MarkPrice.Mul(s.PositionAmount).Sub(*s.EntryValue))
	}
	if pnl1 != nil && fundingPNL != nil {
		pnl2 = decimalPtr(pnl1.Add(*fundingPNL))
	}
	if pnl2 != nil && s.EntryValue != nil && s.EntryFunding != nil {
		entryCash := s.CashBalance.Add(*s.EntryValue).Sub(*s.EntryFunding)
		if entryCash.IsZero() {
			roe = decimalPtr(math.Zero)
		} else {
			roe = decimalPtr(pnl2.Div(entryCash))
		}
	}

	// Solves availableCash - reserved + price*pos = (mm + fee) * price * |pos|
	// for price, so the closing fee is already paid at the quoted level.
	liquidationPrice := math.Zero
	if !s.PositionAmount.IsZero() {
		tradingFeeRate := perpetual.TotalFeeRate(p.VaultFeeRate)
		t := perpetual.MaintenanceMarginRate.Add(tradingFeeRate).
			Mul(s.PositionAmount.Abs()).
			Sub(s.PositionAmount)
		if !t.IsZero() {
			liquidationPrice = availableCashBalance.Sub(reservedCash).Div(t)
		}
		if liquidationPrice.IsNegative() {
			liquidationPrice = math.Zero
		}
	}

	return AccountDetails{
		Storage: s,
		Computed: AccountComputed{
			PositionValue:        positionValue,
			PositionMargin:       positionMargin,
			MaintenanceMargin:    maintenanceMargin,
			AvailableCashBalance: availableCashBalance,
			MarginBalance:        marginBalance,
			AvailableMargin:      availableMargin,
			WithdrawableBalance:  withdrawableBalance,
			IsMMSafe:             isMMSafe,
			IsIMSafe:             isIMSafe,
			IsMarginSafe:         isMarginSafe,
			Leverage:             leverage,
			MarginRatio:          marginRatio,
			EntryPrice:           entryPrice,
			FundingPNL:           fundingPNL,
			PNL1:                 pnl1,
			PNL2:                 pnl2,
			ROE:                  roe,
			LiquidationPrice:     liquidationPrice,
		},
	}, nil
}
