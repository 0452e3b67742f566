package state

import (
	"fmt"

	"PerpAMM/internal/errs"
	"PerpAMM/internal/math"
)

// ValidatePerpetual checks that a loaded market snapshot is within the
// ranges the pricing formulas assume: 0 <= mm <= im, 0 <= α < 1, 0 <= δ < 1,
// and for Normal markets positive prices, β1, β2 and λ.
func ValidatePerpetual(p *PerpetualStorage) error {
	if _, err := ParsePerpetualState(int64(p.State)); err != nil {
		return err
	}
	if p.MaintenanceMarginRate.IsNegative() {
		return errs.InvalidArgument("maintenance_margin_rate must be >= 0, got %s", p.MaintenanceMarginRate)
	}
	if p.InitialMarginRate.LessThan(p.MaintenanceMarginRate) {
		return errs.InvalidArgument("initial_margin_rate (%s) must be >= maintenance_margin_rate (%s)",
			p.InitialMarginRate, p.MaintenanceMarginRate)
	}
	if p.HalfSpread.Value.IsNegative() || p.HalfSpread.Value.GreaterThanOrEqual(math.One) {
		return errs.InvalidArgument("half_spread must be in [0, 1), got %s", p.HalfSpread.Value)
	}
	if p.MaxClosePriceDiscount.Value.IsNegative() || p.MaxClosePriceDiscount.Value.GreaterThanOrEqual(math.One) {
		return errs.InvalidArgument("max_close_price_discount must be in [0, 1), got %s", p.MaxClosePriceDiscount.Value)
	}
	if p.FundingRateLimit.Value.IsNegative() {
		return errs.InvalidArgument("funding_rate_limit must be >= 0, got %s", p.FundingRateLimit.Value)
	}
	if !p.IsNormal() {
		return nil
	}
	if !p.IndexPrice.IsPositive() {
		return errs.InvalidArgument("index_price must be > 0, got %s", p.IndexPrice)
	}
	if !p.MarkPrice.IsPositive() {
		return errs.InvalidArgument("mark_price must be > 0, got %s", p.MarkPrice)
	}
	if !p.OpenSlippageFactor.Value.IsPositive() {
		return errs.InvalidArgument("open_slippage_factor must be > 0, got %s", p.OpenSlippageFactor.Value)
	}
	if !p.CloseSlippageFactor.Value.IsPositive() {
		return errs.InvalidArgument("close_slippage_factor must be > 0, got %s", p.CloseSlippageFactor.Value)
	}
	if !p.AMMMaxLeverage.Value.IsPositive() {
		return errs.InvalidArgument("amm_max_leverage must be > 0, got %s", p.AMMMaxLeverage.Value)
	}
	return nil
}

// ValidatePool runs ValidatePerpetual over every market in index order.
func ValidatePool(p *LiquidityPoolStorage) error {
	if p.VaultFeeRate.IsNegative() {
		return errs.InvalidArgument("vault_fee_rate must be >= 0, got %s", p.VaultFeeRate)
	}
	for _, i := range p.Indices() {
		if err := ValidatePerpetual(p.Perpetuals[i]); err != nil {
			return fmt.Errorf("invalid perpetual %d: %w", i, err)
		}
	}
	return nil
}
