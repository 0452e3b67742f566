// internal/math/funding.go
package math

// FundingTime is the period (seconds) over which a funding rate applies in full.
const FundingTime = 28800

var fundingTime = New(FundingTime)

// AccrueUnitFunding rolls the per-unit funding accumulator forward by
// elapsedSeconds at a constant rate:
//
//	uaf' = uaf + fundingRate * indexPrice * elapsed / FundingTime
func AccrueUnitFunding(unitAccumulativeFunding, fundingRate, indexPrice Decimal, elapsedSeconds int64) Decimal {
	if elapsedSeconds <= 0 {
		return unitAccumulativeFunding
	}
	delta := fundingRate.Mul(indexPrice).Mul(New(elapsedSeconds)).Div(fundingTime)
	return unitAccumulativeFunding.Add(delta)
}

// ComputeFundingPayment returns what a position pays between two accumulator
// readings. Positive = pays, negative = receives.
func ComputeFundingPayment(position, oldUnitAccumulativeFunding, newUnitAccumulativeFunding Decimal) Decimal {
	return position.Mul(newUnitAccumulativeFunding.Sub(oldUnitAccumulativeFunding))
}
