package state

import (
	"fmt"

	"PerpAMM/internal/errs"
	"PerpAMM/internal/math"
)

// ComputeOpenInterest updates the long-side open interest for one account
// whose position moves from oldPosition by tradeAmount.
func ComputeOpenInterest(oldOpenInterest, oldPosition, tradeAmount math.Decimal) math.Decimal {
	newOpenInterest := oldOpenInterest
	newPosition := oldPosition.Add(tradeAmount)
	if oldPosition.IsPositive() {
		newOpenInterest = newOpenInterest.Sub(oldPosition)
	}
	if newPosition.IsPositive() {
		newOpenInterest = newOpenInterest.Add(newPosition)
	}
	return newOpenInterest
}

// OpenInterestExceededError is returned when a trade would grow open interest
// past the pool's cap. It carries both values so callers can size down.
type OpenInterestExceededError struct {
	NewOpenInterest math.Decimal
	Limit           math.Decimal
}

func (e *OpenInterestExceededError) Error() string {
	return fmt.Sprintf("%s: open interest exceeds limit: %s > %s",
		errs.KindOpenInterestExceeded, e.NewOpenInterest, e.Limit)
}

// ErrorKind implements errs.Kinded.
func (e *OpenInterestExceededError) ErrorKind() errs.Kind {
	return errs.KindOpenInterestExceeded
}
