package math

import "PerpAMM/internal/errs"

const (
	DefaultSearchMaxIteration = 100
)

// DefaultSearchTolerance is the relative width |right-left|/right at which
// SearchMaxAmount stops.
var DefaultSearchTolerance = MustFromString("1e-7")

// SearchOptions configures SearchMaxAmount. Exactly one of Guess or
// UpperLimit must be set.
type SearchOptions struct {
	// Guess seeds an exponential search for an upper limit. Values <= 0 start from 1.
	Guess *Decimal
	// UpperLimit skips the exponential phase: x* is assumed to lie in [0, UpperLimit).
	UpperLimit *Decimal
	// MaxIteration bounds the total number of predicate calls (both phases).
	// Zero means DefaultSearchMaxIteration.
	MaxIteration int
	// Tolerance is the relative stopping width. Zero means DefaultSearchTolerance.
	Tolerance Decimal
}

// SearchMaxAmount finds the largest x >= 0 such that f(x) holds.
//
// f must be monotonic: true for every 0 <= x <= x* and false for every x > x*.
// This is not checked; a non-monotonic predicate yields an arbitrary point
// where f switches. The search always terminates after MaxIteration probes
// and returns the last known-good left bound, or 0 if f(Tolerance) is false.
func SearchMaxAmount(f func(x Decimal) bool, opts SearchOptions) (Decimal, error) {
	maxIteration := opts.MaxIteration
	if maxIteration <= 0 {
		maxIteration = DefaultSearchMaxIteration
	}
	tolerance := opts.Tolerance
	if tolerance.IsZero() {
		tolerance = DefaultSearchTolerance
	}
	if (opts.Guess == nil) == (opts.UpperLimit == nil) {
		return Zero, errs.InvalidArgument("search requires exactly one of guess or upper limit")
	}
	if opts.UpperLimit != nil && opts.UpperLimit.Sign() <= 0 {
		return Zero, errs.InvalidArgument("search upper limit must be positive, got %s", *opts.UpperLimit)
	}

	// x* in [left, right)
	left := Zero
	var right Decimal
	rightIsInf := true

	if !f(tolerance) {
		return Zero, nil
	}

	if opts.Guess != nil {
		guess := *opts.Guess
		if guess.Sign() <= 0 {
			guess = One
		}
		for maxIteration > 0 {
			maxIteration--
			if f(guess) {
				left = guess
				guess = left.Mul(Two)
			} else {
				right = guess
				rightIsInf = false
				break
			}
		}
	} else {
		right = *opts.UpperLimit
		rightIsInf = false
	}
	if rightIsInf {
		// iterations exhausted while every guess still held
		return left, nil
	}

	for maxIteration > 0 {
		maxIteration--
		guess := left.Add(right).Div(Two)
		if f(guess) {
			left = guess
		} else {
			right = guess
		}
		if right.Sub(left).Div(right).LessThan(tolerance) {
			return left, nil
		}
	}
	return left, nil
}
