package math

import (
	"math/big"

	"PerpAMM/internal/errs"
)

// Sqrt returns floor(sqrt(x)) at wad precision, exactly as the contract does:
// x is scaled by 10^36, truncated to an integer, square-rooted with integer
// arithmetic and scaled back by 10^-18.
func Sqrt(x Decimal) (Decimal, error) {
	if x.IsNegative() {
		return Zero, errs.InvalidArgument("negative sqrt: %s", x)
	}
	scaled := x.Shift(2 * WadConfig.DecimalPrecision).BigInt()
	root := new(big.Int).Sqrt(scaled)
	return FromWad(root), nil
}
