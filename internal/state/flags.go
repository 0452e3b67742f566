package state

import (
	"PerpAMM/internal/errs"
	"PerpAMM/internal/math"
)

// TradeFlag is the 32-bit options word passed to a trade:
//
//	31               27 26                     7 6              0
//	+---+---+---+---+---+------------------------+----------------+
//	| C | M | S | T | R | Target leverage 20bits | Reserved 7bits |
//	+---+---+---+---+---+------------------------+----------------+
//
// Target leverage is fixed-point with 2 decimal digits; 0 disables the
// automatic deposit/withdraw.
type TradeFlag uint32

const (
	MaskCloseOnly         TradeFlag = 0x80000000
	MaskMarketOrder       TradeFlag = 0x40000000
	MaskStopLossOrder     TradeFlag = 0x20000000
	MaskTakeProfitOrder   TradeFlag = 0x10000000
	MaskUseTargetLeverage TradeFlag = 0x08000000
)

const targetLeverageBits = 0xfffff

var (
	hundred = math.New(100)
	// MaxTargetLeverage is the largest leverage the flag field can carry.
	MaxTargetLeverage = math.New(targetLeverageBits).Div(hundred)
)

func (f TradeFlag) Has(mask TradeFlag) bool {
	return f&mask != 0
}

// TargetLeverage decodes bits 7..26.
func (f TradeFlag) TargetLeverage() math.Decimal {
	raw := (uint32(f) >> 7) & targetLeverageBits
	return math.New(int64(raw)).Div(hundred)
}

// EncodeTargetLeverage packs leverage (2 decimal digits, truncated) into the
// target-leverage field. Negative leverage encodes as 0; anything above
// 10485.75 does not fit and is rejected.
func EncodeTargetLeverage(leverage math.Decimal) (TradeFlag, error) {
	scaled := leverage.Mul(hundred)
	if scaled.GreaterThan(math.New(targetLeverageBits)) {
		return 0, errs.InvalidArgument("target leverage %s exceeds %s", leverage, MaxTargetLeverage)
	}
	raw := scaled.IntPart()
	if raw < 0 {
		raw = 0
	}
	return TradeFlag(uint32(raw) << 7), nil
}
