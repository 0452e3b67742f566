// internal/state/perpetual.go
package state

import (
	"sort"

	"PerpAMM/internal/errs"
	"PerpAMM/internal/math"
)

// PerpetualState is the lifecycle stage of one market in a pool.
type PerpetualState int32

const (
	PerpetualStateInvalid PerpetualState = iota
	PerpetualStateInitializing
	PerpetualStateNormal
	PerpetualStateEmergency
	PerpetualStateCleared
)

func (s PerpetualState) String() string {
	switch s {
	case PerpetualStateInvalid:
		return "Invalid"
	case PerpetualStateInitializing:
		return "Initializing"
	case PerpetualStateNormal:
		return "Normal"
	case PerpetualStateEmergency:
		return "Emergency"
	case PerpetualStateCleared:
		return "Cleared"
	default:
		return "Unknown"
	}
}

// ParsePerpetualState converts the contract's numeric state, rejecting
// anything outside the enum.
func ParsePerpetualState(v int64) (PerpetualState, error) {
	if v < int64(PerpetualStateInvalid) || v > int64(PerpetualStateCleared) {
		return PerpetualStateInvalid, errs.InvalidArgument("unknown perpetual state %d", v)
	}
	return PerpetualState(v), nil
}

// Option is a governable parameter together with its allowed range.
type Option struct {
	Value    math.Decimal `json:"value"`
	MinValue math.Decimal `json:"minValue"`
	MaxValue math.Decimal `json:"maxValue"`
}

// NewOption returns an Option whose range is unset.
func NewOption(v math.Decimal) Option {
	return Option{Value: v}
}

// PerpetualStorage is one market's snapshot. All decimals are de-scaled.
type PerpetualStorage struct {
	State  PerpetualState `json:"state"`
	Oracle string         `json:"oracle"`

	TotalCollateral         math.Decimal `json:"totalCollateral"`
	MarkPrice               math.Decimal `json:"markPrice"`
	IndexPrice              math.Decimal `json:"indexPrice"`
	FundingRate             math.Decimal `json:"fundingRate"`
	UnitAccumulativeFunding math.Decimal `json:"unitAccumulativeFunding"`

	InitialMarginRate      math.Decimal `json:"initialMarginRate"`
	MaintenanceMarginRate  math.Decimal `json:"maintenanceMarginRate"`
	OperatorFeeRate        math.Decimal `json:"operatorFeeRate"`
	LpFeeRate              math.Decimal `json:"lpFeeRate"`
	ReferrerRebateRate     math.Decimal `json:"referrerRebateRate"`
	LiquidationPenaltyRate math.Decimal `json:"liquidationPenaltyRate"`
	KeeperGasReward        math.Decimal `json:"keeperGasReward"`
	InsuranceFundRate      math.Decimal `json:"insuranceFundRate"`
	OpenInterest           math.Decimal `json:"openInterest"`
	// openInterest <= poolMargin * maxOpenInterestRate / indexPrice
	MaxOpenInterestRate math.Decimal `json:"maxOpenInterestRate"`

	HalfSpread            Option `json:"halfSpread"`            // α
	OpenSlippageFactor    Option `json:"openSlippageFactor"`    // β1
	CloseSlippageFactor   Option `json:"closeSlippageFactor"`   // β2
	FundingRateFactor     Option `json:"fundingRateFactor"`     // γ
	FundingRateLimit      Option `json:"fundingRateLimit"`      // Γ
	AMMMaxLeverage        Option `json:"ammMaxLeverage"`        // λ
	MaxClosePriceDiscount Option `json:"maxClosePriceDiscount"` // δ
	DefaultTargetLeverage Option `json:"defaultTargetLeverage"`
	BaseFundingRate       Option `json:"baseFundingRate"`

	Symbol             int64        `json:"symbol"`
	UnderlyingSymbol   string       `json:"underlyingSymbol"`
	IsMarketClosed     bool         `json:"isMarketClosed"`
	IsTerminated       bool         `json:"isTerminated"`
	AMMCashBalance     math.Decimal `json:"ammCashBalance"`
	AMMPositionAmount  math.Decimal `json:"ammPositionAmount"`
	IsInversePerpetual bool         `json:"isInversePerpetual"`
}

// IsNormal reports whether the market participates in the AMM aggregate.
func (p *PerpetualStorage) IsNormal() bool {
	return p.State == PerpetualStateNormal
}

// TotalFeeRate is vault + operator + LP.
func (p *PerpetualStorage) TotalFeeRate(vaultFeeRate math.Decimal) math.Decimal {
	return vaultFeeRate.Add(p.OperatorFeeRate).Add(p.LpFeeRate)
}

// LiquidityPoolStorage is a pool snapshot.
type LiquidityPoolStorage struct {
	IsSynced              bool         `json:"isSynced"`
	IsRunning             bool         `json:"isRunning"`
	IsFastCreationEnabled bool         `json:"isFastCreationEnabled"`
	InsuranceFundCap      math.Decimal `json:"insuranceFundCap"`

	Creator              string       `json:"creator"`
	Operator             string       `json:"operator"`
	TransferringOperator string       `json:"transferringOperator"`
	Governor             string       `json:"governor"`
	ShareToken           string       `json:"shareToken"`
	Collateral           string       `json:"collateral"`
	Vault                string       `json:"vault"`
	VaultFeeRate         math.Decimal `json:"vaultFeeRate"`
	CollateralDecimals   int32        `json:"collateralDecimals"`

	PoolCashBalance      math.Decimal `json:"poolCashBalance"`
	IsAMMMaintenanceSafe bool         `json:"isAMMMaintenanceSafe"`
	FundingTime          int64        `json:"fundingTime"`
	OperatorExpiration   int64        `json:"operatorExpiration"`
	InsuranceFund        math.Decimal `json:"insuranceFund"`
	DonatedInsuranceFund math.Decimal `json:"donatedInsuranceFund"`
	LiquidityCap         math.Decimal `json:"liquidityCap"`
	ShareTransferDelay   int64        `json:"shareTransferDelay"`

	Perpetuals map[int]*PerpetualStorage `json:"perpetuals"`
}

// Perpetual returns the market at index or an InvalidArgument error.
func (p *LiquidityPoolStorage) Perpetual(index int) (*PerpetualStorage, error) {
	perp, ok := p.Perpetuals[index]
	if !ok || perp == nil {
		return nil, errs.InvalidArgument("perpetual %d not found in the pool", index)
	}
	return perp, nil
}

// Indices returns the perpetual indices in ascending order.
func (p *LiquidityPoolStorage) Indices() []int {
	indices := make([]int, 0, len(p.Perpetuals))
	for i := range p.Perpetuals {
		indices = append(indices, i)
	}
	sort.Ints(indices)
	return indices
}

// Clone returns a copy whose perpetual map and entries can be replaced
// without touching p.
func (p *LiquidityPoolStorage) Clone() *LiquidityPoolStorage {
	c := *p
	c.Perpetuals = make(map[int]*PerpetualStorage, len(p.Perpetuals))
	for i, perp := range p.Perpetuals {
		cp := *perp
		c.Perpetuals[i] = &cp
	}
	return &c
}
