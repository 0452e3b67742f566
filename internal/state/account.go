package state

import "PerpAMM/internal/math"

// AccountStorage is a trader's state in one perpetual.
type AccountStorage struct {
	CashBalance    math.Decimal `json:"cashBalance"`
	PositionAmount math.Decimal `json:"positionAmount"` // > 0 long
	TargetLeverage math.Decimal `json:"targetLeverage"`

	// Cost and funding basis; nil when not tracked.
	EntryValue   *math.Decimal `json:"entryValue,omitempty"`
	EntryFunding *math.Decimal `json:"entryFunding,omitempty"`
}

// AccountComputed holds values derived from AccountStorage and the market.
type AccountComputed struct {
	PositionValue        math.Decimal `json:"positionValue"`        // mark * |position|
	PositionMargin       math.Decimal `json:"positionMargin"`       // positionValue * IM rate
	MaintenanceMargin    math.Decimal `json:"maintenanceMargin"`    // positionValue * MM rate
	AvailableCashBalance math.Decimal `json:"availableCashBalance"` // cash - uaf * position
	MarginBalance        math.Decimal `json:"marginBalance"`        // availableCash + mark * position
	AvailableMargin      math.Decimal `json:"availableMargin"`      // may be negative
	WithdrawableBalance  math.Decimal `json:"withdrawableBalance"`
	IsMMSafe             bool         `json:"isMMSafe"`
	IsIMSafe             bool         `json:"isIMSafe"`
	IsMarginSafe         bool         `json:"isMarginSafe"`
	Leverage             math.Ratio   `json:"leverage"`
	MarginRatio          math.Ratio   `json:"marginRatio"`

	EntryPrice *math.Decimal `json:"entryPrice,omitempty"`
	FundingPNL *math.Decimal `json:"fundingPNL,omitempty"`
	PNL1       *math.Decimal `json:"pnl1,omitempty"`
	PNL2       *math.Decimal `json:"pnl2,omitempty"`
	ROE        *math.Decimal `json:"roe,omitempty"`

	// Estimated close price at which the account hits maintenance margin,
	// including the closing trading fee. Zero when flat or negative.
	LiquidationPrice math.Decimal `json:"liquidationPrice"`
}

// MarginStatus buckets the account by which margin requirement it still meets.
func (c *AccountComputed) MarginStatus() MarginStatus {
	if !c.IsMMSafe {
		return MarginStatusLiquidatable
	}
	if !c.IsIMSafe {
		return MarginStatusAtRisk
	}
	return MarginStatusHealthy
}

type AccountDetails struct {
	Storage  AccountStorage  `json:"accountStorage"`
	Computed AccountComputed `json:"accountComputed"`
}

// MarginStatus represents an account's margin health.
type MarginStatus int

const (
	MarginStatusHealthy MarginStatus = iota
	MarginStatusAtRisk
	MarginStatusLiquidatable
)

func (ms MarginStatus) String() string {
	switch ms {
	case MarginStatusHealthy:
		return "Healthy"
	case MarginStatusAtRisk:
		return "AtRisk"
	case MarginStatusLiquidatable:
		return "Liquidatable"
	default:
		return "Unknown"
	}
}

func decimalPtr(d math.Decimal) *math.Decimal {
	return &d
}
