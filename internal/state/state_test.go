package state_test

import (
	"bytes"
	"encoding/json"
	"testing"

	"PerpAMM/internal/errs"
	"PerpAMM/internal/math"
	"PerpAMM/internal/state"
	"PerpAMM/internal/testutil"
)

var d = math.MustFromString

// --- Test helpers ---

func testPool() *state.LiquidityPoolStorage {
	return &state.LiquidityPoolStorage{
		VaultFeeRate:    d("0.0002"),
		PoolCashBalance: d("83941.29865625"),
		Perpetuals: map[int]*state.PerpetualStorage{
			0: {
				State:                   state.PerpetualStateNormal,
				MarkPrice:               d("6965"),
				IndexPrice:              d("7000"),
				UnitAccumulativeFunding: d("9.9059375"),
				InitialMarginRate:       d("0.1"),
				MaintenanceMarginRate:   d("0.05"),
				OperatorFeeRate:         d("0.0001"),
				LpFeeRate:               d("0.0007"),
				KeeperGasReward:         d("1"),
				OpenInterest:            d("10"),
				MaxOpenInterestRate:     d("100"),
				HalfSpread:              state.NewOption(d("0.001")),
				OpenSlippageFactor:      state.NewOption(d("0.0142857142857142857142857142857")),
				CloseSlippageFactor:     state.NewOption(d("0.0128571428571428571428571428571")),
				FundingRateLimit:        state.NewOption(d("0.005")),
				AMMMaxLeverage:          state.NewOption(d("5")),
				MaxClosePriceDiscount:   state.NewOption(d("0.05")),
				DefaultTargetLeverage:   state.NewOption(d("10")),
				AMMPositionAmount:       d("2.3"),
			},
		},
	}
}

func ptr(s string) *math.Decimal {
	v := d(s)
	return &v
}

func longAccount() state.AccountStorage {
	return state.AccountStorage{
		CashBalance:    d("7698.86"),
		PositionAmount: d("2.3"),
		TargetLeverage: d("2"),
		EntryValue:     ptr("2300.23"),
		EntryFunding:   ptr("-0.91"),
	}
}

// ============================================================================
// Test: ComputeAccount
// ============================================================================

func TestComputeAccount_Long(t *testing.T) {
	details, err := state.ComputeAccount(testPool(), 0, longAccount())
	if err != nil {
		t.Fatalf("compute account: %v", err)
	}
	c := details.Computed

	testutil.AssertEqual(t, "position value", c.PositionValue, "16019.5")
	testutil.AssertEqual(t, "position margin", c.PositionMargin, "1601.95")
	testutil.AssertEqual(t, "maintenance margin", c.MaintenanceMargin, "800.975")
	testutil.AssertEqual(t, "available cash", c.AvailableCashBalance, "7676.07634375")
	testutil.AssertEqual(t, "margin balance", c.MarginBalance, "23695.57634375")
	testutil.AssertEqual(t, "available margin", c.AvailableMargin, "22092.62634375")
	testutil.AssertEqual(t, "withdrawable", c.WithdrawableBalance, "22092.62634375")
	testutil.AssertEqual(t, "entry price", *c.EntryPrice, "1000.1")
	testutil.AssertEqual(t, "funding pnl", *c.FundingPNL, "-23.69365625")
	testutil.AssertEqual(t, "pnl1", *c.PNL1, "13719.27")
	testutil.AssertEqual(t, "pnl2", *c.PNL2, "13695.57634375")
	// the account can never be liquidated
	testutil.AssertEqual(t, "liquidation price", c.LiquidationPrice, "0")

	if !c.IsIMSafe || !c.IsMMSafe || !c.IsMarginSafe {
		t.Errorf("safety: got im=%v mm=%v margin=%v, want all true", c.IsIMSafe, c.IsMMSafe, c.IsMarginSafe)
	}
	if c.Leverage.IsInf() {
		t.Fatal("leverage: got Infinity")
	}
	// 16019.5 / (23695.57634375 - 1)
	testutil.AssertApprox(t, "leverage", c.Leverage.Value, d("16019.5").Div(d("23694.57634375")).String())
	if c.MarginStatus() != state.MarginStatusHealthy {
		t.Errorf("status: got %s, want Healthy", c.MarginStatus())
	}
}

func TestComputeAccount_Idempotent(t *testing.T) {
	p := testPool()
	accounts := []state.AccountStorage{
		longAccount(),
		{CashBalance: d("20000"), PositionAmount: d("-2.3")},
		{CashBalance: d("-100"), PositionAmount: d("5"), EntryValue: ptr("35000"), EntryFunding: ptr("0")},
		{CashBalance: d("1000")},
	}
	for i, a := range accounts {
		before, err := json.Marshal(a)
		if err != nil {
			t.Fatalf("account %d: %v", i, err)
		}
		first, err := state.ComputeAccount(p, 0, a)
		if err != nil {
			t.Fatalf("account %d: %v", i, err)
		}
		second, err := state.ComputeAccount(p, 0, a)
		if err != nil {
			t.Fatalf("account %d: %v", i, err)
		}

		x, _ := json.Marshal(first)
		y, _ := json.Marshal(second)
		if !bytes.Equal(x, y) {
			t.Errorf("account %d: results differ:\n%s\n%s", i, x, y)
		}
		after, _ := json.Marshal(a)
		if !bytes.Equal(before, after) {
			t.Errorf("account %d: input modified:\n%s\n%s", i, before, after)
		}
	}
}

func TestComputeAccount_ShortLiquidationPrice(t *testing.T) {
	p := testPool()
	a := state.AccountStorage{CashBalance: d("20000"), PositionAmount: d("-2.3")}
	details, err := state.ComputeAccount(p, 0, a)
	if err != nil {
		t.Fatalf("compute account: %v", err)
	}
	price := details.Computed.LiquidationPrice
	if !price.GreaterThan(d("8282")) || !price.LessThan(d("8283")) {
		t.Fatalf("liquidation price: got %s, want in (8282, 8283)", price)
	}

	// at the liquidation price margin equals maintenance margin plus the closing fee
	perp := p.Perpetuals[0]
	feeRate := perp.TotalFeeRate(p.VaultFeeRate)
	margin := details.Computed.AvailableCashBalance.Sub(perp.KeeperGasReward).Add(price.Mul(a.PositionAmount))
	required := perp.MaintenanceMarginRate.Add(feeRate).Mul(price).Mul(a.PositionAmount.Abs())
	if !testutil.ApproxEqual(margin, required) {
		t.Errorf("margin at liquidation: got %s, want %s", margin, required)
	}
	if details.Computed.EntryPrice != nil || details.Computed.ROE != nil {
		t.Error("untracked entry value must leave entry price and ROE unset")
	}
}

func TestComputeAccount_Flat(t *testing.T) {
	details, err := state.ComputeAccount(testPool(), 0, state.AccountStorage{CashBalance: d("1000")})
	if err != nil {
		t.Fatalf("compute account: %v", err)
	}
	c := details.Computed
	testutil.AssertApprox(t, "margin balance", c.MarginBalance, "1000")
	testutil.AssertApprox(t, "available margin", c.AvailableMargin, "1000")
	testutil.AssertApprox(t, "liquidation price", c.LiquidationPrice, "0")
	if c.Leverage.IsInf() || !c.Leverage.Value.IsZero() {
		t.Errorf("leverage: got %s, want 0", c.Leverage)
	}
}

func TestComputeAccount_Bankrupt(t *testing.T) {
	a := state.AccountStorage{CashBalance: d("-20000"), PositionAmount: d("2.3")}
	details, err := state.ComputeAccount(testPool(), 0, a)
	if err != nil {
		t.Fatalf("compute account: %v", err)
	}
	c := details.Computed
	if !c.Leverage.IsInf() || !c.MarginRatio.IsInf() {
		t.Errorf("leverage/margin ratio: got %s/%s, want Infinity", c.Leverage, c.MarginRatio)
	}
	if c.IsMarginSafe || c.IsMMSafe {
		t.Error("expected unsafe")
	}
	testutil.AssertApprox(t, "withdrawable", c.WithdrawableBalance, "0")
	if c.MarginStatus() != state.MarginStatusLiquidatable {
		t.Errorf("status: got %s, want Liquidatable", c.MarginStatus())
	}
}

func TestComputeAccount_UnknownPerpetual(t *testing.T) {
	if _, err := state.ComputeAccount(testPool(), 3, longAccount()); !errs.Is(err, errs.KindInvalidArgument) {
		t.Errorf("got %v, want InvalidArgument", err)
	}
}

// ============================================================================
// Test: Positions
// ============================================================================

func TestSplitAmount(t *testing.T) {
	tests := []struct {
		position, amount    string
		wantClose, wantOpen string
	}{
		{"0", "1", "0", "1"},
		{"1", "1", "0", "1"},
		{"-1", "-1", "0", "-1"},
		{"2", "-1", "-1", "0"},
		{"2", "-2", "-2", "0"},
		{"2", "-3", "-2", "-1"},
		{"-2", "3", "2", "1"},
	}
	for _, tt := range tests {
		c, o := state.SplitAmount(d(tt.position), d(tt.amount))
		if !c.Equal(d(tt.wantClose)) || !o.Equal(d(tt.wantOpen)) {
			t.Errorf("SplitAmount(%s, %s): got (%s, %s), want (%s, %s)",
				tt.position, tt.amount, c, o, tt.wantClose, tt.wantOpen)
		}
	}
}

func TestComputeDecreasePosition(t *testing.T) {
	next, err := state.ComputeDecreasePosition(testPool(), 0, longAccount(), d("7000"), d("-0.5"))
	if err != nil {
		t.Fatalf("decrease: %v", err)
	}
	// 7698.86 + 3500 - 0.5 * 9.9059375
	testutil.AssertApprox(t, "cash", next.CashBalance, "11193.90703125")
	testutil.AssertApprox(t, "position", next.PositionAmount, "1.8")
	testutil.AssertApprox(t, "entry value", *next.EntryValue, "1800.18")
	testutil.AssertApprox(t, "entry funding", *next.EntryFunding, "-0.712173913043478260869565")

	bad := []string{"0.5", "-3"}
	for _, amount := range bad {
		if _, err := state.ComputeDecreasePosition(testPool(), 0, longAccount(), d("7000"), d(amount)); !errs.Is(err, errs.KindInvalidArgument) {
			t.Errorf("amount %s: got %v, want InvalidArgument", amount, err)
		}
	}
}

func TestComputeIncreasePosition(t *testing.T) {
	next, err := state.ComputeIncreasePosition(testPool(), 0, longAccount(), d("7000"), d("0.5"))
	if err != nil {
		t.Fatalf("increase: %v", err)
	}
	// 7698.86 - 3500 + 0.5 * 9.9059375
	testutil.AssertApprox(t, "cash", next.CashBalance, "4203.81296875")
	testutil.AssertApprox(t, "position", next.PositionAmount, "2.8")
	testutil.AssertApprox(t, "entry value", *next.EntryValue, "5800.23")
	testutil.AssertApprox(t, "entry funding", *next.EntryFunding, "4.04296875")

	if _, err := state.ComputeIncreasePosition(testPool(), 0, longAccount(), d("7000"), d("-0.5")); !errs.Is(err, errs.KindInvalidArgument) {
		t.Errorf("opposite side: got %v, want InvalidArgument", err)
	}
	if _, err := state.ComputeIncreasePosition(testPool(), 0, longAccount(), d("0"), d("0.5")); !errs.Is(err, errs.KindInvalidArgument) {
		t.Errorf("zero price: got %v, want InvalidArgument", err)
	}
}

// ============================================================================
// Test: Open interest & flags
// ============================================================================

func TestComputeOpenInterest(t *testing.T) {
	tests := []struct {
		oldOI, position, amount, want string
	}{
		{"10", "2.3", "-0.5", "9.5"},
		{"10", "0", "1", "11"},
		{"10", "-1", "3", "12"},
		{"10", "2", "-3", "8"},
		{"10", "-1", "-1", "10"},
	}
	for _, tt := range tests {
		got := state.ComputeOpenInterest(d(tt.oldOI), d(tt.position), d(tt.amount))
		if !got.Equal(d(tt.want)) {
			t.Errorf("oi(%s, %s, %s): got %s, want %s", tt.oldOI, tt.position, tt.amount, got, tt.want)
		}
	}
}

func TestOpenInterestExceededError(t *testing.T) {
	var err error = &state.OpenInterestExceededError{NewOpenInterest: d("11"), Limit: d("10.5")}
	if !errs.Is(err, errs.KindOpenInterestExceeded) {
		t.Errorf("kind: got %s", errs.KindOf(err))
	}
}

func TestTradeFlag_TargetLeverage(t *testing.T) {
	tests := []struct {
		leverage, want string
	}{
		{"2.5", "2.5"},
		{"10", "10"},
		{"1.239", "1.23"}, // truncated to 2 digits
		{"0", "0"},
		{"-1", "0"},
	}
	for _, tt := range tests {
		flags, err := state.EncodeTargetLeverage(d(tt.leverage))
		if err != nil {
			t.Fatalf("leverage %s: %v", tt.leverage, err)
		}
		flags |= state.MaskMarketOrder
		if got := flags.TargetLeverage(); !got.Equal(d(tt.want)) {
			t.Errorf("leverage %s: got %s, want %s", tt.leverage, got, tt.want)
		}
		if !flags.Has(state.MaskMarketOrder) || flags.Has(state.MaskCloseOnly) {
			t.Errorf("leverage %s: masks corrupted: %#x", tt.leverage, uint32(flags))
		}
	}
}

func TestEncodeTargetLeverage_FieldBounds(t *testing.T) {
	flags, err := state.EncodeTargetLeverage(d("10485.75"))
	if err != nil {
		t.Fatalf("largest leverage: %v", err)
	}
	if got := flags.TargetLeverage(); !got.Equal(state.MaxTargetLeverage) {
		t.Errorf("largest leverage: got %s, want %s", got, state.MaxTargetLeverage)
	}
	if flags.Has(state.MaskUseTargetLeverage) {
		t.Errorf("largest leverage spills into the mask bits: %#x", uint32(flags))
	}

	for _, leverage := range []string{"10485.76", "10486", "20971.52"} {
		if _, err := state.EncodeTargetLeverage(d(leverage)); !errs.Is(err, errs.KindInvalidArgument) {
			t.Errorf("leverage %s: got %v, want InvalidArgument", leverage, err)
		}
	}
}

// ============================================================================
// Test: Snapshot validation
// ============================================================================

func TestValidatePool(t *testing.T) {
	if err := state.ValidatePool(testPool()); err != nil {
		t.Fatalf("valid pool: %v", err)
	}

	tests := []struct {
		name   string
		mutate func(p *state.PerpetualStorage)
	}{
		{"im below mm", func(p *state.PerpetualStorage) { p.InitialMarginRate = d("0.01") }},
		{"spread >= 1", func(p *state.PerpetualStorage) { p.HalfSpread = state.NewOption(d("1")) }},
		{"zero index", func(p *state.PerpetualStorage) { p.IndexPrice = math.Zero }},
		{"zero beta1", func(p *state.PerpetualStorage) { p.OpenSlippageFactor = state.NewOption(math.Zero) }},
		{"unknown state", func(p *state.PerpetualStorage) { p.State = 9 }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := testPool()
			tt.mutate(p.Perpetuals[0])
			if err := state.ValidatePool(p); !errs.Is(err, errs.KindInvalidArgument) {
				t.Errorf("got %v, want InvalidArgument", err)
			}
		})
	}

	// a cleared market may carry a zero index
	p := testPool()
	p.Perpetuals[0].State = state.PerpetualStateCleared
	p.Perpetuals[0].IndexPrice = math.Zero
	if err := state.ValidatePool(p); err != nil {
		t.Errorf("cleared market: %v", err)
	}
}

func TestClone_Independent(t *testing.T) {
	p := testPool()
	c := p.Clone()
	c.PoolCashBalance = math.Zero
	c.Perpetuals[0].AMMPositionAmount = math.Zero
	if p.PoolCashBalance.IsZero() || p.Perpetuals[0].AMMPositionAmount.IsZero() {
		t.Error("clone shares state with the original")
	}
}
