package core_test

import (
	"testing"

	"PerpAMM/internal/core"
	"PerpAMM/internal/errs"
	"PerpAMM/internal/math"
	"PerpAMM/internal/order"
	"PerpAMM/internal/state"

	"github.com/google/uuid"
)

func calcTrader(cash, position string) state.AccountStorage {
	return state.AccountStorage{
		CashBalance:    d(cash),
		PositionAmount: d(position),
		TargetLeverage: d("1"),
	}
}

// ============================================================================
// Test: AMMMaxTradeAmount
// ============================================================================

func TestAMMMaxTradeAmount(t *testing.T) {
	tests := []struct {
		name     string
		pool     *state.LiquidityPoolStorage
		trader   state.AccountStorage
		wallet   string
		isBuy    bool
		lo, hi   string
		wantZero bool
	}{
		{name: "empty wallet", pool: longPool(), trader: calcTrader("0", "0"), wallet: "0", isBuy: true, wantZero: true},
		{name: "open long from wallet", pool: longPool(), trader: calcTrader("0", "0"), wallet: "7000", isBuy: true, lo: "0.99", hi: "1.00"},
		{name: "add long from wallet", pool: longPool(), trader: calcTrader("7698.86", "2.3"), wallet: "7000", isBuy: true, lo: "1.0", hi: "1.2"},
		{name: "close long and open short", pool: longPool(), trader: calcTrader("7698.86", "2.3"), wallet: "0", isBuy: false, lo: "-6", hi: "-5"},
		{name: "close long and open short from wallet", pool: longPool(), trader: calcTrader("7698.86", "2.3"), wallet: "70000", isBuy: false, lo: "-16", hi: "-15"},
		{name: "unsafe short amm refuses buys", pool: shortUnsafePool(), trader: calcTrader("0", "0"), wallet: "7000", isBuy: true, wantZero: true},
		{name: "unsafe long amm refuses sells", pool: longUnsafePool(), trader: calcTrader("0", "0"), wallet: "7000", isBuy: false, wantZero: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := core.AMMMaxTradeAmount(tt.pool, market0, tt.trader, d(tt.wallet), tt.isBuy, d("1"))
			if err != nil {
				t.Fatalf("max trade amount: %v", err)
			}
			if tt.wantZero {
				if !got.IsZero() {
					t.Errorf("amount: got %s, want 0", got)
				}
				return
			}
			assertBetween(t, "amount", got, tt.lo, tt.hi)
		})
	}
}

func TestAMMMaxTradeAmount_ResultIsTradable(t *testing.T) {
	trader := calcTrader("0", "0")
	wallet := d("7000")
	amount, err := core.AMMMaxTradeAmount(longPool(), market0, trader, wallet, true, d("1"))
	if err != nil {
		t.Fatalf("max trade amount: %v", err)
	}
	flags, err := state.EncodeTargetLeverage(d("1"))
	if err != nil {
		t.Fatalf("flags: %v", err)
	}
	res, err := core.AMMTrade(longPool(), market0, trader, amount, flags)
	if err != nil {
		t.Fatalf("trade: %v", err)
	}
	if !res.TradeIsSafe {
		t.Error("expected safe trade")
	}
	assertBetween(t, "adjust collateral", res.AdjustCollateral, "6999", "7001")
}

// ============================================================================
// Test: AMMTradeAmountByMargin
// ============================================================================

func TestAMMTradeAmountByMargin(t *testing.T) {
	tests := []struct {
		name     string
		pool     *state.LiquidityPoolStorage
		margin   string
		lo, hi   string
		wantZero bool
	}{
		{name: "buy", pool: longPool(), margin: "-100", lo: "0.014", hi: "0.015"},
		{name: "sell", pool: longPool(), margin: "100", lo: "-0.015", hi: "-0.014"},
		{name: "zero margin", pool: longPool(), margin: "0", wantZero: true},
		{name: "unsafe short amm refuses buys", pool: shortUnsafePool(), margin: "-100", wantZero: true},
		{name: "unsafe long amm refuses sells", pool: longUnsafePool(), margin: "100", wantZero: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := core.AMMTradeAmountByMargin(tt.pool, market0, d(tt.margin))
			if err != nil {
				t.Fatalf("amount by margin: %v", err)
			}
			if tt.wantZero {
				if !got.IsZero() {
					t.Errorf("amount: got %s, want 0", got)
				}
				return
			}
			assertBetween(t, "amount", got, tt.lo, tt.hi)
		})
	}
}

// ============================================================================
// Test: LimitOrderMaxTradeAmount
// ============================================================================

const symbol0 int64 = 1

func limitContexts() map[int64]order.Context {
	return map[int64]order.Context{
		symbol0: {Pool: shortPool(), PerpetualIndex: market0, Account: calcTrader("7698.86", "2.3")},
	}
}

func limitOrder(limit, amount string) order.Order {
	return order.Order{
		ID:             uuid.New(),
		Symbol:         symbol0,
		LimitPrice:     d(limit),
		Amount:         d(amount),
		TargetLeverage: d("1"),
	}
}

func TestLimitOrderMaxTradeAmount(t *testing.T) {
	tests := []struct {
		name   string
		wallet string
		lo, hi string
	}{
		{"close long and open short", "0", "-5.7", "-5.6"},
		{"close long and open short from wallet", "70000", "-15.6", "-15.5"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := core.LimitOrderMaxTradeAmount(limitContexts(), d(tt.wallet), nil, symbol0, d("6900"), false, d("1"))
			if err != nil {
				t.Fatalf("limit order max: %v", err)
			}
			assertBetween(t, "amount", got, tt.lo, tt.hi)
		})
	}
}

func TestLimitOrderMaxTradeAmount_SplitOrdersEquivalent(t *testing.T) {
	wallet := d("70000")
	split := []order.Order{limitOrder("7000", "1"), limitOrder("7000", "1")}
	whole := []order.Order{limitOrder("7000", "2")}

	a, err := core.LimitOrderMaxTradeAmount(limitContexts(), wallet, split, symbol0, d("6900"), false, d("1"))
	if err != nil {
		t.Fatalf("split: %v", err)
	}
	b, err := core.LimitOrderMaxTradeAmount(limitContexts(), wallet, whole, symbol0, d("6900"), false, d("1"))
	if err != nil {
		t.Fatalf("whole: %v", err)
	}
	if a.Sub(b).Abs().GreaterThan(d("0.000001")) {
		t.Errorf("split %s != whole %s", a, b)
	}
}

func TestLimitOrderMaxTradeAmount_OpenInterestCap(t *testing.T) {
	// the wallet is unlimited; open interest caps the order
	got, err := core.LimitOrderMaxTradeAmount(limitContexts(), d("10000000000"), nil, symbol0, d("6965"), true, d("1"))
	if err != nil {
		t.Fatalf("limit order max: %v", err)
	}
	assertBetween(t, "amount", got, "1418", "1419")
}

func TestLimitOrderMaxTradeAmount_BadInput(t *testing.T) {
	if _, err := core.LimitOrderMaxTradeAmount(limitContexts(), d("1000"), nil, 99, d("6900"), false, d("1")); !errs.Is(err, errs.KindInvalidArgument) {
		t.Errorf("unknown symbol: got %v, want InvalidArgument", err)
	}
	if _, err := core.LimitOrderMaxTradeAmount(limitContexts(), d("1000"), nil, symbol0, d("6900"), false, math.Zero); !errs.Is(err, errs.KindInvalidArgument) {
		t.Errorf("zero leverage: got %v, want InvalidArgument", err)
	}
}
