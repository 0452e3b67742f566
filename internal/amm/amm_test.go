package amm_test

import (
	"testing"

	"PerpAMM/internal/amm"
	"PerpAMM/internal/errs"
	"PerpAMM/internal/math"
	"PerpAMM/internal/state"
	"PerpAMM/internal/testutil"
)

var d = math.MustFromString

const market0 = 0

// Two identical markets at index 100 with β1 = 1, β2 = 0.9, λ = 3.
func curvePerpetual(position string) *state.PerpetualStorage {
	return &state.PerpetualStorage{
		State:                   state.PerpetualStateNormal,
		MarkPrice:               d("95"),
		IndexPrice:              d("100"),
		UnitAccumulativeFunding: d("1.9"),
		InitialMarginRate:       d("0.1"),
		MaintenanceMarginRate:   d("0.05"),
		OperatorFeeRate:         d("0.0001"),
		LpFeeRate:               d("0.0008"),
		LiquidationPenaltyRate:  d("0.005"),
		KeeperGasReward:         d("2"),
		InsuranceFundRate:       d("0.0001"),
		OpenInterest:            d("10"),
		MaxOpenInterestRate:     d("100"),
		HalfSpread:              state.NewOption(d("0.001")),
		OpenSlippageFactor:      state.NewOption(d("1")),
		CloseSlippageFactor:     state.NewOption(d("0.9")),
		FundingRateFactor:       state.NewOption(d("0.005")),
		FundingRateLimit:        state.NewOption(d("0.005")),
		AMMMaxLeverage:          state.NewOption(d("3")),
		MaxClosePriceDiscount:   state.NewOption(d("0.2")),
		DefaultTargetLeverage:   state.NewOption(d("10")),
		AMMPositionAmount:       d(position),
	}
}

func curvePool(cash, position0, position1 string) *state.LiquidityPoolStorage {
	return &state.LiquidityPoolStorage{
		IsSynced:           true,
		IsRunning:          true,
		CollateralDecimals: 18,
		VaultFeeRate:       d("0.0001"),
		PoolCashBalance:    d(cash),
		Perpetuals: map[int]*state.PerpetualStorage{
			0: curvePerpetual(position0),
			1: curvePerpetual(position1),
		},
	}
}

// Pools in every regime the curve has. Available cash and pool margin at
// β = 1 are noted for each.
func poolInit() *state.LiquidityPoolStorage { return curvePool("0", "0", "0") }

// cash 10000, M 10000
func pool0() *state.LiquidityPoolStorage { return curvePool("10000", "0", "0") }

// short normal: cash 10100, M 10000
func pool1() *state.LiquidityPoolStorage { return curvePool("10100", "-10", "10") }

// short, loss but safe: cash 14675
func pool2() *state.LiquidityPoolStorage { return curvePool("14599", "-50", "10") }

// short unsafe: cash 17825
func pool3() *state.LiquidityPoolStorage { return curvePool("17692", "-80", "10") }

// long normal: cash 8100, M 10000
func pool4() *state.LiquidityPoolStorage { return curvePool("8138", "10", "10") }

// long, loss but safe: cash 1550
func pool5() *state.LiquidityPoolStorage { return curvePool("1664", "50", "10") }

// long unsafe: cash 1825
func pool6() *state.LiquidityPoolStorage { return curvePool("1996", "80", "10") }

func withPerpetual(p *state.LiquidityPoolStorage, index int, mutate func(*state.PerpetualStorage)) *state.LiquidityPoolStorage {
	mutate(p.Perpetuals[index])
	return p
}

func setMaxLeverage(p *state.LiquidityPoolStorage, leverage string) *state.LiquidityPoolStorage {
	for _, perpetual := range p.Perpetuals {
		perpetual.AMMMaxLeverage = state.NewOption(d(leverage))
	}
	return p
}

func context0(t *testing.T, p *state.LiquidityPoolStorage) amm.TradingContext {
	t.Helper()
	index := market0
	c, err := amm.NewTradingContext(p, &index)
	if err != nil {
		t.Fatalf("context: %v", err)
	}
	return c
}

func solved(t *testing.T, c amm.TradingContext, beta math.Decimal) amm.TradingContext {
	t.Helper()
	c, err := amm.SolvePoolMargin(c, beta, false)
	if err != nil {
		t.Fatalf("solve pool margin: %v", err)
	}
	return c
}

// ============================================================================
// Test: Pool margin
// ============================================================================

func TestSolvePoolMargin(t *testing.T) {
	beta := d("1")
	tests := []struct {
		name       string
		pool       *state.LiquidityPoolStorage
		cash       string
		safe       bool
		poolMargin string
		irrational bool
	}{
		{"init", poolInit(), "0", true, "0", false},
		{"flat", pool0(), "10000", true, "10000", false},
		{"short normal", pool1(), "10100", true, "10000", false},
		{"short loss", pool2(), "14675", true, "9273.09477715884768908142691791", true},
		{"short unsafe", pool3(), "17825", false, "", false},
		{"long normal", pool4(), "8100", true, "10000", false},
		{"long loss", pool5(), "1550", true, "4893.31346231725208539935787445", true},
		{"long unsafe", pool6(), "1825", false, "", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := context0(t, tt.pool)
			testutil.AssertEqual(t, "cash", c.Cash, tt.cash)

			safe, err := amm.IsAMMSafe(c, beta)
			if err != nil {
				t.Fatalf("is safe: %v", err)
			}
			if safe != tt.safe {
				t.Fatalf("safe: got %v, want %v", safe, tt.safe)
			}
			if !safe {
				if _, err := amm.SolvePoolMargin(c, beta, false); !errs.Is(err, errs.KindBug) {
					t.Errorf("solving an unsafe pool: got %v, want Bug", err)
				}
				return
			}
			if tt.irrational {
				testutil.AssertApprox(t, "pool margin", solved(t, c, beta).PoolMargin, tt.poolMargin)
				return
			}
			testutil.AssertEqual(t, "pool margin", solved(t, c, beta).PoolMargin, tt.poolMargin)
		})
	}
}

func TestSolvePoolMargin_AllowUnsafeClampsDiscriminant(t *testing.T) {
	c := context0(t, pool3())
	c, err := amm.SolvePoolMargin(c, d("1"), true)
	if err != nil {
		t.Fatalf("solve: %v", err)
	}
	// (cash + Σ P N) / 2 = (17825 - 8000 + 1000) / 2
	testutil.AssertEqual(t, "pool margin", c.PoolMargin, "5412.5")
}

func TestNewTradingContext_UnknownPerpetual(t *testing.T) {
	index := 7
	_, err := amm.NewTradingContext(pool0(), &index)
	if !errs.Is(err, errs.KindInvalidArgument) {
		t.Errorf("got %v, want InvalidArgument", err)
	}
}

func TestNewTradingContext_SkipsNonNormalMarkets(t *testing.T) {
	p := withPerpetual(pool4(), 1, func(perp *state.PerpetualStorage) {
		perp.State = state.PerpetualStateEmergency
	})
	c := context0(t, p)
	// 8138 - 1.9 * 10; market 1 does not contribute
	testutil.AssertEqual(t, "cash", c.Cash, "8119")
	if len(c.OtherIndex) != 0 {
		t.Errorf("other markets: got %d, want 0", len(c.OtherIndex))
	}
}

func TestNewTradingContext_Emergency(t *testing.T) {
	_, err := amm.NewTradingContext(curvePool("-3000", "10", "10"), nil)
	if !errs.Is(err, errs.KindInsufficientLiquidity) {
		t.Errorf("got %v, want InsufficientLiquidity", err)
	}
}

// ============================================================================
// Test: Delta margin
// ============================================================================

func TestDeltaMargin(t *testing.T) {
	beta := d("1")
	tests := []struct {
		name      string
		position2 string
		want      string
	}{
		{"0 -> +5", "5", "-487.5"},
		{"0 -> -5", "-5", "512.5"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := solved(t, context0(t, pool0()), beta)
			got, err := amm.DeltaMargin(c, beta, d(tt.position2))
			if err != nil {
				t.Fatalf("delta margin: %v", err)
			}
			testutil.AssertEqual(t, "delta margin", got, tt.want)
		})
	}
}

func TestDeltaMargin_CrossZeroIsBug(t *testing.T) {
	beta := d("1")
	c := solved(t, context0(t, pool1()), beta)
	if _, err := amm.DeltaMargin(c, beta, d("5")); !errs.Is(err, errs.KindBug) {
		t.Errorf("got %v, want Bug", err)
	}
}

// ============================================================================
// Test: Safe position
// ============================================================================

func TestSafePositionAmount(t *testing.T) {
	tests := []struct {
		name string
		pool *state.LiquidityPoolStorage
		beta string
		long bool
		want string
		// exact unless the bound comes from a tuned fixture
		approx bool
	}{
		{
			name: "short init",
			pool: poolInit(), beta: "1", want: "0",
		},
		{
			name: "short, condition 3 selected",
			pool: pool1(), beta: "1", want: "-141.067359796658844252",
		},
		{
			name: "short, condition 2 selected",
			pool: withPerpetual(pool1(), 0, func(p *state.PerpetualStorage) {
				p.AMMMaxLeverage = state.NewOption(d("0.5"))
			}),
			beta: "1", want: "-56.589168238006977708561982164", approx: true,
		},
		{
			name: "short, both bound, condition 3 selected",
			pool: withPerpetual(
				withPerpetual(pool1(), 0, func(p *state.PerpetualStorage) {
					p.AMMMaxLeverage = state.NewOption(d("0.5"))
					p.OpenSlippageFactor = state.NewOption(d("1.426933822319389"))
				}),
				1, func(p *state.PerpetualStorage) {
					p.IndexPrice = d("90")
					p.AMMPositionAmount = d("85.5148648938521")
					p.OpenSlippageFactor = state.NewOption(d("2.222222222222222222"))
				}),
			beta: "1.426933822319389", want: "-69.2197544117782", approx: true,
		},
		{
			name: "long init",
			pool: poolInit(), beta: "1", long: true, want: "0",
		},
		{
			name: "long, condition 1 selected",
			pool: pool4(), beta: "1", long: true, want: "100",
		},
		{
			name: "long, condition 2 selected",
			pool: withPerpetual(pool4(), 0, func(p *state.PerpetualStorage) {
				p.AMMMaxLeverage = state.NewOption(d("0.5"))
			}),
			beta: "1", long: true, want: "56.589168238006977708561982164", approx: true,
		},
		{
			name: "long, condition 3 selected",
			pool: withPerpetual(
				withPerpetual(pool4(), 0, func(p *state.PerpetualStorage) {
					p.OpenSlippageFactor = state.NewOption(d("0.3977"))
				}),
				1, func(p *state.PerpetualStorage) {
					p.IndexPrice = d("10")
					p.AMMPositionAmount = d("-109")
					p.OpenSlippageFactor = state.NewOption(d("3"))
				}),
			beta: "0.3977", long: true, want: "176.61598769492977", approx: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			beta := d(tt.beta)
			c := context0(t, tt.pool)
			safe, err := amm.IsAMMSafe(c, beta)
			if err != nil || !safe {
				t.Fatalf("pool should be safe: %v", err)
			}
			c = solved(t, c, beta)

			var got math.Decimal
			if tt.long {
				got, err = amm.SafeLongPositionAmount(c, beta)
			} else {
				got, err = amm.SafeShortPositionAmount(c, beta)
			}
			if err != nil {
				t.Fatalf("safe position: %v", err)
			}
			if tt.approx {
				testutil.AssertApprox(t, "safe position", got, tt.want)
				return
			}
			testutil.AssertEqual(t, "safe position", got, tt.want)
		})
	}
}

func TestSafeCondition_RejectsZeroSlippage(t *testing.T) {
	c := solved(t, context0(t, pool0()), d("1"))
	if _, err := amm.SafeCondition1(c, math.Zero); !errs.Is(err, errs.KindInvalidArgument) {
		t.Errorf("condition1: got %v, want InvalidArgument", err)
	}
	if _, err := amm.SafeCondition3(c, math.Zero); !errs.Is(err, errs.KindInvalidArgument) {
		t.Errorf("condition3: got %v, want InvalidArgument", err)
	}
}

// ============================================================================
// Test: Internal trade
// ============================================================================

func TestInternalTrade(t *testing.T) {
	tests := []struct {
		name        string
		pool        *state.LiquidityPoolStorage
		amount      string
		deltaMargin string
		// closing a safe pool solves the margin at β2, which is irrational
		irrational bool
	}{
		{"open 0 -> -141.421, near limit", pool0(), "-141.421", "24142.0496205", false},
		{"open 0 -> -0.1, spread", pool0(), "-0.1", "10.01", false},
		{"open -10 -> -141.067, near limit", pool1(), "-131.067", "23006.6492445", false},
		{"open -10 -> -10.1, spread", pool1(), "-0.1", "11.011", false},
		{"open 0 -> 100, near limit", pool0(), "100", "-5000", false},
		{"open 0 -> 0.1, spread", pool0(), "0.1", "-9.99", false},
		{"open 10 -> 100, near limit", pool4(), "90", "-4050", false},
		{"open 10 -> 10.1, spread", pool4(), "0.1", "-8.991", false},
		{"close -10 -> -9", pool1(), "1", "-108.54568619644455781471685713", true},
		{"close -10 -> -9.9, spread", pool1(), "0.1", "-10.88864636949980139546338319", true},
		{"close -10 -> 0", pool1(), "10", "-1044.97729577076083060377293227", true},
		{"close 10 -> 9", pool4(), "-1", "91.45431380355544218528314287", true},
		{"close 10 -> 9.9, spread", pool4(), "-0.1", "9.109554538669368171312465896", true},
		{"close 10 -> 0", pool4(), "-10", "955.02270422923916939622706773", true},
		{"close unsafe -80 -> -79", pool3(), "1", "-100", false},
		{"close unsafe -80 -> -79.9", pool3(), "0.1", "-10", false},
		{"close unsafe 80 -> 79", pool6(), "-1", "100", false},
		{"close unsafe 80 -> 79.9", pool6(), "-0.1", "10", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c, err := amm.InternalTrade(tt.pool, market0, d(tt.amount))
			if err != nil {
				t.Fatalf("trade: %v", err)
			}
			if tt.irrational {
				testutil.AssertApprox(t, "delta margin", c.DeltaMargin, tt.deltaMargin)
			} else {
				testutil.AssertEqual(t, "delta margin", c.DeltaMargin, tt.deltaMargin)
			}
			if !c.DeltaPosition.Equal(d(tt.amount)) {
				t.Errorf("delta position: got %s, want %s", c.DeltaPosition, tt.amount)
			}
		})
	}
}

func TestInternalTrade_CrossZero(t *testing.T) {
	tests := []struct {
		name        string
		pool        *state.LiquidityPoolStorage
		amount      string
		halfSpread  string
		deltaMargin string
	}{
		{"-10 -> 10", pool1(), "20", "0.001", "-1995.0025226921376854884718017300"},
		{"-10 -> 10, spread on close and part of open", pool1(), "20", "0.05", "-1995.0025226921376854884718017300"},
		{"-10 -> 10, spread on everything", pool1(), "20", "0.10", "-1961.918264774738990173582556163"},
		{"10 -> -10", pool4(), "-20", "0.001", "2004.9974773078623145115281982700"},
		{"10 -> -10, spread on close and part of open", pool4(), "-20", "0.06", "2004.9974773078623145115281982700"},
		{"10 -> -10, spread on everything", pool4(), "-20", "0.15", "2093.104439454500179222644511570"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := withPerpetual(tt.pool, market0, func(p *state.PerpetualStorage) {
				p.HalfSpread = state.NewOption(d(tt.halfSpread))
			})
			c, err := amm.InternalTrade(p, market0, d(tt.amount))
			if err != nil {
				t.Fatalf("trade: %v", err)
			}
			testutil.AssertApprox(t, "delta margin", c.DeltaMargin, tt.deltaMargin)
		})
	}
}

func TestInternalTrade_CloseThenOpenMatchesCrossZero(t *testing.T) {
	index := market0
	c := context0(t, pool1())
	s, err := amm.NewTradeState(c).Close(d("10"))
	if err != nil {
		t.Fatalf("close: %v", err)
	}
	if s, err = s.Open(d("10")); err != nil {
		t.Fatalf("open: %v", err)
	}

	whole, err := amm.InternalTrade(pool1(), index, d("20"))
	if err != nil {
		t.Fatalf("trade: %v", err)
	}
	// a small half spread never binds, so the legs add up exactly
	if !s.DeltaMargin().Equal(whole.DeltaMargin) {
		t.Errorf("delta margin: got %s, want %s", s.DeltaMargin(), whole.DeltaMargin)
	}
}

func TestInternalTrade_Fails(t *testing.T) {
	tests := []struct {
		name   string
		pool   *state.LiquidityPoolStorage
		amount string
	}{
		{"pool margin = 0", poolInit(), "1"},
		{"open 0 -> -141.422, too large", pool0(), "-141.422"},
		{"open -10 -> -141.068, too large", pool1(), "-131.068"},
		{"open short, already unsafe", pool3(), "-0.01"},
		{"open 0 -> 100.001", pool0(), "100.001"},
		{"open 10 -> 100.001", pool4(), "90.001"},
		{"open long, already unsafe", pool6(), "0.01"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := amm.InternalTrade(tt.pool, market0, d(tt.amount))
			if !errs.Is(err, errs.KindInsufficientLiquidity) {
				t.Errorf("got %v, want InsufficientLiquidity", err)
			}
		})
	}
}

func TestInternalTrade_SafeBoundIsInclusive(t *testing.T) {
	wei := d("1e-18")
	tests := []struct {
		name string
		pool *state.LiquidityPoolStorage
		long bool
	}{
		{"flat, long", pool0(), true},
		{"flat, short", pool0(), false},
		{"short normal, short", pool1(), false},
		{"short loss, short", pool2(), false},
		{"long normal, long", pool4(), true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := context0(t, tt.pool)
			beta := c.OpenSlippageFactor
			c = solved(t, c, beta)

			var bound math.Decimal
			var err error
			beyond := wei
			if tt.long {
				bound, err = amm.SafeLongPositionAmount(c, beta)
			} else {
				bound, err = amm.SafeShortPositionAmount(c, beta)
				beyond = wei.Neg()
			}
			if err != nil {
				t.Fatalf("safe position: %v", err)
			}
			amount := bound.Sub(c.Position1)
			if amount.IsZero() {
				t.Fatalf("bound %s equals the current position", bound)
			}

			got, err := amm.InternalTrade(tt.pool, market0, amount)
			if err != nil {
				t.Fatalf("trade to the bound %s: %v", bound, err)
			}
			if !got.Position1.Equal(bound) {
				t.Errorf("position: got %s, want %s", got.Position1, bound)
			}

			_, err = amm.InternalTrade(tt.pool, market0, amount.Add(beyond))
			if !errs.Is(err, errs.KindInsufficientLiquidity) {
				t.Errorf("trade past the bound %s: got %v, want InsufficientLiquidity", bound, err)
			}
		})
	}
}

func TestInternalTrade_ZeroAmount(t *testing.T) {
	_, err := amm.InternalTrade(pool0(), market0, math.Zero)
	if !errs.Is(err, errs.KindBug) {
		t.Errorf("got %v, want Bug", err)
	}
}

// ============================================================================
// Test: Best ask/bid price
// ============================================================================

func TestBestAskBidPrice(t *testing.T) {
	tests := []struct {
		name     string
		pool     *state.LiquidityPoolStorage
		isAMMBuy bool
		want     string
		closing  bool
	}{
		{"open 0 -> -x", pool0(), false, "100.1", false},
		{"open -10", pool1(), false, "110.11", false},
		{"open 0 -> +x", pool0(), true, "99.9", false},
		{"open 10", pool4(), true, "89.91", false},
		{"close -10", pool1(), true, "108.88646369499801395463383186703", true},
		{"close 10", pool4(), false, "91.09554538669368171312465896007", true},
		{"close unsafe -80", pool3(), true, "100", false},
		{"close unsafe 80", pool6(), false, "100", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := amm.BestAskBidPrice(tt.pool, market0, tt.isAMMBuy)
			if err != nil {
				t.Fatalf("best price: %v", err)
			}
			// a safe close is priced off the β2 pool margin
			if tt.closing {
				testutil.AssertApprox(t, "price", got, tt.want)
				return
			}
			testutil.AssertEqual(t, "price", got, tt.want)
		})
	}
}

func TestBestAskBidPrice_OrderedAndMonotonic(t *testing.T) {
	positions := []string{"-40", "-30", "-20", "-10", "0", "10", "20", "30"}

	var prevAsk, prevBid math.Decimal
	for i, position := range positions {
		p := curvePool("10000", position, "0")
		ask, err := amm.BestAskBidPrice(p, market0, false)
		if err != nil {
			t.Fatalf("ask at %s: %v", position, err)
		}
		bid, err := amm.BestAskBidPrice(p, market0, true)
		if err != nil {
			t.Fatalf("bid at %s: %v", position, err)
		}
		if ask.LessThan(bid) {
			t.Errorf("position %s: ask %s below bid %s", position, ask, bid)
		}
		// a longer AMM quotes lower on both sides
		if i > 0 {
			if ask.GreaterThan(prevAsk) {
				t.Errorf("position %s: ask %s above %s at %s", position, ask, prevAsk, positions[i-1])
			}
			if bid.GreaterThan(prevBid) {
				t.Errorf("position %s: bid %s above %s at %s", position, bid, prevBid, positions[i-1])
			}
		}
		prevAsk, prevBid = ask, bid
	}
}

func TestBestAskBidPrice_OpenUnsafe(t *testing.T) {
	if _, err := amm.BestAskBidPrice(pool3(), market0, false); !errs.Is(err, errs.KindInsufficientLiquidity) {
		t.Errorf("short: got %v, want InsufficientLiquidity", err)
	}
	if _, err := amm.BestAskBidPrice(pool6(), market0, true); !errs.Is(err, errs.KindInsufficientLiquidity) {
		t.Errorf("long: got %v, want InsufficientLiquidity", err)
	}
}

// ============================================================================
// Test: Funding rate
// ============================================================================

func TestFundingRate(t *testing.T) {
	pools := []func() *state.LiquidityPoolStorage{pool0, pool1, pool2, pool3, pool4, pool5, pool6}
	tests := []struct {
		name         string
		base         string
		openInterest string
		want         []string
	}{
		{
			name: "no base rate", base: "0", openInterest: "10",
			want: []string{"0", "0.0005", "0.00269597158238683137", "0.005", "-0.0005", "-0.005", "-0.005"},
		},
		{
			name: "positive base, open interest", base: "0.0001", openInterest: "10",
			want: []string{"0.0001", "0.0006", "0.00279597158238683137", "0.005", "-0.0005", "-0.005", "-0.005"},
		},
		{
			name: "negative base, open interest", base: "-0.0001", openInterest: "10",
			want: []string{"-0.0001", "0.0005", "0.00269597158238683137", "0.005", "-0.0006", "-0.005", "-0.005"},
		},
		{
			name: "positive base, no open interest", base: "0.0001", openInterest: "0",
			want: []string{"0"},
		},
		{
			name: "negative base, no open interest", base: "-0.0001", openInterest: "0",
			want: []string{"0"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			for i, want := range tt.want {
				p := withPerpetual(pools[i](), market0, func(p *state.PerpetualStorage) {
					p.BaseFundingRate = state.NewOption(d(tt.base))
					p.OpenInterest = d(tt.openInterest)
				})
				got, err := amm.FundingRate(p, market0)
				if err != nil {
					t.Fatalf("pool %d: %v", i, err)
				}
				// pool2 is the only safe pool whose margin is irrational
				if i == 2 {
					testutil.AssertApprox(t, "funding rate", got, want)
				} else {
					testutil.AssertEqual(t, "funding rate", got, want)
				}
			}
		})
	}
}

// ============================================================================
// Test: Liquidity
// ============================================================================

func TestShareToMint(t *testing.T) {
	tests := []struct {
		name       string
		pool       *state.LiquidityPoolStorage
		totalShare string
		cashToAdd  string
		want       string
	}{
		{"init", poolInit(), "0", "1000", "1000"},
		{"safe before and after", pool1(), "100", "1000", "10.0916660306314520522392020897"},
		{"short, unsafe before and after", pool3(), "100", "576", "5.321016166281755196304849885"},
		{"short, unsafe before, safe after", pool3(), "100", "577", "6.021800176340430529365414419"},
		{"long, unsafe before and after", pool6(), "100", "576", "5.321016166281755196304849885"},
		{"long, unsafe before, safe after", pool6(), "100", "577", "6.021800176340430529365414419"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := amm.ShareToMint(tt.pool, d(tt.totalShare), d(tt.cashToAdd))
			if err != nil {
				t.Fatalf("share to mint: %v", err)
			}
			if tt.totalShare == "0" {
				testutil.AssertEqual(t, "share", got.ShareToMint, tt.want)
				return
			}
			testutil.AssertApprox(t, "share", got.ShareToMint, tt.want)
		})
	}
}

func TestCashToReturn(t *testing.T) {
	emergency1 := func(p *state.LiquidityPoolStorage) *state.LiquidityPoolStorage {
		return withPerpetual(p, 1, func(p *state.PerpetualStorage) {
			p.State = state.PerpetualStateEmergency
		})
	}
	tests := []struct {
		name          string
		pool          *state.LiquidityPoolStorage
		totalShare    string
		shareToRemove string
		want          string
		irrational    bool
	}{
		{"pool margin = 0", poolInit(), "100", "10", "0", false},
		{"no position", pool0(), "100", "10", "1000", false},
		{"no position, remove all", pool0(), "100", "100", "10000", false},
		{"short", pool1(), "100", "10", "988.88888888888888888889", false},
		{"long", pool4(), "100", "10", "988.88888888888888888889", false},
		{"other market not normal", emergency1(pool4()), "100", "10", "900.25420688843233693447638834", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := amm.CashToReturn(tt.pool, d(tt.totalShare), d(tt.shareToRemove))
			if err != nil {
				t.Fatalf("cash to return: %v", err)
			}
			if tt.irrational {
				testutil.AssertApprox(t, "cash", got.CashToReturn, tt.want)
				return
			}
			testutil.AssertEqual(t, "cash", got.CashToReturn, tt.want)
		})
	}
}

func TestCashToReturn_Fails(t *testing.T) {
	tests := []struct {
		name          string
		pool          *state.LiquidityPoolStorage
		shareToRemove string
		maxLeverage   string
	}{
		{"short, unsafe before", pool3(), "10", "3"},
		{"long, unsafe before", pool6(), "10", "3"},
		{"short, unsafe after", pool1(), "90.001", "3"},
		{"long, unsafe after", pool4(), "90.001", "3"},
		{"long, negative price after", pool5(), "0.001", "3"},
		{"long, exceeds leverage after", pool4(), "0.001", "0.1"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := setMaxLeverage(tt.pool, tt.maxLeverage)
			_, err := amm.CashToReturn(p, d("100"), d(tt.shareToRemove))
			if !errs.Is(err, errs.KindInsufficientLiquidity) {
				t.Errorf("got %v, want InsufficientLiquidity", err)
			}
		})
	}
}

func TestCashToReturn_InvalidShare(t *testing.T) {
	if _, err := amm.CashToReturn(pool0(), d("0"), d("0")); !errs.Is(err, errs.KindInvalidArgument) {
		t.Errorf("zero total: got %v, want InvalidArgument", err)
	}
	if _, err := amm.CashToReturn(pool0(), d("100"), d("101")); !errs.Is(err, errs.KindInvalidArgument) {
		t.Errorf("remove more than total: got %v, want InvalidArgument", err)
	}
}

func TestMaxRemovableShare(t *testing.T) {
	emergency1 := func(p *state.LiquidityPoolStorage) *state.LiquidityPoolStorage {
		return withPerpetual(p, 1, func(p *state.PerpetualStorage) {
			p.State = state.PerpetualStateEmergency
		})
	}
	tests := []struct {
		name        string
		pool        *state.LiquidityPoolStorage
		totalShare  string
		maxLeverage string
		want        string // empty: only check that the share can be removed
	}{
		{"pool margin = 0", poolInit(), "0", "3", "0"},
		{"no position", pool0(), "100", "3", "100"},
		{"short", pool1(), "100", "3", ""},
		{"short, limited by leverage", pool1(), "100", "0.5", ""},
		{"long", pool4(), "100", "3", ""},
		{"other market not normal", emergency1(pool4()), "100", "3", ""},
		{"short, unsafe before", pool3(), "100", "3", "0"},
		{"long, unsafe before", pool6(), "100", "3", "0"},
		{"long, negative price after", pool5(), "100", "3", "0"},
		{"long, exceeds leverage after", pool4(), "100", "0.1", "0"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := setMaxLeverage(tt.pool, tt.maxLeverage)
			totalShare := d(tt.totalShare)
			got, err := amm.MaxRemovableShare(p, totalShare)
			if err != nil {
				t.Fatalf("max removable share: %v", err)
			}
			if tt.want != "" {
				testutil.AssertEqual(t, "share", got, tt.want)
			}
			if got.IsZero() {
				return
			}
			if _, err := amm.CashToReturn(p, totalShare, got); err != nil {
				t.Errorf("removing the max share: %v", err)
			}
			over := got.Mul(d("1.015"))
			if over.LessThanOrEqual(totalShare) {
				if _, err := amm.CashToReturn(p, totalShare, over); !errs.Is(err, errs.KindInsufficientLiquidity) {
					t.Errorf("removing more than the max share: got %v, want InsufficientLiquidity", err)
				}
			}
		})
	}
}
