package math_test

import (
	"math/big"
	"testing"

	"PerpAMM/internal/errs"
	"PerpAMM/internal/math"
)

var d = math.MustFromString

// ============================================================================
// Test: Decimal rounding & wad conversion
// ============================================================================

func TestDivRoundsHalfUpAt20Places(t *testing.T) {
	tests := []struct {
		x, y, want string
	}{
		{"1", "3", "0.33333333333333333333"},
		{"2", "3", "0.66666666666666666667"},
		{"-2", "3", "-0.66666666666666666667"},
		{"10", "4", "2.5"},
	}
	for _, tt := range tests {
		if got := d(tt.x).Div(d(tt.y)); !got.Equal(d(tt.want)) {
			t.Errorf("%s / %s: got %s, want %s", tt.x, tt.y, got, tt.want)
		}
	}
}

func TestRound(t *testing.T) {
	x := d("1.0000000000000000005")
	if got := x.RoundWad(); !got.Equal(d("1.000000000000000001")) {
		t.Errorf("round wad: got %s", got)
	}
	if got := x.Round(18, math.RoundDown); !got.Equal(d("1")) {
		t.Errorf("round down: got %s", got)
	}
	if got := d("-1.5").Round(0, math.RoundHalfUp); !got.Equal(d("-2")) {
		t.Errorf("half up is away from zero: got %s", got)
	}
}

func TestWad(t *testing.T) {
	raw, _ := new(big.Int).SetString("1500000000000000000", 10)
	if got := math.FromWad(raw); !got.Equal(d("1.5")) {
		t.Errorf("from wad: got %s, want 1.5", got)
	}
	if got := d("-1.2345678901234567899").ToWad().String(); got != "-1234567890123456789" {
		t.Errorf("to wad truncates toward zero: got %s", got)
	}
	if got := math.FromWad(nil); !got.IsZero() {
		t.Errorf("nil wad: got %s, want 0", got)
	}
}

func TestHasTheSameSign(t *testing.T) {
	tests := []struct {
		x, y string
		want bool
	}{
		{"1", "2", true},
		{"-1", "-2", true},
		{"1", "-2", false},
		{"0", "-2", true},
		{"1", "0", true},
	}
	for _, tt := range tests {
		if got := math.HasTheSameSign(d(tt.x), d(tt.y)); got != tt.want {
			t.Errorf("HasTheSameSign(%s, %s): got %v, want %v", tt.x, tt.y, got, tt.want)
		}
	}
}

func TestRatioString(t *testing.T) {
	if math.Infinity.String() != "Infinity" {
		t.Errorf("infinity: got %s", math.Infinity)
	}
	if got := math.FiniteRatio(d("2.5")).String(); got != "2.5" {
		t.Errorf("finite: got %s", got)
	}
}

// ============================================================================
// Test: Sqrt
// ============================================================================

func TestSqrt(t *testing.T) {
	tests := []struct {
		x, want string
	}{
		{"0", "0"},
		{"4", "2"},
		{"0.01", "0.1"},
		{"2", "1.414213562373095048"},
		{"100000000", "10000"},
	}
	for _, tt := range tests {
		got, err := math.Sqrt(d(tt.x))
		if err != nil {
			t.Fatalf("sqrt(%s): %v", tt.x, err)
		}
		if !got.Equal(d(tt.want)) {
			t.Errorf("sqrt(%s): got %s, want %s", tt.x, got, tt.want)
		}
	}
}

func TestSqrt_IsFloorAtWadPrecision(t *testing.T) {
	wei := d("1e-18")
	inputs := []string{
		"0", "1e-18", "1e-36", "0.3", "0.5", "0.999999999999999999",
		"1", "1.5", "2", "2.25", "2.999999999999999999", "3",
		"7", "10", "99.000000000000000001", "123456.789",
		"199000000", "1e20", "98010000.0000000000000000000001",
	}
	for _, s := range inputs {
		x := d(s)
		r, err := math.Sqrt(x)
		if err != nil {
			t.Fatalf("sqrt(%s): %v", s, err)
		}
		if r.Mul(r).GreaterThan(x) {
			t.Errorf("sqrt(%s) = %s: square exceeds x", s, r)
		}
		next := r.Add(wei)
		if !next.Mul(next).GreaterThan(x) {
			t.Errorf("sqrt(%s) = %s: not the largest wad root", s, r)
		}
	}
}

func TestSqrt_Negative(t *testing.T) {
	if _, err := math.Sqrt(d("-1")); !errs.Is(err, errs.KindInvalidArgument) {
		t.Errorf("got %v, want InvalidArgument", err)
	}
}

// ============================================================================
// Test: SearchMaxAmount
// ============================================================================

func TestSearchMaxAmount(t *testing.T) {
	limit := d("1234.5678")
	f := func(x math.Decimal) bool { return x.LessThanOrEqual(limit) }
	guess := d("1")
	upper := d("100000")

	tests := []struct {
		name string
		opts math.SearchOptions
	}{
		{"guess", math.SearchOptions{Guess: &guess}},
		{"upper limit", math.SearchOptions{UpperLimit: &upper}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := math.SearchMaxAmount(f, tt.opts)
			if err != nil {
				t.Fatalf("search: %v", err)
			}
			if got.GreaterThan(limit) {
				t.Errorf("result %s exceeds %s", got, limit)
			}
			if limit.Sub(got).Div(limit).GreaterThan(d("2e-7")) {
				t.Errorf("result %s too far below %s", got, limit)
			}
		})
	}
}

func TestSearchMaxAmount_NothingHolds(t *testing.T) {
	guess := d("10")
	got, err := math.SearchMaxAmount(func(math.Decimal) bool { return false }, math.SearchOptions{Guess: &guess})
	if err != nil {
		t.Fatalf("search: %v", err)
	}
	if !got.IsZero() {
		t.Errorf("got %s, want 0", got)
	}
}

func TestSearchMaxAmount_BoundedIterations(t *testing.T) {
	calls := 0
	guess := d("1")
	_, err := math.SearchMaxAmount(func(math.Decimal) bool {
		calls++
		return true
	}, math.SearchOptions{Guess: &guess, MaxIteration: 10})
	if err != nil {
		t.Fatalf("search: %v", err)
	}
	// one tolerance probe plus MaxIteration
	if calls != 11 {
		t.Errorf("calls: got %d, want 11", calls)
	}
}

func TestSearchMaxAmount_BadOptions(t *testing.T) {
	f := func(math.Decimal) bool { return true }
	one := d("1")
	bad := []math.SearchOptions{
		{},
		{Guess: &one, UpperLimit: &one},
	}
	for i, opts := range bad {
		if _, err := math.SearchMaxAmount(f, opts); !errs.Is(err, errs.KindInvalidArgument) {
			t.Errorf("case %d: got %v, want InvalidArgument", i, err)
		}
	}
}

// ============================================================================
// Test: Funding accrual
// ============================================================================

func TestAccrueUnitFunding(t *testing.T) {
	// 0.1% over one full period at 7000
	got := math.AccrueUnitFunding(d("9.9"), d("0.001"), d("7000"), math.FundingTime)
	if !got.Equal(d("16.9")) {
		t.Errorf("full period: got %s, want 16.9", got)
	}
	got = math.AccrueUnitFunding(d("0"), d("0.001"), d("7000"), math.FundingTime/8)
	if !got.Equal(d("0.875")) {
		t.Errorf("eighth period: got %s, want 0.875", got)
	}
	if got := math.AccrueUnitFunding(d("1"), d("0.001"), d("7000"), 0); !got.Equal(d("1")) {
		t.Errorf("no time elapsed: got %s, want 1", got)
	}
}

func TestComputeFundingPayment(t *testing.T) {
	if got := math.ComputeFundingPayment(d("2.3"), d("9.9"), d("16.9")); !got.Equal(d("16.1")) {
		t.Errorf("long pays: got %s, want 16.1", got)
	}
	if got := math.ComputeFundingPayment(d("-1"), d("9.9"), d("16.9")); !got.Equal(d("-7")) {
		t.Errorf("short receives: got %s, want -7", got)
	}
}
