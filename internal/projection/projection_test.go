package projection_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"PerpAMM/internal/core"
	"PerpAMM/internal/event"
	"PerpAMM/internal/math"
	"PerpAMM/internal/observability"
	"PerpAMM/internal/projection"
	"PerpAMM/internal/state"
	"PerpAMM/internal/testutil"

	"github.com/prometheus/client_golang/prometheus"
	promtest "github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/rs/zerolog"
)

var d = math.MustFromString

// --- Test helpers ---

func perpetual(position string) *state.PerpetualStorage {
	return &state.PerpetualStorage{
		State:                   state.PerpetualStateNormal,
		MarkPrice:               d("6965"),
		IndexPrice:              d("7000"),
		UnitAccumulativeFunding: d("9.9059375"),
		InitialMarginRate:       d("0.1"),
		MaintenanceMarginRate:   d("0.05"),
		OpenInterest:            d("10"),
		HalfSpread:              state.NewOption(d("0.001")),
		OpenSlippageFactor:      state.NewOption(d("0.0142857142857142857142857142857")),
		CloseSlippageFactor:     state.NewOption(d("0.0128571428571428571428571428571")),
		FundingRateFactor:       state.NewOption(d("0.005")),
		FundingRateLimit:        state.NewOption(d("0.005")),
		AMMMaxLeverage:          state.NewOption(d("5")),
		MaxClosePriceDiscount:   state.NewOption(d("0.05")),
		AMMPositionAmount:       d(position),
	}
}

var now = time.Unix(1700000000, 0)

func snapshot(name, cash, position string) *event.SnapshotUpdate {
	return &event.SnapshotUpdate{
		Pool:  name,
		Block: 42,
		Snapshot: &state.LiquidityPoolStorage{
			PoolCashBalance: d(cash),
			FundingTime:     now.Unix() - 2880,
			Perpetuals: map[int]*state.PerpetualStorage{
				0: perpetual(position),
				1: {State: state.PerpetualStateCleared},
			},
		},
	}
}

type staticSource []*event.SnapshotUpdate

func (s staticSource) LatestSnapshots() []*event.SnapshotUpdate { return s }

type failingSink struct{}

func (failingSink) WriteFunding(context.Context, []projection.FundingProjection) error {
	return errors.New("db down")
}

// ============================================================================
// Test: ProjectFunding
// ============================================================================

func TestProjectFunding(t *testing.T) {
	engine := core.NewEngine(zerolog.Nop(), nil)

	// unsafe long AMM saturates at -Γ; 2880s is a tenth of a funding period
	rows := projection.ProjectFunding(engine, snapshot("0xlong", "-13677.21634375", "2.3"), now, zerolog.Nop())
	if len(rows) != 1 {
		t.Fatalf("rows: got %d, want 1 (cleared market skipped)", len(rows))
	}
	r := rows[0]
	testutil.AssertApprox(t, "funding rate", r.FundingRate, "-0.005")
	testutil.AssertApprox(t, "uaf", r.UnitAccumulativeFunding, "6.4059375")
	if r.ElapsedSeconds != 2880 || r.Block != 42 || !r.ProjectedAt.Equal(now) {
		t.Errorf("row: got %+v", r)
	}

	flat := projection.ProjectFunding(engine, snapshot("0xflat", "100000", "0"), now, zerolog.Nop())
	testutil.AssertApprox(t, "flat funding rate", flat[0].FundingRate, "0")
	testutil.AssertApprox(t, "flat uaf", flat[0].UnitAccumulativeFunding, "9.9059375")
}

func TestProjectFunding_FutureFundingTime(t *testing.T) {
	snap := snapshot("0xlong", "-13677.21634375", "2.3")
	snap.Snapshot.FundingTime = now.Unix() + 60
	rows := projection.ProjectFunding(core.NewEngine(zerolog.Nop(), nil), snap, now, zerolog.Nop())
	if rows[0].ElapsedSeconds != 0 {
		t.Errorf("elapsed: got %d, want 0", rows[0].ElapsedSeconds)
	}
	testutil.AssertApprox(t, "uaf", rows[0].UnitAccumulativeFunding, "9.9059375")
}

func TestProjectFunding_SkipsEmergencyPool(t *testing.T) {
	// margin balance < 0: funding rate is InsufficientLiquidity
	rows := projection.ProjectFunding(core.NewEngine(zerolog.Nop(), nil), snapshot("0xbroke", "-100000", "2.3"), now, zerolog.Nop())
	if len(rows) != 0 {
		t.Errorf("rows: got %d, want 0", len(rows))
	}
}

// ============================================================================
// Test: FundingProjector
// ============================================================================

func TestFundingProjector_RunOnce(t *testing.T) {
	metrics := observability.NewMetrics(prometheus.NewRegistry())
	history := projection.NewFundingHistory(2)
	source := staticSource{
		snapshot("0xlong", "-13677.21634375", "2.3"),
		snapshot("0xflat", "100000", "0"),
	}
	fp := projection.NewFundingProjector(core.NewEngine(zerolog.Nop(), nil), source, time.Minute, metrics, zerolog.Nop(), history)
	fp.SetClock(func() time.Time { return now })

	for i := 0; i < 3; i++ {
		rows, err := fp.RunOnce(context.Background())
		if err != nil {
			t.Fatalf("run %d: %v", i, err)
		}
		if len(rows) != 2 {
			t.Fatalf("rows: got %d, want 2", len(rows))
		}
	}

	if got := len(history.QueryByMarket("0xlong", 0, 10)); got != 2 {
		t.Errorf("history kept: got %d, want 2", got)
	}
	if got := history.QueryByMarket("0xlong", 1, 10); len(got) != 0 {
		t.Errorf("cleared market history: got %d entries", len(got))
	}
	if got := promtest.ToFloat64(metrics.FundingRate.WithLabelValues("0xlong", "0")); got != -0.005 {
		t.Errorf("funding gauge: got %v, want -0.005", got)
	}
	if got := promtest.ToFloat64(metrics.FundingProjectionRuns.WithLabelValues("ok")); got != 3 {
		t.Errorf("runs: got %v, want 3", got)
	}
}

func TestFundingProjector_SinkError(t *testing.T) {
	metrics := observability.NewMetrics(prometheus.NewRegistry())
	history := projection.NewFundingHistory(10)
	fp := projection.NewFundingProjector(
		core.NewEngine(zerolog.Nop(), nil),
		staticSource{snapshot("0xlong", "-13677.21634375", "2.3")},
		time.Minute, metrics, zerolog.Nop(),
		failingSink{}, history,
	)

	if _, err := fp.RunOnce(context.Background()); err == nil {
		t.Fatal("expected sink error")
	}
	if len(history.QueryByMarket("0xlong", 0, 10)) != 1 {
		t.Error("later sinks still receive the rows")
	}
	if got := promtest.ToFloat64(metrics.FundingProjectionRuns.WithLabelValues("error")); got != 1 {
		t.Errorf("error runs: got %v, want 1", got)
	}
}

func TestFundingHistory_NewestFirst(t *testing.T) {
	h := projection.NewFundingHistory(5)
	for i := 1; i <= 3; i++ {
		h.WriteFunding(context.Background(), []projection.FundingProjection{
			{Pool: "p", PerpetualIndex: 0, Block: uint64(i)},
		})
	}
	got := h.QueryByMarket("p", 0, 2)
	if len(got) != 2 || got[0].Block != 3 || got[1].Block != 2 {
		t.Errorf("query: got %+v", got)
	}
}
