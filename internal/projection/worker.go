package projection

import (
	"context"
	"strconv"
	"time"

	"PerpAMM/internal/core"
	"PerpAMM/internal/event"
	"PerpAMM/internal/math"
	"PerpAMM/internal/observability"

	"github.com/rs/zerolog"
)

// SnapshotSource lists the latest accepted snapshot of every pool.
type SnapshotSource interface {
	LatestSnapshots() []*event.SnapshotUpdate
}

// FundingProjector periodically recomputes every Normal market's funding
// rate on the latest snapshot and projects unit accumulative funding to
// the current time. Projections are eventually consistent: a failed pass
// is logged and the next tick tries again.
type FundingProjector struct {
	engine   *core.Engine
	source   SnapshotSource
	sinks    []FundingSink
	interval time.Duration
	now      func() time.Time
	metrics  *observability.Metrics
	logger   zerolog.Logger
}

func NewFundingProjector(
	engine *core.Engine,
	source SnapshotSource,
	interval time.Duration,
	metrics *observability.Metrics,
	logger zerolog.Logger,
	sinks ...FundingSink,
) *FundingProjector {
	return &FundingProjector{
		engine:   engine,
		source:   source,
		sinks:    sinks,
		interval: interval,
		now:      time.Now,
		metrics:  metrics,
		logger:   logger,
	}
}

// Run projects once per interval until ctx is cancelled.
func (fp *FundingProjector) Run(ctx context.Context) error {
	ticker := time.NewTicker(fp.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			if _, err := fp.RunOnce(ctx); err != nil {
				fp.logger.Warn().Err(err).Msg("funding projection failed")
			}
		}
	}
}

// RunOnce projects every pool and hands the rows to each sink.
func (fp *FundingProjector) RunOnce(ctx context.Context) ([]FundingProjection, error) {
	start := time.Now()
	now := fp.now()

	var rows []FundingProjection
	for _, snap := range fp.source.LatestSnapshots() {
		rows = append(rows, ProjectFunding(fp.engine, snap, now, fp.logger)...)
	}

	status := "ok"
	var firstErr error
	for _, sink := range fp.sinks {
		if err := sink.WriteFunding(ctx, rows); err != nil {
			status = "error"
			if firstErr == nil {
				firstErr = err
			}
		}
	}

	if fp.metrics != nil {
		fp.metrics.FundingProjectionRuns.WithLabelValues(status).Inc()
		fp.metrics.FundingProjectionDuration.Observe(time.Since(start).Seconds())
		for _, r := range rows {
			fp.metrics.FundingRate.WithLabelValues(r.Pool, strconv.Itoa(r.PerpetualIndex)).Set(r.FundingRate.Float64())
		}
	}
	return rows, firstErr
}

// ProjectFunding computes the projection of every Normal market in snap.
// Markets whose funding rate cannot be computed are skipped and logged.
// elapsed is now - FundingTime, clamped at 0.
func ProjectFunding(engine *core.Engine, snap *event.SnapshotUpdate, now time.Time, logger zerolog.Logger) []FundingProjection {
	p := snap.Snapshot
	elapsed := int64(0)
	if p.FundingTime > 0 && now.Unix() > p.FundingTime {
		elapsed = now.Unix() - p.FundingTime
	}

	var rows []FundingProjection
	for _, i := range p.Indices() {
		perpetual := p.Perpetuals[i]
		if !perpetual.IsNormal() {
			continue
		}
		rate, err := engine.FundingRate(p, i)
		if err != nil {
			logger.Debug().Err(err).Str("pool", snap.Pool).Int("perpetual", i).Msg("skip funding projection")
			continue
		}
		rows = append(rows, FundingProjection{
			Pool:                    snap.Pool,
			PerpetualIndex:          i,
			Block:                   snap.Block,
			FundingRate:             rate,
			IndexPrice:              perpetual.IndexPrice,
			UnitAccumulativeFunding: math.AccrueUnitFunding(perpetual.UnitAccumulativeFunding, rate, perpetual.IndexPrice, elapsed),
			ElapsedSeconds:          elapsed,
			ProjectedAt:             now,
		})
	}
	return rows
}

// SetClock replaces the time source.
func (fp *FundingProjector) SetClock(now func() time.Time) {
	fp.now = now
}
