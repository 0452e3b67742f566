package ingestion

import (
	"context"
	"errors"

	"PerpAMM/internal/core"
	"PerpAMM/internal/errs"
	"PerpAMM/internal/event"
	"PerpAMM/internal/observability"

	"github.com/rs/zerolog"
)

// SnapshotApplier makes a parsed snapshot the served state of its pool.
type SnapshotApplier interface {
	ApplySnapshot(ctx context.Context, u *event.SnapshotUpdate) error
}

// RunSnapshotLoop applies snapshots from JetStream and from the admin
// ingest service in arrival order. JetStream messages are acked only
// after the snapshot is stored and served:
//
//	parse failure  -> Term (redelivery cannot fix it)
//	pool mismatch  -> Term
//	stale block    -> Ack
//	apply failure  -> Nak (redelivered)
func RunSnapshotLoop(
	ctx context.Context,
	rawChan <-chan RawSnapshot,
	injected <-chan *event.SnapshotUpdate,
	applier SnapshotApplier,
	logger zerolog.Logger,
) {
	for {
		select {
		case <-ctx.Done():
			return

		case raw, ok := <-rawChan:
			if !ok {
				return
			}
			update, err := ParseSnapshot(raw.Data)
			if err != nil {
				logger.Warn().Err(err).Str("subject", raw.Subject).Msg("unparseable snapshot")
				raw.TermFunc()
				continue
			}
			if raw.Pool != "" && raw.Pool != update.Pool {
				logger.Warn().Str("subject", raw.Subject).Str("pool", update.Pool).Msg("snapshot published under another pool")
				raw.TermFunc()
				continue
			}
			switch err := applier.ApplySnapshot(ctx, update); {
			case err == nil:
				raw.AckFunc()
			case errors.Is(err, core.ErrStaleSnapshot):
				logger.Debug().Err(err).Msg("stale snapshot skipped")
				raw.AckFunc()
			default:
				snapLogger := observability.WithSnapshot(logger, update.Pool, update.Block)
				snapLogger.Error().Err(err).
					Uint64("delivered", raw.Delivered).Msg("apply snapshot failed")
				raw.NakFunc()
			}

		case update, ok := <-injected:
			if !ok {
				return
			}
			if err := applier.ApplySnapshot(ctx, update); err != nil {
				logger.Warn().Err(err).Str("pool", update.Pool).Uint64("block", update.Block).
					Str("kind", errs.KindOf(err).String()).Msg("injected snapshot rejected")
			}
		}
	}
}
