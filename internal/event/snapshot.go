package event

import (
	"time"

	"PerpAMM/internal/state"
)

// SnapshotUpdate replaces a pool's snapshot as of Block.
type SnapshotUpdate struct {
	Pool      string
	Block     uint64
	Snapshot  *state.LiquidityPoolStorage
	Timestamp time.Time
}
