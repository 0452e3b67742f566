package core

import (
	"errors"
	"fmt"
	"sync"

	"PerpAMM/internal/observability"
)

// ErrStaleSnapshot is returned for a block older than the pool's current
// one.
var ErrStaleSnapshot = errors.New("stale snapshot")

// SnapshotSequencer orders snapshot updates per pool by block number.
// Stale updates are rejected, repeats ignored, gaps tolerated (a snapshot
// is a full state, not a delta).
type SnapshotSequencer struct {
	mu        sync.Mutex
	lastBlock map[string]uint64 // pool -> last accepted block
	gaps      map[string]int64
	metrics   *observability.Metrics
}

// NewSnapshotSequencer creates a sequencer. metrics may be nil.
func NewSnapshotSequencer(metrics *observability.Metrics) *SnapshotSequencer {
	return &SnapshotSequencer{
		lastBlock: make(map[string]uint64),
		gaps:      make(map[string]int64),
		metrics:   metrics,
	}
}

// Accept reports whether a snapshot of pool at block should replace the
// current one. A repeat of the last block returns (false, nil); an older
// block returns an error.
func (s *SnapshotSequencer) Accept(pool string, block uint64) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	last, seen := s.lastBlock[pool]
	switch {
	case !seen:
		s.lastBlock[pool] = block
		return true, nil
	case block == last:
		s.reject("duplicate")
		return false, nil
	case block < last:
		s.reject("stale")
		return false, fmt.Errorf("%w: pool=%s, last=%d, got=%d", ErrStaleSnapshot, pool, last, block)
	}

	if block > last+1 {
		s.gaps[pool]++
	}
	s.lastBlock[pool] = block
	return true, nil
}

func (s *SnapshotSequencer) reject(reason string) {
	if s.metrics != nil {
		s.metrics.SnapshotsRejected.WithLabelValues(reason).Inc()
	}
}

// LastBlock returns the last accepted block for pool.
func (s *SnapshotSequencer) LastBlock(pool string) (uint64, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	b, ok := s.lastBlock[pool]
	return b, ok
}

// SetLastBlock initializes a pool's position (used during recovery).
func (s *SnapshotSequencer) SetLastBlock(pool string, block uint64) {
	s.mu.Lock()
	s.lastBlock[pool] = block
	s.mu.Unlock()
}

// Forget drops pool, so its next snapshot is accepted unconditionally.
func (s *SnapshotSequencer) Forget(pool string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.lastBlock, pool)
}

// Gaps returns how many block gaps were observed for pool.
func (s *SnapshotSequencer) Gaps(pool string) int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.gaps[pool]
}
