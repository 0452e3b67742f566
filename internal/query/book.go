package query

import (
	"sort"
	"sync"

	"PerpAMM/internal/event"
)

// SnapshotBook holds the latest accepted snapshot of every pool. Snapshots
// are never modified after Put; readers share them.
type SnapshotBook struct {
	mu    sync.RWMutex
	pools map[string]*event.SnapshotUpdate
}

func NewSnapshotBook() *SnapshotBook {
	return &SnapshotBook{pools: make(map[string]*event.SnapshotUpdate)}
}

func (b *SnapshotBook) Put(u *event.SnapshotUpdate) {
	b.mu.Lock()
	b.pools[u.Pool] = u
	b.mu.Unlock()
}

func (b *SnapshotBook) Get(pool string) (*event.SnapshotUpdate, bool) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	u, ok := b.pools[pool]
	return u, ok
}

// LatestSnapshots returns every pool's snapshot ordered by pool name.
func (b *SnapshotBook) LatestSnapshots() []*event.SnapshotUpdate {
	b.mu.RLock()
	snaps := make([]*event.SnapshotUpdate, 0, len(b.pools))
	for _, u := range b.pools {
		snaps = append(snaps, u)
	}
	b.mu.RUnlock()

	sort.Slice(snaps, func(i, j int) bool { return snaps[i].Pool < snaps[j].Pool })
	return snaps
}

func (b *SnapshotBook) Len() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.pools)
}
