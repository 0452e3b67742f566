package ingestion

import (
	"context"

	"PerpAMM/internal/event"
)

// SnapshotIngestService injects snapshots outside JetStream, for admin use
// and bootstrapping a pool before the chain reader catches up.
type SnapshotIngestService struct {
	snapshotChan chan<- *event.SnapshotUpdate
}

func NewSnapshotIngestService(snapshotChan chan<- *event.SnapshotUpdate) *SnapshotIngestService {
	return &SnapshotIngestService{snapshotChan: snapshotChan}
}

// InjectSnapshot parses a snapshot in the JetStream wire format and queues
// it for the snapshot loop.
func (s *SnapshotIngestService) InjectSnapshot(ctx context.Context, data []byte) (*event.SnapshotUpdate, error) {
	update, err := ParseSnapshot(data)
	if err != nil {
		return nil, err
	}

	select {
	case s.snapshotChan <- update:
		return update, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}
