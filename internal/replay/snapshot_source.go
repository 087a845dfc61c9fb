package replay

import (
	"context"
	"fmt"

	"polymarket-streamcore/internal/recorder"
	"polymarket-streamcore/internal/resync"
	"polymarket-streamcore/pkg/streamtypes"
)

// SnapshotSource adapts a directory of recorded sessions into a
// resync.SnapshotSource, so offline runs can resync against recorded
// history instead of a live REST endpoint (spec §4.10 "replaceable by the
// Replay Source during offline runs").
type SnapshotSource struct {
	// SessionDirFor resolves which recorded session directory to read the
	// latest snapshot from for a given asset.
	SessionDirFor func(asset streamtypes.AssetId) (string, error)
}

// FetchSnapshot implements resync.SnapshotSource.
func (s *SnapshotSource) FetchSnapshot(ctx context.Context, asset streamtypes.AssetId) (resync.Snapshot, error) {
	dir, err := s.SessionDirFor(asset)
	if err != nil {
		return resync.Snapshot{}, fmt.Errorf("resolve session dir for %s: %w", asset, err)
	}

	rec, err := recorder.ReadSnapshot(dir)
	if err != nil {
		return resync.Snapshot{}, fmt.Errorf("read recorded snapshot: %w", err)
	}

	return resync.Snapshot{
		Asset:  rec.Asset,
		Bids:   rec.Bids,
		Asks:   rec.Asks,
		Digest: rec.Digest,
	}, nil
}
