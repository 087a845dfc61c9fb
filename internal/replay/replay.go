// Package replay implements the Replay Source (spec §4.10): reads a
// recorded session back in timestamp order and emits the same PolyEvents
// observed live, at real-time pacing, a scaled speed, or as fast as
// possible. It doubles as a resync.SnapshotSource during offline runs
// (spec §4.10 "replaceable by the Replay Source").
//
// Grounded on internal/recorder's writer/reader framing (this package only
// ever reads what recorder.Session wrote) and the teacher's general
// channel-based producer shape (internal/api.Hub's broadcast loop), reused
// here for "emit events on a channel until the context is cancelled or the
// session is exhausted."
package replay

import (
	"context"
	"fmt"
	"time"

	"polymarket-streamcore/internal/recorder"
	"polymarket-streamcore/pkg/streamtypes"
)

// Speed controls playback pacing.
type Speed struct {
	// Scale multiplies the recorded inter-event delay; 1.0 is real-time,
	// 0 means "as fast as possible" (no pacing delay at all).
	Scale float64
}

// RealTime paces emission to match the gaps observed live.
func RealTime() Speed { return Speed{Scale: 1.0} }

// AsFastAsPossible emits every event with no pacing delay.
func AsFastAsPossible() Speed { return Speed{Scale: 0} }

// Scaled paces emission at factor times real-time (factor > 1 is faster).
func Scaled(factor float64) Speed { return Speed{Scale: 1.0 / factor} }

// Source reads one recorded session and replays it as an ordered PolyEvent
// stream, optionally restricted to a single asset.
type Source struct {
	sessionDir string
	assetFilt  streamtypes.AssetId // empty means no filter
	speed      Speed
}

// New builds a Source reading sessionDir (a directory previously produced
// by recorder.Session). assetFilter, if non-empty, restricts replay to
// events for that asset only (spec §4.10 "Asset filtering is honored").
func New(sessionDir string, assetFilter streamtypes.AssetId, speed Speed) *Source {
	return &Source{sessionDir: sessionDir, assetFilt: assetFilter, speed: speed}
}

// Run reads the session and emits its events onto the returned channel in
// timestamp order, honoring Speed pacing, until the stream is exhausted (a
// final SystemSessionEnded event is emitted and the channel is closed) or
// ctx is cancelled. The replay is entirely deterministic given the log
// (spec §4.10): two Run calls over the same session produce the identical
// sequence of events.
func (s *Source) Run(ctx context.Context) (<-chan streamtypes.PolyEvent, <-chan error) {
	out := make(chan streamtypes.PolyEvent)
	errc := make(chan error, 1)

	go func() {
		defer close(out)
		defer close(errc)
		if err := s.run(ctx, out); err != nil {
			errc <- err
		}
	}()

	return out, errc
}

func (s *Source) run(ctx context.Context, out chan<- streamtypes.PolyEvent) error {
	snap, err := recorder.ReadSnapshot(s.sessionDir)
	if err != nil {
		return fmt.Errorf("read session snapshot: %w", err)
	}
	deltas, err := recorder.ReadDeltas(s.sessionDir)
	if err != nil {
		return fmt.Errorf("read session deltas: %w", err)
	}

	if s.included(snap.Asset) {
		if err := s.emit(ctx, out, snap.Timestamp, snap.Timestamp, bookSnapshotEvent(snap)); err != nil {
			return err
		}
	}

	prev := snap.Timestamp
	for _, d := range deltas {
		if !s.included(d.Asset) {
			continue
		}
		evt, ok := deltaEvent(d)
		if !ok {
			continue // unrecognized/zero-value frame kind, skip rather than fail the whole replay
		}
		if err := s.emit(ctx, out, prev, d.Timestamp, evt); err != nil {
			return err
		}
		prev = d.Timestamp
	}

	meta, err := recorder.ReadMetadata(s.sessionDir)
	if err != nil {
		return fmt.Errorf("read session metadata: %w", err)
	}
	ended := streamtypes.PolyEvent{
		Kind: streamtypes.EventSystem,
		System: &streamtypes.SystemEvent{
			Kind:      streamtypes.SystemSessionEnded,
			Asset:     meta.Asset,
			Message:   fmt.Sprintf("replay of session %s complete", meta.SessionId),
			Timestamp: meta.EndTime,
		},
	}
	select {
	case out <- ended:
	case <-ctx.Done():
		return ctx.Err()
	}
	return nil
}

func (s *Source) included(asset streamtypes.AssetId) bool {
	return s.assetFilt == "" || s.assetFilt == asset
}

func (s *Source) emit(ctx context.Context, out chan<- streamtypes.PolyEvent, prev, cur time.Time, evt streamtypes.PolyEvent) error {
	if s.speed.Scale > 0 {
		gap := cur.Sub(prev)
		if gap > 0 {
			wait := time.Duration(float64(gap) * s.speed.Scale)
			select {
			case <-time.After(wait):
			case <-ctx.Done():
				return ctx.Err()
			}
		}
	}
	select {
	case out <- evt:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func bookSnapshotEvent(snap recorder.SnapshotRecord) streamtypes.PolyEvent {
	return streamtypes.PolyEvent{
		Kind: streamtypes.EventBookSnapshot,
		BookSnapshot: &streamtypes.BookSnapshotEvent{
			Asset:  snap.Asset,
			Bids:   snap.Bids,
			Asks:   snap.Asks,
			Digest: snap.Digest,
		},
	}
}

func deltaEvent(d recorder.DeltaRecord) (streamtypes.PolyEvent, bool) {
	switch d.Kind {
	case recorder.FrameSnapshot:
		if d.Snapshot == nil {
			return streamtypes.PolyEvent{}, false
		}
		return bookSnapshotEvent(*d.Snapshot), true
	case recorder.FramePriceChange:
		if d.PriceChange == nil {
			return streamtypes.PolyEvent{}, false
		}
		return streamtypes.PolyEvent{Kind: streamtypes.EventPriceChange, PriceChange: d.PriceChange}, true
	case recorder.FrameTrade:
		if d.Trade == nil {
			return streamtypes.PolyEvent{}, false
		}
		return streamtypes.PolyEvent{Kind: streamtypes.EventTrade, Trade: d.Trade}, true
	case recorder.FrameTickSizeChange:
		if d.TickSizeChange == nil {
			return streamtypes.PolyEvent{}, false
		}
		return streamtypes.PolyEvent{Kind: streamtypes.EventTickSizeChange, TickSizeChange: d.TickSizeChange}, true
	case recorder.FrameClear:
		if d.Clear == nil {
			return streamtypes.PolyEvent{}, false
		}
		return streamtypes.PolyEvent{Kind: streamtypes.EventClear, Clear: d.Clear}, true
	default:
		return streamtypes.PolyEvent{}, false
	}
}
