// Package recorder implements the Session Recorder (spec §4.7): an
// append-only binary log of every snapshot and delta observed for an
// asset, written asynchronously relative to the read path, with a queue
// that blocks the decoder rather than dropping when full.
//
// Grounded on the teacher's internal/store.Store (mutex-serialized,
// directory-scoped, atomic-write persistence), generalized from "one JSON
// file per market, rewritten in full on every save" to "one append-only
// binary session log per (asset, connect-epoch)," since spec §4.7 requires
// incrementally numbered delta records individually truncatable at a
// record boundary, which whole-file rewrite cannot provide.
package recorder

import (
	"time"

	"polymarket-streamcore/pkg/fixedpoint"
	"polymarket-streamcore/pkg/streamtypes"
)

const schemaVersion = 1

// FrameKind discriminates a delta record's payload.
type FrameKind byte

const (
	FrameSnapshot FrameKind = iota + 1
	FramePriceChange
	FrameTrade
	FrameTickSizeChange
	FrameClear
)

// SnapshotRecord is the first record written for a session (spec §4.7).
type SnapshotRecord struct {
	Asset     streamtypes.AssetId
	Timestamp time.Time
	Bids      []streamtypes.PriceLevel
	Asks      []streamtypes.PriceLevel
	Tick      fixedpoint.FixedDecimal
	Digest    string
}

// DeltaRecord is one incrementally numbered update (spec §4.7). Exactly
// one of the typed payload fields is populated, selected by Kind.
type DeltaRecord struct {
	Asset     streamtypes.AssetId
	Timestamp time.Time
	Seq       uint64
	Kind      FrameKind

	Snapshot       *SnapshotRecord // resync-triggered snapshot mid-session
	PriceChange    *streamtypes.PriceChangeEvent
	Trade          *streamtypes.TradeEvent
	TickSizeChange *streamtypes.TickSizeChangeEvent
	Clear          *streamtypes.ClearEvent
}

// SessionMetadata is the session header (spec §4.7), written on open and
// re-written (stamped with end time and final counts) on close.
type SessionMetadata struct {
	SessionId     streamtypes.SessionId
	Asset         streamtypes.AssetId
	StartTime     time.Time
	EndTime       time.Time
	HashAlgorithm string
	SchemaVersion int
	DeltaCount    uint64
}
