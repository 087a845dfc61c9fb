// Package streamtypes defines the domain vocabulary shared by every layer
// of the streaming engine: asset/session identifiers, ladder-side enums,
// the consumer-facing PolyEvent union, and the wire JSON shapes the
// Polymarket WebSocket actually sends. It has no dependency on any other
// internal package, mirroring the teacher's pkg/types layering.
package streamtypes

import (
	"time"

	"polymarket-streamcore/pkg/fixedpoint"
)

// AssetId is an opaque, non-empty token identifier. Equality is by value.
type AssetId string

// SessionId identifies one (AssetId, connect-epoch) recording session.
type SessionId string

// Side is one side of a central limit order book.
type Side string

const (
	Bid Side = "BID"
	Ask Side = "ASK"
)

// PriceLevel is a single (price, size) pair. Size == 0 is only ever seen in
// transit, as a removal signal; a resting ladder entry always has size > 0.
type PriceLevel struct {
	Price fixedpoint.FixedDecimal
	Size  fixedpoint.FixedDecimal
}

// EventKind discriminates the PolyEvent union.
type EventKind int

const (
	EventBookSnapshot EventKind = iota
	EventPriceChange
	EventTrade
	EventLastTradePrice
	EventTickSizeChange
	EventMyOrder
	EventMyTrade
	EventClear
	EventSystem
)

// SystemKind discriminates PolyEvent.System payloads: process-lifecycle and
// integrity observations that aren't part of the server's own wire protocol
// but still need to reach consumers (spec §7, §8).
type SystemKind int

const (
	SystemHashMismatch SystemKind = iota
	SystemCrossedMarket
	SystemResyncTimeout
	SystemRecorderFailed
	SystemSubscriptionRejected
	SystemPriceChangeRejected
	SystemShutdown
	SystemSessionEnded
)

// PolyEvent is the consumer-facing event union (spec §3 "PolyEvent").
// Exactly one of the typed fields is populated, selected by Kind; this
// mirrors a tagged union in a language without sum types, the same way the
// teacher's wire structs are one-struct-per-variant rather than an
// interface hierarchy.
type PolyEvent struct {
	Kind EventKind

	BookSnapshot   *BookSnapshotEvent
	PriceChange    *PriceChangeEvent
	Trade          *TradeEvent
	LastTradePrice *LastTradePriceEvent
	TickSizeChange *TickSizeChangeEvent
	MyOrder        *MyOrderEvent
	MyTrade        *MyTradeEvent
	Clear          *ClearEvent
	System         *SystemEvent
}

type BookSnapshotEvent struct {
	Asset  AssetId
	Bids   []PriceLevel
	Asks   []PriceLevel
	Digest string
}

type PriceChangeEvent struct {
	Asset  AssetId
	Side   Side
	Price  fixedpoint.FixedDecimal
	Size   fixedpoint.FixedDecimal
	Digest string
}

type TradeEvent struct {
	Asset     AssetId
	Price     fixedpoint.FixedDecimal
	Size      fixedpoint.FixedDecimal
	Side      Side
	Timestamp time.Time
	TradeID   string // optional, empty if not provided
}

type LastTradePriceEvent struct {
	Asset     AssetId
	Price     fixedpoint.FixedDecimal
	Timestamp time.Time
}

type TickSizeChangeEvent struct {
	Asset AssetId
	Tick  fixedpoint.FixedDecimal
}

// MyOrderEvent and MyTradeEvent come from the authenticated user channel;
// their field set is intentionally small — order placement/fill accounting
// downstream of these is an explicit Non-goal of the streaming core.
type MyOrderEvent struct {
	OrderID string
	Asset   AssetId
	Side    Side
	Price   fixedpoint.FixedDecimal
	Size    fixedpoint.FixedDecimal
	Status  string
}

type MyTradeEvent struct {
	TradeID string
	Asset   AssetId
	Side    Side
	Price   fixedpoint.FixedDecimal
	Size    fixedpoint.FixedDecimal
}

// ClearEvent empties both ladders of Asset's book and resets its digest to
// absent (spec §3/§4.4 "Clear"). Unlike every other delta kind, it has no
// wire-protocol origin: it is raised internally, e.g. when a consumer
// explicitly unsubscribes from an asset.
type ClearEvent struct {
	Asset     AssetId
	Timestamp time.Time
}

// SystemEvent carries process-lifecycle and integrity observations that
// accompany or replace a PolyEvent in the broadcast stream (spec §7, §8).
type SystemEvent struct {
	Kind      SystemKind
	Asset     AssetId // empty for engine-global events (e.g. Shutdown)
	Message   string
	Timestamp time.Time
}
