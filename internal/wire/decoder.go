// Package wire implements the Wire Decoder (spec §4.3): parsing a single
// raw WebSocket text frame into zero or more typed PolyEvents, tolerant of
// the server's quirks (either discriminator field name, single object or
// array framing, string-or-number decimals) without ever panicking.
//
// Grounded on the teacher's internal/exchange/ws.go dispatchMessage, which
// peeked event_type and switched into one json.Unmarshal per variant; this
// package generalizes that into a reusable, independently testable decode
// path. The streaming engine runs every frame the connector receives
// through it, and the session recorder persists the events it produced
// (the chain of custody noted in SPEC_FULL.md §C); the recorder itself
// never calls the decoder.
package wire

import (
	"bytes"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"polymarket-streamcore/pkg/streamtypes"
)

// FailureKind classifies why a frame failed to decode (spec §4.3).
type FailureKind int

const (
	Malformed FailureKind = iota
	UnknownVariant
	MissingField
)

// DecodeError reports one frame's parse failure without aborting the
// stream — the caller logs it and moves on (spec §4.3 "not fatal").
type DecodeError struct {
	Kind    FailureKind
	Message string
}

func (e *DecodeError) Error() string { return e.Message }

// Decoder turns raw frames into PolyEvents.
type Decoder struct {
	logger *slog.Logger
}

func New(logger *slog.Logger) *Decoder {
	return &Decoder{logger: logger.With("component", "wire_decoder")}
}

// Decode parses one frame, which may encode a single event object or a
// JSON array of event objects (spec §4.3). Unknown event variants are
// logged and skipped rather than treated as fatal; a structurally broken
// frame returns a DecodeError classifying the failure.
func (d *Decoder) Decode(frame []byte) ([]streamtypes.PolyEvent, error) {
	frame = bytes.TrimSpace(frame)
	if len(frame) == 0 {
		return nil, &DecodeError{Kind: Malformed, Message: "empty frame"}
	}

	var rawObjects []json.RawMessage
	if frame[0] == '[' {
		if err := json.Unmarshal(frame, &rawObjects); err != nil {
			return nil, &DecodeError{Kind: Malformed, Message: fmt.Sprintf("unmarshal array frame: %v", err)}
		}
	} else {
		rawObjects = []json.RawMessage{frame}
	}

	events := make([]streamtypes.PolyEvent, 0, len(rawObjects))
	for _, raw := range rawObjects {
		decoded, err := d.decodeOne(raw)
		if err != nil {
			if de, ok := err.(*DecodeError); ok && de.Kind == UnknownVariant {
				d.logger.Debug("skipping unknown event variant", "error", de.Message)
				continue
			}
			return events, err
		}
		events = append(events, decoded...)
	}
	return events, nil
}

func (d *Decoder) decodeOne(raw json.RawMessage) ([]streamtypes.PolyEvent, error) {
	var env streamtypes.WireEnvelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return nil, &DecodeError{Kind: Malformed, Message: fmt.Sprintf("unmarshal envelope: %v", err)}
	}

	kind, err := resolveDiscriminator(env)
	if err != nil {
		return nil, err
	}

	switch kind {
	case "book":
		evt, err := decodeBook(raw)
		return single(evt, err)
	case "price_change":
		return decodePriceChange(raw)
	case "trade":
		evt, err := decodeTrade(raw)
		return single(evt, err)
	case "last_trade_price":
		evt, err := decodeLastTradePrice(raw)
		return single(evt, err)
	case "tick_size_change":
		evt, err := decodeTickSizeChange(raw)
		return single(evt, err)
	case "order":
		evt, err := decodeMyOrder(raw)
		return single(evt, err)
	case "user_trade", "my_trade":
		evt, err := decodeMyTrade(raw)
		return single(evt, err)
	default:
		return nil, &DecodeError{Kind: UnknownVariant, Message: fmt.Sprintf("unrecognized event variant %q", kind)}
	}
}

func single(evt *streamtypes.PolyEvent, err error) ([]streamtypes.PolyEvent, error) {
	if err != nil {
		return nil, err
	}
	return []streamtypes.PolyEvent{*evt}, nil
}

// resolveDiscriminator implements spec §4.3's tolerance rule: either field
// name is accepted; if both are present and disagree, that's Malformed.
func resolveDiscriminator(env streamtypes.WireEnvelope) (string, error) {
	switch {
	case env.Type1 != "" && env.Type2 != "" && env.Type1 != env.Type2:
		return "", &DecodeError{
			Kind:    Malformed,
			Message: fmt.Sprintf("conflicting discriminators: event_type=%q type=%q", env.Type1, env.Type2),
		}
	case env.Type1 != "":
		return env.Type1, nil
	case env.Type2 != "":
		return env.Type2, nil
	default:
		return "", &DecodeError{Kind: MissingField, Message: "missing event_type/type discriminator"}
	}
}

func decodeBook(raw json.RawMessage) (*streamtypes.PolyEvent, error) {
	var w streamtypes.WireBookEvent
	if err := json.Unmarshal(raw, &w); err != nil {
		return nil, &DecodeError{Kind: Malformed, Message: fmt.Sprintf("unmarshal book event: %v", err)}
	}
	if w.AssetID == "" {
		return nil, &DecodeError{Kind: MissingField, Message: "book event missing asset_id"}
	}

	bids, err := decodeLevels(w.Buys)
	if err != nil {
		return nil, &DecodeError{Kind: Malformed, Message: fmt.Sprintf("book bids: %v", err)}
	}
	asks, err := decodeLevels(w.Sells)
	if err != nil {
		return nil, &DecodeError{Kind: Malformed, Message: fmt.Sprintf("book asks: %v", err)}
	}

	return &streamtypes.PolyEvent{
		Kind: streamtypes.EventBookSnapshot,
		BookSnapshot: &streamtypes.BookSnapshotEvent{
			Asset:  streamtypes.AssetId(w.AssetID),
			Bids:   bids,
			Asks:   asks,
			Digest: w.Hash,
		},
	}, nil
}

func decodeLevels(raw []streamtypes.WirePriceSize) ([]streamtypes.PriceLevel, error) {
	out := make([]streamtypes.PriceLevel, 0, len(raw))
	for _, lvl := range raw {
		price, err := lvl.Price.Decimal()
		if err != nil {
			return nil, err
		}
		size, err := lvl.Size.Decimal()
		if err != nil {
			return nil, err
		}
		out = append(out, streamtypes.PriceLevel{Price: price, Size: size})
	}
	return out, nil
}

// decodePriceChange fans a batched price_change frame out into one
// PolyEvent per level change — spec §3 models PolyEvent.PriceChange as a
// single level change, while the wire frame batches "one or more level
// changes applied atomically" (spec §4.5); each change carries its own
// post-update hash, so each becomes its own independently verifiable event.
func decodePriceChange(raw json.RawMessage) ([]streamtypes.PolyEvent, error) {
	var w streamtypes.WirePriceChangeEvent
	if err := json.Unmarshal(raw, &w); err != nil {
		return nil, &DecodeError{Kind: Malformed, Message: fmt.Sprintf("unmarshal price_change event: %v", err)}
	}
	if len(w.PriceChanges) == 0 {
		return nil, &DecodeError{Kind: MissingField, Message: "price_change event with no changes"}
	}

	events := make([]streamtypes.PolyEvent, 0, len(w.PriceChanges))
	for _, op := range w.PriceChanges {
		if op.AssetID == "" {
			return nil, &DecodeError{Kind: MissingField, Message: "price_change missing asset_id"}
		}
		price, err := op.Price.Decimal()
		if err != nil {
			return nil, &DecodeError{Kind: Malformed, Message: fmt.Sprintf("price_change price: %v", err)}
		}
		size, err := op.Size.Decimal()
		if err != nil {
			return nil, &DecodeError{Kind: Malformed, Message: fmt.Sprintf("price_change size: %v", err)}
		}
		side, err := decodeSide(op.Side)
		if err != nil {
			return nil, err
		}
		events = append(events, streamtypes.PolyEvent{
			Kind: streamtypes.EventPriceChange,
			PriceChange: &streamtypes.PriceChangeEvent{
				Asset:  streamtypes.AssetId(op.AssetID),
				Side:   side,
				Price:  price,
				Size:   size,
				Digest: op.Hash,
			},
		})
	}
	return events, nil
}

func decodeTrade(raw json.RawMessage) (*streamtypes.PolyEvent, error) {
	var w streamtypes.WireTradeEvent
	if err := json.Unmarshal(raw, &w); err != nil {
		return nil, &DecodeError{Kind: Malformed, Message: fmt.Sprintf("unmarshal trade event: %v", err)}
	}
	if w.AssetID == "" {
		return nil, &DecodeError{Kind: MissingField, Message: "trade event missing asset_id"}
	}
	price, err := w.Price.Decimal()
	if err != nil {
		return nil, &DecodeError{Kind: Malformed, Message: fmt.Sprintf("trade price: %v", err)}
	}
	size, err := w.Size.Decimal()
	if err != nil {
		return nil, &DecodeError{Kind: Malformed, Message: fmt.Sprintf("trade size: %v", err)}
	}
	side, err := decodeSide(w.Side)
	if err != nil {
		return nil, err
	}
	ms, err := w.Timestamp.Millis()
	if err != nil {
		return nil, &DecodeError{Kind: Malformed, Message: fmt.Sprintf("trade timestamp: %v", err)}
	}

	return &streamtypes.PolyEvent{
		Kind: streamtypes.EventTrade,
		Trade: &streamtypes.TradeEvent{
			Asset:     streamtypes.AssetId(w.AssetID),
			Price:     price,
			Size:      size,
			Side:      side,
			Timestamp: millisToTime(ms),
			TradeID:   w.ID,
		},
	}, nil
}

func decodeLastTradePrice(raw json.RawMessage) (*streamtypes.PolyEvent, error) {
	var w streamtypes.WireLastTradePriceEvent
	if err := json.Unmarshal(raw, &w); err != nil {
		return nil, &DecodeError{Kind: Malformed, Message: fmt.Sprintf("unmarshal last_trade_price event: %v", err)}
	}
	if w.AssetID == "" {
		return nil, &DecodeError{Kind: MissingField, Message: "last_trade_price missing asset_id"}
	}
	price, err := w.Price.Decimal()
	if err != nil {
		return nil, &DecodeError{Kind: Malformed, Message: fmt.Sprintf("last_trade_price price: %v", err)}
	}
	ms, err := w.Timestamp.Millis()
	if err != nil {
		return nil, &DecodeError{Kind: Malformed, Message: fmt.Sprintf("last_trade_price timestamp: %v", err)}
	}
	return &streamtypes.PolyEvent{
		Kind: streamtypes.EventLastTradePrice,
		LastTradePrice: &streamtypes.LastTradePriceEvent{
			Asset:     streamtypes.AssetId(w.AssetID),
			Price:     price,
			Timestamp: millisToTime(ms),
		},
	}, nil
}

func decodeTickSizeChange(raw json.RawMessage) (*streamtypes.PolyEvent, error) {
	var w streamtypes.WireTickSizeChangeEvent
	if err := json.Unmarshal(raw, &w); err != nil {
		return nil, &DecodeError{Kind: Malformed, Message: fmt.Sprintf("unmarshal tick_size_change event: %v", err)}
	}
	if w.AssetID == "" {
		return nil, &DecodeError{Kind: MissingField, Message: "tick_size_change missing asset_id"}
	}
	tick, err := w.Tick.Decimal()
	if err != nil {
		return nil, &DecodeError{Kind: Malformed, Message: fmt.Sprintf("tick_size_change tick: %v", err)}
	}
	return &streamtypes.PolyEvent{
		Kind: streamtypes.EventTickSizeChange,
		TickSizeChange: &streamtypes.TickSizeChangeEvent{
			Asset: streamtypes.AssetId(w.AssetID),
			Tick:  tick,
		},
	}, nil
}

func decodeMyOrder(raw json.RawMessage) (*streamtypes.PolyEvent, error) {
	var w streamtypes.WireMyOrderEvent
	if err := json.Unmarshal(raw, &w); err != nil {
		return nil, &DecodeError{Kind: Malformed, Message: fmt.Sprintf("unmarshal order event: %v", err)}
	}
	price, err := w.Price.Decimal()
	if err != nil {
		return nil, &DecodeError{Kind: Malformed, Message: fmt.Sprintf("order price: %v", err)}
	}
	size, err := w.Size.Decimal()
	if err != nil {
		return nil, &DecodeError{Kind: Malformed, Message: fmt.Sprintf("order size: %v", err)}
	}
	side, err := decodeSide(w.Side)
	if err != nil {
		return nil, err
	}
	return &streamtypes.PolyEvent{
		Kind: streamtypes.EventMyOrder,
		MyOrder: &streamtypes.MyOrderEvent{
			OrderID: w.ID,
			Asset:   streamtypes.AssetId(w.AssetID),
			Side:    side,
			Price:   price,
			Size:    size,
			Status:  w.Status,
		},
	}, nil
}

func decodeMyTrade(raw json.RawMessage) (*streamtypes.PolyEvent, error) {
	var w streamtypes.WireMyTradeEvent
	if err := json.Unmarshal(raw, &w); err != nil {
		return nil, &DecodeError{Kind: Malformed, Message: fmt.Sprintf("unmarshal my_trade event: %v", err)}
	}
	price, err := w.Price.Decimal()
	if err != nil {
		return nil, &DecodeError{Kind: Malformed, Message: fmt.Sprintf("my_trade price: %v", err)}
	}
	size, err := w.Size.Decimal()
	if err != nil {
		return nil, &DecodeError{Kind: Malformed, Message: fmt.Sprintf("my_trade size: %v", err)}
	}
	side, err := decodeSide(w.Side)
	if err != nil {
		return nil, err
	}
	return &streamtypes.PolyEvent{
		Kind: streamtypes.EventMyTrade,
		MyTrade: &streamtypes.MyTradeEvent{
			TradeID: w.ID,
			Asset:   streamtypes.AssetId(w.AssetID),
			Side:    side,
			Price:   price,
			Size:    size,
		},
	}, nil
}

func decodeSide(raw string) (streamtypes.Side, error) {
	switch raw {
	case "BUY", "buy", "bid", "BID":
		return streamtypes.Bid, nil
	case "SELL", "sell", "ask", "ASK":
		return streamtypes.Ask, nil
	default:
		return "", &DecodeError{Kind: Malformed, Message: fmt.Sprintf("unrecognized side %q", raw)}
	}
}

func millisToTime(ms uint64) time.Time {
	return time.UnixMilli(int64(ms)).UTC()
}
