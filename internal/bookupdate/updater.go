// Package bookupdate implements the Book Updater (spec §4.4): applying a
// decoded PolyEvent to a Book, verifying the result against the server's
// digest, and sanitizing crossed-market states.
//
// Grounded on the teacher's internal/market.Book.ApplyBookEvent /
// ApplyPriceChange, generalized from "store whatever the server sent" to
// the spec's verify-then-observe discipline: the candidate state is always
// kept (the server is the source of truth), but a disagreement between the
// recomputed digest and the server's own is surfaced as an observation
// rather than silently swallowed.
package bookupdate

import (
	"log/slog"

	"polymarket-streamcore/internal/bookmodel"
	"polymarket-streamcore/internal/digest"
	"polymarket-streamcore/internal/metrics"
	"polymarket-streamcore/pkg/fixedpoint"
	"polymarket-streamcore/pkg/streamtypes"
)

// Outcome reports what an Apply call observed, beyond the mutation itself,
// so callers (the streaming engine orchestrator) can react: schedule a
// resync, emit a SystemEvent, or just log.
type Outcome struct {
	HashMismatch  bool
	CrossedFixed  int  // number of crossing levels removed by sanitize
	Uninitialized bool // delta arrived before any snapshot for this asset
	Rejected      bool // event carried a non-positive size after zero-means-delete and was not applied
}

// Updater applies PolyEvents to Books. A digest mismatch is only reported
// on the Outcome (HashMismatch); whether it schedules a resync is decided by
// the caller, which is responsible for actually invoking the Resync
// Coordinator (this package has no dependency on it to avoid a cycle).
type Updater struct {
	digestFn digest.Func
	logger   *slog.Logger
	metrics  *metrics.Registry
}

// New builds an Updater using the given digest function and metrics sink.
func New(digestFn digest.Func, logger *slog.Logger, m *metrics.Registry) *Updater {
	return &Updater{
		digestFn: digestFn,
		logger:   logger.With("component", "book_updater"),
		metrics:  m,
	}
}

// ApplySnapshot implements spec §4.4's "Snapshot application" algorithm.
func (u *Updater) ApplySnapshot(book *bookmodel.Book, evt *streamtypes.BookSnapshotEvent) Outcome {
	var outcome Outcome

	book.Update(func(v *bookmodel.MutationView) {
		v.Bids.Replace(dedupe(evt.Bids))
		v.Asks.Replace(dedupe(evt.Asks))

		computed := u.digestFn(v.Bids.DigestLevels(), v.Asks.DigestLevels())
		if evt.Digest != "" && evt.Digest != computed {
			outcome.HashMismatch = true
		}
		v.SetDigest(computed)
		v.MarkInitialized()
	})

	outcome.CrossedFixed = u.sanitize(book, evt.Asset)

	if outcome.HashMismatch {
		u.metrics.DigestMismatches.WithLabelValues(string(evt.Asset)).Inc()
		u.logger.Warn("book snapshot hash mismatch", "asset", evt.Asset)
	}
	return outcome
}

// ApplyPriceChange implements spec §4.4's "Incremental price change"
// algorithm. If the book has never been initialized, the edit is still
// applied (so the ladder reflects reality once a snapshot does arrive) but
// Outcome.Uninitialized signals the caller to trigger a resync per
// spec §4.9 trigger (b).
func (u *Updater) ApplyPriceChange(book *bookmodel.Book, evt *streamtypes.PriceChangeEvent) Outcome {
	var outcome Outcome
	outcome.Uninitialized = !book.Initialized()

	if evt.Size.Sign() < 0 {
		outcome.Rejected = true
		u.logger.Warn("rejected price_change with negative size", "asset", evt.Asset, "price", evt.Price.String(), "size", evt.Size.String())
		return outcome
	}

	book.Update(func(v *bookmodel.MutationView) {
		ladder := v.Bids
		if evt.Side == streamtypes.Ask {
			ladder = v.Asks
		}
		_ = ladder.Put(evt.Price, evt.Size) // size already validated non-negative above

		computed := u.digestFn(v.Bids.DigestLevels(), v.Asks.DigestLevels())
		if evt.Digest != "" && evt.Digest != computed {
			outcome.HashMismatch = true
		}
		v.SetDigest(computed)
	})

	outcome.CrossedFixed = u.sanitize(book, evt.Asset)

	if outcome.HashMismatch {
		u.metrics.DigestMismatches.WithLabelValues(string(evt.Asset)).Inc()
		u.logger.Warn("price_change hash mismatch", "asset", evt.Asset, "price", evt.Price.String())
	}
	return outcome
}

// ApplyTickSizeChange implements spec §4.4's TickSizeChange handling:
// existing entries that are no longer tick-aligned are rounded by
// truncation toward zero, merging any resulting collisions.
func (u *Updater) ApplyTickSizeChange(book *bookmodel.Book, evt *streamtypes.TickSizeChangeEvent) {
	book.Update(func(v *bookmodel.MutationView) {
		realign(v.Bids, evt.Tick)
		realign(v.Asks, evt.Tick)
		v.SetTick(evt.Tick)
		v.SetDigest(u.digestFn(v.Bids.DigestLevels(), v.Asks.DigestLevels()))
	})
}

// Clear implements spec §4.4's Clear handling: both ladders emptied, digest
// reset to absent.
func (u *Updater) Clear(book *bookmodel.Book) {
	book.Update(func(v *bookmodel.MutationView) {
		v.Bids.Replace(nil)
		v.Asks.Replace(nil)
		v.SetDigest("")
		v.MarkUninitialized()
	})
}

// sanitize implements spec §4.4's crossed-market recovery: while both
// sides are non-empty and best_bid >= best_ask, remove the crossing level
// with the smaller size, tie-breaking by removing the bid. Returns how
// many levels were removed.
func (u *Updater) sanitize(book *bookmodel.Book, asset streamtypes.AssetId) int {
	removed := 0
	book.Update(func(v *bookmodel.MutationView) {
		for {
			bid, okBid := v.Bids.Best()
			ask, okAsk := v.Asks.Best()
			if !okBid || !okAsk || bid.Price.LessThan(ask.Price) {
				break
			}
			if bid.Size.Cmp(ask.Size) <= 0 {
				_ = v.Bids.Put(bid.Price, fixedpoint.Zero) // zero is always a valid removal
			} else {
				_ = v.Asks.Put(ask.Price, fixedpoint.Zero)
			}
			removed++
		}
		if removed > 0 {
			v.SetDigest(u.digestFn(v.Bids.DigestLevels(), v.Asks.DigestLevels()))
		}
	})
	if removed > 0 {
		u.metrics.SanitizedCrosses.WithLabelValues(string(asset)).Add(float64(removed))
		u.logger.Warn("sanitized crossed market", "asset", asset, "levels_removed", removed)
	}
	return removed
}

// dedupe keeps only the last occurrence of each price, matching spec §4.4
// step 1's "second occurrence overrides first", and drops non-positive
// sizes (transit-only removal markers have no place in a snapshot
// candidate since Replace already treats zero size as absence).
func dedupe(levels []streamtypes.PriceLevel) []streamtypes.PriceLevel {
	order := make([]string, 0, len(levels))
	byKey := make(map[string]streamtypes.PriceLevel, len(levels))
	for _, lvl := range levels {
		if !lvl.Size.Positive() {
			continue
		}
		key := lvl.Price.Canonical(-1)
		if _, seen := byKey[key]; !seen {
			order = append(order, key)
		}
		byKey[key] = lvl
	}
	out := make([]streamtypes.PriceLevel, 0, len(order))
	for _, key := range order {
		out = append(out, byKey[key])
	}
	return out
}

// realign rounds every resting level in ladder to the nearest multiple of
// tick (truncation toward zero), merging sizes when two levels collapse to
// the same rounded price.
func realign(ladder *bookmodel.Ladder, tick fixedpoint.FixedDecimal) {
	if tick.IsZero() {
		return
	}
	snapshot := ladder.Snapshot()
	ladder.Replace(nil)
	merged := make(map[string]streamtypes.PriceLevel, len(snapshot))
	order := make([]string, 0, len(snapshot))
	for _, lvl := range snapshot {
		rounded := lvl.Price.RoundToTick(tick)
		key := rounded.Canonical(-1)
		if existing, ok := merged[key]; ok {
			merged[key] = streamtypes.PriceLevel{Price: rounded, Size: existing.Size.Add(lvl.Size)}
		} else {
			merged[key] = streamtypes.PriceLevel{Price: rounded, Size: lvl.Size}
			order = append(order, key)
		}
	}
	for _, key := range order {
		lvl := merged[key]
		_ = ladder.Put(lvl.Price, lvl.Size) // merged sizes are sums of prior valid (non-negative) sizes
	}
}
