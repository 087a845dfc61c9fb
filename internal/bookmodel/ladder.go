// Package bookmodel maintains the in-memory order book mirror: a sorted
// price ladder per side (C1) and a per-asset Book plus engine-wide Registry
// (C2). Grounded on the teacher's internal/market.Book, generalized from a
// fixed YES/NO pair of float64 snapshots to an arbitrary number of assets,
// each with a FixedDecimal-keyed ladder that supports point updates instead
// of only full-snapshot replacement.
package bookmodel

import (
	"fmt"
	"sort"

	"polymarket-streamcore/internal/digest"
	"polymarket-streamcore/pkg/fixedpoint"
	"polymarket-streamcore/pkg/streamtypes"
)

// Ladder is one side of a book: a price -> size index ordered for iteration
// by price priority (best-first). Bid ladders iterate descending, ask
// ladders ascending; Side is fixed at construction so Best/Snapshot know
// which direction to sort without the caller repeating it.
type Ladder struct {
	side    streamtypes.Side
	levels  map[string]fixedpoint.FixedDecimal // canonical price string -> size
	byPrice map[string]fixedpoint.FixedDecimal // canonical price string -> the FixedDecimal itself
}

// NewLadder builds an empty ladder for the given side.
func NewLadder(side streamtypes.Side) *Ladder {
	return &Ladder{
		side:    side,
		levels:  make(map[string]fixedpoint.FixedDecimal),
		byPrice: make(map[string]fixedpoint.FixedDecimal),
	}
}

// Put sets the size resting at price. A zero size removes the level
// entirely (size == 0 is a removal signal, never a resting entry). A
// negative size is rejected outright: after the zero-means-delete
// translation, only a positive resting size is a valid level.
func (l *Ladder) Put(price, size fixedpoint.FixedDecimal) error {
	if size.Sign() < 0 {
		return fmt.Errorf("bookmodel: negative size %s at price %s is not a valid level", size.String(), price.String())
	}
	key := price.Canonical(-1)
	if size.IsZero() {
		delete(l.levels, key)
		delete(l.byPrice, key)
		return nil
	}
	l.levels[key] = size
	l.byPrice[key] = price
	return nil
}

// Get returns the size resting at price and whether any level exists there.
func (l *Ladder) Get(price fixedpoint.FixedDecimal) (fixedpoint.FixedDecimal, bool) {
	size, ok := l.levels[price.Canonical(-1)]
	return size, ok
}

// Len returns the number of resting levels.
func (l *Ladder) Len() int { return len(l.levels) }

// Best returns the best (highest bid / lowest ask) resting level. ok is
// false for an empty ladder.
func (l *Ladder) Best() (streamtypes.PriceLevel, bool) {
	levels := l.sorted()
	if len(levels) == 0 {
		return streamtypes.PriceLevel{}, false
	}
	return levels[0], true
}

// Snapshot returns every resting level in priority order (best first).
func (l *Ladder) Snapshot() []streamtypes.PriceLevel {
	return l.sorted()
}

// Replace discards all resting levels and installs the given set, which
// must already be deduplicated by price (as a decoded book snapshot is).
func (l *Ladder) Replace(levels []streamtypes.PriceLevel) {
	l.levels = make(map[string]fixedpoint.FixedDecimal, len(levels))
	l.byPrice = make(map[string]fixedpoint.FixedDecimal, len(levels))
	for _, lvl := range levels {
		if lvl.Size.IsZero() {
			continue
		}
		key := lvl.Price.Canonical(-1)
		l.levels[key] = lvl.Size
		l.byPrice[key] = lvl.Price
	}
}

// DigestLevels returns the ladder's resting levels converted to the
// digest package's minimal Level shape, in priority order, for canonical
// hashing (C3/C4 verification path).
func (l *Ladder) DigestLevels() []digest.Level {
	levels := l.sorted()
	out := make([]digest.Level, len(levels))
	for i, lvl := range levels {
		out[i] = digest.Level{Price: lvl.Price, Size: lvl.Size}
	}
	return out
}

func (l *Ladder) sorted() []streamtypes.PriceLevel {
	out := make([]streamtypes.PriceLevel, 0, len(l.levels))
	for key, size := range l.levels {
		out = append(out, streamtypes.PriceLevel{Price: l.byPrice[key], Size: size})
	}
	sort.Slice(out, func(i, j int) bool {
		cmp := out[i].Price.Cmp(out[j].Price)
		if l.side == streamtypes.Bid {
			return cmp > 0
		}
		return cmp < 0
	})
	return out
}
