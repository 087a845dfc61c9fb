package bookmodel

import (
	"fmt"
	"sync"
	"time"

	"polymarket-streamcore/pkg/fixedpoint"
	"polymarket-streamcore/pkg/streamtypes"
)

// Book mirrors one asset's order book: a bid ladder, an ask ladder, the
// digest of the last-applied state, and the tick size currently in force.
// Concurrency-safe via an embedded RWMutex, one per asset rather than one
// global lock — mirrors the teacher's Book, but keyed per-asset instead of
// a single YES/NO pair so an arbitrary number of markets can run
// concurrently without readers of one asset blocking writers of another.
type Book struct {
	mu sync.RWMutex

	asset   streamtypes.AssetId
	bids    *Ladder
	asks    *Ladder
	tick    fixedpoint.FixedDecimal
	digest  string
	updated time.Time

	initialized bool
}

// NewBook creates an empty, uninitialized book for asset.
func NewBook(asset streamtypes.AssetId) *Book {
	return &Book{
		asset: asset,
		bids:  NewLadder(streamtypes.Bid),
		asks:  NewLadder(streamtypes.Ask),
	}
}

// Asset returns the book's asset identifier.
func (b *Book) Asset() streamtypes.AssetId { return b.asset }

// Initialized reports whether a snapshot has ever been applied (spec §4.4's
// "uninitialized book" resync trigger).
func (b *Book) Initialized() bool {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.initialized
}

// Digest returns the last-known-good digest, and whether the book has one.
func (b *Book) Digest() (string, bool) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.digest, b.initialized
}

// LastUpdated returns when the book was last mutated.
func (b *Book) LastUpdated() time.Time {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.updated
}

// Tick returns the current tick size.
func (b *Book) Tick() fixedpoint.FixedDecimal {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.tick
}

// BestBidAsk returns the best resting level on each side. ok is false if
// either side is empty.
func (b *Book) BestBidAsk() (bid, ask streamtypes.PriceLevel, ok bool) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	bb, okBid := b.bids.Best()
	ba, okAsk := b.asks.Best()
	if !okBid || !okAsk {
		return streamtypes.PriceLevel{}, streamtypes.PriceLevel{}, false
	}
	return bb, ba, true
}

// Snapshot returns a point-in-time copy of both ladders.
func (b *Book) Snapshot() (bids, asks []streamtypes.PriceLevel) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.bids.Snapshot(), b.asks.Snapshot()
}

// Crossed reports whether the best bid is at or above the best ask — an
// invalid state the Book Updater sanitizes away (spec §4.6).
func (b *Book) Crossed() bool {
	b.mu.RLock()
	defer b.mu.RUnlock()
	bb, okBid := b.bids.Best()
	ba, okAsk := b.asks.Best()
	if !okBid || !okAsk {
		return false
	}
	return bb.Price.GreaterThanOrEqual(ba.Price)
}

// MutationView is the set of ladder-mutating operations available to a
// caller holding the book's write lock (internal/bookupdate is the only
// intended caller — it funnels every book mutation through Update so lock
// discipline lives in one place).
type MutationView struct {
	Bids *Ladder
	Asks *Ladder

	digest         string
	tick           fixedpoint.FixedDecimal
	tickSet        bool
	initialized    bool
	initializedSet bool
}

// SetDigest records the digest that results from this mutation.
func (v *MutationView) SetDigest(d string) { v.digest = d }

// SetTick updates the book's tick size.
func (v *MutationView) SetTick(t fixedpoint.FixedDecimal) {
	v.tick = t
	v.tickSet = true
}

// MarkInitialized flags the book as having received its first snapshot.
func (v *MutationView) MarkInitialized() {
	v.initialized = true
	v.initializedSet = true
}

// MarkUninitialized resets the book to its pre-snapshot state — used by
// Clear, whose "last_digest absent" outcome means Digest's ok return must
// go back to false, same as a book that has never seen a snapshot.
func (v *MutationView) MarkUninitialized() {
	v.initialized = false
	v.initializedSet = true
}

// Update runs fn holding the write lock and commits whatever the
// MutationView accumulated. This is the single mutation entry point used by
// internal/bookupdate for snapshot application, incremental price changes,
// tick size changes, and sanitization.
func (b *Book) Update(fn func(v *MutationView)) {
	b.mu.Lock()
	defer b.mu.Unlock()

	v := &MutationView{Bids: b.bids, Asks: b.asks, digest: b.digest, tick: b.tick}
	fn(v)

	b.digest = v.digest
	if v.tickSet {
		b.tick = v.tick
	}
	if v.initializedSet {
		b.initialized = v.initialized
	}
	b.updated = time.Now()
}

// Registry holds one Book per asset, created lazily on first touch.
type Registry struct {
	mu    sync.RWMutex
	books map[streamtypes.AssetId]*Book
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{books: make(map[streamtypes.AssetId]*Book)}
}

// Get returns the book for asset without creating it.
func (r *Registry) Get(asset streamtypes.AssetId) (*Book, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	b, ok := r.books[asset]
	return b, ok
}

// GetOrCreate returns the book for asset, creating an empty one if absent.
func (r *Registry) GetOrCreate(asset streamtypes.AssetId) *Book {
	r.mu.RLock()
	b, ok := r.books[asset]
	r.mu.RUnlock()
	if ok {
		return b
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if b, ok := r.books[asset]; ok {
		return b
	}
	b = NewBook(asset)
	r.books[asset] = b
	return b
}

// Assets returns every asset currently tracked.
func (r *Registry) Assets() []streamtypes.AssetId {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]streamtypes.AssetId, 0, len(r.books))
	for a := range r.books {
		out = append(out, a)
	}
	return out
}

// Remove drops an asset's book entirely, e.g. on unsubscribe.
func (r *Registry) Remove(asset streamtypes.AssetId) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.books, asset)
}

// String supports %v logging of a book's identity without dumping its ladders.
func (b *Book) String() string {
	return fmt.Sprintf("Book{asset=%s initialized=%v}", b.asset, b.initialized)
}
