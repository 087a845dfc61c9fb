package bookupdate

import (
	"io"
	"log/slog"
	"testing"

	"polymarket-streamcore/internal/bookmodel"
	"polymarket-streamcore/internal/digest"
	"polymarket-streamcore/internal/metrics"
	"polymarket-streamcore/pkg/fixedpoint"
	"polymarket-streamcore/pkg/streamtypes"
)

func mustParse(t *testing.T, s string) fixedpoint.FixedDecimal {
	t.Helper()
	v, err := fixedpoint.Parse(s)
	if err != nil {
		t.Fatalf("parse %q: %v", s, err)
	}
	return v
}

func testUpdater(t *testing.T) *Updater {
	t.Helper()
	fn, err := digest.New(digest.Keccak256)
	if err != nil {
		t.Fatalf("digest.New: %v", err)
	}
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	return New(fn, logger, metrics.New())
}

func snapshotLevels(t *testing.T, pairs ...[2]string) []streamtypes.PriceLevel {
	t.Helper()
	out := make([]streamtypes.PriceLevel, len(pairs))
	for i, p := range pairs {
		out[i] = streamtypes.PriceLevel{Price: mustParse(t, p[0]), Size: mustParse(t, p[1])}
	}
	return out
}

func TestApplySnapshotFreshSubscribe(t *testing.T) {
	t.Parallel()
	u := testUpdater(t)
	book := bookmodel.NewBook("tok-1")

	evt := &streamtypes.BookSnapshotEvent{
		Asset: "tok-1",
		Bids:  snapshotLevels(t, [2]string{"0.50", "10"}, [2]string{"0.49", "5"}),
		Asks:  snapshotLevels(t, [2]string{"0.52", "8"}, [2]string{"0.53", "3"}),
	}
	outcome := u.ApplySnapshot(book, evt)
	if outcome.HashMismatch {
		t.Error("no expected digest supplied; should not report mismatch")
	}

	bid, ask, ok := book.BestBidAsk()
	if !ok {
		t.Fatal("BestBidAsk should report ok")
	}
	if bid.Price.String() != "0.5" || ask.Price.String() != "0.52" {
		t.Errorf("bid=%s ask=%s", bid.Price, ask.Price)
	}
	if !book.Initialized() {
		t.Error("book should be initialized after snapshot")
	}
}

func TestApplySnapshotDuplicatePricesLastWins(t *testing.T) {
	t.Parallel()
	u := testUpdater(t)
	book := bookmodel.NewBook("tok-1")

	evt := &streamtypes.BookSnapshotEvent{
		Asset: "tok-1",
		Bids:  snapshotLevels(t, [2]string{"0.50", "10"}, [2]string{"0.50", "99"}),
		Asks:  snapshotLevels(t, [2]string{"0.52", "8"}),
	}
	u.ApplySnapshot(book, evt)
	bid, _, _ := book.BestBidAsk()
	if bid.Size.String() != "99" {
		t.Errorf("duplicate price should keep the last occurrence, got size %s", bid.Size)
	}
}

func TestApplySnapshotIdempotent(t *testing.T) {
	t.Parallel()
	u := testUpdater(t)
	book := bookmodel.NewBook("tok-1")
	evt := &streamtypes.BookSnapshotEvent{
		Asset: "tok-1",
		Bids:  snapshotLevels(t, [2]string{"0.50", "10"}),
		Asks:  snapshotLevels(t, [2]string{"0.52", "8"}),
	}
	u.ApplySnapshot(book, evt)
	d1, _ := book.Digest()
	u.ApplySnapshot(book, evt)
	d2, _ := book.Digest()
	if d1 != d2 {
		t.Errorf("reapplying the same snapshot changed the digest: %s -> %s", d1, d2)
	}
}

func TestApplyPriceChangeRemovesTopBid(t *testing.T) {
	t.Parallel()
	u := testUpdater(t)
	book := bookmodel.NewBook("tok-1")
	u.ApplySnapshot(book, &streamtypes.BookSnapshotEvent{
		Asset: "tok-1",
		Bids:  snapshotLevels(t, [2]string{"0.50", "10"}, [2]string{"0.49", "5"}),
		Asks:  snapshotLevels(t, [2]string{"0.52", "8"}),
	})

	u.ApplyPriceChange(book, &streamtypes.PriceChangeEvent{
		Asset: "tok-1", Side: streamtypes.Bid, Price: mustParse(t, "0.50"), Size: fixedpoint.Zero,
	})

	bid, _, ok := book.BestBidAsk()
	if !ok {
		t.Fatal("expected remaining bid")
	}
	if bid.Price.String() != "0.49" {
		t.Errorf("best bid = %s, want 0.49", bid.Price)
	}
}

func TestApplyPriceChangeZeroSizeOnMissingPriceIsNoop(t *testing.T) {
	t.Parallel()
	u := testUpdater(t)
	book := bookmodel.NewBook("tok-1")
	u.ApplySnapshot(book, &streamtypes.BookSnapshotEvent{
		Asset: "tok-1",
		Bids:  snapshotLevels(t, [2]string{"0.50", "10"}),
		Asks:  snapshotLevels(t, [2]string{"0.52", "8"}),
	})

	outcome := u.ApplyPriceChange(book, &streamtypes.PriceChangeEvent{
		Asset: "tok-1", Side: streamtypes.Ask, Price: mustParse(t, "0.60"), Size: fixedpoint.Zero,
	})
	if outcome.HashMismatch {
		t.Error("no digest supplied; should not flag mismatch")
	}
	_, ask, ok := book.BestBidAsk()
	if !ok || ask.Price.String() != "0.52" {
		t.Errorf("best ask should be unchanged, got %v ok=%v", ask, ok)
	}
}

func TestApplyPriceChangeNegativeSizeRejectedAndBookUnchanged(t *testing.T) {
	t.Parallel()
	u := testUpdater(t)
	book := bookmodel.NewBook("tok-1")
	u.ApplySnapshot(book, &streamtypes.BookSnapshotEvent{
		Asset: "tok-1",
		Bids:  snapshotLevels(t, [2]string{"0.50", "10"}),
		Asks:  snapshotLevels(t, [2]string{"0.52", "8"}),
	})

	neg, err := fixedpoint.Parse("-5")
	if err != nil {
		t.Fatalf("parse -5: %v", err)
	}
	outcome := u.ApplyPriceChange(book, &streamtypes.PriceChangeEvent{
		Asset: "tok-1", Side: streamtypes.Bid, Price: mustParse(t, "0.49"), Size: neg,
	})
	if !outcome.Rejected {
		t.Error("expected Rejected outcome for a negative size")
	}
	bid, _, ok := book.BestBidAsk()
	if !ok || bid.Price.String() != "0.50" {
		t.Errorf("book should be unchanged by a rejected update, got bid %v ok=%v", bid, ok)
	}
}

func TestApplyPriceChangeUninitializedBookSignalsOutcome(t *testing.T) {
	t.Parallel()
	u := testUpdater(t)
	book := bookmodel.NewBook("tok-1")
	outcome := u.ApplyPriceChange(book, &streamtypes.PriceChangeEvent{
		Asset: "tok-1", Side: streamtypes.Bid, Price: mustParse(t, "0.50"), Size: mustParse(t, "10"),
	})
	if !outcome.Uninitialized {
		t.Error("expected Uninitialized outcome when no snapshot has been applied yet")
	}
}

func TestSanitizeCrossedMarketRemovesSmallerSide(t *testing.T) {
	t.Parallel()
	u := testUpdater(t)
	book := bookmodel.NewBook("tok-1")

	outcome := u.ApplySnapshot(book, &streamtypes.BookSnapshotEvent{
		Asset: "tok-1",
		Bids:  snapshotLevels(t, [2]string{"0.55", "10"}),
		Asks:  snapshotLevels(t, [2]string{"0.54", "2"}),
	})
	if outcome.CrossedFixed != 1 {
		t.Fatalf("CrossedFixed = %d, want 1", outcome.CrossedFixed)
	}
	bid, ask, ok := book.BestBidAsk()
	if ok {
		t.Errorf("expected empty ask side after sanitize, got bid=%v ask=%v", bid, ask)
	}
}

func TestApplyTickSizeChangeRoundsAndMerges(t *testing.T) {
	t.Parallel()
	u := testUpdater(t)
	book := bookmodel.NewBook("tok-1")
	u.ApplySnapshot(book, &streamtypes.BookSnapshotEvent{
		Asset: "tok-1",
		Bids:  snapshotLevels(t, [2]string{"0.501", "4"}, [2]string{"0.509", "6"}),
		Asks:  snapshotLevels(t, [2]string{"0.55", "8"}),
	})

	u.ApplyTickSizeChange(book, &streamtypes.TickSizeChangeEvent{Asset: "tok-1", Tick: mustParse(t, "0.01")})

	bids, _ := book.Snapshot()
	if len(bids) != 1 {
		t.Fatalf("expected both bids to merge into one rounded level, got %d", len(bids))
	}
	if bids[0].Price.String() != "0.5" {
		t.Errorf("rounded price = %s, want 0.5", bids[0].Price)
	}
	if bids[0].Size.String() != "10" {
		t.Errorf("merged size = %s, want 10", bids[0].Size)
	}
}

func TestClearEmptiesBothLadders(t *testing.T) {
	t.Parallel()
	u := testUpdater(t)
	book := bookmodel.NewBook("tok-1")
	u.ApplySnapshot(book, &streamtypes.BookSnapshotEvent{
		Asset: "tok-1",
		Bids:  snapshotLevels(t, [2]string{"0.50", "10"}),
		Asks:  snapshotLevels(t, [2]string{"0.52", "8"}),
	})
	u.Clear(book)

	bids, asks := book.Snapshot()
	if len(bids) != 0 || len(asks) != 0 {
		t.Errorf("expected empty ladders after Clear, got bids=%d asks=%d", len(bids), len(asks))
	}
	if d, ok := book.Digest(); ok || d != "" {
		t.Errorf("expected absent digest after Clear, got %q ok=%v", d, ok)
	}
}

func TestApplySnapshotHashMismatchFlagged(t *testing.T) {
	t.Parallel()
	u := testUpdater(t)
	book := bookmodel.NewBook("tok-1")
	outcome := u.ApplySnapshot(book, &streamtypes.BookSnapshotEvent{
		Asset:  "tok-1",
		Bids:   snapshotLevels(t, [2]string{"0.50", "10"}),
		Asks:   snapshotLevels(t, [2]string{"0.52", "8"}),
		Digest: "not-the-real-digest",
	})
	if !outcome.HashMismatch {
		t.Error("expected HashMismatch when supplied digest disagrees")
	}
	d, _ := book.Digest()
	if d == "not-the-real-digest" {
		t.Error("book should retain the recomputed digest, not the server's disagreeing one")
	}
}
