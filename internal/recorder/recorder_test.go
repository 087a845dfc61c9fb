package recorder

import (
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"

	"polymarket-streamcore/internal/metrics"
	"polymarket-streamcore/pkg/fixedpoint"
	"polymarket-streamcore/pkg/streamtypes"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func mustParse(t *testing.T, s string) fixedpoint.FixedDecimal {
	t.Helper()
	v, err := fixedpoint.Parse(s)
	if err != nil {
		t.Fatalf("parse %q: %v", s, err)
	}
	return v
}

func TestSessionWritesSnapshotAndDeltasRoundTrip(t *testing.T) {
	t.Parallel()
	root := t.TempDir()

	sess, err := Open(root, "tok-1", "keccak256", 8, testLogger(), metrics.New())
	if err != nil {
		t.Fatalf("Open: %v", err)
	}

	snap := &SnapshotRecord{
		Asset:     "tok-1",
		Timestamp: time.Now().UTC(),
		Bids:      []streamtypes.PriceLevel{{Price: mustParse(t, "0.50"), Size: mustParse(t, "10")}},
		Asks:      []streamtypes.PriceLevel{{Price: mustParse(t, "0.52"), Size: mustParse(t, "8")}},
		Tick:      mustParse(t, "0.01"),
		Digest:    "abc123",
	}
	if err := sess.RecordSnapshot(snap); err != nil {
		t.Fatalf("RecordSnapshot: %v", err)
	}

	delta := &DeltaRecord{
		Asset:     "tok-1",
		Timestamp: time.Now().UTC(),
		Kind:      FramePriceChange,
		PriceChange: &streamtypes.PriceChangeEvent{
			Asset: "tok-1", Side: streamtypes.Bid, Price: mustParse(t, "0.50"), Size: fixedpoint.Zero,
		},
	}
	if err := sess.RecordDelta(delta); err != nil {
		t.Fatalf("RecordDelta: %v", err)
	}

	if err := sess.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	gotSnap, err := ReadSnapshot(sess.Dir())
	if err != nil {
		t.Fatalf("ReadSnapshot: %v", err)
	}
	if gotSnap.Digest != "abc123" {
		t.Errorf("digest = %q, want abc123", gotSnap.Digest)
	}
	if !gotSnap.Bids[0].Price.Equal(mustParse(t, "0.50")) {
		t.Errorf("bid price = %s", gotSnap.Bids[0].Price)
	}

	deltas, err := ReadDeltas(sess.Dir())
	if err != nil {
		t.Fatalf("ReadDeltas: %v", err)
	}
	if len(deltas) != 1 {
		t.Fatalf("got %d deltas, want 1", len(deltas))
	}
	if deltas[0].Seq != 1 {
		t.Errorf("seq = %d, want 1", deltas[0].Seq)
	}
	if deltas[0].PriceChange.Price.String() != "0.5" {
		t.Errorf("delta price = %s", deltas[0].PriceChange.Price)
	}

	meta, err := ReadMetadata(sess.Dir())
	if err != nil {
		t.Fatalf("ReadMetadata: %v", err)
	}
	if meta.DeltaCount != 1 {
		t.Errorf("DeltaCount = %d, want 1", meta.DeltaCount)
	}
	if meta.HashAlgorithm != "keccak256" {
		t.Errorf("HashAlgorithm = %q", meta.HashAlgorithm)
	}
}

func TestSecondSnapshotGoesToUpdatesNotTopLevelFile(t *testing.T) {
	t.Parallel()
	root := t.TempDir()
	sess, err := Open(root, "tok-1", "keccak256", 8, testLogger(), metrics.New())
	if err != nil {
		t.Fatalf("Open: %v", err)
	}

	rec := &SnapshotRecord{Asset: "tok-1", Timestamp: time.Now().UTC()}
	if err := sess.RecordSnapshot(rec); err != nil {
		t.Fatalf("first RecordSnapshot: %v", err)
	}
	if err := sess.RecordSnapshot(rec); err != nil {
		t.Fatalf("second RecordSnapshot: %v", err)
	}
	if err := sess.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	deltas, err := ReadDeltas(sess.Dir())
	if err != nil {
		t.Fatalf("ReadDeltas: %v", err)
	}
	if len(deltas) != 1 || deltas[0].Kind != FrameSnapshot {
		t.Fatalf("expected one FrameSnapshot delta for the resync snapshot, got %+v", deltas)
	}
}

func TestReadDeltasSkipsTruncatedLastRecord(t *testing.T) {
	t.Parallel()
	root := t.TempDir()
	sess, err := Open(root, "tok-1", "keccak256", 8, testLogger(), metrics.New())
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	delta := &DeltaRecord{Asset: "tok-1", Timestamp: time.Now().UTC(), Kind: FrameTrade, Trade: &streamtypes.TradeEvent{
		Asset: "tok-1", Price: mustParse(t, "0.5"), Size: mustParse(t, "1"), Side: streamtypes.Bid,
	}}
	if err := sess.RecordDelta(delta); err != nil {
		t.Fatalf("RecordDelta: %v", err)
	}
	if err := sess.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	// Simulate a crash mid-write: append a corrupt, truncated record file
	// with a higher sequence number than anything actually written.
	corrupt := filepath.Join(sess.Dir(), "updates", "000000002")
	if err := os.WriteFile(corrupt, []byte{0, 0, 0, 50, 1, 2, 3}, 0o644); err != nil {
		t.Fatalf("write corrupt file: %v", err)
	}

	deltas, err := ReadDeltas(sess.Dir())
	if err != nil {
		t.Fatalf("ReadDeltas should skip the truncated trailing record, got error: %v", err)
	}
	if len(deltas) != 1 {
		t.Fatalf("got %d deltas, want 1 (truncated one skipped)", len(deltas))
	}
}

func TestRecordDeltaAfterCloseReturnsError(t *testing.T) {
	t.Parallel()
	root := t.TempDir()
	sess, err := Open(root, "tok-1", "keccak256", 8, testLogger(), metrics.New())
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	if err := sess.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	err = sess.RecordDelta(&DeltaRecord{Asset: "tok-1", Kind: FrameTrade})
	if err == nil {
		t.Error("expected an error recording to a closed session")
	}
}
