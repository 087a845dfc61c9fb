package replay

import (
	"context"
	"io"
	"log/slog"
	"testing"
	"time"

	"polymarket-streamcore/internal/metrics"
	"polymarket-streamcore/internal/recorder"
	"polymarket-streamcore/pkg/fixedpoint"
	"polymarket-streamcore/pkg/streamtypes"
)

func testLogger() *slog.Logger { return slog.New(slog.NewTextHandler(io.Discard, nil)) }

func mustParse(t *testing.T, s string) fixedpoint.FixedDecimal {
	t.Helper()
	v, err := fixedpoint.Parse(s)
	if err != nil {
		t.Fatalf("parse %q: %v", s, err)
	}
	return v
}

func buildSession(t *testing.T) string {
	t.Helper()
	root := t.TempDir()
	sess, err := recorder.Open(root, "tok-1", "keccak256", 8, testLogger(), metrics.New())
	if err != nil {
		t.Fatalf("Open: %v", err)
	}

	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	if err := sess.RecordSnapshot(&recorder.SnapshotRecord{
		Asset:     "tok-1",
		Timestamp: base,
		Bids:      []streamtypes.PriceLevel{{Price: mustParse(t, "0.5"), Size: mustParse(t, "10")}},
		Digest:    "d0",
	}); err != nil {
		t.Fatalf("RecordSnapshot: %v", err)
	}

	if err := sess.RecordDelta(&recorder.DeltaRecord{
		Asset:     "tok-1",
		Timestamp: base.Add(10 * time.Millisecond),
		Kind:      recorder.FramePriceChange,
		PriceChange: &streamtypes.PriceChangeEvent{
			Asset: "tok-1", Side: streamtypes.Bid, Price: mustParse(t, "0.5"), Size: mustParse(t, "5"),
		},
	}); err != nil {
		t.Fatalf("RecordDelta: %v", err)
	}

	if err := sess.RecordDelta(&recorder.DeltaRecord{
		Asset:     "tok-1",
		Timestamp: base.Add(20 * time.Millisecond),
		Kind:      recorder.FrameTrade,
		Trade: &streamtypes.TradeEvent{
			Asset: "tok-1", Price: mustParse(t, "0.5"), Size: mustParse(t, "1"), Side: streamtypes.Bid,
		},
	}); err != nil {
		t.Fatalf("RecordDelta: %v", err)
	}

	if err := sess.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	return sess.Dir()
}

func TestRunEmitsSnapshotThenDeltasThenSessionEnded(t *testing.T) {
	t.Parallel()
	dir := buildSession(t)
	src := New(dir, "", AsFastAsPossible())

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	out, errc := src.Run(ctx)

	var kinds []streamtypes.EventKind
	for evt := range out {
		kinds = append(kinds, evt.Kind)
	}
	if err := <-errc; err != nil {
		t.Fatalf("Run: %v", err)
	}

	want := []streamtypes.EventKind{
		streamtypes.EventBookSnapshot,
		streamtypes.EventPriceChange,
		streamtypes.EventTrade,
		streamtypes.EventSystem,
	}
	if len(kinds) != len(want) {
		t.Fatalf("got %d events, want %d: %v", len(kinds), len(want), kinds)
	}
	for i, k := range want {
		if kinds[i] != k {
			t.Errorf("event %d kind = %v, want %v", i, kinds[i], k)
		}
	}
	last := kinds[len(kinds)-1]
	if last != streamtypes.EventSystem {
		t.Errorf("last event kind = %v, want EventSystem", last)
	}
}

func TestRunHonorsAssetFilter(t *testing.T) {
	t.Parallel()
	dir := buildSession(t)
	src := New(dir, "no-such-asset", AsFastAsPossible())

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	out, errc := src.Run(ctx)

	count := 0
	for evt := range out {
		if evt.Kind != streamtypes.EventSystem {
			count++
		}
	}
	if err := <-errc; err != nil {
		t.Fatalf("Run: %v", err)
	}
	if count != 0 {
		t.Errorf("expected all book events filtered out, got %d", count)
	}
}

func TestRunCancelledContextStopsEarly(t *testing.T) {
	t.Parallel()
	dir := buildSession(t)
	src := New(dir, "", RealTime())

	ctx, cancel := context.WithCancel(context.Background())
	out, errc := src.Run(ctx)

	<-out // consume the snapshot
	cancel()

	for range out {
		// drain until closed
	}
	if err := <-errc; err == nil {
		t.Error("expected a context-cancellation error")
	}
}

func TestSnapshotSourceAdapterReadsRecordedSnapshot(t *testing.T) {
	t.Parallel()
	dir := buildSession(t)
	adapter := &SnapshotSource{
		SessionDirFor: func(asset streamtypes.AssetId) (string, error) { return dir, nil },
	}

	snap, err := adapter.FetchSnapshot(context.Background(), "tok-1")
	if err != nil {
		t.Fatalf("FetchSnapshot: %v", err)
	}
	if snap.Digest != "d0" {
		t.Errorf("digest = %q, want d0", snap.Digest)
	}
}
