package bookmodel

import (
	"testing"

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

func TestLadderBidOrderingBestFirst(t *testing.T) {
	t.Parallel()
	l := NewLadder(streamtypes.Bid)
	l.Put(mustParse(t, "0.48"), mustParse(t, "10"))
	l.Put(mustParse(t, "0.50"), mustParse(t, "5"))
	l.Put(mustParse(t, "0.49"), mustParse(t, "7"))

	snap := l.Snapshot()
	if len(snap) != 3 {
		t.Fatalf("got %d levels, want 3", len(snap))
	}
	want := []string{"0.5", "0.49", "0.48"}
	for i, p := range want {
		if snap[i].Price.String() != p {
			t.Errorf("snap[%d].Price = %s, want %s", i, snap[i].Price.String(), p)
		}
	}
}

func TestLadderAskOrderingBestFirst(t *testing.T) {
	t.Parallel()
	l := NewLadder(streamtypes.Ask)
	l.Put(mustParse(t, "0.55"), mustParse(t, "10"))
	l.Put(mustParse(t, "0.52"), mustParse(t, "5"))
	l.Put(mustParse(t, "0.53"), mustParse(t, "7"))

	snap := l.Snapshot()
	want := []string{"0.52", "0.53", "0.55"}
	for i, p := range want {
		if snap[i].Price.String() != p {
			t.Errorf("snap[%d].Price = %s, want %s", i, snap[i].Price.String(), p)
		}
	}
}

func TestLadderZeroSizeRemovesLevel(t *testing.T) {
	t.Parallel()
	l := NewLadder(streamtypes.Bid)
	l.Put(mustParse(t, "0.50"), mustParse(t, "5"))
	if l.Len() != 1 {
		t.Fatalf("len = %d, want 1", l.Len())
	}
	l.Put(mustParse(t, "0.50"), fixedpoint.Zero)
	if l.Len() != 0 {
		t.Fatalf("len after removal = %d, want 0", l.Len())
	}
	if _, ok := l.Get(mustParse(t, "0.50")); ok {
		t.Error("Get found a level that should have been removed")
	}
}

func TestLadderPutRejectsNegativeSize(t *testing.T) {
	t.Parallel()
	l := NewLadder(streamtypes.Bid)
	neg, err := fixedpoint.Parse("-1")
	if err != nil {
		t.Fatalf("parse -1: %v", err)
	}
	if err := l.Put(mustParse(t, "0.50"), neg); err == nil {
		t.Error("expected an error for a negative size")
	}
	if l.Len() != 0 {
		t.Errorf("len = %d, want 0 (rejected put must not insert a level)", l.Len())
	}
}

func TestLadderBestEmpty(t *testing.T) {
	t.Parallel()
	l := NewLadder(streamtypes.Bid)
	if _, ok := l.Best(); ok {
		t.Error("Best on empty ladder should report ok=false")
	}
}

func TestLadderReplaceDropsZeroSizeEntries(t *testing.T) {
	t.Parallel()
	l := NewLadder(streamtypes.Bid)
	l.Put(mustParse(t, "0.40"), mustParse(t, "1"))

	l.Replace([]streamtypes.PriceLevel{
		{Price: mustParse(t, "0.50"), Size: mustParse(t, "10")},
		{Price: mustParse(t, "0.51"), Size: fixedpoint.Zero},
	})
	if l.Len() != 1 {
		t.Fatalf("len = %d, want 1", l.Len())
	}
	if _, ok := l.Get(mustParse(t, "0.40")); ok {
		t.Error("Replace should have discarded the prior level")
	}
}

func TestLadderDigestLevelsMatchesSnapshotOrder(t *testing.T) {
	t.Parallel()
	l := NewLadder(streamtypes.Ask)
	l.Put(mustParse(t, "0.55"), mustParse(t, "10"))
	l.Put(mustParse(t, "0.52"), mustParse(t, "5"))

	dl := l.DigestLevels()
	snap := l.Snapshot()
	if len(dl) != len(snap) {
		t.Fatalf("digest levels len = %d, snapshot len = %d", len(dl), len(snap))
	}
	for i := range dl {
		if !dl[i].Price.Equal(snap[i].Price) || !dl[i].Size.Equal(snap[i].Size) {
			t.Errorf("digest level %d = %+v, want %+v", i, dl[i], snap[i])
		}
	}
}
