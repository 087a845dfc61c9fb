package fixedpoint

import "testing"

func TestParseAndEqual(t *testing.T) {
	t.Parallel()
	a, err := Parse("0.50")
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	b, err := Parse("0.5")
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if !a.Equal(b) {
		t.Errorf("0.50 should equal 0.5 numerically")
	}
}

func TestCanonicalTrimsTrailingZeros(t *testing.T) {
	t.Parallel()
	v, err := Parse("0.500")
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if got := v.Canonical(-1); got != "0.5" {
		t.Errorf("Canonical(-1) = %q, want 0.5", got)
	}
}

func TestCanonicalNoLeadingZero(t *testing.T) {
	t.Parallel()
	v, err := Parse("00.52")
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if got := v.String(); got != "0.52" {
		t.Errorf("String() = %q, want 0.52", got)
	}
}

func TestRoundToTickTruncatesTowardZero(t *testing.T) {
	t.Parallel()
	price, _ := Parse("0.5237")
	tick, _ := Parse("0.01")
	rounded := price.RoundToTick(tick)
	want, _ := Parse("0.52")
	if !rounded.Equal(want) {
		t.Errorf("RoundToTick = %v, want %v", rounded, want)
	}
}

func TestZeroSentinel(t *testing.T) {
	t.Parallel()
	v, _ := Parse("0")
	if !v.IsZero() || !Zero.IsZero() {
		t.Error("zero value should report IsZero")
	}
	if v.Positive() {
		t.Error("zero should not be positive")
	}
}
