package wsconn

import (
	"context"
	"io"
	"log/slog"
	"testing"
	"time"

	"polymarket-streamcore/internal/metrics"
)

func testConnector(t *testing.T) *Connector {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	return New(Config{
		URL:                  "ws://127.0.0.1:0/invalid",
		ChannelLabel:         "market",
		HeartbeatInterval:    10 * time.Millisecond,
		ReconnectInitialWait: time.Millisecond,
		ReconnectMaxWait:     4 * time.Millisecond,
	}, logger, metrics.New())
}

func TestJitterStaysWithinBounds(t *testing.T) {
	t.Parallel()
	base := 100 * time.Millisecond
	for i := 0; i < 200; i++ {
		got := jitter(base)
		lo := base - base/5
		hi := base + base/5
		if got < lo || got > hi {
			t.Fatalf("jitter(%s) = %s, outside [%s, %s]", base, got, lo, hi)
		}
	}
}

func TestNewDefaultsQueueCapacities(t *testing.T) {
	t.Parallel()
	c := testConnector(t)
	if cap(c.inbound) != 256 {
		t.Errorf("inbound capacity = %d, want default 256", cap(c.inbound))
	}
	if cap(c.outbound) != 32 {
		t.Errorf("outbound capacity = %d, want default 32", cap(c.outbound))
	}
}

func TestStateStringsAreStable(t *testing.T) {
	t.Parallel()
	cases := map[State]string{
		Disconnected: "disconnected",
		Connecting:   "connecting",
		Connected:    "connected",
		Draining:     "draining",
		Failed:       "failed",
	}
	for state, want := range cases {
		if got := state.String(); got != want {
			t.Errorf("State(%d).String() = %q, want %q", state, got, want)
		}
	}
}

func TestEnqueueDoesNotBlockWhenFull(t *testing.T) {
	t.Parallel()
	c := testConnector(t)
	for i := 0; i < cap(c.outbound)+5; i++ {
		c.Enqueue(Command{Op: "subscribe", Channel: "MARKET", IDs: []string{"tok-1"}})
	}
	// Reaching here without deadlock is the assertion.
}

func TestInitialStateIsDisconnected(t *testing.T) {
	t.Parallel()
	c := testConnector(t)
	if c.State() != Disconnected {
		t.Errorf("initial state = %v, want Disconnected", c.State())
	}
}

func TestRunTransitionsToDrainingOnCancellation(t *testing.T) {
	t.Parallel()
	c := testConnector(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	if err := c.Run(ctx); err == nil {
		t.Fatal("expected Run to return ctx.Err() after cancellation")
	}
	if c.State() != Draining {
		t.Errorf("state after cancelled Run = %v, want Draining", c.State())
	}
}

func TestRunTransitionsToFailedAfterMaxReconnectAttempts(t *testing.T) {
	t.Parallel()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	c := New(Config{
		URL:                  "ws://127.0.0.1:0/invalid",
		ChannelLabel:         "market",
		HeartbeatInterval:    10 * time.Millisecond,
		ReconnectInitialWait: time.Millisecond,
		ReconnectMaxWait:     2 * time.Millisecond,
		MaxReconnectAttempts: 3,
	}, logger, metrics.New())

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	err := c.Run(ctx)
	if err == nil {
		t.Fatal("expected Run to return an error once max reconnect attempts is exceeded")
	}
	if c.State() != Failed {
		t.Errorf("state after exhausting reconnect attempts = %v, want Failed", c.State())
	}
}
