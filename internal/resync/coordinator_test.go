package resync

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"polymarket-streamcore/internal/metrics"
	"polymarket-streamcore/pkg/streamtypes"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type fakeSource struct {
	mu        sync.Mutex
	failUntil int // fails on calls 1..failUntil, succeeds after
	calls     int32
	delay     time.Duration
}

func (f *fakeSource) FetchSnapshot(ctx context.Context, asset streamtypes.AssetId) (Snapshot, error) {
	n := atomic.AddInt32(&f.calls, 1)
	if f.delay > 0 {
		select {
		case <-time.After(f.delay):
		case <-ctx.Done():
			return Snapshot{}, ctx.Err()
		}
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if int(n) <= f.failUntil {
		return Snapshot{}, errors.New("simulated fetch failure")
	}
	return Snapshot{Asset: asset, Digest: "d"}, nil
}

func fastConfig() Config {
	return Config{
		RequestTimeout: time.Second,
		InitialBackoff: time.Millisecond,
		MaxBackoff:     5 * time.Millisecond,
		MaxAttempts:    4,
	}
}

func TestResyncSucceedsAfterTransientFailures(t *testing.T) {
	t.Parallel()
	src := &fakeSource{failUntil: 2}
	c := New(src, fastConfig(), testLogger(), metrics.New())

	snap, err := c.Resync(context.Background(), "tok-1", TriggerHashMismatch)
	if err != nil {
		t.Fatalf("Resync: %v", err)
	}
	if snap.Digest != "d" {
		t.Errorf("digest = %q, want d", snap.Digest)
	}
}

func TestResyncEscalatesAfterExhaustingAttempts(t *testing.T) {
	t.Parallel()
	src := &fakeSource{failUntil: 100}
	cfg := fastConfig()
	cfg.MaxAttempts = 3
	c := New(src, cfg, testLogger(), metrics.New())

	_, err := c.Resync(context.Background(), "tok-1", TriggerUninitialized)
	if !errors.Is(err, ErrPersistentFailure) {
		t.Fatalf("expected ErrPersistentFailure, got %v", err)
	}
	if got := atomic.LoadInt32(&src.calls); got != 3 {
		t.Errorf("expected exactly MaxAttempts=3 calls, got %d", got)
	}
}

func TestResyncDedupesConcurrentRequestsPerAsset(t *testing.T) {
	t.Parallel()
	src := &fakeSource{delay: 50 * time.Millisecond}
	c := New(src, fastConfig(), testLogger(), metrics.New())

	var wg sync.WaitGroup
	for i := 0; i < 5; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := c.Resync(context.Background(), "tok-1", TriggerExplicitRequest)
			if err != nil {
				t.Errorf("Resync: %v", err)
			}
		}()
	}
	wg.Wait()

	if got := atomic.LoadInt32(&src.calls); got != 1 {
		t.Errorf("expected singleflight to dedupe to 1 call, got %d", got)
	}
}

func TestResyncRespectsContextCancellation(t *testing.T) {
	t.Parallel()
	src := &fakeSource{failUntil: 100}
	cfg := fastConfig()
	cfg.InitialBackoff = time.Hour
	c := New(src, cfg, testLogger(), metrics.New())

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(10 * time.Millisecond)
		cancel()
	}()

	_, err := c.Resync(ctx, "tok-1", TriggerInitialConnect)
	if err == nil {
		t.Fatal("expected an error from cancelled context")
	}
}

func TestTriggerStringsAreStable(t *testing.T) {
	t.Parallel()
	cases := map[Trigger]string{
		TriggerHashMismatch:    "hash_mismatch",
		TriggerUninitialized:   "uninitialized",
		TriggerExplicitRequest: "explicit_request",
		TriggerInitialConnect:  "initial_connect",
	}
	for trig, want := range cases {
		if got := trig.String(); got != want {
			t.Errorf("Trigger(%d).String() = %q, want %q", trig, got, want)
		}
	}
}
