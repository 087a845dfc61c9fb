// Package resync implements the Resync Coordinator (spec §4.9): on digest
// mismatch, an uninitialized book receiving a delta, an explicit consumer
// request, or initial connect, fetch a fresh snapshot from a pluggable
// source and hand it back to the caller to apply atomically. In-flight
// requests are deduplicated per asset; a source that keeps failing past a
// configured retry budget escalates a persistent-error event instead of
// retrying forever.
//
// Grounded on the teacher's internal/exchange.TokenBucket (continuous-refill
// backoff shape, reused here for retry spacing instead of rate limiting)
// and internal/market.Scanner (resty-backed periodic REST fetch pattern,
// reused here for an on-demand single-asset fetch instead of a poll loop).
package resync

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/rand"
	"time"

	"golang.org/x/sync/singleflight"

	"polymarket-streamcore/internal/metrics"
	"polymarket-streamcore/pkg/streamtypes"
)

// Trigger records why a resync was requested (spec §4.9 enumerates exactly
// these four).
type Trigger int

const (
	TriggerHashMismatch Trigger = iota
	TriggerUninitialized
	TriggerExplicitRequest
	TriggerInitialConnect
)

func (t Trigger) String() string {
	switch t {
	case TriggerHashMismatch:
		return "hash_mismatch"
	case TriggerUninitialized:
		return "uninitialized"
	case TriggerExplicitRequest:
		return "explicit_request"
	case TriggerInitialConnect:
		return "initial_connect"
	default:
		return "unknown"
	}
}

// Snapshot is what a SnapshotSource returns: the book-defining fields of a
// BookSnapshotEvent, independent of wire framing.
type Snapshot struct {
	Asset  streamtypes.AssetId
	Bids   []streamtypes.PriceLevel
	Asks   []streamtypes.PriceLevel
	Digest string
}

// SnapshotSource fetches a fresh snapshot for asset. Implemented by a REST
// fetch in production (rest_source.go) and by the Replay Source during
// offline runs (spec §4.10's "replaceable by the Replay Source").
type SnapshotSource interface {
	FetchSnapshot(ctx context.Context, asset streamtypes.AssetId) (Snapshot, error)
}

// ErrPersistentFailure is returned (wrapped) once retries are exhausted for
// a single resync attempt; the caller is expected to emit a
// SystemResyncTimeout escalation event and move on.
var ErrPersistentFailure = errors.New("resync: snapshot source failed past retry budget")

// Config tunes retry spacing and ceiling (spec §4.9 "Timeout T ... retry
// with exponential backoff up to a configured cap").
type Config struct {
	RequestTimeout time.Duration
	InitialBackoff time.Duration
	MaxBackoff     time.Duration
	MaxAttempts    int
}

func (c Config) withDefaults() Config {
	if c.RequestTimeout <= 0 {
		c.RequestTimeout = 5 * time.Second
	}
	if c.InitialBackoff <= 0 {
		c.InitialBackoff = 500 * time.Millisecond
	}
	if c.MaxBackoff <= 0 {
		c.MaxBackoff = 30 * time.Second
	}
	if c.MaxAttempts <= 0 {
		c.MaxAttempts = 5
	}
	return c
}

// Coordinator issues deduplicated, retried snapshot requests per asset.
type Coordinator struct {
	cfg     Config
	source  SnapshotSource
	group   singleflight.Group
	logger  *slog.Logger
	metrics *metrics.Registry
}

// New builds a Coordinator backed by source.
func New(source SnapshotSource, cfg Config, logger *slog.Logger, m *metrics.Registry) *Coordinator {
	return &Coordinator{
		cfg:     cfg.withDefaults(),
		source:  source,
		logger:  logger.With("component", "resync"),
		metrics: m,
	}
}

// Resync fetches a fresh snapshot for asset, retrying with jittered
// exponential backoff up to cfg.MaxAttempts. Concurrent calls for the same
// asset share a single in-flight request (spec §4.9 "Deduplicates in-flight
// requests per asset").
func (c *Coordinator) Resync(ctx context.Context, asset streamtypes.AssetId, trigger Trigger) (Snapshot, error) {
	c.metrics.ResyncRequests.WithLabelValues(string(asset), trigger.String()).Inc()

	v, err, _ := c.group.Do(string(asset), func() (interface{}, error) {
		return c.fetchWithRetry(ctx, asset)
	})
	if err != nil {
		c.metrics.ResyncFailures.WithLabelValues(string(asset)).Inc()
		c.logger.Error("resync failed past retry budget", "asset", asset, "trigger", trigger, "error", err)
		return Snapshot{}, err
	}
	return v.(Snapshot), nil
}

func (c *Coordinator) fetchWithRetry(ctx context.Context, asset streamtypes.AssetId) (Snapshot, error) {
	backoff := c.cfg.InitialBackoff
	var lastErr error

	for attempt := 1; attempt <= c.cfg.MaxAttempts; attempt++ {
		reqCtx, cancel := context.WithTimeout(ctx, c.cfg.RequestTimeout)
		snap, err := c.source.FetchSnapshot(reqCtx, asset)
		cancel()
		if err == nil {
			return snap, nil
		}
		lastErr = err
		c.logger.Warn("snapshot fetch attempt failed", "asset", asset, "attempt", attempt, "error", err)

		if attempt == c.cfg.MaxAttempts {
			break
		}
		wait := jitter(backoff)
		select {
		case <-ctx.Done():
			return Snapshot{}, ctx.Err()
		case <-time.After(wait):
		}
		backoff *= 2
		if backoff > c.cfg.MaxBackoff {
			backoff = c.cfg.MaxBackoff
		}
	}

	return Snapshot{}, fmt.Errorf("%w: asset=%s last_error=%v", ErrPersistentFailure, asset, lastErr)
}

// jitter applies +/-20% uniform jitter, matching the spacing the WS
// Connector uses for reconnect backoff.
func jitter(d time.Duration) time.Duration {
	if d <= 0 {
		return 0
	}
	delta := float64(d) * 0.2
	offset := (rand.Float64()*2 - 1) * delta
	return d + time.Duration(offset)
}
