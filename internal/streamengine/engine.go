// Package streamengine is the central orchestrator of the streaming core.
//
// It wires together every subsystem:
//
//  1. wsconn.Connector dials the market (and, if configured, user) channel
//     and hands raw frames to the Wire Decoder.
//  2. wire.Decoder turns each frame into zero or more PolyEvents.
//  3. bookupdate.Updater applies each event to the asset's bookmodel.Book,
//     verifying the digest and sanitizing crossed markets.
//  4. recorder.Session persists every applied event, one session per asset.
//  5. bcast.Broadcaster publishes the applied PolyEvent (or a derived
//     SystemEvent) to every current subscriber.
//  6. resync.Coordinator is invoked whenever the Updater reports a hash
//     mismatch (with auto-sync on), an uninitialized book, or on startup.
//
// Lifecycle: New() -> Start(ctx) -> [runs until ctx is cancelled] -> Stop().
//
// Grounded on the teacher's internal/engine.Engine: New()/Start()/Stop()
// lifecycle, a context+cancel+errgroup pair owning every goroutine, and a
// per-asset slot map guarded by its own mutex — generalized from "one slot
// per traded market with a strategy goroutine" to "one book+recorder
// session per subscribed asset with no trading logic attached."
package streamengine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"polymarket-streamcore/internal/auth"
	"polymarket-streamcore/internal/bcast"
	"polymarket-streamcore/internal/bookmodel"
	"polymarket-streamcore/internal/bookupdate"
	"polymarket-streamcore/internal/config"
	"polymarket-streamcore/internal/digest"
	"polymarket-streamcore/internal/metrics"
	"polymarket-streamcore/internal/recorder"
	"polymarket-streamcore/internal/resync"
	"polymarket-streamcore/internal/subscription"
	"polymarket-streamcore/internal/wire"
	"polymarket-streamcore/internal/wsconn"
	"polymarket-streamcore/pkg/streamtypes"
)

// Engine orchestrates all components of the streaming system.
type Engine struct {
	cfg     config.Config
	logger  *slog.Logger
	metrics *metrics.Registry

	books      *bookmodel.Registry
	updater    *bookupdate.Updater
	decoder    *wire.Decoder
	marketConn *wsconn.Connector
	userConn   *wsconn.Connector
	subCtl     *subscription.Controller
	broadcast  *bcast.Broadcaster
	coord      *resync.Coordinator
	signer     *auth.Signer

	recMu    sync.Mutex
	sessions map[streamtypes.AssetId]*recorder.Session

	ctx    context.Context
	cancel context.CancelFunc
	group  *errgroup.Group
}

// New wires every component from cfg. It does not start any goroutine.
func New(cfg config.Config, logger *slog.Logger) (*Engine, error) {
	digestFn, err := digest.New(digest.Algorithm(cfg.Market.HashAlgorithm))
	if err != nil {
		return nil, fmt.Errorf("resolve hash algorithm: %w", err)
	}

	m := metrics.New()

	e := &Engine{
		cfg:       cfg,
		logger:    logger.With("component", "streamengine"),
		metrics:   m,
		books:     bookmodel.NewRegistry(),
		updater:   bookupdate.New(digestFn, logger, m),
		decoder:   wire.New(logger),
		subCtl:    subscription.New(),
		broadcast: bcast.New(cfg.Feed.EventBufferSize, m),
		sessions:  make(map[streamtypes.AssetId]*recorder.Session),
	}

	e.marketConn = wsconn.New(wsconn.Config{
		URL:                   cfg.Feed.WSMarketURL,
		ChannelLabel:          "market",
		HeartbeatInterval:     cfg.Feed.HeartbeatInterval,
		ReconnectInitialWait:  cfg.Feed.ReconnectInitial,
		ReconnectMaxWait:      cfg.Feed.ReconnectMax,
		InboundQueueCapacity:  cfg.Feed.InboundQueueSize,
		OutboundQueueCapacity: 32,
		MaxReconnectAttempts:  cfg.Feed.MaxReconnectAttempts,
	}, logger, m)
	e.marketConn.OnReconnect = e.reassertSubscriptions(subscription.Market)

	if cfg.Feed.WSUserURL != "" {
		e.userConn = wsconn.New(wsconn.Config{
			URL:                   cfg.Feed.WSUserURL,
			ChannelLabel:          "user",
			HeartbeatInterval:     cfg.Feed.HeartbeatInterval,
			ReconnectInitialWait:  cfg.Feed.ReconnectInitial,
			ReconnectMaxWait:      cfg.Feed.ReconnectMax,
			InboundQueueCapacity:  cfg.Feed.InboundQueueSize,
			OutboundQueueCapacity: 32,
			MaxReconnectAttempts:  cfg.Feed.MaxReconnectAttempts,
		}, logger, m)
		e.userConn.OnReconnect = e.reassertSubscriptions(subscription.User)
		e.signer = auth.NewSigner(auth.Credentials{
			ApiKey:     cfg.Feed.ApiKey,
			Secret:     cfg.Feed.Secret,
			Passphrase: cfg.Feed.Passphrase,
		})
	}

	source := resync.NewRESTSource(cfg.Resync.RESTBaseURL, cfg.Resync.RequestTimeout)
	e.coord = resync.New(source, resync.Config{
		RequestTimeout: cfg.Resync.RequestTimeout,
		InitialBackoff: cfg.Resync.InitialBackoff,
		MaxBackoff:     cfg.Resync.MaxBackoff,
		MaxAttempts:    cfg.Resync.MaxAttempts,
	}, logger, m)

	return e, nil
}

// Metrics exposes the registry so main() can mount the /metrics handler.
func (e *Engine) Metrics() *metrics.Registry { return e.metrics }

// Subscribe registers a new broadcast consumer (spec §4.8).
func (e *Engine) Subscribe() *bcast.Subscription { return e.broadcast.Subscribe() }

// Start launches every background goroutine and returns once they are all
// running; it does not block until shutdown (call Stop or wait on ctx).
func (e *Engine) Start(ctx context.Context) error {
	e.ctx, e.cancel = context.WithCancel(ctx)
	group, gctx := errgroup.WithContext(e.ctx)
	e.group = group

	group.Go(func() error {
		return e.marketConn.Run(gctx)
	})
	group.Go(func() error {
		return e.pump(gctx, e.marketConn, subscription.Market)
	})

	if e.userConn != nil {
		group.Go(func() error {
			return e.userConn.Run(gctx)
		})
		group.Go(func() error {
			return e.pump(gctx, e.userConn, subscription.User)
		})
	}

	added := e.subCtl.Add(subscription.Market, e.cfg.Market.Assets)
	if len(added.Added) > 0 {
		e.marketConn.Enqueue(wsconn.Command{Op: "subscribe", Channel: "MARKET", IDs: added.Added})
	}

	if e.userConn != nil && len(e.cfg.Feed.UserMarkets) > 0 {
		userAdded := e.subCtl.Add(subscription.User, e.cfg.Feed.UserMarkets)
		if len(userAdded.Added) > 0 {
			payload, err := e.userAuthPayload()
			if err != nil {
				return fmt.Errorf("sign initial user channel auth: %w", err)
			}
			e.userConn.Enqueue(wsconn.Command{Op: "subscribe", Channel: "USER", IDs: userAdded.Added, Auth: payload})
		}
	}

	for _, asset := range e.cfg.Market.Assets {
		asset := streamtypes.AssetId(asset)
		group.Go(func() error {
			e.primeAsset(gctx, asset)
			return nil
		})
	}

	return nil
}

// Stop gracefully shuts down: cancels the context, waits for every
// goroutine, flushes recorder sessions, and closes the broadcaster.
func (e *Engine) Stop() error {
	e.logger.Info("shutting down")
	if e.cancel != nil {
		e.cancel()
	}

	var groupErr error
	if e.group != nil {
		groupErr = e.group.Wait()
	}

	e.recMu.Lock()
	for asset, sess := range e.sessions {
		if err := sess.Close(); err != nil {
			e.logger.Error("recorder session close failed", "asset", asset, "error", err)
		}
	}
	e.recMu.Unlock()

	e.broadcast.Publish(streamtypes.PolyEvent{
		Kind: streamtypes.EventSystem,
		System: &streamtypes.SystemEvent{
			Kind:      streamtypes.SystemShutdown,
			Timestamp: time.Now().UTC(),
		},
	})
	e.broadcast.Shutdown()

	e.logger.Info("shutdown complete")
	if groupErr != nil && !errors.Is(groupErr, context.Canceled) {
		return groupErr
	}
	return nil
}

// reassertSubscriptions builds an OnReconnect callback for kind, reasserting
// every currently active subscription after a reconnect (spec §4.6).
func (e *Engine) reassertSubscriptions(kind subscription.Kind) func(send func(wsconn.Command) error) {
	return func(send func(wsconn.Command) error) {
		active := e.subCtl.Active(kind)
		if len(active) == 0 {
			return
		}
		channel := "MARKET"
		if kind == subscription.User {
			channel = "USER"
		}
		cmd := wsconn.Command{Op: "subscribe", Channel: channel, IDs: active}
		if kind == subscription.User {
			payload, err := e.userAuthPayload()
			if err != nil {
				e.logger.Error("failed to sign user channel auth", "error", err)
				return
			}
			cmd.Auth = payload
		}
		if err := send(cmd); err != nil {
			e.logger.Warn("resubscribe after reconnect failed", "channel", channel, "error", err)
		}
	}
}

// userAuthPayload signs a fresh timestamp for the user channel's
// subscribe command. Called per (re)subscribe since the signature is
// only valid for a narrow timestamp window.
func (e *Engine) userAuthPayload() (*wsconn.AuthPayload, error) {
	sig, ts, err := e.signer.Sign()
	if err != nil {
		return nil, err
	}
	return &wsconn.AuthPayload{
		ApiKey:     e.cfg.Feed.ApiKey,
		Passphrase: e.cfg.Feed.Passphrase,
		Signature:  sig,
		Timestamp:  ts,
	}, nil
}

// pump reads decoded frames off conn and applies each resulting event.
func (e *Engine) pump(ctx context.Context, conn *wsconn.Connector, kind subscription.Kind) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case frame, ok := <-conn.Inbound():
			if !ok {
				return nil
			}
			events, err := e.decoder.Decode(frame)
			if err != nil {
				e.logger.Warn("frame decode failed", "channel", kind, "error", err)
				continue
			}
			e.metrics.FramesDecoded.WithLabelValues(string(kind)).Inc()
			for _, evt := range events {
				e.applyEvent(ctx, evt)
			}
		}
	}
}

// applyEvent dispatches one decoded event to the Book Updater, the Session
// Recorder, and the Event Broadcaster, in that order (spec §5's recorded
// order == applied order == broadcast order monotonic guarantee).
func (e *Engine) applyEvent(ctx context.Context, evt streamtypes.PolyEvent) {
	switch evt.Kind {
	case streamtypes.EventBookSnapshot:
		e.handleSnapshot(ctx, evt.BookSnapshot, false)
	case streamtypes.EventPriceChange:
		e.handlePriceChange(ctx, evt.PriceChange)
	case streamtypes.EventTickSizeChange:
		book := e.books.GetOrCreate(evt.TickSizeChange.Asset)
		e.updater.ApplyTickSizeChange(book, evt.TickSizeChange)
		e.recordDelta(evt.TickSizeChange.Asset, &recorder.DeltaRecord{
			Asset: evt.TickSizeChange.Asset, Timestamp: time.Now().UTC(),
			Kind: recorder.FrameTickSizeChange, TickSizeChange: evt.TickSizeChange,
		})
		e.broadcast.Publish(evt)
	case streamtypes.EventTrade:
		e.recordDelta(evt.Trade.Asset, &recorder.DeltaRecord{
			Asset: evt.Trade.Asset, Timestamp: evt.Trade.Timestamp,
			Kind: recorder.FrameTrade, Trade: evt.Trade,
		})
		e.broadcast.Publish(evt)
	case streamtypes.EventClear:
		e.handleClear(evt.Clear)
	default:
		// LastTradePrice, MyOrder, MyTrade, System: pass straight through to
		// subscribers; none of them mutate book state or need persisting.
		e.broadcast.Publish(evt)
	}
}

func (e *Engine) handleSnapshot(ctx context.Context, evt *streamtypes.BookSnapshotEvent, fromResync bool) {
	book := e.books.GetOrCreate(evt.Asset)
	outcome := e.updater.ApplySnapshot(book, evt)

	bids, asks := book.Snapshot()
	digestStr, _ := book.Digest()
	snapEvt := streamtypes.PolyEvent{
		Kind: streamtypes.EventBookSnapshot,
		BookSnapshot: &streamtypes.BookSnapshotEvent{
			Asset: evt.Asset, Bids: bids, Asks: asks, Digest: digestStr,
		},
	}

	if sess := e.session(evt.Asset); sess != nil {
		if err := sess.RecordSnapshot(&recorder.SnapshotRecord{
			Asset: evt.Asset, Timestamp: time.Now().UTC(), Bids: bids, Asks: asks,
			Tick: book.Tick(), Digest: digestStr,
		}); err != nil {
			e.logger.Error("recorder snapshot write failed", "asset", evt.Asset, "error", err)
		}
	}

	e.broadcast.Publish(snapEvt)

	if outcome.HashMismatch && !fromResync {
		e.emitSystem(evt.Asset, streamtypes.SystemHashMismatch, "snapshot hash mismatch")
		if e.cfg.Feed.AutoSyncOnMismatch {
			go e.resyncAsset(ctx, evt.Asset, resync.TriggerHashMismatch)
		}
	}
	if outcome.CrossedFixed > 0 {
		e.emitSystem(evt.Asset, streamtypes.SystemCrossedMarket, fmt.Sprintf("removed %d crossing levels", outcome.CrossedFixed))
	}
}

func (e *Engine) handlePriceChange(ctx context.Context, evt *streamtypes.PriceChangeEvent) {
	book := e.books.GetOrCreate(evt.Asset)
	outcome := e.updater.ApplyPriceChange(book, evt)

	if outcome.Rejected {
		e.emitSystem(evt.Asset, streamtypes.SystemPriceChangeRejected, fmt.Sprintf("price_change with negative size %s rejected", evt.Size.String()))
		return
	}

	e.recordDelta(evt.Asset, &recorder.DeltaRecord{
		Asset: evt.Asset, Timestamp: time.Now().UTC(),
		Kind: recorder.FramePriceChange, PriceChange: evt,
	})
	e.broadcast.Publish(streamtypes.PolyEvent{Kind: streamtypes.EventPriceChange, PriceChange: evt})

	if outcome.HashMismatch {
		e.emitSystem(evt.Asset, streamtypes.SystemHashMismatch, "price_change hash mismatch")
		if e.cfg.Feed.AutoSyncOnMismatch {
			go e.resyncAsset(ctx, evt.Asset, resync.TriggerHashMismatch)
		}
	}
	if outcome.Uninitialized {
		go e.resyncAsset(ctx, evt.Asset, resync.TriggerUninitialized)
	}
	if outcome.CrossedFixed > 0 {
		e.emitSystem(evt.Asset, streamtypes.SystemCrossedMarket, fmt.Sprintf("removed %d crossing levels", outcome.CrossedFixed))
	}
}

// RequestResync lets a consumer force a fresh snapshot for asset (spec
// §4.9 trigger (c) "consumer-issued explicit resync request").
func (e *Engine) RequestResync(asset streamtypes.AssetId) {
	go e.resyncAsset(e.ctx, asset, resync.TriggerExplicitRequest)
}

// UnsubscribeAsset drops asset from the market channel and clears its book
// (spec §3's Lifecycle: "Book ... persists until session end or explicit
// clear"). The server-facing unsubscribe and the in-process Clear are
// issued together so the book's local state and the server's view of what
// we're watching never disagree about an asset we've walked away from.
func (e *Engine) UnsubscribeAsset(asset streamtypes.AssetId) {
	removed := e.subCtl.Remove(subscription.Market, []string{string(asset)})
	if len(removed.Removed) > 0 {
		e.marketConn.Enqueue(wsconn.Command{Op: "unsubscribe", Channel: "MARKET", IDs: removed.Removed})
	}
	e.applyEvent(e.ctx, streamtypes.PolyEvent{
		Kind:  streamtypes.EventClear,
		Clear: &streamtypes.ClearEvent{Asset: asset, Timestamp: time.Now().UTC()},
	})
}

func (e *Engine) handleClear(evt *streamtypes.ClearEvent) {
	book, ok := e.books.Get(evt.Asset)
	if !ok {
		return
	}
	e.updater.Clear(book)

	e.recordDelta(evt.Asset, &recorder.DeltaRecord{
		Asset: evt.Asset, Timestamp: evt.Timestamp,
		Kind: recorder.FrameClear, Clear: evt,
	})
	e.broadcast.Publish(streamtypes.PolyEvent{Kind: streamtypes.EventClear, Clear: evt})
}

func (e *Engine) primeAsset(ctx context.Context, asset streamtypes.AssetId) {
	e.resyncAsset(ctx, asset, resync.TriggerInitialConnect)
}

func (e *Engine) resyncAsset(ctx context.Context, asset streamtypes.AssetId, trigger resync.Trigger) {
	snap, err := e.coord.Resync(ctx, asset, trigger)
	if err != nil {
		e.emitSystem(asset, streamtypes.SystemResyncTimeout, err.Error())
		return
	}
	e.handleSnapshot(ctx, &streamtypes.BookSnapshotEvent{
		Asset: snap.Asset, Bids: snap.Bids, Asks: snap.Asks, Digest: snap.Digest,
	}, true)
}

func (e *Engine) emitSystem(asset streamtypes.AssetId, kind streamtypes.SystemKind, msg string) {
	e.broadcast.Publish(streamtypes.PolyEvent{
		Kind: streamtypes.EventSystem,
		System: &streamtypes.SystemEvent{
			Kind: kind, Asset: asset, Message: msg, Timestamp: time.Now().UTC(),
		},
	})
}

// session lazily opens (and caches) the recorder session for asset. Returns
// nil if recording is disabled or the session failed to open.
func (e *Engine) session(asset streamtypes.AssetId) *recorder.Session {
	if !e.cfg.Recorder.Enabled {
		return nil
	}

	e.recMu.Lock()
	defer e.recMu.Unlock()

	if sess, ok := e.sessions[asset]; ok {
		return sess
	}
	sess, err := recorder.Open(e.cfg.Recorder.RootPath, asset, e.cfg.Market.HashAlgorithm,
		e.cfg.Recorder.QueueCapacity, e.logger, e.metrics)
	if err != nil {
		e.logger.Error("failed to open recorder session", "asset", asset, "error", err)
		return nil
	}
	e.sessions[asset] = sess
	return sess
}

// recordDelta appends rec to asset's recorder session, opening one lazily
// if recording is enabled and none exists yet.
func (e *Engine) recordDelta(asset streamtypes.AssetId, rec *recorder.DeltaRecord) {
	sess := e.session(asset)
	if sess == nil {
		return
	}
	if err := sess.RecordDelta(rec); err != nil {
		e.emitSystem(asset, streamtypes.SystemRecorderFailed, err.Error())
	}
}
