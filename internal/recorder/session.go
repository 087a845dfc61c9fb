package recorder

import (
	"bytes"
	"encoding/binary"
	"encoding/gob"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	"polymarket-streamcore/internal/metrics"
	"polymarket-streamcore/pkg/streamtypes"
)

type job struct {
	close   bool
	initial bool
	delta   *DeltaRecord
	initRec *SnapshotRecord
}

// Session records one (asset, connect-epoch)'s event history to disk.
// Writes are asynchronous: Record* calls enqueue onto a bounded channel
// that a single writer goroutine drains in order; when the channel is
// full the caller blocks (spec §4.7 "block the decoder, not drop").
type Session struct {
	dir           string
	asset         streamtypes.AssetId
	sessionID     streamtypes.SessionId
	hashAlgorithm string

	queue chan job
	wg    sync.WaitGroup

	seq            uint64
	deltaCount     uint64
	initialWritten int32

	logger  *slog.Logger
	metrics *metrics.Registry

	errMu  sync.Mutex
	err    error
	done   chan struct{}
	closed int32
}

// Open creates a new session directory under root for asset and starts its
// writer goroutine. root corresponds to spec §4.7's "<root>" path segment;
// the full layout is <root>/stream/market/<asset>/<session>/...
func Open(root string, asset streamtypes.AssetId, hashAlgorithm string, queueCapacity int, logger *slog.Logger, m *metrics.Registry) (*Session, error) {
	if queueCapacity <= 0 {
		queueCapacity = 64
	}
	sessionID := streamtypes.SessionId(time.Now().UTC().Format("20060102T150405.000000000Z"))
	dir := filepath.Join(root, "stream", "market", string(asset), string(sessionID))
	if err := os.MkdirAll(filepath.Join(dir, "updates"), 0o755); err != nil {
		return nil, fmt.Errorf("create session dir: %w", err)
	}

	s := &Session{
		dir:           dir,
		asset:         asset,
		sessionID:     sessionID,
		hashAlgorithm: hashAlgorithm,
		queue:         make(chan job, queueCapacity),
		logger:        logger.With("component", "recorder", "asset", asset, "session", sessionID),
		metrics:       m,
		done:          make(chan struct{}),
	}

	meta := SessionMetadata{
		SessionId:     sessionID,
		Asset:         asset,
		StartTime:     time.Now().UTC(),
		HashAlgorithm: hashAlgorithm,
		SchemaVersion: schemaVersion,
	}
	if err := writeMetadata(dir, meta); err != nil {
		return nil, err
	}

	s.wg.Add(1)
	go s.writerLoop()
	return s, nil
}

// SessionID returns the session's identifier.
func (s *Session) SessionID() streamtypes.SessionId { return s.sessionID }

// Dir returns the session's directory (useful for the Replay Source to
// open the same files this writer produced).
func (s *Session) Dir() string { return s.dir }

// RecordSnapshot records a book snapshot. The first call per session
// writes the dedicated `snapshot` file (spec §4.7); any subsequent
// snapshot (from a resync mid-session) is appended to updates/ as a
// FrameSnapshot-kind delta, since the layout reserves the top-level file
// for the session's opening snapshot only.
func (s *Session) RecordSnapshot(rec *SnapshotRecord) error {
	if atomic.CompareAndSwapInt32(&s.initialWritten, 0, 1) {
		return s.enqueue(job{initial: true, initRec: rec})
	}
	return s.enqueue(job{delta: &DeltaRecord{
		Asset: rec.Asset, Timestamp: rec.Timestamp, Kind: FrameSnapshot, Snapshot: rec,
	}})
}

// RecordDelta records a non-snapshot event (price_change, trade,
// tick_size_change, or clear). Seq is assigned by the writer goroutine,
// not the caller, so it always reflects write order even under concurrent
// callers.
func (s *Session) RecordDelta(rec *DeltaRecord) error {
	return s.enqueue(job{delta: rec})
}

// Err returns the sticky fatal storage error, if the writer goroutine
// encountered one (spec §7 StorageError: fatal, shuts the recorder down).
func (s *Session) Err() error {
	s.errMu.Lock()
	defer s.errMu.Unlock()
	return s.err
}

func (s *Session) setErr(err error) {
	s.errMu.Lock()
	if s.err == nil {
		s.err = err
	}
	s.errMu.Unlock()
}

func (s *Session) enqueue(j job) error {
	if atomic.LoadInt32(&s.closed) != 0 {
		return fmt.Errorf("recorder session %s is closed", s.sessionID)
	}
	if err := s.Err(); err != nil {
		return err
	}
	select {
	case s.queue <- j:
		return nil
	default:
		s.metrics.RecorderQueueFull.WithLabelValues(string(s.asset)).Inc()
	}
	select {
	case s.queue <- j:
		return nil
	case <-s.done:
		return s.Err()
	}
}

// Close flushes remaining queued records, stamps end time and final
// counts into the metadata file, and stops the writer goroutine. After
// Close returns, further Record* calls fail rather than being accepted.
func (s *Session) Close() error {
	atomic.StoreInt32(&s.closed, 1)
	select {
	case s.queue <- job{close: true}:
	case <-s.done:
	}
	s.wg.Wait()

	meta, err := ReadMetadata(s.dir)
	if err != nil {
		return fmt.Errorf("read session metadata: %w", err)
	}
	meta.EndTime = time.Now().UTC()
	meta.DeltaCount = atomic.LoadUint64(&s.deltaCount)
	return writeMetadata(s.dir, meta)
}

func (s *Session) writerLoop() {
	defer s.wg.Done()
	defer close(s.done)

	for j := range s.queue {
		if j.close {
			return
		}
		if err := s.writeJob(j); err != nil {
			s.setErr(fmt.Errorf("recorder storage error: %w", err))
			s.logger.Error("recorder write failed, recorder is now fatally stopped", "error", err)
			return
		}
	}
}

func (s *Session) writeJob(j job) error {
	if j.initial {
		return writeFramedFile(filepath.Join(s.dir, "snapshot"), j.initRec)
	}

	seq := atomic.AddUint64(&s.seq, 1)
	j.delta.Seq = seq
	atomic.AddUint64(&s.deltaCount, 1)

	name := fmt.Sprintf("%09d", seq)
	return writeFramedFile(filepath.Join(s.dir, "updates", name), j.delta)
}

// writeFramedFile writes v gob-encoded, prefixed with its own 4-byte
// big-endian length, to a temp file then renames over the target — atomic
// replacement matching the teacher's store.go pattern, plus the length
// prefix spec §4.7 requires for crash-safe truncation at a record boundary
// on reopen.
func writeFramedFile(path string, v interface{}) error {
	var buf bytes.Buffer
	if err := gob.NewEncoder(&buf).Encode(v); err != nil {
		return fmt.Errorf("encode record: %w", err)
	}

	out := make([]byte, 4+buf.Len())
	binary.BigEndian.PutUint32(out[:4], uint32(buf.Len()))
	copy(out[4:], buf.Bytes())

	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, out, 0o644); err != nil {
		return fmt.Errorf("write record: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		return fmt.Errorf("commit record: %w", err)
	}
	return nil
}

func metadataPath(dir string) string { return filepath.Join(dir, "metadata") }

func writeMetadata(dir string, meta SessionMetadata) error {
	return writeFramedFile(metadataPath(dir), meta)
}
