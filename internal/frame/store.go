package frame

import (
	"log/slog"
	"sort"
	"sync"
	"time"
)

// evictBatch bounds how many expired frames a single Append will reclaim, so
// eviction cost stays amortized O(1) on the ingestion path.
const evictBatch = 32

const capWarnInterval = 5 * time.Second

type StoreConfig struct {
	Retention time.Duration
	MaxFrames int
	MaxBytes  int64
	Logger    *slog.Logger
}

// Store holds one client's recent frames, ordered by arrival and bounded by
// retention age plus count/byte caps. Append and Snapshot hold the lock only
// for slice bookkeeping; analysis never runs under it.
type Store struct {
	clientID  string
	retention time.Duration
	maxFrames int
	maxBytes  int64
	logger    *slog.Logger

	mu         sync.Mutex
	frames     []Frame
	bytes      int64
	lastSeq    uint64
	hasFrames  bool
	lastAppend time.Time
	dropped    uint64
	lastWarn   time.Time
}

func NewStore(clientID string, cfg StoreConfig) *Store {
	if cfg.Retention <= 0 {
		cfg.Retention = 60 * time.Second
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &Store{
		clientID:  clientID,
		retention: cfg.Retention,
		maxFrames: cfg.MaxFrames,
		maxBytes:  cfg.MaxBytes,
		logger:    cfg.Logger.With("component", "frame-store", "client_id", clientID),
	}
}

func (s *Store) ClientID() string {
	return s.clientID
}

// Append adds a frame to the live edge. It never fails the caller: duplicate
// and stale sequence numbers are ignored, and when a size cap is hit the
// oldest frames are dropped instead of the new one. Returns false if the
// frame was ignored as a duplicate.
func (s *Store) Append(f Frame) bool {
	now := time.Now()

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.hasFrames && f.Sequence <= s.lastSeq {
		return false
	}

	s.frames = append(s.frames, f)
	s.bytes += int64(len(f.Data))
	s.lastSeq = f.Sequence
	s.hasFrames = true
	s.lastAppend = now

	s.evictExpiredLocked(now, evictBatch)
	s.enforceCapsLocked(now)
	return true
}

// Snapshot returns a stable copy of the frames with timestamp >= now - d,
// oldest first. A window shorter than nominal (client just connected) is
// returned as-is rather than treated as an error.
func (s *Store) Snapshot(d time.Duration) Snapshot {
	now := time.Now()
	cutoff := now.Add(-d)

	s.mu.Lock()
	s.evictExpiredLocked(now, evictBatch)
	start := sort.Search(len(s.frames), func(i int) bool {
		return !s.frames[i].Timestamp.Before(cutoff)
	})
	out := make([]Frame, len(s.frames)-start)
	copy(out, s.frames[start:])
	s.mu.Unlock()

	return Snapshot{
		ClientID:  s.clientID,
		Frames:    out,
		TakenAt:   now,
		Requested: d,
	}
}

func (s *Store) Count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.frames)
}

func (s *Store) Bytes() int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.bytes
}

// Dropped reports how many frames were evicted early by the size caps.
func (s *Store) Dropped() uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.dropped
}

func (s *Store) LastAppend() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastAppend
}

// EvictExpired reclaims every frame past retention. Meant for a background
// cadence; the inline amortized eviction keeps the invariant for snapshots
// between runs.
func (s *Store) EvictExpired() int {
	now := time.Now()
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.evictExpiredLocked(now, len(s.frames))
}

func (s *Store) evictExpiredLocked(now time.Time, limit int) int {
	cutoff := now.Add(-s.retention)
	n := 0
	for n < limit && n < len(s.frames) && s.frames[n].Timestamp.Before(cutoff) {
		n++
	}
	if n > 0 {
		s.discardLocked(n)
	}
	return n
}

func (s *Store) enforceCapsLocked(now time.Time) {
	over := 0
	remaining := len(s.frames)
	bytes := s.bytes
	for over < len(s.frames) {
		tooMany := s.maxFrames > 0 && remaining > s.maxFrames
		tooBig := s.maxBytes > 0 && bytes > s.maxBytes
		if !tooMany && !tooBig {
			break
		}
		bytes -= int64(len(s.frames[over].Data))
		over++
		remaining--
	}
	if over == 0 {
		return
	}

	s.discardLocked(over)
	s.dropped += uint64(over)
	if now.Sub(s.lastWarn) >= capWarnInterval {
		s.lastWarn = now
		s.logger.Warn("frame cap hit, dropping oldest frames",
			"dropped", over,
			"total_dropped", s.dropped,
			"frames", len(s.frames),
			"bytes", s.bytes)
	}
}

func (s *Store) discardLocked(n int) {
	for i := 0; i < n; i++ {
		s.bytes -= int64(len(s.frames[i].Data))
	}
	// Re-slice without holding the prefix alive.
	remaining := len(s.frames) - n
	copy(s.frames, s.frames[n:])
	for i := remaining; i < len(s.frames); i++ {
		s.frames[i] = Frame{}
	}
	s.frames = s.frames[:remaining]
}
