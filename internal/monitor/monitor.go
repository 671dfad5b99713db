package monitor

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/eleven-am/sentinel-backend/internal/classifier"
	"github.com/eleven-am/sentinel-backend/internal/frame"
	"github.com/eleven-am/sentinel-backend/internal/incident"
)

// Escalator receives positive short-window verdicts. Implemented by the
// context escalator; faked in tests.
type Escalator interface {
	HandleIncident(ctx context.Context, clientID string, trigger *classifier.Verdict) *incident.Record
}

type Config struct {
	// Interval equals the short window duration, so consecutive windows
	// leave no unexamined gap.
	Interval          time.Duration
	ClassifierTimeout time.Duration
}

// Monitor runs the continuous short-window analysis. One watcher goroutine
// per client ticks at the short-window cadence; a tick that is still
// analyzing when the next fires is skipped, and at most one escalation per
// client is in flight at any time.
type Monitor struct {
	registry  *frame.Registry
	extractor frame.Extractor
	cls       classifier.Classifier
	escalator Escalator
	cfg       Config
	logger    *slog.Logger

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu       sync.Mutex
	watchers map[string]*watcher
	inflight map[string]bool
}

type watcher struct {
	cancel    context.CancelFunc
	analyzing atomic.Bool
}

type MonitorParams struct {
	Registry   *frame.Registry
	Extractor  frame.Extractor
	Classifier classifier.Classifier
	Escalator  Escalator
	Config     Config
	Logger     *slog.Logger
}

func New(p MonitorParams) *Monitor {
	if p.Config.Interval <= 0 {
		p.Config.Interval = 3 * time.Second
	}
	if p.Config.ClassifierTimeout <= 0 {
		p.Config.ClassifierTimeout = p.Config.Interval
	}
	if p.Logger == nil {
		p.Logger = slog.Default()
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Monitor{
		registry:  p.Registry,
		extractor: p.Extractor,
		cls:       p.Classifier,
		escalator: p.Escalator,
		cfg:       p.Config,
		logger:    p.Logger.With("component", "short-window-monitor"),
		ctx:       ctx,
		cancel:    cancel,
		watchers:  make(map[string]*watcher),
		inflight:  make(map[string]bool),
	}
}

// Watch starts the monitoring loop for a client. Idempotent.
func (m *Monitor) Watch(clientID string) {
	m.mu.Lock()
	if _, ok := m.watchers[clientID]; ok {
		m.mu.Unlock()
		return
	}
	ctx, cancel := context.WithCancel(m.ctx)
	w := &watcher{cancel: cancel}
	m.watchers[clientID] = w
	m.mu.Unlock()

	m.logger.Info("monitoring started", "client_id", clientID)

	m.wg.Add(1)
	go func() {
		defer m.wg.Done()
		ticker := time.NewTicker(m.cfg.Interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				if !w.analyzing.CompareAndSwap(false, true) {
					continue
				}
				m.wg.Add(1)
				go func() {
					defer m.wg.Done()
					defer w.analyzing.Store(false)
					m.tick(ctx, clientID)
				}()
			}
		}
	}()
}

// Unwatch stops the monitoring loop for a client. An escalation already in
// flight for that client is left to finish.
func (m *Monitor) Unwatch(clientID string) {
	m.mu.Lock()
	w, ok := m.watchers[clientID]
	if ok {
		delete(m.watchers, clientID)
	}
	m.mu.Unlock()

	if ok {
		w.cancel()
		m.logger.Info("monitoring stopped", "client_id", clientID)
	}
}

func (m *Monitor) WatcherCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.watchers)
}

// Close stops all watchers and waits for in-flight analysis and escalations
// to drain.
func (m *Monitor) Close() {
	m.cancel()
	m.wg.Wait()
}

// tick is one IDLE -> ANALYZING -> IDLE pass: snapshot the short window,
// classify its most recent frame, and escalate on a positive verdict. A
// classifier failure counts as a non-incident for this tick and never stops
// the loop.
func (m *Monitor) tick(ctx context.Context, clientID string) {
	store, ok := m.registry.Get(clientID)
	if !ok {
		return
	}

	snap := m.extractor.ShortWindow(store)
	newest := snap.Newest()
	if newest == nil {
		return
	}

	callCtx, cancel := context.WithTimeout(ctx, m.cfg.ClassifierTimeout)
	verdict, err := m.cls.ClassifyFrame(callCtx, newest)
	cancel()
	if err != nil {
		m.logger.Warn("short-window classification failed, treating as no incident",
			"client_id", clientID, "error", err)
		return
	}

	if !verdict.HasIncident {
		return
	}

	m.logger.Info("incident detected",
		"client_id", clientID,
		"risk", verdict.Risk,
		"confidence", verdict.Confidence)
	m.tryEscalate(clientID, verdict)
}

// tryEscalate launches the escalation unless one is already in flight for
// this client; overlapping short windows re-detecting the same incident are
// suppressed rather than duplicated.
func (m *Monitor) tryEscalate(clientID string, verdict *classifier.Verdict) {
	m.mu.Lock()
	if m.inflight[clientID] {
		m.mu.Unlock()
		m.logger.Debug("escalation already in flight, suppressing", "client_id", clientID)
		return
	}
	m.inflight[clientID] = true
	m.mu.Unlock()

	m.wg.Add(1)
	go func() {
		defer m.wg.Done()
		defer func() {
			m.mu.Lock()
			delete(m.inflight, clientID)
			m.mu.Unlock()
		}()
		m.escalator.HandleIncident(m.ctx, clientID, verdict)
	}()
}

// EscalationInFlight reports whether an escalation is currently running for
// the client.
func (m *Monitor) EscalationInFlight(clientID string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.inflight[clientID]
}
