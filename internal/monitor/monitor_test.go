package monitor

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/eleven-am/sentinel-backend/internal/classifier"
	"github.com/eleven-am/sentinel-backend/internal/frame"
	"github.com/eleven-am/sentinel-backend/internal/incident"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type fakeClassifier struct {
	mu      sync.Mutex
	calls   int
	verdict *classifier.Verdict
	err     error
}

func (f *fakeClassifier) ClassifyFrame(ctx context.Context, fr *frame.Frame) (*classifier.Verdict, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	return f.verdict, nil
}

func (f *fakeClassifier) ClassifyFrames(ctx context.Context, frames []frame.Frame) (*classifier.Verdict, error) {
	return f.ClassifyFrame(ctx, nil)
}

func (f *fakeClassifier) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

type fakeEscalator struct {
	mu       sync.Mutex
	calls    int
	clients  []string
	blocking chan struct{}
}

func (f *fakeEscalator) HandleIncident(ctx context.Context, clientID string, trigger *classifier.Verdict) *incident.Record {
	f.mu.Lock()
	f.calls++
	f.clients = append(f.clients, clientID)
	f.mu.Unlock()
	if f.blocking != nil {
		<-f.blocking
	}
	return &incident.Record{ClientID: clientID}
}

func (f *fakeEscalator) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

func testRegistry() *frame.Registry {
	return frame.NewRegistry(frame.RegistryConfig{
		Store: frame.StoreConfig{
			Retention: time.Minute,
			Logger:    testLogger(),
		},
		InactivityTimeout: time.Minute,
		SweepInterval:     time.Minute,
		Logger:            testLogger(),
	})
}

func negativeVerdict() *classifier.Verdict {
	return &classifier.Verdict{HasIncident: false, Risk: classifier.RiskLow, Confidence: 0.1}
}

func positiveVerdict() *classifier.Verdict {
	return &classifier.Verdict{HasIncident: true, Risk: classifier.RiskHigh, Confidence: 0.9, Explanation: "intruder"}
}

func newTestMonitor(registry *frame.Registry, cls classifier.Classifier, esc Escalator, interval time.Duration) *Monitor {
	return New(MonitorParams{
		Registry:   registry,
		Extractor:  frame.Extractor{Short: 3 * time.Second, Long: 10 * time.Second},
		Classifier: cls,
		Escalator:  esc,
		Config:     Config{Interval: interval, ClassifierTimeout: time.Second},
		Logger:     testLogger(),
	})
}

func seedClient(registry *frame.Registry, clientID string) {
	store := registry.GetOrCreate(clientID)
	store.Append(frame.Frame{
		ClientID:  clientID,
		Sequence:  1,
		Timestamp: time.Now(),
		Data:      []byte("jpeg"),
	})
}

func TestMonitor_TicksAtConfiguredCadence(t *testing.T) {
	registry := testRegistry()
	cls := &fakeClassifier{verdict: negativeVerdict()}
	esc := &fakeEscalator{}
	mon := newTestMonitor(registry, cls, esc, 20*time.Millisecond)
	defer mon.Close()

	seedClient(registry, "cam1")
	mon.Watch("cam1")

	time.Sleep(500 * time.Millisecond)
	mon.Unwatch("cam1")

	calls := cls.callCount()
	// ~25 ticks expected over 500ms at 20ms cadence; allow generous slack
	// for scheduler jitter.
	if calls < 15 || calls > 30 {
		t.Errorf("expected roughly 25 ticks, got %d", calls)
	}
	if esc.callCount() != 0 {
		t.Errorf("negative verdicts must not escalate, got %d escalations", esc.callCount())
	}
}

func TestMonitor_PositiveVerdictEscalates(t *testing.T) {
	registry := testRegistry()
	cls := &fakeClassifier{verdict: positiveVerdict()}
	esc := &fakeEscalator{}
	mon := newTestMonitor(registry, cls, esc, 10*time.Millisecond)
	defer mon.Close()

	seedClient(registry, "cam1")
	mon.Watch("cam1")

	deadline := time.After(time.Second)
	for esc.callCount() == 0 {
		select {
		case <-deadline:
			t.Fatal("escalation never triggered")
		case <-time.After(5 * time.Millisecond):
		}
	}
	mon.Unwatch("cam1")
}

func TestMonitor_AtMostOneEscalationInFlight(t *testing.T) {
	registry := testRegistry()
	cls := &fakeClassifier{verdict: positiveVerdict()}
	esc := &fakeEscalator{blocking: make(chan struct{})}
	mon := newTestMonitor(registry, cls, esc, 10*time.Millisecond)

	seedClient(registry, "cam1")
	mon.Watch("cam1")

	// Let many positive ticks fire while the first escalation is stuck.
	time.Sleep(300 * time.Millisecond)

	if got := esc.callCount(); got != 1 {
		t.Errorf("expected exactly 1 in-flight escalation, got %d", got)
	}
	if !mon.EscalationInFlight("cam1") {
		t.Error("escalation should be reported in flight")
	}

	close(esc.blocking)
	mon.Unwatch("cam1")
	mon.Close()

	if mon.EscalationInFlight("cam1") {
		t.Error("escalation should have drained")
	}
}

func TestMonitor_ClassifierFailuresDoNotHaltTicking(t *testing.T) {
	registry := testRegistry()
	cls := &fakeClassifier{err: errors.New("connection refused")}
	esc := &fakeEscalator{}
	mon := newTestMonitor(registry, cls, esc, 10*time.Millisecond)
	defer mon.Close()

	seedClient(registry, "cam1")
	mon.Watch("cam1")

	// Classifier fails for many consecutive ticks.
	time.Sleep(100 * time.Millisecond)
	failedSoFar := cls.callCount()
	if failedSoFar < 5 {
		t.Fatalf("expected at least 5 failed ticks, got %d", failedSoFar)
	}

	// Recovery: ticking continues and no stale escalation fires.
	cls.mu.Lock()
	cls.err = nil
	cls.verdict = negativeVerdict()
	cls.mu.Unlock()

	time.Sleep(100 * time.Millisecond)
	mon.Unwatch("cam1")

	if cls.callCount() <= failedSoFar {
		t.Error("monitor stopped ticking after classifier failures")
	}
	if esc.callCount() != 0 {
		t.Errorf("failed ticks must not escalate, got %d", esc.callCount())
	}
}

func TestMonitor_EmptyWindowSkipsClassifier(t *testing.T) {
	registry := testRegistry()
	cls := &fakeClassifier{verdict: negativeVerdict()}
	esc := &fakeEscalator{}
	mon := newTestMonitor(registry, cls, esc, 10*time.Millisecond)
	defer mon.Close()

	registry.GetOrCreate("cam1")
	mon.Watch("cam1")

	time.Sleep(100 * time.Millisecond)
	mon.Unwatch("cam1")

	if cls.callCount() != 0 {
		t.Errorf("empty windows should not reach the classifier, got %d calls", cls.callCount())
	}
}

func TestMonitor_WatchIsIdempotent(t *testing.T) {
	registry := testRegistry()
	cls := &fakeClassifier{verdict: negativeVerdict()}
	mon := newTestMonitor(registry, cls, &fakeEscalator{}, 10*time.Millisecond)
	defer mon.Close()

	mon.Watch("cam1")
	mon.Watch("cam1")
	mon.Watch("cam1")

	if mon.WatcherCount() != 1 {
		t.Errorf("expected 1 watcher, got %d", mon.WatcherCount())
	}
	mon.Unwatch("cam1")
	if mon.WatcherCount() != 0 {
		t.Errorf("expected 0 watchers after unwatch, got %d", mon.WatcherCount())
	}
}

func TestMonitor_ClientsProceedInParallel(t *testing.T) {
	registry := testRegistry()
	cls := &fakeClassifier{verdict: positiveVerdict()}
	esc := &fakeEscalator{}
	mon := newTestMonitor(registry, cls, esc, 10*time.Millisecond)
	defer mon.Close()

	seedClient(registry, "cam1")
	seedClient(registry, "cam2")
	mon.Watch("cam1")
	mon.Watch("cam2")

	deadline := time.After(time.Second)
	for {
		esc.mu.Lock()
		seen := map[string]bool{}
		for _, id := range esc.clients {
			seen[id] = true
		}
		esc.mu.Unlock()
		if seen["cam1"] && seen["cam2"] {
			break
		}
		select {
		case <-deadline:
			t.Fatal("both clients should escalate independently")
		case <-time.After(5 * time.Millisecond):
		}
	}
}
