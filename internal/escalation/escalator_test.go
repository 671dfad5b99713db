package escalation

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/eleven-am/sentinel-backend/internal/alert"
	"github.com/eleven-am/sentinel-backend/internal/classifier"
	"github.com/eleven-am/sentinel-backend/internal/frame"
	"github.com/eleven-am/sentinel-backend/internal/incident"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// sequenceClassifier returns a canned verdict per frame sequence. Sequences
// without an entry are calm, sequences in failing return an error.
type sequenceClassifier struct {
	mu       sync.Mutex
	verdicts map[uint64]*classifier.Verdict
	failing  map[uint64]bool
	seen     []uint64
}

func (c *sequenceClassifier) ClassifyFrame(ctx context.Context, f *frame.Frame) (*classifier.Verdict, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.seen = append(c.seen, f.Sequence)
	if c.failing[f.Sequence] {
		return nil, errors.New("model busy")
	}
	if v, ok := c.verdicts[f.Sequence]; ok {
		return v, nil
	}
	return &classifier.Verdict{HasIncident: false, Risk: classifier.RiskLow, Confidence: 0.1}, nil
}

func (c *sequenceClassifier) ClassifyFrames(ctx context.Context, frames []frame.Frame) (*classifier.Verdict, error) {
	if len(frames) == 0 {
		return nil, errors.New("no frames")
	}
	return c.ClassifyFrame(ctx, &frames[len(frames)-1])
}

type captureNotifier struct {
	mu   sync.Mutex
	sent []*alert.Notification
}

func (n *captureNotifier) Send(ctx context.Context, msg *alert.Notification) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.sent = append(n.sent, msg)
	return nil
}

func (n *captureNotifier) last() *alert.Notification {
	n.mu.Lock()
	defer n.mu.Unlock()
	if len(n.sent) == 0 {
		return nil
	}
	return n.sent[len(n.sent)-1]
}

func elevated(risk classifier.RiskLevel) *classifier.Verdict {
	return &classifier.Verdict{HasIncident: true, Risk: risk, Confidence: 0.9, Explanation: "person at window"}
}

const frameGap = 100 * time.Millisecond

// seedWindow appends count frames ending at roughly now, spaced frameGap
// apart, and returns their timestamps indexed by sequence.
func seedWindow(registry *frame.Registry, clientID string, count int) map[uint64]time.Time {
	store := registry.GetOrCreate(clientID)
	now := time.Now()
	stamps := make(map[uint64]time.Time, count)
	for i := 0; i < count; i++ {
		ts := now.Add(-time.Duration(count-1-i) * frameGap)
		seq := uint64(i + 1)
		store.Append(frame.Frame{ClientID: clientID, Sequence: seq, Timestamp: ts, Data: []byte("jpeg")})
		stamps[seq] = ts
	}
	return stamps
}

func newTestEscalator(t *testing.T, cls classifier.Classifier, notifier alert.Notifier, cfg Config, long time.Duration) (*Escalator, *frame.Registry) {
	t.Helper()
	registry := frame.NewRegistry(frame.RegistryConfig{
		Store: frame.StoreConfig{
			Retention: time.Minute,
			Logger:    testLogger(),
		},
		InactivityTimeout: time.Minute,
		SweepInterval:     time.Minute,
		Logger:            testLogger(),
	})
	dispatcher := alert.NewDispatcher(alert.DispatcherConfig{
		Notifier: notifier,
		Logger:   testLogger(),
	})
	esc := NewEscalator(EscalatorParams{
		Registry:   registry,
		Extractor:  frame.Extractor{Short: 500 * time.Millisecond, Long: long},
		Classifier: cls,
		Dispatcher: dispatcher,
		Config:     cfg,
		Logger:     testLogger(),
	})
	return esc, registry
}

func TestEscalator_RangeUnionOfElevatedStretches(t *testing.T) {
	cls := &sequenceClassifier{verdicts: map[uint64]*classifier.Verdict{
		5:  elevated(classifier.RiskMedium),
		6:  elevated(classifier.RiskMedium),
		12: elevated(classifier.RiskHigh),
	}}
	notifier := &captureNotifier{}
	esc, registry := newTestEscalator(t, cls, notifier, Config{Margin: 150 * time.Millisecond}, 2*time.Second)
	stamps := seedWindow(registry, "cam1", 15)

	rec := esc.HandleIncident(context.Background(), "cam1", elevated(classifier.RiskMedium))

	// Two disjoint elevated stretches collapse into one covering range,
	// padded by the margin on each side.
	wantStart := stamps[5].Add(-150 * time.Millisecond)
	wantEnd := stamps[12].Add(150 * time.Millisecond)
	if !rec.RangeStart.Equal(wantStart) {
		t.Errorf("range start = %v, want %v", rec.RangeStart, wantStart)
	}
	if !rec.RangeEnd.Equal(wantEnd) {
		t.Errorf("range end = %v, want %v", rec.RangeEnd, wantEnd)
	}
	// The margin reaches one frame gap and a half back, so sequences 4
	// through 13 fall inside the range.
	if rec.RangeStartSeq != 4 || rec.RangeEndSeq != 13 {
		t.Errorf("range sequences = [%d, %d], want [4, 13]", rec.RangeStartSeq, rec.RangeEndSeq)
	}
}

func TestEscalator_MarginClampedToWindow(t *testing.T) {
	cls := &sequenceClassifier{verdicts: map[uint64]*classifier.Verdict{
		1:  elevated(classifier.RiskHigh),
		15: elevated(classifier.RiskHigh),
	}}
	esc, registry := newTestEscalator(t, cls, &captureNotifier{}, Config{Margin: time.Minute}, 2*time.Second)
	stamps := seedWindow(registry, "cam1", 15)

	rec := esc.HandleIncident(context.Background(), "cam1", elevated(classifier.RiskHigh))

	if !rec.RangeStart.Equal(stamps[1]) || !rec.RangeEnd.Equal(stamps[15]) {
		t.Errorf("range [%v, %v] must be clamped to the window [%v, %v]",
			rec.RangeStart, rec.RangeEnd, stamps[1], stamps[15])
	}
	if rec.RangeStartSeq != 1 || rec.RangeEndSeq != 15 {
		t.Errorf("range sequences = [%d, %d], want [1, 15]", rec.RangeStartSeq, rec.RangeEndSeq)
	}
}

func TestEscalator_NoElevatedFindingsUsesFullWindow(t *testing.T) {
	cls := &sequenceClassifier{}
	esc, registry := newTestEscalator(t, cls, &captureNotifier{}, Config{Margin: 150 * time.Millisecond}, 2*time.Second)
	stamps := seedWindow(registry, "cam1", 10)

	rec := esc.HandleIncident(context.Background(), "cam1", elevated(classifier.RiskMedium))

	if !rec.RangeStart.Equal(stamps[1]) || !rec.RangeEnd.Equal(stamps[10]) {
		t.Errorf("without elevated findings the full window stands in, got [%v, %v]",
			rec.RangeStart, rec.RangeEnd)
	}
}

func TestEscalator_WorstCaseRiskAggregation(t *testing.T) {
	cls := &sequenceClassifier{verdicts: map[uint64]*classifier.Verdict{
		3: elevated(classifier.RiskLow),
		7: elevated(classifier.RiskHigh),
	}}
	esc, registry := newTestEscalator(t, cls, &captureNotifier{}, Config{}, 2*time.Second)
	seedWindow(registry, "cam1", 10)

	rec := esc.HandleIncident(context.Background(), "cam1", elevated(classifier.RiskMedium))

	if rec.Risk != classifier.RiskHigh {
		t.Errorf("risk = %s, want HIGH (worst finding wins)", rec.Risk)
	}
}

func TestEscalator_TriggerRiskIsFloor(t *testing.T) {
	cls := &sequenceClassifier{verdicts: map[uint64]*classifier.Verdict{
		3: elevated(classifier.RiskLow),
	}}
	esc, registry := newTestEscalator(t, cls, &captureNotifier{}, Config{}, 2*time.Second)
	seedWindow(registry, "cam1", 10)

	rec := esc.HandleIncident(context.Background(), "cam1", elevated(classifier.RiskMedium))

	if rec.Risk != classifier.RiskMedium {
		t.Errorf("risk = %s, want MEDIUM (trigger risk never downgraded)", rec.Risk)
	}
}

func TestEscalator_ContextLimitedForShortHistory(t *testing.T) {
	cls := &sequenceClassifier{}
	// 5 frames spanning 400ms against a 10s long window.
	esc, registry := newTestEscalator(t, cls, &captureNotifier{}, Config{}, 10*time.Second)
	seedWindow(registry, "cam1", 5)

	rec := esc.HandleIncident(context.Background(), "cam1", elevated(classifier.RiskMedium))

	if !rec.ContextLimited {
		t.Error("record should be marked context limited")
	}
}

func TestEscalator_FullHistoryNotContextLimited(t *testing.T) {
	cls := &sequenceClassifier{}
	// 20 frames spanning 1.9s against a 2s long window.
	esc, registry := newTestEscalator(t, cls, &captureNotifier{}, Config{}, 2*time.Second)
	seedWindow(registry, "cam1", 20)

	rec := esc.HandleIncident(context.Background(), "cam1", elevated(classifier.RiskMedium))

	if rec.ContextLimited {
		t.Error("a window covering nearly the full duration is not context limited")
	}
}

func TestEscalator_StrideAlwaysIncludesLastFrame(t *testing.T) {
	cls := &sequenceClassifier{}
	esc, registry := newTestEscalator(t, cls, &captureNotifier{}, Config{Stride: 4}, 2*time.Second)
	seedWindow(registry, "cam1", 10)

	rec := esc.HandleIncident(context.Background(), "cam1", elevated(classifier.RiskMedium))

	want := []uint64{1, 5, 9, 10}
	if len(rec.Findings) != len(want) {
		t.Fatalf("findings = %d, want %d", len(rec.Findings), len(want))
	}
	for i, seq := range want {
		if rec.Findings[i].Sequence != seq {
			t.Errorf("finding %d has sequence %d, want %d", i, rec.Findings[i].Sequence, seq)
		}
	}
}

func TestEscalator_SkipsFramesTheClassifierRejects(t *testing.T) {
	cls := &sequenceClassifier{
		verdicts: map[uint64]*classifier.Verdict{6: elevated(classifier.RiskHigh)},
		failing:  map[uint64]bool{2: true, 3: true},
	}
	esc, registry := newTestEscalator(t, cls, &captureNotifier{}, Config{}, 2*time.Second)
	seedWindow(registry, "cam1", 8)

	rec := esc.HandleIncident(context.Background(), "cam1", elevated(classifier.RiskMedium))

	if len(rec.Findings) != 6 {
		t.Errorf("findings = %d, want 6 (two frames skipped)", len(rec.Findings))
	}
	if rec.Risk != classifier.RiskHigh {
		t.Errorf("surviving elevated finding must still drive risk, got %s", rec.Risk)
	}
}

func TestEscalator_MissingStoreStillProducesRecord(t *testing.T) {
	cls := &sequenceClassifier{}
	notifier := &captureNotifier{}
	esc, _ := newTestEscalator(t, cls, notifier, Config{}, 2*time.Second)

	rec := esc.HandleIncident(context.Background(), "ghost", elevated(classifier.RiskHigh))

	if rec == nil {
		t.Fatal("expected a record even when the client store is gone")
	}
	if !rec.ContextLimited {
		t.Error("an empty window is context limited")
	}
	if !rec.VideoAbsent {
		t.Error("no frames means no evidence video")
	}
	if notifier.last() == nil {
		t.Fatal("alert must still be dispatched")
	}
}

func TestEscalator_AbsentVideoStillDispatchesWithNote(t *testing.T) {
	cls := &sequenceClassifier{verdicts: map[uint64]*classifier.Verdict{
		4: elevated(classifier.RiskHigh),
	}}
	notifier := &captureNotifier{}
	// No compiler wired: compilation is unavailable, dispatch proceeds.
	esc, registry := newTestEscalator(t, cls, notifier, Config{}, 2*time.Second)
	seedWindow(registry, "cam1", 8)

	rec := esc.HandleIncident(context.Background(), "cam1", elevated(classifier.RiskMedium))

	if !rec.VideoAbsent {
		t.Error("record should mark the video absent")
	}
	if rec.DeliveryStatus != incident.DeliveryMetadata {
		t.Errorf("delivery status = %s, want %s", rec.DeliveryStatus, incident.DeliveryMetadata)
	}
	n := notifier.last()
	if n == nil {
		t.Fatal("notification not sent")
	}
	if n.VideoURL != "" {
		t.Error("notification must not carry a video URL")
	}
	if n.VideoNote == "" {
		t.Error("notification should explain the missing video")
	}
	if n.Risk != classifier.RiskHigh {
		t.Errorf("notification risk = %s, want HIGH", n.Risk)
	}
}
