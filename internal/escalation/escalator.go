package escalation

import (
	"context"
	"log/slog"
	"time"

	"github.com/eleven-am/sentinel-backend/internal/alert"
	"github.com/eleven-am/sentinel-backend/internal/classifier"
	"github.com/eleven-am/sentinel-backend/internal/frame"
	"github.com/eleven-am/sentinel-backend/internal/incident"
	"github.com/eleven-am/sentinel-backend/internal/shared"
	"github.com/eleven-am/sentinel-backend/internal/videocomp"
)

type Config struct {
	// Stride sub-samples the long window during context analysis; 1 means
	// every frame. Findings must cover the full window span, so the last
	// frame is always analyzed regardless of stride.
	Stride int
	// Margin pads the incident frame range on each side to capture lead-up
	// and aftermath.
	Margin            time.Duration
	ClassifierTimeout time.Duration
}

type Escalator struct {
	registry   *frame.Registry
	extractor  frame.Extractor
	cls        classifier.Classifier
	compiler   *videocomp.Compiler
	dispatcher *alert.Dispatcher
	store      *incident.Store
	cfg        Config
	logger     *slog.Logger
}

type EscalatorParams struct {
	Registry   *frame.Registry
	Extractor  frame.Extractor
	Classifier classifier.Classifier
	Compiler   *videocomp.Compiler
	Dispatcher *alert.Dispatcher
	Store      *incident.Store
	Config     Config
	Logger     *slog.Logger
}

func NewEscalator(p EscalatorParams) *Escalator {
	if p.Config.Stride <= 0 {
		p.Config.Stride = 1
	}
	if p.Config.ClassifierTimeout <= 0 {
		p.Config.ClassifierTimeout = 30 * time.Second
	}
	if p.Logger == nil {
		p.Logger = slog.Default()
	}
	return &Escalator{
		registry:   p.Registry,
		extractor:  p.Extractor,
		cls:        p.Classifier,
		compiler:   p.Compiler,
		dispatcher: p.Dispatcher,
		store:      p.Store,
		cfg:        p.Config,
		logger:     p.Logger.With("component", "context-escalator"),
	}
}

// HandleIncident runs the full escalation for one positive short-window
// verdict: long-window context analysis, evidence compilation, and alert
// dispatch. Failures along the way degrade the record instead of aborting it.
func (e *Escalator) HandleIncident(ctx context.Context, clientID string, trigger *classifier.Verdict) *incident.Record {
	log := e.logger.With("client_id", clientID)

	// A store reclaimed between detection and escalation behaves like a
	// brand-new client: an empty window, not an error.
	var snap frame.Snapshot
	if store, ok := e.registry.Get(clientID); ok {
		snap = e.extractor.LongWindow(store)
	} else {
		snap = frame.Snapshot{ClientID: clientID, TakenAt: time.Now(), Requested: e.extractor.Long}
	}

	rec := &incident.Record{
		ID:             shared.NewID("inc_"),
		ClientID:       clientID,
		DetectedAt:     time.Now(),
		Risk:           trigger.Risk,
		InitialVerdict: trigger.Explanation,
		Confidence:     trigger.Confidence,
		DeliveryStatus: incident.DeliveryPending,
		ContextLimited: snap.Span() < e.extractor.Long*9/10,
	}

	log.Info("escalation started",
		"incident_id", rec.ID,
		"window_frames", snap.Len(),
		"window_span", snap.Span(),
		"context_limited", rec.ContextLimited)

	rec.Findings = e.analyzeWindow(ctx, snap, log)
	e.deriveRange(rec, snap)
	e.aggregateRisk(rec, trigger)

	if e.store.Enabled() {
		if err := e.store.Create(ctx, rec); err != nil {
			log.Error("persist pending incident failed", "error", err)
		}
	}

	rangeFrames := e.rangeFrames(rec, snap)
	e.compileEvidence(ctx, rec, rangeFrames, log)

	e.dispatcher.Dispatch(ctx, rec, rangeFrames)
	return rec
}

// analyzeWindow walks the snapshot at the configured stride, always including
// the final frame so the findings cover the full span. A classifier failure
// on one frame is logged and skipped; the remaining findings still stand.
func (e *Escalator) analyzeWindow(ctx context.Context, snap frame.Snapshot, log *slog.Logger) incident.FindingList {
	if snap.Empty() {
		return nil
	}

	findings := make(incident.FindingList, 0, snap.Len()/e.cfg.Stride+1)
	last := snap.Len() - 1
	for i := 0; i <= last; i += e.cfg.Stride {
		findings = e.appendFinding(ctx, findings, &snap.Frames[i], log)
		if i != last && i+e.cfg.Stride > last {
			findings = e.appendFinding(ctx, findings, &snap.Frames[last], log)
		}
	}
	return findings
}

func (e *Escalator) appendFinding(ctx context.Context, findings incident.FindingList, f *frame.Frame, log *slog.Logger) incident.FindingList {
	callCtx, cancel := context.WithTimeout(ctx, e.cfg.ClassifierTimeout)
	verdict, err := e.cls.ClassifyFrame(callCtx, f)
	cancel()
	if err != nil {
		log.Warn("context analysis frame skipped", "sequence", f.Sequence, "error", err)
		return findings
	}
	return append(findings, incident.Finding{
		Sequence:    f.Sequence,
		Timestamp:   f.Timestamp,
		HasIncident: verdict.HasIncident,
		Risk:        verdict.Risk,
		Explanation: verdict.Explanation,
	})
}

// deriveRange computes the incident frame range: from the first elevated
// finding to the last, across all disjoint elevated stretches (union policy),
// padded by the margin and clamped to the window. Without elevated findings
// the whole window stands in as the range.
func (e *Escalator) deriveRange(rec *incident.Record, snap frame.Snapshot) {
	if snap.Empty() {
		return
	}

	var first, last *incident.Finding
	for i := range rec.Findings {
		f := &rec.Findings[i]
		if !f.HasIncident {
			continue
		}
		if first == nil {
			first = f
		}
		last = f
	}

	start := snap.Frames[0].Timestamp
	end := snap.Frames[snap.Len()-1].Timestamp
	if first != nil {
		start = first.Timestamp.Add(-e.cfg.Margin)
		end = last.Timestamp.Add(e.cfg.Margin)
		if start.Before(snap.Frames[0].Timestamp) {
			start = snap.Frames[0].Timestamp
		}
		if end.After(snap.Frames[snap.Len()-1].Timestamp) {
			end = snap.Frames[snap.Len()-1].Timestamp
		}
	}

	rec.RangeStart = start
	rec.RangeEnd = end
	seqSet := false
	for i := range snap.Frames {
		f := &snap.Frames[i]
		if f.Timestamp.Before(start) || f.Timestamp.After(end) {
			continue
		}
		if !seqSet {
			rec.RangeStartSeq = f.Sequence
			seqSet = true
		}
		rec.RangeEndSeq = f.Sequence
	}
}

func (e *Escalator) aggregateRisk(rec *incident.Record, trigger *classifier.Verdict) {
	risk := trigger.Risk
	for _, f := range rec.Findings {
		if f.HasIncident {
			risk = classifier.MaxRisk(risk, f.Risk)
		}
	}
	rec.Risk = risk
}

func (e *Escalator) rangeFrames(rec *incident.Record, snap frame.Snapshot) []frame.Frame {
	if snap.Empty() {
		return nil
	}
	var out []frame.Frame
	for _, f := range snap.Frames {
		if f.Timestamp.Before(rec.RangeStart) || f.Timestamp.After(rec.RangeEnd) {
			continue
		}
		out = append(out, f)
	}
	return out
}

func (e *Escalator) compileEvidence(ctx context.Context, rec *incident.Record, rangeFrames []frame.Frame, log *slog.Logger) {
	if e.compiler == nil || len(rangeFrames) == 0 {
		rec.VideoAbsent = true
		rec.VideoNote = "no frames available for evidence video"
		return
	}

	result := e.compiler.Compile(ctx, rec.ID, rangeFrames)
	if result.Failed() {
		rec.VideoAbsent = true
		rec.VideoNote = "video compilation failed"
		if result.LastErr != nil {
			rec.VideoNote += ": " + result.LastErr.Error()
		}
		log.Warn("evidence compilation failed",
			"incident_id", rec.ID,
			"attempts", result.Attempts,
			"error", result.LastErr)
		return
	}

	rec.VideoPath = result.Artifact.Path
	rec.VideoBytes = result.Artifact.Bytes
	rec.VideoDuration = result.Artifact.Duration
	log.Info("evidence compiled",
		"incident_id", rec.ID,
		"path", result.Artifact.Path,
		"bytes", result.Artifact.Bytes,
		"outcome", result.Outcome)
}
