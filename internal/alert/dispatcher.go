package alert

import (
	"context"
	"log/slog"
	"time"

	"github.com/eleven-am/sentinel-backend/internal/frame"
	"github.com/eleven-am/sentinel-backend/internal/incident"
	"github.com/eleven-am/sentinel-backend/internal/shared"
	"github.com/eleven-am/sentinel-backend/internal/videocomp"
)

// Dispatcher terminates the incident pipeline: it uploads the evidence
// artifact, delivers the structured notification with bounded retries, and
// records the outcome. An incident is never silently dropped; delivery
// exhaustion leaves a delivery_failed record for manual follow-up.
type Dispatcher struct {
	hosting  Hosting
	notifier Notifier
	compiler *videocomp.Compiler
	store    *incident.Store
	journal  *incident.Journal
	backoff  shared.BackoffConfig
	maxBytes int64
	logger   *slog.Logger
}

type DispatcherConfig struct {
	Hosting          Hosting
	Notifier         Notifier
	Compiler         *videocomp.Compiler
	Store            *incident.Store
	Journal          *incident.Journal
	Backoff          shared.BackoffConfig
	MaxArtifactBytes int64
	Logger           *slog.Logger
}

func NewDispatcher(cfg DispatcherConfig) *Dispatcher {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &Dispatcher{
		hosting:  cfg.Hosting,
		notifier: cfg.Notifier,
		compiler: cfg.Compiler,
		store:    cfg.Store,
		journal:  cfg.Journal,
		backoff:  shared.NormalizeBackoff(cfg.Backoff),
		maxBytes: cfg.MaxArtifactBytes,
		logger:   cfg.Logger.With("component", "alert-dispatcher"),
	}
}

// Dispatch delivers the incident. rangeFrames is the incident frame range,
// kept around so an oversized artifact can be recompiled at reduced quality.
func (d *Dispatcher) Dispatch(ctx context.Context, rec *incident.Record, rangeFrames []frame.Frame) shared.RetryResult {
	log := d.logger.With("incident_id", rec.ID, "client_id", rec.ClientID)

	d.fitArtifact(ctx, rec, rangeFrames, log)

	notification := d.buildNotification(rec)
	if rec.HasVideo() {
		ref := d.uploadArtifact(ctx, rec, log)
		if ref != nil {
			notification.VideoURL = ref.URL
			notification.VideoExpiresAt = ref.ExpiresAt
			rec.DeliveryRef = ref.URL
		} else {
			notification.VideoNote = "evidence video could not be uploaded; retained locally at " + rec.VideoPath
		}
	} else {
		notification.VideoNote = rec.VideoNote
	}

	attempts, err := d.withRetry(ctx, func(ctx context.Context) error {
		return d.notifier.Send(ctx, notification)
	})
	rec.DeliveryAttempts = attempts

	result := shared.RetryResult{Attempts: attempts, LastErr: err}
	switch {
	case err != nil:
		rec.DeliveryStatus = incident.DeliveryFailed
		result.Outcome = shared.OutcomeFailed
		log.Error("alert delivery exhausted, incident retained locally",
			"attempts", attempts, "error", err)
	case notification.VideoURL == "":
		rec.DeliveryStatus = incident.DeliveryMetadata
		result.Outcome = shared.OutcomeDegraded
		log.Info("alert delivered without video", "attempts", attempts, "note", notification.VideoNote)
	default:
		rec.DeliveryStatus = incident.DeliveryDone
		result.Outcome = shared.OutcomeOK
		log.Info("alert delivered", "attempts", attempts, "video_url", notification.VideoURL)
	}

	d.record(ctx, rec, log)
	return result
}

// fitArtifact recompiles at reduced quality when the artifact exceeds the
// delivery channel's size limit, and drops it with a note when even that is
// too large.
func (d *Dispatcher) fitArtifact(ctx context.Context, rec *incident.Record, rangeFrames []frame.Frame, log *slog.Logger) {
	if !rec.HasVideo() || d.maxBytes <= 0 || rec.VideoBytes <= d.maxBytes {
		return
	}
	if d.compiler == nil || len(rangeFrames) == 0 {
		rec.VideoAbsent = true
		rec.VideoNote = "artifact exceeds delivery size limit"
		return
	}

	log.Info("artifact over size limit, recompiling reduced",
		"bytes", rec.VideoBytes, "limit", d.maxBytes)

	result := d.compiler.CompileReduced(ctx, rec.ID, rangeFrames)
	if result.Failed() || result.Artifact.Bytes > d.maxBytes {
		rec.VideoAbsent = true
		rec.VideoNote = "artifact exceeds delivery size limit"
		return
	}

	rec.VideoPath = result.Artifact.Path
	rec.VideoBytes = result.Artifact.Bytes
	rec.VideoDuration = result.Artifact.Duration
}

func (d *Dispatcher) uploadArtifact(ctx context.Context, rec *incident.Record, log *slog.Logger) *UploadRef {
	var ref *UploadRef
	attempts, err := d.withRetry(ctx, func(ctx context.Context) error {
		r, uploadErr := d.hosting.Upload(ctx, rec.VideoPath, rec.ID)
		if uploadErr != nil {
			return uploadErr
		}
		ref = r
		return nil
	})
	if err != nil {
		log.Warn("artifact upload failed", "attempts", attempts, "error", err)
		return nil
	}
	return ref
}

func (d *Dispatcher) buildNotification(rec *incident.Record) *Notification {
	return &Notification{
		IncidentID:     rec.ID,
		ClientID:       rec.ClientID,
		DetectedAt:     rec.DetectedAt,
		Risk:           rec.Risk,
		InitialVerdict: rec.InitialVerdict,
		Findings:       rec.Findings,
		RangeStart:     rec.RangeStart,
		RangeEnd:       rec.RangeEnd,
		ContextLimited: rec.ContextLimited,
	}
}

func (d *Dispatcher) record(ctx context.Context, rec *incident.Record, log *slog.Logger) {
	if d.store.Enabled() {
		if err := d.store.Save(ctx, rec); err != nil {
			log.Error("persist incident failed", "error", err)
		}
	}
	if d.journal != nil {
		entry := incident.JournalEntry{
			IncidentID:     rec.ID,
			ClientID:       rec.ClientID,
			DetectedAt:     rec.DetectedAt,
			Risk:           string(rec.Risk),
			DeliveryStatus: rec.DeliveryStatus,
			DeliveryRef:    rec.DeliveryRef,
			VideoAbsent:    !rec.HasVideo(),
			Note:           rec.VideoNote,
		}
		if err := d.journal.Append(ctx, entry); err != nil {
			log.Error("journal incident failed", "error", err)
		}
	}
}

func (d *Dispatcher) withRetry(ctx context.Context, op func(context.Context) error) (int, error) {
	backoff := d.backoff.Initial
	var lastErr error
	for attempt := 1; attempt <= d.backoff.MaxAttempts; attempt++ {
		lastErr = op(ctx)
		if lastErr == nil {
			return attempt, nil
		}
		if attempt == d.backoff.MaxAttempts || ctx.Err() != nil {
			return attempt, lastErr
		}
		select {
		case <-ctx.Done():
			return attempt, lastErr
		case <-time.After(backoff):
		}
		backoff = minDuration(backoff*2, d.backoff.MaxDelay)
	}
	return d.backoff.MaxAttempts, lastErr
}

func minDuration(a, b time.Duration) time.Duration {
	if a < b {
		return a
	}
	return b
}
