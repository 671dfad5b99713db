package alert

import (
	"context"
	"time"

	"github.com/eleven-am/sentinel-backend/internal/classifier"
	"github.com/eleven-am/sentinel-backend/internal/incident"
)

type Config struct {
	HostingURL       string
	WebhookURL       string
	Token            string
	Timeout          time.Duration
	MaxArtifactBytes int64
}

// Notification is the structured alert handed to the delivery collaborator.
type Notification struct {
	IncidentID     string               `json:"incident_id"`
	ClientID       string               `json:"client_id"`
	DetectedAt     time.Time            `json:"detected_at"`
	Risk           classifier.RiskLevel `json:"risk_level"`
	InitialVerdict string               `json:"initial_verdict"`
	Findings       []incident.Finding   `json:"findings"`
	RangeStart     time.Time            `json:"range_start"`
	RangeEnd       time.Time            `json:"range_end"`
	ContextLimited bool                 `json:"context_limited"`

	VideoURL       string    `json:"video_url,omitempty"`
	VideoExpiresAt time.Time `json:"video_expires_at,omitempty"`
	VideoNote      string    `json:"video_note,omitempty"`
}

type UploadRef struct {
	URL       string    `json:"url"`
	ExpiresAt time.Time `json:"expires_at"`
}

// Hosting uploads evidence artifacts and returns a shareable reference.
type Hosting interface {
	Upload(ctx context.Context, path string, incidentID string) (*UploadRef, error)
}

// Notifier delivers a notification to the external alerting channel.
type Notifier interface {
	Send(ctx context.Context, n *Notification) error
}
