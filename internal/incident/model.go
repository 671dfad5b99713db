package incident

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
	"time"

	"github.com/eleven-am/sentinel-backend/internal/classifier"
)

type DeliveryStatus string

const (
	DeliveryPending  DeliveryStatus = "pending"
	DeliveryDone     DeliveryStatus = "delivered"
	DeliveryFailed   DeliveryStatus = "delivery_failed"
	DeliveryMetadata DeliveryStatus = "delivered_metadata_only"
)

// Finding is one context-analysis observation tied to a frame.
type Finding struct {
	Sequence    uint64               `json:"sequence"`
	Timestamp   time.Time            `json:"timestamp"`
	HasIncident bool                 `json:"has_incident"`
	Risk        classifier.RiskLevel `json:"risk_level"`
	Explanation string               `json:"explanation,omitempty"`
}

type FindingList []Finding

func (l FindingList) Value() (driver.Value, error) {
	if len(l) == 0 {
		return "[]", nil
	}
	return json.Marshal(l)
}

func (l *FindingList) Scan(value any) error {
	if value == nil {
		*l = nil
		return nil
	}

	var bytes []byte
	switch v := value.(type) {
	case []byte:
		bytes = v
	case string:
		bytes = []byte(v)
	default:
		return fmt.Errorf("cannot scan %T into FindingList", value)
	}

	return json.Unmarshal(bytes, l)
}

// FrameRange is the contiguous sub-range of the long window holding the
// incident, padded to capture lead-up and aftermath.
type FrameRange struct {
	StartSeq uint64    `json:"start_seq"`
	EndSeq   uint64    `json:"end_seq"`
	Start    time.Time `json:"start"`
	End      time.Time `json:"end"`
}

// Record is produced once per detected incident: created by the escalator,
// enriched by the video compiler, terminated by the alert dispatcher.
type Record struct {
	ID             string               `gorm:"primaryKey" json:"id"`
	ClientID       string               `gorm:"index" json:"client_id"`
	DetectedAt     time.Time            `gorm:"index" json:"detected_at"`
	Risk           classifier.RiskLevel `json:"risk_level"`
	InitialVerdict string               `json:"initial_verdict"`
	Confidence     float64              `json:"confidence"`
	Findings       FindingList          `gorm:"type:jsonb" json:"findings"`
	RangeStartSeq  uint64               `json:"range_start_seq"`
	RangeEndSeq    uint64               `json:"range_end_seq"`
	RangeStart     time.Time            `json:"range_start"`
	RangeEnd       time.Time            `json:"range_end"`
	ContextLimited bool                 `json:"context_limited"`

	VideoPath     string        `json:"video_path,omitempty"`
	VideoBytes    int64         `json:"video_bytes,omitempty"`
	VideoDuration time.Duration `json:"video_duration,omitempty"`
	VideoAbsent   bool          `json:"video_absent"`
	VideoNote     string        `json:"video_note,omitempty"`

	DeliveryStatus   DeliveryStatus `gorm:"index" json:"delivery_status"`
	DeliveryRef      string         `json:"delivery_ref,omitempty"`
	DeliveryAttempts int            `json:"delivery_attempts"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

func (r *Record) HasVideo() bool {
	return !r.VideoAbsent && r.VideoPath != ""
}

func (r *Record) Range() FrameRange {
	return FrameRange{
		StartSeq: r.RangeStartSeq,
		EndSeq:   r.RangeEndSeq,
		Start:    r.RangeStart,
		End:      r.RangeEnd,
	}
}
