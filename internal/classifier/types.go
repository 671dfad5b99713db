package classifier

import "time"

type Config struct {
	BaseURL string
	Model   string
	Timeout time.Duration
}

type RiskLevel string

const (
	RiskLow    RiskLevel = "LOW"
	RiskMedium RiskLevel = "MEDIUM"
	RiskHigh   RiskLevel = "HIGH"
)

// Rank orders risk levels for worst-case aggregation. Unknown levels rank
// lowest so a malformed classifier answer never inflates an incident.
func (r RiskLevel) Rank() int {
	switch r {
	case RiskHigh:
		return 3
	case RiskMedium:
		return 2
	case RiskLow:
		return 1
	default:
		return 0
	}
}

func (r RiskLevel) Elevated() bool {
	return r == RiskMedium || r == RiskHigh
}

// MaxRisk implements the deterministic worst-case rule: any HIGH wins, else
// any MEDIUM, else LOW.
func MaxRisk(a, b RiskLevel) RiskLevel {
	if b.Rank() > a.Rank() {
		return b
	}
	if a.Rank() == 0 {
		return RiskLow
	}
	return a
}

type Verdict struct {
	HasIncident bool      `json:"has_incident"`
	Risk        RiskLevel `json:"risk_level"`
	Confidence  float64   `json:"confidence"`
	Explanation string    `json:"explanation"`
}
