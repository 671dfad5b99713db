package shared

import (
	"crypto/rand"
	"encoding/hex"
	"time"
)

func NewID(prefix string) string {
	b := make([]byte, 16)
	if _, err := rand.Read(b); err != nil {
		panic("crypto/rand failed: " + err.Error())
	}
	return prefix + hex.EncodeToString(b)
}

type BackoffConfig struct {
	Initial     time.Duration
	MaxDelay    time.Duration
	MaxAttempts int
}

func NormalizeBackoff(cfg BackoffConfig) BackoffConfig {
	if cfg.Initial <= 0 {
		cfg.Initial = 100 * time.Millisecond
	}
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = 5
	}
	if cfg.MaxDelay <= 0 {
		cfg.MaxDelay = 2 * time.Second
	}
	return cfg
}

// Outcome is the terminal state of a retried operation. Degraded means the
// operation succeeded on a fallback path (reduced quality, metadata-only).
type Outcome string

const (
	OutcomeOK       Outcome = "ok"
	OutcomeDegraded Outcome = "degraded"
	OutcomeFailed   Outcome = "failed"
)

// RetryResult is carried back through the compilation and delivery chains
// instead of raised errors, so each caller can branch on degraded-but-
// successful outcomes.
type RetryResult struct {
	Outcome  Outcome
	Attempts int
	LastErr  error
}

func (r RetryResult) Failed() bool {
	return r.Outcome == OutcomeFailed
}
