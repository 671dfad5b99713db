package frame

import "time"

// Frame is one captured image plus metadata. Immutable once created; the
// payload is shared between the store and snapshots and must not be written
// to after Append.
type Frame struct {
	ClientID  string
	Sequence  uint64
	Timestamp time.Time
	Data      []byte
}

// Snapshot is a point-in-time read of a client's frame history covering
// [TakenAt - Requested, TakenAt], oldest first. The backing slice is a copy,
// so later appends and evictions never tear a reader's view.
type Snapshot struct {
	ClientID  string
	Frames    []Frame
	TakenAt   time.Time
	Requested time.Duration
}

func (s Snapshot) Len() int {
	return len(s.Frames)
}

func (s Snapshot) Empty() bool {
	return len(s.Frames) == 0
}

// Span is the wall-clock distance between the oldest and newest frame. For a
// freshly connected client this is shorter than Requested; callers treat that
// as a degraded-but-valid window.
func (s Snapshot) Span() time.Duration {
	if len(s.Frames) < 2 {
		return 0
	}
	return s.Frames[len(s.Frames)-1].Timestamp.Sub(s.Frames[0].Timestamp)
}

func (s Snapshot) Newest() *Frame {
	if len(s.Frames) == 0 {
		return nil
	}
	return &s.Frames[len(s.Frames)-1]
}
