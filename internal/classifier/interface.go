package classifier

import (
	"context"

	"github.com/eleven-am/sentinel-backend/internal/frame"
)

// Classifier is the external vision collaborator. Implementations must
// surface transport failures as errors, never as a negative verdict.
type Classifier interface {
	ClassifyFrame(ctx context.Context, f *frame.Frame) (*Verdict, error)
	ClassifyFrames(ctx context.Context, frames []frame.Frame) (*Verdict, error)
}
