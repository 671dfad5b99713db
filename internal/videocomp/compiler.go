package videocomp

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"time"

	"github.com/eleven-am/sentinel-backend/internal/frame"
	"github.com/eleven-am/sentinel-backend/internal/shared"
)

type Config struct {
	FFmpegPath     string
	OutputDir      string
	FPS            int
	Format         string
	FallbackFormat string
	Timeout        time.Duration
}

type Artifact struct {
	Path     string        `json:"path"`
	Bytes    int64         `json:"bytes"`
	Duration time.Duration `json:"duration"`
	Format   string        `json:"format"`
	Reduced  bool          `json:"reduced"`
}

// Result carries the compilation outcome through the pipeline. Artifact is
// nil on final failure; downstream must dispatch without it rather than fail.
type Result struct {
	shared.RetryResult
	Artifact *Artifact
}

// Compiler turns an ordered frame sequence into an evidence video by piping
// timestamp-stamped JPEG frames into an external ffmpeg process.
type Compiler struct {
	cfg    Config
	logger *slog.Logger
}

func NewCompiler(cfg Config, logger *slog.Logger) *Compiler {
	if cfg.FFmpegPath == "" {
		cfg.FFmpegPath = "ffmpeg"
	}
	if cfg.OutputDir == "" {
		cfg.OutputDir = os.TempDir()
	}
	if cfg.FPS <= 0 {
		cfg.FPS = 10
	}
	if cfg.Format == "" {
		cfg.Format = "mp4"
	}
	if cfg.FallbackFormat == "" {
		cfg.FallbackFormat = "avi"
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 60 * time.Second
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Compiler{
		cfg:    cfg,
		logger: logger.With("component", "video-compiler"),
	}
}

type encodePlan struct {
	format  string
	reduced bool
}

// Compile runs the retry chain: target format, fallback format, then a
// reduced-quality encode. Each failed attempt is logged with its reason; the
// final failure surfaces as an artifact-absent result, never an error the
// caller has to unwind.
func (c *Compiler) Compile(ctx context.Context, incidentID string, frames []frame.Frame) Result {
	return c.compile(ctx, incidentID, frames, []encodePlan{
		{format: c.cfg.Format},
		{format: c.cfg.FallbackFormat},
		{format: c.cfg.Format, reduced: true},
	})
}

// CompileReduced re-encodes at reduced quality, used when the delivery
// channel rejects the full-size artifact.
func (c *Compiler) CompileReduced(ctx context.Context, incidentID string, frames []frame.Frame) Result {
	return c.compile(ctx, incidentID, frames, []encodePlan{
		{format: c.cfg.Format, reduced: true},
		{format: c.cfg.FallbackFormat, reduced: true},
	})
}

func (c *Compiler) compile(ctx context.Context, incidentID string, frames []frame.Frame, plans []encodePlan) Result {
	if len(frames) == 0 {
		return Result{RetryResult: shared.RetryResult{
			Outcome: shared.OutcomeFailed,
			LastErr: fmt.Errorf("no frames to compile"),
		}}
	}

	var lastErr error
	attempts := 0
	for i, plan := range plans {
		attempts++
		artifact, err := c.encode(ctx, incidentID, frames, plan)
		if err == nil {
			outcome := shared.OutcomeOK
			if i > 0 || plan.reduced {
				outcome = shared.OutcomeDegraded
			}
			return Result{
				RetryResult: shared.RetryResult{Outcome: outcome, Attempts: attempts},
				Artifact:    artifact,
			}
		}
		lastErr = err
		c.logger.Warn("encode attempt failed",
			"incident_id", incidentID,
			"attempt", attempts,
			"format", plan.format,
			"reduced", plan.reduced,
			"error", err)
		if ctx.Err() != nil {
			break
		}
	}

	return Result{RetryResult: shared.RetryResult{
		Outcome:  shared.OutcomeFailed,
		Attempts: attempts,
		LastErr:  lastErr,
	}}
}

func (c *Compiler) encode(ctx context.Context, incidentID string, frames []frame.Frame, plan encodePlan) (*Artifact, error) {
	ctx, cancel := context.WithTimeout(ctx, c.cfg.Timeout)
	defer cancel()

	name := fmt.Sprintf("%s.%s", incidentID, plan.format)
	if plan.reduced {
		name = fmt.Sprintf("%s_reduced.%s", incidentID, plan.format)
	}
	outPath := filepath.Join(c.cfg.OutputDir, name)

	args := []string{
		"-y",
		"-f", "image2pipe",
		"-vcodec", "mjpeg",
		"-framerate", fmt.Sprintf("%d", c.cfg.FPS),
		"-i", "-",
	}
	args = append(args, encodeArgs(plan)...)
	args = append(args, outPath)

	cmd := exec.CommandContext(ctx, c.cfg.FFmpegPath, args...)
	stdin, err := cmd.StdinPipe()
	if err != nil {
		return nil, fmt.Errorf("stdin pipe: %w", err)
	}
	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("start ffmpeg: %w", err)
	}

	writeErr := c.pipeFrames(stdin, frames)
	waitErr := cmd.Wait()
	if waitErr != nil {
		os.Remove(outPath)
		return nil, fmt.Errorf("ffmpeg: %w", waitErr)
	}
	if writeErr != nil {
		os.Remove(outPath)
		return nil, fmt.Errorf("pipe frames: %w", writeErr)
	}

	info, err := os.Stat(outPath)
	if err != nil {
		return nil, fmt.Errorf("stat artifact: %w", err)
	}

	return &Artifact{
		Path:     outPath,
		Bytes:    info.Size(),
		Duration: time.Duration(len(frames)) * time.Second / time.Duration(c.cfg.FPS),
		Format:   plan.format,
		Reduced:  plan.reduced,
	}, nil
}

func encodeArgs(plan encodePlan) []string {
	var args []string
	switch plan.format {
	case "mp4":
		args = []string{"-vcodec", "libx264", "-pix_fmt", "yuv420p"}
		if plan.reduced {
			args = append(args, "-vf", "scale=640:-2", "-crf", "35")
		} else {
			args = append(args, "-crf", "23")
		}
	case "webm":
		args = []string{"-vcodec", "libvpx-vp9"}
		if plan.reduced {
			args = append(args, "-vf", "scale=640:-2", "-crf", "45", "-b:v", "0")
		} else {
			args = append(args, "-crf", "32", "-b:v", "0")
		}
	default:
		// MJPEG passthrough container (avi and friends).
		args = []string{"-vcodec", "mjpeg"}
		if plan.reduced {
			args = append(args, "-vf", "scale=640:-2", "-q:v", "20")
		} else {
			args = append(args, "-q:v", "5")
		}
	}
	return args
}

func (c *Compiler) pipeFrames(stdin io.WriteCloser, frames []frame.Frame) error {
	defer stdin.Close()
	for i := range frames {
		data := stampTimestamp(frames[i].Data, frames[i].Timestamp)
		if _, err := stdin.Write(data); err != nil {
			return err
		}
	}
	return nil
}
