package media

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"time"
)

// FrameExtractor shells out to ffmpeg to grab single frames from a video
type FrameExtractor struct {
	binary  string
	timeout time.Duration
	logger  *slog.Logger
}

// NewFrameExtractor creates an ffmpeg wrapper
func NewFrameExtractor(binary string, timeout time.Duration, logger *slog.Logger) *FrameExtractor {
	if binary == "" {
		binary = "ffmpeg"
	}
	if timeout <= 0 {
		timeout = 30 * time.Second
	}

	return &FrameExtractor{
		binary:  binary,
		timeout: timeout,
		logger:  logger,
	}
}

// ExtractFrame writes the frame at the given offset to outPath as JPEG.
// quality is ffmpeg's -q:v scale, 1 (best) to 31 (worst).
func (f *FrameExtractor) ExtractFrame(ctx context.Context, videoPath string, atSeconds float64, quality int, outPath string) error {
	if quality < 1 || quality > 31 {
		return fmt.Errorf("quality %d out of range 1-31", quality)
	}

	runCtx, cancel := context.WithTimeout(ctx, f.timeout)
	defer cancel()

	// -ss before -i seeks by keyframe first, which keeps extraction fast
	cmd := exec.CommandContext(runCtx, f.binary,
		"-ss", fmt.Sprintf("%.3f", atSeconds),
		"-i", videoPath,
		"-frames:v", "1",
		"-q:v", fmt.Sprintf("%d", quality),
		"-y",
		outPath,
	)

	output, err := cmd.CombinedOutput()
	if err != nil {
		if runCtx.Err() == context.DeadlineExceeded {
			return fmt.Errorf("ffmpeg timed out extracting frame at %.3fs", atSeconds)
		}
		return fmt.Errorf("ffmpeg failed at %.3fs: %w: %s", atSeconds, err, truncate(string(output), 500))
	}

	info, err := os.Stat(outPath)
	if err != nil || info.Size() == 0 {
		return fmt.Errorf("ffmpeg produced no frame at %.3fs", atSeconds)
	}

	f.logger.Debug("Frame extracted",
		slog.String("video", videoPath),
		slog.Float64("at_seconds", atSeconds),
		slog.String("out", outPath),
	)

	return nil
}
