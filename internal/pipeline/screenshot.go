package pipeline

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/mediaflow/jobqueue/internal/jobstore"
	"github.com/mediaflow/jobqueue/internal/media"
)

// VideoFetcher resolves a video URL to a local file
type VideoFetcher interface {
	FetchVideo(ctx context.Context, url string) (string, error)
}

// FrameGrabber extracts one frame from a local video file
type FrameGrabber interface {
	ExtractFrame(ctx context.Context, videoPath string, atSeconds float64, quality int, outPath string) error
}

// ObjectStore uploads a local file and returns its public URL
type ObjectStore interface {
	Upload(ctx context.Context, localPath, key string) (string, error)
}

// ScreenshotPipeline captures frames from a video at the requested
// timestamps. A failed timestamp is skipped; only a run with no surviving
// frame counts as a failure.
type ScreenshotPipeline struct {
	fetcher VideoFetcher
	frames  FrameGrabber
	store   ObjectStore
	workDir string
	logger  *slog.Logger
}

// NewScreenshotPipeline wires the screenshot collaborators. workDir holds
// frames between extraction and upload.
func NewScreenshotPipeline(fetcher VideoFetcher, frames FrameGrabber, store ObjectStore, workDir string, logger *slog.Logger) *ScreenshotPipeline {
	return &ScreenshotPipeline{
		fetcher: fetcher,
		frames:  frames,
		store:   store,
		workDir: workDir,
		logger:  logger,
	}
}

func (p *ScreenshotPipeline) Kind() string {
	return KindScreenshot
}

// screenshotResult is the job result document
type screenshotResult struct {
	VideoURL    string       `json:"video_url"`
	DocumentID  string       `json:"document_id,omitempty"`
	Screenshots []screenshot `json:"screenshots"`
	Skipped     []string     `json:"skipped,omitempty"`
}

type screenshot struct {
	Timestamp string `json:"timestamp"`
	URL       string `json:"url"`
}

func (p *ScreenshotPipeline) Run(ctx context.Context, claim *jobstore.Claim) (jobstore.Outcome, error) {
	payload, err := DecodeScreenshot(claim.Payload)
	if err != nil {
		return jobstore.Outcome{}, err
	}

	p.logger.Info("Screenshot capture started",
		slog.String("job_id", claim.JobID),
		slog.String("video_url", payload.VideoURL),
		slog.Int("timestamps", len(payload.Timestamps)),
	)

	videoPath, err := p.fetcher.FetchVideo(ctx, payload.VideoURL)
	if err != nil {
		return jobstore.Outcome{}, NewRetryableError(fmt.Errorf("failed to fetch video: %w", err))
	}

	result := screenshotResult{
		VideoURL:   payload.VideoURL,
		DocumentID: payload.DocumentID,
	}

	for i, seconds := range payload.Seconds {
		if ctx.Err() != nil {
			return jobstore.Outcome{}, ctx.Err()
		}

		framePath := filepath.Join(p.workDir, fmt.Sprintf("%s_%d.jpg", claim.JobID, i))

		if err := p.frames.ExtractFrame(ctx, videoPath, seconds, payload.Quality, framePath); err != nil {
			p.logger.Warn("Timestamp skipped",
				slog.String("job_id", claim.JobID),
				slog.String("timestamp", payload.Timestamps[i]),
				slog.String("error", err.Error()),
			)
			result.Skipped = append(result.Skipped, payload.Timestamps[i])
			continue
		}

		key := fmt.Sprintf("screenshots/%s/%s.jpg", claim.JobID, media.FormatSRT(seconds))
		url, err := p.store.Upload(ctx, framePath, key)
		os.Remove(framePath)
		if err != nil {
			p.logger.Warn("Upload skipped",
				slog.String("job_id", claim.JobID),
				slog.String("timestamp", payload.Timestamps[i]),
				slog.String("error", err.Error()),
			)
			result.Skipped = append(result.Skipped, payload.Timestamps[i])
			continue
		}

		result.Screenshots = append(result.Screenshots, screenshot{
			Timestamp: payload.Timestamps[i],
			URL:       url,
		})
	}

	if len(result.Screenshots) == 0 {
		return jobstore.Outcome{}, NewRetryableError(fmt.Errorf("all %d timestamps failed", len(payload.Timestamps)))
	}

	raw, err := json.Marshal(result)
	if err != nil {
		return jobstore.Outcome{}, fmt.Errorf("failed to encode result: %w", err)
	}

	p.logger.Info("Screenshot capture completed",
		slog.String("job_id", claim.JobID),
		slog.Int("captured", len(result.Screenshots)),
		slog.Int("skipped", len(result.Skipped)),
	)

	return jobstore.Outcome{
		Status: jobstore.StatusCompleted,
		Result: raw,
	}, nil
}
