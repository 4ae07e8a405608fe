package media

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Downloader shells out to yt-dlp. The binary picks the final container, so
// every download writes under a unique name and the result is probed by
// prefix afterwards.
type Downloader struct {
	binary  string
	workDir string
	timeout time.Duration
	logger  *slog.Logger
}

// NewDownloader creates a yt-dlp wrapper writing into workDir
func NewDownloader(binary, workDir string, timeout time.Duration, logger *slog.Logger) (*Downloader, error) {
	if binary == "" {
		binary = "yt-dlp"
	}
	if timeout <= 0 {
		timeout = 10 * time.Minute
	}
	if err := os.MkdirAll(workDir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create download directory %s: %w", workDir, err)
	}

	return &Downloader{
		binary:  binary,
		workDir: workDir,
		timeout: timeout,
		logger:  logger,
	}, nil
}

// DownloadAudio fetches the audio track of url as mp3 and returns the local path
func (d *Downloader) DownloadAudio(ctx context.Context, url string) (string, error) {
	name := uuid.New().String()
	template := filepath.Join(d.workDir, name+".%(ext)s")

	args := []string{
		"--extract-audio",
		"--audio-format", "mp3",
		"--no-playlist",
		"--output", template,
		url,
	}

	if err := d.run(ctx, args, url); err != nil {
		return "", err
	}

	return d.probe(name)
}

// DownloadVideo fetches url as an mp4 constrained to 720p and returns the
// local path. outName becomes the file name stem, which lets callers place
// downloads directly into the cache.
func (d *Downloader) DownloadVideo(ctx context.Context, url, outName string) (string, error) {
	if outName == "" {
		outName = uuid.New().String()
	}
	template := filepath.Join(d.workDir, outName+".%(ext)s")

	args := []string{
		"--format", "bestvideo[height<=720]+bestaudio/best[height<=720]",
		"--merge-output-format", "mp4",
		"--no-playlist",
		"--output", template,
		url,
	}

	if err := d.run(ctx, args, url); err != nil {
		return "", err
	}

	return d.probe(outName)
}

func (d *Downloader) run(ctx context.Context, args []string, url string) error {
	runCtx, cancel := context.WithTimeout(ctx, d.timeout)
	defer cancel()

	start := time.Now()
	cmd := exec.CommandContext(runCtx, d.binary, args...)

	output, err := cmd.CombinedOutput()
	if err != nil {
		if runCtx.Err() == context.DeadlineExceeded {
			return fmt.Errorf("yt-dlp timed out after %s for %s", d.timeout, url)
		}
		return fmt.Errorf("yt-dlp failed for %s: %w: %s", url, err, truncate(string(output), 500))
	}

	d.logger.Info("Download finished",
		slog.String("url", url),
		slog.Duration("elapsed", time.Since(start)),
	)

	return nil
}

// probe finds the file yt-dlp produced for the given name stem
func (d *Downloader) probe(name string) (string, error) {
	matches, err := filepath.Glob(filepath.Join(d.workDir, name+".*"))
	if err != nil {
		return "", fmt.Errorf("failed to probe download output: %w", err)
	}
	if len(matches) == 0 {
		return "", fmt.Errorf("yt-dlp produced no output for %s", name)
	}
	return matches[0], nil
}

func truncate(s string, n int) string {
	s = strings.TrimSpace(s)
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
