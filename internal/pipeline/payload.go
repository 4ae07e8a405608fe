package pipeline

import (
	"encoding/json"
	"fmt"

	"github.com/mediaflow/jobqueue/internal/media"
)

// Job kinds with a registered pipeline
const (
	KindTranscription = "transcription"
	KindScreenshot    = "screenshot"
)

// MaxTimestamps bounds a single screenshot job
const MaxTimestamps = 100

// DefaultQuality is ffmpeg's -q:v value used when the payload omits quality
const DefaultQuality = 2

// TranscriptionPayload asks for a media URL to be transcribed and the
// transcript attached to a document.
type TranscriptionPayload struct {
	DocumentID  string `json:"document_id"`
	MediaURL    string `json:"media_url"`
	MediaFormat string `json:"media_format"`
	Language    string `json:"lang"`
}

// DecodeTranscription parses and validates a transcription payload. All
// failures wrap ErrMalformedPayload.
func DecodeTranscription(raw json.RawMessage) (*TranscriptionPayload, error) {
	var p TranscriptionPayload
	if err := json.Unmarshal(raw, &p); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedPayload, err)
	}

	if p.DocumentID == "" {
		return nil, fmt.Errorf("%w: document_id is required", ErrMalformedPayload)
	}
	if p.MediaURL == "" {
		return nil, fmt.Errorf("%w: media_url is required", ErrMalformedPayload)
	}
	if p.MediaFormat == "" {
		p.MediaFormat = "video"
	}
	if p.MediaFormat != "video" && p.MediaFormat != "audio" {
		return nil, fmt.Errorf("%w: media_format must be video or audio, got %q", ErrMalformedPayload, p.MediaFormat)
	}

	return &p, nil
}

// ScreenshotPayload asks for frames to be captured from a video at the given
// timestamps. Timestamps accept SRT form or plain seconds.
type ScreenshotPayload struct {
	VideoURL   string   `json:"video_url"`
	Timestamps []string `json:"timestamps"`
	Quality    int      `json:"quality"`
	DocumentID string   `json:"document_id"`

	// Seconds holds the parsed timestamps, index-aligned with Timestamps
	Seconds []float64 `json:"-"`
}

// DecodeScreenshot parses and validates a screenshot payload. All failures
// wrap ErrMalformedPayload.
func DecodeScreenshot(raw json.RawMessage) (*ScreenshotPayload, error) {
	var p ScreenshotPayload
	if err := json.Unmarshal(raw, &p); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedPayload, err)
	}

	if p.VideoURL == "" {
		return nil, fmt.Errorf("%w: video_url is required", ErrMalformedPayload)
	}
	if len(p.Timestamps) == 0 {
		return nil, fmt.Errorf("%w: at least one timestamp is required", ErrMalformedPayload)
	}
	if len(p.Timestamps) > MaxTimestamps {
		return nil, fmt.Errorf("%w: %d timestamps exceeds the limit of %d", ErrMalformedPayload, len(p.Timestamps), MaxTimestamps)
	}

	if p.Quality == 0 {
		p.Quality = DefaultQuality
	}
	if p.Quality < 1 || p.Quality > 31 {
		return nil, fmt.Errorf("%w: quality must be between 1 and 31, got %d", ErrMalformedPayload, p.Quality)
	}

	p.Seconds = make([]float64, len(p.Timestamps))
	for i, ts := range p.Timestamps {
		seconds, err := media.ParseTimestamp(ts)
		if err != nil {
			return nil, fmt.Errorf("%w: timestamp %d: %v", ErrMalformedPayload, i, err)
		}
		p.Seconds[i] = seconds
	}

	return &p, nil
}
