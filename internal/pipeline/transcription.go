package pipeline

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"strings"

	"github.com/mediaflow/jobqueue/internal/jobstore"
)

// Transcript is the output of a transcription run
type Transcript struct {
	Text     string
	Language string
	Segments []Segment
}

// Segment is one timed slice of a transcript
type Segment struct {
	Start float64
	End   float64
	Text  string
}

// AudioDownloader fetches the audio track of a media URL to a local file
type AudioDownloader interface {
	DownloadAudio(ctx context.Context, url string) (string, error)
}

// Transcriber turns a local audio file into a transcript
type Transcriber interface {
	Transcribe(ctx context.Context, audioPath, language string) (*Transcript, error)
}

// TranscriptSink persists a finished transcript against a document
type TranscriptSink interface {
	SaveTranscript(ctx context.Context, documentID string, transcript *Transcript) error
}

// TranscriptionPipeline downloads a media URL, transcribes its audio, and
// stores the transcript.
type TranscriptionPipeline struct {
	downloader  AudioDownloader
	transcriber Transcriber
	sink        TranscriptSink
	logger      *slog.Logger
}

// NewTranscriptionPipeline wires the transcription collaborators
func NewTranscriptionPipeline(downloader AudioDownloader, transcriber Transcriber, sink TranscriptSink, logger *slog.Logger) *TranscriptionPipeline {
	return &TranscriptionPipeline{
		downloader:  downloader,
		transcriber: transcriber,
		sink:        sink,
		logger:      logger,
	}
}

func (p *TranscriptionPipeline) Kind() string {
	return KindTranscription
}

// transcriptionResult is the job result document
type transcriptionResult struct {
	DocumentID   string  `json:"document_id"`
	Language     string  `json:"language"`
	SegmentCount int     `json:"segment_count"`
	WordCount    int     `json:"word_count"`
	DurationSecs float64 `json:"duration_seconds"`
}

func (p *TranscriptionPipeline) Run(ctx context.Context, claim *jobstore.Claim) (jobstore.Outcome, error) {
	payload, err := DecodeTranscription(claim.Payload)
	if err != nil {
		return jobstore.Outcome{}, err
	}

	p.logger.Info("Transcription started",
		slog.String("job_id", claim.JobID),
		slog.String("document_id", payload.DocumentID),
		slog.String("media_format", payload.MediaFormat),
	)

	audioPath, err := p.downloader.DownloadAudio(ctx, payload.MediaURL)
	if err != nil {
		return jobstore.Outcome{}, NewRetryableError(fmt.Errorf("failed to download audio: %w", err))
	}
	defer os.Remove(audioPath)

	transcript, err := p.transcriber.Transcribe(ctx, audioPath, payload.Language)
	if err != nil {
		return jobstore.Outcome{}, NewRetryableError(fmt.Errorf("failed to transcribe: %w", err))
	}

	// No speech in the media is a valid end state, not a failure
	if strings.TrimSpace(transcript.Text) == "" {
		p.logger.Info("Transcription produced no speech",
			slog.String("job_id", claim.JobID),
			slog.String("document_id", payload.DocumentID),
		)
		return jobstore.Outcome{
			Status: jobstore.StatusSkipped,
			Error:  "no speech detected in media",
		}, nil
	}

	if err := p.sink.SaveTranscript(ctx, payload.DocumentID, transcript); err != nil {
		return jobstore.Outcome{}, NewRetryableError(fmt.Errorf("failed to save transcript: %w", err))
	}

	result := transcriptionResult{
		DocumentID:   payload.DocumentID,
		Language:     transcript.Language,
		SegmentCount: len(transcript.Segments),
		WordCount:    len(strings.Fields(transcript.Text)),
	}
	if n := len(transcript.Segments); n > 0 {
		result.DurationSecs = transcript.Segments[n-1].End
	}

	raw, err := json.Marshal(result)
	if err != nil {
		return jobstore.Outcome{}, fmt.Errorf("failed to encode result: %w", err)
	}

	p.logger.Info("Transcription completed",
		slog.String("job_id", claim.JobID),
		slog.String("document_id", payload.DocumentID),
		slog.Int("segments", result.SegmentCount),
		slog.Int("words", result.WordCount),
	)

	return jobstore.Outcome{
		Status: jobstore.StatusCompleted,
		Result: raw,
	}, nil
}
