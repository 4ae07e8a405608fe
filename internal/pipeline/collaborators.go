package pipeline

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"
)

// HTTPTranscriber calls an external speech-to-text service. The service
// accepts a multipart audio upload and answers with the transcript JSON.
type HTTPTranscriber struct {
	baseURL string
	client  *http.Client
	logger  *slog.Logger
}

// NewHTTPTranscriber creates a transcriber client for baseURL
func NewHTTPTranscriber(baseURL string, timeout time.Duration, logger *slog.Logger) *HTTPTranscriber {
	if timeout <= 0 {
		timeout = 5 * time.Minute
	}

	return &HTTPTranscriber{
		baseURL: strings.TrimRight(baseURL, "/"),
		client:  &http.Client{Timeout: timeout},
		logger:  logger,
	}
}

// transcribeResponse mirrors the transcription service's wire format
type transcribeResponse struct {
	Text     string `json:"text"`
	Language string `json:"language"`
	Segments []struct {
		Start float64 `json:"start"`
		End   float64 `json:"end"`
		Text  string  `json:"text"`
	} `json:"segments"`
}

func (t *HTTPTranscriber) Transcribe(ctx context.Context, audioPath, language string) (*Transcript, error) {
	file, err := os.Open(audioPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open audio file: %w", err)
	}
	defer file.Close()

	var body bytes.Buffer
	writer := multipart.NewWriter(&body)
	part, err := writer.CreateFormFile("file", filepath.Base(audioPath))
	if err != nil {
		return nil, fmt.Errorf("failed to build upload: %w", err)
	}
	if _, err := io.Copy(part, file); err != nil {
		return nil, fmt.Errorf("failed to read audio file: %w", err)
	}
	if language != "" {
		if err := writer.WriteField("language", language); err != nil {
			return nil, fmt.Errorf("failed to build upload: %w", err)
		}
	}
	if err := writer.Close(); err != nil {
		return nil, fmt.Errorf("failed to build upload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, t.baseURL+"/v1/transcribe", &body)
	if err != nil {
		return nil, fmt.Errorf("failed to build request: %w", err)
	}
	req.Header.Set("Content-Type", writer.FormDataContentType())

	resp, err := t.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("transcription request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 500))
		return nil, fmt.Errorf("transcription service returned %d: %s", resp.StatusCode, snippet)
	}

	var decoded transcribeResponse
	if err := json.NewDecoder(resp.Body).Decode(&decoded); err != nil {
		return nil, fmt.Errorf("failed to decode transcript: %w", err)
	}

	transcript := &Transcript{
		Text:     decoded.Text,
		Language: decoded.Language,
		Segments: make([]Segment, 0, len(decoded.Segments)),
	}
	for _, s := range decoded.Segments {
		transcript.Segments = append(transcript.Segments, Segment{
			Start: s.Start,
			End:   s.End,
			Text:  s.Text,
		})
	}

	return transcript, nil
}

// HTTPTranscriptSink stores transcripts on the documents service
type HTTPTranscriptSink struct {
	baseURL string
	client  *http.Client
	logger  *slog.Logger
}

// NewHTTPTranscriptSink creates a sink posting to the documents service
func NewHTTPTranscriptSink(baseURL string, timeout time.Duration, logger *slog.Logger) *HTTPTranscriptSink {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}

	return &HTTPTranscriptSink{
		baseURL: strings.TrimRight(baseURL, "/"),
		client:  &http.Client{Timeout: timeout},
		logger:  logger,
	}
}

func (s *HTTPTranscriptSink) SaveTranscript(ctx context.Context, documentID string, transcript *Transcript) error {
	payload := map[string]any{
		"text":     transcript.Text,
		"language": transcript.Language,
		"segments": transcript.Segments,
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("failed to encode transcript: %w", err)
	}

	url := fmt.Sprintf("%s/v1/documents/%s/transcript", s.baseURL, documentID)
	req, err := http.NewRequestWithContext(ctx, http.MethodPut, url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("failed to build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.client.Do(req)
	if err != nil {
		return fmt.Errorf("transcript save failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 500))
		return fmt.Errorf("documents service returned %d: %s", resp.StatusCode, snippet)
	}

	s.logger.Debug("Transcript saved",
		slog.String("document_id", documentID),
	)

	return nil
}

// DirObjectStore keeps uploads on the local filesystem under a base
// directory and addresses them with a public base URL. Useful when a shared
// volume or reverse proxy fronts the directory.
type DirObjectStore struct {
	dir     string
	baseURL string
}

// NewDirObjectStore creates the base directory if it does not exist
func NewDirObjectStore(dir, baseURL string) (*DirObjectStore, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create object store directory %s: %w", dir, err)
	}

	return &DirObjectStore{
		dir:     dir,
		baseURL: strings.TrimRight(baseURL, "/"),
	}, nil
}

func (d *DirObjectStore) Upload(_ context.Context, localPath, key string) (string, error) {
	dest := filepath.Join(d.dir, filepath.FromSlash(key))
	if err := os.MkdirAll(filepath.Dir(dest), 0o755); err != nil {
		return "", fmt.Errorf("failed to create object directory: %w", err)
	}

	src, err := os.Open(localPath)
	if err != nil {
		return "", fmt.Errorf("failed to open upload source: %w", err)
	}
	defer src.Close()

	out, err := os.Create(dest)
	if err != nil {
		return "", fmt.Errorf("failed to create object: %w", err)
	}
	defer out.Close()

	if _, err := io.Copy(out, src); err != nil {
		return "", fmt.Errorf("failed to write object: %w", err)
	}

	return d.baseURL + "/" + key, nil
}
