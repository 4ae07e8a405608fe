package pipeline

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mediaflow/jobqueue/internal/jobstore"
)

func discard() *slog.Logger {
	return slog.New(slog.DiscardHandler)
}

func TestRegistry(t *testing.T) {
	tp := NewTranscriptionPipeline(nil, nil, nil, discard())
	r := NewRegistry(tp)

	got, err := r.Lookup(KindTranscription)
	require.NoError(t, err)
	assert.Equal(t, KindTranscription, got.Kind())

	_, err = r.Lookup("unregistered")
	assert.ErrorIs(t, err, ErrUnknownKind)

	assert.Equal(t, []string{KindTranscription}, r.Kinds())
}

func TestRegistry_DuplicateKindPanics(t *testing.T) {
	tp := NewTranscriptionPipeline(nil, nil, nil, discard())
	assert.Panics(t, func() { NewRegistry(tp, tp) })
}

type fakeAudioDownloader struct {
	path string
	err  error
}

func (f *fakeAudioDownloader) DownloadAudio(_ context.Context, _ string) (string, error) {
	return f.path, f.err
}

type fakeTranscriber struct {
	transcript *Transcript
	err        error
}

func (f *fakeTranscriber) Transcribe(_ context.Context, _, _ string) (*Transcript, error) {
	return f.transcript, f.err
}

type fakeSink struct {
	saved map[string]*Transcript
	err   error
}

func (f *fakeSink) SaveTranscript(_ context.Context, documentID string, transcript *Transcript) error {
	if f.err != nil {
		return f.err
	}
	if f.saved == nil {
		f.saved = make(map[string]*Transcript)
	}
	f.saved[documentID] = transcript
	return nil
}

func transcriptionClaim(t *testing.T) *jobstore.Claim {
	t.Helper()
	return &jobstore.Claim{
		JobID:   "job-1",
		Kind:    KindTranscription,
		Payload: json.RawMessage(`{"document_id":"doc-1","media_url":"https://example.com/v","lang":"en"}`),
	}
}

func TestTranscriptionPipeline_Run(t *testing.T) {
	audioPath := filepath.Join(t.TempDir(), "audio.mp3")
	require.NoError(t, os.WriteFile(audioPath, []byte("x"), 0o644))

	transcript := &Transcript{
		Text:     "hello there general",
		Language: "en",
		Segments: []Segment{{Start: 0, End: 2.5, Text: "hello there general"}},
	}
	sink := &fakeSink{}

	p := NewTranscriptionPipeline(
		&fakeAudioDownloader{path: audioPath},
		&fakeTranscriber{transcript: transcript},
		sink,
		discard(),
	)

	outcome, err := p.Run(context.Background(), transcriptionClaim(t))
	require.NoError(t, err)
	assert.Equal(t, jobstore.StatusCompleted, outcome.Status)

	var result map[string]any
	require.NoError(t, json.Unmarshal(outcome.Result, &result))
	assert.Equal(t, "doc-1", result["document_id"])
	assert.EqualValues(t, 1, result["segment_count"])
	assert.EqualValues(t, 3, result["word_count"])
	assert.EqualValues(t, 2.5, result["duration_seconds"])

	assert.Contains(t, sink.saved, "doc-1")
	_, statErr := os.Stat(audioPath)
	assert.True(t, os.IsNotExist(statErr), "downloaded audio should be cleaned up")
}

func TestTranscriptionPipeline_NoSpeechSkips(t *testing.T) {
	p := NewTranscriptionPipeline(
		&fakeAudioDownloader{path: filepath.Join(t.TempDir(), "a.mp3")},
		&fakeTranscriber{transcript: &Transcript{Text: "   "}},
		&fakeSink{},
		discard(),
	)

	outcome, err := p.Run(context.Background(), transcriptionClaim(t))
	require.NoError(t, err)
	assert.Equal(t, jobstore.StatusSkipped, outcome.Status)
	assert.NotEmpty(t, outcome.Error)
}

func TestTranscriptionPipeline_Failures(t *testing.T) {
	boom := errors.New("boom")

	tests := []struct {
		name     string
		pipeline *TranscriptionPipeline
		claim    *jobstore.Claim
		retry    bool
	}{
		{
			name:     "malformed payload is not retryable",
			pipeline: NewTranscriptionPipeline(&fakeAudioDownloader{}, &fakeTranscriber{}, &fakeSink{}, discard()),
			claim:    &jobstore.Claim{JobID: "job-1", Payload: json.RawMessage(`{"media_url":"u"}`)},
			retry:    false,
		},
		{
			name:     "download failure is retryable",
			pipeline: NewTranscriptionPipeline(&fakeAudioDownloader{err: boom}, &fakeTranscriber{}, &fakeSink{}, discard()),
			retry:    true,
		},
		{
			name:     "transcribe failure is retryable",
			pipeline: NewTranscriptionPipeline(&fakeAudioDownloader{path: "a.mp3"}, &fakeTranscriber{err: boom}, &fakeSink{}, discard()),
			retry:    true,
		},
		{
			name:     "sink failure is retryable",
			pipeline: NewTranscriptionPipeline(&fakeAudioDownloader{path: "a.mp3"}, &fakeTranscriber{transcript: &Transcript{Text: "hi"}}, &fakeSink{err: boom}, discard()),
			retry:    true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			claim := tt.claim
			if claim == nil {
				claim = transcriptionClaim(t)
			}
			_, err := tt.pipeline.Run(context.Background(), claim)
			require.Error(t, err)
			assert.Equal(t, tt.retry, IsRetryable(err))
		})
	}
}

type fakeFetcher struct {
	path string
	err  error
}

func (f *fakeFetcher) FetchVideo(_ context.Context, _ string) (string, error) {
	return f.path, f.err
}

// fakeGrabber fails for every offset listed in failAt
type fakeGrabber struct {
	failAt map[float64]bool
}

func (f *fakeGrabber) ExtractFrame(_ context.Context, _ string, atSeconds float64, _ int, outPath string) error {
	if f.failAt[atSeconds] {
		return errors.New("no frame")
	}
	return os.WriteFile(outPath, []byte("jpeg"), 0o644)
}

type fakeObjectStore struct {
	uploads int
	err     error
}

func (f *fakeObjectStore) Upload(_ context.Context, _, key string) (string, error) {
	if f.err != nil {
		return "", f.err
	}
	f.uploads++
	return "https://cdn.example.com/" + key, nil
}

func screenshotClaim(timestamps ...string) *jobstore.Claim {
	raw, _ := json.Marshal(map[string]any{
		"video_url":  "https://example.com/v",
		"timestamps": timestamps,
	})
	return &jobstore.Claim{
		JobID:   "job-2",
		Kind:    KindScreenshot,
		Payload: raw,
	}
}

func TestScreenshotPipeline_PartialFailure(t *testing.T) {
	store := &fakeObjectStore{}
	p := NewScreenshotPipeline(
		&fakeFetcher{path: "video.mp4"},
		&fakeGrabber{failAt: map[float64]bool{30: true}},
		store,
		t.TempDir(),
		discard(),
	)

	outcome, err := p.Run(context.Background(), screenshotClaim("10", "30", "00:01:00,000"))
	require.NoError(t, err)
	assert.Equal(t, jobstore.StatusCompleted, outcome.Status)
	assert.Equal(t, 2, store.uploads)

	var result screenshotResult
	require.NoError(t, json.Unmarshal(outcome.Result, &result))
	assert.Len(t, result.Screenshots, 2)
	assert.Equal(t, []string{"30"}, result.Skipped)
}

func TestScreenshotPipeline_AllTimestampsFail(t *testing.T) {
	p := NewScreenshotPipeline(
		&fakeFetcher{path: "video.mp4"},
		&fakeGrabber{failAt: map[float64]bool{10: true, 20: true}},
		&fakeObjectStore{},
		t.TempDir(),
		discard(),
	)

	_, err := p.Run(context.Background(), screenshotClaim("10", "20"))
	require.Error(t, err)
	assert.True(t, IsRetryable(err))
}

func TestScreenshotPipeline_FetchFailureRetryable(t *testing.T) {
	p := NewScreenshotPipeline(
		&fakeFetcher{err: fmt.Errorf("unreachable")},
		&fakeGrabber{},
		&fakeObjectStore{},
		t.TempDir(),
		discard(),
	)

	_, err := p.Run(context.Background(), screenshotClaim("10"))
	require.Error(t, err)
	assert.True(t, IsRetryable(err))
}
