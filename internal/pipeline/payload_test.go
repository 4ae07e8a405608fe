package pipeline

import (
	"encoding/json"
	"fmt"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDecodeTranscription(t *testing.T) {
	tests := []struct {
		name    string
		raw     string
		wantErr bool
		check   func(t *testing.T, p *TranscriptionPayload)
	}{
		{
			name: "valid payload",
			raw:  `{"document_id":"doc-1","media_url":"https://example.com/v","media_format":"audio","lang":"en"}`,
			check: func(t *testing.T, p *TranscriptionPayload) {
				assert.Equal(t, "doc-1", p.DocumentID)
				assert.Equal(t, "audio", p.MediaFormat)
				assert.Equal(t, "en", p.Language)
			},
		},
		{
			name: "media_format defaults to video",
			raw:  `{"document_id":"doc-1","media_url":"https://example.com/v"}`,
			check: func(t *testing.T, p *TranscriptionPayload) {
				assert.Equal(t, "video", p.MediaFormat)
			},
		},
		{name: "not json", raw: `{bad`, wantErr: true},
		{name: "missing document_id", raw: `{"media_url":"https://example.com/v"}`, wantErr: true},
		{name: "missing media_url", raw: `{"document_id":"doc-1"}`, wantErr: true},
		{name: "bad media_format", raw: `{"document_id":"doc-1","media_url":"u","media_format":"text"}`, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p, err := DecodeTranscription(json.RawMessage(tt.raw))
			if tt.wantErr {
				assert.ErrorIs(t, err, ErrMalformedPayload)
				return
			}
			require.NoError(t, err)
			tt.check(t, p)
		})
	}
}

func TestDecodeScreenshot(t *testing.T) {
	tests := []struct {
		name    string
		raw     string
		wantErr bool
		check   func(t *testing.T, p *ScreenshotPayload)
	}{
		{
			name: "valid mixed timestamps",
			raw:  `{"video_url":"https://example.com/v","timestamps":["12.5","00:01:30,500"],"quality":5}`,
			check: func(t *testing.T, p *ScreenshotPayload) {
				require.Len(t, p.Seconds, 2)
				assert.InDelta(t, 12.5, p.Seconds[0], 0.0001)
				assert.InDelta(t, 90.5, p.Seconds[1], 0.0001)
				assert.Equal(t, 5, p.Quality)
			},
		},
		{
			name: "quality defaults",
			raw:  `{"video_url":"u","timestamps":["1"]}`,
			check: func(t *testing.T, p *ScreenshotPayload) {
				assert.Equal(t, DefaultQuality, p.Quality)
			},
		},
		{name: "not json", raw: `[`, wantErr: true},
		{name: "missing video_url", raw: `{"timestamps":["1"]}`, wantErr: true},
		{name: "no timestamps", raw: `{"video_url":"u","timestamps":[]}`, wantErr: true},
		{name: "bad timestamp", raw: `{"video_url":"u","timestamps":["nope"]}`, wantErr: true},
		{name: "quality out of range", raw: `{"video_url":"u","timestamps":["1"],"quality":40}`, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p, err := DecodeScreenshot(json.RawMessage(tt.raw))
			if tt.wantErr {
				assert.ErrorIs(t, err, ErrMalformedPayload)
				return
			}
			require.NoError(t, err)
			tt.check(t, p)
		})
	}
}

func TestDecodeScreenshot_TimestampLimit(t *testing.T) {
	timestamps := make([]string, MaxTimestamps+1)
	for i := range timestamps {
		timestamps[i] = fmt.Sprintf("%d", i)
	}
	raw := fmt.Sprintf(`{"video_url":"u","timestamps":["%s"]}`, strings.Join(timestamps, `","`))

	_, err := DecodeScreenshot(json.RawMessage(raw))
	assert.ErrorIs(t, err, ErrMalformedPayload)
}
