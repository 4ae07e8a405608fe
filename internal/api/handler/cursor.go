package handler

import (
	"encoding/base64"
	"fmt"
	"strings"
	"time"

	"github.com/mediaflow/jobqueue/internal/jobstore"
)

// DecodeJobCursor parses an opaque pagination cursor. An empty string means
// the first page.
func DecodeJobCursor(cursorStr string) (*jobstore.Cursor, error) {
	if cursorStr == "" {
		return nil, nil
	}

	decoded, err := base64.StdEncoding.DecodeString(cursorStr)
	if err != nil {
		return nil, err
	}

	parts := strings.Split(string(decoded), "|")
	if len(parts) != 2 {
		return nil, fmt.Errorf("invalid cursor format")
	}

	var createdAt int64
	if _, err := fmt.Sscanf(parts[0], "%d", &createdAt); err != nil {
		return nil, fmt.Errorf("invalid createdAt in cursor: %w", err)
	}

	return &jobstore.Cursor{
		CreatedAt: time.Unix(0, createdAt),
		JobID:     parts[1],
	}, nil
}

// EncodeJobCursor renders a cursor as an opaque string
func EncodeJobCursor(cursor *jobstore.Cursor) string {
	cs := fmt.Sprintf("%d|%s", cursor.CreatedAt.UnixNano(), cursor.JobID)
	return base64.StdEncoding.EncodeToString([]byte(cs))
}
