package handler

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mediaflow/jobqueue/internal/config"
	"github.com/mediaflow/jobqueue/internal/jobstore"
)

func init() {
	gin.SetMode(gin.TestMode)
}

type fakeStore struct {
	created     map[string]string
	jobs        map[string]*jobstore.Job
	listResult  []jobstore.Job
	listFilter  jobstore.Filter
	reclaimable []string
	resetIDs    []string
	stats       map[jobstore.Status]int
	err         error
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		created: make(map[string]string),
		jobs:    make(map[string]*jobstore.Job),
	}
}

func (s *fakeStore) Create(_ context.Context, jobID, kind string, _ json.RawMessage) error {
	if s.err != nil {
		return s.err
	}
	s.created[jobID] = kind
	return nil
}

func (s *fakeStore) GetByID(_ context.Context, jobID string) (*jobstore.Job, error) {
	job, ok := s.jobs[jobID]
	if !ok {
		return nil, jobstore.ErrJobNotFound
	}
	return job, nil
}

func (s *fakeStore) List(_ context.Context, filter jobstore.Filter) ([]jobstore.Job, error) {
	s.listFilter = filter
	return s.listResult, s.err
}

func (s *fakeStore) Reset(_ context.Context, jobID string) error {
	if _, ok := s.jobs[jobID]; !ok {
		return jobstore.ErrJobNotFound
	}
	s.resetIDs = append(s.resetIDs, jobID)
	return nil
}

func (s *fakeStore) FindReclaimable(_ context.Context, _ int, _ time.Duration) ([]string, error) {
	return s.reclaimable, s.err
}

func (s *fakeStore) Stats(_ context.Context) (map[jobstore.Status]int, error) {
	return s.stats, s.err
}

type fakeSender struct {
	sent []string
	err  error
}

func (f *fakeSender) Send(_ context.Context, payload json.RawMessage) error {
	if f.err != nil {
		return f.err
	}
	f.sent = append(f.sent, string(payload))
	return nil
}

func newTestHandler(store *fakeStore, sender *fakeSender) *JobHandler {
	return NewJobHandler(&Dependencies{
		Logger: slog.New(slog.DiscardHandler),
		Store:  store,
		Sender: sender,
		Worker: config.WorkerConfig{StalenessThresholdSeconds: 90},
	})
}

func perform(h gin.HandlerFunc, method, target, body string, params ...gin.Param) *httptest.ResponseRecorder {
	rec := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(rec)
	var reader *strings.Reader
	if body != "" {
		reader = strings.NewReader(body)
	} else {
		reader = strings.NewReader("")
	}
	c.Request = httptest.NewRequest(method, target, reader)
	c.Request.Header.Set("Content-Type", "application/json")
	c.Params = params
	h(c)
	return rec
}

func TestCreateJob(t *testing.T) {
	store := newFakeStore()
	sender := &fakeSender{}
	h := newTestHandler(store, sender)

	body := `{"kind":"transcription","payload":{"document_id":"d1","media_url":"https://example.com/v"}}`
	rec := perform(h.CreateJob, http.MethodPost, "/api/v1/jobs", body)

	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	var resp map[string]string
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	jobID := resp["job_id"]
	assert.NotEmpty(t, jobID)
	assert.Equal(t, "unclaimed", resp["status"])

	assert.Equal(t, "transcription", store.created[jobID])
	require.Len(t, sender.sent, 1)
	assert.JSONEq(t, fmt.Sprintf(`{"job_id":%q}`, jobID), sender.sent[0])
}

func TestCreateJob_Validation(t *testing.T) {
	tests := []struct {
		name string
		body string
		code int
	}{
		{name: "missing kind", body: `{"payload":{}}`, code: http.StatusBadRequest},
		{name: "unknown kind", body: `{"kind":"mystery","payload":{}}`, code: http.StatusUnprocessableEntity},
		{name: "invalid payload for kind", body: `{"kind":"transcription","payload":{"media_url":"u"}}`, code: http.StatusUnprocessableEntity},
		{name: "bad screenshot timestamps", body: `{"kind":"screenshot","payload":{"video_url":"u","timestamps":["zzz"]}}`, code: http.StatusUnprocessableEntity},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			store := newFakeStore()
			sender := &fakeSender{}
			h := newTestHandler(store, sender)

			rec := perform(h.CreateJob, http.MethodPost, "/api/v1/jobs", tt.body)
			assert.Equal(t, tt.code, rec.Code, rec.Body.String())
			assert.Empty(t, store.created)
			assert.Empty(t, sender.sent)
		})
	}
}

func TestGetJob(t *testing.T) {
	store := newFakeStore()
	jobID := "7f4df09e-7f54-4b51-9a4a-000000000001"
	store.jobs[jobID] = &jobstore.Job{
		JobID:     jobID,
		Kind:      "transcription",
		Status:    jobstore.StatusCompleted,
		Result:    json.RawMessage(`{"word_count":12}`),
		CreatedAt: time.Now(),
		UpdatedAt: time.Now(),
	}
	h := newTestHandler(store, &fakeSender{})

	rec := perform(h.GetJob, http.MethodGet, "/api/v1/jobs/"+jobID, "",
		gin.Param{Key: "job_id", Value: jobID})

	require.Equal(t, http.StatusOK, rec.Code)
	var resp map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, jobID, resp["job_id"])
	assert.Equal(t, "completed", resp["status"])
}

func TestGetJob_Errors(t *testing.T) {
	h := newTestHandler(newFakeStore(), &fakeSender{})

	rec := perform(h.GetJob, http.MethodGet, "/api/v1/jobs/nope", "",
		gin.Param{Key: "job_id", Value: "nope"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	missing := "7f4df09e-7f54-4b51-9a4a-000000000009"
	rec = perform(h.GetJob, http.MethodGet, "/api/v1/jobs/"+missing, "",
		gin.Param{Key: "job_id", Value: missing})
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestListJobs_Pagination(t *testing.T) {
	store := newFakeStore()
	now := time.Now()
	// Store returns one row beyond the page size when another page exists
	store.listResult = []jobstore.Job{
		{JobID: "job-a", CreatedAt: now, UpdatedAt: now},
		{JobID: "job-b", CreatedAt: now.Add(-time.Minute), UpdatedAt: now},
		{JobID: "job-c", CreatedAt: now.Add(-2 * time.Minute), UpdatedAt: now},
	}
	h := newTestHandler(store, &fakeSender{})

	rec := perform(h.ListJobs, http.MethodGet, "/api/v1/jobs?page_size=2&status=completed", "")
	require.Equal(t, http.StatusOK, rec.Code)

	var resp struct {
		Jobs       []map[string]any `json:"jobs"`
		NextCursor string           `json:"next_cursor"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Len(t, resp.Jobs, 2)
	assert.NotEmpty(t, resp.NextCursor)
	assert.Equal(t, "completed", store.listFilter.Status)
	assert.Equal(t, 2, store.listFilter.PageSize)

	// The cursor round-trips to the last returned row
	cursor, err := DecodeJobCursor(resp.NextCursor)
	require.NoError(t, err)
	assert.Equal(t, "job-b", cursor.JobID)
}

func TestListJobs_BadInputs(t *testing.T) {
	h := newTestHandler(newFakeStore(), &fakeSender{})

	rec := perform(h.ListJobs, http.MethodGet, "/api/v1/jobs?page_size=zero", "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = perform(h.ListJobs, http.MethodGet, "/api/v1/jobs?cursor=%21%21", "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestResetJob(t *testing.T) {
	store := newFakeStore()
	jobID := "7f4df09e-7f54-4b51-9a4a-000000000002"
	store.jobs[jobID] = &jobstore.Job{JobID: jobID, Status: jobstore.StatusFailed}
	sender := &fakeSender{}
	h := newTestHandler(store, sender)

	rec := perform(h.ResetJob, http.MethodPost, "/api/v1/jobs/"+jobID+"/reset", "",
		gin.Param{Key: "job_id", Value: jobID})

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, []string{jobID}, store.resetIDs)
	require.Len(t, sender.sent, 1, "reset should re-enqueue the job")
	assert.Contains(t, sender.sent[0], jobID)
}

func TestListReclaimable(t *testing.T) {
	store := newFakeStore()
	store.reclaimable = []string{"job-1", "job-2"}
	h := newTestHandler(store, &fakeSender{})

	rec := perform(h.ListReclaimable, http.MethodGet, "/api/v1/jobs/reclaimable", "")
	require.Equal(t, http.StatusOK, rec.Code)

	var resp struct {
		JobIDs []string `json:"job_ids"`
		Count  int      `json:"count"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, 2, resp.Count)
	assert.Equal(t, []string{"job-1", "job-2"}, resp.JobIDs)
}

func TestWorkerStatus(t *testing.T) {
	store := newFakeStore()
	store.stats = map[jobstore.Status]int{
		jobstore.StatusUnclaimed: 3,
		jobstore.StatusCompleted: 10,
	}
	store.reclaimable = []string{"job-1"}
	h := newTestHandler(store, &fakeSender{})

	rec := perform(h.WorkerStatus, http.MethodGet, "/api/v1/worker/status", "")
	require.Equal(t, http.StatusOK, rec.Code)

	var resp struct {
		StatusCounts map[string]int `json:"status_counts"`
		Reclaimable  int            `json:"reclaimable"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, 3, resp.StatusCounts["unclaimed"])
	assert.Equal(t, 10, resp.StatusCounts["completed"])
	assert.Equal(t, 1, resp.Reclaimable)
}

func TestCursorRoundTrip(t *testing.T) {
	orig := &jobstore.Cursor{
		CreatedAt: time.Unix(0, 1700000000000000000),
		JobID:     "job-42",
	}

	decoded, err := DecodeJobCursor(EncodeJobCursor(orig))
	require.NoError(t, err)
	assert.Equal(t, orig.JobID, decoded.JobID)
	assert.True(t, orig.CreatedAt.Equal(decoded.CreatedAt))

	empty, err := DecodeJobCursor("")
	require.NoError(t, err)
	assert.Nil(t, empty)
}
