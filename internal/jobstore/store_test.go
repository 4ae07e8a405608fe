package jobstore

import (
	"context"
	"encoding/json"
	"log/slog"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/jmoiron/sqlx"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newMockStore(t *testing.T) (*Store, sqlmock.Sqlmock) {
	t.Helper()

	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	sqlxDB := sqlx.NewDb(db, "postgres")
	return NewStore(sqlxDB, slog.New(slog.DiscardHandler)), mock
}

func TestStore_Claim(t *testing.T) {
	tests := []struct {
		name    string
		setup   func(mock sqlmock.Sqlmock)
		wantErr error
	}{
		{
			name: "claim succeeds when job is unclaimed or stale",
			setup: func(mock sqlmock.Sqlmock) {
				rows := sqlmock.NewRows([]string{"kind", "payload", "attempt_count"}).
					AddRow("transcription", []byte(`{"document_id":"d1"}`), 1)
				mock.ExpectQuery("UPDATE jobs").
					WillReturnRows(rows)
			},
		},
		{
			name: "claim conflict when another active claim holds the job",
			setup: func(mock sqlmock.Sqlmock) {
				mock.ExpectQuery("UPDATE jobs").
					WillReturnRows(sqlmock.NewRows([]string{"kind", "payload", "attempt_count"}))
			},
			wantErr: ErrClaimConflict,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			store, mock := newMockStore(t)
			tt.setup(mock)

			claim, err := store.Claim(context.Background(), "job-1", "worker-1", 60*time.Second)

			if tt.wantErr != nil {
				require.ErrorIs(t, err, tt.wantErr)
				assert.Nil(t, claim)
			} else {
				require.NoError(t, err)
				require.NotNil(t, claim)
				assert.Equal(t, "job-1", claim.JobID)
				assert.Equal(t, "transcription", claim.Kind)
				assert.Equal(t, 1, claim.AttemptCount)
				assert.NotEmpty(t, claim.Token)
			}

			assert.NoError(t, mock.ExpectationsWereMet())
		})
	}
}

func TestStore_ClaimQueryShape(t *testing.T) {
	// The claim must be one conditional write covering both the
	// unclaimed->claimed and stale-takeover transitions.
	store, mock := newMockStore(t)

	mock.ExpectQuery(`UPDATE jobs.+WHERE job_id = \$1.+OR \(status = \$2 AND claimed_at < NOW\(\) - make_interval`).
		WithArgs("job-1", StatusClaimed, "worker-1", sqlmock.AnyArg(), StatusUnclaimed, float64(90)).
		WillReturnRows(sqlmock.NewRows([]string{"kind", "payload", "attempt_count"}).
			AddRow("screenshot", []byte(`{}`), 3))

	claim, err := store.Claim(context.Background(), "job-1", "worker-1", 90*time.Second)
	require.NoError(t, err)
	assert.Equal(t, 3, claim.AttemptCount)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestStore_Finalize(t *testing.T) {
	claim := &Claim{JobID: "job-1", Token: "token-1"}

	tests := []struct {
		name    string
		outcome Outcome
		setup   func(mock sqlmock.Sqlmock)
		wantErr error
	}{
		{
			name:    "completed with result",
			outcome: Outcome{Status: StatusCompleted, Result: json.RawMessage(`{"segments":12}`)},
			setup: func(mock sqlmock.Sqlmock) {
				mock.ExpectExec("UPDATE jobs").
					WithArgs("job-1", "token-1", StatusCompleted, []byte(`{"segments":12}`), "", StatusClaimed).
					WillReturnResult(sqlmock.NewResult(0, 1))
			},
		},
		{
			name:    "refused when claim token no longer current",
			outcome: Outcome{Status: StatusFailed, Error: "boom"},
			setup: func(mock sqlmock.Sqlmock) {
				mock.ExpectExec("UPDATE jobs").
					WillReturnResult(sqlmock.NewResult(0, 0))
			},
			wantErr: ErrFinalizeRefused,
		},
		{
			name:    "non-terminal status rejected before touching the database",
			outcome: Outcome{Status: StatusClaimed},
			setup:   func(mock sqlmock.Sqlmock) {},
			wantErr: ErrNotTerminal,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			store, mock := newMockStore(t)
			tt.setup(mock)

			err := store.Finalize(context.Background(), claim, tt.outcome)

			if tt.wantErr != nil {
				require.ErrorIs(t, err, tt.wantErr)
			} else {
				require.NoError(t, err)
			}

			assert.NoError(t, mock.ExpectationsWereMet())
		})
	}
}

func TestStore_Reset(t *testing.T) {
	tests := []struct {
		name    string
		setup   func(mock sqlmock.Sqlmock)
		wantErr error
	}{
		{
			name: "reset clears claim fields",
			setup: func(mock sqlmock.Sqlmock) {
				mock.ExpectExec("UPDATE jobs").
					WithArgs("job-1", StatusUnclaimed).
					WillReturnResult(sqlmock.NewResult(0, 1))
			},
		},
		{
			name: "unknown job",
			setup: func(mock sqlmock.Sqlmock) {
				mock.ExpectExec("UPDATE jobs").
					WillReturnResult(sqlmock.NewResult(0, 0))
			},
			wantErr: ErrJobNotFound,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			store, mock := newMockStore(t)
			tt.setup(mock)

			err := store.Reset(context.Background(), "job-1")

			if tt.wantErr != nil {
				require.ErrorIs(t, err, tt.wantErr)
			} else {
				require.NoError(t, err)
			}

			assert.NoError(t, mock.ExpectationsWereMet())
		})
	}
}

func TestStore_RecordRetry(t *testing.T) {
	store, mock := newMockStore(t)

	mock.ExpectExec("UPDATE jobs").
		WithArgs("job-1", "token-1", StatusUnclaimed, "connection refused").
		WillReturnResult(sqlmock.NewResult(0, 1))

	claim := &Claim{JobID: "job-1", Token: "token-1"}
	err := store.RecordRetry(context.Background(), claim, "connection refused")
	require.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestStore_FindReclaimable(t *testing.T) {
	store, mock := newMockStore(t)

	rows := sqlmock.NewRows([]string{"job_id"}).
		AddRow("job-old").
		AddRow("job-new")
	mock.ExpectQuery(`SELECT job_id.+ORDER BY COALESCE\(claimed_at, created_at\) ASC.+LIMIT`).
		WithArgs(StatusUnclaimed, StatusClaimed, float64(120), 50).
		WillReturnRows(rows)

	ids, err := store.FindReclaimable(context.Background(), 50, 120*time.Second)
	require.NoError(t, err)
	assert.Equal(t, []string{"job-old", "job-new"}, ids)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestStore_Create(t *testing.T) {
	store, mock := newMockStore(t)

	mock.ExpectExec("INSERT INTO jobs").
		WithArgs("job-1", "transcription", []byte(`{"document_id":"d1"}`), StatusUnclaimed).
		WillReturnResult(sqlmock.NewResult(0, 1))

	err := store.Create(context.Background(), "job-1", "transcription", json.RawMessage(`{"document_id":"d1"}`))
	require.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestStore_GetByID(t *testing.T) {
	store, mock := newMockStore(t)

	now := time.Now()
	rows := sqlmock.NewRows([]string{
		"job_id", "kind", "payload", "status", "attempt_count",
		"claimed_at", "claimed_by", "claim_token", "result", "last_error",
		"created_at", "updated_at", "finalized_at",
	}).AddRow("job-1", "transcription", []byte(`{}`), "completed", 2,
		now, "worker-1", nil, []byte(`{"segments":4}`), nil, now, now, now)
	mock.ExpectQuery("SELECT job_id").WithArgs("job-1").WillReturnRows(rows)

	job, err := store.GetByID(context.Background(), "job-1")
	require.NoError(t, err)
	assert.Equal(t, StatusCompleted, job.Status)
	assert.Equal(t, 2, job.AttemptCount)

	mock.ExpectQuery("SELECT job_id").WithArgs("missing").
		WillReturnRows(sqlmock.NewRows([]string{"job_id"}))

	_, err = store.GetByID(context.Background(), "missing")
	require.ErrorIs(t, err, ErrJobNotFound)
}

func TestStatus_Terminal(t *testing.T) {
	assert.False(t, StatusUnclaimed.Terminal())
	assert.False(t, StatusClaimed.Terminal())
	assert.True(t, StatusCompleted.Terminal())
	assert.True(t, StatusSkipped.Terminal())
	assert.True(t, StatusFailed.Terminal())
	assert.True(t, StatusTimedOut.Terminal())
}
