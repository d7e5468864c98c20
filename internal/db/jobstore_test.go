package db

import (
	"context"
	"database/sql"
	"errors"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/opsforge-io/harrier/internal/jobs"
)

func newMockStore(t *testing.T) (*JobStore, sqlmock.Sqlmock) {
	t.Helper()

	sqlDB, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { sqlDB.Close() })

	return NewJobStore(sqlDB), mock
}

func jobRows(job *jobs.Job) *sqlmock.Rows {
	rows := sqlmock.NewRows([]string{
		"id", "payload", "priority", "status", "worker_id", "progress_percentage",
		"retry_count", "max_retries", "error_message", "source_id", "user_id",
		"created_at", "started_at", "completed_at", "last_heartbeat",
	})

	rows.AddRow(
		job.ID, []byte(job.Payload), job.Priority, string(job.Status),
		nullString(job.WorkerID), job.Progress, job.RetryCount, job.MaxRetries,
		nullString(job.ErrorMessage), nullString(job.SourceID), nullString(job.UserID),
		job.CreatedAt, nullTime(job.StartedAt), nullTime(job.CompletedAt), nullTime(job.LastHeartbeat),
	)

	return rows
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

func nullTime(t time.Time) sql.NullTime {
	return sql.NullTime{Time: t, Valid: !t.IsZero()}
}

// TestJobStoreExecute tests the Execute transaction method
func TestJobStoreExecute(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name      string
		setupMock func(sqlmock.Sqlmock)
		fn        func(*sql.Tx) error
		wantErr   bool
		errMsg    string
	}{
		{
			name: "successful transaction",
			setupMock: func(mock sqlmock.Sqlmock) {
				mock.ExpectBegin()
				mock.ExpectCommit()
			},
			fn:      func(tx *sql.Tx) error { return nil },
			wantErr: false,
		},
		{
			name: "begin transaction fails",
			setupMock: func(mock sqlmock.Sqlmock) {
				mock.ExpectBegin().WillReturnError(errors.New("connection lost"))
			},
			fn:      func(tx *sql.Tx) error { return nil },
			wantErr: true,
			errMsg:  "failed to begin transaction",
		},
		{
			name: "function returns error",
			setupMock: func(mock sqlmock.Sqlmock) {
				mock.ExpectBegin()
				mock.ExpectRollback()
			},
			fn:      func(tx *sql.Tx) error { return errors.New("operation failed") },
			wantErr: true,
			errMsg:  "operation failed",
		},
		{
			name: "commit fails",
			setupMock: func(mock sqlmock.Sqlmock) {
				mock.ExpectBegin()
				mock.ExpectCommit().WillReturnError(errors.New("commit failed"))
				mock.ExpectRollback()
			},
			fn:      func(tx *sql.Tx) error { return nil },
			wantErr: true,
			errMsg:  "failed to commit transaction",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			store, mock := newMockStore(t)
			tt.setupMock(mock)

			err := store.Execute(context.Background(), tt.fn)

			if tt.wantErr {
				assert.Error(t, err)
				if tt.errMsg != "" {
					assert.Contains(t, err.Error(), tt.errMsg)
				}
			} else {
				assert.NoError(t, err)
			}

			assert.NoError(t, mock.ExpectationsWereMet())
		})
	}
}

// TestJobStoreEnqueue tests job insertion and the supervisor wake-up
func TestJobStoreEnqueue(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name      string
		opts      *jobs.EnqueueOptions
		setupMock func(sqlmock.Sqlmock)
		wantErr   bool
		errMsg    string
		check     func(*testing.T, *jobs.Job)
	}{
		{
			name: "inserts pending job and notifies",
			opts: &jobs.EnqueueOptions{
				Payload:  []byte(`{"url":"https://example.com"}`),
				Priority: 2,
			},
			setupMock: func(mock sqlmock.Sqlmock) {
				mock.ExpectBegin()
				mock.ExpectExec("INSERT INTO crawl_jobs").
					WillReturnResult(sqlmock.NewResult(0, 1))
				mock.ExpectExec("SELECT pg_notify").
					WillReturnResult(sqlmock.NewResult(0, 1))
				mock.ExpectCommit()
			},
			check: func(t *testing.T, job *jobs.Job) {
				assert.NotEmpty(t, job.ID)
				assert.Equal(t, jobs.JobStatusPending, job.Status)
				assert.Equal(t, 2, job.Priority)
				assert.Equal(t, jobs.DefaultMaxRetries, job.MaxRetries)
			},
		},
		{
			name: "explicit retry budget kept",
			opts: &jobs.EnqueueOptions{
				Payload:    []byte(`{"url":"https://example.com"}`),
				MaxRetries: 7,
			},
			setupMock: func(mock sqlmock.Sqlmock) {
				mock.ExpectBegin()
				mock.ExpectExec("INSERT INTO crawl_jobs").
					WillReturnResult(sqlmock.NewResult(0, 1))
				mock.ExpectExec("SELECT pg_notify").
					WillReturnResult(sqlmock.NewResult(0, 1))
				mock.ExpectCommit()
			},
			check: func(t *testing.T, job *jobs.Job) {
				assert.Equal(t, 7, job.MaxRetries)
			},
		},
		{
			name:      "empty payload rejected",
			opts:      &jobs.EnqueueOptions{},
			setupMock: func(mock sqlmock.Sqlmock) {},
			wantErr:   true,
			errMsg:    "payload is required",
		},
		{
			name:      "nil options rejected",
			opts:      nil,
			setupMock: func(mock sqlmock.Sqlmock) {},
			wantErr:   true,
			errMsg:    "payload is required",
		},
		{
			name: "insert failure rolls back",
			opts: &jobs.EnqueueOptions{Payload: []byte(`{}`)},
			setupMock: func(mock sqlmock.Sqlmock) {
				mock.ExpectBegin()
				mock.ExpectExec("INSERT INTO crawl_jobs").
					WillReturnError(errors.New("disk full"))
				mock.ExpectRollback()
			},
			wantErr: true,
			errMsg:  "failed to insert job",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			store, mock := newMockStore(t)
			tt.setupMock(mock)

			job, err := store.Enqueue(context.Background(), tt.opts)

			if tt.wantErr {
				assert.Error(t, err)
				assert.Contains(t, err.Error(), tt.errMsg)
				assert.Nil(t, job)
			} else {
				require.NoError(t, err)
				require.NotNil(t, job)
				if tt.check != nil {
					tt.check(t, job)
				}
			}

			assert.NoError(t, mock.ExpectationsWereMet())
		})
	}
}

// TestJobStoreClaimNext tests the atomic claim transaction
func TestJobStoreClaimNext(t *testing.T) {
	t.Parallel()

	fixedTime := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

	pending := &jobs.Job{
		ID:         "job-1",
		Payload:    []byte(`{"url":"https://example.com"}`),
		Priority:   5,
		Status:     jobs.JobStatusPending,
		MaxRetries: 3,
		CreatedAt:  fixedTime,
	}

	tests := []struct {
		name      string
		setupMock func(sqlmock.Sqlmock)
		wantJob   bool
		wantErr   error
	}{
		{
			name: "claims pending job",
			setupMock: func(mock sqlmock.Sqlmock) {
				mock.ExpectBegin()
				mock.ExpectQuery("FOR UPDATE SKIP LOCKED").
					WillReturnRows(jobRows(pending))
				mock.ExpectExec("UPDATE crawl_jobs").
					WithArgs("worker-a", sqlmock.AnyArg(), "job-1").
					WillReturnResult(sqlmock.NewResult(0, 1))
				mock.ExpectCommit()
			},
			wantJob: true,
		},
		{
			name: "empty queue returns ErrNoJobs",
			setupMock: func(mock sqlmock.Sqlmock) {
				mock.ExpectBegin()
				mock.ExpectQuery("FOR UPDATE SKIP LOCKED").
					WillReturnError(sql.ErrNoRows)
				mock.ExpectRollback()
			},
			wantErr: jobs.ErrNoJobs,
		},
		{
			name: "query failure surfaces",
			setupMock: func(mock sqlmock.Sqlmock) {
				mock.ExpectBegin()
				mock.ExpectQuery("FOR UPDATE SKIP LOCKED").
					WillReturnError(errors.New("connection reset"))
				mock.ExpectRollback()
			},
			wantErr: errors.New("connection reset"),
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			store, mock := newMockStore(t)
			tt.setupMock(mock)

			job, err := store.ClaimNext(context.Background(), "worker-a")

			if tt.wantJob {
				require.NoError(t, err)
				require.NotNil(t, job)
				assert.Equal(t, jobs.JobStatusProcessing, job.Status)
				assert.Equal(t, "worker-a", job.WorkerID)
				assert.False(t, job.StartedAt.IsZero())
				assert.False(t, job.LastHeartbeat.IsZero())
			} else {
				require.Error(t, err)
				assert.Nil(t, job)
				if errors.Is(tt.wantErr, jobs.ErrNoJobs) {
					assert.ErrorIs(t, err, jobs.ErrNoJobs)
				}
			}

			assert.NoError(t, mock.ExpectationsWereMet())
		})
	}
}

// TestJobStoreHeartbeat tests the ownership-guarded liveness write
func TestJobStoreHeartbeat(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name      string
		setupMock func(sqlmock.Sqlmock)
		wantOwned bool
		wantErr   bool
	}{
		{
			name: "owner refreshes heartbeat",
			setupMock: func(mock sqlmock.Sqlmock) {
				mock.ExpectExec("UPDATE crawl_jobs").
					WithArgs("job-1", "worker-a").
					WillReturnResult(sqlmock.NewResult(0, 1))
			},
			wantOwned: true,
		},
		{
			name: "ownership lost returns false without error",
			setupMock: func(mock sqlmock.Sqlmock) {
				mock.ExpectExec("UPDATE crawl_jobs").
					WithArgs("job-1", "worker-a").
					WillReturnResult(sqlmock.NewResult(0, 0))
			},
			wantOwned: false,
		},
		{
			name: "database error surfaces",
			setupMock: func(mock sqlmock.Sqlmock) {
				mock.ExpectExec("UPDATE crawl_jobs").
					WithArgs("job-1", "worker-a").
					WillReturnError(errors.New("connection lost"))
			},
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			store, mock := newMockStore(t)
			tt.setupMock(mock)

			owned, err := store.Heartbeat(context.Background(), "job-1", "worker-a")

			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
				assert.Equal(t, tt.wantOwned, owned)
			}

			assert.NoError(t, mock.ExpectationsWereMet())
		})
	}
}

// TestJobStoreFailFromProcessing tests the guarded crash-failure write. The
// guard is the whole point: a terminal status the runner wrote first must win.
func TestJobStoreFailFromProcessing(t *testing.T) {
	t.Parallel()

	t.Run("processing job is failed", func(t *testing.T) {
		store, mock := newMockStore(t)
		mock.ExpectExec("UPDATE crawl_jobs").
			WithArgs("job-1", jobs.MsgHardTimeout).
			WillReturnResult(sqlmock.NewResult(0, 1))

		failed, err := store.FailFromProcessing(context.Background(), "job-1", jobs.MsgHardTimeout)
		require.NoError(t, err)
		assert.True(t, failed)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("already terminal job is untouched", func(t *testing.T) {
		store, mock := newMockStore(t)
		mock.ExpectExec("UPDATE crawl_jobs").
			WithArgs("job-1", "Process failed with code 1: boom").
			WillReturnResult(sqlmock.NewResult(0, 0))

		failed, err := store.FailFromProcessing(context.Background(), "job-1", "Process failed with code 1: boom")
		require.NoError(t, err)
		assert.False(t, failed)
		assert.NoError(t, mock.ExpectationsWereMet())
	})
}

// TestJobStoreSetJobStatus tests the per-status bookkeeping
func TestJobStoreSetJobStatus(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name      string
		status    jobs.JobStatus
		message   string
		setupMock func(sqlmock.Sqlmock)
	}{
		{
			name:   "completed stamps completion and releases worker",
			status: jobs.JobStatusCompleted,
			setupMock: func(mock sqlmock.Sqlmock) {
				mock.ExpectExec("progress_percentage = 100").
					WithArgs("completed", "job-1").
					WillReturnResult(sqlmock.NewResult(0, 1))
			},
		},
		{
			name:    "failed records the error message",
			status:  jobs.JobStatusFailed,
			message: "something broke",
			setupMock: func(mock sqlmock.Sqlmock) {
				mock.ExpectExec("error_message = COALESCE").
					WithArgs("failed", "something broke", "job-1").
					WillReturnResult(sqlmock.NewResult(0, 1))
			},
		},
		{
			name:    "cancelled records the error message",
			status:  jobs.JobStatusCancelled,
			message: jobs.MsgCancelledByUser,
			setupMock: func(mock sqlmock.Sqlmock) {
				mock.ExpectExec("error_message = COALESCE").
					WithArgs("cancelled", jobs.MsgCancelledByUser, "job-1").
					WillReturnResult(sqlmock.NewResult(0, 1))
			},
		},
		{
			name:   "paused releases the worker without completion",
			status: jobs.JobStatusPaused,
			setupMock: func(mock sqlmock.Sqlmock) {
				mock.ExpectExec("worker_id = NULL").
					WithArgs("paused", "job-1").
					WillReturnResult(sqlmock.NewResult(0, 1))
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			store, mock := newMockStore(t)
			tt.setupMock(mock)

			err := store.SetJobStatus(context.Background(), "job-1", tt.status, tt.message)
			assert.NoError(t, err)
			assert.NoError(t, mock.ExpectationsWereMet())
		})
	}
}

// TestJobStoreSaveCheckpoint verifies total_pending is derived from the
// frontier, never trusted from the caller.
func TestJobStoreSaveCheckpoint(t *testing.T) {
	t.Parallel()

	t.Run("total_pending derived from frontier length", func(t *testing.T) {
		store, mock := newMockStore(t)

		state := &jobs.CrawlState{
			JobID: "job-1",
			Frontier: []jobs.FrontierEntry{
				{URL: "https://example.com/a", Depth: 1},
				{URL: "https://example.com/b", Depth: 1},
				{URL: "https://example.com/c", Depth: 2},
			},
			VisitedURLs:    []string{"https://example.com"},
			TotalProcessed: 1,
			TotalPending:   999, // deliberately wrong
			CurrentDepth:   2,
		}

		mock.ExpectExec("INSERT INTO crawl_states").
			WithArgs("job-1", sqlmock.AnyArg(), sqlmock.AnyArg(), 1, 3, 2).
			WillReturnResult(sqlmock.NewResult(0, 1))

		err := store.SaveCheckpoint(context.Background(), state)
		assert.NoError(t, err)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("nil slices become empty JSON arrays", func(t *testing.T) {
		store, mock := newMockStore(t)

		mock.ExpectExec("INSERT INTO crawl_states").
			WithArgs("job-1", "[]", "[]", 0, 0, 0).
			WillReturnResult(sqlmock.NewResult(0, 1))

		err := store.SaveCheckpoint(context.Background(), &jobs.CrawlState{JobID: "job-1"})
		assert.NoError(t, err)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("missing job id rejected", func(t *testing.T) {
		store, _ := newMockStore(t)

		err := store.SaveCheckpoint(context.Background(), &jobs.CrawlState{})
		assert.Error(t, err)
		assert.Contains(t, err.Error(), "requires a job id")
	})
}

// TestJobStoreLoadState tests checkpoint reads
func TestJobStoreLoadState(t *testing.T) {
	t.Parallel()

	t.Run("decodes stored state", func(t *testing.T) {
		store, mock := newMockStore(t)

		rows := sqlmock.NewRows([]string{
			"job_id", "frontier", "visited_urls", "total_processed", "total_pending", "current_depth", "updated_at",
		}).AddRow(
			"job-1",
			[]byte(`[{"url":"https://example.com/a","depth":1}]`),
			[]byte(`["https://example.com"]`),
			1, 1, 1, time.Now(),
		)

		mock.ExpectQuery("SELECT job_id, frontier").
			WithArgs("job-1").
			WillReturnRows(rows)

		state, err := store.LoadState(context.Background(), "job-1")
		require.NoError(t, err)
		require.NotNil(t, state)
		assert.Len(t, state.Frontier, 1)
		assert.Equal(t, "https://example.com/a", state.Frontier[0].URL)
		assert.Equal(t, []string{"https://example.com"}, state.VisitedURLs)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("no checkpoint returns nil without error", func(t *testing.T) {
		store, mock := newMockStore(t)

		mock.ExpectQuery("SELECT job_id, frontier").
			WithArgs("job-1").
			WillReturnError(sql.ErrNoRows)

		state, err := store.LoadState(context.Background(), "job-1")
		assert.NoError(t, err)
		assert.Nil(t, state)
		assert.NoError(t, mock.ExpectationsWereMet())
	})
}

// TestJobStoreRecoverStaleJob tests the watchdog's guarded recovery update
func TestJobStoreRecoverStaleJob(t *testing.T) {
	t.Parallel()

	threshold := 2 * time.Minute

	tests := []struct {
		name       string
		setupMock  func(sqlmock.Sqlmock)
		wantNil    bool
		wantStatus jobs.JobStatus
		wantRetry  int
	}{
		{
			name: "stale job below budget is requeued",
			setupMock: func(mock sqlmock.Sqlmock) {
				mock.ExpectQuery("UPDATE crawl_jobs").
					WithArgs("job-1", sqlmock.AnyArg(), jobs.MsgRecoveredByWatchdog, jobs.MsgExceededMaxRetries).
					WillReturnRows(sqlmock.NewRows([]string{"status", "retry_count"}).
						AddRow("pending", 1))
			},
			wantStatus: jobs.JobStatusPending,
			wantRetry:  1,
		},
		{
			name: "exhausted budget fails permanently",
			setupMock: func(mock sqlmock.Sqlmock) {
				mock.ExpectQuery("UPDATE crawl_jobs").
					WithArgs("job-1", sqlmock.AnyArg(), jobs.MsgRecoveredByWatchdog, jobs.MsgExceededMaxRetries).
					WillReturnRows(sqlmock.NewRows([]string{"status", "retry_count"}).
						AddRow("failed", 3))
			},
			wantStatus: jobs.JobStatusFailed,
			wantRetry:  3,
		},
		{
			name: "revived owner is left alone",
			setupMock: func(mock sqlmock.Sqlmock) {
				mock.ExpectQuery("UPDATE crawl_jobs").
					WithArgs("job-1", sqlmock.AnyArg(), jobs.MsgRecoveredByWatchdog, jobs.MsgExceededMaxRetries).
					WillReturnError(sql.ErrNoRows)
			},
			wantNil: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			store, mock := newMockStore(t)
			tt.setupMock(mock)

			result, err := store.RecoverStaleJob(context.Background(), "job-1", threshold)
			require.NoError(t, err)

			if tt.wantNil {
				assert.Nil(t, result)
			} else {
				require.NotNil(t, result)
				assert.Equal(t, tt.wantStatus, result.Status)
				assert.Equal(t, tt.wantRetry, result.RetryCount)
			}

			assert.NoError(t, mock.ExpectationsWereMet())
		})
	}
}

// TestJobStoreRequestStatus tests the external pause/cancel requests
func TestJobStoreRequestStatus(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name          string
		status        jobs.JobStatus
		setupMock     func(sqlmock.Sqlmock)
		wantRequested bool
		wantErr       bool
	}{
		{
			name:   "pause applied to active job",
			status: jobs.JobStatusPaused,
			setupMock: func(mock sqlmock.Sqlmock) {
				mock.ExpectExec("UPDATE crawl_jobs").
					WithArgs("job-1").
					WillReturnResult(sqlmock.NewResult(0, 1))
			},
			wantRequested: true,
		},
		{
			name:   "cancel writes the user cancellation message",
			status: jobs.JobStatusCancelled,
			setupMock: func(mock sqlmock.Sqlmock) {
				mock.ExpectExec("UPDATE crawl_jobs").
					WithArgs("job-1", jobs.MsgCancelledByUser).
					WillReturnResult(sqlmock.NewResult(0, 1))
			},
			wantRequested: true,
		},
		{
			name:   "terminal job rejects the request",
			status: jobs.JobStatusPaused,
			setupMock: func(mock sqlmock.Sqlmock) {
				mock.ExpectExec("UPDATE crawl_jobs").
					WithArgs("job-1").
					WillReturnResult(sqlmock.NewResult(0, 0))
			},
			wantRequested: false,
		},
		{
			name:      "only pause and cancel can be requested",
			status:    jobs.JobStatusCompleted,
			setupMock: func(mock sqlmock.Sqlmock) {},
			wantErr:   true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			store, mock := newMockStore(t)
			tt.setupMock(mock)

			requested, err := store.RequestStatus(context.Background(), "job-1", tt.status)

			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
				assert.Equal(t, tt.wantRequested, requested)
			}

			assert.NoError(t, mock.ExpectationsWereMet())
		})
	}
}

// TestJobStoreRequeueJob tests re-arming suspended jobs
func TestJobStoreRequeueJob(t *testing.T) {
	t.Parallel()

	t.Run("paused job requeued and supervisors notified", func(t *testing.T) {
		store, mock := newMockStore(t)

		mock.ExpectBegin()
		mock.ExpectExec("UPDATE crawl_jobs").
			WithArgs("job-1").
			WillReturnResult(sqlmock.NewResult(0, 1))
		mock.ExpectExec("SELECT pg_notify").
			WillReturnResult(sqlmock.NewResult(0, 1))
		mock.ExpectCommit()

		requeued, err := store.RequeueJob(context.Background(), "job-1")
		require.NoError(t, err)
		assert.True(t, requeued)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("ineligible job skips the notify", func(t *testing.T) {
		store, mock := newMockStore(t)

		mock.ExpectBegin()
		mock.ExpectExec("UPDATE crawl_jobs").
			WithArgs("job-1").
			WillReturnResult(sqlmock.NewResult(0, 0))
		mock.ExpectCommit()

		requeued, err := store.RequeueJob(context.Background(), "job-1")
		require.NoError(t, err)
		assert.False(t, requeued)
		assert.NoError(t, mock.ExpectationsWereMet())
	})
}

// TestJobStoreForceFailActiveJobs tests the cleanup reset switch
func TestJobStoreForceFailActiveJobs(t *testing.T) {
	t.Parallel()

	store, mock := newMockStore(t)

	mock.ExpectExec("UPDATE crawl_jobs").
		WithArgs(jobs.MsgForceCancelled).
		WillReturnResult(sqlmock.NewResult(0, 4))

	count, err := store.ForceFailActiveJobs(context.Background(), jobs.MsgForceCancelled)
	require.NoError(t, err)
	assert.Equal(t, int64(4), count)
	assert.NoError(t, mock.ExpectationsWereMet())
}

// TestJobStoreDeleteTerminalJobsBefore tests the retention sweep
func TestJobStoreDeleteTerminalJobsBefore(t *testing.T) {
	t.Parallel()

	store, mock := newMockStore(t)

	cutoff := time.Now().Add(-720 * time.Hour)
	mock.ExpectExec("DELETE FROM crawl_jobs").
		WithArgs(cutoff).
		WillReturnResult(sqlmock.NewResult(0, 12))

	deleted, err := store.DeleteTerminalJobsBefore(context.Background(), cutoff)
	require.NoError(t, err)
	assert.Equal(t, int64(12), deleted)
	assert.NoError(t, mock.ExpectationsWereMet())
}

// TestJobStoreGetJob tests single-row reads
func TestJobStoreGetJob(t *testing.T) {
	t.Parallel()

	t.Run("found", func(t *testing.T) {
		store, mock := newMockStore(t)

		job := &jobs.Job{
			ID:         "job-1",
			Payload:    []byte(`{"url":"https://example.com"}`),
			Status:     jobs.JobStatusProcessing,
			WorkerID:   "worker-a",
			MaxRetries: 3,
			CreatedAt:  time.Now(),
		}
		mock.ExpectQuery("FROM crawl_jobs").
			WithArgs("job-1").
			WillReturnRows(jobRows(job))

		got, err := store.GetJob(context.Background(), "job-1")
		require.NoError(t, err)
		assert.Equal(t, "job-1", got.ID)
		assert.Equal(t, "worker-a", got.WorkerID)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("missing job returns ErrJobNotFound", func(t *testing.T) {
		store, mock := newMockStore(t)

		mock.ExpectQuery("FROM crawl_jobs").
			WithArgs("nope").
			WillReturnError(sql.ErrNoRows)

		got, err := store.GetJob(context.Background(), "nope")
		assert.ErrorIs(t, err, jobs.ErrJobNotFound)
		assert.Nil(t, got)
		assert.NoError(t, mock.ExpectationsWereMet())
	})
}

// TestJobStoreCountJobsByStatus tests the queue depth aggregation
func TestJobStoreCountJobsByStatus(t *testing.T) {
	t.Parallel()

	store, mock := newMockStore(t)

	mock.ExpectQuery("GROUP BY status").
		WillReturnRows(sqlmock.NewRows([]string{"status", "count"}).
			AddRow("completed", 10).
			AddRow("pending", 3).
			AddRow("processing", 2))

	depths, err := store.CountJobsByStatus(context.Background())
	require.NoError(t, err)
	require.Len(t, depths, 3)
	assert.Equal(t, jobs.QueueDepth{Status: jobs.JobStatusPending, Count: 3}, depths[1])
	assert.NoError(t, mock.ExpectationsWereMet())
}
