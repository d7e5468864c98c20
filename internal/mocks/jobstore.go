package mocks

import (
	"context"
	"time"

	"github.com/stretchr/testify/mock"

	"github.com/opsforge-io/harrier/internal/jobs"
)

// MockJobStore is a mock implementation of jobs.JobStore. It also satisfies
// the narrower runner.StateStore and runner.StatusReader interfaces.
type MockJobStore struct {
	mock.Mock
}

func (m *MockJobStore) Enqueue(ctx context.Context, opts *jobs.EnqueueOptions) (*jobs.Job, error) {
	args := m.Called(ctx, opts)
	if job := args.Get(0); job != nil {
		return job.(*jobs.Job), args.Error(1)
	}
	return nil, args.Error(1)
}

func (m *MockJobStore) ClaimNext(ctx context.Context, workerID string) (*jobs.Job, error) {
	args := m.Called(ctx, workerID)
	if job := args.Get(0); job != nil {
		return job.(*jobs.Job), args.Error(1)
	}
	return nil, args.Error(1)
}

func (m *MockJobStore) Heartbeat(ctx context.Context, jobID, workerID string) (bool, error) {
	args := m.Called(ctx, jobID, workerID)
	return args.Bool(0), args.Error(1)
}

func (m *MockJobStore) SetJobStatus(ctx context.Context, jobID string, status jobs.JobStatus, errorMessage string) error {
	args := m.Called(ctx, jobID, status, errorMessage)
	return args.Error(0)
}

func (m *MockJobStore) FailFromProcessing(ctx context.Context, jobID, message string) (bool, error) {
	args := m.Called(ctx, jobID, message)
	return args.Bool(0), args.Error(1)
}

func (m *MockJobStore) SetProgress(ctx context.Context, jobID string, pct float64) error {
	args := m.Called(ctx, jobID, pct)
	return args.Error(0)
}

func (m *MockJobStore) GetJob(ctx context.Context, jobID string) (*jobs.Job, error) {
	args := m.Called(ctx, jobID)
	if job := args.Get(0); job != nil {
		return job.(*jobs.Job), args.Error(1)
	}
	return nil, args.Error(1)
}

func (m *MockJobStore) GetJobStatus(ctx context.Context, jobID string) (jobs.JobStatus, error) {
	args := m.Called(ctx, jobID)
	return args.Get(0).(jobs.JobStatus), args.Error(1)
}

func (m *MockJobStore) ListJobsByStatus(ctx context.Context, statuses ...jobs.JobStatus) ([]*jobs.Job, error) {
	callArgs := make([]interface{}, 0, len(statuses)+1)
	callArgs = append(callArgs, ctx)
	for _, s := range statuses {
		callArgs = append(callArgs, s)
	}
	args := m.Called(callArgs...)
	if list := args.Get(0); list != nil {
		return list.([]*jobs.Job), args.Error(1)
	}
	return nil, args.Error(1)
}

func (m *MockJobStore) CountJobsByStatus(ctx context.Context) ([]jobs.QueueDepth, error) {
	args := m.Called(ctx)
	if depths := args.Get(0); depths != nil {
		return depths.([]jobs.QueueDepth), args.Error(1)
	}
	return nil, args.Error(1)
}

func (m *MockJobStore) LoadState(ctx context.Context, jobID string) (*jobs.CrawlState, error) {
	args := m.Called(ctx, jobID)
	if state := args.Get(0); state != nil {
		return state.(*jobs.CrawlState), args.Error(1)
	}
	return nil, args.Error(1)
}

func (m *MockJobStore) SaveCheckpoint(ctx context.Context, state *jobs.CrawlState) error {
	args := m.Called(ctx, state)
	return args.Error(0)
}

func (m *MockJobStore) StaleProcessingJobs(ctx context.Context, threshold time.Duration) ([]*jobs.Job, error) {
	args := m.Called(ctx, threshold)
	if list := args.Get(0); list != nil {
		return list.([]*jobs.Job), args.Error(1)
	}
	return nil, args.Error(1)
}

func (m *MockJobStore) RecoverStaleJob(ctx context.Context, jobID string, threshold time.Duration) (*jobs.RecoveryResult, error) {
	args := m.Called(ctx, jobID, threshold)
	if result := args.Get(0); result != nil {
		return result.(*jobs.RecoveryResult), args.Error(1)
	}
	return nil, args.Error(1)
}

func (m *MockJobStore) RequestStatus(ctx context.Context, jobID string, status jobs.JobStatus) (bool, error) {
	args := m.Called(ctx, jobID, status)
	return args.Bool(0), args.Error(1)
}

func (m *MockJobStore) RequeueJob(ctx context.Context, jobID string) (bool, error) {
	args := m.Called(ctx, jobID)
	return args.Bool(0), args.Error(1)
}

func (m *MockJobStore) ForceFailActiveJobs(ctx context.Context, message string) (int64, error) {
	args := m.Called(ctx, message)
	return args.Get(0).(int64), args.Error(1)
}

func (m *MockJobStore) DeleteTerminalJobsBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	args := m.Called(ctx, cutoff)
	return args.Get(0).(int64), args.Error(1)
}
