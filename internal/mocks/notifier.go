package mocks

import (
	"context"

	"github.com/stretchr/testify/mock"

	"github.com/opsforge-io/harrier/internal/jobs"
)

// MockNotifier is a mock implementation of jobs.JobNotifier
type MockNotifier struct {
	mock.Mock
}

func (m *MockNotifier) NotifyJobComplete(ctx context.Context, job *jobs.Job) {
	m.Called(ctx, job)
}

func (m *MockNotifier) NotifyJobFailed(ctx context.Context, job *jobs.Job) {
	m.Called(ctx, job)
}
