package mocks

import (
	"context"
	"encoding/json"

	"github.com/stretchr/testify/mock"

	"github.com/opsforge-io/harrier/internal/jobs"
	"github.com/opsforge-io/harrier/internal/runner"
)

// MockStrategy is a mock implementation of runner.CrawlStrategy
type MockStrategy struct {
	mock.Mock
}

func (m *MockStrategy) SeedURLs(ctx context.Context, payload json.RawMessage) ([]string, error) {
	args := m.Called(ctx, payload)
	if urls := args.Get(0); urls != nil {
		return urls.([]string), args.Error(1)
	}
	return nil, args.Error(1)
}

func (m *MockStrategy) CrawlBatch(ctx context.Context, payload json.RawMessage, batch []jobs.FrontierEntry) ([]runner.PageResult, error) {
	args := m.Called(ctx, payload, batch)
	if results := args.Get(0); results != nil {
		return results.([]runner.PageResult), args.Error(1)
	}
	return nil, args.Error(1)
}
