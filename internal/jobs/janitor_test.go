package jobs_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/opsforge-io/harrier/internal/jobs"
	"github.com/opsforge-io/harrier/internal/mocks"
)

func TestJanitorSweep(t *testing.T) {
	t.Parallel()

	t.Run("deletes past the retention window", func(t *testing.T) {
		cfg := jobs.DefaultConfig()
		cfg.JobRetention = 24 * time.Hour

		store := &mocks.MockJobStore{}
		store.On("DeleteTerminalJobsBefore", mock.Anything, mock.MatchedBy(func(cutoff time.Time) bool {
			// Cutoff must sit one retention window in the past
			expected := time.Now().Add(-cfg.JobRetention)
			return cutoff.Sub(expected).Abs() < time.Minute
		})).Return(int64(5), nil)
		store.On("CountJobsByStatus", mock.Anything).
			Return([]jobs.QueueDepth{
				{Status: jobs.JobStatusPending, Count: 2},
				{Status: jobs.JobStatusCompleted, Count: 40},
			}, nil)

		j := jobs.NewJanitor(store, cfg)
		require.NoError(t, j.Sweep(context.Background()))
		store.AssertExpectations(t)
	})

	t.Run("delete failure surfaces", func(t *testing.T) {
		store := &mocks.MockJobStore{}
		store.On("DeleteTerminalJobsBefore", mock.Anything, mock.Anything).
			Return(int64(0), errors.New("connection lost"))

		j := jobs.NewJanitor(store, jobs.DefaultConfig())
		assert.Error(t, j.Sweep(context.Background()))
		store.AssertNotCalled(t, "CountJobsByStatus", mock.Anything)
	})
}

func TestJanitorInvalidScheduleDoesNotCrash(t *testing.T) {
	t.Parallel()

	cfg := jobs.DefaultConfig()
	cfg.JanitorSchedule = "not a cron expression"

	store := &mocks.MockJobStore{}

	j := jobs.NewJanitor(store, cfg)
	j.Start(context.Background())
	j.Stop()

	store.AssertNotCalled(t, "DeleteTerminalJobsBefore", mock.Anything, mock.Anything)
}
