package jobqueue

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// TestNewQueue tests the queue constructor
func TestNewQueue(t *testing.T) {
	tests := []struct {
		name            string
		workers         int
		expectedWorkers int
	}{
		{"Valid worker count", 5, 5},
		{"Zero workers", 0, 3},
		{"Negative workers", -1, 3},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			queue := NewQueue(tt.workers)

			assert.NotNil(t, queue)
			assert.Equal(t, tt.expectedWorkers, queue.workers)
			assert.NotNil(t, queue.workerPool)
			assert.Equal(t, tt.expectedWorkers, cap(queue.workerPool))
			assert.NotNil(t, queue.stopCh)
			assert.False(t, queue.running)
		})
	}
}

func TestConstants(t *testing.T) {
	// Test Redis key constants
	assert.Equal(t, "job:", JobKeyPrefix)
	assert.Equal(t, "job_queue", JobQueueKey)
	assert.Equal(t, "job_processing", JobProcessingKey)
	assert.Equal(t, "job_stats", JobStatsKey)

	// Test job settings constants
	assert.Equal(t, 3, DefaultMaxRetries)
	assert.Equal(t, 24*time.Hour, JobTTL)
}

// TestEnqueueAndFetchJob exercises the Redis round trip for a job. Skipped
// when no Redis endpoint is reachable.
func TestEnqueueAndFetchJob(t *testing.T) {
	host, port, password := resolveTestRedis(t)
	configureTestCache(host, port, password)
	resetJobQueueRedis(t)

	queue := NewQueue(1)
	payload := WebhookDispatchJobPayload{WebhookEventID: 7}

	job, err := queue.EnqueueJob(JobTypeWebhookDispatch, payload.ToMap())
	require.NoError(t, err)
	require.NotNil(t, job)
	assert.Equal(t, JobStatusPending, job.Status)
	assert.Equal(t, DefaultMaxRetries, job.MaxRetries)

	ctx := context.Background()

	size, err := queue.GetQueueSize(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), size)

	fetched, err := queue.GetJob(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, job.ID, fetched.ID)
	assert.Equal(t, JobTypeWebhookDispatch, fetched.Type)

	restored, err := WebhookDispatchJobPayloadFromMap(fetched.Payload)
	require.NoError(t, err)
	assert.Equal(t, uint(7), restored.WebhookEventID)

	dequeued, err := queue.dequeueJob(ctx)
	require.NoError(t, err)
	assert.Equal(t, job.ID, dequeued.ID)

	processing, err := queue.GetProcessingSize(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), processing)

	resetJobQueueRedis(t)
}
