package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/hibiken/asynq"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/scaffold-rental/rental-admin/internal/customers"
	jobmetrics "github.com/scaffold-rental/rental-admin/internal/jobs"
	"github.com/scaffold-rental/rental-admin/internal/shared"
)

type stubRecomputer struct {
	calls   int
	batch   int
	result  *customers.RecomputeResult
	err     error
	onStart func()
}

func (s *stubRecomputer) RecomputeAll(ctx context.Context, batchSize int) (*customers.RecomputeResult, error) {
	s.calls++
	s.batch = batchSize
	if s.onStart != nil {
		s.onStart()
	}
	return s.result, s.err
}

func newRecomputeJob(t *testing.T, svc StatusRecomputer) (*StatusRecomputeJob, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	job := NewStatusRecomputeJob(svc, client, nil, jobmetrics.NewMetrics(prometheus.NewRegistry()))
	job.WithClock(func() time.Time { return time.Date(2026, time.October, 19, 0, 10, 0, 0, time.UTC) })
	return job, mr
}

func TestNewStatusRecomputeTaskDefaults(t *testing.T) {
	task, err := NewStatusRecomputeTask(0, "")
	require.NoError(t, err)
	assert.Equal(t, TaskCustomerStatusRecompute, task.Type())

	var payload StatusRecomputePayload
	require.NoError(t, json.Unmarshal(task.Payload(), &payload))
	assert.Equal(t, 200, payload.BatchSize)
	assert.Equal(t, "scheduled", payload.Reason)
}

func TestStatusRecomputeJobRunsService(t *testing.T) {
	svc := &stubRecomputer{result: &customers.RecomputeResult{
		Scanned: 12,
		Changes: []customers.StatusChange{{CustomerID: 3, Reason: customers.ReasonRecompute}},
	}}
	job, mr := newRecomputeJob(t, svc)
	lockKey := shared.StatusRecomputeLockKey("all")
	svc.onStart = func() {
		assert.True(t, mr.Exists(lockKey), "lock must be held while recomputing")
	}

	task, err := NewStatusRecomputeTask(50, "manual:ops")
	require.NoError(t, err)

	require.NoError(t, job.Handle(context.Background(), task))
	assert.Equal(t, 1, svc.calls)
	assert.Equal(t, 50, svc.batch)
	assert.False(t, mr.Exists(lockKey), "lock must be released")
}

func TestStatusRecomputeJobSkipsWhenLocked(t *testing.T) {
	svc := &stubRecomputer{result: &customers.RecomputeResult{}}
	job, mr := newRecomputeJob(t, svc)
	require.NoError(t, mr.Set(shared.StatusRecomputeLockKey("all"), "other-host"))

	task, err := NewStatusRecomputeTask(0, "")
	require.NoError(t, err)

	require.NoError(t, job.Handle(context.Background(), task))
	assert.Zero(t, svc.calls)
	got, err := mr.Get(shared.StatusRecomputeLockKey("all"))
	require.NoError(t, err)
	assert.Equal(t, "other-host", got, "foreign lock must be left alone")
}

func TestStatusRecomputeJobPropagatesFailure(t *testing.T) {
	boom := errors.New("db down")
	svc := &stubRecomputer{result: &customers.RecomputeResult{Scanned: 3}, err: boom}
	job, mr := newRecomputeJob(t, svc)

	task, err := NewStatusRecomputeTask(10, "")
	require.NoError(t, err)

	require.ErrorIs(t, job.Handle(context.Background(), task), boom)
	assert.False(t, mr.Exists(shared.StatusRecomputeLockKey("all")))
}

func TestStatusRecomputeJobRejectsBadPayload(t *testing.T) {
	job, _ := newRecomputeJob(t, &stubRecomputer{})

	err := job.Handle(context.Background(), asynq.NewTask(TaskCustomerStatusRecompute, []byte("{")))

	require.ErrorIs(t, err, asynq.SkipRetry)
}

func TestStatusRecomputeJobRequiresService(t *testing.T) {
	var job *StatusRecomputeJob
	require.Error(t, job.Handle(context.Background(), asynq.NewTask(TaskCustomerStatusRecompute, nil)))
}

type stubCleaner struct {
	retention time.Duration
	removed   int64
	err       error
}

func (s *stubCleaner) Cleanup(ctx context.Context, olderThan time.Duration) (int64, error) {
	s.retention = olderThan
	return s.removed, s.err
}

func TestIdempotencyCleanupJob(t *testing.T) {
	store := &stubCleaner{removed: 7}
	job := NewIdempotencyCleanupJob(store, nil, jobmetrics.NewMetrics(prometheus.NewRegistry()))

	task, err := NewIdempotencyCleanupTask(24 * time.Hour)
	require.NoError(t, err)
	require.NoError(t, job.Handle(context.Background(), task))
	assert.Equal(t, 24*time.Hour, store.retention)

	task, err = NewIdempotencyCleanupTask(0)
	require.NoError(t, err)
	require.NoError(t, job.Handle(context.Background(), task))
	assert.Equal(t, 72*time.Hour, store.retention)

	store.err = errors.New("timeout")
	require.Error(t, job.Handle(context.Background(), task))
}
