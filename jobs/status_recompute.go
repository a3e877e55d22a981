package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/google/uuid"
	"github.com/hibiken/asynq"
	"github.com/redis/go-redis/v9"

	"github.com/scaffold-rental/rental-admin/internal/customers"
	jobmetrics "github.com/scaffold-rental/rental-admin/internal/jobs"
	"github.com/scaffold-rental/rental-admin/internal/platform/cache"
	"github.com/scaffold-rental/rental-admin/internal/shared"
)

const recomputeLockTTL = 30 * time.Minute

var defaultJobMetrics = jobmetrics.NewMetrics(nil)

// StatusRecomputer is the slice of the customers service the job drives.
type StatusRecomputer interface {
	RecomputeAll(ctx context.Context, batchSize int) (*customers.RecomputeResult, error)
}

// StatusRecomputeJob re-derives stored customer statuses so time-based expiry is reflected.
type StatusRecomputeJob struct {
	Service StatusRecomputer
	Redis   *redis.Client
	Logger  *slog.Logger
	Metrics *jobmetrics.Metrics
	clock   func() time.Time
}

// NewStatusRecomputeJob constructs the job handler.
func NewStatusRecomputeJob(service StatusRecomputer, client *redis.Client, logger *slog.Logger, metrics *jobmetrics.Metrics) *StatusRecomputeJob {
	return &StatusRecomputeJob{
		Service: service,
		Redis:   client,
		Logger:  logger,
		Metrics: metrics,
		clock: func() time.Time {
			return time.Now().UTC()
		},
	}
}

// Handle executes the recompute job. Overlapping runs are skipped rather than queued.
func (j *StatusRecomputeJob) Handle(ctx context.Context, task *asynq.Task) error {
	if j == nil || j.Service == nil {
		return errors.New("status recompute: dependencies not configured")
	}
	var payload StatusRecomputePayload
	if err := json.Unmarshal(task.Payload(), &payload); err != nil {
		return fmt.Errorf("status recompute payload: %v: %w", err, asynq.SkipRetry)
	}
	if payload.BatchSize <= 0 {
		payload.BatchSize = defaultRecomputeBatch
	}

	logger := j.log().With(slog.String("reason", payload.Reason), slog.Int("batch_size", payload.BatchSize))

	owner := lockOwner()
	locked, release, err := cache.TryLock(ctx, j.Redis, shared.StatusRecomputeLockKey("all"), owner, recomputeLockTTL)
	if err != nil {
		logger.Error("acquire recompute lock", slog.Any("error", err))
		return err
	}
	if !locked {
		logger.Info("status recompute already running, skipping")
		return nil
	}
	defer release(context.WithoutCancel(ctx))

	tracker := j.metrics().Track(TaskCustomerStatusRecompute)
	var resultErr error
	defer func() {
		resultErr = tracker.End(resultErr)
	}()

	start := j.now()
	result, err := j.Service.RecomputeAll(ctx, payload.BatchSize)
	if result != nil {
		j.metrics().AddScanned(result.Scanned)
	}
	if err != nil {
		resultErr = err
		logger.Error("recompute failed", slog.Any("error", err))
		return resultErr
	}

	j.metrics().SetDrift(len(result.Changes))
	logger.Info("recomputed customer statuses",
		slog.Int("scanned", result.Scanned),
		slog.Int("changed", len(result.Changes)),
		slog.Duration("duration", j.now().Sub(start)),
	)
	return resultErr
}

func lockOwner() string {
	host, _ := os.Hostname()
	return host + ":" + uuid.NewString()
}

func (j *StatusRecomputeJob) metrics() *jobmetrics.Metrics {
	if j != nil && j.Metrics != nil {
		return j.Metrics
	}
	return defaultJobMetrics
}

func (j *StatusRecomputeJob) log() *slog.Logger {
	if j != nil && j.Logger != nil {
		return j.Logger.With(slog.String("job", TaskCustomerStatusRecompute))
	}
	return slog.Default().With(slog.String("job", TaskCustomerStatusRecompute))
}

func (j *StatusRecomputeJob) now() time.Time {
	if j != nil && j.clock != nil {
		return j.clock()
	}
	return time.Now().UTC()
}

// WithClock overrides the internal clock for deterministic tests.
func (j *StatusRecomputeJob) WithClock(clock func() time.Time) {
	if j != nil && clock != nil {
		j.clock = clock
	}
}
