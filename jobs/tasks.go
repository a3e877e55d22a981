package jobs

import (
	"encoding/json"
	"time"

	"github.com/hibiken/asynq"
)

const (
	// QueueDefault is the default queue name for background jobs.
	QueueDefault = "default"
	// TaskCustomerStatusRecompute re-derives every customer status from its contracts.
	TaskCustomerStatusRecompute = "customers:status_recompute"
	// TaskIdempotencyCleanup purges expired idempotency keys.
	TaskIdempotencyCleanup = "idempotency:cleanup"

	defaultRecomputeBatch = 200
	defaultKeyRetention   = 72 * time.Hour
)

// StatusRecomputePayload configures a recompute run.
type StatusRecomputePayload struct {
	BatchSize int    `json:"batch_size"`
	Reason    string `json:"reason"`
}

// IdempotencyCleanupPayload sets how long processed keys are retained.
type IdempotencyCleanupPayload struct {
	RetentionHours int `json:"retention_hours"`
}

// NewStatusRecomputeTask constructs an Asynq task for the recompute routine.
func NewStatusRecomputeTask(batchSize int, reason string) (*asynq.Task, error) {
	if batchSize <= 0 {
		batchSize = defaultRecomputeBatch
	}
	if reason == "" {
		reason = "scheduled"
	}
	body, err := json.Marshal(StatusRecomputePayload{BatchSize: batchSize, Reason: reason})
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskCustomerStatusRecompute, body, asynq.Queue(QueueDefault)), nil
}

// NewIdempotencyCleanupTask constructs an Asynq task purging keys older than retention.
func NewIdempotencyCleanupTask(retention time.Duration) (*asynq.Task, error) {
	if retention <= 0 {
		retention = defaultKeyRetention
	}
	body, err := json.Marshal(IdempotencyCleanupPayload{RetentionHours: int(retention / time.Hour)})
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskIdempotencyCleanup, body, asynq.Queue(QueueDefault)), nil
}
