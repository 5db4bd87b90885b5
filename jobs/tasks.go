// Package jobs holds the background task definitions and the Asynq worker.
package jobs

import (
	"encoding/json"
	"time"

	"github.com/hibiken/asynq"
)

const (
	// QueueDefault is the default queue name for background jobs.
	QueueDefault = "default"
	// TaskExpirySweep deactivates lots past their expiry date.
	TaskExpirySweep = "inventory:expiry_sweep"
	// TaskLowStockScan reports products short of their reorder threshold.
	TaskLowStockScan = "inventory:low_stock_scan"
	// TaskIdempotencyCleanup prunes used idempotency keys.
	TaskIdempotencyCleanup = "pos:idempotency_cleanup"
)

// ExpirySweepPayload parameterises a sweep run. Reference defaults to the
// current day when zero; HorizonDays bounds the expiring-soon warning and
// defaults to 30.
type ExpirySweepPayload struct {
	Reference   time.Time `json:"reference,omitempty"`
	HorizonDays int       `json:"horizon_days,omitempty"`
}

// NewExpirySweepTask constructs the sweep task.
func NewExpirySweepTask(payload ExpirySweepPayload) (*asynq.Task, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskExpirySweep, data), nil
}

// LowStockScanPayload parameterises a low stock scan. Threshold defaults to
// the worker's configured value when zero.
type LowStockScanPayload struct {
	Threshold int64 `json:"threshold,omitempty"`
}

// NewLowStockScanTask constructs the scan task.
func NewLowStockScanTask(payload LowStockScanPayload) (*asynq.Task, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskLowStockScan, data), nil
}

// IdempotencyCleanupPayload parameterises key pruning.
type IdempotencyCleanupPayload struct {
	OlderThan time.Duration `json:"older_than"`
}

// NewIdempotencyCleanupTask constructs the cleanup task.
func NewIdempotencyCleanupTask(payload IdempotencyCleanupPayload) (*asynq.Task, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskIdempotencyCleanup, data), nil
}
