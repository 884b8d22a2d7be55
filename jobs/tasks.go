package jobs

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/hibiken/asynq"
)

const (
	// QueueDefault is the default queue name for background jobs.
	QueueDefault = "default"
	// TaskReconcileSweep compares payout deduction totals against ledger sums.
	TaskReconcileSweep = "reconcile:sweep"
)

// ReconcileSweepPayload describes one sweep request.
type ReconcileSweepPayload struct {
	RequestedAt time.Time `json:"requested_at"`
	RequestedBy string    `json:"requested_by,omitempty"`
}

// NewReconcileSweepTask constructs an Asynq task.
func NewReconcileSweepTask(payload ReconcileSweepPayload) (*asynq.Task, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskReconcileSweep, data), nil
}

// NewReconcileSweepHandler returns the Asynq handler for sweep tasks.
func NewReconcileSweepHandler(rec *Reconciler, logger *slog.Logger) asynq.HandlerFunc {
	return func(ctx context.Context, t *asynq.Task) error {
		var payload ReconcileSweepPayload
		if err := json.Unmarshal(t.Payload(), &payload); err != nil {
			return asynq.SkipRetry
		}
		summary, err := rec.Run(ctx)
		if err != nil {
			return err
		}
		if logger != nil {
			logger.Info("reconciliation sweep finished",
				slog.Int("checked", summary.Checked),
				slog.Int("discrepancies", summary.Discrepancies))
		}
		return nil
	}
}
