package compliance

import (
	"context"
	"log/slog"
	"time"
)

// PendingOutput is an AI output waiting to be monitored.
type PendingOutput struct {
	ID         string
	ContractID string
	Output     string
	QueuedAt   time.Time
}

// OutputSource supplies queued outputs to the poller.
type OutputSource interface {
	PendingOutputs(ctx context.Context, limit int) ([]PendingOutput, error)
	// AckOutput marks an output processed. errMsg is empty on success.
	AckOutput(ctx context.Context, id, errMsg string) error
}

const pollBatchSize = 50

// StartPoller runs a background goroutine that drains src into the tracker
// every interval. Outputs are recorded one at a time in queue order, so each
// output of a contract is checked before the next.
func StartPoller(ctx context.Context, src OutputSource, tracker *Tracker, interval time.Duration) {
	ticker := time.NewTicker(interval)
	go func() {
		defer ticker.Stop()
		slog.Info("Compliance poller started", "interval", interval)

		for {
			select {
			case <-ticker.C:
				drainPending(ctx, src, tracker)
			case <-ctx.Done():
				slog.Info("Compliance poller shutting down", "reason", ctx.Err())
				return
			}
		}
	}()
}

// drainPending processes one batch and returns how many outputs it handled.
func drainPending(ctx context.Context, src OutputSource, tracker *Tracker) int {
	pending, err := src.PendingOutputs(ctx, pollBatchSize)
	if err != nil {
		slog.Error("Compliance poller failed to list pending outputs", "error", err)
		return 0
	}
	if len(pending) == 0 {
		return 0
	}

	slog.Info("Compliance poller found pending outputs", "count", len(pending))

	handled := 0
	for _, p := range pending {
		if ctx.Err() != nil {
			break
		}
		errMsg := ""
		res, err := tracker.Record(ctx, p.ContractID, p.Output)
		if err != nil {
			errMsg = err.Error()
			slog.Warn("Compliance poller failed to record output",
				"error", err,
				"output_id", p.ID,
				"contract_id", p.ContractID)
		} else {
			slog.Debug("Compliance poller recorded output",
				"output_id", p.ID,
				"contract_id", p.ContractID,
				"score", res.Result.Score,
				"alerts", len(res.Alerts))
		}

		if err := src.AckOutput(ctx, p.ID, errMsg); err != nil {
			slog.Warn("Compliance poller failed to ack output",
				"error", err,
				"output_id", p.ID)
		}
		handled++
	}
	return handled
}
