package batch

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/brandscope/brandscope/internal/config"
)

// Driver re-invokes the executor at a fixed interval until the job goes
// terminal, substituting for a long-lived worker. It aborts on a stall
// (consecutive iterations with no progress) or when the iteration ceiling
// is hit; in both cases the job is left as-is for the reconciler.
type Driver struct {
	exec *Executor
	cfg  config.BatchConfig
}

func NewDriver(exec *Executor, cfg config.BatchConfig) *Driver {
	return &Driver{exec: exec, cfg: cfg}
}

// Drive runs invocations until the job reports a terminal action. The
// returned Result is the last one observed, including on stall and
// ceiling errors.
func (d *Driver) Drive(ctx context.Context, jobID uuid.UUID) (*Result, error) {
	var (
		last       *Result
		stalls     int
		lastRemain = -1
	)

	for i := 0; i < d.cfg.DriveMaxLoops; i++ {
		res, err := d.exec.Run(ctx, jobID)
		if err != nil {
			return last, fmt.Errorf("drive iteration %d: %w", i, err)
		}
		last = res

		switch res.Action {
		case ActionCompleted, ActionFailed, ActionCancelled:
			return res, nil
		}

		// No progress means the remaining count did not move. The first
		// iteration always counts as progress.
		if lastRemain >= 0 && res.Remaining >= lastRemain && res.Processed == 0 {
			stalls++
		} else {
			stalls = 0
		}
		lastRemain = res.Remaining

		if stalls >= d.cfg.DriveStallLimit {
			slog.Warn("drive loop stalled, leaving job for reconciler",
				"job_id", jobID, "iterations", i+1, "remaining", res.Remaining)
			return last, ErrDriveStalled
		}

		select {
		case <-ctx.Done():
			return last, ctx.Err()
		case <-time.After(d.cfg.DriveInterval):
		}
	}

	slog.Warn("drive loop hit iteration ceiling",
		"job_id", jobID, "max_loops", d.cfg.DriveMaxLoops)
	return last, ErrDriveCeiling
}
