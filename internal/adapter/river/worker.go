package river

import (
	"context"
	"database/sql"
	"errors"
	"log/slog"

	"github.com/riverqueue/river"
)

// DeliveryRecorder marks a poll message as delivered once its dispatch job
// has run. Implemented by the sqlite store.
type DeliveryRecorder interface {
	MarkPollDelivered(ctx context.Context, id string) error
}

// PollWorker processes poll dispatch jobs from the River queue. Delivery here
// means flipping the message's delivered flag and logging it; registrar-facing
// transports poll the message table themselves.
type PollWorker struct {
	river.WorkerDefaults[PollDispatchArgs]

	recorder DeliveryRecorder
}

// Work processes a single poll dispatch job.
func (w *PollWorker) Work(ctx context.Context, job *river.Job[PollDispatchArgs]) error {
	err := w.recorder.MarkPollDelivered(ctx, job.Args.PollID)
	if errors.Is(err, sql.ErrNoRows) {
		// The message was withdrawn before its job fired, e.g. a speculative
		// transfer outcome deleted when the transfer was resolved early.
		slog.InfoContext(ctx, "poll message withdrawn before dispatch",
			"poll_id", job.Args.PollID,
			"job_id", job.ID,
		)
		return nil
	}
	if err != nil {
		return err
	}

	slog.InfoContext(ctx, "poll message dispatched",
		"poll_id", job.Args.PollID,
		"client_id", job.Args.ClientID,
		"target", job.Args.TargetName,
		"job_id", job.ID,
		"attempt", job.Attempt,
	)
	return nil
}
