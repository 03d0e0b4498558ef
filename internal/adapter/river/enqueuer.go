package river

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/riverqueue/river"

	"github.com/neomorfeo/registriq/internal/domain"
)

// PollDispatchArgs identifies a persisted poll message whose delivery is due.
// Only the id and a few labels ride in the job; the worker reads nothing else,
// so a message withdrawn before its job fires is simply skipped.
type PollDispatchArgs struct {
	PollID     string `json:"poll_id"`
	ClientID   string `json:"client_id"`
	TargetName string `json:"target_name"`
}

// Kind returns the unique job type identifier used by River's job routing.
func (PollDispatchArgs) Kind() string { return "poll.dispatch" }

// Client is the River client type parameterized for SQLite (*sql.Tx).
type Client = river.Client[*sql.Tx]

// Enqueuer schedules poll dispatch jobs inside the store's commit
// transaction, so a job exists if and only if its poll message does.
type Enqueuer struct {
	client *Client
}

// NewEnqueuer creates an enqueuer backed by the given River client.
func NewEnqueuer(client *Client) *Enqueuer {
	return &Enqueuer{client: client}
}

// EnqueueTx inserts a dispatch job for the poll message in the caller's
// transaction. Messages dated in the future (autorenew notices, speculative
// transfer outcomes) are scheduled for their event time instead of
// immediately.
func (e *Enqueuer) EnqueueTx(ctx context.Context, tx *sql.Tx, msg domain.PollMessage) error {
	var opts *river.InsertOpts
	if msg.EventTime.After(time.Now()) {
		opts = &river.InsertOpts{ScheduledAt: msg.EventTime}
	}

	_, err := e.client.InsertTx(ctx, tx, PollDispatchArgs{
		PollID:     msg.ID,
		ClientID:   msg.ClientID,
		TargetName: msg.TargetName,
	}, opts)
	if err != nil {
		return fmt.Errorf("enqueuing poll dispatch job: %w", err)
	}
	return nil
}
