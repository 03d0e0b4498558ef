package domain

import (
	"context"
	"time"
)

// WriteSet is the atomic unit a command commits: the new resource
// version, its audit entry, and every side-effect entity produced by the
// mutation. Either all writes land or none do.
type WriteSet struct {
	Resource Resource
	// ExpectedRevision is the revision the mutation was computed from;
	// zero means the resource is new. A mismatch at commit time means a
	// concurrent command won, and surfaces as ErrTransactionConflict.
	ExpectedRevision int64
	History          HistoryEntry
	BillingEvents    []BillingEvent
	PollMessages     []PollMessage
	// DeleteEntityIDs removes previously committed billing or poll rows
	// (speculative server-approve entities that no longer apply).
	DeleteEntityIDs  []string
	CloseRecurrences []RecurrenceEnd
	// IndexSnapshot, when set, writes the foreign-key index row for this
	// resource generation (new generation on create, fresh deletion-time
	// snapshot on delete).
	IndexSnapshot *ForeignKeyEntry
}

// ResourceStore is the transactional persistence contract the pipeline
// depends on. Implementations must make Commit atomic and detect
// concurrent modification via the expected revision.
type ResourceStore interface {
	// ReadCurrent returns the latest committed version of a generation.
	ReadCurrent(ctx context.Context, repoID string) (Resource, error)
	// ReadAt returns the version of a generation that was current at the
	// given instant (point-in-time read).
	ReadAt(ctx context.Context, repoID string, at time.Time) (Resource, error)
	// Commit writes the set atomically, or returns
	// ErrTransactionConflict without writing anything.
	Commit(ctx context.Context, ws WriteSet) error
}

// ForeignKeyIndex resolves external names to resource generations as of a
// given instant.
type ForeignKeyIndex interface {
	// Load returns the entry for the most recent generation of (kind,
	// name) if it is live at now, or a NotFoundError.
	Load(ctx context.Context, kind Kind, name string, now time.Time) (ForeignKeyEntry, error)
	// LoadBatch applies the single-key rule independently per name.
	// Names with no live entry are absent from the result, never an
	// error.
	LoadBatch(ctx context.Context, kind Kind, names []string, now time.Time) (map[string]ForeignKeyEntry, error)
}

// PolicyProvider supplies the read-only business parameters commands
// consult, keyed by resource kind and jurisdiction.
type PolicyProvider interface {
	AutomaticTransferLength(kind Kind) time.Duration
	DisallowedStatuses(verb Verb, kind Kind) StatusSet
	MaxRegistrationYears() int
	TLDAllowed(tld string) bool
	CreateCost(tld string, years int) Fee
	RenewCost(tld string, years int) Fee
	TransferCost(tld string, years int) Fee
}

// TransferValidator checks transfer-status transitions.
type TransferValidator interface {
	// Apply returns the destination status for the event, or a
	// TransferTransitionError when the transition is not allowed.
	Apply(ctx context.Context, current TransferStatus, event TransferEvent) (TransferStatus, error)
}
