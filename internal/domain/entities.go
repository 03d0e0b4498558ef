package domain

import "time"

// HistoryType labels the audit entry a command writes.
type HistoryType string

const (
	HistoryCreate          HistoryType = "create"
	HistoryUpdate          HistoryType = "update"
	HistoryRenew           HistoryType = "renew"
	HistoryDelete          HistoryType = "delete"
	HistoryTransferRequest HistoryType = "transfer_request"
	HistoryTransferApprove HistoryType = "transfer_approve"
	HistoryTransferReject  HistoryType = "transfer_reject"
	HistoryTransferCancel  HistoryType = "transfer_cancel"
	HistoryTransferAuto    HistoryType = "transfer_auto_approve"
)

// HistoryEntry is the audit record committed with every mutation. Exactly
// one per executed command.
type HistoryEntry struct {
	ID      string
	Type    HistoryType
	RepoID  string
	ActorID string
	Time    time.Time
}

// BillingKind distinguishes one-time charges from recurring ones.
type BillingKind string

const (
	BillingOneTime   BillingKind = "one_time"
	BillingRecurring BillingKind = "recurring"
)

// BillingReason records what a billing event charges for.
type BillingReason string

const (
	BillingReasonCreate    BillingReason = "create"
	BillingReasonRenew     BillingReason = "renew"
	BillingReasonTransfer  BillingReason = "transfer"
	BillingReasonAutoRenew BillingReason = "auto_renew"
)

// BillingEvent is a charge row committed in the same transaction as the
// mutation that produced it.
type BillingEvent struct {
	ID         string
	Kind       BillingKind
	Reason     BillingReason
	RepoID     string
	TargetName string
	ClientID   string // registrar billed
	Years      int
	Cost       Fee
	EventTime  time.Time
	// BillingTime is when a one-time event becomes chargeable (grace
	// periods push it past EventTime). Zero for recurring events.
	BillingTime time.Time
	// RecurrenceEnd bounds a recurring event; EndOfTime while open.
	// Zero for one-time events.
	RecurrenceEnd time.Time
	HistoryID     string
}

// PollMessage is a notification row for a registrar, committed with the
// mutation and dispatched asynchronously afterwards.
type PollMessage struct {
	ID         string
	ClientID   string
	RepoID     string
	TargetName string
	Kind       Kind
	EventTime  time.Time
	Message    string
	HistoryID  string
}

// RecurrenceEnd closes an open recurring billing event as part of a
// commit (e.g. re-anchoring auto-renewal after an explicit renew).
type RecurrenceEnd struct {
	BillingEventID string
	End            time.Time
}

// ForeignKeyEntry is one foreign-key index row: it binds (kind, name) to
// the resource generation identified by RepoID, valid while
// now < DeletionTime. DeletionTime is a snapshot copied from the resource
// when the row is written; deleting the resource rewrites the snapshot.
type ForeignKeyEntry struct {
	Kind         Kind
	ForeignKey   string
	RepoID       string
	CreationTime time.Time
	DeletionTime time.Time
}
