package domain

import "time"

// TransferStatus is the state of a resource's ownership-transfer protocol.
type TransferStatus string

const (
	TransferNone            TransferStatus = "none"
	TransferPending         TransferStatus = "pending"
	TransferClientApproved  TransferStatus = "client_approved"
	TransferClientRejected  TransferStatus = "client_rejected"
	TransferClientCancelled TransferStatus = "client_cancelled"
	TransferServerApproved  TransferStatus = "server_approved"
	TransferServerCancelled TransferStatus = "server_cancelled"
)

// TransferEvent triggers a transfer-status transition.
type TransferEvent string

const (
	TransferEventRequest       TransferEvent = "request"
	TransferEventClientApprove TransferEvent = "client_approve"
	TransferEventClientReject  TransferEvent = "client_reject"
	TransferEventClientCancel  TransferEvent = "client_cancel"
	TransferEventServerApprove TransferEvent = "server_approve"
	TransferEventServerCancel  TransferEvent = "server_cancel"
)

// TransferTransition defines a valid transfer state change.
type TransferTransition struct {
	Event TransferEvent
	Src   TransferStatus
	Dst   TransferStatus
}

// TransferTransitions defines all valid transfer state changes. A new
// request is allowed from any concluded state; every resolution event is
// only valid while a transfer is pending. This is domain knowledge
// consumed by the FSM adapter.
var TransferTransitions = []TransferTransition{
	{Event: TransferEventRequest, Src: TransferNone, Dst: TransferPending},
	{Event: TransferEventRequest, Src: TransferClientApproved, Dst: TransferPending},
	{Event: TransferEventRequest, Src: TransferClientRejected, Dst: TransferPending},
	{Event: TransferEventRequest, Src: TransferClientCancelled, Dst: TransferPending},
	{Event: TransferEventRequest, Src: TransferServerApproved, Dst: TransferPending},
	{Event: TransferEventRequest, Src: TransferServerCancelled, Dst: TransferPending},
	{Event: TransferEventClientApprove, Src: TransferPending, Dst: TransferClientApproved},
	{Event: TransferEventClientReject, Src: TransferPending, Dst: TransferClientRejected},
	{Event: TransferEventClientCancel, Src: TransferPending, Dst: TransferClientCancelled},
	{Event: TransferEventServerApprove, Src: TransferPending, Dst: TransferServerApproved},
	{Event: TransferEventServerCancel, Src: TransferPending, Dst: TransferServerCancelled},
}

// TransferData is the transfer protocol state embedded in a resource.
type TransferData struct {
	Status        TransferStatus `json:"status"`
	GainingClient string         `json:"gaining_client,omitempty"`
	LosingClient  string         `json:"losing_client,omitempty"`
	RequestTime   time.Time      `json:"request_time,omitzero"`
	// PendingExpiration is the automatic-approval deadline: the first
	// read at or after this instant resolves the transfer server-side.
	PendingExpiration time.Time `json:"pending_expiration,omitzero"`
	// ExtendedYears is the registration extension a domain receives if
	// the transfer concludes in an ownership change.
	ExtendedYears int `json:"extended_years,omitempty"`
	// ServerApproveBillingEventID is the one-time transfer charge
	// written speculatively at request time, billed at the automatic
	// approval deadline. Kept on any approving outcome, deleted on
	// rejection or cancellation.
	ServerApproveBillingEventID string `json:"server_approve_billing_event_id,omitempty"`
	// ServerApprovePollIDs are the outcome notifications written
	// speculatively at request time for the automatic-approval case.
	// Deleted on any explicit resolution, which writes fresh outcome
	// messages instead.
	ServerApprovePollIDs []string `json:"server_approve_poll_ids,omitempty"`
}

// Concluded reports whether the transfer protocol is in a terminal state
// (or was never started).
func (d TransferData) Concluded() bool {
	return d.Status != TransferPending
}

// statusesExtendingExpiration are the transfer states for which responses
// report an extended registration expiration date.
var statusesExtendingExpiration = map[TransferStatus]struct{}{
	TransferPending:        {},
	TransferClientApproved: {},
	TransferServerApproved: {},
}

// ReportsExtendedExpiration reports whether a transfer response for the
// given status should carry the (prospective or actual) extended
// registration expiration date.
func ReportsExtendedExpiration(status TransferStatus) bool {
	_, ok := statusesExtendingExpiration[status]
	return ok
}
