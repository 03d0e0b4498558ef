package domain

import "time"

// Verb identifies the mutation a command performs.
type Verb string

const (
	VerbCreate          Verb = "create"
	VerbInfo            Verb = "info"
	VerbUpdate          Verb = "update"
	VerbRenew           Verb = "renew"
	VerbDelete          Verb = "delete"
	VerbTransferRequest Verb = "transfer_request"
	VerbTransferApprove Verb = "transfer_approve"
	VerbTransferReject  Verb = "transfer_reject"
	VerbTransferCancel  Verb = "transfer_cancel"
)

// Command is a typed mutation request, already unmarshalled from the wire
// by the protocol layer. Exactly one of the verb-specific parameter
// structs is set, matching Verb.
type Command struct {
	Verb       Verb
	Kind       Kind
	TargetName string
	// ActorID is the registrar issuing the command, authenticated by the
	// layer above.
	ActorID string
	// AuthInfo is the optional shared secret presented with the command.
	AuthInfo string

	Create   *CreateParams
	Info     *InfoParams
	Update   *UpdateParams
	Renew    *RenewParams
	Transfer *TransferParams
}

// InfoParams carries the payload of an info command.
type InfoParams struct {
	// At requests a point-in-time view of the resource as it existed at
	// the given instant instead of now. Historical reads never commit
	// lazy transfer resolution.
	At *time.Time
}

// CreateParams carries the payload of a create command.
type CreateParams struct {
	AuthInfo string // secret to bind to the new resource
	Years    int    // initial registration period; domains only
}

// UpdateParams carries the payload of an update command.
type UpdateParams struct {
	NewAuthInfo    *string // nil means leave unchanged
	AddStatuses    []Status
	RemoveStatuses []Status
}

// RenewParams carries the payload of a renew command.
type RenewParams struct {
	Years int
	// CurrentExpiration must match the resource's expiration date. This
	// is an idempotence check: a retried renewal that already took
	// effect no longer matches and is rejected instead of re-applied.
	CurrentExpiration time.Time
	// AckFee, when set, must match the policy fee schedule.
	AckFee *Fee
}

// TransferParams carries the payload of a transfer-request command.
type TransferParams struct {
	// Years is the registration extension applied if the transfer
	// concludes in an ownership change; domains only.
	Years int
}

// Fee is a monetary amount in minor units.
type Fee struct {
	Amount   int64  `json:"amount"`
	Currency string `json:"currency"`
}

// Response is the typed result of a successfully executed command. The
// protocol layer marshals it back to the wire.
type Response struct {
	Kind           Kind
	Name           string
	RepoID         string
	Sponsor        string
	Statuses       []Status
	CreationTime   time.Time
	ExpirationTime time.Time // domains only
	Fee            *Fee      // cost charged by this command, if any
	Transfer       *TransferView
}

// TransferView is the transfer state reported in responses.
type TransferView struct {
	Status            TransferStatus
	GainingClient     string
	LosingClient      string
	RequestTime       time.Time
	PendingExpiration time.Time
	// ExtendedExpiration is the registration expiration the gaining
	// client obtains (prospectively while pending, actually once
	// approved). Nil for statuses that do not report one.
	ExtendedExpiration *time.Time
}
