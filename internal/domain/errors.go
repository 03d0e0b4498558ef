package domain

import (
	"errors"
	"fmt"
)

// Sentinel errors for simple conditions without extra context.
var (
	// ErrTransactionConflict signals a concurrent modification detected
	// at commit. Unlike every other member of the taxonomy it is
	// transient and safe to retry.
	ErrTransactionConflict = errors.New("transaction conflict")
)

// NotFoundError is returned when a name resolves to no live generation.
type NotFoundError struct {
	Kind Kind
	Name string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%s %q does not exist", e.Kind, e.Name)
}

// AuthorizationError is returned when a presented auth token does not
// match the resource's secret, or when an ownership-restricted command is
// issued by a registrar that does not sponsor the resource.
type AuthorizationError struct {
	Reason string
}

func (e *AuthorizationError) Error() string {
	return "authorization failed: " + e.Reason
}

// PreconditionError is returned when a forbidden status is present or a
// command-specific business rule rejects the request before mutation.
type PreconditionError struct {
	Violation string
}

func (e *PreconditionError) Error() string {
	return "precondition failed: " + e.Violation
}

// PostconditionError is returned when the computed new state violates an
// invariant; all entities produced by the mutation are discarded.
type PostconditionError struct {
	Violation string
}

func (e *PostconditionError) Error() string {
	return "postcondition failed: " + e.Violation
}

// AlreadyPendingTransferError rejects a transfer request on a resource
// that already has one pending.
type AlreadyPendingTransferError struct {
	Name string
}

func (e *AlreadyPendingTransferError) Error() string {
	return fmt.Sprintf("%q already has a pending transfer", e.Name)
}

// AlreadySponsoredError rejects a transfer request issued by the
// resource's current sponsor.
type AlreadySponsoredError struct {
	Name string
}

func (e *AlreadySponsoredError) Error() string {
	return fmt.Sprintf("%q is already sponsored by the requesting registrar", e.Name)
}

// MissingAuthInfoError rejects a transfer request that carries no auth
// token for a resource that requires one.
type MissingAuthInfoError struct {
	Name string
}

func (e *MissingAuthInfoError) Error() string {
	return fmt.Sprintf("transfer of %q requires authorization info", e.Name)
}

// TransferTransitionError is returned when a transfer event is not valid
// from the current transfer status.
type TransferTransitionError struct {
	Event   TransferEvent
	Current TransferStatus
}

func (e *TransferTransitionError) Error() string {
	return fmt.Sprintf("transfer event %q is not valid from status %q", e.Event, e.Current)
}
