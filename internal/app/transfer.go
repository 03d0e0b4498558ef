package app

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/neomorfeo/registriq/internal/domain"
)

// transferRequestHandler starts the transfer protocol: the gaining
// registrar asks for ownership, and the request resolves automatically
// in its favor unless the losing registrar acts before the deadline.
type transferRequestHandler struct{}

func (transferRequestHandler) historyType() domain.HistoryType { return domain.HistoryTransferRequest }

// The requester is the gaining registrar, so ownership is exactly what a
// transfer request must not require.
func (transferRequestHandler) ownerOnly() bool { return false }

func (transferRequestHandler) check(_ context.Context, _ *Executor, cmd domain.Command, res domain.Resource, _ time.Time) error {
	if res.Transfer.Status == domain.TransferPending {
		return &domain.AlreadyPendingTransferError{Name: res.ForeignKey}
	}
	if cmd.ActorID == res.SponsoringClient {
		return &domain.AlreadySponsoredError{Name: res.ForeignKey}
	}
	if res.AuthInfo != "" && cmd.AuthInfo == "" {
		return &domain.MissingAuthInfoError{Name: res.ForeignKey}
	}
	return nil
}

func (transferRequestHandler) mutate(ctx context.Context, e *Executor, cmd domain.Command, res domain.Resource, hist domain.HistoryEntry, now time.Time) (mutation, error) {
	status, err := e.validator.Apply(ctx, transferStatusOrNone(res), domain.TransferEventRequest)
	if err != nil {
		return mutation{}, asPrecondition(err)
	}

	deadline := now.Add(e.policy.AutomaticTransferLength(cmd.Kind))
	years := 0
	if cmd.Kind == domain.KindDomain {
		years = 1
		if cmd.Transfer != nil && cmd.Transfer.Years > 0 {
			years = cmd.Transfer.Years
		}
	}

	t := domain.TransferData{
		Status:            status,
		GainingClient:     cmd.ActorID,
		LosingClient:      res.SponsoringClient,
		RequestTime:       now,
		PendingExpiration: deadline,
		ExtendedYears:     years,
	}

	m := mutation{}

	// Tell the losing registrar a transfer is pending against it.
	m.polls = append(m.polls, domain.PollMessage{
		ID:         uuid.NewString(),
		ClientID:   res.SponsoringClient,
		RepoID:     res.RepoID,
		TargetName: res.ForeignKey,
		Kind:       res.Kind,
		EventTime:  now,
		Message:    fmt.Sprintf("Transfer of %s %q requested by %q.", res.Kind, res.ForeignKey, cmd.ActorID),
		HistoryID:  hist.ID,
	})

	// Speculative server-approve entities, keyed to the automatic
	// approval outcome at the deadline. Discarded if the transfer is
	// explicitly resolved first.
	if cmd.Kind == domain.KindDomain {
		cost := e.policy.TransferCost(res.TLD, years)
		billing := domain.BillingEvent{
			ID:          uuid.NewString(),
			Kind:        domain.BillingOneTime,
			Reason:      domain.BillingReasonTransfer,
			RepoID:      res.RepoID,
			TargetName:  res.ForeignKey,
			ClientID:    cmd.ActorID,
			Years:       years,
			Cost:        cost,
			EventTime:   deadline,
			BillingTime: deadline,
			HistoryID:   hist.ID,
		}
		m.billing = append(m.billing, billing)
		t.ServerApproveBillingEventID = billing.ID
		m.fee = &cost
	}
	for _, client := range []string{cmd.ActorID, res.SponsoringClient} {
		poll := domain.PollMessage{
			ID:         uuid.NewString(),
			ClientID:   client,
			RepoID:     res.RepoID,
			TargetName: res.ForeignKey,
			Kind:       res.Kind,
			EventTime:  deadline,
			Message:    fmt.Sprintf("Transfer of %s %q approved by the server.", res.Kind, res.ForeignKey),
			HistoryID:  hist.ID,
		}
		m.polls = append(m.polls, poll)
		t.ServerApprovePollIDs = append(t.ServerApprovePollIDs, poll.ID)
	}

	res.Transfer = t
	res.Statuses = res.Statuses.With(domain.StatusPendingTransfer)
	m.resource = res
	return m, nil
}

func (transferRequestHandler) checkNew(_ *Executor, _ domain.Resource, _ time.Time) error {
	return nil
}

// transferResolveHandler concludes a pending transfer explicitly: the
// losing registrar approves or rejects, the gaining registrar cancels.
type transferResolveHandler struct {
	event domain.TransferEvent
}

func (h transferResolveHandler) historyType() domain.HistoryType {
	switch h.event {
	case domain.TransferEventClientApprove:
		return domain.HistoryTransferApprove
	case domain.TransferEventClientReject:
		return domain.HistoryTransferReject
	default:
		return domain.HistoryTransferCancel
	}
}

// Approve and reject belong to the losing registrar, which still
// sponsors the resource while the transfer is pending. Cancel belongs to
// the gaining registrar and is authorized in check instead.
func (h transferResolveHandler) ownerOnly() bool {
	return h.event != domain.TransferEventClientCancel
}

func (h transferResolveHandler) check(_ context.Context, _ *Executor, cmd domain.Command, res domain.Resource, _ time.Time) error {
	if res.Transfer.Status != domain.TransferPending {
		return &domain.PreconditionError{
			Violation: fmt.Sprintf("%q has no pending transfer", res.ForeignKey),
		}
	}
	if h.event == domain.TransferEventClientCancel && cmd.ActorID != res.Transfer.GainingClient {
		return &domain.AuthorizationError{Reason: "only the requesting registrar can cancel a transfer"}
	}
	return nil
}

func (h transferResolveHandler) mutate(ctx context.Context, e *Executor, cmd domain.Command, res domain.Resource, hist domain.HistoryEntry, now time.Time) (mutation, error) {
	status, err := e.validator.Apply(ctx, res.Transfer.Status, h.event)
	if err != nil {
		return mutation{}, asPrecondition(err)
	}

	t := res.Transfer
	gaining, losing := t.GainingClient, t.LosingClient
	approved := status == domain.TransferClientApproved

	m := mutation{}

	// The speculative outcome messages describe a server approval that
	// will no longer happen; replace them with the actual outcome. The
	// speculative billing survives only an approving outcome.
	m.deleteIDs = append(m.deleteIDs, t.ServerApprovePollIDs...)
	if !approved && t.ServerApproveBillingEventID != "" {
		m.deleteIDs = append(m.deleteIDs, t.ServerApproveBillingEventID)
		t.ServerApproveBillingEventID = ""
	}
	t.ServerApprovePollIDs = nil
	t.Status = status
	t.PendingExpiration = time.Time{}

	outcome := map[domain.TransferEvent]string{
		domain.TransferEventClientApprove: "approved by the sponsoring registrar",
		domain.TransferEventClientReject:  "rejected by the sponsoring registrar",
		domain.TransferEventClientCancel:  "cancelled by the requesting registrar",
	}[h.event]
	for _, client := range []string{gaining, losing} {
		m.polls = append(m.polls, domain.PollMessage{
			ID:         uuid.NewString(),
			ClientID:   client,
			RepoID:     res.RepoID,
			TargetName: res.ForeignKey,
			Kind:       res.Kind,
			EventTime:  now,
			Message:    fmt.Sprintf("Transfer of %s %q %s.", res.Kind, res.ForeignKey, outcome),
			HistoryID:  hist.ID,
		})
	}

	res.Transfer = t
	res.Statuses = res.Statuses.Without(domain.StatusPendingTransfer)
	if approved {
		res.SponsoringClient = gaining
		if res.Kind == domain.KindDomain {
			res.ExpirationTime = domain.ExtendRegistrationWithCap(
				now, res.ExpirationTime, t.ExtendedYears, e.policy.MaxRegistrationYears())
		}
	}
	m.resource = res
	return m, nil
}

func (transferResolveHandler) checkNew(e *Executor, res domain.Resource, now time.Time) error {
	return checkRegistrationHorizon(e, res, now)
}

// commitAutoApproval applies the implicit server approval of a transfer
// whose deadline has passed. It runs as its own transaction: the next
// command (or read) observes the resolved state, and the resolution is
// durable even if that command later aborts. The speculative
// server-approve entities written at request time already describe this
// outcome, so only the resource version and an audit entry are written.
func (e *Executor) commitAutoApproval(ctx context.Context, res domain.Resource, now time.Time) (domain.Resource, error) {
	status, err := e.validator.Apply(ctx, res.Transfer.Status, domain.TransferEventServerApprove)
	if err != nil {
		return domain.Resource{}, err
	}

	expected := res.Revision
	res = applyServerApproval(res, status, e.policy.MaxRegistrationYears())
	res.Revision = expected + 1

	hist := e.newHistoryEntry(domain.HistoryTransferAuto, res.RepoID, res.SponsoringClient, now)
	err = e.store.Commit(ctx, domain.WriteSet{
		Resource:         res,
		ExpectedRevision: expected,
		History:          hist,
	})
	if err != nil {
		return domain.Resource{}, err
	}
	return res, nil
}

// projectTransfer returns the resource as it would look at the given
// instant, resolving a pending transfer in memory without committing.
// Used for point-in-time reads.
func (e *Executor) projectTransfer(res domain.Resource, at time.Time) domain.Resource {
	if res.Transfer.Status != domain.TransferPending || at.Before(res.Transfer.PendingExpiration) {
		return res
	}
	return applyServerApproval(res, domain.TransferServerApproved, e.policy.MaxRegistrationYears())
}

// applyServerApproval produces the post-approval resource state. The
// registration extension is anchored at the approval deadline, which is
// when the transfer conceptually concluded regardless of when the state
// was first observed.
func applyServerApproval(res domain.Resource, status domain.TransferStatus, maxYears int) domain.Resource {
	t := res.Transfer
	deadline := t.PendingExpiration
	t.Status = status
	res.SponsoringClient = t.GainingClient
	res.Statuses = res.Statuses.Without(domain.StatusPendingTransfer)
	if res.Kind == domain.KindDomain {
		res.ExpirationTime = domain.ExtendRegistrationWithCap(
			deadline, res.ExpirationTime, t.ExtendedYears, maxYears)
	}
	res.Transfer = t
	return res
}

// transferStatusOrNone normalizes the zero value so the transition table
// treats a never-transferred resource as TransferNone.
func transferStatusOrNone(res domain.Resource) domain.TransferStatus {
	if res.Transfer.Status == "" {
		return domain.TransferNone
	}
	return res.Transfer.Status
}

// asPrecondition maps an invalid transfer transition onto the taxonomy:
// resolving a transfer that is not pending is a precondition failure.
func asPrecondition(err error) error {
	var tErr *domain.TransferTransitionError
	if errors.As(err, &tErr) {
		return &domain.PreconditionError{Violation: tErr.Error()}
	}
	return err
}
