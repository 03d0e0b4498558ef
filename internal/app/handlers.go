package app

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/neomorfeo/registriq/internal/domain"
)

// createHandler registers a new generation under a name with no live one.
type createHandler struct{}

func (createHandler) historyType() domain.HistoryType { return domain.HistoryCreate }
func (createHandler) ownerOnly() bool                 { return false }

func (createHandler) check(_ context.Context, e *Executor, cmd domain.Command, _ domain.Resource, _ time.Time) error {
	if cmd.Create == nil {
		return &domain.PreconditionError{Violation: "create command carries no parameters"}
	}
	if cmd.Kind == domain.KindDomain {
		tld := domain.TLDOf(cmd.TargetName)
		if !e.policy.TLDAllowed(tld) {
			return &domain.PreconditionError{
				Violation: fmt.Sprintf("TLD %q is not operated by this registry", tld),
			}
		}
		if cmd.Create.Years < 1 {
			return &domain.PreconditionError{Violation: "registration period must be at least one year"}
		}
	}
	return nil
}

func (createHandler) mutate(_ context.Context, e *Executor, cmd domain.Command, seed domain.Resource, hist domain.HistoryEntry, now time.Time) (mutation, error) {
	res := seed
	res.TLD = domain.TLDOf(cmd.TargetName)
	res.CreationTime = now
	res.DeletionTime = domain.EndOfTime
	res.SponsoringClient = cmd.ActorID
	res.AuthInfo = cmd.Create.AuthInfo
	res.Statuses = domain.NewStatusSet(domain.StatusOK)
	res.Transfer = domain.TransferData{Status: domain.TransferNone}

	m := mutation{
		index: &domain.ForeignKeyEntry{
			Kind:         cmd.Kind,
			ForeignKey:   cmd.TargetName,
			RepoID:       res.RepoID,
			CreationTime: now,
			DeletionTime: domain.EndOfTime,
		},
	}

	if cmd.Kind == domain.KindDomain {
		years := cmd.Create.Years
		res.ExpirationTime = domain.LeapSafeAddYears(now, years)
		cost := e.policy.CreateCost(res.TLD, years)
		m.fee = &cost

		m.billing = append(m.billing, domain.BillingEvent{
			ID:          uuid.NewString(),
			Kind:        domain.BillingOneTime,
			Reason:      domain.BillingReasonCreate,
			RepoID:      res.RepoID,
			TargetName:  cmd.TargetName,
			ClientID:    cmd.ActorID,
			Years:       years,
			Cost:        cost,
			EventTime:   now,
			BillingTime: now,
			HistoryID:   hist.ID,
		})

		autorenew, autorenewPoll := newAutorenewEntities(res, res.ExpirationTime, hist.ID)
		m.billing = append(m.billing, autorenew)
		m.polls = append(m.polls, autorenewPoll)
		res.AutorenewBillingEventID = autorenew.ID
		res.AutorenewPollMessageID = autorenewPoll.ID
	}

	m.resource = res
	return m, nil
}

func (createHandler) checkNew(e *Executor, res domain.Resource, now time.Time) error {
	return checkRegistrationHorizon(e, res, now)
}

// updateHandler mutates a resource's auth secret and status set.
type updateHandler struct{}

func (updateHandler) historyType() domain.HistoryType { return domain.HistoryUpdate }
func (updateHandler) ownerOnly() bool                 { return true }

func (updateHandler) check(_ context.Context, _ *Executor, cmd domain.Command, _ domain.Resource, _ time.Time) error {
	if cmd.Update == nil {
		return &domain.PreconditionError{Violation: "update command carries no parameters"}
	}
	for _, st := range cmd.Update.AddStatuses {
		if st == domain.StatusPendingTransfer || st == domain.StatusPendingDelete {
			return &domain.PreconditionError{
				Violation: fmt.Sprintf("status %q is managed by the server and cannot be set", st),
			}
		}
	}
	return nil
}

func (updateHandler) mutate(_ context.Context, _ *Executor, cmd domain.Command, res domain.Resource, _ domain.HistoryEntry, _ time.Time) (mutation, error) {
	if cmd.Update.NewAuthInfo != nil {
		res.AuthInfo = *cmd.Update.NewAuthInfo
	}
	res.Statuses = res.Statuses.
		With(cmd.Update.AddStatuses...).
		Without(cmd.Update.RemoveStatuses...)
	return mutation{resource: res}, nil
}

func (updateHandler) checkNew(_ *Executor, _ domain.Resource, _ time.Time) error { return nil }

// renewHandler extends a domain's registration by whole years.
type renewHandler struct{}

func (renewHandler) historyType() domain.HistoryType { return domain.HistoryRenew }
func (renewHandler) ownerOnly() bool                 { return true }

func (renewHandler) check(_ context.Context, e *Executor, cmd domain.Command, res domain.Resource, _ time.Time) error {
	if cmd.Kind != domain.KindDomain {
		return &domain.PreconditionError{Violation: "only domains can be renewed"}
	}
	if cmd.Renew == nil {
		return &domain.PreconditionError{Violation: "renew command carries no parameters"}
	}
	if res.Transfer.Status == domain.TransferPending {
		return &domain.PreconditionError{
			Violation: fmt.Sprintf("%q has a pending transfer and cannot be renewed", res.ForeignKey),
		}
	}
	if cmd.Renew.Years < 1 {
		return &domain.PreconditionError{Violation: "renewal period must be at least one year"}
	}
	// Idempotence check: a renewal that already took effect no longer
	// matches the current expiration date and is rejected rather than
	// applied twice.
	if !sameDate(cmd.Renew.CurrentExpiration, res.ExpirationTime) {
		return &domain.PreconditionError{Violation: "the current expiration date is incorrect"}
	}
	if cmd.Renew.AckFee != nil {
		cost := e.policy.RenewCost(res.TLD, cmd.Renew.Years)
		if *cmd.Renew.AckFee != cost {
			return &domain.PreconditionError{
				Violation: fmt.Sprintf("acknowledged fee %d %s does not match the schedule",
					cmd.Renew.AckFee.Amount, cmd.Renew.AckFee.Currency),
			}
		}
	}
	return nil
}

func (renewHandler) mutate(_ context.Context, e *Executor, cmd domain.Command, res domain.Resource, hist domain.HistoryEntry, now time.Time) (mutation, error) {
	years := cmd.Renew.Years
	newExpiration := domain.LeapSafeAddYears(res.ExpirationTime, years)
	cost := e.policy.RenewCost(res.TLD, years)

	m := mutation{fee: &cost}
	m.billing = append(m.billing, domain.BillingEvent{
		ID:          uuid.NewString(),
		Kind:        domain.BillingOneTime,
		Reason:      domain.BillingReasonRenew,
		RepoID:      res.RepoID,
		TargetName:  res.ForeignKey,
		ClientID:    cmd.ActorID,
		Years:       years,
		Cost:        cost,
		EventTime:   now,
		BillingTime: now,
		HistoryID:   hist.ID,
	})

	// Re-anchor auto-renewal at the new expiration: close the open
	// recurrence and create a fresh recurring event and poll message.
	if res.AutorenewBillingEventID != "" {
		m.closes = append(m.closes, domain.RecurrenceEnd{
			BillingEventID: res.AutorenewBillingEventID,
			End:            now,
		})
	}
	if res.AutorenewPollMessageID != "" {
		m.deleteIDs = append(m.deleteIDs, res.AutorenewPollMessageID)
	}
	autorenew, autorenewPoll := newAutorenewEntities(res, newExpiration, hist.ID)
	m.billing = append(m.billing, autorenew)
	m.polls = append(m.polls, autorenewPoll)

	res.ExpirationTime = newExpiration
	res.AutorenewBillingEventID = autorenew.ID
	res.AutorenewPollMessageID = autorenewPoll.ID
	m.resource = res
	return m, nil
}

func (renewHandler) checkNew(e *Executor, res domain.Resource, now time.Time) error {
	return checkRegistrationHorizon(e, res, now)
}

// deleteHandler ends a generation: it stamps the deletion time, wipes
// statuses, force-cancels any pending transfer, and snapshots the
// deletion into the foreign-key index.
type deleteHandler struct{}

func (deleteHandler) historyType() domain.HistoryType { return domain.HistoryDelete }
func (deleteHandler) ownerOnly() bool                 { return true }

func (deleteHandler) check(_ context.Context, _ *Executor, _ domain.Command, _ domain.Resource, _ time.Time) error {
	return nil
}

func (deleteHandler) mutate(ctx context.Context, e *Executor, cmd domain.Command, res domain.Resource, hist domain.HistoryEntry, now time.Time) (mutation, error) {
	m := mutation{}

	if res.Transfer.Status == domain.TransferPending {
		// Force-resolve the transfer: discard the speculative
		// server-approve entities and tell the gaining registrar.
		m.deleteIDs = append(m.deleteIDs, res.Transfer.ServerApprovePollIDs...)
		if res.Transfer.ServerApproveBillingEventID != "" {
			m.deleteIDs = append(m.deleteIDs, res.Transfer.ServerApproveBillingEventID)
		}
		m.polls = append(m.polls, domain.PollMessage{
			ID:         uuid.NewString(),
			ClientID:   res.Transfer.GainingClient,
			RepoID:     res.RepoID,
			TargetName: res.ForeignKey,
			Kind:       res.Kind,
			EventTime:  now,
			Message:    fmt.Sprintf("Transfer of %s %q cancelled: the resource was deleted.", res.Kind, res.ForeignKey),
			HistoryID:  hist.ID,
		})

		status, err := e.validator.Apply(ctx, res.Transfer.Status, domain.TransferEventServerCancel)
		if err != nil {
			return mutation{}, err
		}
		res.Transfer.Status = status
		res.Transfer.PendingExpiration = time.Time{}
		res.Transfer.ServerApproveBillingEventID = ""
		res.Transfer.ServerApprovePollIDs = nil
	}

	if res.AutorenewBillingEventID != "" {
		m.closes = append(m.closes, domain.RecurrenceEnd{
			BillingEventID: res.AutorenewBillingEventID,
			End:            now,
		})
		res.AutorenewBillingEventID = ""
	}
	if res.AutorenewPollMessageID != "" {
		m.deleteIDs = append(m.deleteIDs, res.AutorenewPollMessageID)
		res.AutorenewPollMessageID = ""
	}

	res.DeletionTime = now
	res.Statuses = domain.NewStatusSet()

	m.index = &domain.ForeignKeyEntry{
		Kind:         res.Kind,
		ForeignKey:   res.ForeignKey,
		RepoID:       res.RepoID,
		CreationTime: res.CreationTime,
		DeletionTime: now,
	}
	m.resource = res
	return m, nil
}

func (deleteHandler) checkNew(_ *Executor, _ domain.Resource, _ time.Time) error { return nil }

// newAutorenewEntities builds the recurring billing event and poll
// message anchored at a domain's expiration.
func newAutorenewEntities(res domain.Resource, expiration time.Time, historyID string) (domain.BillingEvent, domain.PollMessage) {
	event := domain.BillingEvent{
		ID:            uuid.NewString(),
		Kind:          domain.BillingRecurring,
		Reason:        domain.BillingReasonAutoRenew,
		RepoID:        res.RepoID,
		TargetName:    res.ForeignKey,
		ClientID:      res.SponsoringClient,
		Years:         1,
		EventTime:     expiration,
		RecurrenceEnd: domain.EndOfTime,
		HistoryID:     historyID,
	}
	poll := domain.PollMessage{
		ID:         uuid.NewString(),
		ClientID:   res.SponsoringClient,
		RepoID:     res.RepoID,
		TargetName: res.ForeignKey,
		Kind:       res.Kind,
		EventTime:  expiration,
		Message:    fmt.Sprintf("Domain %q was automatically renewed.", res.ForeignKey),
		HistoryID:  historyID,
	}
	return event, poll
}

// checkRegistrationHorizon rejects a new state whose expiration exceeds
// the policy's maximum years from now.
func checkRegistrationHorizon(e *Executor, res domain.Resource, now time.Time) error {
	if res.Kind != domain.KindDomain {
		return nil
	}
	horizon := domain.LeapSafeAddYears(now, e.policy.MaxRegistrationYears())
	if res.ExpirationTime.After(horizon) {
		return &domain.PostconditionError{
			Violation: fmt.Sprintf("registrations cannot extend more than %d years into the future",
				e.policy.MaxRegistrationYears()),
		}
	}
	return nil
}

// sameDate compares two instants by calendar date, ignoring time of day.
func sameDate(a, b time.Time) bool {
	ay, am, ad := a.UTC().Date()
	by, bm, bd := b.UTC().Date()
	return ay == by && am == bm && ad == bd
}
