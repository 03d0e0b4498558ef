package app

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/neomorfeo/registriq/internal/domain"
)

// Executor drives every mutation command through the shared pipeline:
// resolve the target, authorize, check preconditions, mutate, check
// postconditions, commit, respond. Per-verb behavior lives in small
// strategy values implementing only the hooks that differ.
type Executor struct {
	store      domain.ResourceStore
	index      domain.ForeignKeyIndex
	policy     domain.PolicyProvider
	validator  domain.TransferValidator
	maxRetries int
}

// NewExecutor creates an executor with the given collaborators.
// maxRetries bounds how many times a command is re-run after a store
// conflict before ErrTransactionConflict is surfaced to the caller.
func NewExecutor(store domain.ResourceStore, index domain.ForeignKeyIndex, policy domain.PolicyProvider, validator domain.TransferValidator, maxRetries int) *Executor {
	return &Executor{
		store:      store,
		index:      index,
		policy:     policy,
		validator:  validator,
		maxRetries: maxRetries,
	}
}

// mutation is the full output of a verb's mutate hook: the successor
// resource version plus every side-effect entity to commit with it.
// Building it is a pure function of the old state, the command, policy,
// and now; nothing is written until the commit stage.
type mutation struct {
	resource  domain.Resource
	billing   []domain.BillingEvent
	polls     []domain.PollMessage
	deleteIDs []string
	closes    []domain.RecurrenceEnd
	index     *domain.ForeignKeyEntry
	fee       *domain.Fee
}

// handler is the per-verb strategy consumed by the pipeline.
type handler interface {
	historyType() domain.HistoryType
	// ownerOnly marks verbs only the sponsoring registrar may issue.
	ownerOnly() bool
	// check validates command-specific preconditions against the
	// existing resource.
	check(ctx context.Context, e *Executor, cmd domain.Command, res domain.Resource, now time.Time) error
	// mutate produces the successor version and side-effect entities.
	mutate(ctx context.Context, e *Executor, cmd domain.Command, res domain.Resource, hist domain.HistoryEntry, now time.Time) (mutation, error)
	// checkNew validates the computed new state.
	checkNew(e *Executor, res domain.Resource, now time.Time) error
}

// handlers maps each verb to its strategy. Info is handled separately in
// executeOnce because it never commits.
var handlers = map[domain.Verb]handler{
	domain.VerbCreate:          createHandler{},
	domain.VerbUpdate:          updateHandler{},
	domain.VerbRenew:           renewHandler{},
	domain.VerbDelete:          deleteHandler{},
	domain.VerbTransferRequest: transferRequestHandler{},
	domain.VerbTransferApprove: transferResolveHandler{event: domain.TransferEventClientApprove},
	domain.VerbTransferReject:  transferResolveHandler{event: domain.TransferEventClientReject},
	domain.VerbTransferCancel:  transferResolveHandler{event: domain.TransferEventClientCancel},
}

// Execute runs one command at the given instant. Business-rule failures
// are returned as typed taxonomy errors; store conflicts are retried up
// to the configured bound.
func (e *Executor) Execute(ctx context.Context, cmd domain.Command, now time.Time) (domain.Response, error) {
	h, ok := handlers[cmd.Verb]
	if !ok && cmd.Verb != domain.VerbInfo {
		return domain.Response{}, fmt.Errorf("unknown command verb %q", cmd.Verb)
	}

	for attempt := 0; ; attempt++ {
		var resp domain.Response
		var err error
		if cmd.Verb == domain.VerbInfo {
			resp, err = e.executeInfo(ctx, cmd, now)
		} else {
			resp, err = e.executeOnce(ctx, cmd, h, now)
		}
		if errors.Is(err, domain.ErrTransactionConflict) && attempt < e.maxRetries {
			continue
		}
		return resp, err
	}
}

func (e *Executor) executeOnce(ctx context.Context, cmd domain.Command, h handler, now time.Time) (domain.Response, error) {
	if cmd.Verb == domain.VerbCreate {
		return e.executeCreate(ctx, cmd, h, now)
	}

	res, err := e.resolve(ctx, cmd, now)
	if err != nil {
		return domain.Response{}, err
	}

	if err := e.authorize(cmd, h, res); err != nil {
		return domain.Response{}, err
	}

	if res.Statuses.ContainsAny(e.policy.DisallowedStatuses(cmd.Verb, cmd.Kind)) {
		return domain.Response{}, &domain.PreconditionError{
			Violation: fmt.Sprintf("a status on %q prohibits %s", cmd.TargetName, cmd.Verb),
		}
	}

	if err := h.check(ctx, e, cmd, res, now); err != nil {
		return domain.Response{}, err
	}

	hist := e.newHistoryEntry(h.historyType(), res.RepoID, cmd.ActorID, now)
	m, err := h.mutate(ctx, e, cmd, res, hist, now)
	if err != nil {
		return domain.Response{}, err
	}

	if err := h.checkNew(e, m.resource, now); err != nil {
		return domain.Response{}, err
	}

	if err := e.commit(ctx, m, hist, res.Revision); err != nil {
		return domain.Response{}, err
	}

	return e.buildResponse(cmd, m.resource, m.fee, now), nil
}

// executeCreate is the pipeline variant for commands that bring a new
// resource into existence: there is nothing to resolve or authorize
// against, and the name must not already have a live generation.
func (e *Executor) executeCreate(ctx context.Context, cmd domain.Command, h handler, now time.Time) (domain.Response, error) {
	if _, err := e.index.Load(ctx, cmd.Kind, cmd.TargetName, now); err == nil {
		return domain.Response{}, &domain.PreconditionError{
			Violation: fmt.Sprintf("%s %q is already registered", cmd.Kind, cmd.TargetName),
		}
	} else if !isNotFound(err) {
		return domain.Response{}, err
	}

	if err := h.check(ctx, e, cmd, domain.Resource{}, now); err != nil {
		return domain.Response{}, err
	}

	repoID, err := generateID()
	if err != nil {
		return domain.Response{}, fmt.Errorf("generating repo id: %w", err)
	}

	hist := e.newHistoryEntry(h.historyType(), repoID, cmd.ActorID, now)
	seed := domain.Resource{RepoID: repoID, Kind: cmd.Kind, ForeignKey: cmd.TargetName}
	m, err := h.mutate(ctx, e, cmd, seed, hist, now)
	if err != nil {
		return domain.Response{}, err
	}

	if err := h.checkNew(e, m.resource, now); err != nil {
		return domain.Response{}, err
	}

	if err := e.commit(ctx, m, hist, 0); err != nil {
		return domain.Response{}, err
	}

	return e.buildResponse(cmd, m.resource, m.fee, now), nil
}

// executeInfo loads a resource without mutating it. A presented auth
// token is validated like on any other command; reads are not
// ownership-restricted. A pending transfer past its deadline is still
// resolved (and committed) on the way, so reads observe SERVER_APPROVED
// exactly like mutations do. Point-in-time reads project in memory only.
func (e *Executor) executeInfo(ctx context.Context, cmd domain.Command, now time.Time) (domain.Response, error) {
	if cmd.Info != nil && cmd.Info.At != nil {
		entry, err := e.index.Load(ctx, cmd.Kind, cmd.TargetName, *cmd.Info.At)
		if err != nil {
			return domain.Response{}, err
		}
		res, err := e.store.ReadAt(ctx, entry.RepoID, *cmd.Info.At)
		if err != nil {
			return domain.Response{}, err
		}
		if err := checkAuthToken(cmd, res); err != nil {
			return domain.Response{}, err
		}
		res = e.projectTransfer(res, *cmd.Info.At)
		return e.buildResponse(cmd, res, nil, *cmd.Info.At), nil
	}

	res, err := e.resolve(ctx, cmd, now)
	if err != nil {
		return domain.Response{}, err
	}
	if err := checkAuthToken(cmd, res); err != nil {
		return domain.Response{}, err
	}
	return e.buildResponse(cmd, res, nil, now), nil
}

// resolve looks up the command's target through the foreign-key index,
// reads its current version, and applies lazy transfer resolution.
func (e *Executor) resolve(ctx context.Context, cmd domain.Command, now time.Time) (domain.Resource, error) {
	entry, err := e.index.Load(ctx, cmd.Kind, cmd.TargetName, now)
	if err != nil {
		return domain.Resource{}, err
	}

	res, err := e.store.ReadCurrent(ctx, entry.RepoID)
	if err != nil {
		return domain.Resource{}, err
	}
	if !res.IsLive(now) {
		return domain.Resource{}, &domain.NotFoundError{Kind: cmd.Kind, Name: cmd.TargetName}
	}

	if res.Transfer.Status == domain.TransferPending && !now.Before(res.Transfer.PendingExpiration) {
		res, err = e.commitAutoApproval(ctx, res, now)
		if err != nil {
			return domain.Resource{}, err
		}
	}
	return res, nil
}

func (e *Executor) authorize(cmd domain.Command, h handler, res domain.Resource) error {
	if err := checkAuthToken(cmd, res); err != nil {
		return err
	}
	if h.ownerOnly() && cmd.ActorID != res.SponsoringClient {
		return &domain.AuthorizationError{Reason: "resource is sponsored by another registrar"}
	}
	return nil
}

// checkAuthToken validates a presented auth token against the resource's
// stored secret. Commands without a token pass; a mismatch never does.
func checkAuthToken(cmd domain.Command, res domain.Resource) error {
	if cmd.AuthInfo != "" && cmd.AuthInfo != res.AuthInfo {
		return &domain.AuthorizationError{Reason: "auth info does not match"}
	}
	return nil
}

func (e *Executor) commit(ctx context.Context, m mutation, hist domain.HistoryEntry, expectedRevision int64) error {
	m.resource.Revision = expectedRevision + 1
	return e.store.Commit(ctx, domain.WriteSet{
		Resource:         m.resource,
		ExpectedRevision: expectedRevision,
		History:          hist,
		BillingEvents:    m.billing,
		PollMessages:     m.polls,
		DeleteEntityIDs:  m.deleteIDs,
		CloseRecurrences: m.closes,
		IndexSnapshot:    m.index,
	})
}

func (e *Executor) newHistoryEntry(t domain.HistoryType, repoID, actorID string, now time.Time) domain.HistoryEntry {
	return domain.HistoryEntry{
		ID:      uuid.NewString(),
		Type:    t,
		RepoID:  repoID,
		ActorID: actorID,
		Time:    now,
	}
}

// buildResponse assembles the typed response from the (new) state.
func (e *Executor) buildResponse(cmd domain.Command, res domain.Resource, fee *domain.Fee, now time.Time) domain.Response {
	resp := domain.Response{
		Kind:           res.Kind,
		Name:           res.ForeignKey,
		RepoID:         res.RepoID,
		Sponsor:        res.SponsoringClient,
		Statuses:       res.Statuses.Sorted(),
		CreationTime:   res.CreationTime,
		ExpirationTime: res.ExpirationTime,
		Fee:            fee,
	}
	if res.Transfer.Status != "" && res.Transfer.Status != domain.TransferNone {
		resp.Transfer = e.transferView(res, now)
	}
	return resp
}

// transferView reports the transfer state, including the extended
// registration date a domain's gaining registrar obtains: prospective
// while pending, already applied once approved.
func (e *Executor) transferView(res domain.Resource, now time.Time) *domain.TransferView {
	t := res.Transfer
	view := &domain.TransferView{
		Status:            t.Status,
		GainingClient:     t.GainingClient,
		LosingClient:      t.LosingClient,
		RequestTime:       t.RequestTime,
		PendingExpiration: t.PendingExpiration,
	}
	if res.Kind == domain.KindDomain && domain.ReportsExtendedExpiration(t.Status) {
		var extended time.Time
		if t.Status == domain.TransferPending {
			extended = domain.ExtendRegistrationWithCap(
				now, res.ExpirationTime, t.ExtendedYears, e.policy.MaxRegistrationYears())
		} else {
			extended = res.ExpirationTime
		}
		view.ExtendedExpiration = &extended
	}
	return view
}

func isNotFound(err error) bool {
	var nf *domain.NotFoundError
	return errors.As(err, &nf)
}
