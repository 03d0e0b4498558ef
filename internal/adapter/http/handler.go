// Package http exposes the registry command pipeline as a JSON API. The
// transport stays thin: it authenticates nothing beyond reading the
// registrar header, stamps the request time, and maps typed domain errors
// onto HTTP status codes.
package http

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/danielgtaylor/huma/v2"

	"github.com/neomorfeo/registriq/internal/domain"
)

// CommandExecutor runs a typed command at a given instant. Implemented by
// the app executor.
type CommandExecutor interface {
	Execute(ctx context.Context, cmd domain.Command, now time.Time) (domain.Response, error)
}

// Clock supplies the request timestamp. Overridable in tests.
type Clock func() time.Time

// ResourceResponse is the API representation of a resource.
type ResourceResponse struct {
	Kind      string            `json:"kind" doc:"Resource kind"`
	Name      string            `json:"name" doc:"Foreign key (domain name, host name, or contact id)"`
	RepoID    string            `json:"repo_id" doc:"Immutable internal identifier"`
	Sponsor   string            `json:"sponsor" doc:"Sponsoring registrar"`
	Statuses  []string          `json:"statuses" doc:"Active status values"`
	CreatedAt string            `json:"created_at" doc:"Creation timestamp (ISO 8601)"`
	ExpiresAt string            `json:"expires_at,omitempty" doc:"Registration expiration (domains only)"`
	Fee       *FeeBody          `json:"fee,omitempty" doc:"Fee charged by this command"`
	Transfer  *TransferResponse `json:"transfer,omitempty" doc:"Transfer state, when one is or was in flight"`
}

// FeeBody is a monetary amount in minor units.
type FeeBody struct {
	Amount   int64  `json:"amount" doc:"Amount in minor units"`
	Currency string `json:"currency" doc:"ISO 4217 currency code"`
}

// TransferResponse reports the transfer subprotocol state.
type TransferResponse struct {
	Status             string `json:"status" doc:"Transfer status"`
	GainingClient      string `json:"gaining_client,omitempty"`
	LosingClient       string `json:"losing_client,omitempty"`
	RequestedAt        string `json:"requested_at,omitempty"`
	PendingExpiration  string `json:"pending_expiration,omitempty" doc:"Auto-approval deadline while pending"`
	ExtendedExpiration string `json:"extended_expiration,omitempty" doc:"Registration expiration the gaining client obtains"`
}

const timeFormat = time.RFC3339

func toResourceResponse(res domain.Response) ResourceResponse {
	statuses := make([]string, len(res.Statuses))
	for i, st := range res.Statuses {
		statuses[i] = string(st)
	}

	out := ResourceResponse{
		Kind:      string(res.Kind),
		Name:      res.Name,
		RepoID:    res.RepoID,
		Sponsor:   res.Sponsor,
		Statuses:  statuses,
		CreatedAt: res.CreationTime.Format(timeFormat),
	}
	if !res.ExpirationTime.IsZero() {
		out.ExpiresAt = res.ExpirationTime.Format(timeFormat)
	}
	if res.Fee != nil {
		out.Fee = &FeeBody{Amount: res.Fee.Amount, Currency: res.Fee.Currency}
	}
	if res.Transfer != nil {
		tr := &TransferResponse{
			Status:        string(res.Transfer.Status),
			GainingClient: res.Transfer.GainingClient,
			LosingClient:  res.Transfer.LosingClient,
		}
		if !res.Transfer.RequestTime.IsZero() {
			tr.RequestedAt = res.Transfer.RequestTime.Format(timeFormat)
		}
		if !res.Transfer.PendingExpiration.IsZero() {
			tr.PendingExpiration = res.Transfer.PendingExpiration.Format(timeFormat)
		}
		if res.Transfer.ExtendedExpiration != nil {
			tr.ExtendedExpiration = res.Transfer.ExtendedExpiration.Format(timeFormat)
		}
		out.Transfer = tr
	}
	return out
}

// KindParam is embedded by every input that addresses a resource kind.
type KindParam struct {
	Kind string `path:"kind" enum:"domain,host,contact" doc:"Resource kind"`
}

// ActorParam carries the authenticated registrar identity.
type ActorParam struct {
	ActorID string `header:"X-Registrar-ID" required:"true" doc:"Registrar issuing the command"`
}

// --- Create ---

type CreateInput struct {
	KindParam
	ActorParam
	Body struct {
		Name     string `json:"name" minLength:"1" maxLength:"255" doc:"Name to register"`
		AuthInfo string `json:"auth_info,omitempty" doc:"Secret to bind to the new resource"`
		Years    int    `json:"years,omitempty" minimum:"0" maximum:"10" doc:"Initial registration period (domains only, default 1)"`
	}
}

type CreateOutput struct {
	Body ResourceResponse
}

// --- Info ---

type InfoInput struct {
	KindParam
	ActorParam
	Name     string `path:"name" doc:"Resource name"`
	AuthInfo string `query:"auth_info" required:"false" doc:"Shared secret for cross-registrar reads"`
	At       string `query:"at" required:"false" format:"date-time" doc:"Point-in-time view at this instant instead of now"`
}

type InfoOutput struct {
	Body ResourceResponse
}

// --- Update ---

type UpdateInput struct {
	KindParam
	ActorParam
	Name string `path:"name" doc:"Resource name"`
	Body struct {
		NewAuthInfo    *string  `json:"new_auth_info,omitempty" doc:"Replacement secret; omit to leave unchanged"`
		AddStatuses    []string `json:"add_statuses,omitempty" doc:"Client status values to add"`
		RemoveStatuses []string `json:"remove_statuses,omitempty" doc:"Client status values to remove"`
	}
}

type UpdateOutput struct {
	Body ResourceResponse
}

// --- Renew ---

type RenewInput struct {
	KindParam
	ActorParam
	Name string `path:"name" doc:"Domain name"`
	Body struct {
		Years             int      `json:"years" minimum:"1" maximum:"10" doc:"Registration years to add"`
		CurrentExpiration string   `json:"current_expiration" format:"date-time" doc:"Expiration the client believes is current"`
		AckFee            *FeeBody `json:"ack_fee,omitempty" doc:"Fee the client acknowledges paying"`
	}
}

type RenewOutput struct {
	Body ResourceResponse
}

// --- Delete ---

type DeleteInput struct {
	KindParam
	ActorParam
	Name string `path:"name" doc:"Resource name"`
}

type DeleteOutput struct {
	Body ResourceResponse
}

// --- Transfer ---

type TransferRequestInput struct {
	KindParam
	ActorParam
	Name string `path:"name" doc:"Resource name"`
	Body struct {
		AuthInfo string `json:"auth_info" minLength:"1" doc:"Resource secret proving the gaining registrar's mandate"`
		Years    int    `json:"years,omitempty" minimum:"0" maximum:"10" doc:"Extension on approval (domains only, default 1)"`
	}
}

type TransferRequestOutput struct {
	Body ResourceResponse
}

type TransferResolveInput struct {
	KindParam
	ActorParam
	Name     string `path:"name" doc:"Resource name"`
	Decision string `path:"decision" enum:"approve,reject,cancel" doc:"Resolution to apply"`
}

type TransferResolveOutput struct {
	Body ResourceResponse
}

// --- Availability ---

type AvailabilityInput struct {
	KindParam
	Names []string `query:"names,explode" minItems:"1" maxItems:"50" doc:"Names to check"`
}

type AvailabilityOutput struct {
	Body struct {
		Available map[string]bool `json:"available" doc:"Name to availability"`
	}
}

var decisionVerbs = map[string]domain.Verb{
	"approve": domain.VerbTransferApprove,
	"reject":  domain.VerbTransferReject,
	"cancel":  domain.VerbTransferCancel,
}

// Register adds all registry API routes to the Huma API. The index is the
// read path for availability checks and is expected to be the cached
// decorator; command execution reads the authoritative index internally.
func Register(api huma.API, exec CommandExecutor, index domain.ForeignKeyIndex, clock Clock) {
	if clock == nil {
		clock = func() time.Time { return time.Now().UTC() }
	}

	run := func(ctx context.Context, cmd domain.Command) (ResourceResponse, error) {
		resp, err := exec.Execute(ctx, cmd, clock())
		if err != nil {
			return ResourceResponse{}, toHumaError(err)
		}
		return toResourceResponse(resp), nil
	}

	huma.Register(api, huma.Operation{
		OperationID: "create-resource",
		Method:      http.MethodPost,
		Path:        "/api/v1/{kind}",
		Summary:     "Register a new resource",
		Tags:        []string{"Resources"},
	}, func(ctx context.Context, input *CreateInput) (*CreateOutput, error) {
		create := &domain.CreateParams{AuthInfo: input.Body.AuthInfo, Years: input.Body.Years}
		// Years omitted means one registration year; hosts and contacts
		// ignore the period entirely.
		if create.Years == 0 {
			create.Years = 1
		}
		body, err := run(ctx, domain.Command{
			Verb:       domain.VerbCreate,
			Kind:       domain.Kind(input.Kind),
			TargetName: input.Body.Name,
			ActorID:    input.ActorID,
			Create:     create,
		})
		if err != nil {
			return nil, err
		}
		return &CreateOutput{Body: body}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "get-resource",
		Method:      http.MethodGet,
		Path:        "/api/v1/{kind}/{name}",
		Summary:     "Get a resource, optionally at a past instant",
		Tags:        []string{"Resources"},
	}, func(ctx context.Context, input *InfoInput) (*InfoOutput, error) {
		params := &domain.InfoParams{}
		if input.At != "" {
			at, err := time.Parse(time.RFC3339, input.At)
			if err != nil {
				return nil, huma.Error422UnprocessableEntity("invalid at timestamp")
			}
			params.At = &at
		}
		body, err := run(ctx, domain.Command{
			Verb:       domain.VerbInfo,
			Kind:       domain.Kind(input.Kind),
			TargetName: input.Name,
			ActorID:    input.ActorID,
			AuthInfo:   input.AuthInfo,
			Info:       params,
		})
		if err != nil {
			return nil, err
		}
		return &InfoOutput{Body: body}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "update-resource",
		Method:      http.MethodPatch,
		Path:        "/api/v1/{kind}/{name}",
		Summary:     "Update a resource's secret or client statuses",
		Tags:        []string{"Resources"},
	}, func(ctx context.Context, input *UpdateInput) (*UpdateOutput, error) {
		params := &domain.UpdateParams{NewAuthInfo: input.Body.NewAuthInfo}
		for _, st := range input.Body.AddStatuses {
			params.AddStatuses = append(params.AddStatuses, domain.Status(st))
		}
		for _, st := range input.Body.RemoveStatuses {
			params.RemoveStatuses = append(params.RemoveStatuses, domain.Status(st))
		}
		body, err := run(ctx, domain.Command{
			Verb:       domain.VerbUpdate,
			Kind:       domain.Kind(input.Kind),
			TargetName: input.Name,
			ActorID:    input.ActorID,
			Update:     params,
		})
		if err != nil {
			return nil, err
		}
		return &UpdateOutput{Body: body}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "renew-domain",
		Method:      http.MethodPost,
		Path:        "/api/v1/{kind}/{name}/renew",
		Summary:     "Extend a domain registration",
		Tags:        []string{"Resources"},
	}, func(ctx context.Context, input *RenewInput) (*RenewOutput, error) {
		current, err := time.Parse(time.RFC3339, input.Body.CurrentExpiration)
		if err != nil {
			return nil, huma.Error422UnprocessableEntity("invalid current_expiration timestamp")
		}
		params := &domain.RenewParams{Years: input.Body.Years, CurrentExpiration: current}
		if input.Body.AckFee != nil {
			params.AckFee = &domain.Fee{Amount: input.Body.AckFee.Amount, Currency: input.Body.AckFee.Currency}
		}
		body, err := run(ctx, domain.Command{
			Verb:       domain.VerbRenew,
			Kind:       domain.Kind(input.Kind),
			TargetName: input.Name,
			ActorID:    input.ActorID,
			Renew:      params,
		})
		if err != nil {
			return nil, err
		}
		return &RenewOutput{Body: body}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "delete-resource",
		Method:      http.MethodDelete,
		Path:        "/api/v1/{kind}/{name}",
		Summary:     "Delete a resource",
		Tags:        []string{"Resources"},
	}, func(ctx context.Context, input *DeleteInput) (*DeleteOutput, error) {
		body, err := run(ctx, domain.Command{
			Verb:       domain.VerbDelete,
			Kind:       domain.Kind(input.Kind),
			TargetName: input.Name,
			ActorID:    input.ActorID,
		})
		if err != nil {
			return nil, err
		}
		return &DeleteOutput{Body: body}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "request-transfer",
		Method:      http.MethodPost,
		Path:        "/api/v1/{kind}/{name}/transfer",
		Summary:     "Request a transfer to the calling registrar",
		Tags:        []string{"Transfers"},
	}, func(ctx context.Context, input *TransferRequestInput) (*TransferRequestOutput, error) {
		body, err := run(ctx, domain.Command{
			Verb:       domain.VerbTransferRequest,
			Kind:       domain.Kind(input.Kind),
			TargetName: input.Name,
			ActorID:    input.ActorID,
			AuthInfo:   input.Body.AuthInfo,
			Transfer:   &domain.TransferParams{Years: input.Body.Years},
		})
		if err != nil {
			return nil, err
		}
		return &TransferRequestOutput{Body: body}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "resolve-transfer",
		Method:      http.MethodPost,
		Path:        "/api/v1/{kind}/{name}/transfer/{decision}",
		Summary:     "Approve, reject, or cancel a pending transfer",
		Tags:        []string{"Transfers"},
	}, func(ctx context.Context, input *TransferResolveInput) (*TransferResolveOutput, error) {
		body, err := run(ctx, domain.Command{
			Verb:       decisionVerbs[input.Decision],
			Kind:       domain.Kind(input.Kind),
			TargetName: input.Name,
			ActorID:    input.ActorID,
		})
		if err != nil {
			return nil, err
		}
		return &TransferResolveOutput{Body: body}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "check-availability",
		Method:      http.MethodGet,
		Path:        "/api/v1/{kind}/availability",
		Summary:     "Check which names are available for registration",
		Tags:        []string{"Resources"},
	}, func(ctx context.Context, input *AvailabilityInput) (*AvailabilityOutput, error) {
		now := clock()
		entries, err := index.LoadBatch(ctx, domain.Kind(input.Kind), input.Names, now)
		if err != nil {
			return nil, toHumaError(err)
		}

		out := &AvailabilityOutput{}
		out.Body.Available = make(map[string]bool, len(input.Names))
		for _, name := range input.Names {
			_, taken := entries[name]
			out.Body.Available[name] = !taken
		}
		return out, nil
	})
}

// toHumaError translates domain errors to Huma HTTP errors.
func toHumaError(err error) error {
	var notFound *domain.NotFoundError
	if errors.As(err, &notFound) {
		return huma.Error404NotFound(notFound.Error())
	}

	var authz *domain.AuthorizationError
	if errors.As(err, &authz) {
		return huma.Error403Forbidden(authz.Error())
	}

	var missingAuth *domain.MissingAuthInfoError
	if errors.As(err, &missingAuth) {
		return huma.Error403Forbidden(missingAuth.Error())
	}

	var pending *domain.AlreadyPendingTransferError
	if errors.As(err, &pending) {
		return huma.Error409Conflict(pending.Error())
	}

	var sponsored *domain.AlreadySponsoredError
	if errors.As(err, &sponsored) {
		return huma.Error409Conflict(sponsored.Error())
	}

	var precondition *domain.PreconditionError
	if errors.As(err, &precondition) {
		return huma.Error422UnprocessableEntity(precondition.Error())
	}

	var postcondition *domain.PostconditionError
	if errors.As(err, &postcondition) {
		return huma.Error422UnprocessableEntity(postcondition.Error())
	}

	if errors.Is(err, domain.ErrTransactionConflict) {
		return huma.Error409Conflict("concurrent modification, retry the command")
	}

	return huma.Error500InternalServerError("internal server error")
}
