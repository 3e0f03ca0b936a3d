// Package tools defines the governance tools the conversational engine may
// invoke. Every handler returns its failures inside the result value so a
// bad tool call becomes text the model can react to instead of aborting the
// conversation turn.
package tools

import (
	"context"
	"fmt"
	"strings"

	"github.com/firebase/genkit/go/ai"
	"github.com/go-playground/validator/v10"

	"github.com/idclerk/idclerk/internal/authn"
	"github.com/idclerk/idclerk/internal/isc"
	"github.com/idclerk/idclerk/internal/log"
)

// GovernanceAPI is the slice of the governance client the tools consume.
type GovernanceAPI interface {
	SearchIdentities(ctx context.Context, token, keyword string) ([]isc.Identity, error)
	ListRequestableObjects(ctx context.Context, token, identityID, term string) ([]isc.RequestableObject, error)
	CreateAccessRequest(ctx context.Context, token string, req isc.AccessRequest) (*isc.AccessRequestResponse, error)
	ListAccessRequestStatus(ctx context.Context, token, state string) ([]isc.AccessRequestStatus, error)
}

// Toolset holds the dependencies the tool handlers close over.
type Toolset struct {
	api      GovernanceAPI
	validate *validator.Validate
	logger   log.Logger
}

// NewToolset creates a Toolset.
func NewToolset(api GovernanceAPI, logger log.Logger) (*Toolset, error) {
	if api == nil {
		return nil, fmt.Errorf("governance API is required")
	}
	if logger == nil {
		return nil, fmt.Errorf("logger is required")
	}

	return &Toolset{
		api:      api,
		validate: validator.New(validator.WithRequiredStructEnabled()),
		logger:   logger,
	}, nil
}

// RequestedItemInput names one object of an access request.
type RequestedItemInput struct {
	Type string `json:"type" validate:"required,oneof=ACCESS_PROFILE ENTITLEMENT ROLE" jsonschema_description:"Object type: ACCESS_PROFILE, ENTITLEMENT or ROLE"`
	ID   string `json:"id" validate:"required" jsonschema_description:"Object ID as returned by searchAccessObject"`
}

// SubmitAccessRequestInput is the submitAccessRequest argument schema.
type SubmitAccessRequestInput struct {
	RequestedFor   []string             `json:"requestedFor" validate:"required,min=1,dive,required" jsonschema_description:"Identity IDs the access is requested for"`
	RequestedItems []RequestedItemInput `json:"requestedItems" validate:"required,min=1,dive" jsonschema_description:"Access objects to grant"`
}

// SearchIdentitiesInput is the searchIdentitiesOnName argument schema.
type SearchIdentitiesInput struct {
	Keyword string `json:"keyword" validate:"required" jsonschema_description:"Name fragment to match against identity name and display name"`
}

// SearchAccessObjectInput is the searchAccessObject argument schema.
type SearchAccessObjectInput struct {
	Keyword    string `json:"keyword" validate:"required" jsonschema_description:"Keyword to match requestable roles against"`
	IdentityID string `json:"identityId,omitempty" jsonschema_description:"Optional identity ID to scope results to what that identity may request"`
}

// CheckAccessRequestStatusInput is the checkAccessRequestStatus argument
// schema. The tool takes no arguments.
type CheckAccessRequestStatusInput struct{}

// token resolves the caller's access token from the request context. The
// middleware stores it there; a miss means the tool ran outside a session.
func token(ctx context.Context) (string, error) {
	tok, ok := authn.AccessTokenFromContext(ctx)
	if !ok || tok == "" {
		return "", fmt.Errorf("no authenticated session")
	}
	return tok, nil
}

func (t *Toolset) submitAccessRequest(ctx *ai.ToolContext, in SubmitAccessRequestInput) (Outcome, error) {
	if err := t.validate.Struct(in); err != nil {
		return errorOutcome(fmt.Sprintf("invalid arguments: %v", err)), nil
	}
	tok, err := token(ctx.Context)
	if err != nil {
		return errorOutcome(err.Error()), nil
	}

	req := isc.AccessRequest{
		RequestedFor:   in.RequestedFor,
		RequestType:    isc.RequestTypeGrantAccess,
		RequestedItems: make([]isc.RequestedItem, 0, len(in.RequestedItems)),
	}
	for _, item := range in.RequestedItems {
		req.RequestedItems = append(req.RequestedItems, isc.RequestedItem{Type: item.Type, ID: item.ID})
	}

	resp, err := t.api.CreateAccessRequest(ctx.Context, tok, req)
	if err != nil {
		t.logger.Warn("access request submission failed", "error", err)
		return errorOutcome(fmt.Sprintf("access request failed: %v", err)), nil
	}

	if len(resp.ExistingRequests) > 0 {
		return errorOutcome(fmt.Sprintf(
			"an access request for these items already exists (request ids: %s); ask the user to change the selection before resubmitting",
			strings.Join(requestIDs(resp.ExistingRequests), ", "))), nil
	}
	if len(resp.NewRequests) == 0 {
		return errorOutcome("the governance API accepted the request but returned no request references"), nil
	}

	return Outcome{
		Status: StatusSuccess,
		Message: fmt.Sprintf("access request submitted, request ids: %s",
			strings.Join(requestIDs(resp.NewRequests), ", ")),
	}, nil
}

func (t *Toolset) searchIdentitiesOnName(ctx *ai.ToolContext, in SearchIdentitiesInput) (IdentityList, error) {
	if err := t.validate.Struct(in); err != nil {
		return IdentityList{Status: StatusError, Message: fmt.Sprintf("invalid arguments: %v", err)}, nil
	}
	tok, err := token(ctx.Context)
	if err != nil {
		return IdentityList{Status: StatusError, Message: err.Error()}, nil
	}

	identities, err := t.api.SearchIdentities(ctx.Context, tok, in.Keyword)
	if err != nil {
		t.logger.Warn("identity search failed", "keyword", in.Keyword, "error", err)
		return IdentityList{Status: StatusError, Message: fmt.Sprintf("identity search failed: %v", err)}, nil
	}
	if identities == nil {
		identities = []isc.Identity{}
	}

	out := IdentityList{Status: StatusSuccess, Identities: identities}
	if len(identities) == 0 {
		out.Message = fmt.Sprintf("no identities matched %q", in.Keyword)
	}
	return out, nil
}

func (t *Toolset) searchAccessObject(ctx *ai.ToolContext, in SearchAccessObjectInput) (AccessObjectList, error) {
	if err := t.validate.Struct(in); err != nil {
		return AccessObjectList{Status: StatusError, Message: fmt.Sprintf("invalid arguments: %v", err)}, nil
	}
	tok, err := token(ctx.Context)
	if err != nil {
		return AccessObjectList{Status: StatusError, Message: err.Error()}, nil
	}

	objects, err := t.api.ListRequestableObjects(ctx.Context, tok, in.IdentityID, in.Keyword)
	if err != nil {
		t.logger.Warn("requestable object search failed", "keyword", in.Keyword, "error", err)
		return AccessObjectList{Status: StatusError, Message: fmt.Sprintf("access object search failed: %v", err)}, nil
	}
	if objects == nil {
		objects = []isc.RequestableObject{}
	}

	out := AccessObjectList{Status: StatusSuccess, Objects: objects}
	if len(objects) == 0 {
		out.Message = fmt.Sprintf("no requestable roles matched %q", in.Keyword)
	}
	return out, nil
}

func (t *Toolset) checkAccessRequestStatus(ctx *ai.ToolContext, _ CheckAccessRequestStatusInput) (AccessRequestStatusList, error) {
	tok, err := token(ctx.Context)
	if err != nil {
		return AccessRequestStatusList{Status: StatusError, Message: err.Error()}, nil
	}

	requests, err := t.api.ListAccessRequestStatus(ctx.Context, tok, isc.RequestStateExecuting)
	if err != nil {
		t.logger.Warn("access request status listing failed", "error", err)
		return AccessRequestStatusList{Status: StatusError, Message: fmt.Sprintf("status listing failed: %v", err)}, nil
	}
	if requests == nil {
		requests = []isc.AccessRequestStatus{}
	}

	out := AccessRequestStatusList{Status: StatusSuccess, Requests: requests}
	if len(requests) == 0 {
		out.Message = "no access requests are currently executing"
	}
	return out, nil
}

func requestIDs(refs []isc.AccessRequestReference) []string {
	var ids []string
	for _, ref := range refs {
		ids = append(ids, ref.AccessRequestIDs...)
	}
	return ids
}
