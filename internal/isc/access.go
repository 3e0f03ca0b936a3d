package isc

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
)

// Requestable object and access request type constants, as the governance
// API spells them.
const (
	TypeAccessProfile = "ACCESS_PROFILE"
	TypeEntitlement   = "ENTITLEMENT"
	TypeRole          = "ROLE"

	StatusAvailable = "AVAILABLE"

	RequestTypeGrantAccess = "GRANT_ACCESS"

	RequestStateExecuting = "EXECUTING"
)

// RequestableObject is an access-governance entity that can be granted.
type RequestableObject struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Type        string `json:"type"`
	Description string `json:"description,omitempty"`
}

// RequestedItem names one object of an access request.
type RequestedItem struct {
	Type string `json:"type"`
	ID   string `json:"id"`
}

// AccessRequest is the POST /v3/access-requests body.
type AccessRequest struct {
	RequestedFor   []string        `json:"requestedFor"`
	RequestType    string          `json:"requestType"`
	RequestedItems []RequestedItem `json:"requestedItems"`
}

// AccessRequestReference identifies workflow instances created (or already
// existing) for one requestee.
type AccessRequestReference struct {
	RequestedFor     string   `json:"requestedFor"`
	AccessRequestIDs []string `json:"accessRequestIds"`
}

// AccessRequestResponse is the create-access-request result. Exactly one of
// NewRequests or ExistingRequests is populated: ExistingRequests signals a
// duplicate request, a business-level error rather than a transport failure.
type AccessRequestResponse struct {
	NewRequests      []AccessRequestReference `json:"newRequests,omitempty"`
	ExistingRequests []AccessRequestReference `json:"existingRequests,omitempty"`
}

// AccessRequestPhase is one approval/provisioning phase of a request.
type AccessRequestPhase struct {
	Name  string `json:"name"`
	State string `json:"state"`
}

// RequestedForIdentity is the requestee of an in-flight access request.
type RequestedForIdentity struct {
	ID   string `json:"id"`
	Name string `json:"name"`
	Type string `json:"type"`
}

// AccessRequestStatus is one row of the access-request status listing.
type AccessRequestStatus struct {
	AccessRequestID string               `json:"accessRequestId"`
	Name            string               `json:"name"`
	State           string               `json:"state"`
	RequestType     string               `json:"requestType"`
	RequestedFor    RequestedForIdentity `json:"requestedFor"`
	Phases          []AccessRequestPhase `json:"accessRequestPhases"`
}

// CreateAccessRequest submits a grant-access request. The caller interprets
// NewRequests vs ExistingRequests; transport and status failures surface as
// errors (non-2xx as *APIError).
func (c *Client) CreateAccessRequest(ctx context.Context, token string, req AccessRequest) (*AccessRequestResponse, error) {
	resp, err := c.do(ctx, token, http.MethodPost, "/v3/access-requests", nil, req)
	if err != nil {
		return nil, err
	}

	var out AccessRequestResponse
	if err := decode(resp, &out); err != nil {
		return nil, fmt.Errorf("create access request: %w", err)
	}
	return &out, nil
}

// ListRequestableObjects lists AVAILABLE objects of type ROLE matching the
// search term. When identityID is non-empty the listing is scoped to what
// that identity can request; multiple requestees search unscoped.
func (c *Client) ListRequestableObjects(ctx context.Context, token, identityID, term string) ([]RequestableObject, error) {
	query := url.Values{
		"types":    {TypeRole},
		"statuses": {StatusAvailable},
		"term":     {term},
	}
	if identityID != "" {
		query.Set("identity-id", identityID)
	}

	resp, err := c.do(ctx, token, http.MethodGet, "/v3/requestable-objects", query, nil)
	if err != nil {
		return nil, err
	}

	var out []RequestableObject
	if err := decode(resp, &out); err != nil {
		return nil, fmt.Errorf("list requestable objects: %w", err)
	}
	return out, nil
}

// ListAccessRequestStatus lists access requests currently in the given
// workflow state.
func (c *Client) ListAccessRequestStatus(ctx context.Context, token, state string) ([]AccessRequestStatus, error) {
	query := url.Values{"request-state": {state}}

	resp, err := c.do(ctx, token, http.MethodGet, "/v3/access-request-status", query, nil)
	if err != nil {
		return nil, err
	}

	var out []AccessRequestStatus
	if err := decode(resp, &out); err != nil {
		return nil, fmt.Errorf("list access request status: %w", err)
	}
	return out, nil
}
