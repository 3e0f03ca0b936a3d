package tools

import "github.com/idclerk/idclerk/internal/isc"

// Status values for tool results. The conversational engine surfaces error
// results as text; they never abort the turn.
const (
	StatusSuccess = "success"
	StatusError   = "error"
)

// Outcome is the result of submitAccessRequest: either the created request
// identifiers or a message describing why nothing was created (validation
// failure, duplicate request, upstream error).
type Outcome struct {
	Status  string `json:"status"`
	Message string `json:"message"`
}

// IdentityList is the result of searchIdentitiesOnName, in API order.
type IdentityList struct {
	Status     string         `json:"status"`
	Message    string         `json:"message,omitempty"`
	Identities []isc.Identity `json:"identities"`
}

// AccessObjectList is the result of searchAccessObject, in API order.
type AccessObjectList struct {
	Status  string                  `json:"status"`
	Message string                  `json:"message,omitempty"`
	Objects []isc.RequestableObject `json:"accessObjects"`
}

// AccessRequestStatusList is the result of checkAccessRequestStatus.
type AccessRequestStatusList struct {
	Status   string                    `json:"status"`
	Message  string                    `json:"message,omitempty"`
	Requests []isc.AccessRequestStatus `json:"accessRequests"`
}

func errorOutcome(msg string) Outcome {
	return Outcome{Status: StatusError, Message: msg}
}
