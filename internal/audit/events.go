package audit

import (
	"time"

	"github.com/google/uuid"
)

// EventType represents the type of audit event.
type EventType string

// Event types.
const (
	EventTypeAuthentication EventType = "authentication"
	EventTypeAuthorization  EventType = "authorization"
	EventTypeSecurity       EventType = "security"
)

// Action represents the action being audited.
type Action string

// Common actions.
const (
	ActionLogin        Action = "login"
	ActionLogout       Action = "logout"
	ActionTokenRefresh Action = "token_refresh"
	ActionTokenVerify  Action = "token_verify"
	ActionAccess       Action = "access"

	ActionRateLimitExceeded Action = "rate_limit_exceeded"
)

// Outcome represents the outcome of an audited action.
type Outcome string

// Outcomes.
const (
	OutcomeSuccess Outcome = "success"
	OutcomeFailure Outcome = "failure"
	OutcomeDenied  Outcome = "denied"
)

// Subject is the principal performing the audited action.
type Subject struct {
	// PrincipalID is the numeric principal identifier. Zero when the
	// principal could not be established.
	PrincipalID int64 `json:"principal_id,omitempty"`

	// Handle is the principal's login handle, if known.
	Handle string `json:"handle,omitempty"`

	// RemoteAddr is the caller's network address.
	RemoteAddr string `json:"remote_addr,omitempty"`
}

// Resource is the service and operation an authorization decision covers.
type Resource struct {
	// Service is the target service name.
	Service string `json:"service"`

	// Operation is the target operation name, if the decision was
	// operation-scoped.
	Operation string `json:"operation,omitempty"`
}

// Event represents an audit event.
type Event struct {
	// ID is a unique identifier for the event.
	ID string `json:"id"`

	// Timestamp is when the event occurred.
	Timestamp time.Time `json:"timestamp"`

	// Type is the type of event.
	Type EventType `json:"type"`

	// Action is the action being audited.
	Action Action `json:"action"`

	// Outcome is the outcome of the action.
	Outcome Outcome `json:"outcome"`

	// Subject is the entity performing the action.
	Subject *Subject `json:"subject,omitempty"`

	// Resource is the resource being accessed.
	Resource *Resource `json:"resource,omitempty"`

	// Reason is a short machine-readable failure or denial reason.
	Reason string `json:"reason,omitempty"`
}

// NewEvent creates an audit event with a fresh id and timestamp.
func NewEvent(eventType EventType, action Action, outcome Outcome) *Event {
	return &Event{
		ID:        uuid.NewString(),
		Timestamp: time.Now().UTC(),
		Type:      eventType,
		Action:    action,
		Outcome:   outcome,
	}
}
