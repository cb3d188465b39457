package models

import "time"

// Audit events recorded for the integration lifecycle.
const (
	EventCreated       = "created"
	EventAuthorized    = "authorized"
	EventRejected      = "rejected"
	EventAuthenticated = "authenticated"
	EventRevoked       = "revoked"
)

// Audit outcomes.
const (
	OutcomeSuccess = "success"
	OutcomeFailure = "failure"
)

// AuditEntry records a single lifecycle event. Secrets and credentials
// must never be placed in Detail.
type AuditEntry struct {
	ID        int64          `json:"id"`
	RequestID string         `json:"request_id,omitempty"`
	Timestamp time.Time      `json:"timestamp"`
	Kind      Kind           `json:"kind"`
	Key       string         `json:"key"`
	Event     string         `json:"event"`
	Outcome   string         `json:"outcome"`
	Detail    map[string]any `json:"detail,omitempty"`
}
