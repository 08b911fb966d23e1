package types

import "time"

type Event struct {
	Type    string         `json:"type"`
	CallID  string         `json:"call_id,omitempty"`
	Ts      time.Time      `json:"timestamp"`
	Payload map[string]any `json:"payload,omitempty"`
}

// CallStatus values recorded on a Call.
const (
	CallRequested = "requested"
	CallActive    = "active"
	CallFailed    = "failed"
	CallEnded     = "ended"
)

type Call struct {
	ID          string    `json:"call_id"`
	ProviderID  string    `json:"provider_call_id,omitempty"`
	RequestedAt time.Time `json:"requested_at"`
	Status      string    `json:"status"`
	Muted       bool      `json:"muted"`

	StartedAt *time.Time `json:"started_at,omitempty"`
	EndedAt   *time.Time `json:"ended_at,omitempty"`
	EndReason string     `json:"end_reason,omitempty"`
	Error     string     `json:"error,omitempty"`
}
