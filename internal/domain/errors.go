package domain

import (
	"fmt"
)

// NotFoundError reports a missing topic, session, agent or user.
type NotFoundError struct {
	Resource string
	ID       string
}

func (e *NotFoundError) Error() string {
	if e.ID == "" {
		return e.Resource + " not found"
	}
	return fmt.Sprintf("%s %s not found", e.Resource, e.ID)
}

// ConflictError reports an existing active, incomplete session for the same
// user and topic. Callers resume SessionID instead of retrying.
type ConflictError struct {
	SessionID      string
	CompletionRate float64
}

func (e *ConflictError) Error() string {
	return fmt.Sprintf("active session %s already exists (completion rate %.2f)", e.SessionID, e.CompletionRate)
}

// ValidationError reports structurally invalid input.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return e.Message
	}
	return e.Field + ": " + e.Message
}

// ProviderError reports a failed or timed out text-generation call.
type ProviderError struct {
	Provider string
	Status   int
	Message  string
	Err      error
}

func (e *ProviderError) Error() string {
	msg := e.Message
	if msg == "" && e.Err != nil {
		msg = e.Err.Error()
	}
	if e.Status != 0 {
		return fmt.Sprintf("provider %s: status %d: %s", e.Provider, e.Status, msg)
	}
	return fmt.Sprintf("provider %s: %s", e.Provider, msg)
}

func (e *ProviderError) Unwrap() error {
	return e.Err
}

// ConfigurationError reports an agent that cannot be used as configured.
type ConfigurationError struct {
	AgentID string
	Message string
}

func (e *ConfigurationError) Error() string {
	if e.AgentID == "" {
		return "configuration: " + e.Message
	}
	return fmt.Sprintf("agent %s misconfigured: %s", e.AgentID, e.Message)
}
