package engine

import (
	"encoding/json"
	"fmt"
	"strings"

	"tenantbill/internal/models"
)

// AuthError reports a 401/403 from the backend. It aborts the fallback
// chain immediately: a missing route looks like 404, never like 401.
type AuthError struct {
	Status  int
	Target  string
	Message string
}

func (e *AuthError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("authorization rejected (HTTP %d) at %s", e.Status, e.Target)
	}
	return fmt.Sprintf("authorization rejected (HTTP %d) at %s: %s", e.Status, e.Target, e.Message)
}

// RouteNotFoundError is returned after every candidate target, including
// any secondary strategy, has been exhausted. It carries the full attempt
// matrix for diagnostics.
type RouteNotFoundError struct {
	Attempts []models.EndpointAttempt
}

func (e *RouteNotFoundError) Error() string {
	parts := make([]string, 0, len(e.Attempts))
	for _, a := range e.Attempts {
		if a.Err != "" {
			parts = append(parts, fmt.Sprintf("%s (%s)", a.Target, a.Err))
		} else {
			parts = append(parts, fmt.Sprintf("%s (HTTP %d)", a.Target, a.Status))
		}
	}
	return "no billing route answered: " + strings.Join(parts, "; ")
}

// UnrecognizedPayloadError means the shape classifier matched nothing.
// The raw payload is preserved so the user can report what came back.
type UnrecognizedPayloadError struct {
	Raw json.RawMessage
}

func (e *UnrecognizedPayloadError) Error() string {
	raw := string(e.Raw)
	if len(raw) > 256 {
		raw = raw[:256] + "..."
	}
	return "unrecognized billing payload shape: " + raw
}

// ValidationError reports malformed user input. It is raised at the query
// boundary and never reaches the network layer.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Reason)
}
