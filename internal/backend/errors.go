package backend

import (
	"encoding/json"
	"fmt"
	"strings"
)

// messageKeys are checked in order when extracting a human-readable error
// from a backend body. Legacy endpoint families disagree on the field name.
var messageKeys = []string{"error", "message", "detail", "msg", "reason"}

// Message extracts the backend's error text from a response body, falling
// back to the raw serialized body when no known field is present.
func Message(body []byte) string {
	trimmed := strings.TrimSpace(string(body))
	if trimmed == "" {
		return ""
	}

	var parsed map[string]any
	if err := json.Unmarshal(body, &parsed); err != nil {
		return trimmed
	}
	for _, key := range messageKeys {
		if v, ok := parsed[key]; ok {
			if s, ok := v.(string); ok && strings.TrimSpace(s) != "" {
				return s
			}
		}
	}
	return trimmed
}

// Describe assembles the deterministic failure text shown to users:
// status, attempted URL, and the backend message when one was parsed.
func Describe(status int, target string, body []byte) string {
	msg := Message(body)
	if msg == "" {
		return fmt.Sprintf("HTTP %d at %s", status, target)
	}
	return fmt.Sprintf("HTTP %d at %s: %s", status, target, msg)
}
