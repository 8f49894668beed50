package backend

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestMessage(t *testing.T) {
	tests := []struct {
		name   string
		body   string
		expect string
	}{
		{"error field wins", `{"error": "boom", "message": "other"}`, "boom"},
		{"message field", `{"message": "broken pipe"}`, "broken pipe"},
		{"detail field", `{"detail": "missing scope"}`, "missing scope"},
		{"msg field", `{"msg": "oops"}`, "oops"},
		{"reason field", `{"reason": "maintenance"}`, "maintenance"},
		{"raw body fallback", `{"something_else": true}`, `{"something_else": true}`},
		{"non-json fallback", `Bad Gateway`, "Bad Gateway"},
		{"empty body", ``, ""},
		{"empty error falls through", `{"error": "", "message": "kept"}`, "kept"},
	}

	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			require.Equal(t, test.expect, Message([]byte(test.body)))
		})
	}
}

func TestDescribe(t *testing.T) {
	got := Describe(404, "http://backend/billings/tenant/T1", []byte(`{"error":"no route"}`))
	require.Equal(t, "HTTP 404 at http://backend/billings/tenant/T1: no route", got)

	got = Describe(502, "http://backend/x", nil)
	require.Equal(t, "HTTP 502 at http://backend/x", got)
}
