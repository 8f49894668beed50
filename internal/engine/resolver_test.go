package engine

import (
	"bytes"
	"context"
	"io"
	"net/http"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"tenantbill/internal/auth"
	"tenantbill/internal/backend"
)

// MockDoer routes requests to a test handler and records every call.
// Comparison sub-queries run concurrently, hence the lock.
type MockDoer struct {
	Handler func(req *http.Request) (*http.Response, error)

	mu       sync.Mutex
	Requests []*http.Request
}

func (m *MockDoer) Do(req *http.Request) (*http.Response, error) {
	m.mu.Lock()
	m.Requests = append(m.Requests, req)
	m.mu.Unlock()
	return m.Handler(req)
}

func jsonResponse(status int, body string) (*http.Response, error) {
	return &http.Response{
		StatusCode: status,
		Body:       io.NopCloser(bytes.NewReader([]byte(body))),
		Header:     make(http.Header),
	}, nil
}

func newTestResolver(doer *MockDoer) *Resolver {
	client := backend.NewClient("http://backend.test", doer, auth.StaticToken("test-token"))
	return NewResolver(client, zap.NewNop())
}

func date(s string) time.Time {
	t, err := time.Parse(dateLayout, s)
	if err != nil {
		panic(err)
	}
	return t
}

func TestFallbackOrder(t *testing.T) {
	doer := &MockDoer{
		Handler: func(req *http.Request) (*http.Response, error) {
			if req.URL.Path == "/billings-with-markup/tenant/T1" {
				return jsonResponse(http.StatusNotFound, `{"error":"no such route"}`)
			}
			require.Equal(t, "/billings/tenant/T1", req.URL.Path)
			return jsonResponse(http.StatusOK, `[{"meter_id":"M1","current_consumption":100}]`)
		},
	}
	resolver := newTestResolver(doer)

	fetch, err := resolver.ResolveBilling(context.Background(), EntityTenant, "T1", date("2024-03-20"), nil)
	require.NoError(t, err)
	require.Len(t, fetch.Bodies, 1)
	require.JSONEq(t, `[{"meter_id":"M1","current_consumption":100}]`, string(fetch.Bodies[0]))

	// Exactly one failure note and one success note.
	require.Len(t, fetch.Notes, 2)
	require.Contains(t, fetch.Notes[0], "skipped")
	require.Contains(t, fetch.Notes[1], "resolved via")
	require.Equal(t, "2024-03-20", fetch.EffectiveEnd.Format(dateLayout))
}

func TestAuthShortCircuit(t *testing.T) {
	doer := &MockDoer{
		Handler: func(req *http.Request) (*http.Response, error) {
			return jsonResponse(http.StatusUnauthorized, `{"message":"token expired"}`)
		},
	}
	resolver := newTestResolver(doer)

	_, err := resolver.ResolveBilling(context.Background(), EntityTenant, "T1", date("2024-03-20"), nil)
	var authErr *AuthError
	require.ErrorAs(t, err, &authErr)
	require.Equal(t, http.StatusUnauthorized, authErr.Status)
	require.Contains(t, authErr.Message, "token expired")

	// No further candidates are attempted after a 401.
	require.Len(t, doer.Requests, 1)
}

func TestBearerHeaderAttached(t *testing.T) {
	doer := &MockDoer{
		Handler: func(req *http.Request) (*http.Response, error) {
			require.Equal(t, "Bearer test-token", req.Header.Get("Authorization"))
			return jsonResponse(http.StatusOK, `[{"meter_id":"M1"}]`)
		},
	}
	resolver := newTestResolver(doer)

	_, err := resolver.ResolveBilling(context.Background(), EntityMeter, "M1", date("2024-03-20"), nil)
	require.NoError(t, err)
}

func TestEmptyBodyContinuesFallback(t *testing.T) {
	doer := &MockDoer{
		Handler: func(req *http.Request) (*http.Response, error) {
			if req.URL.Path == "/billings-with-markup/tenant/T1" {
				return jsonResponse(http.StatusOK, `[]`)
			}
			return jsonResponse(http.StatusOK, `[{"meter_id":"M1"}]`)
		},
	}
	resolver := newTestResolver(doer)

	fetch, err := resolver.ResolveBilling(context.Background(), EntityTenant, "T1", date("2024-03-20"), nil)
	require.NoError(t, err)
	require.Len(t, fetch.Bodies, 1)
	require.Contains(t, string(fetch.Bodies[0]), "M1")
}

func TestPenaltyForwarded(t *testing.T) {
	doer := &MockDoer{
		Handler: func(req *http.Request) (*http.Response, error) {
			require.Equal(t, "2", req.URL.Query().Get("penalty"))
			return jsonResponse(http.StatusOK, `[{"meter_id":"M1"}]`)
		},
	}
	resolver := newTestResolver(doer)

	penalty := 2.0
	_, err := resolver.ResolveBilling(context.Background(), EntityTenant, "T1", date("2024-03-20"), &penalty)
	require.NoError(t, err)
}

func TestPeriodEndCandidates(t *testing.T) {
	tests := []struct {
		name   string
		input  string
		expect []string
	}{
		{
			name:  "mid-month date",
			input: "2024-03-15",
			expect: []string{
				"2024-03-15", "2024-03-20", "2024-03-31", "2024-02-20", "2024-02-29",
			},
		},
		{
			name:  "already the 20th deduplicates",
			input: "2024-03-20",
			expect: []string{
				"2024-03-20", "2024-03-31", "2024-02-20", "2024-02-29",
			},
		},
		{
			name:  "month end deduplicates",
			input: "2024-04-30",
			expect: []string{
				"2024-04-30", "2024-04-20", "2024-03-20", "2024-03-31",
			},
		},
	}

	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			got := PeriodEndCandidates(date(test.input))
			formatted := make([]string, 0, len(got))
			for _, d := range got {
				formatted = append(formatted, d.Format(dateLayout))
			}
			require.Equal(t, test.expect, formatted)
		})
	}
}

func TestBuildingSecondaryStrategy(t *testing.T) {
	doer := &MockDoer{
		Handler: func(req *http.Request) (*http.Response, error) {
			switch req.URL.Path {
			case "/buildings/B1/tenants":
				return jsonResponse(http.StatusOK, `{"data":[{"tenant_id":"T1"},{"tenant_id":"T2"}]}`)
			case "/billings-with-markup/tenant/T1", "/billings-with-markup/tenant/T2":
				return jsonResponse(http.StatusOK, `[{"meter_id":"M-`+req.URL.Path[len(req.URL.Path)-2:]+`","current_consumption":50}]`)
			default:
				return jsonResponse(http.StatusNotFound, `{"error":"not found"}`)
			}
		},
	}
	resolver := newTestResolver(doer)

	fetch, err := resolver.ResolveBilling(context.Background(), EntityBuilding, "B1", date("2024-03-20"), nil)
	require.NoError(t, err)
	require.Len(t, fetch.Bodies, 2)
	require.Contains(t, fetch.Notes[0], "aggregating 2 tenant responses")
}

func TestRouteNotFoundCarriesAttempts(t *testing.T) {
	doer := &MockDoer{
		Handler: func(req *http.Request) (*http.Response, error) {
			return jsonResponse(http.StatusNotFound, `{"error":"nope"}`)
		},
	}
	resolver := newTestResolver(doer)

	_, err := resolver.ResolveBilling(context.Background(), EntityTenant, "T1", date("2024-03-20"), nil)
	var routeErr *RouteNotFoundError
	require.ErrorAs(t, err, &routeErr)
	require.NotEmpty(t, routeErr.Attempts)
	for _, attempt := range routeErr.Attempts {
		require.False(t, attempt.Success)
		require.Equal(t, http.StatusNotFound, attempt.Status)
	}
}

func TestROCPrefixCache(t *testing.T) {
	doer := &MockDoer{
		Handler: func(req *http.Request) (*http.Response, error) {
			if req.URL.Path == "/v2/rate-of-change/meter/M1" {
				return jsonResponse(http.StatusOK, `[{"meter_id":"M1","rate_of_change":25}]`)
			}
			return jsonResponse(http.StatusNotFound, `{}`)
		},
	}
	resolver := newTestResolver(doer)

	body, _, err := resolver.ResolveROC(context.Background(), EntityMeter, "M1", date("2024-03-20"))
	require.NoError(t, err)
	require.Contains(t, string(body), "25")

	// The verified prefix is probed first on subsequent calls.
	doer.Requests = nil
	_, _, err = resolver.ResolveROC(context.Background(), EntityMeter, "M1", date("2024-03-20"))
	require.NoError(t, err)
	require.Len(t, doer.Requests, 1)
	require.Equal(t, "/v2/rate-of-change/meter/M1", doer.Requests[0].URL.Path)
}

func TestROCPrefixInvalidatedOn404(t *testing.T) {
	goodPrefix := "/v2"
	doer := &MockDoer{
		Handler: func(req *http.Request) (*http.Response, error) {
			if req.URL.Path == goodPrefix+"/rate-of-change/meter/M1" {
				return jsonResponse(http.StatusOK, `[{"meter_id":"M1","rate_of_change":25}]`)
			}
			return jsonResponse(http.StatusNotFound, `{}`)
		},
	}
	resolver := newTestResolver(doer)

	_, _, err := resolver.ResolveROC(context.Background(), EntityMeter, "M1", date("2024-03-20"))
	require.NoError(t, err)

	// The backend moves the route; the stale prefix must be rescanned past.
	goodPrefix = "/api"
	_, _, err = resolver.ResolveROC(context.Background(), EntityMeter, "M1", date("2024-03-20"))
	require.NoError(t, err)

	prefix, ok := resolver.cachedPrefix("roc")
	require.True(t, ok)
	require.Equal(t, "/api", prefix)
}
