package handlers

import (
	"bytes"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"tenantbill/internal/auth"
	"tenantbill/internal/backend"
	"tenantbill/internal/engine"
)

type stubDoer struct {
	handler func(req *http.Request) (*http.Response, error)
}

func (s *stubDoer) Do(req *http.Request) (*http.Response, error) {
	return s.handler(req)
}

func respond(status int, body string) (*http.Response, error) {
	return &http.Response{
		StatusCode: status,
		Body:       io.NopCloser(bytes.NewReader([]byte(body))),
		Header:     make(http.Header),
	}, nil
}

func newTestRouter(handler func(req *http.Request) (*http.Response, error)) *gin.Engine {
	gin.SetMode(gin.TestMode)
	logger := zap.NewNop()

	client := backend.NewClient("http://backend.test", &stubDoer{handler: handler}, auth.StaticToken("tok"))
	resolver := engine.NewResolver(client, logger)
	eng := engine.New(resolver, map[string]float64{"VAT": 12}, logger)

	router := gin.New()
	h := NewBillingHandlers(eng, logger)
	router.GET("/api/v1/billing/:kind/:id", h.Query)
	return router
}

func TestQueryValidationMapsTo400(t *testing.T) {
	router := newTestRouter(func(req *http.Request) (*http.Response, error) {
		t.Fatal("no request expected")
		return nil, nil
	})

	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/api/v1/billing/tenant/T1?end=not-a-date", nil)
	router.ServeHTTP(rec, req)

	require.Equal(t, http.StatusBadRequest, rec.Code)
	require.Contains(t, rec.Body.String(), "INVALID_REQUEST")
}

func TestQueryAuthFailureMapsTo401(t *testing.T) {
	router := newTestRouter(func(req *http.Request) (*http.Response, error) {
		return respond(http.StatusForbidden, `{"message":"forbidden"}`)
	})

	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/api/v1/billing/tenant/T1?end=2024-03-20", nil)
	router.ServeHTTP(rec, req)

	require.Equal(t, http.StatusUnauthorized, rec.Code)
	require.Contains(t, rec.Body.String(), "AUTH_FAILURE")
}

func TestQueryRouteNotFoundMapsTo502(t *testing.T) {
	router := newTestRouter(func(req *http.Request) (*http.Response, error) {
		return respond(http.StatusNotFound, `{"error":"nope"}`)
	})

	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/api/v1/billing/tenant/T1?end=2024-03-20", nil)
	router.ServeHTTP(rec, req)

	require.Equal(t, http.StatusBadGateway, rec.Code)
	require.Contains(t, rec.Body.String(), "ROUTE_NOT_FOUND")
}

func TestQuerySuccess(t *testing.T) {
	router := newTestRouter(func(req *http.Request) (*http.Response, error) {
		if req.URL.Path == "/billings-with-markup/tenant/T1" {
			return respond(http.StatusOK, `[{"meter_id":"M1","current_consumption":100,"utility_rate":10}]`)
		}
		return respond(http.StatusNotFound, `{}`)
	})

	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/api/v1/billing/tenant/T1?end=2024-03-20", nil)
	router.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	require.Contains(t, rec.Body.String(), `"effective_period_end":"2024-03-20"`)
	require.Contains(t, rec.Body.String(), `"meter_id":"M1"`)
}
