package engine

import (
	"context"
	"net/http"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"tenantbill/internal/models"
)

func newTestEngine(doer *MockDoer) *Engine {
	return New(newTestResolver(doer), map[string]float64{"VAT": 12, "ZE": 0}, zap.NewNop())
}

func TestRunValidation(t *testing.T) {
	eng := newTestEngine(&MockDoer{Handler: func(req *http.Request) (*http.Response, error) {
		t.Fatal("validation errors must never reach the network layer")
		return nil, nil
	}})

	tests := []struct {
		name  string
		query Query
	}{
		{"empty id", Query{Kind: EntityTenant, ID: "", PeriodEnd: "2024-03-20"}},
		{"bad date", Query{Kind: EntityTenant, ID: "T1", PeriodEnd: "20-03-2024"}},
		{"bad kind", Query{Kind: "stall", ID: "S1", PeriodEnd: "2024-03-20"}},
		{"negative penalty", Query{Kind: EntityTenant, ID: "T1", PeriodEnd: "2024-03-20", PenaltyPct: floatPtr(-1)}},
	}

	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			_, err := eng.Run(context.Background(), test.query)
			var validationErr *ValidationError
			require.ErrorAs(t, err, &validationErr)
		})
	}
}

func TestRunEffectivePeriodAdoption(t *testing.T) {
	// Nothing answers at the literal date; the derived 20th-of-month
	// candidate does. Comparison sub-queries must reuse the adopted date.
	var rocMu sync.Mutex
	var rocDates []string
	doer := &MockDoer{
		Handler: func(req *http.Request) (*http.Response, error) {
			if strings.HasSuffix(req.URL.Path, "/rate-of-change/building/B1") {
				rocMu.Lock()
				rocDates = append(rocDates, req.URL.Query().Get("end"))
				rocMu.Unlock()
				return jsonResponse(http.StatusOK, `[{"meter_id":"M1","rate_of_change":25}]`)
			}
			if strings.Contains(req.URL.Path, "/roc/") {
				return jsonResponse(http.StatusNotFound, `{}`)
			}
			if req.URL.Path == "/billings-with-markup/building/B1" && req.URL.Query().Get("end") == "2024-03-20" {
				return jsonResponse(http.StatusOK, `{
					"data": {
						"tenants": [
							{"tenant_id": "T1", "tenant_name": "Alpha", "meters": [
								{"meter_id": "M1", "meter_type": "Electric", "current_consumption": 1000, "utility_rate": 10}
							]}
						],
						"totals": {"consumption": 1000, "grand_total": 11200}
					}
				}`)
			}
			return jsonResponse(http.StatusNotFound, `{"error":"no route"}`)
		},
	}
	eng := newTestEngine(doer)

	result, err := eng.Run(context.Background(), Query{Kind: EntityBuilding, ID: "B1", PeriodEnd: "2024-03-15"})
	require.NoError(t, err)
	require.Equal(t, "2024-03-20", result.EffectivePeriodEnd)

	for _, rocDate := range rocDates {
		require.NotEqual(t, "2024-03-15", rocDate)
	}

	require.Len(t, result.Rows, 1)
	row := result.Rows[0]
	require.Equal(t, "M1", row.MeterID)
	require.Equal(t, "electric", row.MeterType)
	require.Equal(t, "T1", row.TenantID)
	require.Equal(t, "Alpha", row.TenantName)

	// ROC 25% with curr 1000 reconstructs prev = 800.
	require.NotNil(t, row.PrevCons)
	require.Equal(t, 800.0, *row.PrevCons)
	require.NotNil(t, row.RateOfChange)
	require.Equal(t, 25.0, *row.RateOfChange)

	// Derived: base = 1000 * 10, total from backend totals block.
	require.NotNil(t, row.Base)
	require.Equal(t, 10000.0, *row.Base)
	require.Equal(t, 1000.0, result.Summary.Consumption)
	require.Equal(t, 11200.0, result.Summary.Total)

	require.NotEmpty(t, result.Notes)
}

func TestRunDropsRowsWithoutMeterID(t *testing.T) {
	doer := &MockDoer{
		Handler: func(req *http.Request) (*http.Response, error) {
			if strings.Contains(req.URL.Path, "rate-of-change") || strings.Contains(req.URL.Path, "/roc/") {
				return jsonResponse(http.StatusNotFound, `{}`)
			}
			return jsonResponse(http.StatusOK, `[
				{"meter_no": "L1", "consumed_kwh": 100},
				{"meter_no": "", "consumed_kwh": 999},
				{"meter_no": "L2", "consumed_kwh": 200}
			]`)
		},
	}
	eng := newTestEngine(doer)

	result, err := eng.Run(context.Background(), Query{Kind: EntityTenant, ID: "T1", PeriodEnd: "2024-03-20"})
	require.NoError(t, err)
	require.Len(t, result.Rows, 2)
	require.Equal(t, 300.0, result.Summary.Consumption)
}

func TestRunUnrecognizedPayload(t *testing.T) {
	doer := &MockDoer{
		Handler: func(req *http.Request) (*http.Response, error) {
			return jsonResponse(http.StatusOK, `{"unexpected": 42}`)
		},
	}
	eng := newTestEngine(doer)

	_, err := eng.Run(context.Background(), Query{Kind: EntityTenant, ID: "T1", PeriodEnd: "2024-03-20"})
	var payloadErr *UnrecognizedPayloadError
	require.ErrorAs(t, err, &payloadErr)
	require.Contains(t, string(payloadErr.Raw), "unexpected")
}

func TestStaleResultNeverOverwritesNewer(t *testing.T) {
	eng := newTestEngine(&MockDoer{})

	older := eng.seq.Add(1)
	newer := eng.seq.Add(1)

	newerResult := &models.QueryResult{EffectivePeriodEnd: "2024-04-20"}
	require.True(t, eng.commit(newer, newerResult))

	// The older query finishes late; its result must be discarded.
	require.False(t, eng.commit(older, &models.QueryResult{EffectivePeriodEnd: "2024-03-20"}))
	require.Equal(t, newerResult, eng.Current())
}

func floatPtr(f float64) *float64 {
	return &f
}
