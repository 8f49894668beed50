package main

import (
	"context"
	"encoding/json"
	"flag"
	"os"

	"go.uber.org/zap"

	"tenantbill/internal/auth"
	"tenantbill/internal/backend"
	"tenantbill/internal/engine"
	"tenantbill/internal/export"
	"tenantbill/libs/logging"
)

// envOrString returns the environment variable value if set, otherwise returns the default value.
func envOrString(key, def string) string {
	if v, ok := os.LookupEnv(key); ok {
		return v
	}
	return def
}

func main() {
	backendURL := flag.String("backend", envOrString("BILLING_BACKEND_URL", ""), "Billing backend base URL")
	token := flag.String("token", envOrString("BILLING_BACKEND_TOKEN", ""), "Bearer token for the backend")
	kind := flag.String("kind", "tenant", "Entity kind: building, tenant or meter")
	id := flag.String("id", "", "Entity id")
	end := flag.String("end", "", "Period end date (YYYY-MM-DD)")
	penalty := flag.Float64("penalty", -1, "Penalty percentage forwarded to the backend (negative to omit)")
	rate := flag.Float64("rate", -1, "Building-level utility rate override (negative to omit)")
	outCSV := flag.String("out", "", "Write result as CSV to this file instead of JSON to stdout")
	timeout := flag.Duration("timeout", 0, "Per-request timeout (0 for default)")
	flag.Parse()

	logger, err := logging.NewLogger()
	if err != nil {
		panic(err)
	}
	defer logger.Sync()

	if *backendURL == "" || *token == "" || *id == "" || *end == "" {
		logger.Fatal("required flags missing: -backend, -token, -id and -end must be set")
	}

	auth.InspectExpiry(*token, logger)
	client := backend.NewClient(
		*backendURL,
		backend.NewDefaultHTTPClient(*timeout),
		auth.StaticToken(*token),
	)
	resolver := engine.NewResolver(client, logger)
	eng := engine.New(resolver, map[string]float64{"VAT": 12, "ZE": 0, "EX": 0}, logger)

	query := engine.Query{
		Kind:      engine.EntityKind(*kind),
		ID:        *id,
		PeriodEnd: *end,
	}
	if *penalty >= 0 {
		query.PenaltyPct = penalty
	}
	if *rate >= 0 {
		query.BuildingRate = rate
	}

	result, err := eng.Run(context.Background(), query)
	if err != nil {
		logger.Fatal("query failed", zap.Error(err))
	}

	for _, note := range result.Notes {
		logger.Info("fallback note", zap.String("note", note))
	}

	if *outCSV != "" {
		if err := export.WriteFile(*outCSV, result); err != nil {
			logger.Fatal("csv write failed", zap.Error(err))
		}
		logger.Info("wrote csv", zap.String("file", *outCSV), zap.Int("rows", len(result.Rows)))
		return
	}

	encoder := json.NewEncoder(os.Stdout)
	encoder.SetIndent("", "  ")
	if err := encoder.Encode(result); err != nil {
		logger.Fatal("encode failed", zap.Error(err))
	}
}
