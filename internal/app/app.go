package app

import (
	"context"

	"go.uber.org/zap"

	"tenantbill/internal/auth"
	"tenantbill/internal/backend"
	"tenantbill/internal/config"
	"tenantbill/internal/engine"
	httpserver "tenantbill/internal/http"
	"tenantbill/internal/http/handlers"
)

// App wires the reconciliation service dependencies.
type App struct {
	server *httpserver.Server
	logger *zap.Logger
}

// New constructs the application graph.
func New(cfg *config.Config, logger *zap.Logger) (*App, error) {
	tokens := auth.StaticToken(cfg.Backend.Token)
	auth.InspectExpiry(cfg.Backend.Token, logger)

	client := backend.NewClient(
		cfg.Backend.URL,
		backend.NewDefaultHTTPClient(cfg.BackendTimeout()),
		tokens,
	)
	resolver := engine.NewResolver(client, logger)
	eng := engine.New(resolver, cfg.VATTable, logger)

	billingHandlers := handlers.NewBillingHandlers(eng, logger)
	router := httpserver.NewRouter(billingHandlers, cfg.CORSOrigins(), logger)
	server := httpserver.NewServer(cfg.HTTPAddress(), router, logger)

	return &App{server: server, logger: logger}, nil
}

// Run starts serving HTTP traffic.
func (a *App) Run(ctx context.Context) error {
	return a.server.Run(ctx)
}
