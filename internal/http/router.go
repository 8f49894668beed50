package httpserver

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/rs/cors"
	"go.uber.org/zap"

	"tenantbill/internal/http/handlers"
	"tenantbill/internal/http/middleware"
)

// NewRouter wires HTTP routes with middleware and CORS.
func NewRouter(billing *handlers.BillingHandlers, allowedOrigins []string, logger *zap.Logger) http.Handler {
	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(middleware.Logger(logger))
	router.Use(middleware.ErrorHandler(logger))

	router.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	api := router.Group("/api/v1")
	{
		api.GET("/billing/:kind/:id", billing.Query)
		api.GET("/billing/:kind/:id/export.csv", billing.ExportCSV)
	}

	corsWrapper := cors.New(cors.Options{
		AllowedOrigins: allowedOrigins,
		AllowedMethods: []string{http.MethodGet, http.MethodOptions},
		AllowedHeaders: []string{"Authorization", "Content-Type"},
	})
	return corsWrapper.Handler(router)
}
