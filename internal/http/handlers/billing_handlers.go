package handlers

import (
	"errors"
	"net/http"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"tenantbill/internal/engine"
	"tenantbill/internal/export"
)

// BillingHandlers serves reconciliation queries over HTTP.
type BillingHandlers struct {
	engine *engine.Engine
	logger *zap.Logger
}

// NewBillingHandlers returns handler instance.
func NewBillingHandlers(eng *engine.Engine, logger *zap.Logger) *BillingHandlers {
	return &BillingHandlers{engine: eng, logger: logger}
}

func buildQuery(c *gin.Context) (engine.Query, error) {
	q := engine.Query{
		Kind:      engine.EntityKind(strings.ToLower(c.Param("kind"))),
		ID:        c.Param("id"),
		PeriodEnd: c.Query("end"),
	}

	if raw := c.Query("penalty"); raw != "" {
		pct, err := strconv.ParseFloat(raw, 64)
		if err != nil {
			return q, &engine.ValidationError{Field: "penalty", Reason: "must be a number"}
		}
		q.PenaltyPct = &pct
	}
	if raw := c.Query("rate"); raw != "" {
		rate, err := strconv.ParseFloat(raw, 64)
		if err != nil {
			return q, &engine.ValidationError{Field: "rate", Reason: "must be a number"}
		}
		q.BuildingRate = &rate
	}
	return q, nil
}

// Query handles GET /api/v1/billing/:kind/:id.
func (h *BillingHandlers) Query(c *gin.Context) {
	q, err := buildQuery(c)
	if err != nil {
		h.renderError(c, err)
		return
	}

	result, err := h.engine.Run(c.Request.Context(), q)
	if err != nil {
		h.renderError(c, err)
		return
	}
	c.JSON(http.StatusOK, result)
}

// ExportCSV handles GET /api/v1/billing/:kind/:id/export.csv.
func (h *BillingHandlers) ExportCSV(c *gin.Context) {
	q, err := buildQuery(c)
	if err != nil {
		h.renderError(c, err)
		return
	}

	result, err := h.engine.Run(c.Request.Context(), q)
	if err != nil {
		h.renderError(c, err)
		return
	}

	c.Header("Content-Type", "text/csv")
	c.Header("Content-Disposition", `attachment; filename="billing.csv"`)
	c.Status(http.StatusOK)
	if err := export.Write(c.Writer, result); err != nil {
		h.logger.Error("csv export failed", zap.Error(err))
	}
}

func (h *BillingHandlers) renderError(c *gin.Context, err error) {
	var (
		validationErr *engine.ValidationError
		authErr       *engine.AuthError
		routeErr      *engine.RouteNotFoundError
		payloadErr    *engine.UnrecognizedPayloadError
	)

	switch {
	case errors.As(err, &validationErr):
		c.JSON(http.StatusBadRequest, errorBody("INVALID_REQUEST", err.Error()))
	case errors.As(err, &authErr):
		c.JSON(http.StatusUnauthorized, errorBody("AUTH_FAILURE", err.Error()))
	case errors.As(err, &routeErr):
		h.logger.Warn("no billing route answered", zap.Error(err))
		c.JSON(http.StatusBadGateway, errorBody("ROUTE_NOT_FOUND", err.Error()))
	case errors.As(err, &payloadErr):
		h.logger.Warn("unrecognized payload", zap.Error(err))
		c.JSON(http.StatusBadGateway, errorBody("UNRECOGNIZED_PAYLOAD", err.Error()))
	default:
		h.logger.Error("billing query failed", zap.Error(err))
		c.JSON(http.StatusInternalServerError, errorBody("INTERNAL_ERROR", err.Error()))
	}
}

func errorBody(code, message string) gin.H {
	return gin.H{"error": gin.H{"code": code, "message": message}}
}
