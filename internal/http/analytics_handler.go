package http

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"med-eval/internal/service"
)

// AnalyticsHandler expone los agregados del dashboard.
type AnalyticsHandler struct {
	logger    *zap.Logger
	analytics *service.AnalyticsService
}

func NewAnalyticsHandler(logger *zap.Logger, analytics *service.AnalyticsService) *AnalyticsHandler {
	return &AnalyticsHandler{logger: logger, analytics: analytics}
}

// Indicators maneja GET /analytics/indicators.
func (h *AnalyticsHandler) Indicators(c *gin.Context) {
	averages, err := h.analytics.PerIndicatorAverage(c.Request.Context())
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"indicators": averages})
}

// Overview maneja GET /analytics/overview.
func (h *AnalyticsHandler) Overview(c *gin.Context) {
	stats, err := h.analytics.OverviewStats(c.Request.Context())
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, stats)
}

// Evaluators maneja GET /analytics/evaluators.
func (h *AnalyticsHandler) Evaluators(c *gin.Context) {
	summaries, err := h.analytics.EvaluatorSummaries(c.Request.Context())
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"evaluators": summaries})
}

// Dashboard maneja GET /analytics/dashboard.
func (h *AnalyticsHandler) Dashboard(c *gin.Context) {
	dash, err := h.analytics.Dashboard(c.Request.Context())
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, dash)
}

func (h *AnalyticsHandler) fail(c *gin.Context, err error) {
	h.logger.Error("analytics read failed", zap.Error(err))
	c.JSON(http.StatusInternalServerError, gin.H{"error": "could not compute analytics"})
}
