package handler

import (
	"net/http"

	"backend/internal/middleware"
	"backend/internal/model"
	"backend/internal/service"
	"backend/pkg/response"

	"github.com/gin-gonic/gin"
)

type StatisticsHandler struct {
	auditTrail service.AuditTrailService
}

func NewStatisticsHandler(auditTrail service.AuditTrailService) *StatisticsHandler {
	return &StatisticsHandler{auditTrail: auditTrail}
}

func (h *StatisticsHandler) RegisterRoutes(router *gin.RouterGroup) {
	stats := router.Group("/api/statistics")
	stats.Use(middleware.RequireRole(model.RoleAdmin, model.RoleAccountant, model.RoleAuditor))
	{
		stats.GET("", h.GetStatistics)
	}
}

// GetStatistics returns per-company compliance aggregates
// @Summary      Get company statistics
// @Description  Returns tax totals by type over the latest record versions, the validated record count, pending amendments and the latest version per period.
// @Tags         statistics
// @Security     BearerAuth
// @Produce      json
// @Param        company_id  query     string  true  "Company UUID"
// @Success      200         {object}  response.Response{data=service.CompanyStatistics}
// @Router       /api/statistics [get]
func (h *StatisticsHandler) GetStatistics(c *gin.Context) {
	stats, err := h.auditTrail.GetStatistics(c.Request.Context(), c.Query("company_id"))
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, response.Success(http.StatusOK, stats))
}
