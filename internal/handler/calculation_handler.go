package handler

import (
	"net/http"

	"backend/internal/middleware"
	"backend/internal/model"
	"backend/internal/service"
	"backend/pkg/response"

	"github.com/gin-gonic/gin"
)

type CalculationHandler struct {
	auditTrail service.AuditTrailService
}

func NewCalculationHandler(auditTrail service.AuditTrailService) *CalculationHandler {
	return &CalculationHandler{auditTrail: auditTrail}
}

func (h *CalculationHandler) RegisterRoutes(router *gin.RouterGroup) {
	calc := router.Group("/api/calculations")
	{
		calc.POST("", middleware.RequireRole(model.RoleAdmin, model.RoleAccountant), h.RecordCalculation)
		calc.GET("/history", middleware.RequireRole(model.RoleAdmin, model.RoleAccountant, model.RoleAuditor), h.GetHistory)
		calc.GET("/:id", middleware.RequireRole(model.RoleAdmin, model.RoleAccountant, model.RoleAuditor), h.GetBreakdown)
		calc.POST("/:id/validate", middleware.RequireRole(model.RoleAdmin, model.RoleAuditor), h.ValidateCalculation)
	}
}

// RecordCalculation computes a tax calculation and appends it to the audit trail
// @Summary      Record a tax calculation
// @Description  Validates inputs, computes VAT or CIT deterministically and persists the result as the next immutable audit record version
// @Tags         calculations
// @Security     BearerAuth
// @Accept       json
// @Produce      json
// @Param        request  body      service.RecordCalculationRequest  true  "Calculation input"
// @Success      201      {object}  response.Response{data=service.AuditRecordResponse}
// @Failure      400      {object}  response.Response
// @Failure      422      {object}  response.Response
// @Router       /api/calculations [post]
func (h *CalculationHandler) RecordCalculation(c *gin.Context) {
	var req service.RecordCalculationRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, response.Error(http.StatusBadRequest, "Invalid request payload: "+err.Error()))
		return
	}

	rec, err := h.auditTrail.RecordCalculation(c.Request.Context(), req, middleware.CurrentUserID(c))
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusCreated, response.Success(http.StatusCreated, rec))
}

// GetHistory returns every version recorded for a company, tax type and optional period
// @Summary      Get calculation history
// @Description  Returns all audit record versions ordered ascending, superseded versions included
// @Tags         calculations
// @Security     BearerAuth
// @Produce      json
// @Param        company_id  query     string  true   "Company UUID"
// @Param        tax_type    query     string  true   "VAT or CIT"
// @Param        period      query     string  false  "Period filter, e.g. 2026-Q1 or 2026"
// @Success      200         {object}  response.Response{data=[]service.AuditRecordResponse}
// @Router       /api/calculations/history [get]
func (h *CalculationHandler) GetHistory(c *gin.Context) {
	history, err := h.auditTrail.GetHistory(c.Request.Context(),
		c.Query("company_id"), c.Query("tax_type"), c.Query("period"))
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, response.Success(http.StatusOK, history))
}

// GetBreakdown returns the full step-by-step breakdown of one record
// @Summary      Get calculation breakdown
// @Description  Returns the frozen inputs, result and ordered calculation steps with regulatory references
// @Tags         calculations
// @Security     BearerAuth
// @Produce      json
// @Param        id  path      string  true  "Audit record UUID"
// @Success      200  {object}  response.Response{data=service.AuditRecordResponse}
// @Failure      404  {object}  response.Response
// @Router       /api/calculations/{id} [get]
func (h *CalculationHandler) GetBreakdown(c *gin.Context) {
	rec, err := h.auditTrail.GetBreakdown(c.Request.Context(), c.Param("id"))
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, response.Success(http.StatusOK, rec))
}

// ValidateCalculation signs off a recorded calculation
// @Summary      Validate a calculation
// @Description  Replays the stored calculation and marks the record VALIDATED. Idempotent for the same signer.
// @Tags         calculations
// @Security     BearerAuth
// @Produce      json
// @Param        id  path      string  true  "Audit record UUID"
// @Success      200  {object}  response.Response{data=service.AuditRecordResponse}
// @Failure      404  {object}  response.Response
// @Failure      409  {object}  response.Response
// @Router       /api/calculations/{id}/validate [post]
func (h *CalculationHandler) ValidateCalculation(c *gin.Context) {
	rec, err := h.auditTrail.ValidateCalculation(c.Request.Context(), c.Param("id"), middleware.CurrentUserID(c))
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, response.Success(http.StatusOK, rec))
}
