package handler

import (
	"net/http"

	"backend/internal/middleware"
	"backend/internal/model"
	"backend/internal/service"
	"backend/pkg/pagination"
	"backend/pkg/response"

	"github.com/gin-gonic/gin"
)

type ReportHandler struct {
	reportService service.ReportService
}

func NewReportHandler(reportService service.ReportService) *ReportHandler {
	return &ReportHandler{reportService: reportService}
}

func (h *ReportHandler) RegisterRoutes(router *gin.RouterGroup) {
	reports := router.Group("/api/reports")
	reports.Use(middleware.RequireRole(model.RoleAdmin, model.RoleAccountant, model.RoleAuditor))
	{
		reports.POST("", h.GenerateReport)
		reports.GET("", h.ListReports)
		reports.GET("/:id", h.GetReport)
		reports.GET("/:id/export", h.ExportReport)
	}
}

// GenerateReport aggregates the latest record of each period in a range
// @Summary      Generate a summary report
// @Description  Aggregates the latest non-superseded audit record of every period in the inclusive range and freezes the result.
// @Tags         reports
// @Security     BearerAuth
// @Accept       json
// @Produce      json
// @Param        request  body      service.GenerateReportRequest  true  "Report range"
// @Success      201      {object}  response.Response{data=model.SummaryReport}
// @Failure      400      {object}  response.Response
// @Failure      404      {object}  response.Response
// @Router       /api/reports [post]
func (h *ReportHandler) GenerateReport(c *gin.Context) {
	var req service.GenerateReportRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, response.Error(http.StatusBadRequest, "Invalid request payload: "+err.Error()))
		return
	}

	report, err := h.reportService.Generate(c.Request.Context(), req, middleware.CurrentUserID(c))
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusCreated, response.Success(http.StatusCreated, report))
}

// ListReports returns a company's generated reports
// @Summary      List reports
// @Tags         reports
// @Security     BearerAuth
// @Produce      json
// @Param        company_id  query     string  true   "Company UUID"
// @Param        page        query     int     false  "Page number (default 1)"
// @Param        limit       query     int     false  "Items per page (default 20)"
// @Success      200         {object}  response.Response{data=object}
// @Router       /api/reports [get]
func (h *ReportHandler) ListReports(c *gin.Context) {
	params := pagination.Parse(c)

	reports, total, err := h.reportService.ListByCompany(c.Request.Context(), c.Query("company_id"), params.Page, params.Limit)
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, response.Success(http.StatusOK, map[string]interface{}{
		"reports": reports,
		"total":   total,
		"page":    params.Page,
		"limit":   params.Limit,
	}))
}

// GetReport returns one stored report
// @Summary      Get a report
// @Tags         reports
// @Security     BearerAuth
// @Produce      json
// @Param        id   path      string  true  "Report UUID"
// @Success      200  {object}  response.Response{data=model.SummaryReport}
// @Failure      404  {object}  response.Response
// @Router       /api/reports/{id} [get]
func (h *ReportHandler) GetReport(c *gin.Context) {
	report, err := h.reportService.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, response.Success(http.StatusOK, report))
}

// ExportReport streams a stored report as a downloadable file
// @Summary      Export a report
// @Description  Renders the stored report as json or csv. Exports read persisted data only and never recompute.
// @Tags         reports
// @Security     BearerAuth
// @Produce      json
// @Produce      text/csv
// @Param        id      path      string  true  "Report UUID"
// @Param        format  query     string  true  "json or csv"
// @Success      200     {file}    file
// @Failure      400     {object}  response.Response
// @Failure      404     {object}  response.Response
// @Router       /api/reports/{id}/export [get]
func (h *ReportHandler) ExportReport(c *gin.Context) {
	format := c.DefaultQuery("format", service.ExportFormatJSON)

	export, err := h.reportService.Export(c.Request.Context(), c.Param("id"), format, middleware.CurrentUserID(c))
	if err != nil {
		respondError(c, err)
		return
	}

	c.Header("Content-Disposition", `attachment; filename="`+export.Filename+`"`)
	c.Data(http.StatusOK, export.ContentType, export.Data)
}
