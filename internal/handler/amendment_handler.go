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

type AmendmentHandler struct {
	auditTrail service.AuditTrailService
}

func NewAmendmentHandler(auditTrail service.AuditTrailService) *AmendmentHandler {
	return &AmendmentHandler{auditTrail: auditTrail}
}

func (h *AmendmentHandler) RegisterRoutes(router *gin.RouterGroup) {
	amendments := router.Group("/api/amendments")
	{
		amendments.POST("", middleware.RequireRole(model.RoleAdmin, model.RoleAccountant), h.RequestAmendment)
		amendments.GET("", middleware.RequireRole(model.RoleAdmin, model.RoleAccountant, model.RoleAuditor), h.ListAmendments)
		amendments.POST("/:id/resolve", middleware.RequireRole(model.RoleAdmin, model.RoleAuditor), h.ResolveAmendment)
	}
}

type resolveAmendmentRequest struct {
	Approve bool   `json:"approve"`
	Note    string `json:"note"`
}

// RequestAmendment files a supervised correction against an existing record
// @Summary      Request an amendment
// @Description  Creates a pending amendment request with proposed corrected inputs. The original record is untouched until approval.
// @Tags         amendments
// @Security     BearerAuth
// @Accept       json
// @Produce      json
// @Param        request  body      service.RequestAmendmentDTO  true  "Amendment request"
// @Success      201      {object}  response.Response{data=service.AmendmentResponse}
// @Failure      400      {object}  response.Response
// @Failure      409      {object}  response.Response
// @Router       /api/amendments [post]
func (h *AmendmentHandler) RequestAmendment(c *gin.Context) {
	var req service.RequestAmendmentDTO
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, response.Error(http.StatusBadRequest, "Invalid request payload: "+err.Error()))
		return
	}

	amendment, err := h.auditTrail.RequestAmendment(c.Request.Context(), req, middleware.CurrentUserID(c))
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusCreated, response.Success(http.StatusCreated, amendment))
}

// ListAmendments returns amendment requests, optionally filtered by status
// @Summary      List amendment requests
// @Tags         amendments
// @Security     BearerAuth
// @Produce      json
// @Param        status  query     string  false  "PENDING, APPROVED or REJECTED"
// @Param        page    query     int     false  "Page number (default 1)"
// @Param        limit   query     int     false  "Items per page (default 20)"
// @Success      200     {object}  response.Response{data=object}
// @Router       /api/amendments [get]
func (h *AmendmentHandler) ListAmendments(c *gin.Context) {
	params := pagination.Parse(c)

	amendments, total, err := h.auditTrail.ListAmendments(c.Request.Context(), c.Query("status"), params.Page, params.Limit)
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, response.Success(http.StatusOK, map[string]interface{}{
		"amendments": amendments,
		"total":      total,
		"page":       params.Page,
		"limit":      params.Limit,
	}))
}

// ResolveAmendment approves or rejects a pending amendment request
// @Summary      Resolve an amendment request
// @Description  Approval recomputes from the proposed inputs, creates the next record version and supersedes the original atomically. Rejection leaves the original untouched.
// @Tags         amendments
// @Security     BearerAuth
// @Accept       json
// @Produce      json
// @Param        id       path      string                   true  "Amendment request UUID"
// @Param        request  body      resolveAmendmentRequest  true  "Resolution"
// @Success      200      {object}  response.Response
// @Failure      404      {object}  response.Response
// @Failure      409      {object}  response.Response
// @Router       /api/amendments/{id}/resolve [post]
func (h *AmendmentHandler) ResolveAmendment(c *gin.Context) {
	var req resolveAmendmentRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, response.Error(http.StatusBadRequest, "Invalid request payload: "+err.Error()))
		return
	}

	rec, err := h.auditTrail.ResolveAmendment(c.Request.Context(), c.Param("id"), req.Approve, req.Note, middleware.CurrentUserID(c))
	if err != nil {
		respondError(c, err)
		return
	}

	if rec == nil {
		c.JSON(http.StatusOK, response.Success(http.StatusOK, map[string]interface{}{"status": model.AmendmentRejected}))
		return
	}
	c.JSON(http.StatusOK, response.Success(http.StatusOK, rec))
}
