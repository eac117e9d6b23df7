package handler

import (
	"net/http"
	"time"

	"backend/internal/middleware"
	"backend/internal/model"
	"backend/internal/service"
	"backend/pkg/pagination"
	"backend/pkg/response"

	"github.com/gin-gonic/gin"
)

type RateConfigHandler struct {
	configService service.RateConfigService
}

func NewRateConfigHandler(configService service.RateConfigService) *RateConfigHandler {
	return &RateConfigHandler{configService: configService}
}

func (h *RateConfigHandler) RegisterRoutes(router *gin.RouterGroup) {
	configs := router.Group("/api/rate-configs")
	{
		configs.POST("", middleware.RequireRole(model.RoleAdmin), h.PublishRateConfig)
		configs.GET("", middleware.RequireRole(model.RoleAdmin, model.RoleAccountant, model.RoleAuditor), h.ListRateConfigs)
		configs.GET("/effective", middleware.RequireRole(model.RoleAdmin, model.RoleAccountant, model.RoleAuditor), h.GetEffectiveRateConfig)
	}
}

// PublishRateConfig publishes a new versioned jurisdiction configuration
// @Summary      Publish a rate configuration
// @Description  Appends a new immutable jurisdiction version. Effective ranges must not overlap existing configurations.
// @Tags         rate-configs
// @Security     BearerAuth
// @Accept       json
// @Produce      json
// @Param        request  body      service.PublishRateConfigRequest  true  "Configuration"
// @Success      201      {object}  response.Response{data=model.RateConfig}
// @Failure      400      {object}  response.Response
// @Failure      409      {object}  response.Response
// @Router       /api/rate-configs [post]
func (h *RateConfigHandler) PublishRateConfig(c *gin.Context) {
	var req service.PublishRateConfigRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, response.Error(http.StatusBadRequest, "Invalid request payload: "+err.Error()))
		return
	}

	cfg, err := h.configService.Publish(c.Request.Context(), req, middleware.CurrentUserID(c))
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusCreated, response.Success(http.StatusCreated, cfg))
}

// ListRateConfigs returns all published configurations ordered by effective_from DESC
// @Summary      List rate configurations
// @Tags         rate-configs
// @Security     BearerAuth
// @Produce      json
// @Param        page   query     int  false  "Page number (default 1)"
// @Param        limit  query     int  false  "Items per page (default 20)"
// @Success      200    {object}  response.Response{data=object}
// @Router       /api/rate-configs [get]
func (h *RateConfigHandler) ListRateConfigs(c *gin.Context) {
	params := pagination.Parse(c)

	configs, total, err := h.configService.List(c.Request.Context(), params.Page, params.Limit)
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, response.Success(http.StatusOK, map[string]interface{}{
		"configs": configs,
		"total":   total,
		"page":    params.Page,
		"limit":   params.Limit,
	}))
}

// GetEffectiveRateConfig returns the configuration effective on a date
// @Summary      Get the effective rate configuration
// @Tags         rate-configs
// @Security     BearerAuth
// @Produce      json
// @Param        date  query     string  false  "Date in YYYY-MM-DD format (default today)"
// @Success      200   {object}  response.Response{data=model.RateConfig}
// @Failure      404   {object}  response.Response
// @Router       /api/rate-configs/effective [get]
func (h *RateConfigHandler) GetEffectiveRateConfig(c *gin.Context) {
	date := time.Now()
	if raw := c.Query("date"); raw != "" {
		parsed, err := time.Parse("2006-01-02", raw)
		if err != nil {
			c.JSON(http.StatusBadRequest, response.Error(http.StatusBadRequest, "date must be in YYYY-MM-DD format"))
			return
		}
		date = parsed
	}

	cfg, err := h.configService.GetEffective(c.Request.Context(), date)
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, response.Success(http.StatusOK, cfg))
}
