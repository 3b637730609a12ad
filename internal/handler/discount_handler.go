package handler

import (
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/rightside-club/service-discount/internal/application"
	"github.com/rightside-club/service-discount/internal/domain/access"
	"github.com/rightside-club/service-discount/internal/pkg/middleware"
	"github.com/rightside-club/service-discount/internal/pkg/response"
)

// DiscountHandler handles HTTP requests for discount job operations.
type DiscountHandler struct {
	service *application.DiscountService
}

// NewDiscountHandler creates a new DiscountHandler.
func NewDiscountHandler(service *application.DiscountService) *DiscountHandler {
	return &DiscountHandler{service: service}
}

// RegisterRoutes registers discount routes on an authenticated group.
func (h *DiscountHandler) RegisterRoutes(r *gin.RouterGroup) {
	discounts := r.Group("/discounts")
	discounts.Use(middleware.RequireRole(access.RoleAdmin))
	{
		discounts.POST("", h.Create)
		discounts.GET("", h.List)
		discounts.GET("/:id", h.Get)
		discounts.POST("/:id/cancel", h.Cancel)
	}
}

// Create handles POST /api/v1/discounts
func (h *DiscountHandler) Create(c *gin.Context) {
	var req application.CreateDiscountRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, err.Error())
		return
	}

	dto, err := h.service.Create(c.Request.Context(), middleware.ActorID(c), req)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Created(c, dto)
}

// List handles GET /api/v1/discounts
func (h *DiscountHandler) List(c *gin.Context) {
	limit := 50
	if raw := c.Query("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 1 || n > 500 {
			response.BadRequest(c, "limit must be between 1 and 500")
			return
		}
		limit = n
	}

	var statuses []string
	if raw := c.Query("status"); raw != "" {
		statuses = strings.Split(raw, ",")
	}

	dtos, err := h.service.List(c.Request.Context(),
		middleware.ActorID(c), middleware.ActorRole(c), limit, statuses)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, dtos)
}

// Get handles GET /api/v1/discounts/:id
func (h *DiscountHandler) Get(c *gin.Context) {
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil {
		response.BadRequest(c, "invalid job ID")
		return
	}

	dto, err := h.service.Get(c.Request.Context(),
		middleware.ActorID(c), middleware.ActorRole(c), id)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, dto)
}

// Cancel handles POST /api/v1/discounts/:id/cancel
func (h *DiscountHandler) Cancel(c *gin.Context) {
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil {
		response.BadRequest(c, "invalid job ID")
		return
	}

	dto, err := h.service.Cancel(c.Request.Context(),
		middleware.ActorID(c), middleware.ActorRole(c), id)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, dto)
}
