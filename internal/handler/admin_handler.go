package handler

import (
	"github.com/gin-gonic/gin"

	"github.com/rightside-club/service-discount/internal/application"
	"github.com/rightside-club/service-discount/internal/domain/access"
	"github.com/rightside-club/service-discount/internal/pkg/middleware"
	"github.com/rightside-club/service-discount/internal/pkg/response"
)

// AdminHandler serves operational statistics.
type AdminHandler struct {
	discounts *application.DiscountService
	clients   *application.ClientService
}

// NewAdminHandler creates a new AdminHandler.
func NewAdminHandler(discounts *application.DiscountService, clients *application.ClientService) *AdminHandler {
	return &AdminHandler{discounts: discounts, clients: clients}
}

// RegisterRoutes registers admin routes on an authenticated group.
func (h *AdminHandler) RegisterRoutes(r *gin.RouterGroup) {
	admin := r.Group("/admin")
	admin.Use(middleware.RequireRole(access.RoleModerator))
	{
		admin.GET("/stats/jobs", h.JobStats)
		admin.GET("/stats/billing", h.BillingStatus)
	}
}

// JobStats handles GET /api/v1/admin/stats/jobs
func (h *AdminHandler) JobStats(c *gin.Context) {
	counts, err := h.discounts.CountByStatus(c.Request.Context())
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, counts)
}

// BillingStatus handles GET /api/v1/admin/stats/billing
func (h *AdminHandler) BillingStatus(c *gin.Context) {
	response.Success(c, h.clients.BillingStatus())
}
