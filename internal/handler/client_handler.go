package handler

import (
	"github.com/gin-gonic/gin"

	"github.com/rightside-club/service-discount/internal/application"
	"github.com/rightside-club/service-discount/internal/domain/access"
	"github.com/rightside-club/service-discount/internal/pkg/middleware"
	"github.com/rightside-club/service-discount/internal/pkg/response"
)

// ClientHandler handles HTTP requests for direct client operations.
type ClientHandler struct {
	service *application.ClientService
}

// NewClientHandler creates a new ClientHandler.
func NewClientHandler(service *application.ClientService) *ClientHandler {
	return &ClientHandler{service: service}
}

// RegisterRoutes registers client routes on an authenticated group. Search
// is open to admins; direct discount writes bypass the job audit trail and
// need moderator or better.
func (h *ClientHandler) RegisterRoutes(r *gin.RouterGroup) {
	clients := r.Group("/clients")
	{
		clients.GET("/search", middleware.RequireRole(access.RoleAdmin), h.Search)
		clients.POST("/:uuid/discount", middleware.RequireRole(access.RoleModerator), h.SetDiscount)
		clients.DELETE("/:uuid/discount", middleware.RequireRole(access.RoleModerator), h.RemoveDiscount)
	}
}

// Search handles GET /api/v1/clients/search?q=...
func (h *ClientHandler) Search(c *gin.Context) {
	dto, err := h.service.Find(c.Request.Context(), c.Query("q"))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, dto)
}

// SetDiscount handles POST /api/v1/clients/:uuid/discount
func (h *ClientHandler) SetDiscount(c *gin.Context) {
	var req struct {
		Value int `json:"value"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, err.Error())
		return
	}

	dto, err := h.service.SetDiscount(c.Request.Context(), c.Param("uuid"), req.Value)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, dto)
}

// RemoveDiscount handles DELETE /api/v1/clients/:uuid/discount
func (h *ClientHandler) RemoveDiscount(c *gin.Context) {
	dto, err := h.service.RemoveDiscount(c.Request.Context(), c.Param("uuid"))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, dto)
}
