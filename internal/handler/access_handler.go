package handler

import (
	"github.com/gin-gonic/gin"

	"github.com/rightside-club/service-discount/internal/application"
	"github.com/rightside-club/service-discount/internal/domain/access"
	"github.com/rightside-club/service-discount/internal/pkg/middleware"
	"github.com/rightside-club/service-discount/internal/pkg/response"
)

// AccessHandler handles HTTP requests for invites and principals.
type AccessHandler struct {
	service *application.AccessService
}

// NewAccessHandler creates a new AccessHandler.
func NewAccessHandler(service *application.AccessService) *AccessHandler {
	return &AccessHandler{service: service}
}

// RegisterRoutes registers invite and principal management routes on an
// authenticated group. Fine-grained grant rules (who may grant which role)
// live in the access domain; the route gate is the coarse floor.
func (h *AccessHandler) RegisterRoutes(r *gin.RouterGroup) {
	invites := r.Group("/invites")
	invites.Use(middleware.RequireRole(access.RoleModerator))
	{
		invites.POST("", h.CreateInvite)
	}

	principals := r.Group("/principals")
	principals.Use(middleware.RequireRole(access.RoleModerator))
	{
		principals.GET("", h.ListPrincipals)
		principals.PUT("/:id/role", h.SetRole)
		principals.DELETE("/:id", h.RemovePrincipal)
	}
}

// RegisterPublicRoutes registers the unauthenticated redemption endpoint.
// The invite token itself is the credential here.
func (h *AccessHandler) RegisterPublicRoutes(r *gin.RouterGroup) {
	r.POST("/invites/redeem", h.RedeemInvite)
}

// CreateInvite handles POST /api/v1/invites
func (h *AccessHandler) CreateInvite(c *gin.Context) {
	var req struct {
		Role string `json:"role" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, err.Error())
		return
	}

	dto, err := h.service.CreateInvite(c.Request.Context(),
		middleware.ActorID(c), middleware.ActorRole(c), access.Role(req.Role))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Created(c, dto)
}

// RedeemInvite handles POST /api/v1/invites/redeem
func (h *AccessHandler) RedeemInvite(c *gin.Context) {
	var req application.RedeemInviteRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, err.Error())
		return
	}

	dto, err := h.service.RedeemInvite(c.Request.Context(), req)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, dto)
}

// ListPrincipals handles GET /api/v1/principals
func (h *AccessHandler) ListPrincipals(c *gin.Context) {
	dtos, err := h.service.ListPrincipals(c.Request.Context())
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, dtos)
}

// SetRole handles PUT /api/v1/principals/:id/role
func (h *AccessHandler) SetRole(c *gin.Context) {
	var req struct {
		Role string `json:"role" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, err.Error())
		return
	}

	dto, err := h.service.SetRole(c.Request.Context(),
		middleware.ActorID(c), middleware.ActorRole(c), c.Param("id"), access.Role(req.Role))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, dto)
}

// RemovePrincipal handles DELETE /api/v1/principals/:id
func (h *AccessHandler) RemovePrincipal(c *gin.Context) {
	err := h.service.RemovePrincipal(c.Request.Context(),
		middleware.ActorID(c), middleware.ActorRole(c), c.Param("id"))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, gin.H{"removed": c.Param("id")})
}
