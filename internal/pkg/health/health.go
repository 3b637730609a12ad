package health

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"gorm.io/gorm"
)

// BillingStatus reports whether the upstream billing API has responded
// successfully recently.
type BillingStatus interface {
	Healthy() bool
}

// Handler serves liveness and readiness probes.
type Handler struct {
	db      *gorm.DB
	billing BillingStatus
	service string
}

func NewHandler(db *gorm.DB, billing BillingStatus, service string) *Handler {
	return &Handler{db: db, billing: billing, service: service}
}

func (h *Handler) RegisterRoutes(r *gin.Engine) {
	r.GET("/healthz", h.live)
	r.GET("/readyz", h.ready)
}

func (h *Handler) live(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":  "ok",
		"service": h.service,
	})
}

// ready checks the database and the billing link. A stale billing link makes
// the service not-ready so orchestrators stop routing discount commands to it.
func (h *Handler) ready(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), 2*time.Second)
	defer cancel()

	checks := gin.H{}
	healthy := true

	if err := h.pingDB(ctx); err != nil {
		checks["database"] = err.Error()
		healthy = false
	} else {
		checks["database"] = "ok"
	}

	if h.billing != nil {
		if h.billing.Healthy() {
			checks["billing"] = "ok"
		} else {
			checks["billing"] = "stale"
			healthy = false
		}
	}

	status := http.StatusOK
	overall := "ok"
	if !healthy {
		status = http.StatusServiceUnavailable
		overall = "degraded"
	}
	c.JSON(status, gin.H{
		"status": overall,
		"checks": checks,
	})
}

func (h *Handler) pingDB(ctx context.Context) error {
	sqlDB, err := h.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.PingContext(ctx)
}
